// Copyright 2025 The Kubernetes Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package watchtracker

import (
	"sort"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Tracker records the watch health of every running binding. Each binding's
// controller reports sync completion and watch errors; the tracker turns them
// into a status and emits transitions on a buffered channel.
//
// An error moves a binding to Degraded (or SyncingError before the first
// sync). If no further error arrives within the recovery timeout, the binding
// returns to Synced (or Syncing).
type Tracker struct {
	states sync.Map // map[string]*stateEntry

	// Transitions are sent without blocking and dropped when the buffer is full.
	events chan StateChangeEvent

	recoveryTimeout time.Duration
	clock           clock.WithDelayedExecution
}

type stateEntry struct {
	mu            sync.Mutex
	state         State
	recoveryTimer clock.Timer
}

func NewTracker(recoveryTimeout time.Duration, bufferSize int) *Tracker {
	return NewTrackerWithClock(recoveryTimeout, bufferSize, clock.RealClock{})
}

// NewTrackerWithClock creates a tracker driven by clk.
func NewTrackerWithClock(recoveryTimeout time.Duration, bufferSize int, clk clock.WithDelayedExecution) *Tracker {
	return &Tracker{
		events:          make(chan StateChangeEvent, bufferSize),
		recoveryTimeout: recoveryTimeout,
		clock:           clk,
	}
}

// Events returns the channel of state transitions.
func (t *Tracker) Events() <-chan StateChangeEvent {
	return t.events
}

// GetState returns the current state of binding.
func (t *Tracker) GetState(binding string) (State, bool) {
	value, ok := t.states.Load(binding)
	if !ok {
		return State{}, false
	}
	entry := value.(*stateEntry)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.state, true
}

// Bindings returns the names of all tracked bindings, sorted.
func (t *Tracker) Bindings() []string {
	var names []string
	t.states.Range(func(key, _ any) bool {
		names = append(names, key.(string))
		return true
	})
	sort.Strings(names)
	return names
}

// Start begins tracking binding in Syncing. Tracking an already tracked
// binding is a no-op.
func (t *Tracker) Start(binding string) {
	_, loaded := t.states.LoadOrStore(binding, &stateEntry{
		state: State{Status: StatusSyncing},
	})
	if !loaded {
		bindingsTracked.Inc()
		bindingsByStatus.WithLabelValues(string(StatusSyncing)).Inc()
	}
}

// MarkSynced records that the initial list of binding completed.
func (t *Tracker) MarkSynced(binding string) {
	t.update(binding, func(s *State) {
		s.Synced = true
		if s.HasError {
			s.Status = StatusDegraded
		} else {
			s.Status = StatusSynced
		}
	})
}

// RecordError records a watch error of binding and (re)arms its recovery
// timer.
func (t *Tracker) RecordError(binding string, err error) {
	watchErrorsTotal.WithLabelValues(binding).Inc()
	t.update(binding, func(s *State) {
		s.HasError = true
		s.LastError = err
		s.LastErrorTime = t.clock.Now()
		s.ErrorCount++
		if s.Synced {
			s.Status = StatusDegraded
		} else {
			s.Status = StatusSyncingError
		}
	}, func(entry *stateEntry) {
		if entry.recoveryTimer != nil {
			entry.recoveryTimer.Stop()
		}
		entry.recoveryTimer = t.clock.AfterFunc(t.recoveryTimeout, func() {
			t.recover(binding, entry)
		})
	})
}

// Stop marks binding stopped and forgets it.
func (t *Tracker) Stop(binding string) {
	value, ok := t.states.LoadAndDelete(binding)
	if !ok {
		return
	}
	entry := value.(*stateEntry)
	entry.mu.Lock()
	if entry.recoveryTimer != nil {
		entry.recoveryTimer.Stop()
		entry.recoveryTimer = nil
	}
	old := entry.state
	entry.mu.Unlock()

	bindingsTracked.Dec()
	bindingsByStatus.WithLabelValues(string(old.Status)).Dec()
	t.notify(binding, old, State{Status: StatusStopped})
}

// Shutdown stops every pending recovery timer.
func (t *Tracker) Shutdown() {
	t.states.Range(func(_, value any) bool {
		entry := value.(*stateEntry)
		entry.mu.Lock()
		if entry.recoveryTimer != nil {
			entry.recoveryTimer.Stop()
			entry.recoveryTimer = nil
		}
		entry.mu.Unlock()
		return true
	})
}

func (t *Tracker) recover(binding string, fired *stateEntry) {
	value, ok := t.states.Load(binding)
	if !ok || value.(*stateEntry) != fired {
		return
	}
	t.update(binding, func(s *State) {
		s.HasError = false
		s.ErrorCount = 0
		if s.Synced {
			s.Status = StatusSynced
		} else {
			s.Status = StatusSyncing
		}
	}, func(entry *stateEntry) {
		if entry.recoveryTimer != nil {
			recoveriesTotal.Inc()
		}
		entry.recoveryTimer = nil
	})
}

func (t *Tracker) update(binding string, mutate func(*State), hooks ...func(*stateEntry)) {
	value, ok := t.states.Load(binding)
	if !ok {
		return
	}
	entry := value.(*stateEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	old := entry.state
	mutate(&entry.state)
	for _, hook := range hooks {
		hook(entry)
	}

	if old.Status != entry.state.Status {
		bindingsByStatus.WithLabelValues(string(old.Status)).Dec()
		bindingsByStatus.WithLabelValues(string(entry.state.Status)).Inc()
		t.notify(binding, old, entry.state)
	}
}

func (t *Tracker) notify(binding string, old, next State) {
	select {
	case t.events <- StateChangeEvent{Binding: binding, OldState: old, NewState: next}:
	default:
		stateEventsDroppedTotal.Inc()
	}
}
