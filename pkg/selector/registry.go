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

package selector

import (
	"errors"
	"fmt"
	"sync"
)

// ErrRegistrationClosed is returned when a candidate is registered after the
// candidate phase has ended.
var ErrRegistrationClosed = errors.New("selector registration is closed")

// Phase is the lifecycle stage of a Registry.
type Phase int

const (
	// PhaseCandidates accepts candidate registrations.
	PhaseCandidates Phase = iota
	// PhaseSubscriptions rejects new candidates; subscriptions claim the
	// registered ones through ResolveAndRemove.
	PhaseSubscriptions
	// PhaseClosed holds nothing. Every lookup returns absent.
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseCandidates:
		return "Candidates"
	case PhaseSubscriptions:
		return "Subscriptions"
	case PhaseClosed:
		return "Closed"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Registry holds provisional candidates keyed by tag-set until the
// subscriptions that want them are resolved. Keys are mutually exclusive: a
// second candidate with an identical tag-set replaces the first.
type Registry[C any] struct {
	mu         sync.Mutex
	phase      Phase
	candidates map[string]C
}

// NewRegistry returns an empty registry in PhaseCandidates.
func NewRegistry[C any]() *Registry[C] {
	return &Registry[C]{
		candidates: make(map[string]C),
	}
}

// RegisterCandidate stores candidate under tags, overwriting any previous
// candidate with the same tag-set. It reports whether a candidate was
// replaced.
func (r *Registry[C]) RegisterCandidate(tags TagSet, candidate C) (replaced bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != PhaseCandidates {
		return false, fmt.Errorf("register %s: %w", tags, ErrRegistrationClosed)
	}
	key := tags.Key()
	_, replaced = r.candidates[key]
	r.candidates[key] = candidate
	return replaced, nil
}

// Seal ends the candidate phase. It is a no-op past PhaseCandidates.
func (r *Registry[C]) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase == PhaseCandidates {
		r.phase = PhaseSubscriptions
	}
}

// ResolveAndRemove atomically returns and removes the candidate registered
// under tags.
func (r *Registry[C]) ResolveAndRemove(tags TagSet) (C, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := tags.Key()
	c, ok := r.candidates[key]
	if ok {
		delete(r.candidates, key)
	}
	return c, ok
}

// Clear drops every remaining candidate and closes the registry for good.
// Only subscriptions resolved before Clear may ever claim a candidate.
func (r *Registry[C]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.candidates)
	r.phase = PhaseClosed
}

func (r *Registry[C]) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Len returns the number of unclaimed candidates.
func (r *Registry[C]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.candidates)
}
