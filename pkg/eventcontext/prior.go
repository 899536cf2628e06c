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

package eventcontext

import (
	"context"
	"sync"
	"sync/atomic"
)

// Prior is the previous version of a resource. A Prior without an object
// (first sighting, deletions) is still a valid value and is distinct from
// "no notification is active".
type Prior[T any] struct {
	obj *T
}

// PriorOf wraps obj. A nil obj yields an absent Prior.
func PriorOf[T any](obj *T) Prior[T] {
	return Prior[T]{obj: obj}
}

// Present reports whether a previous version exists.
func (p Prior[T]) Present() bool {
	return p.obj != nil
}

// Object returns the previous version, or nil when absent.
func (p Prior[T]) Object() *T {
	return p.obj
}

// PriorState associates the current value of a resource with its prior value
// for the duration of a dispatch.
//
// Entries are keyed by pointer identity, never by content: resource types may
// compare equal on unrelated fields, and two revisions of the same object are
// distinct pointers.
type PriorState[T any] struct {
	entries sync.Map // map[*T]Prior[T]
}

func NewPriorState[T any]() *PriorState[T] {
	return &PriorState[T]{}
}

// Put records prior for current. It must happen before any subscriber for
// current is invoked.
func (s *PriorState[T]) Put(current *T, prior Prior[T]) error {
	if current == nil {
		return ErrNilResource
	}
	s.entries.Store(current, prior)
	return nil
}

// Remove forgets current. Removing an unknown resource is a no-op.
func (s *PriorState[T]) Remove(current *T) {
	if current == nil {
		return
	}
	s.entries.Delete(current)
}

// Len returns the number of in-flight entries.
func (s *PriorState[T]) Len() int {
	n := 0
	s.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

type priorActivationKey struct {
	owner any
}

type priorActivation[T any] struct {
	current *T
	live    atomic.Bool
}

// Activate opens a window in which Get, called with the returned context,
// resolves to the prior value of current. The window closes when release is
// called; release must run even if the subscriber fails.
func (s *PriorState[T]) Activate(ctx context.Context, current *T) (context.Context, Release) {
	a := &priorActivation[T]{current: current}
	a.live.Store(true)
	var once sync.Once
	return context.WithValue(ctx, priorActivationKey{owner: s}, a), func() {
		once.Do(func() { a.live.Store(false) })
	}
}

// Get returns the prior value of the resource active in ctx. It fails with
// ErrContextNotActive outside of an activation window, after the window was
// released, or once the entry has been removed.
func (s *PriorState[T]) Get(ctx context.Context) (Prior[T], error) {
	a, ok := ctx.Value(priorActivationKey{owner: s}).(*priorActivation[T])
	if !ok || !a.live.Load() {
		return Prior[T]{}, ErrContextNotActive
	}
	v, ok := s.entries.Load(a.current)
	if !ok {
		return Prior[T]{}, ErrContextNotActive
	}
	return v.(Prior[T]), nil
}
