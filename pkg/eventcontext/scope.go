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
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
)

// Contextual declares a component whose instances live in a Scope.
type Contextual interface {
	// ID identifies the declaration. Two declarations with the same ID share
	// one instance per scope.
	ID() string
	// Create builds a new instance. ctx is the activation context of the
	// subscriber that first asked for it.
	Create(ctx context.Context) (any, error)
	// Destroy releases an instance created by Create.
	Destroy(instance any)
}

// ContextualFuncs adapts plain functions to Contextual.
type ContextualFuncs struct {
	Name        string
	CreateFunc  func(ctx context.Context) (any, error)
	DestroyFunc func(instance any)
}

func (c ContextualFuncs) ID() string {
	return c.Name
}

func (c ContextualFuncs) Create(ctx context.Context) (any, error) {
	return c.CreateFunc(ctx)
}

func (c ContextualFuncs) Destroy(instance any) {
	if c.DestroyFunc != nil {
		c.DestroyFunc(instance)
	}
}

type scopedInstance struct {
	decl  Contextual
	once  sync.Once
	value any
	err   error
}

// Scope stores the instances of contextual components created while one
// notification is delivered. All of them are destroyed together by
// DestroyAll when the dispatch ends.
type Scope struct {
	log    logr.Logger
	active atomic.Bool

	mu        sync.Mutex
	instances map[string]*scopedInstance
}

// NewScope returns an inactive, empty scope.
func NewScope(log logr.Logger) *Scope {
	return &Scope{
		log:       log,
		instances: make(map[string]*scopedInstance),
	}
}

// SetActive governs whether Get and Destroy may be called.
func (s *Scope) SetActive(active bool) {
	s.active.Store(active)
}

func (s *Scope) IsActive() bool {
	return s.active.Load()
}

type scopeActivationKey struct{}

type scopeActivation struct {
	scope *Scope
	live  atomic.Bool
}

// Activate binds s to the returned context for one subscriber invocation.
func (s *Scope) Activate(ctx context.Context) (context.Context, Release) {
	a := &scopeActivation{scope: s}
	a.live.Store(true)
	var once sync.Once
	return context.WithValue(ctx, scopeActivationKey{}, a), func() {
		once.Do(func() { a.live.Store(false) })
	}
}

// ScopeFrom returns the scope activated in ctx.
func ScopeFrom(ctx context.Context) (*Scope, error) {
	a, ok := ctx.Value(scopeActivationKey{}).(*scopeActivation)
	if !ok || !a.live.Load() || !a.scope.IsActive() {
		return nil, ErrContextNotActive
	}
	return a.scope, nil
}

// Lookup resolves decl in the scope active in ctx and asserts its type.
func Lookup[T any](ctx context.Context, decl Contextual) (T, error) {
	var zero T
	s, err := ScopeFrom(ctx)
	if err != nil {
		return zero, err
	}
	v, err := s.Get(ctx, decl)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("contextual %q: instance is %T, not %T", decl.ID(), v, zero)
	}
	return typed, nil
}

// Get returns the instance of decl, creating it on first request. Concurrent
// first requests create a single instance.
func (s *Scope) Get(ctx context.Context, decl Contextual) (any, error) {
	if !s.IsActive() {
		return nil, ErrContextNotActive
	}

	s.mu.Lock()
	inst, ok := s.instances[decl.ID()]
	if !ok {
		inst = &scopedInstance{decl: decl}
		s.instances[decl.ID()] = inst
	}
	s.mu.Unlock()

	inst.once.Do(func() {
		inst.value, inst.err = decl.Create(ctx)
	})
	if inst.err != nil {
		s.mu.Lock()
		if s.instances[decl.ID()] == inst {
			delete(s.instances, decl.ID())
		}
		s.mu.Unlock()
		return nil, fmt.Errorf("create contextual %q: %w", decl.ID(), inst.err)
	}
	return inst.value, nil
}

// Destroy destroys and evicts the instance of decl, if any.
func (s *Scope) Destroy(_ context.Context, decl Contextual) error {
	if !s.IsActive() {
		return ErrContextNotActive
	}

	s.mu.Lock()
	inst, ok := s.instances[decl.ID()]
	delete(s.instances, decl.ID())
	s.mu.Unlock()

	if ok {
		s.destroyInstance(inst)
	}
	return nil
}

// DestroyAll deactivates the scope and destroys every instance it holds.
func (s *Scope) DestroyAll() {
	s.SetActive(false)

	s.mu.Lock()
	instances := s.instances
	s.instances = make(map[string]*scopedInstance)
	s.mu.Unlock()

	for _, inst := range instances {
		s.destroyInstance(inst)
	}
}

// Len returns the number of live instances.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.instances)
}

func (s *Scope) destroyInstance(inst *scopedInstance) {
	// Wait for a concurrent Create to finish; a failed create has nothing to destroy.
	inst.once.Do(func() {})
	if inst.err != nil || inst.value == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error(fmt.Errorf("%v", r), "Panic while destroying contextual instance", "contextual", inst.decl.ID())
		}
	}()
	inst.decl.Destroy(inst.value)
}
