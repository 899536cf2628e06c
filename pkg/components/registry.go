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

// Package components is a minimal registry of values addressed by tag-set.
// The engine uses it to find optional per-binding collaborators, such as an
// externally managed cache or the notification options of a binding.
package components

import (
	"sync"

	"github.com/kro-run/eventselector/pkg/selector"
)

// Registry maps tag-sets to provided values. Several values of different
// types may share a tag-set.
type Registry struct {
	mu     sync.RWMutex
	values map[string][]any
}

func NewRegistry() *Registry {
	return &Registry{values: make(map[string][]any)}
}

// Provide makes value resolvable under tags.
func (r *Registry) Provide(tags selector.TagSet, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := tags.Key()
	r.values[key] = append(r.values[key], value)
}

// Resolve returns the most recently provided value of type T registered under
// exactly tags.
func Resolve[T any](r *Registry, tags selector.TagSet) (T, bool) {
	var zero T
	if r == nil {
		return zero, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	values := r.values[tags.Key()]
	for i := len(values) - 1; i >= 0; i-- {
		if v, ok := values[i].(T); ok {
			return v, true
		}
	}
	return zero, false
}
