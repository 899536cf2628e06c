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

// Package eventbus broadcasts values to observers selected by tag-set.
//
// An observer receives a value when every one of its tags is present in the
// tags the value is fired with. Synchronous observers run inline on the firing
// goroutine; asynchronous observers run in parallel and report through a
// Completion.
package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/kro-run/eventselector/pkg/selector"
)

// Mode selects how an observer is notified.
type Mode int

const (
	ModeSync Mode = iota
	ModeAsync
)

func (m Mode) String() string {
	switch m {
	case ModeSync:
		return "sync"
	case ModeAsync:
		return "async"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ObserverFunc handles one fired value.
type ObserverFunc[E any] func(ctx context.Context, event E) error

// Observer is a registered consumer.
type Observer[E any] struct {
	ID   string
	Tags selector.TagSet
	Mode Mode
	Func ObserverFunc[E]
}

// Options tune a single FireAsync call.
type Options struct {
	// MaxConcurrency bounds the number of async observers running at once.
	// Zero or negative means unbounded.
	MaxConcurrency int
	// Timeout, when positive, bounds the context handed to async observers.
	Timeout time.Duration
}

// Bus is a tag-set addressed broadcaster. Observers are expected to be
// registered during setup; registration and firing may still overlap safely.
type Bus[E any] struct {
	log logr.Logger

	mu        sync.RWMutex
	observers []Observer[E]
}

func New[E any](log logr.Logger) *Bus[E] {
	return &Bus[E]{log: log.WithName("event-bus")}
}

// Observe registers o.
func (b *Bus[E]) Observe(o Observer[E]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, o)
}

// Observers returns, in registration order, the observers of the given mode
// that would receive a value fired with tags.
func (b *Bus[E]) Observers(mode Mode, tags selector.TagSet) []Observer[E] {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var matched []Observer[E]
	for _, o := range b.observers {
		if o.Mode == mode && tags.Contains(o.Tags) {
			matched = append(matched, o)
		}
	}
	return matched
}

// Fire notifies the matching synchronous observers one after the other on the
// calling goroutine. Every observer is notified even if an earlier one fails;
// the failures are aggregated.
func (b *Bus[E]) Fire(ctx context.Context, event E, tags selector.TagSet) error {
	var errs []error
	for _, o := range b.Observers(ModeSync, tags) {
		if err := notify(ctx, o, event); err != nil {
			errs = append(errs, err)
		}
	}
	return utilerrors.NewAggregate(errs)
}

// FireAsync notifies the matching asynchronous observers in parallel and
// returns immediately. The returned Completion resolves once every observer
// has returned.
func (b *Bus[E]) FireAsync(ctx context.Context, event E, tags selector.TagSet, opts Options) *Completion {
	c := newCompletion()
	observers := b.Observers(ModeAsync, tags)
	if len(observers) == 0 {
		c.complete(nil)
		return c
	}

	go func() {
		ctx := ctx
		if opts.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
			defer cancel()
		}

		var (
			g    errgroup.Group
			mu   sync.Mutex
			errs []error
		)
		if opts.MaxConcurrency > 0 {
			g.SetLimit(opts.MaxConcurrency)
		}
		for _, o := range observers {
			g.Go(func() error {
				if err := notify(ctx, o, event); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()
		c.complete(utilerrors.NewAggregate(errs))
	}()
	return c
}

func notify[E any](ctx context.Context, o Observer[E], event E) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer %q panicked: %v", o.ID, r)
		}
	}()
	if err := o.Func(ctx, event); err != nil {
		return fmt.Errorf("observer %q: %w", o.ID, err)
	}
	return nil
}
