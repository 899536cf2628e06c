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

// Package binding pairs change-event producers with the subscriptions that
// select them, and runs one controller per resulting binding.
//
// Registration happens in two passes. Producers register first; subscriptions
// are queued. CloseRegistration then resolves every queued subscription
// against the producers, and no producer or subscription registered after
// that point takes part in any binding.
package binding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/client-go/tools/cache"

	"github.com/kro-run/eventselector/pkg/components"
	"github.com/kro-run/eventselector/pkg/dispatch"
	"github.com/kro-run/eventselector/pkg/eventbus"
	"github.com/kro-run/eventselector/pkg/eventcontext"
	"github.com/kro-run/eventselector/pkg/selector"
	"github.com/kro-run/eventselector/pkg/watchtracker"
)

const (
	defaultCloseTimeout    = 30 * time.Second
	defaultRecoveryTimeout = 30 * time.Second
	defaultTrackerBuffer   = 100
)

// Options configure an Engine.
type Options struct {
	// CloseTimeout bounds how long Shutdown waits for each controller.
	CloseTimeout time.Duration
	// RecoveryTimeout is how long a binding stays degraded after a watch
	// error.
	RecoveryTimeout time.Duration
	// TrackerBuffer is the capacity of the watch tracker event channel.
	TrackerBuffer int
	// Controllers builds the controller of each binding. Defaults to
	// NewInformerController(CloseTimeout).
	Controllers ControllerFactory
}

func (o Options) withDefaults() Options {
	if o.CloseTimeout == 0 {
		o.CloseTimeout = defaultCloseTimeout
	}
	if o.RecoveryTimeout == 0 {
		o.RecoveryTimeout = defaultRecoveryTimeout
	}
	if o.TrackerBuffer == 0 {
		o.TrackerBuffer = defaultTrackerBuffer
	}
	if o.Controllers == nil {
		o.Controllers = NewInformerController(o.CloseTimeout)
	}
	return o
}

// Engine owns the registration state, the bindings and their controllers.
type Engine struct {
	log        logr.Logger
	opts       Options
	catalog    *selector.Catalog
	components *components.Registry
	bus        *dispatch.Bus
	prior      *dispatch.PriorState
	resolver   *Resolver
	tracker    *watchtracker.Tracker

	mu      sync.Mutex
	pending []Subscription
	closed  bool
	running bool
	started []startedBinding
}

type startedBinding struct {
	binding    *Binding
	controller Controller
}

// NewEngine returns an engine in its registration phase. comps may be nil.
func NewEngine(log logr.Logger, catalog *selector.Catalog, comps *components.Registry, opts Options) *Engine {
	log = log.WithName("engine")
	bus := eventbus.New[dispatch.Notification](log)
	opts = opts.withDefaults()
	return &Engine{
		log:        log,
		opts:       opts,
		catalog:    catalog,
		components: comps,
		bus:        bus,
		prior:      eventcontext.NewPriorState[unstructured.Unstructured](),
		resolver:   NewResolver(log, catalog, bus),
		tracker:    watchtracker.NewTracker(opts.RecoveryTimeout, opts.TrackerBuffer),
	}
}

// Tracker returns the per-binding watch tracker.
func (e *Engine) Tracker() *watchtracker.Tracker {
	return e.tracker
}

// Catalog returns the tag catalog used for resolution.
func (e *Engine) Catalog() *selector.Catalog {
	return e.catalog
}

// RegisterProducer registers p as a candidate for its effective tag-set. A
// later producer for the same tag-set replaces the earlier one.
func (e *Engine) RegisterProducer(p Producer) error {
	return e.resolver.AddProducer(p)
}

// Subscribe queues s for resolution. After CloseRegistration the
// subscription is accepted but never bound.
func (e *Engine) Subscribe(s Subscription) error {
	if s.Handler == nil {
		return fmt.Errorf("subscription %q: nil handler", s.Name)
	}
	if _, err := s.deliveryTags(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		orphanedSubscriptionsTotal.Inc()
		e.log.Info("Registration is closed; subscription will receive no events", "subscription", s.Name)
		return nil
	}
	e.pending = append(e.pending, s)
	return nil
}

// CloseRegistration ends the registration phase: it resolves every queued
// subscription, then discards the producers no subscription claimed. It is
// idempotent.
func (e *Engine) CloseRegistration() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeRegistrationLocked()
}

func (e *Engine) closeRegistrationLocked() error {
	if e.closed {
		return nil
	}
	e.closed = true

	registry := e.resolver.Registry()
	registry.Seal()
	var errs []error
	for _, s := range e.pending {
		b, err := e.resolver.Resolve(s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if b == nil {
			orphanedSubscriptionsTotal.Inc()
		}
	}
	e.pending = nil
	unclaimed := registry.Len()
	registry.Clear()

	e.log.Info("Registration closed",
		"bindings", len(e.resolver.Bindings()),
		"orphans", len(e.resolver.Orphans()),
		"unclaimedProducers", unclaimed,
	)
	return utilerrors.NewAggregate(errs)
}

// Bindings returns a snapshot of the bindings, in creation order.
func (e *Engine) Bindings() []*Binding {
	return e.resolver.Bindings()
}

// Start closes registration if still open and starts one controller per
// binding. When a controller fails to start, the controllers already started
// are closed and a *StartError is returned.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrAlreadyStarted
	}
	if err := e.closeRegistrationLocked(); err != nil {
		return err
	}
	e.running = true

	for _, b := range e.resolver.Bindings() {
		e.prepare(b)
		c, err := e.opts.Controllers(ctx, e.log, b, e.tracker)
		if err == nil {
			e.tracker.Start(b.Name)
			err = c.Start()
			if err != nil {
				e.tracker.Stop(b.Name)
				_ = c.Close()
			}
		}
		if err != nil {
			controllerStartFailuresTotal.Inc()
			startErr := &StartError{Binding: b.Name, Err: err}
			if closeErr := e.closeAllLocked(); closeErr != nil {
				e.log.Error(closeErr, "Failed to close controllers after start failure")
			}
			return startErr
		}
		e.started = append(e.started, startedBinding{binding: b, controller: c})
		bindingsStarted.Inc()
		e.log.Info("Started binding", "binding", b.Name, "subscriptions", len(b.Subscriptions()))
	}
	return nil
}

// prepare resolves the binding's optional components and builds its
// dispatcher.
func (e *Engine) prepare(b *Binding) {
	store, ok := components.Resolve[cache.Store](e.components, b.Tags)
	if !ok {
		e.log.V(1).Info("No cache for binding; proceeding without one", "binding", b.Name)
	}
	options, _ := components.Resolve[eventbus.Options](e.components, b.Tags)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.cache = store
	b.dispatcher = dispatch.New(e.log, dispatch.Config{
		Name:        b.Name,
		Tags:        b.Tags.With(dispatch.BindingTag(b.ID)),
		SyncNeeded:  b.syncNeeded,
		AsyncNeeded: b.asyncNeeded,
		Options:     options,
	}, e.bus, e.prior)
}

// Shutdown closes every started controller, in start order, even when some
// fail. The first failure is reported as the primary error of a
// *ShutdownError and the others as suppressed.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.closeAllLocked()
	e.tracker.Shutdown()
	return err
}

func (e *Engine) closeAllLocked() error {
	var errs []error
	for _, s := range e.started {
		if err := s.controller.Close(); err != nil {
			controllerCloseFailuresTotal.Inc()
			errs = append(errs, fmt.Errorf("close controller for binding %q: %w", s.binding.Name, err))
		}
		e.tracker.Stop(s.binding.Name)
		bindingsStarted.Dec()
	}
	e.started = nil
	return newShutdownError(errs)
}
