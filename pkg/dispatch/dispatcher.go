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

// Package dispatch delivers the change events of one binding to its
// subscribers.
//
// A dispatch moves through the following steps:
//
//  1. The event is decorated with a delivery tag derived from its kind and
//     resync flag, appended to the binding's tag-set.
//  2. If the binding has neither sync nor async subscribers nothing happens.
//  3. The prior version of the object is recorded in the PriorState, keyed by
//     the identity of the object.
//  4. Async subscribers are fired first. Once all of them have returned, the
//     sync subscribers are fired from the completion continuation. The
//     delivering goroutine does not wait for this.
//  5. With sync subscribers only, they run inline.
//
// In both cases the notification Scope is destroyed and the prior-state entry
// removed when delivery ends, however it ends.
package dispatch

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/kro-run/eventselector/pkg/eventbus"
	"github.com/kro-run/eventselector/pkg/eventcontext"
	"github.com/kro-run/eventselector/pkg/selector"
)

// PriorState is the prior-state context shared by every dispatcher of an
// engine.
type PriorState = eventcontext.PriorState[unstructured.Unstructured]

// Bus is the broadcaster notifications are fired on.
type Bus = eventbus.Bus[Notification]

// Config describes the binding a Dispatcher serves.
type Config struct {
	// Name identifies the binding in logs and metrics.
	Name string
	// Tags is the binding's effective tag-set.
	Tags        selector.TagSet
	SyncNeeded  bool
	AsyncNeeded bool
	// Options are passed through to every asynchronous fire.
	Options eventbus.Options
}

// Dispatcher sequences the delivery of one binding's events.
type Dispatcher struct {
	config Config
	bus    *Bus
	prior  *PriorState
	log    logr.Logger
}

func New(log logr.Logger, config Config, bus *Bus, prior *PriorState) *Dispatcher {
	return &Dispatcher{
		config: config,
		bus:    bus,
		prior:  prior,
		log:    log.WithName("dispatcher").WithValues("binding", config.Name),
	}
}

// Config returns the dispatcher's configuration.
func (d *Dispatcher) Config() Config {
	return d.config
}

// Dispatch delivers ev. It returns an error only when ev cannot be delivered
// at all. Delivery failures are logged; the returned Completion resolves with
// them once the dispatch, teardown included, has finished.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) (*eventbus.Completion, error) {
	tag, err := DeliveryTag(ev.Kind, ev.Resync)
	if err != nil {
		dispatchRejectedTotal.WithLabelValues(d.config.Name).Inc()
		return nil, err
	}
	if !d.config.SyncNeeded && !d.config.AsyncNeeded {
		return eventbus.Completed(nil), nil
	}
	if err := d.prior.Put(ev.Object, eventcontext.PriorOf(ev.Prior)); err != nil {
		dispatchRejectedTotal.WithLabelValues(d.config.Name).Inc()
		return nil, err
	}

	tags := d.config.Tags.With(tag)
	n := Notification{
		Binding: d.config.Name,
		Kind:    ev.Kind,
		Resync:  ev.Resync,
		Object:  ev.Object,
	}

	scope := eventcontext.NewScope(d.log)
	scope.SetActive(true)
	ctx = withDispatch(ctx, scope, d.prior)

	start := time.Now()
	dispatchInFlight.Inc()
	teardown := func() {
		scope.DestroyAll()
		d.prior.Remove(ev.Object)
		dispatchInFlight.Dec()
		dispatchDuration.WithLabelValues(d.config.Name).Observe(time.Since(start).Seconds())
		dispatchTotal.WithLabelValues(d.config.Name, string(ev.Kind)).Inc()
	}

	log := d.log.WithValues("kind", ev.Kind, "resync", ev.Resync, "namespace", ev.Object.GetNamespace(), "name", ev.Object.GetName())
	log.V(1).Info("Dispatching event", "sync", d.config.SyncNeeded, "async", d.config.AsyncNeeded)

	if d.config.AsyncNeeded {
		async := d.bus.FireAsync(ctx, n, tags, d.config.Options)
		return async.Then(func(asyncErr error) error {
			defer teardown()
			if asyncErr != nil {
				asyncFailuresTotal.WithLabelValues(d.config.Name).Inc()
				log.Error(asyncErr, "Asynchronous delivery failed")
			}
			if !d.config.SyncNeeded {
				return asyncErr
			}
			syncErr := d.fireSync(ctx, log, n, tags)
			if asyncErr != nil {
				return asyncErr
			}
			return syncErr
		}), nil
	}

	defer teardown()
	return eventbus.Completed(d.fireSync(ctx, log, n, tags)), nil
}

func (d *Dispatcher) fireSync(ctx context.Context, log logr.Logger, n Notification, tags selector.TagSet) error {
	err := d.bus.Fire(ctx, n, tags)
	if err != nil {
		syncFailuresTotal.WithLabelValues(d.config.Name).Inc()
		log.Error(err, "Synchronous delivery failed")
	}
	return err
}
