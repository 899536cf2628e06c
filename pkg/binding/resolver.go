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

package binding

import (
	"fmt"
	"sync"

	"github.com/go-logr/logr"

	"github.com/kro-run/eventselector/pkg/dispatch"
	"github.com/kro-run/eventselector/pkg/eventbus"
	"github.com/kro-run/eventselector/pkg/selector"
)

// Resolver pairs subscriptions with producers by effective tag-set. The first
// subscription of a tag-set claims the producer registered for it; later
// subscriptions of the same tag-set join the binding it created.
type Resolver struct {
	log      logr.Logger
	catalog  *selector.Catalog
	registry *selector.Registry[Producer]
	bus      *dispatch.Bus

	mu       sync.Mutex
	bindings map[string]*Binding
	order    []*Binding
	orphans  []string
}

func NewResolver(log logr.Logger, catalog *selector.Catalog, bus *dispatch.Bus) *Resolver {
	return &Resolver{
		log:      log.WithName("resolver"),
		catalog:  catalog,
		registry: selector.NewRegistry[Producer](),
		bus:      bus,
		bindings: make(map[string]*Binding),
	}
}

// Registry returns the producer registry the resolver draws from.
func (r *Resolver) Registry() *selector.Registry[Producer] {
	return r.registry
}

// AddProducer registers p as the candidate for its effective tag-set.
func (r *Resolver) AddProducer(p Producer) error {
	tags := r.catalog.EffectiveTags(p.Tags...)
	if tags.IsEmpty() {
		return fmt.Errorf("producer %q: %w", p.Name, ErrNoSelectorTags)
	}
	replaced, err := r.registry.RegisterCandidate(tags, p)
	if err != nil {
		return fmt.Errorf("producer %q: %w", p.Name, err)
	}
	if replaced {
		r.log.Info("Producer replaced an earlier candidate", "producer", p.Name, "tags", tags.String())
	}
	return nil
}

// Resolve pairs sub with a binding and registers its observer. It returns
// nil, without error, when no producer exists for the subscription's
// tag-set; such a subscription never receives events.
func (r *Resolver) Resolve(sub Subscription) (*Binding, error) {
	if sub.Handler == nil {
		return nil, fmt.Errorf("subscription %q: nil handler", sub.Name)
	}
	delivery, err := sub.deliveryTags()
	if err != nil {
		return nil, err
	}
	tags := r.catalog.EffectiveTags(sub.Tags...)

	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bindings[tags.Key()]
	if !ok {
		producer, found := r.registry.ResolveAndRemove(tags)
		if !found {
			r.orphans = append(r.orphans, sub.Name)
			r.log.V(1).Info("No producer for subscription", "subscription", sub.Name, "tags", tags.String())
			return nil, nil
		}
		b = newBinding(tags, producer)
		r.bindings[tags.Key()] = b
		r.order = append(r.order, b)
		r.log.Info("Created binding", "binding", b.Name, "id", b.ID, "tags", tags.String())
	}

	b.attach(sub)
	r.bus.Observe(eventbus.Observer[dispatch.Notification]{
		ID:   sub.Name,
		Tags: tags.With(append(delivery, dispatch.BindingTag(b.ID))...),
		Mode: sub.Mode,
		Func: dispatch.Deliver(sub.Handler, sub.WantsPrior),
	})
	r.log.V(1).Info("Subscription attached", "subscription", sub.Name, "binding", b.Name, "mode", sub.Mode)
	return b, nil
}

// Bindings returns the bindings created so far, in creation order.
func (r *Resolver) Bindings() []*Binding {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Binding(nil), r.order...)
}

// Orphans returns the names of the subscriptions that found no producer.
func (r *Resolver) Orphans() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.orphans...)
}
