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
	"time"

	"github.com/cespare/xxhash/v2"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/cache"

	"github.com/kro-run/eventselector/pkg/dispatch"
	"github.com/kro-run/eventselector/pkg/eventbus"
	"github.com/kro-run/eventselector/pkg/selector"
)

// Producer is a candidate source of change events: anything that can both
// list and watch a kind of resource.
type Producer struct {
	Name string
	// Tags are the tags attached to the producer. Only the selector tags among
	// them take part in matching.
	Tags          []selector.Tag
	ListerWatcher cache.ListerWatcher
	// ExampleObject is the type the ListerWatcher returns. Defaults to
	// *unstructured.Unstructured.
	ExampleObject runtime.Object
	// ResyncPeriod is the informer resync period. Zero disables resyncs.
	ResyncPeriod time.Duration
}

// Subscription is a consumer of the change events of one tag-set.
type Subscription struct {
	Name string
	Tags []selector.Tag
	// Kind restricts the subscription to one kind of event. Empty means every
	// kind.
	Kind dispatch.Kind
	// Resync selects the synthetic resync events of Kind instead of the
	// regular ones. It has no meaning without Kind.
	Resync     bool
	Mode       eventbus.Mode
	WantsPrior bool
	Handler    dispatch.HandlerFunc
}

// deliveryTags returns the tags the subscription adds on top of its
// selector tags.
func (s Subscription) deliveryTags() ([]selector.Tag, error) {
	if s.Kind == "" {
		if s.Resync {
			return nil, fmt.Errorf("subscription %q: resync requires a kind", s.Name)
		}
		return nil, nil
	}
	tag, err := dispatch.DeliveryTag(s.Kind, s.Resync)
	if err != nil {
		return nil, fmt.Errorf("subscription %q: %w", s.Name, err)
	}
	return []selector.Tag{tag}, nil
}

// Binding pairs one producer with the subscriptions sharing its tag-set. The
// engine runs one controller per binding.
type Binding struct {
	// ID is derived from the tag-set and stable across restarts.
	ID       string
	Name     string
	Tags     selector.TagSet
	Producer Producer

	mu            sync.Mutex
	subscriptions []string
	syncNeeded    bool
	asyncNeeded   bool

	// Set when the engine starts the binding.
	cache      cache.Store
	dispatcher *dispatch.Dispatcher
}

func newBinding(tags selector.TagSet, producer Producer) *Binding {
	id := fmt.Sprintf("%016x", xxhash.Sum64String(tags.Key()))
	name := producer.Name
	if name == "" {
		name = id
	}
	return &Binding{
		ID:       id,
		Name:     name,
		Tags:     tags,
		Producer: producer,
	}
}

func (b *Binding) attach(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions = append(b.subscriptions, sub.Name)
	switch sub.Mode {
	case eventbus.ModeAsync:
		b.asyncNeeded = true
	default:
		b.syncNeeded = true
	}
}

// SyncNeeded reports whether at least one subscription wants synchronous
// delivery.
func (b *Binding) SyncNeeded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.syncNeeded
}

// AsyncNeeded reports whether at least one subscription wants asynchronous
// delivery.
func (b *Binding) AsyncNeeded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.asyncNeeded
}

// Subscriptions returns the names of the attached subscriptions.
func (b *Binding) Subscriptions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.subscriptions...)
}

// Cache returns the external cache kept in step with the binding, or nil.
func (b *Binding) Cache() cache.Store {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cache
}

// Dispatcher returns the binding's dispatcher once the binding is started.
func (b *Binding) Dispatcher() *dispatch.Dispatcher {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dispatcher
}
