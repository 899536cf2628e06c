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
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/client-go/tools/cache"

	"github.com/kro-run/eventselector/pkg/dispatch"
	"github.com/kro-run/eventselector/pkg/features"
	"github.com/kro-run/eventselector/pkg/watchtracker"
)

// Controller turns a producer's list/watch stream into dispatched events.
type Controller interface {
	Start() error
	Close() error
}

// ControllerFactory builds the controller of a started binding.
type ControllerFactory func(ctx context.Context, log logr.Logger, b *Binding, tracker *watchtracker.Tracker) (Controller, error)

// InformerController runs a shared index informer over the producer of a
// binding and hands every change to the binding's dispatcher, one at a time.
type InformerController struct {
	log          logr.Logger
	binding      string
	informer     cache.SharedIndexInformer
	dispatcher   *dispatch.Dispatcher
	store        cache.Store
	tracker      *watchtracker.Tracker
	closeTimeout time.Duration

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewInformerController returns a factory of InformerControllers whose Close
// waits at most closeTimeout for the informer to stop. A non-positive timeout
// waits forever. The informer also stops when the context passed to the
// factory is done.
func NewInformerController(closeTimeout time.Duration) ControllerFactory {
	return func(ctx context.Context, log logr.Logger, b *Binding, tracker *watchtracker.Tracker) (Controller, error) {
		if b.Producer.ListerWatcher == nil {
			return nil, fmt.Errorf("binding %q: producer has no lister-watcher", b.Name)
		}
		example := b.Producer.ExampleObject
		if example == nil {
			example = &unstructured.Unstructured{}
		}
		informer := cache.NewSharedIndexInformer(
			b.Producer.ListerWatcher,
			example,
			b.Producer.ResyncPeriod,
			cache.Indexers{cache.NamespaceIndex: cache.MetaNamespaceIndexFunc},
		)
		if features.FeatureGate.Enabled(features.StripManagedFields) {
			if err := informer.SetTransform(stripManagedFields); err != nil {
				return nil, fmt.Errorf("binding %q: %w", b.Name, err)
			}
		}
		ctx, cancel := context.WithCancel(ctx)
		return &InformerController{
			log:          log.WithName("controller").WithValues("binding", b.Name),
			binding:      b.Name,
			informer:     informer,
			dispatcher:   b.Dispatcher(),
			store:        b.Cache(),
			tracker:      tracker,
			closeTimeout: closeTimeout,
			ctx:          ctx,
			cancel:       cancel,
			done:         make(chan struct{}),
		}, nil
	}
}

// Informer returns the underlying informer.
func (c *InformerController) Informer() cache.SharedIndexInformer {
	return c.informer
}

// Start registers the event handler and runs the informer in the background.
// It does not wait for the initial list.
func (c *InformerController) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return ErrAlreadyStarted
	}

	if err := c.informer.SetWatchErrorHandler(func(_ *cache.Reflector, err error) {
		c.log.Error(err, "Watch failed")
		if c.tracker != nil {
			c.tracker.RecordError(c.binding, err)
		}
	}); err != nil {
		return fmt.Errorf("set watch error handler: %w", err)
	}

	if _, err := c.informer.AddEventHandler(cache.ResourceEventHandlerDetailedFuncs{
		AddFunc: func(obj interface{}, isInInitialList bool) {
			c.onAdd(obj, isInInitialList)
		},
		UpdateFunc: c.onUpdate,
		DeleteFunc: c.onDelete,
	}); err != nil {
		return fmt.Errorf("add event handler: %w", err)
	}
	c.started = true

	go func() {
		defer close(c.done)
		defer utilruntime.HandleCrash()
		c.informer.RunWithContext(c.ctx)
	}()
	go func() {
		defer utilruntime.HandleCrash()
		if cache.WaitForCacheSync(c.ctx.Done(), c.informer.HasSynced) && c.tracker != nil {
			c.tracker.MarkSynced(c.binding)
		}
	}()
	c.log.V(1).Info("Started informer")
	return nil
}

// Close stops the informer and waits for it to return.
func (c *InformerController) Close() error {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()

	c.cancel()
	if !started {
		return nil
	}
	if c.closeTimeout <= 0 {
		<-c.done
		return nil
	}
	timer := time.NewTimer(c.closeTimeout)
	defer timer.Stop()
	select {
	case <-c.done:
		c.log.V(1).Info("Stopped informer")
		return nil
	case <-timer.C:
		return fmt.Errorf("binding %q: %w", c.binding, ErrCloseTimeout)
	}
}

func (c *InformerController) onAdd(obj interface{}, isInInitialList bool) {
	u, err := toUnstructured(obj)
	if err != nil {
		c.log.Error(err, "Dropping added object")
		return
	}
	var prior *unstructured.Unstructured
	if c.store != nil {
		if known, ok, _ := c.store.Get(u); ok {
			prior, _ = known.(*unstructured.Unstructured)
		}
		if err := c.store.Add(u); err != nil {
			c.log.Error(err, "Failed to update cache", "name", u.GetName())
		}
	}
	c.dispatch(dispatch.Event{Kind: dispatch.KindAdded, Object: u, Prior: prior, Resync: isInInitialList})
}

func (c *InformerController) onUpdate(oldObj, newObj interface{}) {
	u, err := toUnstructured(newObj)
	if err != nil {
		c.log.Error(err, "Dropping modified object")
		return
	}
	old, err := toUnstructured(oldObj)
	if err != nil {
		old = nil
	}
	resync := old != nil && old.GetResourceVersion() == u.GetResourceVersion()
	if c.store != nil {
		if err := c.store.Update(u); err != nil {
			c.log.Error(err, "Failed to update cache", "name", u.GetName())
		}
	}
	c.dispatch(dispatch.Event{Kind: dispatch.KindModified, Object: u, Prior: old, Resync: resync})
}

func (c *InformerController) onDelete(obj interface{}) {
	if tombstone, ok := obj.(cache.DeletedFinalStateUnknown); ok {
		obj = tombstone.Obj
	}
	u, err := toUnstructured(obj)
	if err != nil {
		c.log.Error(err, "Dropping deleted object")
		return
	}
	if c.store != nil {
		if err := c.store.Delete(u); err != nil {
			c.log.Error(err, "Failed to update cache", "name", u.GetName())
		}
	}
	c.dispatch(dispatch.Event{Kind: dispatch.KindDeleted, Object: u})
}

func (c *InformerController) dispatch(ev dispatch.Event) {
	if c.dispatcher == nil {
		return
	}
	// Informers hand out shared pointers; each event gets its own so that
	// overlapping dispatches of one object never share a prior-state entry.
	ev.Object = ev.Object.DeepCopy()
	if _, err := c.dispatcher.Dispatch(c.ctx, ev); err != nil {
		c.log.Error(err, "Failed to dispatch event", "kind", ev.Kind, "name", ev.Object.GetName())
	}
}

func stripManagedFields(obj interface{}) (interface{}, error) {
	if accessor, err := meta.Accessor(obj); err == nil {
		accessor.SetManagedFields(nil)
	}
	return obj, nil
}

func toUnstructured(obj interface{}) (*unstructured.Unstructured, error) {
	switch o := obj.(type) {
	case *unstructured.Unstructured:
		return o, nil
	case runtime.Object:
		content, err := runtime.DefaultUnstructuredConverter.ToUnstructured(o)
		if err != nil {
			return nil, fmt.Errorf("convert %T: %w", obj, err)
		}
		return &unstructured.Unstructured{Object: content}, nil
	case nil:
		return nil, errors.New("nil object")
	default:
		return nil, fmt.Errorf("unexpected object type %T", obj)
	}
}
