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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/client-go/tools/cache"
	fcache "k8s.io/client-go/tools/cache/testing"

	"github.com/kro-run/eventselector/pkg/components"
	"github.com/kro-run/eventselector/pkg/dispatch"
	"github.com/kro-run/eventselector/pkg/eventbus"
	"github.com/kro-run/eventselector/pkg/selector"
	"github.com/kro-run/eventselector/pkg/watchtracker"
)

type record struct {
	kind     dispatch.Kind
	resync   bool
	name     string
	rv       string
	hasPrior bool
	priorRV  string
	object   *unstructured.Unstructured
}

type recorder struct {
	mu      sync.Mutex
	records []record
}

func (r *recorder) handle(_ context.Context, n dispatch.Notification) error {
	rec := record{
		kind:     n.Kind,
		resync:   n.Resync,
		name:     n.Object.GetName(),
		rv:       n.Object.GetResourceVersion(),
		hasPrior: n.Prior.Present(),
		object:   n.Object,
	}
	if rec.hasPrior {
		rec.priorRV = n.Prior.Object().GetResourceVersion()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *recorder) all() []record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]record(nil), r.records...)
}

func (r *recorder) find(kind dispatch.Kind, name string) (record, bool) {
	for _, rec := range r.all() {
		if rec.kind == kind && rec.name == name {
			return rec, true
		}
	}
	return record{}, false
}

func newConfigMap(name, resourceVersion string) *unstructured.Unstructured {
	u := &unstructured.Unstructured{}
	u.SetAPIVersion("v1")
	u.SetKind("ConfigMap")
	u.SetNamespace("default")
	u.SetName(name)
	u.SetResourceVersion(resourceVersion)
	return u
}

// newUnstartedController builds the InformerController of a single binding
// over tagPods without running its informer.
func newUnstartedController(t *testing.T, comps *components.Registry, rec *recorder) *InformerController {
	t.Helper()
	e := NewEngine(noopLogger(), newCatalog(), comps, Options{Controllers: newFakeControllers().factory})
	require.NoError(t, e.RegisterProducer(Producer{
		Name:          "pods",
		Tags:          []selector.Tag{tagPods},
		ListerWatcher: fcache.NewFakeControllerSource(),
	}))
	require.NoError(t, e.Subscribe(Subscription{Name: "rec", Tags: []selector.Tag{tagPods}, WantsPrior: true, Handler: rec.handle}))
	require.NoError(t, e.CloseRegistration())

	b := e.Bindings()[0]
	e.prepare(b)
	c, err := NewInformerController(time.Second)(context.Background(), noopLogger(), b, e.Tracker())
	require.NoError(t, err)
	return c.(*InformerController)
}

func TestInformerControllerEventMapping(t *testing.T) {
	rec := &recorder{}
	c := newUnstartedController(t, nil, rec)

	initial := newConfigMap("a", "1")
	c.onAdd(initial, true)
	c.onAdd(newConfigMap("b", "1"), false)
	c.onUpdate(initial, newConfigMap("a", "2"))
	resynced := newConfigMap("a", "2")
	c.onUpdate(resynced, resynced)
	c.onDelete(cache.DeletedFinalStateUnknown{Key: "default/a", Obj: newConfigMap("a", "2")})
	c.onAdd("not an object", false)
	c.onDelete(nil)

	got := rec.all()
	require.Len(t, got, 5)

	assert.Equal(t, record{kind: dispatch.KindAdded, resync: true, name: "a", rv: "1"}, withoutObject(got[0]))
	assert.NotSame(t, initial, got[0].object)
	assert.Equal(t, record{kind: dispatch.KindAdded, name: "b", rv: "1"}, withoutObject(got[1]))
	assert.Equal(t, record{kind: dispatch.KindModified, name: "a", rv: "2", hasPrior: true, priorRV: "1"}, withoutObject(got[2]))
	assert.Equal(t, record{kind: dispatch.KindModified, resync: true, name: "a", rv: "2", hasPrior: true, priorRV: "2"}, withoutObject(got[3]))
	assert.Equal(t, record{kind: dispatch.KindDeleted, name: "a", rv: "2"}, withoutObject(got[4]))

	// Never started.
	assert.NoError(t, c.Close())
}

func withoutObject(r record) record {
	r.object = nil
	return r
}

func TestInformerControllerConvertsTypedObjects(t *testing.T) {
	rec := &recorder{}
	c := newUnstartedController(t, nil, rec)

	c.onAdd(&corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "typed", ResourceVersion: "7"}}, false)

	got := rec.all()
	require.Len(t, got, 1)
	assert.Equal(t, "typed", got[0].name)
	assert.Equal(t, "7", got[0].rv)
	assert.Equal(t, "default", got[0].object.GetNamespace())
}

func TestInformerControllerKeepsCacheInStep(t *testing.T) {
	store := cache.NewStore(cache.MetaNamespaceKeyFunc)
	comps := components.NewRegistry()
	comps.Provide(selector.NewTagSet(tagPods), store)
	rec := &recorder{}
	c := newUnstartedController(t, comps, rec)

	known := newConfigMap("a", "1")
	require.NoError(t, store.Add(known))

	c.onAdd(newConfigMap("a", "2"), false)
	obj, ok, err := store.GetByKey("default/a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2", obj.(*unstructured.Unstructured).GetResourceVersion())

	c.onUpdate(newConfigMap("a", "2"), newConfigMap("a", "3"))
	obj, _, _ = store.GetByKey("default/a")
	assert.Equal(t, "3", obj.(*unstructured.Unstructured).GetResourceVersion())

	c.onDelete(newConfigMap("a", "3"))
	_, ok, _ = store.GetByKey("default/a")
	assert.False(t, ok)

	got := rec.all()
	require.Len(t, got, 3)
	// The cache's earlier entry is the prior of an addition.
	assert.True(t, got[0].hasPrior)
	assert.Equal(t, "1", got[0].priorRV)
}

func TestInformerControllerRunsInformer(t *testing.T) {
	source := fcache.NewFakeControllerSource()
	source.Add(&corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "a"}})

	rec := &recorder{}
	deleted := make(chan string, 10)
	e := NewEngine(noopLogger(), newCatalog(), nil, Options{CloseTimeout: 5 * time.Second})
	require.NoError(t, e.RegisterProducer(Producer{
		Name:          "configmaps",
		Tags:          []selector.Tag{tagConfigs},
		ListerWatcher: source,
		ExampleObject: &corev1.ConfigMap{},
	}))
	require.NoError(t, e.Subscribe(Subscription{Name: "all", Tags: []selector.Tag{tagConfigs}, WantsPrior: true, Handler: rec.handle}))
	require.NoError(t, e.Subscribe(Subscription{
		Name: "deletions",
		Tags: []selector.Tag{tagConfigs},
		Kind: dispatch.KindDeleted,
		Mode: eventbus.ModeAsync,
		Handler: func(_ context.Context, n dispatch.Notification) error {
			deleted <- n.Object.GetName()
			return nil
		},
	}))
	require.NoError(t, e.Start(context.Background()))

	require.Eventually(t, func() bool {
		state, ok := e.Tracker().GetState("configmaps")
		return ok && state.Status == watchtracker.StatusSynced
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := rec.find(dispatch.KindAdded, "a")
		return ok
	}, 5*time.Second, 10*time.Millisecond)
	initial, _ := rec.find(dispatch.KindAdded, "a")
	assert.True(t, initial.resync)

	source.Add(&corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "b"}})
	require.Eventually(t, func() bool {
		_, ok := rec.find(dispatch.KindAdded, "b")
		return ok
	}, 5*time.Second, 10*time.Millisecond)
	added, _ := rec.find(dispatch.KindAdded, "b")
	assert.False(t, added.resync)

	source.Modify(&corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "b"}, Data: map[string]string{"k": "v"}})
	require.Eventually(t, func() bool {
		_, ok := rec.find(dispatch.KindModified, "b")
		return ok
	}, 5*time.Second, 10*time.Millisecond)
	modified, _ := rec.find(dispatch.KindModified, "b")
	assert.False(t, modified.resync)
	assert.True(t, modified.hasPrior)
	assert.Equal(t, added.rv, modified.priorRV)

	source.Delete(&corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "b"}})
	select {
	case name := <-deleted:
		assert.Equal(t, "b", name)
	case <-time.After(5 * time.Second):
		t.Fatal("deletion was not delivered")
	}
	assert.Len(t, deleted, 0)

	require.NoError(t, e.Shutdown())
	_, tracked := e.Tracker().GetState("configmaps")
	assert.False(t, tracked)
}

func TestInformerControllerStartTwice(t *testing.T) {
	c := newUnstartedController(t, nil, &recorder{})
	require.NoError(t, c.Start())
	assert.ErrorIs(t, c.Start(), ErrAlreadyStarted)
	assert.NoError(t, c.Close())
}

func TestInformerControllerRequiresListerWatcher(t *testing.T) {
	b := newBinding(selector.NewTagSet(tagPods), Producer{Name: "empty"})
	_, err := NewInformerController(time.Second)(context.Background(), noopLogger(), b, nil)
	assert.Error(t, err)
}

func TestStripManagedFields(t *testing.T) {
	u := newConfigMap("a", "1")
	u.SetManagedFields([]metav1.ManagedFieldsEntry{{Manager: "kubectl"}})

	out, err := stripManagedFields(u)
	require.NoError(t, err)
	assert.Empty(t, out.(*unstructured.Unstructured).GetManagedFields())

	tombstone := cache.DeletedFinalStateUnknown{Key: "default/a", Obj: u}
	out, err = stripManagedFields(tombstone)
	require.NoError(t, err)
	assert.Equal(t, tombstone, out)
}
