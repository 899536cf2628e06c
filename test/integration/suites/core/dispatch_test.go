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

package core_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/rand"
	"k8s.io/client-go/tools/cache"

	"github.com/kro-run/eventselector/pkg/binding"
	esclient "github.com/kro-run/eventselector/pkg/client"
	"github.com/kro-run/eventselector/pkg/components"
	"github.com/kro-run/eventselector/pkg/dispatch"
	"github.com/kro-run/eventselector/pkg/eventbus"
	"github.com/kro-run/eventselector/pkg/selector"
	"github.com/kro-run/eventselector/pkg/watchtracker"
)

const configMapsTag selector.Tag = "test.eventselector.kro.run/configmaps"

var configMaps = schema.GroupVersionResource{Version: "v1", Resource: "configmaps"}

// seen is what a subscription observed of one notification.
type seen struct {
	Kind     dispatch.Kind
	Resync   bool
	Name     string
	Data     string
	PriorRV  string
	HasPrior bool
}

type journal struct {
	mu      sync.Mutex
	entries []seen
}

func (l *journal) handler(_ context.Context, n dispatch.Notification) error {
	s := seen{Kind: n.Kind, Resync: n.Resync, Name: n.Object.GetName(), HasPrior: n.Prior.Present()}
	s.Data, _, _ = unstructured.NestedString(n.Object.Object, "data", "value")
	if s.HasPrior {
		s.PriorRV = n.Prior.Object().GetResourceVersion()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, s)
	return nil
}

func (l *journal) all() []seen {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]seen(nil), l.entries...)
}

var _ = Describe("Dispatch", func() {
	var namespace string

	BeforeEach(func(ctx SpecContext) {
		namespace = fmt.Sprintf("test-%s", rand.String(5))
		ns := &corev1.Namespace{
			ObjectMeta: metav1.ObjectMeta{
				Name: namespace,
			},
		}
		Expect(env.Client.Create(ctx, ns)).To(Succeed())
		DeferCleanup(func(ctx SpecContext) {
			Expect(env.Client.Delete(ctx, ns)).To(Succeed())
		})
	})

	newEngine := func(comps *components.Registry) *binding.Engine {
		catalog := selector.NewCatalog()
		catalog.DeclareSelector(configMapsTag)
		engine := env.NewEngine(catalog, comps)
		Expect(engine.RegisterProducer(binding.Producer{
			Name:          "configmaps",
			Tags:          []selector.Tag{configMapsTag},
			ListerWatcher: esclient.ListerWatcher(env.ClientSet.Dynamic(), configMaps, namespace, ""),
		})).To(Succeed())
		return engine
	}

	It("delivers the lifecycle of a resource to sync and async subscriptions", func(ctx SpecContext) {
		all := &journal{}
		deletions := &journal{}
		store := cache.NewStore(cache.MetaNamespaceKeyFunc)
		comps := components.NewRegistry()
		comps.Provide(selector.NewTagSet(configMapsTag), store)

		engine := newEngine(comps)
		Expect(engine.Subscribe(binding.Subscription{
			Name: "all", Tags: []selector.Tag{configMapsTag}, WantsPrior: true, Handler: all.handler,
		})).To(Succeed())
		Expect(engine.Subscribe(binding.Subscription{
			Name: "deletions", Tags: []selector.Tag{configMapsTag}, Kind: dispatch.KindDeleted,
			Mode: eventbus.ModeAsync, Handler: deletions.handler,
		})).To(Succeed())

		By("starting the engine")
		Expect(engine.Start(env.Context())).To(Succeed())
		DeferCleanup(func() {
			Expect(engine.Shutdown()).To(Succeed())
		})
		Eventually(func(g Gomega) {
			state, ok := engine.Tracker().GetState("configmaps")
			g.Expect(ok).To(BeTrue())
			g.Expect(state.Status).To(Equal(watchtracker.StatusSynced))
		}, 10*time.Second, 100*time.Millisecond).Should(Succeed())

		By("creating a ConfigMap")
		cm := &corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{Name: "watched", Namespace: namespace},
			Data:       map[string]string{"value": "1"},
		}
		Expect(env.Client.Create(ctx, cm)).To(Succeed())
		createdRV := cm.ResourceVersion

		By("updating the ConfigMap")
		cm.Data["value"] = "2"
		Expect(env.Client.Update(ctx, cm)).To(Succeed())

		By("deleting the ConfigMap")
		Expect(env.Client.Delete(ctx, cm)).To(Succeed())

		Eventually(all.all, 10*time.Second, 100*time.Millisecond).Should(Equal([]seen{
			{Kind: dispatch.KindAdded, Name: "watched", Data: "1"},
			{Kind: dispatch.KindModified, Name: "watched", Data: "2", HasPrior: true, PriorRV: createdRV},
			{Kind: dispatch.KindDeleted, Name: "watched", Data: "2"},
		}))
		Eventually(deletions.all, 10*time.Second, 100*time.Millisecond).Should(Equal([]seen{
			{Kind: dispatch.KindDeleted, Name: "watched", Data: "2"},
		}))
		Expect(store.ListKeys()).To(BeEmpty())
	})

	It("reports pre-existing resources as resynchronized additions", func(ctx SpecContext) {
		cm := &corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{Name: "existing", Namespace: namespace},
			Data:       map[string]string{"value": "0"},
		}
		Expect(env.Client.Create(ctx, cm)).To(Succeed())

		resyncs := &journal{}
		engine := newEngine(nil)
		Expect(engine.Subscribe(binding.Subscription{
			Name: "resyncs", Tags: []selector.Tag{configMapsTag}, Kind: dispatch.KindAdded, Resync: true,
			Handler: resyncs.handler,
		})).To(Succeed())
		Expect(engine.Start(env.Context())).To(Succeed())
		DeferCleanup(func() {
			Expect(engine.Shutdown()).To(Succeed())
		})

		Eventually(resyncs.all, 10*time.Second, 100*time.Millisecond).Should(Equal([]seen{
			{Kind: dispatch.KindAdded, Resync: true, Name: "existing", Data: "0"},
		}))
	})

	It("never binds a subscription registered after registration closed", func(ctx SpecContext) {
		late := &journal{}
		engine := newEngine(nil)
		Expect(engine.CloseRegistration()).To(Succeed())
		Expect(engine.Subscribe(binding.Subscription{
			Name: "late", Tags: []selector.Tag{configMapsTag}, Handler: late.handler,
		})).To(Succeed())
		Expect(engine.Start(env.Context())).To(Succeed())
		DeferCleanup(func() {
			Expect(engine.Shutdown()).To(Succeed())
		})
		Expect(engine.Bindings()).To(BeEmpty())

		Expect(env.Client.Create(ctx, &corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{Name: "ignored", Namespace: namespace},
		})).To(Succeed())
		Consistently(late.all, 2*time.Second, 200*time.Millisecond).Should(BeEmpty())
	})
})
