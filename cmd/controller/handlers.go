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

package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-logr/logr"
	"sigs.k8s.io/controller-runtime/pkg/healthz"

	"github.com/kro-run/eventselector/pkg/dispatch"
	"github.com/kro-run/eventselector/pkg/watchtracker"
)

// logEvents is the handler of configured subscriptions: it logs each
// notification, with the prior resource version when one is known.
func logEvents(log logr.Logger) dispatch.HandlerFunc {
	return func(ctx context.Context, n dispatch.Notification) error {
		values := []any{
			"binding", n.Binding,
			"kind", n.Kind,
			"resync", n.Resync,
			"namespace", n.Object.GetNamespace(),
			"name", n.Object.GetName(),
			"resourceVersion", n.Object.GetResourceVersion(),
		}
		prior, err := dispatch.PriorFrom(ctx)
		if err != nil {
			return err
		}
		if prior.Present() {
			values = append(values, "priorResourceVersion", prior.Object().GetResourceVersion())
		}
		log.Info("Event", values...)
		return nil
	}
}

// bindingsSynced fails until every tracked binding has completed its initial
// list.
func bindingsSynced(tracker *watchtracker.Tracker) healthz.Checker {
	return func(_ *http.Request) error {
		for _, name := range tracker.Bindings() {
			state, ok := tracker.GetState(name)
			if ok && !state.Synced {
				return fmt.Errorf("binding %q has not synced", name)
			}
		}
		return nil
	}
}

func probeHandler(tracker *watchtracker.Tracker) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/healthz", http.StripPrefix("/healthz", &healthz.Handler{
		Checks: map[string]healthz.Checker{"ping": healthz.Ping},
	}))
	mux.Handle("/readyz", http.StripPrefix("/readyz", &healthz.Handler{
		Checks: map[string]healthz.Checker{"bindings": bindingsSynced(tracker)},
	}))
	return mux
}

func logStateChanges(ctx context.Context, log logr.Logger, tracker *watchtracker.Tracker) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-tracker.Events():
			log.Info("Binding state changed",
				"binding", ev.Binding,
				"from", ev.OldState.Status,
				"to", ev.NewState.Status,
			)
		}
	}
}
