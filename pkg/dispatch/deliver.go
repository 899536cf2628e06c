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

package dispatch

import (
	"context"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/kro-run/eventselector/pkg/eventbus"
	"github.com/kro-run/eventselector/pkg/eventcontext"
)

// HandlerFunc is the code a subscription runs for each notification.
type HandlerFunc func(ctx context.Context, n Notification) error

type dispatchKey struct{}

type dispatchState struct {
	scope *eventcontext.Scope
	prior *PriorState
}

func withDispatch(ctx context.Context, scope *eventcontext.Scope, prior *PriorState) context.Context {
	return context.WithValue(ctx, dispatchKey{}, &dispatchState{scope: scope, prior: prior})
}

// Deliver adapts handler into a bus observer. Each invocation activates the
// dispatch's Scope and the prior-state window of the notified object around
// the handler, and releases both when the handler returns or panics. With
// wantsPrior the prior version is resolved up front into Notification.Prior.
func Deliver(handler HandlerFunc, wantsPrior bool) eventbus.ObserverFunc[Notification] {
	return func(ctx context.Context, n Notification) error {
		state, ok := ctx.Value(dispatchKey{}).(*dispatchState)
		if !ok {
			return eventcontext.ErrContextNotActive
		}

		ctx, releaseScope := state.scope.Activate(ctx)
		defer releaseScope()
		ctx, releasePrior := state.prior.Activate(ctx, n.Object)
		defer releasePrior()

		if wantsPrior {
			prior, err := state.prior.Get(ctx)
			if err != nil {
				return err
			}
			n.Prior = prior
		}
		return handler(ctx, n)
	}
}

// PriorFrom returns the prior version of the object being notified in ctx. It
// fails with eventcontext.ErrContextNotActive outside of a notification.
func PriorFrom(ctx context.Context) (eventcontext.Prior[unstructured.Unstructured], error) {
	state, ok := ctx.Value(dispatchKey{}).(*dispatchState)
	if !ok {
		return eventcontext.Prior[unstructured.Unstructured]{}, eventcontext.ErrContextNotActive
	}
	return state.prior.Get(ctx)
}
