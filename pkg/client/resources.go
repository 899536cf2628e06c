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

package client

import (
	"context"
	"fmt"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/discovery"
	logr "sigs.k8s.io/controller-runtime/pkg/log"
)

const (
	// defaultPollInterval is the default interval for polling discovery
	defaultPollInterval = 150 * time.Millisecond
	// defaultTimeout is the default timeout for waiting on a resource
	defaultTimeout = 2 * time.Minute
)

// ResourceWaiter waits for resources to be served by the API server, so that
// a producer over a freshly installed CRD does not start watching too early.
type ResourceWaiter struct {
	discovery    discovery.DiscoveryInterface
	pollInterval time.Duration
	timeout      time.Duration
}

// ResourceWaiterConfig contains configuration for the resource waiter
type ResourceWaiterConfig struct {
	Discovery    discovery.DiscoveryInterface
	PollInterval time.Duration
	Timeout      time.Duration
}

func NewResourceWaiter(cfg ResourceWaiterConfig) *ResourceWaiter {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &ResourceWaiter{
		discovery:    cfg.Discovery,
		pollInterval: cfg.PollInterval,
		timeout:      cfg.Timeout,
	}
}

// IsServed reports whether gvr is currently served.
func (w *ResourceWaiter) IsServed(gvr schema.GroupVersionResource) (bool, error) {
	list, err := w.discovery.ServerResourcesForGroupVersion(gvr.GroupVersion().String())
	if err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	for _, r := range list.APIResources {
		if r.Name == gvr.Resource {
			return true, nil
		}
	}
	return false, nil
}

// WaitForResource blocks until gvr is served, the timeout expires or ctx is
// done.
func (w *ResourceWaiter) WaitForResource(ctx context.Context, gvr schema.GroupVersionResource) error {
	log := logr.FromContext(ctx)
	log.V(1).Info("Waiting for resource to be served", "gvr", gvr.String())

	err := wait.PollUntilContextTimeout(ctx, w.pollInterval, w.timeout, true,
		func(ctx context.Context) (bool, error) {
			return w.IsServed(gvr)
		})
	if err != nil {
		return fmt.Errorf("resource %s is not served: %w", gvr, err)
	}
	return nil
}
