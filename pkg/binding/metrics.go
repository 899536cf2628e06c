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
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

func init() {
	metrics.Registry.MustRegister(
		bindingsStarted,
		orphanedSubscriptionsTotal,
		controllerStartFailuresTotal,
		controllerCloseFailuresTotal,
	)
}

var (
	bindingsStarted = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventselector_bindings_started",
			Help: "Number of bindings whose controller is running",
		},
	)
	orphanedSubscriptionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "eventselector_orphaned_subscriptions_total",
			Help: "Total number of subscriptions that found no producer",
		},
	)
	controllerStartFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "eventselector_controller_start_failures_total",
			Help: "Total number of controllers that failed to start",
		},
	)
	controllerCloseFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "eventselector_controller_close_failures_total",
			Help: "Total number of controllers that failed to close",
		},
	)
)
