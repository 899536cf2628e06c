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
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

func init() {
	metrics.Registry.MustRegister(
		dispatchTotal,
		dispatchDuration,
		dispatchInFlight,
		dispatchRejectedTotal,
		asyncFailuresTotal,
		syncFailuresTotal,
	)
}

var (
	dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventselector_dispatch_total",
			Help: "Total number of completed dispatches per binding and event kind",
		},
		[]string{"binding", "kind"},
	)
	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventselector_dispatch_duration_seconds",
			Help:    "Duration of a dispatch from decoration to teardown",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"binding"},
	)
	dispatchInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventselector_dispatch_in_flight",
			Help: "Number of dispatches whose teardown has not run yet",
		},
	)
	dispatchRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventselector_dispatch_rejected_total",
			Help: "Total number of events rejected before delivery",
		},
		[]string{"binding"},
	)
	asyncFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventselector_async_delivery_failures_total",
			Help: "Total number of dispatches with at least one failed asynchronous subscriber",
		},
		[]string{"binding"},
	)
	syncFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventselector_sync_delivery_failures_total",
			Help: "Total number of dispatches with at least one failed synchronous subscriber",
		},
		[]string{"binding"},
	)
)
