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

package watchtracker

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

func init() {
	metrics.Registry.MustRegister(
		bindingsTracked,
		bindingsByStatus,
		watchErrorsTotal,
		recoveriesTotal,
		stateEventsDroppedTotal,
	)
}

var (
	bindingsTracked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventselector_bindings_tracked",
			Help: "Number of bindings whose controller is being tracked",
		},
	)
	bindingsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eventselector_bindings_by_status",
			Help: "Number of tracked bindings by watch status",
		},
		[]string{"status"},
	)
	watchErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventselector_watch_errors_total",
			Help: "Total number of watch errors reported per binding",
		},
		[]string{"binding"},
	)
	recoveriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "eventselector_watch_recoveries_total",
			Help: "Total number of bindings that recovered from an error state",
		},
	)
	stateEventsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "eventselector_watch_state_events_dropped_total",
			Help: "Total number of state change events dropped because the buffer was full",
		},
	)
)
