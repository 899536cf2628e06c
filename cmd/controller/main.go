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
	"errors"
	"flag"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/cache"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/kro-run/eventselector/pkg/binding"
	esclient "github.com/kro-run/eventselector/pkg/client"
	"github.com/kro-run/eventselector/pkg/components"
	"github.com/kro-run/eventselector/pkg/config"
	"github.com/kro-run/eventselector/pkg/eventbus"
	"github.com/kro-run/eventselector/pkg/features"
)

var setupLog = ctrl.Log.WithName("setup")

type customLevelEnabler struct {
	level int
}

func (c customLevelEnabler) Enabled(lvl zapcore.Level) bool {
	return -int(lvl) <= c.level
}

func main() {
	var (
		configPath  string
		metricsAddr string
		probeAddr   string
		// engine parameters
		shutdownTimeout time.Duration
		recoveryTimeout time.Duration
		logLevel        int
		qps             float64
		burst           int
	)

	flag.StringVar(&configPath, "config", "eventselector.yaml", "Path to the selectors, producers and subscriptions file.")
	flag.StringVar(&metricsAddr, "metrics-bind-address", ":8078", "The address the metric endpoint binds to.")
	flag.StringVar(&probeAddr, "health-probe-bind-address", ":8079", "The address the probe endpoint binds to.")
	flag.Func("feature-gates", "A set of key=value pairs that describe feature gates for alpha/experimental features. "+
		"Options are:\n"+strings.Join(features.FeatureGate.KnownFeatures(), "\n"), features.FeatureGate.Set)
	flag.DurationVar(&shutdownTimeout, "shutdown-timeout", 60*time.Second,
		"Maximum duration to wait for each controller to stop.")
	flag.DurationVar(&recoveryTimeout, "watch-recovery-timeout", 30*time.Second,
		"How long a binding stays degraded after a watch error.")
	// log level flags
	flag.IntVar(&logLevel, "log-level", 10, "The log level verbosity. 0 is the least verbose, 5 is the most verbose.")
	// qps and burst
	flag.Float64Var(&qps, "client-qps", 100, "The number of queries per second to allow")
	flag.IntVar(&burst, "client-burst", 150,
		"The number of requests that can be stored for processing before the server starts enforcing the QPS limit")

	flag.Parse()

	opts := zap.Options{
		Development: true,
		Level:       customLevelEnabler{level: logLevel},
		TimeEncoder: zapcore.ISO8601TimeEncoder,
	}
	rootLogger := zap.New(zap.UseFlagOptions(&opts))

	ctrl.SetLogger(rootLogger)

	cfg, err := config.Load(configPath)
	if err != nil {
		setupLog.Error(err, "unable to load configuration")
		os.Exit(1)
	}

	set, err := esclient.NewSet(esclient.Config{
		QPS:   float32(qps),
		Burst: burst,
	})
	if err != nil {
		setupLog.Error(err, "unable to create client set")
		os.Exit(1)
	}
	restConfig := set.RESTConfig()

	ctx := ctrl.SetupSignalHandler()

	catalog := cfg.Catalog()
	comps := components.NewRegistry()
	engine := binding.NewEngine(rootLogger, catalog, comps, binding.Options{
		CloseTimeout:    shutdownTimeout,
		RecoveryTimeout: recoveryTimeout,
	})

	waiter := esclient.NewResourceWaiter(esclient.ResourceWaiterConfig{Discovery: set.Discovery()})
	for _, p := range cfg.Producers {
		if features.FeatureGate.Enabled(features.WaitForResources) {
			if err := waiter.WaitForResource(ctrl.LoggerInto(ctx, setupLog), p.GVR()); err != nil {
				setupLog.Error(err, "producer resource unavailable", "producer", p.Name)
				os.Exit(1)
			}
		}
		if err := engine.RegisterProducer(binding.Producer{
			Name:          p.Name,
			Tags:          p.SelectorTags(),
			ListerWatcher: esclient.ListerWatcher(set.Dynamic(), p.GVR(), p.Namespace, p.LabelSelector),
			ResyncPeriod:  p.ResyncPeriod.Duration,
		}); err != nil {
			setupLog.Error(err, "unable to register producer", "producer", p.Name)
			os.Exit(1)
		}

		tags := catalog.EffectiveTags(p.SelectorTags()...)
		if p.Cache {
			comps.Provide(tags, cache.NewStore(cache.MetaNamespaceKeyFunc))
		}
		if asyncOpts := p.AsyncOptions(); asyncOpts != (eventbus.Options{}) {
			comps.Provide(tags, asyncOpts)
		}
	}

	subscriberLog := rootLogger.WithName("subscriber")
	for _, s := range cfg.Subscriptions {
		if err := engine.Subscribe(binding.Subscription{
			Name:       s.Name,
			Tags:       s.SelectorTags(),
			Kind:       s.EventKind(),
			Resync:     s.Resync,
			Mode:       s.DeliveryMode(),
			WantsPrior: s.WantsPrior,
			Handler:    logEvents(subscriberLog.WithValues("subscription", s.Name)),
		}); err != nil {
			setupLog.Error(err, "unable to subscribe", "subscription", s.Name)
			os.Exit(1)
		}
	}

	if err := engine.CloseRegistration(); err != nil {
		setupLog.Error(err, "unable to resolve subscriptions")
		os.Exit(1)
	}

	if err := startMetricsServer(ctx, metricsAddr, restConfig); err != nil {
		setupLog.Error(err, "unable to start metrics server")
		os.Exit(1)
	}
	startProbeServer(ctx, probeAddr, engine)
	go logStateChanges(ctx, rootLogger.WithName("watchtracker"), engine.Tracker())

	if err := engine.Start(ctx); err != nil {
		setupLog.Error(err, "unable to start bindings")
		if shutdownErr := engine.Shutdown(); shutdownErr != nil {
			setupLog.Error(shutdownErr, "problem shutting down")
		}
		os.Exit(1)
	}
	setupLog.Info("Started", "bindings", len(engine.Bindings()))

	<-ctx.Done()

	setupLog.Info("Shutting down")
	if err := engine.Shutdown(); err != nil {
		var shutdownErr *binding.ShutdownError
		if errors.As(err, &shutdownErr) {
			for _, suppressed := range shutdownErr.Suppressed {
				setupLog.Error(suppressed, "suppressed shutdown failure")
			}
			err = shutdownErr.Primary
		}
		setupLog.Error(err, "problem shutting down")
		os.Exit(1)
	}
}

func startMetricsServer(ctx context.Context, addr string, restConfig *rest.Config) error {
	if addr == "0" {
		return nil
	}
	httpClient, err := rest.HTTPClientFor(restConfig)
	if err != nil {
		return err
	}
	server, err := metricsserver.NewServer(metricsserver.Options{BindAddress: addr}, restConfig, httpClient)
	if err != nil {
		return err
	}
	go func() {
		if err := server.Start(ctx); err != nil {
			setupLog.Error(err, "problem running metrics server")
		}
	}()
	return nil
}

func startProbeServer(ctx context.Context, addr string, engine *binding.Engine) {
	if addr == "0" {
		return
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           probeHandler(engine.Tracker()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			setupLog.Error(err, "problem running probe server")
		}
	}()
}
