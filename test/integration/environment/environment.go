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

// Package environment runs an API server for the integration suites and
// builds engines against it.
package environment

import (
	"context"
	"fmt"
	"io"

	"k8s.io/client-go/rest"
	ctrlclient "sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/envtest"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/go-logr/logr"

	"github.com/kro-run/eventselector/pkg/binding"
	esclient "github.com/kro-run/eventselector/pkg/client"
	"github.com/kro-run/eventselector/pkg/components"
	"github.com/kro-run/eventselector/pkg/selector"
)

type Config struct {
	LogWriter io.Writer
}

type Environment struct {
	context context.Context
	cancel  context.CancelFunc

	TestEnv    *envtest.Environment
	RESTConfig *rest.Config
	Client     ctrlclient.Client
	ClientSet  *esclient.Set
	Log        logr.Logger
}

func New(ctx context.Context, cfg Config) (*Environment, error) {
	env := &Environment{
		TestEnv: &envtest.Environment{},
		Log:     zap.New(zap.WriteTo(cfg.LogWriter), zap.UseDevMode(true)),
	}
	env.context, env.cancel = context.WithCancel(ctx)

	restConfig, err := env.TestEnv.Start()
	if err != nil {
		return nil, fmt.Errorf("failed to start test environment: %w", err)
	}
	env.RESTConfig = restConfig

	if env.Client, err = ctrlclient.New(restConfig, ctrlclient.Options{}); err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	if env.ClientSet, err = esclient.NewSetForConfig(restConfig, esclient.Config{QPS: 100, Burst: 150}); err != nil {
		return nil, fmt.Errorf("failed to create client set: %w", err)
	}
	return env, nil
}

// Context is cancelled when the environment stops.
func (e *Environment) Context() context.Context {
	return e.context
}

// NewEngine returns an engine whose informers stop with the environment.
func (e *Environment) NewEngine(catalog *selector.Catalog, comps *components.Registry) *binding.Engine {
	return binding.NewEngine(e.Log, catalog, comps, binding.Options{})
}

func (e *Environment) Stop() error {
	e.cancel()
	return e.TestEnv.Stop()
}
