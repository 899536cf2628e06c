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

// Package client builds the Kubernetes clients producers list and watch
// through.
package client

import (
	"fmt"

	"k8s.io/client-go/discovery"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"sigs.k8s.io/controller-runtime/pkg/client/config"
)

const defaultUserAgent = "eventselector"

// SetInterface provides access to the clients the engine needs.
type SetInterface interface {
	// Dynamic returns the dynamic client
	Dynamic() dynamic.Interface
	// Discovery returns the discovery client
	Discovery() discovery.DiscoveryInterface
	// RESTConfig returns a copy of the REST config the clients were built
	// from
	RESTConfig() *rest.Config
}

// Config holds the settings applied on top of the loaded REST config.
type Config struct {
	QPS       float32
	Burst     int
	UserAgent string
}

// Set is the default SetInterface.
type Set struct {
	config    *rest.Config
	dynamic   dynamic.Interface
	discovery discovery.DiscoveryInterface
}

var _ SetInterface = (*Set)(nil)

// NewSet loads the REST config the way controller-runtime does (flags,
// KUBECONFIG, in-cluster) and builds a Set from it.
func NewSet(cfg Config) (*Set, error) {
	restConfig, err := config.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubernetes config: %w", err)
	}
	return NewSetForConfig(restConfig, cfg)
}

// NewSetForConfig builds a Set from restConfig. restConfig is not modified.
func NewSetForConfig(restConfig *rest.Config, cfg Config) (*Set, error) {
	restConfig = rest.CopyConfig(restConfig)
	if cfg.QPS > 0 {
		restConfig.QPS = cfg.QPS
	}
	if cfg.Burst > 0 {
		restConfig.Burst = cfg.Burst
	}
	restConfig.UserAgent = cfg.UserAgent
	if restConfig.UserAgent == "" {
		restConfig.UserAgent = defaultUserAgent
	}

	dyn, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client: %w", err)
	}
	disc, err := discovery.NewDiscoveryClientForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery client: %w", err)
	}
	return &Set{
		config:    restConfig,
		dynamic:   dyn,
		discovery: disc,
	}, nil
}

func (s *Set) Dynamic() dynamic.Interface {
	return s.dynamic
}

func (s *Set) Discovery() discovery.DiscoveryInterface {
	return s.discovery
}

func (s *Set) RESTConfig() *rest.Config {
	return rest.CopyConfig(s.config)
}
