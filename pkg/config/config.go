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

// Package config loads the YAML file that declares selectors, producers and
// subscriptions.
package config

import (
	"fmt"
	"os"
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime/schema"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/sets"
	"sigs.k8s.io/yaml"

	"github.com/kro-run/eventselector/pkg/dispatch"
	"github.com/kro-run/eventselector/pkg/eventbus"
	"github.com/kro-run/eventselector/pkg/selector"
)

// Config is the root of the configuration file.
type Config struct {
	Selectors     []Selector     `json:"selectors,omitempty"`
	Producers     []Producer     `json:"producers,omitempty"`
	Subscriptions []Subscription `json:"subscriptions,omitempty"`
}

// Selector declares a tag as a selector. Without MetaTags the tag carries the
// selector marker directly; otherwise it is a selector only if one of its
// meta-tags is, transitively.
type Selector struct {
	Tag      string   `json:"tag"`
	MetaTags []string `json:"metaTags,omitempty"`
}

// Producer declares a resource to list and watch.
type Producer struct {
	Name          string          `json:"name"`
	Group         string          `json:"group,omitempty"`
	Version       string          `json:"version"`
	Resource      string          `json:"resource"`
	Namespace     string          `json:"namespace,omitempty"`
	LabelSelector string          `json:"labelSelector,omitempty"`
	Tags          []string        `json:"tags"`
	ResyncPeriod  metav1.Duration `json:"resyncPeriod,omitempty"`
	// Cache keeps a store of the producer's objects in step with its
	// events. The store provides the prior version of re-added objects.
	Cache bool `json:"cache,omitempty"`
	// MaxConcurrency and AsyncTimeout tune asynchronous delivery.
	MaxConcurrency int             `json:"maxConcurrency,omitempty"`
	AsyncTimeout   metav1.Duration `json:"asyncTimeout,omitempty"`
}

// GVR returns the producer's resource.
func (p Producer) GVR() schema.GroupVersionResource {
	return schema.GroupVersionResource{Group: p.Group, Version: p.Version, Resource: p.Resource}
}

// SelectorTags returns Tags as selector tags.
func (p Producer) SelectorTags() []selector.Tag {
	return toTags(p.Tags)
}

// AsyncOptions returns the asynchronous delivery options of the producer.
func (p Producer) AsyncOptions() eventbus.Options {
	return eventbus.Options{MaxConcurrency: p.MaxConcurrency, Timeout: p.AsyncTimeout.Duration}
}

// Subscription declares a consumer of change events.
type Subscription struct {
	Name       string   `json:"name"`
	Tags       []string `json:"tags"`
	Kind       string   `json:"kind,omitempty"`
	Resync     bool     `json:"resync,omitempty"`
	Mode       string   `json:"mode,omitempty"`
	WantsPrior bool     `json:"wantsPrior,omitempty"`
}

// SelectorTags returns Tags as selector tags.
func (s Subscription) SelectorTags() []selector.Tag {
	return toTags(s.Tags)
}

// EventKind returns the kind the subscription is restricted to, or "".
func (s Subscription) EventKind() dispatch.Kind {
	switch strings.ToLower(s.Kind) {
	case "added":
		return dispatch.KindAdded
	case "modified":
		return dispatch.KindModified
	case "deleted":
		return dispatch.KindDeleted
	}
	return ""
}

// DeliveryMode returns the subscription's mode. Synchronous is the default.
func (s Subscription) DeliveryMode() eventbus.Mode {
	if strings.EqualFold(s.Mode, "async") {
		return eventbus.ModeAsync
	}
	return eventbus.ModeSync
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates data.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem of the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	declared := sets.New[string]()
	for i, s := range c.Selectors {
		switch {
		case s.Tag == "":
			errs = append(errs, fmt.Errorf("selectors[%d]: tag is required", i))
		case strings.HasPrefix(s.Tag, selector.BuiltinPrefix):
			errs = append(errs, fmt.Errorf("selectors[%d]: tag %q uses the reserved prefix %q", i, s.Tag, selector.BuiltinPrefix))
		case declared.Has(s.Tag):
			errs = append(errs, fmt.Errorf("selectors[%d]: duplicate tag %q", i, s.Tag))
		}
		declared.Insert(s.Tag)
	}

	names := sets.New[string]()
	for i, p := range c.Producers {
		field := fmt.Sprintf("producers[%d]", i)
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s: name is required", field))
		} else if names.Has(p.Name) {
			errs = append(errs, fmt.Errorf("%s: duplicate name %q", field, p.Name))
		}
		names.Insert(p.Name)
		if p.Version == "" || p.Resource == "" {
			errs = append(errs, fmt.Errorf("%s: version and resource are required", field))
		}
		if len(p.Tags) == 0 {
			errs = append(errs, fmt.Errorf("%s: at least one tag is required", field))
		}
		if p.LabelSelector != "" {
			if _, err := labels.Parse(p.LabelSelector); err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid label selector: %w", field, err))
			}
		}
		if p.ResyncPeriod.Duration < 0 || p.AsyncTimeout.Duration < 0 || p.MaxConcurrency < 0 {
			errs = append(errs, fmt.Errorf("%s: durations and maxConcurrency must not be negative", field))
		}
	}

	names = sets.New[string]()
	for i, s := range c.Subscriptions {
		field := fmt.Sprintf("subscriptions[%d]", i)
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("%s: name is required", field))
		} else if names.Has(s.Name) {
			errs = append(errs, fmt.Errorf("%s: duplicate name %q", field, s.Name))
		}
		names.Insert(s.Name)
		if len(s.Tags) == 0 {
			errs = append(errs, fmt.Errorf("%s: at least one tag is required", field))
		}
		if s.Kind != "" && s.EventKind() == "" {
			errs = append(errs, fmt.Errorf("%s: unknown kind %q", field, s.Kind))
		}
		if s.Mode != "" && !strings.EqualFold(s.Mode, "sync") && !strings.EqualFold(s.Mode, "async") {
			errs = append(errs, fmt.Errorf("%s: unknown mode %q", field, s.Mode))
		}
		if s.Resync {
			if s.Kind == "" {
				errs = append(errs, fmt.Errorf("%s: resync requires a kind", field))
			} else if _, err := dispatch.DeliveryTag(s.EventKind(), true); s.EventKind() != "" && err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", field, err))
			}
		}
	}

	return utilerrors.NewAggregate(errs)
}

// Catalog returns a tag catalog with the configured selectors declared.
func (c *Config) Catalog() *selector.Catalog {
	catalog := selector.NewCatalog()
	for _, s := range c.Selectors {
		if len(s.MetaTags) == 0 {
			catalog.DeclareSelector(selector.Tag(s.Tag))
			continue
		}
		catalog.Annotate(selector.Tag(s.Tag), toTags(s.MetaTags)...)
	}
	return catalog
}

func toTags(in []string) []selector.Tag {
	out := make([]selector.Tag, len(in))
	for i, t := range in {
		out[i] = selector.Tag(t)
	}
	return out
}
