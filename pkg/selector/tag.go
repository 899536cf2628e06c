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

package selector

import (
	"strconv"
	"strings"
	"sync"

	"k8s.io/apimachinery/pkg/util/sets"
)

const (
	// Marker is the distinguished tag that turns another tag into a selector.
	// A declaration is a selector declaration when at least one of its tags
	// carries Marker, directly or through meta-tags.
	Marker Tag = "eventselector.kro.run/selector"

	// BuiltinPrefix prefixes the tags owned by the engine itself (delivery
	// tags, mostly). They are never walked and never selectors.
	BuiltinPrefix = "builtin/"
)

// Tag is an opaque identifier attached to a declaration.
type Tag string

func (t Tag) String() string {
	return string(t)
}

// TagSet is an unordered set of tags. The zero value is an empty set.
type TagSet struct {
	tags sets.Set[Tag]
}

// NewTagSet returns a set holding the given tags.
func NewTagSet(tags ...Tag) TagSet {
	return TagSet{tags: sets.New(tags...)}
}

// Has reports whether tag is a member of the set.
func (s TagSet) Has(tag Tag) bool {
	return s.tags.Has(tag)
}

func (s TagSet) Len() int {
	return s.tags.Len()
}

func (s TagSet) IsEmpty() bool {
	return s.tags.Len() == 0
}

// With returns a copy of the set with tags added. The receiver is not modified.
func (s TagSet) With(tags ...Tag) TagSet {
	out := sets.New[Tag]()
	if s.tags != nil {
		out = s.tags.Clone()
	}
	out.Insert(tags...)
	return TagSet{tags: out}
}

// Contains reports whether every tag of other is also in s.
func (s TagSet) Contains(other TagSet) bool {
	if other.Len() == 0 {
		return true
	}
	if s.tags == nil {
		return false
	}
	return s.tags.IsSuperset(other.tags)
}

// Equal reports whether both sets hold exactly the same tags.
func (s TagSet) Equal(other TagSet) bool {
	return s.Len() == other.Len() && s.Contains(other)
}

// List returns the tags in sorted order.
func (s TagSet) List() []Tag {
	return sets.List(s.tags)
}

// Key returns a canonical representation of the set, stable regardless of
// insertion order. Two sets are equal iff their keys are equal. Every tag is
// length-prefixed, so tags holding separators cannot collide.
func (s TagSet) Key() string {
	var b strings.Builder
	for _, t := range s.List() {
		b.WriteString(strconv.Itoa(len(t)))
		b.WriteByte(':')
		b.WriteString(string(t))
	}
	return b.String()
}

func (s TagSet) String() string {
	list := s.List()
	parts := make([]string, len(list))
	for i, t := range list {
		parts[i] = string(t)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Catalog records which tags are themselves tagged (meta-tags). It is filled
// during setup and read during registration.
type Catalog struct {
	mu       sync.RWMutex
	meta     map[Tag]sets.Set[Tag]
	reserved []string
}

// NewCatalog creates an empty catalog. Tags starting with BuiltinPrefix or with
// any of reservedPrefixes are ignored when walking meta-tags.
func NewCatalog(reservedPrefixes ...string) *Catalog {
	return &Catalog{
		meta:     make(map[Tag]sets.Set[Tag]),
		reserved: append([]string{BuiltinPrefix}, reservedPrefixes...),
	}
}

// Annotate attaches metaTags to tag. Calling it again for the same tag adds
// to the existing meta-tags.
func (c *Catalog) Annotate(tag Tag, metaTags ...Tag) {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.meta[tag]
	if !ok {
		existing = sets.New[Tag]()
		c.meta[tag] = existing
	}
	existing.Insert(metaTags...)
}

// DeclareSelector is shorthand for Annotate(tag, Marker).
func (c *Catalog) DeclareSelector(tag Tag) {
	c.Annotate(tag, Marker)
}

// MetaTags returns the tags directly attached to tag.
func (c *Catalog) MetaTags(tag Tag) []Tag {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sets.List(c.meta[tag])
}

// IsReserved reports whether tag belongs to the framework and must be skipped.
func (c *Catalog) IsReserved(tag Tag) bool {
	if tag == "" {
		return true
	}
	for _, prefix := range c.reserved {
		if strings.HasPrefix(string(tag), prefix) {
			return true
		}
	}
	return false
}

// Closure walks tags and, transitively, their meta-tags, collecting every tag
// equal to target. Each tag is visited at most once, so cycles in the meta-tag
// graph terminate.
func (c *Catalog) Closure(tags []Tag, target Tag) TagSet {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := sets.New[Tag]()
	processed := sets.New[Tag]()
	worklist := append([]Tag(nil), tags...)

	for len(worklist) > 0 {
		tag := worklist[0]
		worklist = worklist[1:]

		if processed.Has(tag) || c.IsReserved(tag) {
			continue
		}
		processed.Insert(tag)

		if tag == target {
			result.Insert(tag)
			continue
		}
		for meta := range c.meta[tag] {
			if !processed.Has(meta) && !c.IsReserved(meta) {
				worklist = append(worklist, meta)
			}
		}
	}
	return TagSet{tags: result}
}

// IsSelector reports whether tag carries Marker through its meta-tags.
func (c *Catalog) IsSelector(tag Tag) bool {
	if c.IsReserved(tag) {
		return false
	}
	return c.Closure(c.MetaTags(tag), Marker).Has(Marker)
}

// EffectiveTags returns the subset of tags that are selectors. The result
// is the key under which producers and subscriptions meet. An empty result
// means the declaration is not a selector declaration.
func (c *Catalog) EffectiveTags(tags ...Tag) TagSet {
	out := sets.New[Tag]()
	for _, tag := range tags {
		if c.IsSelector(tag) {
			out.Insert(tag)
		}
	}
	return TagSet{tags: out}
}
