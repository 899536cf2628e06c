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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTagSetKey(t *testing.T) {
	a := NewTagSet("b", "a", "c")
	b := NewTagSet("c", "b", "a", "a")

	assert.Equal(t, "1:a1:b1:c", a.Key())
	assert.Equal(t, a.Key(), b.Key())
	assert.True(t, a.Equal(b))
	assert.Equal(t, "", TagSet{}.Key())
	assert.Equal(t, "{a,b,c}", a.String())
}

func TestTagSetKeyWithSeparators(t *testing.T) {
	tests := []struct {
		name string
		a, b TagSet
	}{
		{name: "comma", a: NewTagSet("a,b"), b: NewTagSet("a", "b")},
		{name: "length prefix", a: NewTagSet("1:a"), b: NewTagSet("a")},
		{name: "concatenation", a: NewTagSet("ab"), b: NewTagSet("a", "b")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, tt.a.Equal(tt.b))
			assert.NotEqual(t, tt.a.Key(), tt.b.Key())
		})
	}
}

func TestTagSetWithDoesNotMutate(t *testing.T) {
	base := NewTagSet("a")
	decorated := base.With("builtin/added")

	assert.Equal(t, 1, base.Len())
	assert.Equal(t, 2, decorated.Len())
	assert.True(t, decorated.Contains(base))
	assert.False(t, base.Contains(decorated))
	assert.True(t, TagSet{}.With("x").Has("x"))
}

func TestTagSetContains(t *testing.T) {
	tests := []struct {
		name  string
		set   TagSet
		other TagSet
		want  bool
	}{
		{"empty contains empty", TagSet{}, TagSet{}, true},
		{"empty does not contain tag", TagSet{}, NewTagSet("a"), false},
		{"superset", NewTagSet("a", "b"), NewTagSet("a"), true},
		{"disjoint", NewTagSet("a"), NewTagSet("b"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.set.Contains(tt.other))
		})
	}
}

func TestClosure(t *testing.T) {
	c := NewCatalog("java/")
	c.Annotate("simple")
	c.Annotate("meta-qualified", "meta")
	c.Annotate("twice-removed", "meta-qualified")
	c.Annotate("cycle-a", "cycle-b")
	c.Annotate("cycle-b", "cycle-a", "meta")
	c.Annotate("reserved-path", "java/lang", "builtin/x")
	c.Annotate("java/lang", "meta")

	tests := []struct {
		name   string
		tags   []Tag
		target Tag
		want   bool
	}{
		{"direct target", []Tag{"simple"}, "simple", true},
		{"one hop", []Tag{"meta-qualified"}, "meta", true},
		{"two hops", []Tag{"twice-removed"}, "meta", true},
		{"cycle terminates", []Tag{"cycle-a"}, "meta", true},
		{"unrelated", []Tag{"simple"}, "meta", false},
		{"reserved tags are not walked", []Tag{"reserved-path"}, "meta", false},
		{"duplicates", []Tag{"simple", "simple"}, "simple", true},
		{"empty", nil, "meta", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Closure(tt.tags, tt.target)
			assert.Equal(t, tt.want, got.Has(tt.target))
			if tt.want {
				assert.Equal(t, 1, got.Len())
			} else {
				assert.True(t, got.IsEmpty())
			}
		})
	}
}

func TestClosureIsOrderIndependent(t *testing.T) {
	c := NewCatalog()
	c.Annotate("x", "y")
	c.Annotate("y", "target")

	a := c.Closure([]Tag{"x", "y", "z"}, "target")
	b := c.Closure([]Tag{"z", "y", "x"}, "target")
	assert.True(t, a.Equal(b))
}

func TestEffectiveTags(t *testing.T) {
	c := NewCatalog()
	c.DeclareSelector("all-configmaps")
	c.Annotate("prod-configmaps", "all-configmaps")
	c.Annotate("team-a")

	got := c.EffectiveTags("all-configmaps", "team-a", "builtin/added")
	assert.True(t, got.Equal(NewTagSet("all-configmaps")))

	got = c.EffectiveTags("prod-configmaps")
	assert.True(t, got.Equal(NewTagSet("prod-configmaps")), "selector through a meta-tag")

	assert.True(t, c.EffectiveTags("team-a").IsEmpty())
	assert.False(t, c.IsSelector(Marker), "the marker alone does not make a selector")
}
