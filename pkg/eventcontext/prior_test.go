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

package eventcontext

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type resource struct {
	Name     string
	Revision int
}

func TestPriorStateRoundTrip(t *testing.T) {
	s := NewPriorState[resource]()
	r := &resource{Name: "cm", Revision: 2}
	p := &resource{Name: "cm", Revision: 1}

	require.NoError(t, s.Put(r, PriorOf(p)))

	ctx, release := s.Activate(context.Background(), r)
	got, err := s.Get(ctx)
	require.NoError(t, err)
	assert.True(t, got.Present())
	assert.Same(t, p, got.Object())

	release()
	s.Remove(r)

	ctx, release = s.Activate(context.Background(), r)
	defer release()
	_, err = s.Get(ctx)
	assert.ErrorIs(t, err, ErrContextNotActive)
}

func TestPriorStateNotActive(t *testing.T) {
	s := NewPriorState[resource]()
	r := &resource{Name: "cm"}
	require.NoError(t, s.Put(r, PriorOf[resource](nil)))

	_, err := s.Get(context.Background())
	assert.True(t, IsContextNotActive(err))

	ctx, release := s.Activate(context.Background(), r)
	got, err := s.Get(ctx)
	require.NoError(t, err)
	assert.False(t, got.Present(), "an absent prior is a value, not an inactive context")

	release()
	release()
	_, err = s.Get(ctx)
	assert.ErrorIs(t, err, ErrContextNotActive, "a released window must not leak")
}

func TestPriorStateIsKeyedByIdentity(t *testing.T) {
	s := NewPriorState[resource]()
	a := &resource{Name: "same", Revision: 1}
	b := &resource{Name: "same", Revision: 1}
	pa := &resource{Name: "prior-a"}
	pb := &resource{Name: "prior-b"}

	require.NoError(t, s.Put(a, PriorOf(pa)))
	require.NoError(t, s.Put(b, PriorOf(pb)))
	assert.Equal(t, 2, s.Len())

	ctxA, releaseA := s.Activate(context.Background(), a)
	defer releaseA()
	ctxB, releaseB := s.Activate(context.Background(), b)
	defer releaseB()

	gotA, err := s.Get(ctxA)
	require.NoError(t, err)
	gotB, err := s.Get(ctxB)
	require.NoError(t, err)
	assert.Same(t, pa, gotA.Object())
	assert.Same(t, pb, gotB.Object())
}

func TestPriorStateConcurrentIsolation(t *testing.T) {
	s := NewPriorState[resource]()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cur := &resource{Revision: i}
			prior := &resource{Revision: i - 1}
			assert.NoError(t, s.Put(cur, PriorOf(prior)))
			defer s.Remove(cur)

			ctx, release := s.Activate(context.Background(), cur)
			defer release()
			got, err := s.Get(ctx)
			if assert.NoError(t, err) {
				assert.Same(t, prior, got.Object())
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, s.Len())
}

func TestPriorStatePutNil(t *testing.T) {
	s := NewPriorState[resource]()
	assert.ErrorIs(t, s.Put(nil, PriorOf[resource](nil)), ErrNilResource)
	s.Remove(nil)
}

func TestPriorStatesDoNotShareActivations(t *testing.T) {
	s1 := NewPriorState[resource]()
	s2 := NewPriorState[resource]()
	r := &resource{}
	require.NoError(t, s1.Put(r, PriorOf[resource](nil)))
	require.NoError(t, s2.Put(r, PriorOf[resource](nil)))

	ctx, release := s1.Activate(context.Background(), r)
	defer release()
	_, err := s2.Get(ctx)
	assert.ErrorIs(t, err, ErrContextNotActive)
}
