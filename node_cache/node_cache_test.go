/***************************************************************
 *
 * Copyright (C) 2025, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package node_cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencadc/govos/node"
)

func newNode(t *testing.T, uri string) *node.Node {
	n, err := node.New(uri, node.DataNode, nil)
	require.NoError(t, err)
	return n
}

func TestWatchInsertLookup(t *testing.T) {
	c := New(0)
	t.Cleanup(c.Close)
	uri := "vos://h!v/a"

	_, ok := c.Lookup(uri)
	assert.False(t, ok)

	w, err := c.Watch(context.Background(), uri)
	require.NoError(t, err)
	assert.True(t, w.Insert(newNode(t, uri)))
	w.Close()
	w.Close()

	n, ok := c.Lookup(uri)
	require.True(t, ok)
	assert.Equal(t, uri, n.URI)
}

func TestVolatileHidesAndEvicts(t *testing.T) {
	c := New(0)
	t.Cleanup(c.Close)
	uri := "vos://h!v/a"

	w, err := c.Watch(context.Background(), uri)
	require.NoError(t, err)
	w.Insert(newNode(t, uri))
	w.Close()

	outer := c.Volatile(uri)
	inner := c.Volatile(uri)
	_, ok := c.Lookup(uri)
	assert.False(t, ok)

	// Inserts while the scope is open are dropped
	w, err = c.Watch(context.Background(), uri)
	require.NoError(t, err)
	assert.False(t, w.Insert(newNode(t, uri)))
	w.Close()

	inner.Close()
	_, ok = c.Lookup(uri)
	assert.False(t, ok, "outer scope still open")
	outer.Close()
	outer.Close()
	_, ok = c.Lookup(uri)
	assert.False(t, ok, "entry must be evicted on exit")
}

func TestWatchStartedBeforeVolatileCannotInsert(t *testing.T) {
	c := New(0)
	t.Cleanup(c.Close)
	uri := "vos://h!v/a"

	w, err := c.Watch(context.Background(), uri)
	require.NoError(t, err)
	v := c.Volatile(uri)
	v.Close()
	assert.False(t, w.Insert(newNode(t, uri)), "a mutation happened while building")
	w.Close()

	_, ok := c.Lookup(uri)
	assert.False(t, ok)
}

func TestVolatileEvictsSubtree(t *testing.T) {
	c := New(0)
	t.Cleanup(c.Close)
	for _, uri := range []string{"vos://h!v/d", "vos://h!v/d/f", "vos://h!v/d/sub/g", "vos://h!v/dx"} {
		w, err := c.Watch(context.Background(), uri)
		require.NoError(t, err)
		require.True(t, w.Insert(newNode(t, uri)))
		w.Close()
	}

	c.Volatile("vos://h!v/d").Close()

	for _, uri := range []string{"vos://h!v/d", "vos://h!v/d/f", "vos://h!v/d/sub/g"} {
		_, ok := c.Lookup(uri)
		assert.False(t, ok, uri)
	}
	_, ok := c.Lookup("vos://h!v/dx")
	assert.True(t, ok, "sibling with a shared name prefix stays cached")
}

func TestGenerationForgottenWhenIdle(t *testing.T) {
	c := New(0)
	t.Cleanup(c.Close)
	uri := "vos://h!v/a"

	c.Volatile(uri).Close()
	assert.Empty(t, c.generation)

	w, err := c.Watch(context.Background(), uri)
	require.NoError(t, err)
	v := c.Volatile(uri)
	v.Close()
	assert.Contains(t, c.generation, uri, "an in-flight watch still needs the counter")
	assert.False(t, w.Insert(newNode(t, uri)))
	w.Close()
	assert.Empty(t, c.generation)
}

func TestWatchIsExclusive(t *testing.T) {
	c := New(0)
	t.Cleanup(c.Close)
	uri := "vos://h!v/a"

	first, err := c.Watch(context.Background(), uri)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Watch(ctx, uri)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	acquired := make(chan *Watch)
	go func() {
		w, err := c.Watch(context.Background(), uri)
		assert.NoError(t, err)
		acquired <- w
	}()
	select {
	case <-acquired:
		t.Fatal("second watch acquired while the first was open")
	case <-time.After(20 * time.Millisecond):
	}
	first.Close()
	select {
	case w := <-acquired:
		w.Close()
	case <-time.After(time.Second):
		t.Fatal("second watch never acquired")
	}
}

func TestLookupOrBuildSingleBuild(t *testing.T) {
	c := New(0)
	t.Cleanup(c.Close)
	uri := "vos://h!v/a"

	var builds atomic.Int32
	release := make(chan struct{})
	build := func(ctx context.Context) (*node.Node, error) {
		builds.Add(1)
		<-release
		return newNode(t, uri), nil
	}

	var wg sync.WaitGroup
	results := make([]*node.Node, 2)
	for idx := range results {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			n, err := c.LookupOrBuild(context.Background(), uri, build)
			assert.NoError(t, err)
			results[idx] = n
		}(idx)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), builds.Load())
	assert.Same(t, results[0], results[1])
}

func TestLookupOrBuildError(t *testing.T) {
	c := New(0)
	t.Cleanup(c.Close)
	uri := "vos://h!v/a"

	_, err := c.LookupOrBuild(context.Background(), uri, func(ctx context.Context) (*node.Node, error) {
		return nil, errors.New("boom")
	})
	assert.EqualError(t, err, "boom")

	// The failed build released its watch
	n, err := c.LookupOrBuild(context.Background(), uri, func(ctx context.Context) (*node.Node, error) {
		return newNode(t, uri), nil
	})
	require.NoError(t, err)
	assert.Equal(t, uri, n.URI)
}

func TestTTLExpiry(t *testing.T) {
	c := New(20 * time.Millisecond)
	t.Cleanup(c.Close)
	uri := "vos://h!v/a"

	w, err := c.Watch(context.Background(), uri)
	require.NoError(t, err)
	w.Insert(newNode(t, uri))
	w.Close()

	_, ok := c.Lookup(uri)
	assert.True(t, ok)
	assert.Eventually(t, func() bool {
		_, ok := c.Lookup(uri)
		return !ok
	}, time.Second, 10*time.Millisecond)
}
