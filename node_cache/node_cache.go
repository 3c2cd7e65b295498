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

// Package node_cache coordinates the client's view of remote node metadata.
//
// Two scopes govern every entry.  A Watch gives the holder the exclusive
// right to build and insert the node for one uri; a second caller asking
// to watch the same uri waits until the first closes.  A Volatile scope
// brackets a mutating network call: the entry and its cached descendants
// are evicted on entry and again on close, the entry is hidden from lookups
// while the scope is open, and any watch that began before the scope opened
// loses its right to insert.
package node_cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/opencadc/govos/metrics"
	"github.com/opencadc/govos/node"
)

type (
	// Cache is safe for concurrent use.  The zero value is not usable; call
	// New.
	Cache struct {
		store *ttlcache.Cache[string, *node.Node]

		mu         sync.Mutex
		building   map[string]chan struct{}
		volatile   map[string]int
		generation map[string]uint64
		closeOnce  sync.Once
	}

	Watch struct {
		cache      *Cache
		uri        string
		generation uint64
		done       chan struct{}
		closeOnce  sync.Once
	}

	Volatile struct {
		cache     *Cache
		uri       string
		closeOnce sync.Once
	}

	// BuildFunc fetches the node for a uri from the service.
	BuildFunc func(ctx context.Context) (*node.Node, error)
)

const cacheName = "nodes"

// New creates a cache whose entries expire after ttl; a zero ttl keeps
// them until evicted.
func New(ttl time.Duration) *Cache {
	var opts []ttlcache.Option[string, *node.Node]
	if ttl > 0 {
		opts = append(opts, ttlcache.WithTTL[string, *node.Node](ttl))
	}
	c := &Cache{
		store:      ttlcache.New[string, *node.Node](opts...),
		building:   make(map[string]chan struct{}),
		volatile:   make(map[string]int),
		generation: make(map[string]uint64),
	}
	c.store.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *node.Node]) {
		if reason == ttlcache.EvictionReasonExpired {
			log.Debugf("Node cache: entry for %s expired", item.Key())
		}
		metrics.VOSCacheEvents.WithLabelValues(cacheName, "evict").Inc()
	})
	go c.store.Start()
	return c
}

// Close stops the expiry goroutine.  The cache must not be used afterwards.
func (c *Cache) Close() {
	c.closeOnce.Do(c.store.Stop)
}

// Lookup returns the cached node for uri.  Nodes under an open volatile
// scope are reported absent.
func (c *Cache) Lookup(uri string) (*node.Node, bool) {
	c.mu.Lock()
	hidden := c.volatile[uri] > 0
	c.mu.Unlock()
	if hidden {
		metrics.VOSCacheEvents.WithLabelValues(cacheName, "miss").Inc()
		return nil, false
	}
	item := c.store.Get(uri)
	if item == nil {
		metrics.VOSCacheEvents.WithLabelValues(cacheName, "miss").Inc()
		return nil, false
	}
	metrics.VOSCacheEvents.WithLabelValues(cacheName, "hit").Inc()
	return item.Value(), true
}

// Watch blocks until the caller holds the build right for uri, or ctx is
// done.  The returned scope must be closed.
func (c *Cache) Watch(ctx context.Context, uri string) (*Watch, error) {
	for {
		c.mu.Lock()
		inflight, busy := c.building[uri]
		if !busy {
			done := make(chan struct{})
			c.building[uri] = done
			w := &Watch{cache: c, uri: uri, generation: c.generation[uri], done: done}
			c.mu.Unlock()
			return w, nil
		}
		c.mu.Unlock()

		select {
		case <-inflight:
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), "waiting to build node %s", uri)
		}
	}
}

// Insert stores n unless a volatile scope for the uri has opened since the
// watch began.  It reports whether the node was stored.
func (w *Watch) Insert(n *node.Node) bool {
	c := w.cache
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.volatile[w.uri] > 0 || c.generation[w.uri] != w.generation {
		log.Debugf("Node cache: dropping stale build of %s", w.uri)
		return false
	}
	c.store.Set(w.uri, n, ttlcache.DefaultTTL)
	metrics.VOSCacheEvents.WithLabelValues(cacheName, "insert").Inc()
	return true
}

// Close releases the build right.  It is safe to call more than once.
func (w *Watch) Close() {
	w.closeOnce.Do(func() {
		c := w.cache
		c.mu.Lock()
		if c.building[w.uri] == w.done {
			delete(c.building, w.uri)
		}
		c.forgetGeneration(w.uri)
		c.mu.Unlock()
		close(w.done)
	})
}

// Volatile evicts uri and its subtree and hides uri from lookups until the
// returned scope is closed.  Scopes for the same uri nest.
func (c *Cache) Volatile(uri string) *Volatile {
	c.mu.Lock()
	c.volatile[uri]++
	c.generation[uri]++
	c.mu.Unlock()
	c.evictTree(uri)
	return &Volatile{cache: c, uri: uri}
}

// Close evicts the subtree again so the next reader refetches it.
func (v *Volatile) Close() {
	v.closeOnce.Do(func() {
		c := v.cache
		c.mu.Lock()
		c.volatile[v.uri]--
		if c.volatile[v.uri] <= 0 {
			delete(c.volatile, v.uri)
		}
		c.forgetGeneration(v.uri)
		c.mu.Unlock()
		c.evictTree(v.uri)
	})
}

// forgetGeneration drops the counter once nothing can compare against it.
// Callers hold c.mu.
func (c *Cache) forgetGeneration(uri string) {
	if c.volatile[uri] > 0 {
		return
	}
	if _, busy := c.building[uri]; busy {
		return
	}
	delete(c.generation, uri)
}

func (c *Cache) evictTree(uri string) {
	c.store.Delete(uri)
	prefix := strings.TrimSuffix(uri, "/") + "/"
	for _, key := range c.store.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.store.Delete(key)
		}
	}
}

// LookupOrBuild returns the cached node or builds it.  Concurrent callers
// for the same uri share a single build.
func (c *Cache) LookupOrBuild(ctx context.Context, uri string, build BuildFunc) (*node.Node, error) {
	if n, ok := c.Lookup(uri); ok {
		return n, nil
	}
	w, err := c.Watch(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer w.Close()

	// Another caller may have finished the build while we waited
	if n, ok := c.Lookup(uri); ok {
		return n, nil
	}
	n, err := build(ctx)
	if err != nil {
		return nil, err
	}
	w.Insert(n)
	return n, nil
}
