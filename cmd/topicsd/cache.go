package main

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/rexliu/topics/pkg/core"
)

// graphCache holds the current graph snapshot. Concurrent misses share one load.
type graphCache struct {
	load  func(context.Context) (*core.Graph, error)
	group singleflight.Group

	mu    sync.RWMutex
	graph *core.Graph
	gen   uint64
}

func newGraphCache(load func(context.Context) (*core.Graph, error)) *graphCache {
	return &graphCache{load: load}
}

// Graph returns the cached graph, loading it on a miss.
func (c *graphCache) Graph(ctx context.Context) (*core.Graph, error) {
	c.mu.RLock()
	g, gen := c.graph, c.gen
	c.mu.RUnlock()
	if g != nil {
		return g, nil
	}
	v, err, _ := c.group.Do("graph", func() (any, error) {
		loaded, err := c.load(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		// A set or invalidate during the load wins over the stale result.
		if c.gen == gen {
			c.graph = loaded
		}
		c.mu.Unlock()
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*core.Graph), nil
}

// Set replaces the cached graph with a freshly loaded one.
func (c *graphCache) Set(g *core.Graph) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.graph = g
	c.gen++
}

// Invalidate drops the cached graph.
func (c *graphCache) Invalidate() {
	c.Set(nil)
}
