// Package schema caches the structural summary of a graph.
package schema

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ZanzyTHEbar/kg-provider-go/internal/apptype"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/metrics"
)

// ComputeFunc produces a fresh snapshot.
type ComputeFunc func(ctx context.Context) (apptype.SchemaSnapshot, error)

// Cache holds the last computed snapshot until invalidated. Concurrent
// recomputations are coalesced.
type Cache struct {
	mu      sync.Mutex
	snap    *apptype.SchemaSnapshot
	gen     uint64
	group   singleflight.Group
	compute ComputeFunc
	now     func() time.Time
}

// NewCache returns an empty cache backed by compute.
func NewCache(compute ComputeFunc) *Cache {
	return &Cache{compute: compute, now: time.Now}
}

// Get returns the cached snapshot, computing it when empty or when refresh
// is set.
func (c *Cache) Get(ctx context.Context, refresh bool) (apptype.SchemaSnapshot, error) {
	c.mu.Lock()
	if !refresh && c.snap != nil {
		snap := *c.snap
		c.mu.Unlock()
		metrics.Default().IncSchemaCache(true)
		return snap, nil
	}
	gen := c.gen
	c.mu.Unlock()
	metrics.Default().IncSchemaCache(false)

	v, err, _ := c.group.Do(fmt.Sprintf("schema-%d", gen), func() (any, error) {
		snap, err := c.compute(ctx)
		if err != nil {
			return nil, err
		}
		if snap.ComputedAt.IsZero() {
			snap.ComputedAt = c.now().UTC()
		}
		c.mu.Lock()
		// a mutation since the compute started leaves the cache empty
		if c.gen == gen {
			c.snap = &snap
		}
		c.mu.Unlock()
		return snap, nil
	})
	if err != nil {
		return apptype.SchemaSnapshot{}, err
	}
	return v.(apptype.SchemaSnapshot), nil
}

// Invalidate drops the cached snapshot.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.snap = nil
	c.gen++
	c.mu.Unlock()
}

// Cached reports whether a snapshot is currently held.
func (c *Cache) Cached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap != nil
}

// Build assembles a snapshot with its textual rendering.
func Build(labels, predicates, propertyKeys, patterns []string) apptype.SchemaSnapshot {
	snap := apptype.SchemaSnapshot{
		Labels:       orEmpty(labels),
		Predicates:   orEmpty(predicates),
		PropertyKeys: orEmpty(propertyKeys),
		Patterns:     orEmpty(patterns),
	}
	snap.Text = Render(snap)
	return snap
}

// Render formats a snapshot as the textual schema handed to callers and
// extraction prompts.
func Render(s apptype.SchemaSnapshot) string {
	var b strings.Builder
	b.WriteString("Node labels: ")
	b.WriteString(joinOrNone(s.Labels))
	b.WriteString("\nRelationship types: ")
	b.WriteString(joinOrNone(s.Predicates))
	b.WriteString("\nProperty keys: ")
	b.WriteString(joinOrNone(s.PropertyKeys))
	b.WriteString("\nRelationships:")
	if len(s.Patterns) == 0 {
		b.WriteString(" (none)")
	}
	for _, p := range s.Patterns {
		b.WriteString("\n  ")
		b.WriteString(p)
	}
	return b.String()
}

func joinOrNone(list []string) string {
	if len(list) == 0 {
		return "(none)"
	}
	return strings.Join(list, ", ")
}

func orEmpty(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
