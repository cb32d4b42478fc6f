package docinverter

import (
	"sync"

	"github.com/gotextsearch/memindex/internal/executor"
	"github.com/gotextsearch/memindex/internal/schema"
)

// pooledInverter wraps a DocumentInverter with the ref-count its
// collection uses to decide when it is safe to recycle: a facade
// holds one reference while documents are actively being staged
// against it, and releases it once Commit's push has drained.
type pooledInverter struct {
	di       *DocumentInverter
	refCount int
}

// Collection is the active/inflight/free pool of §4.5: InsertDocument
// callers always stage against active; Rotate moves active to
// inflight (starting its commit) and promotes a free instance (or
// allocates a new one) to active so new inserts are never blocked
// behind a commit still draining.
type Collection struct {
	mu sync.Mutex

	schema  *schema.Schema
	indexes FieldIndexes

	invertExec *executor.Executor
	pushExec   *executor.Executor

	active   *pooledInverter
	inflight []*pooledInverter
	free     []*pooledInverter
}

// NewCollection creates a pool with one active instance ready to
// accept documents.
func NewCollection(sch *schema.Schema, indexes FieldIndexes, invertExec, pushExec *executor.Executor) *Collection {
	c := &Collection{
		schema:     sch,
		indexes:    indexes,
		invertExec: invertExec,
		pushExec:   pushExec,
	}
	c.active = c.newPooled()
	return c
}

func (c *Collection) newPooled() *pooledInverter {
	return &pooledInverter{di: New(c.schema, c.indexes, c.invertExec, c.pushExec)}
}

// Acquire returns the current active DocumentInverter and pins it with
// a reference; callers must call Release when done staging.
func (c *Collection) Acquire() *DocumentInverter {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active.refCount++
	return c.active.di
}

// Release drops a reference taken by Acquire.
func (c *Collection) Release(di *DocumentInverter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.derefLocked(di)
}

func (c *Collection) derefLocked(di *DocumentInverter) {
	if c.active != nil && c.active.di == di {
		c.active.refCount--
		return
	}
	for i, p := range c.inflight {
		if p.di == di {
			p.refCount--
			if p.refCount <= 0 {
				c.inflight = append(c.inflight[:i], c.inflight[i+1:]...)
				c.free = append(c.free, p)
			}
			return
		}
	}
}

// Rotate retires the current active instance to inflight, commits it,
// and promotes a free (or freshly allocated) instance to active. It
// returns the commit error, if any, from the retired instance.
func (c *Collection) Rotate() error {
	c.mu.Lock()
	retiring := c.active

	var next *pooledInverter
	if len(c.free) > 0 {
		next = c.free[len(c.free)-1]
		c.free = c.free[:len(c.free)-1]
		next.refCount = 0
	} else {
		next = c.newPooled()
	}
	c.active = next

	retiring.refCount++ // pin for the duration of this commit
	c.inflight = append(c.inflight, retiring)
	c.mu.Unlock()

	err := retiring.di.Commit()

	c.mu.Lock()
	c.derefLocked(retiring.di)
	c.mu.Unlock()

	return err
}
