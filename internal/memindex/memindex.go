// Package memindex is the top-level facade (§6): it owns one
// fieldindex.Index per schema field (plus one per URI sub-stream), the
// shared E1/E2 executors, the document-inverter pool, and the
// roaring-bitmap-backed live-document set InsertDocument/RemoveDocuments
// maintain.
//
// The facade's lifecycle stages inserts/removes into a buffer, Commit
// flushes and advances the generation, and Freeze stops further writes.
package memindex

import (
	"context"
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring"

	"github.com/gotextsearch/memindex/internal/blueprint"
	"github.com/gotextsearch/memindex/internal/docinverter"
	"github.com/gotextsearch/memindex/internal/executor"
	"github.com/gotextsearch/memindex/internal/feature"
	"github.com/gotextsearch/memindex/internal/fieldindex"
	"github.com/gotextsearch/memindex/internal/fieldvalue"
	"github.com/gotextsearch/memindex/internal/schema"
)

// Index is the facade over a full schema's worth of field indexes.
type Index struct {
	schema *schema.Schema

	plain map[string]*fieldindex.Index
	uri   map[string]map[string]*fieldindex.Index

	invertExec *executor.Executor
	pushExec   *executor.Executor
	docs       *docinverter.Collection

	liveMu sync.Mutex
	live   *roaring.Bitmap

	frozen bool
}

// New builds an Index from sch, allocating one fieldindex.Index per
// plain field and per URI sub-stream.
func New(ctx context.Context, sch *schema.Schema) (*Index, error) {
	if err := sch.Validate(); err != nil {
		return nil, fmt.Errorf("memindex: %w", err)
	}

	idx := &Index{
		schema:     sch,
		plain:      make(map[string]*fieldindex.Index),
		uri:        make(map[string]map[string]*fieldindex.Index),
		invertExec: executor.New(ctx),
		pushExec:   executor.New(ctx),
		live:       roaring.New(),
	}

	for _, f := range sch.Fields {
		if f.IsURIGroup() {
			subs := map[string]*fieldindex.Index{}
			for _, name := range []string{f.URI.All, f.URI.Scheme, f.URI.Host, f.URI.Port, f.URI.Path, f.URI.Query, f.URI.Fragment, f.URI.Hostname} {
				subs[name] = fieldindex.NewIndex(name, f.UseInterleavedFeatures, feature.DefaultParams())
			}
			idx.uri[f.Name] = subs
			continue
		}
		idx.plain[f.Name] = fieldindex.NewIndex(f.Name, f.UseInterleavedFeatures, feature.DefaultParams())
	}

	idx.docs = docinverter.NewCollection(sch, docinverter.FieldIndexes{Plain: idx.plain, URI: idx.uri}, idx.invertExec, idx.pushExec)
	return idx, nil
}

// InsertDocument marks doc live and stages its field values for the
// next Commit.
func (idx *Index) InsertDocument(doc uint32, values map[string]fieldvalue.Value) error {
	if idx.Frozen() {
		return fieldindex.ErrFrozen
	}
	idx.liveMu.Lock()
	idx.live.Add(doc)
	idx.liveMu.Unlock()

	di := idx.docs.Acquire()
	defer idx.docs.Release(di)
	return di.InsertDocument(doc, values)
}

// RemoveDocuments marks docs no longer live and stages their removal
// for the next Commit.
func (idx *Index) RemoveDocuments(docs []uint32) error {
	if idx.Frozen() {
		return fieldindex.ErrFrozen
	}
	idx.liveMu.Lock()
	for _, d := range docs {
		idx.live.Remove(d)
	}
	idx.liveMu.Unlock()

	di := idx.docs.Acquire()
	defer idx.docs.Release(di)
	return di.RemoveDocuments(docs)
}

// Commit rotates the document-inverter pool, pushing every staged
// document into its field indexes and advancing their generations.
func (idx *Index) Commit() error {
	return idx.docs.Rotate()
}

// Freeze makes every field index (and this facade) read-only.
func (idx *Index) Freeze() {
	idx.liveMu.Lock()
	idx.frozen = true
	idx.liveMu.Unlock()
	for _, p := range idx.plain {
		p.Freeze()
	}
	for _, subs := range idx.uri {
		for _, p := range subs {
			p.Freeze()
		}
	}
}

// Frozen reports whether Freeze has been called.
func (idx *Index) Frozen() bool {
	idx.liveMu.Lock()
	defer idx.liveMu.Unlock()
	return idx.frozen
}

// IsLive reports whether doc is currently a live document.
func (idx *Index) IsLive(doc uint32) bool {
	idx.liveMu.Lock()
	defer idx.liveMu.Unlock()
	return idx.live.Contains(doc)
}

// LiveCount returns the number of currently live documents.
func (idx *Index) LiveCount() uint64 {
	idx.liveMu.Lock()
	defer idx.liveMu.Unlock()
	return idx.live.GetCardinality()
}

// CreateBlueprint compiles a term lookup against fieldName, which must
// name a plain field; URI sub-streams go through CreateURIBlueprint.
func (idx *Index) CreateBlueprint(fieldName string, termBytes []byte) (*blueprint.Blueprint, error) {
	fi, ok := idx.plain[fieldName]
	if !ok {
		return nil, fmt.Errorf("memindex: unknown field %q", fieldName)
	}
	return blueprint.New(fi, termBytes), nil
}

// CreateURIBlueprint compiles a term lookup against one sub-stream of
// a URI field group.
func (idx *Index) CreateURIBlueprint(groupName, subName string, termBytes []byte) (*blueprint.Blueprint, error) {
	subs, ok := idx.uri[groupName]
	if !ok {
		return nil, fmt.Errorf("memindex: unknown URI field group %q", groupName)
	}
	fi, ok := subs[subName]
	if !ok {
		return nil, fmt.Errorf("memindex: unknown URI sub-stream %q on %q", subName, groupName)
	}
	return blueprint.New(fi, termBytes), nil
}

// Dump streams every field's dictionary contents to sink, one field at
// a time in schema order.
func (idx *Index) Dump(sink fieldindex.Sink) error {
	for _, f := range idx.schema.Fields {
		if f.IsURIGroup() {
			for _, name := range []string{f.URI.All, f.URI.Scheme, f.URI.Host, f.URI.Port, f.URI.Path, f.URI.Query, f.URI.Fragment, f.URI.Hostname} {
				if err := idx.uri[f.Name][name].Dump(sink); err != nil {
					return err
				}
			}
			continue
		}
		if err := idx.plain[f.Name].Dump(sink); err != nil {
			return err
		}
	}
	return nil
}

// MemoryUsage breaks down the facade's approximate memory footprint by
// field.
type MemoryUsage struct {
	ByField map[string]int64
	Total   int64
}

// MemoryUsage computes the current memory usage breakdown.
func (idx *Index) MemoryUsage() MemoryUsage {
	mu := MemoryUsage{ByField: make(map[string]int64)}
	for name, p := range idx.plain {
		u := p.MemoryUsage()
		mu.ByField[name] = u
		mu.Total += u
	}
	for group, subs := range idx.uri {
		var sum int64
		for _, p := range subs {
			sum += p.MemoryUsage()
		}
		mu.ByField[group] = sum
		mu.Total += sum
	}
	return mu
}

// Close stops the facade's executors.
func (idx *Index) Close() {
	idx.invertExec.Close()
	idx.pushExec.Close()
}
