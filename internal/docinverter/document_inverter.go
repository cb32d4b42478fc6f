// Package docinverter implements C5: it fans a document's field values
// out to the per-field C4 inverters on the invert executor (E1), then
// pushes each field's staged batch into its fieldindex.Index on the
// push executor (E2), mirroring §5's two-stage pipeline. A
// Collection (pool.go) pools instances across commit cycles so a
// caller never blocks on allocation while a previous cycle's push is
// still draining.
//
// The flush-then-advance phased shape is retargeted at the two
// executors instead of a single commit goroutine.
package docinverter

import (
	"context"
	"errors"
	"sync"

	"github.com/gotextsearch/memindex/internal/executor"
	"github.com/gotextsearch/memindex/internal/fieldindex"
	"github.com/gotextsearch/memindex/internal/fieldvalue"
	"github.com/gotextsearch/memindex/internal/inverter"
	"github.com/gotextsearch/memindex/internal/schema"
)

// FieldIndexes resolves a schema field name to the fieldindex.Index
// objects that back it: one Index for a plain field, or one per
// sub-stream (keyed by the schema-assigned sub-field name) for a URI
// field group.
type FieldIndexes struct {
	Plain map[string]*fieldindex.Index
	URI   map[string]map[string]*fieldindex.Index
}

// DocumentInverter is C5 for one schema over a fixed set of field
// indexes, with its own invert/push staging state.
type DocumentInverter struct {
	schema  *schema.Schema
	indexes FieldIndexes

	plainInv map[string]*inverter.FieldInverter
	uriInv   map[string]*inverter.URLInverter

	invertExec *executor.Executor // E1
	pushExec   *executor.Executor // E2

	errMu sync.Mutex
	errs  []error
}

// New builds a DocumentInverter for sch, backed by indexes, sharing
// the given invert/push executors with every other DocumentInverter in
// the same DocumentInverterCollection (executors are tag-serialized
// per field, not per inverter instance).
func New(sch *schema.Schema, indexes FieldIndexes, invertExec, pushExec *executor.Executor) *DocumentInverter {
	di := &DocumentInverter{
		schema:     sch,
		indexes:    indexes,
		plainInv:   make(map[string]*inverter.FieldInverter),
		uriInv:     make(map[string]*inverter.URLInverter),
		invertExec: invertExec,
		pushExec:   pushExec,
	}
	for _, f := range sch.Fields {
		if f.IsURIGroup() {
			di.uriInv[f.Name] = inverter.NewURLInverter()
		} else {
			di.plainInv[f.Name] = inverter.NewFieldInverter()
		}
	}
	return di
}

func (di *DocumentInverter) tagFor(fieldName string) uint32 {
	id := di.schema.FieldID(fieldName)
	if id < 0 {
		return 0
	}
	return uint32(id)
}

func (di *DocumentInverter) recordErr(err error) {
	if err == nil {
		return
	}
	di.errMu.Lock()
	di.errs = append(di.errs, err)
	di.errMu.Unlock()
}

func (di *DocumentInverter) drainErrs() error {
	di.errMu.Lock()
	defer di.errMu.Unlock()
	err := errors.Join(di.errs...)
	di.errs = nil
	return err
}

// InsertDocument stages doc's field values on E1, one task per
// populated schema field, and returns once every field's staging task
// has completed. Fields absent from values are left untouched.
func (di *DocumentInverter) InsertDocument(doc uint32, values map[string]fieldvalue.Value) error {
	for _, f := range di.schema.Fields {
		v, ok := values[f.Name]
		if !ok {
			continue
		}
		field := f
		val := v
		di.invertExec.Execute(di.tagFor(field.Name), func(ctx context.Context) {
			di.stageField(doc, field, val)
		})
	}
	di.invertExec.SyncAll()
	return di.drainErrs()
}

func (di *DocumentInverter) stageField(doc uint32, field schema.FieldDef, v fieldvalue.Value) {
	if field.IsURIGroup() {
		di.stageURLField(doc, field, v)
		return
	}
	if err := fieldvalue.Validate(v, fieldvalue.Kind(field.Collection)); err != nil {
		di.recordErr(err)
		return
	}
	fi := di.plainInv[field.Name]
	fi.StartDoc(doc)
	switch v.Kind {
	case fieldvalue.KindSingle:
		fi.StartElement(0, 1)
		fi.ProcessAnnotations(v.Single)
		fi.EndElement()
	case fieldvalue.KindArray:
		for i, t := range v.Array {
			fi.StartElement(uint32(i), 1)
			fi.ProcessAnnotations(t)
			fi.EndElement()
		}
	case fieldvalue.KindWeightedSet:
		for i, wt := range v.WeightedSet {
			fi.StartElement(uint32(i), wt.Weight)
			fi.ProcessAnnotations(wt.Text)
			fi.EndElement()
		}
	}
	fi.EndDoc()
}

func (di *DocumentInverter) stageURLField(doc uint32, field schema.FieldDef, v fieldvalue.Value) {
	if err := fieldvalue.Validate(v, fieldvalue.Kind(field.Collection)); err != nil {
		di.recordErr(err)
		return
	}
	ui := di.uriInv[field.Name]
	switch v.Kind {
	case fieldvalue.KindSingle:
		ui.ProcessURL(doc, 0, 1, v.Single.Value)
	case fieldvalue.KindArray:
		for i, t := range v.Array {
			ui.ProcessURL(doc, uint32(i), 1, t.Value)
		}
	case fieldvalue.KindWeightedSet:
		for i, wt := range v.WeightedSet {
			ui.ProcessURL(doc, uint32(i), wt.Weight, wt.Text.Value)
		}
	}
}

// RemoveDocuments stages removal of docs from every field on E1.
func (di *DocumentInverter) RemoveDocuments(docs []uint32) error {
	for _, f := range di.schema.Fields {
		field := f
		di.invertExec.Execute(di.tagFor(field.Name), func(ctx context.Context) {
			if field.IsURIGroup() {
				ui := di.uriInv[field.Name]
				for _, d := range docs {
					ui.All.ApplyRemoves(d)
					ui.Scheme.ApplyRemoves(d)
					ui.Host.ApplyRemoves(d)
					ui.Port.ApplyRemoves(d)
					ui.Path.ApplyRemoves(d)
					ui.Query.ApplyRemoves(d)
					ui.Fragment.ApplyRemoves(d)
					ui.Hostname.ApplyRemoves(d)
				}
				return
			}
			fi := di.plainInv[field.Name]
			for _, d := range docs {
				fi.ApplyRemoves(d)
			}
		})
	}
	di.invertExec.SyncAll()
	return di.drainErrs()
}

// Push pushes every field's staged batch into its field index on E2
// and waits for all of them to land.
func (di *DocumentInverter) Push() error {
	for _, f := range di.schema.Fields {
		field := f
		tag := di.tagFor(field.Name)
		if field.IsURIGroup() {
			ui := di.uriInv[field.Name]
			subIdx := di.indexes.URI[field.Name]
			di.pushExec.Execute(tag, func(ctx context.Context) {
				err := ui.PushAll(*field.URI, func(subname string, fi *inverter.FieldInverter) error {
					idx, ok := subIdx[subname]
					if !ok {
						return nil
					}
					return fi.PushDocuments(idx, idx.NewInserter())
				})
				di.recordErr(err)
			})
			continue
		}
		fi := di.plainInv[field.Name]
		idx := di.indexes.Plain[field.Name]
		di.pushExec.Execute(tag, func(ctx context.Context) {
			di.recordErr(fi.PushDocuments(idx, idx.NewInserter()))
		})
	}
	di.pushExec.SyncAll()
	return di.drainErrs()
}

// Commit pushes all staged state, then advances and reclaims every
// backing field index's generation.
func (di *DocumentInverter) Commit() error {
	if err := di.Push(); err != nil {
		return err
	}
	for _, idx := range di.indexes.Plain {
		idx.Commit()
	}
	for _, sub := range di.indexes.URI {
		for _, idx := range sub {
			idx.Commit()
		}
	}
	return nil
}
