// Package fieldindex implements C3, the per-field inverted index: an
// ordered term dictionary over posting lists, the flush/insert path
// that interns terms and merges postings, the per-document words
// record used to service remove(doc), and feature-blob compaction.
//
// The flush/commit shape mirrors a single-writer-lock buffer that
// republishes atomically; generation/guard wiring is layered on top
// via internal/reclaim.
package fieldindex

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gotextsearch/memindex/internal/feature"
	"github.com/gotextsearch/memindex/internal/reclaim"
	"github.com/gotextsearch/memindex/internal/term"
)

// MaxTermLength bounds a single term's byte length; C4 tokenizers
// should never produce terms anywhere near this, but a pathological
// input must fail cleanly rather than overflow term.Store's offset
// encoding.
const MaxTermLength = 1 << 16

var (
	// ErrFrozen is returned by any mutating call made after Freeze.
	ErrFrozen = errors.New("fieldindex: index is frozen")
	// ErrDuplicateRemoveInfo indicates the per-document words record for
	// a doc was about to be (re)created while an existing record for
	// that doc was still live — a programming error upstream, since
	// every overwrite must issue a remove before new adds (§7).
	ErrDuplicateRemoveInfo = errors.New("fieldindex: duplicate remove info for document")
	// ErrTermTooLong is returned when a term handed to SetNextWord
	// exceeds MaxTermLength.
	ErrTermTooLong = errors.New("fieldindex: term exceeds maximum length")
)

// Index is C3 for a single field: dictionary, backing term and
// feature stores, the per-document words record, and the generation
// handler that guards concurrent reads across commits.
type Index struct {
	FieldName   string
	Interleaved bool

	Terms    *term.Store
	Features *feature.Store
	Dict     *Dictionary
	Handler  *reclaim.Handler

	remover *Remover

	mu     sync.Mutex // serializes flush/commit/compact against each other
	frozen bool
}

// NewIndex creates an empty field index. interleaved selects the
// plain vs. interleaved posting entry variant (§3).
func NewIndex(fieldName string, interleaved bool, featParams feature.Params) *Index {
	terms := term.NewStore()
	return &Index{
		FieldName:   fieldName,
		Interleaved: interleaved,
		Terms:       terms,
		Features:    feature.NewStore(featParams),
		Dict:        newDictionary(terms),
		Handler:     reclaim.NewHandler(),
		remover:     newRemover(),
	}
}

// NewInserter returns a fresh Inserter bound to this index, ready for
// one batch of SetNextWord/Add/Remove/Flush calls (§4.3.4). Callers
// (the document inverter's push stage) create one per flush cycle.
func (idx *Index) NewInserter() *Inserter {
	return &Inserter{idx: idx}
}

// Remove looks up the per-document words record for doc, re-issues a
// remove through a fresh inserter for every recorded term, and deletes
// the record (§4.3.5). A doc with no record is a silent no-op.
func (idx *Index) Remove(doc uint32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.frozen {
		return ErrFrozen
	}

	terms, ok := idx.remover.takeRecord(doc)
	if !ok {
		return nil
	}

	ins := idx.NewInserter()
	for _, t := range terms {
		b, err := idx.Terms.Lookup(t)
		if err != nil {
			return fmt.Errorf("fieldindex: remove doc %d: %w", doc, err)
		}
		if err := ins.SetNextWord(b); err != nil {
			return err
		}
		ins.Remove(doc)
	}
	return ins.flushLocked()
}

// Commit advances the generation counter and reclaims memory no guard
// can still observe (§4.3.4, §5). It does not flush any Inserter:
// callers flush their Inserter first and then call Commit; Commit
// itself performs no dictionary mutation.
func (idx *Index) Commit() {
	idx.mu.Lock()
	idx.Handler.IncGeneration()
	idx.mu.Unlock()
	idx.Handler.Reclaim()
}

// Freeze marks the index read-only; every subsequent mutating call
// returns ErrFrozen (§7).
func (idx *Index) Freeze() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.frozen = true
}

// Frozen reports whether Freeze has been called.
func (idx *Index) Frozen() bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.frozen
}

// AcquireGuard pins this field's current generation: memory the
// reclaimer would otherwise free is held back until the guard is
// released (§5). Callers MUST hold the returned guard for the
// duration of any Iterator built from this Index and Release it when
// done.
func (idx *Index) AcquireGuard() reclaim.Guard {
	return idx.Handler.AcquireGuard()
}

// Iterator returns a posting-list iterator for termBytes, or nil, false
// if the term is absent. Safe to call without holding any lock; the
// caller should hold a reclaim.Guard (see AcquireGuard) for the
// duration of iteration.
func (idx *Index) Iterator(termBytes []byte) (*Iterator, bool) {
	e, _, ok := idx.Dict.find(termBytes)
	if !ok {
		return nil, false
	}
	return newIterator(e.loadPostings(), idx.Features, idx.Interleaved), true
}

// MemoryUsage returns the approximate number of bytes held by this
// field's term store, feature store, and dictionary entries.
func (idx *Index) MemoryUsage() int64 {
	entries := idx.Dict.Frozen()
	dictBytes := int64(len(entries)) * 32 // rough per-entry overhead estimate
	return idx.Terms.MemoryUsage() + idx.Features.MemoryUsage() + dictBytes
}
