// Package blueprint implements §6's query iterator contract: a
// Blueprint names a (field, term) lookup and compiles to an Iterator
// that walks matching documents within an optional [min, max] doc-id
// range, unpacking each match's feature blob on demand.
//
// The Iterator exposes InitRange/Seek/DocID/Unpack/IsStrict/Cost/Release,
// built on fieldindex.Iterator's Advance/DocID/Cost/Unpack; query
// planning and scoring (conjunction/disjunction, bm25 ranking) are out
// of scope and do not survive into this package.
package blueprint

import (
	"github.com/gotextsearch/memindex/internal/feature"
	"github.com/gotextsearch/memindex/internal/fieldindex"
	"github.com/gotextsearch/memindex/internal/reclaim"
)

// Iterator walks one term's matching documents in ascending doc-id
// order within an initialized range. A compiled Iterator holds a
// generation guard (§5) pinning the field index's memory against
// concurrent reclamation; callers MUST call Release once done.
type Iterator interface {
	// InitRange restricts iteration to [minDocID, maxDocID]; it must be
	// called once before the first Seek.
	InitRange(minDocID, maxDocID uint32)
	// Seek advances to the first document >= docID within the
	// initialized range, returning false once exhausted.
	Seek(docID uint32) bool
	// DocID returns the current document. Valid only after Seek
	// returns true.
	DocID() uint32
	// Unpack decodes the current document's feature blob.
	Unpack() (feature.Features, uint16, uint16, error)
	// IsStrict reports whether this iterator only ever stops on exact
	// term matches (true for every iterator this package produces; the
	// method exists so a future fuzzy/wildcard blueprint can report
	// false without changing the interface).
	IsStrict() bool
	// Cost estimates the number of remaining documents.
	Cost() int64
	// Release unpins the generation guard this Iterator was compiled
	// under. Safe to call once; the caller's scan must be complete.
	Release()
}

// Blueprint names a single-term lookup against one field index.
type Blueprint struct {
	idx       *fieldindex.Index
	termBytes []byte
}

// New builds a Blueprint for termBytes against idx.
func New(idx *fieldindex.Index, termBytes []byte) *Blueprint {
	return &Blueprint{idx: idx, termBytes: termBytes}
}

// Compile acquires a generation guard on the backing field index (§5),
// resolves the term against its current dictionary, and returns an
// Iterator, or false if the term is absent. The guard is released
// automatically if the term is absent; otherwise the caller owns it
// via the returned Iterator's Release method.
func (b *Blueprint) Compile() (Iterator, bool) {
	guard := b.idx.AcquireGuard()
	it, ok := b.idx.Iterator(b.termBytes)
	if !ok {
		guard.Release()
		return nil, false
	}
	return &termIterator{inner: it, guard: guard}, true
}

type termIterator struct {
	inner          *fieldindex.Iterator
	guard          reclaim.Guard
	minDoc, maxDoc uint32
	rangeSet       bool
}

func (t *termIterator) InitRange(minDocID, maxDocID uint32) {
	t.minDoc, t.maxDoc = minDocID, maxDocID
	t.rangeSet = true
}

func (t *termIterator) Seek(docID uint32) bool {
	target := docID
	if t.rangeSet && target < t.minDoc {
		target = t.minDoc
	}
	if !t.inner.Advance(target) {
		return false
	}
	if t.rangeSet && t.inner.DocID() > t.maxDoc {
		return false
	}
	return true
}

func (t *termIterator) DocID() uint32 { return t.inner.DocID() }

func (t *termIterator) Unpack() (feature.Features, uint16, uint16, error) {
	return t.inner.Unpack()
}

func (t *termIterator) IsStrict() bool { return true }

func (t *termIterator) Cost() int64 { return t.inner.Cost() }

func (t *termIterator) Release() { t.guard.Release() }
