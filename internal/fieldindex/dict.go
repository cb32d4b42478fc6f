package fieldindex

import (
	"sort"
	"sync/atomic"

	"github.com/gotextsearch/memindex/internal/term"
)

// dictEntry is one dictionary row: a term and the posting list
// currently published for it. Only the postings pointer is mutated
// after creation (via compare-and-swap-free atomic Store, since the
// inserter is the dictionary's sole writer per §5); the Term/Fingerprint
// fields are fixed at insertion.
type dictEntry struct {
	Term        term.Ref
	Fingerprint uint64 // xxhash.Sum64 of the term bytes, cached by term.Store.Add

	postings atomic.Pointer[postingList]
}

func (e *dictEntry) loadPostings() *postingList {
	return e.postings.Load()
}

func (e *dictEntry) publish(p *postingList) {
	e.postings.Store(p)
}

// Dictionary is the ordered term -> posting-list mapping of §4.3.1. It
// is implemented as a single atomically-published, term-byte-ordered
// slice: readers call Frozen and iterate or binary-search it without
// any lock; the inserter is the sole writer and republishes a new
// slice once per flush, a batch merge rather than a per-term CAS loop.
type Dictionary struct {
	store    *term.Store
	snapshot atomic.Pointer[[]*dictEntry]
}

func newDictionary(store *term.Store) *Dictionary {
	d := &Dictionary{store: store}
	empty := []*dictEntry{}
	d.snapshot.Store(&empty)
	return d
}

// Frozen returns the dictionary's current published snapshot. The
// returned slice and its entries are never mutated in place; it is
// always safe to iterate or binary search over it without further
// synchronization, for as long as the caller holds a reclaim guard.
func (d *Dictionary) Frozen() []*dictEntry {
	return *d.snapshot.Load()
}

func (d *Dictionary) find(termBytes []byte) (*dictEntry, int, bool) {
	entries := d.Frozen()
	idx := sort.Search(len(entries), func(i int) bool {
		b, err := d.store.Lookup(entries[i].Term)
		if err != nil {
			return false
		}
		return compareBytesLocal(b, termBytes) >= 0
	})
	if idx < len(entries) {
		if b, err := d.store.Lookup(entries[idx].Term); err == nil && compareBytesLocal(b, termBytes) == 0 {
			return entries[idx], idx, true
		}
	}
	return nil, idx, false
}

func compareBytesLocal(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// publishMerged replaces the dictionary's snapshot with merged, which
// the caller (the inserter, at the end of a flush) must have already
// produced in strictly ascending term-byte order with no duplicates.
func (d *Dictionary) publishMerged(merged []*dictEntry) {
	d.snapshot.Store(&merged)
}
