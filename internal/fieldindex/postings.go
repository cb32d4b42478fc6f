package fieldindex

import (
	"sort"

	"github.com/gotextsearch/memindex/internal/feature"
)

// inlinePostingThreshold is the fixed compile-time threshold below
// which a posting list stays a sorted array; at or above it, the list
// is promoted to the tree variant.
const inlinePostingThreshold = 32

// PostingEntry is one (doc, feature-ref[, counters]) pair (§3).
type PostingEntry struct {
	DocID       uint32
	FeatureRef  feature.Ref
	NumOccs     uint16 // only meaningful when the field uses interleaved features
	FieldLength uint16 // only meaningful when the field uses interleaved features
}

// postingTree is the promoted, larger-list variant. Go has no
// standard-library balanced-BST type, so this uses a doc-id keyed map
// for O(1) point membership plus a sorted key cache rebuilt on every
// apply — the idiomatic substitute for an ordered associative
// structure.
type postingTree struct {
	byDoc map[uint32]PostingEntry
	keys  []uint32 // sorted, kept in sync with byDoc
}

func newPostingTree(entries []PostingEntry) *postingTree {
	t := &postingTree{byDoc: make(map[uint32]PostingEntry, len(entries)), keys: make([]uint32, len(entries))}
	for i, e := range entries {
		t.byDoc[e.DocID] = e
		t.keys[i] = e.DocID
	}
	return t
}

func (t *postingTree) sorted() []PostingEntry {
	out := make([]PostingEntry, len(t.keys))
	for i, k := range t.keys {
		out[i] = t.byDoc[k]
	}
	return out
}

// postingList is the shared arena entry for one term's postings (§4.3.2).
type postingList struct {
	promoted bool
	inline   []PostingEntry // sorted by DocID, used when !promoted
	tree     *postingTree   // used when promoted
}

func (p *postingList) entries() []PostingEntry {
	if p == nil {
		return nil
	}
	if p.promoted {
		return p.tree.sorted()
	}
	return p.inline
}

func (p *postingList) len() int {
	if p == nil {
		return 0
	}
	if p.promoted {
		return len(p.tree.keys)
	}
	return len(p.inline)
}

// applyPostings merges adds and removes into cur, returning a fresh
// postingList (copy-on-write: cur is never mutated in place, so a
// concurrent reader already holding it keeps a stable, valid view). A
// remove of an absent doc is a no-op; an add for a doc already present
// replaces its entry.
func applyPostings(cur *postingList, adds, removes []PostingEntry) *postingList {
	existing := cur.entries()

	combined := make(map[uint32]PostingEntry, len(existing)+len(adds))
	for _, e := range existing {
		combined[e.DocID] = e
	}
	for _, r := range removes {
		delete(combined, r.DocID)
	}
	for _, a := range adds {
		combined[a.DocID] = a
	}

	merged := make([]PostingEntry, 0, len(combined))
	for _, e := range combined {
		merged = append(merged, e)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].DocID < merged[j].DocID })

	if len(merged) >= inlinePostingThreshold {
		return &postingList{promoted: true, tree: newPostingTree(merged)}
	}
	return &postingList{promoted: false, inline: merged}
}

// Iterator scans a frozen posting list in ascending doc-id order,
// exposing a Next/DocID/Advance/Cost contract extended with Unpack for
// feature decoding.
type Iterator struct {
	entries []PostingEntry
	pos     int
	store   *feature.Store
	interleaved bool
}

func newIterator(p *postingList, store *feature.Store, interleaved bool) *Iterator {
	return &Iterator{entries: p.entries(), pos: -1, store: store, interleaved: interleaved}
}

// Next advances to the next document, returning false when exhausted.
func (it *Iterator) Next() bool {
	it.pos++
	return it.pos < len(it.entries)
}

// DocID returns the current document id. Valid only after Next returns true.
func (it *Iterator) DocID() uint32 {
	return it.entries[it.pos].DocID
}

// Advance moves to the first document >= target.
func (it *Iterator) Advance(target uint32) bool {
	if it.pos >= 0 && it.pos < len(it.entries) && it.entries[it.pos].DocID >= target {
		return true
	}
	lo := it.pos + 1
	if lo < 0 {
		lo = 0
	}
	idx := sort.Search(len(it.entries)-lo, func(i int) bool {
		return it.entries[lo+i].DocID >= target
	})
	it.pos = lo + idx
	return it.pos < len(it.entries)
}

// Cost estimates the number of remaining documents.
func (it *Iterator) Cost() int64 {
	remaining := len(it.entries) - it.pos - 1
	if remaining < 0 {
		return 0
	}
	return int64(remaining)
}

// Unpack decodes the feature blob at the current position. When the
// field uses interleaved features, occs and fieldLen are also filled.
func (it *Iterator) Unpack() (feature.Features, uint16, uint16, error) {
	e := it.entries[it.pos]
	f, err := it.store.Decode(e.FeatureRef)
	if err != nil {
		return feature.Features{}, 0, 0, err
	}
	if it.interleaved {
		return f, e.NumOccs, e.FieldLength, nil
	}
	return f, 0, 0, nil
}
