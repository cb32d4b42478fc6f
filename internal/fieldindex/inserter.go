package fieldindex

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"

	"github.com/gotextsearch/memindex/internal/feature"
	"github.com/gotextsearch/memindex/internal/term"
)

type termOp struct {
	term    []byte
	adds    []PostingEntry
	removes []PostingEntry
}

// Inserter batches one flush cycle's worth of dictionary mutations
// (§4.3.4): SetNextWord selects the term under construction, Add and
// Remove queue postings against it, and Flush applies the whole batch
// to the dictionary in one atomic publish.
type Inserter struct {
	idx *Index

	cur        termOp
	curStarted bool
	ops        []termOp
}

// SetNextWord finalizes the term currently under construction (if
// any) and starts a new one. termBytes is copied; the caller's buffer
// may be reused immediately after this call returns.
func (ins *Inserter) SetNextWord(termBytes []byte) error {
	if len(termBytes) > MaxTermLength {
		return fmt.Errorf("fieldindex: %w: %d bytes", ErrTermTooLong, len(termBytes))
	}
	ins.finalizeCur()
	ins.cur = termOp{term: append([]byte(nil), termBytes...)}
	ins.curStarted = true
	return nil
}

func (ins *Inserter) finalizeCur() {
	if !ins.curStarted {
		return
	}
	ins.ops = append(ins.ops, ins.cur)
	ins.curStarted = false
}

// Add queues doc's feature blob against the current term. numOccs and
// fieldLen are only meaningful when the field uses interleaved
// features; callers of a non-interleaved field should pass zero.
func (ins *Inserter) Add(doc uint32, f feature.Features, numOccs, fieldLen uint16) {
	ref, _ := ins.idx.Features.EncodeAndStore(f)
	ins.cur.adds = append(ins.cur.adds, PostingEntry{
		DocID:       doc,
		FeatureRef:  ref,
		NumOccs:     numOccs,
		FieldLength: fieldLen,
	})
}

// Remove queues a removal of doc's posting against the current term.
func (ins *Inserter) Remove(doc uint32) {
	ins.cur.removes = append(ins.cur.removes, PostingEntry{DocID: doc})
}

// Flush applies every queued term op to the dictionary in one atomic
// publish and returns. It is idempotent when called with nothing
// queued.
func (ins *Inserter) Flush() error {
	ins.idx.mu.Lock()
	defer ins.idx.mu.Unlock()
	return ins.flushLocked()
}

// flushLocked is Flush's body, callable while idx.mu is already held
// (used by Index.Remove, which builds its own Inserter internally).
func (ins *Inserter) flushLocked() error {
	ins.finalizeCur()
	if ins.idx.frozen {
		return ErrFrozen
	}
	if len(ins.ops) == 0 {
		return nil
	}

	ops := mergeDuplicateOps(ins.ops)
	ins.ops = nil

	// removedDocs accumulates this flush's removed doc ids as a roaring
	// bitmap rather than a plain set: the same batch commonly removes
	// and re-adds overlapping doc ranges, and a compressed bitmap keeps
	// that membership check cheap even for a large batch.
	removedDocs := roaring.New()
	for _, op := range ops {
		for _, r := range op.removes {
			removedDocs.Add(r.DocID)
		}
	}
	for _, op := range ops {
		for _, a := range op.adds {
			if ins.idx.remover.hasRecord(a.DocID) && !removedDocs.Contains(a.DocID) {
				return fmt.Errorf("fieldindex: flush doc %d: %w", a.DocID, ErrDuplicateRemoveInfo)
			}
		}
	}

	// §4.3.4 step 1: guard bytes before any reference derived from this
	// flush's EncodeAndStore calls can be published.
	ins.idx.Features.WriteGuardBytes()

	old := ins.idx.Dict.Frozen()
	merged := make([]*dictEntry, 0, len(old)+len(ops))

	removedIt := removedDocs.Iterator()
	for removedIt.HasNext() {
		ins.idx.remover.clear(removedIt.Next())
	}

	recordOpAdds := func(op termOp, ref term.Ref) {
		for _, a := range op.adds {
			ins.idx.remover.recordAdd(a.DocID, ref)
		}
	}

	oi, ti := 0, 0
	for oi < len(old) || ti < len(ops) {
		switch {
		case ti >= len(ops):
			merged = append(merged, old[oi])
			oi++
		case oi >= len(old):
			e := ins.internNewTerm(ops[ti])
			recordOpAdds(ops[ti], e.Term)
			merged = append(merged, e)
			ti++
		default:
			oldBytes, err := ins.idx.Terms.Lookup(old[oi].Term)
			if err != nil {
				return err
			}
			switch cmp := compareBytesLocal(oldBytes, ops[ti].term); {
			case cmp < 0:
				merged = append(merged, old[oi])
				oi++
			case cmp > 0:
				e := ins.internNewTerm(ops[ti])
				recordOpAdds(ops[ti], e.Term)
				merged = append(merged, e)
				ti++
			default:
				e := &dictEntry{Term: old[oi].Term, Fingerprint: old[oi].Fingerprint}
				e.publish(applyPostings(old[oi].loadPostings(), ops[ti].adds, ops[ti].removes))
				recordOpAdds(ops[ti], e.Term)
				merged = append(merged, e)
				oi++
				ti++
			}
		}
	}

	ins.idx.Dict.publishMerged(merged)
	return nil
}

func (ins *Inserter) internNewTerm(op termOp) *dictEntry {
	ref, fp := ins.idx.Terms.Add(op.term)
	e := &dictEntry{Term: ref, Fingerprint: fp}
	e.publish(applyPostings(nil, op.adds, op.removes))
	return e
}

// mergeDuplicateOps combines all termOps sharing the same term bytes,
// whether or not they are adjacent (e.g. a single push batch touching the same term for several
// documents via repeated SetNextWord calls) before the dictionary
// merge, and sorts the batch by term bytes as the dictionary requires.
func mergeDuplicateOps(ops []termOp) []termOp {
	bucket := make(map[string]*termOp, len(ops))
	order := make([]string, 0, len(ops))
	for _, op := range ops {
		key := string(op.term)
		if b, ok := bucket[key]; ok {
			b.adds = append(b.adds, op.adds...)
			b.removes = append(b.removes, op.removes...)
			continue
		}
		cp := op
		bucket[key] = &cp
		order = append(order, key)
	}
	out := make([]termOp, 0, len(order))
	for _, k := range order {
		out = append(out, *bucket[k])
	}
	sortTermOps(out)
	return out
}

func sortTermOps(ops []termOp) {
	for i := 1; i < len(ops); i++ {
		for j := i; j > 0 && compareBytesLocal(ops[j-1].term, ops[j].term) > 0; j-- {
			ops[j-1], ops[j] = ops[j], ops[j-1]
		}
	}
}
