package fieldindex

// Compact relocates every posting's feature blob to the feature
// store's current buffer and republishes the dictionary with the
// updated refs, then retires the old blobs behind this field's
// generation handler (§4.3.6). It exists to bound the live fraction of
// older feature buffers after many removes/overwrites; callers
// schedule it themselves (it is not implied by Commit).
func (idx *Index) Compact() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.frozen {
		return ErrFrozen
	}

	old := idx.Dict.Frozen()
	gen := idx.Handler.CurrentGeneration()
	merged := make([]*dictEntry, len(old))

	for i, e := range old {
		entries := e.loadPostings().entries()
		relocated := make([]PostingEntry, len(entries))
		for j, p := range entries {
			bitLen, err := idx.Features.BitSize(p.FeatureRef)
			if err != nil {
				return err
			}
			newRef, err := idx.Features.Relocate(p.FeatureRef, bitLen)
			if err != nil {
				return err
			}
			idx.Handler.Retire(gen, func() { idx.Features.MarkFreed(bitLen) })
			p.FeatureRef = newRef
			relocated[j] = p
		}

		ne := &dictEntry{Term: e.Term, Fingerprint: e.Fingerprint}
		if len(relocated) >= inlinePostingThreshold {
			ne.publish(&postingList{promoted: true, tree: newPostingTree(relocated)})
		} else {
			ne.publish(&postingList{promoted: false, inline: relocated})
		}
		merged[i] = ne
	}

	idx.Dict.publishMerged(merged)
	idx.Handler.IncGeneration()
	idx.Handler.Reclaim()
	return nil
}
