package fieldindex

import "github.com/gotextsearch/memindex/internal/feature"

// Sink receives a full, ordered walk of a field index's contents
// (§4.3.7): one Field call bracketing the whole dump, then one
// Term/EndTerm pair per dictionary entry in ascending term order with
// a Posting call per live document in between, in ascending doc-id
// order.
type Sink interface {
	Field(name string, interleaved bool)
	Term(termBytes []byte)
	Posting(doc uint32, f feature.Features, numOccs, fieldLen uint16)
	EndTerm()
	EndField()
}

// Dump walks the frozen dictionary and streams its contents to sink.
// Safe to call concurrently with reads; callers that want a point-in-
// time view across the whole dump should hold a reclaim.Guard for its
// duration.
func (idx *Index) Dump(sink Sink) error {
	sink.Field(idx.FieldName, idx.Interleaved)
	for _, e := range idx.Dict.Frozen() {
		termBytes, err := idx.Terms.Lookup(e.Term)
		if err != nil {
			return err
		}
		sink.Term(termBytes)
		for _, p := range e.loadPostings().entries() {
			f, err := idx.Features.Decode(p.FeatureRef)
			if err != nil {
				return err
			}
			sink.Posting(p.DocID, f, p.NumOccs, p.FieldLength)
		}
		sink.EndTerm()
	}
	sink.EndField()
	return nil
}
