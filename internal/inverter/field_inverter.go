// Package inverter implements C4, the per-document-per-field
// tokenizer/staging stage: it walks a field value's annotation tree,
// accumulates (word, element, position) triples into per-document
// staging buffers, sorts them into dictionary order, and pushes the
// batch into a fieldindex.Index through an Inserter.
//
// The staging shape is plain maps/slices filled incrementally and
// flushed as a batch, generalized into ordered word/position arrays.
package inverter

import (
	"sort"

	"github.com/gotextsearch/memindex/internal/feature"
	"github.com/gotextsearch/memindex/internal/fieldvalue"
)

// word is one staged (term, element, position) triple awaiting sort
// and push. Its term bytes live in the parallel wordBytes arena at the
// same index, kept separate from this fixed-size record so sorting
// only ever swaps small records, never the variable-length term bytes
// themselves (§9 Open Questions).
type word struct {
	docID       uint32
	elemID      uint32
	elemWt      uint32
	elemLen     uint32 // patched at EndElement: word count of this element
	docFieldLen uint32 // patched at EndDoc: word count of the whole field for this doc
	position    uint32
}

// FieldInverter accumulates one flush cycle's worth of a single
// field's documents before pushing them into the field index in
// dictionary order.
type FieldInverter struct {
	wordBytes [][]byte // parallel to words: wordBytes[i] is words[i]'s term
	words     []word

	pendingRemoves []uint32 // doc ids queued for removal this cycle

	curDoc        uint32
	curDocOpen    bool
	curDocStart   int
	curElemID     uint32
	curElemWt     uint32
	curElemOpen   bool
	curElemStart  int
}

// NewFieldInverter returns an empty inverter ready for one flush cycle.
func NewFieldInverter() *FieldInverter {
	return &FieldInverter{}
}

// StartDoc begins staging terms for doc. Any value already staged for
// doc in this cycle remains staged alongside it (multi-element
// documents call StartElement/EndElement repeatedly between StartDoc
// and EndDoc). Every StartDoc also queues doc for removal (§4.4 step 1:
// "so that a later push first deletes any prior version"), exactly as
// ApplyRemoves does for an explicit remove-without-reinsert.
func (fi *FieldInverter) StartDoc(doc uint32) {
	fi.curDoc = doc
	fi.curDocOpen = true
	fi.curDocStart = len(fi.words)
	fi.pendingRemoves = append(fi.pendingRemoves, doc)
}

// EndDoc closes staging for the current document and patches the
// field-length statistic (the total word count across every element
// staged for doc since StartDoc) back into every word staged for it,
// mirroring §4.4 step 3.
func (fi *FieldInverter) EndDoc() {
	fi.curDocOpen = false
	total := uint32(len(fi.words) - fi.curDocStart)
	for i := fi.curDocStart; i < len(fi.words); i++ {
		fi.words[i].docFieldLen = total
	}
}

// StartElement begins one array/weighted-set element (elemID, weight)
// within the current document. Single-valued fields call this once
// per document with elemID 0.
func (fi *FieldInverter) StartElement(elemID uint32, weight uint32) {
	fi.curElemID = elemID
	fi.curElemWt = weight
	fi.curElemOpen = true
	fi.curElemStart = len(fi.words)
}

// EndElement closes the current element and patches its length (the
// number of words staged since StartElement) back into every word
// staged for it.
func (fi *FieldInverter) EndElement() {
	fi.curElemOpen = false
	elemLen := uint32(len(fi.words) - fi.curElemStart)
	for i := fi.curElemStart; i < len(fi.words); i++ {
		fi.words[i].elemLen = elemLen
	}
}

// ProcessAnnotations walks text's linguistics annotation tree (falling
// back to treating the whole text as a single unannotated term when
// none is present) and stages one word per TERM annotation whose span
// is a simple span; composite spans are skipped. Annotations are
// sorted by span before staging, and the staged position is a counter
// that advances once per unique span (not the span's byte offset): two
// annotations sharing a span share a position, matching §4.4.1.
func (fi *FieldInverter) ProcessAnnotations(text fieldvalue.Text) {
	tree, ok := fieldvalue.Linguistics(text.Trees)
	if !ok {
		if len(text.Value) > 0 {
			fi.stageTerm([]byte(text.Value), 0)
		}
		return
	}

	type termAnn struct {
		span fieldvalue.Span
		ann  fieldvalue.Annotation
	}
	var terms []termAnn
	for _, ann := range tree.Annotations {
		if ann.Type != fieldvalue.AnnotationTerm {
			continue
		}
		if ann.Span.Kind == fieldvalue.CompositeSpan {
			continue
		}
		terms = append(terms, termAnn{span: ann.Span, ann: ann})
	}
	sort.SliceStable(terms, func(i, j int) bool {
		if terms[i].span.Start != terms[j].span.Start {
			return terms[i].span.Start < terms[j].span.Start
		}
		return terms[i].span.End < terms[j].span.End
	})

	position := uint32(0)
	for i := 0; i < len(terms); {
		j := i + 1
		for j < len(terms) && terms[j].span == terms[i].span {
			j++
		}
		for _, ta := range terms[i:j] {
			ann := ta.ann
			var termBytes []byte
			if ann.HasValue {
				termBytes = []byte(ann.Value)
			} else {
				s, e := ann.Span.Start, ann.Span.End
				if s < 0 || e > len(text.Value) || s > e {
					continue
				}
				termBytes = []byte(text.Value[s:e])
			}
			fi.stageTerm(termBytes, position)
		}
		position++
		i = j
	}
}

func (fi *FieldInverter) stageTerm(termBytes []byte, position uint32) {
	fi.wordBytes = append(fi.wordBytes, termBytes)
	fi.words = append(fi.words, word{
		docID:    fi.curDoc,
		elemID:   fi.curElemID,
		elemWt:   fi.curElemWt,
		position: position,
	})
}

// ApplyRemoves queues doc for removal from the field index on the next
// PushDocuments call. Per §4.4, removes must be issued (and applied)
// before the corresponding batch's new adds are pushed.
func (fi *FieldInverter) ApplyRemoves(doc uint32) {
	fi.pendingRemoves = append(fi.pendingRemoves, doc)
}

// inserter is the minimal surface FieldInverter needs from
// fieldindex.Inserter, kept narrow so tests can supply a fake.
type inserter interface {
	SetNextWord(termBytes []byte) error
	Add(doc uint32, f feature.Features, numOccs, fieldLen uint16)
	Flush() error
}

// remover is the minimal surface FieldInverter needs from
// fieldindex.Index to apply queued removes: look up the per-document
// words record and reissue a remove per recorded term (§4.3.5).
type remover interface {
	Remove(doc uint32) error
}

// PushDocuments applies every doc queued by StartDoc/ApplyRemoves
// through rm first (§4.4 step 1: a remove must land before the
// corresponding batch's adds are pushed, so an overwrite's stale terms
// never survive alongside the new ones), then sorts all terms staged
// since the last call into dictionary order (radix bucket on the
// leading byte, then a byte comparison within each bucket, per §4.4),
// groups positions into per-(doc,element) feature records, and pushes
// them through ins in one flush.
func (fi *FieldInverter) PushDocuments(rm remover, ins inserter) error {
	for _, doc := range fi.pendingRemoves {
		if err := rm.Remove(doc); err != nil {
			return err
		}
	}
	fi.pendingRemoves = nil

	order := make([]int, len(fi.words))
	for i := range order {
		order[i] = i
	}
	radixSortByTerm(order, fi.wordBytes)

	groups := groupByTerm(order, fi.wordBytes)
	for _, g := range groups {
		if err := ins.SetNextWord(fi.wordBytes[g.words[0]]); err != nil {
			return err
		}
		for _, docGroup := range groupByDoc(g.words, fi.words) {
			f := buildFeatures(docGroup, fi.words)
			fieldLen := fi.words[docGroup[0]].docFieldLen
			ins.Add(fi.words[docGroup[0]].docID, f, saturateU16(uint32(len(docGroup))), saturateU16(fieldLen))
		}
	}

	fi.words = nil
	fi.wordBytes = nil
	return ins.Flush()
}

// saturateU16 clamps v to uint16's range, matching the two interleaved
// posting counters' saturating-at-u16::MAX contract (§9 Design Notes).
func saturateU16(v uint32) uint16 {
	if v > 0xFFFF {
		return 0xFFFF
	}
	return uint16(v)
}

type termGroup struct {
	words []int // indexes into fi.words/fi.wordBytes, in staging order (groupByDoc sorts by docID)
}

// radixSortByTerm buckets indices by their term's leading byte (257
// buckets: empty terms first, then 0x00-0xFF), then sorts within each
// bucket by full byte comparison — a radix pass to cut down the
// comparison sort's effective range, followed by the comparison pass
// proper, matching the two-stage scheme §4.4 describes.
func radixSortByTerm(order []int, bytesOf [][]byte) {
	var buckets [257][]int
	for _, idx := range order {
		b := bytesOf[idx]
		if len(b) == 0 {
			buckets[0] = append(buckets[0], idx)
			continue
		}
		buckets[1+int(b[0])] = append(buckets[1+int(b[0])], idx)
	}

	pos := 0
	for _, bucket := range buckets {
		if len(bucket) == 0 {
			continue
		}
		sort.SliceStable(bucket, func(i, j int) bool {
			return compareBytes(bytesOf[bucket[i]], bytesOf[bucket[j]]) < 0
		})
		copy(order[pos:], bucket)
		pos += len(bucket)
	}
}

func compareBytes(a, b []byte) int {
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

func groupByTerm(order []int, bytesOf [][]byte) []termGroup {
	var groups []termGroup
	i := 0
	for i < len(order) {
		j := i + 1
		for j < len(order) && compareBytes(bytesOf[order[i]], bytesOf[order[j]]) == 0 {
			j++
		}
		g := termGroup{words: append([]int(nil), order[i:j]...)}
		groups = append(groups, g)
		i = j
	}
	return groups
}

// groupByDoc partitions idxs (all the same term) into per-document
// runs, sorted by ascending doc id (the field index's posting lists
// require strictly increasing doc ids within one push batch).
func groupByDoc(idxs []int, words []word) [][]int {
	sorted := append([]int(nil), idxs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return words[sorted[i]].docID < words[sorted[j]].docID
	})
	var groups [][]int
	i := 0
	for i < len(sorted) {
		j := i + 1
		for j < len(sorted) && words[sorted[j]].docID == words[sorted[i]].docID {
			j++
		}
		groups = append(groups, sorted[i:j])
		i = j
	}
	return groups
}

// buildFeatures groups a document's staged words by element id and
// emits one feature.Element per group, positions sorted ascending.
func buildFeatures(idxs []int, words []word) feature.Features {
	byElem := make(map[uint32]*feature.Element)
	var order []uint32
	for _, wi := range idxs {
		w := words[wi]
		e, ok := byElem[w.elemID]
		if !ok {
			e = &feature.Element{ID: w.elemID, Weight: w.elemWt, Length: w.elemLen}
			byElem[w.elemID] = e
			order = append(order, w.elemID)
		}
		e.Positions = append(e.Positions, w.position)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	elems := make([]feature.Element, 0, len(order))
	for _, id := range order {
		e := byElem[id]
		sort.Slice(e.Positions, func(i, j int) bool { return e.Positions[i] < e.Positions[j] })
		e.Positions = dedupSorted(e.Positions)
		elems = append(elems, *e)
	}
	return feature.Features{Elements: elems}
}

// dedupSorted coalesces repeated positions in a sorted slice: §4.4
// step 4 requires duplicate positions at the same (doc, element,
// word_pos) to be silently coalesced, which can occur when the same
// term is annotated twice at the same span.
func dedupSorted(positions []feature.Occurrence) []feature.Occurrence {
	if len(positions) < 2 {
		return positions
	}
	out := positions[:1]
	for _, p := range positions[1:] {
		if p != out[len(out)-1] {
			out = append(out, p)
		}
	}
	return out
}
