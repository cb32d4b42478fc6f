package inverter

import (
	"testing"

	"github.com/gotextsearch/memindex/internal/feature"
	"github.com/gotextsearch/memindex/internal/fieldvalue"
)

// fakeInserter records every call PushDocuments makes, in order, so
// tests can assert on dictionary-order term visitation and per-term
// doc grouping without a real fieldindex.Index.
type fakeInserter struct {
	words   [][]byte
	addDocs map[string][]uint32
	cur     string
	flushed int
}

func newFakeInserter() *fakeInserter {
	return &fakeInserter{addDocs: make(map[string][]uint32)}
}

func (f *fakeInserter) SetNextWord(termBytes []byte) error {
	f.cur = string(termBytes)
	f.words = append(f.words, append([]byte(nil), termBytes...))
	return nil
}

func (f *fakeInserter) Add(doc uint32, feat feature.Features, numOccs, fieldLen uint16) {
	f.addDocs[f.cur] = append(f.addDocs[f.cur], doc)
}

func (f *fakeInserter) Flush() error {
	f.flushed++
	return nil
}

// fakeRemover records every doc PushDocuments asks it to remove, in
// order, standing in for fieldindex.Index.Remove.
type fakeRemover struct {
	removed []uint32
}

func (r *fakeRemover) Remove(doc uint32) error {
	r.removed = append(r.removed, doc)
	return nil
}

// annotatedWords builds a Text whose linguistics tree has one TERM
// annotation per whitespace-separated word in s, since ProcessAnnotations
// relies on an upstream tokenizer to have already populated that tree
// (it only falls back to treating the whole value as one term when no
// linguistics tree is present at all).
func annotatedWords(s string) fieldvalue.Text {
	var anns []fieldvalue.Annotation
	start := -1
	flush := func(end int) {
		if start >= 0 {
			anns = append(anns, fieldvalue.Annotation{
				Type: fieldvalue.AnnotationTerm,
				Span: fieldvalue.Span{Start: start, End: end, Kind: fieldvalue.SimpleSpan},
			})
			start = -1
		}
	}
	for i, c := range s {
		if c == ' ' {
			flush(i)
			continue
		}
		if start < 0 {
			start = i
		}
	}
	flush(len(s))
	return fieldvalue.Text{
		Value: s,
		Trees: []fieldvalue.AnnotationTree{{ID: fieldvalue.LinguisticsTreeID, Annotations: anns}},
	}
}

func TestFieldInverter_PushDocuments_DictionaryOrder(t *testing.T) {
	fi := NewFieldInverter()
	fi.StartDoc(1)
	fi.StartElement(0, 1)
	fi.ProcessAnnotations(annotatedWords("zebra apple mango"))
	fi.EndElement()
	fi.EndDoc()

	ins := newFakeInserter()
	if err := fi.PushDocuments(&fakeRemover{}, ins); err != nil {
		t.Fatal(err)
	}

	want := []string{"apple", "mango", "zebra"}
	if len(ins.words) != len(want) {
		t.Fatalf("words = %v, want %v", ins.words, want)
	}
	for i, w := range want {
		if string(ins.words[i]) != w {
			t.Errorf("word %d = %q, want %q", i, ins.words[i], w)
		}
	}
}

func TestFieldInverter_PushDocuments_GroupsDocsPerTerm(t *testing.T) {
	fi := NewFieldInverter()
	for _, doc := range []uint32{3, 1, 2} {
		fi.StartDoc(doc)
		fi.StartElement(0, 1)
		fi.ProcessAnnotations(annotatedWords("shared"))
		fi.EndElement()
		fi.EndDoc()
	}

	ins := newFakeInserter()
	if err := fi.PushDocuments(&fakeRemover{}, ins); err != nil {
		t.Fatal(err)
	}

	got := ins.addDocs["shared"]
	want := []uint32{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("docs = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("docs[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestFieldInverter_ApplyRemovesBeforeAdds(t *testing.T) {
	fi := NewFieldInverter()
	fi.ApplyRemoves(5)
	fi.ApplyRemoves(6)

	rm := &fakeRemover{}
	ins := newFakeInserter()
	if err := fi.PushDocuments(rm, ins); err != nil {
		t.Fatal(err)
	}
	if len(fi.pendingRemoves) != 0 {
		t.Errorf("pendingRemoves = %v, want drained", fi.pendingRemoves)
	}
	if want := []uint32{5, 6}; len(rm.removed) != len(want) || rm.removed[0] != want[0] || rm.removed[1] != want[1] {
		t.Errorf("removed = %v, want %v", rm.removed, want)
	}
	if ins.flushed == 0 {
		t.Error("Flush was never called")
	}
}

func TestFieldInverter_StartDocQueuesRemoveForOverwrite(t *testing.T) {
	fi := NewFieldInverter()
	fi.StartDoc(9)
	fi.StartElement(0, 1)
	fi.ProcessAnnotations(annotatedWords("hello"))
	fi.EndElement()
	fi.EndDoc()

	rm := &fakeRemover{}
	ins := newFakeInserter()
	if err := fi.PushDocuments(rm, ins); err != nil {
		t.Fatal(err)
	}
	if len(rm.removed) != 1 || rm.removed[0] != 9 {
		t.Errorf("removed = %v, want [9] (every StartDoc queues a remove so overwrite drops the prior version)", rm.removed)
	}
}

func TestFieldInverter_ProcessAnnotations_PositionsIncrementPerSpanNotByteOffset(t *testing.T) {
	fi := NewFieldInverter()
	fi.StartDoc(1)
	fi.StartElement(0, 1)
	fi.ProcessAnnotations(annotatedWords("a a b"))
	fi.EndElement()
	fi.EndDoc()

	byWord := make(map[string][]uint32)
	for i, wb := range fi.wordBytes {
		byWord[string(wb)] = append(byWord[string(wb)], fi.words[i].position)
	}

	wantA := []uint32{0, 1}
	gotA := byWord["a"]
	if len(gotA) != len(wantA) || gotA[0] != wantA[0] || gotA[1] != wantA[1] {
		t.Errorf("positions for \"a\" = %v, want %v", gotA, wantA)
	}
	wantB := []uint32{2}
	gotB := byWord["b"]
	if len(gotB) != 1 || gotB[0] != wantB[0] {
		t.Errorf("positions for \"b\" = %v, want %v", gotB, wantB)
	}
}

func TestFieldInverter_ProcessAnnotations_SkipsCompositeSpans(t *testing.T) {
	fi := NewFieldInverter()
	fi.StartDoc(1)
	fi.StartElement(0, 1)
	text := fieldvalue.Text{
		Value: "alpha beta",
		Trees: []fieldvalue.AnnotationTree{{
			ID: fieldvalue.LinguisticsTreeID,
			Annotations: []fieldvalue.Annotation{
				{Type: fieldvalue.AnnotationTerm, Span: fieldvalue.Span{Start: 0, End: 10, Kind: fieldvalue.CompositeSpan}},
				{Type: fieldvalue.AnnotationTerm, Span: fieldvalue.Span{Start: 0, End: 5, Kind: fieldvalue.SimpleSpan}},
				{Type: fieldvalue.AnnotationTerm, Span: fieldvalue.Span{Start: 6, End: 10, Kind: fieldvalue.SimpleSpan}},
			},
		}},
	}
	fi.ProcessAnnotations(text)
	fi.EndElement()
	fi.EndDoc()

	if len(fi.wordBytes) != 2 {
		t.Fatalf("staged words = %v, want 2 (composite span skipped)", fi.wordBytes)
	}
	if string(fi.wordBytes[0]) != "alpha" || string(fi.wordBytes[1]) != "beta" {
		t.Errorf("staged words = %q, %q, want alpha, beta", fi.wordBytes[0], fi.wordBytes[1])
	}
}

func TestURLInverter_SubStreamFanOut(t *testing.T) {
	u := NewURLInverter()
	u.ProcessURL(1, 0, 1, "https://Example.com:8443/path?q=1#frag")

	assertTerms := func(fi *FieldInverter, want ...string) {
		t.Helper()
		if len(fi.wordBytes) != len(want) {
			t.Fatalf("got %v, want %v", fi.wordBytes, want)
		}
		for i, w := range want {
			if string(fi.wordBytes[i]) != w {
				t.Errorf("token %d = %q, want %q", i, fi.wordBytes[i], w)
			}
		}
	}
	assertTerms(u.Scheme, "https")
	assertTerms(u.Host, "Example", "com")
	assertTerms(u.Port, "8443")
	assertTerms(u.Path, "path")
	assertTerms(u.Query, "q", "1")
	assertTerms(u.Fragment, "frag")
	assertTerms(u.Hostname, string(sentinelBegin), "example.com", string(sentinelEnd))
}

func TestURLInverter_DefaultPortOmitted(t *testing.T) {
	u := NewURLInverter()
	u.ProcessURL(1, 0, 1, "http://example.com:80/p")

	if len(u.Port.wordBytes) != 0 {
		t.Errorf("Port tokens = %v, want none (default port omitted)", u.Port.wordBytes)
	}
	allTokens := make([]string, len(u.All.wordBytes))
	for i, b := range u.All.wordBytes {
		allTokens[i] = string(b)
	}
	for _, tok := range allTokens {
		if tok == "80" {
			t.Errorf("All tokens = %v, must not contain default port", allTokens)
		}
	}
}
