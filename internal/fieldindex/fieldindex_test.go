package fieldindex

import (
	"testing"

	"github.com/gotextsearch/memindex/internal/feature"
)

func addTerm(t *testing.T, idx *Index, termBytes []byte, docs ...uint32) {
	t.Helper()
	ins := idx.NewInserter()
	if err := ins.SetNextWord(termBytes); err != nil {
		t.Fatal(err)
	}
	for _, d := range docs {
		ins.Add(d, feature.Features{Elements: []feature.Element{{ID: 0, Weight: 1, Length: 1, Positions: []feature.Occurrence{0}}}}, 0, 0)
	}
	if err := ins.Flush(); err != nil {
		t.Fatal(err)
	}
}

func TestIndex_FlushAndIterate(t *testing.T) {
	idx := NewIndex("title", false, feature.DefaultParams())
	addTerm(t, idx, []byte("apple"), 1, 3)
	addTerm(t, idx, []byte("banana"), 2)

	it, ok := idx.Iterator([]byte("apple"))
	if !ok {
		t.Fatal("apple: not found")
	}
	var got []uint32
	for it.Next() {
		got = append(got, it.DocID())
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Errorf("postings = %v, want [1 3]", got)
	}
}

func TestIndex_DictionaryIsStrictlyOrdered(t *testing.T) {
	idx := NewIndex("title", false, feature.DefaultParams())
	addTerm(t, idx, []byte("zebra"), 1)
	addTerm(t, idx, []byte("apple"), 2)
	addTerm(t, idx, []byte("mango"), 3)

	entries := idx.Dict.Frozen()
	var prev []byte
	for i, e := range entries {
		b, err := idx.Terms.Lookup(e.Term)
		if err != nil {
			t.Fatal(err)
		}
		if i > 0 && compareBytesLocal(prev, b) >= 0 {
			t.Errorf("dictionary out of order at %d: %q >= %q", i, prev, b)
		}
		prev = b
	}
}

func TestIndex_RemoveDocument(t *testing.T) {
	idx := NewIndex("title", false, feature.DefaultParams())
	addTerm(t, idx, []byte("apple"), 1, 2)

	if err := idx.Remove(1); err != nil {
		t.Fatal(err)
	}

	it, ok := idx.Iterator([]byte("apple"))
	if !ok {
		t.Fatal("apple: not found")
	}
	var got []uint32
	for it.Next() {
		got = append(got, it.DocID())
	}
	if len(got) != 1 || got[0] != 2 {
		t.Errorf("postings after remove = %v, want [2]", got)
	}
}

func TestIndex_RemoveAbsentDocIsNoOp(t *testing.T) {
	idx := NewIndex("title", false, feature.DefaultParams())
	if err := idx.Remove(999); err != nil {
		t.Errorf("Remove(absent) = %v, want nil", err)
	}
}

func TestIndex_FrozenRejectsMutation(t *testing.T) {
	idx := NewIndex("title", false, feature.DefaultParams())
	addTerm(t, idx, []byte("apple"), 1)
	idx.Freeze()

	ins := idx.NewInserter()
	if err := ins.SetNextWord([]byte("apple")); err != nil {
		t.Fatal(err)
	}
	ins.Add(2, feature.Features{}, 0, 0)
	if err := ins.Flush(); err != ErrFrozen {
		t.Errorf("Flush after Freeze = %v, want ErrFrozen", err)
	}
}

func TestIndex_TermTooLong(t *testing.T) {
	idx := NewIndex("title", false, feature.DefaultParams())
	ins := idx.NewInserter()
	big := make([]byte, MaxTermLength+1)
	if err := ins.SetNextWord(big); err == nil {
		t.Error("SetNextWord(too-long term) = nil error, want ErrTermTooLong")
	}
}

func TestIndex_PromotionToTreeVariant(t *testing.T) {
	idx := NewIndex("title", false, feature.DefaultParams())
	ins := idx.NewInserter()
	if err := ins.SetNextWord([]byte("popular")); err != nil {
		t.Fatal(err)
	}
	for i := uint32(0); i < inlinePostingThreshold+5; i++ {
		ins.Add(i, feature.Features{}, 0, 0)
	}
	if err := ins.Flush(); err != nil {
		t.Fatal(err)
	}

	e, _, ok := idx.Dict.find([]byte("popular"))
	if !ok {
		t.Fatal("popular: not found")
	}
	p := e.loadPostings()
	if !p.promoted {
		t.Error("promoted = false, want true after crossing inlinePostingThreshold")
	}
	if p.len() != inlinePostingThreshold+5 {
		t.Errorf("len = %d, want %d", p.len(), inlinePostingThreshold+5)
	}
}

func TestIndex_CompactPreservesContents(t *testing.T) {
	idx := NewIndex("title", false, feature.DefaultParams())
	addTerm(t, idx, []byte("apple"), 1, 2, 3)

	if err := idx.Compact(); err != nil {
		t.Fatal(err)
	}

	it, ok := idx.Iterator([]byte("apple"))
	if !ok {
		t.Fatal("apple: not found after compact")
	}
	var got []uint32
	for it.Next() {
		got = append(got, it.DocID())
	}
	if len(got) != 3 {
		t.Errorf("postings after compact = %v, want 3 entries", got)
	}
}
