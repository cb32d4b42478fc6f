package docinverter

import (
	"context"
	"testing"

	"github.com/gotextsearch/memindex/internal/executor"
	"github.com/gotextsearch/memindex/internal/feature"
	"github.com/gotextsearch/memindex/internal/fieldindex"
	"github.com/gotextsearch/memindex/internal/fieldvalue"
	"github.com/gotextsearch/memindex/internal/schema"
)

func wordsText(words ...string) fieldvalue.Text {
	var anns []fieldvalue.Annotation
	s := ""
	for i, w := range words {
		if i > 0 {
			s += " "
		}
		start := len(s)
		s += w
		anns = append(anns, fieldvalue.Annotation{
			Type: fieldvalue.AnnotationTerm,
			Span: fieldvalue.Span{Start: start, End: start + len(w)},
		})
	}
	return fieldvalue.Text{Value: s, Trees: []fieldvalue.AnnotationTree{{ID: fieldvalue.LinguisticsTreeID, Annotations: anns}}}
}

func testSchema() *schema.Schema {
	return &schema.Schema{
		Fields: []schema.FieldDef{
			{Name: "title", Collection: schema.Single},
			{Name: "tags", Collection: schema.Array},
			{Name: "link", Collection: schema.Single, URI: &schema.URISubfields{
				All: "link_all", Scheme: "link_scheme", Host: "link_host", Port: "link_port",
				Path: "link_path", Query: "link_query", Fragment: "link_fragment", Hostname: "link_hostname",
			}},
		},
	}
}

func newTestCollection(t *testing.T) (*Collection, FieldIndexes, func()) {
	t.Helper()
	sch := testSchema()
	fi := FieldIndexes{
		Plain: map[string]*fieldindex.Index{
			"title": fieldindex.NewIndex("title", false, feature.DefaultParams()),
			"tags":  fieldindex.NewIndex("tags", true, feature.DefaultParams()),
		},
		URI: map[string]map[string]*fieldindex.Index{
			"link": {
				"link_all":      fieldindex.NewIndex("link_all", false, feature.DefaultParams()),
				"link_scheme":   fieldindex.NewIndex("link_scheme", false, feature.DefaultParams()),
				"link_host":     fieldindex.NewIndex("link_host", false, feature.DefaultParams()),
				"link_port":     fieldindex.NewIndex("link_port", false, feature.DefaultParams()),
				"link_path":     fieldindex.NewIndex("link_path", false, feature.DefaultParams()),
				"link_query":    fieldindex.NewIndex("link_query", false, feature.DefaultParams()),
				"link_fragment": fieldindex.NewIndex("link_fragment", false, feature.DefaultParams()),
				"link_hostname": fieldindex.NewIndex("link_hostname", false, feature.DefaultParams()),
			},
		},
	}
	ctx := context.Background()
	invertExec := executor.New(ctx)
	pushExec := executor.New(ctx)
	c := NewCollection(sch, fi, invertExec, pushExec)
	cleanup := func() {
		invertExec.Close()
		pushExec.Close()
	}
	return c, fi, cleanup
}

func TestDocumentInverter_InsertCommitLandsInFieldIndex(t *testing.T) {
	c, fi, cleanup := newTestCollection(t)
	defer cleanup()

	di := c.Acquire()
	err := di.InsertDocument(1, map[string]fieldvalue.Value{
		"title": fieldvalue.NewSingle(wordsText("the", "quick", "fox")),
		"tags":  fieldvalue.NewArray([]fieldvalue.Text{wordsText("red"), wordsText("fast")}),
		"link":  fieldvalue.NewSingle(fieldvalue.Text{Value: "https://example.com/a"}),
	})
	c.Release(di)
	if err != nil {
		t.Fatalf("InsertDocument: %v", err)
	}

	if err := c.Rotate(); err != nil {
		t.Fatalf("Rotate (commit): %v", err)
	}

	it, ok := fi.Plain["title"].Iterator([]byte("quick"))
	if !ok {
		t.Fatal("quick: not found in title index after commit")
	}
	if !it.Next() || it.DocID() != 1 {
		t.Errorf("postings for \"quick\" = missing doc 1")
	}

	it, ok = fi.Plain["tags"].Iterator([]byte("red"))
	if !ok {
		t.Fatal("red: not found in tags index after commit")
	}
	if !it.Next() || it.DocID() != 1 {
		t.Errorf("postings for \"red\" = missing doc 1")
	}

	it, ok = fi.URI["link"]["link_host"].Iterator([]byte("example"))
	if !ok {
		t.Fatal("example: not found in link_host index after commit")
	}
	if !it.Next() || it.DocID() != 1 {
		t.Errorf("postings for link_host \"example\" = missing doc 1")
	}
}

func TestDocumentInverter_RemoveThenReinsert(t *testing.T) {
	c, fi, cleanup := newTestCollection(t)
	defer cleanup()

	di := c.Acquire()
	if err := di.InsertDocument(5, map[string]fieldvalue.Value{
		"title": fieldvalue.NewSingle(wordsText("alpha")),
		"tags":  fieldvalue.NewArray(nil),
		"link":  fieldvalue.NewSingle(fieldvalue.Text{Value: "https://example.com/"}),
	}); err != nil {
		c.Release(di)
		t.Fatalf("insert: %v", err)
	}
	c.Release(di)
	if err := c.Rotate(); err != nil {
		t.Fatalf("commit 1: %v", err)
	}

	di = c.Acquire()
	if err := di.RemoveDocuments([]uint32{5}); err != nil {
		c.Release(di)
		t.Fatalf("remove: %v", err)
	}
	c.Release(di)
	if err := c.Rotate(); err != nil {
		t.Fatalf("commit 2: %v", err)
	}

	di = c.Acquire()
	if err := di.InsertDocument(5, map[string]fieldvalue.Value{
		"title": fieldvalue.NewSingle(wordsText("beta")),
		"tags":  fieldvalue.NewArray(nil),
		"link":  fieldvalue.NewSingle(fieldvalue.Text{Value: "https://example.com/"}),
	}); err != nil {
		c.Release(di)
		t.Fatalf("reinsert: %v", err)
	}
	c.Release(di)
	if err := c.Rotate(); err != nil {
		t.Fatalf("commit 3: %v", err)
	}

	if it, ok := fi.Plain["title"].Iterator([]byte("alpha")); ok && it.Next() {
		t.Error("alpha: still has a posting after remove+reinsert with a different term")
	}

	it, ok := fi.Plain["title"].Iterator([]byte("beta"))
	if !ok {
		t.Fatal("beta: not found after reinsert")
	}
	if !it.Next() || it.DocID() != 5 {
		t.Errorf("postings for \"beta\" = missing doc 5")
	}
}

func TestCollection_RotateReusesFreedInverters(t *testing.T) {
	c, _, cleanup := newTestCollection(t)
	defer cleanup()

	for i := uint32(0); i < 3; i++ {
		di := c.Acquire()
		if err := di.InsertDocument(i, map[string]fieldvalue.Value{
			"title": fieldvalue.NewSingle(wordsText("doc")),
			"tags":  fieldvalue.NewArray(nil),
			"link":  fieldvalue.NewSingle(fieldvalue.Text{Value: "https://example.com/"}),
		}); err != nil {
			c.Release(di)
			t.Fatalf("insert %d: %v", i, err)
		}
		c.Release(di)
		if err := c.Rotate(); err != nil {
			t.Fatalf("rotate %d: %v", i, err)
		}
	}

	c.mu.Lock()
	inflight := len(c.inflight)
	free := len(c.free)
	c.mu.Unlock()
	if inflight != 0 {
		t.Errorf("inflight = %d, want 0 (every commit ran synchronously)", inflight)
	}
	if free == 0 {
		t.Error("free = 0, want at least one retired inverter recycled into the free pool")
	}
}
