// Command demo exercises a memindex.Index end to end: build a schema,
// insert a few documents, commit, and iterate a term's postings —
// enough to show the insert -> commit -> query-iterate path without
// the persistence/HTTP surface the original server command carries.
// It does not call Dump.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/gotextsearch/memindex/internal/fieldvalue"
	"github.com/gotextsearch/memindex/internal/memindex"
	"github.com/gotextsearch/memindex/internal/schema"
)

func main() {
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(*logLevel),
	}))
	slog.SetDefault(logger)

	sch := &schema.Schema{
		Fields: []schema.FieldDef{
			{Name: "title", Collection: schema.Single},
			{Name: "tags", Collection: schema.Array},
		},
	}

	idx, err := memindex.New(context.Background(), sch)
	if err != nil {
		logger.Error("failed to build index", "error", err)
		os.Exit(1)
	}
	defer idx.Close()

	docs := map[uint32]string{
		1: "the quick brown fox",
		2: "the lazy dog sleeps",
		3: "quick thinking wins",
	}
	for id, title := range docs {
		// One TERM annotation per space-separated word; without a
		// linguistics tree the whole title would be indexed as one term.
		var anns []fieldvalue.Annotation
		start := 0
		for _, w := range strings.Fields(title) {
			i := start + strings.Index(title[start:], w)
			anns = append(anns, fieldvalue.Annotation{Type: fieldvalue.AnnotationTerm, Span: fieldvalue.Span{Start: i, End: i + len(w)}})
			start = i + len(w)
		}
		text := fieldvalue.Text{Value: title, Trees: []fieldvalue.AnnotationTree{{ID: fieldvalue.LinguisticsTreeID, Annotations: anns}}}
		values := map[string]fieldvalue.Value{
			"title": fieldvalue.NewSingle(text),
		}
		if err := idx.InsertDocument(id, values); err != nil {
			logger.Error("insert failed", "doc", id, "error", err)
			os.Exit(1)
		}
	}

	if err := idx.Commit(); err != nil {
		logger.Error("commit failed", "error", err)
		os.Exit(1)
	}
	logger.Info("committed", "live_docs", idx.LiveCount())

	bp, err := idx.CreateBlueprint("title", []byte("quick"))
	if err != nil {
		logger.Error("blueprint failed", "error", err)
		os.Exit(1)
	}
	it, ok := bp.Compile()
	if !ok {
		fmt.Println("no matches for \"quick\"")
		return
	}
	defer it.Release()
	it.InitRange(0, ^uint32(0))
	fmt.Println("documents containing \"quick\":")
	for found := it.Seek(0); found; found = it.Seek(it.DocID() + 1) {
		fmt.Printf("  doc %d\n", it.DocID())
	}

	usage := idx.MemoryUsage()
	logger.Info("memory usage", "total_bytes", usage.Total)
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
