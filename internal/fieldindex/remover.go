package fieldindex

import (
	"sync"

	"github.com/gotextsearch/memindex/internal/term"
)

// Remover owns the per-document words record of §4.3.5: for every
// live document, the set of term refs currently posted for it in this
// field, so remove(doc) can re-issue a remove for each one without a
// reverse index. Grounded on internal/snapshot/manager.go's segment
// deletion bitmap idea, applied per-document instead of per-segment.
type Remover struct {
	mu      sync.Mutex
	records map[uint32][]term.Ref
}

func newRemover() *Remover {
	return &Remover{records: make(map[uint32][]term.Ref)}
}

func (r *Remover) hasRecord(doc uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.records[doc]
	return ok
}

// takeRecord removes and returns doc's recorded term list, if any.
func (r *Remover) takeRecord(doc uint32) ([]term.Ref, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	terms, ok := r.records[doc]
	delete(r.records, doc)
	return terms, ok
}

func (r *Remover) clear(doc uint32) {
	r.mu.Lock()
	delete(r.records, doc)
	r.mu.Unlock()
}

func (r *Remover) recordAdd(doc uint32, t term.Ref) {
	r.mu.Lock()
	r.records[doc] = append(r.records[doc], t)
	r.mu.Unlock()
}
