// Package reclaim implements the per-field generation counter and
// deferred-free reclamation scheme of §5: writers retire memory
// tagged with the generation it was superseded at; a reader pins the
// current generation with a guard (finding an idle slot takes a mutex,
// then one load of the generation plus one store into the slot;
// releasing is a single store); nothing retired at or after the oldest pinned
// generation is ever freed while that guard is held.
//
// The generation-counter-plus-pinning shape is applied here to raw
// in-memory arenas instead of on-disk segment references.
package reclaim

import (
	"sync"
	"sync/atomic"
)

// noGuard marks a slot as not currently pinning any generation.
const noGuard = ^uint64(0)

// minRetainedGenerations bounds how aggressively Reclaim frees memory:
// retirements from the most recent generations are always kept, even
// if no guard currently reports holding them, as a safety margin
// against the inherent race between a reader's generation load and its
// guard-slot store (both relaxed, by design — see Handler.AcquireGuard).
const minRetainedGenerations = 2

// slot is one reader's pinned generation, or noGuard when idle.
type slot struct {
	gen atomic.Uint64
}

// Guard pins a generation for the duration of a read. Callers MUST
// call Release when done.
type Guard struct {
	h    *Handler
	slot *slot
}

// Release unpins the generation this guard held.
func (g Guard) Release() {
	g.slot.gen.Store(noGuard)
}

// Handler is one field's generation counter and reclaimer.
type Handler struct {
	generation atomic.Uint64 // current generation

	slotsMu sync.Mutex // guards the slot list; held while AcquireGuard finds or adds a slot, never during Release
	slots   []*slot

	retireMu sync.Mutex // guards the retired list; off the hot (read) path
	retired  []retirement
}

type retirement struct {
	generation uint64
	free       func()
}

// NewHandler creates a Handler starting at generation 0.
func NewHandler() *Handler {
	return &Handler{}
}

// CurrentGeneration returns the generation value new guards would pin.
func (h *Handler) CurrentGeneration() uint64 {
	return h.generation.Load()
}

// AcquireGuard pins the current generation: it takes slotsMu to find an
// idle slot (or append one), then does one load of the generation and
// one store into the slot. Acquiring is therefore not lock-free.
func (h *Handler) AcquireGuard() Guard {
	s := h.acquireSlot()
	gen := h.generation.Load()
	s.gen.Store(gen)
	return Guard{h: h, slot: s}
}

func (h *Handler) acquireSlot() *slot {
	h.slotsMu.Lock()
	defer h.slotsMu.Unlock()
	for _, s := range h.slots {
		if s.gen.Load() == noGuard {
			return s
		}
	}
	s := &slot{}
	s.gen.Store(noGuard)
	h.slots = append(h.slots, s)
	return s
}

// IncGeneration advances the generation counter and returns the new
// value. Called by the field index's commit step, after flush.
func (h *Handler) IncGeneration() uint64 {
	return h.generation.Add(1)
}

// Retire schedules free to run once no guard can still observe
// generation (i.e. once the oldest pinned generation exceeds it).
func (h *Handler) Retire(generation uint64, free func()) {
	h.retireMu.Lock()
	h.retired = append(h.retired, retirement{generation: generation, free: free})
	h.retireMu.Unlock()
}

// OldestUsedGeneration returns the lowest generation any active guard
// currently pins, or the current generation if none are active.
func (h *Handler) OldestUsedGeneration() uint64 {
	h.slotsMu.Lock()
	defer h.slotsMu.Unlock()

	oldest := h.generation.Load()
	for _, s := range h.slots {
		g := s.gen.Load()
		if g != noGuard && g < oldest {
			oldest = g
		}
	}
	return oldest
}

// Reclaim frees every retirement strictly older than the oldest
// generation any guard currently pins, additionally holding back the
// most recent minRetainedGenerations generations' worth of retirements
// as a safety margin (see the package doc comment).
func (h *Handler) Reclaim() {
	oldest := h.OldestUsedGeneration()
	if cur := h.generation.Load(); cur < minRetainedGenerations {
		oldest = 0
	} else if oldest > cur-minRetainedGenerations {
		oldest = cur - minRetainedGenerations
	}

	h.retireMu.Lock()
	defer h.retireMu.Unlock()

	kept := h.retired[:0]
	for _, r := range h.retired {
		if r.generation < oldest {
			r.free()
		} else {
			kept = append(kept, r)
		}
	}
	h.retired = kept
}
