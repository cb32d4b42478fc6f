// Package feature implements C2, the append-only bit-packed store of
// per-(term,doc) feature blobs (§4.2). Each field gets its own Store;
// coding parameters are derived once at construction and never mutated
// (the field schema's stable index into a "parameters vector" is just
// the caller holding one *Store per field).
package feature

import (
	"fmt"
	"sync/atomic"
)

// Ref is a 32-bit handle: the high bits select a buffer, the low bits
// are a bit offset within it.
type Ref uint32

// NullRef is never returned by EncodeAndStore.
const NullRef Ref = 0

const (
	bufferIDBits = 8
	bitOffBits   = 32 - bufferIDBits
	bitOffMask   = 1<<bitOffBits - 1
	maxBufferBits = 1 << bitOffBits // 16Mbit == 2MB per buffer
)

func makeRef(bufferID uint32, bitOff uint32) Ref {
	return Ref(bufferID<<bitOffBits | (bitOff & bitOffMask))
}

func (r Ref) split() (bufferID, bitOff uint32) {
	return uint32(r) >> bitOffBits, uint32(r) & bitOffMask
}

// Params are the fixed bit widths used to encode every record in a
// given field's Store. They are derived once from the field schema
// (element-count and occurrence-count ranges) and never mutated.
type Params struct {
	ElementIDBits int
	WeightBits    int
	LengthBits    int
	CountBits     int // width of an element's occurrence count and of a position-delta-width prefix
}

// DefaultParams sizes every field wide enough for realistic documents.
func DefaultParams() Params {
	return Params{ElementIDBits: 16, WeightBits: 32, LengthBits: 16, CountBits: 16}
}

// Occurrence is a single within-element word position.
type Occurrence = uint32

// Element is one element's contribution to a (term, doc) feature blob.
type Element struct {
	ID        uint32
	Weight    uint32
	Length    uint32
	Positions []Occurrence // strictly increasing
}

// Features is the decoded record for one (term, doc) pair.
type Features struct {
	Elements []Element
}

type bitBuffer struct {
	data []byte // len grows as bits are written; capacity fixed at maxBufferBits/8
}

// GuardBits is the padding write_guard_bytes reserves so the decoder's
// bounded over-read past a record's logical end never touches another
// record's bytes or an unmapped page.
const GuardBits = 128

// Store is C2 for a single field.
type Store struct {
	params  Params
	buffers atomic.Pointer[[]*bitBuffer]

	// cur/curID/nextBit are touched only by the single writer thread
	// the executor tag guarantees (§5).
	cur     *bitBuffer
	curID   uint32
	nextBit uint32

	freedBits atomic.Uint64 // bits relocated away from and never reused, see MarkFreed
}

// NewStore creates an empty feature store using params.
func NewStore(params Params) *Store {
	s := &Store{params: params}
	bufs := []*bitBuffer{}
	s.buffers.Store(&bufs)
	return s
}

func (s *Store) rollBuffer() {
	old := *s.buffers.Load()
	b := &bitBuffer{data: make([]byte, maxBufferBits/8)}
	newBufs := make([]*bitBuffer, len(old)+1)
	copy(newBufs, old)
	newBufs[len(old)] = b
	s.buffers.Store(&newBufs)

	s.cur = b
	s.curID = uint32(len(old))
	s.nextBit = 8 // bit offset 0 reserved so no record's Ref equals NullRef
}

func (s *Store) ensureRoom(bits uint32) {
	if s.cur == nil || s.nextBit+bits > maxBufferBits {
		s.rollBuffer()
	}
}

// EncodeAndStore bit-packs f and appends it to the field's writer,
// returning its Ref and bit length.
func (s *Store) EncodeAndStore(f Features) (Ref, uint64) {
	// Worst case size bound: cheap to over-estimate since buffers are
	// pre-sized; a real over-run would only happen with pathological
	// element/position counts, which is a caller error, not something
	// this store needs to defend against (it never reallocates).
	estBits := 8 + len(f.Elements)*(s.params.ElementIDBits+s.params.WeightBits+s.params.LengthBits+s.params.CountBits+s.params.CountBits)
	for _, e := range f.Elements {
		estBits += len(e.Positions) * 32
	}
	s.ensureRoom(uint32(estBits) + GuardBits)

	start := s.nextBit
	w := &bitWriter{buf: s.cur.data, bitPos: s.nextBit}

	w.writeBits(uint64(len(f.Elements)), 8)
	for _, e := range f.Elements {
		w.writeBits(uint64(e.ID), s.params.ElementIDBits)
		w.writeBits(uint64(e.Weight), s.params.WeightBits)
		w.writeBits(uint64(e.Length), s.params.LengthBits)
		w.writeBits(uint64(len(e.Positions)), s.params.CountBits)

		width := 1
		var prev uint32
		deltas := make([]uint32, len(e.Positions))
		for i, p := range e.Positions {
			d := p - prev
			deltas[i] = d
			if n := bitsNeeded(uint64(d)); n > width {
				width = n
			}
			prev = p
		}
		w.writeBits(uint64(width), s.params.CountBits)
		for _, d := range deltas {
			w.writeBits(uint64(d), width)
		}
	}

	s.nextBit = w.bitPos
	return makeRef(s.curID, start), uint64(s.nextBit - start)
}

// WriteGuardBytes reserves GuardBits of zero padding past the current
// write position so that any reference already handed to a reader (or
// about to be published) tolerates the decoder's bounded over-read.
// The inserter calls this before publishing any dictionary mutation
// from the current flush (§4.3.4 step 1).
func (s *Store) WriteGuardBytes() {
	s.ensureRoom(GuardBits)
	s.nextBit += GuardBits
	if uint32(len(s.cur.data))*8 < s.nextBit {
		// data is pre-sized to maxBufferBits/8 bytes, this cannot happen;
		// kept defensive since it would indicate a sizing invariant break.
		panic("feature: guard bytes exceed buffer capacity")
	}
}

func (s *Store) bufferAt(bufferID uint32) (*bitBuffer, error) {
	bufs := *s.buffers.Load()
	if int(bufferID) >= len(bufs) {
		return nil, fmt.Errorf("feature: buffer %d not found", bufferID)
	}
	return bufs[bufferID], nil
}

// BitSize skips over the record at ref and returns its length in bits,
// without allocating a Features value. Used during compaction (§4.3.6).
func (s *Store) BitSize(ref Ref) (uint64, error) {
	bufferID, bitOff := ref.split()
	buf, err := s.bufferAt(bufferID)
	if err != nil {
		return 0, err
	}
	r := &bitReader{buf: buf.data, bitPos: bitOff}
	s.skipRecord(r)
	return uint64(r.bitPos - bitOff), nil
}

func (s *Store) skipRecord(r *bitReader) {
	n := r.readBits(8)
	for i := uint64(0); i < n; i++ {
		r.readBits(s.params.ElementIDBits)
		r.readBits(s.params.WeightBits)
		r.readBits(s.params.LengthBits)
		count := r.readBits(s.params.CountBits)
		width := int(r.readBits(s.params.CountBits))
		for j := uint64(0); j < count; j++ {
			r.readBits(width)
		}
	}
}

// Decode reconstructs the Features record stored at ref.
func (s *Store) Decode(ref Ref) (Features, error) {
	bufferID, bitOff := ref.split()
	buf, err := s.bufferAt(bufferID)
	if err != nil {
		return Features{}, err
	}
	r := &bitReader{buf: buf.data, bitPos: bitOff}

	n := r.readBits(8)
	elems := make([]Element, 0, n)
	for i := uint64(0); i < n; i++ {
		id := r.readBits(s.params.ElementIDBits)
		weight := r.readBits(s.params.WeightBits)
		length := r.readBits(s.params.LengthBits)
		count := r.readBits(s.params.CountBits)
		width := int(r.readBits(s.params.CountBits))

		positions := make([]Occurrence, count)
		var pos uint32
		for j := uint64(0); j < count; j++ {
			d := uint32(r.readBits(width))
			pos += d
			positions[j] = pos
		}
		elems = append(elems, Element{
			ID:        uint32(id),
			Weight:    uint32(weight),
			Length:    uint32(length),
			Positions: positions,
		})
	}
	return Features{Elements: elems}, nil
}

// Relocate copies the bitLen-bit record at ref to a fresh location and
// returns the new Ref. The caller must publish the new reference with
// a release fence before the old location is handed to the reclaimer
// (§4.2, §4.3.6).
func (s *Store) Relocate(ref Ref, bitLen uint64) (Ref, error) {
	bufferID, bitOff := ref.split()
	src, err := s.bufferAt(bufferID)
	if err != nil {
		return NullRef, err
	}

	s.ensureRoom(uint32(bitLen))
	dstStart := s.nextBit
	w := &bitWriter{buf: s.cur.data, bitPos: dstStart}
	r := &bitReader{buf: src.data, bitPos: bitOff}
	for remaining := bitLen; remaining > 0; {
		take := 32
		if uint64(take) > remaining {
			take = int(remaining)
		}
		v := r.readBits(take)
		w.writeBits(v, take)
		remaining -= uint64(take)
	}
	s.nextBit = w.bitPos
	return makeRef(s.curID, dstStart), nil
}

// ReclaimMemory is a no-op at the bit-buffer level: individual records
// are never freed in place, only whole retired buffers would be, and
// this store never retires a buffer short of the field being dropped
// entirely (mirrors term.Store.ReclaimMemory).
func (s *Store) ReclaimMemory(oldestUsedGeneration uint64) {}

// MarkFreed records that a bitLen-bit record at the old location a
// Relocate call moved out of is no longer referenced. The bits
// themselves stay allocated (this store never defragments an
// in-use buffer); the count is reported by FreedBits, and MemoryUsage
// does not subtract it. fieldindex's compaction pass defers this call
// through reclaim.Handler.Retire.
func (s *Store) MarkFreed(bitLen uint64) {
	s.freedBits.Add(bitLen)
}

// MemoryUsage returns the approximate number of bytes held by all
// buffers backing this store.
func (s *Store) MemoryUsage() int64 {
	bufs := *s.buffers.Load()
	var total int64
	for _, b := range bufs {
		total += int64(cap(b.data))
	}
	return total
}

// FreedBits returns the number of bits that compaction has relocated
// away from and marked reclaimable, even though the underlying buffer
// space is never returned to the allocator.
func (s *Store) FreedBits() uint64 {
	return s.freedBits.Load()
}
