// Package term implements C1, the content-addressable store of unique
// term bytes (§4.1). It hands out stable 32-bit references and never
// deduplicates — callers sort their inputs and rely on the field
// index's dictionary (C3) to coalesce identical terms.
package term

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// Ref is a 32-bit handle into a Store: the high bits select a buffer,
// the low bits are a byte offset within it, aligned to alignment so
// that low bits stay free for tagging by callers (§3 Term).
type Ref uint32

// NullRef is never returned by Add; offset 0 of buffer 0 is reserved.
const NullRef Ref = 0

const (
	alignment     = 4
	bufferIDBits  = 8
	offsetBits    = 32 - bufferIDBits
	offsetMask    = 1<<offsetBits - 1
	maxBufferSize = 1 << offsetBits // bytes per buffer before rolling a new one
)

func makeRef(bufferID uint32, offset uint32) Ref {
	return Ref(bufferID<<offsetBits | (offset & offsetMask))
}

func (r Ref) split() (bufferID, offset uint32) {
	return uint32(r) >> offsetBits, uint32(r) & offsetMask
}

type arena struct {
	data []byte
}

// Store is C1. Safe for concurrent Lookup while a single writer calls
// Add: the writer never mutates bytes already published, only appends.
type Store struct {
	buffers atomic.Pointer[[]*arena]

	// cur/curID/next are touched only by the single writer.
	cur   *arena
	curID uint32
	next  uint32
}

// NewStore creates an empty term store.
func NewStore() *Store {
	s := &Store{}
	bufs := []*arena{}
	s.buffers.Store(&bufs)
	return s
}

func alignUp(n uint32) uint32 {
	return (n + alignment - 1) &^ (alignment - 1)
}

// Add appends a fresh copy of bytes and returns its Ref along with a
// 64-bit xxhash fingerprint the caller (the dictionary of C3) can cache
// for cheap inequality short-circuiting before a full byte comparison.
func (s *Store) Add(b []byte) (Ref, uint64) {
	fp := xxhash.Sum64(b)

	recordLen := alignUp(uint32(4 + len(b)))
	if s.cur == nil || s.next+recordLen > maxBufferSize {
		s.rollBuffer()
	}

	offset := s.next
	buf := s.cur.data[:offset+recordLen]
	binary.LittleEndian.PutUint32(buf[offset:], uint32(len(b)))
	copy(buf[offset+4:], b)
	s.next = offset + recordLen
	s.cur.data = buf

	return makeRef(s.curID, offset), fp
}

func (s *Store) rollBuffer() {
	old := *s.buffers.Load()
	a := &arena{data: make([]byte, alignment, maxBufferSize)}
	newBufs := make([]*arena, len(old)+1)
	copy(newBufs, old)
	newBufs[len(old)] = a
	s.buffers.Store(&newBufs)

	s.cur = a
	s.curID = uint32(len(old))
	s.next = alignment // offset 0 reserved as sentinel
}

// Lookup returns a borrowed view of the bytes for ref, valid until the
// underlying buffer is reclaimed. Constant time.
func (s *Store) Lookup(ref Ref) ([]byte, error) {
	if ref == NullRef {
		return nil, fmt.Errorf("term: lookup of NullRef")
	}
	bufID, offset := ref.split()
	bufs := *s.buffers.Load()
	if int(bufID) >= len(bufs) {
		return nil, fmt.Errorf("term: buffer %d not found", bufID)
	}
	data := bufs[bufID].data
	if uint64(offset)+4 > uint64(len(data)) {
		return nil, fmt.Errorf("term: offset %d out of range", offset)
	}
	n := binary.LittleEndian.Uint32(data[offset:])
	start := offset + 4
	end := uint64(start) + uint64(n)
	if end > uint64(len(data)) {
		return nil, fmt.Errorf("term: record at offset %d truncated", offset)
	}
	return data[start:end], nil
}

// Compare orders a against the bytes stored at ref by the bytes
// themselves, as the dictionary of C3 requires.
func (s *Store) Compare(a []byte, ref Ref) (int, error) {
	b, err := s.Lookup(ref)
	if err != nil {
		return 0, err
	}
	return compareBytes(a, b), nil
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

// ReclaimMemory is a no-op: term bytes are never rewritten or relocated
// in place (only C2 feature blobs are, via compaction), so nothing
// retired by generation needs freeing here.
func (s *Store) ReclaimMemory(oldestUsedGeneration uint64) {}

// MemoryUsage returns the approximate number of bytes held across all
// buffers, for the facade's memory_usage breakdown.
func (s *Store) MemoryUsage() int64 {
	bufs := *s.buffers.Load()
	var total int64
	for _, a := range bufs {
		total += int64(cap(a.data))
	}
	return total
}
