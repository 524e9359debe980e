// Package block implements packed sequence storage, translation, and
// masking for one unit of search work. Sequences live in a single
// sentinel-bracketed byte arena with an offset table rather than
// per-sequence heap allocations, so the hot path never allocates per
// sequence.
package block

import (
	"fmt"
	"sort"

	"github.com/alignkit/alignkit/internal/alphabet"
)

// SequenceSet is a packed concatenation of sequences, each bracketed by a
// sentinel byte, with a position table such that
// offset[i+1]-offset[i]-1 == length(i).
type SequenceSet struct {
	arena  []byte
	offset []uint64 // len == N+1
}

// NewSequenceSet builds an empty, appendable SequenceSet.
func NewSequenceSet() *SequenceSet {
	return &SequenceSet{offset: []uint64{1}}
}

// Append adds one sequence's residues (without sentinels) to the set and
// returns its index.
func (s *SequenceSet) Append(residues []byte) (int, error) {
	if len(residues) == 0 {
		return 0, fmt.Errorf("block: zero-length sequence rejected at load time")
	}
	if len(s.arena) == 0 {
		s.arena = append(s.arena, byte(alphabet.Sentinel))
	}
	s.arena = append(s.arena, residues...)
	s.arena = append(s.arena, byte(alphabet.Sentinel))
	idx := len(s.offset) - 1
	s.offset = append(s.offset, uint64(len(s.arena)))
	return idx, nil
}

// Len returns the number of sequences in the set.
func (s *SequenceSet) Len() int { return len(s.offset) - 1 }

// RawLen returns the total arena length including sentinels, i.e. the raw
// length that decides whether hit offsets are stored as 32 or 64 bits.
func (s *SequenceSet) RawLen() uint64 {
	if len(s.arena) == 0 {
		return 0
	}
	return uint64(len(s.arena))
}

// Uses32BitOffsets reports whether RawLen fits in 32 bits, which decides
// the width of subject locations in the hit record layout.
func (s *SequenceSet) Uses32BitOffsets() bool {
	return s.RawLen() <= (1 << 32)
}

// SequenceLen returns the length of sequence i, excluding sentinels.
func (s *SequenceSet) SequenceLen(i int) int {
	return int(s.offset[i+1] - s.offset[i] - 1)
}

// Sequence returns a read-only view of the residues of sequence i (no
// sentinels included). The returned slice aliases the arena; it is never
// owned by the caller.
func (s *SequenceSet) Sequence(i int) []byte {
	start := s.offset[i]
	end := s.offset[i+1] - 1
	return s.arena[start:end]
}

// Arena returns the raw packed byte arena backing this set, sentinels
// included. The seed index scans this directly rather than
// sequence-by-sequence, since a seed may be enumerated at any arena offset
// and the index only needs to map matches back via Locate.
func (s *SequenceSet) Arena() []byte { return s.arena }

// Locate maps an arena offset back to the sequence owning it and the
// 0-based residue position within that sequence, used by the seed matcher
// to translate a raw seed position into a (sequence, offset) pair. ok is
// false when arenaOffset lands on a sentinel byte rather than a residue.
func (s *SequenceSet) Locate(arenaOffset int) (seqIdx, pos int, ok bool) {
	off := uint64(arenaOffset)
	n := s.Len()
	i := sort.Search(n, func(i int) bool { return s.offset[i+1] > off })
	if i >= n {
		return 0, 0, false
	}
	start := s.offset[i]
	end := s.offset[i+1] - 1
	if off < start || off >= end {
		return 0, 0, false
	}
	return i, int(off - start), true
}

// Bracket returns the byte immediately before and after sequence i; both
// must equal alphabet.Sentinel.
func (s *SequenceSet) Bracket(i int) (before, after byte) {
	start := s.offset[i]
	end := s.offset[i+1]
	return s.arena[start-1], s.arena[end-1]
}

// checkInvariants validates the offset table matches the arena layout.
func (s *SequenceSet) checkInvariants() error {
	sum := uint64(0)
	if len(s.arena) > 0 {
		sum = 1 // leading sentinel shared with sequence 0's opening bracket
	}
	for i := 0; i < s.Len(); i++ {
		l := s.SequenceLen(i)
		sum += uint64(l) + 1 // + trailing sentinel for this sequence
		before, after := s.Bracket(i)
		if before != byte(alphabet.Sentinel) || after != byte(alphabet.Sentinel) {
			return fmt.Errorf("block: sequence %d missing sentinel bracket", i)
		}
	}
	if sum != s.RawLen() {
		return fmt.Errorf("block: raw length mismatch: arena=%d accounted=%d", s.RawLen(), sum)
	}
	return nil
}

// StringSet is a packed concatenation of titles separated by NUL bytes,
// shaped like SequenceSet but for text.
type StringSet struct {
	arena  []byte
	offset []uint64
}

// NewStringSet builds an empty, appendable StringSet.
func NewStringSet() *StringSet { return &StringSet{offset: []uint64{0}} }

// Append adds a title and returns its index.
func (s *StringSet) Append(title string) int {
	s.arena = append(s.arena, title...)
	s.arena = append(s.arena, 0)
	idx := len(s.offset) - 1
	s.offset = append(s.offset, uint64(len(s.arena)))
	return idx
}

// Len returns the number of titles.
func (s *StringSet) Len() int { return len(s.offset) - 1 }

// Get returns title i without its NUL terminator.
func (s *StringSet) Get(i int) string {
	start := s.offset[i]
	end := s.offset[i+1] - 1
	return string(s.arena[start:end])
}
