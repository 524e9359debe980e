// Package hitbuffer implements a sharded, spill-to-disk hit buffer:
// ungapped hits are written concurrently by many workers, bucketed by query
// block, and flushed to Snappy-framed temporary files when a shard's
// in-memory budget is exceeded; the read phase reconstitutes and sorts each
// bin's stream for the chainer.
package hitbuffer

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/golang/snappy"

	"github.com/alignkit/alignkit/internal/ungapped"
)

// Params configures shard count and the in-memory budget per shard before a
// flush to disk is triggered.
type Params struct {
	Shards       int
	BudgetPerBin int // max buffered hits per shard before flushing
	TmpDir       string
	Scores       bool // whether HIT_SCORES is enabled
}

// Buffer is the sharded hit store. One producer goroutine group writes
// concurrently; a shard flushes to its own temp file when it exceeds
// Params.BudgetPerBin, and producers targeting that shard block until the
// flush completes.
type Buffer struct {
	params Params
	shards []*shard
}

type shard struct {
	mu        sync.Mutex
	pending   []ungapped.Hit
	spill     *os.File
	spillPath string
}

// New allocates a Buffer with the given parameters. Shard files are created
// lazily on first flush.
func New(p Params) *Buffer {
	if p.Shards <= 0 {
		p.Shards = 1
	}
	b := &Buffer{params: p, shards: make([]*shard, p.Shards)}
	for i := range b.shards {
		b.shards[i] = &shard{}
	}
	return b
}

func (b *Buffer) binFor(queryBlockID int) int {
	return queryBlockID % b.params.Shards
}

// Push appends a hit to the shard owned by queryBlockID, then flushes that
// shard to disk once it has reached its budget. A hit pushed here is
// guaranteed visible to the read phase regardless of how many flushes occur
// in between. Flushing is synchronous under the
// shard mutex, so a concurrent Push to the same shard naturally blocks for
// the duration of the flush, which is what bounds upstream producers.
func (b *Buffer) Push(queryBlockID int, h ungapped.Hit) error {
	s := b.shards[b.binFor(queryBlockID)]
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, h)
	if len(s.pending) >= b.params.BudgetPerBin {
		if err := b.flushLocked(s); err != nil {
			return err
		}
	}
	return nil
}

// flushLocked writes s.pending to the shard's spill file, appending if the
// file already exists, and clears the in-memory slice. Caller must hold
// s.mu.
func (b *Buffer) flushLocked(s *shard) error {
	if len(s.pending) == 0 {
		return nil
	}
	if s.spill == nil {
		f, err := os.CreateTemp(b.params.TmpDir, "alignkit-hitbuffer-*.bin")
		if err != nil {
			return fmt.Errorf("hitbuffer: creating spill file: %w", err)
		}
		s.spill = f
		s.spillPath = f.Name()
	}
	sw := snappy.NewBufferedWriter(s.spill)
	if err := encodeHits(sw, s.pending, b.params.Scores); err != nil {
		sw.Close()
		return err
	}
	if err := sw.Close(); err != nil {
		return fmt.Errorf("hitbuffer: flushing shard: %w", err)
	}
	s.pending = s.pending[:0]
	return nil
}

// Flush forces every shard with pending hits to spill, used at the end of
// the seeding phase before the read phase begins.
func (b *Buffer) Flush() error {
	for _, s := range b.shards {
		s.mu.Lock()
		err := b.flushLocked(s)
		s.mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// Close removes every shard's spill file. Call after the read phase has
// fully drained the buffer.
func (b *Buffer) Close() error {
	var first error
	for _, s := range b.shards {
		if s.spill != nil {
			s.spill.Close()
			if err := os.Remove(s.spillPath); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// Read reconstitutes bin p's full hit stream (spilled records followed by
// whatever remains in memory) and sorts it by (query_context, subject_loc)
// for the chainer's per-query drain. A bin number outside the buffer's shard
// range holds no hits and reads back empty.
func (b *Buffer) Read(p int) ([]ungapped.Hit, error) {
	if p < 0 || p >= len(b.shards) {
		return nil, nil
	}
	s := b.shards[p]
	s.mu.Lock()
	defer s.mu.Unlock()

	var hits []ungapped.Hit
	if s.spill != nil {
		if _, err := s.spill.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("hitbuffer: seeking spill file: %w", err)
		}
		sr := bufio.NewReader(snappy.NewReader(bufio.NewReader(s.spill)))
		spilled, err := decodeHits(sr, b.params.Scores)
		if err != nil && err != io.EOF {
			return nil, err
		}
		hits = append(hits, spilled...)
	}
	hits = append(hits, s.pending...)

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].QueryContext != hits[j].QueryContext {
			return hits[i].QueryContext < hits[j].QueryContext
		}
		return hits[i].SubjectLoc < hits[j].SubjectLoc
	})
	return hits, nil
}

// encodeHits writes the on-disk hit record format: a varint
// query_context, a varint seed_offset, repeated subject_loc entries
// (zero-terminated), each optionally followed by a varint score. Hits here
// are framed one per group (no coalescing of hits sharing a seed_offset)
// to keep the shard writer lock-free of any cross-hit bookkeeping; decoding
// is identical either way since groups nest the same subject_loc grammar.
func encodeHits(w io.Writer, hits []ungapped.Hit, scores bool) error {
	buf := make([]byte, binary.MaxVarintLen64)
	writeVarint := func(v uint64) error {
		n := binary.PutUvarint(buf, v)
		_, err := w.Write(buf[:n])
		return err
	}
	for _, h := range hits {
		if err := writeVarint(uint64(h.QueryContext)); err != nil {
			return err
		}
		if err := writeVarint(uint64(h.SeedOffset)); err != nil {
			return err
		}
		if err := writeVarint(h.SubjectLoc + 1); err != nil { // +1: zero is the group terminator
			return err
		}
		if scores {
			if err := writeVarint(uint64(h.Score)); err != nil {
				return err
			}
		}
		if err := writeVarint(0); err != nil {
			return err
		}
	}
	return nil
}

func decodeHits(r io.ByteReader, scores bool) ([]ungapped.Hit, error) {
	var hits []ungapped.Hit
	for {
		qctx, err := binary.ReadUvarint(r)
		if err == io.EOF {
			return hits, nil
		}
		if err != nil {
			return hits, err
		}
		seedOffset, err := binary.ReadUvarint(r)
		if err != nil {
			return hits, err
		}
		for {
			loc, err := binary.ReadUvarint(r)
			if err != nil {
				return hits, err
			}
			if loc == 0 {
				break
			}
			h := ungapped.Hit{QueryContext: uint32(qctx), SeedOffset: uint32(seedOffset), SubjectLoc: loc - 1}
			if scores {
				sc, err := binary.ReadUvarint(r)
				if err != nil {
					return hits, err
				}
				h.Score = int32(sc)
			}
			hits = append(hits, h)
		}
	}
}
