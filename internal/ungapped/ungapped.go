// Package ungapped implements bidirectional X-drop ungapped extension and
// the primary-hit filter: given a candidate seed pair, it extends left and
// right accumulating score, rejects pairs below the minimum raw score, and
// deduplicates equivalent anchors across shapes.
package ungapped

import (
	"github.com/alignkit/alignkit/internal/alphabet"
	"github.com/alignkit/alignkit/internal/seedmatch"
)

// Params bounds one ungapped extension.
type Params struct {
	XDrop            int32
	WindowLeft       int
	WindowRight      int
	MinRawScore      int32
}

// Hit is the trace point emitted to the hit buffer on acceptance.
type Hit struct {
	QueryContext uint32
	SubjectLoc   uint64
	SeedOffset   uint32
	Score        int32
}

// DiagonalSegment is the raw extension result before the primary-hit
// filter runs.
type DiagonalSegment struct {
	QueryStart, SubjectStart int
	Length                   int
	Score                    int32
}

// Extend performs the bidirectional X-drop walk from a seed anchor in query
// and subject, returning the best-scoring diagonal segment found.
func Extend(m *alphabet.Matrix, query, subject []byte, qPos, sPos, seedLen int, p Params) DiagonalSegment {
	leftExt, leftScore := extendLeft(m, query, subject, qPos, sPos, p.XDrop, p.WindowLeft)
	rightWindow := p.WindowRight
	rightExt, rightScore := extendRight(m, query, subject, qPos+seedLen, sPos+seedLen, p.XDrop, rightWindow)

	seedScore := scoreSpan(m, query[qPos:qPos+seedLen], subject[sPos:sPos+seedLen])
	return DiagonalSegment{
		QueryStart:   qPos - leftExt,
		SubjectStart: sPos - leftExt,
		Length:       leftExt + seedLen + rightExt,
		Score:        leftScore + seedScore + rightScore,
	}
}

// extendLeft walks backward from (qPos-1, sPos-1), tracking the best
// cumulative score seen and the extent at which it occurred; extension
// stops at the window bound, a sequence boundary, or when the running
// score falls more than xDrop below the best score seen so far.
func extendLeft(m *alphabet.Matrix, query, subject []byte, qPos, sPos int, xDrop int32, window int) (int, int32) {
	bestExt := 0
	var bestScore, running int32
	for i := 1; i <= window; i++ {
		qi, si := qPos-i, sPos-i
		if qi < 0 || si < 0 {
			break
		}
		if query[qi] == byte(alphabet.Sentinel) || subject[si] == byte(alphabet.Sentinel) {
			break
		}
		running += m.Score(alphabet.Encode(query[qi]), alphabet.Encode(subject[si]))
		if running > bestScore {
			bestScore = running
			bestExt = i
		}
		if bestScore-running > xDrop {
			break
		}
	}
	return bestExt, bestScore
}

// extendRight is extendLeft's mirror, walking forward from (qPos, sPos).
func extendRight(m *alphabet.Matrix, query, subject []byte, qPos, sPos int, xDrop int32, window int) (int, int32) {
	bestExt := 0
	var bestScore, running int32
	for i := 0; i < window; i++ {
		qi, si := qPos+i, sPos+i
		if qi >= len(query) || si >= len(subject) {
			break
		}
		if query[qi] == byte(alphabet.Sentinel) || subject[si] == byte(alphabet.Sentinel) {
			break
		}
		running += m.Score(alphabet.Encode(query[qi]), alphabet.Encode(subject[si]))
		if running > bestScore {
			bestScore = running
			bestExt = i + 1
		}
		if bestScore-running > xDrop {
			break
		}
	}
	return bestExt, bestScore
}

func scoreSpan(m *alphabet.Matrix, a, b []byte) int32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var s int32
	for i := 0; i < n; i++ {
		s += m.Score(alphabet.Encode(a[i]), alphabet.Encode(b[i]))
	}
	return s
}

// seen records, per (query_context, subject_loc) extended span, whether an
// equivalent anchor has already been reported — the primary-hit filter's
// total order is realized as first-writer-wins over the span's start
// coordinate.
type seen struct {
	spans map[spanKey]bool
}

type spanKey struct {
	queryContext uint32
	subjectLoc   uint64
}

func newSeen() *seen { return &seen{spans: make(map[spanKey]bool)} }

// FilterAndExtend runs Extend for every candidate, rejects sub-threshold
// scores, and keeps only the first (in candidate order, which callers sort
// by shape then chunk) anchor touching a given (query_context, subject_loc)
// span — the primary-hit filter.
func FilterAndExtend(m *alphabet.Matrix, query, subject []byte, queryContext uint32, cands []seedmatch.Candidate, p Params) []Hit {
	s := newSeen()
	var hits []Hit
	for _, c := range cands {
		seg := Extend(m, query, subject, int(c.QueryLoc.Pos), int(c.SubjLoc.Pos), c.SeedLen, p)
		if seg.Score < p.MinRawScore {
			continue
		}
		key := spanKey{queryContext: queryContext, subjectLoc: uint64(seg.SubjectStart)}
		if s.spans[key] {
			continue
		}
		s.spans[key] = true
		hits = append(hits, Hit{
			QueryContext: queryContext,
			SubjectLoc:   uint64(c.SubjLoc.Pos),
			SeedOffset:   c.QueryLoc.Pos,
			Score:        seg.Score,
		})
	}
	return hits
}
