package ungapped

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alignkit/alignkit/internal/alphabet"
	"github.com/alignkit/alignkit/internal/seedindex"
	"github.com/alignkit/alignkit/internal/seedmatch"
)

func selfScore(m *alphabet.Matrix, seq []byte) int32 {
	var s int32
	for _, r := range seq {
		l := alphabet.Encode(r)
		s += m.Score(l, l)
	}
	return s
}

func TestExtendIdentitySelfHit(t *testing.T) {
	m := alphabet.BLOSUM62()
	seq := []byte("MKTIIALSDIFCLVFA")

	p := Params{XDrop: 20, WindowLeft: 32, WindowRight: 32, MinRawScore: 1}
	seg := Extend(m, seq, seq, 4, 4, 4, p)

	assert.Equal(t, 0, seg.QueryStart)
	assert.Equal(t, len(seq), seg.Length)
	assert.Equal(t, selfScore(m, seq), seg.Score, "a self-hit extends to the full sequence at its self-score")
}

func TestFilterAndExtendDedupesOverlappingSpans(t *testing.T) {
	m := alphabet.BLOSUM62()
	seq := []byte("MKTIIALSDIFCLVFA")

	cands := []seedmatch.Candidate{
		{ShapeID: 0, QueryLoc: seedindex.Location{Pos: 0}, SubjLoc: seedindex.Location{Pos: 0}, SeedLen: 4},
		{ShapeID: 1, QueryLoc: seedindex.Location{Pos: 4}, SubjLoc: seedindex.Location{Pos: 4}, SeedLen: 4},
	}
	p := Params{XDrop: 20, WindowLeft: 32, WindowRight: 32, MinRawScore: 1}

	hits := FilterAndExtend(m, seq, seq, 0, cands, p)
	require.Len(t, hits, 1, "both candidates extend to the same full-length span, so only the first is primary")
}

func TestFilterAndExtendRejectsBelowMinScore(t *testing.T) {
	m := alphabet.BLOSUM62()
	query := []byte("AAAAAAAAAAAAAAAA")
	subject := []byte("PPPPPPPPPPPPPPPP")

	cands := []seedmatch.Candidate{
		{ShapeID: 0, QueryLoc: seedindex.Location{Pos: 0}, SubjLoc: seedindex.Location{Pos: 0}, SeedLen: 4},
	}
	p := Params{XDrop: 20, WindowLeft: 32, WindowRight: 32, MinRawScore: 1}

	hits := FilterAndExtend(m, query, subject, 0, cands, p)
	assert.Empty(t, hits)
}
