package gapped

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alignkit/alignkit/internal/alphabet"
)

func selfScore(m *alphabet.Matrix, seq []byte) int32 {
	var s int32
	for _, r := range seq {
		l := alphabet.Encode(r)
		s += m.Score(l, l)
	}
	return s
}

func TestAlignIdentitySelfHit(t *testing.T) {
	m := alphabet.BLOSUM62()
	seq := []byte("ACDEFGHIKLNPQRSTVW")

	p := Params{Band: 5, Values: HspTraceback}
	r := Align(m, seq, seq, 0, 0, p)

	require.Equal(t, len(seq), r.Identities)
	assert.Equal(t, 0, r.Mismatches)
	assert.Equal(t, 0, r.GapOpenings)
	assert.Equal(t, len(seq), r.Positives)
	assert.Equal(t, selfScore(m, seq), r.Score)
}

func TestAlignSingleInsertion(t *testing.T) {
	m := alphabet.BLOSUM62()
	query := []byte("ACDEFGHIKLNPQRST")
	target := []byte("ACDEFGHIKLWNPQRST") // one extra residue inserted after L

	p := Params{Band: 3, Values: HspTraceback}
	r := Align(m, query, target, 10, 10, p)

	require.NotEmpty(t, r.Transcript)
	assert.GreaterOrEqual(t, r.GapOpenings, 1)
	assert.Greater(t, r.Score, int32(0))
}

func TestAlignScoreOnlySkipsTraceback(t *testing.T) {
	m := alphabet.BLOSUM62()
	seq := []byte("ACDEFGHIKL")

	p := Params{Band: 4, Values: HspCoordinates}
	r := Align(m, seq, seq, 0, 0, p)

	assert.Empty(t, r.Transcript)
	assert.Equal(t, selfScore(m, seq), r.Score)
}
