package stats

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alignkit/alignkit/internal/alphabet"
)

func TestScoreMonotonicity(t *testing.T) {
	// S1 <= S2 must imply bit1 <= bit2 and E1 >= E2 under a fixed matrix
	// and search space.
	ka, ok := alphabet.Lookup("BLOSUM62", 11, 1)
	assert.True(t, ok)

	s1, s2 := int32(40), int32(80)
	bit1, bit2 := BitScore(ka, s1), BitScore(ka, s2)
	e1, e2 := EValue(ka, s1, 100, 100000), EValue(ka, s2, 100, 100000)

	assert.LessOrEqual(t, bit1, bit2)
	assert.GreaterOrEqual(t, e1, e2)
}

func TestLengthAdjustmentBounds(t *testing.T) {
	ka, _ := alphabet.Lookup("BLOSUM62", 11, 1)
	adj := LengthAdjustment(ka, 100, 1000000, 20)
	assert.GreaterOrEqual(t, adj, 0)
	assert.LessOrEqual(t, adj, 100)
}

func TestRawScoreForEValueRoundTrips(t *testing.T) {
	ka, _ := alphabet.Lookup("BLOSUM62", 11, 1)
	qPrime, dbPrime := 100, 1000000

	const maxE = 1e-4
	minScore := RawScoreForEValue(ka, maxE, qPrime, dbPrime)
	e := EValue(ka, minScore, qPrime, dbPrime)
	assert.LessOrEqual(t, e, maxE*10, "score derived from the E-value cutoff should itself satisfy roughly that cutoff")
}

func TestCompositionVectorSumsToOne(t *testing.T) {
	v := CompositionVector([]byte("ACDEFGHIKLNPQRSTVW"))
	var sum float64
	for _, x := range v {
		sum += x
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestRobinsonCompositionSumsToOne(t *testing.T) {
	var sum float64
	for _, x := range RobinsonComposition {
		sum += x
	}
	assert.InDelta(t, 1.0, sum, 1e-2)
}

// allResidues covers every standard amino acid once, so composition
// vectors derived from it have no zero entries.
const allResidues = "ARNDCQEGHILKMFPSTWYV"

func TestYuAltschulAdjustZeroForBackgroundComposition(t *testing.T) {
	ka, ok := alphabet.Lookup("BLOSUM62", 11, 1)
	require.True(t, ok)
	assert.InDelta(t, 0.0, YuAltschulAdjust(RobinsonComposition, RobinsonComposition, ka.Lambda), 1e-9)
}

func TestYuAltschulAdjustGrowsWithSkew(t *testing.T) {
	ka, _ := alphabet.Lookup("BLOSUM62", 11, 1)
	skewed := CompositionVector([]byte(strings.Repeat("W", 50) + allResidues))
	adj := YuAltschulAdjust(skewed, RobinsonComposition, ka.Lambda)
	assert.Greater(t, adj, 1.0, "a tryptophan-dominated composition must register as strongly biased")
}

func TestCompBiasVectorPenalizesOverrepresentedResidues(t *testing.T) {
	ka, _ := alphabet.Lookup("BLOSUM62", 11, 1)
	query := []byte(strings.Repeat("W", 50) + allResidues)
	bias := CompBiasVector(query, RobinsonComposition, ka.Lambda)
	require.Len(t, bias, len(query))

	assert.Negative(t, bias[0], "overrepresented W positions lose score")
	// 'A' occurs once in 70 residues, well below background frequency.
	aPos := 50
	assert.Positive(t, bias[aPos], "underrepresented residues gain score")
	for _, c := range bias {
		assert.LessOrEqual(t, c, int32(maxResidueCorrection))
		assert.GreaterOrEqual(t, c, int32(-maxResidueCorrection))
	}
}

func TestFullMatrixAdjustRemovesSkewInflation(t *testing.T) {
	m := alphabet.BLOSUM62()
	before := m.Scores[0][0]

	target := CompositionVector([]byte(strings.Repeat("W", 60) + allResidues))
	p := alphabet.CBSParams{Mode: alphabet.CBSFullMatrix, MaxIterations: 20, Tolerance: 1e-4}
	FullMatrixAdjust(m, target, p)

	assert.Less(t, m.Scores[0][0], before, "a high-scoring skewed composition shifts the whole matrix down")
	// Relative preferences survive the uniform shift.
	assert.Equal(t, m.Scores[4][4]-m.Scores[0][0], alphabet.BLOSUM62().Scores[4][4]-alphabet.BLOSUM62().Scores[0][0])
}

func TestFullMatrixAdjustNoOpWhenModeOff(t *testing.T) {
	m := alphabet.BLOSUM62()
	want := m.Scores
	target := CompositionVector([]byte(strings.Repeat("W", 60)))
	FullMatrixAdjust(m, target, alphabet.CBSParams{Mode: alphabet.CBSHitYuAltschul, MaxIterations: 20, Tolerance: 1e-4})
	assert.Equal(t, want, m.Scores)
}
