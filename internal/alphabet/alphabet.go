// Package alphabet encodes residues, defines substitution matrices, gap
// penalties, and the Karlin-Altschul statistical parameters used to score
// alignments. Everything here is initialized at startup and read-only on
// the search path.
package alphabet

import "fmt"

// Letter is one residue byte. Values 0..23 are amino acids, 24 is the mask
// symbol, 25 is stop, 27 is the sentinel bracketing every Sequence.
type Letter byte

const (
	// NumAminoAcids counts the 20 standard residues, the prefix of Residues.
	NumAminoAcids = 20
	// NumLetters counts every scorable letter: the 20 standard residues plus
	// the B/J/Z ambiguity codes and U (selenocysteine).
	NumLetters = 24

	MaskLetter Letter = 24
	StopLetter Letter = 25
	Sentinel   Letter = 27
)

// Residues lists the scorable letters in encoding order: the 20 standard
// amino acids in substitution-matrix row order, then B (D/N), J (I/L),
// Z (E/Q), and U. 'X' encodes to MaskLetter and '*' to StopLetter; any
// other byte also encodes to MaskLetter.
var Residues = []byte("ARNDCQEGHILKMFPSTWYVBJZU")

// Matrix is a square substitution score matrix over the scorable letters,
// indexed by Letter value (0..NumLetters-1).
type Matrix struct {
	Name      string
	Scores    [NumLetters][NumLetters]int32
	GapOpen   int32
	GapExtend int32
	// FrameShift is the optional penalty applied at a translated-query
	// frame-shift event (blastx/tblastx with --frameshift).
	FrameShift int32
}

// Score returns the substitution score between two letters. Out of range
// letters (mask, stop, sentinel) score the matrix floor, the penalty 'X'
// receives against any residue.
func (m *Matrix) Score(a, b Letter) int32 {
	if int(a) >= NumLetters || int(b) >= NumLetters {
		return matrixFloor
	}
	return m.Scores[a][b]
}

const matrixFloor = -1

var encodeTable = func() [256]Letter {
	var t [256]Letter
	for i := range t {
		t[i] = MaskLetter
	}
	for i, b := range Residues {
		t[b] = Letter(i)
	}
	t['*'] = StopLetter
	return t
}()

// Encode maps a raw ASCII residue byte (as stored in a block's SequenceSet)
// to its Letter value. Residues outside the alphabet ('X', 'O', digits,
// whatever) encode to MaskLetter, which Score always floors.
func Encode(residue byte) Letter {
	return encodeTable[residue]
}

// blosum62 is the standard published BLOSUM62 substitution matrix over the
// 20-residue prefix of Residues (row order ARNDCQEGHILKMFPSTWYV).
var blosum62 = [NumAminoAcids][NumAminoAcids]int32{
	{4, -1, -2, -2, 0, -1, -1, 0, -2, -1, -1, -1, -1, -2, -1, 1, 0, -3, -2, 0},
	{-1, 5, 0, -2, -3, 1, 0, -2, 0, -3, -2, 2, -1, -3, -2, -1, -1, -3, -2, -3},
	{-2, 0, 6, 1, -3, 0, 0, 0, 1, -3, -3, 0, -2, -3, -2, 1, 0, -4, -2, -3},
	{-2, -2, 1, 6, -3, 0, 2, -1, -1, -3, -4, -1, -3, -3, -1, 0, -1, -4, -3, -3},
	{0, -3, -3, -3, 9, -3, -4, -3, -3, -1, -1, -3, -1, -2, -3, -1, -1, -2, -2, -1},
	{-1, 1, 0, 0, -3, 5, 2, -2, 0, -3, -2, 1, 0, -3, -1, 0, -1, -2, -1, -2},
	{-1, 0, 0, 2, -4, 2, 5, -2, 0, -3, -3, 1, -2, -3, -1, 0, -1, -3, -2, -2},
	{0, -2, 0, -1, -3, -2, -2, 6, -2, -4, -4, -2, -3, -3, -2, 0, -2, -2, -3, -3},
	{-2, 0, 1, -1, -3, 0, 0, -2, 8, -3, -3, -1, -2, -1, -2, -1, -2, -2, 2, -3},
	{-1, -3, -3, -3, -1, -3, -3, -4, -3, 4, 2, -3, 1, 0, -3, -2, -1, -3, -1, 3},
	{-1, -2, -3, -4, -1, -2, -3, -4, -3, 2, 4, -2, 2, 0, -3, -2, -1, -2, -1, 1},
	{-1, 2, 0, -1, -3, 1, 1, -2, -1, -3, -2, 5, -1, -3, -1, 0, -1, -3, -2, -2},
	{-1, -1, -2, -3, -1, 0, -2, -3, -2, 1, 2, -1, 5, 0, -2, -1, -1, -1, -1, 1},
	{-2, -3, -3, -3, -2, -3, -3, -3, -1, 0, 0, -3, 0, 6, -4, -2, -2, 1, 3, -1},
	{-1, -2, -2, -1, -3, -1, -1, -2, -2, -3, -3, -1, -2, -4, 7, -1, -1, -4, -3, -2},
	{1, -1, 1, 0, -1, 0, 0, 0, -1, -2, -2, 0, -1, -2, -1, 4, 1, -3, -2, -2},
	{0, -1, 0, -1, -1, -1, -1, -2, -2, -1, -1, -1, -1, -2, -1, 1, 5, -2, -2, 0},
	{-3, -3, -4, -4, -2, -2, -3, -2, -2, -3, -2, -3, -1, 1, -4, -3, -2, 11, 2, -3},
	{-2, -2, -2, -3, -2, -1, -2, -3, 2, -1, -1, -2, -1, 3, -3, -2, -2, 2, 7, -1},
	{0, -3, -3, -3, -1, -2, -2, -3, -3, 3, 1, -2, 1, -1, -2, -2, 0, -3, -1, 4},
}

// ambiguity pairs the extended letters with the residue pair they stand
// for; their rows are the integer mean of the pair's rows, and U scores as
// C on both axes.
var ambiguity = map[Letter][2]Letter{
	20: {Encode('D'), Encode('N')}, // B
	21: {Encode('I'), Encode('L')}, // J
	22: {Encode('E'), Encode('Q')}, // Z
	23: {Encode('C'), Encode('C')}, // U
}

// BLOSUM62 returns the default protein substitution matrix with its
// standard affine gap penalties.
func BLOSUM62() *Matrix {
	m := &Matrix{Name: "BLOSUM62", GapOpen: 11, GapExtend: 1}
	for i := 0; i < NumAminoAcids; i++ {
		for j := 0; j < NumAminoAcids; j++ {
			m.Scores[i][j] = blosum62[i][j]
		}
	}
	for ext, pair := range ambiguity {
		for j := Letter(0); j < NumLetters; j++ {
			var a, b int32
			if int(j) < NumAminoAcids {
				a = m.Scores[pair[0]][j]
				b = m.Scores[pair[1]][j]
			} else {
				jp := ambiguity[j]
				a = (m.Scores[pair[0]][jp[0]] + m.Scores[pair[0]][jp[1]]) / 2
				b = (m.Scores[pair[1]][jp[0]] + m.Scores[pair[1]][jp[1]]) / 2
			}
			s := (a + b) / 2
			m.Scores[ext][j] = s
			m.Scores[j][ext] = s
		}
	}
	return m
}

// GapKey identifies one (matrix, gap_open, gap_extend) combination in the
// Karlin-Altschul parameter table.
type GapKey struct {
	Matrix    string
	GapOpen   int32
	GapExtend int32
}

// KarlinAltschul holds the classical lambda, K, H statistical parameters
// used to compute bit scores and E-values; the table below stores the
// gapped values.
type KarlinAltschul struct {
	Lambda float64
	K      float64
	H      float64
}

// karlinTable is front-loaded at startup so the hot path never
// computes Karlin-Altschul parameters on demand. Values are the standard
// gapped constants published for BLOSUM62 and friends.
var karlinTable = map[GapKey]KarlinAltschul{
	{"BLOSUM62", 11, 1}: {Lambda: 0.267, K: 0.0410, H: 0.140},
	{"BLOSUM62", 9, 2}:  {Lambda: 0.285, K: 0.0750, H: 0.230},
	{"BLOSUM62", 8, 2}:  {Lambda: 0.265, K: 0.0460, H: 0.140},
	{"BLOSUM45", 15, 2}: {Lambda: 0.217, K: 0.0610, H: 0.140},
	{"PAM30", 9, 1}:     {Lambda: 0.338, K: 0.1480, H: 0.404},
}

// Lookup returns the precomputed Karlin-Altschul parameters for a matrix and
// gap penalty combination. The bool is false when the combination has no
// table entry, corresponding to the errs.IdealStatParamCalc fatal condition.
func Lookup(matrix string, gapOpen, gapExtend int32) (KarlinAltschul, bool) {
	ka, ok := karlinTable[GapKey{matrix, gapOpen, gapExtend}]
	return ka, ok
}

// CompBasedStats selects a composition-based statistics mode.
type CompBasedStats int

const (
	CBSOff CompBasedStats = iota
	// CBSHitYuAltschul adds a per-query-residue Yu-Altschul composition bias
	// to the gapped DP diagonal without rebuilding the substitution matrix.
	CBSHitYuAltschul
	// CBSFullMatrix rebuilds the full substitution matrix per hit with a
	// bounded iteration count and convergence tolerance.
	CBSFullMatrix
)

// CBSParams bounds the iterative full-matrix rescaling mode.
type CBSParams struct {
	Mode          CompBasedStats
	MaxIterations int
	Tolerance     float64
}

// DefaultCBSParams matches the conservative default most aligners ship.
var DefaultCBSParams = CBSParams{Mode: CBSHitYuAltschul, MaxIterations: 20, Tolerance: 1e-4}

func (m *Matrix) String() string {
	return fmt.Sprintf("%s(gap_open=%d,gap_extend=%d)", m.Name, m.GapOpen, m.GapExtend)
}
