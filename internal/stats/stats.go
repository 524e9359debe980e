// Package stats implements the Karlin-Altschul statistics: length
// adjustment, E-value, bit score, and composition-based score matrix
// adjustment, built on gonum.org/v1/gonum/stat and .../floats for the
// vector arithmetic composition adjustment needs and modernc.org/mathutil
// for the integer bounds length adjustment must respect.
package stats

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"modernc.org/mathutil"

	"github.com/alignkit/alignkit/internal/alphabet"
)

// LengthAdjustment computes the effective search-space length correction
// via fixed-point iteration of l = ln(K*m*n)/H, bounded 0 <= l <= min(m,n).
func LengthAdjustment(ka alphabet.KarlinAltschul, m, n int, maxIterations int) int {
	if maxIterations <= 0 {
		maxIterations = 20
	}
	bound := mathutil.Min(m, n)
	l := 0.0
	for i := 0; i < maxIterations; i++ {
		mPrime := float64(m) - l
		nPrime := float64(n) - l
		if mPrime <= 0 || nPrime <= 0 {
			l = 0
			break
		}
		next := math.Log(ka.K*mPrime*nPrime) / ka.H
		if math.Abs(next-l) < 1e-6 {
			l = next
			break
		}
		l = next
	}
	if l < 0 {
		l = 0
	}
	if int(l) > bound {
		return bound
	}
	return int(l)
}

// EffectiveLengths applies the length adjustment to the raw query and
// database letter counts.
func EffectiveLengths(ka alphabet.KarlinAltschul, queryLen, dbLen int, maxIterations int) (qPrime, dbPrime int) {
	adj := LengthAdjustment(ka, queryLen, dbLen, maxIterations)
	qPrime = queryLen - adj
	dbPrime = dbLen - adj
	if qPrime < 1 {
		qPrime = 1
	}
	if dbPrime < 1 {
		dbPrime = 1
	}
	return qPrime, dbPrime
}

// EValue computes E = K * m' * n' * exp(-lambda*S).
func EValue(ka alphabet.KarlinAltschul, score int32, qPrime, dbPrime int) float64 {
	return ka.K * float64(qPrime) * float64(dbPrime) * math.Exp(-ka.Lambda*float64(score))
}

// BitScore computes (lambda*S - ln K) / ln 2.
func BitScore(ka alphabet.KarlinAltschul, score int32) float64 {
	return (ka.Lambda*float64(score) - math.Log(ka.K)) / math.Ln2
}

// RawScoreForEValue inverts EValue to find the minimum raw score meeting a
// target E-value cutoff, so the chainer can discard sub-threshold targets
// without computing an E-value for every candidate.
func RawScoreForEValue(ka alphabet.KarlinAltschul, maxEValue float64, qPrime, dbPrime int) int32 {
	denom := ka.K * float64(qPrime) * float64(dbPrime)
	if denom <= 0 || maxEValue <= 0 {
		return 0
	}
	s := -math.Log(maxEValue/denom) / ka.Lambda
	if s < 0 {
		s = 0
	}
	return int32(math.Ceil(s))
}

// CompositionVector returns the 20-letter amino-acid frequency vector of a
// residue window, used as the composition-bias input to YuAltschulAdjust
// and FullMatrixAdjust.
func CompositionVector(residues []byte) [alphabet.NumAminoAcids]float64 {
	var counts [alphabet.NumAminoAcids]float64
	n := 0
	for _, r := range residues {
		l := alphabet.Encode(r)
		if int(l) < alphabet.NumAminoAcids {
			counts[l]++
			n++
		}
	}
	if n == 0 {
		return counts
	}
	floats.Scale(1/float64(n), counts[:])
	return counts
}

// RobinsonComposition is the standard Robinson-Robinson background
// amino-acid frequency table, in the alphabet's residue order. It is the
// reference distribution every composition adjustment measures a query or
// target against.
var RobinsonComposition = [alphabet.NumAminoAcids]float64{
	0.07805, 0.05129, 0.04487, 0.05364, 0.01925, // A R N D C
	0.04264, 0.06295, 0.07377, 0.02199, 0.05142, // Q E G H I
	0.09019, 0.05744, 0.02243, 0.03856, 0.05203, // L K M F P
	0.07120, 0.05841, 0.01330, 0.03216, 0.06441, // S T W Y V
}

// YuAltschulAdjust measures how far queryComp has drifted from
// backgroundComp, in raw score units: the Kullback-Leibler divergence of
// the two compositions scaled by lambda. Callers use it to decide whether
// a query is biased enough for the per-residue correction of
// CompBiasVector to move any score at all.
func YuAltschulAdjust(queryComp, backgroundComp [alphabet.NumAminoAcids]float64, lambda float64) float64 {
	kl := stat.KullbackLeibler(queryComp[:], backgroundComp[:])
	if math.IsInf(kl, 0) || math.IsNaN(kl) {
		return 0
	}
	return kl / lambda
}

// CompBiasVector builds the per-query-residue correction added to the DP
// diagonal when the Yu-Altschul composition mode is active: each residue is
// corrected by the rounded log-odds of its background frequency against its
// observed frequency in the query, scaled by lambda, so overrepresented
// residues stop inflating the raw score. Masked positions get no
// correction.
func CompBiasVector(query []byte, background [alphabet.NumAminoAcids]float64, lambda float64) []int32 {
	comp := CompositionVector(query)
	out := make([]int32, len(query))
	for i, r := range query {
		l := alphabet.Encode(r)
		if int(l) >= alphabet.NumAminoAcids {
			continue
		}
		p, q := comp[l], background[l]
		if p <= 0 || q <= 0 {
			continue
		}
		c := int32(math.Round(math.Log(q/p) / lambda))
		if c > maxResidueCorrection {
			c = maxResidueCorrection
		} else if c < -maxResidueCorrection {
			c = -maxResidueCorrection
		}
		out[i] = c
	}
	return out
}

// maxResidueCorrection caps how far a single position's score can move so
// one wildly over- or under-represented residue cannot dominate the band.
const maxResidueCorrection = 3

// FullMatrixAdjust rescales m in place so its expected pairwise score under
// targetComp matches the matrix's expectation under the standard background
// composition, iterating a shift until the residual falls below
// p.Tolerance or the iteration budget runs out. Relative substitution
// preferences are preserved; only the uniform score inflation a skewed
// target composition causes is removed.
func FullMatrixAdjust(m *alphabet.Matrix, targetComp [alphabet.NumAminoAcids]float64, p alphabet.CBSParams) {
	if p.Mode != alphabet.CBSFullMatrix {
		return
	}
	base := expectedScore(m, RobinsonComposition)
	var adj float64
	for iter := 0; iter < p.MaxIterations; iter++ {
		d := expectedScore(m, targetComp) + adj - base
		if math.Abs(d) < p.Tolerance {
			break
		}
		adj -= d
	}
	shift := int32(math.Round(adj))
	if shift == 0 {
		return
	}
	for i := 0; i < alphabet.NumAminoAcids; i++ {
		for j := 0; j < alphabet.NumAminoAcids; j++ {
			m.Scores[i][j] += shift
		}
	}
}

// expectedScore is the expectation of m under composition comp, the scalar
// both composition-adjustment modes balance against the background.
func expectedScore(m *alphabet.Matrix, comp [alphabet.NumAminoAcids]float64) float64 {
	var e float64
	for i := 0; i < alphabet.NumAminoAcids; i++ {
		if comp[i] == 0 {
			continue
		}
		var row float64
		for j := 0; j < alphabet.NumAminoAcids; j++ {
			row += comp[j] * float64(m.Scores[i][j])
		}
		e += comp[i] * row
	}
	return e
}
