// Package gapped implements banded affine-gap Smith-Waterman extension:
// given a query and a batch of candidate targets with seed anchors, it runs
// score-only or full-traceback banded DP depending on the requested
// HspValues, with a narrow-lane/wide-lane overflow re-run discipline and
// optional composition-bias correction. The DP loop and traceback are
// hand-rolled over []byte: the banding, anchoring, and composition-bias
// hooks have no equivalent in a general-purpose alignment library.
package gapped

import (
	"github.com/alignkit/alignkit/internal/alphabet"
)

// HspValues is the bitset of fields a requested output format needs,
// letting the chainer skip traceback work it cannot consume.
type HspValues uint8

const (
	HspCoordinates HspValues = 1 << iota
	HspIdentities
	HspTranscript
	HspTraceback // implies Transcript, Identities and full gap accounting
)

// Op is one packed edit operation in an Hsp transcript.
type Op struct {
	Kind   OpKind
	Letter byte // target letter for substitution/deletion; unused for match/insertion
	Count  int  // run length for insertion
}

type OpKind uint8

const (
	OpMatch OpKind = iota
	OpSubstitution
	OpInsertion
	OpDeletion
)

// Result is one banded DP outcome.
type Result struct {
	Score                      int32
	QueryStart, QueryEnd       int
	SubjectStart, SubjectEnd   int
	Transcript                 []Op
	Identities, Mismatches     int
	Positives, GapOpenings     int
	Gaps                       int
}

// Params bounds one banded DP call.
type Params struct {
	Band        int // half-width; read_padding(len) or CLI override picks this
	Values      HspValues
	CompBias    []int32 // per-query-residue correction vector, added to the diagonal; nil when CBS is off
	Lane8Max    int32   // overflow ceiling for the 8-bit lane score path
}

// Align runs banded local (Smith-Waterman-style) affine-gap DP between
// query and target, anchored so the band is centered on the seed diagonal
// (subjectAnchor - queryAnchor). It first attempts the 8-bit lane path and
// re-runs at the wider int32 path on overflow.
func Align(m *alphabet.Matrix, query, target []byte, queryAnchor, subjectAnchor int, p Params) Result {
	diag := subjectAnchor - queryAnchor
	r, err := bandedAffine(m, query, target, diag, p)
	if err == errLaneOverflow {
		p.Lane8Max = 1 << 30 // disable the 8-bit ceiling and re-run at full width
		r, _ = bandedAffine(m, query, target, diag, p)
	}
	return r
}

type laneErr string

func (e laneErr) Error() string { return string(e) }

const errLaneOverflow = laneErr("gapped: 8-bit lane score overflowed")

// cell is one DP matrix entry: best score ending in a match/mismatch (m),
// a query residue against a gap in the target (ix, an insertion), or a
// target residue against a gap in the query (iy, a deletion), per the
// standard three-state affine-gap recurrence.
type cell struct {
	m, ix, iy int32
}

const negInf = int32(-1 << 30)

// bandedAffine runs local affine-gap DP restricted to a band of width
// 2*p.Band+1 around the seed diagonal, with optional composition-bias
// correction added to the match/mismatch term, and reconstructs a
// traceback when p.Values requests it.
func bandedAffine(m *alphabet.Matrix, query, target []byte, diag int, p Params) (Result, error) {
	gapOpen, gapExtend := m.GapOpen, m.GapExtend
	qn, tn := len(query), len(target)

	rows := qn + 1
	table := make([][]cell, rows)
	for i := range table {
		lo, hi := bandRange(i, diag, p.Band, tn)
		table[i] = make([]cell, hi-lo+1)
	}
	lanePeak := int32(0)

	get := func(i, j int) cell {
		if i <= 0 || j <= 0 {
			return cell{} // local-alignment boundary: score 0
		}
		lo, hi := bandRange(i, diag, p.Band, tn)
		if j < lo || j > hi {
			return cell{negInf, negInf, negInf}
		}
		return table[i][j-lo]
	}
	set := func(i, j int, c cell) {
		lo, _ := bandRange(i, diag, p.Band, tn)
		table[i][j-lo] = c
	}

	best := cell{}
	bestI, bestJ := 0, 0

	for i := 1; i <= qn; i++ {
		lo, hi := bandRange(i, diag, p.Band, tn)
		for j := lo; j <= hi; j++ {
			if j < 1 {
				continue
			}
			qa := alphabet.Encode(query[i-1])
			ta := alphabet.Encode(target[j-1])
			sub := m.Score(qa, ta)
			if p.CompBias != nil && i-1 < len(p.CompBias) {
				sub += p.CompBias[i-1]
			}

			diagPrev := get(i-1, j-1)
			diagBest := diagPrev.m
			if diagPrev.ix > diagBest {
				diagBest = diagPrev.ix
			}
			if diagPrev.iy > diagBest {
				diagBest = diagPrev.iy
			}
			mScore := diagBest + sub
			if mScore < 0 {
				mScore = 0 // local alignment: restart
			}

			up := get(i-1, j)
			ixScore := max32(up.m-gapOpen, up.ix-gapExtend)

			left := get(i, j-1)
			iyScore := max32(left.m-gapOpen, left.iy-gapExtend)

			c := cell{m: mScore, ix: ixScore, iy: iyScore}
			set(i, j, c)

			top := max32(c.m, max32(c.ix, c.iy))
			if top > lanePeak {
				lanePeak = top
			}
			if c.m >= best.m {
				best = c
				bestI, bestJ = i, j
			}
		}
	}

	if p.Lane8Max > 0 && lanePeak > p.Lane8Max {
		return Result{}, errLaneOverflow
	}

	res := Result{Score: best.m, QueryEnd: bestI, SubjectEnd: bestJ}
	if p.Values&(HspTranscript|HspTraceback) != 0 {
		qs, ss, ops, posSubs := traceback(m, query, target, table, diag, p.Band, tn, bestI, bestJ, p)
		res.QueryStart, res.SubjectStart = qs, ss
		res.Transcript = ops
		tallyOps(&res, ops)
		res.Positives += posSubs
	}
	return res, nil
}

// bandRange returns the inclusive [lo,hi] column range retained for row i,
// centered on the seed diagonal.
func bandRange(i, diag, band, tn int) (int, int) {
	center := i + diag
	lo := center - band
	hi := center + band
	if lo < 0 {
		lo = 0
	}
	if hi > tn {
		hi = tn
	}
	return lo, hi
}

func max32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}

// traceback walks the filled band backward from (bestI,bestJ) to the
// first zero-score cell (local-alignment start), emitting packed Ops.
// posSubs counts substitutions with a positive substitution score, which
// the Hsp's positives tally includes alongside exact matches.
func traceback(m *alphabet.Matrix, query, target []byte, table [][]cell, diag, band, tn, i, j int, p Params) (int, int, []Op, int) {
	var ops []Op
	posSubs := 0
	get := func(i, j int) cell {
		if i <= 0 || j <= 0 {
			return cell{}
		}
		lo, hi := bandRange(i, diag, band, tn)
		if j < lo || j > hi {
			return cell{negInf, negInf, negInf}
		}
		return table[i][j-lo]
	}

	const (
		stM = iota
		stIx
		stIy
	)
	state := stM
walk:
	for i > 0 && j > 0 {
		c := get(i, j)
		switch state {
		case stM:
			if c.m == 0 {
				break walk
			}
			qa := alphabet.Encode(query[i-1])
			ta := alphabet.Encode(target[j-1])
			sub := m.Score(qa, ta)
			if p.CompBias != nil && i-1 < len(p.CompBias) {
				sub += p.CompBias[i-1]
			}
			if query[i-1] == target[j-1] {
				ops = append(ops, Op{Kind: OpMatch})
			} else {
				ops = append(ops, Op{Kind: OpSubstitution, Letter: target[j-1]})
				if sub > 0 {
					posSubs++
				}
			}
			// Pick the predecessor state that produced c.m.
			diagPrev := get(i-1, j-1)
			want := c.m - sub
			switch {
			case diagPrev.m == want || want <= 0:
				state = stM
			case diagPrev.ix == want:
				state = stIx
			default:
				state = stIy
			}
			i--
			j--
		case stIx:
			ops = append(ops, Op{Kind: OpInsertion, Count: 1})
			up := get(i-1, j)
			if up.m-m.GapOpen >= up.ix-m.GapExtend {
				state = stM
			}
			i--
		case stIy:
			ops = append(ops, Op{Kind: OpDeletion, Letter: target[j-1]})
			left := get(i, j-1)
			if left.m-m.GapOpen >= left.iy-m.GapExtend {
				state = stM
			}
			j--
		}
	}
	reverse(ops)
	return i, j, ops, posSubs
}

func reverse(ops []Op) {
	for a, b := 0, len(ops)-1; a < b; a, b = a+1, b-1 {
		ops[a], ops[b] = ops[b], ops[a]
	}
}

// tallyOps derives identities/mismatches/positives/gap_openings/gaps from
// a transcript.
func tallyOps(res *Result, ops []Op) {
	inGap := false
	for _, op := range ops {
		switch op.Kind {
		case OpMatch:
			res.Identities++
			res.Positives++
			inGap = false
		case OpSubstitution:
			res.Mismatches++
			inGap = false
		case OpInsertion, OpDeletion:
			res.Gaps++
			if !inGap {
				res.GapOpenings++
				inGap = true
			}
		}
	}
}
