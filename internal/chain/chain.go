// Package chain implements the chainer / query mapper: for one query,
// group surviving hits by target, rank targets, run gapped extension, cull
// overlapping HSPs within a target, apply user filters, and produce a
// deterministically ordered Hsp list for the output sink.
//
// Ranking under --top is evaluated on raw scores, not bit scores; the two
// orderings only diverge when per-hit composition adjustment is active.
package chain

import (
	"sort"

	"github.com/alignkit/alignkit/internal/gapped"
	"github.com/alignkit/alignkit/internal/ungapped"
)

// Hsp is the chainer's output record.
type Hsp struct {
	TargetOID     uint64
	TargetTitle   string
	Score         int32
	BitScore      float64
	EValue        float64
	QueryStart, QueryEnd     int
	SubjectStart, SubjectEnd int
	SubjectLen               int
	Transcript               []gapped.Op
	Length, Identities, Mismatches, Positives int
	GapOpenings, Gaps                          int
	Outranked bool // set under --benchmark-ranking instead of discarding
}

// Filters bounds the user-facing acceptance criteria: target ranking and
// per-Hsp thresholds.
type Filters struct {
	TopPercent       float64 // --top P; 0 disables
	MaxTargetSeqs    int     // --max-target-seqs; 0 disables
	RankFactor       float64 // multiplies MaxTargetSeqs/TopPercent's keep cutoff
	BenchmarkRanking bool    // flag outranked targets instead of discarding them
	MinUngappedScore int32
	MinIdentityPct   float64
	MinQueryCover    float64
	MinSubjectCover  float64
	NoSelfHits       bool
	InnerCullingOverlap int // shared-residue threshold for within-target culling
	MaxHsps             int
}

// TargetGroup accumulates every hit belonging to one target oid, used to
// compute the prefilter score before ranking.
type TargetGroup struct {
	oid   uint64
	title string
	hits  []ungapped.Hit
	best  int32
}

// OID returns the target's database oid.
func (g *TargetGroup) OID() uint64 { return g.oid }

// Title returns the target's title, as resolved by GroupByTarget.
func (g *TargetGroup) Title() string { return g.title }

// Hits returns every surviving ungapped hit belonging to this target, in
// the order they were pulled from the hit buffer.
func (g *TargetGroup) Hits() []ungapped.Hit { return g.hits }

// Best returns the prefilter score: the best ungapped score across the
// target's hits.
func (g *TargetGroup) Best() int32 { return g.best }

// GroupByTarget partitions hits pulled from the hit buffer by subject
// target, using resolveTarget to map a hit's subject location to an
// (oid, title) pair.
func GroupByTarget(hits []ungapped.Hit, resolveTarget func(subjectLoc uint64) (oid uint64, title string)) []*TargetGroup {
	groups := make(map[uint64]*TargetGroup)
	var order []uint64
	for _, h := range hits {
		oid, title := resolveTarget(h.SubjectLoc)
		g, ok := groups[oid]
		if !ok {
			g = &TargetGroup{oid: oid, title: title}
			groups[oid] = g
			order = append(order, oid)
		}
		g.hits = append(g.hits, h)
		if h.Score > g.best {
			g.best = h.Score
		}
	}
	out := make([]*TargetGroup, len(order))
	for i, oid := range order {
		out[i] = groups[oid]
	}
	return out
}

// Rank applies the prefilter cutoff and the --top/--max-target-seqs
// ranking, returning the surviving groups in descending prefilter score
// order. Discarded groups are dropped entirely unless
// f.BenchmarkRanking is set, in which case they're returned in the second
// slice, outranked, for the caller to flag.
func Rank(groups []*TargetGroup, f Filters) (kept []*TargetGroup, outranked []*TargetGroup) {
	var survivors []*TargetGroup
	for _, g := range groups {
		if g.best < f.MinUngappedScore {
			continue
		}
		survivors = append(survivors, g)
	}
	sort.Slice(survivors, func(i, j int) bool {
		if survivors[i].best != survivors[j].best {
			return survivors[i].best > survivors[j].best
		}
		return survivors[i].oid < survivors[j].oid
	})
	if len(survivors) == 0 {
		return nil, nil
	}

	cut := len(survivors)
	switch {
	case f.TopPercent > 0:
		top := survivors[0].best
		ratio := f.RankFactor
		if ratio == 0 {
			ratio = 1
		}
		threshold := float64(top) * (1 - f.TopPercent/100) * ratio
		cut = 0
		for cut < len(survivors) && float64(survivors[cut].best) >= threshold {
			cut++
		}
	case f.MaxTargetSeqs > 0:
		factor := f.RankFactor
		if factor == 0 {
			factor = 1
		}
		cut = int(float64(f.MaxTargetSeqs) * factor)
		if cut > len(survivors) {
			cut = len(survivors)
		}
	}

	kept = survivors[:cut]
	if f.BenchmarkRanking {
		outranked = survivors[cut:]
	}
	return kept, outranked
}

// CullOverlaps drops an Hsp whose query range overlaps another Hsp of the
// same target by more than overlapThreshold residues if its score is
// lower. Candidates are visited in descending score order and each is
// compared against every already-kept, higher- or equal-scoring HSP.
func CullOverlaps(hsps []Hsp, overlapThreshold int) []Hsp {
	if len(hsps) < 2 {
		return hsps
	}
	order := make([]int, len(hsps))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return hsps[order[a]].Score > hsps[order[b]].Score })

	var kept []Hsp
	for _, idx := range order {
		cand := hsps[idx]
		overlapped := false
		for _, k := range kept {
			if overlapLen(cand, k) > overlapThreshold {
				overlapped = true
				break
			}
		}
		if !overlapped {
			kept = append(kept, cand)
		}
	}
	return kept
}

func overlapLen(a, b Hsp) int {
	lo := a.QueryStart
	if b.QueryStart > lo {
		lo = b.QueryStart
	}
	hi := a.QueryEnd
	if b.QueryEnd < hi {
		hi = b.QueryEnd
	}
	if hi <= lo {
		return 0
	}
	return hi - lo
}

// ApplyUserFilters drops Hsps failing the user-facing thresholds.
// querySelfTitle is the title of the query itself, used for the
// --no-self-hits identity comparison.
func ApplyUserFilters(hsps []Hsp, queryLen int, f Filters, querySelfTitle string) []Hsp {
	var out []Hsp
	for _, h := range hsps {
		if f.NoSelfHits && h.TargetTitle == querySelfTitle {
			continue
		}
		if h.Length > 0 {
			idPct := 100 * float64(h.Identities) / float64(h.Length)
			if idPct < f.MinIdentityPct {
				continue
			}
		}
		if queryLen > 0 {
			qCover := 100 * float64(h.QueryEnd-h.QueryStart) / float64(queryLen)
			if qCover < f.MinQueryCover {
				continue
			}
		}
		if h.SubjectLen > 0 {
			sCover := 100 * float64(h.SubjectEnd-h.SubjectStart) / float64(h.SubjectLen)
			if sCover < f.MinSubjectCover {
				continue
			}
		}
		out = append(out, h)
		if f.MaxHsps > 0 && len(out) >= f.MaxHsps {
			break
		}
	}
	return out
}

// SortForOutput sorts a query's surviving Hsps by E-value ascending, then
// score descending, then target oid ascending, so repeated runs emit
// byte-identical output.
func SortForOutput(hsps []Hsp) {
	sort.Slice(hsps, func(i, j int) bool {
		if hsps[i].EValue != hsps[j].EValue {
			return hsps[i].EValue < hsps[j].EValue
		}
		if hsps[i].Score != hsps[j].Score {
			return hsps[i].Score > hsps[j].Score
		}
		return hsps[i].TargetOID < hsps[j].TargetOID
	})
}
