// Package search is the composition root wiring the leaf packages into the
// end-to-end pipeline: load a reference block, build its seed indexes, load
// a query block against it, match seeds, extend ungapped into the hit
// buffer, then drain the buffer per query through ranking, gapped
// extension, statistics, and dictionary registration. Stage boundaries are
// explicit so back-pressure (the hit buffer's shard budget) is visible
// rather than hidden inside one fused loop.
//
// SeedUnit and ChainQuery are the leaf work functions the block scheduler
// dispatches across its worker pool; Seed and Chain are their sequential
// compositions over every partition, shape, and query.
package search

import (
	"sort"

	"github.com/alignkit/alignkit/internal/alphabet"
	"github.com/alignkit/alignkit/internal/block"
	"github.com/alignkit/alignkit/internal/chain"
	"github.com/alignkit/alignkit/internal/config"
	"github.com/alignkit/alignkit/internal/dictionary"
	"github.com/alignkit/alignkit/internal/gapped"
	"github.com/alignkit/alignkit/internal/hitbuffer"
	"github.com/alignkit/alignkit/internal/seedindex"
	"github.com/alignkit/alignkit/internal/seedmatch"
	"github.com/alignkit/alignkit/internal/shape"
	"github.com/alignkit/alignkit/internal/stats"
	"github.com/alignkit/alignkit/internal/ungapped"
)

// ShapeIndexes is the per-shape seed index of one Block, built once per
// Block load and read-only thereafter.
type ShapeIndexes map[int]*seedindex.Index

// BuildIndexes builds the seed index for every active shape over blk, once
// per block load; the indexes are read-only afterwards.
func BuildIndexes(blk *block.Block, shapes []*shape.Shape, red *shape.Reduction, partitions, hitCap int) ShapeIndexes {
	out := make(ShapeIndexes, len(shapes))
	arena := blk.Seqs.Arena()
	for _, s := range shapes {
		out[s.ID] = seedindex.Build(s, red, arena, partitions, hitCap)
	}
	return out
}

// SeedUnit runs seed matching and ungapped extension for one
// (query-range, partition, shape) work unit, the leaf granularity the
// block scheduler dispatches. Hits for queries outside [qlo,qhi) are left
// to the unit that owns that range. Safe for concurrent calls: the blocks
// and indexes are read-only and the hit buffer locks per shard.
func SeedUnit(s *shape.Shape, qIdx, rIdx ShapeIndexes, part, qlo, qhi int, queryBlk, refBlk *block.Block, opts *config.Options, hb *hitbuffer.Buffer) error {
	qArena := queryBlk.Seqs.Arena()
	rArena := refBlk.Seqs.Arena()

	cands := seedmatch.MatchPartition(s, qIdx[s.ID], rIdx[s.ID], part, qArena, rArena, opts.SeedMatch)
	for _, group := range groupByQuery(queryBlk, cands) {
		if group.queryIdx < qlo || group.queryIdx >= qhi {
			continue
		}
		hits := ungapped.FilterAndExtend(opts.Matrix, qArena, rArena, uint32(group.queryIdx), group.cands, opts.Ungapped)
		for _, h := range hits {
			if err := hb.Push(group.queryIdx, h); err != nil {
				return err
			}
		}
	}
	return nil
}

// Seed runs every (partition, shape) unit of one (queryBlock, refBlock)
// pair sequentially and flushes the hit buffer, the single-threaded
// composition of SeedUnit.
func Seed(shapes []*shape.Shape, qIdx, rIdx ShapeIndexes, queryBlk, refBlk *block.Block, opts *config.Options, hb *hitbuffer.Buffer) error {
	n := queryBlk.Seqs.Len()
	for _, s := range shapes {
		for p := 0; p < qIdx[s.ID].Partitions(); p++ {
			if err := SeedUnit(s, qIdx, rIdx, p, 0, n, queryBlk, refBlk, opts, hb); err != nil {
				return err
			}
		}
	}
	return hb.Flush()
}

type candidateGroup struct {
	queryIdx int
	cands    []seedmatch.Candidate
}

// groupByQuery splits cands (positions in queryBlk's flat arena) by which
// query sequence owns each candidate's query-side position, since
// ungapped.FilterAndExtend operates on one query context at a time.
func groupByQuery(queryBlk *block.Block, cands []seedmatch.Candidate) []candidateGroup {
	byQuery := make(map[int][]seedmatch.Candidate)
	var order []int
	for _, c := range cands {
		qi, _, ok := queryBlk.Seqs.Locate(int(c.QueryLoc.Pos))
		if !ok {
			continue // candidate landed on a sentinel byte; not a real seed position
		}
		if _, seen := byQuery[qi]; !seen {
			order = append(order, qi)
		}
		byQuery[qi] = append(byQuery[qi], c)
	}
	sort.Ints(order)
	out := make([]candidateGroup, len(order))
	for i, qi := range order {
		out[i] = candidateGroup{queryIdx: qi, cands: byQuery[qi]}
	}
	return out
}

// QueryResult is one query's complete, ordered set of surviving Hsps,
// ready for the output sink.
type QueryResult struct {
	QueryIdx int
	Title    string
	Hsps     []chain.Hsp
}

// ReadHits drains every hit-buffer shard and groups the hits by query
// context, the read phase that separates seeding from chaining.
func ReadHits(hb *hitbuffer.Buffer, shards int) (map[uint32][]ungapped.Hit, error) {
	byQuery := make(map[uint32][]ungapped.Hit)
	for p := 0; p < shards; p++ {
		hits, err := hb.Read(p)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			byQuery[h.QueryContext] = append(byQuery[h.QueryContext], h)
		}
	}
	return byQuery, nil
}

// ChainQuery runs the chainer pipeline for a single query: group its hits
// by target, rank, gapped extension with composition adjustment, culling,
// user filters, and the deterministic output sort. It is the per-query
// work unit the scheduler dispatches during the chain phase; dict access
// is internally locked and everything else it touches is read-only.
func ChainQuery(qi int, hits []ungapped.Hit, queryBlk, refBlk *block.Block, refBlockID int, dict *dictionary.Dictionary, ka alphabet.KarlinAltschul, opts *config.Options) (QueryResult, error) {
	title := queryBlk.Titles.Get(qi)
	if len(hits) == 0 || !queryBlk.ContextValid(qi) {
		// A fully masked context gets its "no valid contexts" record the
		// same way a hitless query does: one empty result, never silence.
		return QueryResult{QueryIdx: qi, Title: title}, nil
	}

	groups := chain.GroupByTarget(hits, func(subjectLoc uint64) (uint64, string) {
		si, _, ok := refBlk.Seqs.Locate(int(subjectLoc))
		if !ok {
			return 0, ""
		}
		oid := uint64(refBlk.BlockToOID[si])
		return oid, refBlk.Titles.Get(si)
	})

	kept, outranked := chain.Rank(groups, opts.Filters)
	if opts.Filters.BenchmarkRanking {
		kept = append(kept, outranked...)
	}

	querySeq := queryBlk.Seqs.Sequence(qi)
	dbLetters := int(refBlk.Seqs.RawLen())
	gp := compAdjustedParams(querySeq, ka, opts)

	var hsps []chain.Hsp
	for _, g := range kept {
		if len(g.Hits()) > 0 {
			if si, _, ok := refBlk.Seqs.Locate(int(g.Hits()[0].SubjectLoc)); ok {
				if _, err := dict.DictID(refBlockID, si, g.OID(), refBlk.Seqs.SequenceLen(si), g.Title(), nil, 0); err != nil {
					return QueryResult{}, err
				}
			}
		}
		hsps = append(hsps, alignTarget(g, queryBlk, querySeq, refBlk, opts, gp, ka, len(querySeq), dbLetters)...)
	}

	hsps = chain.CullOverlaps(hsps, opts.Filters.InnerCullingOverlap)
	hsps = chain.ApplyUserFilters(hsps, len(querySeq), opts.Filters, title)
	chain.SortForOutput(hsps)

	return QueryResult{QueryIdx: qi, Title: title, Hsps: hsps}, nil
}

// Chain drains the hit buffer and runs ChainQuery for every query in
// queryBlk against refBlk, the single-threaded composition the tests and
// simple callers use.
func Chain(hb *hitbuffer.Buffer, shards int, queryBlk, refBlk *block.Block, refBlockID int, dict *dictionary.Dictionary, ka alphabet.KarlinAltschul, opts *config.Options) ([]QueryResult, error) {
	byQuery, err := ReadHits(hb, shards)
	if err != nil {
		return nil, err
	}

	n := queryBlk.Seqs.Len()
	results := make([]QueryResult, 0, n)
	for qi := 0; qi < n; qi++ {
		r, err := ChainQuery(qi, byQuery[uint32(qi)], queryBlk, refBlk, refBlockID, dict, ka, opts)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

// minCompLen is the shortest sequence whose observed composition is
// trusted for adjustment; below it the frequency estimates are too noisy
// and both modes leave scores alone.
const minCompLen = 40

// compAdjustedParams returns the gapped-DP parameters for one query with
// the Yu-Altschul per-residue bias vector attached when that mode is
// active and the query's composition has drifted far enough from the
// background to move at least one score point.
func compAdjustedParams(querySeq []byte, ka alphabet.KarlinAltschul, opts *config.Options) gapped.Params {
	gp := opts.Gapped
	if opts.CompBased != alphabet.CBSHitYuAltschul || len(querySeq) < minCompLen {
		return gp
	}
	comp := stats.CompositionVector(querySeq)
	if stats.YuAltschulAdjust(comp, stats.RobinsonComposition, ka.Lambda) < 1 {
		return gp
	}
	gp.CompBias = stats.CompBiasVector(querySeq, stats.RobinsonComposition, ka.Lambda)
	return gp
}

// alignTarget runs gapped extension over every hit belonging to one
// target, then converts each accepted gapped.Result plus its statistics
// into a chain.Hsp. Under the full-matrix composition mode the target gets
// a per-target adjusted copy of the substitution matrix; under the
// Yu-Altschul mode gp already carries the query's bias vector. querySeq
// and a target's residues are both per-sequence views
// (block.SequenceSet.Sequence), so gapped.Align's Result coordinates are
// already query/subject-relative and need no further translation back
// through the arena; only the seed anchor, still carried as an
// arena-absolute offset on the Hit, needs Locate to become local.
func alignTarget(g *chain.TargetGroup, queryBlk *block.Block, querySeq []byte, refBlk *block.Block, opts *config.Options, gp gapped.Params, ka alphabet.KarlinAltschul, queryLen, dbLetters int) []chain.Hsp {
	seen := make(map[int]bool) // subject sequence index already aligned for this target
	qPrime, dbPrime := stats.EffectiveLengths(ka, queryLen, dbLetters, 20)
	var out []chain.Hsp
	for _, h := range g.Hits() {
		si, sPos, ok := refBlk.Seqs.Locate(int(h.SubjectLoc))
		if !ok || seen[si] {
			continue
		}
		_, qPos, ok := queryBlk.Seqs.Locate(int(h.SeedOffset))
		if !ok {
			continue
		}
		targetSeq := refBlk.Seqs.Sequence(si)

		m := opts.Matrix
		if opts.CompBased == alphabet.CBSFullMatrix && len(targetSeq) >= minCompLen {
			adjusted := *opts.Matrix
			params := opts.CBS
			params.Mode = alphabet.CBSFullMatrix
			stats.FullMatrixAdjust(&adjusted, stats.CompositionVector(targetSeq), params)
			m = &adjusted
		}

		res := gapped.Align(m, querySeq, targetSeq, qPos, sPos, gp)
		if res.Score <= 0 {
			continue
		}
		seen[si] = true

		out = append(out, chain.Hsp{
			TargetOID:    g.OID(),
			TargetTitle:  g.Title(),
			Score:        res.Score,
			BitScore:     stats.BitScore(ka, res.Score),
			EValue:       stats.EValue(ka, res.Score, qPrime, dbPrime),
			QueryStart:   res.QueryStart,
			QueryEnd:     res.QueryEnd,
			SubjectStart: res.SubjectStart,
			SubjectEnd:   res.SubjectEnd,
			SubjectLen:   len(targetSeq),
			Transcript:   res.Transcript,
			Length:       res.Identities + res.Mismatches + res.Gaps,
			Identities:   res.Identities,
			Mismatches:   res.Mismatches,
			Positives:    res.Positives,
			GapOpenings:  res.GapOpenings,
			Gaps:         res.Gaps,
		})
	}
	return out
}
