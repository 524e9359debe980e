// Package seedmatch implements the tiled query x subject seed matcher:
// given a query seed index and a reference seed index built over the same
// shape, it merge-walks matching partitions and produces candidate
// (query, subject) seed pairs for the ungapped extender.
package seedmatch

import (
	"sort"

	"github.com/alignkit/alignkit/internal/seedindex"
	"github.com/alignkit/alignkit/internal/shape"
)

// Candidate is a surviving (query, subject) seed pair handed to the
// ungapped extender.
type Candidate struct {
	ShapeID   int
	QueryLoc  seedindex.Location
	SubjLoc   seedindex.Location
	SeedLen   int
}

// Params bounds the tile sizes and acceptance threshold of the matcher.
// FingerprintRadius is half the width of the 48-residue fingerprint window
// centered on the seed.
type Params struct {
	OuterTile         int
	InnerTile         int
	FingerprintRadius int
	MinIdentities     int
}

// DefaultParams carries the fixed tile sizes the matcher was tuned with.
var DefaultParams = Params{
	OuterTile:         1024,
	InnerTile:         128,
	FingerprintRadius: 24,
	MinIdentities:     12,
}

// Match runs the merge-walk for one shape across every partition of qidx
// and ridx, returning surviving candidates sorted by query position.
// querySeq and subjSeq are the residue streams the indexes were built over,
// used to compare fingerprints.
func Match(s *shape.Shape, qidx, ridx *seedindex.Index, querySeq, subjSeq []byte, p Params) []Candidate {
	if qidx.Partitions() != ridx.Partitions() {
		panic("seedmatch: query and reference seed indexes have different partition counts")
	}
	var out []Candidate
	for part := 0; part < qidx.Partitions(); part++ {
		out = append(out, MatchPartition(s, qidx, ridx, part, querySeq, subjSeq, p)...)
	}
	sortByQuery(out)
	return out
}

// MatchPartition merge-walks a single partition's sorted key lists,
// forming the Cartesian product of matching seed-key runs and filtering by
// fingerprint popcount. Surviving candidates come back sorted by query
// position. This is the per-partition work unit the block scheduler
// dispatches; Match composes it over every partition.
func MatchPartition(s *shape.Shape, qidx, ridx *seedindex.Index, part int, querySeq, subjSeq []byte, p Params) []Candidate {
	out := matchPartition(s, qidx, ridx, part, querySeq, subjSeq, p)
	sortByQuery(out)
	return out
}

func sortByQuery(out []Candidate) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].QueryLoc.Pos != out[j].QueryLoc.Pos {
			return out[i].QueryLoc.Pos < out[j].QueryLoc.Pos
		}
		return out[i].SubjLoc.Pos < out[j].SubjLoc.Pos
	})
}

// matchPartition is MatchPartition's unsorted core.
func matchPartition(s *shape.Shape, qidx, ridx *seedindex.Index, part int, querySeq, subjSeq []byte, p Params) []Candidate {
	qKeys := qidx.PartitionKeys(part)
	qLocs := qidx.Partition(part)
	rKeys := ridx.PartitionKeys(part)
	rLocs := ridx.Partition(part)

	var out []Candidate
	i, j := 0, 0
	for i < len(qKeys) && j < len(rKeys) {
		switch {
		case qKeys[i] < rKeys[j]:
			i++
		case qKeys[i] > rKeys[j]:
			j++
		default:
			key := qKeys[i]
			qEnd := i
			for qEnd < len(qKeys) && qKeys[qEnd] == key {
				qEnd++
			}
			rEnd := j
			for rEnd < len(rKeys) && rKeys[rEnd] == key {
				rEnd++
			}
			if !qidx.IsFrequent(key) && !ridx.IsFrequent(key) {
				out = append(out, cartesian(s, qLocs[i:qEnd], rLocs[j:rEnd], querySeq, subjSeq, p)...)
			}
			i, j = qEnd, rEnd
		}
	}
	return out
}

// cartesian compares every (q, r) location pair sharing a seed key, tiling
// the comparison in InnerTile-sized chunks and keeping pairs whose
// fingerprint popcount meets MinIdentities.
func cartesian(s *shape.Shape, qLocs, rLocs []seedindex.Location, querySeq, subjSeq []byte, p Params) []Candidate {
	if p.OuterTile <= 0 {
		p.OuterTile = DefaultParams.OuterTile
	}
	if p.InnerTile <= 0 {
		p.InnerTile = DefaultParams.InnerTile
	}
	var out []Candidate
	for qo := 0; qo < len(qLocs); qo += p.OuterTile {
		qoHi := min(qo+p.OuterTile, len(qLocs))
		for ro := 0; ro < len(rLocs); ro += p.OuterTile {
			roHi := min(ro+p.OuterTile, len(rLocs))
			out = append(out, innerTiles(s, qLocs[qo:qoHi], rLocs[ro:roHi], querySeq, subjSeq, p)...)
		}
	}
	return out
}

func innerTiles(s *shape.Shape, qLocs, rLocs []seedindex.Location, querySeq, subjSeq []byte, p Params) []Candidate {
	var out []Candidate
	for qi := 0; qi < len(qLocs); qi += p.InnerTile {
		qHi := min(qi+p.InnerTile, len(qLocs))
		for ri := 0; ri < len(rLocs); ri += p.InnerTile {
			rHi := min(ri+p.InnerTile, len(rLocs))
			for _, q := range qLocs[qi:qHi] {
				qfp := fingerprint(querySeq, int(q.Pos), p.FingerprintRadius)
				for _, r := range rLocs[ri:rHi] {
					rfp := fingerprint(subjSeq, int(r.Pos), p.FingerprintRadius)
					if popcountMatch(qfp, rfp) >= p.MinIdentities {
						out = append(out, Candidate{ShapeID: s.ID, QueryLoc: q, SubjLoc: r, SeedLen: s.Length})
					}
				}
			}
		}
	}
	return out
}

// fingerprint extracts up to 2*radius residues centered on pos, clamped to
// the sequence bounds, for the cheap popcount comparison.
func fingerprint(seq []byte, pos, radius int) []byte {
	lo := pos - radius
	if lo < 0 {
		lo = 0
	}
	hi := pos + radius
	if hi > len(seq) {
		hi = len(seq)
	}
	return seq[lo:hi]
}

// popcountMatch counts identical residues at aligned offsets between two
// fingerprints. Go has no portable SIMD intrinsic, so this stays a
// branch-light byte loop.
func popcountMatch(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	count := 0
	for i := 0; i < n; i++ {
		if a[i] == b[i] {
			count++
		}
	}
	return count
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
