package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alignkit/alignkit/internal/ungapped"
)

func TestGroupByTarget(t *testing.T) {
	hits := []ungapped.Hit{
		{SubjectLoc: 10, Score: 50},
		{SubjectLoc: 11, Score: 60},
		{SubjectLoc: 100, Score: 40},
	}
	resolve := func(loc uint64) (uint64, string) {
		if loc < 50 {
			return 1, "targetA"
		}
		return 2, "targetB"
	}
	groups := GroupByTarget(hits, resolve)
	require.Len(t, groups, 2)
	assert.Equal(t, uint64(1), groups[0].oid)
	assert.Equal(t, int32(60), groups[0].best)
	assert.Equal(t, uint64(2), groups[1].oid)
	assert.Equal(t, int32(40), groups[1].best)
}

func TestRankMaxTargetSeqs(t *testing.T) {
	groups := []*TargetGroup{
		{oid: 1, best: 100},
		{oid: 2, best: 90},
		{oid: 3, best: 80},
		{oid: 4, best: 70},
	}
	kept, outranked := Rank(groups, Filters{MaxTargetSeqs: 2})
	require.Len(t, kept, 2)
	assert.Equal(t, uint64(1), kept[0].oid)
	assert.Equal(t, uint64(2), kept[1].oid)
	assert.Empty(t, outranked, "benchmark ranking disabled: outranked targets are discarded, not flagged")
}

func TestRankBenchmarkRankingFlagsInsteadOfDiscarding(t *testing.T) {
	groups := []*TargetGroup{
		{oid: 1, best: 100},
		{oid: 2, best: 90},
	}
	kept, outranked := Rank(groups, Filters{MaxTargetSeqs: 1, BenchmarkRanking: true})
	require.Len(t, kept, 1)
	require.Len(t, outranked, 1)
	assert.Equal(t, uint64(2), outranked[0].oid)
}

func TestCullOverlapsKeepsHigherScoringHsp(t *testing.T) {
	hsps := []Hsp{
		{QueryStart: 0, QueryEnd: 50, Score: 100},
		{QueryStart: 10, QueryEnd: 60, Score: 50}, // overlaps the first by 40 residues
	}
	kept := CullOverlaps(hsps, 5)
	require.Len(t, kept, 1)
	assert.Equal(t, int32(100), kept[0].Score)
}

func TestCullOverlapsKeepsNonOverlapping(t *testing.T) {
	hsps := []Hsp{
		{QueryStart: 0, QueryEnd: 10, Score: 100},
		{QueryStart: 20, QueryEnd: 30, Score: 50},
	}
	kept := CullOverlaps(hsps, 5)
	assert.Len(t, kept, 2)
}

func TestSortForOutputDeterministicTieBreak(t *testing.T) {
	hsps := []Hsp{
		{TargetOID: 5, Score: 80, EValue: 1e-10},
		{TargetOID: 1, Score: 80, EValue: 1e-10},
		{TargetOID: 2, Score: 100, EValue: 1e-20},
	}
	SortForOutput(hsps)
	assert.Equal(t, uint64(2), hsps[0].TargetOID)
	assert.Equal(t, uint64(1), hsps[1].TargetOID)
	assert.Equal(t, uint64(5), hsps[2].TargetOID)
}

func TestApplyUserFiltersSubjectCover(t *testing.T) {
	hsps := []Hsp{
		{TargetTitle: "long", Length: 10, Identities: 10, QueryStart: 0, QueryEnd: 10, SubjectStart: 0, SubjectEnd: 10, SubjectLen: 100},
		{TargetTitle: "short", Length: 10, Identities: 10, QueryStart: 0, QueryEnd: 10, SubjectStart: 0, SubjectEnd: 10, SubjectLen: 12},
	}
	out := ApplyUserFilters(hsps, 10, Filters{MinSubjectCover: 50}, "")
	require.Len(t, out, 1)
	assert.Equal(t, "short", out[0].TargetTitle)
}

func TestApplyUserFiltersNoSelfHits(t *testing.T) {
	hsps := []Hsp{
		{TargetTitle: "same", Length: 10, Identities: 10, QueryStart: 0, QueryEnd: 10},
		{TargetTitle: "other", Length: 10, Identities: 10, QueryStart: 0, QueryEnd: 10},
	}
	out := ApplyUserFilters(hsps, 10, Filters{NoSelfHits: true}, "same")
	require.Len(t, out, 1)
	assert.Equal(t, "other", out[0].TargetTitle)
}
