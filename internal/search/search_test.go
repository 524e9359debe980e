package search

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alignkit/alignkit/internal/alphabet"
	"github.com/alignkit/alignkit/internal/block"
	"github.com/alignkit/alignkit/internal/config"
	"github.com/alignkit/alignkit/internal/dictionary"
	"github.com/alignkit/alignkit/internal/hitbuffer"
	"github.com/alignkit/alignkit/internal/shape"
)

// identity20 maps every standard amino acid to its own class, so a shape's
// packed seed key only matches an identical run of residues.
var identity20 = shape.NewReduction("Identity20", map[byte]byte{
	'A': 0, 'R': 1, 'N': 2, 'D': 3, 'C': 4, 'Q': 5, 'E': 6, 'G': 7, 'H': 8, 'I': 9,
	'L': 10, 'K': 11, 'M': 12, 'F': 13, 'P': 14, 'S': 15, 'T': 16, 'W': 17, 'Y': 18, 'V': 19,
})

func loadFasta(t *testing.T, title, seq string) *block.Block {
	t.Helper()
	fasta := ">" + title + "\n" + seq + "\n"
	b, warnings, err := block.Load(strings.NewReader(fasta), 0, nil)
	require.NoError(t, err)
	require.Empty(t, warnings)
	b.BlockToOID = []uint32{1}
	return b
}

// TestChainSelfHitIdentity: a query identical to its single database entry
// must produce one HSP spanning the whole sequence with 100% identity.
func TestChainSelfHitIdentity(t *testing.T) {
	const seq = "MKTIIALSYIFCLVFA"
	queryBlk := loadFasta(t, "query", seq)
	refBlk := loadFasta(t, "sp|P00001|T", seq)

	sh, err := shape.Contiguous(0, 6)
	require.NoError(t, err)
	shapes := []*shape.Shape{sh}

	qIdx := BuildIndexes(queryBlk, shapes, identity20, 1, 1<<20)
	rIdx := BuildIndexes(refBlk, shapes, identity20, 1, 1<<20)

	opts := config.DefaultOptions()
	opts.SeedMatch.MinIdentities = 6
	opts.Ungapped.MinRawScore = 10

	hb := hitbuffer.New(hitbuffer.Params{Shards: 4, BudgetPerBin: 1 << 20, TmpDir: t.TempDir()})
	defer hb.Close()

	require.NoError(t, Seed(shapes, qIdx, rIdx, queryBlk, refBlk, opts, hb))

	dict, err := dictionary.Open(t.TempDir() + "/dict.kv")
	require.NoError(t, err)
	defer dict.Close()

	ka, ok := alphabet.Lookup("BLOSUM62", opts.Matrix.GapOpen, opts.Matrix.GapExtend)
	require.True(t, ok)

	results, err := Chain(hb, opts.HitBuffer.Shards, queryBlk, refBlk, 0, dict, ka, opts)
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	require.NotEmpty(t, r.Hsps)
	best := r.Hsps[0]
	assert.Equal(t, uint64(1), best.TargetOID)
	assert.Equal(t, "sp|P00001|T", best.TargetTitle)
	assert.Equal(t, len(seq), best.Identities)
	assert.Equal(t, 0, best.Mismatches)
	assert.NotEmpty(t, best.Transcript)
	assert.Equal(t, 1, dict.Len())
}

// TestChainNoHitsProducesEmptyResult covers a query with no seed matches at
// all: Chain must still return a QueryResult (so the sink sees every query
// exactly once), just with no Hsps.
func TestChainNoHitsProducesEmptyResult(t *testing.T) {
	queryBlk := loadFasta(t, "query", "MKTIIALSYIFCLVFA")
	refBlk := loadFasta(t, "sp|P99999|Unrelated", "WYVPGHQNDECASTRKL")

	sh, err := shape.Contiguous(0, 6)
	require.NoError(t, err)
	shapes := []*shape.Shape{sh}

	qIdx := BuildIndexes(queryBlk, shapes, identity20, 1, 1<<20)
	rIdx := BuildIndexes(refBlk, shapes, identity20, 1, 1<<20)

	opts := config.DefaultOptions()
	hb := hitbuffer.New(hitbuffer.Params{Shards: 4, BudgetPerBin: 1 << 20, TmpDir: t.TempDir()})
	defer hb.Close()

	require.NoError(t, Seed(shapes, qIdx, rIdx, queryBlk, refBlk, opts, hb))

	dict, err := dictionary.Open(t.TempDir() + "/dict.kv")
	require.NoError(t, err)
	defer dict.Close()

	ka, ok := alphabet.Lookup("BLOSUM62", opts.Matrix.GapOpen, opts.Matrix.GapExtend)
	require.True(t, ok)

	results, err := Chain(hb, opts.HitBuffer.Shards, queryBlk, refBlk, 0, dict, ka, opts)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Hsps)
	assert.Equal(t, 0, dict.Len())
}

// TestSeedUnitAndChainQueryPerUnit drives the same self-hit search through
// the per-unit entry points the block scheduler dispatches — one SeedUnit
// call per (partition, shape) and one ChainQuery call per query — and must
// land on the same alignment the sequential Seed/Chain path finds.
func TestSeedUnitAndChainQueryPerUnit(t *testing.T) {
	const seq = "MKTIIALSYIFCLVFA"
	queryBlk := loadFasta(t, "query", seq)
	refBlk := loadFasta(t, "sp|P00001|T", seq)

	sh, err := shape.Contiguous(0, 6)
	require.NoError(t, err)
	shapes := []*shape.Shape{sh}

	const partitions = 4
	qIdx := BuildIndexes(queryBlk, shapes, identity20, partitions, 1<<20)
	rIdx := BuildIndexes(refBlk, shapes, identity20, partitions, 1<<20)

	opts := config.DefaultOptions()
	opts.SeedMatch.MinIdentities = 6
	opts.Ungapped.MinRawScore = 10

	hb := hitbuffer.New(hitbuffer.Params{Shards: 4, BudgetPerBin: 1 << 20, TmpDir: t.TempDir()})
	defer hb.Close()

	n := queryBlk.Seqs.Len()
	for _, s := range shapes {
		for p := 0; p < partitions; p++ {
			require.NoError(t, SeedUnit(s, qIdx, rIdx, p, 0, n, queryBlk, refBlk, opts, hb))
		}
	}
	require.NoError(t, hb.Flush())

	dict, err := dictionary.Open(t.TempDir() + "/dict.kv")
	require.NoError(t, err)
	defer dict.Close()

	ka, ok := alphabet.Lookup("BLOSUM62", opts.Matrix.GapOpen, opts.Matrix.GapExtend)
	require.True(t, ok)

	byQuery, err := ReadHits(hb, opts.HitBuffer.Shards)
	require.NoError(t, err)

	r, err := ChainQuery(0, byQuery[0], queryBlk, refBlk, 0, dict, ka, opts)
	require.NoError(t, err)
	require.NotEmpty(t, r.Hsps)
	assert.Equal(t, len(seq), r.Hsps[0].Identities)
	assert.Equal(t, "sp|P00001|T", r.Hsps[0].TargetTitle)
}
