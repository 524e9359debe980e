package hitbuffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alignkit/alignkit/internal/ungapped"
)

func TestPushAndReadRoundtrip(t *testing.T) {
	b := New(Params{Shards: 2, BudgetPerBin: 1000, TmpDir: t.TempDir(), Scores: true})
	defer b.Close()

	want := []ungapped.Hit{
		{QueryContext: 1, SubjectLoc: 40, SeedOffset: 3, Score: 12},
		{QueryContext: 1, SubjectLoc: 10, SeedOffset: 7, Score: 9},
		{QueryContext: 3, SubjectLoc: 5, SeedOffset: 1, Score: 4},
	}
	for _, h := range want {
		require.NoError(t, b.Push(0, h))
	}

	got, err := b.Read(0)
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := 1; i < len(got); i++ {
		if got[i-1].QueryContext == got[i].QueryContext {
			assert.LessOrEqual(t, got[i-1].SubjectLoc, got[i].SubjectLoc)
		} else {
			assert.Less(t, got[i-1].QueryContext, got[i].QueryContext)
		}
	}
}

func TestForcedFlushSurvivesSpill(t *testing.T) {
	b := New(Params{Shards: 1, BudgetPerBin: 2, TmpDir: t.TempDir(), Scores: false})
	defer b.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Push(0, ungapped.Hit{QueryContext: 0, SubjectLoc: uint64(i + 1), SeedOffset: 0}))
	}
	require.NoError(t, b.Flush())

	got, err := b.Read(0)
	require.NoError(t, err)
	assert.Len(t, got, 5)
}

func TestBinningSeparatesShards(t *testing.T) {
	b := New(Params{Shards: 4, BudgetPerBin: 1000, TmpDir: t.TempDir()})
	defer b.Close()

	require.NoError(t, b.Push(0, ungapped.Hit{SubjectLoc: 1}))
	require.NoError(t, b.Push(1, ungapped.Hit{SubjectLoc: 2}))

	bin0, err := b.Read(0)
	require.NoError(t, err)
	assert.Len(t, bin0, 1)

	bin1, err := b.Read(1)
	require.NoError(t, err)
	assert.Len(t, bin1, 1)
}
