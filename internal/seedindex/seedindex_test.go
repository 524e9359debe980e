package seedindex

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alignkit/alignkit/internal/shape"
)

func buildIndex(t *testing.T, seq string, partitions, hitCap int) (*Index, *shape.Shape) {
	t.Helper()
	s, err := shape.Contiguous(0, 4)
	require.NoError(t, err)
	return Build(s, shape.Murphy10, []byte(seq), partitions, hitCap), s
}

func TestBuildIndexesEverySeedPosition(t *testing.T) {
	const seq = "MKTIIALSDIFCLVFA"
	idx, s := buildIndex(t, seq, 4, 1<<20)

	total := 0
	for p := 0; p < idx.Partitions(); p++ {
		total += len(idx.Partition(p))
	}
	assert.Equal(t, len(seq)-s.Length+1, total)
}

func TestPartitionKeysAreSorted(t *testing.T) {
	idx, _ := buildIndex(t, "MKTIIALSDIFCLVFAMKTIIALS", 4, 1<<20)
	for p := 0; p < idx.Partitions(); p++ {
		keys := idx.PartitionKeys(p)
		sorted := sort.SliceIsSorted(keys, func(i, j int) bool { return keys[i] < keys[j] })
		assert.True(t, sorted, "partition %d", p)
		assert.Equal(t, len(keys), len(idx.Partition(p)), "keys and locations stay aligned")
	}
}

func TestLookupFindsRepeatedSeed(t *testing.T) {
	// "MKTI" occurs at positions 0 and 8.
	idx, s := buildIndex(t, "MKTIIALSMKTIIALS", 1, 1<<20)

	key, ok := shape.SeedAt(s, shape.Murphy10, []byte("MKTIIALSMKTIIALS"), 0)
	require.True(t, ok)

	locs, _ := idx.Lookup(0, key)
	var positions []int
	for _, l := range locs {
		positions = append(positions, int(l.Pos))
	}
	assert.Contains(t, positions, 0)
	assert.Contains(t, positions, 8)
}

func TestFrequentSeedFilter(t *testing.T) {
	// One seed repeated far past any cutoff must land in the frequent set.
	seq := ""
	for i := 0; i < 40; i++ {
		seq += "MKTI"
	}
	idx, s := buildIndex(t, seq, 1, 1)

	key, ok := shape.SeedAt(s, shape.Murphy10, []byte(seq), 0)
	require.True(t, ok)
	assert.True(t, idx.IsFrequent(key))
}

func TestRareSeedNotFrequent(t *testing.T) {
	idx, s := buildIndex(t, "MKTIIALSDIFCLVFA", 1, 1<<20)
	key, ok := shape.SeedAt(s, shape.Murphy10, []byte("MKTIIALSDIFCLVFA"), 0)
	require.True(t, ok)
	assert.False(t, idx.IsFrequent(key))
}
