// Package seedindex builds sorted, partitioned seed arrays with
// per-partition histograms and a frequent-seed filter. Each partition holds
// the (seed key, location) pairs whose key hashes into it, sorted by key
// with sort.Slice rather than grown as per-bucket linked lists, so a
// merge-walk across two indexes can seek a partition in O(1).
package seedindex

import (
	"sort"

	"github.com/alignkit/alignkit/internal/shape"
)

// Location identifies where a seed occurs. Pos is the offset in the indexed
// arena the shape was applied at; Build scans one flat arena and leaves
// SeqIdx at 0, so callers map Pos back to a sequence with
// block.SequenceSet.Locate.
type Location struct {
	SeqIdx uint32
	Pos    uint32
}

// entry pairs a packed seed key with its location, the unit sorted within a
// partition.
type entry struct {
	key shape.Packed
	loc Location
}

// Index is the seed table for one (Shape, partition count) combination over
// one Block: partitioned, per-partition-sorted seed locations plus
// histograms giving the start of each distinct seed key.
type Index struct {
	Shape      *shape.Shape
	Reduction  *shape.Reduction
	partitions int
	buckets    [][]entry        // one slice per partition, sorted by key after Build
	histogram  [][]histogramRow // one slice per partition: distinct key -> [start,end)
	frequent   map[shape.Packed]bool
}

type histogramRow struct {
	key        shape.Packed
	start, end int
}

// Build enumerates every seed position in seq (a Block's packed residues),
// hashes each into one of `partitions` buckets by its top bits, sorts each
// bucket, and derives the frequent-seed set using hitCap and the
// density-based cutoff for n letters.
func Build(s *shape.Shape, red *shape.Reduction, seq []byte, partitions, hitCap int) *Index {
	idx := &Index{Shape: s, Reduction: red, partitions: partitions}
	idx.buckets = make([][]entry, partitions)

	keyBits := shape.KeyWidth(s, red)
	for pos := 0; pos+s.Length <= len(seq); pos++ {
		key, ok := shape.SeedAt(s, red, seq, pos)
		if !ok {
			continue
		}
		p := partitionOf(key, keyBits, partitions)
		idx.buckets[p] = append(idx.buckets[p], entry{key: key, loc: Location{SeqIdx: 0, Pos: uint32(pos)}})
	}

	idx.histogram = make([][]histogramRow, partitions)
	for p := range idx.buckets {
		sortEntries(idx.buckets[p])
		idx.histogram[p] = buildHistogram(idx.buckets[p])
	}

	cutoff := densityCutoff(len(seq))
	if hitCap > cutoff {
		cutoff = hitCap
	}
	idx.frequent = make(map[shape.Packed]bool)
	for p := range idx.histogram {
		for _, row := range idx.histogram[p] {
			if row.end-row.start > cutoff {
				idx.frequent[row.key] = true
			}
		}
	}
	return idx
}

// partitionOf hashes a packed seed key to a partition by its top bits —
// the top of the key's occupied width, since packing only fills keyBits of
// the 64 available.
func partitionOf(key shape.Packed, keyBits, partitions int) int {
	if partitions <= 1 {
		return 0
	}
	shift := keyBits - int(bitsLog2(partitions))
	if shift < 0 {
		shift = 0
	}
	p := int(uint64(key) >> uint(shift))
	if p >= partitions {
		p = partitions - 1
	}
	return p
}

func bitsLog2(n int) uint {
	b := uint(0)
	for (1 << b) < n {
		b++
	}
	return b
}

// sortEntries sorts one partition bucket by seed key in place.
func sortEntries(bucket []entry) {
	sort.Slice(bucket, func(i, j int) bool { return bucket[i].key < bucket[j].key })
}

func buildHistogram(bucket []entry) []histogramRow {
	var rows []histogramRow
	i := 0
	for i < len(bucket) {
		j := i + 1
		for j < len(bucket) && bucket[j].key == bucket[i].key {
			j++
		}
		rows = append(rows, histogramRow{key: bucket[i].key, start: i, end: j})
		i = j
	}
	return rows
}

// densityCutoff scales the frequent-seed threshold with database size.
func densityCutoff(nLetters int) int {
	cutoff := 1
	for (cutoff * cutoff) < nLetters/1000+1 {
		cutoff++
	}
	if cutoff < 4 {
		cutoff = 4
	}
	return cutoff
}

// Lookup returns all locations sharing seed key in partition p, in sorted
// order, and whether the key is in the frequent-seed set (and should
// typically be skipped downstream).
func (idx *Index) Lookup(p int, key shape.Packed) (locs []Location, frequent bool) {
	for _, row := range idx.histogram[p] {
		if row.key == key {
			out := make([]Location, row.end-row.start)
			for i := row.start; i < row.end; i++ {
				out[i-row.start] = idx.buckets[p][i].loc
			}
			return out, idx.frequent[key]
		}
	}
	return nil, idx.frequent[key]
}

// Partition returns the locations of partition p in key-sorted order (the
// keys themselves come from PartitionKeys), used
// by seedmatch's merge-walk across query and subject indexes.
func (idx *Index) Partition(p int) []Location {
	out := make([]Location, len(idx.buckets[p]))
	for i, e := range idx.buckets[p] {
		out[i] = e.loc
	}
	return out
}

// PartitionKeys returns the seed key aligned with Partition(p)'s locations,
// so a merge-walk can compare keys across two indexes position-by-position.
func (idx *Index) PartitionKeys(p int) []shape.Packed {
	out := make([]shape.Packed, len(idx.buckets[p]))
	for i, e := range idx.buckets[p] {
		out[i] = e.key
	}
	return out
}

// Partitions reports the number of partitions this index was built with.
func (idx *Index) Partitions() int { return idx.partitions }

// IsFrequent reports whether key exceeds the frequent-seed cutoff.
func (idx *Index) IsFrequent(key shape.Packed) bool { return idx.frequent[key] }
