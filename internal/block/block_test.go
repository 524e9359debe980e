package block

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceSetInvariants(t *testing.T) {
	ss := NewSequenceSet()
	_, err := ss.Append([]byte("MKTIIALSYIFCLVFA"))
	require.NoError(t, err)
	_, err = ss.Append([]byte("ACDEFGHIKLMNPQRSTVWY"))
	require.NoError(t, err)

	require.NoError(t, ss.checkInvariants())
	assert.Equal(t, 2, ss.Len())
	assert.Equal(t, 16, ss.SequenceLen(0))
	assert.Equal(t, "MKTIIALSYIFCLVFA", string(ss.Sequence(0)))

	before, after := ss.Bracket(1)
	assert.Equal(t, byte(27), before)
	assert.Equal(t, byte(27), after)
}

func TestSequenceSetRejectsZeroLength(t *testing.T) {
	ss := NewSequenceSet()
	_, err := ss.Append(nil)
	assert.Error(t, err)
}

func TestSequenceSetLocate(t *testing.T) {
	ss := NewSequenceSet()
	_, err := ss.Append([]byte("MKTIIALSYIFCLVFA"))
	require.NoError(t, err)
	_, err = ss.Append([]byte("ACDEFGHIKLMNPQRSTVWY"))
	require.NoError(t, err)

	arena := ss.Arena()

	// Offset 1 is the first residue of sequence 0 (offset 0 is its leading
	// sentinel).
	i, p, ok := ss.Locate(1)
	require.True(t, ok)
	assert.Equal(t, 0, i)
	assert.Equal(t, 0, p)
	assert.Equal(t, byte('M'), arena[1])

	// Offset 0 lands on the leading sentinel, not a residue.
	_, _, ok = ss.Locate(0)
	assert.False(t, ok)

	// The last residue of sequence 1 locates to (1, SequenceLen(1)-1).
	last := int(ss.offset[2]) - 2 // one before the trailing sentinel
	i, p, ok = ss.Locate(last)
	require.True(t, ok)
	assert.Equal(t, 1, i)
	assert.Equal(t, ss.SequenceLen(1)-1, p)
}

func TestTranslationFraming(t *testing.T) {
	// length(q,f) == (dna_len(q) - (f mod 3)) / 3 before padding.
	dna := []byte("ATGAAAACCATAATAGCATTAAGTTATATTTTCTGTCTTGTTTTTGCA") // encodes MKTII...
	frames := SixFrameTranslate(dna, 1)
	for f := 0; f < 3; f++ {
		want := FrameLength(len(dna), f)
		got := len(frames[f])
		assert.InDelta(t, want, got, 1, "frame %d", f)
	}
	assert.Equal(t, byte('M'), frames[0][0])
}

func TestReverseFramesAreReverseComplementTranslations(t *testing.T) {
	dna := []byte("ATGAAAACCATAATAGCATTAAGTTATATTTTCTGTCTTGTTTTTGCA")
	rc := make([]byte, len(dna))
	for i, b := range dna {
		rc[len(dna)-1-i] = complement(b)
	}

	fwd := SixFrameTranslate(dna, 1)
	rev := SixFrameTranslate(rc, 1)
	for f := 0; f < 3; f++ {
		assert.Equal(t, rev[f], fwd[f+3], "reverse frame %d", f+1)
	}
}

func TestSoftMaskRoundtrip(t *testing.T) {
	b := New()
	seq := make([]byte, 60)
	for i := range seq {
		seq[i] = 'A' // maximally low-complexity, will be flagged
	}
	idx, err := b.Seqs.Append(seq)
	require.NoError(t, err)

	unmasked := NewSequenceSet()
	_, err = unmasked.Append(append([]byte(nil), seq...))
	require.NoError(t, err)
	b.UnmaskedSeqs = unmasked

	before := append([]byte(nil), b.Seqs.Sequence(idx)...)

	require.NoError(t, b.SoftMask(MaskSEG))
	require.NoError(t, b.SoftMask(MaskSEG)) // idempotent

	require.NoError(t, b.RemoveSoftMasking())
	after := b.Seqs.Sequence(idx)

	assert.Equal(t, before, after, "remove_soft_masking(soft_mask(block)) must equal block byte-for-byte")
}

func TestLazyMaskingCooperativeProtocol(t *testing.T) {
	b := New()
	_, err := b.Seqs.Append([]byte("ACDEFGHIKLMNPQRSTVWY"))
	require.NoError(t, err)

	buf, ok := b.FetchSeqIfUnmasked(0, nil)
	require.True(t, ok)
	require.NotEmpty(t, buf)

	_, ok = b.FetchSeqIfUnmasked(0, nil)
	assert.False(t, ok, "second fetch must not win ownership")

	for i := range buf {
		buf[i] = maskByte
	}
	b.WriteMaskedSeq(0, buf)
	for _, r := range b.Seqs.Sequence(0) {
		assert.Equal(t, byte(maskByte), r)
	}
}

func TestContextInfosFlagsMaskedContexts(t *testing.T) {
	b := New()
	_, err := b.Seqs.Append([]byte("MKTIIALS"))
	require.NoError(t, err)
	_, err = b.Seqs.Append([]byte{maskByte, maskByte, maskByte})
	require.NoError(t, err)

	infos := b.ContextInfos(func(l int) uint64 { return uint64(l) * 10 })
	require.Len(t, infos, 2)

	assert.True(t, infos[0].Valid)
	assert.Equal(t, 8, infos[0].Length)
	assert.Equal(t, uint64(80), infos[0].EffectiveSpace)
	assert.Equal(t, uint64(1), infos[0].Offset, "first residue sits after the leading sentinel")

	assert.False(t, infos[1].Valid)
	assert.Zero(t, infos[1].EffectiveSpace, "effSpace is never invoked for an invalid context")

	assert.True(t, b.HasValidContext())
}

func TestComputeSelfScores(t *testing.T) {
	b := New()
	_, err := b.Seqs.Append([]byte("MK"))
	require.NoError(t, err)
	_, err = b.Seqs.Append([]byte("MKTI"))
	require.NoError(t, err)

	b.ComputeSelfScores(func(seq []byte) int32 { return int32(len(seq)) })
	require.Len(t, b.SelfScores, 2)
	assert.Equal(t, int32(2), b.SelfScores[0])
	assert.Equal(t, int32(4), b.SelfScores[1])
}

func TestFixTitleWarnings(t *testing.T) {
	_, warn := fixTitle(" sp|P00001|T")
	assert.NotEmpty(t, warn)
	clean, warn2 := fixTitle("sp|P00001|T")
	assert.Empty(t, warn2)
	assert.Equal(t, "sp|P00001|T", clean)
}
