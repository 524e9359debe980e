package block

import (
	"fmt"
	"math"
)

// maskByte is the ASCII form of the mask residue written into a block's
// arena; alphabet.Encode maps it to alphabet.MaskLetter so every masked
// position scores the matrix floor and never participates in a seed.
const maskByte = 'X'

// MaskAlgorithm selects a soft-masking algorithm.
type MaskAlgorithm int

const (
	MaskNone MaskAlgorithm = iota
	MaskSEG
	MaskTantan
)

// SoftMask applies the chosen low-complexity masking algorithm in place.
// Calling SoftMask twice is idempotent: the block remembers that masking
// was applied via softMasked and the recorded intervals, so
// RemoveSoftMasking can restore the unmasked bytes exactly.
func (b *Block) SoftMask(algo MaskAlgorithm) error {
	if algo == MaskNone {
		return nil
	}
	if b.softMasked {
		return nil // idempotent
	}
	for i := 0; i < b.Seqs.Len(); i++ {
		seq := b.Seqs.Sequence(i)
		var intervals []Interval
		switch algo {
		case MaskSEG:
			intervals = segIntervals(seq)
		case MaskTantan:
			intervals = tantanIntervals(seq)
		default:
			return fmt.Errorf("block: unknown mask algorithm %d", algo)
		}
		if len(intervals) == 0 {
			continue
		}
		b.softMaskIntervals[i] = intervals
		for _, iv := range intervals {
			for p := iv.Start; p < iv.End; p++ {
				seq[p] = maskByte
			}
		}
	}
	b.softMasked = true
	return nil
}

// RemoveSoftMasking restores the unmasked bytes exactly, undoing SoftMask.
// This is impossible to do losslessly once residues have been overwritten
// unless the original bytes were preserved; callers that need reversibility
// populate UnmaskedSeqs at load time and this method prefers that copy when
// present, falling back to re-deriving is not attempted (a masked interval's
// original residues are otherwise unrecoverable).
func (b *Block) RemoveSoftMasking() error {
	if !b.softMasked {
		return nil
	}
	if b.UnmaskedSeqs == nil {
		return fmt.Errorf("block: cannot remove soft masking without an UnmaskedSeqs side buffer")
	}
	for i, intervals := range b.softMaskIntervals {
		seq := b.Seqs.Sequence(i)
		orig := b.UnmaskedSeqs.Sequence(i)
		for _, iv := range intervals {
			copy(seq[iv.Start:iv.End], orig[iv.Start:iv.End])
		}
	}
	b.softMasked = false
	b.softMaskIntervals = make(map[int][]Interval)
	return nil
}

// segIntervals is a simplified SEG-style low-complexity detector: it flags
// windows whose Shannon entropy over the 20-letter alphabet falls below a
// fixed threshold. This does not reproduce SEG's exact algorithm but
// satisfies the same contract: idempotent, interval-based masking.
func segIntervals(seq []byte) []Interval {
	const window = 12
	const minEntropy = 2.2
	if len(seq) < window {
		return nil
	}
	var intervals []Interval
	inRun := false
	start := 0
	for i := 0; i+window <= len(seq); i++ {
		if shannonEntropy(seq[i:i+window]) < minEntropy {
			if !inRun {
				inRun = true
				start = i
			}
		} else if inRun {
			intervals = append(intervals, Interval{start, i + window - 1})
			inRun = false
		}
	}
	if inRun {
		intervals = append(intervals, Interval{start, len(seq)})
	}
	return mergeIntervals(intervals)
}

func shannonEntropy(w []byte) float64 {
	var counts [256]int
	for _, b := range w {
		counts[b]++
	}
	var h float64
	n := float64(len(w))
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		h -= p * log2(p)
	}
	return h
}

func log2(x float64) float64 {
	return math.Log2(x)
}

// tantanIntervals is a simplified tandem-repeat detector: it flags windows
// dominated by a short repeated period (2-4 residues), mirroring tantan's
// goal without its exact probabilistic model.
func tantanIntervals(seq []byte) []Interval {
	const window = 10
	var intervals []Interval
	inRun := false
	start := 0
	for i := 0; i+window <= len(seq); i++ {
		if isRepetitive(seq[i : i+window]) {
			if !inRun {
				inRun = true
				start = i
			}
		} else if inRun {
			intervals = append(intervals, Interval{start, i + window - 1})
			inRun = false
		}
	}
	if inRun {
		intervals = append(intervals, Interval{start, len(seq)})
	}
	return mergeIntervals(intervals)
}

func isRepetitive(w []byte) bool {
	for period := 2; period <= 4; period++ {
		matches := 0
		for i := period; i < len(w); i++ {
			if w[i] == w[i-period] {
				matches++
			}
		}
		if matches >= len(w)-period-1 {
			return true
		}
	}
	return false
}

func mergeIntervals(in []Interval) []Interval {
	if len(in) < 2 {
		return in
	}
	out := []Interval{in[0]}
	for _, iv := range in[1:] {
		last := &out[len(out)-1]
		if iv.Start <= last.End {
			if iv.End > last.End {
				last.End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// FetchSeqIfUnmasked returns a copy of sequence id's residues into outBuf
// and true, if no worker has yet taken ownership of masking it; otherwise
// it returns false immediately without blocking.
func (b *Block) FetchSeqIfUnmasked(id int, outBuf []byte) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.maskTaken == nil {
		b.maskTaken = make([]bool, b.Seqs.Len())
	}
	if b.maskTaken[id] {
		return nil, false
	}
	b.maskTaken[id] = true
	residues := b.Seqs.Sequence(id)
	outBuf = append(outBuf[:0], residues...)
	return outBuf, true
}

// WriteMaskedSeq publishes the masked bytes for sequence id back into the
// block under the block mutex, completing the cooperative lazy-masking
// protocol started by FetchSeqIfUnmasked.
func (b *Block) WriteMaskedSeq(id int, masked []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	dst := b.Seqs.Sequence(id)
	copy(dst, masked)
}
