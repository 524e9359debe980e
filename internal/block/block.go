package block

import (
	"fmt"
	"io"
	"sync"
	"unicode"

	"github.com/biogo/biogo/alphabet"
	bioseq "github.com/biogo/biogo/io/seqio/fasta"
	"github.com/biogo/biogo/seq/linear"
)

// Block is one unit of work: a batch of sequences loaded together and
// processed as a unit.
type Block struct {
	Seqs         *SequenceSet // search sequences: post-translation frames for translated queries
	UnmaskedSeqs *SequenceSet // optional unmasked copy, kept for printing
	SourceDNA    *SequenceSet // translated queries only: the untranslated DNA
	Titles       *StringSet
	BlockToOID   []uint32 // block-id -> database oid mapping

	SelfScores []int32 // optional, for E-value normalization in clustering workflows

	Translated bool
	FrameMask  int // bitmask of which of the 6 frames are populated, when Translated

	softMasked        bool
	softMaskIntervals map[int][]Interval // per-sequence masked [start,end) ranges, for exact unmasking

	maskTaken []bool // lazy-masking ownership bit per sequence
	mu        sync.Mutex
}

// Interval is a half-open masked range within one sequence.
type Interval struct{ Start, End int }

// New builds an empty Block ready to receive sequences via Load.
func New() *Block {
	return &Block{
		Seqs:              NewSequenceSet(),
		Titles:            NewStringSet(),
		softMaskIntervals: make(map[int][]Interval),
	}
}

// Filter decides, given a database oid, whether a sequence should be
// included in the block being loaded.
type Filter func(oid uint64) bool

// Load reads sequences from source (a FASTA stream) until the accumulated
// letter count reaches limitLetters or the source is exhausted, honoring an
// optional per-oid filter.
func Load(source io.Reader, limitLetters int, filter Filter) (*Block, []string, error) {
	b := New()
	template := linear.NewSeq("", nil, alphabet.Protein)
	reader := bioseq.NewReader(source, template)

	var warnings []string
	letters := 0
	var oid uint64
	for {
		s, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, warnings, fmt.Errorf("block: reading fasta: %w", err)
		}
		ls, ok := s.(*linear.Seq)
		if !ok {
			continue
		}
		oid++
		if filter != nil && !filter(oid) {
			continue
		}

		residues := make([]byte, ls.Len())
		for i := range residues {
			residues[i] = byte(ls.At(i).L)
		}
		if len(residues) == 0 {
			return nil, warnings, fmt.Errorf("block: sequence %q has zero length", ls.Name())
		}

		title, warn := fixTitle(ls.Name())
		if warn != "" {
			warnings = append(warnings, warn)
		}

		idx, err := b.Seqs.Append(residues)
		if err != nil {
			return nil, warnings, err
		}
		b.Titles.Append(title)
		b.BlockToOID = append(b.BlockToOID, uint32(oid))
		_ = idx

		letters += len(residues)
		if limitLetters > 0 && letters >= limitLetters {
			break
		}
	}
	return b, warnings, nil
}

// fixTitle trims control characters and flags titles that begin with a
// space or contain non-printable runes.
func fixTitle(title string) (string, string) {
	clean := make([]rune, 0, len(title))
	var warn string
	for i, r := range title {
		if r < 0x20 || r == 0x7f {
			continue
		}
		if i == 0 && r == ' ' {
			warn = fmt.Sprintf("title %q begins with a space", title)
		}
		if !unicode.IsPrint(r) && r > 0x7f {
			warn = fmt.Sprintf("title %q contains non-printable characters", title)
		}
		clean = append(clean, r)
	}
	return string(clean), warn
}

// Translate populates the six-frame SequenceSet for a translated search
// (blastx/tblastx), laying frame f of query q out at index 6q+f.
// minOrfLenFor reports the minimum ORF length per source sequence.
func (b *Block) Translate(frameMask int, minOrfLenFor func(dnaLen int) int) error {
	if b.SourceDNA == nil {
		return fmt.Errorf("block: Translate called without SourceDNA loaded")
	}
	translated := NewSequenceSet()
	n := b.SourceDNA.Len()
	for q := 0; q < n; q++ {
		dna := b.SourceDNA.Sequence(q)
		minOrf := minOrfLenDefault
		if minOrfLenFor != nil {
			minOrf = minOrfLenFor(len(dna))
		}
		frames := SixFrameTranslate(dna, minOrf)
		for f := 0; f < 6; f++ {
			if frameMask != 0 && frameMask&(1<<uint(f)) == 0 {
				if _, err := translated.Append([]byte{maskByte}); err != nil {
					return err
				}
				continue
			}
			residues := frames[f]
			if len(residues) == 0 {
				residues = []byte{maskByte}
			}
			if _, err := translated.Append(residues); err != nil {
				return err
			}
		}
	}
	b.Seqs = translated
	b.Translated = true
	b.FrameMask = frameMask
	return nil
}

// SourceLen returns the untranslated length backing block index i: either
// the raw sequence length, or for translated queries, the length of the
// source DNA for the query that owns frame i.
func (b *Block) SourceLen(i int) int {
	if !b.Translated || b.SourceDNA == nil {
		return b.Seqs.SequenceLen(i)
	}
	q := i / 6
	return b.SourceDNA.SequenceLen(q)
}

// ContextInfo describes one search context (strand/frame) of a query: its
// offset inside the concatenated query arena, its length, its effective
// search space after length adjustment, and whether the context holds any
// unmasked residue at all.
type ContextInfo struct {
	Offset         uint64
	Length         int
	EffectiveSpace uint64
	Valid          bool
}

// ContextInfos computes the per-context table for every sequence in the
// block. effSpace, when non-nil, maps a context length to its effective
// search space (the stats package's length adjustment); it is only invoked
// for valid contexts.
func (b *Block) ContextInfos(effSpace func(length int) uint64) []ContextInfo {
	out := make([]ContextInfo, b.Seqs.Len())
	for i := range out {
		l := b.Seqs.SequenceLen(i)
		valid := b.ContextValid(i)
		ci := ContextInfo{Offset: b.Seqs.offset[i], Length: l, Valid: valid}
		if effSpace != nil && valid {
			ci.EffectiveSpace = effSpace(l)
		}
		out[i] = ci
	}
	return out
}

// ContextValid reports whether context i holds any unmasked residue.
func (b *Block) ContextValid(i int) bool {
	for _, r := range b.Seqs.Sequence(i) {
		if r != maskByte {
			return true
		}
	}
	return false
}

// HasValidContext reports whether any context in the block survived
// translation and masking; a block where every context is masked out is
// the fatal InvalidQueries condition.
func (b *Block) HasValidContext() bool {
	for i := 0; i < b.Seqs.Len(); i++ {
		if b.ContextValid(i) {
			return true
		}
	}
	return false
}

// ComputeSelfScores populates the per-sequence self-alignment scores used
// for E-value normalization in clustering workflows. score is
// the scoring module's self-score function; the result is published under
// the block mutex, the same guard the lazy-masking slot uses.
func (b *Block) ComputeSelfScores(score func(seq []byte) int32) {
	n := b.Seqs.Len()
	scores := make([]int32, n)
	for i := 0; i < n; i++ {
		scores[i] = score(b.Seqs.Sequence(i))
	}
	b.mu.Lock()
	b.SelfScores = scores
	b.mu.Unlock()
}

// looksLikeDNA applies an A/C/G/T/N histogram heuristic, backing the
// --ignore-warnings-gated sanity check for DNA residues showing up in a
// protein search.
func looksLikeDNA(residues []byte) bool {
	if len(residues) == 0 {
		return false
	}
	acgtn := 0
	for _, r := range residues {
		switch r {
		case 'A', 'C', 'G', 'T', 'N':
			acgtn++
		}
	}
	return acgtn == len(residues)
}

// LooksLikeDNA reports whether sequence i in the block's SequenceSet looks
// like DNA residues rather than protein, per looksLikeDNA.
func (b *Block) LooksLikeDNA(i int) bool {
	return looksLikeDNA(b.Seqs.Sequence(i))
}
