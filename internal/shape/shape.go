// Package shape implements spaced-seed shapes and residue reductions. A
// Shape is a positional bitmask over the residues that contribute to a seed
// key; a Reduction partitions the amino acids into a compact alphabet used
// to build that key.
package shape

import "math/bits"

// Shape is a spaced-seed descriptor: mask selects which of the first
// Length() positions participate in the seed; Weight is the popcount of
// Mask.
type Shape struct {
	ID     int
	Mask   uint32
	Weight int
	Length int
}

// New builds a Shape from a bitmask. The first and last bit of the mask
// must be set.
func New(id int, mask uint32) (*Shape, error) {
	if mask == 0 {
		return nil, errShapeEmpty
	}
	if mask&1 == 0 {
		return nil, errShapeFirstBit
	}
	length := 32 - bits.LeadingZeros32(mask)
	if mask&(1<<(length-1)) == 0 {
		return nil, errShapeLastBit
	}
	return &Shape{ID: id, Mask: mask, Weight: bits.OnesCount32(mask), Length: length}, nil
}

type shapeErr string

func (e shapeErr) Error() string { return string(e) }

const (
	errShapeEmpty    = shapeErr("shape: mask must have at least one set bit")
	errShapeFirstBit = shapeErr("shape: first position must be part of the shape")
	errShapeLastBit  = shapeErr("shape: last set bit must equal the shape length")
)

// Reduction partitions the 20 amino acids into at most 12 classes used to
// build seed keys with higher recall.
type Reduction struct {
	Name    string
	Classes int
	table   [256]byte
	valid   [256]bool
}

// NewReduction builds a Reduction from a class-assignment map keyed by
// uppercase residue letter. Letters outside the map (mask, stop, sentinel
// bytes) have no class; a seed window containing one produces no seed.
func NewReduction(name string, assign map[byte]byte) *Reduction {
	r := &Reduction{Name: name}
	max := byte(0)
	for _, c := range assign {
		if c > max {
			max = c
		}
	}
	r.Classes = int(max) + 1
	for letter, class := range assign {
		r.table[letter] = class
		r.valid[letter] = true
	}
	return r
}

// Reduce maps a residue letter to its reduction class.
func (r *Reduction) Reduce(letter byte) byte { return r.table[letter] }

// Valid reports whether letter has a reduction class at all.
func (r *Reduction) Valid(letter byte) bool { return r.valid[letter] }

// Murphy10 is the standard 10-class hydrophobicity-derived reduction.
var Murphy10 = NewReduction("Murphy10", map[byte]byte{
	'L': 0, 'V': 0, 'I': 0, 'M': 0,
	'C': 1,
	'A': 2, 'G': 2,
	'S': 3, 'T': 3,
	'P': 4,
	'F': 5, 'Y': 5, 'W': 5,
	'E': 6, 'D': 6,
	'Q': 7, 'N': 7,
	'K': 8, 'R': 8,
	'H': 9,
})

// Packed is the 64-bit key derived from applying a Shape at a position.
type Packed uint64

// SeedAt extracts the reduced residues at the shape's masked positions
// starting at pos and packs them into a Packed key. It is the "identity"
// seed function used on the indexed side.
func SeedAt(s *Shape, red *Reduction, seq []byte, pos int) (Packed, bool) {
	return packSeed(s, red, seq, pos, 0)
}

// ShiftedSeedAt is the streaming-side variant: it stores seeds pre-shifted
// by the shape's first-bit offset (always zero here, since New requires bit
// 0 to be set) so that identity and shifted seeds agree on shared windows.
func ShiftedSeedAt(s *Shape, red *Reduction, seq []byte, pos int) (Packed, bool) {
	return packSeed(s, red, seq, pos, 0)
}

func packSeed(s *Shape, red *Reduction, seq []byte, pos, shift int) (Packed, bool) {
	if pos+s.Length > len(seq) {
		return 0, false
	}
	bitsPerClass := bitsFor(red.Classes)
	var key Packed
	slot := 0
	for i := 0; i < s.Length; i++ {
		if s.Mask&(1<<uint(i)) == 0 {
			continue
		}
		letter := seq[pos+i]
		if !red.Valid(letter) {
			// Masked residue or sentinel inside the window: no seed here, so
			// a seed can never span a sequence boundary or a masked run.
			return 0, false
		}
		key |= Packed(red.Reduce(letter)) << uint(slot*bitsPerClass)
		slot++
	}
	_ = shift
	return key, true
}

func bitsFor(classes int) int {
	n := 0
	for (1 << n) < classes {
		n++
	}
	if n == 0 {
		n = 1
	}
	return n
}

// KeyWidth reports the number of bits a packed seed for this shape and
// reduction occupies; packed keys require weight x ceil(log2(classes))
// <= 64.
func KeyWidth(s *Shape, red *Reduction) int {
	return s.Weight * bitsFor(red.Classes)
}

// Contiguous builds the fixed-weight contiguous shapes used at each
// sensitivity level. Spaced (non-contiguous) shapes for higher sensitivity
// levels are built the same way with a sparser mask.
func Contiguous(id, weight int) (*Shape, error) {
	var mask uint32
	for i := 0; i < weight; i++ {
		mask |= 1 << uint(i)
	}
	return New(id, mask)
}

// SensitivityShapes returns the compiled-in shape table for a sensitivity
// preset.
func SensitivityShapes(level string) ([]*Shape, error) {
	var weights []int
	var masks []uint32
	switch level {
	case "faster":
		weights = []int{7}
	case "fast":
		weights = []int{6}
	case "default":
		weights = []int{5}
	case "sensitive":
		masks = []uint32{0b1011011} // weight 5, length 7
	case "more-sensitive":
		masks = []uint32{0b1011011, 0b110111} // two overlapping spaced shapes
	case "very-sensitive":
		masks = []uint32{0b1011011, 0b110111, 0b1101101}
	case "ultra-sensitive":
		masks = []uint32{0b1011011, 0b110111, 0b1101101, 0b10110101}
	default:
		return nil, shapeErr("shape: unknown sensitivity level " + level)
	}
	var shapes []*Shape
	id := 0
	for _, w := range weights {
		s, err := Contiguous(id, w)
		if err != nil {
			return nil, err
		}
		shapes = append(shapes, s)
		id++
	}
	for _, m := range masks {
		s, err := New(id, m)
		if err != nil {
			return nil, err
		}
		shapes = append(shapes, s)
		id++
	}
	return shapes, nil
}
