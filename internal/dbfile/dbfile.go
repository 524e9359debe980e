// Package dbfile implements the native on-disk database format: a
// little-endian header, a secondary header carrying a 128-bit hash of the
// sequence+title bytes and the offsets of optional taxonomy sections, a
// sentinel-bracketed sequence area, and a fixed-width position table.
// Opened databases are mmapped via github.com/edsrzf/mmap-go, so a loaded
// database is a zero-copy view over the OS page cache.
package dbfile

import (
	"bufio"
	"encoding/binary"
	"hash"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/alignkit/alignkit/internal/block"
	"github.com/alignkit/alignkit/internal/errs"
)

// Magic identifies an alignkit native database file.
const Magic uint64 = 0xA11671C0DB000001

// FormatVersion is bumped whenever the on-disk layout changes incompatibly.
const FormatVersion uint32 = 1

// BuildNumber is the builder's own version stamp, independent of the file
// format, so downstream tooling can tell which makedb build produced a
// file without needing a format bump.
const BuildNumber uint32 = 1

// Header is the fixed-size leading header of a database file. All fields are little-endian on disk.
type Header struct {
	Magic          uint64
	Build          uint32
	FormatVersion  uint32
	Sequences      uint64
	Letters        uint64
	PosArrayOffset uint64
}

const headerSize = 8 + 4 + 4 + 8 + 8 + 8

// SecondaryHeader follows Header: a content hash plus offsets/sizes of the
// optional trailing sections.
type SecondaryHeader struct {
	HashLo, HashHi uint64 // 128-bit murmur3 hash of (sequence bytes || title bytes)

	TaxonArrayOffset uint64
	TaxonArraySize   uint64
	TaxNodesOffset   uint64
	TaxNodesSize     uint64
	TaxNamesOffset   uint64
	TaxNamesSize     uint64
}

const secondaryHeaderSize = 8 + 8 + 8*6

// posRecord is one entry of the position table: (offset, length, pad) per
// sequence, plus one terminal record.
type posRecord struct {
	Offset uint64
	Length uint32
	Pad    uint32
}

const posRecordSize = 8 + 4 + 4

// Build writes b (a loaded, masked, title-fixed Block) to path in the
// native format. A zero-length sequence aborts the whole build with a fatal
// InvalidDatabase error rather than skipping the record silently.
func Build(b *block.Block, path string) (*Header, error) {
	n := b.Seqs.Len()
	for i := 0; i < n; i++ {
		if b.Seqs.SequenceLen(i) == 0 {
			return nil, errs.New(errs.InvalidDatabase,
				"sequence %d has zero length; aborting build", i)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidDatabase, err, "creating database file %q", path)
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	hdr := &Header{
		Magic:         Magic,
		Build:         BuildNumber,
		FormatVersion: FormatVersion,
		Sequences:     uint64(n),
	}

	// Placeholder header+secondary header; patched once the real offsets
	// and hash are known.
	if err := writeHeader(w, hdr); err != nil {
		return nil, err
	}
	sechdr := &SecondaryHeader{}
	if err := writeSecondaryHeader(w, sechdr); err != nil {
		return nil, err
	}

	hasher := newMurmur3x64_128()
	positions := make([]posRecord, 0, n+1)
	var letters uint64
	offset := uint64(headerSize + secondaryHeaderSize)

	for i := 0; i < n; i++ {
		seq := b.Seqs.Sequence(i)
		title := b.Titles.Get(i)

		positions = append(positions, posRecord{Offset: offset, Length: uint32(len(seq))})

		if err := writeByte(w, 0xff); err != nil {
			return nil, err
		}
		if _, err := w.Write(seq); err != nil {
			return nil, errs.Wrap(errs.InvalidDatabase, err, "writing sequence %d", i)
		}
		if err := writeByte(w, 0xff); err != nil {
			return nil, err
		}
		if _, err := io.WriteString(w, title); err != nil {
			return nil, errs.Wrap(errs.InvalidDatabase, err, "writing title %d", i)
		}
		if err := writeByte(w, 0x00); err != nil {
			return nil, err
		}

		hasher.Write(seq)
		hasher.Write([]byte(title))

		letters += uint64(len(seq))
		offset += uint64(1 + len(seq) + 1 + len(title) + 1)
	}
	positions = append(positions, posRecord{Offset: offset}) // terminal record

	posArrayOffset := offset
	for _, p := range positions {
		if err := writePosRecord(w, p); err != nil {
			return nil, err
		}
	}

	if err := w.Flush(); err != nil {
		return nil, errs.Wrap(errs.InvalidDatabase, err, "flushing database file")
	}

	hdr.Letters = letters
	hdr.PosArrayOffset = posArrayOffset
	lo, hi := hasher.Sum128()
	sechdr.HashLo, sechdr.HashHi = lo, hi

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, errs.Wrap(errs.InvalidDatabase, err, "seeking to patch header")
	}
	patch := bufio.NewWriter(f)
	if err := writeHeader(patch, hdr); err != nil {
		return nil, err
	}
	if err := writeSecondaryHeader(patch, sechdr); err != nil {
		return nil, err
	}
	if err := patch.Flush(); err != nil {
		return nil, errs.Wrap(errs.InvalidDatabase, err, "patching database header")
	}
	return hdr, nil
}

// DB is a read-only, mmap-backed view of a database file opened by Open.
// It exposes the same random-access shape as block.SequenceSet, but reads
// directly from the mapped page cache rather than a copied arena.
type DB struct {
	f    *os.File
	data mmap.MMap

	Header    Header
	Secondary SecondaryHeader
	positions []posRecord
}

// Open mmaps path and parses its header, secondary header, and position
// table. The sequence/title bytes themselves are read lazily by Sequence
// and Title.
func Open(path string) (*DB, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidDatabase, err, "opening database file %q", path)
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, errs.Wrap(errs.InvalidDatabase, err, "mmapping database file %q", path)
	}

	db := &DB{f: f, data: data}
	if len(data) < headerSize+secondaryHeaderSize {
		db.Close()
		return nil, errs.New(errs.InvalidDatabase, "truncated database file %q", path)
	}
	db.Header = readHeader(data[:headerSize])
	if db.Header.Magic != Magic {
		db.Close()
		return nil, errs.New(errs.InvalidDatabase, "bad magic in %q: database is not an alignkit database", path)
	}
	if db.Header.FormatVersion > FormatVersion {
		db.Close()
		return nil, errs.New(errs.InvalidDatabase,
			"database %q was built with format version %d, newer than this binary supports (%d)",
			path, db.Header.FormatVersion, FormatVersion)
	}
	db.Secondary = readSecondaryHeader(data[headerSize : headerSize+secondaryHeaderSize])

	n := int(db.Header.Sequences)
	posBytes := data[db.Header.PosArrayOffset:]
	if len(posBytes) < (n+1)*posRecordSize {
		db.Close()
		return nil, errs.New(errs.InvalidDatabase, "truncated position table in %q", path)
	}
	db.positions = make([]posRecord, n+1)
	for i := 0; i <= n; i++ {
		db.positions[i] = readPosRecord(posBytes[i*posRecordSize:])
	}
	return db, nil
}

// Close unmaps and closes the underlying file.
func (db *DB) Close() error {
	var err error
	if db.data != nil {
		err = db.data.Unmap()
	}
	if db.f != nil {
		if cerr := db.f.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Len returns the number of sequences stored in the database.
func (db *DB) Len() int { return len(db.positions) - 1 }

// Sequence returns sequence i's residues, excluding its sentinel brackets.
// The returned slice aliases the mmap region.
func (db *DB) Sequence(i int) []byte {
	start := db.positions[i].Offset + 1 // skip leading sentinel
	end := start + uint64(db.positions[i].Length)
	return db.data[start:end]
}

// Title returns sequence i's NUL-terminated title, without the terminator.
func (db *DB) Title(i int) string {
	start := db.positions[i].Offset + 1 + uint64(db.positions[i].Length) + 1 // skip seq + trailing sentinel
	end := start
	for db.data[end] != 0 {
		end++
	}
	return string(db.data[start:end])
}

// Dbinfo reports the fields the `dbinfo` command needs to recover:
// sequence count, total letters, and the 128-bit content hash, so a built
// database can be summarized without walking its sequence area.
type Dbinfo struct {
	Sequences uint64
	Letters   uint64
	HashLo    uint64
	HashHi    uint64
}

// Info returns the round-trippable summary of db.
func (db *DB) Info() Dbinfo {
	return Dbinfo{
		Sequences: db.Header.Sequences,
		Letters:   db.Header.Letters,
		HashLo:    db.Secondary.HashLo,
		HashHi:    db.Secondary.HashHi,
	}
}

func writeByte(w *bufio.Writer, b byte) error {
	if err := w.WriteByte(b); err != nil {
		return errs.Wrap(errs.InvalidDatabase, err, "writing database byte")
	}
	return nil
}

func writeHeader(w io.Writer, h *Header) error {
	var buf [headerSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], h.Magic)
	binary.LittleEndian.PutUint32(buf[8:12], h.Build)
	binary.LittleEndian.PutUint32(buf[12:16], h.FormatVersion)
	binary.LittleEndian.PutUint64(buf[16:24], h.Sequences)
	binary.LittleEndian.PutUint64(buf[24:32], h.Letters)
	binary.LittleEndian.PutUint64(buf[32:40], h.PosArrayOffset)
	_, err := w.Write(buf[:])
	if err != nil {
		return errs.Wrap(errs.InvalidDatabase, err, "writing database header")
	}
	return nil
}

func readHeader(b []byte) Header {
	return Header{
		Magic:          binary.LittleEndian.Uint64(b[0:8]),
		Build:          binary.LittleEndian.Uint32(b[8:12]),
		FormatVersion:  binary.LittleEndian.Uint32(b[12:16]),
		Sequences:      binary.LittleEndian.Uint64(b[16:24]),
		Letters:        binary.LittleEndian.Uint64(b[24:32]),
		PosArrayOffset: binary.LittleEndian.Uint64(b[32:40]),
	}
}

func writeSecondaryHeader(w io.Writer, h *SecondaryHeader) error {
	var buf [secondaryHeaderSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], h.HashLo)
	binary.LittleEndian.PutUint64(buf[8:16], h.HashHi)
	binary.LittleEndian.PutUint64(buf[16:24], h.TaxonArrayOffset)
	binary.LittleEndian.PutUint64(buf[24:32], h.TaxonArraySize)
	binary.LittleEndian.PutUint64(buf[32:40], h.TaxNodesOffset)
	binary.LittleEndian.PutUint64(buf[40:48], h.TaxNodesSize)
	binary.LittleEndian.PutUint64(buf[48:56], h.TaxNamesOffset)
	binary.LittleEndian.PutUint64(buf[56:64], h.TaxNamesSize)
	_, err := w.Write(buf[:])
	if err != nil {
		return errs.Wrap(errs.InvalidDatabase, err, "writing database secondary header")
	}
	return nil
}

func readSecondaryHeader(b []byte) SecondaryHeader {
	return SecondaryHeader{
		HashLo:           binary.LittleEndian.Uint64(b[0:8]),
		HashHi:           binary.LittleEndian.Uint64(b[8:16]),
		TaxonArrayOffset: binary.LittleEndian.Uint64(b[16:24]),
		TaxonArraySize:   binary.LittleEndian.Uint64(b[24:32]),
		TaxNodesOffset:   binary.LittleEndian.Uint64(b[32:40]),
		TaxNodesSize:     binary.LittleEndian.Uint64(b[40:48]),
		TaxNamesOffset:   binary.LittleEndian.Uint64(b[48:56]),
		TaxNamesSize:     binary.LittleEndian.Uint64(b[56:64]),
	}
}

func writePosRecord(w io.Writer, p posRecord) error {
	var buf [posRecordSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], p.Offset)
	binary.LittleEndian.PutUint32(buf[8:12], p.Length)
	binary.LittleEndian.PutUint32(buf[12:16], p.Pad)
	_, err := w.Write(buf[:])
	if err != nil {
		return errs.Wrap(errs.InvalidDatabase, err, "writing position record")
	}
	return nil
}

func readPosRecord(b []byte) posRecord {
	return posRecord{
		Offset: binary.LittleEndian.Uint64(b[0:8]),
		Length: binary.LittleEndian.Uint32(b[8:12]),
		Pad:    binary.LittleEndian.Uint32(b[12:16]),
	}
}

// murmur3x64_128 implements the 128-bit x64 murmur3 variant the secondary
// header's content hash uses. The algorithm is public domain and small
// enough that carrying a dependency for it isn't worth the import.
type murmur3x64_128 struct {
	h1, h2 uint64
	buf    []byte
	length uint64
}

func newMurmur3x64_128() *murmur3x64_128 { return &murmur3x64_128{} }

var _ hash.Hash = (*murmur3x64_128)(nil)

const (
	mm3c1 = 0x87c37b91114253d5
	mm3c2 = 0x4cf5ad432745937f
)

func (m *murmur3x64_128) Write(p []byte) (int, error) {
	m.length += uint64(len(p))
	m.buf = append(m.buf, p...)
	for len(m.buf) >= 16 {
		k1 := binary.LittleEndian.Uint64(m.buf[0:8])
		k2 := binary.LittleEndian.Uint64(m.buf[8:16])
		m.mix(k1, k2)
		m.buf = m.buf[16:]
	}
	return len(p), nil
}

func (m *murmur3x64_128) mix(k1, k2 uint64) {
	k1 *= mm3c1
	k1 = rotl64(k1, 31)
	k1 *= mm3c2
	m.h1 ^= k1

	m.h1 = rotl64(m.h1, 27)
	m.h1 += m.h2
	m.h1 = m.h1*5 + 0x52dce729

	k2 *= mm3c2
	k2 = rotl64(k2, 33)
	k2 *= mm3c1
	m.h2 ^= k2

	m.h2 = rotl64(m.h2, 31)
	m.h2 += m.h1
	m.h2 = m.h2*5 + 0x38495ab5
}

// Sum128 finalizes the hash over any buffered tail bytes and returns the
// 128-bit result as two uint64 halves.
func (m *murmur3x64_128) Sum128() (lo, hi uint64) {
	h1, h2 := m.h1, m.h2
	var k1, k2 uint64
	tail := m.buf
	switch len(tail) {
	case 15:
		k2 ^= uint64(tail[14]) << 48
		fallthrough
	case 14:
		k2 ^= uint64(tail[13]) << 40
		fallthrough
	case 13:
		k2 ^= uint64(tail[12]) << 32
		fallthrough
	case 12:
		k2 ^= uint64(tail[11]) << 24
		fallthrough
	case 11:
		k2 ^= uint64(tail[10]) << 16
		fallthrough
	case 10:
		k2 ^= uint64(tail[9]) << 8
		fallthrough
	case 9:
		k2 ^= uint64(tail[8])
		k2 *= mm3c2
		k2 = rotl64(k2, 33)
		k2 *= mm3c1
		h2 ^= k2
		fallthrough
	case 8:
		k1 ^= uint64(tail[7]) << 56
		fallthrough
	case 7:
		k1 ^= uint64(tail[6]) << 48
		fallthrough
	case 6:
		k1 ^= uint64(tail[5]) << 40
		fallthrough
	case 5:
		k1 ^= uint64(tail[4]) << 32
		fallthrough
	case 4:
		k1 ^= uint64(tail[3]) << 24
		fallthrough
	case 3:
		k1 ^= uint64(tail[2]) << 16
		fallthrough
	case 2:
		k1 ^= uint64(tail[1]) << 8
		fallthrough
	case 1:
		k1 ^= uint64(tail[0])
		k1 *= mm3c1
		k1 = rotl64(k1, 31)
		k1 *= mm3c2
		h1 ^= k1
	}

	h1 ^= m.length
	h2 ^= m.length
	h1 += h2
	h2 += h1
	h1 = fmix64(h1)
	h2 = fmix64(h2)
	h1 += h2
	h2 += h1
	return h1, h2
}

func (m *murmur3x64_128) Sum(b []byte) []byte {
	lo, hi := m.Sum128()
	out := make([]byte, 16)
	binary.LittleEndian.PutUint64(out[0:8], lo)
	binary.LittleEndian.PutUint64(out[8:16], hi)
	return append(b, out...)
}

func (m *murmur3x64_128) Reset()         { *m = murmur3x64_128{} }
func (m *murmur3x64_128) Size() int      { return 16 }
func (m *murmur3x64_128) BlockSize() int { return 16 }

func rotl64(x uint64, r uint) uint64 { return (x << r) | (x >> (64 - r)) }

func fmix64(k uint64) uint64 {
	k ^= k >> 33
	k *= 0xff51afd7ed558ccd
	k ^= k >> 33
	k *= 0xc4ceb9fe1a85ebb1
	k ^= k >> 33
	return k
}
