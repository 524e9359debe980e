// Package dictionary implements the per-run reference-identity dictionary:
// a monotonically assigned DictId for each (ref_block, block_id) pair that
// appears in at least one emitted alignment, with a durable log so output
// formats needing late resolution (DAA, taxon) can recover titles after the
// run. Entries live in an ordered modernc.org/kv store keyed by DictId, and
// snapshots go through github.com/natefinch/atomic so a crash mid-write
// never leaves a half-written dictionary on disk.
package dictionary

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/natefinch/atomic"
	"modernc.org/kv"
)

// DictId is the monotonically assigned identifier a subject receives the
// first time it's observed in an emitted alignment.
type DictId uint64

// dictEmpty is the sentinel marking a (ref_block, block_id) slot that has
// not yet been assigned a DictId.
const dictEmpty DictId = 0

// Entry is one dictionary record.
type Entry struct {
	RefBlock     int
	BlockID      int
	OID          uint64
	Len          int
	Title        string
	Seq          []byte // optional
	SelfAlnScore int32   // optional
}

// Dictionary assigns and persists DictIds. entries[refBlock] is a
// per-block slice of DictId with dictEmpty marking unassigned slots;
// dictMtx is the single mutex guarding the whole write path. Reads of an
// already-assigned slot never take it.
type Dictionary struct {
	dictMtx sync.Mutex
	entries map[int][]DictId
	records []Entry // index i = DictId(i+1)'s Entry

	store   *kv.DB
	logPath string
}

// Open creates or reopens the dictionary's on-disk ordered store at
// logPath. A fresh dictionary starts empty; reopening an existing one is
// not required within a single run, but the store still needs a place on
// disk for late resolution.
func Open(logPath string) (*Dictionary, error) {
	opts := &kv.Options{}
	db, err := kv.Create(logPath, opts)
	if err != nil {
		db, err = kv.Open(logPath, opts)
		if err != nil {
			return nil, fmt.Errorf("dictionary: opening store at %q: %w", logPath, err)
		}
	}
	return &Dictionary{
		entries: make(map[int][]DictId),
		store:   db,
		logPath: logPath,
	}, nil
}

// Close releases the underlying store.
func (d *Dictionary) Close() error {
	if d.store == nil {
		return nil
	}
	return d.store.Close()
}

// DictID performs the insert-or-get operation, double-checked under
// dictMtx so concurrent workers racing to register the same
// (refBlock, blockID) pair converge on one DictId.
func (d *Dictionary) DictID(refBlock, blockID int, oid uint64, length int, title string, seq []byte, selfAln int32) (DictId, error) {
	if id, ok := d.peek(refBlock, blockID); ok {
		return id, nil
	}

	d.dictMtx.Lock()
	defer d.dictMtx.Unlock()

	if id, ok := d.peekLocked(refBlock, blockID); ok {
		return id, nil
	}

	id := DictId(len(d.records) + 1)
	d.records = append(d.records, Entry{
		RefBlock: refBlock, BlockID: blockID, OID: oid,
		Len: length, Title: title, Seq: seq, SelfAlnScore: selfAln,
	})
	vec := d.entries[refBlock]
	for len(vec) <= blockID {
		vec = append(vec, dictEmpty)
	}
	vec[blockID] = id
	d.entries[refBlock] = vec

	if err := d.appendToStore(id, d.records[id-1]); err != nil {
		return 0, err
	}
	return id, nil
}

// peek is the unlocked fast-path read: once a slot is assigned, subsequent
// lookups never need the mutex.
func (d *Dictionary) peek(refBlock, blockID int) (DictId, bool) {
	vec, ok := d.entries[refBlock]
	if !ok || blockID >= len(vec) {
		return 0, false
	}
	return vec[blockID], vec[blockID] != dictEmpty
}

func (d *Dictionary) peekLocked(refBlock, blockID int) (DictId, bool) {
	return d.peek(refBlock, blockID)
}

// Entry returns the dictionary record for a previously assigned DictId.
func (d *Dictionary) Entry(id DictId) (Entry, bool) {
	if id == dictEmpty || int(id) > len(d.records) {
		return Entry{}, false
	}
	return d.records[id-1], true
}

// appendToStore writes one entry to the ordered kv store keyed by big-endian
// DictId, so late-resolving output formats can seek directly by id.
func (d *Dictionary) appendToStore(id DictId, e Entry) error {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(id))
	var buf bytes.Buffer
	writeUvarint(&buf, e.OID)
	writeUvarint(&buf, uint64(e.Len))
	writeString(&buf, e.Title)
	writeUvarint(&buf, uint64(len(e.Seq)))
	buf.Write(e.Seq)
	if err := d.store.Set(key, buf.Bytes()); err != nil {
		return fmt.Errorf("dictionary: writing entry %d: %w", id, err)
	}
	return nil
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUvarint(buf, uint64(len(s)))
	buf.WriteString(s)
}

// Snapshot atomically replaces the dictionary log file at path with the
// current in-memory record set, varint-framed entries written back to back,
// so a reader doesn't need modernc.org/kv to recover titles after the run.
// The replacement is rename-based, via github.com/natefinch/atomic.
func (d *Dictionary) Snapshot(path string) error {
	d.dictMtx.Lock()
	defer d.dictMtx.Unlock()

	var buf bytes.Buffer
	for _, e := range d.records {
		writeUvarint(&buf, e.OID)
		writeUvarint(&buf, uint64(e.Len))
		writeString(&buf, e.Title)
	}
	return atomic.WriteFile(path, bytes.NewReader(buf.Bytes()))
}

// Len reports the number of DictIds assigned so far.
func (d *Dictionary) Len() int {
	d.dictMtx.Lock()
	defer d.dictMtx.Unlock()
	return len(d.records)
}
