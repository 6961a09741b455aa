// Package locator maps record ids to the location of their data.
package locator

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"

	"github.com/RoaringBitmap/roaring"
	"github.com/relab/bbhash"
)

// Entry locates one logical record. Clones share the data of SourceID.
type Entry struct {
	ID       uint32
	SourceID uint32
	Offset   int
	Size     int
}

// Clone reports whether the entry aliases another record's data.
func (e Entry) Clone() bool { return e.ID != e.SourceID }

// State is the lookup capability of an Index.
type State uint8

const (
	// StateEmpty means the file has no id block or offset map; lookups
	// need a scan over the record's id field.
	StateEmpty State = iota
	// StateIndexed means every reachable id is in the index.
	StateIndexed
)

func (s State) String() string {
	if s == StateIndexed {
		return "indexed"
	}
	return "empty"
}

type finder interface {
	Find(key uint64) uint64
}

// Index is an immutable id → Entry mapping. Entries keep file order, with
// clones after the records they alias. Lookups go through a minimal perfect
// hash over the distinct ids, verified against the stored id.
//
// Thread Safety: Index is safe for concurrent use once built.
type Index struct {
	state   State
	entries []Entry
	mph     finder
	slots   []int32 // mph position -> entry index
	ids     *roaring.Bitmap
}

// Empty returns an index with no entries in StateEmpty.
func Empty() *Index {
	return &Index{state: StateEmpty, ids: roaring.New()}
}

// Builder accumulates entries for an Index. Not safe for concurrent use.
type Builder struct {
	entries []Entry
	byID    map[uint32]int
	dropped int
}

// NewBuilder creates a builder sized for n entries.
func NewBuilder(n int) *Builder {
	return &Builder{
		entries: make([]Entry, 0, n),
		byID:    make(map[uint32]int, n),
	}
}

// Add records a stored record. The first entry for an id wins lookups.
func (b *Builder) Add(id uint32, offset, size int) {
	b.add(Entry{ID: id, SourceID: id, Offset: offset, Size: size})
}

// AddClone aliases target to the data of an already added source. Clones of
// clones resolve to the original source. It returns false, and drops the
// clone, when the source is unknown.
func (b *Builder) AddClone(target, source uint32) bool {
	i, ok := b.byID[source]
	if !ok {
		b.dropped++
		return false
	}
	src := b.entries[i]
	b.add(Entry{ID: target, SourceID: src.SourceID, Offset: src.Offset, Size: src.Size})
	return true
}

// Dropped returns the number of clones whose source was missing.
func (b *Builder) Dropped() int { return b.dropped }

func (b *Builder) add(e Entry) {
	if _, ok := b.byID[e.ID]; !ok {
		b.byID[e.ID] = len(b.entries)
	}
	b.entries = append(b.entries, e)
}

// Build constructs the index in StateIndexed.
func (b *Builder) Build() (*Index, error) {
	idx := &Index{
		state:   StateIndexed,
		entries: b.entries,
		ids:     roaring.New(),
	}
	if len(b.byID) == 0 {
		return idx, nil
	}

	keys := make([]uint64, 0, len(b.byID))
	for id := range b.byID {
		keys = append(keys, hashID(id))
		idx.ids.Add(id)
	}

	mph, err := bbhash.New(keys, bbhash.Gamma(2.0))
	if err != nil {
		return nil, fmt.Errorf("build id hash: %w", err)
	}

	// BBHash returns 1-indexed values
	idx.slots = make([]int32, len(keys))
	for id, entry := range b.byID {
		pos := mph.Find(hashID(id))
		if pos == 0 || pos > uint64(len(keys)) {
			return nil, fmt.Errorf("id hash lookup failed for %d", id)
		}
		idx.slots[pos-1] = int32(entry)
	}
	idx.mph = mph
	return idx, nil
}

// State returns the index state.
func (x *Index) State() State { return x.state }

// Indexed reports whether lookups can be answered from the index.
func (x *Index) Indexed() bool { return x.state == StateIndexed }

// Len returns the number of entries, clones included.
func (x *Index) Len() int { return len(x.entries) }

// At returns the entry at position i in file order.
func (x *Index) At(i int) (Entry, bool) {
	if i < 0 || i >= len(x.entries) {
		return Entry{}, false
	}
	return x.entries[i], true
}

// Lookup returns the entry for id, or ok=false if the id is unknown.
func (x *Index) Lookup(id uint32) (Entry, bool) {
	if x.mph == nil || !x.ids.Contains(id) {
		return Entry{}, false
	}
	pos := x.mph.Find(hashID(id))
	if pos == 0 || pos > uint64(len(x.slots)) {
		return Entry{}, false
	}
	e := x.entries[x.slots[pos-1]]
	if e.ID != id {
		return Entry{}, false
	}
	return e, true
}

// Contains reports whether id is reachable through the index.
func (x *Index) Contains(id uint32) bool {
	return x.ids.Contains(id)
}

// IDs returns the distinct reachable ids in ascending order.
func (x *Index) IDs() []uint32 {
	return x.ids.ToArray()
}

// Bitmap returns a copy of the reachable id set.
func (x *Index) Bitmap() *roaring.Bitmap {
	return x.ids.Clone()
}

// hashID spreads ids over the key space before they reach the hash levels.
func hashID(id uint32) uint64 {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], id)
	h := fnv.New64a()
	h.Write(b[:])
	return h.Sum64()
}
