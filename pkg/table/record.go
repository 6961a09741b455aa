package table

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/RoaringBitmap/roaring"

	"github.com/eunmann/dbc-extract/pkg/format"
)

// RecordInfo locates one logical record. SourceID differs from ID for
// clones, which share their source's data.
type RecordInfo struct {
	ID       uint32
	SourceID uint32
	Offset   int
	Size     int
}

// Record is a decoded record.
type Record struct {
	ID       uint32
	SourceID uint32
	Values   []format.Value
}

// Column describes one decoded value position.
type Column struct {
	Name string
	Kind format.Kind
}

// Len returns the number of enumerable records: the index size, clones
// included, when the file is indexed, and the header record count otherwise.
func (t *Table) Len() int {
	if t.index.Indexed() {
		return t.index.Len()
	}
	return int(t.header.RecordCount)
}

// RecordAt returns the location of the i-th record in file order. Without
// an index the id is read from the id field, or left zero if unknown.
func (t *Table) RecordAt(i int) (RecordInfo, error) {
	if t.index.Indexed() {
		e, ok := t.index.At(i)
		if !ok {
			return RecordInfo{}, fmt.Errorf("record %d of %d: %w", i, t.index.Len(), format.ErrBoundsCheck)
		}
		return RecordInfo{ID: e.ID, SourceID: e.SourceID, Offset: e.Offset, Size: e.Size}, nil
	}

	n := int(t.header.RecordCount)
	if i < 0 || i >= n {
		return RecordInfo{}, fmt.Errorf("record %d of %d: %w", i, n, format.ErrBoundsCheck)
	}
	size := int(t.header.RecordSize)
	info := RecordInfo{Offset: t.header.DataOffset + i*size, Size: size}
	if t.idDesc != nil {
		id, err := t.readID(info.Offset)
		if err != nil {
			return RecordInfo{}, err
		}
		info.ID = id
		info.SourceID = id
	}
	return info, nil
}

// readID reads the id field of the record at offset. 3-byte ids are read
// as 4 bytes and masked.
func (t *Table) readID(offset int) (uint32, error) {
	data := t.buf.Bytes()
	pos := offset + t.idDesc.Offset
	switch t.idDesc.Width {
	case 1:
		if pos < 0 || pos >= len(data) {
			return 0, fmt.Errorf("read id at %d: %w", pos, format.ErrBoundsCheck)
		}
		return uint32(data[pos]), nil
	case 2:
		v, err := format.Uint16At(data, pos)
		return uint32(v), err
	case 3:
		if pos < 0 || pos+3 > len(data) {
			return 0, fmt.Errorf("read id at %d: %w", pos, format.ErrBoundsCheck)
		}
		var b [4]byte
		copy(b[:3], data[pos:pos+3])
		return binary.LittleEndian.Uint32(b[:]), nil
	default:
		return format.Uint32At(data, pos)
	}
}

// Decode decodes the record at info.
func (t *Table) Decode(info RecordInfo) ([]format.Value, error) {
	values, err := t.decoder.Decode(t.buf.Bytes(), info.Offset, info.Size)
	if err != nil {
		return nil, fmt.Errorf("decode record %d: %w", info.ID, err)
	}
	return values, nil
}

// ReadRecord decodes the i-th record in file order.
func (t *Table) ReadRecord(i int) (Record, error) {
	info, err := t.RecordAt(i)
	if err != nil {
		return Record{}, err
	}
	values, err := t.Decode(info)
	if err != nil {
		return Record{}, err
	}
	return Record{ID: info.ID, SourceID: info.SourceID, Values: values}, nil
}

// Find returns the record with the given id. ok is false when no record
// has that id. Indexed files resolve ids through the index; others are
// scanned through the schema's id field, and fail with ErrNotSearchable
// when there is none.
func (t *Table) Find(id uint32) (rec Record, ok bool, err error) {
	info, ok, err := t.locate(id)
	if err != nil || !ok {
		return Record{}, false, err
	}
	values, err := t.Decode(info)
	if err != nil {
		return Record{}, false, err
	}
	return Record{ID: info.ID, SourceID: info.SourceID, Values: values}, true, nil
}

func (t *Table) locate(id uint32) (RecordInfo, bool, error) {
	if t.index.Indexed() {
		e, ok := t.index.Lookup(id)
		if !ok {
			return RecordInfo{}, false, nil
		}
		return RecordInfo{ID: e.ID, SourceID: e.SourceID, Offset: e.Offset, Size: e.Size}, true, nil
	}

	if t.idDesc == nil {
		return RecordInfo{}, false, format.ErrNotSearchable
	}
	for i := 0; i < int(t.header.RecordCount); i++ {
		info, err := t.RecordAt(i)
		if err != nil {
			return RecordInfo{}, false, err
		}
		if info.ID == id {
			return info, true, nil
		}
	}
	return RecordInfo{}, false, nil
}

// IDs returns the distinct record ids in ascending order.
func (t *Table) IDs() ([]uint32, error) {
	if t.index.Indexed() {
		return t.index.IDs(), nil
	}
	if t.idDesc == nil {
		return nil, format.ErrNotSearchable
	}

	var ids []uint32
	for i := 0; i < int(t.header.RecordCount); i++ {
		info, err := t.RecordAt(i)
		if err != nil {
			return nil, err
		}
		ids = append(ids, info.ID)
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

// IDSet returns the distinct record ids as a bitmap the caller may modify.
func (t *Table) IDSet() (*roaring.Bitmap, error) {
	if t.index.Indexed() {
		return t.index.Bitmap(), nil
	}
	ids, err := t.IDs()
	if err != nil {
		return nil, err
	}
	return roaring.BitmapOf(ids...), nil
}

// Each decodes every record in file order and calls fn. Iteration stops at
// the first error.
func (t *Table) Each(fn func(Record) error) error {
	n := t.Len()
	for i := 0; i < n; i++ {
		rec, err := t.ReadRecord(i)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// ResolveString returns the string a KindString value refers to. ok is
// false for the empty reference.
func (t *Table) ResolveString(v format.Value) (s string, ok bool, err error) {
	if v.Kind != format.KindString {
		return "", false, fmt.Errorf("value of kind %s is not a string reference", v.Kind)
	}
	return t.strings.Resolve(v.StringOffset())
}

// Columns names the values Decode produces. Raw tables and values past the
// end of the schema are named by position.
func (t *Table) Columns() []Column {
	kinds := t.decoder.Kinds()
	fields := t.decoder.Fields()
	cols := make([]Column, len(kinds))
	for i, k := range kinds {
		name := fmt.Sprintf("field_%d", fields[i]+1)
		if t.schema != nil && fields[i] < len(t.schema.Fields) {
			name = t.schema.Fields[fields[i]]
		}
		cols[i] = Column{Name: name, Kind: k}
	}
	return cols
}
