package table

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/eunmann/dbc-extract/pkg/format"
	"github.com/eunmann/dbc-extract/pkg/schema"
)

// fixture assembles little-endian table files.
type fixture struct {
	b []byte
}

func (f *fixture) str(s string) *fixture {
	f.b = append(f.b, s...)
	return f
}

func (f *fixture) u32(vs ...uint32) *fixture {
	for _, v := range vs {
		f.b = binary.LittleEndian.AppendUint32(f.b, v)
	}
	return f
}

func (f *fixture) u16(vs ...uint16) *fixture {
	for _, v := range vs {
		f.b = binary.LittleEndian.AppendUint16(f.b, v)
	}
	return f
}

func (f *fixture) u8(vs ...byte) *fixture {
	f.b = append(f.b, vs...)
	return f
}

func (f *fixture) bytes() []byte { return f.b }

type wdbHeader struct {
	records, fields, recordSize, sbSize uint32
	firstID, lastID, cloneSize          uint32
	flags                               uint32
}

func wdb4(h wdbHeader) *fixture {
	f := &fixture{}
	f.str("WDB4").u32(h.records, h.fields, h.recordSize, h.sbSize)
	f.u32(0x1111, 21000, 1400000000, h.firstID, h.lastID, 0, h.cloneSize, h.flags)
	return f
}

// wdb5 writes the header only; the caller appends the field table.
func wdb5(h wdbHeader) *fixture {
	f := &fixture{}
	f.str("WDB5").u32(h.records, h.fields, h.recordSize, h.sbSize)
	f.u32(0x2222, 0x3333, h.firstID, h.lastID, 0, h.cloneSize)
	f.u16(uint16(h.flags), 0)
	return f
}

func wch(magic string, records, fields, recordSize, sbSize, firstID, lastID uint32) *fixture {
	f := &fixture{}
	f.str(magic).u32(records)
	if magic == "WCH7" {
		f.u32(0)
	}
	f.u32(fields, recordSize, sbSize)
	f.u32(0x1111, 0x3333, 22000, 1500000000, firstID, lastID, 0)
	return f
}

// testRegistry builds a schema registry from "Table": {field, type, ...}.
func testRegistry(t *testing.T, tables map[string][]string) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	for name, pairs := range tables {
		var fields, types []string
		for i := 0; i+1 < len(pairs); i += 2 {
			fields = append(fields, pairs[i])
			types = append(types, pairs[i+1])
		}
		if err := reg.Register(name, fields, types); err != nil {
			t.Fatalf("Register(%s) failed: %v", name, err)
		}
	}
	return reg
}

func openBytes(t *testing.T, name string, data []byte, base *Table, opts Options) *Table {
	t.Helper()
	tbl, err := OpenBytes(context.Background(), name, data, base, opts)
	if err != nil {
		t.Fatalf("OpenBytes(%s) failed: %v", name, err)
	}
	t.Cleanup(func() { tbl.Close() })
	return tbl
}

func uints(values []format.Value) []uint64 {
	out := make([]uint64, len(values))
	for i, v := range values {
		out[i] = v.Uint()
	}
	return out
}
