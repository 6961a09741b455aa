package table

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/eunmann/dbc-extract/internal/logctx"
	"github.com/eunmann/dbc-extract/pkg/fileutil"
	"github.com/eunmann/dbc-extract/pkg/format"
	"github.com/eunmann/dbc-extract/pkg/schema"
)

// twoRecordWDB4 holds records (5,10) and (9,20) with no id block.
func twoRecordWDB4() []byte {
	f := wdb4(wdbHeader{records: 2, fields: 2, recordSize: 8, firstID: 5, lastID: 9})
	f.u32(5, 10, 9, 20)
	return f.bytes()
}

func TestWDB4EndToEnd(t *testing.T) {
	opts := Options{Schema: testRegistry(t, map[string][]string{"Test": {"id", "I", "value", "I"}})}
	tbl := openBytes(t, "Test.db2", twoRecordWDB4(), nil, opts)

	if tbl.Name() != "Test" {
		t.Errorf("Name = %q, want Test", tbl.Name())
	}
	if !tbl.Searchable() {
		t.Error("table with an id field should be searchable")
	}

	rec, ok, err := tbl.Find(5)
	if err != nil || !ok {
		t.Fatalf("Find(5) = %v, %v", ok, err)
	}
	if got := uints(rec.Values); !slices.Equal(got, []uint64{5, 10}) {
		t.Errorf("Find(5) values = %v, want [5 10]", got)
	}

	if _, ok, err := tbl.Find(7); ok || err != nil {
		t.Errorf("Find(7) = %v, %v; want not found", ok, err)
	}

	if tbl.Len() != 2 {
		t.Fatalf("Len = %d, want 2", tbl.Len())
	}
	var got [][]uint64
	err = tbl.Each(func(r Record) error {
		got = append(got, uints(r.Values))
		return nil
	})
	if err != nil {
		t.Fatalf("Each failed: %v", err)
	}
	if len(got) != 2 || !slices.Equal(got[0], []uint64{5, 10}) || !slices.Equal(got[1], []uint64{9, 20}) {
		t.Errorf("records = %v, want [[5 10] [9 20]]", got)
	}

	info, err := tbl.RecordAt(1)
	if err != nil {
		t.Fatalf("RecordAt(1) failed: %v", err)
	}
	if info.ID != 9 || info.Offset != 60 || info.Size != 8 {
		t.Errorf("RecordAt(1) = %+v", info)
	}
	if _, err := tbl.RecordAt(2); !errors.Is(err, format.ErrBoundsCheck) {
		t.Errorf("RecordAt(2) error = %v, want ErrBoundsCheck", err)
	}
}

// idBlockWithClones holds records 7 and 9 at 52 and 56, the id block at 60
// and clones 42 and 43 of 7 and 9 at 68.
func idBlockWithClones() []byte {
	f := wdb4(wdbHeader{records: 2, fields: 1, recordSize: 4, firstID: 7, lastID: 9, cloneSize: 16, flags: format.FlagIDBlock})
	f.u32(700, 900)
	f.u32(7, 9)
	f.u32(42, 7, 43, 9)
	return f.bytes()
}

func TestOpenTwiceDecodesIdentically(t *testing.T) {
	tests := []struct {
		name string
		file string
		data []byte
		reg  map[string][]string
	}{
		{"sequential", "Test.db2", twoRecordWDB4(), map[string][]string{"Test": {"id", "I", "value", "I"}}},
		{"id block and clones", "Spell.db2", idBlockWithClones(), map[string][]string{"Spell": {"value", "I"}}},
		{"sparse offset map", "Item.db2", sparseOffsetMap(), map[string][]string{"Item": {"id", "I", "name", "S", "level", "H"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := Options{Schema: testRegistry(t, tt.reg)}
			first := openBytes(t, tt.file, tt.data, nil, opts)
			second := openBytes(t, tt.file, slices.Clone(tt.data), nil, opts)

			if first.Len() != second.Len() {
				t.Fatalf("Len = %d and %d", first.Len(), second.Len())
			}
			for i := 0; i < first.Len(); i++ {
				a, err := first.ReadRecord(i)
				if err != nil {
					t.Fatalf("first ReadRecord(%d) failed: %v", i, err)
				}
				b, err := second.ReadRecord(i)
				if err != nil {
					t.Fatalf("second ReadRecord(%d) failed: %v", i, err)
				}
				if a.ID != b.ID || a.SourceID != b.SourceID || !slices.Equal(a.Values, b.Values) {
					t.Errorf("record %d differs: %+v vs %+v", i, a, b)
				}

				found, ok, err := second.Find(a.ID)
				if err != nil || !ok || !slices.Equal(found.Values, a.Values) {
					t.Errorf("Find(%d) = %+v, %v, %v; want %+v", a.ID, found, ok, err, a)
				}
			}
		})
	}
}

func TestOpenRejectsOversizedSections(t *testing.T) {
	reg := testRegistry(t, map[string][]string{"Test": {"id", "I", "value", "I"}})
	opts := Options{Schema: reg}

	tests := []struct {
		name string
		data []byte
	}{
		{"id block", wdb4(wdbHeader{records: 0xFFFFFFFF, fields: 2, recordSize: 8, flags: format.FlagIDBlock}).u32(1, 2).bytes()},
		{"offset map", wdb4(wdbHeader{records: 1, fields: 2, recordSize: 8, sbSize: 52, firstID: 0, lastID: 0xFFFFFFFE, flags: format.FlagOffsetMap}).u32(0).u16(8).bytes()},
		{"clone block", wdb4(wdbHeader{records: 1, fields: 2, recordSize: 8, firstID: 1, lastID: 1, cloneSize: 0xFFFFFFF8, flags: format.FlagIDBlock}).u32(1, 2).u32(1).bytes()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := OpenBytes(context.Background(), "Test.db2", tt.data, nil, opts)
			if !errors.Is(err, format.ErrBoundsCheck) {
				t.Errorf("error = %v, want ErrBoundsCheck", err)
			}
		})
	}
}

func TestIDBlockAndClones(t *testing.T) {
	// Records at 52 and 56, id block at 60, clone block at 68
	f := wdb4(wdbHeader{records: 2, fields: 1, recordSize: 4, firstID: 7, lastID: 9, cloneSize: 8, flags: format.FlagIDBlock})
	f.u32(700, 900)
	f.u32(7, 9)
	f.u32(42, 7)

	opts := Options{Schema: testRegistry(t, map[string][]string{"Spell": {"value", "I"}})}
	tbl := openBytes(t, "Spell.db2", f.bytes(), nil, opts)

	if !tbl.Searchable() {
		t.Error("indexed table should be searchable without an id field")
	}
	if tbl.Len() != 3 {
		t.Errorf("Len = %d, want 3", tbl.Len())
	}

	rec, ok, err := tbl.Find(42)
	if err != nil || !ok {
		t.Fatalf("Find(42) = %v, %v", ok, err)
	}
	if rec.ID != 42 || rec.SourceID != 7 {
		t.Errorf("Find(42) ids = %d/%d, want 42/7", rec.ID, rec.SourceID)
	}
	if got := uints(rec.Values); !slices.Equal(got, []uint64{700}) {
		t.Errorf("Find(42) values = %v, want [700]", got)
	}

	rec, ok, err = tbl.Find(9)
	if err != nil || !ok || rec.Values[0].Uint() != 900 {
		t.Errorf("Find(9) = %v, %v, %v", rec, ok, err)
	}

	ids, err := tbl.IDs()
	if err != nil {
		t.Fatalf("IDs failed: %v", err)
	}
	if !slices.Equal(ids, []uint32{7, 9, 42}) {
		t.Errorf("IDs = %v, want [7 9 42]", ids)
	}

	last, err := tbl.RecordAt(2)
	if err != nil || last.ID != 42 || last.SourceID != 7 || last.Offset != 52 {
		t.Errorf("RecordAt(2) = %+v, %v", last, err)
	}
}

// wdb5Int24 has fields id:int24@0, flags:int16[2]@3, count:int8@7 in
// 8-byte records.
func wdb5Int24() []byte {
	f := wdb5(wdbHeader{records: 2, fields: 3, recordSize: 8, firstID: 0x0A, lastID: 0x010203})
	f.u16(8, 0, 16, 3, 24, 7)
	f.u8(0x03, 0x02, 0x01).u16(4, 0xFFFF).u8(9)
	f.u8(0x0A, 0x00, 0x00).u16(1, 2).u8(3)
	return f.bytes()
}

func TestWDB5FieldTable(t *testing.T) {
	reg := testRegistry(t, map[string][]string{
		"Item": {"id", "I", "flags_1", "H", "flags_2", "H", "count", "B"},
	})
	tbl := openBytes(t, "Item.db2", wdb5Int24(), nil, Options{Schema: reg})

	layout := tbl.Layout()
	if len(layout) != 3 || layout[0].Width != 3 || layout[1].Repeat != 2 {
		t.Errorf("Layout = %v", layout)
	}
	if tbl.FieldCount() != 4 {
		t.Errorf("FieldCount = %d, want 4", tbl.FieldCount())
	}
	// 3-byte fields decode as 4 bytes
	if tbl.ParsedRecordSize() != 9 || tbl.ParsedRecordSize() < int(tbl.Header().RecordSize) {
		t.Errorf("ParsedRecordSize = %d, want 9", tbl.ParsedRecordSize())
	}

	rec, ok, err := tbl.Find(0x010203)
	if err != nil || !ok {
		t.Fatalf("Find(0x010203) = %v, %v", ok, err)
	}
	if got := uints(rec.Values); !slices.Equal(got, []uint64{0x010203, 4, 0xFFFF, 9}) {
		t.Errorf("values = %v", got)
	}

	// The 4-byte id read overlaps the first flags byte and is masked
	rec, ok, err = tbl.Find(0x0A)
	if err != nil || !ok {
		t.Fatalf("Find(10) = %v, %v", ok, err)
	}
	if got := uints(rec.Values); !slices.Equal(got, []uint64{0x0A, 1, 2, 3}) {
		t.Errorf("values = %v", got)
	}

	if tbl.IDWidth() != 5 {
		t.Errorf("IDWidth = %d, want 5", tbl.IDWidth())
	}
	if got := tbl.FormatID(10); got != "   10" {
		t.Errorf("FormatID(10) = %q", got)
	}
}

// sparseOffsetMap has ids 100 and 103 in a 100..105 offset map with inline
// strings.
func sparseOffsetMap() []byte {
	f := wdb5(wdbHeader{records: 2, fields: 3, recordSize: 10, sbSize: 84, firstID: 100, lastID: 105, flags: format.FlagOffsetMap})
	f.u16(0, 0, 0, 4, 16, 8)
	// 100 at 60: "Sword" then level 5, 14 bytes
	f.u32(100).str("Sword\x00").u16(5).u8(0, 0)
	// 103 at 74: empty name then level 7, 10 bytes
	f.u32(103, 0).u16(7)
	// offset map at 84
	f.u32(60).u16(14)
	f.u32(0).u16(0)
	f.u32(0).u16(0)
	f.u32(74).u16(10)
	f.u32(0).u16(0)
	f.u32(0).u16(0)
	return f.bytes()
}

func TestSparseOffsetMap(t *testing.T) {
	reg := testRegistry(t, map[string][]string{"Item": {"id", "I", "name", "S", "level", "H"}})
	tbl := openBytes(t, "Item.db2", sparseOffsetMap(), nil, Options{Schema: reg})

	if tbl.Len() != 2 {
		t.Errorf("Len = %d, want 2", tbl.Len())
	}
	ids, err := tbl.IDs()
	if err != nil || !slices.Equal(ids, []uint32{100, 103}) {
		t.Errorf("IDs = %v, %v; want [100 103]", ids, err)
	}

	rec, ok, err := tbl.Find(100)
	if err != nil || !ok {
		t.Fatalf("Find(100) = %v, %v", ok, err)
	}
	if rec.Values[0].Uint() != 100 || rec.Values[2].Uint() != 5 {
		t.Errorf("Find(100) values = %v", rec.Values)
	}
	name, ok, err := tbl.ResolveString(rec.Values[1])
	if err != nil || !ok || name != "Sword" {
		t.Errorf("name = %q, %v, %v; want Sword", name, ok, err)
	}

	rec, ok, err = tbl.Find(103)
	if err != nil || !ok {
		t.Fatalf("Find(103) = %v, %v", ok, err)
	}
	if rec.Values[2].Uint() != 7 {
		t.Errorf("Find(103) level = %v, want 7", rec.Values[2])
	}
	if _, ok, _ := tbl.ResolveString(rec.Values[1]); ok {
		t.Error("empty inline string should resolve to ok=false")
	}

	for _, id := range []uint32{101, 102, 104, 105, 99} {
		if _, ok, err := tbl.Find(id); ok || err != nil {
			t.Errorf("Find(%d) = %v, %v; want not found", id, ok, err)
		}
	}

	cols := tbl.Columns()
	if len(cols) != 3 || cols[0].Name != "id" || cols[1].Name != "name" || cols[1].Kind != format.KindString || cols[2].Name != "level" {
		t.Errorf("Columns = %+v", cols)
	}
}

func TestStringBlock(t *testing.T) {
	f := wdb4(wdbHeader{records: 1, fields: 2, recordSize: 8, sbSize: 10, firstID: 1, lastID: 1})
	f.u32(1, 1)
	f.str("\x00Fireball\x00")

	reg := testRegistry(t, map[string][]string{"Spell": {"id", "I", "name", "S"}})
	tbl := openBytes(t, "Spell.db2", f.bytes(), nil, Options{Schema: reg})

	rec, ok, err := tbl.Find(1)
	if err != nil || !ok {
		t.Fatalf("Find(1) = %v, %v", ok, err)
	}
	name, ok, err := tbl.ResolveString(rec.Values[1])
	if err != nil || !ok || name != "Fireball" {
		t.Errorf("name = %q, %v, %v; want Fireball", name, ok, err)
	}
	if _, _, err := tbl.ResolveString(rec.Values[0]); err == nil {
		t.Error("resolving a non-string value should fail")
	}
}

func TestOverlay(t *testing.T) {
	reg := testRegistry(t, map[string][]string{"Spell": {"value", "I"}})
	opts := Options{Schema: reg}

	base := wdb4(wdbHeader{records: 1, fields: 1, recordSize: 4, firstID: 7, lastID: 7, flags: format.FlagIDBlock})
	base.u32(700).u32(7)
	baseTbl := openBytes(t, "Spell.db2", base.bytes(), nil, opts)

	overlay := wch("WCH5", 1, 1, 4, 0, 7, 7)
	overlay.u32(777).u32(7)
	ov := openBytes(t, "Spell.enUS.wch", overlay.bytes(), baseTbl, opts)

	if h := ov.Header(); !h.HasIDBlock() {
		t.Error("overlay should inherit the id block from its base")
	}
	rec, ok, err := ov.Find(7)
	if err != nil || !ok {
		t.Fatalf("Find(7) = %v, %v", ok, err)
	}
	if rec.Values[0].Uint() != 777 {
		t.Errorf("overlay value = %v, want 777", rec.Values[0])
	}

	if _, err := OpenBytes(context.Background(), "Spell.wch", overlay.bytes(), nil, opts); !errors.Is(err, format.ErrMissingBase) {
		t.Errorf("overlay without base error = %v, want ErrMissingBase", err)
	}
	if _, err := OpenOverlay(context.Background(), "Spell.wch", nil, opts); !errors.Is(err, format.ErrMissingBase) {
		t.Errorf("OpenOverlay(nil base) error = %v, want ErrMissingBase", err)
	}
	if _, err := OpenBytes(context.Background(), "Spell.db2", base.bytes(), baseTbl, opts); !errors.Is(err, format.ErrInvalidMagic) {
		t.Errorf("WDB file as overlay error = %v, want ErrInvalidMagic", err)
	}
}

func TestWideOverlay(t *testing.T) {
	reg := testRegistry(t, map[string][]string{"SpellEffect": {"id", "I", "effect", "B"}})
	opts := Options{Schema: reg}

	base := wdb4(wdbHeader{records: 0, fields: 2, recordSize: 5})
	baseTbl := openBytes(t, "SpellEffect.db2", base.bytes(), nil, opts)

	overlay := wch("WCH7", 1, 2, 8, 0, 12, 12)
	overlay.u32(12, 0xFF)
	ov := openBytes(t, "SpellEffect.wch", overlay.bytes(), baseTbl, opts)

	rec, ok, err := ov.Find(12)
	if err != nil || !ok {
		t.Fatalf("Find(12) = %v, %v", ok, err)
	}
	if got := uints(rec.Values); !slices.Equal(got, []uint64{12, 0xFF}) {
		t.Errorf("values = %v, want [12 255]", got)
	}
}

func TestOpenErrors(t *testing.T) {
	reg := testRegistry(t, map[string][]string{"Test": {"id", "I", "a", "I", "b", "I"}})

	tests := []struct {
		name    string
		file    string
		data    []byte
		opts    Options
		wantErr error
	}{
		{"invalid magic", "Test.db2", []byte("WDBC\x00\x00\x00\x00"), Options{Schema: reg}, format.ErrInvalidMagic},
		{"truncated header", "Test.db2", []byte("WDB4\x00\x00"), Options{Schema: reg}, format.ErrInvalidHeader},
		{"record size mismatch", "Test.db2", twoRecordWDB4(), Options{Schema: reg}, format.ErrRecordSizeMismatch},
		{"schema not found", "Other.db2", twoRecordWDB4(), Options{Schema: reg}, schema.ErrSchemaNotFound},
		{"raw needs a field table", "Other.db2", twoRecordWDB4(), Options{Schema: reg, AllowRaw: true}, schema.ErrSchemaNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := OpenBytes(context.Background(), tt.file, tt.data, nil, tt.opts)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRawNotSearchable(t *testing.T) {
	tbl := openBytes(t, "Item.db2", wdb5Int24(), nil, Options{AllowRaw: true})

	if tbl.Schema() != nil {
		t.Error("raw table should have no schema")
	}
	if tbl.Searchable() {
		t.Error("raw table without id block should not be searchable")
	}
	if _, _, err := tbl.Find(10); !errors.Is(err, format.ErrNotSearchable) {
		t.Errorf("Find error = %v, want ErrNotSearchable", err)
	}
	if _, err := tbl.IDs(); !errors.Is(err, format.ErrNotSearchable) {
		t.Errorf("IDs error = %v, want ErrNotSearchable", err)
	}

	// Records still enumerate
	rec, err := tbl.ReadRecord(0)
	if err != nil {
		t.Fatalf("ReadRecord(0) failed: %v", err)
	}
	if rec.Values[0].Int() != 0x010203 {
		t.Errorf("raw id = %v, want 66051", rec.Values[0])
	}
	cols := tbl.Columns()
	if len(cols) != 4 || cols[0].Name != "field_1" || cols[3].Name != "field_4" {
		t.Errorf("Columns = %+v", cols)
	}
}

func TestOpenProbesSuffixes(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Test.db2"), twoRecordWDB4(), 0o644); err != nil {
		t.Fatal(err)
	}
	opts := Options{Schema: testRegistry(t, map[string][]string{"Test": {"id", "I", "value", "I"}})}

	tbl, err := Open(context.Background(), filepath.Join(dir, "Test"), opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer tbl.Close()

	if tbl.Path() != filepath.Join(dir, "Test.db2") {
		t.Errorf("Path = %q", tbl.Path())
	}
	if _, ok, err := tbl.Find(9); !ok || err != nil {
		t.Errorf("Find(9) = %v, %v", ok, err)
	}

	if _, err := Open(context.Background(), filepath.Join(dir, "Missing"), opts); !errors.Is(err, fileutil.ErrFileNotFound) {
		t.Errorf("Open(missing) error = %v, want ErrFileNotFound", err)
	}
}

func TestOpenOverlays(t *testing.T) {
	dir := t.TempDir()
	reg := testRegistry(t, map[string][]string{"Spell": {"value", "I"}})
	opts := Options{Schema: reg}

	base := wdb4(wdbHeader{records: 1, fields: 1, recordSize: 4, firstID: 7, lastID: 7, flags: format.FlagIDBlock})
	base.u32(700).u32(7)
	basePath := filepath.Join(dir, "Spell.db2")
	if err := os.WriteFile(basePath, base.bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	baseTbl, err := Open(context.Background(), basePath, opts)
	if err != nil {
		t.Fatalf("Open(base) failed: %v", err)
	}
	defer baseTbl.Close()

	var paths []string
	for i, locale := range []string{"enUS", "deDE"} {
		overlay := wch("WCH5", 1, 1, 4, 0, 7, 7)
		overlay.u32(uint32(800 + i)).u32(7)
		p := filepath.Join(dir, "Spell."+locale+".adb")
		if err := os.WriteFile(p, overlay.bytes(), 0o644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}

	overlays, err := OpenOverlays(context.Background(), paths, baseTbl, opts)
	if err != nil {
		t.Fatalf("OpenOverlays failed: %v", err)
	}
	for i, ov := range overlays {
		rec, ok, err := ov.Find(7)
		if err != nil || !ok || rec.Values[0].Uint() != uint64(800+i) {
			t.Errorf("overlay %d Find(7) = %v, %v, %v", i, rec, ok, err)
		}
		ov.Close()
	}

	_, err = OpenOverlays(context.Background(), append(paths, filepath.Join(dir, "Spell.frFR")), baseTbl, opts)
	if !errors.Is(err, fileutil.ErrFileNotFound) {
		t.Errorf("OpenOverlays with missing file error = %v, want ErrFileNotFound", err)
	}
}

func TestDescribe(t *testing.T) {
	opts := Options{Schema: testRegistry(t, map[string][]string{"Test": {"id", "I", "value", "I"}})}
	tbl := openBytes(t, "Test.db2", twoRecordWDB4(), nil, opts)

	want := "Test.db2::WDB4(byte_size=68, records=2, fields=2, o_data=52, record_size=8"
	if got := tbl.Describe(); len(got) < len(want) || got[:len(want)] != want {
		t.Errorf("Describe = %q", got)
	}
}

func TestIDSet(t *testing.T) {
	opts := Options{Schema: testRegistry(t, map[string][]string{"Test": {"id", "I", "value", "I"}})}
	tbl := openBytes(t, "Test.db2", twoRecordWDB4(), nil, opts)

	ids, err := tbl.IDSet()
	if err != nil {
		t.Fatalf("IDSet failed: %v", err)
	}
	if !slices.Equal(ids.ToArray(), []uint32{5, 9}) {
		t.Errorf("IDSet = %v, want [5 9]", ids.ToArray())
	}
	if tbl.Size() != 68 {
		t.Errorf("Size = %d, want 68", tbl.Size())
	}

	raw := openBytes(t, "Item.db2", wdb5Int24(), nil, Options{AllowRaw: true})
	if _, err := raw.IDSet(); !errors.Is(err, format.ErrNotSearchable) {
		t.Errorf("raw IDSet error = %v, want ErrNotSearchable", err)
	}
}

func TestOpenLogsTableName(t *testing.T) {
	var buf bytes.Buffer
	ctx := logctx.WithLogger(context.Background(), zerolog.New(&buf))

	tbl, err := OpenBytes(ctx, "Item.db2", wdb5Int24(), nil, Options{AllowRaw: true})
	if err != nil {
		t.Fatalf("OpenBytes failed: %v", err)
	}
	defer tbl.Close()

	if !strings.Contains(buf.String(), `"table":"Item"`) {
		t.Errorf("expected table field in open logs, got: %s", buf.String())
	}
}
