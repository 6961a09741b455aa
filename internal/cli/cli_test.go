package cli

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/eunmann/dbc-extract/pkg/fileutil"
	"github.com/eunmann/dbc-extract/pkg/schema"
)

const testSchema = `{
	"Spell": [{"field": "value", "data_type": "I"}, {"field": "name", "data_type": "S"}]
}`

func le32(vs ...uint32) []byte {
	var b []byte
	for _, v := range vs {
		b = binary.LittleEndian.AppendUint32(b, v)
	}
	return b
}

// spellDB2 is a WDB4 file with ids 7 and 9, an id block, a string block and
// clone 42 of 7.
func spellDB2() []byte {
	var b []byte
	b = append(b, "WDB4"...)
	b = append(b, le32(2, 2, 8, 10)...)
	b = append(b, le32(0x1111, 21000, 1400000000, 7, 9, 0, 8, 0x04)...)
	b = append(b, le32(700, 1, 900, 0)...)
	b = append(b, "\x00Fireball\x00"...)
	b = append(b, le32(7, 9)...)
	b = append(b, le32(42, 7)...)
	return b
}

// spellWCH is an overlay with ids 9 and 100.
func spellWCH() []byte {
	var b []byte
	b = append(b, "WCH5"...)
	b = append(b, le32(2, 2, 8, 0)...)
	b = append(b, le32(0x1111, 0x3333, 22000, 1500000000, 9, 100, 0)...)
	b = append(b, le32(901, 0, 1000, 0)...)
	b = append(b, le32(9, 100)...)
	return b
}

// testEnv writes the fixtures into a fresh working directory and returns it.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", t.TempDir())

	files := map[string][]byte{
		"schema.json":    []byte(testSchema),
		"Spell.db2":      spellDB2(),
		"Spell.enUS.wch": spellWCH(),
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := RunWithOutput(args, &out)
	return out.String(), err
}

func TestRunNoArgs(t *testing.T) {
	err := Run(nil)
	if err == nil {
		t.Fatal("expected error with no args")
	}
	if !strings.Contains(err.Error(), "usage") {
		t.Errorf("expected usage message, got: %v", err)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	err := Run([]string{"unknown"})
	if err == nil {
		t.Fatal("expected error with unknown command")
	}
	if !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("expected 'unknown command' error, got: %v", err)
	}
}

func TestInfo(t *testing.T) {
	testEnv(t)
	out, err := run(t, "info", "--schema", "schema.json", "Spell")
	if err != nil {
		t.Fatalf("info failed: %v", err)
	}
	for _, want := range []string{
		"Spell.db2::WDB4(byte_size=94, records=2",
		"o_id_block=78",
		"plan: IS (len=8, offset=0)",
		"records: 3, fields: 2, parsed_record_size: 8, searchable: true",
		"columns: value:uint, name:string",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestFind(t *testing.T) {
	testEnv(t)
	out, err := run(t, "find", "--schema", "schema.json", "Spell.db2", "7", "42", "5")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	want := `7 id=7 value=700 name="Fireball"` + "\n" +
		`42 (clone of 7) id=42 value=700 name="Fireball"` + "\n" +
		"5 not found\n"
	if out != want {
		t.Errorf("output =\n%s\nwant\n%s", out, want)
	}
}

func TestFindWithOverlay(t *testing.T) {
	testEnv(t)
	out, err := run(t, "find", "--schema", "schema.json", "--overlay", "Spell.enUS.wch", "Spell.db2", "9", "100")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	want := `9 [Spell.enUS.wch] id=9 value=901 name=""` + "\n" +
		`9 [Spell.db2] id=9 value=900 name=""` + "\n" +
		`100 [Spell.enUS.wch] id=100 value=1000 name=""` + "\n"
	if out != want {
		t.Errorf("output =\n%s\nwant\n%s", out, want)
	}
}

func TestFindInvalidID(t *testing.T) {
	testEnv(t)
	if _, err := run(t, "find", "--schema", "schema.json", "Spell.db2", "abc"); err == nil {
		t.Error("expected error for non-numeric id")
	}
	if _, err := run(t, "find", "--schema", "schema.json", "Spell.db2"); err == nil {
		t.Error("expected error without ids")
	}
}

func TestIDs(t *testing.T) {
	testEnv(t)
	out, err := run(t, "ids", "--schema", "schema.json", "Spell.db2")
	if err != nil {
		t.Fatalf("ids failed: %v", err)
	}
	if out != "7\n9\n42\n" {
		t.Errorf("output = %q", out)
	}

	out, err = run(t, "ids", "--schema", "schema.json", "--count", "Spell.db2")
	if err != nil || out != "3\n" {
		t.Errorf("ids --count = %q, %v", out, err)
	}

	out, err = run(t, "ids", "--schema", "schema.json", "--overlay", "Spell.enUS.wch", "Spell.db2")
	if err != nil {
		t.Fatalf("ids with overlay failed: %v", err)
	}
	if out != "Spell.enUS.wch: 1 new\n  100\n" {
		t.Errorf("output = %q", out)
	}
}

func TestDumpCSV(t *testing.T) {
	testEnv(t)
	out, err := run(t, "dump", "--schema", "schema.json", "Spell")
	if err != nil {
		t.Fatalf("dump failed: %v", err)
	}
	want := "id,value,name\n7,700,Fireball\n9,900,\n42,700,Fireball\n"
	if out != want {
		t.Errorf("output =\n%s\nwant\n%s", out, want)
	}
}

func TestDumpParquetToDir(t *testing.T) {
	dir := testEnv(t)
	outDir := filepath.Join(dir, "out")
	if _, err := run(t, "dump", "--schema", "schema.json", "--format", "parquet", "--out", outDir, "Spell.db2", "Spell"); err != nil {
		t.Fatalf("dump failed: %v", err)
	}
	info, err := os.Stat(filepath.Join(outDir, "Spell.parquet"))
	if err != nil || info.Size() == 0 {
		t.Errorf("expected non-empty Spell.parquet in output directory: %v", err)
	}
}

func TestDumpErrors(t *testing.T) {
	testEnv(t)
	if _, err := run(t, "dump", "--schema", "schema.json", "Spell.db2", "Spell"); err == nil || !strings.Contains(err.Error(), "--out") {
		t.Errorf("expected --out error, got %v", err)
	}
	if _, err := run(t, "dump", "--schema", "schema.json", "--format", "xml", "Spell.db2"); err == nil {
		t.Error("expected error for unknown format")
	}
	if _, err := run(t, "dump", "--schema", "schema.json", "Missing"); !errors.Is(err, fileutil.ErrFileNotFound) {
		t.Errorf("expected ErrFileNotFound, got %v", err)
	}
}

func TestMissingSchema(t *testing.T) {
	testEnv(t)
	if _, err := run(t, "info", "Spell.db2"); !errors.Is(err, schema.ErrSchemaNotFound) {
		t.Errorf("expected ErrSchemaNotFound, got %v", err)
	}
}

func TestSchemaFromEnvAndConfig(t *testing.T) {
	dir := testEnv(t)

	t.Setenv("DBCX_SCHEMA", "schema.json")
	if _, err := run(t, "ids", "Spell.db2"); err != nil {
		t.Errorf("schema from env: %v", err)
	}

	t.Setenv("DBCX_SCHEMA", "")
	cfg := filepath.Join(dir, "dbc-extract.yaml")
	if err := os.WriteFile(cfg, []byte("schema: schema.json\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "ids", "Spell.db2"); err != nil {
		t.Errorf("schema from config file: %v", err)
	}
}
