// Package export renders decoded table records as CSV or Parquet.
package export

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/eunmann/dbc-extract/pkg/fileutil"
	"github.com/eunmann/dbc-extract/pkg/format"
	"github.com/eunmann/dbc-extract/pkg/table"
)

// Format selects an output encoding.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// ParseFormat parses a format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatCSV, FormatParquet:
		return f, nil
	}
	return "", fmt.Errorf("unknown export format %q (want csv or parquet)", s)
}

// Source is a table whose records can be exported. *table.Table implements it.
type Source interface {
	Columns() []table.Column
	Each(fn func(table.Record) error) error
	ResolveString(v format.Value) (string, bool, error)
}

// Stats summarizes an export.
type Stats struct {
	Rows int
	// UnresolvedStrings counts string references that pointed outside the
	// file or at unterminated data; they are written as empty strings.
	UnresolvedStrings int
}

// Export writes every record of src to w.
func Export(w io.Writer, f Format, src Source) (Stats, error) {
	switch f {
	case FormatCSV:
		return WriteCSV(w, src)
	case FormatParquet:
		return WriteParquet(w, src)
	}
	return Stats{}, fmt.Errorf("unknown export format %q", f)
}

// ExportFile writes every record of src to path through a temporary file.
func ExportFile(path string, f Format, src Source) (Stats, error) {
	var stats Stats
	err := fileutil.WriteTmpThenMove(path, func(tmpPath string) error {
		out, err := os.Create(tmpPath)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		stats, err = Export(out, f, src)
		if err != nil {
			out.Close()
			return err
		}
		return out.Close()
	})
	return stats, err
}

// column is an output column: either the record id prepended for tables
// whose values don't carry it, or a decoded value position.
type column struct {
	name  string
	kind  format.Kind
	value int // -1 for the record id
}

// outputColumns prepends an "id" column unless the decoded values already
// have one, and makes duplicate names unique.
func outputColumns(cols []table.Column) []column {
	out := make([]column, 0, len(cols)+1)
	hasID := false
	for _, c := range cols {
		if c.Name == "id" {
			hasID = true
			break
		}
	}
	if !hasID {
		out = append(out, column{name: "id", kind: format.KindUnsigned, value: -1})
	}

	used := make(map[string]bool, len(cols)+1)
	for _, c := range out {
		used[c.name] = true
	}
	for i, c := range cols {
		name := c.Name
		for n := 2; used[name]; n++ {
			name = fmt.Sprintf("%s_%d", c.Name, n)
		}
		used[name] = true
		out = append(out, column{name: name, kind: c.Kind, value: i})
	}
	return out
}

// cell returns the value for column c of rec, or the record id.
func (c column) cell(rec table.Record) (format.Value, bool) {
	if c.value < 0 {
		return format.UintValue(uint64(rec.ID)), true
	}
	if c.value >= len(rec.Values) {
		return format.Value{}, false
	}
	return rec.Values[c.value], true
}

// resolve renders a string reference, counting failures.
func resolve(src Source, v format.Value, stats *Stats) string {
	s, _, err := src.ResolveString(v)
	if err != nil {
		stats.UnresolvedStrings++
		return ""
	}
	return s
}

// Render formats rec as name=value pairs in column order, resolving strings.
func Render(src Source, rec table.Record) []string {
	cols := outputColumns(src.Columns())
	var stats Stats
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		v, ok := c.cell(rec)
		if !ok {
			continue
		}
		text := v.String()
		if v.Kind == format.KindString {
			text = fmt.Sprintf("%q", resolve(src, v, &stats))
		}
		out = append(out, c.name+"="+text)
	}
	return out
}
