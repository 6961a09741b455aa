package format

import (
	"fmt"

	"github.com/eunmann/dbc-extract/pkg/schema"
)

// WidthMismatch is a schema field whose declared width class disagrees with
// the width found on disk. Decoding uses the on-disk width.
type WidthMismatch struct {
	Descriptor int
	Field      int
	Name       string
	Type       schema.Type
	Width      int
	Want       string
}

func (m WidthMismatch) String() string {
	return fmt.Sprintf("[%03d/%03d] incorrect size for %q fmt=%q dbc-length=%d fmt-length=%s",
		m.Descriptor, m.Field, m.Name, m.Type, m.Width, m.Want)
}

// CheckWidths zips schema fields against descriptors positionally. The
// descriptor list may describe trailing padding the schema doesn't declare,
// so the walk stops at the end of the schema. Strings and padding are not
// checked since their on-disk width varies.
func CheckWidths(descs []FieldDescriptor, tbl *schema.Table) []WidthMismatch {
	var out []WidthMismatch
	field := 0
	for di, d := range descs {
		for r := 0; r < d.Repeat; r++ {
			if field == len(tbl.Types) {
				return out
			}
			t := tbl.Types[field]
			want := ""
			switch {
			case (t.Code == 'I' || t.Code == 'i' || t.Float()) && d.Width < 3:
				want = "3+"
			case (t.Code == 'H' || t.Code == 'h') && d.Width != 2:
				want = "2"
			case (t.Code == 'B' || t.Code == 'b') && d.Width != 1:
				want = "1"
			}
			if want != "" {
				out = append(out, WidthMismatch{
					Descriptor: di,
					Field:      field,
					Name:       tbl.Fields[field],
					Type:       t,
					Width:      d.Width,
					Want:       want,
				})
			}
			field++
		}
	}
	return out
}

// CheckRecordSize fails when the schema declares more bytes than a record holds.
func CheckRecordSize(declared, parsed int) error {
	if declared > parsed {
		return fmt.Errorf("%w: format has %d bytes, record has %d", ErrRecordSizeMismatch, declared, parsed)
	}
	return nil
}
