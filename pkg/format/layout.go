package format

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/eunmann/dbc-extract/pkg/schema"
)

// FieldDescriptor is the physical layout of one field: Repeat contiguous
// elements of Width bytes starting at Offset within the record.
type FieldDescriptor struct {
	Offset int
	Width  int
	Repeat int
}

// PaddedWidth returns the width the field occupies once decoded; 3-byte
// fields are read as 4 bytes.
func (d FieldDescriptor) PaddedWidth() int {
	if d.Width == 3 {
		return 4
	}
	return d.Width
}

func (d FieldDescriptor) String() string {
	s := fmt.Sprintf("int%d", d.Width*8)
	if d.Repeat > 1 {
		s += fmt.Sprintf("[%d]", d.Repeat)
	}
	return fmt.Sprintf("%s@%d", s, d.Offset)
}

// SchemaLayout derives descriptors from schema type codes, one per code,
// packed back to back. Padding codes contribute their declared width.
func SchemaLayout(types []schema.Type) []FieldDescriptor {
	descs := make([]FieldDescriptor, 0, len(types))
	offset := 0
	for _, t := range types {
		w := t.Width()
		descs = append(descs, FieldDescriptor{Offset: offset, Width: w, Repeat: 1})
		offset += w
	}
	return descs
}

// FieldTableLayout decodes the WDB5 field table. Each entry gives a field's
// width as (32 - raw_size) / 8 and its record offset; array lengths are
// inferred from the gap to the next field, and the last field repeats while
// the record has room for another element. A trailing remainder narrower
// than the last field's width is padding and is dropped.
func FieldTableLayout(data []byte, h *Header) ([]FieldDescriptor, error) {
	n := int(h.FieldCount)
	start := h.FieldTableOffset
	if start+n*FieldTableEntrySize > len(data) {
		return nil, fmt.Errorf("field table of %d entries: %w", n, ErrBoundsCheck)
	}

	descs := make([]FieldDescriptor, 0, n)
	for i := 0; i < n; i++ {
		e := data[start+i*FieldTableEntrySize:]
		raw := int(binary.LittleEndian.Uint16(e[0:2]))
		offset := int(binary.LittleEndian.Uint16(e[2:4]))

		width := (32 - raw) / 8
		if width < 1 || width > 4 {
			return nil, fmt.Errorf("%w: field %d has raw size %d", ErrInvalidHeader, i, raw)
		}

		if i > 0 {
			prev := &descs[i-1]
			if offset < prev.Offset {
				return nil, fmt.Errorf("%w: field %d offset %d precedes field %d offset %d",
					ErrInvalidHeader, i, offset, i-1, prev.Offset)
			}
			prev.Repeat = (offset - prev.Offset) / prev.Width
		}
		descs = append(descs, FieldDescriptor{Offset: offset, Width: width})
	}

	if n > 0 {
		last := &descs[n-1]
		left := int(h.RecordSize) - last.Offset
		for left >= last.Width {
			last.Repeat++
			left -= last.Width
		}
	}
	return descs, nil
}

// ParsedRecordSize returns the decoded record size. For WDB5 this is the sum
// of padded field widths, which may exceed the header's record size; other
// variants use the header value.
func ParsedRecordSize(h *Header, descs []FieldDescriptor) int {
	if h.Variant != VariantWDB5 {
		return int(h.RecordSize)
	}
	size := 0
	for _, d := range descs {
		size += d.PaddedWidth() * d.Repeat
	}
	return size
}

// ExpandedCount returns the number of scalar slots the descriptors describe.
func ExpandedCount(descs []FieldDescriptor) int {
	n := 0
	for _, d := range descs {
		n += d.Repeat
	}
	return n
}

// DescribeLayout renders descriptors as "#1: int32@0, #2: int8[4]@4".
func DescribeLayout(descs []FieldDescriptor) string {
	parts := make([]string, len(descs))
	for i, d := range descs {
		parts[i] = fmt.Sprintf("#%d: %s", i+1, d)
	}
	return strings.Join(parts, ", ")
}
