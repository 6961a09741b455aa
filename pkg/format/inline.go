package format

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/eunmann/dbc-extract/pkg/schema"
)

// inlinePart is one step of an inline-string record: a fixed segment, a
// cluster of embedded strings, and the zero values standing in for padding
// fields, in that order.
type inlinePart struct {
	seg     *Segment
	strings []int // expanded schema positions
	pads    []int
}

// InlinePlan decodes records of offset-mapped files, where strings are
// stored inside the record instead of in a string block. Fixed fields are
// read with segments as in Plan; each string is located by scanning for its
// terminator, so every field after a string has a per-record position.
//
// String values are file offsets of the first character, resolvable through
// a StringBlock based at zero.
type InlinePlan struct {
	parts  []inlinePart
	kinds  []Kind
	fields []int
}

// CompileInlinePlan builds an inline-string plan. Schema types are required
// since nothing on disk marks which fields are strings. Padding fields have
// no bytes in inline records; they decode as zeros after the last string
// cluster so the value count matches the schema.
func CompileInlinePlan(descs []FieldDescriptor, types []schema.Type, recordSize int, log zerolog.Logger) (*InlinePlan, error) {
	if len(types) == 0 {
		return nil, fmt.Errorf("inline string records: %w", schema.ErrSchemaNotFound)
	}

	p := &InlinePlan{}
	cur := Segment{Mask: fullMask}
	flush := func() {
		if !cur.empty() {
			seg := cur
			p.parts = append(p.parts, inlinePart{seg: &seg})
		}
		cur = Segment{Mask: fullMask}
	}

	var pads []int
	lastCluster := -1
	consumed := 0
	expanded := 0

descriptors:
	for i, d := range descs {
		hint := typeHint(types, expanded)
		for r := 0; r < d.Repeat; r++ {
			field := expanded
			expanded++
			if hint.Padding() {
				log.Debug().Int("descriptor", i).Str("type", hint.String()).Msg("skipping padding field")
				pads = append(pads, field)
				continue
			}
			// Don't parse past the record length.
			if consumed >= recordSize {
				break descriptors
			}
			consumed += d.Width

			if hint.IsString() {
				flush()
				if n := len(p.parts); n > 0 && p.parts[n-1].seg == nil {
					p.parts[n-1].strings = append(p.parts[n-1].strings, field)
				} else {
					log.Debug().Int("descriptor", i).Int("pos", expanded).Msg("inline string field, starting string cluster")
					p.parts = append(p.parts, inlinePart{strings: []int{field}})
				}
				lastCluster = len(p.parts) - 1
				continue
			}

			sl := slotFor(d.Width, hint)
			sl.field = field
			cur.add(sl)
			if d.Width == 3 {
				cur.Mask = int24Mask
				cur.Int24 = true
				base := cur.Base + cur.Advance()
				flush()
				cur.Base = base
			}
		}
	}
	flush()

	if len(pads) > 0 {
		if lastCluster >= 0 {
			p.parts[lastCluster].pads = pads
		} else {
			p.parts = append(p.parts, inlinePart{pads: pads})
		}
	}

	for _, part := range p.parts {
		if part.seg != nil {
			p.kinds, p.fields = part.seg.kinds(p.kinds, p.fields)
		}
		for _, f := range part.strings {
			p.kinds = append(p.kinds, KindString)
			p.fields = append(p.fields, f)
		}
		for _, f := range part.pads {
			p.kinds = append(p.kinds, KindUnsigned)
			p.fields = append(p.fields, f)
		}
	}
	return p, nil
}

// Decode implements RecordDecoder.
func (p *InlinePlan) Decode(data []byte, offset, size int) ([]Value, error) {
	end := offset + size
	if offset < 0 || size < 0 || end > len(data) {
		return nil, fmt.Errorf("record at %d size %d (file %d): %w", offset, size, len(data), ErrBoundsCheck)
	}

	out := make([]Value, 0, len(p.kinds))
	cursor := offset
	var err error
	for _, part := range p.parts {
		if part.seg != nil {
			out, err = part.seg.decode(data, cursor, out)
			if err != nil {
				return nil, err
			}
			cursor += part.seg.Advance()
		}

		for range part.strings {
			if cursor >= end || data[cursor] == 0 {
				out = append(out, StringValue(0))
				cursor += 4
				continue
			}
			n := bytes.IndexByte(data[cursor:end], 0)
			if n < 0 {
				return nil, fmt.Errorf("inline string at %d: %w", cursor, ErrMalformedStringBlock)
			}
			term := cursor + n
			out = append(out, StringValue(uint32(cursor)))
			// The next field is either packed right after the terminator or
			// 4-byte aligned; a zero 4 bytes past the terminator means packed.
			if byteAt(data, term+4) == 0 {
				cursor = term + 1
			} else {
				cursor = term + 4
			}
		}

		for range part.pads {
			out = append(out, UintValue(0))
		}
	}
	return out, nil
}

// Kinds implements RecordDecoder.
func (p *InlinePlan) Kinds() []Kind { return p.kinds }

// Fields implements RecordDecoder.
func (p *InlinePlan) Fields() []int { return p.fields }

// Describe implements RecordDecoder.
func (p *InlinePlan) Describe() string {
	parts := make([]string, 0, len(p.parts))
	for _, part := range p.parts {
		if part.seg != nil {
			parts = append(parts, fmt.Sprintf("%s (len=%d)", part.seg.Layout(), part.seg.Size()))
		}
		if len(part.strings) > 0 {
			parts = append(parts, fmt.Sprintf("strings[%d]", len(part.strings)))
		}
		if len(part.pads) > 0 {
			parts = append(parts, fmt.Sprintf("pad[%d]", len(part.pads)))
		}
	}
	return strings.Join(parts, ", ")
}
