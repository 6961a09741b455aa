package format

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/eunmann/dbc-extract/pkg/schema"
)

const (
	fullMask  uint32 = 0xFFFFFFFF
	int24Mask uint32 = 0x00FFFFFF
)

// RecordDecoder turns the bytes of one record into ordered values.
//
// Implementations are immutable after construction and safe for concurrent use.
type RecordDecoder interface {
	Decode(data []byte, offset, size int) ([]Value, error)
	// Kinds returns the kind of every value Decode produces, in order.
	Kinds() []Kind
	// Fields returns the expanded schema position of every value.
	Fields() []int
	// Describe renders the plan for debug logs.
	Describe() string
}

// slot is one scalar read, or a skipped padding run when skip > 0. field is
// the expanded schema position the value belongs to.
type slot struct {
	width int
	kind  Kind
	skip  int
	field int
}

func (s slot) size() int {
	if s.skip > 0 {
		return s.skip
	}
	return s.width
}

func (s slot) layout() string {
	if s.skip > 0 {
		return strconv.Itoa(s.skip) + "x"
	}
	codes := map[Kind]string{KindUnsigned: "BHII", KindSigned: "bhii", KindFloat: "ffff", KindString: "SSSS"}
	return codes[s.kind][s.width-1 : s.width]
}

// Segment is a contiguous run of fields decoded in one pass. A segment that
// ends in a 3-byte field reads it as 4 bytes and masks the final value.
type Segment struct {
	Base  int
	Mask  uint32
	Int24 bool

	slots []slot
	size  int
}

// Size returns the number of bytes the segment reads.
func (s *Segment) Size() int { return s.size }

// Advance returns how far the record cursor moves past the segment; a
// trailing 3-byte field only consumed 3 of the 4 bytes read.
func (s *Segment) Advance() int {
	if s.Int24 {
		return s.size - 1
	}
	return s.size
}

// Layout returns the segment's native layout string, e.g. "IIhB".
func (s *Segment) Layout() string {
	var sb strings.Builder
	for _, sl := range s.slots {
		sb.WriteString(sl.layout())
	}
	return sb.String()
}

func (s *Segment) add(sl slot) {
	s.slots = append(s.slots, sl)
	s.size += sl.size()
}

func (s *Segment) empty() bool { return len(s.slots) == 0 }

// decode appends the segment's values read at off.
func (s *Segment) decode(data []byte, off int, out []Value) ([]Value, error) {
	need := off + s.Advance()
	if off < 0 || need > len(data) {
		return out, fmt.Errorf("segment %s at %d (size %d): %w", s.Layout(), off, len(data), ErrBoundsCheck)
	}
	first := len(out)
	pos := off
	for _, sl := range s.slots {
		if sl.skip == 0 {
			out = append(out, decodeScalar(data, pos, sl.width, sl.kind))
		}
		pos += sl.size()
	}
	if s.Int24 && len(out) > first {
		out[len(out)-1] = out[len(out)-1].mask(s.Mask)
	}
	return out, nil
}

func (s *Segment) kinds(out []Kind, fields []int) ([]Kind, []int) {
	for _, sl := range s.slots {
		if sl.skip == 0 {
			out = append(out, sl.kind)
			fields = append(fields, sl.field)
		}
	}
	return out, fields
}

// typeHint returns the schema type for the slot at expanded position idx.
// Past the end of the schema the last type is reused; nil means raw decoding.
func typeHint(types []schema.Type, idx int) *schema.Type {
	if len(types) == 0 {
		return nil
	}
	if idx >= len(types) {
		idx = len(types) - 1
	}
	return &types[idx]
}

// slotFor maps an on-disk width and schema hint to a native read.
func slotFor(width int, hint *schema.Type) slot {
	read := width
	if read >= 3 {
		read = 4
	}
	if hint == nil {
		if read == 4 {
			return slot{width: read, kind: KindSigned}
		}
		return slot{width: read, kind: KindUnsigned}
	}
	switch {
	case hint.Padding():
		return slot{skip: width}
	case hint.IsString():
		return slot{width: read, kind: KindString}
	case hint.Float() && width == 4:
		return slot{width: read, kind: KindFloat}
	case hint.Signed():
		return slot{width: read, kind: KindSigned}
	}
	return slot{width: read, kind: KindUnsigned}
}

// Plan is the decode plan for fixed-layout records.
type Plan struct {
	Segments []Segment
	kinds    []Kind
	fields   []int
}

// CompilePlan builds decode segments from field descriptors. Every 3-byte
// field terminates the current segment as a masked 4-byte read; the next
// segment starts one byte before that read ended. types may be nil, in which
// case narrow fields decode unsigned and 32-bit fields signed.
func CompilePlan(descs []FieldDescriptor, types []schema.Type, log zerolog.Logger) *Plan {
	p := &Plan{}
	cur := Segment{Mask: fullMask}
	expanded := 0

	for i, d := range descs {
		hint := typeHint(types, expanded)
		for r := 0; r < d.Repeat; r++ {
			sl := slotFor(d.Width, hint)
			sl.field = expanded
			expanded++
			cur.add(sl)

			if d.Width == 3 && sl.skip == 0 {
				log.Debug().
					Int("descriptor", i).
					Int("pos", expanded).
					Str("layout", cur.Layout()).
					Msg("3-byte field, starting new segment")
				cur.Mask = int24Mask
				cur.Int24 = true
				p.Segments = append(p.Segments, cur)
				cur = Segment{Base: cur.Base + cur.Advance(), Mask: fullMask}
			}
		}
	}

	if !cur.empty() {
		if len(descs) > 0 && descs[len(descs)-1].Width == 3 {
			cur.Mask = int24Mask
			cur.Int24 = true
		}
		p.Segments = append(p.Segments, cur)
	}

	for i := range p.Segments {
		p.kinds, p.fields = p.Segments[i].kinds(p.kinds, p.fields)
	}
	return p
}

// CompileWidePlan builds a single-segment plan that reads every field as 4
// bytes regardless of its on-disk width. Some overlay tables store all
// fields expanded this way with nothing in the file to say so.
func CompileWidePlan(descs []FieldDescriptor, types []schema.Type) *Plan {
	seg := Segment{Mask: fullMask}
	expanded := 0
	for _, d := range descs {
		hint := typeHint(types, expanded)
		for r := 0; r < d.Repeat; r++ {
			sl := slot{width: 4, kind: KindUnsigned, field: expanded}
			expanded++
			switch {
			case hint == nil:
				sl.kind = KindSigned
			case hint.Padding():
				sl = slot{skip: hint.Pad}
			case hint.IsString():
				sl.kind = KindString
			case hint.Float():
				sl.kind = KindFloat
			case hint.Signed():
				sl.kind = KindSigned
			}
			seg.add(sl)
		}
	}

	p := &Plan{}
	if !seg.empty() {
		p.Segments = []Segment{seg}
		p.kinds, p.fields = seg.kinds(nil, nil)
	}
	return p
}

// Decode implements RecordDecoder.
func (p *Plan) Decode(data []byte, offset, size int) ([]Value, error) {
	out := make([]Value, 0, len(p.kinds))
	var err error
	for i := range p.Segments {
		seg := &p.Segments[i]
		out, err = seg.decode(data, offset+seg.Base, out)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Kinds implements RecordDecoder.
func (p *Plan) Kinds() []Kind { return p.kinds }

// Fields implements RecordDecoder.
func (p *Plan) Fields() []int { return p.fields }

// Describe implements RecordDecoder.
func (p *Plan) Describe() string {
	parts := make([]string, len(p.Segments))
	for i := range p.Segments {
		s := &p.Segments[i]
		parts[i] = fmt.Sprintf("%s (len=%d, offset=%d)", s.Layout(), s.Size(), s.Base)
	}
	return strings.Join(parts, ", ")
}
