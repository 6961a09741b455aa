// Package format decodes the WDB4, WDB5, WCH5/6 and WCH7 client table files:
// headers, field layouts, record unpack plans and string blocks.
package format

import (
	"encoding/binary"
	"fmt"
)

// Variant identifies one of the on-disk header layouts.
type Variant uint8

const (
	VariantUnknown Variant = iota
	VariantWDB4
	VariantWDB5
	VariantWCH5 // also WCH6, which shares the layout
	VariantWCH7
)

func (v Variant) String() string {
	switch v {
	case VariantWDB4:
		return "WDB4"
	case VariantWDB5:
		return "WDB5"
	case VariantWCH5:
		return "WCH5"
	case VariantWCH7:
		return "WCH7"
	default:
		return "unknown"
	}
}

// Overlay reports whether the variant is a locale cache overlay (WCH), which
// takes its feature flags from a base WDB file.
func (v Variant) Overlay() bool {
	return v == VariantWCH5 || v == VariantWCH7
}

// Header flag bits.
const (
	FlagOffsetMap uint32 = 0x01
	FlagIDBlock   uint32 = 0x04
)

// On-disk sizes of the fixed structures.
const (
	MagicSize              = 4
	baseHeaderSize         = MagicSize + 4*4 // magic, records, fields, record_size, sb_size
	wch7BaseHeaderSize     = MagicSize + 5*4
	wdb4TailSize           = 8 * 4
	wdb5TailSize           = 6*4 + 2*2
	wchTailSize            = 7 * 4
	FieldTableEntrySize    = 4  // raw_size:u16, offset:u16
	IDEntrySize            = 4  // id:u32
	CloneEntrySize         = 8  // target:u32, source:u32
	OffsetMapEntrySize     = 6  // offset:u32, size:u16
	OverlayOffsetEntrySize = 10 // id:u32, offset:u32, size:u16
)

// Features are the optional sections a file carries.
type Features struct {
	IDBlock   bool
	OffsetMap bool
}

// Header is a parsed file header plus the section offsets derived from it.
// Offsets of absent sections are zero.
type Header struct {
	Magic   [4]byte
	Variant Variant

	RecordCount     uint32
	FieldCount      uint32
	RecordSize      uint32
	StringBlockSize uint32

	TableHash        uint32
	LayoutHash       uint32 // WDB5, WCH
	Build            uint32 // WDB4, WCH
	Timestamp        uint32 // WDB4, WCH
	FirstID          uint32
	LastID           uint32
	Locale           uint32
	CloneSegmentSize uint32
	Flags            uint32 // WDB only; overlays borrow Features from their base
	IDIndex          uint16 // WDB5
	Unknown          uint32 // WCH7

	Features Features

	FieldTableOffset  int // WDB5
	DataOffset        int
	StringBlockOffset int
	IDBlockOffset     int
	CloneBlockOffset  int
	OffsetMapOffset   int
}

// HasIDBlock reports whether record ids are stored in a dedicated block.
func (h *Header) HasIDBlock() bool { return h.Features.IDBlock }

// HasOffsetMap reports whether records are variable-size and addressed
// through an offset map.
func (h *Header) HasOffsetMap() bool { return h.Features.OffsetMap }

// CloneCount returns the number of clone entries.
func (h *Header) CloneCount() int {
	return int(h.CloneSegmentSize) / CloneEntrySize
}

// OffsetMapSlots returns the number of sparse offset map slots
// (last_id - first_id + 1) for WDB files.
func (h *Header) OffsetMapSlots() int {
	if h.LastID < h.FirstID {
		return 0
	}
	return int(h.LastID-h.FirstID) + 1
}

// DetectVariant identifies the header layout from the magic tag.
func DetectVariant(data []byte) (Variant, error) {
	if len(data) < MagicSize {
		return VariantUnknown, ErrInvalidHeader
	}
	switch string(data[:MagicSize]) {
	case "WDB4":
		return VariantWDB4, nil
	case "WDB5":
		return VariantWDB5, nil
	case "WCH5", "WCH6":
		return VariantWCH5, nil
	case "WCH7":
		return VariantWCH7, nil
	}
	return VariantUnknown, fmt.Errorf("%w: %q", ErrInvalidMagic, data[:MagicSize])
}

// DecodeHeader parses the header of a table file. Overlay (WCH) files need
// the header of their base WDB file, whose features they inherit; base must
// be nil for WDB files.
func DecodeHeader(data []byte, base *Header) (Header, error) {
	variant, err := DetectVariant(data)
	if err != nil {
		return Header{}, err
	}

	var h Header
	copy(h.Magic[:], data[:MagicSize])
	h.Variant = variant

	switch variant {
	case VariantWDB4:
		err = h.decodeWDB4(data)
	case VariantWDB5:
		err = h.decodeWDB5(data)
	case VariantWCH5, VariantWCH7:
		if base == nil {
			return Header{}, ErrMissingBase
		}
		err = h.decodeWCH(data, base.Features)
	}
	if err != nil {
		return Header{}, err
	}
	return h, nil
}

func (h *Header) decodeBase(data []byte) {
	h.RecordCount = binary.LittleEndian.Uint32(data[4:8])
	h.FieldCount = binary.LittleEndian.Uint32(data[8:12])
	h.RecordSize = binary.LittleEndian.Uint32(data[12:16])
	h.StringBlockSize = binary.LittleEndian.Uint32(data[16:20])
}

func (h *Header) decodeWDB4(data []byte) error {
	if len(data) < baseHeaderSize+wdb4TailSize {
		return ErrInvalidHeader
	}
	h.decodeBase(data)

	t := data[baseHeaderSize:]
	h.TableHash = binary.LittleEndian.Uint32(t[0:4])
	h.Build = binary.LittleEndian.Uint32(t[4:8])
	h.Timestamp = binary.LittleEndian.Uint32(t[8:12])
	h.FirstID = binary.LittleEndian.Uint32(t[12:16])
	h.LastID = binary.LittleEndian.Uint32(t[16:20])
	h.Locale = binary.LittleEndian.Uint32(t[20:24])
	h.CloneSegmentSize = binary.LittleEndian.Uint32(t[24:28])
	h.Flags = binary.LittleEndian.Uint32(t[28:32])

	return h.layoutWDB(baseHeaderSize+wdb4TailSize, 0)
}

func (h *Header) decodeWDB5(data []byte) error {
	if len(data) < baseHeaderSize+wdb5TailSize {
		return ErrInvalidHeader
	}
	h.decodeBase(data)

	t := data[baseHeaderSize:]
	h.TableHash = binary.LittleEndian.Uint32(t[0:4])
	h.LayoutHash = binary.LittleEndian.Uint32(t[4:8])
	h.FirstID = binary.LittleEndian.Uint32(t[8:12])
	h.LastID = binary.LittleEndian.Uint32(t[12:16])
	h.Locale = binary.LittleEndian.Uint32(t[16:20])
	h.CloneSegmentSize = binary.LittleEndian.Uint32(t[20:24])
	h.Flags = uint32(binary.LittleEndian.Uint16(t[24:26]))
	h.IDIndex = binary.LittleEndian.Uint16(t[26:28])

	end := baseHeaderSize + wdb5TailSize
	h.FieldTableOffset = end
	return h.layoutWDB(end, int(h.FieldCount)*FieldTableEntrySize)
}

// layoutWDB derives section offsets for WDB4/5. fieldTable is the size of
// the WDB5 field table that sits between the header and the records.
func (h *Header) layoutWDB(headerEnd, fieldTable int) error {
	h.Features = Features{
		IDBlock:   h.Flags&FlagIDBlock != 0,
		OffsetMap: h.Flags&FlagOffsetMap != 0,
	}

	h.DataOffset = headerEnd + fieldTable
	recordsEnd := h.DataOffset + int(h.RecordCount)*int(h.RecordSize)
	nextSection := recordsEnd + int(h.StringBlockSize)

	if h.StringBlockSize > 2 {
		h.StringBlockOffset = recordsEnd
	}
	if h.HasIDBlock() {
		h.IDBlockOffset = nextSection
	}

	// With an offset map, the string block size field holds the map's
	// position instead; strings live inline in the records.
	if h.HasOffsetMap() {
		if h.LastID < h.FirstID {
			return fmt.Errorf("%w: offset map with last_id %d < first_id %d",
				ErrInvalidHeader, h.LastID, h.FirstID)
		}
		h.OffsetMapOffset = int(h.StringBlockSize)
		h.StringBlockOffset = 0
		nextSection = h.OffsetMapOffset + h.OffsetMapSlots()*OffsetMapEntrySize
		if h.HasIDBlock() {
			h.IDBlockOffset = nextSection
		}
	}

	if h.CloneSegmentSize > 0 {
		if h.HasIDBlock() {
			h.CloneBlockOffset = h.IDBlockOffset + int(h.RecordCount)*IDEntrySize
		} else {
			h.CloneBlockOffset = nextSection
		}
	}
	return nil
}

func (h *Header) decodeWCH(data []byte, base Features) error {
	headerEnd := baseHeaderSize + wchTailSize
	if h.Variant == VariantWCH7 {
		headerEnd = wch7BaseHeaderSize + wchTailSize
	}
	if len(data) < headerEnd {
		return ErrInvalidHeader
	}

	tail := baseHeaderSize
	if h.Variant == VariantWCH7 {
		// WCH7 has an extra unknown field between record and field counts.
		h.RecordCount = binary.LittleEndian.Uint32(data[4:8])
		h.Unknown = binary.LittleEndian.Uint32(data[8:12])
		h.FieldCount = binary.LittleEndian.Uint32(data[12:16])
		h.RecordSize = binary.LittleEndian.Uint32(data[16:20])
		h.StringBlockSize = binary.LittleEndian.Uint32(data[20:24])
		tail = wch7BaseHeaderSize
	} else {
		h.decodeBase(data)
	}

	t := data[tail:]
	h.TableHash = binary.LittleEndian.Uint32(t[0:4])
	h.LayoutHash = binary.LittleEndian.Uint32(t[4:8])
	h.Build = binary.LittleEndian.Uint32(t[8:12])
	h.Timestamp = binary.LittleEndian.Uint32(t[12:16])
	h.FirstID = binary.LittleEndian.Uint32(t[16:20])
	h.LastID = binary.LittleEndian.Uint32(t[20:24])
	h.Locale = binary.LittleEndian.Uint32(t[24:28])

	h.Features = base
	h.CloneSegmentSize = 0
	h.DataOffset = headerEnd

	recordsEnd := headerEnd + int(h.RecordCount)*int(h.RecordSize)
	if h.StringBlockSize > 2 {
		h.StringBlockOffset = recordsEnd
	}
	if h.HasOffsetMap() {
		h.OffsetMapOffset = headerEnd
		h.StringBlockOffset = 0
	}
	if h.HasIDBlock() {
		h.IDBlockOffset = recordsEnd + int(h.StringBlockSize)
	}
	return nil
}

// Summary returns the header as key=value pairs for diagnostics.
func (h *Header) Summary(fileSize int) []string {
	fields := []string{
		fmt.Sprintf("byte_size=%d", fileSize),
		fmt.Sprintf("records=%d", h.RecordCount),
		fmt.Sprintf("fields=%d", h.FieldCount),
		fmt.Sprintf("o_data=%d", h.DataOffset),
		fmt.Sprintf("record_size=%d", h.RecordSize),
	}
	if h.StringBlockSize > 0 {
		fields = append(fields, fmt.Sprintf("sb_size=%d", h.StringBlockSize))
	}
	if h.StringBlockOffset > 0 {
		fields = append(fields, fmt.Sprintf("o_sb=%d", h.StringBlockOffset))
	}

	fields = append(fields, fmt.Sprintf("table_hash=%#.8x", h.TableHash))
	if h.Variant != VariantWDB5 {
		fields = append(fields,
			fmt.Sprintf("build=%d", h.Build),
			fmt.Sprintf("timestamp=%d", h.Timestamp))
	}
	fields = append(fields,
		fmt.Sprintf("first_id=%d", h.FirstID),
		fmt.Sprintf("last_id=%d", h.LastID),
		fmt.Sprintf("locale=%#.8x", h.Locale))
	if h.CloneSegmentSize > 0 {
		fields = append(fields,
			fmt.Sprintf("clone_size=%d", h.CloneSegmentSize),
			fmt.Sprintf("o_clone_block=%d", h.CloneBlockOffset))
	}
	if h.IDBlockOffset > 0 {
		fields = append(fields, fmt.Sprintf("o_id_block=%d", h.IDBlockOffset))
	}
	if h.OffsetMapOffset > 0 {
		fields = append(fields, fmt.Sprintf("o_offset_map=%d", h.OffsetMapOffset))
	}
	if !h.Variant.Overlay() {
		fields = append(fields, fmt.Sprintf("flags=%#.8x", h.Flags))
	}

	switch h.Variant {
	case VariantWDB5:
		fields = append(fields, fmt.Sprintf("layout_hash=%#.8x", h.LayoutHash))
		if h.IDIndex > 0 {
			fields = append(fields, fmt.Sprintf("id_index=%d", h.IDIndex))
		}
	case VariantWCH7:
		fields = append(fields, fmt.Sprintf("unk_wch7=%d", h.Unknown))
	}
	return fields
}
