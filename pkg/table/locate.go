package table

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/eunmann/dbc-extract/pkg/format"
	"github.com/eunmann/dbc-extract/pkg/locator"
)

// buildLocator indexes record locations from whichever of the overlay
// offset map, the id block and the sparse offset map the file carries,
// then aliases clones onto their sources. Files with none of these get an
// empty index and are searched by scanning the id field.
func buildLocator(data []byte, h *format.Header, log zerolog.Logger) (*locator.Index, error) {
	var (
		b   *locator.Builder
		err error
	)

	if h.CloneCount() > 0 && (h.HasIDBlock() || h.HasOffsetMap()) {
		if err := format.CheckSection(data, "clone block", h.CloneBlockOffset, h.CloneCount(), format.CloneEntrySize); err != nil {
			return nil, err
		}
	}

	switch {
	case h.Variant.Overlay() && h.HasOffsetMap():
		b, err = overlayEntries(data, h)
	case h.HasIDBlock():
		b, err = idBlockEntries(data, h, log)
	case h.HasOffsetMap():
		b, err = offsetMapEntries(data, h)
	default:
		if h.CloneCount() > 0 {
			log.Debug().Int("clones", h.CloneCount()).Msg("no id block, ignoring clone entries")
		}
		return locator.Empty(), nil
	}
	if err != nil {
		return nil, err
	}

	if err := addClones(b, data, h); err != nil {
		return nil, err
	}
	if n := b.Dropped(); n > 0 {
		log.Warn().Int("dropped", n).Msg("clone entries reference unknown source ids")
	}
	return b.Build()
}

// overlayEntries reads the dense (id, offset, size) map of an overlay.
func overlayEntries(data []byte, h *format.Header) (*locator.Builder, error) {
	n := int(h.RecordCount)
	if err := format.CheckSection(data, "overlay offset map", h.OffsetMapOffset, n, format.OverlayOffsetEntrySize); err != nil {
		return nil, err
	}
	b := locator.NewBuilder(n)
	for i := 0; i < n; i++ {
		pos := h.OffsetMapOffset + i*format.OverlayOffsetEntrySize
		id, err := format.Uint32At(data, pos)
		if err != nil {
			return nil, fmt.Errorf("overlay offset map entry %d: %w", i, err)
		}
		offset, err := format.Uint32At(data, pos+4)
		if err != nil {
			return nil, fmt.Errorf("overlay offset map entry %d: %w", i, err)
		}
		size, err := format.Uint16At(data, pos+8)
		if err != nil {
			return nil, fmt.Errorf("overlay offset map entry %d: %w", i, err)
		}
		if size == 0 {
			continue
		}
		b.Add(id, int(offset), int(size))
	}
	return b, nil
}

// idBlockEntries pairs the i-th id with the i-th record, or, with a sparse
// offset map, with the map slot for that id.
func idBlockEntries(data []byte, h *format.Header, log zerolog.Logger) (*locator.Builder, error) {
	n := int(h.RecordCount)
	if err := format.CheckSection(data, "id block", h.IDBlockOffset, n, format.IDEntrySize); err != nil {
		return nil, err
	}
	b := locator.NewBuilder(n + h.CloneCount())
	for i := 0; i < n; i++ {
		id, err := format.Uint32At(data, h.IDBlockOffset+i*format.IDEntrySize)
		if err != nil {
			return nil, fmt.Errorf("id block entry %d: %w", i, err)
		}

		if !h.HasOffsetMap() {
			b.Add(id, h.DataOffset+i*int(h.RecordSize), int(h.RecordSize))
			continue
		}

		if id < h.FirstID || id > h.LastID {
			log.Warn().Uint32("id", id).Msg("id outside offset map range, skipping")
			continue
		}
		offset, size, err := offsetMapSlot(data, h, int(id-h.FirstID))
		if err != nil {
			return nil, err
		}
		if size == 0 {
			continue
		}
		b.Add(id, offset, size)
	}
	return b, nil
}

// offsetMapEntries enumerates the sparse map directly when there is no id
// block; the id of a slot is its index plus first_id.
func offsetMapEntries(data []byte, h *format.Header) (*locator.Builder, error) {
	slots := h.OffsetMapSlots()
	if err := format.CheckSection(data, "offset map", h.OffsetMapOffset, slots, format.OffsetMapEntrySize); err != nil {
		return nil, err
	}
	b := locator.NewBuilder(slots + h.CloneCount())
	for s := 0; s < slots; s++ {
		offset, size, err := offsetMapSlot(data, h, s)
		if err != nil {
			return nil, err
		}
		if size == 0 {
			continue
		}
		b.Add(h.FirstID+uint32(s), offset, size)
	}
	return b, nil
}

func offsetMapSlot(data []byte, h *format.Header, slot int) (offset, size int, err error) {
	pos := h.OffsetMapOffset + slot*format.OffsetMapEntrySize
	off, err := format.Uint32At(data, pos)
	if err != nil {
		return 0, 0, fmt.Errorf("offset map slot %d: %w", slot, err)
	}
	sz, err := format.Uint16At(data, pos+4)
	if err != nil {
		return 0, 0, fmt.Errorf("offset map slot %d: %w", slot, err)
	}
	return int(off), int(sz), nil
}

func addClones(b *locator.Builder, data []byte, h *format.Header) error {
	for c := 0; c < h.CloneCount(); c++ {
		pos := h.CloneBlockOffset + c*format.CloneEntrySize
		target, err := format.Uint32At(data, pos)
		if err != nil {
			return fmt.Errorf("clone entry %d: %w", c, err)
		}
		source, err := format.Uint32At(data, pos+4)
		if err != nil {
			return fmt.Errorf("clone entry %d: %w", c, err)
		}
		b.AddClone(target, source)
	}
	return nil
}
