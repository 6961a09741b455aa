package format

import "encoding/binary"

// leBuf assembles little-endian test fixtures.
type leBuf struct {
	b []byte
}

func (w *leBuf) str(s string) *leBuf {
	w.b = append(w.b, s...)
	return w
}

func (w *leBuf) u32(vs ...uint32) *leBuf {
	for _, v := range vs {
		w.b = binary.LittleEndian.AppendUint32(w.b, v)
	}
	return w
}

func (w *leBuf) u16(vs ...uint16) *leBuf {
	for _, v := range vs {
		w.b = binary.LittleEndian.AppendUint16(w.b, v)
	}
	return w
}

func (w *leBuf) u8(vs ...byte) *leBuf {
	w.b = append(w.b, vs...)
	return w
}

func (w *leBuf) bytes() []byte { return w.b }

// wdb4Header returns a WDB4 header: records, fields, record size, string
// block size, then table_hash, build, timestamp, first, last, locale,
// clone size and flags.
func wdb4Header(records, fields, recordSize, sbSize, first, last, cloneSize, flags uint32) *leBuf {
	w := &leBuf{}
	w.str("WDB4").u32(records, fields, recordSize, sbSize)
	w.u32(0xCAFE, 21000, 1400000000, first, last, 0, cloneSize, flags)
	return w
}

// wdb5Header returns a WDB5 header without the field table.
func wdb5Header(records, fields, recordSize, sbSize, first, last, cloneSize uint32, flags uint16) *leBuf {
	w := &leBuf{}
	w.str("WDB5").u32(records, fields, recordSize, sbSize)
	w.u32(0xBEEF, 0x1234, first, last, 0, cloneSize)
	w.u16(flags, 0)
	return w
}
