package format

import (
	"bytes"
	"fmt"
)

// StringBlock resolves string references stored in records.
type StringBlock struct {
	data []byte
	base int
}

// NewStringBlock returns an accessor for strings at base+offset in data.
// Inline-string files use base 0 since their references are file offsets.
func NewStringBlock(data []byte, base int) StringBlock {
	return StringBlock{data: data, base: base}
}

// Resolve returns the NUL-terminated string at the relative offset. Offset 0
// is reserved and yields ok=false. A string running off the end of the file
// is an error for that string only.
func (s StringBlock) Resolve(offset uint32) (str string, ok bool, err error) {
	if offset == 0 {
		return "", false, nil
	}
	start := s.base + int(offset)
	if start >= len(s.data) {
		return "", false, fmt.Errorf("string at %d beyond file size %d: %w", start, len(s.data), ErrMalformedStringBlock)
	}
	n := bytes.IndexByte(s.data[start:], 0)
	if n < 0 {
		return "", false, fmt.Errorf("unterminated string at %d: %w", start, ErrMalformedStringBlock)
	}
	return string(s.data[start : start+n]), true, nil
}
