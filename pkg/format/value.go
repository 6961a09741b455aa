package format

import (
	"math"
	"strconv"
)

// Kind tags a decoded scalar.
type Kind uint8

const (
	KindUnsigned Kind = iota
	KindSigned
	KindFloat
	KindString // offset into the string block (or file, for inline strings)
)

func (k Kind) String() string {
	switch k {
	case KindUnsigned:
		return "uint"
	case KindSigned:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	}
	return "unknown"
}

// Value is one decoded field value.
type Value struct {
	Kind Kind
	bits uint64
}

// UintValue returns an unsigned value.
func UintValue(v uint64) Value { return Value{Kind: KindUnsigned, bits: v} }

// IntValue returns a signed value.
func IntValue(v int64) Value { return Value{Kind: KindSigned, bits: uint64(v)} }

// FloatValue returns a float value.
func FloatValue(v float32) Value { return Value{Kind: KindFloat, bits: uint64(math.Float32bits(v))} }

// StringValue returns a string reference. Offset 0 means "no string".
func StringValue(offset uint32) Value { return Value{Kind: KindString, bits: uint64(offset)} }

// Uint returns the value as an unsigned integer.
func (v Value) Uint() uint64 { return v.bits }

// Int returns the value as a signed integer.
func (v Value) Int() int64 { return int64(v.bits) }

// Float returns the value as a float.
func (v Value) Float() float32 { return math.Float32frombits(uint32(v.bits)) }

// StringOffset returns the string reference.
func (v Value) StringOffset() uint32 { return uint32(v.bits) }

func (v Value) String() string {
	switch v.Kind {
	case KindSigned:
		return strconv.FormatInt(v.Int(), 10)
	case KindFloat:
		return strconv.FormatFloat(float64(v.Float()), 'g', -1, 32)
	default:
		return strconv.FormatUint(v.bits, 10)
	}
}

// mask clears bits outside m while keeping the kind.
func (v Value) mask(m uint32) Value {
	v.bits &= uint64(m)
	return v
}

// decodeScalar interprets width little-endian bytes at off.
func decodeScalar(data []byte, off, width int, kind Kind) Value {
	raw := readLE(data, off, width)
	switch kind {
	case KindSigned:
		shift := 64 - 8*uint(width)
		return IntValue(int64(raw<<shift) >> shift)
	case KindFloat:
		return FloatValue(math.Float32frombits(uint32(raw)))
	case KindString:
		return StringValue(uint32(raw))
	}
	return UintValue(raw)
}
