// Package schema describes the semantic layout of client tables: an ordered
// list of field names with one type code each.
//
// Type codes:
//
//	I / i  unsigned / signed 32-bit integer
//	H / h  unsigned / signed 16-bit integer
//	B / b  unsigned / signed 8-bit integer
//	f      32-bit float
//	S      32-bit string block offset
//	Nx     N bytes of padding
package schema

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrSchemaNotFound indicates the provider has no entry for a table.
	ErrSchemaNotFound = errors.New("schema not found")
	// ErrInvalidType indicates an unknown type code.
	ErrInvalidType = errors.New("invalid type code")
)

// Provider resolves table names to their field names and type codes.
// Both methods return ErrSchemaNotFound (possibly wrapped) for unknown tables.
type Provider interface {
	Fields(table string) ([]string, error)
	Types(table string) ([]string, error)
}

// Type is a parsed type code.
type Type struct {
	Code byte // one of IiHhBbfS, or 'x' for padding
	Pad  int  // padding width in bytes when Code is 'x'
}

// ParseType parses a single type code.
func ParseType(code string) (Type, error) {
	if len(code) == 1 {
		switch code[0] {
		case 'I', 'i', 'H', 'h', 'B', 'b', 'f', 'S':
			return Type{Code: code[0]}, nil
		}
	}
	if n, ok := strings.CutSuffix(code, "x"); ok && n != "" {
		width, err := strconv.Atoi(n)
		if err == nil && width > 0 {
			return Type{Code: 'x', Pad: width}, nil
		}
	}
	return Type{}, fmt.Errorf("%w: %q", ErrInvalidType, code)
}

// ParseTypes parses a list of type codes.
func ParseTypes(codes []string) ([]Type, error) {
	types := make([]Type, len(codes))
	for i, c := range codes {
		t, err := ParseType(c)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		types[i] = t
	}
	return types, nil
}

// Width returns the declared byte width of the type.
func (t Type) Width() int {
	switch t.Code {
	case 'I', 'i', 'f', 'S':
		return 4
	case 'H', 'h':
		return 2
	case 'B', 'b':
		return 1
	case 'x':
		return t.Pad
	}
	return 0
}

// Padding reports whether the type is a padding run.
func (t Type) Padding() bool { return t.Code == 'x' }

// Signed reports whether the type is a signed integer.
func (t Type) Signed() bool { return t.Code == 'i' || t.Code == 'h' || t.Code == 'b' }

// Float reports whether the type is a 32-bit float.
func (t Type) Float() bool { return t.Code == 'f' }

// IsString reports whether the type is a string reference.
func (t Type) IsString() bool { return t.Code == 'S' }

func (t Type) String() string {
	if t.Padding() {
		return strconv.Itoa(t.Pad) + "x"
	}
	return string(t.Code)
}

// Table is the resolved schema of one table.
type Table struct {
	Name   string
	Fields []string
	Types  []Type
}

// Lookup resolves a table through a provider.
func Lookup(p Provider, table string) (*Table, error) {
	if p == nil {
		return nil, fmt.Errorf("%s: %w", table, ErrSchemaNotFound)
	}
	fields, err := p.Fields(table)
	if err != nil {
		return nil, fmt.Errorf("fields for %s: %w", table, err)
	}
	codes, err := p.Types(table)
	if err != nil {
		return nil, fmt.Errorf("types for %s: %w", table, err)
	}
	if len(fields) != len(codes) {
		return nil, fmt.Errorf("schema %s: %d fields but %d types", table, len(fields), len(codes))
	}
	types, err := ParseTypes(codes)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", table, err)
	}
	return &Table{Name: table, Fields: fields, Types: types}, nil
}

// DeclaredSize returns the record size implied by the type codes.
func (t *Table) DeclaredSize() int {
	size := 0
	for _, typ := range t.Types {
		size += typ.Width()
	}
	return size
}

// FieldIndex returns the position of the named field, or -1.
func (t *Table) FieldIndex(name string) int {
	for i, f := range t.Fields {
		if f == name {
			return i
		}
	}
	return -1
}
