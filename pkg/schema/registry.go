package schema

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
)

// Registry is an in-memory Provider. It is safe for concurrent reads once
// populated.
type Registry struct {
	tables map[string]entry
}

type entry struct {
	fields []string
	types  []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tables: make(map[string]entry)}
}

// Register adds or replaces the schema of a table.
func (r *Registry) Register(table string, fields, types []string) error {
	if len(fields) != len(types) {
		return fmt.Errorf("schema %s: %d fields but %d types", table, len(fields), len(types))
	}
	if _, err := ParseTypes(types); err != nil {
		return fmt.Errorf("schema %s: %w", table, err)
	}
	r.tables[table] = entry{
		fields: append([]string(nil), fields...),
		types:  append([]string(nil), types...),
	}
	return nil
}

// Fields implements Provider.
func (r *Registry) Fields(table string) ([]string, error) {
	e, ok := r.tables[table]
	if !ok {
		return nil, fmt.Errorf("%s: %w", table, ErrSchemaNotFound)
	}
	return e.fields, nil
}

// Types implements Provider.
func (r *Registry) Types(table string) ([]string, error) {
	e, ok := r.tables[table]
	if !ok {
		return nil, fmt.Errorf("%s: %w", table, ErrSchemaNotFound)
	}
	return e.types, nil
}

// Tables returns the registered table names in sorted order.
func (r *Registry) Tables() []string {
	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// jsonField is one field of a schema file:
//
//	{"SpellEffect": [{"field": "id", "data_type": "I"}, ...]}
type jsonField struct {
	Field    string `json:"field"`
	DataType string `json:"data_type"`
}

// LoadJSON reads a registry from a JSON schema document.
func LoadJSON(r io.Reader) (*Registry, error) {
	var doc map[string][]jsonField
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}

	reg := NewRegistry()
	for table, fields := range doc {
		names := make([]string, len(fields))
		types := make([]string, len(fields))
		for i, f := range fields {
			names[i] = f.Field
			types[i] = f.DataType
		}
		if err := reg.Register(table, names, types); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// LoadFile reads a registry from a JSON schema file.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open schema: %w", err)
	}
	defer f.Close()

	reg, err := LoadJSON(f)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return reg, nil
}
