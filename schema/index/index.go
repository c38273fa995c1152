// Package index provides fluent builders for entity storage indexes.
//
//	index.Fields("status", "-publish_time")
//	index.Fields("email").Unique().StorageKey("users_email")
//
// A leading "-" on a field name makes that key descending.
package index

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/pytsite/odm/dialect"
)

var keyRe = regexp.MustCompile(`^-?[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// Index is implemented by index builders.
type Index interface {
	Descriptor() *Descriptor
}

// Descriptor holds the declaration of an index.
type Descriptor struct {
	Fields     []string // Field keys, "-" prefixed when descending.
	Unique     bool     // Whether the key combination is unique.
	StorageKey string   // Storage name. Generated from the keys when empty.
}

// Spec converts the descriptor to the driver form.
func (d *Descriptor) Spec() dialect.IndexSpec {
	spec := dialect.IndexSpec{Unique: d.Unique, Keys: make([]dialect.Order, len(d.Fields))}
	for i, f := range d.Fields {
		if name, ok := strings.CutPrefix(f, "-"); ok {
			spec.Keys[i] = dialect.Order{Field: name, Direction: dialect.Desc}
		} else {
			spec.Keys[i] = dialect.Order{Field: f, Direction: dialect.Asc}
		}
	}
	spec.Name = d.StorageKey
	if spec.Name == "" {
		spec.Name = spec.DefaultName()
	}
	return spec
}

// Err reports an invalid declaration.
func (d *Descriptor) Err() error {
	if len(d.Fields) == 0 {
		return errors.New("index: no fields")
	}
	seen := make(map[string]bool, len(d.Fields))
	for _, f := range d.Fields {
		if !keyRe.MatchString(f) {
			return fmt.Errorf("index: invalid field key %q", f)
		}
		name := strings.TrimPrefix(f, "-")
		if seen[name] {
			return fmt.Errorf("index: field %q used twice", name)
		}
		seen[name] = true
	}
	return nil
}

// Builder for indexes.
type Builder struct {
	desc *Descriptor
}

// Fields creates an index on the given field keys.
func Fields(fields ...string) *Builder {
	return &Builder{desc: &Descriptor{Fields: fields}}
}

// Unique sets the index to be a unique index.
func (b *Builder) Unique() *Builder {
	b.desc.Unique = true
	return b
}

// StorageKey sets the storage name of the index.
func (b *Builder) StorageKey(key string) *Builder {
	b.desc.StorageKey = key
	return b
}

// Descriptor implements the Index interface by returning its descriptor.
func (b *Builder) Descriptor() *Descriptor {
	return b.desc
}

var _ Index = (*Builder)(nil)
