// Package registry declares the canonical CRM fields imported columns map onto.
package registry

import (
	"github.com/rotisserie/eris"
)

// FieldType drives the coercion applied to a value before it is stored.
type FieldType string

const (
	TypeText       FieldType = "text"
	TypeEmail      FieldType = "email"
	TypePhone      FieldType = "phone"
	TypeSIRET      FieldType = "siret"
	TypePostalCode FieldType = "postal_code"
	TypeURL        FieldType = "url"
)

func (t FieldType) valid() bool {
	switch t {
	case TypeText, TypeEmail, TypePhone, TypeSIRET, TypePostalCode, TypeURL:
		return true
	}
	return false
}

// FieldDef is one canonical field: its id, a human label and header synonyms.
type FieldDef struct {
	ID       string    `yaml:"id" json:"id"`
	Label    string    `yaml:"label" json:"label"`
	Type     FieldType `yaml:"type" json:"type"`
	Synonyms []string  `yaml:"synonyms" json:"synonyms,omitempty"`
}

// Registry is an indexed, ordered collection of canonical fields.
// Declaration order is preserved; the matcher depends on it for tie-breaks.
type Registry struct {
	fields []FieldDef
	byID   map[string]int
}

// New validates fields and builds a Registry.
func New(fields []FieldDef) (*Registry, error) {
	if len(fields) == 0 {
		return nil, eris.New("registry: no fields declared")
	}
	r := &Registry{
		fields: make([]FieldDef, len(fields)),
		byID:   make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		if f.ID == "" {
			return nil, eris.Errorf("registry: field %d has no id", i)
		}
		if f.ID == ignoreID {
			return nil, eris.Errorf("registry: %q is reserved", ignoreID)
		}
		if _, dup := r.byID[f.ID]; dup {
			return nil, eris.Errorf("registry: duplicate field id %q", f.ID)
		}
		if f.Type == "" {
			f.Type = TypeText
		}
		if !f.Type.valid() {
			return nil, eris.Errorf("registry: field %q has unknown type %q", f.ID, f.Type)
		}
		if f.Label == "" {
			f.Label = f.ID
		}
		r.fields[i] = f
		r.byID[f.ID] = i
	}
	return r, nil
}

// ignoreID mirrors model.IgnoreField without importing model.
const ignoreID = "ignore"

// Fields returns the declared fields in declaration order.
func (r *Registry) Fields() []FieldDef {
	out := make([]FieldDef, len(r.fields))
	copy(out, r.fields)
	return out
}

// ByID returns the field with the given id.
func (r *Registry) ByID(id string) (FieldDef, bool) {
	i, ok := r.byID[id]
	if !ok {
		return FieldDef{}, false
	}
	return r.fields[i], true
}

// Has reports whether id is a declared field.
func (r *Registry) Has(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// IDs returns the declared field ids in order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.fields))
	for i, f := range r.fields {
		ids[i] = f.ID
	}
	return ids
}
