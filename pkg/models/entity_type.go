package models

import (
	"time"

	"github.com/google/uuid"
)

// FieldType is the logical data type of an entity field as authors see it.
type FieldType string

const (
	FieldTypeText      FieldType = "text"
	FieldTypeInteger   FieldType = "integer"
	FieldTypeDecimal   FieldType = "decimal"
	FieldTypeBoolean   FieldType = "boolean"
	FieldTypeDate      FieldType = "date"
	FieldTypeTimestamp FieldType = "timestamp"
	FieldTypeEntityRef FieldType = "entity_ref"
	FieldTypeJSON      FieldType = "json"
)

// SupportsInlineEdit reports whether a cell of this type can be edited in
// place. JSON blobs and reference fields go through dedicated editors, not
// inline cell edits.
func (t FieldType) SupportsInlineEdit() bool {
	switch t {
	case FieldTypeText, FieldTypeInteger, FieldTypeDecimal, FieldTypeBoolean, FieldTypeDate, FieldTypeTimestamp:
		return true
	default:
		return false
	}
}

// FieldSpec describes one field of an entity type.
type FieldSpec struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`
	// Editable marks direct storage-backed fields writable through trace-back.
	Editable bool `json:"editable"`
	// IsFormula marks computed fields; they are evaluated outside this engine
	// and are never editable.
	IsFormula bool `json:"is_formula"`
	// RelatedEntity names the target entity type for entity_ref fields.
	RelatedEntity string `json:"related_entity,omitempty"`
}

// EntityType is one logical record type in the virtual schema. TypePrefix is
// assigned once at registration and never changes, even if the type is
// renamed.
type EntityType struct {
	ID          uuid.UUID   `json:"id"`
	WorkspaceID uuid.UUID   `json:"workspace_id"`
	Name        string      `json:"name"`
	TypePrefix  string      `json:"type_prefix"`
	Table       string      `json:"table"` // physical storage table, never shown to authors
	Fields      []FieldSpec `json:"fields"`
	// IsJunction marks structural many-to-many link types; they are never
	// previewable targets.
	IsJunction bool      `json:"is_junction"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Field returns the field spec with the given name, if present.
func (t *EntityType) Field(name string) (FieldSpec, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// IdentifierColumn is the canonical name of the identifier field every
// entity type carries.
const IdentifierColumn = "id"
