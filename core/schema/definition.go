// Package schema defines the relational data model that reports are written
// against: entities, their scalar and relational fields, and the read-only
// registry used to walk dotted field paths from one entity to the next.
package schema

import (
	"fmt"
	"strings"
)

// Document represents a single record returned by a data store, keyed by
// output alias.
type Document map[string]any

// FieldType represents the field kinds supported by the schema system.
type FieldType string

const (
	FieldTypeString   FieldType = "string"   // Text data
	FieldTypeNumber   FieldType = "number"   // Floating point data
	FieldTypeInteger  FieldType = "integer"  // Whole numbers
	FieldTypeDecimal  FieldType = "decimal"  // Fixed point data, e.g. money
	FieldTypeBoolean  FieldType = "boolean"  // True/false values
	FieldTypeDate     FieldType = "date"     // Calendar dates
	FieldTypeDateTime FieldType = "datetime" // Timestamps
	FieldTypeRelation FieldType = "relation" // Reference to another entity
)

// IsTemporal reports whether values of this type are dates or timestamps.
func (t FieldType) IsTemporal() bool {
	return t == FieldTypeDate || t == FieldTypeDateTime
}

// IsNumeric reports whether values of this type can take part in arithmetic.
func (t FieldType) IsNumeric() bool {
	switch t {
	case FieldTypeNumber, FieldTypeInteger, FieldTypeDecimal:
		return true
	}
	return false
}

// DefaultPrimaryKey is the primary key column used when an entity does not
// name one.
const DefaultPrimaryKey = "id"

// RelationDefinition describes the entity a relational field points at.
//
// A forward relation (Via == nil) is stored on the owning entity as a
// "<field>_id" column holding the target's primary key. A reverse relation
// names, through Via, the forward relation on the target entity that points
// back at the owner; reverse relations are multi-valued.
type RelationDefinition struct {
	Target string  `json:"target"`        // "namespace:Name" of the related entity
	Via    *string `json:"via,omitempty"` // Forward field on Target that references the owner
}

// FieldDefinition defines a field within an entity.
type FieldDefinition struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`
	// Column overrides the storage column name.
	Column *string `json:"column,omitempty"`
	// Relation is required when Type is FieldTypeRelation.
	Relation *RelationDefinition `json:"relation,omitempty"`
	// Description provides a brief explanation of the field.
	Description *string `json:"description,omitempty"`
}

// IsRelation reports whether the field references another entity.
func (f *FieldDefinition) IsRelation() bool {
	return f.Type == FieldTypeRelation && f.Relation != nil
}

// IsMany reports whether the field is a multi-valued (reverse) relation.
func (f *FieldDefinition) IsMany() bool {
	return f.IsRelation() && f.Relation.Via != nil
}

// ColumnName returns the storage column backing the field. Reverse relations
// have no column on the owning entity and return an empty string.
func (f *FieldDefinition) ColumnName() string {
	if f.Column != nil && *f.Column != "" {
		return *f.Column
	}
	if f.IsRelation() {
		if f.IsMany() {
			return ""
		}
		return f.Name + "_id"
	}
	return f.Name
}

// Entity is a named relational type with an ordered set of fields.
type Entity struct {
	Namespace   string             `json:"namespace"`
	Name        string             `json:"name"`
	Table       *string            `json:"table,omitempty"`
	PrimaryKey  *string            `json:"primaryKey,omitempty"`
	Description *string            `json:"description,omitempty"`
	Fields      []*FieldDefinition `json:"fields"`
	Metadata    map[string]any     `json:"metadata,omitempty"`
}

// Ref returns the "namespace:Name" specifier of the entity.
func (e *Entity) Ref() string {
	return e.Namespace + ":" + e.Name
}

// TableName returns the storage table, defaulting to "<namespace>_<name>" in
// lower case.
func (e *Entity) TableName() string {
	if e.Table != nil && *e.Table != "" {
		return *e.Table
	}
	return strings.ToLower(e.Namespace) + "_" + strings.ToLower(e.Name)
}

// PrimaryKeyName returns the primary key column of the entity.
func (e *Entity) PrimaryKeyName() string {
	if e.PrimaryKey != nil && *e.PrimaryKey != "" {
		return *e.PrimaryKey
	}
	return DefaultPrimaryKey
}

// EntityRef identifies an entity by namespace and name.
type EntityRef struct {
	Namespace string
	Name      string
}

func (r EntityRef) String() string {
	return r.Namespace + ":" + r.Name
}

// Matches compares the reference against an entity, ignoring case.
func (r EntityRef) Matches(e *Entity) bool {
	return strings.EqualFold(r.Namespace, e.Namespace) && strings.EqualFold(r.Name, e.Name)
}

// ParseEntityRef parses a "namespace:Name" specifier.
func ParseEntityRef(s string) (EntityRef, error) {
	namespace, name, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || namespace == "" || name == "" {
		return EntityRef{}, fmt.Errorf("invalid entity specifier %q: expected namespace:Name", s)
	}
	return EntityRef{Namespace: namespace, Name: name}, nil
}
