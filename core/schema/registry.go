package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEntityNotFound = errors.New("entity not found")
	ErrFieldNotFound  = errors.New("field not found")
)

// Resolver walks the data model. The guard and the plan builder accept it
// so tests can supply hand-built models.
type Resolver interface {
	// Entity looks up an entity by its "namespace:Name" specifier.
	Entity(ref string) (*Entity, error)
	// ResolveField looks up a field on an entity by name.
	ResolveField(entity *Entity, name string) (*FieldDefinition, error)
	// Target returns the entity a relational field points at.
	Target(field *FieldDefinition) (*Entity, error)
	// FieldsOf returns the fields of an entity in declaration order.
	FieldsOf(entity *Entity) []*FieldDefinition
}

// Registry is an immutable collection of entities. It is safe for concurrent
// use once constructed.
type Registry struct {
	entities map[string]*Entity
	order    []*Entity
}

var _ Resolver = (*Registry)(nil)

func registryKey(namespace, name string) string {
	return strings.ToLower(namespace) + ":" + strings.ToLower(name)
}

// NewRegistry builds a registry and checks that every relation points at a
// registered entity, and that reverse relations name a forward relation back
// to their owner.
func NewRegistry(entities ...*Entity) (*Registry, error) {
	r := &Registry{entities: make(map[string]*Entity, len(entities))}

	for _, e := range entities {
		if e == nil {
			continue
		}
		if e.Namespace == "" || e.Name == "" {
			return nil, fmt.Errorf("entity requires both namespace and name, got %q", e.Ref())
		}
		key := registryKey(e.Namespace, e.Name)
		if _, exists := r.entities[key]; exists {
			return nil, fmt.Errorf("duplicate entity %s", e.Ref())
		}
		seen := make(map[string]bool, len(e.Fields))
		for _, f := range e.Fields {
			if f.Name == "" {
				return nil, fmt.Errorf("entity %s has a field without a name", e.Ref())
			}
			if seen[f.Name] {
				return nil, fmt.Errorf("entity %s declares field %q twice", e.Ref(), f.Name)
			}
			seen[f.Name] = true
			if f.Type == FieldTypeRelation && f.Relation == nil {
				return nil, fmt.Errorf("relation field %s.%s has no target", e.Ref(), f.Name)
			}
		}
		r.entities[key] = e
		r.order = append(r.order, e)
	}

	for _, e := range r.order {
		for _, f := range e.Fields {
			if !f.IsRelation() {
				continue
			}
			target, err := r.Target(f)
			if err != nil {
				return nil, fmt.Errorf("relation %s.%s: %w", e.Ref(), f.Name, err)
			}
			if !f.IsMany() {
				continue
			}
			back := target.FindField(*f.Relation.Via)
			if back == nil || !back.IsRelation() || back.IsMany() {
				return nil, fmt.Errorf("relation %s.%s: %s.%s is not a forward relation", e.Ref(), f.Name, target.Ref(), *f.Relation.Via)
			}
			owner, err := r.Target(back)
			if err != nil || owner != e {
				return nil, fmt.Errorf("relation %s.%s: %s.%s does not point back at %s", e.Ref(), f.Name, target.Ref(), back.Name, e.Ref())
			}
		}
	}

	return r, nil
}

// registryFile is the JSON document accepted by LoadRegistry.
type registryFile struct {
	Entities []*Entity `json:"entities"`
}

// LoadRegistry builds a registry from a JSON document of the form
// {"entities": [...]}.
func LoadRegistry(data []byte) (*Registry, error) {
	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to decode schema: %w", err)
	}
	return NewRegistry(file.Entities...)
}

// Entity looks up an entity by "namespace:Name", ignoring case.
func (r *Registry) Entity(ref string) (*Entity, error) {
	parsed, err := ParseEntityRef(ref)
	if err != nil {
		return nil, err
	}
	e, ok := r.entities[registryKey(parsed.Namespace, parsed.Name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, ref)
	}
	return e, nil
}

// ResolveField looks up a field on entity. The primary key resolves to a
// synthetic integer field when the entity does not declare it.
func (r *Registry) ResolveField(entity *Entity, name string) (*FieldDefinition, error) {
	if f := entity.FindField(name); f != nil {
		return f, nil
	}
	if name == entity.PrimaryKeyName() {
		return &FieldDefinition{Name: name, Type: FieldTypeInteger}, nil
	}
	return nil, fmt.Errorf("%w: %s has no field %q", ErrFieldNotFound, entity.Ref(), name)
}

// Target returns the entity a relational field references.
func (r *Registry) Target(field *FieldDefinition) (*Entity, error) {
	if !field.IsRelation() {
		return nil, fmt.Errorf("field %q is not a relation", field.Name)
	}
	return r.Entity(field.Relation.Target)
}

// FieldsOf returns the declared fields of entity in order.
func (r *Registry) FieldsOf(entity *Entity) []*FieldDefinition {
	out := make([]*FieldDefinition, len(entity.Fields))
	copy(out, entity.Fields)
	return out
}

// Entities returns every registered entity in registration order.
func (r *Registry) Entities() []*Entity {
	out := make([]*Entity, len(r.order))
	copy(out, r.order)
	return out
}
