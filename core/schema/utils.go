package schema

// FindField returns the field with the given name, or nil.
func (e *Entity) FindField(name string) *FieldDefinition {
	for _, field := range e.Fields {
		if field.Name == name {
			return field
		}
	}
	return nil
}

// StringPtr is a helper function that returns a pointer to a string.
func StringPtr(s string) *string {
	return &s
}
