package persistence

import (
	"errors"
	"fmt"
)

// ErrUnknownField is matched by every *UnknownFieldError.
var ErrUnknownField = errors.New("unknown field")

// UnknownFieldError is returned when a store cannot resolve a field name used
// by a query.
type UnknownFieldError struct {
	Name   string // The unresolved hop
	Entity string // The entity it was looked up on
}

func (e *UnknownFieldError) Error() string {
	if e.Entity == "" {
		return fmt.Sprintf("unknown field %q", e.Name)
	}
	return fmt.Sprintf("unknown field %q on %s", e.Name, e.Entity)
}

func (e *UnknownFieldError) Is(target error) bool {
	return target == ErrUnknownField
}
