package query

import (
	"errors"
	"fmt"
)

var (
	// ErrModelNotAllowed is matched by every *ModelNotAllowedError.
	ErrModelNotAllowed = errors.New("model not allowed")
	// ErrInvalidAnnotation is matched by every *InvalidAnnotationError.
	ErrInvalidAnnotation = errors.New("invalid annotation")
)

// ModelNotAllowedError aborts plan construction when the requested root
// entity is unknown or not permitted as a report root.
type ModelNotAllowedError struct {
	Entity string
	Reason string
}

func (e *ModelNotAllowedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("model not allowed: %s", e.Entity)
	}
	return fmt.Sprintf("model not allowed: %s: %s", e.Entity, e.Reason)
}

func (e *ModelNotAllowedError) Is(target error) bool {
	return target == ErrModelNotAllowed
}

// InvalidAnnotationError aborts plan construction when an aggregation or
// arithmetic expression is malformed.
type InvalidAnnotationError struct {
	Expression string
	Reason     string
}

func (e *InvalidAnnotationError) Error() string {
	return fmt.Sprintf("invalid annotation %q: %s", e.Expression, e.Reason)
}

func (e *InvalidAnnotationError) Is(target error) bool {
	return target == ErrInvalidAnnotation
}

func invalidAnnotation(expression, format string, args ...any) error {
	return &InvalidAnnotationError{Expression: expression, Reason: fmt.Sprintf(format, args...)}
}
