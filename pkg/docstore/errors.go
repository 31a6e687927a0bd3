package docstore

import (
	"errors"
	"fmt"
)

var (
	// ErrShape is returned when a value does not have the structure the store expects,
	// e.g. an entity that is not a JSON object.
	ErrShape = errors.New("value is not object-shaped")
	// ErrInvalidUID is returned when an entity carries a uid field that is not a string.
	ErrInvalidUID = errors.New("uid must be a string")
)

// ShapeError describes which value failed the shape check.
type ShapeError struct {
	// Where names the value that was checked, e.g. "entity" or "container \"projects\"".
	Where string
	// Kind is the JSON kind that was found instead of an object.
	Kind string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: expected object, got %s", e.Where, e.Kind)
}

// Unwrap lets errors.Is(err, ErrShape) match.
func (e *ShapeError) Unwrap() error {
	return ErrShape
}
