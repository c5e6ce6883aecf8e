package housing

import (
	"errors"
	"fmt"
)

// ErrNotFound matches any NotFoundError via errors.Is.
var ErrNotFound = errors.New("not found")

// NotFoundError signals that a referenced campus, place or record does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// Is lets callers test with errors.Is(err, ErrNotFound).
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// FetchError carries a non-success upstream response.
type FetchError struct {
	Op         string
	StatusCode int
	// Status is the upstream API status string when the HTTP call itself succeeded.
	Status string
}

func (e *FetchError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("%s: upstream status %d (%s)", e.Op, e.StatusCode, e.Status)
	}
	return fmt.Sprintf("%s: upstream status %d", e.Op, e.StatusCode)
}

// ValidationError reports missing or malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConflictError reports a uniqueness or referential conflict the caller can correct.
type ConflictError struct {
	Kind   string
	Name   string
	Reason string
}

func (e *ConflictError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s %q: %s", e.Kind, e.Name, e.Reason)
	}
	return fmt.Sprintf("%s %q already exists", e.Kind, e.Name)
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsConflict reports whether err wraps a ConflictError.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// IsFetch reports whether err wraps a FetchError.
func IsFetch(err error) bool {
	var f *FetchError
	return errors.As(err, &f)
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
