// Package errors provides error types for roster
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when an agent does not exist
	ErrNotFound = errors.New("agent not found")

	// ErrAlreadyExists is returned when an agent id is already taken
	ErrAlreadyExists = errors.New("agent already exists")

	// ErrSnapshotMissing is returned when the snapshot slot has never been written
	ErrSnapshotMissing = errors.New("snapshot not found")

	// ErrStoreClosed is returned by snapshot backends after Close
	ErrStoreClosed = errors.New("store is closed")
)

// APIError represents a non-success response from the remote resource
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Code, e.Message)
}

// TransportError represents a failure to reach the remote resource
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ValidationError holds per-field validation messages
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError creates an empty validation error
func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string]string)}
}

// Add records a message for a field
func (e *ValidationError) Add(field, message string) {
	e.Fields[field] = message
}

// Field returns the message for a field, if any
func (e *ValidationError) Field(field string) string {
	return e.Fields[field]
}

// Empty reports whether no field failed
func (e *ValidationError) Empty() bool {
	return len(e.Fields) == 0
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// IsRemote reports whether err came from the remote resource, either as a
// transport failure or a non-success status
func IsRemote(err error) bool {
	var apiErr *APIError
	var transportErr *TransportError
	return errors.As(err, &apiErr) || errors.As(err, &transportErr)
}

// IsNotFound reports whether err is a not-found condition, including a 404
// from the remote resource
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == 404
}
