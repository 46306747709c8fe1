// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
)

// Common sentinels across repository/service/webhook layers.
var (
	// ErrNotFound indicates the requested entity does not exist in the cache.
	ErrNotFound = errors.New("not found")

	// ErrSchemaViolation indicates a value referencing a field the cache does not know.
	ErrSchemaViolation = errors.New("schema violation")

	// ErrAncestorRemoved indicates a write blocked by a removed ancestor.
	ErrAncestorRemoved = errors.New("ancestor removed")

	// ErrUnknownResource indicates a resource name with no registered manager.
	ErrUnknownResource = errors.New("unknown resource")

	// ErrNoRemote indicates a resource that cannot be fetched from the remote API.
	ErrNoRemote = errors.New("resource has no remote endpoint")

	// ErrConfigNotFound indicates an unknown webhook configuration name.
	ErrConfigNotFound = errors.New("configuration not found")

	// ErrBadFilter indicates a malformed include/exclude objects filter.
	ErrBadFilter = errors.New("malformed object filter")

	// ErrInvalidPayload indicates a remote payload that cannot be ingested.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrInvalidParam indicates a malformed list filter or paging parameter.
	ErrInvalidParam = errors.New("invalid parameter")

	// ErrUnauthorized indicates failed authentication on the list API.
	ErrUnauthorized = errors.New("unauthorized")
)

// SchemaError reports a value whose field is missing from the cache.
type SchemaError struct {
	RecordID string
	FieldID  string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("record %s: value references unknown field %s", e.RecordID, e.FieldID)
}

func (e *SchemaError) Is(target error) bool { return target == ErrSchemaViolation }

// AncestorRemovedError reports which ancestor blocked a restore or the
// creation of a child.
type AncestorRemovedError struct {
	Kind         string
	ID           string
	AncestorKind string
	AncestorID   string
}

func (e *AncestorRemovedError) Error() string {
	return fmt.Sprintf("%s %s blocked: %s %s is removed", e.Kind, e.ID, e.AncestorKind, e.AncestorID)
}

func (e *AncestorRemovedError) Is(target error) bool { return target == ErrAncestorRemoved }
