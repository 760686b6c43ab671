package errors

import (
	stderr "errors"
	"fmt"

	"github.com/gofrs/uuid"
)

// ResourceNotFoundError reports that a resource is absent at the given URI.
// Best-effort lookups (map files, parent manifests) treat it as a fallback signal.
type ResourceNotFoundError struct {
	URI string
}

// Error is an implementation of the error interface.
func (e *ResourceNotFoundError) Error() string {
	return fmt.Sprintf("resource %q not found", e.URI)
}

// IsResourceNotFound reports whether a ResourceNotFoundError is part of the error chain.
func IsResourceNotFound(err error) bool {
	var nf *ResourceNotFoundError
	return stderr.As(err, &nf)
}

// ValidationError reports invalid initialize parameters.
type ValidationError struct {
	Reason string
}

// Error is an implementation of the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid initialize params: %s", e.Reason)
}

// MappingError reports a URI or position that could not be translated
// between the HTTP, file, and external-repository namespaces.
type MappingError struct {
	URI    string
	Reason string
}

// Error is an implementation of the error interface.
func (e *MappingError) Error() string {
	return fmt.Sprintf("mapping %q: %s", e.URI, e.Reason)
}

// FatalSpawnError reports that the downstream language server could not
// be started. It is not recoverable within a session.
type FatalSpawnError struct {
	Err error
}

// Error is an implementation of the error interface.
func (e *FatalSpawnError) Error() string {
	return fmt.Sprintf("spawning language server: %v", e.Err)
}

// Unwrap returns the underlying spawn failure.
func (e *FatalSpawnError) Unwrap() error {
	return e.Err
}

// UUIDNotFoundError is a service domain error for a missing session.
type UUIDNotFoundError struct {
	UUID uuid.UUID
}

// Error is an implementation of the error interface.
func (n *UUIDNotFoundError) Error() string {
	return fmt.Sprintf("UUID %q not found", n.UUID)
}

// NoSessionFoundError indicates that a session cannot be found within the context.
type NoSessionFoundError struct{}

// Error is an implementation of the error interface.
func (n *NoSessionFoundError) Error() string {
	return "no session found in context"
}
