package stixerr

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
// These errors can be used with errors.Is() for error checking.
var (
	// ErrNotFound indicates the requested entity or relationship does not exist in the store.
	ErrNotFound = errors.New("not found")

	// ErrUnknownType indicates there is no registered mapping for an object type.
	ErrUnknownType = errors.New("unknown object type")

	// ErrMalformedBundle indicates the bundle failed structural validation.
	ErrMalformedBundle = errors.New("malformed bundle")

	// ErrUnresolvedReference indicates a reference points at an object that is
	// neither in the bundle nor in the store.
	ErrUnresolvedReference = errors.New("unresolved reference")

	// ErrUnauthorized indicates the store refused the write for the current caller.
	// Stores should wrap it so the importer can classify the failure as fatal.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidConfig indicates the provided configuration is invalid or incomplete.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Kind categorizes errors by the stage that produced them.
type Kind string

// Error kinds.
const (
	KindNotFound            Kind = "not_found"
	KindMalformedBundle     Kind = "malformed_bundle"
	KindMapping             Kind = "mapping"
	KindUnresolvedReference Kind = "unresolved_reference"
	KindWriteFailure        Kind = "write_failure"
	KindTimeout             Kind = "timeout"
	KindPermission          Kind = "permission"
	KindConfiguration       Kind = "configuration"
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// Error is a structured error that wraps an underlying cause with the
// operation, kind and STIX id it relates to.
type Error struct {
	// Op is the operation that failed (e.g., "Importer.ImportBundle", "Mapper.FromStix").
	Op string

	// Kind categorizes the error.
	Kind Kind

	// StixID is the STIX identifier of the object involved, if any.
	StixID string

	// Class categorizes the error by its nature. Zero means DefaultClassForKind(Kind).
	Class ErrorClass

	// Err is the underlying error that caused this error.
	Err error
}

// Error implements the error interface.
//
// Examples:
//   - "stixgraph: Exporter.ExportEntity (not_found): not found"
//   - "stixgraph: Importer.importEntity (write_failure) [malware--...]: disk full"
func (e *Error) Error() string {
	prefix := fmt.Sprintf("stixgraph: %s (%s)", e.Op, e.Kind)
	if e.StixID != "" {
		prefix = fmt.Sprintf("%s [%s]", prefix, e.StixID)
	}
	if e.Err == nil {
		return prefix
	}
	return fmt.Sprintf("%s: %v", prefix, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Kind (and Op when the target sets one),
// then falls back to the wrapped error.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	if t, ok := target.(*Error); ok {
		if t.Kind != "" && e.Kind == t.Kind {
			if t.Op == "" || e.Op == t.Op {
				return true
			}
		}
	}

	return errors.Is(e.Err, target)
}

// ErrClass returns the explicit class or the default for the kind.
func (e *Error) ErrClass() ErrorClass {
	if e.Class != "" {
		return e.Class
	}
	return DefaultClassForKind(e.Kind)
}

// WithStixID returns a copy of the error bound to the given STIX id.
func (e *Error) WithStixID(stixID string) *Error {
	newErr := *e
	newErr.StixID = stixID
	return &newErr
}

// WithClass returns a copy of the error with an explicit class.
func (e *Error) WithClass(class ErrorClass) *Error {
	newErr := *e
	newErr.Class = class
	return &newErr
}

// New creates an error of the given kind.
func New(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// NewNotFoundError creates a new Error with KindNotFound.
func NewNotFoundError(op string, err error) *Error {
	return New(op, KindNotFound, err)
}

// NewMalformedBundleError creates a new Error with KindMalformedBundle.
func NewMalformedBundleError(op string, err error) *Error {
	return New(op, KindMalformedBundle, err)
}

// NewMappingError creates a new Error with KindMapping.
func NewMappingError(op string, err error) *Error {
	return New(op, KindMapping, err)
}

// NewUnresolvedReferenceError creates a new Error with KindUnresolvedReference.
func NewUnresolvedReferenceError(op string, err error) *Error {
	return New(op, KindUnresolvedReference, err)
}

// NewWriteFailureError creates a new Error with KindWriteFailure.
// Causes wrapping ErrUnauthorized are promoted to KindPermission.
func NewWriteFailureError(op string, err error) *Error {
	if errors.Is(err, ErrUnauthorized) {
		return New(op, KindPermission, err)
	}
	return New(op, KindWriteFailure, err)
}

// NewTimeoutError creates a new Error with KindTimeout.
func NewTimeoutError(op string, err error) *Error {
	return New(op, KindTimeout, err)
}

// NewConfigurationError creates a new Error with KindConfiguration.
func NewConfigurationError(op string, err error) *Error {
	return New(op, KindConfiguration, err)
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
