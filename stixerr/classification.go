package stixerr

import (
	"context"
	"errors"
)

// ErrorClass categorizes errors by their nature so callers can decide
// whether to continue, retry or abort.
type ErrorClass string

const (
	// ErrorClassInfrastructure indicates environment or authorization issues.
	// Examples: store refused credentials, database unavailable
	ErrorClassInfrastructure ErrorClass = "infrastructure"

	// ErrorClassSemantic indicates issues with the input itself.
	// Examples: malformed bundle, unknown object type, dangling reference
	ErrorClassSemantic ErrorClass = "semantic"

	// ErrorClassTransient indicates failures that may resolve on retry.
	// Examples: deadline exceeded, write conflicts
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent indicates non-recoverable failures.
	// Examples: export root does not exist
	ErrorClassPermanent ErrorClass = "permanent"
)

// DefaultClassForKind returns the default class for a kind.
func DefaultClassForKind(kind Kind) ErrorClass {
	switch kind {
	case KindPermission:
		return ErrorClassInfrastructure
	case KindConfiguration:
		return ErrorClassInfrastructure
	case KindMalformedBundle, KindMapping, KindUnresolvedReference:
		return ErrorClassSemantic
	case KindNotFound:
		return ErrorClassPermanent
	case KindTimeout, KindWriteFailure:
		return ErrorClassTransient
	default:
		return ErrorClassTransient
	}
}

// ClassOf returns the class of err. Context errors are transient; errors
// wrapping ErrUnauthorized are infrastructure; anything else without an
// *Error in its chain is transient.
func ClassOf(err error) ErrorClass {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.ErrClass()
	}
	if errors.Is(err, ErrUnauthorized) {
		return ErrorClassInfrastructure
	}
	return ErrorClassTransient
}

// IsFatal reports whether err should abort the remaining objects of an
// import rather than being recorded against a single object.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return ClassOf(err) == ErrorClassInfrastructure
}
