package shared

import (
	"errors"

	"github.com/samber/oops"
)

// Domain error codes
const (
	ErrCodeInvalidInput     = 1001
	ErrCodeNotFound         = 1002
	ErrCodeInvalidOperation = 1003

	// Technician specific errors (2000-2999)
	ErrCodeInvalidIdentity = 2001
	ErrCodeInvalidLocation = 2002
)

// Sentinels matched with errors.Is through the oops wrapper
var (
	ErrInvalidInputSentinel     = errors.New("invalid input")
	ErrNotFoundSentinel         = errors.New("not found")
	ErrInvalidOperationSentinel = errors.New("invalid operation")
	ErrInvalidIdentitySentinel  = errors.New("invalid technician identity")
	ErrInvalidLocationSentinel  = errors.New("invalid location")
)

// NewDomainError creates a new domain error using oops
func NewDomainError(code int, message string) error {
	return WrapDomainError(sentinelFor(code), code, message)
}

// NewDomainErrorf creates a new domain error with formatted message
func NewDomainErrorf(code int, format string, args ...interface{}) error {
	return oops.
		Code(codeToString(code)).
		In("domain").
		With("error_code", code).
		Wrapf(sentinelFor(code), format, args...)
}

// WrapDomainError wraps an existing error with domain context
func WrapDomainError(err error, code int, message string) error {
	return oops.
		Code(codeToString(code)).
		In("domain").
		With("error_code", code).
		Wrapf(err, "%s", message)
}

// IsInvalidLocation reports whether err rejects a location sample
func IsInvalidLocation(err error) bool {
	return errors.Is(err, ErrInvalidLocationSentinel)
}

// IsInvalidIdentity reports whether err rejects a technician identity
func IsInvalidIdentity(err error) bool {
	return errors.Is(err, ErrInvalidIdentitySentinel)
}

// IsNotFound reports whether err is a not-found domain error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFoundSentinel)
}

func sentinelFor(code int) error {
	switch code {
	case ErrCodeNotFound:
		return ErrNotFoundSentinel
	case ErrCodeInvalidOperation:
		return ErrInvalidOperationSentinel
	case ErrCodeInvalidIdentity:
		return ErrInvalidIdentitySentinel
	case ErrCodeInvalidLocation:
		return ErrInvalidLocationSentinel
	default:
		return ErrInvalidInputSentinel
	}
}

// codeToString converts int error code to string
func codeToString(code int) string {
	switch code {
	case ErrCodeInvalidInput:
		return "INVALID_INPUT"
	case ErrCodeNotFound:
		return "NOT_FOUND"
	case ErrCodeInvalidOperation:
		return "INVALID_OPERATION"
	case ErrCodeInvalidIdentity:
		return "INVALID_IDENTITY"
	case ErrCodeInvalidLocation:
		return "INVALID_LOCATION"
	default:
		return "UNKNOWN_ERROR"
	}
}

// Common domain error builders
func ErrInvalidInput(msg string) error {
	return NewDomainError(ErrCodeInvalidInput, msg)
}

func ErrNotFound(resource string) error {
	return NewDomainErrorf(ErrCodeNotFound, "%s not found", resource)
}

func ErrInvalidOperation(operation string) error {
	return NewDomainErrorf(ErrCodeInvalidOperation, "Invalid operation: %s", operation)
}
