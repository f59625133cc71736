// Package errors defines error types and utilities for aerokit
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Local errors. These are raised while building or encoding requests and never
// reach the network layer.
var (
	// ErrTypeMismatch is returned when operand value kinds are incompatible
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrUnboundVariable is returned when a variable has no enclosing let binding
	ErrUnboundVariable = errors.New("unbound variable")

	// ErrArity is returned when an operator receives the wrong number of operands
	ErrArity = errors.New("arity error")

	// ErrUnsupportedExpression is returned for expressions the target server cannot evaluate
	ErrUnsupportedExpression = errors.New("unsupported expression")

	// ErrInvalidArgument is returned for malformed names, keys or policies
	ErrInvalidArgument = errors.New("invalid argument")
)

// Execution errors.
var (
	// ErrTimeout is returned when a call exceeds its deadline
	ErrTimeout = errors.New("timeout")

	// ErrConsumerAborted is returned when a record handler fails during iteration
	ErrConsumerAborted = errors.New("consumer aborted")

	// ErrConnection is returned when the transport cannot reach the cluster
	ErrConnection = errors.New("connection error")

	// ErrClientClosed is returned for calls issued after Close
	ErrClientClosed = errors.New("client closed")
)

// Server errors. ServerError unwraps to one of these.
var (
	ErrServer               = errors.New("server error")
	ErrRecordNotFound       = errors.New("record not found")
	ErrGeneration           = errors.New("generation mismatch")
	ErrParameter            = errors.New("parameter error")
	ErrRecordExists         = errors.New("record already exists")
	ErrBinExists            = errors.New("bin already exists")
	ErrServerMemory         = errors.New("server out of memory")
	ErrServerTimeout        = errors.New("server timeout")
	ErrPartitionUnavailable = errors.New("partition unavailable")
	ErrBinType              = errors.New("bin type mismatch")
	ErrRecordTooBig         = errors.New("record too big")
	ErrKeyBusy              = errors.New("key busy")
	ErrScanAborted          = errors.New("scan aborted")
	ErrUnsupportedFeature   = errors.New("unsupported feature")
	ErrBinNotFound          = errors.New("bin not found")
	ErrDeviceOverload       = errors.New("device overload")
	ErrKeyMismatch          = errors.New("key mismatch")
	ErrInvalidNamespace     = errors.New("invalid namespace")
	ErrBinNameTooLong       = errors.New("bin name too long")
	ErrForbidden            = errors.New("operation forbidden")
	ErrFilteredOut          = errors.New("filtered out")
	ErrLostConflict         = errors.New("lost conflict")
	ErrSecurity             = errors.New("security error")
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrRoleViolation        = errors.New("role violation")
	ErrUDF                  = errors.New("udf error")
	ErrBatchDisabled        = errors.New("batch disabled")
	ErrInvalidGeoJSON       = errors.New("invalid geojson")
	ErrIndexFound           = errors.New("index already exists")
	ErrIndexNotFound        = errors.New("index not found")
	ErrQueryAborted         = errors.New("query aborted")
)

// AerokitError represents a detailed error with context
type AerokitError struct {
	Op        string         // Operation that failed
	Namespace string         // Target namespace, if any
	Err       error          // Underlying error
	Context   map[string]any // Additional context
}

// Error implements the error interface
func (e *AerokitError) Error() string {
	// Keys and bin values stay out of the message; callers log Context explicitly.
	return fmt.Sprintf("aerokit: %s operation failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *AerokitError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target error
func (e *AerokitError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewError creates a new AerokitError
func NewError(op, namespace string, err error) *AerokitError {
	return &AerokitError{
		Op:        op,
		Namespace: namespace,
		Err:       err,
	}
}

// NewErrorWithContext creates a new AerokitError with context
func NewErrorWithContext(op, namespace string, err error, context map[string]any) *AerokitError {
	return &AerokitError{
		Op:        op,
		Namespace: namespace,
		Err:       err,
		Context:   context,
	}
}

// Newf wraps a sentinel with a formatted detail message.
func Newf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// IsNotFound checks if an error indicates a record was not found
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}

// IsTimeout reports client deadlines and server-side timeouts alike.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrServerTimeout)
}

// IsConsumerAborted checks if iteration stopped because the handler failed
func IsConsumerAborted(err error) bool {
	return errors.Is(err, ErrConsumerAborted)
}

// IsFilteredOut checks if the record was rejected by the filter expression
func IsFilteredOut(err error) bool {
	return errors.Is(err, ErrFilteredOut)
}

// IsLocal reports errors raised before a request was sent.
func IsLocal(err error) bool {
	return errors.Is(err, ErrTypeMismatch) ||
		errors.Is(err, ErrUnboundVariable) ||
		errors.Is(err, ErrArity) ||
		errors.Is(err, ErrUnsupportedExpression) ||
		errors.Is(err, ErrInvalidArgument)
}

// IsRetryable reports whether an idempotent read may be attempted again.
func IsRetryable(err error) bool {
	if err == nil || IsLocal(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConnection) ||
		errors.Is(err, ErrServerTimeout) ||
		errors.Is(err, ErrKeyBusy) ||
		errors.Is(err, ErrDeviceOverload) ||
		errors.Is(err, ErrPartitionUnavailable)
}

// ErrorType returns a stable, low-cardinality label for err.
func ErrorType(err error) string {
	if err == nil {
		return ""
	}
	var se *ServerError
	if errors.As(err, &se) {
		return se.Code.Name()
	}
	switch {
	case errors.Is(err, ErrConsumerAborted):
		return "ConsumerAborted"
	case errors.Is(err, ErrTimeout):
		return "Timeout"
	case errors.Is(err, ErrConnection):
		return "ConnectionError"
	case errors.Is(err, ErrClientClosed):
		return "ClientClosed"
	case errors.Is(err, ErrTypeMismatch):
		return "TypeMismatch"
	case errors.Is(err, ErrUnboundVariable):
		return "UnboundVariable"
	case errors.Is(err, ErrArity):
		return "ArityError"
	case errors.Is(err, ErrUnsupportedExpression):
		return "UnsupportedExpression"
	case errors.Is(err, ErrInvalidArgument):
		return "InvalidArgument"
	case errors.Is(err, context.Canceled):
		return "Canceled"
	}
	return "Error"
}
