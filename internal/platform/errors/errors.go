// Package errors provides structured error handling with category tagging,
// context propagation, and HTTP status code mapping at the server boundary.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType categorizes an error for metrics, logging, and response mapping.
type ErrorType string

const (
	// TypeAuthentication indicates a rejected credential (HTTP 401, close code 1008).
	TypeAuthentication ErrorType = "authentication"
	// TypeTransport indicates a connection send/close failure, recovered by disconnecting.
	TypeTransport ErrorType = "transport"
	// TypeStoreUnavailable indicates the distributed store is unreachable; features degrade to local-only.
	TypeStoreUnavailable ErrorType = "store_unavailable"
	// TypeBroker indicates a pub/sub broker connection failure, handled by reconnect.
	TypeBroker ErrorType = "broker"
	// TypeMalformedMessage indicates an undecodable message from the broker.
	TypeMalformedMessage ErrorType = "malformed_message"
	// TypeHandler indicates an application handler failed during dispatch.
	TypeHandler ErrorType = "handler"
	// TypeValidation indicates invalid input (HTTP 400).
	TypeValidation ErrorType = "validation"
	// TypeInternal indicates an unexpected server-side error (HTTP 500).
	TypeInternal ErrorType = "internal"
)

// Error is a structured error with type, message, cause, and context.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error type to an HTTP status code.
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case TypeAuthentication:
		return http.StatusUnauthorized
	case TypeValidation, TypeMalformedMessage:
		return http.StatusBadRequest
	case TypeStoreUnavailable, TypeBroker:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WithContext adds a context field to the error (chainable).
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// AuthenticationError creates an authentication failure.
func AuthenticationError(message string, cause error) *Error {
	return &Error{Type: TypeAuthentication, Message: message, Cause: cause}
}

// TransportError wraps a connection send/close failure.
func TransportError(message string, cause error) *Error {
	return &Error{Type: TypeTransport, Message: message, Cause: cause}
}

// StoreUnavailableError wraps a distributed store failure.
func StoreUnavailableError(message string, cause error) *Error {
	return &Error{Type: TypeStoreUnavailable, Message: message, Cause: cause}
}

// BrokerError wraps a pub/sub broker failure.
func BrokerError(message string, cause error) *Error {
	return &Error{Type: TypeBroker, Message: message, Cause: cause}
}

// MalformedMessageError wraps a decode failure for a broker-delivered message.
func MalformedMessageError(message string, cause error) *Error {
	return &Error{Type: TypeMalformedMessage, Message: message, Cause: cause}
}

// HandlerError wraps an application handler failure during dispatch.
func HandlerError(message string, cause error) *Error {
	return &Error{Type: TypeHandler, Message: message, Cause: cause}
}

// ValidationError creates an invalid-input error.
func ValidationError(message string) *Error {
	return &Error{Type: TypeValidation, Message: message}
}

// InternalError creates an unexpected server-side error.
func InternalError(message string, cause error) *Error {
	return &Error{Type: TypeInternal, Message: message, Cause: cause}
}

// IsType reports whether err is (or wraps) a structured error of the given type.
func IsType(err error, t ErrorType) bool {
	var structured *Error
	if errors.As(err, &structured) {
		return structured.Type == t
	}
	return false
}

// ErrorResponse is the JSON structure sent to HTTP clients.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Type    ErrorType      `json:"type"`
	Context map[string]any `json:"context,omitempty"`
}

// ToResponse converts an Error to an ErrorResponse for serialization.
func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{Error: e.Message, Type: e.Type, Context: e.Context}
}

// AsStructuredError converts any error into a structured Error.
// If err is already an *Error it is returned unchanged; otherwise it is
// wrapped as an internal error.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}
	var structured *Error
	if errors.As(err, &structured) {
		return structured
	}
	return InternalError("internal server error", err)
}
