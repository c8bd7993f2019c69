package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType classifies failures so callers can decide between retrying,
// skipping and aborting.
type ErrorType string

const (
	ErrorTypeNetwork         ErrorType = "network"
	ErrorTypeProtocol        ErrorType = "protocol"
	ErrorTypeRateLimit       ErrorType = "rate_limit"
	ErrorTypeDataShape       ErrorType = "data_shape"
	ErrorTypeStorageConflict ErrorType = "storage_conflict"
	ErrorTypeConfig          ErrorType = "config"
	ErrorTypeFatal           ErrorType = "fatal"
	ErrorTypeAuth            ErrorType = "auth"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeServerError     ErrorType = "server_error"
	ErrorTypeUnknown         ErrorType = "unknown"
)

// Error is a classified failure. Code carries the HTTP status when one exists.
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Domain  string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error", e.Type)
	if e.Domain != "" {
		msg += " on " + e.Domain
	}
	if e.Code != 0 {
		msg += fmt.Sprintf(" (code %d)", e.Code)
	}
	msg += ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a classified error.
func New(t ErrorType, domain, message string) *Error {
	return &Error{Type: t, Domain: domain, Message: message}
}

// Wrap builds a classified error around err.
func Wrap(t ErrorType, domain, message string, err error) *Error {
	return &Error{Type: t, Domain: domain, Message: message, Err: err}
}

// TypeOf returns the type of the first *Error in err's chain.
func TypeOf(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// IsFatal reports whether err must abort the whole run.
func IsFatal(err error) bool {
	return TypeOf(err) == ErrorTypeFatal
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch {
	case statusCode == 0, statusCode == 429:
		return true
	case statusCode >= 500 && statusCode <= 599:
		return true
	default:
		return false
	}
}

// IsFatalStatusCode reports a status outside the range HTTP defines.
func IsFatalStatusCode(statusCode int) bool {
	return statusCode < 200 || statusCode > 599
}
