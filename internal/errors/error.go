package errors

import "errors"

// Error is an error carrying a client-facing code. Handlers map it onto the
// wire format via CodeOf and WriteError; internal detail stays in Err.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a coded error with a client-safe message.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and client-safe message to an underlying error.
func Wrap(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the error code, defaulting to internal_error for
// errors that never received one.
func CodeOf(err error) ErrorCode {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ErrCodeInternalError
}

// MessageOf returns the client-safe message for an error. Uncoded errors get
// a generic message so internal detail never reaches the wire.
func MessageOf(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Message
	}
	return "internal server error"
}

// Is reports whether the error carries the given code.
func Is(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
