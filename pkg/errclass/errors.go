package errclass

import "fmt"

// PDMError is a stable, machine-readable error class.
// Detail carries structured context (e.g. the current lock owner) so that
// calling layers can build precise user-facing messages without parsing text.
type PDMError struct {
	Code    string
	Message string
	Detail  map[string]string
}

func (e *PDMError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PDMError) Is(target error) bool {
	t, ok := target.(*PDMError)
	return ok && e.Code == t.Code
}

// WithMessage returns a new PDMError with the same Code but a specific message.
func (e *PDMError) WithMessage(msg string) *PDMError {
	return &PDMError{Code: e.Code, Message: msg, Detail: e.Detail}
}

// WithMessagef returns a new PDMError with a formatted message.
func (e *PDMError) WithMessagef(format string, args ...any) *PDMError {
	return &PDMError{Code: e.Code, Message: fmt.Sprintf(format, args...), Detail: e.Detail}
}

// WithDetail returns a new PDMError with an additional detail entry.
func (e *PDMError) WithDetail(key, value string) *PDMError {
	detail := make(map[string]string, len(e.Detail)+1)
	for k, v := range e.Detail {
		detail[k] = v
	}
	detail[key] = value
	return &PDMError{Code: e.Code, Message: e.Message, Detail: detail}
}

// All stable error classes for v0.x.
var (
	ErrNameInvalid       = &PDMError{Code: "E_NAME_INVALID"}
	ErrPathEscape        = &PDMError{Code: "E_PATH_ESCAPE"}
	ErrLockConflict      = &PDMError{Code: "E_LOCK_CONFLICT"}
	ErrLockNotHeld       = &PDMError{Code: "E_LOCK_NOT_HELD"}
	ErrNotAuthorized     = &PDMError{Code: "E_NOT_AUTHORIZED"}
	ErrNotFound          = &PDMError{Code: "E_NOT_FOUND"}
	ErrResourceExists    = &PDMError{Code: "E_RESOURCE_EXISTS"}
	ErrContentTooLarge   = &PDMError{Code: "E_CONTENT_TOO_LARGE"}
	ErrHistoryCorrupt    = &PDMError{Code: "E_HISTORY_CORRUPT"}
	ErrFormatUnsupported = &PDMError{Code: "E_FORMAT_UNSUPPORTED"}
)

// Owner returns the lock owner recorded in the error detail, if any.
func Owner(err error) string {
	if pe, ok := err.(*PDMError); ok {
		return pe.Detail["owner"]
	}
	return ""
}
