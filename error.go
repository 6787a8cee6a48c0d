package toolrelay

import "fmt"

// Wire error discriminators returned in the "error" field of an error body.
const (
	ErrorInvalidJSON        = "invalid_json"
	ErrorInvalidSessionCode = "invalid_session_code"
	ErrorValidation         = "validation_error"
	ErrorSessionNotFound    = "session_not_found"
	ErrorMethodNotAllowed   = "method_not_allowed"
	ErrorRateLimited        = "rate_limit_exceeded"
	ErrorInternal           = "internal_server_error"
)

// Machine-readable codes naming the specific rate limit that was exceeded.
const (
	CodeSessionRateLimit  = "SESSION_RATE_LIMIT"
	CodeRequestRateLimit  = "REQUEST_RATE_LIMIT"
	CodeResponseRateLimit = "RESPONSE_RATE_LIMIT"
)

// Error is the wire error body: {error, message, code?}.
type Error struct {
	Kind    string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError creates a wire error with the given discriminator and message.
func NewError(kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// NewRateLimitError creates a rate_limit_exceeded error naming the exhausted limit.
func NewRateLimitError(code string) *Error {
	return &Error{Kind: ErrorRateLimited, Message: "rate limit exceeded, retry later", Code: code}
}
