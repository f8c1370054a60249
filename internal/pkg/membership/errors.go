package membership

import "fmt"

// ErrorCode classifies API errors. It is the only error detail exposed to callers
// together with a safe message.
type ErrorCode string

const (
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"
	CodeBadRequest   ErrorCode = "BAD_REQUEST"
	CodeForbidden    ErrorCode = "FORBIDDEN"
	CodeInternal     ErrorCode = "INTERNAL"
)

// APIError is returned by every Service operation.
type APIError struct {
	Code    ErrorCode
	Message string
	// Reason is the entitlement deny reason for FORBIDDEN and file size errors.
	Reason string
	cause  error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error { return e.cause }

func unauthorized() *APIError {
	return &APIError{Code: CodeUnauthorized, Message: "authentication required"}
}

func badRequest(msg string, cause error) *APIError {
	return &APIError{Code: CodeBadRequest, Message: msg, cause: cause}
}

func internal(cause error) *APIError {
	return &APIError{Code: CodeInternal, Message: "internal error", cause: cause}
}
