package skill

import (
	"errors"
	"fmt"
)

// Error codes reported by skill request verification.
// The HTTP layer decides how they map to status codes.
const (
	// CodeSignatureMissing indicates the signature or the certificate chain URL is absent.
	CodeSignatureMissing = "SKILL_SIGNATURE_MISSING"

	// CodeCertificateInvalid indicates the signing certificate could not be
	// retrieved or failed validation.
	CodeCertificateInvalid = "SKILL_CERTIFICATE_INVALID"

	// CodeSignatureInvalid indicates the body was not signed by the certificate's key.
	CodeSignatureInvalid = "SKILL_SIGNATURE_INVALID"

	// CodeTimestampInvalid indicates the request timestamp is missing or outside tolerance.
	CodeTimestampInvalid = "SKILL_TIMESTAMP_INVALID"

	// CodeVerificationFailed is used for failures from verifiers that do not
	// report a SecurityError themselves.
	CodeVerificationFailed = "SKILL_VERIFICATION_FAILED"
)

// SecurityError is the only error type the verification pipeline returns.
type SecurityError struct {
	// Code is one of the SKILL_* error codes.
	Code string

	// Message is a human-readable description.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *SecurityError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/errors.As.
func (e *SecurityError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches a target error code.
func (e *SecurityError) Is(target error) bool {
	var t *SecurityError
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// NewError creates a new SecurityError with the given code and message.
func NewError(code, message string) *SecurityError {
	return &SecurityError{
		Code:    code,
		Message: message,
	}
}

// WrapError creates a new SecurityError that wraps an underlying error.
func WrapError(code, message string, cause error) *SecurityError {
	return &SecurityError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Predefined sentinel errors. Use these with errors.Is().
var (
	ErrSignatureMissing   = NewError(CodeSignatureMissing, "missing signature/certificate for the provided skill request")
	ErrCertificateInvalid = NewError(CodeCertificateInvalid, "signing certificate is invalid")
	ErrSignatureInvalid   = NewError(CodeSignatureInvalid, "signature verification failed")
	ErrTimestampInvalid   = NewError(CodeTimestampInvalid, "request timestamp is outside the tolerance")
	ErrVerificationFailed = NewError(CodeVerificationFailed, "skill request verification failed")
)

// AsSecurityError checks if err is a SecurityError and returns it if so.
func AsSecurityError(err error) (*SecurityError, bool) {
	var secErr *SecurityError
	if errors.As(err, &secErr) {
		return secErr, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from a SecurityError, or returns empty string.
func GetErrorCode(err error) string {
	if secErr, ok := AsSecurityError(err); ok {
		return secErr.Code
	}
	return ""
}
