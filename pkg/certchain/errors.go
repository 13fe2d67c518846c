package certchain

import (
	"errors"
	"fmt"
)

// Error codes describing why a signing certificate could not be resolved.
const (
	// CodeURLInvalid indicates the certificate chain URL is malformed or violates
	// the trust anchor constraints. Never retried.
	CodeURLInvalid = "CERT_URL_INVALID"

	// CodeFetchFailed indicates the chain could not be downloaded after all
	// retry attempts, or the retrieval was cancelled.
	CodeFetchFailed = "CERT_FETCH_FAILED"

	// CodeMalformed indicates the downloaded payload holds no parsable certificate.
	CodeMalformed = "CERT_MALFORMED"

	// CodeExpired indicates now is outside the leaf's validity window.
	CodeExpired = "CERT_EXPIRED"

	// CodeUntrusted indicates the chain does not verify against the trusted roots.
	CodeUntrusted = "CERT_UNTRUSTED"

	// CodeDomainMismatch indicates the leaf lacks the required DNS subject alternative name.
	CodeDomainMismatch = "CERT_DOMAIN_MISMATCH"
)

// CertificateError reports a failed certificate retrieval or validation.
type CertificateError struct {
	// Code is one of the CERT_* codes.
	Code string

	// URL is the certificate chain URL as supplied by the caller.
	URL string

	// Message is a human-readable description.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *CertificateError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s [%s]: %v", e.Code, e.Message, e.URL, e.Cause)
	}
	return fmt.Sprintf("%s: %s [%s]", e.Code, e.Message, e.URL)
}

// Unwrap returns the underlying cause for errors.Is/errors.As.
func (e *CertificateError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a CertificateError with the same code.
func (e *CertificateError) Is(target error) bool {
	var t *CertificateError
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

func newError(code, rawURL, message string) *CertificateError {
	return &CertificateError{Code: code, URL: rawURL, Message: message}
}

func wrapError(code, rawURL, message string, cause error) *CertificateError {
	return &CertificateError{Code: code, URL: rawURL, Message: message, Cause: cause}
}

// Sentinels for errors.Is checks. Only the code is compared.
var (
	ErrURLInvalid     = &CertificateError{Code: CodeURLInvalid, Message: "certificate chain URL is invalid"}
	ErrFetchFailed    = &CertificateError{Code: CodeFetchFailed, Message: "certificate chain could not be retrieved"}
	ErrMalformed      = &CertificateError{Code: CodeMalformed, Message: "certificate chain is malformed"}
	ErrExpired        = &CertificateError{Code: CodeExpired, Message: "certificate is outside its validity window"}
	ErrUntrusted      = &CertificateError{Code: CodeUntrusted, Message: "certificate chain is not trusted"}
	ErrDomainMismatch = &CertificateError{Code: CodeDomainMismatch, Message: "certificate is not issued for the skill API domain"}
)

// AsCertificateError checks if err is a CertificateError and returns it if so.
func AsCertificateError(err error) (*CertificateError, bool) {
	var certErr *CertificateError
	if errors.As(err, &certErr) {
		return certErr, true
	}
	return nil, false
}
