// Package errors provides domain-specific error types.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes for domain errors.
const (
	ErrCodeNoSuchRealm           = "NO_SUCH_REALM"
	ErrCodeNoSuchSecurityContext = "NO_SUCH_SECURITY_CONTEXT"
	ErrCodeNoSuchSession         = "NO_SUCH_SESSION"
	ErrCodeInvalidCredentials    = "INVALID_CREDENTIALS"
	ErrCodeMalformedToken        = "MALFORMED_TOKEN"
	ErrCodeValidation            = "VALIDATION_ERROR"
	ErrCodeConflict              = "CONFLICT"
	ErrCodeUnexpected            = "UNEXPECTED_ERROR"
)

// CredentialFlags qualifies a credential-path rejection.
//
// Retry means the failure is transient or racy and the client may resubmit
// with the same or a freshly re-fetched token. Relog means the session is
// unrecoverable and a fresh authentication is required. Prejudice means the
// presented credential looked tampered or stolen rather than merely stale;
// it drives the anti-abuse path and is not necessarily surfaced verbatim to
// the client.
type CredentialFlags struct {
	Relog     bool `json:"relog,omitempty"`
	Retry     bool `json:"retry,omitempty"`
	Prejudice bool `json:"-"`
}

// DomainError represents a domain-specific error.
type DomainError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"`

	Flags CredentialFlags `json:"-"`
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewNoSuchRealmError creates an error for a missing realm.
func NewNoSuchRealmError(realmID string) *DomainError {
	return &DomainError{
		Code:       ErrCodeNoSuchRealm,
		Message:    "no such realm",
		Details:    realmID,
		HTTPStatus: http.StatusNotFound,
	}
}

// NewNoSuchSecurityContextError creates an error for a security context name
// absent from a realm.
func NewNoSuchSecurityContextError(realmID, contextName string) *DomainError {
	return &DomainError{
		Code:       ErrCodeNoSuchSecurityContext,
		Message:    "no such security context",
		Details:    fmt.Sprintf("%s/%s", realmID, contextName),
		HTTPStatus: http.StatusNotFound,
	}
}

// NewNoSuchSessionError creates an error for a missing session.
func NewNoSuchSessionError(sessionID string) *DomainError {
	return &DomainError{
		Code:       ErrCodeNoSuchSession,
		Message:    "no such session",
		Details:    sessionID,
		HTTPStatus: http.StatusNotFound,
	}
}

// NewInvalidCredentialsError creates a credential-path rejection.
func NewInvalidCredentialsError(reason string, flags CredentialFlags) *DomainError {
	return &DomainError{
		Code:       ErrCodeInvalidCredentials,
		Message:    "invalid credentials",
		Details:    reason,
		HTTPStatus: http.StatusUnauthorized,
		Flags:      flags,
	}
}

// NewMalformedTokenError creates an error for a token whose envelope could
// not be decoded. Prejudice is true when the bytes parse but fail
// cryptographic verification, false when the encoding is merely garbage.
func NewMalformedTokenError(reason string, prejudice bool) *DomainError {
	return &DomainError{
		Code:       ErrCodeMalformedToken,
		Message:    "malformed token",
		Details:    reason,
		HTTPStatus: http.StatusBadRequest,
		Flags:      CredentialFlags{Prejudice: prejudice},
	}
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, details string) *DomainError {
	return &DomainError{
		Code:       ErrCodeValidation,
		Message:    message,
		Details:    details,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, details string) *DomainError {
	return &DomainError{
		Code:       ErrCodeConflict,
		Message:    message,
		Details:    details,
		HTTPStatus: http.StatusConflict,
	}
}

// NewUnexpectedError wraps anything unanticipated from a collaborator.
func NewUnexpectedError(message string, err error) *DomainError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return &DomainError{
		Code:       ErrCodeUnexpected,
		Message:    message,
		Details:    details,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// GetDomainError extracts the domain error from an error.
func GetDomainError(err error) (*DomainError, bool) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr, true
	}
	return nil, false
}

// IsDomainError checks if the error is a domain error.
func IsDomainError(err error) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr)
}

// IsInvalidCredentials checks if the error is a credential-path rejection.
func IsInvalidCredentials(err error) bool {
	domainErr, ok := GetDomainError(err)
	return ok && domainErr.Code == ErrCodeInvalidCredentials
}

// IsMalformedToken checks if the error is a token envelope failure.
func IsMalformedToken(err error) bool {
	domainErr, ok := GetDomainError(err)
	return ok && domainErr.Code == ErrCodeMalformedToken
}

// IsNoSuchRealm checks if the error reports a missing realm.
func IsNoSuchRealm(err error) bool {
	domainErr, ok := GetDomainError(err)
	return ok && domainErr.Code == ErrCodeNoSuchRealm
}

// IsNoSuchSecurityContext checks if the error reports a missing security
// context.
func IsNoSuchSecurityContext(err error) bool {
	domainErr, ok := GetDomainError(err)
	return ok && domainErr.Code == ErrCodeNoSuchSecurityContext
}

// IsNoSuchSession checks if the error reports a missing session.
func IsNoSuchSession(err error) bool {
	domainErr, ok := GetDomainError(err)
	return ok && domainErr.Code == ErrCodeNoSuchSession
}

// IsConflict checks if the error is a version conflict.
func IsConflict(err error) bool {
	domainErr, ok := GetDomainError(err)
	return ok && domainErr.Code == ErrCodeConflict
}

// IsPrejudicial checks whether a rejection carries the prejudice signal.
func IsPrejudicial(err error) bool {
	domainErr, ok := GetDomainError(err)
	return ok && domainErr.Flags.Prejudice
}

// IsRetryable checks whether a rejection is transient and safe to resubmit.
func IsRetryable(err error) bool {
	domainErr, ok := GetDomainError(err)
	return ok && domainErr.Flags.Retry
}
