package creatorauth

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failure categories every operation reports.
type ErrorKind string

const (
	KindNotFound           ErrorKind = "not_found"
	KindConflict           ErrorKind = "conflict"
	KindExpired            ErrorKind = "expired"
	KindInvalidCredential  ErrorKind = "invalid_credential"
	KindPreconditionFailed ErrorKind = "precondition_failed"
	KindValidation         ErrorKind = "validation_error"
	KindUnauthorized       ErrorKind = "unauthorized"
	KindForbidden          ErrorKind = "forbidden"
	KindUpstream           ErrorKind = "upstream_error"
)

// Stable error codes carried alongside a kind
const (
	ErrCodeAccountNotFound     = "account_not_found"
	ErrCodeAlreadyActive       = "already_active"
	ErrCodeInvalidCode         = "invalid_code"
	ErrCodeOTPExpired          = "otp_expired"
	ErrCodeNoChallenge         = "no_challenge"
	ErrCodeUsernameTaken       = "username_taken"
	ErrCodeEmailTaken          = "email_taken"
	ErrCodeUsernameAlreadySet  = "username_already_set"
	ErrCodeUsernameImmutable   = "username_immutable"
	ErrCodePasswordAlreadySet  = "password_already_set"
	ErrCodeUsernameRequired    = "username_required"
	ErrCodeNotVerified         = "not_verified"
	ErrCodeWeakPassword        = "weak_password"
	ErrCodeInvalidEmail        = "invalid_email"
	ErrCodeInvalidUsername     = "invalid_username"
	ErrCodeInvalidRequest      = "invalid_request"
	ErrCodeInvalidCredentials  = "invalid_credentials"
	ErrCodePasswordNotSet      = "password_not_set"
	ErrCodeTokenExpired        = "token_expired"
	ErrCodeProviderNotLinked   = "provider_not_linked"
	ErrCodeUnknownProvider     = "unknown_provider"
	ErrCodeUpstream            = "upstream"
	ErrCodeInternal            = "internal"
	ErrCodeProviderTimeout     = "provider_timeout"
	ErrCodeMailFailed          = "mail_failed"
	ErrCodeMalformedProfile    = "malformed_profile"
	ErrCodeProviderUnverified  = "provider_email_unverified"
	ErrCodeConcurrentUpdate    = "concurrent_update"
	ErrCodeNotAdmin            = "not_admin"
	ErrCodeInvalidSession      = "invalid_session"
	ErrCodeInvalidOAuthState   = "invalid_oauth_state"
	ErrCodeMissingLinkingState = "missing_linking_user"
)

// Error is the error type returned by every operation in this package.
// Kind is always set. Code is a stable machine readable discriminator and
// Field names the offending request field for validation failures.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message"`
	Field   string    `json:"field,omitempty"`
	Err     error     `json:"-"`
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, and by code when the target has one.
// This lets callers write errors.Is(err, ErrNotFound) or
// errors.Is(err, &Error{Kind: KindConflict, Code: ErrCodeUsernameTaken}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// Sentinels for errors.Is checks by kind
var (
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrConflict           = &Error{Kind: KindConflict}
	ErrExpired            = &Error{Kind: KindExpired}
	ErrInvalidCredential  = &Error{Kind: KindInvalidCredential}
	ErrPreconditionFailed = &Error{Kind: KindPreconditionFailed}
	ErrValidation         = &Error{Kind: KindValidation}
	ErrUnauthorized       = &Error{Kind: KindUnauthorized}
	ErrForbidden          = &Error{Kind: KindForbidden}
	ErrUpstream           = &Error{Kind: KindUpstream}

	ErrTokenExpired     = &Error{Kind: KindExpired, Code: ErrCodeTokenExpired}
	ErrConcurrentUpdate = &Error{Kind: KindConflict, Code: ErrCodeConcurrentUpdate}
)

// ErrProviderAuth is wrapped by provider adapters when the upstream API
// rejects an access token (HTTP 401 or the provider's equivalent).
var ErrProviderAuth = errors.New("provider rejected access token")

// ErrRefreshUnsupported is returned by providers that issue no refresh tokens.
var ErrRefreshUnsupported = errors.New("provider does not support token refresh")

// NewError creates an *Error of the given kind.
func NewError(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// WithField returns a copy of e naming the offending field.
func (e *Error) WithField(field string) *Error {
	out := *e
	out.Field = field
	return &out
}

// Wrap returns a copy of e carrying cause.
func (e *Error) Wrap(cause error) *Error {
	out := *e
	out.Err = cause
	return &out
}

func NotFoundError(code, message string) *Error {
	return NewError(KindNotFound, code, message)
}

func ConflictError(code, message string) *Error {
	return NewError(KindConflict, code, message)
}

func ValidationError(code, field, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Field: field, Message: message}
}

// UpstreamError wraps an infrastructure or provider failure.
func UpstreamError(code string, cause error) *Error {
	msg := "upstream service failed"
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Kind: KindUpstream, Code: code, Message: msg, Err: cause}
}

// InternalError wraps a failure of this service's own infrastructure
// (storage, locks, hashing, randomness) as opposed to a third-party API.
// It keeps the upstream kind but is reported as an internal error.
func InternalError(cause error) *Error {
	return &Error{Kind: KindUpstream, Code: ErrCodeInternal, Message: "internal error", Err: cause}
}

// IsInternal reports whether e came from InternalError.
func (e *Error) IsInternal() bool {
	return e.Code == ErrCodeInternal
}

// KindOf reports the kind of err, or "" when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// AsError converts err into an *Error. Errors that are not already an *Error
// come from this service's infrastructure and are classified as internal.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return InternalError(err)
}
