package auth

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

const (
	TextCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	TextCodeAuthInProgress      = "AUTH_IN_PROGRESS"
	TextCodeInvalidTransition   = "INVALID_SESSION_TRANSITION"
	TextCodeSessionSuperseded   = "SESSION_SUPERSEDED"
	TextCodeNoActiveSession     = "NO_ACTIVE_SESSION"
	TextCodeSessionExpired      = "SESSION_EXPIRED"
	TextCodeTokenExpired        = "TOKEN_EXPIRED"
	TextCodeTokenMalformed      = "TOKEN_MALFORMED"
	TextCodeTooManyAttempts     = "TOO_MANY_LOGIN_ATTEMPTS"
	TextCodeIdentityExists      = "IDENTITY_EXISTS"
	TextCodeConfirmationPending = "CONFIRMATION_PENDING"
	TextCodeRoleNotAllowed      = "ROLE_NOT_ALLOWED"
	TextCodeMachineClosed       = "SESSION_MACHINE_CLOSED"
	TextCodeProviderFailure     = "IDENTITY_PROVIDER_FAILURE"
	TextCodeProfileNotFound     = "PROFILE_NOT_FOUND"
	TextCodeEmptyPassword       = "EMPTY_PASSWORD"
)

// ErrInvalidCredentials is returned when the identity provider rejects an email/password pair.
var ErrInvalidCredentials = goerrors.New("invalid email or password", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrMismatchedHashAndPassword is kept for password comparisons, it reads the same as ErrInvalidCredentials to callers.
var ErrMismatchedHashAndPassword = ErrInvalidCredentials

// ErrAuthInProgress is returned when a login or registration starts while another one is running.
var ErrAuthInProgress = goerrors.New("authentication already in progress", goerrors.CategoryConflict).
	WithTextCode(TextCodeAuthInProgress).
	WithCode(goerrors.CodeConflict)

// ErrInvalidTransition is returned when an event is not allowed from the current status.
var ErrInvalidTransition = goerrors.New("invalid session state transition", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// ErrSessionSuperseded is returned when a provider call completes after a logout overtook it.
var ErrSessionSuperseded = goerrors.New("session was signed out while authenticating", goerrors.CategoryConflict).
	WithTextCode(TextCodeSessionSuperseded).
	WithCode(goerrors.CodeConflict)

// ErrNoActiveSession is returned by operations that need a signed in user.
var ErrNoActiveSession = goerrors.New("no active session", goerrors.CategoryAuth).
	WithTextCode(TextCodeNoActiveSession).
	WithCode(goerrors.CodeUnauthorized)

// ErrSessionExpired is returned when a provider session is past its expiry.
var ErrSessionExpired = goerrors.New("session expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenExpired is returned when a signed access token is past its expiry.
var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed is returned when an access token can not be parsed or verified.
var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// ErrTooManyLoginAttempts is returned while an account is cooling down.
var ErrTooManyLoginAttempts = goerrors.New("too many login attempts", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeTooManyAttempts).
	WithCode(http.StatusTooManyRequests)

// ErrIdentityExists is returned when signing up with an email that is taken.
var ErrIdentityExists = goerrors.New("an account with this email already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeIdentityExists).
	WithCode(goerrors.CodeConflict)

// ErrConfirmationPending is returned when registration succeeded but the provider requires confirmation before login.
var ErrConfirmationPending = goerrors.New("account created, confirm your email to sign in", goerrors.CategoryAuth).
	WithTextCode(TextCodeConfirmationPending).
	WithCode(http.StatusAccepted)

// ErrRoleNotAllowed is returned when registering with a role that can not be self assigned.
var ErrRoleNotAllowed = goerrors.New("role can not be selected at registration", goerrors.CategoryValidation).
	WithTextCode(TextCodeRoleNotAllowed).
	WithCode(goerrors.CodeBadRequest)

// ErrMachineClosed is returned by a session machine after Close.
var ErrMachineClosed = goerrors.New("session machine closed", goerrors.CategoryOperation).
	WithTextCode(TextCodeMachineClosed).
	WithCode(goerrors.CodeConflict)

// ErrProfileNotFound is returned when no profile exists for a provider user.
var ErrProfileNotFound = goerrors.New("profile not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeProfileNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrNoEmptyString is returned when hashing an empty password.
var ErrNoEmptyString = goerrors.New("password can not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrUnableToFindSession is the error when our request has no session cookie
var ErrUnableToFindSession = errors.New("unable to find session")

// ErrUnableToDecodeSession unable to decode JWT from session cookie
var ErrUnableToDecodeSession = errors.New("unable to decode session")

// ErrUnableToParseData parse error
var ErrUnableToParseData = errors.New("unable to parse data")

// WrapProviderError keeps rich provider errors as they are and wraps
// anything else as an identity provider failure.
func WrapProviderError(err error, message string) error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}

	return goerrors.Wrap(err, goerrors.CategoryOperation, message).
		WithTextCode(TextCodeProviderFailure).
		WithCode(http.StatusBadGateway)
}

// IsNotFound reports whether err signals a missing record.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrProfileNotFound) {
		return true
	}
	return goerrors.IsNotFound(err) || repository.IsRecordNotFound(err)
}

// StatusCode maps err to the HTTP status carried by rich errors.
func StatusCode(err error) int {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Code > 0 {
		return richErr.Code
	}
	return http.StatusInternalServerError
}

// TextCode returns the text code carried by rich errors, empty otherwise.
func TextCode(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode
	}
	return ""
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTokenExpired) {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTokenMalformed) {
		return true
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}
