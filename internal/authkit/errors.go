package authkit

import (
	"errors"
	"fmt"

	"github.com/tyemirov/sensorhub/pkg/tokencodec"
)

// Failures surfaced by the authentication core. All but ErrTransient are security failures
// and must not be retried with the same credential or token.
var (
	// ErrInvalidCredentials covers both unknown usernames and wrong passwords.
	ErrInvalidCredentials = errors.New("auth.invalid_credentials")
	// ErrInvalidToken indicates a malformed token or a signature mismatch.
	ErrInvalidToken = tokencodec.ErrInvalidToken
	// ErrTokenExpired indicates the token reached its expiry instant.
	ErrTokenExpired = tokencodec.ErrTokenExpired
	// ErrWrongTokenKind indicates an access token used where a refresh token is required, or vice versa.
	ErrWrongTokenKind = errors.New("auth.wrong_token_kind")
	// ErrTokenRevoked indicates the refresh token was rotated away, logged out, or never recorded.
	ErrTokenRevoked = errors.New("auth.token_revoked")
	// ErrTransient indicates storage was unavailable or timed out; the caller may retry.
	ErrTransient = errors.New("auth.transient")
)

// Storage sentinels shared by every store implementation.
var (
	// ErrCredentialNotFound indicates no credential record matched the username.
	ErrCredentialNotFound = errors.New("credential_store.not_found")
	// ErrUserNotFound indicates no user matched the identifier.
	ErrUserNotFound = errors.New("user_store.not_found")
	// ErrUsernameTaken indicates another user already owns the username.
	ErrUsernameTaken = errors.New("user_store.username_taken")
	// ErrRevocationExists indicates a revocation record already exists for the token id.
	ErrRevocationExists = errors.New("revocation_store.duplicate_token_id")
	// ErrEmptyTokenID indicates that the provided token id is empty.
	ErrEmptyTokenID = errors.New("revocation_store.empty_token_id")
)

// Public error codes returned in response bodies.
const (
	ErrorCodeInvalidCredentials = "invalid_credentials"
	ErrorCodeInvalidToken       = "invalid_token"
	ErrorCodeTokenExpired       = "token_expired"
	ErrorCodeWrongTokenKind     = "wrong_token_kind"
	ErrorCodeTokenRevoked       = "token_revoked"
	ErrorCodeTransient          = "temporarily_unavailable"
	ErrorCodeInternal           = "internal_error"
)

// ErrorCode maps err onto the generic code exposed to clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrTransient):
		return ErrorCodeTransient
	case errors.Is(err, ErrInvalidCredentials):
		return ErrorCodeInvalidCredentials
	case errors.Is(err, ErrTokenExpired):
		return ErrorCodeTokenExpired
	case errors.Is(err, ErrInvalidToken):
		return ErrorCodeInvalidToken
	case errors.Is(err, ErrWrongTokenKind):
		return ErrorCodeWrongTokenKind
	case errors.Is(err, ErrTokenRevoked):
		return ErrorCodeTokenRevoked
	default:
		return ErrorCodeInternal
	}
}

// IsSecurityFailure reports whether err is one of the five authentication failures.
func IsSecurityFailure(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrWrongTokenKind) ||
		errors.Is(err, ErrTokenRevoked)
}

func transientError(operation string, cause error) error {
	return fmt.Errorf("%s: %w: %w", operation, ErrTransient, cause)
}
