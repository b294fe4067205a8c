package identity

import (
	"github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidExternalIdentity = "identity_invalid_external"
	TextCodeAccountNotFound         = "identity_account_not_found"
	TextCodeInvalidCredentials      = "identity_invalid_credentials"
	TextCodeEmptyPassword           = "identity_empty_password"
	TextCodeUnsupportedProvider     = "identity_unsupported_provider"
	TextCodeTokenMalformed          = "identity_token_malformed"
	TextCodeTokenExpired            = "identity_token_expired"
	TextCodeSessionDecode           = "identity_session_decode"
)

// ErrInvalidExternalIdentity is returned when a provider payload is missing
// the fields reconciliation needs to identify a person.
var ErrInvalidExternalIdentity = errors.New("external identity is missing required fields", errors.CategoryBadInput).
	WithTextCode(TextCodeInvalidExternalIdentity).
	WithCode(errors.CodeBadRequest)

// ErrAccountNotFound is returned when no account matches the given identifier.
var ErrAccountNotFound = errors.New("account not found", errors.CategoryNotFound).
	WithTextCode(TextCodeAccountNotFound).
	WithCode(errors.CodeNotFound)

// ErrInvalidCredentials is returned for password mismatches. The message is
// deliberately generic; callers must not leak which part failed.
var ErrInvalidCredentials = errors.New("invalid credentials", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(errors.CodeUnauthorized)

// ErrNoEmptyString is returned when hashing an empty password.
var ErrNoEmptyString = errors.New("password must not be empty", errors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(errors.CodeBadRequest)

// ErrMismatchedHashAndPassword mirrors bcrypt's mismatch as a domain error.
var ErrMismatchedHashAndPassword = errors.New("hash and password mismatch", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(errors.CodeUnauthorized)

// ErrUnsupportedProvider is returned when reconciliation is asked to handle a
// provider it does not know.
var ErrUnsupportedProvider = errors.New("unsupported identity provider", errors.CategoryBadInput).
	WithTextCode(TextCodeUnsupportedProvider).
	WithCode(errors.CodeBadRequest)

// ErrTokenMalformed is returned when a session token cannot be parsed.
var ErrTokenMalformed = errors.New("token is malformed", errors.CategoryBadInput).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(errors.CodeBadRequest)

// ErrTokenExpired is returned when a session token is past its expiry.
var ErrTokenExpired = errors.New("token is expired", errors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(errors.CodeUnauthorized)

// ErrUnableToDecodeSession is returned when token claims do not decode.
var ErrUnableToDecodeSession = errors.New("unable to decode session", errors.CategoryAuth).
	WithTextCode(TextCodeSessionDecode).
	WithCode(errors.CodeUnauthorized)

// IsRecoverable reports whether an error is a degradable federation failure:
// the operation did not complete, nothing partial was persisted, and a later
// login is expected to self-heal. The reconciler logs these and moves on.
// Errors in CategoryOperation are recoverable; everything else is not.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	var ge *errors.Error
	if !errors.As(err, &ge) {
		return false
	}
	return ge.Category == errors.CategoryOperation
}

// IsAccountNotFound matches both our sentinel and repository-level not-found
// errors so callers can branch without caring which layer reported it.
func IsAccountNotFound(err error) bool {
	if err == nil {
		return false
	}
	var ge *errors.Error
	if errors.As(err, &ge) {
		return ge.Category == errors.CategoryNotFound
	}
	return false
}

// IsTokenExpiredError will check for expired session tokens.
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	var ge *errors.Error
	if errors.As(err, &ge) {
		return ge.TextCode == TextCodeTokenExpired
	}
	return false
}

// IsMalformedError will check for unparseable session tokens.
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	var ge *errors.Error
	if errors.As(err, &ge) {
		return ge.TextCode == TextCodeTokenMalformed
	}
	return false
}
