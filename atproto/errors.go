package atproto

import "github.com/goliatone/go-errors"

const (
	TextCodeResolutionFailed  = "atproto_resolution_failed"
	TextCodeMissingPDS        = "atproto_missing_pds"
	TextCodeEmailTaken        = "atproto_email_taken"
	TextCodeMissingSlug       = "atproto_missing_slug"
	TextCodeHandleExhausted   = "atproto_handle_exhausted"
	TextCodeInvalidHandleBase = "atproto_invalid_handle_base"
	TextCodeProvisionFailed   = "atproto_provision_failed"
	TextCodeTokenMalformed    = "atproto_token_malformed"
	TextCodeTokenRejected     = "atproto_token_rejected"
	TextCodeUnsupportedKey    = "atproto_unsupported_key"
	TextCodeInvalidSignature  = "atproto_invalid_signature"
	TextCodeInvalidCiphertext = "atproto_invalid_ciphertext"
)

// ErrResolutionFailed is returned when a DID cannot be resolved to a usable
// document. A later login retries resolution, so the error is recoverable.
var ErrResolutionFailed = errors.New("identity resolution failed", errors.CategoryOperation).
	WithTextCode(TextCodeResolutionFailed)

// ErrMissingPDS is returned when a resolved identity document carries no PDS
// endpoint. Recoverable: nothing is persisted and the next login retries.
var ErrMissingPDS = errors.New("resolved identity has no PDS endpoint", errors.CategoryOperation).
	WithTextCode(TextCodeMissingPDS)

// ErrEmailTaken is returned when the identity server already has an account
// for the email. The account stays linkless until a later login heals it.
var ErrEmailTaken = errors.New("email already registered on identity server", errors.CategoryOperation).
	WithTextCode(TextCodeEmailTaken).
	WithCode(errors.CodeConflict)

// ErrMissingSlug is returned when an account has no slug to derive a handle
// from.
var ErrMissingSlug = errors.New("account has no slug for handle generation", errors.CategoryOperation).
	WithTextCode(TextCodeMissingSlug)

// ErrHandleExhausted is returned when every candidate handle is taken.
var ErrHandleExhausted = errors.New("handle suffix space exhausted", errors.CategoryInternal).
	WithTextCode(TextCodeHandleExhausted)

// ErrInvalidHandleBase is returned when the base slug is empty after
// normalization. That means the caller handed us an unusable account.
var ErrInvalidHandleBase = errors.New("handle base is empty after normalization", errors.CategoryValidation).
	WithTextCode(TextCodeInvalidHandleBase).
	WithCode(errors.CodeBadRequest)

// ErrProvisionFailed is returned when every provisioning attempt lost the
// handle race. The account stays linkless until a later login retries with
// fresh candidates.
var ErrProvisionFailed = errors.New("custodial identity provisioning failed", errors.CategoryOperation).
	WithTextCode(TextCodeProvisionFailed)

// ErrTokenMalformed is returned when a service auth token is not structurally
// a token: wrong segment count, undecodable payload, or no issuer.
var ErrTokenMalformed = errors.New("malformed service auth token", errors.CategoryBadInput).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(errors.CodeBadRequest)

// ErrTokenRejected is returned for every verification failure on a
// well-formed token. The message stays generic on purpose; details go to
// logs, not to the caller.
var ErrTokenRejected = errors.New("service auth token rejected", errors.CategoryAuth).
	WithTextCode(TextCodeTokenRejected).
	WithCode(errors.CodeUnauthorized)

// ErrUnsupportedKey is returned when key material uses a codec or curve we
// cannot verify.
var ErrUnsupportedKey = errors.New("unsupported signing key", errors.CategoryBadInput).
	WithTextCode(TextCodeUnsupportedKey).
	WithCode(errors.CodeBadRequest)

// ErrInvalidSignature is returned when a signature does not verify against
// the resolved key.
var ErrInvalidSignature = errors.New("signature verification failed", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidSignature).
	WithCode(errors.CodeUnauthorized)

// ErrInvalidCiphertext is returned when an encrypted credential fails
// authentication or cannot be decrypted.
var ErrInvalidCiphertext = errors.New("invalid credential ciphertext", errors.CategoryBadInput).
	WithTextCode(TextCodeInvalidCiphertext).
	WithCode(errors.CodeBadRequest)
