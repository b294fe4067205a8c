package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// ExternalIdentity is a provider-verified view of a person: what Google, an
// OAuth app, or a DID document told us. It carries no local state.
type ExternalIdentity struct {
	// ExternalID is the provider's stable identifier: an OAuth subject, or a
	// DID for federated identities. Password logins may leave it empty.
	ExternalID string `json:"external_id,omitempty"`
	Email      string `json:"email,omitempty"`
	Name       string `json:"name,omitempty"`
	// PreferredSlug seeds slug and handle generation, typically a username
	// or a handle the provider reported.
	PreferredSlug string         `json:"preferred_slug,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Validate checks the identity carries enough to reconcile: at least one of
// ExternalID or Email, and a well-formed email when present.
func (e ExternalIdentity) Validate() error {
	if strings.TrimSpace(e.ExternalID) == "" && strings.TrimSpace(e.Email) == "" {
		return ErrInvalidExternalIdentity
	}
	return validation.ValidateStruct(&e,
		validation.Field(&e.Email, is.Email),
		validation.Field(&e.Name, validation.Length(0, 255)),
		validation.Field(&e.PreferredSlug, validation.Length(0, 255)),
	)
}

// FederatedIdentityEnsurer guarantees an account ends up with at most one
// federated identity link. Implementations must be idempotent and must
// return CategoryOperation errors for failures a later login can heal.
type FederatedIdentityEnsurer interface {
	Ensure(ctx context.Context, account *Account, provider Provider, ext ExternalIdentity) error
}

// FederatedIdentityEnsurerFunc adapts a function into an ensurer.
type FederatedIdentityEnsurerFunc func(ctx context.Context, account *Account, provider Provider, ext ExternalIdentity) error

// Ensure implements FederatedIdentityEnsurer.
func (f FederatedIdentityEnsurerFunc) Ensure(ctx context.Context, account *Account, provider Provider, ext ExternalIdentity) error {
	if f == nil {
		return nil
	}
	return f(ctx, account, provider, ext)
}

// ShadowAccountService claims shadow accounts on behalf of a verified login.
// Claim looks for a shadow account that holds the same external identity as
// the authenticated one, marks it merged, and returns it. Returning (nil, nil)
// means there was nothing to claim. The reconciler treats every outcome as
// non-fatal.
type ShadowAccountService interface {
	Claim(ctx context.Context, provider Provider, externalID string, into *Account) (*Account, error)
}

// TokenSigner mints the session tokens handed back to callers. The default
// implementation is TokenService; deployments with their own token plumbing
// provide this instead.
type TokenSigner interface {
	SignAccess(claims SessionClaims) (string, time.Time, error)
	SignRefresh(claims SessionClaims) (string, time.Time, error)
}

// SessionService creates a fresh session for a reconciled account.
type SessionService interface {
	Create(ctx context.Context, account *Account, tenant string) (*LoginResult, error)
}

// DefaultLogger returns the printf logger components fall back to when no
// Logger is configured.
func DefaultLogger() Logger {
	return defLogger{}
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] IDENTITY "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] IDENTITY "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] IDENTITY "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] IDENTITY "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
