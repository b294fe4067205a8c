package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// SessionClaims is the payload every session token is guaranteed to carry:
// who (account uid, role, slug), which session, and which tenant. The uid is
// the immutable account identifier, never the row id.
type SessionClaims struct {
	AccountUID string         `json:"account_uid"`
	Role       AccountRole    `json:"role"`
	Slug       string         `json:"slug,omitempty"`
	SessionID  string         `json:"session_id"`
	Tenant     string         `json:"tenant,omitempty"`
	Hash       string         `json:"hash,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Validate checks the claims identify an account and a session.
func (c SessionClaims) Validate() error {
	if c.AccountUID == "" {
		return ErrUnableToDecodeSession.WithMetadata(map[string]any{
			"reason": "missing account uid",
		})
	}
	if c.SessionID == "" {
		return ErrUnableToDecodeSession.WithMetadata(map[string]any{
			"reason": "missing session id",
		})
	}
	return nil
}

func (c SessionClaims) String() string {
	return fmt.Sprintf(
		"account=%s role=%s slug=%s session=%s tenant=%s",
		c.AccountUID,
		c.Role,
		c.Slug,
		c.SessionID,
		c.Tenant,
	)
}

// LoginResult is what a successful reconciliation hands back to transports.
type LoginResult struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	TokenExpiry  time.Time  `json:"token_expiry"`
	SessionID    string     `json:"session_id"`
	Account      *Account   `json:"account,omitempty"`
	ClaimedFrom  *uuid.UUID `json:"claimed_from,omitempty"`
}

// SessionServiceOption customizes the default session service.
type SessionServiceOption func(*sessionService)

// WithSessionServiceLogger overrides the logger.
func WithSessionServiceLogger(logger Logger) SessionServiceOption {
	return func(s *sessionService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSessionService returns the default SessionService. Every call mints a
// fresh session: new session id, new random hash, newly signed tokens.
// Sessions are never reused across logins.
func NewSessionService(signer TokenSigner, opts ...SessionServiceOption) SessionService {
	svc := &sessionService{
		signer: signer,
		logger: defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}

	return svc
}

type sessionService struct {
	signer TokenSigner
	logger Logger
}

func (s *sessionService) Create(ctx context.Context, account *Account, tenant string) (*LoginResult, error) {
	if account == nil {
		return nil, errors.New("cannot create a session without an account", errors.CategoryInternal)
	}
	if s.signer == nil {
		return nil, errors.New("session service requires a token signer", errors.CategoryInternal)
	}

	hash, err := newSessionHash()
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to generate session hash")
	}

	claims := SessionClaims{
		AccountUID: account.UID,
		Role:       account.Role,
		Slug:       account.Slug,
		SessionID:  uuid.New().String(),
		Tenant:     tenant,
		Hash:       hash,
	}

	access, expiry, err := s.signer.SignAccess(claims)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to sign access token")
	}

	refresh, _, err := s.signer.SignRefresh(claims)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to sign refresh token")
	}

	return &LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenExpiry:  expiry,
		SessionID:    claims.SessionID,
		Account:      account,
	}, nil
}

// newSessionHash returns an opaque random value bound to the session. It is
// embedded in the refresh token so rotating the session invalidates older
// refresh tokens.
func newSessionHash() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
