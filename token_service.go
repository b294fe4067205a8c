package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const (
	tokenUseAccess  = "access"
	tokenUseRefresh = "refresh"

	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 30 * 24 * time.Hour
)

// JWTSessionClaims is the wire form of SessionClaims.
type JWTSessionClaims struct {
	jwt.RegisteredClaims
	UID       string         `json:"uid,omitempty"`
	Role      string         `json:"role,omitempty"`
	Slug      string         `json:"slug,omitempty"`
	SessionID string         `json:"sid,omitempty"`
	Tenant    string         `json:"tenant,omitempty"`
	Hash      string         `json:"hash,omitempty"`
	TokenUse  string         `json:"use,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SessionClaims unwraps the JWT envelope back into the engine's claims.
func (c *JWTSessionClaims) SessionClaims() SessionClaims {
	uid := c.UID
	if uid == "" {
		uid = c.RegisteredClaims.Subject
	}

	return SessionClaims{
		AccountUID: uid,
		Role:       AccountRole(c.Role),
		Slug:       c.Slug,
		SessionID:  c.SessionID,
		Tenant:     c.Tenant,
		Hash:       c.Hash,
		Metadata:   c.Metadata,
	}
}

// TokenService signs and validates session tokens with HS256. It is the
// default TokenSigner; deployments with external token infrastructure swap
// it out behind the interface.
type TokenService struct {
	signingKey []byte
	issuer     string
	audience   jwt.ClaimStrings
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	logger     Logger
}

var _ TokenSigner = (*TokenService)(nil)

// TokenServiceOption customizes the token service.
type TokenServiceOption func(*TokenService)

// WithTokenIssuer sets the iss claim on minted tokens.
func WithTokenIssuer(issuer string) TokenServiceOption {
	return func(ts *TokenService) {
		ts.issuer = issuer
	}
}

// WithTokenAudience sets the aud claim on minted tokens.
func WithTokenAudience(audience ...string) TokenServiceOption {
	return func(ts *TokenService) {
		if len(audience) > 0 {
			ts.audience = append(jwt.ClaimStrings{}, audience...)
		}
	}
}

// WithAccessTokenTTL overrides the access token lifetime.
func WithAccessTokenTTL(ttl time.Duration) TokenServiceOption {
	return func(ts *TokenService) {
		if ttl > 0 {
			ts.accessTTL = ttl
		}
	}
}

// WithRefreshTokenTTL overrides the refresh token lifetime.
func WithRefreshTokenTTL(ttl time.Duration) TokenServiceOption {
	return func(ts *TokenService) {
		if ttl > 0 {
			ts.refreshTTL = ttl
		}
	}
}

// WithTokenClock injects a custom clock (useful for tests).
func WithTokenClock(clock func() time.Time) TokenServiceOption {
	return func(ts *TokenService) {
		if clock != nil {
			ts.now = clock
		}
	}
}

// WithTokenLogger overrides the logger.
func WithTokenLogger(logger Logger) TokenServiceOption {
	return func(ts *TokenService) {
		if logger != nil {
			ts.logger = logger
		}
	}
}

// NewTokenService creates a new TokenService instance
func NewTokenService(signingKey []byte, opts ...TokenServiceOption) *TokenService {
	ts := &TokenService{
		signingKey: signingKey,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
		logger:     defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}

	return ts
}

// SignAccess implements TokenSigner.
func (ts *TokenService) SignAccess(claims SessionClaims) (string, time.Time, error) {
	return ts.sign(claims, tokenUseAccess, ts.accessTTL)
}

// SignRefresh implements TokenSigner. Refresh tokens carry the session hash
// so a rotated session invalidates every older refresh token.
func (ts *TokenService) SignRefresh(claims SessionClaims) (string, time.Time, error) {
	return ts.sign(claims, tokenUseRefresh, ts.refreshTTL)
}

func (ts *TokenService) sign(claims SessionClaims, use string, ttl time.Duration) (string, time.Time, error) {
	if err := claims.Validate(); err != nil {
		return "", time.Time{}, err
	}

	now := ts.now()
	expiresAt := now.Add(ttl)

	var aud jwt.ClaimStrings
	if len(ts.audience) > 0 {
		aud = make(jwt.ClaimStrings, len(ts.audience))
		copy(aud, ts.audience)
	}

	wire := &JWTSessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   claims.AccountUID,
			Audience:  aud,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UID:       claims.AccountUID,
		Role:      string(claims.Role),
		Slug:      claims.Slug,
		SessionID: claims.SessionID,
		Tenant:    claims.Tenant,
		TokenUse:  use,
		Metadata:  claims.Metadata,
	}

	if use == tokenUseRefresh {
		wire.Hash = claims.Hash
	}

	ensureTokenID(&wire.RegisteredClaims)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, wire)

	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, errors.CategoryInternal, "failed to sign JWT")
	}

	return signed, expiresAt, nil
}

// Validate parses and validates an access token, returning session claims.
func (ts *TokenService) Validate(tokenString string) (*SessionClaims, error) {
	return ts.validate(tokenString, tokenUseAccess)
}

// ValidateRefresh parses and validates a refresh token.
func (ts *TokenService) ValidateRefresh(tokenString string) (*SessionClaims, error) {
	return ts.validate(tokenString, tokenUseRefresh)
}

func (ts *TokenService) validate(tokenString, use string) (*SessionClaims, error) {
	parserOptions := make([]jwt.ParserOption, 0, 2)
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience...))
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTSessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("TokenService validate encountered unexpected signing method: %v", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, errors.Wrap(err, ErrTokenMalformed.Category, ErrTokenMalformed.Message).WithTextCode(ErrTokenMalformed.TextCode)
	}

	wire, ok := token.Claims.(*JWTSessionClaims)
	if !ok || !token.Valid {
		ts.logger.Error("TokenService validate could not decode or validate claims")
		return nil, ErrUnableToDecodeSession
	}

	if wire.TokenUse != "" && wire.TokenUse != use {
		return nil, ErrUnableToDecodeSession.WithMetadata(map[string]any{
			"reason": "token use mismatch",
			"want":   use,
			"got":    wire.TokenUse,
		})
	}

	claims := wire.SessionClaims()
	if err := claims.Validate(); err != nil {
		return nil, err
	}

	return &claims, nil
}

func ensureTokenID(rc *jwt.RegisteredClaims) {
	if rc.ID == "" {
		rc.ID = uuid.New().String()
	}
}
