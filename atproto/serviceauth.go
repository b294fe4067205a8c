package atproto

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-identity"
	"github.com/goliatone/go-repository-bun"
)

// ServiceAuthClaims is the decoded payload of an inter-service auth token.
// It lives for the duration of one verification and is never persisted.
type ServiceAuthClaims struct {
	Issuer   string `json:"iss"`
	Audience string `json:"aud"`
	// Method is the lexicon method (lxm) the token is scoped to.
	Method    string `json:"lxm,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
	IssuedAt  int64  `json:"iat,omitempty"`
	TokenID   string `json:"jti,omitempty"`
}

// ServiceAuthVerifier validates tokens signed by a DID's atproto key and
// exchanges them for platform sessions. Verification is a fixed gate
// sequence; the first failing gate decides the error and every well-formed
// rejection looks the same to the caller.
type ServiceAuthVerifier struct {
	config     Config
	directory  *Directory
	repo       FederatedIdentityRepository
	accounts   identity.Accounts
	reconciler *identity.Reconciler
	logger     identity.Logger
	sink       identity.ActivitySink
	now        func() time.Time
}

// ServiceAuthOption configures the verifier.
type ServiceAuthOption func(*ServiceAuthVerifier)

// WithServiceAuthLogger overrides the logger.
func WithServiceAuthLogger(logger identity.Logger) ServiceAuthOption {
	return func(v *ServiceAuthVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithServiceAuthClock overrides the time source for expiry checks.
func WithServiceAuthClock(now func() time.Time) ServiceAuthOption {
	return func(v *ServiceAuthVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithServiceAuthActivitySink emits identity.serviceauth.exchange events.
func WithServiceAuthActivitySink(sink identity.ActivitySink) ServiceAuthOption {
	return func(v *ServiceAuthVerifier) {
		v.sink = sink
	}
}

// NewServiceAuthVerifier wires the verifier for one tenant's reconciler.
func NewServiceAuthVerifier(
	cfg Config,
	directory *Directory,
	repo FederatedIdentityRepository,
	accounts identity.Accounts,
	reconciler *identity.Reconciler,
	opts ...ServiceAuthOption,
) *ServiceAuthVerifier {
	v := &ServiceAuthVerifier{
		config:     cfg.normalized(),
		directory:  directory,
		repo:       repo,
		accounts:   accounts,
		reconciler: reconciler,
		logger:     identity.DefaultLogger(),
		now:        time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}

	return v
}

// VerifyAndExchange runs the verification gates and, on success, exchanges
// the token for a session. Cheap structural and claims checks run before
// any network call; the signature is verified last, against the key the
// issuer's DID document advertises right now.
func (v *ServiceAuthVerifier) VerifyAndExchange(ctx context.Context, token string) (*identity.LoginResult, error) {
	segments := strings.Split(strings.TrimSpace(token), ".")
	if len(segments) != 3 {
		return nil, ErrTokenMalformed.WithMetadata(map[string]any{
			"reason": "token must have three segments",
		})
	}

	claims, err := decodeServiceAuthClaims(segments[1])
	if err != nil {
		return nil, err
	}

	if claims.Audience != v.config.ServiceDID {
		v.logger.Info("service auth token rejected: audience %q is not this service", claims.Audience)
		return nil, ErrTokenRejected
	}

	if claims.Method != ExchangeMethod {
		v.logger.Info("service auth token rejected: method %q not accepted", claims.Method)
		return nil, ErrTokenRejected
	}

	if err := v.checkExpiry(claims); err != nil {
		return nil, err
	}

	resolved, err := v.resolveIssuer(ctx, claims.Issuer)
	if err != nil {
		return nil, err
	}

	if err := v.verifySignature(segments, resolved); err != nil {
		return nil, err
	}

	return v.exchange(ctx, claims, resolved)
}

func decodeServiceAuthClaims(segment string) (*ServiceAuthClaims, error) {
	payload, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return nil, ErrTokenMalformed.WithMetadata(map[string]any{
			"reason": "payload is not base64url",
		})
	}

	var claims ServiceAuthClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrTokenMalformed.WithMetadata(map[string]any{
			"reason": "payload is not JSON",
		})
	}

	if strings.TrimSpace(claims.Issuer) == "" {
		return nil, ErrTokenMalformed.WithMetadata(map[string]any{
			"reason": "missing issuer",
		})
	}

	return &claims, nil
}

func (v *ServiceAuthVerifier) checkExpiry(claims *ServiceAuthClaims) error {
	if claims.ExpiresAt == 0 {
		v.logger.Info("service auth token rejected: no expiry")
		return ErrTokenRejected
	}

	now := v.now()
	exp := time.Unix(claims.ExpiresAt, 0)

	if !exp.After(now) {
		v.logger.Info("service auth token rejected: expired at %s", exp.Format(time.RFC3339))
		return ErrTokenRejected
	}

	if exp.After(now.Add(MaxTokenLifetime)) {
		// An expiry beyond the protocol window means a forged or misissued
		// token, not clock skew.
		v.logger.Info("service auth token rejected: expiry %s exceeds the %s window", exp.Format(time.RFC3339), MaxTokenLifetime)
		return ErrTokenRejected
	}

	return nil
}

// resolveIssuer fetches the issuer's document and requires a signing key.
// Resolution failures reject the token; an unreachable directory must not
// turn into an authenticated request.
func (v *ServiceAuthVerifier) resolveIssuer(ctx context.Context, issuer string) (*ResolvedIdentity, error) {
	resolved, err := v.directory.Resolve(ctx, issuer)
	if err != nil {
		v.logger.Info("service auth token rejected: issuer %s did not resolve: %v", issuer, err)
		return nil, ErrTokenRejected
	}

	if resolved.SigningKey == "" {
		v.logger.Info("service auth token rejected: issuer %s has no signing key", issuer)
		return nil, ErrTokenRejected
	}

	return resolved, nil
}

func (v *ServiceAuthVerifier) verifySignature(segments []string, resolved *ResolvedIdentity) error {
	key, err := ParsePublicKeyMultibase(resolved.SigningKey)
	if err != nil {
		v.logger.Info("service auth token rejected: issuer %s key unusable: %v", resolved.DID, err)
		return ErrTokenRejected
	}

	sig, err := base64.RawURLEncoding.DecodeString(segments[2])
	if err != nil {
		v.logger.Info("service auth token rejected: signature is not base64url")
		return ErrTokenRejected
	}

	if err := key.Verify([]byte(segments[0]+"."+segments[1]), sig); err != nil {
		v.logger.Info("service auth token rejected: signature verification failed for %s", resolved.DID)
		return ErrTokenRejected
	}

	return nil
}

// exchange turns a verified issuer into a session. Known DIDs get a session
// for their account directly; first-time DIDs run through reconciliation
// like any other federated login and come out with a non-custodial link.
func (v *ServiceAuthVerifier) exchange(ctx context.Context, claims *ServiceAuthClaims, resolved *ResolvedIdentity) (*identity.LoginResult, error) {
	link, err := v.repo.FindByDID(ctx, claims.Issuer)
	if err != nil && !repository.IsRecordNotFound(err) {
		return nil, errors.Wrap(err, errors.CategoryInternal, "federated identity lookup failed")
	}

	if link != nil {
		account, err := v.accounts.GetByUID(ctx, link.AccountUID)
		if err != nil {
			if identity.IsAccountNotFound(err) {
				// The link outlived its account; callers get the generic
				// not-found signal, the stale link stays a log line.
				v.logger.Warn("federated identity %s points at missing account %s", claims.Issuer, link.AccountUID)
				return nil, identity.ErrAccountNotFound.WithMetadata(map[string]any{"did": claims.Issuer})
			}
			return nil, errors.Wrap(err, errors.CategoryInternal, "linked account lookup failed").
				WithMetadata(map[string]any{"did": claims.Issuer})
		}

		result, err := v.reconciler.SessionFor(ctx, account, map[string]any{
			"method": "service_auth",
			"issuer": claims.Issuer,
		})
		if err != nil {
			return nil, err
		}

		v.emitExchange(ctx, account, claims, false)
		return result, nil
	}

	ext := identity.ExternalIdentity{
		ExternalID:    claims.Issuer,
		Name:          resolved.Handle,
		PreferredSlug: resolved.Handle,
	}
	if resolved.Handle != "" {
		ext.Metadata = map[string]any{"handle": resolved.Handle}
	}

	result, err := v.reconciler.Login(ctx, identity.ProviderAtproto, ext)
	if err != nil {
		return nil, err
	}

	if err := v.ensureLink(ctx, result.Account, claims.Issuer, resolved); err != nil {
		// The session already exists; the next exchange retries the link.
		v.logger.Warn("failed to link %s after exchange: %v", claims.Issuer, err)
	}

	v.emitExchange(ctx, result.Account, claims, true)
	return result, nil
}

// ensureLink records the non-custodial link for a first-seen issuer. When
// the document advertised no PDS the configured fallback is stored, so the
// identity keeps working for read paths.
func (v *ServiceAuthVerifier) ensureLink(ctx context.Context, account *identity.Account, did string, resolved *ResolvedIdentity) error {
	if account == nil {
		return nil
	}

	existing, err := v.repo.FindByDID(ctx, did)
	if err != nil && !repository.IsRecordNotFound(err) {
		return err
	}
	if existing != nil {
		return nil
	}

	pds := resolved.PDSURL
	if pds == "" {
		pds = v.config.FallbackPDSURL
	}

	_, err = v.repo.Create(ctx, &FederatedIdentity{
		AccountID:  account.ID.String(),
		AccountUID: account.UID,
		DID:        did,
		Handle:     resolved.Handle,
		PDSURL:     pds,
	})
	return err
}

func (v *ServiceAuthVerifier) emitExchange(ctx context.Context, account *identity.Account, claims *ServiceAuthClaims, firstSeen bool) {
	if v.sink == nil || account == nil {
		return
	}

	err := v.sink.Record(ctx, identity.ActivityEvent{
		EventType: identity.ActivityEventServiceAuthExchange,
		Actor:     identity.ActorRef{ID: account.UID, Type: "account"},
		AccountID: account.ID.String(),
		Metadata: map[string]any{
			"issuer":     claims.Issuer,
			"jti":        claims.TokenID,
			"first_seen": firstSeen,
		},
		OccurredAt: v.now(),
	})
	if err != nil {
		v.logger.Warn("activity sink record error: %v", err)
	}
}
