package identity

import (
	"context"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

// Reconciler merges every way a person can authenticate — password, OAuth,
// federation protocol — into the tenant's canonical account, then issues a
// fresh session. One Reconciler serves one tenant; the tenant-resolved
// configuration is injected at construction, never looked up mid-request.
type Reconciler struct {
	tenant       TenantConfig
	repo         RepositoryManager
	sessions     SessionService
	ensurer      FederatedIdentityEnsurer
	shadows      ShadowAccountService
	logger       Logger
	activitySink ActivitySink
}

// NewReconciler returns a reconciler for one tenant.
func NewReconciler(tenant TenantConfig, repo RepositoryManager, sessions SessionService) *Reconciler {
	return &Reconciler{
		tenant:       tenant.normalized(),
		repo:         repo,
		sessions:     sessions,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
	}
}

func (s *Reconciler) WithLogger(logger Logger) *Reconciler {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithActivitySink configures an ActivitySink for emitting identity events.
func (s *Reconciler) WithActivitySink(sink ActivitySink) *Reconciler {
	s.activitySink = normalizeActivitySink(sink)
	return s
}

// WithFederatedIdentityEnsurer wires the component that links accounts to
// their federation identity. Without one, logins simply skip linking.
func (s *Reconciler) WithFederatedIdentityEnsurer(ensurer FederatedIdentityEnsurer) *Reconciler {
	s.ensurer = ensurer
	return s
}

// WithShadowAccountService wires the component that merges shadow accounts
// into the account their owner just verified.
func (s *Reconciler) WithShadowAccountService(shadows ShadowAccountService) *Reconciler {
	s.shadows = shadows
	return s
}

// Tenant returns the tenant this reconciler serves.
func (s *Reconciler) Tenant() TenantConfig {
	return s.tenant
}

// Login reconciles a provider-verified identity into the canonical account
// and creates a session. Shadow promotion, shadow claiming, and federated
// identity linking all happen here; only steps that would leave the caller
// without a usable account can fail the login.
func (s *Reconciler) Login(ctx context.Context, provider Provider, ext ExternalIdentity) (*LoginResult, error) {
	if !provider.IsValid() {
		err := ErrUnsupportedProvider.WithMetadata(map[string]any{
			"provider": string(provider),
		})
		s.emitEvent(ctx, ActivityEventLoginFailure, ActorRef{Type: "unknown"}, "", map[string]any{
			"provider": string(provider),
			"error":    err.Error(),
		})
		return nil, err
	}

	if err := ext.Validate(); err != nil {
		s.logger.Error("Login external identity validation failed: %v", err)
		s.emitEvent(ctx, ActivityEventLoginFailure, ActorRef{Type: "unknown"}, "", map[string]any{
			"provider": string(provider),
			"error":    err.Error(),
		})
		return nil, err
	}

	account, err := s.repo.Accounts().GetOrCreateFromExternal(ctx, provider, ext, s.accountDefaults())
	if err != nil {
		s.logger.Error("Login account resolution failed: %v", err)
		s.emitEvent(ctx, ActivityEventLoginFailure, ActorRef{Type: "unknown"}, "", map[string]any{
			"provider": string(provider),
			"error":    err.Error(),
		})
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to resolve account")
	}

	claimed, err := s.resolveShadow(ctx, provider, ext, account)
	if err != nil {
		// Only promotion failures surface here; they leave the account in an
		// unverified state, so the login cannot proceed.
		s.emitEvent(ctx, ActivityEventLoginFailure, s.actorFromAccount(account), account.ID.String(), map[string]any{
			"provider": string(provider),
			"error":    err.Error(),
		})
		return nil, err
	}

	s.ensureFederatedIdentity(ctx, account, provider, ext)

	result, err := s.sessions.Create(ctx, account, s.tenant.ID)
	if err != nil {
		s.logger.Error("Login session creation failed: %v", err)
		s.emitEvent(ctx, ActivityEventLoginFailure, s.actorFromAccount(account), account.ID.String(), map[string]any{
			"provider": string(provider),
			"error":    err.Error(),
		})
		return nil, err
	}

	if claimed != nil {
		id := claimed.ID
		result.ClaimedFrom = &id
	}

	s.emitEvent(ctx, ActivityEventLoginSuccess, s.actorFromAccount(account), account.ID.String(), map[string]any{
		"provider":   string(provider),
		"session_id": result.SessionID,
	})

	return result, nil
}

// PasswordLogin verifies a password and runs the same reconciliation path as
// every other provider.
func (s *Reconciler) PasswordLogin(ctx context.Context, identifier, password string) (*LoginResult, error) {
	account, err := s.repo.Accounts().GetByIdentifier(ctx, identifier)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			s.emitEvent(ctx, ActivityEventLoginFailure, ActorRef{Type: "unknown"}, "", map[string]any{
				"provider":   string(ProviderEmail),
				"identifier": identifier,
				"error":      ErrInvalidCredentials.Error(),
			})
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := ComparePasswordAndHash(password, account.PasswordHash); err != nil {
		s.emitEvent(ctx, ActivityEventLoginFailure, s.actorFromAccount(account), account.ID.String(), map[string]any{
			"provider":   string(ProviderEmail),
			"identifier": identifier,
			"error":      ErrInvalidCredentials.Error(),
		})
		return nil, ErrInvalidCredentials
	}

	return s.Login(ctx, ProviderEmail, ExternalIdentity{
		Email:         account.Email,
		Name:          account.Name,
		PreferredSlug: account.Slug,
	})
}

// SessionFor issues a session for an account that is already reconciled,
// skipping claim, promote, and linking. Token-exchange flows use it when the
// caller's identity maps straight onto a known account.
func (s *Reconciler) SessionFor(ctx context.Context, account *Account, metadata map[string]any) (*LoginResult, error) {
	if account == nil {
		return nil, ErrAccountNotFound
	}

	result, err := s.sessions.Create(ctx, account, s.tenant.ID)
	if err != nil {
		s.logger.Error("session creation failed for account %s: %v", account.ID, err)
		failure := map[string]any{"error": err.Error()}
		for k, v := range metadata {
			failure[k] = v
		}
		s.emitEvent(ctx, ActivityEventLoginFailure, s.actorFromAccount(account), account.ID.String(), failure)
		return nil, err
	}

	success := map[string]any{"session_id": result.SessionID}
	for k, v := range metadata {
		success[k] = v
	}
	s.emitEvent(ctx, ActivityEventLoginSuccess, s.actorFromAccount(account), account.ID.String(), success)

	return result, nil
}

// resolveShadow decides between the two mutually exclusive shadow paths. If
// the authenticated account is itself the shadow, its owner just proved
// control: promote it in place. Otherwise look for some other shadow account
// holding this identity and claim it. Claim outcomes never fail the login.
func (s *Reconciler) resolveShadow(ctx context.Context, provider Provider, ext ExternalIdentity, account *Account) (*Account, error) {
	if !provider.IsFederated() || ext.ExternalID == "" {
		return nil, nil
	}

	if account.IsShadow() {
		_, err := s.repo.Accounts().Promote(ctx, s.actorFromAccount(account), account,
			WithPromotionRole(s.tenant.DefaultRole),
			WithTransitionReason("owner verified federated identity"),
		)
		if err != nil {
			s.logger.Error("shadow promotion failed for account %s: %v", account.ID, err)
			return nil, err
		}
		return nil, nil
	}

	if s.shadows == nil {
		return nil, nil
	}

	claimed, err := s.shadows.Claim(ctx, provider, ext.ExternalID, account)
	if err != nil {
		var ge *errors.Error
		if errors.As(err, &ge) && ge.Category == errors.CategoryConflict {
			// Someone else's login merged it first; the end state is the
			// same, so this is informational.
			s.logger.Info("shadow account already claimed: %v", err)
		} else {
			s.logger.Error("shadow claim failed: %v", err)
		}
		return nil, nil
	}

	if claimed != nil {
		s.emitEvent(ctx, ActivityEventAccountClaimed, s.actorFromAccount(account), claimed.ID.String(), map[string]any{
			"provider":    string(provider),
			"merged_into": account.UID,
		})
	}

	return claimed, nil
}

// ensureFederatedIdentity runs on every login for every provider: accounts
// that never got their link (a past outage, a disabled server) pick it up on
// the next sign-in. Failures degrade; the caller still gets their session.
func (s *Reconciler) ensureFederatedIdentity(ctx context.Context, account *Account, provider Provider, ext ExternalIdentity) {
	if s.ensurer == nil {
		return
	}

	if err := s.ensurer.Ensure(ctx, account, provider, ext); err != nil {
		if IsRecoverable(err) {
			s.logger.Warn("federated identity link deferred for account %s: %v", account.ID, err)
		} else {
			s.logger.Error("federated identity link failed for account %s: %v", account.ID, err)
		}
		return
	}
}

func (s *Reconciler) accountDefaults() AccountDefaults {
	return AccountDefaults{Role: s.tenant.DefaultRole}
}

func (s *Reconciler) emitEvent(ctx context.Context, eventType ActivityEventType, actor ActorRef, accountID string, metadata map[string]any) {
	sink := normalizeActivitySink(s.activitySink)
	event := ActivityEvent{
		EventType: eventType,
		Actor:     actor,
		AccountID: accountID,
		Metadata:  metadata,
	}

	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}
	if s.tenant.ID != "" {
		event.Metadata["tenant"] = s.tenant.ID
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	if err := sink.Record(ctx, event); err != nil {
		s.logger.Warn("activity sink record error: %v", err)
	}
}

func (s *Reconciler) actorFromAccount(account *Account) ActorRef {
	if account == nil {
		return ActorRef{Type: "unknown"}
	}

	return ActorRef{
		ID:   account.UID,
		Type: "account",
	}
}
