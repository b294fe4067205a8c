package identity_test

import (
	"context"
	"testing"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-identity"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type reconcilerHarness struct {
	repo     *MockRepositoryManager
	accounts *MockAccounts
	sessions *MockSessionService
	shadows  *MockShadowService
	ensurer  *MockEnsurer
	sink     *capturingSink
	rec      *identity.Reconciler
}

func newReconcilerHarness() *reconcilerHarness {
	h := &reconcilerHarness{
		repo:     &MockRepositoryManager{},
		accounts: &MockAccounts{},
		sessions: &MockSessionService{},
		shadows:  &MockShadowService{},
		ensurer:  &MockEnsurer{},
		sink:     &capturingSink{},
	}

	h.repo.On("Accounts").Return(h.accounts)
	h.rec = identity.NewReconciler(identity.TenantConfig{ID: "main"}, h.repo, h.sessions).
		WithActivitySink(h.sink).
		WithShadowAccountService(h.shadows).
		WithFederatedIdentityEnsurer(h.ensurer)

	return h
}

func reconciledAccount() *identity.Account {
	return &identity.Account{
		ID:     uuid.New(),
		UID:    identity.NewUID(),
		Email:  "ana@example.com",
		Name:   "Ana",
		Slug:   "ana",
		Status: identity.StatusActive,
		Role:   identity.RoleMember,
	}
}

func sessionResult(account *identity.Account) *identity.LoginResult {
	return &identity.LoginResult{
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		SessionID:    uuid.New().String(),
		Account:      account,
	}
}

func TestLoginRejectsInvalidProvider(t *testing.T) {
	h := newReconcilerHarness()

	_, err := h.rec.Login(context.Background(), identity.Provider("carrier-pigeon"), identity.ExternalIdentity{
		Email: "ana@example.com",
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrUnsupportedProvider)

	failures := h.sink.ofType(identity.ActivityEventLoginFailure)
	require.Len(t, failures, 1)
	assert.Equal(t, "unknown", failures[0].Actor.Type)
	assert.Equal(t, "carrier-pigeon", failures[0].Metadata["provider"])
	assert.Equal(t, "main", failures[0].Metadata["tenant"])

	h.accounts.AssertNotCalled(t, "GetOrCreateFromExternal", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestLoginRejectsInvalidExternalIdentity(t *testing.T) {
	h := newReconcilerHarness()

	_, err := h.rec.Login(context.Background(), identity.ProviderGoogle, identity.ExternalIdentity{})

	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrInvalidExternalIdentity)
	require.Len(t, h.sink.ofType(identity.ActivityEventLoginFailure), 1)

	h.accounts.AssertNotCalled(t, "GetOrCreateFromExternal", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestLoginWrapsAccountResolutionFailures(t *testing.T) {
	h := newReconcilerHarness()

	h.accounts.On("GetOrCreateFromExternal", mock.Anything, identity.ProviderGoogle, mock.Anything, mock.Anything).
		Return(nil, errors.New("connection refused", errors.CategoryInternal)).Once()

	_, err := h.rec.Login(context.Background(), identity.ProviderGoogle, identity.ExternalIdentity{
		ExternalID: "google-oauth2|12345",
		Email:      "ana@example.com",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to resolve account")
	require.Len(t, h.sink.ofType(identity.ActivityEventLoginFailure), 1)

	h.accounts.AssertExpectations(t)
	h.sessions.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestLoginPassesTenantDefaults(t *testing.T) {
	h := newReconcilerHarness()
	account := reconciledAccount()

	h.accounts.On("GetOrCreateFromExternal", mock.Anything, identity.ProviderGoogle, mock.Anything,
		identity.AccountDefaults{Role: identity.RoleMember}).
		Return(account, nil).Once()
	h.ensurer.On("Ensure", mock.Anything, account, identity.ProviderGoogle, mock.Anything).Return(nil).Once()
	h.sessions.On("Create", mock.Anything, account, "main").Return(sessionResult(account), nil).Once()

	result, err := h.rec.Login(context.Background(), identity.ProviderGoogle, identity.ExternalIdentity{
		ExternalID: "google-oauth2|12345",
		Email:      "ana@example.com",
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Nil(t, result.ClaimedFrom)

	successes := h.sink.ofType(identity.ActivityEventLoginSuccess)
	require.Len(t, successes, 1)
	assert.Equal(t, account.ID.String(), successes[0].AccountID)
	assert.Equal(t, account.UID, successes[0].Actor.ID)
	assert.Equal(t, "account", successes[0].Actor.Type)
	assert.Equal(t, result.SessionID, successes[0].Metadata["session_id"])
	assert.Equal(t, "google", successes[0].Metadata["provider"])
	assert.Equal(t, "main", successes[0].Metadata["tenant"])

	h.accounts.AssertExpectations(t)
	h.sessions.AssertExpectations(t)
	h.ensurer.AssertExpectations(t)
	h.shadows.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestLoginPromotesShadowOwner(t *testing.T) {
	h := newReconcilerHarness()
	account := reconciledAccount()
	account.Status = identity.StatusShadow

	h.accounts.On("GetOrCreateFromExternal", mock.Anything, identity.ProviderAtproto, mock.Anything, mock.Anything).
		Return(account, nil).Once()
	h.accounts.On("Promote", mock.Anything, identity.ActorRef{ID: account.UID, Type: "account"}, account,
		mock.MatchedBy(func(opts []identity.TransitionOption) bool {
			// promotion role plus reason
			return len(opts) == 2
		})).
		Return(account, nil).Once()
	h.ensurer.On("Ensure", mock.Anything, account, identity.ProviderAtproto, mock.Anything).Return(nil).Once()
	h.sessions.On("Create", mock.Anything, account, "main").Return(sessionResult(account), nil).Once()

	result, err := h.rec.Login(context.Background(), identity.ProviderAtproto, identity.ExternalIdentity{
		ExternalID: "did:plc:abc123",
		Name:       "ana.example.me",
	})
	require.NoError(t, err)
	assert.Nil(t, result.ClaimedFrom, "promoting in place claims nothing")

	h.accounts.AssertExpectations(t)
	h.shadows.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestLoginPromotionFailureFailsLogin(t *testing.T) {
	h := newReconcilerHarness()
	account := reconciledAccount()
	account.Status = identity.StatusShadow

	h.accounts.On("GetOrCreateFromExternal", mock.Anything, identity.ProviderAtproto, mock.Anything, mock.Anything).
		Return(account, nil).Once()
	h.accounts.On("Promote", mock.Anything, mock.Anything, account, mock.Anything).
		Return(nil, errors.New("promotion deadlock", errors.CategoryInternal)).Once()

	_, err := h.rec.Login(context.Background(), identity.ProviderAtproto, identity.ExternalIdentity{
		ExternalID: "did:plc:abc123",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "promotion deadlock")
	require.Len(t, h.sink.ofType(identity.ActivityEventLoginFailure), 1)

	h.sessions.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestLoginClaimsShadowAccount(t *testing.T) {
	h := newReconcilerHarness()
	account := reconciledAccount()
	shadow := &identity.Account{
		ID:     uuid.New(),
		UID:    identity.NewUID(),
		Status: identity.StatusShadow,
	}

	h.accounts.On("GetOrCreateFromExternal", mock.Anything, identity.ProviderAtproto, mock.Anything, mock.Anything).
		Return(account, nil).Once()
	h.shadows.On("Claim", mock.Anything, identity.ProviderAtproto, "did:plc:abc123", account).
		Return(shadow, nil).Once()
	h.ensurer.On("Ensure", mock.Anything, account, identity.ProviderAtproto, mock.Anything).Return(nil).Once()
	h.sessions.On("Create", mock.Anything, account, "main").Return(sessionResult(account), nil).Once()

	result, err := h.rec.Login(context.Background(), identity.ProviderAtproto, identity.ExternalIdentity{
		ExternalID: "did:plc:abc123",
	})
	require.NoError(t, err)
	require.NotNil(t, result.ClaimedFrom)
	assert.Equal(t, shadow.ID, *result.ClaimedFrom)

	claims := h.sink.ofType(identity.ActivityEventAccountClaimed)
	require.Len(t, claims, 1)
	assert.Equal(t, shadow.ID.String(), claims[0].AccountID)
	assert.Equal(t, account.UID, claims[0].Metadata["merged_into"])
	assert.Equal(t, "atproto", claims[0].Metadata["provider"])

	h.shadows.AssertExpectations(t)
	h.accounts.AssertNotCalled(t, "Promote", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestLoginClaimOutcomesNeverFailLogin(t *testing.T) {
	tests := []struct {
		name     string
		claimErr error
	}{
		{
			name: "conflict means someone else merged first",
			claimErr: errors.New("already claimed", errors.CategoryConflict).
				WithTextCode("SHADOW_ALREADY_CLAIMED"),
		},
		{
			name:     "unexpected claim failure",
			claimErr: errors.New("shadow lookup timeout", errors.CategoryInternal),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newReconcilerHarness()
			account := reconciledAccount()

			h.accounts.On("GetOrCreateFromExternal", mock.Anything, identity.ProviderAtproto, mock.Anything, mock.Anything).
				Return(account, nil).Once()
			h.shadows.On("Claim", mock.Anything, identity.ProviderAtproto, "did:plc:abc123", account).
				Return(nil, tt.claimErr).Once()
			h.ensurer.On("Ensure", mock.Anything, account, identity.ProviderAtproto, mock.Anything).Return(nil).Once()
			h.sessions.On("Create", mock.Anything, account, "main").Return(sessionResult(account), nil).Once()

			result, err := h.rec.Login(context.Background(), identity.ProviderAtproto, identity.ExternalIdentity{
				ExternalID: "did:plc:abc123",
			})
			require.NoError(t, err)
			assert.Nil(t, result.ClaimedFrom)
			assert.Empty(t, h.sink.ofType(identity.ActivityEventAccountClaimed))

			h.shadows.AssertExpectations(t)
			h.sessions.AssertExpectations(t)
		})
	}
}

func TestLoginSkipsShadowPathsForNonFederatedProviders(t *testing.T) {
	h := newReconcilerHarness()
	account := reconciledAccount()

	h.accounts.On("GetOrCreateFromExternal", mock.Anything, identity.ProviderEmail, mock.Anything, mock.Anything).
		Return(account, nil).Once()
	h.ensurer.On("Ensure", mock.Anything, account, identity.ProviderEmail, mock.Anything).Return(nil).Once()
	h.sessions.On("Create", mock.Anything, account, "main").Return(sessionResult(account), nil).Once()

	_, err := h.rec.Login(context.Background(), identity.ProviderEmail, identity.ExternalIdentity{
		Email: "ana@example.com",
	})
	require.NoError(t, err)

	h.shadows.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	h.accounts.AssertNotCalled(t, "Promote", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestLoginSurvivesLinkFailures(t *testing.T) {
	for _, linkErr := range []error{
		errors.New("directory unreachable", errors.CategoryOperation),
		errors.New("link table corrupt", errors.CategoryInternal),
	} {
		h := newReconcilerHarness()
		account := reconciledAccount()

		h.accounts.On("GetOrCreateFromExternal", mock.Anything, identity.ProviderAtproto, mock.Anything, mock.Anything).
			Return(account, nil).Once()
		h.shadows.On("Claim", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, nil).Once()
		h.ensurer.On("Ensure", mock.Anything, account, identity.ProviderAtproto, mock.Anything).
			Return(linkErr).Once()
		h.sessions.On("Create", mock.Anything, account, "main").Return(sessionResult(account), nil).Once()

		result, err := h.rec.Login(context.Background(), identity.ProviderAtproto, identity.ExternalIdentity{
			ExternalID: "did:plc:abc123",
		})
		require.NoError(t, err, "linking is best-effort; the login must survive %v", linkErr)
		require.NotNil(t, result)

		h.ensurer.AssertExpectations(t)
	}
}

func TestLoginSessionFailureFailsLogin(t *testing.T) {
	h := newReconcilerHarness()
	account := reconciledAccount()

	h.accounts.On("GetOrCreateFromExternal", mock.Anything, identity.ProviderGoogle, mock.Anything, mock.Anything).
		Return(account, nil).Once()
	h.ensurer.On("Ensure", mock.Anything, account, identity.ProviderGoogle, mock.Anything).Return(nil).Once()
	h.sessions.On("Create", mock.Anything, account, "main").
		Return(nil, errors.New("signing key unavailable", errors.CategoryInternal)).Once()

	_, err := h.rec.Login(context.Background(), identity.ProviderGoogle, identity.ExternalIdentity{
		Email: "ana@example.com",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "signing key unavailable")

	failures := h.sink.ofType(identity.ActivityEventLoginFailure)
	require.Len(t, failures, 1)
	assert.Equal(t, account.ID.String(), failures[0].AccountID)
	assert.Empty(t, h.sink.ofType(identity.ActivityEventLoginSuccess))
}

func TestPasswordLogin(t *testing.T) {
	password := "super-secret-password"
	hash, err := identity.HashPassword(password)
	require.NoError(t, err)

	t.Run("success runs the full reconciliation path", func(t *testing.T) {
		h := newReconcilerHarness()
		account := reconciledAccount()
		account.PasswordHash = hash

		h.accounts.On("GetByIdentifier", mock.Anything, "ana@example.com", mock.Anything).
			Return(account, nil).Once()
		h.accounts.On("GetOrCreateFromExternal", mock.Anything, identity.ProviderEmail,
			identity.ExternalIdentity{
				Email:         account.Email,
				Name:          account.Name,
				PreferredSlug: account.Slug,
			},
			identity.AccountDefaults{Role: identity.RoleMember}).
			Return(account, nil).Once()
		h.ensurer.On("Ensure", mock.Anything, account, identity.ProviderEmail, mock.Anything).Return(nil).Once()
		h.sessions.On("Create", mock.Anything, account, "main").Return(sessionResult(account), nil).Once()

		result, err := h.rec.PasswordLogin(context.Background(), "ana@example.com", password)
		require.NoError(t, err)
		require.NotNil(t, result)

		h.accounts.AssertExpectations(t)
		h.sessions.AssertExpectations(t)
	})

	t.Run("unknown identifier", func(t *testing.T) {
		h := newReconcilerHarness()

		h.accounts.On("GetByIdentifier", mock.Anything, "ghost@example.com", mock.Anything).
			Return(nil, repository.NewRecordNotFound()).Once()

		_, err := h.rec.PasswordLogin(context.Background(), "ghost@example.com", password)

		require.Error(t, err)
		assert.ErrorIs(t, err, identity.ErrInvalidCredentials)

		failures := h.sink.ofType(identity.ActivityEventLoginFailure)
		require.Len(t, failures, 1)
		assert.Equal(t, "ghost@example.com", failures[0].Metadata["identifier"])
	})

	t.Run("wrong password", func(t *testing.T) {
		h := newReconcilerHarness()
		account := reconciledAccount()
		account.PasswordHash = hash

		h.accounts.On("GetByIdentifier", mock.Anything, "ana@example.com", mock.Anything).
			Return(account, nil).Once()

		_, err := h.rec.PasswordLogin(context.Background(), "ana@example.com", "wrong-password")

		require.Error(t, err)
		assert.ErrorIs(t, err, identity.ErrInvalidCredentials)
		require.Len(t, h.sink.ofType(identity.ActivityEventLoginFailure), 1)

		h.sessions.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("repository failure passes through", func(t *testing.T) {
		h := newReconcilerHarness()
		boom := errors.New("connection reset", errors.CategoryOperation)

		h.accounts.On("GetByIdentifier", mock.Anything, "ana@example.com", mock.Anything).
			Return(nil, boom).Once()

		_, err := h.rec.PasswordLogin(context.Background(), "ana@example.com", password)

		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, identity.ErrInvalidCredentials)
	})
}

func TestSessionFor(t *testing.T) {
	t.Run("issues a session without reconciliation", func(t *testing.T) {
		h := newReconcilerHarness()
		account := reconciledAccount()
		result := sessionResult(account)

		h.sessions.On("Create", mock.Anything, account, "main").Return(result, nil).Once()

		got, err := h.rec.SessionFor(context.Background(), account, map[string]any{"method": "exchangeToken"})
		require.NoError(t, err)
		assert.Equal(t, result, got)

		successes := h.sink.ofType(identity.ActivityEventLoginSuccess)
		require.Len(t, successes, 1)
		assert.Equal(t, result.SessionID, successes[0].Metadata["session_id"])
		assert.Equal(t, "exchangeToken", successes[0].Metadata["method"])

		h.accounts.AssertNotCalled(t, "GetOrCreateFromExternal", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("nil account", func(t *testing.T) {
		h := newReconcilerHarness()

		_, err := h.rec.SessionFor(context.Background(), nil, nil)

		require.Error(t, err)
		assert.ErrorIs(t, err, identity.ErrAccountNotFound)
	})

	t.Run("session failure carries caller metadata", func(t *testing.T) {
		h := newReconcilerHarness()
		account := reconciledAccount()

		h.sessions.On("Create", mock.Anything, account, "main").
			Return(nil, errors.New("signer offline", errors.CategoryInternal)).Once()

		_, err := h.rec.SessionFor(context.Background(), account, map[string]any{"method": "exchangeToken"})

		require.Error(t, err)

		failures := h.sink.ofType(identity.ActivityEventLoginFailure)
		require.Len(t, failures, 1)
		assert.Equal(t, "exchangeToken", failures[0].Metadata["method"])
		assert.Contains(t, failures[0].Metadata["error"], "signer offline")
	})
}
