package identity_test

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFederatedLoginLifecycleIntegration drives the whole engine against a
// real database: an imported shadow account gets promoted when its owner
// signs in, the session tokens round-trip, and the activity stream tells the
// story in order.
func TestFederatedLoginLifecycleIntegration(t *testing.T) {
	_, db, cleanup := setupAccountsRepo(t)
	defer cleanup()

	ctx := context.Background()
	sink := &capturingSink{}

	manager := identity.NewRepositoryManager(db,
		identity.WithAccountsStateMachineOptions(identity.WithStateMachineActivitySink(sink)),
	)
	require.NoError(t, manager.Validate())

	tokens := identity.NewTokenService([]byte("integration-signing-key-32-byte!"),
		identity.WithTokenIssuer("identity-engine"),
	)
	sessions := identity.NewSessionService(tokens)
	shadows := identity.NewShadowAccountService(db, manager.Accounts())

	reconciler := identity.NewReconciler(identity.TenantConfig{
		ID:          "main",
		DefaultRole: identity.RoleMember,
	}, manager, sessions).
		WithActivitySink(sink).
		WithShadowAccountService(shadows)

	// an organizer imported Ana before she ever signed in
	shadow, err := manager.Accounts().CreateShadow(ctx, identity.ProviderAtproto, identity.ExternalIdentity{
		ExternalID:    "did:plc:ana123",
		Name:          "Ana",
		PreferredSlug: "ana.example.me",
	})
	require.NoError(t, err)
	require.True(t, shadow.IsShadow())
	require.Equal(t, identity.AccountRole(""), shadow.Role)

	// Ana proves control of the DID for the first time
	result, err := reconciler.Login(ctx, identity.ProviderAtproto, identity.ExternalIdentity{
		ExternalID:    "did:plc:ana123",
		Name:          "Ana",
		PreferredSlug: "ana.example.me",
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.NotEmpty(t, result.AccessToken)
	assert.NotEmpty(t, result.RefreshToken)
	assert.Nil(t, result.ClaimedFrom)

	// the shadow account is now hers
	account, err := manager.Accounts().GetByUID(ctx, shadow.UID)
	require.NoError(t, err)
	assert.Equal(t, identity.StatusActive, account.Status)
	assert.Equal(t, identity.RoleMember, account.Role, "promotion assigns the tenant default role")
	assert.Equal(t, shadow.ID, account.ID, "promotion keeps the row, only the status moves")

	// the access token carries her identity
	claims, err := tokens.Validate(result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, shadow.UID, claims.AccountUID)
	assert.Equal(t, identity.RoleMember, claims.Role)
	assert.Equal(t, "main", claims.Tenant)
	assert.Equal(t, result.SessionID, claims.SessionID)

	// the refresh token is bound to the same session
	refreshClaims, err := tokens.ValidateRefresh(result.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, claims.SessionID, refreshClaims.SessionID)
	assert.NotEmpty(t, refreshClaims.Hash)

	// the activity stream recorded promotion before the login success
	promotions := sink.ofType(identity.ActivityEventAccountPromoted)
	require.Len(t, promotions, 1)
	assert.Equal(t, shadow.ID.String(), promotions[0].AccountID)
	assert.Equal(t, identity.StatusShadow, promotions[0].FromStatus)
	assert.Equal(t, identity.StatusActive, promotions[0].ToStatus)

	successes := sink.ofType(identity.ActivityEventLoginSuccess)
	require.Len(t, successes, 1)
	assert.Equal(t, result.SessionID, successes[0].Metadata["session_id"])

	// replaying the login is safe: same account, fresh session
	replay, err := reconciler.Login(ctx, identity.ProviderAtproto, identity.ExternalIdentity{
		ExternalID: "did:plc:ana123",
		Name:       "Ana",
	})
	require.NoError(t, err)
	assert.NotEqual(t, result.SessionID, replay.SessionID)
	require.Len(t, sink.ofType(identity.ActivityEventAccountPromoted), 1, "promotion happens exactly once")
}

func TestPasswordLoginIntegration(t *testing.T) {
	_, db, cleanup := setupAccountsRepo(t)
	defer cleanup()

	ctx := context.Background()
	sink := &capturingSink{}

	manager := identity.NewRepositoryManager(db)
	tokens := identity.NewTokenService([]byte("integration-signing-key-32-byte!"))
	sessions := identity.NewSessionService(tokens)

	reconciler := identity.NewReconciler(identity.TenantConfig{ID: "main"}, manager, sessions).
		WithActivitySink(sink)

	hash, err := identity.HashPassword("correct horse battery staple")
	require.NoError(t, err)

	created, err := manager.Accounts().Create(ctx, &identity.Account{
		Name:         "Ana",
		Email:        "ana@example.com",
		Slug:         "ana",
		Provider:     identity.ProviderEmail,
		PasswordHash: hash,
		Role:         identity.RoleMember,
	})
	require.NoError(t, err)

	result, err := reconciler.PasswordLogin(ctx, "ana@example.com", "correct horse battery staple")
	require.NoError(t, err)

	claims, err := tokens.Validate(result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, created.UID, claims.AccountUID)
	assert.Equal(t, "ana", claims.Slug)

	t.Run("wrong password leaves a failure event", func(t *testing.T) {
		_, err := reconciler.PasswordLogin(ctx, "ana@example.com", "wrong")
		require.Error(t, err)
		assert.ErrorIs(t, err, identity.ErrInvalidCredentials)
		assert.NotEmpty(t, sink.ofType(identity.ActivityEventLoginFailure))
	})

	t.Run("slug works as the identifier", func(t *testing.T) {
		result, err := reconciler.PasswordLogin(ctx, "ana", "correct horse battery staple")
		require.NoError(t, err)
		assert.NotEmpty(t, result.AccessToken)
	})
}

func TestShadowClaimIntegration(t *testing.T) {
	repo, db, cleanup := setupAccountsRepo(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	shadows := identity.NewShadowAccountService(db, repo,
		identity.WithShadowServiceClock(func() time.Time { return now }),
	)

	ghost, err := repo.CreateShadow(ctx, identity.ProviderAtproto, identity.ExternalIdentity{
		ExternalID: "did:plc:ghost9",
		Name:       "Ghost",
	})
	require.NoError(t, err)

	owner, err := repo.GetOrCreateFromExternal(ctx, identity.ProviderAtproto, identity.ExternalIdentity{
		ExternalID: "did:plc:owner9",
		Name:       "Ana",
	}, identity.AccountDefaults{Role: identity.RoleMember})
	require.NoError(t, err)

	claimed, err := shadows.Claim(ctx, identity.ProviderAtproto, "did:plc:ghost9", owner)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, ghost.ID, claimed.ID)
	assert.Equal(t, owner.UID, claimed.Metadata["merged_into"])

	// the merge is visible to anyone who re-reads the shadow row
	_, err = repo.GetByUID(ctx, ghost.UID)
	require.Error(t, err, "claimed shadows disappear from normal reads")
}
