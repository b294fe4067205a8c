package identity_test

import (
	"context"
	"database/sql"

	"github.com/goliatone/go-identity"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/uptrace/bun"
)

// MockAccounts implements identity.Accounts for the methods the engine
// exercises. The embedded interface satisfies the rest; calling an
// unexpected method panics, which is exactly what we want in tests.
type MockAccounts struct {
	mock.Mock
	identity.Accounts
}

func (m *MockAccounts) GetByUID(ctx context.Context, uid string) (*identity.Account, error) {
	args := m.Called(ctx, uid)
	var account *identity.Account
	if v := args.Get(0); v != nil {
		account = v.(*identity.Account)
	}
	return account, args.Error(1)
}

func (m *MockAccounts) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*identity.Account, error) {
	args := m.Called(ctx, identifier, criteria)
	var account *identity.Account
	if v := args.Get(0); v != nil {
		account = v.(*identity.Account)
	}
	return account, args.Error(1)
}

func (m *MockAccounts) GetOrCreateFromExternal(ctx context.Context, provider identity.Provider, ext identity.ExternalIdentity, defaults identity.AccountDefaults) (*identity.Account, error) {
	args := m.Called(ctx, provider, ext, defaults)
	var account *identity.Account
	if v := args.Get(0); v != nil {
		account = v.(*identity.Account)
	}
	return account, args.Error(1)
}

func (m *MockAccounts) CreateShadow(ctx context.Context, provider identity.Provider, ext identity.ExternalIdentity) (*identity.Account, error) {
	args := m.Called(ctx, provider, ext)
	var account *identity.Account
	if v := args.Get(0); v != nil {
		account = v.(*identity.Account)
	}
	return account, args.Error(1)
}

func (m *MockAccounts) UpdateStatus(ctx context.Context, id uuid.UUID, status identity.AccountStatus, opts ...identity.StatusUpdateOption) (*identity.Account, error) {
	args := m.Called(ctx, id, status, opts)
	var account *identity.Account
	if v := args.Get(0); v != nil {
		account = v.(*identity.Account)
	}
	return account, args.Error(1)
}

func (m *MockAccounts) Promote(ctx context.Context, actor identity.ActorRef, account *identity.Account, opts ...identity.TransitionOption) (*identity.Account, error) {
	args := m.Called(ctx, actor, account, opts)
	var promoted *identity.Account
	if v := args.Get(0); v != nil {
		promoted = v.(*identity.Account)
	}
	return promoted, args.Error(1)
}

// MockRepositoryManager implements identity.RepositoryManager
type MockRepositoryManager struct {
	mock.Mock
	identity.RepositoryManager
}

func (m *MockRepositoryManager) Accounts() identity.Accounts {
	args := m.Called()
	if v := args.Get(0); v != nil {
		return v.(identity.Accounts)
	}
	return nil
}

func (m *MockRepositoryManager) Validate() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockRepositoryManager) RunInTx(ctx context.Context, opts *sql.TxOptions, fn func(ctx context.Context, tx bun.Tx) error) error {
	args := m.Called(ctx, opts, fn)
	return args.Error(0)
}

// MockSessionService implements identity.SessionService
type MockSessionService struct {
	mock.Mock
}

func (m *MockSessionService) Create(ctx context.Context, account *identity.Account, tenant string) (*identity.LoginResult, error) {
	args := m.Called(ctx, account, tenant)
	var result *identity.LoginResult
	if v := args.Get(0); v != nil {
		result = v.(*identity.LoginResult)
	}
	return result, args.Error(1)
}

// MockShadowService implements identity.ShadowAccountService
type MockShadowService struct {
	mock.Mock
}

func (m *MockShadowService) Claim(ctx context.Context, provider identity.Provider, externalID string, into *identity.Account) (*identity.Account, error) {
	args := m.Called(ctx, provider, externalID, into)
	var claimed *identity.Account
	if v := args.Get(0); v != nil {
		claimed = v.(*identity.Account)
	}
	return claimed, args.Error(1)
}

// MockEnsurer implements identity.FederatedIdentityEnsurer
type MockEnsurer struct {
	mock.Mock
}

func (m *MockEnsurer) Ensure(ctx context.Context, account *identity.Account, provider identity.Provider, ext identity.ExternalIdentity) error {
	args := m.Called(ctx, account, provider, ext)
	return args.Error(0)
}

// MockActivitySink implements identity.ActivitySink
type MockActivitySink struct {
	mock.Mock
}

func (m *MockActivitySink) Record(ctx context.Context, event identity.ActivityEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// capturingSink collects every event for order-sensitive assertions.
type capturingSink struct {
	events []identity.ActivityEvent
}

func (c *capturingSink) Record(_ context.Context, event identity.ActivityEvent) error {
	c.events = append(c.events, event)
	return nil
}

func (c *capturingSink) ofType(eventType identity.ActivityEventType) []identity.ActivityEvent {
	var matched []identity.ActivityEvent
	for _, evt := range c.events {
		if evt.EventType == eventType {
			matched = append(matched, evt)
		}
	}
	return matched
}
