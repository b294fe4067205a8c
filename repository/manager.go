package repository

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/atproto"
	"github.com/uptrace/bun"
)

// Manager bundles every store the identity engine and the federation
// subsystem share one database handle for.
type Manager interface {
	identity.RepositoryManager
	FederatedIdentities() atproto.FederatedIdentityRepository
}

type mngr struct {
	db       *bun.DB
	accounts identity.RepositoryManager
	links    *FederatedIdentityRepository
}

// NewManager creates the combined repository manager.
func NewManager(db *bun.DB) Manager {
	return &mngr{
		db:       db,
		accounts: identity.NewRepositoryManager(db),
		links:    NewFederatedIdentityRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.accounts == nil {
		return errors.New("repository accounts should be initialized")
	}

	if m.links == nil {
		return errors.New("repository federated identities should be initialized")
	}

	return m.accounts.Validate()
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Accounts() identity.Accounts {
	return m.accounts.Accounts()
}

func (m mngr) FederatedIdentities() atproto.FederatedIdentityRepository {
	return m.links
}
