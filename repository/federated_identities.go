package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/goliatone/go-identity/atproto"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// FederatedIdentityModel is the Bun model for federated identity links.
type FederatedIdentityModel struct {
	bun.BaseModel `bun:"table:federated_identities"`

	ID                  uuid.UUID      `bun:"id,pk,nullzero,type:uuid"`
	AccountID           uuid.UUID      `bun:"account_id,notnull,type:uuid"`
	AccountUID          string         `bun:"account_uid,notnull"`
	DID                 string         `bun:"did,notnull"`
	Handle              string         `bun:"handle"`
	PDSURL              string         `bun:"pds_url"`
	EncryptedCredential string         `bun:"encrypted_credential"`
	IsCustodial         bool           `bun:"is_custodial"`
	Metadata            map[string]any `bun:"metadata,type:jsonb"`
	CreatedAt           time.Time      `bun:"created_at,default:current_timestamp"`
	UpdatedAt           time.Time      `bun:"updated_at,default:current_timestamp"`
}

// FederatedIdentityRepository implements atproto.FederatedIdentityRepository
// using Bun.
type FederatedIdentityRepository struct {
	db *bun.DB
}

// NewFederatedIdentityRepository creates a new repository.
func NewFederatedIdentityRepository(db *bun.DB) *FederatedIdentityRepository {
	return &FederatedIdentityRepository{db: db}
}

// FindByAccountUID implements atproto.FederatedIdentityRepository.
func (r *FederatedIdentityRepository) FindByAccountUID(ctx context.Context, accountUID string) (*atproto.FederatedIdentity, error) {
	var model FederatedIdentityModel
	err := r.db.NewSelect().
		Model(&model).
		Where("account_uid = ?", accountUID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) || err == sql.ErrNoRows {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"account_uid": accountUID})
		}
		return nil, err
	}
	return r.toFederatedIdentity(&model), nil
}

// FindByDID implements atproto.FederatedIdentityRepository.
func (r *FederatedIdentityRepository) FindByDID(ctx context.Context, did string) (*atproto.FederatedIdentity, error) {
	var model FederatedIdentityModel
	err := r.db.NewSelect().
		Model(&model).
		Where("did = ?", did).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) || err == sql.ErrNoRows {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"did": did})
		}
		return nil, err
	}
	return r.toFederatedIdentity(&model), nil
}

// Create implements atproto.FederatedIdentityRepository. The unique
// constraints on account and DID turn duplicate links into errors instead of
// extra rows.
func (r *FederatedIdentityRepository) Create(ctx context.Context, record *atproto.FederatedIdentity) (*atproto.FederatedIdentity, error) {
	model := r.fromFederatedIdentity(record)

	if _, err := r.db.NewInsert().Model(model).Exec(ctx); err != nil {
		return nil, err
	}

	return r.toFederatedIdentity(model), nil
}

// Delete implements atproto.FederatedIdentityRepository.
func (r *FederatedIdentityRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.NewDelete().
		Model((*FederatedIdentityModel)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func (r *FederatedIdentityRepository) toFederatedIdentity(m *FederatedIdentityModel) *atproto.FederatedIdentity {
	return &atproto.FederatedIdentity{
		ID:                  m.ID.String(),
		AccountID:           m.AccountID.String(),
		AccountUID:          m.AccountUID,
		DID:                 m.DID,
		Handle:              m.Handle,
		PDSURL:              m.PDSURL,
		EncryptedCredential: m.EncryptedCredential,
		IsCustodial:         m.IsCustodial,
		Metadata:            m.Metadata,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

func (r *FederatedIdentityRepository) fromFederatedIdentity(a *atproto.FederatedIdentity) *FederatedIdentityModel {
	if a == nil {
		return &FederatedIdentityModel{ID: uuid.New()}
	}

	var id uuid.UUID
	if a.ID != "" {
		if parsed, err := uuid.Parse(a.ID); err == nil {
			id = parsed
		}
	}
	if id == uuid.Nil {
		id = uuid.New()
	}

	var accountID uuid.UUID
	if a.AccountID != "" {
		if parsed, err := uuid.Parse(a.AccountID); err == nil {
			accountID = parsed
		}
	}

	now := time.Now()
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := a.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	return &FederatedIdentityModel{
		ID:                  id,
		AccountID:           accountID,
		AccountUID:          a.AccountUID,
		DID:                 a.DID,
		Handle:              a.Handle,
		PDSURL:              a.PDSURL,
		EncryptedCredential: a.EncryptedCredential,
		IsCustodial:         a.IsCustodial,
		Metadata:            a.Metadata,
		CreatedAt:           createdAt,
		UpdatedAt:           updatedAt,
	}
}
