package identity

import (
	"context"
	"database/sql"
	"fmt"
	"net/mail"
	"strings"

	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AccountDefaults carries tenant-resolved values applied to newly created
// accounts. It is built once per tenant, never inside a request.
type AccountDefaults struct {
	Role AccountRole
}

type Accounts interface {
	repository.Repository[*Account]

	GetByExternalID(ctx context.Context, provider Provider, externalID string) (*Account, error)
	GetByExternalIDTx(ctx context.Context, tx bun.IDB, provider Provider, externalID string) (*Account, error)
	GetByUID(ctx context.Context, uid string) (*Account, error)
	GetByUIDTx(ctx context.Context, tx bun.IDB, uid string) (*Account, error)

	GetOrCreateFromExternal(ctx context.Context, provider Provider, ext ExternalIdentity, defaults AccountDefaults) (*Account, error)
	GetOrCreateFromExternalTx(ctx context.Context, tx bun.IDB, provider Provider, ext ExternalIdentity, defaults AccountDefaults) (*Account, error)
	CreateShadow(ctx context.Context, provider Provider, ext ExternalIdentity) (*Account, error)
	CreateShadowTx(ctx context.Context, tx bun.IDB, provider Provider, ext ExternalIdentity) (*Account, error)
	Create(ctx context.Context, record *Account, criteria ...repository.InsertCriteria) (*Account, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *Account, criteria ...repository.InsertCriteria) (*Account, error)

	UpdateStatus(ctx context.Context, id uuid.UUID, status AccountStatus, opts ...StatusUpdateOption) (*Account, error)
	UpdateStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status AccountStatus, opts ...StatusUpdateOption) (*Account, error)
	Promote(ctx context.Context, actor ActorRef, account *Account, opts ...TransitionOption) (*Account, error)
}

type accounts struct {
	repository.Repository[*Account]
	db                  *bun.DB
	stateMachine        AccountStateMachine
	stateMachineOptions []StateMachineOption
}

var (
	_ Accounts                        = (*accounts)(nil)
	_ repository.Repository[*Account] = (*accounts)(nil)
)

type AccountsOption func(*accounts)

func NewAccountsRepository(db *bun.DB, opts ...AccountsOption) Accounts {
	repo := repository.NewRepository[*Account](db, repository.ModelHandlers[*Account]{
		NewRecord: func() *Account { return &Account{} },
		GetID: func(a *Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
	})

	repoAccounts := &accounts{
		Repository: repo,
		db:         db,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repoAccounts)
		}
	}

	return repoAccounts
}

func WithAccountsStateMachineOptions(options ...StateMachineOption) AccountsOption {
	return func(a *accounts) {
		if len(options) == 0 {
			return
		}
		a.stateMachineOptions = append(a.stateMachineOptions, options...)
		a.stateMachine = nil
	}
}

func WithAccountsStateMachine(sm AccountStateMachine) AccountsOption {
	return func(a *accounts) {
		a.stateMachine = sm
	}
}

func (a *accounts) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*Account, error) {
	return a.GetByIdentifierTx(ctx, a.db, identifier, criteria...)
}

func (a *accounts) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (*Account, error) {
	options := resolveAccountIdentifier(identifier)
	if len(options) == 0 {
		options = []identifierOption{
			{
				column: "id",
				value:  strings.TrimSpace(identifier),
			},
		}
	}

	for _, opt := range options {
		record := &Account{}
		q := tx.NewSelect().Model(record)

		for _, c := range criteria {
			q.Apply(c)
		}

		err := q.
			Where(fmt.Sprintf("?TableAlias.%s = ?", opt.column), opt.value).
			Limit(1).
			Scan(ctx)

		if err != nil {
			if repository.IsRecordNotFound(err) || err == sql.ErrNoRows {
				continue
			}
			return nil, err
		}

		return record, nil
	}

	return nil, repository.NewRecordNotFound().
		WithMetadata(map[string]any{
			"identifier": identifier,
		})
}

func (a *accounts) GetByExternalID(ctx context.Context, provider Provider, externalID string) (*Account, error) {
	return a.GetByExternalIDTx(ctx, a.db, provider, externalID)
}

func (a *accounts) GetByExternalIDTx(ctx context.Context, tx bun.IDB, provider Provider, externalID string) (*Account, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"provider": string(provider),
				"reason":   "empty external id",
			})
	}

	record := &Account{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.provider = ?", string(provider)).
		Where("?TableAlias.external_id = ?", externalID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) || err == sql.ErrNoRows {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"provider":    string(provider),
					"external_id": externalID,
				})
		}
		return nil, err
	}

	return record, nil
}

func (a *accounts) GetByUID(ctx context.Context, uid string) (*Account, error) {
	return a.GetByUIDTx(ctx, a.db, uid)
}

func (a *accounts) GetByUIDTx(ctx context.Context, tx bun.IDB, uid string) (*Account, error) {
	record := &Account{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.uid = ?", uid).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) || err == sql.ErrNoRows {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"uid": uid})
		}
		return nil, err
	}

	return record, nil
}

func (a *accounts) Create(ctx context.Context, record *Account, criteria ...repository.InsertCriteria) (*Account, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *accounts) CreateTx(ctx context.Context, tx bun.IDB, record *Account, criteria ...repository.InsertCriteria) (*Account, error) {
	prepareAccountDefaults(record)
	return a.Repository.CreateTx(ctx, tx, record, criteria...)
}

// GetOrCreateFromExternal resolves a provider-verified identity to the
// canonical account: match on (provider, external id) first, then on email
// so an OAuth login lands on the account that signed up with a password.
// Misses create an active account with the tenant defaults.
func (a *accounts) GetOrCreateFromExternal(ctx context.Context, provider Provider, ext ExternalIdentity, defaults AccountDefaults) (*Account, error) {
	return a.GetOrCreateFromExternalTx(ctx, a.db, provider, ext, defaults)
}

func (a *accounts) GetOrCreateFromExternalTx(ctx context.Context, tx bun.IDB, provider Provider, ext ExternalIdentity, defaults AccountDefaults) (*Account, error) {
	if ext.ExternalID != "" {
		account, err := a.GetByExternalIDTx(ctx, tx, provider, ext.ExternalID)
		if err == nil {
			return account, nil
		}
		if !repository.IsRecordNotFound(err) && err != sql.ErrNoRows {
			return nil, err
		}
	}

	if ext.Email != "" {
		record := &Account{}
		err := tx.NewSelect().
			Model(record).
			Where("?TableAlias.email = ?", ext.Email).
			Limit(1).
			Scan(ctx)
		if err == nil {
			return record, nil
		}
		if !repository.IsRecordNotFound(err) && err != sql.ErrNoRows {
			return nil, err
		}
	}

	record := newAccountFromExternal(provider, ext, defaults)

	created, err := a.CreateTx(ctx, tx, record)
	if err == nil {
		return created, nil
	}

	// A concurrent request may have created the same identity; the
	// deterministic id turns that race into a key conflict we can resolve
	// by re-reading.
	if ext.ExternalID != "" {
		if account, lookupErr := a.GetByExternalIDTx(ctx, tx, provider, ext.ExternalID); lookupErr == nil {
			return account, nil
		}
	}

	return nil, err
}

// CreateShadow creates a placeholder account for someone who has not signed
// in yet. Shadow accounts carry no role; promotion assigns one.
func (a *accounts) CreateShadow(ctx context.Context, provider Provider, ext ExternalIdentity) (*Account, error) {
	return a.CreateShadowTx(ctx, a.db, provider, ext)
}

func (a *accounts) CreateShadowTx(ctx context.Context, tx bun.IDB, provider Provider, ext ExternalIdentity) (*Account, error) {
	if err := ext.Validate(); err != nil {
		return nil, err
	}

	record := newAccountFromExternal(provider, ext, AccountDefaults{})
	record.Status = StatusShadow
	record.Role = ""

	return a.CreateTx(ctx, tx, record)
}

func (a *accounts) UpdateStatus(ctx context.Context, id uuid.UUID, status AccountStatus, opts ...StatusUpdateOption) (*Account, error) {
	return a.UpdateStatusTx(ctx, a.db, id, status, opts...)
}

func (a *accounts) UpdateStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status AccountStatus, opts ...StatusUpdateOption) (*Account, error) {
	record := &Account{
		ID:     id,
		Status: status,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(record)
		}
	}

	return a.Repository.UpdateTx(ctx, tx, record, repository.UpdateByID(id.String()))
}

func (a *accounts) Promote(ctx context.Context, actor ActorRef, account *Account, opts ...TransitionOption) (*Account, error) {
	return a.lifecycleMachine().Promote(ctx, actor, account, opts...)
}

// StatusUpdateOption allows callers to mutate the account record before persisting status changes.
type StatusUpdateOption func(*Account)

// WithStatusRole folds a role assignment into the status update.
func WithStatusRole(role AccountRole) StatusUpdateOption {
	return func(a *Account) {
		a.Role = role
	}
}

func newAccountFromExternal(provider Provider, ext ExternalIdentity, defaults AccountDefaults) *Account {
	record := &Account{
		Provider:   provider,
		ExternalID: strings.TrimSpace(ext.ExternalID),
		Email:      strings.TrimSpace(ext.Email),
		Name:       strings.TrimSpace(ext.Name),
		Role:       defaults.Role,
		Status:     StatusActive,
	}

	if len(ext.Metadata) > 0 {
		record.Metadata = make(map[string]any, len(ext.Metadata))
		for k, v := range ext.Metadata {
			record.Metadata[k] = v
		}
	}

	// Identical (provider, external id) pairs always map to the same row id,
	// so duplicate creates collide instead of forking the account.
	if record.ExternalID != "" {
		if id, err := hashid.NewUUID(string(provider) + ":" + record.ExternalID); err == nil {
			record.ID = id
		}
	}

	record.Slug = NewSlug(ext.PreferredSlug, record.Name, emailLocalPart(record.Email))

	return record
}

func prepareAccountDefaults(record *Account) {
	if record == nil {
		return
	}

	record.EnsureStatus()

	if record.Role == "" && record.Status != StatusShadow {
		record.Role = RoleGuest
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	if record.UID == "" {
		record.UID = NewUID()
	}

	if record.Slug == "" {
		record.Slug = NewSlug(record.Name, emailLocalPart(record.Email), record.UID)
	}
}

type identifierOption struct {
	column string
	value  string
}

func resolveAccountIdentifier(identifier string) []identifierOption {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return nil
	}

	options := make([]identifierOption, 0, 4)

	if isUUID(trimmed) {
		options = append(options, identifierOption{
			column: "id",
			value:  trimmed,
		})
	}

	if isEmail(trimmed) {
		options = append(options, identifierOption{
			column: "email",
			value:  trimmed,
		})
	}

	if IsUID(trimmed) {
		options = append(options, identifierOption{
			column: "uid",
			value:  trimmed,
		})
	}

	options = append(options, identifierOption{
		column: "slug",
		value:  trimmed,
	})

	return options
}

func isEmail(email string) bool {
	_, err := mail.ParseAddress(email)
	return err == nil
}

func isUUID(identifier string) bool {
	_, err := uuid.Parse(identifier)
	return err == nil
}

func (a *accounts) lifecycleMachine() AccountStateMachine {
	if a.stateMachine == nil {
		a.stateMachine = NewAccountStateMachine(a, a.stateMachineOptions...)
	}
	return a.stateMachine
}
