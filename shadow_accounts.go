package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

const TextCodeShadowAlreadyClaimed = "identity_shadow_already_claimed"

// ErrShadowAlreadyClaimed is returned when a concurrent login claimed the
// shadow account first. Callers treat it as benign: the merge happened, just
// not in this request.
var ErrShadowAlreadyClaimed = errors.New("shadow account already claimed", errors.CategoryConflict).
	WithTextCode(TextCodeShadowAlreadyClaimed).
	WithCode(errors.CodeConflict)

// The claim is one statement: anything that raced us (a concurrent claim, a
// deletion) makes the WHERE clause miss and we fall through to the conflict
// path instead of double-merging.
var claimShadowAccountSQL = `UPDATE "accounts" AS "acc"
SET
	"deleted_at" = ?,
	"metadata" = ?
WHERE
	"acc"."deleted_at" IS NULL
AND "acc"."status" = ?
AND "acc"."id" = ?
RETURNING *;`

// ShadowServiceOption customizes the default shadow account service.
type ShadowServiceOption func(*shadowAccountService)

// WithShadowServiceLogger overrides the logger.
func WithShadowServiceLogger(logger Logger) ShadowServiceOption {
	return func(s *shadowAccountService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithShadowServiceClock injects a custom clock (useful for tests).
func WithShadowServiceClock(clock func() time.Time) ShadowServiceOption {
	return func(s *shadowAccountService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewShadowAccountService returns the default ShadowAccountService: it finds
// the shadow account holding the same external identity, records which
// account absorbed it, and soft deletes it in the same statement.
func NewShadowAccountService(db *bun.DB, accounts Accounts, opts ...ShadowServiceOption) ShadowAccountService {
	svc := &shadowAccountService{
		db:       db,
		accounts: accounts,
		logger:   defLogger{},
		now:      time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}

	return svc
}

type shadowAccountService struct {
	db       *bun.DB
	accounts Accounts
	logger   Logger
	now      func() time.Time
}

func (s *shadowAccountService) Claim(ctx context.Context, provider Provider, externalID string, into *Account) (*Account, error) {
	if into == nil || into.UID == "" {
		return nil, errors.New("claim target account is missing", errors.CategoryBadInput).
			WithCode(errors.CodeBadRequest)
	}

	if strings.TrimSpace(externalID) == "" {
		return nil, nil
	}

	shadow, err := s.findClaimable(ctx, provider, externalID, into)
	if err != nil {
		return nil, err
	}
	if shadow == nil {
		return nil, nil
	}

	now := s.now()
	metadata := map[string]any{}
	for k, v := range shadow.Metadata {
		metadata[k] = v
	}
	metadata["merged_into"] = into.UID
	metadata["merged_at"] = now.UTC().Format(time.RFC3339)

	encoded, err := json.Marshal(metadata)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to encode claim metadata")
	}

	res, err := s.accounts.RawTx(ctx, s.db, claimShadowAccountSQL,
		now,
		string(encoded),
		string(StatusShadow),
		shadow.ID.String(),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryOperation, "failed to claim shadow account").
			WithMetadata(map[string]any{
				"provider":    string(provider),
				"external_id": externalID,
				"shadow_id":   shadow.ID.String(),
			})
	}

	if len(res) == 0 {
		return nil, ErrShadowAlreadyClaimed.WithMetadata(map[string]any{
			"provider":    string(provider),
			"external_id": externalID,
			"shadow_id":   shadow.ID.String(),
		})
	}

	s.logger.Debug("claimed shadow account %s into %s", shadow.ID, into.UID)

	return res[0], nil
}

// findClaimable returns the shadow account holding the same external identity
// as the freshly authenticated account, excluding the account itself (that
// case is a promotion, not a claim).
func (s *shadowAccountService) findClaimable(ctx context.Context, provider Provider, externalID string, into *Account) (*Account, error) {
	record := &Account{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.provider = ?", string(provider)).
		Where("?TableAlias.external_id = ?", externalID).
		Where("?TableAlias.status = ?", string(StatusShadow)).
		Where("?TableAlias.id != ?", into.ID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) || err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return record, nil
}
