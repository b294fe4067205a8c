package atproto

import (
	"context"
	"time"
)

// FederatedIdentity is an account's link to its AT Protocol identity. An
// account has at most one; custodial identities additionally carry an
// encrypted signing credential the platform holds on the owner's behalf.
type FederatedIdentity struct {
	ID string `json:"id"`

	// AccountID is the owning account's stable internal id; AccountUID is
	// the immutable key the engine links on.
	AccountID  string `json:"account_id"`
	AccountUID string `json:"account_uid"`

	DID                 string         `json:"did"`
	Handle              string         `json:"handle,omitempty"`
	PDSURL              string         `json:"pds_url,omitempty"`
	EncryptedCredential string         `json:"-"`
	IsCustodial         bool           `json:"is_custodial"`
	Metadata            map[string]any `json:"metadata,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// FederatedIdentityRepository manages federated identity persistence.
type FederatedIdentityRepository interface {
	FindByAccountUID(ctx context.Context, accountUID string) (*FederatedIdentity, error)
	FindByDID(ctx context.Context, did string) (*FederatedIdentity, error)
	Create(ctx context.Context, record *FederatedIdentity) (*FederatedIdentity, error)
	Delete(ctx context.Context, id string) error
}
