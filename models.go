package identity

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AccountRole is the account's role
type AccountRole string

const (
	// RoleGuest is a guest role (ie. view)
	RoleGuest AccountRole = "guest"
	// RoleMember is a member (i.e. view, edit)
	RoleMember AccountRole = "member"
	// RoleAdmin is an admin role (i.e. view, edit, create)
	RoleAdmin AccountRole = "admin"
	// RoleOwner is an owner role (i.e. view, edit, create, delete)
	RoleOwner AccountRole = "owner"
)

// AccountStatus tracks whether an account has a verified owner.
type AccountStatus string

const (
	// StatusShadow marks an account created on someone's behalf (anonymous
	// RSVP, import) before its owner ever signed in.
	StatusShadow AccountStatus = "shadow"
	// StatusActive marks an account with a verified owner.
	StatusActive AccountStatus = "active"
)

// IsValid checks the status is one of the predefined values.
func (s AccountStatus) IsValid() bool {
	switch s {
	case StatusShadow, StatusActive:
		return true
	default:
		return false
	}
}

// Provider identifies the authentication source of an external identity.
type Provider string

const (
	// ProviderEmail is the password flow.
	ProviderEmail Provider = "email"
	// ProviderGoogle is Google OAuth.
	ProviderGoogle Provider = "google"
	// ProviderGithub is GitHub OAuth.
	ProviderGithub Provider = "github"
	// ProviderAtproto is the decentralized federation protocol: the external
	// identifier is a DID and the identity lives on the user's own server.
	ProviderAtproto Provider = "atproto"
)

// IsValid checks the provider is one we can reconcile.
func (p Provider) IsValid() bool {
	switch p {
	case ProviderEmail, ProviderGoogle, ProviderGithub, ProviderAtproto:
		return true
	default:
		return false
	}
}

// IsFederated reports whether identities from this provider are owned by the
// user on an external server rather than provisioned by us.
func (p Provider) IsFederated() bool {
	return p == ProviderAtproto
}

// Account is the canonical per-tenant account. Every external identity a
// person logs in with resolves to exactly one of these.
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:acc"`
	ID            uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	// UID is the globally unique, immutable identifier. Federated identity
	// links key off UID, never off the row id or the mutable slug.
	UID          string         `bun:"uid,notnull,unique" json:"uid,omitempty"`
	Slug         string         `bun:"slug,notnull,unique" json:"slug,omitempty"`
	Name         string         `bun:"name" json:"name,omitempty"`
	Email        string         `bun:"email,nullzero" json:"email,omitempty"`
	Provider     Provider       `bun:"provider,notnull" json:"provider,omitempty"`
	ExternalID   string         `bun:"external_id" json:"external_id,omitempty"`
	PasswordHash string         `bun:"password_hash" json:"-"`
	Role         AccountRole    `bun:"role,notnull" json:"role,omitempty"`
	Status       AccountStatus  `bun:"status,notnull" json:"status,omitempty"`
	Metadata     map[string]any `bun:"metadata" json:"metadata,omitempty"`
	CreatedAt    *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt    *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt    *time.Time     `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// IsShadow reports whether the account still awaits its owner.
func (a *Account) IsShadow() bool {
	return a != nil && a.Status == StatusShadow
}

// EnsureStatus backfills the status for records that predate the column.
func (a *Account) EnsureStatus() {
	if a == nil {
		return
	}
	if a.Status == "" {
		a.Status = StatusActive
	}
}

// AddMetadata will append information to a metadata attribute
func (a *Account) AddMetadata(key string, val any) *Account {
	if a.Metadata == nil {
		a.Metadata = make(map[string]any)
	}
	a.Metadata[key] = val
	return a
}
