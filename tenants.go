package identity

import (
	"context"
	"strings"

	"github.com/goliatone/go-errors"
)

const TextCodeTenantNotFound = "identity_tenant_not_found"

// ErrTenantNotFound is returned when no reconciler is registered for a tenant.
var ErrTenantNotFound = errors.New("tenant not found", errors.CategoryNotFound).
	WithTextCode(TextCodeTenantNotFound).
	WithCode(errors.CodeNotFound)

// TenantConfig is everything reconciliation needs to know about a tenant,
// resolved once at startup. Handing this to NewReconciler replaces the old
// habit of digging tenant settings out of the request on every login.
type TenantConfig struct {
	ID          string
	Name        string
	DefaultRole AccountRole
}

func (c TenantConfig) normalized() TenantConfig {
	c.ID = strings.TrimSpace(c.ID)
	if c.DefaultRole == "" {
		c.DefaultRole = RoleMember
	}
	return c
}

// ReconcilerFactory assembles the reconciler for one tenant. Tenants own
// their storage, so the factory typically binds a tenant-specific database
// handle into the repository manager.
type ReconcilerFactory func(tenant TenantConfig) (*Reconciler, error)

// TenantRegistry maps tenant ids to their reconcilers. It is built once at
// startup and never mutated, so lookups are safe from any goroutine.
type TenantRegistry struct {
	reconcilers map[string]*Reconciler
	tenants     []TenantConfig
}

// NewTenantRegistry builds every tenant's reconciler up front. A factory
// error aborts construction: a tenant that cannot be assembled should fail
// deployment, not the first login that hits it.
func NewTenantRegistry(tenants []TenantConfig, build ReconcilerFactory) (*TenantRegistry, error) {
	if build == nil {
		return nil, errors.New("tenant registry requires a reconciler factory", errors.CategoryInternal)
	}

	registry := &TenantRegistry{
		reconcilers: make(map[string]*Reconciler, len(tenants)),
		tenants:     make([]TenantConfig, 0, len(tenants)),
	}

	for _, tenant := range tenants {
		tenant = tenant.normalized()
		if tenant.ID == "" {
			return nil, errors.New("tenant id must not be empty", errors.CategoryValidation).
				WithCode(errors.CodeBadRequest)
		}
		if _, exists := registry.reconcilers[tenant.ID]; exists {
			return nil, errors.New("duplicate tenant id", errors.CategoryValidation).
				WithCode(errors.CodeBadRequest).
				WithMetadata(map[string]any{"tenant": tenant.ID})
		}

		reconciler, err := build(tenant)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to build tenant reconciler").
				WithMetadata(map[string]any{"tenant": tenant.ID})
		}

		registry.reconcilers[tenant.ID] = reconciler
		registry.tenants = append(registry.tenants, tenant)
	}

	return registry, nil
}

// ForTenant returns the reconciler serving the given tenant.
func (r *TenantRegistry) ForTenant(id string) (*Reconciler, error) {
	reconciler, ok := r.reconcilers[strings.TrimSpace(id)]
	if !ok {
		return nil, ErrTenantNotFound.WithMetadata(map[string]any{"tenant": id})
	}
	return reconciler, nil
}

// Tenants lists the registered tenant configurations.
func (r *TenantRegistry) Tenants() []TenantConfig {
	out := make([]TenantConfig, len(r.tenants))
	copy(out, r.tenants)
	return out
}

// Reconcile resolves the tenant and runs a login through its reconciler.
func (r *TenantRegistry) Reconcile(ctx context.Context, tenantID string, provider Provider, ext ExternalIdentity) (*LoginResult, error) {
	reconciler, err := r.ForTenant(tenantID)
	if err != nil {
		return nil, err
	}
	return reconciler.Login(ctx, provider, ext)
}
