package atproto

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-identity"
	"github.com/goliatone/go-repository-bun"
)

// Linker guarantees every account ends up with its federated identity:
// externally owned identities are linked as they are, everyone else gets a
// custodial identity provisioned. It implements
// identity.FederatedIdentityEnsurer and reports failures a later login can
// heal as recoverable.
type Linker struct {
	config      Config
	repo        FederatedIdentityRepository
	directory   *Directory
	provisioner *Provisioner
	logger      identity.Logger
	sink        identity.ActivitySink
}

var _ identity.FederatedIdentityEnsurer = (*Linker)(nil)

// NewLinker wires the linker. A nil provisioner (or an unset identity
// server URL) disables custodial provisioning without disabling external
// linking.
func NewLinker(cfg Config, repo FederatedIdentityRepository, directory *Directory, provisioner *Provisioner) *Linker {
	return &Linker{
		config:      cfg.normalized(),
		repo:        repo,
		directory:   directory,
		provisioner: provisioner,
		logger:      identity.DefaultLogger(),
	}
}

func (l *Linker) WithLogger(logger identity.Logger) *Linker {
	if logger != nil {
		l.logger = logger
	}
	return l
}

// WithActivitySink emits identity.federated.linked events on new links.
func (l *Linker) WithActivitySink(sink identity.ActivitySink) *Linker {
	l.sink = sink
	return l
}

// Ensure links the account to its federated identity, creating one when the
// account has none. Calling it twice for the same account yields exactly
// one link.
func (l *Linker) Ensure(ctx context.Context, account *identity.Account, provider identity.Provider, ext identity.ExternalIdentity) error {
	if account == nil || account.UID == "" {
		return nil
	}

	existing, err := l.repo.FindByAccountUID(ctx, account.UID)
	if err != nil && !repository.IsRecordNotFound(err) {
		return errors.Wrap(err, errors.CategoryOperation, "federated identity lookup failed").
			WithMetadata(map[string]any{"account_uid": account.UID})
	}
	if existing != nil {
		return nil
	}

	if provider == identity.ProviderAtproto {
		did := strings.TrimSpace(ext.ExternalID)
		if did == "" {
			return nil
		}
		return l.linkExternal(ctx, account, did)
	}

	return l.provisionCustodial(ctx, account)
}

// linkExternal records a non-custodial link for an identity its owner
// controls elsewhere. Partial resolutions are never persisted.
func (l *Linker) linkExternal(ctx context.Context, account *identity.Account, did string) error {
	resolved, err := l.directory.Resolve(ctx, did)
	if err != nil {
		return err
	}

	if resolved.PDSURL == "" {
		return ErrMissingPDS.WithMetadata(map[string]any{"did": did})
	}

	record := &FederatedIdentity{
		AccountID:  account.ID.String(),
		AccountUID: account.UID,
		DID:        did,
		Handle:     resolved.Handle,
		PDSURL:     resolved.PDSURL,
	}

	return l.create(ctx, account, record)
}

// provisionCustodial creates a platform-held identity for accounts that
// arrived through passwords or OAuth.
func (l *Linker) provisionCustodial(ctx context.Context, account *identity.Account) error {
	if l.provisioner == nil || !l.config.CustodialEnabled() {
		// Not configured means the deployment opted out, not that linking
		// failed.
		return nil
	}

	record, err := l.provisioner.Provision(ctx, account)
	if err != nil {
		return err
	}

	return l.create(ctx, account, record)
}

func (l *Linker) create(ctx context.Context, account *identity.Account, record *FederatedIdentity) error {
	created, err := l.repo.Create(ctx, record)
	if err != nil {
		return errors.Wrap(err, errors.CategoryOperation, "failed to persist federated identity").
			WithMetadata(map[string]any{
				"account_uid": account.UID,
				"did":         record.DID,
			})
	}

	l.logger.Info("linked account %s to %s (custodial=%t)", account.UID, created.DID, created.IsCustodial)
	l.emitLinked(ctx, account, created)

	return nil
}

func (l *Linker) emitLinked(ctx context.Context, account *identity.Account, record *FederatedIdentity) {
	if l.sink == nil {
		return
	}

	err := l.sink.Record(ctx, identity.ActivityEvent{
		EventType: identity.ActivityEventFederatedLinked,
		Actor:     identity.ActorRef{ID: account.UID, Type: "account"},
		AccountID: account.ID.String(),
		Metadata: map[string]any{
			"did":       record.DID,
			"handle":    record.Handle,
			"custodial": record.IsCustodial,
		},
		OccurredAt: time.Now(),
	})
	if err != nil {
		l.logger.Warn("activity sink record error: %v", err)
	}
}
