package atproto

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-identity"
)

const maxProvisionAttempts = 5

// provisionOutcome classifies a createAccount failure.
type provisionOutcome int

const (
	// provisionRetry: the handle got taken between probe and create. Try
	// again with a regenerated handle.
	provisionRetry provisionOutcome = iota
	// provisionTerminal: no retry can fix it now, but a later login can.
	provisionTerminal
	// provisionFatal: a bug or a hard server failure.
	provisionFatal
)

// Provisioner creates custodial identities on the managed identity server:
// a generated handle, a random credential the owner never sees, and a DID
// minted by the server.
type Provisioner struct {
	config  Config
	client  *Client
	handles *HandleGenerator
	cipher  CredentialCipher
	logger  identity.Logger
}

// NewProvisioner wires the provisioner against the configured identity
// server.
func NewProvisioner(cfg Config, client *Client, credCipher CredentialCipher) *Provisioner {
	cfg = cfg.normalized()
	return &Provisioner{
		config:  cfg,
		client:  client,
		handles: NewHandleGenerator(cfg, client),
		cipher:  credCipher,
		logger:  identity.DefaultLogger(),
	}
}

func (p *Provisioner) WithLogger(logger identity.Logger) *Provisioner {
	if logger != nil {
		p.logger = logger
	}
	return p
}

// Provision creates the identity-server account and returns the unsaved
// link material. Handle races are absorbed by regenerating and retrying;
// everything else stops the attempt.
func (p *Provisioner) Provision(ctx context.Context, account *identity.Account) (*FederatedIdentity, error) {
	base := strings.TrimSpace(account.Slug)
	if base == "" {
		return nil, ErrMissingSlug.WithMetadata(map[string]any{"account_id": account.ID.String()})
	}

	credential, err := newCredential()
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate credential").
			WithTextCode(TextCodeProvisionFailed)
	}

	var created *CreateAccountResponse
	var handle string

	attempt := func(int) error {
		candidate, err := p.handles.GenerateUniqueHandle(ctx, base)
		if err != nil {
			return err
		}

		resp, err := p.client.CreateAccount(ctx, CreateAccountRequest{
			Handle:   candidate,
			Email:    account.Email,
			Password: credential,
		})
		if err != nil {
			return err
		}

		handle = candidate
		created = resp
		return nil
	}

	retryable := func(err error) bool {
		if classifyProvisionError(err) != provisionRetry {
			return false
		}
		// The availability probe lied: someone registered the handle in
		// between. The regenerated handle will skip past it.
		p.logger.Debug("handle taken at createAccount, regenerating: %v", err)
		return true
	}

	if err := retryBounded(maxProvisionAttempts, attempt, retryable); err != nil {
		return nil, p.provisionError(account, err)
	}

	if created.Handle != "" {
		handle = created.Handle
	}

	encrypted, err := p.cipher.Encrypt(credential)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encrypt credential").
			WithTextCode(TextCodeProvisionFailed)
	}

	p.logger.Info("provisioned custodial identity %s (%s) for account %s", created.DID, handle, account.UID)

	return &FederatedIdentity{
		AccountID:           account.ID.String(),
		AccountUID:          account.UID,
		DID:                 created.DID,
		Handle:              handle,
		PDSURL:              p.config.IdentityServerURL,
		EncryptedCredential: encrypted,
		IsCustodial:         true,
	}, nil
}

// provisionError translates a final failure into the package taxonomy.
// Errors that already carry a category pass through untouched.
func (p *Provisioner) provisionError(account *identity.Account, err error) error {
	var ge *goerrors.Error
	if errors.As(err, &ge) {
		return err
	}

	switch classifyProvisionError(err) {
	case provisionTerminal:
		p.logger.Warn("identity server already has an account for %s, leaving account %s linkless", account.Email, account.UID)
		return ErrEmailTaken.WithMetadata(map[string]any{
			"account_id": account.ID.String(),
		})
	case provisionRetry:
		return ErrProvisionFailed.WithMetadata(map[string]any{
			"account_id": account.ID.String(),
			"attempts":   maxProvisionAttempts,
			"reason":     "handle retries exhausted",
		})
	default:
		return goerrors.Wrap(err, goerrors.CategoryInternal, "identity provisioning failed").
			WithTextCode(TextCodeProvisionFailed).
			WithMetadata(map[string]any{"account_id": account.ID.String()})
	}
}

// classifyProvisionError decides what a createAccount failure means. It is
// pure: same error, same answer.
func classifyProvisionError(err error) provisionOutcome {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return provisionFatal
	}

	msg := strings.ToLower(apiErr.Message)

	switch {
	case apiErr.Code == ErrorCodeHandleNotAvailable:
		return provisionRetry
	case apiErr.StatusCode == http.StatusBadRequest &&
		strings.Contains(msg, "handle") &&
		(strings.Contains(msg, "taken") || strings.Contains(msg, "unavailable") || strings.Contains(msg, "already")):
		return provisionRetry
	case apiErr.StatusCode == http.StatusBadRequest &&
		strings.Contains(msg, "email") &&
		(strings.Contains(msg, "taken") || strings.Contains(msg, "already") || strings.Contains(msg, "registered")):
		return provisionTerminal
	default:
		return provisionFatal
	}
}

// retryBounded runs op until it succeeds, the attempts run out, or the
// failure is not retryable. The last error is returned.
func retryBounded(max int, op func(attempt int) error, retryable func(error) bool) error {
	var err error
	for attempt := 1; attempt <= max; attempt++ {
		if err = op(attempt); err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
	}
	return err
}

// newCredential returns a 32-byte random secret for the identity-server
// account. It exists in plaintext only inside the provisioning call.
func newCredential() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
