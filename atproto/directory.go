package atproto

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-identity"
)

// DIDDocument is the subset of an identity document this package consumes.
type DIDDocument struct {
	ID                 string               `json:"id"`
	AlsoKnownAs        []string             `json:"alsoKnownAs,omitempty"`
	VerificationMethod []VerificationMethod `json:"verificationMethod,omitempty"`
	Service            []ServiceEntry       `json:"service,omitempty"`
}

// VerificationMethod is a key entry in a DID document.
type VerificationMethod struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	Controller         string `json:"controller,omitempty"`
	PublicKeyMultibase string `json:"publicKeyMultibase,omitempty"`
}

// ServiceEntry is a service advertisement in a DID document.
type ServiceEntry struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

// Handle returns the at:// alias without its scheme, or "".
func (d *DIDDocument) Handle() string {
	for _, aka := range d.AlsoKnownAs {
		if strings.HasPrefix(aka, "at://") {
			return strings.TrimPrefix(aka, "at://")
		}
	}
	return ""
}

// PDSEndpoint returns the personal data server endpoint, or "".
func (d *DIDDocument) PDSEndpoint() string {
	for _, svc := range d.Service {
		if strings.HasSuffix(svc.ID, "#atproto_pds") || svc.Type == "AtprotoPersonalDataServer" {
			return strings.TrimRight(svc.ServiceEndpoint, "/")
		}
	}
	return ""
}

// SigningKey returns the multibase atproto signing key, or "".
func (d *DIDDocument) SigningKey() string {
	for _, vm := range d.VerificationMethod {
		if strings.HasSuffix(vm.ID, "#atproto") && vm.PublicKeyMultibase != "" {
			return vm.PublicKeyMultibase
		}
	}
	return ""
}

// ResolvedIdentity is the flattened view of a DID document.
type ResolvedIdentity struct {
	DID        string
	Handle     string
	PDSURL     string
	SigningKey string
}

// Directory resolves DIDs to their documents. did:plc identities go through
// a PLC directory, preferring the private one when configured and falling
// back to the public directory on any failure. did:web identities resolve
// straight to the domain's well-known document.
type Directory struct {
	config     Config
	httpClient *http.Client
	logger     identity.Logger
}

// NewDirectory returns a resolver using the configured directories.
func NewDirectory(cfg Config) *Directory {
	cfg = cfg.normalized()
	return &Directory{
		config:     cfg,
		httpClient: cfg.httpClient(),
		logger:     identity.DefaultLogger(),
	}
}

func (d *Directory) WithLogger(logger identity.Logger) *Directory {
	if logger != nil {
		d.logger = logger
	}
	return d
}

// Resolve flattens the DID's document into the fields linking needs.
func (d *Directory) Resolve(ctx context.Context, did string) (*ResolvedIdentity, error) {
	doc, err := d.ResolveDocument(ctx, did)
	if err != nil {
		return nil, err
	}

	resolved := &ResolvedIdentity{
		DID:        doc.ID,
		Handle:     doc.Handle(),
		PDSURL:     doc.PDSEndpoint(),
		SigningKey: doc.SigningKey(),
	}
	if resolved.DID == "" {
		resolved.DID = did
	}

	return resolved, nil
}

// ResolveDocument fetches the raw DID document.
func (d *Directory) ResolveDocument(ctx context.Context, did string) (*DIDDocument, error) {
	did = strings.TrimSpace(did)

	switch {
	case strings.HasPrefix(did, "did:web:"):
		return d.resolveWeb(ctx, did)
	case strings.HasPrefix(did, "did:plc:"):
		return d.resolvePLC(ctx, did)
	default:
		return nil, ErrResolutionFailed.WithMetadata(map[string]any{
			"did":    did,
			"reason": "unsupported DID method",
		})
	}
}

func (d *Directory) resolvePLC(ctx context.Context, did string) (*DIDDocument, error) {
	if d.config.PrivateDirectoryURL != "" {
		doc, err := d.fetchDocument(ctx, d.config.PrivateDirectoryURL+"/"+url.PathEscape(did))
		if err == nil {
			return doc, nil
		}
		d.logger.Warn("private directory resolution failed for %s, falling back to public: %v", did, err)
	}

	doc, err := d.fetchDocument(ctx, d.config.DirectoryURL+"/"+url.PathEscape(did))
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryOperation, "directory resolution failed").
			WithTextCode(TextCodeResolutionFailed).
			WithMetadata(map[string]any{"did": did})
	}

	return doc, nil
}

func (d *Directory) resolveWeb(ctx context.Context, did string) (*DIDDocument, error) {
	docURL, err := didWebURL(did)
	if err != nil {
		return nil, err
	}

	doc, err := d.fetchDocument(ctx, docURL)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryOperation, "did:web resolution failed").
			WithTextCode(TextCodeResolutionFailed).
			WithMetadata(map[string]any{"did": did, "url": docURL})
	}

	return doc, nil
}

func (d *Directory) fetchDocument(ctx context.Context, rawURL string) (*DIDDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp.StatusCode, body)
	}

	var doc DIDDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode DID document: %w", err)
	}

	return &doc, nil
}

// didWebURL maps did:web:example.com to the well-known document URL and
// did:web:example.com:some:path to the path-scoped document.
func didWebURL(did string) (string, error) {
	rest := strings.TrimPrefix(did, "did:web:")
	if rest == "" {
		return "", ErrResolutionFailed.WithMetadata(map[string]any{
			"did":    did,
			"reason": "empty did:web host",
		})
	}

	parts := strings.Split(rest, ":")
	host, err := url.PathUnescape(parts[0])
	if err != nil || host == "" {
		return "", ErrResolutionFailed.WithMetadata(map[string]any{
			"did":    did,
			"reason": "invalid did:web host",
		})
	}

	if len(parts) == 1 {
		return "https://" + host + "/.well-known/did.json", nil
	}

	segments := make([]string, 0, len(parts)-1)
	for _, part := range parts[1:] {
		segment, err := url.PathUnescape(part)
		if err != nil || segment == "" {
			return "", ErrResolutionFailed.WithMetadata(map[string]any{
				"did":    did,
				"reason": "invalid did:web path",
			})
		}
		segments = append(segments, segment)
	}

	return "https://" + host + "/" + strings.Join(segments, "/") + "/did.json", nil
}
