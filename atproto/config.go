package atproto

import (
	"net/http"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	// DefaultServiceDID identifies this platform as a service-auth audience.
	DefaultServiceDID = "did:web:example.me"

	// DefaultHandleDomain is appended to every custodial handle.
	DefaultHandleDomain = ".example.me"

	// DefaultDirectoryURL is the public PLC directory.
	DefaultDirectoryURL = "https://plc.directory"

	// DefaultFallbackPDSURL is recorded for linked identities whose document
	// did not advertise a PDS endpoint.
	DefaultFallbackPDSURL = "https://bsky.social"

	// ExchangeMethod is the only lexicon method service-auth tokens may be
	// scoped to.
	ExchangeMethod = "me.example.auth.exchangeToken"

	// MaxTokenLifetime caps how far in the future a service-auth token may
	// expire.
	MaxTokenLifetime = 300 * time.Second
)

// Config holds the federation settings shared by the clients, the linker,
// and the service-auth verifier.
type Config struct {
	// ServiceDID is the audience value service-auth tokens must carry.
	ServiceDID string `env:"IDENTITY_SERVICE_DID" envDefault:"did:web:example.me"`

	// HandleDomain is the suffix for custodially provisioned handles,
	// including the leading dot.
	HandleDomain string `env:"IDENTITY_HANDLE_DOMAIN" envDefault:".example.me"`

	// IdentityServerURL points at the managed PDS used for custodial
	// provisioning. Empty disables custodial provisioning entirely.
	IdentityServerURL string `env:"IDENTITY_PDS_URL"`

	// DirectoryURL is the public PLC directory.
	DirectoryURL string `env:"IDENTITY_DIRECTORY_URL" envDefault:"https://plc.directory"`

	// PrivateDirectoryURL, when set, is consulted before the public
	// directory. Used when the platform runs its own PLC mirror.
	PrivateDirectoryURL string `env:"IDENTITY_PRIVATE_DIRECTORY_URL"`

	// FallbackPDSURL is stored on non-custodial links whose identity
	// document had no PDS endpoint.
	FallbackPDSURL string `env:"IDENTITY_FALLBACK_PDS_URL" envDefault:"https://bsky.social"`

	HTTPClient *http.Client `env:"-"`
}

// ConfigFromEnv loads federation configuration from environment variables.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg.normalized(), nil
}

// CustodialEnabled reports whether a managed identity server is configured.
func (c Config) CustodialEnabled() bool {
	return strings.TrimSpace(c.IdentityServerURL) != ""
}

func (c Config) normalized() Config {
	if strings.TrimSpace(c.ServiceDID) == "" {
		c.ServiceDID = DefaultServiceDID
	}
	if strings.TrimSpace(c.HandleDomain) == "" {
		c.HandleDomain = DefaultHandleDomain
	}
	if !strings.HasPrefix(c.HandleDomain, ".") {
		c.HandleDomain = "." + c.HandleDomain
	}
	if strings.TrimSpace(c.DirectoryURL) == "" {
		c.DirectoryURL = DefaultDirectoryURL
	}
	if strings.TrimSpace(c.FallbackPDSURL) == "" {
		c.FallbackPDSURL = DefaultFallbackPDSURL
	}
	c.IdentityServerURL = strings.TrimRight(strings.TrimSpace(c.IdentityServerURL), "/")
	c.DirectoryURL = strings.TrimRight(strings.TrimSpace(c.DirectoryURL), "/")
	c.PrivateDirectoryURL = strings.TrimRight(strings.TrimSpace(c.PrivateDirectoryURL), "/")
	c.FallbackPDSURL = strings.TrimRight(strings.TrimSpace(c.FallbackPDSURL), "/")
	return c
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}
