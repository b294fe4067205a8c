package atproto

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-identity"
)

const (
	// maxHandleLabelLen keeps the label inside an 18 character budget with
	// room for a two digit collision suffix.
	maxHandleLabelLen = 16

	maxHandleSuffix = 99
)

// HandleProber checks whether a handle is still free. A handle that
// resolves on the identity server is taken.
type HandleProber interface {
	HandleAvailable(ctx context.Context, handle string) (bool, error)
}

// HandleGenerator derives unique, domain-suffixed handles from account
// slugs. Given the same availability answers it always produces the same
// handle.
type HandleGenerator struct {
	prober HandleProber
	domain string
}

// NewHandleGenerator returns a generator probing against the identity
// server.
func NewHandleGenerator(cfg Config, prober HandleProber) *HandleGenerator {
	cfg = cfg.normalized()
	return &HandleGenerator{
		prober: prober,
		domain: cfg.HandleDomain,
	}
}

// GenerateUniqueHandle turns a slug into an available handle. Collisions get
// an incrementing numeric suffix; an unusable base slug or an exhausted
// suffix space fail outright.
func (g *HandleGenerator) GenerateUniqueHandle(ctx context.Context, baseSlug string) (string, error) {
	label := normalizeHandleLabel(baseSlug)
	if label == "" {
		return "", ErrInvalidHandleBase.WithMetadata(map[string]any{"base": baseSlug})
	}

	candidate := label + g.domain
	available, err := g.probe(ctx, candidate)
	if err != nil {
		return "", err
	}
	if available {
		return candidate, nil
	}

	for i := 1; i <= maxHandleSuffix; i++ {
		candidate = fmt.Sprintf("%s%d%s", label, i, g.domain)
		available, err := g.probe(ctx, candidate)
		if err != nil {
			return "", err
		}
		if available {
			return candidate, nil
		}
	}

	return "", ErrHandleExhausted.WithMetadata(map[string]any{"base": label})
}

func (g *HandleGenerator) probe(ctx context.Context, handle string) (bool, error) {
	available, err := g.prober.HandleAvailable(ctx, handle)
	if err != nil {
		return false, errors.Wrap(err, errors.CategoryOperation, "handle availability probe failed").
			WithMetadata(map[string]any{"handle": handle})
	}
	return available, nil
}

// normalizeHandleLabel slugifies the base, truncates it to the label budget,
// and strips separators left dangling by the cut.
func normalizeHandleLabel(base string) string {
	label := identity.Slugify(base)
	if len(label) > maxHandleLabelLen {
		label = label[:maxHandleLabelLen]
	}
	return strings.Trim(label, "-")
}
