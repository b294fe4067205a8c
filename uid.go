package identity

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// NewUID returns the globally unique, immutable account identifier. ULIDs
// sort by creation time, which keeps account listings stable without a
// second column.
func NewUID() string {
	return ulid.Make().String()
}

// IsUID reports whether the string parses as an account UID.
func IsUID(s string) bool {
	if len(s) != ulid.EncodedSize {
		return false
	}
	_, err := ulid.ParseStrict(s)
	return err == nil
}

// Slugify lowercases the input and strips everything outside [a-z0-9-],
// collapsing runs of separators. The result may be empty.
func Slugify(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	lastDash := true // suppress leading separators
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}

	return strings.TrimRight(b.String(), "-")
}

// NewSlug builds a unique display slug from the first usable seed, falling
// back to a generic prefix. A short random tail avoids collisions without a
// read-before-write.
func NewSlug(seeds ...string) string {
	base := ""
	for _, seed := range seeds {
		if s := Slugify(seed); s != "" {
			base = s
			break
		}
	}
	if base == "" {
		base = "account"
	}

	tail := strings.ToLower(ulid.Make().String())
	return base + "-" + tail[len(tail)-6:]
}

// emailLocalPart returns the part before the @, or the input unchanged.
func emailLocalPart(email string) string {
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}
