package identity

import (
	"strings"
	"testing"
)

func TestNewUIDGeneratesValidUIDs(t *testing.T) {
	first := NewUID()
	second := NewUID()

	if !IsUID(first) {
		t.Fatalf("generated UID %q does not validate", first)
	}
	if first == second {
		t.Fatalf("consecutive UIDs collided: %q", first)
	}
}

func TestIsUID(t *testing.T) {
	cases := []struct {
		name  string
		input string
		valid bool
	}{
		{"generated", NewUID(), true},
		{"empty", "", false},
		{"too short", "01H", false},
		{"wrong charset", strings.Repeat("!", 26), false},
		{"uuid string", "b9f160d8-8d5c-4f6b-9du0-000000000000", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsUID(tc.input); got != tc.valid {
				t.Fatalf("IsUID(%q) returned %t, expected %t", tc.input, got, tc.valid)
			}
		})
	}
}

func TestSlugify(t *testing.T) {
	cases := []struct {
		input    string
		expected string
	}{
		{"Hello World", "hello-world"},
		{"  Ana  ", "ana"},
		{"--Weird--Name--", "weird-name"},
		{"Ana María", "ana-mar-a"},
		{"CamelCase99", "camelcase99"},
		{"!!!", ""},
		{"", ""},
	}

	for _, tc := range cases {
		if got := Slugify(tc.input); got != tc.expected {
			t.Fatalf("Slugify(%q) returned %q, expected %q", tc.input, got, tc.expected)
		}
	}
}

func TestNewSlugUsesFirstUsableSeed(t *testing.T) {
	slug := NewSlug("", "!!!", "Ana Banana", "ignored")

	if !strings.HasPrefix(slug, "ana-banana-") {
		t.Fatalf("expected slug prefixed with seed, got %q", slug)
	}
	if len(slug) != len("ana-banana-")+6 {
		t.Fatalf("expected a 6 character tail, got %q", slug)
	}
}

func TestNewSlugFallsBackWithoutSeeds(t *testing.T) {
	slug := NewSlug("!!!")

	if !strings.HasPrefix(slug, "account-") {
		t.Fatalf("expected fallback prefix, got %q", slug)
	}
}

func TestNewSlugsDoNotCollide(t *testing.T) {
	if NewSlug("ana") == NewSlug("ana") {
		t.Fatal("two slugs from the same seed collided")
	}
}

func TestEmailLocalPart(t *testing.T) {
	cases := []struct {
		input    string
		expected string
	}{
		{"ana@example.com", "ana"},
		{"no-at-sign", "no-at-sign"},
		{"@leading", "@leading"},
		{"", ""},
	}

	for _, tc := range cases {
		if got := emailLocalPart(tc.input); got != tc.expected {
			t.Fatalf("emailLocalPart(%q) returned %q, expected %q", tc.input, got, tc.expected)
		}
	}
}
