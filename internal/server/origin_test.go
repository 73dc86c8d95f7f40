package server

import (
	"net/http/httptest"
	"testing"
)

// TestNormalizeOrigin verifies scheme/host normalization and rejection
// of malformed origins.
func TestNormalizeOrigin(t *testing.T) {
	cases := []struct {
		input string
		want  string
		ok    bool
	}{
		{"http://localhost:8080", "http://localhost:8080", true},
		{"HTTPS://Chat.Example.COM", "https://chat.example.com", true},
		{"chat.example.com", "", false},
		{"://missing-scheme", "", false},
		{"", "", false},
	}

	for _, tc := range cases {
		got, ok := normalizeOrigin(tc.input)
		if ok != tc.ok || got != tc.want {
			t.Errorf("normalizeOrigin(%q) = (%q, %v), want (%q, %v)", tc.input, got, ok, tc.want, tc.ok)
		}
	}
}

// TestOriginAccessControl verifies allowed, disallowed, wildcard, and
// missing-header cases against a configured server.
func TestOriginAccessControl(t *testing.T) {
	newServerWithOrigins := func(origins []string) *Server {
		s := &Server{}
		s.allowedOrigins, s.allowAllOrigins = normalizeOrigins(origins)
		return s
	}
	s := newServerWithOrigins([]string{"http://localhost:8080", " ", "invalid origin"})

	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Origin", "http://LOCALHOST:8080")
	if !s.isOriginAllowed(r) {
		t.Error("Expected case-insensitive match for configured origin")
	}

	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Origin", "http://evil.example.com")
	if s.isOriginAllowed(r) {
		t.Error("Expected unlisted origin to be rejected")
	}

	r = httptest.NewRequest("GET", "/ws", nil)
	if s.isOriginAllowed(r) {
		t.Error("Expected missing Origin header to be rejected")
	}

	wildcard := newServerWithOrigins([]string{"*"})
	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Origin", "http://anything.example.com")
	if !wildcard.isOriginAllowed(r) {
		t.Error("Expected wildcard to allow any valid origin")
	}
}
