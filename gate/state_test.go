package gate

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"
)

func TestNewStateToken(t *testing.T) {
	a, err := newStateToken()
	if err != nil {
		t.Fatal(err)
	}
	b, err := newStateToken()
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("two generated tokens are identical")
	}
	raw, err := base64.RawURLEncoding.DecodeString(a)
	if err != nil {
		t.Fatalf("token is not URL-safe base64: %v", err)
	}
	if len(raw) != tokenLength {
		t.Errorf("token carries %d random bytes, want %d", len(raw), tokenLength)
	}
}

func TestGeneratePKCE(t *testing.T) {
	verifier, challenge, err := generatePKCE()
	if err != nil {
		t.Fatal(err)
	}
	if len(verifier) < 43 {
		t.Errorf("verifier length %d below the RFC 7636 minimum of 43", len(verifier))
	}
	sum := sha256.Sum256([]byte(verifier))
	if want := base64.RawURLEncoding.EncodeToString(sum[:]); challenge != want {
		t.Errorf("challenge = %q, want S256 commitment %q", challenge, want)
	}
}

func TestLocalTarget(t *testing.T) {
	tests := []struct {
		target string
		want   string
	}{
		{"/dashboard", "/dashboard"},
		{"/a?b=c", "/a?b=c"},
		{"", "/"},
		{"//evil.example", "/"},
		{"https://evil.example/x", "/"},
		{"relative/path", "/"},
	}
	for _, tt := range tests {
		if got := localTarget(tt.target, "/"); got != tt.want {
			t.Errorf("localTarget(%q) = %q, want %q", tt.target, got, tt.want)
		}
	}
}
