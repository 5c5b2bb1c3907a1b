package session

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"
)

func testKeys() map[string][]byte {
	k1 := make([]byte, KeySize)
	k2 := make([]byte, KeySize)
	for i := range k1 {
		k1[i] = byte(i)
		k2[i] = byte(255 - i)
	}
	return map[string][]byte{"k1": k1, "k2": k2}
}

func TestCookieSealerRoundTrip(t *testing.T) {
	cs, err := newCookieSealer(DefaultCookieName, "k1", testKeys())
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := cs.seal("session-id-123")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	id, err := cs.open(sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if id != "session-id-123" {
		t.Errorf("open = %q, want %q", id, "session-id-123")
	}

	// Two seals of the same ID must differ (fresh nonce each time).
	sealed2, err := cs.seal("session-id-123")
	if err != nil {
		t.Fatal(err)
	}
	if sealed == sealed2 {
		t.Error("sealing is deterministic; nonce reuse")
	}
}

func TestCookieSealerTamper(t *testing.T) {
	cs, err := newCookieSealer(DefaultCookieName, "k1", testKeys())
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := cs.seal("abc")
	if err != nil {
		t.Fatal(err)
	}

	// Flip one character of the ciphertext part.
	i := len(sealed) - 2
	b := []byte(sealed)
	if b[i] == 'A' {
		b[i] = 'B'
	} else {
		b[i] = 'A'
	}
	if _, err := cs.open(string(b)); err == nil {
		t.Error("tampered cookie accepted")
	}
}

func TestCookieSealerOpenRejects(t *testing.T) {
	cs, err := newCookieSealer(DefaultCookieName, "k1", testKeys())
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := cs.seal("abc")
	if err != nil {
		t.Fatal(err)
	}
	_, encoded, _ := strings.Cut(sealed, ".")

	cases := []struct {
		name  string
		value string
	}{
		{"empty", ""},
		{"no separator", "justonepart"},
		{"unknown key", "nope." + encoded},
		{"empty key id", "." + encoded},
		{"empty payload", "k1."},
		{"not base64", "k1.!!!not-base64!!!"},
		{"truncated", "k1.AAAA"},
		{"oversized", "k1." + strings.Repeat("A", maxCookieLen)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := cs.open(tc.value); err == nil {
				t.Errorf("open(%q) succeeded", tc.value)
			}
		})
	}
}

func TestCookieSealerKeyRotation(t *testing.T) {
	keys := testKeys()
	oldSealer, err := newCookieSealer(DefaultCookieName, "k1", keys)
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := oldSealer.seal("abc")
	if err != nil {
		t.Fatal(err)
	}

	// After rotating the active key to k2, cookies sealed under k1 still open.
	newSealer, err := newCookieSealer(DefaultCookieName, "k2", keys)
	if err != nil {
		t.Fatal(err)
	}
	id, err := newSealer.open(sealed)
	if err != nil {
		t.Fatalf("open after rotation: %v", err)
	}
	if id != "abc" {
		t.Errorf("open = %q, want abc", id)
	}
}

func TestCookieSealerAADBinding(t *testing.T) {
	keys := testKeys()
	a, err := newCookieSealer("cookie-a", "k1", keys)
	if err != nil {
		t.Fatal(err)
	}
	b, err := newCookieSealer("cookie-b", "k1", keys)
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := a.seal("abc")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.open(sealed); err == nil {
		t.Error("cookie sealed under one name opened under another")
	}
}

func TestCookieSealerCookieAttributes(t *testing.T) {
	cs, err := newCookieSealer(DefaultCookieName, "k1", testKeys())
	if err != nil {
		t.Fatal(err)
	}
	c, err := cs.cookie("abc", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if c.Name != DefaultCookieName {
		t.Errorf("Name = %q", c.Name)
	}
	if !c.HttpOnly {
		t.Error("cookie not HttpOnly")
	}
	if !c.Secure {
		t.Error("cookie not Secure by default")
	}
	if c.SameSite != http.SameSiteLaxMode {
		t.Errorf("SameSite = %v, want Lax", c.SameSite)
	}
	if c.Path != "/" {
		t.Errorf("Path = %q, want /", c.Path)
	}
	if c.MaxAge <= 0 {
		t.Errorf("MaxAge = %d, want > 0", c.MaxAge)
	}

	if _, err := cs.cookie("abc", time.Now().Add(-time.Minute)); !errors.Is(err, ErrCookieInvalid) {
		t.Errorf("cookie with past expiry = %v, want ErrCookieInvalid", err)
	}
}

func TestCookieSealerClear(t *testing.T) {
	cs, err := newCookieSealer(DefaultCookieName, "k1", testKeys())
	if err != nil {
		t.Fatal(err)
	}
	c := cs.clear()
	if c.MaxAge != -1 {
		t.Errorf("MaxAge = %d, want -1", c.MaxAge)
	}
	if c.Value != "" {
		t.Errorf("Value = %q, want empty", c.Value)
	}
	if c.Name != DefaultCookieName {
		t.Errorf("Name = %q", c.Name)
	}
}

func TestNewCookieSealerValidation(t *testing.T) {
	keys := testKeys()
	if _, err := newCookieSealer("", "k1", keys); err == nil {
		t.Error("empty name accepted")
	}
	if _, err := newCookieSealer("c", "k1", nil); err == nil {
		t.Error("nil keys accepted")
	}
	if _, err := newCookieSealer("c", "missing", keys); err == nil {
		t.Error("absent active key accepted")
	}
	if _, err := newCookieSealer("c", "short", map[string][]byte{"short": []byte("tiny")}); err == nil {
		t.Error("undersized key accepted")
	}
}
