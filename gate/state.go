package gate

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// tokenLength is the number of random bytes behind a state or nonce value.
// 32 bytes is 256 bits of entropy, enough to make guessing and collisions
// across concurrent flows implausible.
const tokenLength = 32

// newStateToken creates a random URL-safe string. Used for the OAuth state
// parameter, the OIDC nonce and the PKCE verifier.
func newStateToken() (string, error) {
	b := make([]byte, tokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// generatePKCE creates an S256 PKCE verifier and challenge. The 43-character
// verifier satisfies the RFC 7636 minimum.
func generatePKCE() (verifier, challenge string, err error) {
	verifier, err = newStateToken()
	if err != nil {
		return "", "", err
	}
	sum := sha256.Sum256([]byte(verifier))
	return verifier, base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// localTarget reduces target to a same-site path, falling back to fallback.
// Absolute and protocol-relative URLs are rejected to prevent open redirects.
func localTarget(target, fallback string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") {
		return fallback
	}
	return target
}
