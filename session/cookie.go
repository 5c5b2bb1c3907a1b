package session

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrCookieFormat  = errors.New("session: invalid cookie format")
	ErrCookieInvalid = errors.New("session: invalid cookie")
)

// maxCookieLen bounds attacker-controlled cookie input. A sealed session ID
// is well under 200 bytes; anything near this limit is garbage.
const maxCookieLen = 2048

// KeySize is the required byte length for sealer keys (XChaCha20-Poly1305).
const KeySize = chacha20poly1305.KeySize

// cookiePayload is the sealed cookie content.
type cookiePayload struct {
	ID string `cbor:"1,keyasint"`
}

// cookieSealer seals the session ID into a tamper-evident cookie value.
//
// Format: [keyID] "." [base64url(nonce || AEAD.Seal(payload))]
// The additional data binds cookie name, domain, path and secure flag so a
// value cannot be replayed under different cookie attributes. Keys holds all
// accepted keys; keyID selects the sealing key, which allows rotation.
type cookieSealer struct {
	name     string
	path     string
	domain   string
	secure   bool
	sameSite http.SameSite

	keyID string
	keys  map[string][]byte
}

func newCookieSealer(name, keyID string, keys map[string][]byte) (*cookieSealer, error) {
	if name == "" {
		return nil, errors.New("session: cookie name must not be empty")
	}
	if len(keys) == 0 {
		return nil, errors.New("session: keys must not be empty")
	}
	if _, ok := keys[keyID]; !ok {
		return nil, errors.New("session: keyID not found in keys")
	}
	for id, k := range keys {
		if _, err := chacha20poly1305.NewX(k); err != nil {
			return nil, fmt.Errorf("session: invalid key %s: %w", id, err)
		}
	}
	return &cookieSealer{
		name:     name,
		path:     "/",
		secure:   true,
		sameSite: http.SameSiteLaxMode,
		keyID:    keyID,
		keys:     keys,
	}, nil
}

func (cs *cookieSealer) aad() []byte {
	secureStr := "f"
	if cs.secure {
		secureStr = "t"
	}
	return []byte(cs.name + ":" + cs.domain + ":" + cs.path + ":" + secureStr)
}

func (cs *cookieSealer) seal(id string) (string, error) {
	plain, err := cbor.Marshal(cookiePayload{ID: id})
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(cs.keys[cs.keyID])
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, plain, cs.aad())
	return cs.keyID + "." + base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (cs *cookieSealer) open(value string) (string, error) {
	if len(value) == 0 || len(value) > maxCookieLen {
		return "", ErrCookieFormat
	}
	keyID, encoded, ok := strings.Cut(value, ".")
	if !ok || keyID == "" || encoded == "" {
		return "", ErrCookieFormat
	}
	key, ok := cs.keys[keyID]
	if !ok {
		return "", ErrCookieInvalid
	}
	sealed, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrCookieFormat
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return "", ErrCookieFormat
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, cs.aad())
	if err != nil {
		return "", ErrCookieInvalid
	}
	var payload cookiePayload
	if err := cbor.Unmarshal(plain, &payload); err != nil {
		return "", ErrCookieInvalid
	}
	if payload.ID == "" {
		return "", ErrCookieInvalid
	}
	return payload.ID, nil
}

// cookie seals id into an http.Cookie expiring at expiresAt.
func (cs *cookieSealer) cookie(id string, expiresAt time.Time) (*http.Cookie, error) {
	maxAge := int(time.Until(expiresAt).Seconds())
	if maxAge <= 0 {
		return nil, ErrCookieInvalid
	}
	value, err := cs.seal(id)
	if err != nil {
		return nil, err
	}
	return &http.Cookie{
		Name:     cs.name,
		Value:    value,
		Path:     cs.path,
		Domain:   cs.domain,
		MaxAge:   maxAge,
		Expires:  expiresAt,
		Secure:   cs.secure,
		HttpOnly: true,
		SameSite: cs.sameSite,
	}, nil
}

// clear returns a cookie that removes this cookie from the client.
func (cs *cookieSealer) clear() *http.Cookie {
	return &http.Cookie{
		Name:     cs.name,
		Value:    "",
		Path:     cs.path,
		Domain:   cs.domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   cs.secure,
		HttpOnly: true,
		SameSite: cs.sameSite,
	}
}
