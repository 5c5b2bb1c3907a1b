// Package session provides server-side HTTP sessions.
//
// Session data lives in a pluggable Store (in-process memory or Redis); the
// browser holds only the session ID, sealed into a tamper-evident cookie.
// The Manager middleware loads or creates the session for each request and
// persists changes just before the response headers are written, so an ID
// regenerated during the request is the ID that reaches the client.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

var (
	// ErrDestroyed is returned when using a session after Destroy.
	ErrDestroyed = errors.New("session: destroyed")
)

// record is the serialized form persisted in the Store.
type record struct {
	Attrs     map[string]cbor.RawMessage `cbor:"1,keyasint,omitempty"`
	ExpiresAt time.Time                  `cbor:"2,keyasint"`
}

// Session is request-scoped session state.
//
// Attribute values are CBOR-encoded at Set time and decoded on Get, so a
// Session can hold any CBOR-marshalable type. All methods are safe for
// concurrent use.
type Session struct {
	mu        sync.Mutex
	id        string
	attrs     map[string]cbor.RawMessage
	expiresAt time.Time
	store     Store
	dirty     bool
	destroyed bool
}

// newSession returns an unsaved session. It stays clean until the first
// mutation, so requests that never touch it cost no store write.
func newSession(store Store, ttl time.Duration) *Session {
	return &Session{
		id:        uuid.NewString(),
		attrs:     make(map[string]cbor.RawMessage),
		expiresAt: time.Now().Add(ttl).Truncate(time.Second),
		store:     store,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Expires returns the absolute expiry time.
func (s *Session) Expires() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt
}

// Set stores value under key. value is CBOR-encoded immediately; an encoding
// failure leaves the session unchanged.
func (s *Session) Set(key string, value any) error {
	raw, err := cbor.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrDestroyed
	}
	s.attrs[key] = raw
	s.dirty = true
	return nil
}

// SetAll stores all entries in one locked step: either every value is
// installed or none is. Callers that must write several keys as a unit (for
// example correlation state plus its nonce) use this instead of repeated Set
// calls.
func (s *Session) SetAll(values map[string]any) error {
	encoded := make(map[string]cbor.RawMessage, len(values))
	for k, v := range values {
		raw, err := cbor.Marshal(v)
		if err != nil {
			return err
		}
		encoded[k] = raw
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrDestroyed
	}
	for k, raw := range encoded {
		s.attrs[k] = raw
	}
	s.dirty = true
	return nil
}

// Get decodes the value under key into dst (a pointer). The boolean reports
// whether the key was present.
func (s *Session) Get(key string, dst any) (bool, error) {
	s.mu.Lock()
	raw, ok := s.attrs[key]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := cbor.Unmarshal(raw, dst); err != nil {
		return true, err
	}
	return true, nil
}

// Delete removes key. Removing an absent key is a no-op.
func (s *Session) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attrs[key]; !ok {
		return
	}
	delete(s.attrs, key)
	s.dirty = true
}

// Regenerate swaps the session ID for a fresh one and removes the old store
// record, keeping the attributes. Callers use this on privilege changes so a
// pre-authentication ID cannot name a post-authentication session. A store
// failure leaves the old ID in place and is returned to the caller.
func (s *Session) Regenerate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrDestroyed
	}
	old := s.id
	if err := s.store.Delete(ctx, old); err != nil {
		return err
	}
	s.id = uuid.NewString()
	s.dirty = true
	return nil
}

// Destroy removes the session from the store and marks it destroyed; the
// Manager then clears the client cookie. Further mutation fails with
// ErrDestroyed.
func (s *Session) Destroy(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return nil
	}
	if err := s.store.Delete(ctx, s.id); err != nil {
		return err
	}
	s.destroyed = true
	s.attrs = make(map[string]cbor.RawMessage)
	s.dirty = true
	return nil
}

// snapshot returns what the manager needs to persist, under one lock.
func (s *Session) snapshot() (id string, data []byte, expiresAt time.Time, dirty, destroyed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return s.id, nil, s.expiresAt, false, s.destroyed, nil
	}
	data, err = cbor.Marshal(record{Attrs: s.attrs, ExpiresAt: s.expiresAt})
	if err != nil {
		return "", nil, time.Time{}, true, s.destroyed, err
	}
	return s.id, data, s.expiresAt, true, s.destroyed, nil
}

// markSaved clears the dirty flag after a successful store write.
func (s *Session) markSaved() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = false
}

type sessionContextKey struct{}

// NewContext returns a context carrying sess.
func NewContext(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// FromContext returns the Session stored in ctx, if any.
func FromContext(ctx context.Context) (*Session, bool) {
	sess, ok := ctx.Value(sessionContextKey{}).(*Session)
	if !ok || sess == nil {
		return nil, false
	}
	return sess, true
}
