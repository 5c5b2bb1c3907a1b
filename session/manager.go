package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/mnehpets/authgate/endpoint"
)

// DefaultTTL is the default session lifetime.
const DefaultTTL = 24 * time.Hour

// DefaultCookieName is the default name of the session cookie.
const DefaultCookieName = "AGS"

// Manager loads the session for each request and persists it just before the
// response headers are written.
//
// It can be wired two ways: as an endpoint.Processor (Process) inside an
// endpoint pipeline, or as ordinary middleware (Wrap) around any
// http.Handler. Both install the Session into the request context; handlers
// retrieve it with FromContext.
type Manager struct {
	store  Store
	sealer *cookieSealer
	ttl    time.Duration
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL sets the absolute session lifetime. The expiry is fixed at
// creation; sessions are not extended by activity.
func WithTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// WithCookieName sets the session cookie name.
func WithCookieName(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.sealer.name = name
		}
	}
}

// WithCookiePath sets the cookie path (default "/").
func WithCookiePath(path string) Option {
	return func(m *Manager) {
		if path != "" {
			m.sealer.path = path
		}
	}
}

// WithCookieDomain sets the cookie domain (default host-only).
func WithCookieDomain(domain string) Option {
	return func(m *Manager) {
		m.sealer.domain = domain
	}
}

// WithSecure sets the cookie Secure attribute. It defaults to true; turn it
// off only for plain-HTTP development setups.
func WithSecure(secure bool) Option {
	return func(m *Manager) {
		m.sealer.secure = secure
	}
}

// WithSameSite sets the cookie SameSite attribute (default Lax). Strict
// breaks OAuth-style cross-site return redirects; Lax still sends the cookie
// on top-level navigation.
func WithSameSite(mode http.SameSite) Option {
	return func(m *Manager) {
		if mode != 0 {
			m.sealer.sameSite = mode
		}
	}
}

// WithLogger sets the logger used for persistence failures.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager builds a Manager persisting sessions to store.
//
// keys maps key IDs to 32-byte cookie sealing keys; keyID selects the key
// used for new cookies while the others remain valid for opening, which
// allows key rotation without invalidating live sessions.
func NewManager(store Store, keyID string, keys map[string][]byte, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session: nil store")
	}
	sealer, err := newCookieSealer(DefaultCookieName, keyID, keys)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		store:  store,
		sealer: sealer,
		ttl:    DefaultTTL,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Process implements endpoint.Processor. The persistence hook is registered
// with endpoint.Defer, so it runs right before the Renderer writes headers.
// If a Session is already in the context (an outer Wrap), this is a
// passthrough.
func (m *Manager) Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error {
	if _, ok := FromContext(r.Context()); ok {
		return next(w, r)
	}
	sess, stale := m.load(r)
	ctx := NewContext(r.Context(), sess)
	endpoint.Defer(ctx, m.committer(context.WithoutCancel(ctx), sess, stale))
	return next(w, r.WithContext(ctx))
}

// Wrap returns middleware that manages the session around next. Persistence
// happens when next first writes to the response, or after it returns if it
// never wrote.
func (m *Manager) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := FromContext(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}
		sess, stale := m.load(r)
		r = r.WithContext(NewContext(r.Context(), sess))
		commit := m.committer(context.WithoutCancel(r.Context()), sess, stale)
		next.ServeHTTP(&commitWriter{ResponseWriter: w, commit: commit}, r)
		commit(w)
	})
}

// load restores the session named by the request cookie, or returns a fresh
// one. stale reports that the client sent a cookie that no longer names a
// live session, so an otherwise untouched response should clear it.
func (m *Manager) load(r *http.Request) (sess *Session, stale bool) {
	c, err := r.Cookie(m.sealer.name)
	if err != nil {
		return newSession(m.store, m.ttl), false
	}
	id, err := m.sealer.open(c.Value)
	if err != nil {
		m.logger.DebugContext(r.Context(), "session cookie rejected", "error", err)
		return newSession(m.store, m.ttl), true
	}
	data, err := m.store.Load(r.Context(), id)
	if err != nil {
		m.logger.ErrorContext(r.Context(), "session load failed", "error", err)
		return newSession(m.store, m.ttl), true
	}
	if data == nil {
		return newSession(m.store, m.ttl), true
	}
	var rec record
	if err := cbor.Unmarshal(data, &rec); err != nil {
		m.logger.ErrorContext(r.Context(), "session record corrupt", "id", id, "error", err)
		return newSession(m.store, m.ttl), true
	}
	if rec.ExpiresAt.IsZero() || !time.Now().Before(rec.ExpiresAt) {
		return newSession(m.store, m.ttl), true
	}
	attrs := rec.Attrs
	if attrs == nil {
		attrs = make(map[string]cbor.RawMessage)
	}
	return &Session{
		id:        id,
		attrs:     attrs,
		expiresAt: rec.ExpiresAt,
		store:     m.store,
	}, false
}

// committer returns the once-only persistence hook for sess.
func (m *Manager) committer(ctx context.Context, sess *Session, stale bool) func(http.ResponseWriter) {
	var once sync.Once
	return func(w http.ResponseWriter) {
		once.Do(func() {
			m.commit(ctx, w, sess, stale)
		})
	}
}

func (m *Manager) commit(ctx context.Context, w http.ResponseWriter, sess *Session, stale bool) {
	id, data, expiresAt, dirty, destroyed, err := sess.snapshot()
	if err != nil {
		m.logger.ErrorContext(ctx, "session encode failed", "error", err)
		return
	}
	if destroyed {
		http.SetCookie(w, m.sealer.clear())
		return
	}
	if !dirty {
		if stale {
			http.SetCookie(w, m.sealer.clear())
		}
		return
	}
	if err := m.store.Save(ctx, id, data, expiresAt); err != nil {
		m.logger.ErrorContext(ctx, "session save failed", "id", id, "error", err)
		return
	}
	sess.markSaved()
	c, err := m.sealer.cookie(id, expiresAt)
	if err != nil {
		m.logger.ErrorContext(ctx, "session cookie seal failed", "error", err)
		return
	}
	http.SetCookie(w, c)
}

// commitWriter flushes the session before the first byte or header reaches
// the client; a Set-Cookie added later would be lost.
type commitWriter struct {
	http.ResponseWriter
	commit func(http.ResponseWriter)
}

func (w *commitWriter) WriteHeader(statusCode int) {
	w.commit(w.ResponseWriter)
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *commitWriter) Write(b []byte) (int, error) {
	w.commit(w.ResponseWriter)
	return w.ResponseWriter.Write(b)
}

func (w *commitWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

var _ endpoint.Processor = (*Manager)(nil)
