// Package gate implements an HTTP authentication gate for the OAuth 2.0 /
// OpenID Connect Authorization Code flow.
//
// The gate wraps protected handlers as middleware. Requests whose session
// already carries an identity pass through. Otherwise the gate resolves an
// access token from the request headers and verifies it; failing that, it
// redirects the client to the provider's authorization endpoint, persisting
// the correlation state (CSRF state token, OIDC nonce) in the session. The
// callback endpoint (CallbackHandler) consumes that state, exchanges the
// authorization code, verifies the ID token for OIDC flows, regenerates the
// session ID and replays the originally requested URL.
//
// Plain OAuth 2.0 and OpenID Connect are dispatched on the configured scopes:
// the presence of the openid scope selects the authentication-request variant
// (with nonce) and ID-token verification at the callback.
package gate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/mnehpets/authgate/provider"
	"github.com/mnehpets/authgate/session"
)

// Sentinel errors. The configuration faults (client id, callback) escalate
// to 500s or fail construction; everything else is absorbed into a redirect,
// a 401 or a denied callback. ErrNoSession marks requests served outside a
// session.Manager.
var (
	ErrMissingClientID = errors.New("gate: client id not configured")
	ErrInvalidCallback = errors.New("gate: invalid redirect callback")
	ErrNoSession       = errors.New("gate: no session on request")
)

// Session attribute keys owned by the gate. State, nonce and return target
// are written together on every redirect issuance and consumed by the
// callback; the identity key marks an authenticated session.
const (
	SessionStateKey    = "authgate.state"
	SessionNonceKey    = "authgate.nonce"
	SessionReturnToKey = "authgate.return_to"
	SessionIdentityKey = "authgate.identity"
	sessionPKCEKey     = "authgate.pkce_verifier"
)

// Config is the gate configuration. ClientID is required; everything else
// has a usable zero value.
type Config struct {
	// ClientID and ClientSecret identify this client at the provider.
	ClientID     string
	ClientSecret string

	// Scopes are negotiated with the provider. Include oidc.ScopeOpenID to
	// run OpenID Connect authentication instead of plain OAuth2
	// authorization.
	Scopes []string

	// CustomAccessTokenHeader, when non-empty, names the only header
	// consulted for access tokens; its value is taken verbatim. When empty,
	// the standard Authorization header is parsed per RFC 6750.
	CustomAccessTokenHeader string

	// Redirect is the explicit callback URI registered with the provider.
	// When empty, the callback is derived per request from the inbound
	// scheme, host and CallbackPath.
	Redirect string

	// DiscloseUnauthorizedReason selects between a detailed and a generic
	// 401 body.
	DiscloseUnauthorizedReason bool

	// CallbackPath is where CallbackHandler is mounted (default "/callback").
	CallbackPath string

	// LandingPath is the post-login target when the original URL cannot be
	// replayed (default "/").
	LandingPath string

	// Realm appears in the WWW-Authenticate challenge (default "restricted").
	Realm string

	// DisableRedirect turns the gate into a pure 401 responder; no
	// authorization redirects are issued. For APIs serving non-browser
	// clients.
	DisableRedirect bool

	// UsePKCE adds an S256 code challenge to authorization requests and the
	// matching verifier to the token exchange.
	UsePKCE bool
}

// Gate is the request filter. Build one with New and mount it with Wrap;
// mount CallbackHandler on Config.CallbackPath.
type Gate struct {
	cfg          Config
	src          provider.Source
	resolver     resolver
	redirect     *url.URL
	verifier     TokenVerifier
	unauthorized http.Handler
	logger       *slog.Logger
	metrics      *Metrics
	oidc         bool
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithTokenVerifier sets the verifier used for header-presented access
// tokens and for the identity lookup of plain-OAuth2 callbacks. Without one,
// header tokens never authenticate and non-OIDC callbacks are denied.
func WithTokenVerifier(v TokenVerifier) Option {
	return func(g *Gate) {
		g.verifier = v
	}
}

// WithMetrics records gate decisions to m.
func WithMetrics(m *Metrics) Option {
	return func(g *Gate) {
		g.metrics = m
	}
}

// WithUnauthorizedHandler delegates 401 rendering to h. The failure reason
// is available to h via FailureReason; the WWW-Authenticate challenge is
// already set.
func WithUnauthorizedHandler(h http.Handler) Option {
	return func(g *Gate) {
		g.unauthorized = h
	}
}

// New validates cfg and builds a Gate.
//
// An empty ClientID and an unparsable explicit Redirect are configuration
// faults and fail here, before any request is served. The token-resolution
// variant (custom header vs Authorization) is also fixed here.
func New(cfg Config, src provider.Source, opts ...Option) (*Gate, error) {
	if cfg.ClientID == "" {
		return nil, ErrMissingClientID
	}
	if src == nil {
		return nil, errors.New("gate: nil provider source")
	}
	if cfg.CallbackPath == "" {
		cfg.CallbackPath = "/callback"
	}
	if !strings.HasPrefix(cfg.CallbackPath, "/") {
		cfg.CallbackPath = "/" + cfg.CallbackPath
	}
	if cfg.LandingPath == "" {
		cfg.LandingPath = "/"
	}
	if cfg.Realm == "" {
		cfg.Realm = "restricted"
	}

	g := &Gate{
		cfg:    cfg,
		src:    src,
		logger: slog.Default(),
		oidc:   slices.Contains(cfg.Scopes, oidc.ScopeOpenID),
	}
	if cfg.Redirect != "" {
		u, err := url.Parse(cfg.Redirect)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCallback, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("%w: %q is not absolute", ErrInvalidCallback, cfg.Redirect)
		}
		g.redirect = u
	}
	for _, opt := range opts {
		opt(g)
	}
	if cfg.CustomAccessTokenHeader != "" {
		g.resolver = &headerResolver{header: cfg.CustomAccessTokenHeader, logger: g.logger}
	} else {
		g.resolver = &bearerResolver{logger: g.logger}
	}
	return g, nil
}

// Wrap returns middleware enforcing authentication for next.
//
// For redirect-based login the request must already carry a session
// (session.Manager outside this middleware). Without one, only
// header-token authentication is possible.
func (g *Gate) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()
		sess, hasSession := session.FromContext(ctx)

		if hasSession {
			var ident Identity
			ok, err := sess.Get(SessionIdentityKey, &ident)
			if err != nil {
				g.logger.DebugContext(ctx, "stored identity not decodable", "error", err)
			}
			if ok && err == nil && ident.Subject != "" {
				g.metrics.observe(outcomeAdmitted, start)
				next.ServeHTTP(w, r.WithContext(newIdentityContext(ctx, &ident)))
				return
			}
		}

		var reason error
		persistFailed := false

		token, hadToken := g.resolver.resolve(r)
		if hadToken {
			ident, err := g.verify(ctx, token)
			if err == nil {
				if hasSession {
					err = g.loginSession(ctx, sess, ident)
				}
				if err == nil {
					g.metrics.observe(outcomeAuthenticated, start)
					next.ServeHTTP(w, r.WithContext(newIdentityContext(ctx, ident)))
					return
				}
				// The credential is valid but the session could not be
				// rebound. Admitting would skip fixation mitigation; fail
				// closed instead.
				persistFailed = true
				reason = errors.New("authentication could not be completed")
				g.logger.ErrorContext(ctx, "session rebind after login failed", "error", err)
			} else {
				reason = err
				g.logger.DebugContext(ctx, "access token rejected",
					"token_type", token.Type.String(), "error", err)
			}
		}

		if !g.cfg.DisableRedirect && !persistFailed {
			switch {
			case !hasSession:
				g.logger.ErrorContext(ctx, "authorization redirect requires a session; wrap with session.Manager")
			default:
				err := g.redirectToProvider(w, r, sess)
				if err == nil {
					g.metrics.observe(outcomeRedirected, start)
					return
				}
				if isConfigFault(err) {
					g.logger.ErrorContext(ctx, "authorization redirect misconfigured", "error", err)
					g.metrics.observe(outcomeError, start)
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				g.logger.ErrorContext(ctx, "authorization redirect unavailable", "error", err)
				if reason == nil {
					reason = errors.New("authorization redirect unavailable")
				}
			}
		}

		g.metrics.observe(outcomeUnauthorized, start)
		g.writeUnauthorized(w, r, hadToken, reason)
	})
}

// verify runs the configured TokenVerifier and normalizes its result.
func (g *Gate) verify(ctx context.Context, token Token) (*Identity, error) {
	if g.verifier == nil {
		return nil, errors.New("no token verifier configured")
	}
	ident, err := g.verifier.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	if ident == nil || ident.Subject == "" {
		return nil, errors.New("verifier returned no identity")
	}
	return ident, nil
}

// loginSession binds ident to sess. The session ID is regenerated first so
// an identifier fixed before authentication cannot name the authenticated
// session.
func (g *Gate) loginSession(ctx context.Context, sess *session.Session, ident *Identity) error {
	if err := sess.Regenerate(ctx); err != nil {
		return fmt.Errorf("regenerating session: %w", err)
	}
	if err := sess.Set(SessionIdentityKey, ident); err != nil {
		return fmt.Errorf("storing identity: %w", err)
	}
	return nil
}

// writeUnauthorized emits the 401. The body is the failure reason when
// disclosure is enabled, a generic line otherwise; a write failure is logged
// and swallowed.
func (g *Gate) writeUnauthorized(w http.ResponseWriter, r *http.Request, hadToken bool, reason error) {
	if reason == nil {
		reason = errors.New("authentication required")
	}

	challenge := fmt.Sprintf("Bearer realm=%q", g.cfg.Realm)
	if hadToken {
		challenge += `, error="invalid_token"`
		if g.cfg.DiscloseUnauthorizedReason {
			challenge += fmt.Sprintf(", error_description=%q", reason.Error())
		}
	}
	w.Header().Set("WWW-Authenticate", challenge)
	w.Header().Set("Cache-Control", "no-store")

	if g.unauthorized != nil {
		g.unauthorized.ServeHTTP(w, r.WithContext(withFailureReason(r.Context(), reason)))
		return
	}

	message := "authentication required"
	if g.cfg.DiscloseUnauthorizedReason {
		message = reason.Error()
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	if _, err := io.WriteString(w, message+"\n"); err != nil {
		g.logger.DebugContext(r.Context(), "writing unauthorized response failed", "error", err)
	}
}

func isConfigFault(err error) bool {
	return errors.Is(err, ErrMissingClientID) || errors.Is(err, ErrInvalidCallback)
}

type identityContextKey struct{}

func newIdentityContext(ctx context.Context, ident *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, ident)
}

// IdentityFromContext returns the identity the gate admitted the request
// under.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	ident, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || ident == nil {
		return nil, false
	}
	return ident, true
}

type failureContextKey struct{}

func withFailureReason(ctx context.Context, err error) context.Context {
	return context.WithValue(ctx, failureContextKey{}, err)
}

// FailureReason returns the authentication failure recorded for this
// request, for custom unauthorized handlers.
func FailureReason(ctx context.Context) (error, bool) {
	err, ok := ctx.Value(failureContextKey{}).(error)
	if !ok || err == nil {
		return nil, false
	}
	return err, true
}
