package gate

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/mnehpets/authgate/provider"
	"github.com/mnehpets/authgate/session"
)

// redirectToProvider issues the authorization redirect: fresh state and
// nonce, callback resolution, URL construction, atomic session persistence,
// then a 302. A returned error wrapping ErrInvalidCallback or
// ErrMissingClientID is a configuration fault; anything else is transient
// and the caller falls back to a 401.
func (g *Gate) redirectToProvider(w http.ResponseWriter, r *http.Request, sess *session.Session) error {
	ctx := r.Context()

	state, err := newStateToken()
	if err != nil {
		return fmt.Errorf("generating state: %w", err)
	}
	// The nonce is generated for every flow. It is embedded in the URL only
	// for OpenID Connect, but persisted regardless so the two session keys
	// always travel together.
	nonce, err := newStateToken()
	if err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}

	callback, err := g.callbackURL(r)
	if err != nil {
		return err
	}

	desc, err := g.src.Describe(ctx)
	if err != nil {
		return fmt.Errorf("resolving provider: %w", err)
	}

	var opts []oauth2.AuthCodeOption
	values := map[string]any{
		SessionStateKey:    state,
		SessionNonceKey:    nonce,
		SessionReturnToKey: g.savedRequestTarget(r),
	}
	if g.cfg.UsePKCE {
		verifier, challenge, err := generatePKCE()
		if err != nil {
			return fmt.Errorf("generating pkce challenge: %w", err)
		}
		values[sessionPKCEKey] = verifier
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", challenge),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"))
	}

	authURL, err := g.buildAuthorizeURL(desc, callback, state, nonce, g.oidc, opts...)
	if err != nil {
		return err
	}

	// State, nonce and return target reach the store in one write; a second
	// redirect for the same session overwrites all of them, so only the
	// latest in-flight attempt can complete.
	if err := sess.SetAll(values); err != nil {
		return fmt.Errorf("persisting flow state: %w", err)
	}

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, authURL, http.StatusFound)
	return nil
}

// buildAuthorizeURL constructs the provider authorization URL. includeNonce
// selects the OpenID Connect authentication-request shape; the plain OAuth2
// authorization shape is identical minus the nonce parameter. Query
// parameters already present on the authorization endpoint survive into the
// result.
func (g *Gate) buildAuthorizeURL(desc *provider.Descriptor, callback, state, nonce string, includeNonce bool, extra ...oauth2.AuthCodeOption) (string, error) {
	if g.cfg.ClientID == "" {
		return "", ErrMissingClientID
	}
	if desc.AuthorizationEndpoint == "" {
		return "", errors.New("gate: provider has no authorization endpoint")
	}
	conf := &oauth2.Config{
		ClientID:     g.cfg.ClientID,
		ClientSecret: g.cfg.ClientSecret,
		Endpoint:     desc.Endpoint(),
		RedirectURL:  callback,
		Scopes:       g.cfg.Scopes,
	}
	opts := extra
	if includeNonce {
		opts = append(opts, oidc.Nonce(nonce))
	}
	return conf.AuthCodeURL(state, opts...), nil
}

// callbackURL resolves the redirect callback: the explicit configured URI
// when present, otherwise derived from the inbound request. There is no
// memoization; derivation is a pure function of the request.
func (g *Gate) callbackURL(r *http.Request) (string, error) {
	if g.redirect != nil {
		return g.redirect.String(), nil
	}
	return deriveCallback(r, g.cfg.CallbackPath)
}

// deriveCallback synthesizes scheme://host[:port]<callbackPath> from r,
// omitting the port when it is the scheme default (80 on http, 443 on
// https).
func deriveCallback(r *http.Request, callbackPath string) (string, error) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	host := r.Host
	if host == "" {
		return "", fmt.Errorf("%w: request has no host", ErrInvalidCallback)
	}
	if h, p, err := net.SplitHostPort(host); err == nil {
		if (scheme == "http" && p == "80") || (scheme == "https" && p == "443") {
			host = h
			if strings.Contains(h, ":") {
				// IPv6 literal keeps its brackets once the port is gone.
				host = "[" + h + "]"
			}
		}
	}
	u := &url.URL{Scheme: scheme, Host: host, Path: callbackPath}
	derived := u.String()
	if _, err := url.ParseRequestURI(derived); err != nil {
		return "", fmt.Errorf("%w: derived %q: %v", ErrInvalidCallback, derived, err)
	}
	return derived, nil
}

// savedRequestTarget is the URL replayed after a successful callback: the
// original request for safe methods, the landing path otherwise.
func (g *Gate) savedRequestTarget(r *http.Request) string {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return localTarget(r.URL.RequestURI(), g.cfg.LandingPath)
	}
	return g.cfg.LandingPath
}
