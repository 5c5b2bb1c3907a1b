package gate

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/mnehpets/authgate/endpoint"
	"github.com/mnehpets/authgate/provider"
	"github.com/mnehpets/authgate/session"
)

// ProviderError is an error the provider reported on the callback query
// (RFC 6749 section 4.1.2.1).
type ProviderError struct {
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("provider error: %s (%s)", e.Code, e.Description)
	}
	return fmt.Sprintf("provider error: %s", e.Code)
}

// errOIDCUnsupported marks an openid-scoped gate whose provider source
// cannot supply an ID-token verifier (a Static source, typically).
var errOIDCUnsupported = errors.New("provider source supplies no OpenID Connect verifier")

// callbackParams is the authorization response query (RFC 6749 section
// 4.1.2).
type callbackParams struct {
	State     string `query:"state"`
	Code      string `query:"code"`
	Error     string `query:"error"`
	ErrorDesc string `query:"error_description"`
}

// flowState is what redirectToProvider persisted and the callback consumes.
type flowState struct {
	nonce    string
	verifier string
	returnTo string
}

// CallbackHandler returns the handler for the provider's redirect back.
// Mount it on Config.CallbackPath, inside the same session.Manager that
// wraps the protected routes.
//
// The state parameter must match the stored one in constant time, and a
// match consumes the persisted flow state, so each issued state is usable at
// most once. A successful exchange regenerates the session ID before the
// identity is stored, then redirects to the saved request target.
func (g *Gate) CallbackHandler() http.Handler {
	return endpoint.HandleFunc(g.handleCallback)
}

func (g *Gate) handleCallback(w http.ResponseWriter, r *http.Request, params callbackParams) (endpoint.Renderer, error) {
	start := time.Now()
	ctx := r.Context()
	w.Header().Set("Cache-Control", "no-store")

	sess, ok := session.FromContext(ctx)
	if !ok {
		g.metrics.observe(outcomeDenied, start)
		g.logger.DebugContext(ctx, "callback without a session")
		return nil, g.deny(ErrNoSession)
	}

	flow, err := g.consumeFlow(sess, params.State)
	if err != nil {
		g.metrics.observe(outcomeDenied, start)
		g.logger.DebugContext(ctx, "callback state rejected", "error", err)
		return nil, g.deny(err)
	}

	if params.Error != "" {
		perr := &ProviderError{Code: params.Error, Description: params.ErrorDesc}
		g.metrics.observe(outcomeDenied, start)
		g.logger.DebugContext(ctx, "provider reported authorization failure", "code", params.Error)
		return nil, g.deny(perr)
	}
	if params.Code == "" {
		g.metrics.observe(outcomeDenied, start)
		g.logger.DebugContext(ctx, "callback carries no authorization code")
		return nil, g.deny(errors.New("authorization response carries no code"))
	}

	ident, err := g.exchangeCode(ctx, r, params.Code, flow)
	if err != nil {
		if isConfigFault(err) || errors.Is(err, errOIDCUnsupported) {
			g.metrics.observe(outcomeError, start)
			g.logger.ErrorContext(ctx, "callback misconfigured", "error", err)
			return nil, &endpoint.Error{Status: http.StatusInternalServerError, Message: "authentication misconfigured", Err: err}
		}
		g.metrics.observe(outcomeDenied, start)
		g.logger.DebugContext(ctx, "authorization code rejected", "error", err)
		return nil, g.deny(err)
	}

	if err := g.loginSession(ctx, sess, ident); err != nil {
		g.metrics.observe(outcomeError, start)
		g.logger.ErrorContext(ctx, "session rebind after login failed", "error", err)
		return nil, &endpoint.Error{Status: http.StatusInternalServerError, Message: "authentication could not be completed", Err: err}
	}

	g.metrics.observe(outcomeAuthenticated, start)
	g.logger.InfoContext(ctx, "login completed", "subject", ident.Subject)
	return &endpoint.RedirectRenderer{URL: localTarget(flow.returnTo, g.cfg.LandingPath), Status: http.StatusFound}, nil
}

// deny builds the 401 for a rejected callback. The body carries the failure
// reason only when disclosure is enabled.
func (g *Gate) deny(reason error) error {
	msg := "authentication failed"
	if g.cfg.DiscloseUnauthorizedReason {
		msg = reason.Error()
	}
	return &endpoint.Error{Status: http.StatusUnauthorized, Message: msg, Err: reason}
}

// consumeFlow validates state against the stored value and, on match, reads
// and removes the persisted flow attributes. On mismatch the attributes stay
// put, so only a matching callback can burn them.
func (g *Gate) consumeFlow(sess *session.Session, state string) (*flowState, error) {
	var stored string
	ok, err := sess.Get(SessionStateKey, &stored)
	if err != nil {
		return nil, fmt.Errorf("reading stored state: %w", err)
	}
	if !ok || stored == "" {
		return nil, errors.New("no authorization in progress")
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(state)) != 1 {
		return nil, errors.New("state mismatch")
	}

	var flow flowState
	if _, err := sess.Get(SessionNonceKey, &flow.nonce); err != nil {
		return nil, fmt.Errorf("reading stored nonce: %w", err)
	}
	if _, err := sess.Get(sessionPKCEKey, &flow.verifier); err != nil {
		return nil, fmt.Errorf("reading stored pkce verifier: %w", err)
	}
	if _, err := sess.Get(SessionReturnToKey, &flow.returnTo); err != nil {
		return nil, fmt.Errorf("reading stored return target: %w", err)
	}

	sess.Delete(SessionStateKey)
	sess.Delete(SessionNonceKey)
	sess.Delete(sessionPKCEKey)
	sess.Delete(SessionReturnToKey)
	return &flow, nil
}

// exchangeCode redeems the authorization code at the token endpoint and
// derives the identity: ID-token verification with nonce comparison for
// OpenID Connect, the configured TokenVerifier otherwise.
func (g *Gate) exchangeCode(ctx context.Context, r *http.Request, code string, flow *flowState) (*Identity, error) {
	callback, err := g.callbackURL(r)
	if err != nil {
		return nil, err
	}
	desc, err := g.src.Describe(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving provider: %w", err)
	}
	if desc.TokenEndpoint == "" {
		return nil, errors.New("provider has no token endpoint")
	}

	conf := &oauth2.Config{
		ClientID:     g.cfg.ClientID,
		ClientSecret: g.cfg.ClientSecret,
		Endpoint:     desc.Endpoint(),
		RedirectURL:  callback,
		Scopes:       g.cfg.Scopes,
	}
	var opts []oauth2.AuthCodeOption
	if flow.verifier != "" {
		opts = append(opts, oauth2.SetAuthURLParam("code_verifier", flow.verifier))
	}
	token, err := conf.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}

	if g.oidc {
		return g.identityFromIDToken(ctx, desc, token, flow.nonce)
	}
	if g.verifier == nil {
		return nil, errors.New("flow yields no identity: no token verifier configured")
	}
	return g.verify(ctx, Token{Value: token.AccessToken, Type: TokenBearer})
}

// identityFromIDToken verifies the id_token from the token response and
// builds the identity from its claims. The token's nonce must equal the one
// persisted when the flow started.
func (g *Gate) identityFromIDToken(ctx context.Context, desc *provider.Descriptor, token *oauth2.Token, nonce string) (*Identity, error) {
	raw, ok := token.Extra("id_token").(string)
	if !ok || raw == "" {
		return nil, errors.New("token response carries no id_token")
	}
	if desc.OIDC == nil {
		return nil, errOIDCUnsupported
	}

	idToken, err := desc.OIDC.Verifier(&oidc.Config{ClientID: g.cfg.ClientID}).Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("id_token verification failed: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(idToken.Nonce), []byte(nonce)) != 1 {
		return nil, errors.New("nonce mismatch")
	}
	if idToken.Subject == "" {
		return nil, errors.New("id_token carries no subject")
	}

	ident := &Identity{Subject: idToken.Subject}
	var claims struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		g.logger.DebugContext(ctx, "id_token claims not decodable", "error", err)
		return ident, nil
	}
	ident.Email = claims.Email
	ident.Name = claims.Name
	return ident, nil
}
