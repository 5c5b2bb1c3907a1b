// Package provider resolves the endpoints of an OAuth 2.0 authorization
// server, either from a static configuration or through OpenID Connect
// discovery.
package provider

import (
	"context"
	"errors"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Descriptor describes an authorization server.
type Descriptor struct {
	// Issuer is the provider's issuer identifier. Empty for providers
	// configured statically without one.
	Issuer string

	AuthorizationEndpoint string
	TokenEndpoint         string

	// UserInfoEndpoint is empty when the provider does not expose one.
	UserInfoEndpoint string

	// OIDC is non-nil when the descriptor came from OpenID Connect
	// discovery. It carries the provider's signing keys for ID token
	// verification and serves UserInfo queries.
	OIDC *oidc.Provider
}

// Endpoint returns the descriptor's endpoints in oauth2 form.
func (d *Descriptor) Endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:  d.AuthorizationEndpoint,
		TokenURL: d.TokenEndpoint,
	}
}

// Source yields a Descriptor on demand.
//
// Implementations may fetch remotely and must be safe for concurrent use.
type Source interface {
	Describe(ctx context.Context) (*Descriptor, error)
}

// Static is a Source with fixed endpoints and no discovery, for plain OAuth2
// providers or for tests.
type Static struct {
	Issuer                string
	AuthorizationEndpoint string
	TokenEndpoint         string
	UserInfoEndpoint      string
}

// Describe implements Source.
func (s Static) Describe(_ context.Context) (*Descriptor, error) {
	if s.AuthorizationEndpoint == "" {
		return nil, errors.New("provider: missing authorization endpoint")
	}
	if s.TokenEndpoint == "" {
		return nil, errors.New("provider: missing token endpoint")
	}
	return &Descriptor{
		Issuer:                s.Issuer,
		AuthorizationEndpoint: s.AuthorizationEndpoint,
		TokenEndpoint:         s.TokenEndpoint,
		UserInfoEndpoint:      s.UserInfoEndpoint,
	}, nil
}
