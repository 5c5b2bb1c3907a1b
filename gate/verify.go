package gate

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/mnehpets/authgate/provider"
)

// Identity is the verified principal behind a request.
type Identity struct {
	Subject string `cbor:"1,keyasint"`
	Email   string `cbor:"2,keyasint,omitempty"`
	Name    string `cbor:"3,keyasint,omitempty"`
}

// TokenVerifier turns a resolved access token into a verified identity.
//
// Implementations decide what "valid" means: token introspection, a userinfo
// query, a local JWT check. A nil *Identity with a nil error is not allowed;
// rejection must be an error.
type TokenVerifier interface {
	Verify(ctx context.Context, token Token) (*Identity, error)
}

// TokenVerifierFunc adapts a function to a TokenVerifier.
type TokenVerifierFunc func(ctx context.Context, token Token) (*Identity, error)

func (f TokenVerifierFunc) Verify(ctx context.Context, token Token) (*Identity, error) {
	return f(ctx, token)
}

// NewUserInfoVerifier returns a TokenVerifier that presents the access token
// at the provider's userinfo endpoint. It requires a discovery-backed source.
func NewUserInfoVerifier(src provider.Source) TokenVerifier {
	return TokenVerifierFunc(func(ctx context.Context, token Token) (*Identity, error) {
		desc, err := src.Describe(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolving provider: %w", err)
		}
		if desc.OIDC == nil {
			return nil, errors.New("provider has no userinfo support")
		}
		info, err := desc.OIDC.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: token.Value,
			TokenType:   "Bearer",
		}))
		if err != nil {
			return nil, fmt.Errorf("userinfo query: %w", err)
		}
		ident := &Identity{Subject: info.Subject, Email: info.Email}
		var claims struct {
			Name string `json:"name"`
		}
		if err := info.Claims(&claims); err == nil {
			ident.Name = claims.Name
		}
		if ident.Subject == "" {
			return nil, errors.New("userinfo response has no subject")
		}
		return ident, nil
	})
}
