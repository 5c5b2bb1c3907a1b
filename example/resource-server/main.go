package main

import (
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/mnehpets/authgate/endpoint"
	"github.com/mnehpets/authgate/gate"
	"github.com/mnehpets/authgate/provider"
)

// WhoamiEndpoint returns the identity the presented token resolved to.
func WhoamiEndpoint(_ http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	ident, ok := gate.IdentityFromContext(r.Context())
	if !ok {
		return nil, endpoint.Errorf(http.StatusInternalServerError, "no identity on an admitted request")
	}
	return &endpoint.JSONRenderer{Value: ident}, nil
}

// A resource server: no sessions, no redirects. Every request carries a
// bearer token minted elsewhere; the gate checks it against the provider's
// userinfo endpoint and answers 401 with a proper challenge otherwise.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	issuer := os.Getenv("OIDC_ISSUER")
	clientID := os.Getenv("OAUTH_CLIENT_ID")
	if issuer == "" || clientID == "" {
		log.Fatal("OIDC_ISSUER and OAUTH_CLIENT_ID must be set")
	}

	src, err := provider.NewDiscovered(issuer)
	if err != nil {
		log.Fatal(err)
	}

	g, err := gate.New(gate.Config{
		ClientID: clientID,
		// Set ACCESS_TOKEN_HEADER=X-Auth-Token to take tokens verbatim from
		// a private header instead of parsing Authorization.
		CustomAccessTokenHeader:    os.Getenv("ACCESS_TOKEN_HEADER"),
		Realm:                      "api",
		DiscloseUnauthorizedReason: true,
		DisableRedirect:            true,
	}, src, gate.WithTokenVerifier(gate.NewUserInfoVerifier(src)))
	if err != nil {
		log.Fatal(err)
	}

	mux := http.NewServeMux()
	mux.Handle("/whoami", g.Wrap(endpoint.HandleFunc(WhoamiEndpoint)))

	log.Println("Listening on :8080")
	if err := http.ListenAndServe(":8080", mux); err != nil {
		log.Fatal(err)
	}
}
