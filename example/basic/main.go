package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/mnehpets/authgate/gate"
	"github.com/mnehpets/authgate/provider"
	"github.com/mnehpets/authgate/session"
)

// verifyGitHubToken resolves an access token to the GitHub account it
// belongs to. GitHub speaks plain OAuth2 (no OpenID Connect), so both the
// bearer-header path and the post-login callback run through this verifier.
func verifyGitHubToken(ctx context.Context, token gate.Token) (*gate.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.github.com/user", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token.Value)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github rejected the token: %s", resp.Status)
	}

	var user struct {
		Login string `json:"login"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, err
	}
	return &gate.Identity{Subject: user.Login, Name: user.Name, Email: user.Email}, nil
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	clientID := os.Getenv("GITHUB_CLIENT_ID")
	clientSecret := os.Getenv("GITHUB_CLIENT_SECRET")
	if clientID == "" || clientSecret == "" {
		log.Fatal("GITHUB_CLIENT_ID and GITHUB_CLIENT_SECRET must be set")
	}

	// 1. Sessions: in-memory store and a throwaway cookie key. Persist the
	// key in production or every restart logs everyone out.
	cookieKey := make([]byte, session.KeySize)
	if _, err := rand.Read(cookieKey); err != nil {
		log.Fatal(err)
	}
	store := session.NewMemoryStore()

	manager, err := session.NewManager(store, "key1", map[string][]byte{"key1": cookieKey},
		session.WithSecure(false), // http://localhost:8080
	)
	if err != nil {
		log.Fatal(err)
	}

	// 2. The gate, against GitHub's fixed OAuth2 endpoints.
	g, err := gate.New(gate.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       []string{"read:user"},
	}, provider.Static{
		AuthorizationEndpoint: "https://github.com/login/oauth/authorize",
		TokenEndpoint:         "https://github.com/login/oauth/access_token",
	}, gate.WithTokenVerifier(gate.TokenVerifierFunc(verifyGitHubToken)))
	if err != nil {
		log.Fatal(err)
	}

	// 3. Routes. Everything behind g.Wrap requires a login; visiting /
	// without one starts the authorization flow.
	mux := http.NewServeMux()
	mux.Handle("/callback", g.CallbackHandler())
	mux.Handle("/", g.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident, _ := gate.IdentityFromContext(r.Context())
		fmt.Fprintf(w, "Hello, %s!\n", ident.Subject)
	})))

	log.Println("Listening on :8080")
	if err := http.ListenAndServe(":8080", manager.Wrap(mux)); err != nil {
		log.Fatal(err)
	}
}
