package main

import (
	"crypto/rand"
	"html/template"
	"log"
	"net/http"
	"os"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/joho/godotenv"
	"github.com/mnehpets/authgate/endpoint"
	"github.com/mnehpets/authgate/gate"
	"github.com/mnehpets/authgate/provider"
	"github.com/mnehpets/authgate/session"
)

var profileTmpl = template.Must(template.New("profile").Parse(`<!DOCTYPE html>
<html>
<head><title>OIDC Example</title></head>
<body>
	<h1>Signed in</h1>
	<p>Subject: {{.Subject}}</p>
	<p>Name: {{.Name}}</p>
	<p>Email: {{.Email}}</p>
	<a href="/logout">Logout</a>
</body>
</html>
`))

// ProfileEndpoint renders the identity the gate attached to the request.
func ProfileEndpoint(_ http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	ident, ok := gate.IdentityFromContext(r.Context())
	if !ok {
		return nil, endpoint.Errorf(http.StatusInternalServerError, "no identity on an admitted request")
	}
	return endpoint.RendererFunc(func(w http.ResponseWriter, _ *http.Request) error {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		return profileTmpl.Execute(w, ident)
	}), nil
}

// LogoutEndpoint destroys the session and sends the browser home, where the
// gate will start a fresh login.
func LogoutEndpoint(_ http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	if sess, ok := session.FromContext(r.Context()); ok {
		if err := sess.Destroy(r.Context()); err != nil {
			return nil, err
		}
	}
	return &endpoint.RedirectRenderer{URL: "/", Status: http.StatusFound}, nil
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	issuer := os.Getenv("OIDC_ISSUER")
	if issuer == "" {
		issuer = "https://accounts.google.com"
	}
	clientID := os.Getenv("OAUTH_CLIENT_ID")
	clientSecret := os.Getenv("OAUTH_CLIENT_SECRET")
	if clientID == "" || clientSecret == "" {
		log.Fatal("OAUTH_CLIENT_ID and OAUTH_CLIENT_SECRET must be set")
	}

	src, err := provider.NewDiscovered(issuer)
	if err != nil {
		log.Fatal(err)
	}

	cookieKey := make([]byte, session.KeySize)
	if _, err := rand.Read(cookieKey); err != nil {
		log.Fatal(err)
	}
	manager, err := session.NewManager(session.NewMemoryStore(), "key1", map[string][]byte{"key1": cookieKey},
		session.WithSecure(false), // http://localhost:8080
	)
	if err != nil {
		log.Fatal(err)
	}

	// Scopes include openid, so the callback verifies an ID token (issuer,
	// signature, nonce) instead of calling a token verifier.
	g, err := gate.New(gate.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		Redirect:     os.Getenv("OAUTH_REDIRECT_URL"), // optional; derived from the request when empty
		UsePKCE:      true,
	}, src)
	if err != nil {
		log.Fatal(err)
	}

	mux := http.NewServeMux()
	mux.Handle("/callback", g.CallbackHandler())
	mux.HandleFunc("/logout", endpoint.HandleFunc(LogoutEndpoint))
	mux.Handle("/", g.Wrap(endpoint.HandleFunc(ProfileEndpoint)))

	log.Println("Listening on :8080")
	if err := http.ListenAndServe(":8080", manager.Wrap(mux)); err != nil {
		log.Fatal(err)
	}
}
