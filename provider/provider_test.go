package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// newFakeIssuer serves a minimal OpenID Connect discovery document and counts
// how often it is fetched.
func newFakeIssuer(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var fetches atomic.Int64
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		fetches.Add(1)
		issuer := srv.URL
		json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 issuer,
			"authorization_endpoint": issuer + "/auth",
			"token_endpoint":         issuer + "/token",
			"userinfo_endpoint":      issuer + "/userinfo",
			"jwks_uri":               issuer + "/keys",
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &fetches
}

func TestDiscoveredDescribe(t *testing.T) {
	srv, fetches := newFakeIssuer(t)
	p, err := NewDiscovered(srv.URL)
	if err != nil {
		t.Fatal(err)
	}

	desc, err := p.Describe(context.Background())
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if desc.AuthorizationEndpoint != srv.URL+"/auth" {
		t.Errorf("AuthorizationEndpoint = %q", desc.AuthorizationEndpoint)
	}
	if desc.TokenEndpoint != srv.URL+"/token" {
		t.Errorf("TokenEndpoint = %q", desc.TokenEndpoint)
	}
	if desc.UserInfoEndpoint != srv.URL+"/userinfo" {
		t.Errorf("UserInfoEndpoint = %q", desc.UserInfoEndpoint)
	}
	if desc.Issuer != srv.URL {
		t.Errorf("Issuer = %q", desc.Issuer)
	}
	if desc.OIDC == nil {
		t.Error("OIDC handle missing after discovery")
	}

	ep := desc.Endpoint()
	if ep.AuthURL != desc.AuthorizationEndpoint || ep.TokenURL != desc.TokenEndpoint {
		t.Errorf("Endpoint() = %+v", ep)
	}
	if got := fetches.Load(); got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}
}

func TestDiscoveredCaches(t *testing.T) {
	srv, fetches := newFakeIssuer(t)
	p, err := NewDiscovered(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	first, err := p.Describe(ctx)
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.Describe(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("cached descriptor not reused")
	}
	if got := fetches.Load(); got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}
}

func TestDiscoveredConcurrentSingleFetch(t *testing.T) {
	srv, fetches := newFakeIssuer(t)
	p, err := NewDiscovered(srv.URL)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := p.Describe(context.Background()); err != nil {
				t.Error(err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := fetches.Load(); got != 1 {
		t.Errorf("fetches = %d, want 1 (deduplicated)", got)
	}
}

func TestDiscoveredCacheExpiry(t *testing.T) {
	srv, fetches := newFakeIssuer(t)
	p, err := NewDiscovered(srv.URL, WithCacheTTL(time.Nanosecond))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := p.Describe(ctx); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := p.Describe(ctx); err != nil {
		t.Fatal(err)
	}
	if got := fetches.Load(); got != 2 {
		t.Errorf("fetches = %d, want 2 after TTL expiry", got)
	}
}

func TestDiscoveredErrors(t *testing.T) {
	if _, err := NewDiscovered(""); err == nil {
		t.Error("empty issuer accepted")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := NewDiscovered(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Describe(context.Background()); err == nil {
		t.Error("Describe succeeded against a broken issuer")
	}
}

func TestStaticDescribe(t *testing.T) {
	s := Static{
		AuthorizationEndpoint: "https://auth.example.com/authorize",
		TokenEndpoint:         "https://auth.example.com/token",
	}
	desc, err := s.Describe(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if desc.OIDC != nil {
		t.Error("static descriptor has an OIDC handle")
	}
	if desc.AuthorizationEndpoint != s.AuthorizationEndpoint {
		t.Errorf("AuthorizationEndpoint = %q", desc.AuthorizationEndpoint)
	}

	if _, err := (Static{TokenEndpoint: "t"}).Describe(context.Background()); err == nil {
		t.Error("missing authorization endpoint accepted")
	}
	if _, err := (Static{AuthorizationEndpoint: "a"}).Describe(context.Background()); err == nil {
		t.Error("missing token endpoint accepted")
	}
}
