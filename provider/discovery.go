package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL is how long a discovered descriptor is reused before the
// issuer is queried again. Half an hour keeps key rotation timely without
// hammering the discovery endpoint.
const DefaultCacheTTL = 30 * time.Minute

// Discovered is a Source backed by OpenID Connect discovery.
//
// The first Describe fetches the issuer's discovery document; later calls
// reuse it until the cache TTL passes. Concurrent fetches for the same
// issuer are deduplicated.
type Discovered struct {
	issuer string
	ttl    time.Duration
	client *http.Client
	logger *slog.Logger

	mu        sync.RWMutex
	cached    *Descriptor
	fetchedAt time.Time

	group singleflight.Group
}

// DiscoveredOption configures a Discovered source.
type DiscoveredOption func(*Discovered)

// WithCacheTTL sets how long a discovery result is reused.
func WithCacheTTL(d time.Duration) DiscoveredOption {
	return func(p *Discovered) {
		if d > 0 {
			p.ttl = d
		}
	}
}

// WithHTTPClient sets the HTTP client used for discovery and all later
// provider traffic (keys, UserInfo).
func WithHTTPClient(c *http.Client) DiscoveredOption {
	return func(p *Discovered) {
		p.client = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) DiscoveredOption {
	return func(p *Discovered) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewDiscovered builds a discovery-backed Source for issuer. No network
// traffic happens until the first Describe call.
func NewDiscovered(issuer string, opts ...DiscoveredOption) (*Discovered, error) {
	if issuer == "" {
		return nil, errors.New("provider: empty issuer")
	}
	p := &Discovered{
		issuer: issuer,
		ttl:    DefaultCacheTTL,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Issuer returns the configured issuer identifier.
func (p *Discovered) Issuer() string {
	return p.issuer
}

// Describe implements Source.
func (p *Discovered) Describe(ctx context.Context) (*Descriptor, error) {
	if desc := p.fresh(); desc != nil {
		return desc, nil
	}
	v, err, _ := p.group.Do(p.issuer, func() (any, error) {
		// Re-check after winning the flight; a concurrent caller may have
		// refreshed the cache already.
		if desc := p.fresh(); desc != nil {
			return desc, nil
		}
		return p.discover(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Descriptor), nil
}

func (p *Discovered) fresh() *Descriptor {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.cached != nil && time.Since(p.fetchedAt) < p.ttl {
		return p.cached
	}
	return nil
}

func (p *Discovered) discover(ctx context.Context) (*Descriptor, error) {
	if p.client != nil {
		ctx = oidc.ClientContext(ctx, p.client)
	}
	op, err := oidc.NewProvider(ctx, p.issuer)
	if err != nil {
		return nil, fmt.Errorf("provider: discovery for %q failed: %w", p.issuer, err)
	}

	// userinfo_endpoint is not part of the typed Provider surface; pull it
	// from the raw discovery document.
	var extra struct {
		UserInfoEndpoint string `json:"userinfo_endpoint"`
	}
	if err := op.Claims(&extra); err != nil {
		p.logger.DebugContext(ctx, "discovery document claims not decodable", "issuer", p.issuer, "error", err)
	}

	ep := op.Endpoint()
	desc := &Descriptor{
		Issuer:                p.issuer,
		AuthorizationEndpoint: ep.AuthURL,
		TokenEndpoint:         ep.TokenURL,
		UserInfoEndpoint:      extra.UserInfoEndpoint,
		OIDC:                  op,
	}

	p.mu.Lock()
	p.cached = desc
	p.fetchedAt = time.Now()
	p.mu.Unlock()

	p.logger.DebugContext(ctx, "provider discovered",
		"issuer", p.issuer,
		"authorization_endpoint", desc.AuthorizationEndpoint,
		"token_endpoint", desc.TokenEndpoint)
	return desc, nil
}

var _ Source = (*Discovered)(nil)
var _ Source = Static{}
