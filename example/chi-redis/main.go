package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/mnehpets/authgate/gate"
	"github.com/mnehpets/authgate/provider"
	"github.com/mnehpets/authgate/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// A production-shaped deployment: chi for routing, redis so sessions survive
// restarts and are shared across replicas, prometheus metrics on /metrics.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	issuer := os.Getenv("OIDC_ISSUER")
	clientID := os.Getenv("OAUTH_CLIENT_ID")
	clientSecret := os.Getenv("OAUTH_CLIENT_SECRET")
	if issuer == "" || clientID == "" || clientSecret == "" {
		log.Fatal("OIDC_ISSUER, OAUTH_CLIENT_ID and OAUTH_CLIENT_SECRET must be set")
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	// 1. Sessions in redis. SESSION_KEY keeps cookies valid across restarts
	// and replicas; without it a volatile key is generated.
	cookieKey := make([]byte, session.KeySize)
	if hexKey := os.Getenv("SESSION_KEY"); hexKey != "" {
		k, err := hex.DecodeString(hexKey)
		if err != nil || len(k) != session.KeySize {
			log.Fatalf("SESSION_KEY must be %d hex characters", session.KeySize*2)
		}
		cookieKey = k
	} else {
		log.Println("SESSION_KEY not set, generating a volatile key")
		if _, err := rand.Read(cookieKey); err != nil {
			log.Fatal(err)
		}
	}

	store := session.NewRedisStore(redis.NewClient(&redis.Options{Addr: redisAddr}))
	manager, err := session.NewManager(store, "key1", map[string][]byte{"key1": cookieKey},
		session.WithSecure(false), // http://localhost:8080
	)
	if err != nil {
		log.Fatal(err)
	}

	// 2. The gate, with outcome counters in a dedicated registry.
	src, err := provider.NewDiscovered(issuer)
	if err != nil {
		log.Fatal(err)
	}

	registry := prometheus.NewRegistry()
	g, err := gate.New(gate.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		UsePKCE:      true,
	}, src, gate.WithMetrics(gate.NewMetrics(registry)))
	if err != nil {
		log.Fatal(err)
	}

	// 3. Routes. /metrics stays outside the session middleware so scrapes
	// never touch the store.
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(manager.Wrap)
		r.Handle("/callback", g.CallbackHandler())

		r.Group(func(r chi.Router) {
			r.Use(g.Wrap)
			r.Get("/", func(w http.ResponseWriter, req *http.Request) {
				ident, _ := gate.IdentityFromContext(req.Context())
				fmt.Fprintf(w, "Hello, %s!\n", ident.Subject)
			})
		})
	})

	log.Println("Listening on :8080")
	if err := http.ListenAndServe(":8080", r); err != nil {
		log.Fatal(err)
	}
}
