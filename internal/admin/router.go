// Package admin serves the JWT-guarded operator HTTP surface SPEC_FULL.md
// adds to supplement spec.md's read-only query surface: delisting domains,
// managing the privileged-entities list, and a live-events WebSocket feed.
// Adapted from the teacher's internal/api package (router/handler/websocket
// shape, auth middleware chain) to the single-seeded-admin-account model
// spec.md's Store and Manifest actually expose, with no user signup/session
// table of its own.
package admin

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dukepan/muclumbus/internal/auth"
	"github.com/dukepan/muclumbus/internal/config"
	"github.com/dukepan/muclumbus/internal/middleware"
	"github.com/dukepan/muclumbus/internal/obslog"
	"github.com/dukepan/muclumbus/internal/search"
	"github.com/dukepan/muclumbus/internal/store"
)

// Credentials is the seeded admin login (config.Secrets.AdminUsername /
// AdminPasswordHash), injected rather than read from config directly so
// Router stays decoupled from the config package, per spec §9's dependency-
// injection Design Note.
type Credentials struct {
	Username     string
	PasswordHash string
}

// Router wires the admin HTTP surface's mux, middleware chain, and
// dependencies. It holds no back-reference to the Supervisor; every
// collaborator is injected at construction.
type Router struct {
	mux *http.ServeMux

	store      store.Store
	search     *search.Service
	jwtMgr     *auth.JWTManager
	logger     *obslog.Logger
	creds      Credentials
	limiter    *middleware.RateLimiter
	privileged *config.PrivilegedEntities
	events     *store.Signals

	tokenTTL time.Duration
}

// Config assembles a Router's dependencies.
type Config struct {
	Store              store.Store
	Search             *search.Service
	JWTManager         *auth.JWTManager
	Logger             *obslog.Logger
	Credentials        Credentials
	RateLimiter        *middleware.RateLimiter // optional; nil disables rate limiting
	PrivilegedEntities *config.PrivilegedEntities
	TokenTTL           time.Duration
}

// NewRouter builds the admin HTTP handler, following the teacher's
// NewRouter's request-ID → tracing → (auth → rate-limit per route)
// middleware chaining.
func NewRouter(cfg Config) http.Handler {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	privileged := cfg.PrivilegedEntities
	if privileged == nil {
		privileged = config.NewPrivilegedEntities(nil)
	}

	r := &Router{
		mux:        http.NewServeMux(),
		store:      cfg.Store,
		search:     cfg.Search,
		jwtMgr:     cfg.JWTManager,
		logger:     cfg.Logger,
		creds:      cfg.Credentials,
		limiter:    cfg.RateLimiter,
		privileged: privileged,
		events:     cfg.Store.Signals(),
		tokenTTL:   ttl,
	}

	protect := func(h http.HandlerFunc) http.Handler {
		var wrapped http.Handler = h
		if r.limiter != nil {
			wrapped = r.limiter.Middleware(wrapped)
		}
		return r.AuthMiddleware(wrapped)
	}

	r.mux.HandleFunc("/admin/healthz", r.HealthzHandler)
	r.mux.HandleFunc("/admin/login", r.LoginHandler)
	r.mux.Handle("/metrics", promhttp.Handler())

	r.mux.Handle("/admin/domains/{domain}/delist", protect(r.DelistDomainHandler))
	r.mux.Handle("/admin/privileged-entities", protect(r.PrivilegedEntitiesHandler))
	r.mux.Handle("/admin/search", protect(r.SearchHandler))
	r.mux.Handle("/admin/events", http.HandlerFunc(r.EventsHandler)) // auth via ?token=, see websocket.go

	var handler http.Handler = r.mux
	handler = middleware.TracingMiddleware(handler)
	handler = middleware.RequestIDMiddleware(handler)
	return handler
}
