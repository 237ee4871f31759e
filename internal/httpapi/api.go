// Package httpapi is the HTTP surface: authentication endpoints, the
// permission gates protecting realm-scoped routes, and the transport
// middleware around them.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ssohub.org/internal/audit"
	"ssohub.org/internal/obs"
	"ssohub.org/internal/roles"
	"ssohub.org/internal/sso"
)

// UserBanner is the optional administrative surface of a user provider.
type UserBanner interface {
	SetBanned(ctx context.Context, email string, banned bool) error
}

// ReadyProbe reports backend readiness (DB ping when one is configured).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config wires the API's collaborators.
type Config struct {
	Authenticator *sso.Authenticator
	Catalog       *roles.Catalog
	Throttle      *sso.Throttle
	Banner        UserBanner
	Ready         ReadyProbe
	Version       string
	CookieDomain  string
	CookieSecure  bool
	RateLimit     int
}

// API is the HTTP layer.
type API struct {
	router       chi.Router
	auth         *sso.Authenticator
	catalog      *roles.Catalog
	throttle     *sso.Throttle
	banner       UserBanner
	readyProbe   ReadyProbe
	version      string
	cookieDomain string
	cookieSecure bool
	rateLimit    int
}

func New(cfg Config) *API {
	a := &API{
		auth:         cfg.Authenticator,
		catalog:      cfg.Catalog,
		throttle:     cfg.Throttle,
		banner:       cfg.Banner,
		readyProbe:   cfg.Ready,
		version:      cfg.Version,
		cookieDomain: cfg.CookieDomain,
		cookieSecure: cfg.CookieSecure,
		rateLimit:    cfg.RateLimit,
	}

	r := chi.NewRouter()
	r.Use(a.resolveIdentity, a.apiKeyGate)

	r.Get("/healthz", a.healthz)
	r.Get("/readyz", a.ready)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.With(a.throttleGate).Post("/login", a.handleLogin)
		r.Get("/refresh", a.handleRefresh)
		r.Get("/logout", a.handleLogout)
		r.Get("/whoami", a.handleWhoami)
	})

	r.Route("/organizations/{organizationId}", func(r chi.Router) {
		r.With(a.requireRealm("organizationId", roles.PermUserRead)).
			Get("/access", a.handleOrganizationAccess)
		r.With(a.requireRealm("organizationId", roles.PermBanUser)).
			Post("/users/{email}/ban", a.handleBan(true))
		r.With(a.requireRealm("organizationId", roles.PermUnbanUser)).
			Post("/users/{email}/unban", a.handleBan(false))
	})

	r.With(a.requireRealm(sso.SystemRealm, roles.PermAccounts)).
		Get("/system/roles", a.handleSystemRoles)

	a.router = r
	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = MaxBodyBytes(h, 1<<20)
	if a.rateLimit > 0 {
		h = RateLimit(h, a.rateLimit*2, a.rateLimit)
	}
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "ssohub-api",
		"version": a.version,
	})
}

func (a *API) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// handleOrganizationAccess reports the caller's standing in the realm the
// route targets: role, permissions, and default account.
func (a *API) handleOrganizationAccess(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())
	realm := chi.URLParam(r, "organizationId")

	role, _ := identity.Role(realm)
	resp := map[string]any{
		"email":        identity.Email,
		"organization": realm,
		"role":         role,
		"permissions":  a.catalog.PermissionsOf(role),
	}
	if acc, ok := identity.DefaultAccount(realm); ok {
		resp["defaultAccount"] = acc
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleBan(banned bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.banner == nil {
			writeError(w, r, http.StatusNotFound, "not found")
			return
		}
		email := chi.URLParam(r, "email")
		if err := a.banner.SetBanned(r.Context(), email, banned); err != nil {
			writeError(w, r, http.StatusNotFound, "user not found")
			return
		}
		event := "user.unbanned"
		if banned {
			event = "user.banned"
		}
		_ = audit.LogEvent(r.Context(), event, map[string]any{"email": email})
		writeJSON(w, http.StatusOK, map[string]any{"email": email, "banned": banned})
	}
}

func (a *API) handleSystemRoles(w http.ResponseWriter, r *http.Request) {
	names := a.catalog.RegisteredRoles()
	out := make(map[string][]string, len(names))
	for _, name := range names {
		out[name] = a.catalog.PermissionsOf(name)
	}
	writeJSON(w, http.StatusOK, out)
}
