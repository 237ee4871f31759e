package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"ssohub.org/internal/audit"
	"ssohub.org/internal/obs"
	"ssohub.org/internal/sso"
)

const (
	authHeader        = "Authorization"
	bearer            = "Bearer "
	accessCookieName  = "Authorization"
	refreshCookieName = "refreshToken"

	accessKeyParam = "accessKey"
	apiKeyParam    = "apiKey"
)

// resolveIdentity attaches a RequestAuth to every request and, when a
// bearer token or access cookie is present and valid, the identity behind
// it. It never rejects: public endpoints pass through without identity,
// and the permission gates decide later.
func (a *API) resolveIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ra := &RequestAuth{}
		if token := extractToken(r); token != "" {
			if identity, err := a.auth.Authenticate(r.Context(), token); err == nil {
				ra.Identity = identity
				ra.Token = token
			}
		}
		ctx := withRequestAuth(r.Context(), ra)
		if ra.Identity != nil {
			ctx = audit.WithActor(ctx, ra.Identity.Email)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// apiKeyGate authenticates accessKey/apiKey request parameters. The key
// pair and a logged-in session are mutually exclusive; a temporary
// identity is detached when the request completes, on every exit path.
func (a *API) apiKeyGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accessKey, apiKey := keyParams(r)
		if accessKey == "" || apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		ra, ok := AuthFromContext(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		if ra.Identity != nil {
			obs.IncAPIKeyAuth("conflict")
			writeError(w, r, http.StatusConflict, "invoking service with apiKey while logged in")
			return
		}

		auth, err := a.auth.LoginWithAPIKey(r.Context(), accessKey, apiKey)
		if err != nil {
			obs.IncAPIKeyAuth("unauthenticated")
			writeError(w, r, http.StatusUnauthorized, "Unauthorized")
			return
		}
		obs.IncAPIKeyAuth("success")

		ra.Identity = &auth.Identity
		ra.Temporary = true
		defer func() {
			if ra.Temporary {
				ra.Identity = nil
				ra.Temporary = false
			}
		}()

		next.ServeHTTP(w, r.WithContext(audit.WithActor(r.Context(), auth.Identity.Email)))
	})
}

// requireRealm gates a route on realm membership and permissions. The
// realm value comes from the named URL parameter, except the reserved
// SYSTEM name which needs no parameter. An identity holding a SYSTEM role
// passes every check.
func (a *API) requireRealm(realmParam string, perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				writeError(w, r, http.StatusUnauthorized, "Unauthorized")
				return
			}

			realm := realmParam
			if realm != sso.SystemRealm {
				realm = chi.URLParam(r, realmParam)
				if realm == "" {
					writeError(w, r, http.StatusForbidden, "realm is not passed")
					return
				}
			}

			role, ok := identity.Role(realm)
			if !ok {
				_ = audit.LogEvent(r.Context(), "authz.denied", map[string]any{
					"realm":  realm,
					"reason": "no_realm",
				})
				writeError(w, r, http.StatusForbidden,
					fmt.Sprintf("user doesn't have access to realm %s", realm))
				return
			}
			if !identity.IsSystem() && !a.catalog.Granted(role, perms...) {
				_ = audit.LogEvent(r.Context(), "authz.denied", map[string]any{
					"realm":  realm,
					"role":   role,
					"method": r.Method + " " + r.URL.Path,
					"reason": "no_permission",
				})
				writeError(w, r, http.StatusForbidden,
					fmt.Sprintf("User [%s] has no access to method [%s %s]", identity.Email, r.Method, r.URL.Path))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// throttleGate guards the password-login endpoint. Authenticated callers
// bypass it; everyone else is keyed by client IP with a sliding window.
func (a *API) throttleGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := IdentityFromContext(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}
		key := clientIP(r)
		if key == "" {
			key = "unknown"
		}
		if !a.throttle.Allow(key) {
			obs.IncLogin("throttled")
			writeError(w, r, http.StatusForbidden,
				fmt.Sprintf("Please wait %ds before next attempt", int(a.throttle.Delay().Seconds())))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get(authHeader))
	if strings.HasPrefix(header, bearer) {
		return strings.TrimSpace(header[len(bearer):])
	}
	if c, err := r.Cookie(accessCookieName); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

func keyParams(r *http.Request) (accessKey, apiKey string) {
	accessKey = strings.TrimSpace(r.URL.Query().Get(accessKeyParam))
	if accessKey == "" {
		accessKey = strings.TrimSpace(r.Header.Get("X-Access-Key"))
	}
	apiKey = strings.TrimSpace(r.URL.Query().Get(apiKeyParam))
	if apiKey == "" {
		apiKey = strings.TrimSpace(r.Header.Get("X-Api-Key"))
	}
	return accessKey, apiKey
}
