package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"ssohub.org/internal/audit"
	"ssohub.org/internal/obs"
	"ssohub.org/internal/sso"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	TfaCode  string `json:"tfaCode"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	auth, err := a.auth.LoginWithPassword(r.Context(), email, req.Password, req.TfaCode)
	if err != nil {
		a.loginFailure(w, r, email, err)
		return
	}

	obs.IncLogin("success")
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"email":        auth.Identity.Email,
		"organization": auth.Identity.DefaultOrganization,
	})
	a.setAuthCookies(w, auth)
	writeJSON(w, http.StatusOK, auth.View())
}

func (a *API) loginFailure(w http.ResponseWriter, r *http.Request, email string, err error) {
	switch {
	case errors.Is(err, sso.ErrTfaRequired):
		obs.IncLogin("tfa_required")
		writeError(w, r, http.StatusBadRequest, "TFA code is required")
	case errors.Is(err, sso.ErrWrongTfaCode):
		obs.IncLogin("wrong_tfa_code")
		writeError(w, r, http.StatusBadRequest, "TFA code is incorrect or required")
	case errors.Is(err, sso.ErrBanned):
		obs.IncLogin("banned")
		_ = audit.LogEvent(r.Context(), "auth.login.banned", map[string]any{"email": email})
		writeError(w, r, http.StatusUnauthorized, "Username or password is invalid")
	default:
		obs.IncLogin("unauthenticated")
		writeError(w, r, http.StatusUnauthorized, "Username or password is invalid")
	}
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || strings.TrimSpace(cookie.Value) == "" {
		obs.IncRefresh("invalid")
		writeError(w, r, http.StatusUnauthorized, "Token is invalid")
		return
	}
	organizationID := strings.TrimSpace(r.URL.Query().Get("organizationId"))

	auth, err := a.auth.Refresh(r.Context(), cookie.Value, organizationID)
	if err != nil {
		obs.IncRefresh("invalid")
		writeError(w, r, http.StatusUnauthorized, "Token is invalid")
		return
	}

	obs.IncRefresh("success")
	_ = audit.LogEvent(r.Context(), "auth.refresh", map[string]any{
		"email":        auth.Identity.Email,
		"organization": auth.Identity.DefaultOrganization,
	})
	a.setAuthCookies(w, auth)
	writeJSON(w, http.StatusOK, auth.View())
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		a.clearAuthCookies(w)
		writeError(w, r, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if err := a.auth.Invalidate(r.Context(), identity.Email); err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.logout", map[string]any{"email": identity.Email})
	a.clearAuthCookies(w)
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (a *API) handleWhoami(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "Unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

func (a *API) setAuthCookies(w http.ResponseWriter, auth *sso.Authentication) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessCookieName,
		Value:    auth.AccessToken,
		Path:     "/",
		Domain:   a.cookieDomain,
		Expires:  auth.AccessExpiresAt,
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    auth.RefreshToken,
		Path:     "/auth",
		Domain:   a.cookieDomain,
		Expires:  auth.RefreshExpiresAt,
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (a *API) clearAuthCookies(w http.ResponseWriter) {
	expired := time.Unix(0, 0)
	http.SetCookie(w, &http.Cookie{
		Name: accessCookieName, Value: "", Path: "/", Domain: a.cookieDomain,
		Expires: expired, MaxAge: -1, HttpOnly: true, Secure: a.cookieSecure,
	})
	http.SetCookie(w, &http.Cookie{
		Name: refreshCookieName, Value: "", Path: "/auth", Domain: a.cookieDomain,
		Expires: expired, MaxAge: -1, HttpOnly: true, Secure: a.cookieSecure,
	})
}
