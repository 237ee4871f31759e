package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ssohub.org/internal/roles"
	"ssohub.org/internal/sso"
	"ssohub.org/internal/store"
	"ssohub.org/internal/store/memory"
	"ssohub.org/internal/token"
	"ssohub.org/internal/totp"
)

func newTestAPI(t *testing.T, throttleDelay time.Duration) (*API, *memory.Provider) {
	t.Helper()
	codec, err := token.NewCodec(token.Config{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		Issuer:        "ssohub",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	users := memory.New()
	auth, err := sso.NewAuthenticator(users, codec, sso.NewMemoryRotationStore(), 24*time.Hour)
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	api := New(Config{
		Authenticator: auth,
		Catalog:       roles.NewCatalog(roles.Builtin()),
		Throttle:      sso.NewThrottle(throttleDelay),
		Banner:        users,
		Version:       "test",
	})
	return api, users
}

func seedUser(t *testing.T, users *memory.Provider, rec store.Record, password string) {
	t.Helper()
	hash, err := store.HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	rec.PasswordHash = hash
	users.Put(rec)
}

func doLogin(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func errorMessage(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body %q: %v", rr.Body.String(), err)
	}
	return payload.Error
}

func cookieValue(rr *httptest.ResponseRecorder, name string) string {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func TestLoginIssuesTokensAndCookies(t *testing.T) {
	api, users := newTestAPI(t, 0)
	seedUser(t, users, store.Record{
		Email:               "jane@acme.test",
		Roles:               map[string]string{"org1": "USER"},
		DefaultOrganization: "org1",
	}, "secret")
	h := api.Handler()

	rr := doLogin(t, h, `{"email":"jane@acme.test","password":"secret"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", rr.Code, rr.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"accessToken", "refreshToken", "expiresAt"} {
		if v, _ := resp[key].(string); v == "" {
			t.Fatalf("response must carry %s", key)
		}
	}
	if cookieValue(rr, accessCookieName) == "" || cookieValue(rr, refreshCookieName) == "" {
		t.Fatal("both auth cookies must be set")
	}
}

func TestLoginFailureMessages(t *testing.T) {
	api, users := newTestAPI(t, 0)
	secret, err := totp.NewSecret()
	if err != nil {
		t.Fatalf("NewSecret: %v", err)
	}
	seedUser(t, users, store.Record{Email: "jane@acme.test"}, "secret")
	seedUser(t, users, store.Record{
		Email:      "tfa@acme.test",
		TfaEnabled: true,
		TfaSecret:  secret,
	}, "secret")
	h := api.Handler()

	tests := []struct {
		name    string
		body    string
		code    int
		message string
	}{
		{"wrong password", `{"email":"jane@acme.test","password":"nope"}`,
			http.StatusUnauthorized, "Username or password is invalid"},
		{"unknown user", `{"email":"ghost@acme.test","password":"secret"}`,
			http.StatusUnauthorized, "Username or password is invalid"},
		{"tfa missing", `{"email":"tfa@acme.test","password":"secret"}`,
			http.StatusBadRequest, "TFA code is required"},
		{"tfa wrong", `{"email":"tfa@acme.test","password":"secret","tfaCode":"000000"}`,
			http.StatusBadRequest, "TFA code is incorrect or required"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := doLogin(t, h, tc.body)
			if rr.Code != tc.code {
				t.Fatalf("status = %d, want %d", rr.Code, tc.code)
			}
			if got := errorMessage(t, rr); got != tc.message {
				t.Fatalf("message = %q, want %q", got, tc.message)
			}
		})
	}
}

func TestLoginWithValidTfaCode(t *testing.T) {
	api, users := newTestAPI(t, 0)
	secret, err := totp.NewSecret()
	if err != nil {
		t.Fatalf("NewSecret: %v", err)
	}
	seedUser(t, users, store.Record{
		Email:      "tfa@acme.test",
		TfaEnabled: true,
		TfaSecret:  secret,
	}, "secret")

	code, err := totp.Generate(secret, time.Now())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	rr := doLogin(t, api.Handler(), `{"email":"tfa@acme.test","password":"secret","tfaCode":"`+code+`"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", rr.Code, rr.Body.String())
	}
}

func TestLoginThrottled(t *testing.T) {
	api, users := newTestAPI(t, 5*time.Second)
	seedUser(t, users, store.Record{Email: "jane@acme.test"}, "secret")
	h := api.Handler()

	// First attempt opens the window (wrong password, still counts).
	rr := doLogin(t, h, `{"email":"jane@acme.test","password":"nope"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("first attempt status = %d", rr.Code)
	}

	// Immediate retry from the same client is throttled.
	rr = doLogin(t, h, `{"email":"jane@acme.test","password":"secret"}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("second attempt status = %d, want 403", rr.Code)
	}
	if got := errorMessage(t, rr); got != "Please wait 5s before next attempt" {
		t.Fatalf("message = %q", got)
	}
}

func TestRefreshRotatesAndRejectsReplay(t *testing.T) {
	api, users := newTestAPI(t, 0)
	seedUser(t, users, store.Record{
		Email:               "jane@acme.test",
		Roles:               map[string]string{"org1": "USER"},
		DefaultOrganization: "org1",
	}, "secret")
	h := api.Handler()

	login := doLogin(t, h, `{"email":"jane@acme.test","password":"secret"}`)
	refresh := cookieValue(login, refreshCookieName)
	if refresh == "" {
		t.Fatal("login must set the refresh cookie")
	}

	req := httptest.NewRequest(http.MethodGet, "/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: refreshCookieName, Value: refresh})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh status = %d: %s", rr.Code, rr.Body.String())
	}
	if rotated := cookieValue(rr, refreshCookieName); rotated == "" || rotated == refresh {
		t.Fatal("refresh must rotate the refresh cookie")
	}

	// Replaying the spent refresh token fails.
	req = httptest.NewRequest(http.MethodGet, "/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: refreshCookieName, Value: refresh})
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("replay status = %d, want 401", rr.Code)
	}
	if got := errorMessage(t, rr); got != "Token is invalid" {
		t.Fatalf("message = %q", got)
	}
}

func TestRefreshWithoutCookie(t *testing.T) {
	api, _ := newTestAPI(t, 0)
	rr := httptest.NewRecorder()
	api.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/auth/refresh", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestRealmAndPermissionChecks(t *testing.T) {
	api, users := newTestAPI(t, 0)
	seedUser(t, users, store.Record{
		Email:               "jane@acme.test",
		Roles:               map[string]string{"org1": "USER"},
		DefaultOrganization: "org1",
	}, "secret")
	h := api.Handler()

	login := doLogin(t, h, `{"email":"jane@acme.test","password":"secret"}`)
	access := cookieValue(login, accessCookieName)

	get := func(path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set(authHeader, bearer+token)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	// No identity at all.
	if rr := get("/organizations/org1/access", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", rr.Code)
	}

	// Foreign realm.
	rr := get("/organizations/org2/access", access)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("foreign realm status = %d, want 403", rr.Code)
	}
	if got := errorMessage(t, rr); got != "user doesn't have access to realm org2" {
		t.Fatalf("message = %q", got)
	}

	// Held realm, held permission (USER grants user:read).
	rr = get("/organizations/org1/access", access)
	if rr.Code != http.StatusOK {
		t.Fatalf("granted status = %d: %s", rr.Code, rr.Body.String())
	}

	// Held realm, missing permission (USER lacks ban:user).
	req := httptest.NewRequest(http.MethodPost, "/organizations/org1/users/bob@acme.test/ban", nil)
	req.Header.Set(authHeader, bearer+access)
	banRR := httptest.NewRecorder()
	h.ServeHTTP(banRR, req)
	if banRR.Code != http.StatusForbidden {
		t.Fatalf("denied permission status = %d, want 403", banRR.Code)
	}
	if got := errorMessage(t, banRR); !strings.Contains(got, "has no access to method") {
		t.Fatalf("message = %q must name the denied method", got)
	}
}

func TestSystemRealmBypassesCatalog(t *testing.T) {
	api, users := newTestAPI(t, 0)
	seedUser(t, users, store.Record{
		Email: "root@acme.test",
		Roles: map[string]string{sso.SystemRealm: "ADMIN"},
	}, "secret")
	seedUser(t, users, store.Record{Email: "bob@acme.test"}, "secret")
	h := api.Handler()

	login := doLogin(t, h, `{"email":"root@acme.test","password":"secret"}`)
	access := cookieValue(login, accessCookieName)

	// SYSTEM role opens every realm, even ones absent from the role map.
	req := httptest.NewRequest(http.MethodGet, "/organizations/org42/access", nil)
	req.Header.Set(authHeader, bearer+access)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("system in foreign realm status = %d: %s", rr.Code, rr.Body.String())
	}

	// And the SYSTEM-gated route.
	req = httptest.NewRequest(http.MethodGet, "/system/roles", nil)
	req.Header.Set(authHeader, bearer+access)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("system roles status = %d: %s", rr.Code, rr.Body.String())
	}

	// Ban flows through to the provider.
	req = httptest.NewRequest(http.MethodPost, "/organizations/org1/users/bob@acme.test/ban", nil)
	req.Header.Set(authHeader, bearer+access)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("ban status = %d: %s", rr.Code, rr.Body.String())
	}
	if rr := doLogin(t, h, `{"email":"bob@acme.test","password":"secret"}`); rr.Code != http.StatusUnauthorized {
		t.Fatalf("banned login status = %d, want 401", rr.Code)
	}
}

func TestAPIKeyAuthentication(t *testing.T) {
	api, users := newTestAPI(t, 0)
	seedUser(t, users, store.Record{
		Email:               "jane@acme.test",
		APIKey:              "api-key-1",
		Roles:               map[string]string{"org1": "USER"},
		DefaultOrganization: "org1",
	}, "secret")
	h := api.Handler()
	accessKey := sso.AccessKeyOf("jane@acme.test")

	req := httptest.NewRequest(http.MethodGet,
		"/organizations/org1/access?accessKey="+accessKey+"&apiKey=api-key-1", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("api-key request status = %d: %s", rr.Code, rr.Body.String())
	}

	// Wrong secret.
	req = httptest.NewRequest(http.MethodGet,
		"/organizations/org1/access?accessKey="+accessKey+"&apiKey=wrong", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad api-key status = %d, want 401", rr.Code)
	}
}

func TestAPIKeyWhileLoggedInConflicts(t *testing.T) {
	api, users := newTestAPI(t, 0)
	seedUser(t, users, store.Record{
		Email:               "jane@acme.test",
		APIKey:              "api-key-1",
		Roles:               map[string]string{"org1": "USER"},
		DefaultOrganization: "org1",
	}, "secret")
	h := api.Handler()

	login := doLogin(t, h, `{"email":"jane@acme.test","password":"secret"}`)
	access := cookieValue(login, accessCookieName)
	accessKey := sso.AccessKeyOf("jane@acme.test")

	req := httptest.NewRequest(http.MethodGet,
		"/organizations/org1/access?accessKey="+accessKey+"&apiKey=api-key-1", nil)
	req.Header.Set(authHeader, bearer+access)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rr.Code)
	}
	if got := errorMessage(t, rr); got != "invoking service with apiKey while logged in" {
		t.Fatalf("message = %q", got)
	}
}

func TestAPIKeyIdentityIsDetachedAfterRequest(t *testing.T) {
	api, users := newTestAPI(t, 0)
	seedUser(t, users, store.Record{
		Email:  "jane@acme.test",
		APIKey: "api-key-1",
	}, "secret")

	var seen *RequestAuth
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = AuthFromContext(r.Context())
		if seen == nil || seen.Identity == nil || !seen.Temporary {
			t.Fatal("handler must observe a temporary identity")
		}
		w.WriteHeader(http.StatusOK)
	})
	h := api.resolveIdentity(api.apiKeyGate(inner))

	accessKey := sso.AccessKeyOf("jane@acme.test")
	req := httptest.NewRequest(http.MethodGet, "/?accessKey="+accessKey+"&apiKey=api-key-1", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if seen.Identity != nil || seen.Temporary {
		t.Fatal("temporary identity must be detached after the request")
	}
}

func TestLogoutInvalidatesSession(t *testing.T) {
	// Revocation instants sit on whole seconds, so the logout happens a
	// second after the login under an injected clock.
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	codec, err := token.NewCodec(token.Config{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		Issuer:        "ssohub",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
	}, token.WithClock(clock))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	users := memory.New()
	rotation := sso.NewMemoryRotationStore().WithRotationClock(clock)
	auth, err := sso.NewAuthenticator(users, codec, rotation, 24*time.Hour)
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	auth = auth.WithClock(clock)
	api := New(Config{
		Authenticator: auth,
		Catalog:       roles.NewCatalog(roles.Builtin()),
		Throttle:      sso.NewThrottle(0),
		Banner:        users,
		Version:       "test",
	})
	seedUser(t, users, store.Record{
		Email:               "jane@acme.test",
		Roles:               map[string]string{"org1": "USER"},
		DefaultOrganization: "org1",
	}, "secret")
	h := api.Handler()

	login := doLogin(t, h, `{"email":"jane@acme.test","password":"secret"}`)
	access := cookieValue(login, accessCookieName)

	now = now.Add(time.Second)
	req := httptest.NewRequest(http.MethodGet, "/auth/logout", nil)
	req.Header.Set(authHeader, bearer+access)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("logout status = %d: %s", rr.Code, rr.Body.String())
	}
	for _, c := range rr.Result().Cookies() {
		if c.MaxAge >= 0 && c.Value != "" {
			t.Fatalf("cookie %s must be expired on logout", c.Name)
		}
	}

	// The old access token no longer authenticates.
	req = httptest.NewRequest(http.MethodGet, "/auth/whoami", nil)
	req.Header.Set(authHeader, bearer+access)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("whoami after logout status = %d, want 401", rr.Code)
	}
}

func TestWhoami(t *testing.T) {
	api, users := newTestAPI(t, 0)
	seedUser(t, users, store.Record{
		Email:               "jane@acme.test",
		Roles:               map[string]string{"org1": "USER"},
		DefaultOrganization: "org1",
	}, "secret")
	h := api.Handler()

	login := doLogin(t, h, `{"email":"jane@acme.test","password":"secret"}`)
	access := cookieValue(login, accessCookieName)

	req := httptest.NewRequest(http.MethodGet, "/auth/whoami", nil)
	req.Header.Set(authHeader, bearer+access)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("whoami status = %d", rr.Code)
	}
	var identity sso.Identity
	if err := json.Unmarshal(rr.Body.Bytes(), &identity); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if identity.Email != "jane@acme.test" {
		t.Fatalf("email = %q", identity.Email)
	}
}

func TestRealmParameterMissing(t *testing.T) {
	api, users := newTestAPI(t, 0)
	seedUser(t, users, store.Record{
		Email: "jane@acme.test",
		Roles: map[string]string{"org1": "USER"},
	}, "secret")
	h := api.Handler()

	login := doLogin(t, h, `{"email":"jane@acme.test","password":"secret"}`)
	access := cookieValue(login, accessCookieName)

	// A route whose gate names a parameter the router never binds.
	inner := api.requireRealm("missingParam", roles.PermUserRead)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
	guarded := api.resolveIdentity(inner)

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	req.Header.Set(authHeader, bearer+access)
	rr := httptest.NewRecorder()
	guarded.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}
	if got := errorMessage(t, rr); got != "realm is not passed" {
		t.Fatalf("message = %q", got)
	}
}

func TestHealthAndReady(t *testing.T) {
	api, _ := newTestAPI(t, 0)
	h := api.Handler()

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, rr.Code)
		}
	}
}
