package sso

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ssohub.org/internal/obs"
	"ssohub.org/internal/token"
)

// Authenticator turns credentials into signed Authentications and verifies
// them on subsequent requests. It orchestrates the credential store, the
// token codec, and the rotation store; it performs no HTTP.
type Authenticator struct {
	users    UserProvider
	codec    *token.Codec
	rotation RotationStore
	now      func() time.Time

	refreshTTL time.Duration
}

// NewAuthenticator wires the authentication core. refreshTTL must match the
// codec's refresh lifetime; it bounds how long spent token ids are tracked.
func NewAuthenticator(users UserProvider, codec *token.Codec, rotation RotationStore, refreshTTL time.Duration) (*Authenticator, error) {
	if users == nil {
		return nil, errors.New("sso: user provider is required")
	}
	if codec == nil {
		return nil, errors.New("sso: token codec is required")
	}
	if rotation == nil {
		return nil, errors.New("sso: rotation store is required")
	}
	if refreshTTL <= 0 {
		return nil, errors.New("sso: refresh ttl must be greater than zero")
	}
	return &Authenticator{
		users:      users,
		codec:      codec,
		rotation:   rotation,
		now:        time.Now,
		refreshTTL: refreshTTL,
	}, nil
}

// WithClock overrides the time source (useful for tests).
func (a *Authenticator) WithClock(fn func() time.Time) *Authenticator {
	if fn != nil {
		a.now = fn
	}
	return a
}

// LoginWithPassword authenticates email/password (+ optional TFA code) and
// issues a fresh token pair bound to the identity's current realm roles.
func (a *Authenticator) LoginWithPassword(ctx context.Context, email, password, tfaCode string) (*Authentication, error) {
	identity, err := a.users.GetAuthenticated(ctx, email, password, tfaCode)
	if err != nil {
		return nil, err
	}
	return a.issue(*identity, identity.DefaultOrganization)
}

// LoginTrusted issues a token pair without a password check. Callers own
// the capability gating this path (for example a signed confirmation link);
// it must never be reachable from an unauthenticated endpoint.
func (a *Authenticator) LoginTrusted(ctx context.Context, email string) (*Authentication, error) {
	identity, err := a.users.GetUser(ctx, email)
	if err != nil || identity == nil {
		return nil, ErrUnauthenticated
	}
	if identity.Banned {
		return nil, ErrBanned
	}
	return a.issue(*identity, identity.DefaultOrganization)
}

// LoginWithAPIKey authenticates an accessKey/apiKey pair. The resulting
// Authentication is meant to live for a single request; the api-key gate
// detaches it when the request completes.
func (a *Authenticator) LoginWithAPIKey(ctx context.Context, accessKey, apiKey string) (*Authentication, error) {
	identity, err := a.users.GetAuthenticatedByAPIKey(ctx, accessKey, apiKey)
	if err != nil || identity == nil {
		return nil, ErrUnauthenticated
	}
	return a.issue(*identity, identity.DefaultOrganization)
}

// Refresh verifies a refresh token and rotates it into a new pair. Every
// refresh token is single-use: the first successful rotation spends its id
// and later attempts with the same token fail. When organizationID is
// given it must name a realm present in the identity's roles; otherwise
// the identity's default organization scopes the new pair.
//
// Spend is the last gate before issuance: a refresh that fails earlier
// (unknown user, ban, bad realm) leaves the token unspent and retryable.
func (a *Authenticator) Refresh(ctx context.Context, refreshToken, organizationID string) (*Authentication, error) {
	claims, err := a.codec.Verify(refreshToken, token.Refresh)
	if err != nil {
		obs.IncTokenVerifyFailure()
		return nil, ErrUnauthenticated
	}
	if revoked, err := a.revokedSince(ctx, claims); err != nil {
		return nil, err
	} else if revoked {
		return nil, ErrUnauthenticated
	}

	identity, err := a.users.GetUser(ctx, claims.User)
	if err != nil || identity == nil {
		return nil, ErrUnauthenticated
	}
	if identity.Banned {
		return nil, ErrBanned
	}

	org := organizationID
	if org == "" {
		org = identity.DefaultOrganization
	} else if !identity.HasRealm(org) {
		return nil, ErrUnauthenticated
	}

	first, err := a.rotation.Spend(ctx, claims.ID, a.spendTTL(claims))
	if err != nil {
		return nil, fmt.Errorf("sso: rotation store: %w", err)
	}
	if !first {
		obs.IncRefresh("reuse_rejected")
		return nil, ErrUnauthenticated
	}
	return a.issue(*identity, org)
}

// Authenticate resolves an access token into an Identity. Pure verification
// plus a revocation check; no token state changes.
func (a *Authenticator) Authenticate(ctx context.Context, accessToken string) (*Identity, error) {
	claims, err := a.codec.Verify(accessToken, token.Access)
	if err != nil {
		obs.IncTokenVerifyFailure()
		return nil, ErrUnauthenticated
	}
	if revoked, err := a.revokedSince(ctx, claims); err != nil {
		return nil, err
	} else if revoked {
		return nil, ErrUnauthenticated
	}

	identity, err := a.users.GetUser(ctx, claims.User)
	if err != nil || identity == nil {
		return nil, ErrUnauthenticated
	}
	if identity.Banned {
		return nil, ErrUnauthenticated
	}
	return identity, nil
}

// Invalidate revokes every token issued to the email in a second before
// now. Used by logout; subsequent verification of earlier tokens fails.
// The instant is truncated because iat claims carry second precision: a
// login later in the same wall-clock second mints tokens that stay valid.
func (a *Authenticator) Invalidate(ctx context.Context, email string) error {
	return a.rotation.RevokeOwner(ctx, email, a.now().UTC().Truncate(time.Second))
}

func (a *Authenticator) issue(identity Identity, organizationID string) (*Authentication, error) {
	scoped := identity
	if organizationID != "" {
		scoped.DefaultOrganization = organizationID
	}

	access, accessExp, err := a.codec.Issue(scoped.Email, scoped.Roles, scoped.DefaultOrganization, token.Access)
	if err != nil {
		return nil, fmt.Errorf("sso: issue access token: %w", err)
	}
	refresh, refreshExp, err := a.codec.Issue(scoped.Email, scoped.Roles, scoped.DefaultOrganization, token.Refresh)
	if err != nil {
		return nil, fmt.Errorf("sso: issue refresh token: %w", err)
	}

	return &Authentication{
		ID:               access,
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
		Identity:         scoped,
		CreatedAt:        a.now().UTC(),
	}, nil
}

// revokedSince reports whether the token was issued in a second strictly
// before the owner's last revocation. Both sides of the comparison sit on
// whole seconds: iat round-trips through the JWT at second precision and
// Invalidate truncates the instant it records.
func (a *Authenticator) revokedSince(ctx context.Context, claims *token.Claims) (bool, error) {
	at, ok, err := a.rotation.OwnerRevokedAt(ctx, claims.User)
	if err != nil {
		return false, fmt.Errorf("sso: rotation store: %w", err)
	}
	if !ok || claims.IssuedAt == nil {
		return false, nil
	}
	return claims.IssuedAt.Time.Before(at.Truncate(time.Second)), nil
}

// spendTTL keeps a spent id tracked until the token itself would expire.
func (a *Authenticator) spendTTL(claims *token.Claims) time.Duration {
	if claims.ExpiresAt == nil {
		return a.refreshTTL
	}
	ttl := claims.ExpiresAt.Time.Sub(a.now())
	if ttl <= 0 {
		ttl = time.Minute
	}
	return ttl
}
