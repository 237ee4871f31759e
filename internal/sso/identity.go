// Package sso implements the authentication core: identities, the
// credential-store contract, token issuance and rotation, and the login
// throttle. HTTP concerns live in internal/httpapi; this package never
// touches a request.
package sso

import (
	"crypto/sha256"
	"encoding/base32"
	"errors"
	"strings"
	"time"
)

// SystemRealm is the reserved realm name. An identity holding a role in
// SystemRealm passes any realm or permission check regardless of the
// catalog contents.
const SystemRealm = "SYSTEM"

// Identity is an immutable view of an authenticated principal. It is owned
// by the credential store; this package only reads it.
type Identity struct {
	Email               string            `json:"email"`
	Roles               map[string]string `json:"roles,omitempty"` // realm (organization id) -> role name
	DefaultOrganization string            `json:"defaultOrganization,omitempty"`
	DefaultAccounts     map[string]string `json:"defaultAccounts,omitempty"` // organization id -> account id
	APIKey              string            `json:"-"`
	TfaEnabled          bool              `json:"tfaEnabled,omitempty"`
	TfaSecret           string            `json:"-"`
	Banned              bool              `json:"banned,omitempty"`
}

// Role resolves the identity's role for a realm. A SYSTEM role, when
// present, takes precedence and satisfies every realm.
func (id Identity) Role(realm string) (string, bool) {
	if role, ok := id.Roles[SystemRealm]; ok {
		return role, true
	}
	role, ok := id.Roles[realm]
	return role, ok
}

// HasRealm reports whether the identity can operate in the given realm.
func (id Identity) HasRealm(realm string) bool {
	_, ok := id.Role(realm)
	return ok
}

// IsSystem reports whether the identity holds a role in the SYSTEM realm.
func (id Identity) IsSystem() bool {
	_, ok := id.Roles[SystemRealm]
	return ok
}

// AccessKey returns the identity's derived api access key.
func (id Identity) AccessKey() string {
	return AccessKeyOf(id.Email)
}

// DefaultAccount returns the identity's default account in an organization.
func (id Identity) DefaultAccount(organizationID string) (string, bool) {
	acc, ok := id.DefaultAccounts[organizationID]
	return acc, ok
}

// AccessKeyOf derives the public half of an api-key pair from an email.
// The derivation is deterministic so keys never need to be stored.
func AccessKeyOf(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(sum[:10])
}

// Authentication is the ephemeral result of a successful login or refresh.
// It is never mutated, only replaced by the next rotation.
type Authentication struct {
	// ID is the signed access token; it doubles as the caller-visible
	// authentication id.
	ID               string
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	Identity         Identity
	CreatedAt        time.Time
}

// View is the subset of an Authentication safe to return to clients.
func (a *Authentication) View() map[string]any {
	view := map[string]any{
		"email":        a.Identity.Email,
		"accessToken":  a.AccessToken,
		"refreshToken": a.RefreshToken,
		"expiresAt":    a.AccessExpiresAt.UTC().Format(time.RFC3339),
	}
	if a.Identity.DefaultOrganization != "" {
		view["organization"] = a.Identity.DefaultOrganization
	}
	return view
}

// Failure conditions surfaced by authentication attempts. These are
// recoverable-by-caller conditions, never wrapped into opaque errors.
var (
	ErrUnauthenticated = errors.New("sso: unauthenticated")
	ErrTfaRequired     = errors.New("sso: tfa code is required")
	ErrWrongTfaCode    = errors.New("sso: tfa code is incorrect")
	ErrBanned          = errors.New("sso: user is banned")
	ErrThrottled       = errors.New("sso: too many login attempts")
	ErrNotFound        = errors.New("sso: not found")
)
