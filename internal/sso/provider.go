package sso

import "context"

// UserProvider is the contract the credential store supplies to the
// authentication core. Implementations live in internal/store; the core
// only consumes lookups and verification results.
//
// GetAuthenticated verifies a password (and, when the identity has TFA
// enabled, a one-time code) and returns the identity or one of
// ErrUnauthenticated, ErrTfaRequired, ErrWrongTfaCode, ErrBanned.
type UserProvider interface {
	GetUser(ctx context.Context, email string) (*Identity, error)
	GetAuthenticated(ctx context.Context, email, password, tfaCode string) (*Identity, error)
	GetAuthenticatedByAPIKey(ctx context.Context, accessKey, apiKey string) (*Identity, error)
}
