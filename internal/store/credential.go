// Package store holds the user record shape and the credential checks
// shared by the in-memory and Postgres providers. The providers only load
// records; every password, TFA, and api-key decision lives here so the two
// backends cannot drift.
package store

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"ssohub.org/internal/sso"
	"ssohub.org/internal/totp"
)

// Record is a stored user. PasswordHash is bcrypt; APIKey is the literal
// secret half of the api-key pair (the access key is derived from the
// email and never stored).
type Record struct {
	Email               string
	PasswordHash        string
	APIKey              string
	Roles               map[string]string // realm -> role
	DefaultOrganization string
	DefaultAccounts     map[string]string // organization -> account
	TfaEnabled          bool
	TfaSecret           string
	Banned              bool
}

// Identity converts a record into the view the authentication core consumes.
func (r Record) Identity() *sso.Identity {
	return &sso.Identity{
		Email:               r.Email,
		Roles:               r.Roles,
		DefaultOrganization: r.DefaultOrganization,
		DefaultAccounts:     r.DefaultAccounts,
		APIKey:              r.APIKey,
		TfaEnabled:          r.TfaEnabled,
		TfaSecret:           r.TfaSecret,
		Banned:              r.Banned,
	}
}

// HashPassword hashes a plaintext password with bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares a plaintext password with the stored hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// Authenticate runs the full credential check: password first, then TFA
// when the record requires it, then the ban flag. The error order matters:
// a wrong password never leaks whether TFA is enabled.
func Authenticate(rec Record, password, tfaCode string, now time.Time) (*sso.Identity, error) {
	if err := VerifyPassword(rec.PasswordHash, password); err != nil {
		return nil, sso.ErrUnauthenticated
	}
	if rec.TfaEnabled {
		if strings.TrimSpace(tfaCode) == "" {
			return nil, sso.ErrTfaRequired
		}
		if !totp.Verify(rec.TfaSecret, tfaCode, now) {
			return nil, sso.ErrWrongTfaCode
		}
	}
	if rec.Banned {
		return nil, sso.ErrBanned
	}
	return rec.Identity(), nil
}

// AuthenticateAPIKey checks an accessKey/apiKey pair against the record.
// The access key is recomputed from the email; both comparisons are
// constant-time.
func AuthenticateAPIKey(rec Record, accessKey, apiKey string) (*sso.Identity, error) {
	if rec.APIKey == "" || apiKey == "" {
		return nil, sso.ErrUnauthenticated
	}
	keyOK := subtle.ConstantTimeCompare([]byte(sso.AccessKeyOf(rec.Email)), []byte(accessKey)) == 1
	secretOK := subtle.ConstantTimeCompare([]byte(rec.APIKey), []byte(apiKey)) == 1
	if !keyOK || !secretOK {
		return nil, sso.ErrUnauthenticated
	}
	if rec.Banned {
		return nil, sso.ErrBanned
	}
	return rec.Identity(), nil
}
