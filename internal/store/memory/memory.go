// Package memory is the development and test UserProvider. It keeps user
// records in a map and delegates every credential decision to the shared
// checks in internal/store.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"ssohub.org/internal/sso"
	"ssohub.org/internal/store"
)

type Provider struct {
	mu    sync.RWMutex
	users map[string]store.Record // lowercased email -> record
	now   func() time.Time
}

var _ sso.UserProvider = (*Provider)(nil)

func New() *Provider {
	return &Provider{
		users: make(map[string]store.Record),
		now:   time.Now,
	}
}

// WithClock overrides the time source (useful for TFA tests).
func (p *Provider) WithClock(fn func() time.Time) *Provider {
	if fn != nil {
		p.now = fn
	}
	return p
}

// Put inserts or replaces a record.
func (p *Provider) Put(rec store.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[key(rec.Email)] = rec
}

// SetBanned flips the ban flag for an email.
func (p *Provider) SetBanned(_ context.Context, email string, banned bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.users[key(email)]
	if !ok {
		return sso.ErrNotFound
	}
	rec.Banned = banned
	p.users[key(email)] = rec
	return nil
}

func (p *Provider) GetUser(_ context.Context, email string) (*sso.Identity, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rec, ok := p.users[key(email)]
	if !ok {
		return nil, sso.ErrNotFound
	}
	return rec.Identity(), nil
}

func (p *Provider) GetAuthenticated(_ context.Context, email, password, tfaCode string) (*sso.Identity, error) {
	p.mu.RLock()
	rec, ok := p.users[key(email)]
	p.mu.RUnlock()
	if !ok {
		return nil, sso.ErrUnauthenticated
	}
	return store.Authenticate(rec, password, tfaCode, p.now())
}

func (p *Provider) GetAuthenticatedByAPIKey(_ context.Context, accessKey, apiKey string) (*sso.Identity, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, rec := range p.users {
		if sso.AccessKeyOf(rec.Email) == accessKey {
			return store.AuthenticateAPIKey(rec, accessKey, apiKey)
		}
	}
	return nil, sso.ErrUnauthenticated
}

func key(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
