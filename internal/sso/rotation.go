package sso

import (
	"context"
	"sync"
	"time"
)

// RotationStore tracks spent refresh-token ids and per-owner revocations.
// Each refresh token may rotate exactly once: Spend marks its id and
// reports whether this call was the first. RevokeOwner invalidates every
// token issued to an owner before the given instant (logout).
type RotationStore interface {
	Spend(ctx context.Context, id string, ttl time.Duration) (bool, error)
	RevokeOwner(ctx context.Context, owner string, at time.Time) error
	OwnerRevokedAt(ctx context.Context, owner string) (time.Time, bool, error)
}

// MemoryRotationStore is the single-node RotationStore. Entries expire on
// their own TTL; eviction happens lazily on access and in Purge.
type MemoryRotationStore struct {
	mu      sync.Mutex
	spent   map[string]time.Time // id -> entry expiry
	revoked map[string]time.Time // owner -> revocation instant
	now     func() time.Time
}

// NewMemoryRotationStore builds an empty store.
func NewMemoryRotationStore() *MemoryRotationStore {
	return &MemoryRotationStore{
		spent:   make(map[string]time.Time),
		revoked: make(map[string]time.Time),
		now:     time.Now,
	}
}

// WithRotationClock overrides the time source (useful for tests).
func (s *MemoryRotationStore) WithRotationClock(fn func() time.Time) *MemoryRotationStore {
	if fn != nil {
		s.now = fn
	}
	return s
}

// Spend marks the id as used for ttl. The first caller wins; concurrent
// calls for the same id cannot both observe "first use".
func (s *MemoryRotationStore) Spend(_ context.Context, id string, ttl time.Duration) (bool, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if exp, ok := s.spent[id]; ok && now.Before(exp) {
		return false, nil
	}
	s.spent[id] = now.Add(ttl)
	return true, nil
}

// RevokeOwner records a revocation instant for the owner.
func (s *MemoryRotationStore) RevokeOwner(_ context.Context, owner string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[owner] = at
	return nil
}

// OwnerRevokedAt returns the owner's revocation instant, if any.
func (s *MemoryRotationStore) OwnerRevokedAt(_ context.Context, owner string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.revoked[owner]
	return at, ok, nil
}

// Purge drops expired spent ids and revocations older than maxAge. Intended
// to be called from a background ticker.
func (s *MemoryRotationStore) Purge(maxAge time.Duration) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, exp := range s.spent {
		if now.After(exp) {
			delete(s.spent, id)
		}
	}
	for owner, at := range s.revoked {
		if now.Sub(at) > maxAge {
			delete(s.revoked, owner)
		}
	}
}
