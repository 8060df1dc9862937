package auth

import (
	"context"
	"sync"
	"time"
)

// RevocationStore is a deny-list of token IDs, each held until the token
// would have expired anyway.
type RevocationStore interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

type MemoryRevocationStore struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

func NewMemoryRevocationStore() *MemoryRevocationStore {
	return &MemoryRevocationStore{
		revoked: make(map[string]time.Time),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryRevocationStore) Revoke(_ context.Context, tokenID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[tokenID] = expiresAt
	return nil
}

func (s *MemoryRevocationStore) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.revoked[tokenID]
	if !ok {
		return false, nil
	}
	if !s.now().Before(expiresAt) {
		delete(s.revoked, tokenID)
		return false, nil
	}
	return true, nil
}

// Sweep removes entries for tokens that have expired on their own.
func (s *MemoryRevocationStore) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, expiresAt := range s.revoked {
		if !now.Before(expiresAt) {
			delete(s.revoked, id)
			removed++
		}
	}
	return removed
}
