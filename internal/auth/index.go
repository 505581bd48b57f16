package auth

import (
	"context"
	"sync"
	"time"
)

// TokenIndex is a derived lookup from refresh token value to owning account.
// It is never the source of truth: misses fall back to the RefreshTokenStore,
// and RebuildTokenIndex repopulates it from the store's active tokens.
type TokenIndex interface {
	Put(ctx context.Context, token string, accountID int64, expiresAt time.Time) error
	Lookup(ctx context.Context, token string) (int64, bool, error)
	Remove(ctx context.Context, tokens ...string) error
}

type indexEntry struct {
	accountID int64
	expiresAt time.Time
}

// MemoryTokenIndex is a process-local TokenIndex.
type MemoryTokenIndex struct {
	mu      sync.RWMutex
	entries map[string]indexEntry
	now     func() time.Time
}

// NewMemoryTokenIndex returns an empty index. A nil clock defaults to time.Now.
func NewMemoryTokenIndex(now func() time.Time) *MemoryTokenIndex {
	if now == nil {
		now = time.Now
	}
	return &MemoryTokenIndex{entries: make(map[string]indexEntry), now: now}
}

func (m *MemoryTokenIndex) Put(_ context.Context, token string, accountID int64, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[token] = indexEntry{accountID: accountID, expiresAt: expiresAt}
	return nil
}

func (m *MemoryTokenIndex) Lookup(_ context.Context, token string) (int64, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[token]
	m.mu.RUnlock()
	if !ok {
		return 0, false, nil
	}
	if !m.now().Before(e.expiresAt) {
		m.mu.Lock()
		delete(m.entries, token)
		m.mu.Unlock()
		return 0, false, nil
	}
	return e.accountID, true, nil
}

func (m *MemoryTokenIndex) Remove(_ context.Context, tokens ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tokens {
		delete(m.entries, t)
	}
	return nil
}

func (m *MemoryTokenIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// RebuildTokenIndex loads every active token from store into index and
// returns how many entries were written.
func RebuildTokenIndex(ctx context.Context, store RefreshTokenStore, index TokenIndex, now time.Time) (int, error) {
	active, err := store.ListActive(ctx, now)
	if err != nil {
		return 0, err
	}
	for _, t := range active {
		if err := index.Put(ctx, t.Token, t.AccountID, t.ExpiresAt); err != nil {
			return 0, err
		}
	}
	return len(active), nil
}
