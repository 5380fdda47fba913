package store

import (
	"context"
	"sort"
	"sync"

	"github.com/quantavest/pyramid-backend/pkg/types"
)

// MemoryStore is an in-memory Store used by tests and ad-hoc tooling. It
// honors the same atomicity contract as SQLiteStore: Apply holds the lock for
// the whole mutation, so no reader observes partial state.
type MemoryStore struct {
	mu        sync.RWMutex
	accounts  map[string]types.Account
	positions map[string]types.Position // by position id
	history   []types.HistoryEntry
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[string]types.Account),
		positions: make(map[string]types.Position),
	}
}

// CreateAccount inserts a new account.
func (s *MemoryStore) CreateAccount(ctx context.Context, a *types.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = *a
	return nil
}

// GetAccount loads one account by id.
func (s *MemoryStore) GetAccount(ctx context.Context, id string) (*types.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &a, nil
}

// ListAccountIDs returns all account ids sorted by registration time.
func (s *MemoryStore) ListAccountIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	accounts := make([]types.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		accounts = append(accounts, a)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
	})
	ids := make([]string, len(accounts))
	for i, a := range accounts {
		ids[i] = a.ID
	}
	return ids, nil
}

// Positions returns the account's open positions, oldest entry first.
func (s *MemoryStore) Positions(ctx context.Context, accountID string) ([]types.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var positions []types.Position
	for _, p := range s.positions {
		if p.AccountID == accountID {
			positions = append(positions, p)
		}
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].EntryTime.Before(positions[j].EntryTime)
	})
	return positions, nil
}

// History returns entries newest-first; limit <= 0 returns all.
func (s *MemoryStore) History(ctx context.Context, accountID string, limit int) ([]types.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var entries []types.HistoryEntry
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].AccountID != accountID {
			continue
		}
		entries = append(entries, s.history[i])
		if limit > 0 && len(entries) == limit {
			break
		}
	}
	return entries, nil
}

// Apply applies the whole mutation under one lock acquisition.
func (s *MemoryStore) Apply(ctx context.Context, m Mutation) error {
	if m.Empty() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if m.Account != nil {
		if _, ok := s.accounts[m.Account.ID]; !ok {
			return ErrAccountNotFound
		}
		s.accounts[m.Account.ID] = *m.Account
	}
	for _, p := range m.UpsertPositions {
		s.positions[p.ID] = p
	}
	for _, id := range m.DeletePositionIDs {
		delete(s.positions, id)
	}
	s.history = append(s.history, m.History...)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
