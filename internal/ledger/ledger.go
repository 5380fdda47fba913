// Package ledger exposes the per-account position ledger: a single-writer
// view over the account store where every strategy action lands as one
// atomic mutation.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantavest/pyramid-backend/internal/store"
	"github.com/quantavest/pyramid-backend/pkg/types"
)

// Ledger wraps a Store with per-account mutual exclusion. The runner and the
// API both go through Lock so overlapping evaluations of the same account
// cannot interleave mutations.
type Ledger struct {
	logger *zap.Logger
	store  store.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a ledger over the given store.
func New(logger *zap.Logger, s store.Store) *Ledger {
	return &Ledger{
		logger: logger.Named("ledger"),
		store:  s,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Lock acquires the account's mutex and returns the unlock function.
func (l *Ledger) Lock(accountID string) func() {
	l.mu.Lock()
	m, ok := l.locks[accountID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[accountID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Register creates a new account with the given starting balance and base
// lot. An empty id gets a generated one. Registering an existing id returns
// the stored account unchanged, matching idempotent registration.
func (l *Ledger) Register(ctx context.Context, id string, initialBalance, baseLot decimal.Decimal) (*types.Account, error) {
	if id == "" {
		id = uuid.New().String()
	}

	existing, err := l.store.GetAccount(ctx, id)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrAccountNotFound) {
		return nil, fmt.Errorf("check account %s: %w", id, err)
	}

	now := time.Now().UTC()
	acct := &types.Account{
		ID:          id,
		CashBalance: initialBalance,
		NextLotSize: baseLot,
		MaxEquity:   initialBalance,
		LastDeposit: now,
		CreatedAt:   now,
	}
	if err := l.store.CreateAccount(ctx, acct); err != nil {
		return nil, fmt.Errorf("register account: %w", err)
	}

	l.logger.Info("Account registered",
		zap.String("account", id),
		zap.String("balance", initialBalance.String()))
	return acct, nil
}

// Account returns the current account row.
func (l *Ledger) Account(ctx context.Context, id string) (*types.Account, error) {
	return l.store.GetAccount(ctx, id)
}

// Snapshot returns the account and its open positions.
func (l *Ledger) Snapshot(ctx context.Context, id string) (*types.Account, []types.Position, error) {
	acct, err := l.store.GetAccount(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	positions, err := l.store.Positions(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return acct, positions, nil
}

// Positions returns the account's open positions.
func (l *Ledger) Positions(ctx context.Context, id string) ([]types.Position, error) {
	return l.store.Positions(ctx, id)
}

// History returns the account's history, newest-first.
func (l *Ledger) History(ctx context.Context, id string, limit int) ([]types.HistoryEntry, error) {
	return l.store.History(ctx, id, limit)
}

// AccountIDs lists every registered account.
func (l *Ledger) AccountIDs(ctx context.Context) ([]string, error) {
	return l.store.ListAccountIDs(ctx)
}

// Apply commits one atomic mutation. History entries without an id get a
// ULID so the append-only log stays lexicographically time-ordered.
func (l *Ledger) Apply(ctx context.Context, m store.Mutation) error {
	for i := range m.History {
		if m.History[i].ID == "" {
			m.History[i].ID = ulid.Make().String()
		}
	}
	return l.store.Apply(ctx, m)
}

// Credit adds a manual deposit to the account's cash and records it. It
// takes the account lock itself since it is called from the API, outside any
// evaluation cycle.
func (l *Ledger) Credit(ctx context.Context, accountID string, amount decimal.Decimal) (*types.Account, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("deposit amount must be positive, got %s", amount)
	}

	unlock := l.Lock(accountID)
	defer unlock()

	acct, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	acct.CashBalance = acct.CashBalance.Add(amount)
	err = l.Apply(ctx, store.Mutation{
		Account: acct,
		History: []types.HistoryEntry{{
			AccountID: accountID,
			Action:    types.ActionManualDeposit,
			Quantity:  decimal.Zero,
			Price:     decimal.Zero,
			Note:      fmt.Sprintf("deposit %s", amount),
			Timestamp: time.Now().UTC(),
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("credit account %s: %w", accountID, err)
	}
	return acct, nil
}
