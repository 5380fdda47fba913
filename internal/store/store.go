// Package store provides durable persistence for accounts, positions and the
// append-only action history.
package store

import (
	"context"
	"errors"

	"github.com/quantavest/pyramid-backend/pkg/types"
)

// ErrAccountNotFound is returned when an account id is unknown.
var ErrAccountNotFound = errors.New("account not found")

// Mutation is one atomic unit of ledger change: the account row update, any
// position upserts/deletes, and the history appends for the same action
// become visible together or not at all.
type Mutation struct {
	Account           *types.Account
	UpsertPositions   []types.Position
	DeletePositionIDs []string
	History           []types.HistoryEntry
}

// Empty reports whether applying the mutation would change nothing.
func (m Mutation) Empty() bool {
	return m.Account == nil &&
		len(m.UpsertPositions) == 0 &&
		len(m.DeletePositionIDs) == 0 &&
		len(m.History) == 0
}

// Store is the durable CRUD surface the ledger builds on. Implementations
// must make Apply transactional: a failure leaves no partial state behind.
type Store interface {
	CreateAccount(ctx context.Context, account *types.Account) error
	GetAccount(ctx context.Context, id string) (*types.Account, error)
	ListAccountIDs(ctx context.Context) ([]string, error)

	Positions(ctx context.Context, accountID string) ([]types.Position, error)

	// History returns entries newest-first; limit <= 0 means no limit.
	History(ctx context.Context, accountID string, limit int) ([]types.HistoryEntry, error)

	Apply(ctx context.Context, m Mutation) error

	Close() error
}
