package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantavest/pyramid-backend/pkg/types"
)

// Both implementations must satisfy the same contract, so every test runs
// against each of them.
func withStores(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemory())
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := NewSQLite(filepath.Join(t.TempDir(), "accounts.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
}

func testAccount(id string) *types.Account {
	return &types.Account{
		ID:          id,
		CashBalance: decimal.NewFromInt(100),
		NextLotSize: decimal.NewFromInt(40),
		MaxEquity:   decimal.NewFromInt(100),
		LastDeposit: time.Now().UTC().Truncate(time.Second),
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
}

func TestAccountRoundTrip(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		acct := testAccount("acct-1")
		require.NoError(t, s.CreateAccount(ctx, acct))

		got, err := s.GetAccount(ctx, "acct-1")
		require.NoError(t, err)
		assert.Equal(t, acct.ID, got.ID)
		assert.True(t, got.CashBalance.Equal(acct.CashBalance))
		assert.True(t, got.NextLotSize.Equal(acct.NextLotSize))
		assert.True(t, got.LastDeposit.Equal(acct.LastDeposit))

		_, err = s.GetAccount(ctx, "nope")
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})
}

func TestApplyMutationAtomicUnit(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		acct := testAccount("acct-1")
		require.NoError(t, s.CreateAccount(ctx, acct))

		now := time.Now().UTC().Truncate(time.Second)
		pos := types.Position{
			ID:            "pos-1",
			AccountID:     "acct-1",
			Symbol:        "btcusdt",
			Quantity:      decimal.NewFromFloat(0.0008),
			AvgEntryPrice: decimal.NewFromInt(50000),
			EntryTime:     now,
			TrailingStop:  decimal.NewFromInt(45000),
		}

		acct.CashBalance = decimal.NewFromInt(60)
		acct.NextLotSize = decimal.NewFromInt(52)
		err := s.Apply(ctx, Mutation{
			Account:         acct,
			UpsertPositions: []types.Position{pos},
			History: []types.HistoryEntry{{
				ID: "01HT0000000000000000000001", AccountID: "acct-1",
				Action: types.ActionBuy, Symbol: "btcusdt",
				Quantity: pos.Quantity, Price: pos.AvgEntryPrice, Timestamp: now,
			}},
		})
		require.NoError(t, err)

		got, err := s.GetAccount(ctx, "acct-1")
		require.NoError(t, err)
		assert.True(t, got.CashBalance.Equal(decimal.NewFromInt(60)))

		positions, err := s.Positions(ctx, "acct-1")
		require.NoError(t, err)
		require.Len(t, positions, 1)
		assert.True(t, positions[0].Quantity.Equal(pos.Quantity))

		history, err := s.History(ctx, "acct-1", 0)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, types.ActionBuy, history[0].Action)
	})
}

func TestApplyDeletesPositionWithHistory(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		acct := testAccount("acct-1")
		require.NoError(t, s.CreateAccount(ctx, acct))

		now := time.Now().UTC()
		pos := types.Position{
			ID: "pos-1", AccountID: "acct-1", Symbol: "btcusdt",
			Quantity:      decimal.NewFromFloat(0.5),
			AvgEntryPrice: decimal.NewFromInt(100),
			EntryTime:     now,
			TrailingStop:  decimal.NewFromInt(90),
		}
		require.NoError(t, s.Apply(ctx, Mutation{UpsertPositions: []types.Position{pos}}))

		// Deleting the position and recording its sell share one mutation.
		require.NoError(t, s.Apply(ctx, Mutation{
			DeletePositionIDs: []string{"pos-1"},
			History: []types.HistoryEntry{{
				ID: "01HT0000000000000000000002", AccountID: "acct-1",
				Action: types.ActionTrailingStop, Symbol: "btcusdt",
				Quantity: pos.Quantity, Price: decimal.NewFromInt(89), Timestamp: now,
			}},
		}))

		positions, err := s.Positions(ctx, "acct-1")
		require.NoError(t, err)
		assert.Empty(t, positions)

		history, err := s.History(ctx, "acct-1", 0)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, types.ActionTrailingStop, history[0].Action)
	})
}

func TestApplyUnknownAccountFails(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		ghost := testAccount("ghost")
		err := s.Apply(ctx, Mutation{Account: ghost})
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})
}

func TestHistoryNewestFirstWithLimit(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateAccount(ctx, testAccount("acct-1")))

		base := time.Now().UTC()
		for i := 0; i < 3; i++ {
			require.NoError(t, s.Apply(ctx, Mutation{
				History: []types.HistoryEntry{{
					// ULIDs are lexicographically time-ordered; the store
					// orders on id.
					ID:        "01HT000000000000000000000" + string(rune('3'+i)),
					AccountID: "acct-1", Action: types.ActionMonthlyDeposit,
					Symbol: "btcusdt", Quantity: decimal.Zero,
					Price: decimal.Zero, Timestamp: base.Add(time.Duration(i) * time.Second),
				}},
			}))
		}

		history, err := s.History(ctx, "acct-1", 2)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.True(t, history[0].Timestamp.After(history[1].Timestamp))
	})
}

func TestListAccountIDsOrderedByCreation(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		first := testAccount("first")
		first.CreatedAt = time.Now().UTC().Add(-time.Hour)
		second := testAccount("second")
		require.NoError(t, s.CreateAccount(ctx, first))
		require.NoError(t, s.CreateAccount(ctx, second))

		ids, err := s.ListAccountIDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"first", "second"}, ids)
	})
}
