package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/quantavest/pyramid-backend/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id            TEXT PRIMARY KEY,
	cash_balance  TEXT NOT NULL,
	next_lot_size TEXT NOT NULL,
	max_equity    TEXT NOT NULL,
	last_deposit  TEXT NOT NULL,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	id              TEXT PRIMARY KEY,
	account_id      TEXT NOT NULL REFERENCES accounts(id),
	symbol          TEXT NOT NULL,
	quantity        TEXT NOT NULL,
	avg_entry_price TEXT NOT NULL,
	entry_time      TEXT NOT NULL,
	trailing_stop   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_positions_account ON positions(account_id);

CREATE TABLE IF NOT EXISTS history (
	id         TEXT PRIMARY KEY,
	account_id TEXT NOT NULL REFERENCES accounts(id),
	action     TEXT NOT NULL,
	symbol     TEXT NOT NULL,
	quantity   TEXT NOT NULL,
	price      TEXT NOT NULL,
	note       TEXT NOT NULL,
	timestamp  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_account ON history(account_id);
`

// SQLiteStore is the durable Store implementation backed by SQLite. Decimal
// fields are stored as text so no precision is lost round-tripping.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (and migrates) the SQLite database at path.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	// SQLite handles one writer at a time; a single pooled connection avoids
	// SQLITE_BUSY under concurrent account evaluation.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// CreateAccount inserts a new account row.
func (s *SQLiteStore) CreateAccount(ctx context.Context, a *types.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, cash_balance, next_lot_size, max_equity, last_deposit, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.CashBalance.String(), a.NextLotSize.String(), a.MaxEquity.String(),
		a.LastDeposit.UTC().Format(time.RFC3339Nano), a.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert account %s: %w", a.ID, err)
	}
	return nil
}

// GetAccount loads one account by id.
func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*types.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, cash_balance, next_lot_size, max_equity, last_deposit, created_at
		FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

// ListAccountIDs returns every known account id, oldest registration first.
func (s *SQLiteStore) ListAccountIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM accounts ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Positions returns the open positions for an account, oldest entry first.
func (s *SQLiteStore) Positions(ctx context.Context, accountID string) ([]types.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, symbol, quantity, avg_entry_price, entry_time, trailing_stop
		FROM positions WHERE account_id = ? ORDER BY entry_time`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var positions []types.Position
	for rows.Next() {
		var p types.Position
		var qty, avg, stop, entry string
		if err := rows.Scan(&p.ID, &p.AccountID, &p.Symbol, &qty, &avg, &entry, &stop); err != nil {
			return nil, err
		}
		if p.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("position %s quantity: %w", p.ID, err)
		}
		if p.AvgEntryPrice, err = decimal.NewFromString(avg); err != nil {
			return nil, fmt.Errorf("position %s entry price: %w", p.ID, err)
		}
		if p.TrailingStop, err = decimal.NewFromString(stop); err != nil {
			return nil, fmt.Errorf("position %s trailing stop: %w", p.ID, err)
		}
		if p.EntryTime, err = time.Parse(time.RFC3339Nano, entry); err != nil {
			return nil, fmt.Errorf("position %s entry time: %w", p.ID, err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// History returns history entries newest-first; limit <= 0 returns all.
func (s *SQLiteStore) History(ctx context.Context, accountID string, limit int) ([]types.HistoryEntry, error) {
	query := `
		SELECT id, account_id, action, symbol, quantity, price, note, timestamp
		FROM history WHERE account_id = ? ORDER BY id DESC`
	args := []any{accountID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []types.HistoryEntry
	for rows.Next() {
		var e types.HistoryEntry
		var qty, price, ts string
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Action, &e.Symbol, &qty, &price, &e.Note, &ts); err != nil {
			return nil, err
		}
		if e.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("history %s quantity: %w", e.ID, err)
		}
		if e.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("history %s price: %w", e.ID, err)
		}
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("history %s timestamp: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Apply runs the whole mutation inside one transaction.
func (s *SQLiteStore) Apply(ctx context.Context, m Mutation) error {
	if m.Empty() {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if m.Account != nil {
		res, err := tx.ExecContext(ctx, `
			UPDATE accounts SET cash_balance = ?, next_lot_size = ?, max_equity = ?, last_deposit = ?
			WHERE id = ?`,
			m.Account.CashBalance.String(), m.Account.NextLotSize.String(),
			m.Account.MaxEquity.String(), m.Account.LastDeposit.UTC().Format(time.RFC3339Nano),
			m.Account.ID,
		)
		if err != nil {
			return fmt.Errorf("update account %s: %w", m.Account.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("update account %s: %w", m.Account.ID, ErrAccountNotFound)
		}
	}

	for _, p := range m.UpsertPositions {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO positions (id, account_id, symbol, quantity, avg_entry_price, entry_time, trailing_stop)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET quantity = excluded.quantity, trailing_stop = excluded.trailing_stop`,
			p.ID, p.AccountID, p.Symbol, p.Quantity.String(), p.AvgEntryPrice.String(),
			p.EntryTime.UTC().Format(time.RFC3339Nano), p.TrailingStop.String(),
		)
		if err != nil {
			return fmt.Errorf("upsert position %s: %w", p.ID, err)
		}
	}

	for _, id := range m.DeletePositionIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM positions WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete position %s: %w", id, err)
		}
	}

	for _, e := range m.History {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO history (id, account_id, action, symbol, quantity, price, note, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.AccountID, string(e.Action), e.Symbol, e.Quantity.String(), e.Price.String(),
			e.Note, e.Timestamp.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("append history %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*types.Account, error) {
	var a types.Account
	var cash, lot, maxEq, lastDep, created string
	err := row.Scan(&a.ID, &cash, &lot, &maxEq, &lastDep, &created)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	if a.CashBalance, err = decimal.NewFromString(cash); err != nil {
		return nil, fmt.Errorf("account %s cash: %w", a.ID, err)
	}
	if a.NextLotSize, err = decimal.NewFromString(lot); err != nil {
		return nil, fmt.Errorf("account %s next lot: %w", a.ID, err)
	}
	if a.MaxEquity, err = decimal.NewFromString(maxEq); err != nil {
		return nil, fmt.Errorf("account %s max equity: %w", a.ID, err)
	}
	if a.LastDeposit, err = time.Parse(time.RFC3339Nano, lastDep); err != nil {
		return nil, fmt.Errorf("account %s last deposit: %w", a.ID, err)
	}
	if a.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("account %s created at: %w", a.ID, err)
	}
	return &a, nil
}
