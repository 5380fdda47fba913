// Package types provides shared type definitions for the pyramid trading backend.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents buy or sell
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Granularity represents the candle interval requested from the exchange.
type Granularity string

const (
	GranularityDaily  Granularity = "1day"
	GranularityWeekly Granularity = "1week"
)

// ActionKind enumerates the history entry kinds the strategy can record.
type ActionKind string

const (
	ActionBuy             ActionKind = "buy"
	ActionPartialSell     ActionKind = "partial_sell"
	ActionTrailingStop    ActionKind = "trailing_stop_sell"
	ActionTimeStopPartial ActionKind = "time_stop_partial"
	ActionGlobalStop      ActionKind = "stop_global_sell"
	ActionMonthlyDeposit  ActionKind = "monthly_deposit"
	ActionManualDeposit   ActionKind = "manual_deposit"
)

// Candle represents a single candlestick, oldest-first in any series.
type Candle struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Account holds the per-account trading state the strategy mutates each cycle.
type Account struct {
	ID          string          `json:"id"`
	CashBalance decimal.Decimal `json:"cashBalance"`
	NextLotSize decimal.Decimal `json:"nextLotSize"`
	MaxEquity   decimal.Decimal `json:"maxEquity"`
	LastDeposit time.Time       `json:"lastDeposit"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Position is one pyramid lot. An account may hold several per symbol; a
// position is deleted exactly when its quantity reaches zero.
type Position struct {
	ID            string          `json:"id"`
	AccountID     string          `json:"accountId"`
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgEntryPrice decimal.Decimal `json:"avgEntryPrice"`
	EntryTime     time.Time       `json:"entryTime"`
	TrailingStop  decimal.Decimal `json:"trailingStop"`
}

// Age returns how long the position has been open.
func (p Position) Age(now time.Time) time.Duration {
	return now.Sub(p.EntryTime)
}

// HistoryEntry is one append-only record of an executed or credited action.
type HistoryEntry struct {
	ID        string          `json:"id"`
	AccountID string          `json:"accountId"`
	Action    ActionKind      `json:"action"`
	Symbol    string          `json:"symbol"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Note      string          `json:"note"`
	Timestamp time.Time       `json:"timestamp"`
}

// OrderResult reports the outcome of a market order submission. The ledger is
// only ever mutated when Accepted is true.
type OrderResult struct {
	OrderID   string          `json:"orderId"`
	Accepted  bool            `json:"accepted"`
	FilledQty decimal.Decimal `json:"filledQty"`
	Reason    string          `json:"reason,omitempty"`
}
