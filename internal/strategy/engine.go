// Package strategy implements the pyramid decision engine. Per account, per
// cycle it runs a fixed six-step sequence (entry gate, high-water mark,
// global drawdown stop, pyramided buy, per-position exits, recurring deposit)
// and commits each executed action to the ledger as one atomic mutation.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantavest/pyramid-backend/internal/config"
	"github.com/quantavest/pyramid-backend/internal/gateway"
	"github.com/quantavest/pyramid-backend/internal/ledger"
	"github.com/quantavest/pyramid-backend/internal/market"
	"github.com/quantavest/pyramid-backend/internal/store"
	"github.com/quantavest/pyramid-backend/pkg/types"
)

// ErrDataUnavailable aborts an account's evaluation when no usable price or
// candle data exists this cycle. The ledger is left untouched.
var ErrDataUnavailable = errors.New("market data unavailable")

// Partial-sell profit tiers, checked highest first. Values are percent
// thresholds paired with the fraction of remaining quantity to sell.
var profitTiers = []struct {
	threshold decimal.Decimal
	fraction  decimal.Decimal
}{
	{decimal.NewFromInt(40), decimal.RequireFromString("0.30")},
	{decimal.NewFromInt(20), decimal.RequireFromString("0.20")},
	{decimal.NewFromInt(10), decimal.RequireFromString("0.15")},
	{decimal.NewFromInt(5), decimal.RequireFromString("0.10")},
}

// Config holds the engine parameters as decimals so every money computation
// stays exact.
type Config struct {
	Symbol         string
	InitialBalance decimal.Decimal
	BaseLot        decimal.Decimal
	PyramidFactor  decimal.Decimal
	TrailingFactor decimal.Decimal
	GlobalStopPct  decimal.Decimal
	MinLot         decimal.Decimal
	MonthlyDeposit decimal.Decimal
	TimeStopDays   int
	DepositDays    int
	DailyCandles   int
	WeeklyCandles  int
}

// ConfigFrom converts the loaded strategy configuration into engine decimals.
func ConfigFrom(sc config.StrategyConfig) Config {
	return Config{
		Symbol:         sc.Symbol,
		InitialBalance: decimal.NewFromFloat(sc.InitialBalance),
		BaseLot:        decimal.NewFromFloat(sc.BaseLot),
		PyramidFactor:  decimal.NewFromFloat(sc.PyramidFactor),
		TrailingFactor: decimal.NewFromFloat(sc.TrailingFactor),
		GlobalStopPct:  decimal.NewFromFloat(sc.GlobalStopPct),
		MinLot:         decimal.NewFromFloat(sc.MinLot),
		MonthlyDeposit: decimal.NewFromFloat(sc.MonthlyDeposit),
		TimeStopDays:   sc.TimeStopDays,
		DepositDays:    sc.DepositDays,
		DailyCandles:   sc.DailyCandles,
		WeeklyCandles:  sc.WeeklyCandles,
	}
}

// Report is the outcome of one account evaluation: the ordered action tags
// taken this cycle and the resulting account totals.
type Report struct {
	AccountID string          `json:"accountId"`
	Actions   []string        `json:"actions"`
	Equity    decimal.Decimal `json:"equity"`
	Cash      decimal.Decimal `json:"cash"`
	Price     decimal.Decimal `json:"price"`
}

// Engine evaluates one account against current market signals and mutates
// its ledger. Callers must hold the account's ledger lock across Evaluate.
type Engine struct {
	logger  *zap.Logger
	ledger  *ledger.Ledger
	market  market.Source
	gateway gateway.Gateway
	cfg     Config
	now     func() time.Time
}

// New creates a strategy engine.
func New(logger *zap.Logger, l *ledger.Ledger, src market.Source, gw gateway.Gateway, cfg Config) *Engine {
	return &Engine{
		logger:  logger.Named("strategy"),
		ledger:  l,
		market:  src,
		gateway: gw,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate runs the full decision sequence for one account and returns the
// cycle report. A nil report with ErrDataUnavailable means no market data;
// any other error is a persistence failure for this account's cycle.
func (e *Engine) Evaluate(ctx context.Context, accountID string) (*Report, error) {
	daily, err := e.market.Candles(ctx, e.cfg.Symbol, types.GranularityDaily, e.cfg.DailyCandles)
	if err != nil {
		return nil, fmt.Errorf("%w: daily candles: %v", ErrDataUnavailable, err)
	}
	weekly, err := e.market.Candles(ctx, e.cfg.Symbol, types.GranularityWeekly, e.cfg.WeeklyCandles)
	if err != nil {
		return nil, fmt.Errorf("%w: weekly candles: %v", ErrDataUnavailable, err)
	}

	sig, ok := computeSignals(daily, weekly)
	if !ok {
		return nil, fmt.Errorf("%w: empty candle series for %s", ErrDataUnavailable, e.cfg.Symbol)
	}

	report := &Report{AccountID: accountID, Price: sig.Price}

	// Step 2: refresh equity and the high-water mark before the stop check.
	equity, err := e.refreshHighWaterMark(ctx, accountID, sig.Price)
	if err != nil {
		return nil, err
	}

	// Step 3: global drawdown stop short-circuits the rest of the cycle.
	acct, err := e.ledger.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	stopLevel := acct.MaxEquity.Mul(decimal.NewFromInt(1).Sub(e.cfg.GlobalStopPct))
	if acct.MaxEquity.IsPositive() && equity.LessThan(stopLevel) {
		if err := e.globalStop(ctx, accountID, sig.Price, report); err != nil {
			return nil, err
		}
		return e.finishReport(ctx, accountID, sig.Price, report)
	}

	// Step 4: pyramided buy, gated on the entry conditions.
	if sig.entryPermitted() {
		if err := e.tryBuy(ctx, accountID, sig, report); err != nil {
			return nil, err
		}
	}

	// Step 5: per-position exit pass.
	positions, err := e.ledger.Positions(ctx, accountID)
	if err != nil {
		return nil, err
	}
	for _, pos := range positions {
		if pos.Symbol != e.cfg.Symbol {
			continue
		}
		if err := e.evaluatePosition(ctx, pos, sig.Price, report); err != nil {
			return nil, err
		}
	}

	// Step 6: recurring deposit.
	if err := e.monthlyDeposit(ctx, accountID, report); err != nil {
		return nil, err
	}

	return e.finishReport(ctx, accountID, sig.Price, report)
}

// refreshHighWaterMark computes current equity and persists a new maxEquity
// if it was exceeded. Returns the equity used for the stop comparison.
func (e *Engine) refreshHighWaterMark(ctx context.Context, accountID string, price decimal.Decimal) (decimal.Decimal, error) {
	acct, positions, err := e.ledger.Snapshot(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}

	equity := acct.CashBalance
	for _, p := range positions {
		equity = equity.Add(p.Quantity.Mul(price))
	}

	if equity.GreaterThan(acct.MaxEquity) {
		acct.MaxEquity = equity
		if err := e.ledger.Apply(ctx, store.Mutation{Account: acct}); err != nil {
			return decimal.Zero, fmt.Errorf("persist max equity: %w", err)
		}
	}
	return equity, nil
}

// globalStop liquidates every open position at market. Each accepted sell is
// committed atomically with its history entry; nextLotSize resets to the base
// lot once the pass completes.
func (e *Engine) globalStop(ctx context.Context, accountID string, price decimal.Decimal, report *Report) error {
	positions, err := e.ledger.Positions(ctx, accountID)
	if err != nil {
		return err
	}

	for _, pos := range positions {
		res, err := e.gateway.SubmitMarketOrder(ctx, pos.Symbol, types.OrderSideSell, pos.Quantity)
		if err != nil {
			e.logger.Error("Global stop sell failed",
				zap.String("account", accountID),
				zap.String("position", pos.ID),
				zap.Error(err))
			continue
		}
		if !res.Accepted {
			e.logger.Warn("Global stop sell rejected",
				zap.String("account", accountID),
				zap.String("position", pos.ID),
				zap.String("reason", res.Reason))
			continue
		}

		acct, err := e.ledger.Account(ctx, accountID)
		if err != nil {
			return err
		}
		proceeds := pos.Quantity.Mul(price)
		acct.CashBalance = acct.CashBalance.Add(proceeds)

		err = e.ledger.Apply(ctx, store.Mutation{
			Account:           acct,
			DeletePositionIDs: []string{pos.ID},
			History: []types.HistoryEntry{{
				AccountID: accountID,
				Action:    types.ActionGlobalStop,
				Symbol:    pos.Symbol,
				Quantity:  pos.Quantity,
				Price:     price,
				Note:      fmt.Sprintf("drawdown stop, proceeds %s", proceeds),
				Timestamp: e.now(),
			}},
		})
		if err != nil {
			return fmt.Errorf("commit global stop: %w", err)
		}
		report.Actions = append(report.Actions, string(types.ActionGlobalStop))
	}

	acct, err := e.ledger.Account(ctx, accountID)
	if err != nil {
		return err
	}
	acct.NextLotSize = e.cfg.BaseLot
	if err := e.ledger.Apply(ctx, store.Mutation{Account: acct}); err != nil {
		return fmt.Errorf("reset lot size: %w", err)
	}

	e.logger.Warn("Global stop executed",
		zap.String("account", accountID),
		zap.Int("positions", len(positions)))
	return nil
}

// tryBuy sizes the next pyramid lot, applies RSI/volatility adjustments, and
// submits the buy. Insufficient cash or a sub-minimum lot is a recorded no-op.
func (e *Engine) tryBuy(ctx context.Context, accountID string, sig Signals, report *Report) error {
	acct, err := e.ledger.Account(ctx, accountID)
	if err != nil {
		return err
	}

	lot := acct.NextLotSize
	if sig.HasRSI {
		if sig.RSIWeek.GreaterThan(decimal.NewFromInt(75)) {
			lot = lot.Mul(decimal.RequireFromString("0.7"))
		} else if sig.RSIWeek.LessThan(decimal.NewFromInt(40)) {
			lot = lot.Mul(decimal.RequireFromString("1.2"))
		}
	}
	if sig.HasATR && sig.ATR.Div(sig.Price).GreaterThan(decimal.RequireFromString("0.03")) {
		lot = lot.Mul(decimal.RequireFromString("0.8"))
	}
	lot = lot.Round(2)

	if acct.CashBalance.LessThan(lot) {
		e.logger.Info("Buy skipped: insufficient cash",
			zap.String("account", accountID),
			zap.String("lot", lot.String()),
			zap.String("cash", acct.CashBalance.String()))
		report.Actions = append(report.Actions, "buy_skipped:insufficient_cash")
		return nil
	}
	if lot.LessThan(e.cfg.MinLot) {
		e.logger.Info("Buy skipped: lot below minimum",
			zap.String("account", accountID),
			zap.String("lot", lot.String()))
		report.Actions = append(report.Actions, "buy_skipped:lot_below_minimum")
		return nil
	}

	qty := lot.Div(sig.Price)
	res, err := e.gateway.SubmitMarketOrder(ctx, e.cfg.Symbol, types.OrderSideBuy, qty)
	if err != nil {
		e.logger.Error("Buy order failed",
			zap.String("account", accountID),
			zap.Error(err))
		return nil
	}
	if !res.Accepted {
		e.logger.Warn("Buy order rejected",
			zap.String("account", accountID),
			zap.String("reason", res.Reason))
		return nil
	}

	filled := res.FilledQty
	if filled.IsZero() {
		filled = qty
	}

	acct, err = e.ledger.Account(ctx, accountID)
	if err != nil {
		return err
	}
	acct.CashBalance = acct.CashBalance.Sub(lot)
	acct.NextLotSize = acct.NextLotSize.Mul(e.cfg.PyramidFactor).Round(2)

	pos := types.Position{
		ID:            uuid.New().String(),
		AccountID:     accountID,
		Symbol:        e.cfg.Symbol,
		Quantity:      filled,
		AvgEntryPrice: sig.Price,
		EntryTime:     e.now(),
		TrailingStop:  sig.Price.Mul(e.cfg.TrailingFactor),
	}

	err = e.ledger.Apply(ctx, store.Mutation{
		Account:         acct,
		UpsertPositions: []types.Position{pos},
		History: []types.HistoryEntry{{
			AccountID: accountID,
			Action:    types.ActionBuy,
			Symbol:    e.cfg.Symbol,
			Quantity:  filled,
			Price:     sig.Price,
			Note:      fmt.Sprintf("lot %s, next lot %s", lot, acct.NextLotSize),
			Timestamp: e.now(),
		}},
	})
	if err != nil {
		return fmt.Errorf("commit buy: %w", err)
	}

	e.logger.Info("Pyramid buy executed",
		zap.String("account", accountID),
		zap.String("qty", filled.String()),
		zap.String("price", sig.Price.String()),
		zap.String("nextLot", acct.NextLotSize.String()))
	report.Actions = append(report.Actions, string(types.ActionBuy))
	return nil
}

// evaluatePosition runs the tiered partial sell, the trailing stop, and the
// time stop for one position. A partial sell this cycle supersedes the
// trailing-stop check; the time stop runs regardless while the position lives.
func (e *Engine) evaluatePosition(ctx context.Context, pos types.Position, price decimal.Decimal, report *Report) error {
	profitPct := price.Sub(pos.AvgEntryPrice).Div(pos.AvgEntryPrice).Mul(decimal.NewFromInt(100))

	partialSold := false
	for _, tier := range profitTiers {
		if profitPct.LessThan(tier.threshold) {
			continue
		}
		sold, remaining, err := e.sellFraction(ctx, pos, tier.fraction, price, types.ActionPartialSell,
			fmt.Sprintf("profit %s%%, tier %s", profitPct.Round(2), tier.fraction))
		if err != nil {
			return err
		}
		if sold {
			partialSold = true
			pos.Quantity = remaining
			report.Actions = append(report.Actions, string(types.ActionPartialSell))
		}
		break
	}

	alive := pos.Quantity.IsPositive()

	if !partialSold && alive {
		gone, err := e.trailingStop(ctx, &pos, price, report)
		if err != nil {
			return err
		}
		alive = !gone
	}

	if alive && e.timeStopDue(pos, profitPct) {
		half := decimal.RequireFromString("0.5")
		sold, _, err := e.sellFraction(ctx, pos, half, price, types.ActionTimeStopPartial,
			fmt.Sprintf("age %dd, profit %s%%", int(pos.Age(e.now()).Hours()/24), profitPct.Round(2)))
		if err != nil {
			return err
		}
		if sold {
			report.Actions = append(report.Actions, string(types.ActionTimeStopPartial))
		}
	}
	return nil
}

// trailingStop raises the stop with price while in profit and liquidates when
// price falls below it. Returns true when the position was closed.
func (e *Engine) trailingStop(ctx context.Context, pos *types.Position, price decimal.Decimal, report *Report) (bool, error) {
	updated := false
	if price.GreaterThan(pos.AvgEntryPrice) {
		candidate := price.Mul(e.cfg.TrailingFactor)
		if candidate.GreaterThan(pos.TrailingStop) {
			pos.TrailingStop = candidate
			updated = true
		}
	}

	if price.LessThan(pos.TrailingStop) {
		res, err := e.gateway.SubmitMarketOrder(ctx, pos.Symbol, types.OrderSideSell, pos.Quantity)
		if err != nil {
			e.logger.Error("Trailing stop sell failed",
				zap.String("position", pos.ID),
				zap.Error(err))
			return false, nil
		}
		if !res.Accepted {
			e.logger.Warn("Trailing stop sell rejected",
				zap.String("position", pos.ID),
				zap.String("reason", res.Reason))
			return false, nil
		}

		acct, err := e.ledger.Account(ctx, pos.AccountID)
		if err != nil {
			return false, err
		}
		proceeds := pos.Quantity.Mul(price)
		acct.CashBalance = acct.CashBalance.Add(proceeds)

		err = e.ledger.Apply(ctx, store.Mutation{
			Account:           acct,
			DeletePositionIDs: []string{pos.ID},
			History: []types.HistoryEntry{{
				AccountID: pos.AccountID,
				Action:    types.ActionTrailingStop,
				Symbol:    pos.Symbol,
				Quantity:  pos.Quantity,
				Price:     price,
				Note:      fmt.Sprintf("stop %s breached", pos.TrailingStop),
				Timestamp: e.now(),
			}},
		})
		if err != nil {
			return false, fmt.Errorf("commit trailing stop: %w", err)
		}
		report.Actions = append(report.Actions, string(types.ActionTrailingStop))
		return true, nil
	}

	if updated {
		if err := e.ledger.Apply(ctx, store.Mutation{UpsertPositions: []types.Position{*pos}}); err != nil {
			return false, fmt.Errorf("persist trailing stop: %w", err)
		}
	}
	return false, nil
}

// timeStopDue reports whether the position is old enough and still below the
// profit floor. Profit is measured against the current price, not the best
// price reached since entry.
func (e *Engine) timeStopDue(pos types.Position, profitPct decimal.Decimal) bool {
	age := pos.Age(e.now())
	return age >= time.Duration(e.cfg.TimeStopDays)*24*time.Hour &&
		profitPct.LessThan(decimal.NewFromInt(5))
}

// sellFraction sells the given fraction of the position's remaining quantity
// at market. Returns whether the sell executed and the remaining quantity.
func (e *Engine) sellFraction(ctx context.Context, pos types.Position, fraction, price decimal.Decimal, action types.ActionKind, note string) (bool, decimal.Decimal, error) {
	sellQty := pos.Quantity.Mul(fraction)
	res, err := e.gateway.SubmitMarketOrder(ctx, pos.Symbol, types.OrderSideSell, sellQty)
	if err != nil {
		e.logger.Error("Sell order failed",
			zap.String("position", pos.ID),
			zap.String("action", string(action)),
			zap.Error(err))
		return false, pos.Quantity, nil
	}
	if !res.Accepted {
		e.logger.Warn("Sell order rejected",
			zap.String("position", pos.ID),
			zap.String("action", string(action)),
			zap.String("reason", res.Reason))
		return false, pos.Quantity, nil
	}

	acct, err := e.ledger.Account(ctx, pos.AccountID)
	if err != nil {
		return false, pos.Quantity, err
	}

	proceeds := sellQty.Mul(price)
	acct.CashBalance = acct.CashBalance.Add(proceeds)
	remaining := pos.Quantity.Sub(sellQty)

	m := store.Mutation{
		Account: acct,
		History: []types.HistoryEntry{{
			AccountID: pos.AccountID,
			Action:    action,
			Symbol:    pos.Symbol,
			Quantity:  sellQty,
			Price:     price,
			Note:      note,
			Timestamp: e.now(),
		}},
	}
	if remaining.IsPositive() {
		pos.Quantity = remaining
		m.UpsertPositions = []types.Position{pos}
	} else {
		m.DeletePositionIDs = []string{pos.ID}
	}

	if err := e.ledger.Apply(ctx, m); err != nil {
		return false, pos.Quantity, fmt.Errorf("commit sell: %w", err)
	}

	e.logger.Info("Sell executed",
		zap.String("position", pos.ID),
		zap.String("action", string(action)),
		zap.String("qty", sellQty.String()),
		zap.String("remaining", remaining.String()))
	return true, remaining, nil
}

// monthlyDeposit credits the recurring deposit when it is due.
func (e *Engine) monthlyDeposit(ctx context.Context, accountID string, report *Report) error {
	acct, err := e.ledger.Account(ctx, accountID)
	if err != nil {
		return err
	}

	due := time.Duration(e.cfg.DepositDays) * 24 * time.Hour
	now := e.now()
	if now.Sub(acct.LastDeposit) < due {
		return nil
	}

	acct.CashBalance = acct.CashBalance.Add(e.cfg.MonthlyDeposit)
	acct.LastDeposit = now

	err = e.ledger.Apply(ctx, store.Mutation{
		Account: acct,
		History: []types.HistoryEntry{{
			AccountID: accountID,
			Action:    types.ActionMonthlyDeposit,
			Quantity:  decimal.Zero,
			Price:     decimal.Zero,
			Note:      fmt.Sprintf("deposit %s", e.cfg.MonthlyDeposit),
			Timestamp: now,
		}},
	})
	if err != nil {
		return fmt.Errorf("commit deposit: %w", err)
	}

	e.logger.Info("Monthly deposit credited",
		zap.String("account", accountID),
		zap.String("amount", e.cfg.MonthlyDeposit.String()))
	report.Actions = append(report.Actions, string(types.ActionMonthlyDeposit))
	return nil
}

// finishReport re-reads the account for the final cash/equity figures.
func (e *Engine) finishReport(ctx context.Context, accountID string, price decimal.Decimal, report *Report) (*Report, error) {
	acct, positions, err := e.ledger.Snapshot(ctx, accountID)
	if err != nil {
		return nil, err
	}
	equity := acct.CashBalance
	for _, p := range positions {
		equity = equity.Add(p.Quantity.Mul(price))
	}
	report.Cash = acct.CashBalance
	report.Equity = equity
	return report, nil
}
