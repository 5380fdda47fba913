// Package runner drives the recurring evaluation loop: one cycle per
// interval, every known account evaluated in parallel, failures isolated per
// account.
package runner

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantavest/pyramid-backend/internal/ledger"
	"github.com/quantavest/pyramid-backend/internal/metrics"
	"github.com/quantavest/pyramid-backend/internal/strategy"
)

// Evaluator runs one account evaluation. Satisfied by *strategy.Engine.
type Evaluator interface {
	Evaluate(ctx context.Context, accountID string) (*strategy.Report, error)
}

// Runner schedules evaluation cycles until stopped.
type Runner struct {
	logger   *zap.Logger
	ledger   *ledger.Ledger
	engine   Evaluator
	metrics  *metrics.Metrics
	interval time.Duration
	publish  func(*strategy.Report)

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a runner. publish is called with every successful report and
// may be nil.
func New(logger *zap.Logger, l *ledger.Ledger, engine Evaluator, m *metrics.Metrics, interval time.Duration, publish func(*strategy.Report)) *Runner {
	return &Runner{
		logger:   logger.Named("runner"),
		ledger:   l,
		engine:   engine,
		metrics:  m,
		interval: interval,
		publish:  publish,
		done:     make(chan struct{}),
	}
}

// Start launches the loop. The first cycle runs immediately, then one per
// interval until the context is cancelled or Stop is called.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	interval := r.interval
	if interval <= 0 {
		r.logger.Warn("Non-positive interval, falling back to one minute",
			zap.Duration("interval", interval))
		interval = time.Minute
	}

	go func() {
		defer close(r.done)

		r.logger.Info("Evaluation loop started", zap.Duration("interval", interval))
		r.RunCycle(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				r.logger.Info("Evaluation loop stopped")
				return
			case <-ticker.C:
				r.RunCycle(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for the in-flight cycle to finish, so no
// account is interrupted mid-mutation.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	<-r.done
}

// RunCycle evaluates every account once. Accounts run in parallel under their
// own ledger locks; cancellation is honored between account launches, never
// inside one.
func (r *Runner) RunCycle(ctx context.Context) {
	started := time.Now()

	ids, err := r.ledger.AccountIDs(ctx)
	if err != nil {
		r.logger.Error("Failed to list accounts", zap.Error(err))
		r.metrics.CycleErrorsTotal.Inc()
		return
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(accountID string) {
			defer wg.Done()
			r.evaluateAccount(ctx, accountID)
		}(id)
	}
	wg.Wait()

	r.metrics.CyclesTotal.Inc()
	r.metrics.CycleDuration.Observe(time.Since(started).Seconds())
}

func (r *Runner) evaluateAccount(ctx context.Context, accountID string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Evaluation panicked",
				zap.String("account", accountID),
				zap.Any("panic", rec))
			r.metrics.CycleErrorsTotal.Inc()
		}
	}()

	unlock := r.ledger.Lock(accountID)
	defer unlock()

	report, err := r.engine.Evaluate(ctx, accountID)
	if err != nil {
		r.metrics.CycleErrorsTotal.Inc()
		if errors.Is(err, strategy.ErrDataUnavailable) {
			r.logger.Warn("Evaluation skipped: no market data",
				zap.String("account", accountID),
				zap.Error(err))
		} else {
			r.logger.Error("Evaluation failed",
				zap.String("account", accountID),
				zap.Error(err))
		}
		return
	}

	for _, action := range report.Actions {
		r.metrics.ActionsTotal.WithLabelValues(action).Inc()
	}
	if r.publish != nil {
		r.publish(report)
	}

	r.logger.Debug("Account evaluated",
		zap.String("account", accountID),
		zap.Strings("actions", report.Actions),
		zap.String("equity", report.Equity.String()))
}
