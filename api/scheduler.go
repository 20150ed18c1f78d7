/*
scheduler.go - Periodic liability reporting

PURPOSE:
  Periodically totals what the contract owes its stakers, publishes it on
  the Prometheus gauges and warns when the reserve no longer covers the
  profit accrued so far.

DESIGN:
  - Cron schedule (robfig/cron), e.g. "@every 5m" or "0 * * * *"
  - Runs once immediately on Start
  - Read-only: nothing is written to the store
  - Overlapping runs are skipped

USAGE:
  reporter, err := NewLiabilityReporter(engine, token, metrics, "@every 5m", log)
  reporter.Start()
  // ... later
  reporter.Stop(ctx)

SEE ALSO:
  - metrics.go: Gauges the report is published on
  - staking/engine.go: Engine.Liability
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/warp/stake-ledger/staking"
)

// Report is one liability snapshot.
type Report struct {
	Liability      staking.Liability
	ReserveBalance *staking.Amount
	// Shortfall is AccruedProfit minus the reserve balance when positive.
	Shortfall staking.Amount
}

// Covered reports whether the reserve can pay out all accrued profit.
func (r Report) Covered() bool {
	return r.ReserveBalance != nil && !r.Shortfall.IsPositive()
}

// LiabilityReporter runs liability reports on a cron schedule.
type LiabilityReporter struct {
	Engine   *staking.Engine
	Token    staking.Token
	Metrics  *Metrics
	Schedule string
	Timeout  time.Duration

	log     logrus.FieldLogger
	cron    *cron.Cron
	mu      sync.Mutex
	last    *Report
	started bool
}

// NewLiabilityReporter validates schedule and returns a stopped reporter.
func NewLiabilityReporter(engine *staking.Engine, tok staking.Token, metrics *Metrics, schedule string, log logrus.FieldLogger) (*LiabilityReporter, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("liability schedule %q: %w", schedule, err)
	}
	return &LiabilityReporter{
		Engine:   engine,
		Token:    tok,
		Metrics:  metrics,
		Schedule: schedule,
		Timeout:  30 * time.Second,
		log:      log.WithField("component", "liability-reporter"),
	}, nil
}

// Start begins the schedule.
func (lr *LiabilityReporter) Start() error {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	if lr.started {
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(lr.Schedule, lr.tick); err != nil {
		return fmt.Errorf("schedule liability report: %w", err)
	}
	lr.cron = c
	lr.started = true
	c.Start()
	go lr.tick()

	lr.log.WithField("schedule", lr.Schedule).Info("liability reporter started")
	return nil
}

// Stop halts the schedule and waits for a running report, or for ctx.
func (lr *LiabilityReporter) Stop(ctx context.Context) error {
	lr.mu.Lock()
	c := lr.cron
	lr.started = false
	lr.cron = nil
	lr.mu.Unlock()
	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		lr.log.Info("liability reporter stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Last returns the most recent report, or nil before the first run.
func (lr *LiabilityReporter) Last() *Report {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	return lr.last
}

func (lr *LiabilityReporter) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), lr.Timeout)
	defer cancel()
	if _, err := lr.RunOnce(ctx); err != nil {
		lr.log.WithError(err).Error("liability report failed")
	}
}

// RunOnce computes a report, publishes it and logs a shortfall.
func (lr *LiabilityReporter) RunOnce(ctx context.Context) (Report, error) {
	l, err := lr.Engine.Liability(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("compute liability: %w", err)
	}

	rep := Report{Liability: l, Shortfall: staking.NewAmount(0)}
	if !staking.IsZeroAddress(l.Reserve) {
		bal, err := lr.Token.BalanceOf(ctx, l.Reserve)
		if err != nil {
			return Report{}, fmt.Errorf("reserve balance: %w", err)
		}
		rep.ReserveBalance = &bal
		if l.AccruedProfit.GreaterThan(bal) {
			rep.Shortfall = l.AccruedProfit.Sub(bal)
		}
	}

	if lr.Metrics != nil {
		lr.Metrics.ObserveLiability(l, rep.ReserveBalance)
	}

	entry := lr.log.WithFields(logrus.Fields{
		"as_of":          l.AsOf.String(),
		"stakes":         l.Stakes,
		"principal":      l.Principal.String(),
		"accrued_profit": l.AccruedProfit.String(),
	})
	switch {
	case rep.ReserveBalance == nil && l.Stakes > 0:
		entry.Warn("stakes outstanding with no reserve configured")
	case rep.Shortfall.IsPositive():
		entry.WithFields(logrus.Fields{
			"reserve":         l.Reserve.Hex(),
			"reserve_balance": rep.ReserveBalance.String(),
			"shortfall":       rep.Shortfall.String(),
		}).Warn("reserve does not cover accrued profit")
	default:
		entry.Info("liability report")
	}

	lr.mu.Lock()
	lr.last = &rep
	lr.mu.Unlock()
	return rep, nil
}
