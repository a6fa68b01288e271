// Package maintenance runs periodic housekeeping jobs on a cron schedule.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/atproject/projectone/internal/app/domain/account"
	"github.com/atproject/projectone/internal/app/metrics"
	"github.com/atproject/projectone/internal/app/system"
	"github.com/atproject/projectone/internal/config"
	"github.com/atproject/projectone/pkg/logger"
)

const (
	DefaultSweepSchedule = "@every 1m"
	DefaultStatsSchedule = "@every 5m"

	jobTimeout = 30 * time.Second
)

// ItemJobs is the item service surface the jobs need.
type ItemJobs interface {
	SweepExpired(ctx context.Context, now time.Time) (int, error)
	Count(ctx context.Context, accountID string) (int, error)
}

// AccountLister lists accounts for the per-account gauges.
type AccountLister interface {
	List(ctx context.Context) ([]account.Account, error)
}

var _ system.Service = (*Scheduler)(nil)

// Scheduler sweeps expired items and refreshes item-count gauges.
type Scheduler struct {
	items     ItemJobs
	accounts  AccountLister
	sweepSpec string
	statsSpec string
	log       *logger.Logger
	now       func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

// New creates a scheduler. Empty schedules fall back to the defaults.
func New(items ItemJobs, accounts AccountLister, cfg config.MaintenanceConfig, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefault("maintenance")
	}
	s := &Scheduler{
		items:     items,
		accounts:  accounts,
		sweepSpec: cfg.SweepSchedule,
		statsSpec: cfg.StatsSchedule,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if s.sweepSpec == "" {
		s.sweepSpec = DefaultSweepSchedule
	}
	if s.statsSpec == "" {
		s.statsSpec = DefaultStatsSchedule
	}
	return s
}

func (s *Scheduler) Name() string { return "maintenance-scheduler" }

// Start validates the schedules and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	cronLog := cron.PrintfLogger(s.log)
	c := cron.New(cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)))
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	if _, err := c.AddFunc(s.sweepSpec, func() { s.RunSweep(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("sweep schedule %q: %w", s.sweepSpec, err)
	}
	if _, err := c.AddFunc(s.statsSpec, func() { s.RefreshStats(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("stats schedule %q: %w", s.statsSpec, err)
	}

	c.Start()
	s.cron = c
	s.cancel = cancel
	s.running = true

	s.log.WithField("sweep", s.sweepSpec).
		WithField("stats", s.statsSpec).
		Info("maintenance scheduler started")
	return nil
}

// Stop halts scheduling and waits for running jobs to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel, s.running = nil, nil, false
	s.mu.Unlock()

	done := c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
	cancel()

	s.log.Info("maintenance scheduler stopped")
	return nil
}

// RunSweep removes expired items once.
func (s *Scheduler) RunSweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	start := time.Now()
	removed, err := s.items.SweepExpired(ctx, s.now())
	metrics.RecordMaintenanceRun("sweep", time.Since(start), err == nil)
	if err != nil {
		s.log.WithError(err).Warn("expired item sweep failed")
		return
	}
	s.log.WithField("removed", removed).Debug("expired item sweep finished")
}

// RefreshStats recomputes the per-account item gauges once.
func (s *Scheduler) RefreshStats(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	start := time.Now()
	counts, err := s.collectCounts(ctx)
	metrics.RecordMaintenanceRun("stats", time.Since(start), err == nil)
	if err != nil {
		s.log.WithError(err).Warn("item count refresh failed")
		return
	}
	metrics.SetItemCounts(counts)
}

func (s *Scheduler) collectCounts(ctx context.Context) (map[string]int, error) {
	accts, err := s.accounts.List(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(accts))
	for _, acct := range accts {
		n, err := s.items.Count(ctx, acct.ID)
		if err != nil {
			return nil, fmt.Errorf("count items of %s: %w", acct.ID, err)
		}
		counts[acct.ID] = n
	}
	return counts, nil
}
