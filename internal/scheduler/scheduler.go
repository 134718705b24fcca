// Package scheduler runs the end-of-day risk job on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/trogers1052/oil-risk-service/internal/models"
)

// EndOfDayRunner runs and persists the daily risk calculation
type EndOfDayRunner interface {
	EndOfDay(ctx context.Context, asOf time.Time) (*models.RiskReport, error)
}

// PricePruner deletes price history beyond the retention window
type PricePruner interface {
	DeletePricesOlderThan(ctx context.Context, date time.Time) (int64, error)
}

// Scheduler owns the cron instance. Jobs run with the base context so a
// shutdown cancels an in-flight run.
type Scheduler struct {
	cron       *cron.Cron
	runner     EndOfDayRunner
	pruner     PricePruner
	retainDays int
	logger     *zap.Logger
	baseCtx    context.Context

	// mu keeps end-of-day runs from overlapping
	mu sync.Mutex
}

// New creates a scheduler in the given location. pruner may be nil.
func New(baseCtx context.Context, runner EndOfDayRunner, pruner PricePruner, retainDays int, loc *time.Location, logger *zap.Logger) *Scheduler {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		cron:       cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		runner:     runner,
		pruner:     pruner,
		retainDays: retainDays,
		logger:     logger.Named("scheduler"),
		baseCtx:    baseCtx,
	}
}

// AddEndOfDay registers the daily job; spec uses the six-field cron format
func (s *Scheduler) AddEndOfDay(spec string) (cron.EntryID, error) {
	id, err := s.cron.AddFunc(spec, func() { s.RunEndOfDay(s.baseCtx, time.Now()) })
	if err != nil {
		return 0, fmt.Errorf("failed to schedule end of day %q: %w", spec, err)
	}
	return id, nil
}

// RunEndOfDay runs one end-of-day cycle for the date of now. A run that
// starts while another is in progress is skipped.
func (s *Scheduler) RunEndOfDay(ctx context.Context, now time.Time) {
	if !s.mu.TryLock() {
		s.logger.Warn("end of day run already in progress, skipping")
		return
	}
	defer s.mu.Unlock()

	asOf := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	start := time.Now()
	report, err := s.runner.EndOfDay(ctx, asOf)
	if err != nil {
		s.logger.Error("end of day run failed", zap.Time("as_of", asOf), zap.Error(err))
		return
	}
	s.logger.Info("end of day run complete",
		zap.String("run_id", report.RunID),
		zap.Time("as_of", asOf),
		zap.Int("issues", len(report.Issues)),
		zap.Int("new_breaches", len(report.NewBreaches)),
		zap.Duration("took", time.Since(start)))

	if s.pruner != nil && s.retainDays > 0 {
		cutoff := asOf.AddDate(0, 0, -s.retainDays)
		n, err := s.pruner.DeletePricesOlderThan(ctx, cutoff)
		if err != nil {
			s.logger.Warn("failed to prune price history", zap.Error(err))
			return
		}
		s.logger.Debug("pruned price history", zap.Int64("rows", n), zap.Time("before", cutoff))
	}
}

// Start begins running scheduled jobs
func (s *Scheduler) Start() {
	s.logger.Info("cron started", zap.Int("entries", len(s.cron.Entries())))
	s.cron.Start()
}

// Stop waits for running jobs to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("cron stopped")
}
