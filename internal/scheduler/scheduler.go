// Package scheduler triggers periodic batch refreshes and keeps them from
// overlapping.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/follower-tracker/internal/tracker"
)

// LockName is the lock shared by every batch refresh trigger.
const LockName = "refresh-all"

// MinInterval is the shortest schedule accepted.
const MinInterval = 15 * time.Minute

// Refresher runs one batch refresh.
type Refresher interface {
	RefreshAll(ctx context.Context) ([]tracker.RefreshResult, error)
}

// Guarded runs RefreshAll only while holding LockName; a held lock yields tracker.ErrBusy.
type Guarded struct {
	refresher Refresher
	locker    tracker.Locker
}

// NewGuarded wraps refresher with locker.
func NewGuarded(refresher Refresher, locker tracker.Locker) *Guarded {
	return &Guarded{refresher: refresher, locker: locker}
}

// RefreshAll implements Refresher.
func (g *Guarded) RefreshAll(ctx context.Context) ([]tracker.RefreshResult, error) {
	unlock, ok, err := g.locker.TryLock(ctx, LockName)
	if err != nil {
		return nil, fmt.Errorf("acquire refresh lock: %w", err)
	}
	if !ok {
		return nil, tracker.ErrBusy
	}
	defer unlock()
	return g.refresher.RefreshAll(ctx)
}

// ValidateSchedule parses expr and rejects schedules firing more often than minInterval.
func ValidateSchedule(expr string, minInterval time.Duration) error {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return fmt.Errorf("parse schedule %q: %w", expr, err)
	}
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 8; i++ {
		next := schedule.Next(t)
		if next.IsZero() {
			return fmt.Errorf("schedule %q never fires", expr)
		}
		if i > 0 && next.Sub(t) < minInterval {
			return fmt.Errorf("schedule %q fires more often than every %s", expr, minInterval)
		}
		t = next
	}
	return nil
}

// Scheduler fires the refresher on a cron schedule.
type Scheduler struct {
	cron      *cron.Cron
	refresher Refresher
	logger    *zap.Logger
	timeout   time.Duration
}

// New registers refresher under the cron expression expr (standard cron or "@every 30m").
// timeout bounds each run; zero means no bound.
func New(expr string, refresher Refresher, timeout time.Duration, logger *zap.Logger) (*Scheduler, error) {
	if refresher == nil {
		return nil, errors.New("refresher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("scheduler")
	s := &Scheduler{refresher: refresher, logger: logger, timeout: timeout}
	cronLogger := zapCronLogger{sugar: logger.Sugar()}
	s.cron = cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	if _, err := s.cron.AddFunc(expr, func() { s.tick(context.Background()) }); err != nil {
		return nil, fmt.Errorf("register schedule %q: %w", expr, err)
	}
	return s, nil
}

// Run starts the schedule and blocks until ctx is done, then waits for a
// running refresh to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("entries", len(s.cron.Entries())))
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	results, err := s.refresher.RefreshAll(ctx)
	switch {
	case errors.Is(err, tracker.ErrBusy):
		s.logger.Info("refresh already running, skipping tick")
	case err != nil:
		s.logger.Error("scheduled refresh failed", zap.Error(err))
	default:
		s.logger.Info("scheduled refresh done",
			zap.Int("channels", len(results)),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

// zapCronLogger adapts zap to cron.Logger.
type zapCronLogger struct {
	sugar *zap.SugaredLogger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...any) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
