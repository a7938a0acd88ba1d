package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dianxiaozhu/gridguard/internal/biz/repo"
)

// EngineMaintenance is the part of the engine the scheduler drives
type EngineMaintenance interface {
	Flush(ctx context.Context) error
	ResetDailyCounters(ctx context.Context) (int64, error)
}

// SchedulerConfig configures the periodic jobs
type SchedulerConfig struct {
	DailyAt        int // minutes after local midnight
	FlushInterval  time.Duration
	LogRetention   time.Duration // 0 keeps execution logs forever
	StatsRetention time.Duration // 0 keeps statistics forever
}

// Scheduler runs the buffered-state flush and the daily job
type Scheduler struct {
	engine   EngineMaintenance
	rollup   *RollupService
	execLogs repo.ExecutionLogRepo
	stats    repo.StatisticsRepo
	cfg      SchedulerConfig
	logger   *zap.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates the scheduler
func NewScheduler(
	engine EngineMaintenance,
	rollup *RollupService,
	execLogs repo.ExecutionLogRepo,
	stats repo.StatisticsRepo,
	cfg SchedulerConfig,
	logger *zap.Logger,
) *Scheduler {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	return &Scheduler{
		engine:   engine,
		rollup:   rollup,
		execLogs: execLogs,
		stats:    stats,
		cfg:      cfg,
		logger:   logger.Named("scheduler"),
		now:      time.Now,
	}
}

// Start starts the flush and daily loops
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go s.flushLoop()
	go s.dailyLoop()

	s.logger.Info("scheduler started",
		zap.Duration("flush_interval", s.cfg.FlushInterval),
		zap.String("daily_at", fmt.Sprintf("%02d:%02d", s.cfg.DailyAt/60, s.cfg.DailyAt%60)))
}

// Stop stops the loops and flushes once more
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.engine.Flush(ctx); err != nil {
		s.logger.Warn("final flush failed", zap.Error(err))
	}
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) flushLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.engine.Flush(s.ctx); err != nil {
				s.logger.Warn("flush failed", zap.Error(err))
			}
		}
	}
}

func (s *Scheduler) dailyLoop() {
	defer s.wg.Done()

	for {
		now := s.now()
		next := nextRun(now, s.cfg.DailyAt)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			// the snapshot belongs to the day that just ended
			day := next.Add(-time.Minute)
			if err := s.RunDaily(s.ctx, day); err != nil {
				s.logger.Error("daily job failed", zap.Error(err))
			}
		}
	}
}

// RunDaily writes the statistics for day, resets the counters and prunes old rows
func (s *Scheduler) RunDaily(ctx context.Context, day time.Time) error {
	var errs []error

	if err := s.engine.Flush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush: %w", err))
	}

	if s.rollup != nil {
		if _, err := s.rollup.Rollup(ctx, day); err != nil {
			errs = append(errs, fmt.Errorf("rollup: %w", err))
		}
	}

	n, err := s.engine.ResetDailyCounters(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("reset: %w", err))
	} else {
		s.logger.Info("daily counters reset", zap.Int64("groups", n))
	}

	now := s.now()
	if s.cfg.LogRetention > 0 && s.execLogs != nil {
		deleted, err := s.execLogs.DeleteBefore(ctx, now.Add(-s.cfg.LogRetention))
		if err != nil {
			errs = append(errs, fmt.Errorf("prune execution logs: %w", err))
		} else if deleted > 0 {
			s.logger.Info("pruned execution logs", zap.Int64("rows", deleted))
		}
	}
	if s.cfg.StatsRetention > 0 && s.stats != nil {
		deleted, err := s.stats.DeleteBefore(ctx, now.Add(-s.cfg.StatsRetention))
		if err != nil {
			errs = append(errs, fmt.Errorf("prune statistics: %w", err))
		} else if deleted > 0 {
			s.logger.Info("pruned daily statistics", zap.Int64("rows", deleted))
		}
	}

	return errors.Join(errs...)
}

// nextRun returns the first time after now at minutes past local midnight
func nextRun(now time.Time, minutes int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), minutes/60, minutes%60, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
