package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
	"github.com/dianxiaozhu/gridguard/internal/biz/repo"
)

// GroupLister lists the tracked groups with their live counters
type GroupLister interface {
	ListAll(ctx context.Context) ([]*domain.GroupManagementStatus, error)
}

// RollupService writes the daily statistics snapshot of every group
type RollupService struct {
	groups   GroupLister
	execLogs repo.ExecutionLogRepo
	stats    repo.StatisticsRepo
	logger   *zap.Logger
}

// NewRollupService creates the roll-up service
func NewRollupService(groups GroupLister, execLogs repo.ExecutionLogRepo, stats repo.StatisticsRepo, logger *zap.Logger) *RollupService {
	return &RollupService{
		groups:   groups,
		execLogs: execLogs,
		stats:    stats,
		logger:   logger.Named("rollup"),
	}
}

// Rollup snapshots the today counters of every group under the given day.
// It must run before the counters are reset.
func (r *RollupService) Rollup(ctx context.Context, day time.Time) (int, error) {
	groups, err := r.groups.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list groups: %w", err)
	}

	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	to := from.AddDate(0, 0, 1)
	date := domain.DateKey(from)

	var errs []error
	written := 0
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		execStats, err := r.execLogs.StatsByRoom(ctx, g.ChatRoom, from, to)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", g.ChatRoom, err))
			continue
		}

		stat := &domain.GroupDailyStatistics{
			ChatRoom:         g.ChatRoom,
			Date:             date,
			MessageCount:     g.MessageCountToday,
			AutoReplyCount:   g.AutoReplyCountToday,
			TakeoverCount:    g.TakeoverCountToday,
			RuleSuccessCount: execStats.Success,
			RuleFailureCount: execStats.Failed,
			AvgResponseTime:  execStats.AvgDuration,
		}
		if err := r.stats.Save(ctx, stat); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", g.ChatRoom, err))
			continue
		}
		written++
	}

	r.logger.Info("daily statistics written",
		zap.String("date", date),
		zap.Int("groups", len(groups)),
		zap.Int("written", written))
	return written, errors.Join(errs...)
}
