package repo

import (
	"context"
	"time"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
)

// StatisticsRepo stores daily roll-ups
type StatisticsRepo interface {
	// Save writes the snapshot for a group and date; an existing one is replaced
	Save(ctx context.Context, stat *domain.GroupDailyStatistics) error

	// ListByRoom lists snapshots for a room, newest first
	ListByRoom(ctx context.Context, chatRoom string, limit int) ([]*domain.GroupDailyStatistics, error)

	// DeleteBefore removes snapshots older than the date
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
