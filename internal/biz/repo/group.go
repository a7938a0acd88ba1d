package repo

import (
	"context"
	"time"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
)

// GroupStatusRepo stores one GroupManagementStatus per chat room
type GroupStatusRepo interface {
	// Get returns the status for a room, nil if none
	Get(ctx context.Context, chatRoom string) (*domain.GroupManagementStatus, error)

	// Save creates or updates a status row
	Save(ctx context.Context, status *domain.GroupManagementStatus) error

	// ListAll lists every group
	ListAll(ctx context.Context) ([]*domain.GroupManagementStatus, error)

	// ListNeedingAttention lists groups not in normal status or with takeover count >= threshold
	ListNeedingAttention(ctx context.Context, threshold int) ([]*domain.GroupManagementStatus, error)

	// ListActiveSince lists groups with activity after the given time
	ListActiveSince(ctx context.Context, since time.Time) ([]*domain.GroupManagementStatus, error)

	// CountByStatus counts groups per status
	CountByStatus(ctx context.Context) ([]domain.StatusCount, error)

	// SearchByName lists groups whose name contains the text
	SearchByName(ctx context.Context, name string) ([]*domain.GroupManagementStatus, error)

	// ResetDailyCounters zeroes the today counters of every group
	ResetDailyCounters(ctx context.Context, resetStatus bool) (int64, error)

	// Delete removes a group
	Delete(ctx context.Context, chatRoom string) error
}
