package repo

import (
	"context"
	"time"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
)

// ExecutionLogRepo is the append-only execution log store
type ExecutionLogRepo interface {
	// Append inserts log rows
	Append(ctx context.Context, logs ...*domain.RuleExecutionLog) error

	// ListByMessage lists rows for a message in insertion order
	ListByMessage(ctx context.Context, messageID string) ([]*domain.RuleExecutionLog, error)

	// Stats aggregates rule-level rows executed since the given time
	Stats(ctx context.Context, since time.Time) (domain.ExecutionStats, error)

	// StatsByRoom aggregates rule-level rows for one room in [from, to)
	StatsByRoom(ctx context.Context, chatRoom string, from, to time.Time) (domain.ExecutionStats, error)

	// DeleteBefore removes rows older than the given time
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
