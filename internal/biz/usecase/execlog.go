package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
	"github.com/dianxiaozhu/gridguard/internal/biz/repo"
)

// ExecutionLogger appends execution log rows. Failures never reach the
// caller: rows that cannot be written are buffered and retried by Flush.
type ExecutionLogger struct {
	repo          repo.ExecutionLogRepo
	logger        *zap.Logger
	maxBuffer     int
	maxRetries    uint64
	appendTimeout time.Duration

	mu      sync.Mutex
	pending []*domain.RuleExecutionLog
	dropped int64
}

// NewExecutionLogger creates an execution logger holding at most maxBuffer unwritten rows
func NewExecutionLogger(logRepo repo.ExecutionLogRepo, maxBuffer int, logger *zap.Logger) *ExecutionLogger {
	if maxBuffer <= 0 {
		maxBuffer = 1000
	}
	return &ExecutionLogger{
		repo:          logRepo,
		logger:        logger.Named("execlog"),
		maxBuffer:     maxBuffer,
		maxRetries:    3,
		appendTimeout: 500 * time.Millisecond,
	}
}

// SetAppendTimeout bounds how long Log waits on storage before buffering the row
func (l *ExecutionLogger) SetAppendTimeout(d time.Duration) {
	if d > 0 {
		l.appendTimeout = d
	}
}

// Log writes one row. The write ignores cancellation of ctx so that
// interrupted runs are still audited; a write slower than the append
// timeout is abandoned and the row buffered for Flush.
func (l *ExecutionLogger) Log(ctx context.Context, entry *domain.RuleExecutionLog) {
	if entry.ExecutedAt.IsZero() {
		entry.ExecutedAt = time.Now()
	}
	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.appendTimeout)
	defer cancel()
	if err := l.repo.Append(appendCtx, entry); err != nil {
		l.logger.Warn("execution log append failed, buffering",
			zap.String("run_id", entry.RunID),
			zap.String("message_id", entry.MessageID),
			zap.String("result", string(entry.Result)),
			zap.Error(&domain.StorageError{Op: "append execution log", Err: err}))
		l.buffer(entry)
	}
}

func (l *ExecutionLogger) buffer(entries ...*domain.RuleExecutionLog) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = append(l.pending, entries...)
	if over := len(l.pending) - l.maxBuffer; over > 0 {
		l.pending = l.pending[over:]
		l.dropped += int64(over)
		l.logger.Error("execution log buffer full, dropping oldest rows", zap.Int("dropped", over))
	}
}

// Pending returns the number of buffered rows
func (l *ExecutionLogger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Dropped returns how many rows were lost to buffer overflow
func (l *ExecutionLogger) Dropped() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Flush retries buffered rows with exponential backoff. Rows still failing
// are put back in the buffer.
func (l *ExecutionLogger) Flush(ctx context.Context) error {
	l.mu.Lock()
	batch := l.pending
	l.pending = nil
	l.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), l.maxRetries),
		ctx,
	)
	err := backoff.Retry(func() error {
		return l.repo.Append(ctx, batch...)
	}, policy)
	if err != nil {
		l.buffer(batch...)
		return &domain.StorageError{Op: "flush execution log", Err: err}
	}

	l.logger.Info("flushed buffered execution logs", zap.Int("count", len(batch)))
	return nil
}
