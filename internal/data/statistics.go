package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
	"github.com/dianxiaozhu/gridguard/internal/biz/repo"
)

// statisticsRepo implements the daily roll-up store
type statisticsRepo struct {
	db *sql.DB
}

// NewStatisticsRepo creates the statistics repository and its table
func NewStatisticsRepo(db *sql.DB) (repo.StatisticsRepo, error) {
	err := execAll(db,
		`CREATE TABLE IF NOT EXISTS group_daily_statistics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_room TEXT NOT NULL,
			stat_date TEXT NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0,
			auto_reply_count INTEGER NOT NULL DEFAULT 0,
			takeover_count INTEGER NOT NULL DEFAULT 0,
			rule_success_count INTEGER NOT NULL DEFAULT 0,
			rule_failure_count INTEGER NOT NULL DEFAULT 0,
			avg_response_us INTEGER NOT NULL DEFAULT 0,
			satisfaction_score REAL,
			created_at INTEGER NOT NULL,
			UNIQUE(chat_room, stat_date)
		)`,
	)
	if err != nil {
		return nil, err
	}
	return &statisticsRepo{db: db}, nil
}

// Save writes the snapshot, replacing one for the same room and date
func (r *statisticsRepo) Save(ctx context.Context, s *domain.GroupDailyStatistics) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	var score any
	if s.SatisfactionScore != nil {
		score = *s.SatisfactionScore
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO group_daily_statistics (chat_room, stat_date, message_count, auto_reply_count, takeover_count,
			rule_success_count, rule_failure_count, avg_response_us, satisfaction_score, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_room, stat_date) DO UPDATE SET
			message_count = excluded.message_count,
			auto_reply_count = excluded.auto_reply_count,
			takeover_count = excluded.takeover_count,
			rule_success_count = excluded.rule_success_count,
			rule_failure_count = excluded.rule_failure_count,
			avg_response_us = excluded.avg_response_us,
			satisfaction_score = excluded.satisfaction_score,
			created_at = excluded.created_at
		RETURNING id
	`, s.ChatRoom, s.Date, s.MessageCount, s.AutoReplyCount, s.TakeoverCount, s.RuleSuccessCount,
		s.RuleFailureCount, s.AvgResponseTime.Microseconds(), score, s.CreatedAt.Unix()).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("failed to save daily statistics: %w", err)
	}
	return nil
}

// ListByRoom lists snapshots of a room, newest first
func (r *statisticsRepo) ListByRoom(ctx context.Context, chatRoom string, limit int) ([]*domain.GroupDailyStatistics, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, chat_room, stat_date, message_count, auto_reply_count, takeover_count,
			rule_success_count, rule_failure_count, avg_response_us, satisfaction_score, created_at
		FROM group_daily_statistics WHERE chat_room = ?
		ORDER BY stat_date DESC LIMIT ?
	`, chatRoom, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily statistics: %w", err)
	}
	defer rows.Close()

	var stats []*domain.GroupDailyStatistics
	for rows.Next() {
		var s domain.GroupDailyStatistics
		var avgUs, createdAt int64
		var score sql.NullFloat64
		if err := rows.Scan(&s.ID, &s.ChatRoom, &s.Date, &s.MessageCount, &s.AutoReplyCount, &s.TakeoverCount,
			&s.RuleSuccessCount, &s.RuleFailureCount, &avgUs, &score, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan daily statistics: %w", err)
		}
		s.AvgResponseTime = time.Duration(avgUs) * time.Microsecond
		if score.Valid {
			v := score.Float64
			s.SatisfactionScore = &v
		}
		s.CreatedAt = time.Unix(createdAt, 0)
		stats = append(stats, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate daily statistics: %w", err)
	}
	return stats, nil
}

// DeleteBefore removes snapshots dated before the day
func (r *statisticsRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM group_daily_statistics WHERE stat_date < ?`, domain.DateKey(before))
	if err != nil {
		return 0, fmt.Errorf("failed to delete daily statistics: %w", err)
	}
	return res.RowsAffected()
}
