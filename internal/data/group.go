package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
	"github.com/dianxiaozhu/gridguard/internal/biz/repo"
)

// groupStatusRepo implements the per-room status store
type groupStatusRepo struct {
	db *sql.DB
}

// NewGroupStatusRepo creates the group status repository and its table
func NewGroupStatusRepo(db *sql.DB) (repo.GroupStatusRepo, error) {
	err := execAll(db,
		`CREATE TABLE IF NOT EXISTS group_management_status (
			chat_room TEXT PRIMARY KEY,
			group_name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'normal',
			auto_reply_enabled INTEGER NOT NULL DEFAULT 1,
			auto_forward_enabled INTEGER NOT NULL DEFAULT 1,
			message_count_today INTEGER NOT NULL DEFAULT 0,
			auto_reply_count_today INTEGER NOT NULL DEFAULT 0,
			takeover_count_today INTEGER NOT NULL DEFAULT 0,
			takeover_threshold INTEGER NOT NULL DEFAULT 0,
			takeover_time INTEGER NOT NULL DEFAULT 0,
			takeover_by TEXT NOT NULL DEFAULT '',
			takeover_reason TEXT NOT NULL DEFAULT '',
			last_activity_time INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_group_status_status ON group_management_status(status)`,
		`CREATE INDEX IF NOT EXISTS idx_group_status_activity ON group_management_status(last_activity_time)`,
	)
	if err != nil {
		return nil, err
	}
	return &groupStatusRepo{db: db}, nil
}

const groupColumns = `chat_room, group_name, status, auto_reply_enabled, auto_forward_enabled, message_count_today,
	auto_reply_count_today, takeover_count_today, takeover_threshold, takeover_time, takeover_by, takeover_reason,
	last_activity_time, created_at, updated_at`

func scanGroup(row rowScanner) (*domain.GroupManagementStatus, error) {
	var g domain.GroupManagementStatus
	var autoReply, autoForward int
	var takeoverTime, lastActivity, createdAt, updatedAt int64
	if err := row.Scan(&g.ChatRoom, &g.GroupName, &g.Status, &autoReply, &autoForward, &g.MessageCountToday,
		&g.AutoReplyCountToday, &g.TakeoverCountToday, &g.TakeoverThreshold, &takeoverTime, &g.TakeoverBy,
		&g.TakeoverReason, &lastActivity, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	g.AutoReplyEnabled = autoReply != 0
	g.AutoForwardEnabled = autoForward != 0
	g.TakeoverTime = optionalTime(takeoverTime)
	g.LastActivityTime = optionalTime(lastActivity)
	g.CreatedAt = time.Unix(createdAt, 0)
	g.UpdatedAt = time.Unix(updatedAt, 0)
	return &g, nil
}

func optionalTime(unix int64) *time.Time {
	if unix == 0 {
		return nil
	}
	t := time.Unix(unix, 0)
	return &t
}

func unixOf(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.Unix()
}

func (r *groupStatusRepo) list(ctx context.Context, query string, args ...any) ([]*domain.GroupManagementStatus, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query group status: %w", err)
	}
	defer rows.Close()

	var groups []*domain.GroupManagementStatus
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan group status: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate group status: %w", err)
	}
	return groups, nil
}

// Get returns the status of a room, nil if none
func (r *groupStatusRepo) Get(ctx context.Context, chatRoom string) (*domain.GroupManagementStatus, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM group_management_status WHERE chat_room = ?`, chatRoom)
	g, err := scanGroup(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query group status: %w", err)
	}
	return g, nil
}

// Save creates or replaces the status row
func (r *groupStatusRepo) Save(ctx context.Context, g *domain.GroupManagementStatus) error {
	now := time.Now()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	if g.UpdatedAt.IsZero() {
		g.UpdatedAt = now
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO group_management_status (`+groupColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		g.ChatRoom,
		g.GroupName,
		string(g.Status),
		boolToInt(g.AutoReplyEnabled),
		boolToInt(g.AutoForwardEnabled),
		g.MessageCountToday,
		g.AutoReplyCountToday,
		g.TakeoverCountToday,
		g.TakeoverThreshold,
		unixOf(g.TakeoverTime),
		g.TakeoverBy,
		g.TakeoverReason,
		unixOf(g.LastActivityTime),
		g.CreatedAt.Unix(),
		g.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save group status: %w", err)
	}
	return nil
}

// ListAll lists every group by room
func (r *groupStatusRepo) ListAll(ctx context.Context) ([]*domain.GroupManagementStatus, error) {
	return r.list(ctx, `SELECT `+groupColumns+` FROM group_management_status ORDER BY chat_room`)
}

// ListNeedingAttention lists groups out of normal status or at the takeover count threshold
func (r *groupStatusRepo) ListNeedingAttention(ctx context.Context, threshold int) ([]*domain.GroupManagementStatus, error) {
	return r.list(ctx, `SELECT `+groupColumns+` FROM group_management_status
		WHERE status != ? OR takeover_count_today >= ?
		ORDER BY takeover_count_today DESC, chat_room`, string(domain.GroupNormal), threshold)
}

// ListActiveSince lists groups with activity after the time, most recent first
func (r *groupStatusRepo) ListActiveSince(ctx context.Context, since time.Time) ([]*domain.GroupManagementStatus, error) {
	return r.list(ctx, `SELECT `+groupColumns+` FROM group_management_status
		WHERE last_activity_time >= ?
		ORDER BY last_activity_time DESC, chat_room`, since.Unix())
}

// CountByStatus counts groups per status
func (r *groupStatusRepo) CountByStatus(ctx context.Context) ([]domain.StatusCount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM group_management_status GROUP BY status ORDER BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count group status: %w", err)
	}
	defer rows.Close()

	var counts []domain.StatusCount
	for rows.Next() {
		var c domain.StatusCount
		if err := rows.Scan(&c.Status, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate status counts: %w", err)
	}
	return counts, nil
}

// SearchByName lists groups whose name contains the text
func (r *groupStatusRepo) SearchByName(ctx context.Context, name string) ([]*domain.GroupManagementStatus, error) {
	return r.list(ctx, `SELECT `+groupColumns+` FROM group_management_status
		WHERE group_name LIKE '%' || ? || '%'
		ORDER BY group_name, chat_room`, name)
}

// ResetDailyCounters zeroes the today counters of every group
func (r *groupStatusRepo) ResetDailyCounters(ctx context.Context, resetStatus bool) (int64, error) {
	query := `UPDATE group_management_status SET message_count_today = 0, auto_reply_count_today = 0,
		takeover_count_today = 0, updated_at = ?`
	args := []any{time.Now().Unix()}
	if resetStatus {
		query += `, status = ?`
		args = append(args, string(domain.GroupNormal))
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to reset daily counters: %w", err)
	}
	return res.RowsAffected()
}

// Delete removes a group
func (r *groupStatusRepo) Delete(ctx context.Context, chatRoom string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM group_management_status WHERE chat_room = ?`, chatRoom)
	if err != nil {
		return fmt.Errorf("failed to delete group status: %w", err)
	}
	return nil
}
