package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
	"github.com/dianxiaozhu/gridguard/internal/biz/repo"
)

// executionLogRepo implements the append-only execution log
type executionLogRepo struct {
	db *sql.DB
}

// NewExecutionLogRepo creates the execution log repository and its table
func NewExecutionLogRepo(db *sql.DB) (repo.ExecutionLogRepo, error) {
	err := execAll(db,
		`CREATE TABLE IF NOT EXISTS rule_execution_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			chain_id INTEGER NOT NULL DEFAULT 0,
			rule_id INTEGER,
			message_id TEXT NOT NULL,
			chat_room TEXT NOT NULL DEFAULT '',
			result TEXT NOT NULL,
			duration_us INTEGER NOT NULL DEFAULT 0,
			trigger_content TEXT NOT NULL DEFAULT '',
			matched_conditions TEXT NOT NULL DEFAULT '[]',
			executed_actions TEXT NOT NULL DEFAULT '[]',
			detail TEXT NOT NULL DEFAULT '',
			executed_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rule_execution_logs_message ON rule_execution_logs(message_id)`,
		`CREATE INDEX IF NOT EXISTS idx_rule_execution_logs_executed_at ON rule_execution_logs(executed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_rule_execution_logs_room ON rule_execution_logs(chat_room, executed_at)`,
	)
	if err != nil {
		return nil, err
	}
	return &executionLogRepo{db: db}, nil
}

// Append inserts the rows in one transaction
func (r *executionLogRepo) Append(ctx context.Context, logs ...*domain.RuleExecutionLog) error {
	if len(logs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rule_execution_logs (run_id, chain_id, rule_id, message_id, chat_room, result, duration_us,
			trigger_content, matched_conditions, executed_actions, detail, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare log insert: %w", err)
	}
	defer stmt.Close()

	for _, l := range logs {
		matched, _ := json.Marshal(nonNilStrings(l.MatchedConditions))
		actions, _ := json.Marshal(nonNilStrings(l.ExecutedActions))
		var ruleID any
		if l.RuleID != nil {
			ruleID = *l.RuleID
		}
		if l.ExecutedAt.IsZero() {
			l.ExecutedAt = time.Now()
		}
		res, err := stmt.ExecContext(ctx, l.RunID, l.ChainID, ruleID, l.MessageID, l.ChatRoom, string(l.Result),
			l.Duration.Microseconds(), l.TriggerContent, string(matched), string(actions), l.Detail, l.ExecutedAt.Unix())
		if err != nil {
			return fmt.Errorf("failed to insert execution log: %w", err)
		}
		l.ID, _ = res.LastInsertId()
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit execution logs: %w", err)
	}
	return nil
}

// ListByMessage lists the rows of a message in insertion order
func (r *executionLogRepo) ListByMessage(ctx context.Context, messageID string) ([]*domain.RuleExecutionLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, run_id, chain_id, rule_id, message_id, chat_room, result, duration_us,
			trigger_content, matched_conditions, executed_actions, detail, executed_at
		FROM rule_execution_logs WHERE message_id = ? ORDER BY id
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution logs: %w", err)
	}
	defer rows.Close()

	var logs []*domain.RuleExecutionLog
	for rows.Next() {
		var l domain.RuleExecutionLog
		var ruleID sql.NullInt64
		var durationUs, executedAt int64
		var matched, actions string
		if err := rows.Scan(&l.ID, &l.RunID, &l.ChainID, &ruleID, &l.MessageID, &l.ChatRoom, &l.Result, &durationUs,
			&l.TriggerContent, &matched, &actions, &l.Detail, &executedAt); err != nil {
			return nil, fmt.Errorf("failed to scan execution log: %w", err)
		}
		if ruleID.Valid {
			id := ruleID.Int64
			l.RuleID = &id
		}
		_ = json.Unmarshal([]byte(matched), &l.MatchedConditions)
		_ = json.Unmarshal([]byte(actions), &l.ExecutedActions)
		l.Duration = time.Duration(durationUs) * time.Microsecond
		l.ExecutedAt = time.Unix(executedAt, 0)
		logs = append(logs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate execution logs: %w", err)
	}
	return logs, nil
}

const statsSelect = `
	SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN result = 'success' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN result = 'failure' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN result = 'skipped' THEN 1 ELSE 0 END), 0),
		COALESCE(AVG(duration_us), 0)
	FROM rule_execution_logs
	WHERE rule_id IS NOT NULL`

func scanStats(row *sql.Row) (domain.ExecutionStats, error) {
	var s domain.ExecutionStats
	var avgUs float64
	if err := row.Scan(&s.Total, &s.Success, &s.Failed, &s.Skipped, &avgUs); err != nil {
		return domain.ExecutionStats{}, fmt.Errorf("failed to query execution stats: %w", err)
	}
	s.AvgDuration = time.Duration(avgUs * float64(time.Microsecond))
	return s, nil
}

// Stats aggregates rule-level rows executed since the time
func (r *executionLogRepo) Stats(ctx context.Context, since time.Time) (domain.ExecutionStats, error) {
	return scanStats(r.db.QueryRowContext(ctx, statsSelect+` AND executed_at >= ?`, since.Unix()))
}

// StatsByRoom aggregates rule-level rows of a room in [from, to)
func (r *executionLogRepo) StatsByRoom(ctx context.Context, chatRoom string, from, to time.Time) (domain.ExecutionStats, error) {
	return scanStats(r.db.QueryRowContext(ctx,
		statsSelect+` AND chat_room = ? AND executed_at >= ? AND executed_at < ?`,
		chatRoom, from.Unix(), to.Unix()))
}

// DeleteBefore removes rows executed before the time
func (r *executionLogRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM rule_execution_logs WHERE executed_at < ?`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete execution logs: %w", err)
	}
	return res.RowsAffected()
}
