package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
	"github.com/dianxiaozhu/gridguard/internal/biz/repo"
)

// nlpRepo implements the NLP result store. One row per message.
type nlpRepo struct {
	db *sql.DB
}

// NewNlpRepo creates the NLP result repository and its table
func NewNlpRepo(db *sql.DB) (repo.NlpRepo, error) {
	err := execAll(db,
		`CREATE TABLE IF NOT EXISTS nlp_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id TEXT NOT NULL UNIQUE,
			category TEXT NOT NULL DEFAULT '',
			status INTEGER NOT NULL DEFAULT 0,
			confidence REAL NOT NULL DEFAULT 0,
			processed_at INTEGER NOT NULL
		)`,
	)
	if err != nil {
		return nil, err
	}
	return &nlpRepo{db: db}, nil
}

// Latest returns the result for the message, nil if none
func (r *nlpRepo) Latest(ctx context.Context, messageID string) (*domain.NlpResult, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, message_id, category, status, confidence, processed_at
		FROM nlp_results WHERE message_id = ?
	`, messageID)

	var res domain.NlpResult
	var processedAt int64
	err := row.Scan(&res.ID, &res.MessageID, &res.Category, &res.Status, &res.Confidence, &processedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query nlp result: %w", err)
	}
	res.ProcessedAt = time.Unix(processedAt, 0)
	return &res, nil
}

// Save stores a result. A successful result is never replaced by a pending or failed one.
func (r *nlpRepo) Save(ctx context.Context, result *domain.NlpResult) error {
	if result.ProcessedAt.IsZero() {
		result.ProcessedAt = time.Now()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO nlp_results (message_id, category, status, confidence, processed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			category = excluded.category,
			status = excluded.status,
			confidence = excluded.confidence,
			processed_at = excluded.processed_at
		WHERE nlp_results.status != ? OR excluded.status = ?
		RETURNING id
	`, result.MessageID, result.Category, int(result.Status), result.Confidence, result.ProcessedAt.Unix(),
		int(domain.NlpSuccess), int(domain.NlpSuccess)).Scan(&result.ID)
	if err == sql.ErrNoRows {
		// conflict skipped: a success row is already stored
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to save nlp result: %w", err)
	}
	return nil
}
