package data

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
	"github.com/dianxiaozhu/gridguard/internal/biz/repo"
)

// keywordRepo implements the keyword config store
type keywordRepo struct {
	db *sql.DB
}

// NewKeywordRepo creates the keyword repository and its table
func NewKeywordRepo(db *sql.DB) (repo.KeywordRepo, error) {
	err := execAll(db,
		`CREATE TABLE IF NOT EXISTS keyword_configs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			keyword TEXT NOT NULL,
			scope TEXT NOT NULL DEFAULT 'global',
			priority TEXT NOT NULL DEFAULT 'normal',
			active INTEGER NOT NULL DEFAULT 1,
			hit_count INTEGER NOT NULL DEFAULT 0,
			weight INTEGER NOT NULL DEFAULT 1,
			trigger_threshold INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE(keyword, scope)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_keyword_configs_scope ON keyword_configs(active, scope)`,
	)
	if err != nil {
		return nil, err
	}
	return &keywordRepo{db: db}, nil
}

const keywordColumns = `id, keyword, scope, priority, active, hit_count, weight, trigger_threshold, created_at, updated_at`

func scanKeyword(row rowScanner) (*domain.KeywordConfig, error) {
	var k domain.KeywordConfig
	var scope string
	var active int
	var createdAt, updatedAt int64
	if err := row.Scan(&k.ID, &k.Keyword, &scope, &k.Priority, &active, &k.HitCount, &k.Weight,
		&k.TriggerThreshold, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	parsed, err := domain.ParseKeywordScope(scope)
	if err != nil {
		return nil, err
	}
	k.Scope = parsed
	k.Active = active != 0
	k.CreatedAt = time.Unix(createdAt, 0)
	k.UpdatedAt = time.Unix(updatedAt, 0)
	return &k, nil
}

func (r *keywordRepo) list(ctx context.Context, query string, args ...any) ([]*domain.KeywordConfig, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query keywords: %w", err)
	}
	defer rows.Close()

	var keywords []*domain.KeywordConfig
	for rows.Next() {
		k, err := scanKeyword(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan keyword: %w", err)
		}
		keywords = append(keywords, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate keywords: %w", err)
	}
	return keywords, nil
}

// ListActive lists active keywords in any of the scopes
func (r *keywordRepo) ListActive(ctx context.Context, scopes []domain.KeywordScope) ([]*domain.KeywordConfig, error) {
	if len(scopes) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(scopes))
	args := make([]any, len(scopes))
	for i, s := range scopes {
		placeholders[i] = "?"
		args[i] = s.String()
	}
	return r.list(ctx, `SELECT `+keywordColumns+` FROM keyword_configs
		WHERE active = 1 AND scope IN (`+strings.Join(placeholders, ",")+`) ORDER BY id`, args...)
}

// IncrementHitCount bumps the counter in one statement and returns the new value
func (r *keywordRepo) IncrementHitCount(ctx context.Context, id int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		UPDATE keyword_configs SET hit_count = hit_count + 1, updated_at = ?
		WHERE id = ?
		RETURNING hit_count
	`, time.Now().Unix(), id).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("keyword %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment keyword hit count: %w", err)
	}
	return count, nil
}

// ListReachedThreshold lists active client keywords of the source type at or past their threshold
func (r *keywordRepo) ListReachedThreshold(ctx context.Context, sourceType domain.SourceType) ([]*domain.KeywordConfig, error) {
	scope := domain.KeywordScope{Kind: domain.ScopeClient, Value: string(sourceType)}
	return r.list(ctx, `SELECT `+keywordColumns+` FROM keyword_configs
		WHERE active = 1 AND scope = ?
		AND hit_count >= CASE WHEN trigger_threshold > 0 THEN trigger_threshold ELSE ? END
		ORDER BY hit_count DESC, id`, scope.String(), domain.DefaultTriggerThreshold)
}

// Save creates or updates a keyword; an existing keyword+scope keeps its hit count
func (r *keywordRepo) Save(ctx context.Context, kw *domain.KeywordConfig) (int64, error) {
	if strings.TrimSpace(kw.Keyword) == "" {
		return 0, domain.NewConfigurationError(0, "keyword is required")
	}
	if kw.Priority == "" {
		kw.Priority = domain.KeywordPriorityNormal
	}
	now := time.Now()
	if kw.CreatedAt.IsZero() {
		kw.CreatedAt = now
	}
	kw.UpdatedAt = now

	if kw.ID != 0 {
		res, err := r.db.ExecContext(ctx, `
			UPDATE keyword_configs SET keyword = ?, scope = ?, priority = ?, active = ?, weight = ?,
				trigger_threshold = ?, updated_at = ?
			WHERE id = ?
		`, kw.Keyword, kw.Scope.String(), string(kw.Priority), boolToInt(kw.Active), kw.Weight, kw.TriggerThreshold,
			kw.UpdatedAt.Unix(), kw.ID)
		if err != nil {
			return 0, fmt.Errorf("failed to update keyword: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return 0, fmt.Errorf("keyword %d: %w", kw.ID, domain.ErrNotFound)
		}
		return kw.ID, nil
	}

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO keyword_configs (keyword, scope, priority, active, hit_count, weight, trigger_threshold, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(keyword, scope) DO UPDATE SET
			priority = excluded.priority,
			active = excluded.active,
			weight = excluded.weight,
			trigger_threshold = excluded.trigger_threshold,
			updated_at = excluded.updated_at
		RETURNING id
	`, kw.Keyword, kw.Scope.String(), string(kw.Priority), boolToInt(kw.Active), kw.HitCount, kw.Weight, kw.TriggerThreshold,
		kw.CreatedAt.Unix(), kw.UpdatedAt.Unix()).Scan(&kw.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to save keyword: %w", err)
	}
	return kw.ID, nil
}
