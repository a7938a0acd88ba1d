package repo

import (
	"context"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
)

// KeywordRepo stores keyword configs and their hit counters
type KeywordRepo interface {
	// ListActive lists active keywords in any of the given scopes
	ListActive(ctx context.Context, scopes []domain.KeywordScope) ([]*domain.KeywordConfig, error)

	// IncrementHitCount atomically bumps the counter and returns the new value
	IncrementHitCount(ctx context.Context, id int64) (int, error)

	// ListReachedThreshold lists active client keywords whose hit count reached their threshold
	ListReachedThreshold(ctx context.Context, sourceType domain.SourceType) ([]*domain.KeywordConfig, error)

	// Save creates or updates a keyword
	Save(ctx context.Context, kw *domain.KeywordConfig) (int64, error)
}
