package repo

import (
	"context"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
)

// TemplateRepo stores reply templates
type TemplateRepo interface {
	// Get returns a template, nil if missing
	Get(ctx context.Context, id string) (*domain.MessageTemplate, error)

	// Save creates or replaces a template
	Save(ctx context.Context, t *domain.MessageTemplate) error
}
