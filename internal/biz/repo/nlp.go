package repo

import (
	"context"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
)

// NlpRepo stores NLP results keyed by message id
type NlpRepo interface {
	// Latest returns the newest result for the message, nil if none
	Latest(ctx context.Context, messageID string) (*domain.NlpResult, error)

	// Save stores a result. A second successful result for a message replaces the first.
	Save(ctx context.Context, result *domain.NlpResult) error
}

// ClassifierRepo is the NLP model collaborator
type ClassifierRepo interface {
	// Classify returns the category and confidence for the message content
	Classify(ctx context.Context, content string) (category string, confidence float64, err error)
}
