package repo

import (
	"context"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
)

// DispatchRepo is the template/dispatch collaborator.
// It renders and delivers; it does not retry.
type DispatchRepo interface {
	// Reply renders the template (or literal text) for the message and replies in its chat
	Reply(ctx context.Context, msg *domain.Message, templateID, text string) error

	// Forward delivers the message to a destination chat
	Forward(ctx context.Context, msg *domain.Message, destination string) error

	// Notify sends a plain text notice to a chat (takeover alerts)
	Notify(ctx context.Context, chatRoom, text string) error
}
