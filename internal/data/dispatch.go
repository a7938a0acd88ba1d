package data

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
	"github.com/dianxiaozhu/gridguard/internal/biz/repo"
)

// Messenger is the outbound side of the Feishu client
type Messenger interface {
	SendText(ctx context.Context, chatID, text string) error
	ReplyText(ctx context.Context, messageID, text string) error
	Forward(ctx context.Context, messageID, chatID string) error
}

// feishuDispatchRepo renders templates and delivers through Feishu
type feishuDispatchRepo struct {
	messenger Messenger
	templates *TemplateRepo
	logger    *zap.Logger
}

// NewFeishuDispatchRepo creates the Feishu dispatch repository
func NewFeishuDispatchRepo(messenger Messenger, templates *TemplateRepo, logger *zap.Logger) repo.DispatchRepo {
	return &feishuDispatchRepo{
		messenger: messenger,
		templates: templates,
		logger:    logger.Named("dispatch"),
	}
}

// isFeishuMessage reports whether the id came from Feishu and can be replied to or forwarded
func isFeishuMessage(id string) bool {
	return strings.HasPrefix(id, "om_")
}

// Reply renders and replies to the message, or posts to its chat when it did not come from Feishu
func (r *feishuDispatchRepo) Reply(ctx context.Context, msg *domain.Message, templateID, text string) error {
	body, err := r.templates.Render(ctx, templateID, text, msg)
	if err != nil {
		return err
	}
	if isFeishuMessage(msg.ID) {
		return r.messenger.ReplyText(ctx, msg.ID, body)
	}
	return r.messenger.SendText(ctx, msg.ChatRoom, body)
}

// Forward forwards the message, or posts a quoted copy when it did not come from Feishu
func (r *feishuDispatchRepo) Forward(ctx context.Context, msg *domain.Message, destination string) error {
	if destination == "" {
		return fmt.Errorf("no forward destination")
	}
	if isFeishuMessage(msg.ID) {
		return r.messenger.Forward(ctx, msg.ID, destination)
	}
	return r.messenger.SendText(ctx, destination, quote(msg))
}

// Notify posts a notice to a chat
func (r *feishuDispatchRepo) Notify(ctx context.Context, chatRoom, text string) error {
	return r.messenger.SendText(ctx, chatRoom, text)
}

func quote(msg *domain.Message) string {
	sender := msg.SenderName
	if sender == "" {
		sender = msg.GridUserID
	}
	return fmt.Sprintf("[%s] %s: %s", msg.ChatRoom, sender, msg.Content)
}

// logDispatchRepo renders and logs instead of delivering
type logDispatchRepo struct {
	templates *TemplateRepo
	logger    *zap.Logger
}

// NewLogDispatchRepo creates a dispatch repository that only logs, for offline runs
func NewLogDispatchRepo(templates *TemplateRepo, logger *zap.Logger) repo.DispatchRepo {
	return &logDispatchRepo{templates: templates, logger: logger.Named("dispatch")}
}

func (r *logDispatchRepo) Reply(ctx context.Context, msg *domain.Message, templateID, text string) error {
	body, err := r.templates.Render(ctx, templateID, text, msg)
	if err != nil {
		return err
	}
	r.logger.Info("reply", zap.String("chat_room", msg.ChatRoom), zap.String("msg_id", msg.ID), zap.String("text", body))
	return nil
}

func (r *logDispatchRepo) Forward(_ context.Context, msg *domain.Message, destination string) error {
	r.logger.Info("forward", zap.String("chat_room", msg.ChatRoom), zap.String("msg_id", msg.ID), zap.String("destination", destination))
	return nil
}

func (r *logDispatchRepo) Notify(_ context.Context, chatRoom, text string) error {
	r.logger.Info("notify", zap.String("chat_room", chatRoom), zap.String("text", text))
	return nil
}
