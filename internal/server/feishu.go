package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
	"github.com/dianxiaozhu/gridguard/internal/biz/usecase"
	"github.com/dianxiaozhu/gridguard/internal/infra/feishu"
)

// Submitter queues a message for rule evaluation
type Submitter interface {
	Submit(ctx context.Context, msg *domain.Message) error
}

// ChatLookup resolves chat metadata and members
type ChatLookup interface {
	GetChatInfo(ctx context.Context, chatID string) (*feishu.ChatInfo, error)
	GetChatMembers(ctx context.Context, chatID string) ([]*feishu.ChatMember, error)
}

// GroupNamer reads and updates the tracked group record
type GroupNamer interface {
	Get(ctx context.Context, chatRoom string) (*domain.GroupManagementStatus, error)
	UpdateSettings(ctx context.Context, chatRoom string, s usecase.GroupSettings) (*domain.GroupManagementStatus, error)
}

// FeishuConfig configures message ingestion from Feishu
type FeishuConfig struct {
	GridAreas     map[string]string // chat id -> grid area
	SourceType    domain.SourceType
	DedupWindow   time.Duration
	MemberRefresh time.Duration // minimum interval between member list reloads of one chat
}

// FeishuServer receives group messages over the Feishu WebSocket and submits them to the engine
type FeishuServer struct {
	client *feishu.Client
	chats  ChatLookup
	groups GroupNamer
	ingest Submitter
	cfg    FeishuConfig
	logger *zap.Logger
	now    func() time.Time

	ctx context.Context

	// Message deduplication cache
	seenMu    sync.Mutex
	seen      map[string]time.Time // msgID -> timestamp
	lastSweep time.Time

	namedMu sync.Mutex
	named   map[string]bool

	membersMu sync.Mutex
	members   map[string]*memberNames // chat id -> sender names
}

type memberNames struct {
	names    map[string]string // open_id -> display name
	loadedAt time.Time
}

// NewFeishuServer creates the Feishu ingestion server. groups may be nil to skip group name lookup.
func NewFeishuServer(client *feishu.Client, ingest Submitter, groups GroupNamer, cfg FeishuConfig, logger *zap.Logger) *FeishuServer {
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 5 * time.Minute
	}
	if cfg.SourceType == "" {
		cfg.SourceType = domain.SourceServer
	}
	if cfg.MemberRefresh <= 0 {
		cfg.MemberRefresh = 10 * time.Minute
	}
	s := &FeishuServer{
		client:  client,
		groups:  groups,
		ingest:  ingest,
		cfg:     cfg,
		logger:  logger.Named("feishu-server"),
		now:     time.Now,
		ctx:     context.Background(),
		seen:    make(map[string]time.Time),
		named:   make(map[string]bool),
		members: make(map[string]*memberNames),
	}
	if client != nil {
		s.chats = client
	}
	return s
}

// Start receives messages until ctx is done
func (s *FeishuServer) Start(ctx context.Context) error {
	s.ctx = ctx
	s.client.OnMessage(s.handleMessage)
	return s.client.Start(ctx)
}

func (s *FeishuServer) handleMessage(msg *feishu.Message) {
	if msg.ChatType == "p2p" {
		s.logger.Debug("ignoring direct message", zap.String("chat_id", msg.ChatID))
		return
	}
	if s.markSeen(msg.MsgID) {
		s.logger.Debug("duplicate message ignored", zap.String("msg_id", msg.MsgID))
		return
	}

	dm := s.toDomain(msg)
	if dm.IsEmpty() {
		return
	}
	s.ensureGroupName(s.ctx, msg.ChatID)
	dm.SenderName = s.senderName(s.ctx, msg.ChatID, msg.SenderID)

	if err := s.ingest.Submit(s.ctx, dm); err != nil {
		s.logger.Error("failed to submit message",
			zap.String("msg_id", msg.MsgID),
			zap.String("chat_id", msg.ChatID),
			zap.Error(err))
	}
}

// toDomain maps a Feishu message onto an engine message
func (s *FeishuServer) toDomain(msg *feishu.Message) *domain.Message {
	return &domain.Message{
		ID:         msg.MsgID,
		ChatRoom:   msg.ChatID,
		GridUserID: msg.SenderID,
		Content:    msg.Content,
		MsgType:    msg.MsgType,
		GridArea:   s.cfg.GridAreas[msg.ChatID],
		SourceType: s.cfg.SourceType,
		Priority:   domain.MessagePriorityNormal,
		ReceivedAt: msg.CreateTime,
	}
}

// ensureGroupName fills in the group name the first time a chat is seen
func (s *FeishuServer) ensureGroupName(ctx context.Context, chatID string) {
	if s.groups == nil || s.chats == nil {
		return
	}
	s.namedMu.Lock()
	done := s.named[chatID]
	s.named[chatID] = true
	s.namedMu.Unlock()
	if done {
		return
	}

	g, err := s.groups.Get(ctx, chatID)
	if err != nil || (g != nil && g.GroupName != "") {
		return
	}
	info, err := s.chats.GetChatInfo(ctx, chatID)
	if err != nil {
		s.logger.Warn("failed to look up chat", zap.String("chat_id", chatID), zap.Error(err))
		s.namedMu.Lock()
		delete(s.named, chatID)
		s.namedMu.Unlock()
		return
	}
	if info.Name == "" {
		return
	}
	if _, err := s.groups.UpdateSettings(ctx, chatID, usecase.GroupSettings{GroupName: &info.Name}); err != nil {
		s.logger.Warn("failed to store group name", zap.String("chat_id", chatID), zap.Error(err))
	}
}

// senderName resolves an open_id to the member's display name in the chat.
// Unknown senders trigger a reload at most once per MemberRefresh.
func (s *FeishuServer) senderName(ctx context.Context, chatID, openID string) string {
	if s.chats == nil || openID == "" {
		return ""
	}

	s.membersMu.Lock()
	cached := s.members[chatID]
	if cached != nil {
		if name, ok := cached.names[openID]; ok {
			s.membersMu.Unlock()
			return name
		}
		if s.now().Sub(cached.loadedAt) < s.cfg.MemberRefresh {
			s.membersMu.Unlock()
			return ""
		}
	}
	s.membersMu.Unlock()

	members, err := s.chats.GetChatMembers(ctx, chatID)
	now := s.now()

	s.membersMu.Lock()
	defer s.membersMu.Unlock()
	if err != nil {
		s.logger.Warn("failed to list chat members", zap.String("chat_id", chatID), zap.Error(err))
		if cached == nil {
			cached = &memberNames{names: map[string]string{}}
			s.members[chatID] = cached
		}
		cached.loadedAt = now
		return ""
	}

	names := make(map[string]string, len(members))
	for _, m := range members {
		if m.MemberID != "" {
			names[m.MemberID] = m.Name
		}
	}
	s.members[chatID] = &memberNames{names: names, loadedAt: now}
	return names[openID]
}

// markSeen records the id and reports whether it was already seen within the window
func (s *FeishuServer) markSeen(msgID string) bool {
	if msgID == "" {
		return false
	}
	s.seenMu.Lock()
	defer s.seenMu.Unlock()

	now := s.now()
	if ts, ok := s.seen[msgID]; ok && now.Sub(ts) < s.cfg.DedupWindow {
		return true
	}
	s.seen[msgID] = now

	if now.Sub(s.lastSweep) >= s.cfg.DedupWindow {
		s.lastSweep = now
		cutoff := now.Add(-s.cfg.DedupWindow)
		for id, ts := range s.seen {
			if ts.Before(cutoff) {
				delete(s.seen, id)
			}
		}
	}
	return false
}
