package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"
	"go.uber.org/zap"
)

// Message represents a received Feishu group message
type Message struct {
	ChatID     string
	MsgID      string
	MsgType    string // text, post
	ChatType   string // p2p, group
	Content    string // plain text extracted from the message
	SenderID   string // open_id
	SenderType string // user, app
	CreateTime time.Time
}

// ChatInfo represents information about a chat
type ChatInfo struct {
	ChatID      string `json:"chat_id"`
	Name        string `json:"name"`
	ChatType    string `json:"chat_type"`
	MemberCount int    `json:"user_count"`
}

// ChatMember represents a member in a chat
type ChatMember struct {
	MemberID string `json:"member_id"` // open_id
	Name     string `json:"name"`
}

// MessageHandler is the callback for received messages
type MessageHandler func(msg *Message)

// Client is the Feishu API client
type Client struct {
	appID     string
	appSecret string
	larkCli   *lark.Client
	onMessage MessageHandler
	logger    *zap.Logger
}

// NewClient creates a new Feishu client
func NewClient(appID, appSecret string, logger *zap.Logger) *Client {
	return &Client{
		appID:     appID,
		appSecret: appSecret,
		larkCli:   lark.NewClient(appID, appSecret),
		logger:    logger.Named("feishu"),
	}
}

// OnMessage sets the message handler
func (c *Client) OnMessage(handler MessageHandler) {
	c.onMessage = handler
}

// Start connects via WebSocket and blocks until ctx is done or the connection fails
func (c *Client) Start(ctx context.Context) error {
	// The handler must return quickly so the SDK can ACK; otherwise Feishu redelivers.
	eventHandler := dispatcher.NewEventDispatcher("", "").
		OnP2MessageReceiveV1(func(_ context.Context, event *larkim.P2MessageReceiveV1) error {
			go c.handleMessage(event)
			return nil
		})

	wsCli := larkws.NewClient(c.appID, c.appSecret,
		larkws.WithEventHandler(eventHandler),
		larkws.WithLogLevel(larkcore.LogLevelInfo),
	)

	c.logger.Info("starting websocket connection")
	return wsCli.Start(ctx)
}

// handleMessage converts an SDK event into a Message
func (c *Client) handleMessage(event *larkim.P2MessageReceiveV1) {
	if event.Event == nil || event.Event.Message == nil {
		return
	}
	rawMsg := event.Event.Message

	msg := &Message{
		ChatID:   deref(rawMsg.ChatId),
		MsgID:    deref(rawMsg.MessageId),
		MsgType:  deref(rawMsg.MessageType),
		ChatType: deref(rawMsg.ChatType),
	}
	if sender := event.Event.Sender; sender != nil {
		msg.SenderType = deref(sender.SenderType)
		if sender.SenderId != nil {
			msg.SenderID = deref(sender.SenderId.OpenId)
		}
	}
	// Our own messages come back as app events.
	if msg.SenderType == "app" {
		return
	}
	msg.CreateTime = time.Now()
	if ts, err := strconv.ParseInt(deref(rawMsg.CreateTime), 10, 64); err == nil {
		msg.CreateTime = time.UnixMilli(ts)
	}

	mentions := make(map[string]string)
	for _, m := range rawMsg.Mentions {
		if m.Key != nil && m.Name != nil {
			mentions[*m.Key] = *m.Name
		}
	}

	switch msg.MsgType {
	case "text":
		msg.Content = parseTextContent(deref(rawMsg.Content), mentions)
	case "post":
		msg.Content = parsePostContent(deref(rawMsg.Content), mentions)
	default:
		c.logger.Debug("unsupported message type", zap.String("msg_type", msg.MsgType), zap.String("chat_id", msg.ChatID))
		return
	}

	c.logger.Debug("message received",
		zap.String("chat_id", msg.ChatID),
		zap.String("msg_id", msg.MsgID),
		zap.String("content", truncate(msg.Content, 50)),
	)
	if c.onMessage != nil {
		c.onMessage(msg)
	}
}

// parseTextContent extracts text from a text message, replacing mention placeholders
func parseTextContent(content string, mentions map[string]string) string {
	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return ""
	}
	return replaceMentions(parsed.Text, mentions)
}

// parsePostContent flattens a rich text message into lines of text
func parsePostContent(content string, mentions map[string]string) string {
	var parsed struct {
		Title   string `json:"title"`
		Content [][]struct {
			Tag    string `json:"tag"`
			Text   string `json:"text,omitempty"`
			UserID string `json:"user_id,omitempty"`
		} `json:"content"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return ""
	}

	var lines []string
	if parsed.Title != "" {
		lines = append(lines, parsed.Title)
	}
	for _, line := range parsed.Content {
		var sb strings.Builder
		for _, elem := range line {
			switch elem.Tag {
			case "text":
				sb.WriteString(elem.Text)
			case "at":
				if name, ok := mentions[elem.UserID]; ok {
					sb.WriteString("@" + name)
				} else if elem.UserID != "" {
					sb.WriteString("@" + elem.UserID)
				}
			}
		}
		if sb.Len() > 0 {
			lines = append(lines, sb.String())
		}
	}
	return replaceMentions(strings.Join(lines, "\n"), mentions)
}

// replaceMentions replaces @_user_N placeholders with real names
func replaceMentions(text string, mentions map[string]string) string {
	for key, name := range mentions {
		text = strings.ReplaceAll(text, key, "@"+name)
	}
	return text
}

func textContent(text string) string {
	contentJSON, _ := json.Marshal(map[string]string{"text": text})
	return string(contentJSON)
}

// SendText sends a text message to a chat
func (c *Client) SendText(ctx context.Context, chatID, text string) error {
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(chatID).
			MsgType(larkim.MsgTypeText).
			Content(textContent(text)).
			Build()).
		Build()

	resp, err := c.larkCli.Im.Message.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("send message failed: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("send message error: %s", resp.Msg)
	}
	c.logger.Debug("message sent", zap.String("chat_id", chatID))
	return nil
}

// ReplyText replies to a message in its chat
func (c *Client) ReplyText(ctx context.Context, messageID, text string) error {
	req := larkim.NewReplyMessageReqBuilder().
		MessageId(messageID).
		Body(larkim.NewReplyMessageReqBodyBuilder().
			MsgType(larkim.MsgTypeText).
			Content(textContent(text)).
			Build()).
		Build()

	resp, err := c.larkCli.Im.Message.Reply(ctx, req)
	if err != nil {
		return fmt.Errorf("reply message failed: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("reply message error: %s", resp.Msg)
	}
	c.logger.Debug("message replied", zap.String("msg_id", messageID))
	return nil
}

// Forward forwards a message to another chat
func (c *Client) Forward(ctx context.Context, messageID, chatID string) error {
	req := larkim.NewForwardMessageReqBuilder().
		MessageId(messageID).
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(larkim.NewForwardMessageReqBodyBuilder().
			ReceiveId(chatID).
			Build()).
		Build()

	resp, err := c.larkCli.Im.Message.Forward(ctx, req)
	if err != nil {
		return fmt.Errorf("forward message failed: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("forward message error: %s", resp.Msg)
	}
	c.logger.Debug("message forwarded", zap.String("msg_id", messageID), zap.String("chat_id", chatID))
	return nil
}

// GetChatInfo retrieves information about a chat
func (c *Client) GetChatInfo(ctx context.Context, chatID string) (*ChatInfo, error) {
	req := larkim.NewGetChatReqBuilder().
		ChatId(chatID).
		Build()

	resp, err := c.larkCli.Im.Chat.Get(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("get chat info failed: %w", err)
	}
	if !resp.Success() {
		return nil, fmt.Errorf("get chat info error: %s", resp.Msg)
	}

	info := &ChatInfo{
		ChatID:   chatID,
		Name:     deref(resp.Data.Name),
		ChatType: deref(resp.Data.ChatMode),
	}
	if n, err := strconv.Atoi(deref(resp.Data.UserCount)); err == nil {
		info.MemberCount = n
	}
	return info, nil
}

// GetChatMembers lists the members of a chat, following pagination
func (c *Client) GetChatMembers(ctx context.Context, chatID string) ([]*ChatMember, error) {
	var members []*ChatMember
	var pageToken string

	for {
		builder := larkim.NewGetChatMembersReqBuilder().
			MemberIdType("open_id").
			ChatId(chatID).
			PageSize(100)
		if pageToken != "" {
			builder = builder.PageToken(pageToken)
		}

		resp, err := c.larkCli.Im.ChatMembers.Get(ctx, builder.Build())
		if err != nil {
			return nil, fmt.Errorf("get chat members failed: %w", err)
		}
		if !resp.Success() {
			return nil, fmt.Errorf("get chat members error: %s", resp.Msg)
		}

		for _, item := range resp.Data.Items {
			members = append(members, &ChatMember{
				MemberID: deref(item.MemberId),
				Name:     deref(item.Name),
			})
		}

		if resp.Data.HasMore == nil || !*resp.Data.HasMore || deref(resp.Data.PageToken) == "" {
			break
		}
		pageToken = *resp.Data.PageToken
	}

	c.logger.Debug("chat members listed", zap.String("chat_id", chatID), zap.Int("members", len(members)))
	return members, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
