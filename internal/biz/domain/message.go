package domain

import (
	"strings"
	"time"
)

// SourceType identifies where a message or keyword came from
type SourceType string

const (
	SourceServer SourceType = "server"
	SourceClient SourceType = "client"
)

// MessagePriority is the ingestion-assigned urgency of a message
type MessagePriority int

const (
	MessagePriorityNormal MessagePriority = 0
	MessagePriorityHigh   MessagePriority = 1
	MessagePriorityUrgent MessagePriority = 2
)

// Message represents an inbound group chat message.
// Only the Forwarded flag is written by the engine.
type Message struct {
	ID         string
	ChatRoom   string
	GridUserID string
	SenderName string
	Content    string
	MsgType    string // text, image, post, etc.
	GridArea   string
	SourceType SourceType
	Priority   MessagePriority
	ReceivedAt time.Time
	Forwarded  bool
}

// NormalizedContent returns the lower-cased, trimmed content used for matching
func (m *Message) NormalizedContent() string {
	return strings.ToLower(strings.TrimSpace(m.Content))
}

// IsEmpty checks if the message has no text to match against
func (m *Message) IsEmpty() bool {
	return strings.TrimSpace(m.Content) == ""
}
