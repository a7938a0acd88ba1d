package domain

import "time"

// MessageTemplate is a stored reply template. Content is text/template source
// over the message fields Content, SenderName, ChatRoom, GridArea, GridUserID and ReceivedAt.
type MessageTemplate struct {
	ID        string
	Name      string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}
