package domain

import "time"

// GroupStatus is the management state of a chat room
type GroupStatus string

const (
	GroupNormal    GroupStatus = "normal"
	GroupAttention GroupStatus = "attention"
	GroupTakeover  GroupStatus = "takeover"
)

// Valid checks the status value
func (s GroupStatus) Valid() bool {
	switch s {
	case GroupNormal, GroupAttention, GroupTakeover:
		return true
	}
	return false
}

// GroupManagementStatus is the per-room running state
type GroupManagementStatus struct {
	ChatRoom            string
	GroupName           string
	Status              GroupStatus
	AutoReplyEnabled    bool
	AutoForwardEnabled  bool
	MessageCountToday   int
	AutoReplyCountToday int
	TakeoverCountToday  int
	TakeoverThreshold   int // 0 uses the configured default
	TakeoverTime        *time.Time
	TakeoverBy          string
	TakeoverReason      string
	LastActivityTime    *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// NewGroupStatus creates a fresh normal-status record
func NewGroupStatus(chatRoom string, now time.Time) *GroupManagementStatus {
	return &GroupManagementStatus{
		ChatRoom:           chatRoom,
		Status:             GroupNormal,
		AutoReplyEnabled:   true,
		AutoForwardEnabled: true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// Clone returns a copy safe to hand out of the tracker
func (g *GroupManagementStatus) Clone() *GroupManagementStatus {
	c := *g
	if g.TakeoverTime != nil {
		t := *g.TakeoverTime
		c.TakeoverTime = &t
	}
	if g.LastActivityTime != nil {
		t := *g.LastActivityTime
		c.LastActivityTime = &t
	}
	return &c
}

// Threshold returns the effective takeover threshold
func (g *GroupManagementStatus) Threshold(defaultThreshold int) int {
	if g.TakeoverThreshold > 0 {
		return g.TakeoverThreshold
	}
	return defaultThreshold
}

// RecordMessage counts a processed message
func (g *GroupManagementStatus) RecordMessage(now time.Time) {
	g.MessageCountToday++
	g.LastActivityTime = &now
	g.UpdatedAt = now
}

// RecordAutoReply counts a successful reply or forward
func (g *GroupManagementStatus) RecordAutoReply(now time.Time) {
	g.AutoReplyCountToday++
	g.UpdatedAt = now
}

// RecordTakeover counts a takeover trigger and moves the status.
// Returns true when this call moved the group into takeover.
func (g *GroupManagementStatus) RecordTakeover(actor, reason string, threshold int, now time.Time) bool {
	g.TakeoverCountToday++
	g.TakeoverTime = &now
	g.TakeoverBy = actor
	g.TakeoverReason = reason
	g.UpdatedAt = now

	prev := g.Status
	switch {
	case threshold > 0 && g.TakeoverCountToday >= threshold:
		g.Status = GroupTakeover
	case g.Status != GroupTakeover:
		g.Status = GroupAttention
	}
	return prev != GroupTakeover && g.Status == GroupTakeover
}

// ManualTakeover puts the group under human control immediately. It counts
// towards today's takeovers like any other trigger.
func (g *GroupManagementStatus) ManualTakeover(actor, reason string, now time.Time) {
	g.TakeoverCountToday++
	g.Status = GroupTakeover
	g.TakeoverTime = &now
	g.TakeoverBy = actor
	g.TakeoverReason = reason
	g.UpdatedAt = now
}

// Release hands the group back to automation. Counters are kept.
func (g *GroupManagementStatus) Release(now time.Time) {
	g.Status = GroupNormal
	g.UpdatedAt = now
}

// ResetDaily zeroes the today counters, optionally returning status to normal
func (g *GroupManagementStatus) ResetDaily(resetStatus bool, now time.Time) {
	g.MessageCountToday = 0
	g.AutoReplyCountToday = 0
	g.TakeoverCountToday = 0
	if resetStatus {
		g.Status = GroupNormal
	}
	g.UpdatedAt = now
}

// Counter returns a named today-counter
func (g *GroupManagementStatus) Counter(name string) (int, bool) {
	switch name {
	case CounterMessageCountToday:
		return g.MessageCountToday, true
	case CounterAutoReplyCountToday:
		return g.AutoReplyCountToday, true
	case CounterTakeoverCountToday:
		return g.TakeoverCountToday, true
	}
	return 0, false
}

// AcceptsAutoReply reports whether automated replies may be sent
func (g *GroupManagementStatus) AcceptsAutoReply() bool {
	return g.AutoReplyEnabled && g.Status != GroupTakeover
}

// AcceptsAutoForward reports whether automated forwards may be sent
func (g *GroupManagementStatus) AcceptsAutoForward() bool {
	return g.AutoForwardEnabled && g.Status != GroupTakeover
}

// TakeoverEvent is emitted when a group enters takeover
type TakeoverEvent struct {
	ChatRoom      string
	GroupName     string
	Actor         string
	Reason        string
	TakeoverCount int
	Threshold     int
	At            time.Time
}

// StatusCount is the number of groups in a status
type StatusCount struct {
	Status GroupStatus
	Count  int
}
