package domain

import "time"

// GroupDailyStatistics is the daily roll-up of a group
type GroupDailyStatistics struct {
	ID                int64
	ChatRoom          string
	Date              string // YYYY-MM-DD
	MessageCount      int
	AutoReplyCount    int
	TakeoverCount     int
	RuleSuccessCount  int64
	RuleFailureCount  int64
	AvgResponseTime   time.Duration
	SatisfactionScore *float64
	CreatedAt         time.Time
}

// DateKey formats a day the way statistics rows are keyed
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
