package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RuleType is the business category of a rule
type RuleType string

const (
	RuleTypeKeywordTrigger RuleType = "keyword_trigger"
	RuleTypeMessageForward RuleType = "message_forward"
	RuleTypeAutoReply      RuleType = "auto_reply"
	RuleTypeEscalation     RuleType = "escalation"
)

// ContinuationPolicy decides whether a chain continues after this rule matches
type ContinuationPolicy string

const (
	PolicyExclusive  ContinuationPolicy = "exclusive"
	PolicyCumulative ContinuationPolicy = "cumulative"
)

// ConditionKind is the closed set of condition predicates
type ConditionKind string

const (
	CondKeywordMatch     ConditionKind = "keyword_match"
	CondNlpCategory      ConditionKind = "nlp_category"
	CondTimeWindow       ConditionKind = "time_window"
	CondSenderPattern    ConditionKind = "sender_pattern"
	CondCounterThreshold ConditionKind = "counter_threshold"
	CondContentMatch     ConditionKind = "content_match"
)

// MatchMode is how content_match compares text
type MatchMode string

const (
	MatchContains   MatchMode = "contains"
	MatchEquals     MatchMode = "equals"
	MatchStartsWith MatchMode = "starts_with"
	MatchEndsWith   MatchMode = "ends_with"
	MatchRegex      MatchMode = "regex"
)

// Operator compares a counter against an operand
type Operator string

const (
	OpGT  Operator = "gt"
	OpGTE Operator = "gte"
	OpLT  Operator = "lt"
	OpLTE Operator = "lte"
	OpEQ  Operator = "eq"
	OpNE  Operator = "ne"
)

// Compare applies the operator to two integers
func (o Operator) Compare(left, right int) (bool, error) {
	switch o {
	case OpGT:
		return left > right, nil
	case OpGTE:
		return left >= right, nil
	case OpLT:
		return left < right, nil
	case OpLTE:
		return left <= right, nil
	case OpEQ, "":
		return left == right, nil
	case OpNE:
		return left != right, nil
	}
	return false, fmt.Errorf("unknown operator %q", o)
}

// Counter names readable by counter_threshold and writable by increment_counter
const (
	CounterMessageCountToday   = "message_count_today"
	CounterAutoReplyCountToday = "auto_reply_count_today"
	CounterTakeoverCountToday  = "takeover_count_today"
	CounterKeywordHitCount     = "keyword_hit_count"
)

// RuleCondition is a single predicate owned by a BusinessRule
type RuleCondition struct {
	ID            int64
	RuleID        int64
	Kind          ConditionKind
	Operator      Operator
	Operands      []string
	Field         string // counter name for counter_threshold
	Value         string // threshold, time range, pattern or min confidence depending on kind
	MatchMode     MatchMode
	CaseSensitive bool
}

// ActionKind is the closed set of rule side effects
type ActionKind string

const (
	ActionReply            ActionKind = "reply"
	ActionForward          ActionKind = "forward"
	ActionTag              ActionKind = "tag"
	ActionEscalate         ActionKind = "escalate"
	ActionIncrementCounter ActionKind = "increment_counter"
	ActionNoop             ActionKind = "noop"
)

// ActionPayload carries the per-kind configuration of an action
type ActionPayload struct {
	Template    string `json:"template,omitempty" yaml:"template,omitempty"`
	Text        string `json:"text,omitempty" yaml:"text,omitempty"`
	Destination string `json:"destination,omitempty" yaml:"destination,omitempty"`
	Tag         string `json:"tag,omitempty" yaml:"tag,omitempty"`
	Counter     string `json:"counter,omitempty" yaml:"counter,omitempty"`
	Reason      string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// RuleAction is a side effect owned by a BusinessRule
type RuleAction struct {
	ID             int64
	RuleID         int64
	Kind           ActionKind
	ExecutionOrder int
	Payload        ActionPayload
	Required       bool // failure aborts the remaining actions of the rule
}

// RuleSchedule limits when a rule applies. Zero value means always.
type RuleSchedule struct {
	Start    string // HH:MM
	End      string // HH:MM
	Weekdays []int  // 1=Monday .. 7=Sunday
}

// BusinessRule is a configured rule with its owned conditions and actions
type BusinessRule struct {
	ID           int64
	Name         string
	Type         RuleType
	Policy       ContinuationPolicy
	Priority     int // lower value is evaluated first
	Enabled      bool
	Critical     bool
	CreatorID    string
	Description  string
	Schedule     RuleSchedule
	TargetGroups []string
	StatusFilter []GroupStatus
	// DisableAutoTakeover stops a held counter_threshold from counting as a takeover
	DisableAutoTakeover bool
	TakeoverReason      string // template, {{rule}} and {{keyword}} are substituted
	Conditions          []RuleCondition
	Actions             []RuleAction
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsExclusive reports whether a match stops the chain
func (r *BusinessRule) IsExclusive() bool {
	return r.Policy != PolicyCumulative
}

// Validate checks the structural invariants of the rule
func (r *BusinessRule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return NewConfigurationError(r.ID, "rule name is required")
	}
	switch r.Policy {
	case "", PolicyExclusive, PolicyCumulative:
	default:
		return NewConfigurationError(r.ID, fmt.Sprintf("unknown continuation policy %q", r.Policy))
	}
	seen := make(map[int]bool, len(r.Actions))
	for _, a := range r.Actions {
		if seen[a.ExecutionOrder] {
			return NewConfigurationError(r.ID, fmt.Sprintf("duplicate action execution order %d", a.ExecutionOrder))
		}
		seen[a.ExecutionOrder] = true
	}
	if r.Schedule.Start != "" || r.Schedule.End != "" {
		if _, _, err := ParseClockRange(r.Schedule.Start + "-" + r.Schedule.End); err != nil {
			return NewConfigurationError(r.ID, err.Error())
		}
	}
	for _, d := range r.Schedule.Weekdays {
		if d < 1 || d > 7 {
			return NewConfigurationError(r.ID, fmt.Sprintf("invalid weekday %d", d))
		}
	}
	return nil
}

// AppliesTo checks the rule's schedule, target groups and status filter
func (r *BusinessRule) AppliesTo(msg *Message, status GroupStatus) bool {
	if len(r.TargetGroups) > 0 && !containsString(r.TargetGroups, msg.ChatRoom) {
		return false
	}
	if len(r.StatusFilter) > 0 {
		ok := false
		for _, s := range r.StatusFilter {
			if s == status {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(r.Schedule.Weekdays) > 0 {
		if !containsInt(r.Schedule.Weekdays, IsoWeekday(msg.ReceivedAt)) {
			return false
		}
	}
	if r.Schedule.Start != "" && r.Schedule.End != "" {
		start, end, err := ParseClockRange(r.Schedule.Start + "-" + r.Schedule.End)
		if err != nil {
			return false
		}
		return InClockRange(msg.ReceivedAt, start, end)
	}
	return true
}

// ReasonFor renders the takeover reason for this rule
func (r *BusinessRule) ReasonFor(keyword string) string {
	reason := r.TakeoverReason
	if reason == "" {
		reason = "rule {{rule}} escalated"
	}
	reason = strings.ReplaceAll(reason, "{{rule}}", r.Name)
	reason = strings.ReplaceAll(reason, "{{keyword}}", keyword)
	return reason
}

// IsoWeekday returns 1 for Monday through 7 for Sunday
func IsoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// ParseClockRange parses "HH:MM-HH:MM" into minutes since midnight
func ParseClockRange(s string) (start, end int, err error) {
	from, to, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return 0, 0, fmt.Errorf("invalid time range %q", s)
	}
	if start, err = parseClock(from); err != nil {
		return 0, 0, err
	}
	if end, err = parseClock(to); err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// InClockRange checks whether t falls in [start, end]; ranges may wrap past midnight
func InClockRange(t time.Time, start, end int) bool {
	m := t.Hour()*60 + t.Minute()
	if start <= end {
		return m >= start && m <= end
	}
	return m >= start || m <= end
}

func parseClock(s string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	min, err := strconv.Atoi(m)
	if err != nil || min < 0 || min > 59 {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	return hour*60 + min, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsInt(list []int, n int) bool {
	for _, v := range list {
		if v == n {
			return true
		}
	}
	return false
}
