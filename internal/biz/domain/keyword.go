package domain

import (
	"fmt"
	"strings"
	"time"
)

// ScopeKind is the visibility class of a keyword
type ScopeKind string

const (
	ScopeGlobal ScopeKind = "global"
	ScopeLocal  ScopeKind = "local"  // bound to a grid area
	ScopeClient ScopeKind = "client" // bound to a source type
)

// KeywordScope is global, local:<gridArea> or client:<sourceType>
type KeywordScope struct {
	Kind  ScopeKind
	Value string
}

// GlobalScope returns the global keyword scope
func GlobalScope() KeywordScope {
	return KeywordScope{Kind: ScopeGlobal}
}

// ParseKeywordScope parses the textual scope form
func ParseKeywordScope(s string) (KeywordScope, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == string(ScopeGlobal) {
		return GlobalScope(), nil
	}
	kind, value, ok := strings.Cut(s, ":")
	if !ok || value == "" {
		return KeywordScope{}, fmt.Errorf("invalid keyword scope %q", s)
	}
	switch ScopeKind(kind) {
	case ScopeLocal, ScopeClient:
		return KeywordScope{Kind: ScopeKind(kind), Value: value}, nil
	}
	return KeywordScope{}, fmt.Errorf("invalid keyword scope %q", s)
}

// String returns the textual scope form
func (s KeywordScope) String() string {
	if s.Kind == ScopeGlobal || s.Kind == "" {
		return string(ScopeGlobal)
	}
	return string(s.Kind) + ":" + s.Value
}

// Applies checks whether the scope covers the message
func (s KeywordScope) Applies(msg *Message) bool {
	switch s.Kind {
	case ScopeGlobal, "":
		return true
	case ScopeLocal:
		return msg.GridArea != "" && s.Value == msg.GridArea
	case ScopeClient:
		return s.Value == string(msg.SourceType)
	}
	return false
}

// KeywordPriority orders keywords for review
type KeywordPriority string

const (
	KeywordPriorityLow    KeywordPriority = "low"
	KeywordPriorityNormal KeywordPriority = "normal"
	KeywordPriorityHigh   KeywordPriority = "high"
	KeywordPriorityUrgent KeywordPriority = "urgent"
)

// RegexPrefix marks a keyword whose text is a regular expression
const RegexPrefix = "regex:"

// DefaultTriggerThreshold is used when a keyword has no threshold configured
const DefaultTriggerThreshold = 3

// KeywordConfig is an authored keyword. The engine only increments HitCount.
type KeywordConfig struct {
	ID               int64
	Keyword          string
	Scope            KeywordScope
	Priority         KeywordPriority
	Active           bool
	HitCount         int
	Weight           int
	TriggerThreshold int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsRegex reports whether the keyword is a regular expression
func (k *KeywordConfig) IsRegex() bool {
	return strings.HasPrefix(k.Keyword, RegexPrefix)
}

// Pattern returns the regular expression text for regex keywords
func (k *KeywordConfig) Pattern() string {
	return strings.TrimPrefix(k.Keyword, RegexPrefix)
}

// Threshold returns the effective trigger threshold
func (k *KeywordConfig) Threshold() int {
	if k.TriggerThreshold <= 0 {
		return DefaultTriggerThreshold
	}
	return k.TriggerThreshold
}

// ReachedThreshold reports whether the hit counter has reached the trigger threshold
func (k *KeywordConfig) ReachedThreshold() bool {
	return k.HitCount >= k.Threshold()
}

// KeywordHit is a keyword matched in a single message
type KeywordHit struct {
	KeywordID        int64
	Keyword          string
	Scope            KeywordScope
	Weight           int
	HitCount         int // counter value after this message's increment
	ReachedThreshold bool
	Confidence       float64
}
