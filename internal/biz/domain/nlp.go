package domain

import "time"

// NlpStatus is the processing state of an NLP classification
type NlpStatus int

const (
	NlpPending NlpStatus = 0
	NlpSuccess NlpStatus = 1
	NlpFailed  NlpStatus = 2
)

// String returns the status name
func (s NlpStatus) String() string {
	switch s {
	case NlpPending:
		return "pending"
	case NlpSuccess:
		return "success"
	case NlpFailed:
		return "failed"
	}
	return "unknown"
}

// NlpResult is a per-message classification produced by the NLP collaborator
type NlpResult struct {
	ID          int64
	MessageID   string
	Category    string
	Status      NlpStatus
	Confidence  float64
	ProcessedAt time.Time
}

// Signals are the derived facts about a message used by conditions
type Signals struct {
	KeywordHits   []KeywordHit
	NlpPresent    bool
	NlpCategory   string
	NlpConfidence float64
}

// HasKeyword checks whether any hit matched the keyword
func (s *Signals) HasKeyword(keyword string) bool {
	for _, h := range s.KeywordHits {
		if h.Keyword == keyword {
			return true
		}
	}
	return false
}

// MaxHitCount returns the largest post-increment hit counter among the hits
func (s *Signals) MaxHitCount() int {
	max := 0
	for _, h := range s.KeywordHits {
		if h.HitCount > max {
			max = h.HitCount
		}
	}
	return max
}
