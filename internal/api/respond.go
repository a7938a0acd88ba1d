package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP status codes
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrConfiguration),
		errors.Is(err, domain.ErrDuplicateRuleInChain),
		errors.Is(err, domain.ErrInvalidOrder):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNoChain):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrCriticalRule):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrStorageUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

type groupJSON struct {
	ChatRoom            string     `json:"chat_room"`
	GroupName           string     `json:"group_name,omitempty"`
	Status              string     `json:"status"`
	AutoReplyEnabled    bool       `json:"auto_reply_enabled"`
	AutoForwardEnabled  bool       `json:"auto_forward_enabled"`
	MessageCountToday   int        `json:"message_count_today"`
	AutoReplyCountToday int        `json:"auto_reply_count_today"`
	TakeoverCountToday  int        `json:"takeover_count_today"`
	TakeoverThreshold   int        `json:"takeover_threshold,omitempty"`
	TakeoverTime        *time.Time `json:"takeover_time,omitempty"`
	TakeoverBy          string     `json:"takeover_by,omitempty"`
	TakeoverReason      string     `json:"takeover_reason,omitempty"`
	LastActivityTime    *time.Time `json:"last_activity_time,omitempty"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func toGroupJSON(g *domain.GroupManagementStatus) groupJSON {
	return groupJSON{
		ChatRoom:            g.ChatRoom,
		GroupName:           g.GroupName,
		Status:              string(g.Status),
		AutoReplyEnabled:    g.AutoReplyEnabled,
		AutoForwardEnabled:  g.AutoForwardEnabled,
		MessageCountToday:   g.MessageCountToday,
		AutoReplyCountToday: g.AutoReplyCountToday,
		TakeoverCountToday:  g.TakeoverCountToday,
		TakeoverThreshold:   g.TakeoverThreshold,
		TakeoverTime:        g.TakeoverTime,
		TakeoverBy:          g.TakeoverBy,
		TakeoverReason:      g.TakeoverReason,
		LastActivityTime:    g.LastActivityTime,
		UpdatedAt:           g.UpdatedAt,
	}
}

func toGroupsJSON(groups []*domain.GroupManagementStatus) []groupJSON {
	out := make([]groupJSON, 0, len(groups))
	for _, g := range groups {
		out = append(out, toGroupJSON(g))
	}
	return out
}

type ruleOutcomeJSON struct {
	RuleID            int64    `json:"rule_id"`
	RuleName          string   `json:"rule_name"`
	Result            string   `json:"result"`
	MatchedConditions []string `json:"matched_conditions,omitempty"`
	Actions           []string `json:"actions,omitempty"`
	Failures          []string `json:"failures,omitempty"`
	Error             string   `json:"error,omitempty"`
	DurationMs        float64  `json:"duration_ms"`
}

type chainResultJSON struct {
	RunID          string            `json:"run_id"`
	ChainID        int64             `json:"chain_id,omitempty"`
	ChainName      string            `json:"chain_name,omitempty"`
	MessageID      string            `json:"message_id"`
	ChatRoom       string            `json:"chat_room"`
	Status         string            `json:"status"`
	State          string            `json:"state"`
	ExitState      string            `json:"exit_state"`
	EvaluatedRules []int64           `json:"evaluated_rules"`
	MatchedRules   []ruleOutcomeJSON `json:"matched_rules"`
	Tags           []string          `json:"tags,omitempty"`
	Error          string            `json:"error,omitempty"`
	DurationMs     float64           `json:"duration_ms"`
}

func toChainResultJSON(res *domain.ChainResult) chainResultJSON {
	out := chainResultJSON{
		RunID:          res.RunID,
		ChainID:        res.ChainID,
		ChainName:      res.ChainName,
		MessageID:      res.MessageID,
		ChatRoom:       res.ChatRoom,
		Status:         string(res.FinalStatus),
		State:          string(res.State),
		ExitState:      string(res.ExitState),
		EvaluatedRules: res.EvaluatedRules,
		MatchedRules:   make([]ruleOutcomeJSON, 0, len(res.MatchedRules)),
		Tags:           res.Tags,
		DurationMs:     millis(res.Duration),
	}
	if out.EvaluatedRules == nil {
		out.EvaluatedRules = []int64{}
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	for _, m := range res.MatchedRules {
		o := ruleOutcomeJSON{
			RuleID:            m.RuleID,
			RuleName:          m.RuleName,
			Result:            string(m.Result),
			MatchedConditions: m.MatchedConditions,
			DurationMs:        millis(m.Duration),
		}
		for _, a := range m.Actions.Applied {
			o.Actions = append(o.Actions, string(a))
		}
		for _, f := range m.Actions.Failures {
			o.Failures = append(o.Failures, f.Err.Error())
		}
		if m.Err != nil {
			o.Error = m.Err.Error()
		}
		out.MatchedRules = append(out.MatchedRules, o)
	}
	return out
}

type execLogJSON struct {
	ID                int64     `json:"id"`
	RunID             string    `json:"run_id"`
	ChainID           int64     `json:"chain_id"`
	RuleID            *int64    `json:"rule_id"`
	Result            string    `json:"result"`
	DurationMs        float64   `json:"duration_ms"`
	MatchedConditions []string  `json:"matched_conditions,omitempty"`
	ExecutedActions   []string  `json:"executed_actions,omitempty"`
	Detail            string    `json:"detail,omitempty"`
	ExecutedAt        time.Time `json:"executed_at"`
}

type statsJSON struct {
	Total         int64   `json:"total"`
	Success       int64   `json:"success"`
	Failed        int64   `json:"failed"`
	Skipped       int64   `json:"skipped"`
	SuccessRate   float64 `json:"success_rate"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	PendingWrites int     `json:"pending_writes"`
	DroppedWrites int64   `json:"dropped_writes"`
}

func toStatsJSON(s domain.ExecutionStats) statsJSON {
	return statsJSON{
		Total:         s.Total,
		Success:       s.Success,
		Failed:        s.Failed,
		Skipped:       s.Skipped,
		SuccessRate:   s.SuccessRate(),
		AvgDurationMs: millis(s.AvgDuration),
	}
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
