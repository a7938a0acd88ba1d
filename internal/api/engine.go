package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
)

type messageRequest struct {
	ID         string    `json:"id"`
	ChatRoom   string    `json:"chat_room"`
	GridUserID string    `json:"grid_user_id"`
	SenderName string    `json:"sender_name"`
	Content    string    `json:"content"`
	MsgType    string    `json:"msg_type"`
	GridArea   string    `json:"grid_area"`
	SourceType string    `json:"source_type"`
	Priority   int       `json:"priority"`
	ReceivedAt time.Time `json:"received_at"`
}

func (m *messageRequest) toDomain() (*domain.Message, error) {
	if m.ChatRoom == "" {
		return nil, errors.New("chat_room is required")
	}
	source := domain.SourceType(m.SourceType)
	switch source {
	case "":
		source = domain.SourceServer
	case domain.SourceServer, domain.SourceClient:
	default:
		return nil, errors.New("source_type must be server or client")
	}
	if m.Priority < int(domain.MessagePriorityNormal) || m.Priority > int(domain.MessagePriorityUrgent) {
		return nil, errors.New("priority must be 0, 1 or 2")
	}
	msgType := m.MsgType
	if msgType == "" {
		msgType = "text"
	}
	return &domain.Message{
		ID:         m.ID,
		ChatRoom:   m.ChatRoom,
		GridUserID: m.GridUserID,
		SenderName: m.SenderName,
		Content:    m.Content,
		MsgType:    msgType,
		GridArea:   m.GridArea,
		SourceType: source,
		Priority:   domain.MessagePriority(m.Priority),
		ReceivedAt: m.ReceivedAt,
	}, nil
}

func decodeMessage(r *http.Request) (*domain.Message, error) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, err
	}
	return req.toDomain()
}

// handleProcessMessage runs a message through classification and the configured chain.
// A failed run still returns its result alongside the error status.
func (s *Server) handleProcessMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := decodeMessage(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	res, err := s.deps.Processor.Process(r.Context(), msg)
	if err != nil && res == nil {
		writeError(w, err)
		return
	}
	if err != nil && !errors.Is(err, domain.ErrCriticalRule) {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if err != nil {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, toChainResultJSON(res))
}

func (s *Server) handleEvaluateRule(w http.ResponseWriter, r *http.Request) {
	ruleID, err := strconv.ParseInt(chi.URLParam(r, "ruleID"), 10, 64)
	if err != nil {
		badRequest(w, "invalid rule id")
		return
	}
	msg, err := decodeMessage(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	res, err := s.deps.Engine.EvaluateRule(r.Context(), ruleID, msg)
	if err != nil && (res == nil || !errors.Is(err, domain.ErrCriticalRule)) {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if err != nil {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, toChainResultJSON(res))
}

type ruleJSON struct {
	ID           int64    `json:"id"`
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Policy       string   `json:"policy"`
	Priority     int      `json:"priority"`
	Enabled      bool     `json:"enabled"`
	Critical     bool     `json:"critical"`
	AutoTakeover bool     `json:"auto_takeover"`
	Conditions   int      `json:"conditions"`
	Actions      []string `json:"actions"`
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.deps.Rules.ListRules(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]ruleJSON, 0, len(rules))
	for _, rule := range rules {
		rj := ruleJSON{
			ID:           rule.ID,
			Name:         rule.Name,
			Type:         string(rule.Type),
			Policy:       string(rule.Policy),
			Priority:     rule.Priority,
			Enabled:      rule.Enabled,
			Critical:     rule.Critical,
			AutoTakeover: !rule.DisableAutoTakeover,
			Conditions:   len(rule.Conditions),
			Actions:      []string{},
		}
		for _, a := range rule.Actions {
			rj.Actions = append(rj.Actions, string(a.Kind))
		}
		out = append(out, rj)
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": out})
}

type chainJSON struct {
	ID      int64              `json:"id"`
	Name    string             `json:"name"`
	Enabled bool               `json:"enabled"`
	Rules   []chainRelationDTO `json:"rules"`
}

type chainRelationDTO struct {
	RuleID int64 `json:"rule_id"`
	Order  int   `json:"order"`
}

func (s *Server) handleListChains(w http.ResponseWriter, r *http.Request) {
	chains, err := s.deps.Rules.ListChains(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]chainJSON, 0, len(chains))
	for _, c := range chains {
		cj := chainJSON{ID: c.ID, Name: c.Name, Enabled: c.Enabled, Rules: []chainRelationDTO{}}
		for _, rel := range c.Relations {
			cj.Rules = append(cj.Rules, chainRelationDTO{RuleID: rel.RuleID, Order: rel.ExecutionOrder})
		}
		out = append(out, cj)
	}
	writeJSON(w, http.StatusOK, map[string]any{"chains": out})
}

func (s *Server) handleInvalidateRules(w http.ResponseWriter, r *http.Request) {
	s.deps.Engine.InvalidateRules()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	pending, dropped := s.deps.Engine.LogBacklog()
	status := "ok"
	if pending > 0 {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          status,
		"execlog_pending": pending,
		"execlog_dropped": dropped,
	})
}

func (s *Server) handleExecutionStats(w http.ResponseWriter, r *http.Request) {
	window := 24 * time.Hour
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			badRequest(w, "window must be a positive duration")
			return
		}
		window = d
	}
	stats, err := s.deps.ExecLogs.Stats(r.Context(), time.Now().Add(-window))
	if err != nil {
		writeError(w, err)
		return
	}
	out := toStatsJSON(stats)
	out.PendingWrites, out.DroppedWrites = s.deps.Engine.LogBacklog()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleExecutionsByMessage(w http.ResponseWriter, r *http.Request) {
	logs, err := s.deps.ExecLogs.ListByMessage(r.Context(), chi.URLParam(r, "messageID"))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]execLogJSON, 0, len(logs))
	for _, l := range logs {
		out = append(out, execLogJSON{
			ID:                l.ID,
			RunID:             l.RunID,
			ChainID:           l.ChainID,
			RuleID:            l.RuleID,
			Result:            string(l.Result),
			DurationMs:        millis(l.Duration),
			MatchedConditions: l.MatchedConditions,
			ExecutedActions:   l.ExecutedActions,
			Detail:            l.Detail,
			ExecutedAt:        l.ExecutedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": out})
}

type keywordJSON struct {
	ID        int64  `json:"id"`
	Keyword   string `json:"keyword"`
	Scope     string `json:"scope"`
	Priority  string `json:"priority"`
	HitCount  int    `json:"hit_count"`
	Threshold int    `json:"threshold"`
}

func (s *Server) handleKeywordsReached(w http.ResponseWriter, r *http.Request) {
	source := domain.SourceType(r.URL.Query().Get("source"))
	if source == "" {
		source = domain.SourceClient
	}
	keywords, err := s.deps.Engine.KeywordsReachedThreshold(r.Context(), source)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]keywordJSON, 0, len(keywords))
	for _, k := range keywords {
		out = append(out, keywordJSON{
			ID:        k.ID,
			Keyword:   k.Keyword,
			Scope:     k.Scope.String(),
			Priority:  string(k.Priority),
			HitCount:  k.HitCount,
			Threshold: k.TriggerThreshold,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"keywords": out})
}

func (s *Server) handleResetDaily(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Engine.ResetDailyCounters(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reset": n})
}
