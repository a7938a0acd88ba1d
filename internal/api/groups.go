package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
	"github.com/dianxiaozhu/gridguard/internal/biz/usecase"
)

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	var (
		groups []*domain.GroupManagementStatus
		err    error
	)
	if name := r.URL.Query().Get("name"); name != "" {
		groups, err = s.deps.Groups.Search(r.Context(), name)
	} else {
		groups, err = s.deps.Groups.ListAll(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": toGroupsJSON(groups)})
}

func (s *Server) handleAttentionGroups(w http.ResponseWriter, r *http.Request) {
	threshold := 0
	if v := r.URL.Query().Get("threshold"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(w, "threshold must be a non-negative integer")
			return
		}
		threshold = n
	}
	groups, err := s.deps.Groups.NeedingAttention(r.Context(), threshold)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": toGroupsJSON(groups)})
}

func (s *Server) handleActiveGroups(w http.ResponseWriter, r *http.Request) {
	window := time.Hour
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			badRequest(w, "window must be a positive duration")
			return
		}
		window = d
	}
	groups, err := s.deps.Groups.ActiveSince(r.Context(), window)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": toGroupsJSON(groups)})
}

func (s *Server) handleGroupCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.deps.Groups.CountByStatus(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make(map[string]int, len(counts))
	for _, c := range counts {
		out[string(c.Status)] = c.Count
	}
	writeJSON(w, http.StatusOK, map[string]any{"counts": out})
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	g, err := s.deps.Groups.Get(r.Context(), chi.URLParam(r, "chatRoom"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toGroupJSON(g))
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Groups.Delete(r.Context(), chi.URLParam(r, "chatRoom")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type takeoverRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

func (s *Server) handleTakeover(w http.ResponseWriter, r *http.Request) {
	var req takeoverRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, err.Error())
			return
		}
	}
	if req.Actor == "" {
		req.Actor = "api"
	}
	g, err := s.deps.Groups.ManualTakeover(r.Context(), chi.URLParam(r, "chatRoom"), req.Actor, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toGroupJSON(g))
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	g, err := s.deps.Groups.Release(r.Context(), chi.URLParam(r, "chatRoom"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toGroupJSON(g))
}

type settingsRequest struct {
	GroupName          *string `json:"group_name"`
	AutoReplyEnabled   *bool   `json:"auto_reply_enabled"`
	AutoForwardEnabled *bool   `json:"auto_forward_enabled"`
	TakeoverThreshold  *int    `json:"takeover_threshold"`
}

func (s *Server) handleGroupSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.TakeoverThreshold != nil && *req.TakeoverThreshold < 0 {
		badRequest(w, "takeover_threshold must be non-negative")
		return
	}
	g, err := s.deps.Groups.UpdateSettings(r.Context(), chi.URLParam(r, "chatRoom"), usecase.GroupSettings{
		GroupName:          req.GroupName,
		AutoReplyEnabled:   req.AutoReplyEnabled,
		AutoForwardEnabled: req.AutoForwardEnabled,
		TakeoverThreshold:  req.TakeoverThreshold,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toGroupJSON(g))
}

type batchStatusRequest struct {
	ChatRooms []string `json:"chat_rooms"`
	Status    string   `json:"status"`
	Actor     string   `json:"actor"`
	Reason    string   `json:"reason"`
}

func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	var req batchStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err.Error())
		return
	}
	status := domain.GroupStatus(req.Status)
	if !status.Valid() {
		badRequest(w, "status must be normal, attention or takeover")
		return
	}
	if len(req.ChatRooms) == 0 {
		badRequest(w, "chat_rooms is required")
		return
	}
	if req.Actor == "" {
		req.Actor = "api"
	}
	n, err := s.deps.Groups.BatchUpdateStatus(r.Context(), req.ChatRooms, status, req.Actor, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": n})
}

type dailyStatJSON struct {
	Date              string   `json:"date"`
	MessageCount      int      `json:"message_count"`
	AutoReplyCount    int      `json:"auto_reply_count"`
	TakeoverCount     int      `json:"takeover_count"`
	RuleSuccessCount  int64    `json:"rule_success_count"`
	RuleFailureCount  int64    `json:"rule_failure_count"`
	AvgResponseMs     float64  `json:"avg_response_ms"`
	SatisfactionScore *float64 `json:"satisfaction_score,omitempty"`
}

func (s *Server) handleGroupStatistics(w http.ResponseWriter, r *http.Request) {
	limit := 30
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	stats, err := s.deps.Stats.ListByRoom(r.Context(), chi.URLParam(r, "chatRoom"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]dailyStatJSON, 0, len(stats))
	for _, st := range stats {
		out = append(out, dailyStatJSON{
			Date:              st.Date,
			MessageCount:      st.MessageCount,
			AutoReplyCount:    st.AutoReplyCount,
			TakeoverCount:     st.TakeoverCount,
			RuleSuccessCount:  st.RuleSuccessCount,
			RuleFailureCount:  st.RuleFailureCount,
			AvgResponseMs:     millis(st.AvgResponseTime),
			SatisfactionScore: st.SatisfactionScore,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"statistics": out})
}
