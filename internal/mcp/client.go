package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client calls the gridguard operator API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Group is a group management record as returned by the API
type Group struct {
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
}

// ExecutionStats aggregates rule executions
type ExecutionStats struct {
	Total         int64   `json:"total"`
	Success       int64   `json:"success"`
	Failed        int64   `json:"failed"`
	Skipped       int64   `json:"skipped"`
	SuccessRate   float64 `json:"success_rate"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	PendingWrites int     `json:"pending_writes"`
	DroppedWrites int64   `json:"dropped_writes"`
}

// ============ Groups ============

// GetGroup gets one group's status
func (c *Client) GetGroup(ctx context.Context, chatRoom string) (*Group, error) {
	var g Group
	if err := c.do(ctx, http.MethodGet, "/api/groups/"+url.PathEscape(chatRoom), nil, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// ListAttention lists groups needing attention; 0 uses the server default threshold
func (c *Client) ListAttention(ctx context.Context, threshold int) ([]Group, error) {
	path := "/api/groups/attention"
	if threshold > 0 {
		path += "?threshold=" + strconv.Itoa(threshold)
	}
	var result struct {
		Groups []Group `json:"groups"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Groups, nil
}

// CountByStatus counts groups per status
func (c *Client) CountByStatus(ctx context.Context) (map[string]int, error) {
	var result struct {
		Counts map[string]int `json:"counts"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/groups/counts", nil, &result); err != nil {
		return nil, err
	}
	return result.Counts, nil
}

// Takeover hands a group to a human operator
func (c *Client) Takeover(ctx context.Context, chatRoom, actor, reason string) (*Group, error) {
	body := map[string]string{"actor": actor, "reason": reason}
	var g Group
	if err := c.do(ctx, http.MethodPost, "/api/groups/"+url.PathEscape(chatRoom)+"/takeover", body, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// Release hands a group back to automation
func (c *Client) Release(ctx context.Context, chatRoom string) (*Group, error) {
	var g Group
	if err := c.do(ctx, http.MethodPost, "/api/groups/"+url.PathEscape(chatRoom)+"/release", nil, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// ============ Engine ============

// ResetDailyCounters zeroes every group's today counters
func (c *Client) ResetDailyCounters(ctx context.Context) (int64, error) {
	var result struct {
		Reset int64 `json:"reset"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/maintenance/reset-daily", nil, &result); err != nil {
		return 0, err
	}
	return result.Reset, nil
}

// ExecutionStats aggregates rule executions over the window
func (c *Client) ExecutionStats(ctx context.Context, window time.Duration) (*ExecutionStats, error) {
	path := "/api/executions/stats"
	if window > 0 {
		path += "?window=" + url.QueryEscape(window.String())
	}
	var stats ExecutionStats
	if err := c.do(ctx, http.MethodGet, path, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// InvalidateRules drops the engine's rule cache
func (c *Client) InvalidateRules(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/rules/invalidate", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body any, result any) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
