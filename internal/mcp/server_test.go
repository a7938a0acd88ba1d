package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	method string
	path   string
	query  string
	body   map[string]string
}

func newAPI(t *testing.T) (*Client, *[]recordedRequest) {
	t.Helper()
	var reqs []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery}
		if r.Body != nil && r.ContentLength > 0 {
			json.NewDecoder(r.Body).Decode(&rec.body)
		}
		reqs = append(reqs, rec)

		switch {
		case r.URL.Path == "/api/groups/oc_a1":
			json.NewEncoder(w).Encode(Group{ChatRoom: "oc_a1", Status: "attention", MessageCountToday: 4})
		case r.URL.Path == "/api/groups/attention":
			json.NewEncoder(w).Encode(map[string]any{"groups": []Group{{ChatRoom: "oc_a1", Status: "takeover"}}})
		case r.URL.Path == "/api/groups/counts":
			json.NewEncoder(w).Encode(map[string]any{"counts": map[string]int{"normal": 3, "takeover": 1}})
		case r.URL.Path == "/api/groups/oc_a1/takeover":
			json.NewEncoder(w).Encode(Group{ChatRoom: "oc_a1", Status: "takeover", TakeoverBy: rec.body["actor"]})
		case r.URL.Path == "/api/groups/oc_a1/release":
			json.NewEncoder(w).Encode(Group{ChatRoom: "oc_a1", Status: "normal"})
		case r.URL.Path == "/api/maintenance/reset-daily":
			json.NewEncoder(w).Encode(map[string]int64{"reset": 7})
		case r.URL.Path == "/api/executions/stats":
			json.NewEncoder(w).Encode(ExecutionStats{Total: 10, Success: 8, Failed: 2, SuccessRate: 80})
		case r.URL.Path == "/api/rules/invalidate":
			json.NewEncoder(w).Encode(map[string]bool{"success": true})
		default:
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL), &reqs
}

func TestHandleGetGroupStatus(t *testing.T) {
	client, _ := newAPI(t)
	s := NewServer(client, "test")
	ctx := context.Background()

	_, out, err := s.handleGetGroupStatus(ctx, nil, GroupInput{ChatRoom: "oc_a1"})
	require.NoError(t, err)
	require.NotNil(t, out.Group)
	assert.Equal(t, "attention", out.Group.Status)
	assert.Equal(t, 4, out.Group.MessageCountToday)

	_, out, err = s.handleGetGroupStatus(ctx, nil, GroupInput{})
	require.NoError(t, err)
	assert.Equal(t, "chat_room is required", out.Error)

	_, out, err = s.handleGetGroupStatus(ctx, nil, GroupInput{ChatRoom: "oc_missing"})
	require.NoError(t, err)
	assert.Contains(t, out.Error, "HTTP 404")
}

func TestHandleTakeoverAndRelease(t *testing.T) {
	client, reqs := newAPI(t)
	s := NewServer(client, "test")
	ctx := context.Background()

	_, out, err := s.handleTakeover(ctx, nil, TakeoverInput{ChatRoom: "oc_a1", Operator: "zhang", Reason: "投诉升级"})
	require.NoError(t, err)
	require.NotNil(t, out.Group)
	assert.Equal(t, "takeover", out.Group.Status)
	assert.Equal(t, "mcp:zhang", out.Group.TakeoverBy)

	last := (*reqs)[len(*reqs)-1]
	assert.Equal(t, http.MethodPost, last.method)
	assert.Equal(t, "投诉升级", last.body["reason"])

	_, out, err = s.handleRelease(ctx, nil, GroupInput{ChatRoom: "oc_a1"})
	require.NoError(t, err)
	assert.Equal(t, "normal", out.Group.Status)
}

func TestHandleListAttention(t *testing.T) {
	client, reqs := newAPI(t)
	s := NewServer(client, "test")

	_, out, err := s.handleListAttention(context.Background(), nil, ListAttentionInput{Threshold: 2})
	require.NoError(t, err)
	require.Len(t, out.Groups, 1)
	assert.Equal(t, "threshold=2", (*reqs)[0].query)
}

func TestHandleExecutionStats(t *testing.T) {
	client, reqs := newAPI(t)
	s := NewServer(client, "test")
	ctx := context.Background()

	_, out, err := s.handleExecutionStats(ctx, nil, StatsInput{Window: "1h"})
	require.NoError(t, err)
	require.NotNil(t, out.Stats)
	assert.Equal(t, int64(10), out.Stats.Total)
	assert.Equal(t, "window=1h0m0s", (*reqs)[0].query)

	_, out, err = s.handleExecutionStats(ctx, nil, StatsInput{Window: "soon"})
	require.NoError(t, err)
	assert.NotEmpty(t, out.Error)
}

func TestHandleMaintenanceTools(t *testing.T) {
	client, _ := newAPI(t)
	s := NewServer(client, "test")
	ctx := context.Background()

	_, reset, err := s.handleResetDaily(ctx, nil, ResetInput{})
	require.NoError(t, err)
	assert.Equal(t, int64(7), reset.Reset)

	_, inv, err := s.handleInvalidateRules(ctx, nil, InvalidateInput{})
	require.NoError(t, err)
	assert.True(t, inv.Success)

	_, counts, err := s.handleCountByStatus(ctx, nil, CountsInput{})
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Counts["takeover"])
}

func TestServer_ToolsOverSession(t *testing.T) {
	client, _ := newAPI(t)
	s := NewServer(client, "test")
	ctx := context.Background()

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ss, err := s.MCPServer().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	defer ss.Close()

	c := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0"}, nil)
	cs, err := c.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer cs.Close()

	tools, err := cs.ListTools(ctx, nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		"count_groups_by_status",
		"execution_stats",
		"get_group_status",
		"invalidate_rule_cache",
		"list_attention_groups",
		"release_group",
		"reset_daily_counters",
		"takeover_group",
	}, names)

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "get_group_status",
		Arguments: map[string]any{"chat_room": "oc_a1"},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
}
