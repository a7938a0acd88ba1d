package mcp

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server exposes group and engine operations as MCP tools
type Server struct {
	server *mcp.Server
	client *Client
}

// NewServer creates the MCP server backed by the operator API
func NewServer(client *Client, version string) *Server {
	s := &Server{
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "gridguard",
			Version: version,
		}, nil),
		client: client,
	}
	s.registerTools()
	return s
}

// Run serves over stdio
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying server
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_group_status",
		Description: "Get the management status and today counters of a group chat.",
	}, s.handleGetGroupStatus)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_attention_groups",
		Description: "List group chats in attention or takeover status, or whose takeover count today reached the threshold.",
	}, s.handleListAttention)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "count_groups_by_status",
		Description: "Count group chats per management status.",
	}, s.handleCountByStatus)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "takeover_group",
		Description: "Hand a group chat to a human operator. Automated replies and forwards stop until it is released.",
	}, s.handleTakeover)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "release_group",
		Description: "Hand a group chat back to automation.",
	}, s.handleRelease)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "reset_daily_counters",
		Description: "Zero the today counters of every group chat. Normally run by the daily scheduler.",
	}, s.handleResetDaily)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "execution_stats",
		Description: "Aggregate rule execution results over a recent window.",
	}, s.handleExecutionStats)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "invalidate_rule_cache",
		Description: "Reload rules and chains from storage on the next message.",
	}, s.handleInvalidateRules)
}

// GroupInput names a group chat
type GroupInput struct {
	ChatRoom string `json:"chat_room" jsonschema:"the Feishu chat id of the group"`
}

// GroupOutput is a single group
type GroupOutput struct {
	Group *Group `json:"group,omitempty"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleGetGroupStatus(ctx context.Context, req *mcp.CallToolRequest, input GroupInput) (*mcp.CallToolResult, GroupOutput, error) {
	if input.ChatRoom == "" {
		return nil, GroupOutput{Error: "chat_room is required"}, nil
	}
	g, err := s.client.GetGroup(ctx, input.ChatRoom)
	if err != nil {
		return nil, GroupOutput{Error: err.Error()}, nil
	}
	return nil, GroupOutput{Group: g}, nil
}

// ListAttentionInput filters the attention listing
type ListAttentionInput struct {
	Threshold int `json:"threshold,omitempty" jsonschema:"takeover count at or above which a group is listed; the server default when omitted"`
}

// GroupsOutput is a list of groups
type GroupsOutput struct {
	Groups []Group `json:"groups"`
	Error  string  `json:"error,omitempty"`
}

func (s *Server) handleListAttention(ctx context.Context, req *mcp.CallToolRequest, input ListAttentionInput) (*mcp.CallToolResult, GroupsOutput, error) {
	groups, err := s.client.ListAttention(ctx, input.Threshold)
	if err != nil {
		return nil, GroupsOutput{Groups: []Group{}, Error: err.Error()}, nil
	}
	if groups == nil {
		groups = []Group{}
	}
	return nil, GroupsOutput{Groups: groups}, nil
}

// CountsInput is empty
type CountsInput struct{}

// CountsOutput maps status to group count
type CountsOutput struct {
	Counts map[string]int `json:"counts"`
	Error  string         `json:"error,omitempty"`
}

func (s *Server) handleCountByStatus(ctx context.Context, req *mcp.CallToolRequest, input CountsInput) (*mcp.CallToolResult, CountsOutput, error) {
	counts, err := s.client.CountByStatus(ctx)
	if err != nil {
		return nil, CountsOutput{Error: err.Error()}, nil
	}
	return nil, CountsOutput{Counts: counts}, nil
}

// TakeoverInput is the input for takeover_group
type TakeoverInput struct {
	ChatRoom string `json:"chat_room" jsonschema:"the Feishu chat id of the group"`
	Operator string `json:"operator,omitempty" jsonschema:"who is taking over"`
	Reason   string `json:"reason,omitempty" jsonschema:"why the group needs a human"`
}

func (s *Server) handleTakeover(ctx context.Context, req *mcp.CallToolRequest, input TakeoverInput) (*mcp.CallToolResult, GroupOutput, error) {
	if input.ChatRoom == "" {
		return nil, GroupOutput{Error: "chat_room is required"}, nil
	}
	actor := "mcp"
	if input.Operator != "" {
		actor = "mcp:" + input.Operator
	}
	g, err := s.client.Takeover(ctx, input.ChatRoom, actor, input.Reason)
	if err != nil {
		return nil, GroupOutput{Error: err.Error()}, nil
	}
	return nil, GroupOutput{Group: g}, nil
}

func (s *Server) handleRelease(ctx context.Context, req *mcp.CallToolRequest, input GroupInput) (*mcp.CallToolResult, GroupOutput, error) {
	if input.ChatRoom == "" {
		return nil, GroupOutput{Error: "chat_room is required"}, nil
	}
	g, err := s.client.Release(ctx, input.ChatRoom)
	if err != nil {
		return nil, GroupOutput{Error: err.Error()}, nil
	}
	return nil, GroupOutput{Group: g}, nil
}

// ResetInput is empty
type ResetInput struct{}

// ResetOutput reports how many groups were reset
type ResetOutput struct {
	Reset int64  `json:"reset"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleResetDaily(ctx context.Context, req *mcp.CallToolRequest, input ResetInput) (*mcp.CallToolResult, ResetOutput, error) {
	n, err := s.client.ResetDailyCounters(ctx)
	if err != nil {
		return nil, ResetOutput{Error: err.Error()}, nil
	}
	return nil, ResetOutput{Reset: n}, nil
}

// StatsInput selects the aggregation window
type StatsInput struct {
	Window string `json:"window,omitempty" jsonschema:"Go duration such as 1h or 24h; defaults to 24h"`
}

// StatsOutput is the aggregated result
type StatsOutput struct {
	Stats *ExecutionStats `json:"stats,omitempty"`
	Error string          `json:"error,omitempty"`
}

func (s *Server) handleExecutionStats(ctx context.Context, req *mcp.CallToolRequest, input StatsInput) (*mcp.CallToolResult, StatsOutput, error) {
	var window time.Duration
	if input.Window != "" {
		d, err := time.ParseDuration(input.Window)
		if err != nil || d <= 0 {
			return nil, StatsOutput{Error: "window must be a positive duration"}, nil
		}
		window = d
	}
	stats, err := s.client.ExecutionStats(ctx, window)
	if err != nil {
		return nil, StatsOutput{Error: err.Error()}, nil
	}
	return nil, StatsOutput{Stats: stats}, nil
}

// InvalidateInput is empty
type InvalidateInput struct{}

// InvalidateOutput reports success
type InvalidateOutput struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleInvalidateRules(ctx context.Context, req *mcp.CallToolRequest, input InvalidateInput) (*mcp.CallToolResult, InvalidateOutput, error) {
	if err := s.client.InvalidateRules(ctx); err != nil {
		return nil, InvalidateOutput{Error: err.Error()}, nil
	}
	return nil, InvalidateOutput{Success: true}, nil
}
