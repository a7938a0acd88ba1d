package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
)

func ruleRow(ruleID int64, room string, result domain.ExecutionResult, d time.Duration, at time.Time) *domain.RuleExecutionLog {
	return &domain.RuleExecutionLog{
		RunID:      "run-1",
		ChainID:    1,
		RuleID:     &ruleID,
		MessageID:  "om_1",
		ChatRoom:   room,
		Result:     result,
		Duration:   d,
		ExecutedAt: at,
	}
}

func TestExecutionLogRepo_AppendAndList(t *testing.T) {
	ctx := context.Background()
	r, err := NewExecutionLogRepo(newTestDB(t))
	require.NoError(t, err)

	now := time.Now()
	row := ruleRow(7, "oc_room", domain.ResultSuccess, 3*time.Millisecond, now)
	row.MatchedConditions = []string{"keyword_match:投诉"}
	row.ExecutedActions = []string{"reply", "escalate"}
	summary := &domain.RuleExecutionLog{RunID: "run-1", ChainID: 1, MessageID: "om_1", Result: domain.ResultSuccess, ExecutedAt: now}

	require.NoError(t, r.Append(ctx, row, summary))
	assert.NotZero(t, row.ID)

	got, err := r.ListByMessage(ctx, "om_1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	require.NotNil(t, got[0].RuleID)
	assert.Equal(t, int64(7), *got[0].RuleID)
	assert.Equal(t, []string{"keyword_match:投诉"}, got[0].MatchedConditions)
	assert.Equal(t, []string{"reply", "escalate"}, got[0].ExecutedActions)
	assert.Equal(t, 3*time.Millisecond, got[0].Duration)
	assert.True(t, got[1].IsChainSummary())
}

func TestExecutionLogRepo_Stats(t *testing.T) {
	ctx := context.Background()
	r, err := NewExecutionLogRepo(newTestDB(t))
	require.NoError(t, err)

	now := time.Now()
	old := now.Add(-48 * time.Hour)
	require.NoError(t, r.Append(ctx,
		ruleRow(1, "oc_a", domain.ResultSuccess, 2*time.Millisecond, now),
		ruleRow(2, "oc_a", domain.ResultFailure, 4*time.Millisecond, now),
		ruleRow(3, "oc_b", domain.ResultSkipped, 0, now),
		ruleRow(1, "oc_a", domain.ResultSuccess, time.Millisecond, old),
		&domain.RuleExecutionLog{RunID: "run-1", MessageID: "om_1", ChatRoom: "oc_a", Result: domain.ResultFailure, ExecutedAt: now},
	))

	stats, err := r.Stats(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(1), stats.Success)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Skipped)
	assert.Equal(t, 2*time.Millisecond, stats.AvgDuration)

	room, err := r.StatsByRoom(ctx, "oc_a", now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), room.Total)
	assert.InDelta(t, 50.0, room.SuccessRate(), 1e-9)

	deleted, err := r.DeleteBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestExecutionLogRepo_AppendNothing(t *testing.T) {
	r, err := NewExecutionLogRepo(newTestDB(t))
	require.NoError(t, err)
	assert.NoError(t, r.Append(context.Background()))
}
