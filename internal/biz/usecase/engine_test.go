package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
)

func TestEngine_ComplaintEscalationScenario(t *testing.T) {
	local := domain.KeywordScope{Kind: domain.ScopeLocal, Value: "A1"}
	f := newFixture(t, kw(1, "投诉", local, 4, 5))

	escalation := &domain.BusinessRule{
		ID:       7,
		Name:     "complaint-escalation",
		Type:     domain.RuleTypeEscalation,
		Priority: 1,
		Enabled:  true,
		Conditions: []domain.RuleCondition{{
			Kind:     domain.CondCounterThreshold,
			Field:    domain.CounterKeywordHitCount,
			Operator: domain.OpGTE,
			Value:    "5",
		}},
		Actions: []domain.RuleAction{{
			ID: 1, Kind: domain.ActionEscalate, ExecutionOrder: 1,
		}},
		TakeoverReason: "关键词 {{keyword}} 触发阈值",
	}
	f.rules.rules = []*domain.BusinessRule{escalation}
	f.rules.chains = []*domain.RuleChain{{
		ID: 1, Name: "main", Enabled: true,
		Relations: []domain.RuleChainRelation{{ChainID: 1, RuleID: 7, ExecutionOrder: 1}},
	}}

	msg := testMessage("投诉 客服 太差")
	res, err := f.engine.ProcessMessage(context.Background(), msg)
	require.NoError(t, err)

	assert.Equal(t, 5, f.keywords.hits(1))
	assert.Equal(t, []int64{7}, res.MatchedRuleIDs())

	g, err := f.engine.GetGroupStatus(context.Background(), "oc_room")
	require.NoError(t, err)
	assert.Equal(t, 1, g.TakeoverCountToday)
	assert.Equal(t, 1, g.MessageCountToday)
	assert.Equal(t, domain.GroupAttention, g.Status)
	assert.Equal(t, "关键词 投诉 触发阈值", g.TakeoverReason)

	var ruleRows []*domain.RuleExecutionLog
	for _, l := range f.logs.all() {
		if !l.IsChainSummary() {
			ruleRows = append(ruleRows, l)
		}
	}
	require.Len(t, ruleRows, 1)
	assert.Equal(t, int64(7), *ruleRows[0].RuleID)
	assert.Equal(t, msg.ID, ruleRows[0].MessageID)
	assert.Equal(t, domain.ResultSuccess, ruleRows[0].Result)
	assert.Equal(t, []string{"escalate"}, ruleRows[0].ExecutedActions)
}

func TestEngine_CounterThresholdBreachCountsAsTakeover(t *testing.T) {
	local := domain.KeywordScope{Kind: domain.ScopeLocal, Value: "A1"}
	f := newFixture(t, kw(1, "投诉", local, 4, 5))
	f.rules.rules = []*domain.BusinessRule{{
		ID: 7, Name: "repeat-complaints", Enabled: true,
		Conditions: []domain.RuleCondition{{
			Kind:     domain.CondCounterThreshold,
			Field:    domain.CounterKeywordHitCount,
			Operator: domain.OpGTE,
			Value:    "5",
		}},
		Actions: []domain.RuleAction{tagAction("repeat_complaint")},
	}}

	res, err := f.engine.ProcessMessage(context.Background(), testMessage("投诉 客服 太差"))
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, res.MatchedRuleIDs())

	g, err := f.engine.GetGroupStatus(context.Background(), "oc_room")
	require.NoError(t, err)
	assert.Equal(t, 1, g.TakeoverCountToday)
	assert.Equal(t, domain.GroupAttention, g.Status)
	assert.Equal(t, "rule:repeat-complaints", g.TakeoverBy)
}

func TestEngine_TakeoverAtThirdEscalation(t *testing.T) {
	f := newFixture(t)
	f.rules.rules = []*domain.BusinessRule{{
		ID: 1, Name: "always-escalate", Enabled: true,
		Actions: []domain.RuleAction{{Kind: domain.ActionEscalate, ExecutionOrder: 1}},
	}}

	ctx := context.Background()
	want := []domain.GroupStatus{domain.GroupAttention, domain.GroupAttention, domain.GroupTakeover}
	for i, status := range want {
		_, err := f.engine.ProcessMessage(ctx, testMessage("x"))
		require.NoError(t, err)
		g, _ := f.engine.GetGroupStatus(ctx, "oc_room")
		assert.Equal(t, status, g.Status, "after message %d", i+1)
	}
}

func TestEngine_NoChainResolvable(t *testing.T) {
	f := newFixture(t)

	res, err := f.engine.ProcessMessage(context.Background(), testMessage("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoChain)
	require.NotNil(t, res)
	assert.True(t, res.Failed())

	g, _ := f.engine.GetGroupStatus(context.Background(), "oc_room")
	assert.Equal(t, 1, g.MessageCountToday, "message is counted even without a chain")
	require.Len(t, f.logs.all(), 1)
}

func TestEngine_NamedChainMissing(t *testing.T) {
	f := newFixture(t)
	f.rules.rules = []*domain.BusinessRule{{ID: 1, Name: "r", Enabled: true}}
	f.engine.cfg.ChainName = "night-shift"

	_, err := f.engine.ProcessMessage(context.Background(), testMessage("x"))
	assert.ErrorIs(t, err, domain.ErrNoChain)
}

func TestEngine_ChainOrderOverridesPriority(t *testing.T) {
	f := newFixture(t)
	f.rules.rules = []*domain.BusinessRule{
		{ID: 1, Name: "low-priority-first", Priority: 9, Enabled: true, Policy: domain.PolicyCumulative},
		{ID: 2, Name: "high-priority-second", Priority: 1, Enabled: true, Policy: domain.PolicyCumulative},
		{ID: 3, Name: "tie-a", Priority: 2, Enabled: true, Policy: domain.PolicyCumulative},
		{ID: 4, Name: "tie-b", Priority: 1, Enabled: true, Policy: domain.PolicyCumulative},
	}
	f.rules.chains = []*domain.RuleChain{{
		ID: 1, Name: "main", Enabled: true,
		Relations: []domain.RuleChainRelation{
			{RuleID: 2, ExecutionOrder: 2},
			{RuleID: 1, ExecutionOrder: 1},
			{RuleID: 3, ExecutionOrder: 3},
			{RuleID: 4, ExecutionOrder: 3},
		},
	}}

	res, err := f.engine.ProcessMessage(context.Background(), testMessage("x"))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 4, 3}, res.EvaluatedRules)
}

func TestEngine_ImplicitChainUsesPriority(t *testing.T) {
	f := newFixture(t)
	f.rules.rules = []*domain.BusinessRule{
		{ID: 1, Name: "b", Priority: 5, Enabled: true, Policy: domain.PolicyCumulative},
		{ID: 2, Name: "a", Priority: 1, Enabled: true, Policy: domain.PolicyCumulative},
		{ID: 3, Name: "off", Priority: 0, Enabled: false},
	}

	res, err := f.engine.ProcessMessage(context.Background(), testMessage("x"))
	require.NoError(t, err)
	assert.Equal(t, "default", res.ChainName)
	assert.Equal(t, []int64{2, 1}, res.EvaluatedRules)
}

func TestEngine_EvaluateRuleIsExclusive(t *testing.T) {
	f := newFixture(t)
	f.rules.rules = []*domain.BusinessRule{{
		ID: 5, Name: "cumulative-alone", Enabled: true, Policy: domain.PolicyCumulative,
		Actions: []domain.RuleAction{tagAction("solo")},
	}}

	res, err := f.engine.EvaluateRule(context.Background(), 5, testMessage("x"))
	require.NoError(t, err)
	assert.Equal(t, domain.ChainMatched, res.ExitState)
	assert.Equal(t, []string{"solo"}, res.Tags)

	_, err = f.engine.EvaluateRule(context.Background(), 99, testMessage("x"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEngine_RuleCacheInvalidation(t *testing.T) {
	f := newFixture(t)
	f.rules.rules = []*domain.BusinessRule{{ID: 1, Name: "r", Enabled: true}}
	ctx := context.Background()

	_, err := f.engine.ProcessMessage(ctx, testMessage("a"))
	require.NoError(t, err)
	_, err = f.engine.ProcessMessage(ctx, testMessage("b"))
	require.NoError(t, err)
	assert.Equal(t, 1, f.rules.loads)

	f.engine.InvalidateRules()
	_, err = f.engine.ProcessMessage(ctx, testMessage("c"))
	require.NoError(t, err)
	assert.Equal(t, 2, f.rules.loads)

	f.cache.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = f.engine.ProcessMessage(ctx, testMessage("d"))
	require.NoError(t, err)
	assert.Equal(t, 3, f.rules.loads)
}

func TestEngine_ResetDailyCounters(t *testing.T) {
	f := newFixture(t)
	f.rules.rules = []*domain.BusinessRule{{ID: 1, Name: "r", Enabled: true}}
	ctx := context.Background()

	for _, room := range []string{"oc_a", "oc_b", "oc_c"} {
		msg := testMessage("x")
		msg.ChatRoom = room
		_, err := f.engine.ProcessMessage(ctx, msg)
		require.NoError(t, err)
	}

	n, err := f.engine.ResetDailyCounters(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	for _, room := range []string{"oc_a", "oc_b", "oc_c"} {
		g, _ := f.engine.GetGroupStatus(ctx, room)
		assert.Zero(t, g.MessageCountToday)
	}
}

func TestEngine_MessageWithoutIDGetsOne(t *testing.T) {
	f := newFixture(t)
	f.rules.rules = []*domain.BusinessRule{{ID: 1, Name: "r", Enabled: true}}

	msg := testMessage("x")
	msg.ID = ""
	msg.ReceivedAt = time.Time{}
	res, err := f.engine.ProcessMessage(context.Background(), msg)
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, msg.ID, res.MessageID)
	assert.False(t, msg.ReceivedAt.IsZero())
}

func TestEngine_LogBacklog(t *testing.T) {
	f := newFixture(t)
	f.logs.failAll = true
	f.rules.rules = []*domain.BusinessRule{{ID: 1, Name: "r1", Enabled: true}}

	_, err := f.engine.ProcessMessage(context.Background(), testMessage("x"))
	require.NoError(t, err)

	pending, dropped := f.engine.LogBacklog()
	assert.Equal(t, 2, pending, "rule row plus summary")
	assert.Zero(t, dropped)

	f.logs.failAll = false
	require.NoError(t, f.engine.Flush(context.Background()))
	pending, _ = f.engine.LogBacklog()
	assert.Zero(t, pending)
}
