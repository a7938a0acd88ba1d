package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dianxiaozhu/gridguard/internal/biz"
	"github.com/dianxiaozhu/gridguard/internal/biz/usecase"
	"github.com/dianxiaozhu/gridguard/internal/conf"
	"github.com/dianxiaozhu/gridguard/internal/data"
	"github.com/dianxiaozhu/gridguard/internal/service"
)

type testEnv struct {
	handler http.Handler
	repos   *data.Repositories
	uc      *biz.Usecases
}

func newTestEnv(t *testing.T, seed bool) *testEnv {
	t.Helper()
	db, err := data.OpenMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repos, err := data.NewRepositories(db, data.Clients{}, zap.NewNop())
	require.NoError(t, err)

	uc := biz.NewUsecases(repos.Biz(), biz.Options{
		Engine:             usecase.EngineConfig{ChainName: "default"},
		Signals:            usecase.SignalConfig{NlpWaitBudget: 200 * time.Millisecond, NlpPollInterval: 10 * time.Millisecond},
		Conditions:         usecase.ConditionConfig{NlpMinConfidence: 0.5},
		Tracker:            usecase.TrackerConfig{DefaultThreshold: 3, AttentionThreshold: 5, ResetStatusOnDaily: true},
		RuleCacheTTL:       time.Minute,
		LogBufferSize:      100,
		ForwardDestination: "oc_supervisor",
	}, zap.NewNop())

	if seed {
		set, err := conf.LoadRuleSet("../../configs/rules.example.yaml")
		require.NoError(t, err)
		_, err = service.NewSeedService(repos.Templates, repos.Keywords, repos.Rules, zap.NewNop()).Seed(context.Background(), set)
		require.NoError(t, err)
	}

	ingest := service.NewIngestService(uc.Engine, repos.Classifier, repos.Nlp, service.IngestConfig{}, zap.NewNop())
	srv := NewServer(Deps{
		Engine:    uc.Engine,
		Processor: ingest,
		Groups:    uc.Tracker,
		Rules:     repos.Rules,
		ExecLogs:  repos.ExecLogs,
		Stats:     repos.Stats,
	}, ":0", zap.NewNop())

	return &testEnv{handler: srv.Handler(), repos: repos, uc: uc}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","execlog_pending":0,"execlog_dropped":0}`, rec.Body.String())
}

func TestProcessMessage(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodPost, "/api/messages", map[string]any{
		"chat_room":   "oc_a1",
		"sender_name": "王五",
		"content":     "我要投诉物业",
		"grid_area":   "A1",
		"received_at": time.Date(2026, 10, 19, 10, 0, 0, 0, time.Local),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[chainResultJSON](t, rec)
	assert.Equal(t, "default", res.ChainName)
	assert.Equal(t, "done", res.State)
	assert.NotEmpty(t, res.ExitState)
	require.NotEmpty(t, res.MatchedRules)
	assert.Equal(t, "complaint-escalation", res.MatchedRules[0].RuleName)
	assert.Equal(t, []string{"reply", "escalate"}, res.MatchedRules[0].Actions)

	rec = env.do(t, http.MethodGet, "/api/groups/oc_a1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	g := decode[groupJSON](t, rec)
	assert.Equal(t, "attention", g.Status)
	assert.Equal(t, 1, g.MessageCountToday)

	require.NoError(t, env.uc.Engine.Flush(context.Background()))
	rec = env.do(t, http.MethodGet, "/api/executions/"+res.MessageID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	logs := decode[map[string][]execLogJSON](t, rec)
	assert.NotEmpty(t, logs["executions"])

	rec = env.do(t, http.MethodGet, "/api/executions/stats?window=1h", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[statsJSON](t, rec)
	assert.Positive(t, stats.Total)
	assert.Zero(t, stats.PendingWrites)
	assert.Zero(t, stats.DroppedWrites)
}

func TestProcessMessage_Validation(t *testing.T) {
	env := newTestEnv(t, true)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing chat room", map[string]any{"content": "x"}},
		{"bad source", map[string]any{"chat_room": "oc", "source_type": "sms"}},
		{"bad priority", map[string]any{"chat_room": "oc", "priority": 7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/messages", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestProcessMessage_NoChain(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, http.MethodPost, "/api/messages", map[string]any{"chat_room": "oc", "content": "你好"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTakeoverAndRelease(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, "/api/groups/oc_b2/takeover", map[string]string{"actor": "ops:zhang", "reason": "巡检"})
	require.Equal(t, http.StatusOK, rec.Code)
	g := decode[groupJSON](t, rec)
	assert.Equal(t, "takeover", g.Status)
	assert.Equal(t, "ops:zhang", g.TakeoverBy)
	require.NotNil(t, g.TakeoverTime)

	rec = env.do(t, http.MethodGet, "/api/groups/attention", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[map[string][]groupJSON](t, rec)
	require.Len(t, list["groups"], 1)
	assert.Equal(t, "oc_b2", list["groups"][0].ChatRoom)

	rec = env.do(t, http.MethodPost, "/api/groups/oc_b2/release", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	g = decode[groupJSON](t, rec)
	assert.Equal(t, "normal", g.Status)
	assert.Equal(t, "ops:zhang", g.TakeoverBy)
}

func TestGroupSettings(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPatch, "/api/groups/oc_c3/settings", map[string]any{
		"group_name":         "C3 网格群",
		"auto_reply_enabled": false,
		"takeover_threshold": 5,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	g := decode[groupJSON](t, rec)
	assert.Equal(t, "C3 网格群", g.GroupName)
	assert.False(t, g.AutoReplyEnabled)
	assert.True(t, g.AutoForwardEnabled)
	assert.Equal(t, 5, g.TakeoverThreshold)

	require.NoError(t, env.uc.Engine.Flush(context.Background()))
	rec = env.do(t, http.MethodGet, "/api/groups/?name=C3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[map[string][]groupJSON](t, rec)
	require.Len(t, list["groups"], 1)

	rec = env.do(t, http.MethodPatch, "/api/groups/oc_c3/settings", map[string]any{"takeover_threshold": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchStatus(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, "/api/groups/batch-status", map[string]any{
		"chat_rooms": []string{"oc_1", "oc_2"},
		"status":     "takeover",
		"reason":     "停电抢修",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"updated":2}`, rec.Body.String())

	require.NoError(t, env.uc.Engine.Flush(context.Background()))
	rec = env.do(t, http.MethodGet, "/api/groups/counts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	counts := decode[map[string]map[string]int](t, rec)
	assert.Equal(t, 2, counts["counts"]["takeover"])

	rec = env.do(t, http.MethodPost, "/api/groups/batch-status", map[string]any{"chat_rooms": []string{"oc_1"}, "status": "closed"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/groups/batch-status", map[string]any{"status": "normal"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvaluateRule(t *testing.T) {
	env := newTestEnv(t, true)

	rules, err := env.repos.Rules.ListRules(context.Background())
	require.NoError(t, err)
	var outageID int64
	for _, r := range rules {
		if r.Name == "outage-reply" {
			outageID = r.ID
		}
	}
	require.NotZero(t, outageID)

	rec := env.do(t, http.MethodPost, "/api/rules/"+strconv.FormatInt(outageID, 10)+"/evaluate", map[string]any{"chat_room": "oc_a1", "content": "又停电了"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[chainResultJSON](t, rec)
	require.Len(t, res.MatchedRules, 1)
	assert.Equal(t, "outage-reply", res.MatchedRules[0].RuleName)

	rec = env.do(t, http.MethodPost, "/api/rules/9999/evaluate", map[string]any{"chat_room": "oc_a1", "content": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/rules/abc/evaluate", map[string]any{"chat_room": "oc_a1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRulesAndChains(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodGet, "/api/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rules := decode[map[string][]ruleJSON](t, rec)
	assert.Len(t, rules["rules"], 4)

	rec = env.do(t, http.MethodGet, "/api/chains", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	chains := decode[map[string][]chainJSON](t, rec)
	require.Len(t, chains["chains"], 1)
	assert.Len(t, chains["chains"][0].Rules, 4)

	rec = env.do(t, http.MethodPost, "/api/rules/invalidate", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestResetDailyAndStatistics(t *testing.T) {
	env := newTestEnv(t, true)

	env.do(t, http.MethodPost, "/api/messages", map[string]any{"chat_room": "oc_a1", "content": "停电了"})

	rec := env.do(t, http.MethodPost, "/api/maintenance/reset-daily", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/groups/oc_a1", nil)
	g := decode[groupJSON](t, rec)
	assert.Zero(t, g.MessageCountToday)

	rec = env.do(t, http.MethodGet, "/api/groups/oc_a1/statistics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"statistics":[]}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/groups/oc_a1/statistics?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestKeywordsReached(t *testing.T) {
	env := newTestEnv(t, true)
	rec := env.do(t, http.MethodGet, "/api/keywords/reached?source=client", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"keywords":[]}`, rec.Body.String())
}
