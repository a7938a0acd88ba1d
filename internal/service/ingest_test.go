package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
)

type failingClassifier struct{}

func (failingClassifier) Classify(ctx context.Context, content string) (string, float64, error) {
	return "", 0, errors.New("model unavailable")
}

func TestIngestService_ProcessComplaint(t *testing.T) {
	s := newStack(t)
	s.seedExample(t)
	svc := NewIngestService(s.uc.Engine, s.repos.Classifier, s.repos.Nlp, IngestConfig{}, zap.NewNop())

	ctx := context.Background()
	msg := message("我要投诉，窗口办事太慢")
	res, err := svc.Process(ctx, msg)
	require.NoError(t, err)
	require.NotEmpty(t, msg.ID)

	rules, err := s.repos.Rules.ListRules(ctx)
	require.NoError(t, err)
	var escalationID int64
	for _, r := range rules {
		if r.Name == "complaint-escalation" {
			escalationID = r.ID
		}
	}
	assert.Contains(t, res.MatchedRuleIDs(), escalationID)

	g, err := s.uc.Engine.GetGroupStatus(ctx, msg.ChatRoom)
	require.NoError(t, err)
	assert.Equal(t, 1, g.MessageCountToday)
	assert.Equal(t, 1, g.AutoReplyCountToday)
	assert.Equal(t, domain.GroupAttention, g.Status)

	nlp, err := s.repos.Nlp.Latest(ctx, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, nlp)
	assert.Equal(t, domain.NlpSuccess, nlp.Status)

	require.NoError(t, s.uc.Engine.Flush(ctx))
	logs, err := s.repos.ExecLogs.ListByMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, logs)
}

func TestIngestService_ClassifierFailureDoesNotFailMessage(t *testing.T) {
	s := newStack(t)
	s.seedExample(t)
	svc := NewIngestService(s.uc.Engine, failingClassifier{}, s.repos.Nlp, IngestConfig{}, zap.NewNop())

	ctx := context.Background()
	msg := message("停电了，什么时候来电")
	res, err := svc.Process(ctx, msg)
	require.NoError(t, err)
	assert.NotEmpty(t, res.MatchedRuleIDs())

	nlp, err := s.repos.Nlp.Latest(ctx, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, nlp)
	assert.Equal(t, domain.NlpFailed, nlp.Status)
}

func TestIngestService_NoChainSurfacesError(t *testing.T) {
	s := newStack(t)
	svc := NewIngestService(s.uc.Engine, nil, nil, IngestConfig{}, zap.NewNop())

	res, err := svc.Process(context.Background(), message("你好"))
	require.ErrorIs(t, err, domain.ErrNoChain)
	require.NotNil(t, res)
}

func TestIngestService_RunProcessesQueueUntilCancelled(t *testing.T) {
	s := newStack(t)
	s.seedExample(t)
	svc := NewIngestService(s.uc.Engine, s.repos.Classifier, s.repos.Nlp, IngestConfig{Workers: 2, QueueSize: 4}, zap.NewNop())

	results := make(chan *domain.ChainResult, 3)
	svc.SetResultCallback(func(res *domain.ChainResult, err error) {
		assert.NoError(t, err)
		results <- res
	})

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- svc.Run(ctx) }()

	for _, text := range []string{"我要投诉", "停电了", "你好"} {
		require.NoError(t, svc.Submit(ctx, message(text)))
	}
	for i := 0; i < 3; i++ {
		select {
		case res := <-results:
			assert.Equal(t, "oc_grid_a1", res.ChatRoom)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for results")
		}
	}

	cancel()
	require.NoError(t, <-runErr)
	require.ErrorIs(t, svc.Submit(context.Background(), message("late")), ErrQueueClosed)

	g, err := s.uc.Engine.GetGroupStatus(context.Background(), "oc_grid_a1")
	require.NoError(t, err)
	assert.Equal(t, 3, g.MessageCountToday)
}

func TestIngestService_SubmitHonoursContext(t *testing.T) {
	s := newStack(t)
	svc := NewIngestService(s.uc.Engine, nil, nil, IngestConfig{QueueSize: 1}, zap.NewNop())

	require.NoError(t, svc.Submit(context.Background(), message("a")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, svc.Submit(ctx, message("b")), context.Canceled)
}
