package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
)

func TestTakeoverNotifier_SendsToSupervisor(t *testing.T) {
	d := &recordingDispatch{}
	n := NewTakeoverNotifier(d, "oc_supervisor", zap.NewNop())

	n.Handle(domain.TakeoverEvent{
		ChatRoom:      "oc_grid_a1",
		GroupName:     "A1 网格群",
		Actor:         "rule:complaint-escalation",
		Reason:        "关键词“投诉”触发规则 complaint-escalation",
		TakeoverCount: 3,
		Threshold:     3,
		At:            time.Now(),
	})
	n.Wait()

	got := d.all()
	require.Len(t, got, 1)
	assert.Equal(t, "oc_supervisor", got[0].chatRoom)
	assert.Contains(t, got[0].text, "A1 网格群")
	assert.Contains(t, got[0].text, "今日第 3 次")
	assert.Contains(t, got[0].text, "rule:complaint-escalation")
}

func TestTakeoverNotifier_NoSupervisorOnlyLogs(t *testing.T) {
	d := &recordingDispatch{}
	NewTakeoverNotifier(d, "", zap.NewNop()).Handle(domain.TakeoverEvent{ChatRoom: "oc_x"})
	assert.Empty(t, d.all())
}

func TestTakeoverNotifier_DispatchErrorIsSwallowed(t *testing.T) {
	d := &recordingDispatch{err: errors.New("network")}
	n := NewTakeoverNotifier(d, "oc_supervisor", zap.NewNop())
	assert.NotPanics(t, func() { n.Handle(domain.TakeoverEvent{ChatRoom: "oc_x"}) })
	n.Wait()
	assert.Len(t, d.all(), 1)
}

func TestTakeoverText_FallsBackToChatRoom(t *testing.T) {
	text := TakeoverText(domain.TakeoverEvent{ChatRoom: "oc_x", Actor: "api:ops"})
	assert.Contains(t, text, "oc_x")
	assert.NotContains(t, text, "阈值")
	assert.NotContains(t, text, "原因")
}

func TestTakeoverNotifier_WiredToTracker(t *testing.T) {
	s := newStack(t)
	d := &recordingDispatch{}
	n := NewTakeoverNotifier(d, "oc_supervisor", zap.NewNop())
	s.uc.Tracker.SetTakeoverCallback(n.Handle)

	_, err := s.uc.Tracker.ManualTakeover(t.Context(), "oc_grid_a1", "api:ops", "巡检")
	require.NoError(t, err)
	n.Wait()

	require.Len(t, d.all(), 1)
	assert.Contains(t, d.all()[0].text, "巡检")
}

func TestTakeoverNotifier_DoesNotBlockCaller(t *testing.T) {
	d := &recordingDispatch{block: make(chan struct{})}
	n := NewTakeoverNotifier(d, "oc_supervisor", zap.NewNop())

	start := time.Now()
	for i := 0; i < maxNoticeSenders+2; i++ {
		n.Handle(domain.TakeoverEvent{ChatRoom: "oc_x", Actor: "rule:r"})
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Empty(t, d.all())

	close(d.block)
	n.Wait()
	assert.Len(t, d.all(), maxNoticeSenders, "notices beyond the sender bound are dropped")
}
