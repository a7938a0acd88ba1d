package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
	"github.com/dianxiaozhu/gridguard/internal/biz/repo"
)

// maxNoticeSenders bounds concurrent takeover notices in flight
const maxNoticeSenders = 8

// TakeoverNotifier tells the supervisor chat when a group is handed to a human
type TakeoverNotifier struct {
	dispatch   repo.DispatchRepo
	supervisor string
	timeout    time.Duration
	logger     *zap.Logger

	slots chan struct{}
	wg    sync.WaitGroup
}

// NewTakeoverNotifier creates the notifier. An empty supervisor chat only logs.
func NewTakeoverNotifier(dispatch repo.DispatchRepo, supervisor string, logger *zap.Logger) *TakeoverNotifier {
	return &TakeoverNotifier{
		dispatch:   dispatch,
		supervisor: supervisor,
		timeout:    10 * time.Second,
		logger:     logger.Named("notify"),
		slots:      make(chan struct{}, maxNoticeSenders),
	}
}

// Handle is the tracker's takeover callback. The notice is sent in the
// background; when every sender is busy it is dropped and logged.
func (n *TakeoverNotifier) Handle(ev domain.TakeoverEvent) {
	if n.supervisor == "" || n.dispatch == nil {
		return
	}
	select {
	case n.slots <- struct{}{}:
	default:
		n.logger.Warn("takeover notice dropped, senders busy",
			zap.String("chat_room", ev.ChatRoom),
			zap.String("actor", ev.Actor))
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer func() { <-n.slots }()
		n.send(ev)
	}()
}

// Wait blocks until notices in flight are sent or timed out
func (n *TakeoverNotifier) Wait() {
	n.wg.Wait()
}

func (n *TakeoverNotifier) send(ev domain.TakeoverEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	if err := n.dispatch.Notify(ctx, n.supervisor, TakeoverText(ev)); err != nil {
		n.logger.Warn("failed to send takeover notice",
			zap.String("chat_room", ev.ChatRoom),
			zap.Error(&domain.ActionDispatchError{Kind: "notify", Err: err}))
	}
}

// TakeoverText formats the operator notice for a takeover
func TakeoverText(ev domain.TakeoverEvent) string {
	name := ev.GroupName
	if name == "" {
		name = ev.ChatRoom
	}
	text := fmt.Sprintf("【人工接管】群「%s」已转人工处理", name)
	if ev.Threshold > 0 && ev.TakeoverCount > 0 {
		text += fmt.Sprintf("（今日第 %d 次，阈值 %d）", ev.TakeoverCount, ev.Threshold)
	}
	if ev.Reason != "" {
		text += "\n原因：" + ev.Reason
	}
	if ev.Actor != "" {
		text += "\n触发：" + ev.Actor
	}
	return text
}
