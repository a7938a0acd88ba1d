package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
	"github.com/dianxiaozhu/gridguard/internal/biz/usecase"
	"github.com/dianxiaozhu/gridguard/internal/infra/feishu"
)

type fakeSubmitter struct {
	mu   sync.Mutex
	msgs []*domain.Message
}

func (f *fakeSubmitter) Submit(ctx context.Context, msg *domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return nil
}

type fakeChats struct {
	calls int
	name  string
	err   error

	memberCalls int
	members     []*feishu.ChatMember
	memberErr   error
}

func (f *fakeChats) GetChatInfo(ctx context.Context, chatID string) (*feishu.ChatInfo, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &feishu.ChatInfo{ChatID: chatID, Name: f.name}, nil
}

func (f *fakeChats) GetChatMembers(ctx context.Context, chatID string) ([]*feishu.ChatMember, error) {
	f.memberCalls++
	if f.memberErr != nil {
		return nil, f.memberErr
	}
	return f.members, nil
}

type fakeGroups struct {
	names map[string]string
}

func (f *fakeGroups) Get(ctx context.Context, chatRoom string) (*domain.GroupManagementStatus, error) {
	g := domain.NewGroupStatus(chatRoom, time.Now())
	g.GroupName = f.names[chatRoom]
	return g, nil
}

func (f *fakeGroups) UpdateSettings(ctx context.Context, chatRoom string, s usecase.GroupSettings) (*domain.GroupManagementStatus, error) {
	f.names[chatRoom] = *s.GroupName
	return f.Get(ctx, chatRoom)
}

func newTestServer(t *testing.T, chats *fakeChats) (*FeishuServer, *fakeSubmitter, *fakeGroups) {
	t.Helper()
	sub := &fakeSubmitter{}
	groups := &fakeGroups{names: map[string]string{}}
	s := NewFeishuServer(nil, sub, groups, FeishuConfig{
		GridAreas:  map[string]string{"oc_a1": "A1"},
		SourceType: domain.SourceClient,
	}, zap.NewNop())
	if chats != nil {
		s.chats = chats
	}
	return s, sub, groups
}

func feishuMessage(id, chat, content string) *feishu.Message {
	return &feishu.Message{
		ChatID:     chat,
		MsgID:      id,
		MsgType:    "text",
		ChatType:   "group",
		Content:    content,
		SenderID:   "ou_worker",
		CreateTime: time.Date(2026, 10, 19, 9, 0, 0, 0, time.Local),
	}
}

func TestFeishuServer_MapsMessage(t *testing.T) {
	s, sub, _ := newTestServer(t, nil)

	s.handleMessage(feishuMessage("om_1", "oc_a1", "停电了"))

	require.Len(t, sub.msgs, 1)
	got := sub.msgs[0]
	assert.Equal(t, "om_1", got.ID)
	assert.Equal(t, "oc_a1", got.ChatRoom)
	assert.Equal(t, "A1", got.GridArea)
	assert.Equal(t, "ou_worker", got.GridUserID)
	assert.Equal(t, domain.SourceClient, got.SourceType)
	assert.Equal(t, time.Date(2026, 10, 19, 9, 0, 0, 0, time.Local), got.ReceivedAt)
}

func TestFeishuServer_UnmappedChatHasNoGridArea(t *testing.T) {
	s, sub, _ := newTestServer(t, nil)
	s.handleMessage(feishuMessage("om_1", "oc_other", "你好"))
	require.Len(t, sub.msgs, 1)
	assert.Empty(t, sub.msgs[0].GridArea)
}

func TestFeishuServer_DropsDuplicatesWithinWindow(t *testing.T) {
	s, sub, _ := newTestServer(t, nil)
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.Local)
	s.now = func() time.Time { return now }

	s.handleMessage(feishuMessage("om_1", "oc_a1", "停电了"))
	s.handleMessage(feishuMessage("om_1", "oc_a1", "停电了"))
	assert.Len(t, sub.msgs, 1)

	now = now.Add(6 * time.Minute)
	s.handleMessage(feishuMessage("om_1", "oc_a1", "停电了"))
	assert.Len(t, sub.msgs, 2)
}

func TestFeishuServer_SkipsDirectAndEmptyMessages(t *testing.T) {
	s, sub, _ := newTestServer(t, nil)

	p2p := feishuMessage("om_1", "oc_a1", "hi")
	p2p.ChatType = "p2p"
	s.handleMessage(p2p)
	s.handleMessage(feishuMessage("om_2", "oc_a1", "   "))

	assert.Empty(t, sub.msgs)
}

func TestFeishuServer_LooksUpGroupNameOnce(t *testing.T) {
	chats := &fakeChats{name: "A1 网格群"}
	s, _, groups := newTestServer(t, chats)

	s.handleMessage(feishuMessage("om_1", "oc_a1", "一"))
	s.handleMessage(feishuMessage("om_2", "oc_a1", "二"))

	assert.Equal(t, 1, chats.calls)
	assert.Equal(t, "A1 网格群", groups.names["oc_a1"])
}

func TestFeishuServer_RetriesGroupNameAfterLookupError(t *testing.T) {
	chats := &fakeChats{err: errors.New("rate limited")}
	s, sub, _ := newTestServer(t, chats)

	s.handleMessage(feishuMessage("om_1", "oc_a1", "一"))
	s.handleMessage(feishuMessage("om_2", "oc_a1", "二"))

	assert.Equal(t, 2, chats.calls)
	assert.Len(t, sub.msgs, 2)
}

func TestFeishuServer_FillsSenderNameFromMembers(t *testing.T) {
	chats := &fakeChats{members: []*feishu.ChatMember{
		{MemberID: "ou_worker", Name: "王网格员"},
		{MemberID: "ou_resident", Name: "李女士"},
	}}
	s, sub, _ := newTestServer(t, chats)

	s.handleMessage(feishuMessage("om_1", "oc_a1", "停电了"))
	resident := feishuMessage("om_2", "oc_a1", "我要投诉")
	resident.SenderID = "ou_resident"
	s.handleMessage(resident)

	require.Len(t, sub.msgs, 2)
	assert.Equal(t, "王网格员", sub.msgs[0].SenderName)
	assert.Equal(t, "ou_worker", sub.msgs[0].GridUserID)
	assert.Equal(t, "李女士", sub.msgs[1].SenderName)
	assert.Equal(t, 1, chats.memberCalls)
}

func TestFeishuServer_UnknownSenderReloadsAfterRefresh(t *testing.T) {
	chats := &fakeChats{members: []*feishu.ChatMember{{MemberID: "ou_worker", Name: "王网格员"}}}
	s, sub, _ := newTestServer(t, chats)
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.Local)
	s.now = func() time.Time { return now }

	stranger := func(id string) *feishu.Message {
		m := feishuMessage(id, "oc_a1", "你好")
		m.SenderID = "ou_new"
		return m
	}

	s.handleMessage(stranger("om_1"))
	s.handleMessage(stranger("om_2"))
	assert.Equal(t, 1, chats.memberCalls)
	assert.Empty(t, sub.msgs[1].SenderName)

	chats.members = append(chats.members, &feishu.ChatMember{MemberID: "ou_new", Name: "新住户"})
	now = now.Add(11 * time.Minute)
	s.handleMessage(stranger("om_3"))
	assert.Equal(t, 2, chats.memberCalls)
	assert.Equal(t, "新住户", sub.msgs[2].SenderName)
}

func TestFeishuServer_MemberLookupErrorLeavesNameEmpty(t *testing.T) {
	chats := &fakeChats{memberErr: errors.New("no permission")}
	s, sub, _ := newTestServer(t, chats)

	s.handleMessage(feishuMessage("om_1", "oc_a1", "停电了"))
	s.handleMessage(feishuMessage("om_2", "oc_a1", "还没来电"))

	require.Len(t, sub.msgs, 2)
	assert.Empty(t, sub.msgs[0].SenderName)
	assert.Equal(t, 1, chats.memberCalls, "failed lookups wait for the refresh interval")
}

func TestFeishuServer_DedupSweepsOncePerWindow(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	start := time.Date(2026, 10, 19, 9, 0, 0, 0, time.Local)
	now := start
	s.now = func() time.Time { return now }

	at := func(minutes int, id string) {
		now = start.Add(time.Duration(minutes) * time.Minute)
		s.handleMessage(feishuMessage(id, "oc_a1", id))
	}

	at(0, "om_1")
	at(3, "om_2")
	at(6, "om_3") // sweep drops om_1
	assert.NotContains(t, s.seen, "om_1")

	at(9, "om_4") // om_2 expired but no sweep is due yet
	assert.Len(t, s.seen, 3)
	assert.Contains(t, s.seen, "om_2")

	at(11, "om_5")
	assert.Len(t, s.seen, 3)
	assert.NotContains(t, s.seen, "om_2")
}
