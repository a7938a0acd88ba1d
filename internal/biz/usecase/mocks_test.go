package usecase

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
)

// mockKeywordRepo keeps keyword configs in memory
type mockKeywordRepo struct {
	mu       sync.Mutex
	keywords map[int64]*domain.KeywordConfig
	listErr  error
	incErr   error
}

func newMockKeywordRepo(kws ...*domain.KeywordConfig) *mockKeywordRepo {
	m := &mockKeywordRepo{keywords: make(map[int64]*domain.KeywordConfig)}
	for _, k := range kws {
		m.keywords[k.ID] = k
	}
	return m
}

func (m *mockKeywordRepo) ListActive(ctx context.Context, scopes []domain.KeywordScope) ([]*domain.KeywordConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*domain.KeywordConfig
	for _, k := range m.keywords {
		if !k.Active {
			continue
		}
		for _, s := range scopes {
			if s == k.Scope {
				c := *k
				out = append(out, &c)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockKeywordRepo) IncrementHitCount(ctx context.Context, id int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.incErr != nil {
		return 0, m.incErr
	}
	k := m.keywords[id]
	k.HitCount++
	return k.HitCount, nil
}

func (m *mockKeywordRepo) ListReachedThreshold(ctx context.Context, sourceType domain.SourceType) ([]*domain.KeywordConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.KeywordConfig
	for _, k := range m.keywords {
		if k.Scope.Kind == domain.ScopeClient && k.Scope.Value == string(sourceType) && k.ReachedThreshold() {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *mockKeywordRepo) Save(ctx context.Context, kw *domain.KeywordConfig) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keywords[kw.ID] = kw
	return kw.ID, nil
}

func (m *mockKeywordRepo) hits(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keywords[id].HitCount
}

// mockNlpRepo returns results in sequence, one per Latest call
type mockNlpRepo struct {
	mu      sync.Mutex
	results []*domain.NlpResult
	calls   int
	err     error
}

func (m *mockNlpRepo) Latest(ctx context.Context, messageID string) (*domain.NlpResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if len(m.results) == 0 {
		return nil, nil
	}
	r := m.results[0]
	if len(m.results) > 1 {
		m.results = m.results[1:]
	}
	return r, nil
}

func (m *mockNlpRepo) Save(ctx context.Context, result *domain.NlpResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, result)
	return nil
}

// mockExecLogRepo records appended rows
type mockExecLogRepo struct {
	mu      sync.Mutex
	logs    []*domain.RuleExecutionLog
	failN   int // fail the next N appends
	failAll bool
	stall   bool // block until ctx is done
}

func (m *mockExecLogRepo) Append(ctx context.Context, logs ...*domain.RuleExecutionLog) error {
	if m.stall {
		<-ctx.Done()
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return errStorage
	}
	if m.failN > 0 {
		m.failN--
		return errStorage
	}
	m.logs = append(m.logs, logs...)
	return nil
}

func (m *mockExecLogRepo) ListByMessage(ctx context.Context, messageID string) ([]*domain.RuleExecutionLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.RuleExecutionLog
	for _, l := range m.logs {
		if l.MessageID == messageID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *mockExecLogRepo) Stats(ctx context.Context, since time.Time) (domain.ExecutionStats, error) {
	return domain.ExecutionStats{}, nil
}

func (m *mockExecLogRepo) StatsByRoom(ctx context.Context, chatRoom string, from, to time.Time) (domain.ExecutionStats, error) {
	return domain.ExecutionStats{}, nil
}

func (m *mockExecLogRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func (m *mockExecLogRepo) all() []*domain.RuleExecutionLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.RuleExecutionLog, len(m.logs))
	copy(out, m.logs)
	return out
}

// mockGroupRepo stores group status copies
type mockGroupRepo struct {
	mu      sync.Mutex
	groups  map[string]*domain.GroupManagementStatus
	saveErr error
	getErr  error
	saves   int
}

func newMockGroupRepo() *mockGroupRepo {
	return &mockGroupRepo{groups: make(map[string]*domain.GroupManagementStatus)}
}

func (m *mockGroupRepo) Get(ctx context.Context, chatRoom string) (*domain.GroupManagementStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	g, ok := m.groups[chatRoom]
	if !ok {
		return nil, nil
	}
	return g.Clone(), nil
}

func (m *mockGroupRepo) Save(ctx context.Context, status *domain.GroupManagementStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.groups[status.ChatRoom] = status.Clone()
	return nil
}

func (m *mockGroupRepo) ListAll(ctx context.Context) ([]*domain.GroupManagementStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.GroupManagementStatus
	for _, g := range m.groups {
		out = append(out, g.Clone())
	}
	return out, nil
}

func (m *mockGroupRepo) ListNeedingAttention(ctx context.Context, threshold int) ([]*domain.GroupManagementStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.GroupManagementStatus
	for _, g := range m.groups {
		if g.Status != domain.GroupNormal || g.TakeoverCountToday >= threshold {
			out = append(out, g.Clone())
		}
	}
	return out, nil
}

func (m *mockGroupRepo) ListActiveSince(ctx context.Context, since time.Time) ([]*domain.GroupManagementStatus, error) {
	return nil, nil
}

func (m *mockGroupRepo) CountByStatus(ctx context.Context) ([]domain.StatusCount, error) {
	return nil, nil
}

func (m *mockGroupRepo) SearchByName(ctx context.Context, name string) ([]*domain.GroupManagementStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.GroupManagementStatus
	for _, g := range m.groups {
		if strings.Contains(g.GroupName, name) {
			out = append(out, g.Clone())
		}
	}
	return out, nil
}

func (m *mockGroupRepo) ResetDailyCounters(ctx context.Context, resetStatus bool) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.groups {
		g.ResetDaily(resetStatus, time.Now())
	}
	return int64(len(m.groups)), nil
}

func (m *mockGroupRepo) Delete(ctx context.Context, chatRoom string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.groups, chatRoom)
	return nil
}

func (m *mockGroupRepo) stored(chatRoom string) *domain.GroupManagementStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.groups[chatRoom]
}

// mockDispatch records replies and forwards
type mockDispatch struct {
	mu         sync.Mutex
	replies    []string
	forwards   []string
	notices    []string
	replyErr   error
	forwardErr error
	panicOn    string
}

func (m *mockDispatch) Reply(ctx context.Context, msg *domain.Message, templateID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.panicOn != "" && m.panicOn == text {
		panic("dispatch exploded")
	}
	if m.replyErr != nil {
		return m.replyErr
	}
	if templateID != "" {
		m.replies = append(m.replies, "tpl:"+templateID)
	} else {
		m.replies = append(m.replies, text)
	}
	return nil
}

func (m *mockDispatch) Forward(ctx context.Context, msg *domain.Message, destination string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.forwardErr != nil {
		return m.forwardErr
	}
	m.forwards = append(m.forwards, destination)
	return nil
}

func (m *mockDispatch) Notify(ctx context.Context, chatRoom, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notices = append(m.notices, text)
	return nil
}

// mockRuleRepo serves fixed rules and chains
type mockRuleRepo struct {
	mu      sync.Mutex
	rules   []*domain.BusinessRule
	chains  []*domain.RuleChain
	loads   int
	listErr error
}

func (m *mockRuleRepo) ListEnabledRules(ctx context.Context) ([]*domain.BusinessRule, error) {
	all, err := m.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	var out []*domain.BusinessRule
	for _, r := range all {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockRuleRepo) ListRules(ctx context.Context) ([]*domain.BusinessRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.rules, nil
}

func (m *mockRuleRepo) GetRule(ctx context.Context, id int64) (*domain.BusinessRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rules {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}

func (m *mockRuleRepo) SaveRule(ctx context.Context, rule *domain.BusinessRule) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, rule)
	return rule.ID, nil
}

func (m *mockRuleRepo) DeleteRule(ctx context.Context, id int64) error {
	return nil
}

func (m *mockRuleRepo) ListChains(ctx context.Context) ([]*domain.RuleChain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chains, nil
}

func (m *mockRuleRepo) GetChainByName(ctx context.Context, name string) (*domain.RuleChain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.chains {
		if c.Name == name {
			return c, nil
		}
	}
	return nil, nil
}

func (m *mockRuleRepo) SaveChain(ctx context.Context, chain *domain.RuleChain) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chains = append(m.chains, chain)
	return chain.ID, nil
}

func (m *mockRuleRepo) AddRuleToChain(ctx context.Context, chainID, ruleID int64, executionOrder int) error {
	return nil
}
