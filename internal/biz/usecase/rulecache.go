package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
	"github.com/dianxiaozhu/gridguard/internal/biz/repo"
)

// defaultChainName names the implicit chain built from standalone rules
const defaultChainName = "default"

// ruleSnapshot is one consistent load of the configuration store
type ruleSnapshot struct {
	rules    map[int64]*CompiledRule
	byOrder  []*CompiledRule // enabled rules by priority then id
	chains   map[string]*domain.RuleChain
	ordered  []*domain.RuleChain // enabled chains by id
	loadedAt time.Time
}

// RuleCache holds compiled rules and chains. Entries expire after ttl and
// can be invalidated explicitly when rules are edited.
type RuleCache struct {
	repo   repo.RuleRepo
	ttl    time.Duration
	cfg    ConditionConfig
	logger *zap.Logger
	now    func() time.Time

	mu   sync.RWMutex
	snap *ruleSnapshot
}

// NewRuleCache creates a rule cache
func NewRuleCache(ruleRepo repo.RuleRepo, ttl time.Duration, cfg ConditionConfig, logger *zap.Logger) *RuleCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RuleCache{
		repo:   ruleRepo,
		ttl:    ttl,
		cfg:    cfg,
		logger: logger.Named("rulecache"),
		now:    time.Now,
	}
}

// Invalidate drops the cached snapshot
func (c *RuleCache) Invalidate() {
	c.mu.Lock()
	c.snap = nil
	c.mu.Unlock()
	c.logger.Info("rule cache invalidated")
}

func (c *RuleCache) snapshot(ctx context.Context) (*ruleSnapshot, error) {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()
	if snap != nil && c.now().Sub(snap.loadedAt) < c.ttl {
		return snap, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap != nil && c.now().Sub(c.snap.loadedAt) < c.ttl {
		return c.snap, nil
	}

	snap, err := c.load(ctx)
	if err != nil {
		if c.snap != nil {
			// Keep serving the previous snapshot
			c.logger.Warn("rule reload failed, serving stale rules", zap.Error(err))
			return c.snap, nil
		}
		return nil, err
	}
	c.snap = snap
	return snap, nil
}

func (c *RuleCache) load(ctx context.Context) (*ruleSnapshot, error) {
	rules, err := c.repo.ListRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	chains, err := c.repo.ListChains(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load chains: %w", err)
	}

	snap := &ruleSnapshot{
		rules:    make(map[int64]*CompiledRule, len(rules)),
		chains:   make(map[string]*domain.RuleChain, len(chains)),
		loadedAt: c.now(),
	}
	for _, r := range rules {
		cr := CompileRule(r, c.cfg)
		if cr.Err != nil {
			c.logger.Warn("malformed rule", zap.Int64("rule_id", r.ID), zap.String("rule", r.Name), zap.Error(cr.Err))
		}
		snap.rules[r.ID] = cr
		if r.Enabled {
			snap.byOrder = append(snap.byOrder, cr)
		}
	}
	sort.SliceStable(snap.byOrder, func(i, j int) bool {
		a, b := snap.byOrder[i].Rule, snap.byOrder[j].Rule
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.ID < b.ID
	})

	for _, ch := range chains {
		snap.chains[ch.Name] = ch
		if ch.Enabled {
			snap.ordered = append(snap.ordered, ch)
		}
	}
	sort.Slice(snap.ordered, func(i, j int) bool { return snap.ordered[i].ID < snap.ordered[j].ID })

	c.logger.Debug("rules loaded", zap.Int("rules", len(rules)), zap.Int("chains", len(chains)))
	return snap, nil
}

// Resolve returns the chain to run and its compiled entries in run order.
// An empty name selects the first enabled chain; with no chains configured,
// enabled rules form an implicit chain ordered by priority.
func (c *RuleCache) Resolve(ctx context.Context, name string) (*domain.RuleChain, []CompiledEntry, error) {
	snap, err := c.snapshot(ctx)
	if err != nil {
		return nil, nil, err
	}

	var chain *domain.RuleChain
	switch {
	case name != "":
		chain = snap.chains[name]
		if chain == nil || !chain.Enabled {
			return nil, nil, fmt.Errorf("chain %q: %w", name, domain.ErrNoChain)
		}
	case len(snap.ordered) > 0:
		chain = snap.ordered[0]
	case len(snap.byOrder) > 0:
		chain = &domain.RuleChain{Name: defaultChainName, Enabled: true}
		entries := make([]CompiledEntry, 0, len(snap.byOrder))
		for _, cr := range snap.byOrder {
			entries = append(entries, CompiledEntry{Rule: cr})
		}
		return chain, entries, nil
	default:
		return nil, nil, domain.ErrNoChain
	}

	return chain, c.entries(snap, chain), nil
}

func (c *RuleCache) entries(snap *ruleSnapshot, chain *domain.RuleChain) []CompiledEntry {
	ordering := make([]domain.ChainEntry, 0, len(chain.Relations))
	for _, rel := range chain.Relations {
		cr, ok := snap.rules[rel.RuleID]
		if !ok {
			c.logger.Warn("chain references missing rule",
				zap.String("chain", chain.Name),
				zap.Int64("rule_id", rel.RuleID))
			continue
		}
		ordering = append(ordering, domain.ChainEntry{ExecutionOrder: rel.ExecutionOrder, Rule: cr.Rule})
	}
	domain.OrderEntries(ordering)

	entries := make([]CompiledEntry, 0, len(ordering))
	for _, e := range ordering {
		entries = append(entries, CompiledEntry{ExecutionOrder: e.ExecutionOrder, Rule: snap.rules[e.Rule.ID]})
	}
	return entries
}

// Rule returns a compiled rule by id
func (c *RuleCache) Rule(ctx context.Context, id int64) (*CompiledRule, error) {
	snap, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	cr, ok := snap.rules[id]
	if !ok {
		return nil, fmt.Errorf("rule %d: %w", id, domain.ErrNotFound)
	}
	return cr, nil
}
