package domain

import (
	"sort"
	"time"
)

// RuleChain is a named, ordered sequence of rules
type RuleChain struct {
	ID        int64
	Name      string
	Enabled   bool
	CreatorID string
	Relations []RuleChainRelation
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RuleChainRelation places a rule in a chain
type RuleChainRelation struct {
	ChainID        int64
	RuleID         int64
	ExecutionOrder int
}

// Validate checks that no rule or execution order appears twice
func (c *RuleChain) Validate() error {
	rules := make(map[int64]bool, len(c.Relations))
	orders := make(map[int]bool, len(c.Relations))
	for _, rel := range c.Relations {
		if rules[rel.RuleID] {
			return ErrDuplicateRuleInChain
		}
		if orders[rel.ExecutionOrder] {
			return ErrInvalidOrder
		}
		rules[rel.RuleID] = true
		orders[rel.ExecutionOrder] = true
	}
	return nil
}

// ChainEntry is a rule resolved for a chain run
type ChainEntry struct {
	ExecutionOrder int
	Rule           *BusinessRule
}

// OrderEntries sorts by execution order, then rule priority, then rule id
func OrderEntries(entries []ChainEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.ExecutionOrder != b.ExecutionOrder {
			return a.ExecutionOrder < b.ExecutionOrder
		}
		if a.Rule.Priority != b.Rule.Priority {
			return a.Rule.Priority < b.Rule.Priority
		}
		return a.Rule.ID < b.Rule.ID
	})
}

// StandaloneChain wraps a single rule as an exclusive one-rule chain
func StandaloneChain(rule *BusinessRule) (*RuleChain, []ChainEntry) {
	r := *rule
	r.Policy = PolicyExclusive
	chain := &RuleChain{
		Name:      "standalone:" + rule.Name,
		Enabled:   true,
		Relations: []RuleChainRelation{{RuleID: rule.ID, ExecutionOrder: 1}},
	}
	return chain, []ChainEntry{{ExecutionOrder: 1, Rule: &r}}
}
