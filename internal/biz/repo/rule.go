package repo

import (
	"context"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
)

// RuleRepo is the configuration store for rules and chains
type RuleRepo interface {
	// ListEnabledRules lists enabled rules with conditions and actions, ordered by priority
	ListEnabledRules(ctx context.Context) ([]*domain.BusinessRule, error)

	// ListRules lists all rules with conditions and actions
	ListRules(ctx context.Context) ([]*domain.BusinessRule, error)

	// GetRule gets a rule with its conditions and actions
	GetRule(ctx context.Context, id int64) (*domain.BusinessRule, error)

	// SaveRule creates or updates a rule and replaces its conditions and actions
	SaveRule(ctx context.Context, rule *domain.BusinessRule) (int64, error)

	// DeleteRule deletes a rule, its conditions, actions and chain relations
	DeleteRule(ctx context.Context, id int64) error

	// ListChains lists chains with their relations
	ListChains(ctx context.Context) ([]*domain.RuleChain, error)

	// GetChainByName gets a chain with its relations
	GetChainByName(ctx context.Context, name string) (*domain.RuleChain, error)

	// SaveChain creates or updates a chain and replaces its relations
	SaveChain(ctx context.Context, chain *domain.RuleChain) (int64, error)

	// AddRuleToChain appends a rule relation, rejecting duplicates
	AddRuleToChain(ctx context.Context, chainID, ruleID int64, executionOrder int) error
}
