package conf

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
)

// RuleSet is the YAML seed file for templates, keywords, rules and chains
type RuleSet struct {
	Templates []TemplateSpec `yaml:"templates"`
	Keywords  []KeywordSpec  `yaml:"keywords"`
	Rules     []RuleSpec     `yaml:"rules"`
	Chains    []ChainSpec    `yaml:"chains"`
}

// TemplateSpec is a reply template
type TemplateSpec struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Content string `yaml:"content"`
}

// KeywordSpec is a keyword config
type KeywordSpec struct {
	Keyword   string `yaml:"keyword"`
	Scope     string `yaml:"scope"`
	Priority  string `yaml:"priority"`
	Weight    int    `yaml:"weight"`
	Threshold int    `yaml:"threshold"`
	Disabled  bool   `yaml:"disabled"`
}

// RuleSpec is a business rule with its conditions and actions
type RuleSpec struct {
	Name           string              `yaml:"name"`
	Type           string              `yaml:"type"`
	Policy         string              `yaml:"policy"`
	Priority       int                 `yaml:"priority"`
	Disabled       bool                `yaml:"disabled"`
	Critical       bool                `yaml:"critical"`
	Description    string              `yaml:"description"`
	Schedule       domain.RuleSchedule `yaml:"schedule"`
	TargetGroups   []string            `yaml:"target_groups"`
	StatusFilter   []string            `yaml:"status_filter"`
	AutoTakeover   *bool               `yaml:"auto_takeover"` // unset means true
	TakeoverReason string              `yaml:"takeover_reason"`
	Conditions     []ConditionSpec     `yaml:"conditions"`
	Actions        []ActionSpec        `yaml:"actions"`
}

// ConditionSpec is a rule condition
type ConditionSpec struct {
	Kind          string   `yaml:"kind"`
	Operator      string   `yaml:"operator"`
	Operands      []string `yaml:"operands"`
	Field         string   `yaml:"field"`
	Value         string   `yaml:"value"`
	MatchMode     string   `yaml:"match_mode"`
	CaseSensitive bool     `yaml:"case_sensitive"`
}

// ActionSpec is a rule action
type ActionSpec struct {
	Kind     string               `yaml:"kind"`
	Order    int                  `yaml:"order"`
	Required bool                 `yaml:"required"`
	Payload  domain.ActionPayload `yaml:"payload"`
}

// ChainSpec is a named chain referring to rules by name
type ChainSpec struct {
	Name     string          `yaml:"name"`
	Disabled bool            `yaml:"disabled"`
	Rules    []ChainRuleSpec `yaml:"rules"`
}

// ChainRuleSpec places a rule in a chain
type ChainRuleSpec struct {
	Rule  string `yaml:"rule"`
	Order int    `yaml:"order"`
}

// LoadRuleSet loads and validates a rule set file
func LoadRuleSet(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule set: %w", err)
	}
	return ParseRuleSet(data)
}

// ParseRuleSet parses and validates rule set YAML
func ParseRuleSet(data []byte) (*RuleSet, error) {
	var set RuleSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse rule set: %w", err)
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return &set, nil
}

// Validate checks names, references and each rule's structure
func (s *RuleSet) Validate() error {
	rules := make(map[string]bool, len(s.Rules))
	for _, rs := range s.Rules {
		if rules[rs.Name] {
			return &ConfigError{Field: "rules", Message: fmt.Sprintf("duplicate rule %q", rs.Name)}
		}
		rules[rs.Name] = true
		rule, err := rs.ToDomain()
		if err != nil {
			return err
		}
		if err := rule.Validate(); err != nil {
			return &ConfigError{Field: "rules." + rs.Name, Message: err.Error()}
		}
	}
	for _, k := range s.Keywords {
		if k.Keyword == "" {
			return &ConfigError{Field: "keywords", Message: "keyword is required"}
		}
		if _, err := domain.ParseKeywordScope(k.Scope); err != nil {
			return &ConfigError{Field: "keywords." + k.Keyword, Message: err.Error()}
		}
	}
	for _, c := range s.Chains {
		for _, ref := range c.Rules {
			if !rules[ref.Rule] {
				return &ConfigError{Field: "chains." + c.Name, Message: fmt.Sprintf("unknown rule %q", ref.Rule)}
			}
		}
	}
	return nil
}

// ToDomain converts the entry into a rule without ids
func (s *RuleSpec) ToDomain() (*domain.BusinessRule, error) {
	rule := &domain.BusinessRule{
		Name:                s.Name,
		Type:                domain.RuleType(s.Type),
		Policy:              domain.ContinuationPolicy(s.Policy),
		Priority:            s.Priority,
		Enabled:             !s.Disabled,
		Critical:            s.Critical,
		Description:         s.Description,
		Schedule:            s.Schedule,
		TargetGroups:        s.TargetGroups,
		DisableAutoTakeover: s.AutoTakeover != nil && !*s.AutoTakeover,
		TakeoverReason:      s.TakeoverReason,
		CreatorID:           "seed",
	}
	for _, st := range s.StatusFilter {
		status := domain.GroupStatus(st)
		if !status.Valid() {
			return nil, &ConfigError{Field: "rules." + s.Name, Message: fmt.Sprintf("invalid status %q", st)}
		}
		rule.StatusFilter = append(rule.StatusFilter, status)
	}
	for _, c := range s.Conditions {
		rule.Conditions = append(rule.Conditions, domain.RuleCondition{
			Kind:          domain.ConditionKind(c.Kind),
			Operator:      domain.Operator(c.Operator),
			Operands:      c.Operands,
			Field:         c.Field,
			Value:         c.Value,
			MatchMode:     domain.MatchMode(c.MatchMode),
			CaseSensitive: c.CaseSensitive,
		})
	}
	for i, a := range s.Actions {
		order := a.Order
		if order == 0 {
			order = i + 1
		}
		rule.Actions = append(rule.Actions, domain.RuleAction{
			Kind:           domain.ActionKind(a.Kind),
			ExecutionOrder: order,
			Required:       a.Required,
			Payload:        a.Payload,
		})
	}
	return rule, nil
}

// ToDomain converts the entry into a keyword config
func (k *KeywordSpec) ToDomain() (*domain.KeywordConfig, error) {
	scope, err := domain.ParseKeywordScope(k.Scope)
	if err != nil {
		return nil, err
	}
	weight := k.Weight
	if weight == 0 {
		weight = 1
	}
	return &domain.KeywordConfig{
		Keyword:          k.Keyword,
		Scope:            scope,
		Priority:         domain.KeywordPriority(k.Priority),
		Active:           !k.Disabled,
		Weight:           weight,
		TriggerThreshold: k.Threshold,
	}, nil
}
