package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
	"github.com/dianxiaozhu/gridguard/internal/biz/repo"
	"github.com/dianxiaozhu/gridguard/internal/conf"
)

// SeedReport counts what a seed run wrote
type SeedReport struct {
	Templates int
	Keywords  int
	Rules     int
	Chains    int
}

// SeedService loads a rule set file into the stores
type SeedService struct {
	templates repo.TemplateRepo
	keywords  repo.KeywordRepo
	rules     repo.RuleRepo
	logger    *zap.Logger
}

// NewSeedService creates the seed service
func NewSeedService(templates repo.TemplateRepo, keywords repo.KeywordRepo, rules repo.RuleRepo, logger *zap.Logger) *SeedService {
	return &SeedService{
		templates: templates,
		keywords:  keywords,
		rules:     rules,
		logger:    logger.Named("seed"),
	}
}

// Seed upserts the rule set. Rules and chains are matched by name, so running it twice is a no-op.
func (s *SeedService) Seed(ctx context.Context, set *conf.RuleSet) (*SeedReport, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}
	report := &SeedReport{}

	for _, t := range set.Templates {
		tmpl := &domain.MessageTemplate{ID: t.ID, Name: t.Name, Content: t.Content}
		if err := s.templates.Save(ctx, tmpl); err != nil {
			return report, fmt.Errorf("template %s: %w", t.ID, err)
		}
		report.Templates++
	}

	for i := range set.Keywords {
		kw, err := set.Keywords[i].ToDomain()
		if err != nil {
			return report, err
		}
		if _, err := s.keywords.Save(ctx, kw); err != nil {
			return report, fmt.Errorf("keyword %s: %w", kw.Keyword, err)
		}
		report.Keywords++
	}

	existing, err := s.rules.ListRules(ctx)
	if err != nil {
		return report, err
	}
	ids := make(map[string]int64, len(existing))
	for _, r := range existing {
		ids[r.Name] = r.ID
	}

	for i := range set.Rules {
		rule, err := set.Rules[i].ToDomain()
		if err != nil {
			return report, err
		}
		rule.ID = ids[rule.Name]
		id, err := s.rules.SaveRule(ctx, rule)
		if err != nil {
			return report, fmt.Errorf("rule %s: %w", rule.Name, err)
		}
		ids[rule.Name] = id
		report.Rules++
	}

	for _, cs := range set.Chains {
		chain, err := s.rules.GetChainByName(ctx, cs.Name)
		if err != nil {
			return report, err
		}
		if chain == nil {
			chain = &domain.RuleChain{Name: cs.Name, CreatorID: "seed"}
		}
		chain.Enabled = !cs.Disabled
		chain.Relations = chain.Relations[:0]
		for i, ref := range cs.Rules {
			order := ref.Order
			if order == 0 {
				order = i + 1
			}
			chain.Relations = append(chain.Relations, domain.RuleChainRelation{
				RuleID:         ids[ref.Rule],
				ExecutionOrder: order,
			})
		}
		if _, err := s.rules.SaveChain(ctx, chain); err != nil {
			return report, fmt.Errorf("chain %s: %w", cs.Name, err)
		}
		report.Chains++
	}

	s.logger.Info("rule set seeded",
		zap.Int("templates", report.Templates),
		zap.Int("keywords", report.Keywords),
		zap.Int("rules", report.Rules),
		zap.Int("chains", report.Chains))
	return report, nil
}
