package usecase

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
)

// evalInput is everything a condition predicate may read
type evalInput struct {
	msg     *domain.Message
	signals *domain.Signals
	group   *domain.GroupManagementStatus
}

type predicate func(in *evalInput) bool

type conditionCompiler func(c domain.RuleCondition, cfg ConditionConfig) (predicate, error)

// ConditionConfig holds evaluator defaults
type ConditionConfig struct {
	NlpMinConfidence float64
}

// conditionCompilers is the dispatch table over condition kinds
var conditionCompilers = map[domain.ConditionKind]conditionCompiler{
	domain.CondKeywordMatch:     compileKeywordMatch,
	domain.CondNlpCategory:      compileNlpCategory,
	domain.CondTimeWindow:       compileTimeWindow,
	domain.CondSenderPattern:    compileSenderPattern,
	domain.CondCounterThreshold: compileCounterThreshold,
	domain.CondContentMatch:     compileContentMatch,
}

type compiledCondition struct {
	label string
	eval  predicate
}

// CompiledRule is a rule with its conditions turned into predicates.
// Err is set when the definition is malformed.
type CompiledRule struct {
	Rule                *domain.BusinessRule
	Err                 error
	conditions          []compiledCondition
	hasCounterThreshold bool
	hasEscalate         bool
}

// CompileRule validates a rule and compiles its conditions
func CompileRule(rule *domain.BusinessRule, cfg ConditionConfig) *CompiledRule {
	cr := &CompiledRule{Rule: rule}
	if err := rule.Validate(); err != nil {
		cr.Err = err
		return cr
	}

	for _, c := range rule.Conditions {
		compile, ok := conditionCompilers[c.Kind]
		if !ok {
			cr.Err = domain.NewConfigurationError(rule.ID, fmt.Sprintf("unknown condition kind %q", c.Kind))
			return cr
		}
		eval, err := compile(c, cfg)
		if err != nil {
			cr.Err = domain.NewConfigurationError(rule.ID, fmt.Sprintf("%s: %v", c.Kind, err))
			return cr
		}
		cr.conditions = append(cr.conditions, compiledCondition{label: conditionLabel(c), eval: eval})
		if c.Kind == domain.CondCounterThreshold {
			cr.hasCounterThreshold = true
		}
	}

	for _, a := range rule.Actions {
		if _, ok := actionHandlers[a.Kind]; !ok {
			cr.Err = domain.NewConfigurationError(rule.ID, fmt.Sprintf("unknown action kind %q", a.Kind))
			return cr
		}
		if a.Kind == domain.ActionEscalate {
			cr.hasEscalate = true
		}
	}
	return cr
}

func conditionLabel(c domain.RuleCondition) string {
	parts := []string{string(c.Kind)}
	if c.Field != "" {
		parts = append(parts, c.Field)
	}
	if c.Operator != "" {
		parts = append(parts, string(c.Operator))
	}
	if c.Value != "" {
		parts = append(parts, c.Value)
	}
	if len(c.Operands) > 0 {
		parts = append(parts, strings.Join(c.Operands, "|"))
	}
	return strings.Join(parts, ":")
}

// ConditionEvaluator decides whether a compiled rule matches
type ConditionEvaluator struct{}

// NewConditionEvaluator creates a condition evaluator
func NewConditionEvaluator() *ConditionEvaluator {
	return &ConditionEvaluator{}
}

// Evaluate ANDs the rule's conditions, stopping at the first false one.
// A rule with no conditions always matches.
func (e *ConditionEvaluator) Evaluate(
	cr *CompiledRule,
	msg *domain.Message,
	signals *domain.Signals,
	group *domain.GroupManagementStatus,
) (bool, []string, error) {
	if cr.Err != nil {
		return false, nil, cr.Err
	}
	in := &evalInput{msg: msg, signals: signals, group: group}
	matched := make([]string, 0, len(cr.conditions))
	for _, c := range cr.conditions {
		if !c.eval(in) {
			return false, matched, nil
		}
		matched = append(matched, c.label)
	}
	return true, matched, nil
}

func compileKeywordMatch(c domain.RuleCondition, _ ConditionConfig) (predicate, error) {
	if len(c.Operands) == 0 {
		return nil, fmt.Errorf("keyword set is empty")
	}
	set := make(map[string]bool, len(c.Operands))
	for _, k := range c.Operands {
		set[strings.ToLower(k)] = true
	}
	return func(in *evalInput) bool {
		for _, h := range in.signals.KeywordHits {
			if set[strings.ToLower(h.Keyword)] {
				return true
			}
		}
		return false
	}, nil
}

func compileNlpCategory(c domain.RuleCondition, cfg ConditionConfig) (predicate, error) {
	if len(c.Operands) == 0 {
		return nil, fmt.Errorf("category set is empty")
	}
	minConfidence := cfg.NlpMinConfidence
	if c.Value != "" {
		v, err := strconv.ParseFloat(c.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid min confidence %q", c.Value)
		}
		minConfidence = v
	}
	set := make(map[string]bool, len(c.Operands))
	for _, cat := range c.Operands {
		set[cat] = true
	}
	return func(in *evalInput) bool {
		if !in.signals.NlpPresent {
			return false
		}
		return set[in.signals.NlpCategory] && in.signals.NlpConfidence >= minConfidence
	}, nil
}

func compileTimeWindow(c domain.RuleCondition, _ ConditionConfig) (predicate, error) {
	start, end, err := domain.ParseClockRange(c.Value)
	if err != nil {
		return nil, err
	}
	return func(in *evalInput) bool {
		return domain.InClockRange(in.msg.ReceivedAt, start, end)
	}, nil
}

func compileSenderPattern(c domain.RuleCondition, _ ConditionConfig) (predicate, error) {
	expr := c.Value
	if !c.CaseSensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	return func(in *evalInput) bool {
		return re.MatchString(in.msg.SenderName)
	}, nil
}

func compileCounterThreshold(c domain.RuleCondition, _ ConditionConfig) (predicate, error) {
	threshold, err := strconv.Atoi(strings.TrimSpace(c.Value))
	if err != nil {
		return nil, fmt.Errorf("invalid threshold %q", c.Value)
	}
	op := c.Operator
	if op == "" {
		op = domain.OpGTE
	}
	if _, err := op.Compare(0, 0); err != nil {
		return nil, err
	}

	if c.Field == domain.CounterKeywordHitCount {
		// Operands optionally restrict which keywords count
		only := make(map[string]bool, len(c.Operands))
		for _, k := range c.Operands {
			only[strings.ToLower(k)] = true
		}
		return func(in *evalInput) bool {
			for _, h := range in.signals.KeywordHits {
				if len(only) > 0 && !only[strings.ToLower(h.Keyword)] {
					continue
				}
				if ok, _ := op.Compare(h.HitCount, threshold); ok {
					return true
				}
			}
			return false
		}, nil
	}

	if _, ok := (&domain.GroupManagementStatus{}).Counter(c.Field); !ok {
		return nil, fmt.Errorf("unknown counter %q", c.Field)
	}
	return func(in *evalInput) bool {
		if in.group == nil {
			return false
		}
		v, _ := in.group.Counter(c.Field)
		ok, _ := op.Compare(v, threshold)
		return ok
	}, nil
}

func compileContentMatch(c domain.RuleCondition, _ ConditionConfig) (predicate, error) {
	if len(c.Operands) == 0 {
		return nil, fmt.Errorf("match text is empty")
	}
	mode := c.MatchMode
	if mode == "" {
		mode = domain.MatchContains
	}

	fold := func(s string) string {
		if c.CaseSensitive {
			return s
		}
		return strings.ToLower(s)
	}

	if mode == domain.MatchRegex {
		res := make([]*regexp.Regexp, 0, len(c.Operands))
		for _, expr := range c.Operands {
			if !c.CaseSensitive {
				expr = "(?i)" + expr
			}
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, err
			}
			res = append(res, re)
		}
		return func(in *evalInput) bool {
			for _, re := range res {
				if re.MatchString(in.msg.Content) {
					return true
				}
			}
			return false
		}, nil
	}

	var cmp func(content, text string) bool
	switch mode {
	case domain.MatchContains:
		cmp = strings.Contains
	case domain.MatchEquals:
		cmp = func(content, text string) bool { return content == text }
	case domain.MatchStartsWith:
		cmp = strings.HasPrefix
	case domain.MatchEndsWith:
		cmp = strings.HasSuffix
	default:
		return nil, fmt.Errorf("unknown match mode %q", mode)
	}

	texts := make([]string, len(c.Operands))
	for i, t := range c.Operands {
		texts[i] = fold(t)
	}
	return func(in *evalInput) bool {
		content := fold(strings.TrimSpace(in.msg.Content))
		for _, t := range texts {
			if cmp(content, t) {
				return true
			}
		}
		return false
	}, nil
}
