package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
)

// CompiledEntry is a compiled rule at its chain position
type CompiledEntry struct {
	ExecutionOrder int
	Rule           *CompiledRule
}

// ChainRunner walks an ordered chain of rules for one message
type ChainRunner struct {
	evaluator *ConditionEvaluator
	executor  *ActionExecutor
	tracker   *GroupTracker
	execLog   *ExecutionLogger
	logger    *zap.Logger
	now       func() time.Time
}

// NewChainRunner creates a chain runner
func NewChainRunner(
	evaluator *ConditionEvaluator,
	executor *ActionExecutor,
	tracker *GroupTracker,
	execLog *ExecutionLogger,
	logger *zap.Logger,
) *ChainRunner {
	return &ChainRunner{
		evaluator: evaluator,
		executor:  executor,
		tracker:   tracker,
		execLog:   execLog,
		logger:    logger.Named("chain"),
		now:       time.Now,
	}
}

// Run evaluates the chain's enabled rules in order. Every evaluated rule gets
// one log row and the run gets one summary row. Cancellation is honoured
// between rules only.
func (r *ChainRunner) Run(
	ctx context.Context,
	chain *domain.RuleChain,
	entries []CompiledEntry,
	msg *domain.Message,
	signals *domain.Signals,
) *domain.ChainResult {
	start := r.now()
	result := &domain.ChainResult{
		RunID:       uuid.NewString(),
		ChainID:     chain.ID,
		ChainName:   chain.Name,
		MessageID:   msg.ID,
		ChatRoom:    msg.ChatRoom,
		State:       domain.ChainPending,
		FinalStatus: domain.ChainStatusExhausted,
	}

	for i, entry := range entries {
		if !entry.Rule.Rule.Enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			result.FinalStatus = domain.ChainStatusCancelled
			result.Err = err
			r.logger.Info("chain run cancelled between rules",
				zap.String("run_id", result.RunID),
				zap.Int("remaining", len(entries)-i))
			break
		}

		r.transition(result, domain.ChainEvaluating)
		outcome := r.runRule(ctx, result.RunID, entry.Rule, msg, signals)
		result.EvaluatedRules = append(result.EvaluatedRules, outcome.RuleID)
		r.logRule(ctx, result, chain, msg, &outcome)

		if outcome.Matched {
			result.MatchedRules = append(result.MatchedRules, outcome)
			result.Tags = append(result.Tags, outcome.Actions.Tags...)
		}

		if outcome.Result == domain.ResultFailure && entry.Rule.Rule.Critical {
			result.FinalStatus = domain.ChainStatusFailure
			result.Err = &domain.CriticalRuleError{RuleID: outcome.RuleID, Err: outcome.Err}
			r.logger.Error("critical rule failed, aborting chain",
				zap.String("run_id", result.RunID),
				zap.Int64("rule_id", outcome.RuleID),
				zap.Error(outcome.Err))
			break
		}

		if outcome.Matched {
			result.FinalStatus = domain.ChainStatusMatched
			if entry.Rule.Rule.IsExclusive() {
				r.transition(result, domain.ChainMatched)
				break
			}
		}
		r.transition(result, domain.ChainContinuing)
	}

	switch result.FinalStatus {
	case domain.ChainStatusFailure, domain.ChainStatusCancelled:
	default:
		if result.State != domain.ChainMatched {
			r.transition(result, domain.ChainExhausted)
		}
	}
	result.ExitState = result.State
	r.transition(result, domain.ChainDone)
	result.Duration = r.now().Sub(start)
	r.logSummary(ctx, result, chain, msg)
	return result
}

func (r *ChainRunner) transition(result *domain.ChainResult, next domain.ChainState) {
	if r.logger.Core().Enabled(zap.DebugLevel) {
		r.logger.Debug("chain state",
			zap.String("run_id", result.RunID),
			zap.String("from", string(result.State)),
			zap.String("to", string(next)))
	}
	result.State = next
}

// runRule evaluates one rule in isolation; panics become failures
func (r *ChainRunner) runRule(
	ctx context.Context,
	runID string,
	cr *CompiledRule,
	msg *domain.Message,
	signals *domain.Signals,
) (out domain.RuleOutcome) {
	rule := cr.Rule
	start := r.now()
	out = domain.RuleOutcome{RuleID: rule.ID, RuleName: rule.Name, Result: domain.ResultSkipped}

	defer func() {
		if p := recover(); p != nil {
			out.Result = domain.ResultFailure
			out.Err = fmt.Errorf("rule %d panicked: %v", rule.ID, p)
			r.logger.Error("rule panicked", zap.String("run_id", runID), zap.Int64("rule_id", rule.ID), zap.Any("panic", p))
		}
		out.Duration = r.now().Sub(start)
	}()

	if cr.Err != nil {
		out.Result = domain.ResultFailure
		out.Err = cr.Err
		return out
	}

	group, err := r.tracker.Get(ctx, msg.ChatRoom)
	if err != nil {
		out.Result = domain.ResultFailure
		out.Err = err
		return out
	}

	if !rule.AppliesTo(msg, group.Status) {
		return out
	}

	matched, conditions, err := r.evaluator.Evaluate(cr, msg, signals, group)
	if err != nil {
		out.Result = domain.ResultFailure
		out.Err = err
		return out
	}
	if !matched {
		return out
	}

	out.Matched = true
	out.MatchedConditions = conditions
	scope := &ActionScope{RunID: runID, Rule: rule, Signals: signals}
	out.Actions = r.executor.Execute(ctx, msg, scope)

	// A held counter_threshold counts as a takeover unless the rule escalates itself
	if !rule.DisableAutoTakeover && cr.hasCounterThreshold && !cr.hasEscalate && !out.Actions.Fatal {
		if _, err := r.tracker.Takeover(ctx, msg.ChatRoom, "rule:"+rule.Name, rule.ReasonFor(firstKeyword(signals))); err != nil {
			r.logger.Warn("auto takeover failed", zap.Int64("rule_id", rule.ID), zap.Error(err))
		}
	}

	if out.Actions.Fatal {
		out.Result = domain.ResultFailure
		for _, f := range out.Actions.Failures {
			if f.Fatal {
				out.Err = f.Err
			}
		}
		return out
	}
	out.Result = domain.ResultSuccess
	return out
}

func (r *ChainRunner) logRule(ctx context.Context, result *domain.ChainResult, chain *domain.RuleChain, msg *domain.Message, out *domain.RuleOutcome) {
	ruleID := out.RuleID
	applied := make([]string, 0, len(out.Actions.Applied))
	for _, k := range out.Actions.Applied {
		applied = append(applied, string(k))
	}
	r.execLog.Log(ctx, &domain.RuleExecutionLog{
		RunID:             result.RunID,
		ChainID:           chain.ID,
		RuleID:            &ruleID,
		MessageID:         msg.ID,
		ChatRoom:          msg.ChatRoom,
		Result:            out.Result,
		Duration:          out.Duration,
		TriggerContent:    msg.Content,
		MatchedConditions: out.MatchedConditions,
		ExecutedActions:   applied,
		Detail:            ruleDetail(out),
		ExecutedAt:        r.now(),
	})
}

func (r *ChainRunner) logSummary(ctx context.Context, result *domain.ChainResult, chain *domain.RuleChain, msg *domain.Message) {
	entry := &domain.RuleExecutionLog{
		RunID:          result.RunID,
		ChainID:        chain.ID,
		MessageID:      msg.ID,
		ChatRoom:       msg.ChatRoom,
		Result:         summaryResult(result.FinalStatus),
		Duration:       result.Duration,
		TriggerContent: msg.Content,
		Detail: fmt.Sprintf("chain %s %s: evaluated=%d matched=%d",
			chain.Name, result.FinalStatus, len(result.EvaluatedRules), len(result.MatchedRules)),
		ExecutedAt: r.now(),
	}
	if result.Err != nil {
		entry.Detail += ": " + result.Err.Error()
	}
	r.execLog.Log(ctx, entry)
}

func summaryResult(status domain.ChainStatus) domain.ExecutionResult {
	switch status {
	case domain.ChainStatusMatched:
		return domain.ResultSuccess
	case domain.ChainStatusFailure:
		return domain.ResultFailure
	case domain.ChainStatusCancelled:
		return domain.ResultCancelled
	}
	return domain.ResultSkipped
}

func ruleDetail(out *domain.RuleOutcome) string {
	switch {
	case out.Err != nil:
		return out.Err.Error()
	case !out.Matched:
		return "not matched"
	case len(out.Actions.Failures) == 0:
		return "matched"
	}
	parts := make([]string, 0, len(out.Actions.Failures))
	for _, f := range out.Actions.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Kind, f.Err))
	}
	return "matched with action failures: " + strings.Join(parts, "; ")
}
