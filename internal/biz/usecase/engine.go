package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
)

// EngineConfig selects the chain processed for every message
type EngineConfig struct {
	ChainName string // empty selects the first enabled chain
}

// Engine is the per-message entry point of rule evaluation
type Engine struct {
	cfg     EngineConfig
	signals *SignalUsecase
	rules   *RuleCache
	runner  *ChainRunner
	tracker *GroupTracker
	execLog *ExecutionLogger
	logger  *zap.Logger
}

// NewEngine creates an engine
func NewEngine(
	cfg EngineConfig,
	signals *SignalUsecase,
	rules *RuleCache,
	runner *ChainRunner,
	tracker *GroupTracker,
	execLog *ExecutionLogger,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		cfg:     cfg,
		signals: signals,
		rules:   rules,
		runner:  runner,
		tracker: tracker,
		execLog: execLog,
		logger:  logger.Named("engine"),
	}
}

// ProcessMessage runs the configured chain for one message. The result is
// always non-nil; the error is set only for a critical rule failure or when
// no chain can be resolved.
func (e *Engine) ProcessMessage(ctx context.Context, msg *domain.Message) (*domain.ChainResult, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now()
	}

	if _, err := e.tracker.RecordMessage(ctx, msg.ChatRoom); err != nil {
		e.logger.Warn("failed to record message", zap.String("chat_room", msg.ChatRoom), zap.Error(err))
	}

	chain, entries, err := e.rules.Resolve(ctx, e.cfg.ChainName)
	if err != nil {
		return e.noChain(ctx, msg, err), err
	}

	signals := e.signals.Extract(ctx, msg)
	result := e.runner.Run(ctx, chain, entries, msg, &signals)

	e.logger.Debug("message processed",
		zap.String("run_id", result.RunID),
		zap.String("message_id", msg.ID),
		zap.String("chat_room", msg.ChatRoom),
		zap.String("chain", chain.Name),
		zap.String("status", string(result.FinalStatus)),
		zap.Int("evaluated", len(result.EvaluatedRules)),
		zap.Int("matched", len(result.MatchedRules)),
		zap.Duration("duration", result.Duration))

	if result.Failed() {
		return result, result.Err
	}
	return result, nil
}

// EvaluateRule runs one rule as an exclusive single-rule chain
func (e *Engine) EvaluateRule(ctx context.Context, ruleID int64, msg *domain.Message) (*domain.ChainResult, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now()
	}

	cr, err := e.rules.Rule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	chain, ordered := domain.StandaloneChain(cr.Rule)
	standalone := *cr
	standalone.Rule = ordered[0].Rule

	signals := e.signals.Extract(ctx, msg)
	result := e.runner.Run(ctx, chain, []CompiledEntry{{ExecutionOrder: 1, Rule: &standalone}}, msg, &signals)
	if result.Failed() {
		return result, result.Err
	}
	return result, nil
}

func (e *Engine) noChain(ctx context.Context, msg *domain.Message, err error) *domain.ChainResult {
	if !errors.Is(err, domain.ErrNoChain) {
		err = errors.Join(domain.ErrNoChain, err)
	}
	result := &domain.ChainResult{
		RunID:       uuid.NewString(),
		MessageID:   msg.ID,
		ChatRoom:    msg.ChatRoom,
		State:       domain.ChainDone,
		ExitState:   domain.ChainPending,
		FinalStatus: domain.ChainStatusFailure,
		Err:         err,
	}
	e.logger.Error("no rule chain resolvable", zap.String("message_id", msg.ID), zap.Error(err))
	e.execLog.Log(ctx, &domain.RuleExecutionLog{
		RunID:          result.RunID,
		MessageID:      msg.ID,
		ChatRoom:       msg.ChatRoom,
		Result:         domain.ResultFailure,
		TriggerContent: msg.Content,
		Detail:         err.Error(),
	})
	return result
}

// GetGroupStatus returns a read-only copy of a room's status
func (e *Engine) GetGroupStatus(ctx context.Context, chatRoom string) (*domain.GroupManagementStatus, error) {
	return e.tracker.Get(ctx, chatRoom)
}

// ResetDailyCounters zeroes every group's today counters
func (e *Engine) ResetDailyCounters(ctx context.Context) (int64, error) {
	return e.tracker.ResetDailyCounters(ctx)
}

// InvalidateRules drops cached rule definitions after an edit
func (e *Engine) InvalidateRules() {
	e.rules.Invalidate()
}

// KeywordsReachedThreshold lists keywords of a source type that reached their trigger threshold
func (e *Engine) KeywordsReachedThreshold(ctx context.Context, sourceType domain.SourceType) ([]*domain.KeywordConfig, error) {
	return e.signals.ReachedThreshold(ctx, sourceType)
}

// Flush retries buffered log rows and unsaved group records
func (e *Engine) Flush(ctx context.Context) error {
	return errors.Join(e.execLog.Flush(ctx), e.tracker.Flush(ctx))
}

// LogBacklog reports execution log rows waiting for storage and rows lost to overflow
func (e *Engine) LogBacklog() (pending int, dropped int64) {
	return e.execLog.Pending(), e.execLog.Dropped()
}

// Tracker exposes group management operations
func (e *Engine) Tracker() *GroupTracker {
	return e.tracker
}
