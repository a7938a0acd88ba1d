package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
	"github.com/dianxiaozhu/gridguard/internal/biz/repo"
)

// ActionScope is the context an action runs in
type ActionScope struct {
	RunID   string
	Rule    *domain.BusinessRule
	Signals *domain.Signals
}

type actionHandler func(e *ActionExecutor, ctx context.Context, a domain.RuleAction, msg *domain.Message, scope *ActionScope) ([]string, error)

// actionHandlers is the dispatch table over action kinds
var actionHandlers = map[domain.ActionKind]actionHandler{
	domain.ActionReply:            (*ActionExecutor).reply,
	domain.ActionForward:          (*ActionExecutor).forward,
	domain.ActionTag:              (*ActionExecutor).tag,
	domain.ActionEscalate:         (*ActionExecutor).escalate,
	domain.ActionIncrementCounter: (*ActionExecutor).incrementCounter,
	domain.ActionNoop:             (*ActionExecutor).noop,
}

// ActionExecutor applies a rule's ordered actions
type ActionExecutor struct {
	dispatch           repo.DispatchRepo
	tracker            *GroupTracker
	forwardDestination string
	logger             *zap.Logger
}

// NewActionExecutor creates an action executor.
// forwardDestination is used by forward actions that name no destination.
func NewActionExecutor(dispatch repo.DispatchRepo, tracker *GroupTracker, forwardDestination string, logger *zap.Logger) *ActionExecutor {
	return &ActionExecutor{
		dispatch:           dispatch,
		tracker:            tracker,
		forwardDestination: forwardDestination,
		logger:             logger.Named("actions"),
	}
}

// Execute runs the actions in ascending execution order. A failed required
// action aborts the rest; other failures are recorded and execution continues.
func (e *ActionExecutor) Execute(ctx context.Context, msg *domain.Message, scope *ActionScope) domain.ActionOutcome {
	actions := make([]domain.RuleAction, len(scope.Rule.Actions))
	copy(actions, scope.Rule.Actions)
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].ExecutionOrder < actions[j].ExecutionOrder
	})

	var out domain.ActionOutcome
	for _, a := range actions {
		handler, ok := actionHandlers[a.Kind]
		var tags []string
		var err error
		if !ok {
			err = domain.NewConfigurationError(scope.Rule.ID, fmt.Sprintf("unknown action kind %q", a.Kind))
		} else {
			tags, err = handler(e, ctx, a, msg, scope)
		}

		if err != nil {
			fatal := a.Required && !errors.Is(err, domain.ErrActionSuppressed)
			out.Failures = append(out.Failures, domain.ActionFailure{
				ActionID: a.ID,
				Kind:     a.Kind,
				Fatal:    fatal,
				Err:      err,
			})
			e.logger.Warn("action failed",
				zap.String("run_id", scope.RunID),
				zap.Int64("rule_id", scope.Rule.ID),
				zap.String("action", string(a.Kind)),
				zap.Bool("fatal", fatal),
				zap.Error(err))
			if fatal {
				out.Fatal = true
				return out
			}
			continue
		}

		out.Applied = append(out.Applied, a.Kind)
		out.Tags = append(out.Tags, tags...)
	}
	return out
}

func (e *ActionExecutor) reply(ctx context.Context, a domain.RuleAction, msg *domain.Message, scope *ActionScope) ([]string, error) {
	group, err := e.tracker.Get(ctx, msg.ChatRoom)
	if err != nil {
		return nil, err
	}
	if !group.AcceptsAutoReply() {
		return nil, fmt.Errorf("reply in %s status: %w", group.Status, domain.ErrActionSuppressed)
	}
	if a.Payload.Template == "" && a.Payload.Text == "" {
		return nil, domain.NewConfigurationError(scope.Rule.ID, "reply needs a template or text")
	}
	if err := e.dispatch.Reply(ctx, msg, a.Payload.Template, a.Payload.Text); err != nil {
		return nil, &domain.ActionDispatchError{Kind: domain.ActionReply, Err: err}
	}
	if err := e.tracker.RecordAutoReply(ctx, msg.ChatRoom); err != nil {
		e.logger.Warn("failed to record auto reply", zap.String("chat_room", msg.ChatRoom), zap.Error(err))
	}
	return nil, nil
}

func (e *ActionExecutor) forward(ctx context.Context, a domain.RuleAction, msg *domain.Message, scope *ActionScope) ([]string, error) {
	group, err := e.tracker.Get(ctx, msg.ChatRoom)
	if err != nil {
		return nil, err
	}
	if !group.AcceptsAutoForward() {
		return nil, fmt.Errorf("forward in %s status: %w", group.Status, domain.ErrActionSuppressed)
	}
	dest := a.Payload.Destination
	if dest == "" {
		dest = e.forwardDestination
	}
	if dest == "" {
		return nil, domain.NewConfigurationError(scope.Rule.ID, "forward has no destination")
	}
	if err := e.dispatch.Forward(ctx, msg, dest); err != nil {
		return nil, &domain.ActionDispatchError{Kind: domain.ActionForward, Err: err}
	}
	msg.Forwarded = true
	if err := e.tracker.RecordAutoReply(ctx, msg.ChatRoom); err != nil {
		e.logger.Warn("failed to record auto forward", zap.String("chat_room", msg.ChatRoom), zap.Error(err))
	}
	return nil, nil
}

func (e *ActionExecutor) tag(_ context.Context, a domain.RuleAction, _ *domain.Message, scope *ActionScope) ([]string, error) {
	if a.Payload.Tag == "" {
		return nil, domain.NewConfigurationError(scope.Rule.ID, "tag is empty")
	}
	return []string{a.Payload.Tag}, nil
}

func (e *ActionExecutor) escalate(ctx context.Context, a domain.RuleAction, msg *domain.Message, scope *ActionScope) ([]string, error) {
	reason := a.Payload.Reason
	if reason == "" {
		reason = scope.Rule.ReasonFor(firstKeyword(scope.Signals))
	}
	_, err := e.tracker.Takeover(ctx, msg.ChatRoom, "rule:"+scope.Rule.Name, reason)
	if err != nil && !errors.Is(err, domain.ErrStorageUnavailable) {
		return nil, err
	}
	return nil, nil
}

func (e *ActionExecutor) incrementCounter(ctx context.Context, a domain.RuleAction, msg *domain.Message, scope *ActionScope) ([]string, error) {
	if a.Payload.Counter == "" {
		return nil, domain.NewConfigurationError(scope.Rule.ID, "counter name is empty")
	}
	reason := a.Payload.Reason
	if reason == "" {
		reason = scope.Rule.ReasonFor(firstKeyword(scope.Signals))
	}
	err := e.tracker.IncrementCounter(ctx, msg.ChatRoom, a.Payload.Counter, "rule:"+scope.Rule.Name, reason)
	if err != nil && !errors.Is(err, domain.ErrStorageUnavailable) {
		return nil, err
	}
	return nil, nil
}

func (e *ActionExecutor) noop(context.Context, domain.RuleAction, *domain.Message, *ActionScope) ([]string, error) {
	return nil, nil
}

func firstKeyword(s *domain.Signals) string {
	if s == nil || len(s.KeywordHits) == 0 {
		return ""
	}
	return s.KeywordHits[0].Keyword
}
