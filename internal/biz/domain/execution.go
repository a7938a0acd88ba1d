package domain

import "time"

// ExecutionResult is the outcome recorded for a rule or a chain run
type ExecutionResult string

const (
	ResultSuccess   ExecutionResult = "success"
	ResultFailure   ExecutionResult = "failure"
	ResultSkipped   ExecutionResult = "skipped"
	ResultCancelled ExecutionResult = "cancelled"
)

// RuleExecutionLog is an append-only audit record
type RuleExecutionLog struct {
	ID                int64
	RunID             string
	ChainID           int64
	RuleID            *int64 // nil for the chain summary row
	MessageID         string
	ChatRoom          string
	Result            ExecutionResult
	Duration          time.Duration
	TriggerContent    string
	MatchedConditions []string
	ExecutedActions   []string
	Detail            string
	ExecutedAt        time.Time
}

// IsChainSummary reports whether the row summarizes a whole chain run
func (l *RuleExecutionLog) IsChainSummary() bool {
	return l.RuleID == nil
}

// ExecutionStats aggregates execution log rows
type ExecutionStats struct {
	Total       int64
	Success     int64
	Failed      int64
	Skipped     int64
	AvgDuration time.Duration
}

// SuccessRate returns success / total as a percentage
func (s ExecutionStats) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Success) * 100 / float64(s.Total)
}

// ChainState is a step of the chain run state machine:
// pending -> evaluating(i) -> matched | continuing | exhausted -> done.
// A critical failure or cancellation leaves evaluating (or pending) straight to done.
type ChainState string

const (
	ChainPending    ChainState = "pending"
	ChainEvaluating ChainState = "evaluating"
	ChainMatched    ChainState = "matched"
	ChainContinuing ChainState = "continuing"
	ChainExhausted  ChainState = "exhausted"
	ChainDone       ChainState = "done"
)

// ChainStatus is the final status of a chain run
type ChainStatus string

const (
	ChainStatusMatched   ChainStatus = "matched"
	ChainStatusExhausted ChainStatus = "exhausted"
	ChainStatusFailure   ChainStatus = "failure"
	ChainStatusCancelled ChainStatus = "cancelled"
)

// ActionFailure records one failed action
type ActionFailure struct {
	ActionID int64
	Kind     ActionKind
	Fatal    bool
	Err      error
}

// ActionOutcome is the result of executing one rule's actions
type ActionOutcome struct {
	Applied  []ActionKind
	Failures []ActionFailure
	Tags     []string
	Fatal    bool
}

// RuleOutcome is the per-rule record of a chain run
type RuleOutcome struct {
	RuleID            int64
	RuleName          string
	Matched           bool
	Result            ExecutionResult
	MatchedConditions []string
	Actions           ActionOutcome
	Err               error
	Duration          time.Duration
}

// ChainResult is returned by ProcessMessage
type ChainResult struct {
	RunID       string
	ChainID     int64
	ChainName   string
	MessageID   string
	ChatRoom    string
	FinalStatus ChainStatus
	State       ChainState // done once the run returns
	ExitState   ChainState // state the run left for done

	EvaluatedRules []int64
	MatchedRules   []RuleOutcome
	Tags           []string
	Err            error
	Duration       time.Duration
}

// Failed reports whether the run surfaces as a failure to the caller
func (r *ChainResult) Failed() bool {
	return r.FinalStatus == ChainStatusFailure
}

// MatchedRuleIDs returns the ids of matched rules in evaluation order
func (r *ChainResult) MatchedRuleIDs() []int64 {
	ids := make([]int64, 0, len(r.MatchedRules))
	for _, o := range r.MatchedRules {
		ids = append(ids, o.RuleID)
	}
	return ids
}
