package biz

import (
	"time"

	"go.uber.org/zap"

	"github.com/dianxiaozhu/gridguard/internal/biz/repo"
	"github.com/dianxiaozhu/gridguard/internal/biz/usecase"
)

// Repos are the repositories the usecases depend on
type Repos struct {
	Rules    repo.RuleRepo
	Keywords repo.KeywordRepo
	Nlp      repo.NlpRepo
	ExecLogs repo.ExecutionLogRepo
	Groups   repo.GroupStatusRepo
	Dispatch repo.DispatchRepo
}

// Options tune the usecases
type Options struct {
	Engine             usecase.EngineConfig
	Signals            usecase.SignalConfig
	Conditions         usecase.ConditionConfig
	Tracker            usecase.TrackerConfig
	RuleCacheTTL       time.Duration
	LogBufferSize      int
	LogAppendTimeout   time.Duration
	ForwardDestination string
}

// Usecases contains all usecases
type Usecases struct {
	Engine   *usecase.Engine
	Tracker  *usecase.GroupTracker
	ExecLog  *usecase.ExecutionLogger
	Rules    *usecase.RuleCache
	Signals  *usecase.SignalUsecase
	Executor *usecase.ActionExecutor
}

// NewUsecases wires the engine and its components
func NewUsecases(repos Repos, opts Options, logger *zap.Logger) *Usecases {
	tracker := usecase.NewGroupTracker(repos.Groups, opts.Tracker, logger)
	execLog := usecase.NewExecutionLogger(repos.ExecLogs, opts.LogBufferSize, logger)
	execLog.SetAppendTimeout(opts.LogAppendTimeout)
	signals := usecase.NewSignalUsecase(repos.Keywords, repos.Nlp, opts.Signals, logger)
	rules := usecase.NewRuleCache(repos.Rules, opts.RuleCacheTTL, opts.Conditions, logger)
	executor := usecase.NewActionExecutor(repos.Dispatch, tracker, opts.ForwardDestination, logger)
	runner := usecase.NewChainRunner(usecase.NewConditionEvaluator(), executor, tracker, execLog, logger)

	return &Usecases{
		Engine:   usecase.NewEngine(opts.Engine, signals, rules, runner, tracker, execLog, logger),
		Tracker:  tracker,
		ExecLog:  execLog,
		Rules:    rules,
		Signals:  signals,
		Executor: executor,
	}
}
