package main

import (
	"database/sql"

	"go.uber.org/zap"

	"github.com/dianxiaozhu/gridguard/internal/biz"
	"github.com/dianxiaozhu/gridguard/internal/data"
	"github.com/dianxiaozhu/gridguard/internal/infra/feishu"
	"github.com/dianxiaozhu/gridguard/internal/service"
)

// app is the wired object graph shared by the commands
type app struct {
	db       *sql.DB
	feishu   *feishu.Client // nil when credentials are not configured
	repos    *data.Repositories
	uc       *biz.Usecases
	ingest   *service.IngestService
	notifier *service.TakeoverNotifier
}

func newApp(withFeishu bool) (*app, error) {
	db, err := data.OpenDB(cfg.Storage.DBPath)
	if err != nil {
		return nil, err
	}

	a := &app{db: db}
	clients := data.Clients{
		Classifier: &data.ClassifierConfig{
			APIKey:  cfg.NLP.APIKey,
			BaseURL: cfg.NLP.BaseURL,
			Model:   cfg.NLP.Model,
			Timeout: cfg.NLP.Timeout,
		},
	}
	if withFeishu && cfg.Feishu.Enabled() {
		a.feishu = feishu.NewClient(cfg.Feishu.AppID, cfg.Feishu.AppSecret, logger)
		clients.Feishu = a.feishu
	}

	a.repos, err = data.NewRepositories(db, clients, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	a.uc = biz.NewUsecases(a.repos.Biz(), cfg.ToBizOptions(), logger)
	a.notifier = service.NewTakeoverNotifier(a.repos.Dispatch, cfg.Feishu.ForwardDestination, logger)
	a.uc.Tracker.SetTakeoverCallback(a.notifier.Handle)

	a.ingest = service.NewIngestService(a.uc.Engine, a.repos.Classifier, a.repos.Nlp, service.IngestConfig{
		Workers:         cfg.Engine.Workers,
		QueueSize:       cfg.Engine.QueueSize,
		ClassifyTimeout: cfg.NLP.Timeout,
	}, logger)

	logger.Info("storage opened", zap.String("db_path", cfg.Storage.DBPath))
	return a, nil
}

func (a *app) scheduler() *service.Scheduler {
	dailyAt, _ := cfg.Scheduler.ResetClock()
	rollup := service.NewRollupService(a.uc.Tracker, a.repos.ExecLogs, a.repos.Stats, logger)
	return service.NewScheduler(a.uc.Engine, rollup, a.repos.ExecLogs, a.repos.Stats, service.SchedulerConfig{
		DailyAt:        dailyAt,
		FlushInterval:  cfg.Scheduler.FlushInterval,
		LogRetention:   days(cfg.Storage.LogRetentionDays),
		StatsRetention: days(cfg.Storage.StatsRetentionDays),
	}, logger)
}

func (a *app) Close() error {
	a.notifier.Wait()
	return a.db.Close()
}
