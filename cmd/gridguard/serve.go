package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dianxiaozhu/gridguard/internal/api"
	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
	"github.com/dianxiaozhu/gridguard/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Listen to Feishu group chats and serve the operator API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func runServe(ctx context.Context) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.feishu == nil {
		logger.Warn("feishu credentials not configured, running with the operator API only")
	}

	sched := a.scheduler()
	apiServer := api.NewServer(api.Deps{
		Engine:    a.uc.Engine,
		Processor: a.ingest,
		Groups:    a.uc.Tracker,
		Rules:     a.repos.Rules,
		ExecLogs:  a.repos.ExecLogs,
		Stats:     a.repos.Stats,
	}, cfg.Server.HTTPAddr, logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.ingest.Run(ctx)
	})

	g.Go(func() error {
		return apiServer.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return apiServer.Stop(shutdownCtx)
	})

	if a.feishu != nil {
		feishuServer := server.NewFeishuServer(a.feishu, a.ingest, a.uc.Tracker, server.FeishuConfig{
			GridAreas:     cfg.Feishu.GridAreas,
			SourceType:    domain.SourceType(cfg.Feishu.SourceType),
			DedupWindow:   cfg.Feishu.DedupWindow,
			MemberRefresh: cfg.Feishu.MemberRefresh,
		}, logger)
		g.Go(func() error {
			if err := feishuServer.Start(ctx); err != nil && ctx.Err() == nil {
				return fmt.Errorf("feishu connection: %w", err)
			}
			return nil
		})
	}

	sched.Start(ctx)
	defer sched.Stop()

	logger.Info("gridguard started",
		zap.String("version", version),
		zap.String("http_addr", cfg.Server.HTTPAddr),
		zap.String("chain", cfg.Engine.ChainName),
		zap.Int("grid_areas", len(cfg.Feishu.GridAreas)))

	err = g.Wait()
	logger.Info("shutting down")
	return err
}
