package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
	"github.com/dianxiaozhu/gridguard/internal/biz/repo"
	"github.com/dianxiaozhu/gridguard/internal/biz/usecase"
)

// Engine is the rule engine surface the API exposes
type Engine interface {
	EvaluateRule(ctx context.Context, ruleID int64, msg *domain.Message) (*domain.ChainResult, error)
	ResetDailyCounters(ctx context.Context) (int64, error)
	InvalidateRules()
	KeywordsReachedThreshold(ctx context.Context, sourceType domain.SourceType) ([]*domain.KeywordConfig, error)
	LogBacklog() (pending int, dropped int64)
}

// MessageProcessor classifies and evaluates a message
type MessageProcessor interface {
	Process(ctx context.Context, msg *domain.Message) (*domain.ChainResult, error)
}

// Groups is the group tracker surface the API exposes
type Groups interface {
	Get(ctx context.Context, chatRoom string) (*domain.GroupManagementStatus, error)
	ManualTakeover(ctx context.Context, chatRoom, actor, reason string) (*domain.GroupManagementStatus, error)
	Release(ctx context.Context, chatRoom string) (*domain.GroupManagementStatus, error)
	UpdateSettings(ctx context.Context, chatRoom string, s usecase.GroupSettings) (*domain.GroupManagementStatus, error)
	BatchUpdateStatus(ctx context.Context, chatRooms []string, status domain.GroupStatus, actor, reason string) (int, error)
	Delete(ctx context.Context, chatRoom string) error
	ListAll(ctx context.Context) ([]*domain.GroupManagementStatus, error)
	NeedingAttention(ctx context.Context, threshold int) ([]*domain.GroupManagementStatus, error)
	ActiveSince(ctx context.Context, window time.Duration) ([]*domain.GroupManagementStatus, error)
	CountByStatus(ctx context.Context) ([]domain.StatusCount, error)
	Search(ctx context.Context, name string) ([]*domain.GroupManagementStatus, error)
}

// Deps are the collaborators behind the API
type Deps struct {
	Engine    Engine
	Processor MessageProcessor
	Groups    Groups
	Rules     repo.RuleRepo
	ExecLogs  repo.ExecutionLogRepo
	Stats     repo.StatisticsRepo
}

// Server is the operator HTTP API
type Server struct {
	deps   Deps
	addr   string
	logger *zap.Logger
	router chi.Router
	server *http.Server
}

// NewServer creates the API server
func NewServer(deps Deps, addr string, logger *zap.Logger) *Server {
	s := &Server{
		deps:   deps,
		addr:   addr,
		logger: logger.Named("api"),
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/groups", func(r chi.Router) {
			r.Get("/", s.handleListGroups)
			r.Get("/attention", s.handleAttentionGroups)
			r.Get("/active", s.handleActiveGroups)
			r.Get("/counts", s.handleGroupCounts)
			r.Post("/batch-status", s.handleBatchStatus)
			r.Route("/{chatRoom}", func(r chi.Router) {
				r.Get("/", s.handleGetGroup)
				r.Delete("/", s.handleDeleteGroup)
				r.Patch("/settings", s.handleGroupSettings)
				r.Post("/takeover", s.handleTakeover)
				r.Post("/release", s.handleRelease)
				r.Get("/statistics", s.handleGroupStatistics)
			})
		})

		r.Post("/messages", s.handleProcessMessage)

		r.Get("/rules", s.handleListRules)
		r.Post("/rules/invalidate", s.handleInvalidateRules)
		r.Post("/rules/{ruleID}/evaluate", s.handleEvaluateRule)
		r.Get("/chains", s.handleListChains)

		r.Get("/executions/stats", s.handleExecutionStats)
		r.Get("/executions/{messageID}", s.handleExecutionsByMessage)

		r.Get("/keywords/reached", s.handleKeywordsReached)

		r.Post("/maintenance/reset-daily", s.handleResetDaily)
	})
	return r
}

// requestLogger logs each request with zap
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// Start serves until Stop is called
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.logger.Info("starting http server", zap.String("addr", s.addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
