package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
	"github.com/dianxiaozhu/gridguard/internal/biz/repo"
)

// ErrQueueClosed is returned by Submit after the workers stopped
var ErrQueueClosed = errors.New("ingest queue closed")

// MessageProcessor runs the rule engine for one message
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, msg *domain.Message) (*domain.ChainResult, error)
}

// IngestConfig sizes the worker pool
type IngestConfig struct {
	Workers   int
	QueueSize int

	// ClassifyTimeout bounds one classifier call
	ClassifyTimeout time.Duration
}

// IngestService feeds received messages through classification and the rule engine
type IngestService struct {
	engine     MessageProcessor
	classifier repo.ClassifierRepo // nil disables classification
	nlp        repo.NlpRepo
	cfg        IngestConfig
	logger     *zap.Logger

	queue    chan *domain.Message
	done     chan struct{}
	onResult func(*domain.ChainResult, error)
}

// NewIngestService creates the ingest service
func NewIngestService(engine MessageProcessor, classifier repo.ClassifierRepo, nlp repo.NlpRepo, cfg IngestConfig, logger *zap.Logger) *IngestService {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 64
	}
	if cfg.ClassifyTimeout <= 0 {
		cfg.ClassifyTimeout = 10 * time.Second
	}
	return &IngestService{
		engine:     engine,
		classifier: classifier,
		nlp:        nlp,
		cfg:        cfg,
		logger:     logger.Named("ingest"),
		queue:      make(chan *domain.Message, cfg.QueueSize),
		done:       make(chan struct{}),
	}
}

// SetResultCallback sets a hook called after each queued message is processed
func (s *IngestService) SetResultCallback(fn func(*domain.ChainResult, error)) {
	s.onResult = fn
}

// Submit enqueues a message, blocking while the queue is full
func (s *IngestService) Submit(ctx context.Context, msg *domain.Message) error {
	select {
	case <-s.done:
		return ErrQueueClosed
	default:
	}
	select {
	case s.queue <- msg:
		return nil
	case <-s.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the workers and blocks until ctx is done
func (s *IngestService) Run(ctx context.Context) error {
	defer close(s.done)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case msg := <-s.queue:
					result, err := s.Process(ctx, msg)
					if s.onResult != nil {
						s.onResult(result, err)
					}
				}
			}
		})
	}
	s.logger.Info("ingest workers started", zap.Int("workers", s.cfg.Workers), zap.Int("queue_size", s.cfg.QueueSize))
	err := g.Wait()
	s.logger.Info("ingest workers stopped", zap.Int("dropped", len(s.queue)))
	return err
}

// Process classifies the message and runs the engine concurrently.
// The engine waits for the classification within its NLP budget.
func (s *IngestService) Process(ctx context.Context, msg *domain.Message) (*domain.ChainResult, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now()
	}

	classify := s.classifier != nil && s.nlp != nil && !msg.IsEmpty()
	if classify {
		if err := s.nlp.Save(ctx, &domain.NlpResult{MessageID: msg.ID, Status: domain.NlpPending}); err != nil {
			s.logger.Warn("failed to mark nlp pending", zap.String("message_id", msg.ID), zap.Error(err))
			classify = false
		}
	}

	var g errgroup.Group
	if classify {
		g.Go(func() error {
			s.classify(ctx, msg)
			return nil
		})
	}

	var result *domain.ChainResult
	var procErr error
	g.Go(func() error {
		result, procErr = s.engine.ProcessMessage(ctx, msg)
		return nil
	})
	_ = g.Wait()

	if procErr != nil {
		s.logger.Error("message processing failed",
			zap.String("message_id", msg.ID),
			zap.String("chat_room", msg.ChatRoom),
			zap.Error(procErr))
	}
	return result, procErr
}

// classify stores a success or failed NlpResult; it never fails the message
func (s *IngestService) classify(ctx context.Context, msg *domain.Message) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.ClassifyTimeout)
	defer cancel()

	res := &domain.NlpResult{MessageID: msg.ID}
	category, confidence, err := s.classifier.Classify(cctx, msg.Content)
	if err != nil {
		s.logger.Warn("classification failed", zap.String("message_id", msg.ID), zap.Error(err))
		res.Status = domain.NlpFailed
	} else {
		res.Status = domain.NlpSuccess
		res.Category = category
		res.Confidence = confidence
	}
	res.ProcessedAt = time.Now()

	if err := s.nlp.Save(context.WithoutCancel(ctx), res); err != nil {
		s.logger.Warn("failed to store nlp result", zap.String("message_id", msg.ID), zap.Error(err))
	}
}
