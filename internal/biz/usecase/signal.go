package usecase

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
	"github.com/dianxiaozhu/gridguard/internal/biz/repo"
)

// Match confidences by matcher
const (
	exactConfidence = 1.0
	regexConfidence = 0.9
)

// SignalConfig tunes keyword matching and the NLP wait budget
type SignalConfig struct {
	FuzzyMatch      bool
	FuzzySimilarity float64       // minimum similarity for fuzzy word matches
	NlpWaitBudget   time.Duration // how long a pending NLP result is waited for
	NlpPollInterval time.Duration
}

// SignalUsecase turns a raw message into typed signals
type SignalUsecase struct {
	keywords repo.KeywordRepo
	nlp      repo.NlpRepo
	cfg      SignalConfig
	logger   *zap.Logger

	patternsMu sync.RWMutex
	patterns   map[string]*regexp.Regexp
}

// NewSignalUsecase creates a signal extractor
func NewSignalUsecase(keywords repo.KeywordRepo, nlp repo.NlpRepo, cfg SignalConfig, logger *zap.Logger) *SignalUsecase {
	if cfg.FuzzySimilarity <= 0 {
		cfg.FuzzySimilarity = 0.8
	}
	if cfg.NlpPollInterval <= 0 {
		cfg.NlpPollInterval = 100 * time.Millisecond
	}
	return &SignalUsecase{
		keywords: keywords,
		nlp:      nlp,
		cfg:      cfg,
		logger:   logger.Named("signals"),
		patterns: make(map[string]*regexp.Regexp),
	}
}

// Extract derives keyword hits and the NLP signal for a message.
// Lookup failures degrade to absent signals.
func (uc *SignalUsecase) Extract(ctx context.Context, msg *domain.Message) domain.Signals {
	signals := domain.Signals{
		KeywordHits: uc.matchKeywords(ctx, msg),
	}
	if res := uc.awaitNlp(ctx, msg.ID); res != nil {
		signals.NlpPresent = true
		signals.NlpCategory = res.Category
		signals.NlpConfidence = res.Confidence
	}
	return signals
}

// ReachedThreshold lists keywords of a source type that reached their trigger threshold
func (uc *SignalUsecase) ReachedThreshold(ctx context.Context, sourceType domain.SourceType) ([]*domain.KeywordConfig, error) {
	return uc.keywords.ListReachedThreshold(ctx, sourceType)
}

func (uc *SignalUsecase) scopesFor(msg *domain.Message) []domain.KeywordScope {
	scopes := []domain.KeywordScope{domain.GlobalScope()}
	if msg.GridArea != "" {
		scopes = append(scopes, domain.KeywordScope{Kind: domain.ScopeLocal, Value: msg.GridArea})
	}
	if msg.SourceType != "" {
		scopes = append(scopes, domain.KeywordScope{Kind: domain.ScopeClient, Value: string(msg.SourceType)})
	}
	return scopes
}

func (uc *SignalUsecase) matchKeywords(ctx context.Context, msg *domain.Message) []domain.KeywordHit {
	if msg.IsEmpty() {
		return nil
	}
	configs, err := uc.keywords.ListActive(ctx, uc.scopesFor(msg))
	if err != nil {
		uc.logger.Warn("keyword lookup failed, continuing without keyword signals",
			zap.String("message_id", msg.ID),
			zap.Error(&domain.SignalUnavailableError{Signal: "keyword", Err: err}))
		return nil
	}

	content := msg.NormalizedContent()
	words := strings.Fields(content)

	var hits []domain.KeywordHit
	for _, kw := range configs {
		confidence, ok := uc.match(kw, content, words)
		if !ok {
			continue
		}

		// One increment per config per message, however often the keyword occurs
		count, err := uc.keywords.IncrementHitCount(ctx, kw.ID)
		if err != nil {
			uc.logger.Warn("failed to increment keyword hit count",
				zap.Int64("keyword_id", kw.ID),
				zap.Error(err))
			count = kw.HitCount
		}
		hits = append(hits, domain.KeywordHit{
			KeywordID:        kw.ID,
			Keyword:          kw.Keyword,
			Scope:            kw.Scope,
			Weight:           kw.Weight,
			HitCount:         count,
			ReachedThreshold: count >= kw.Threshold(),
			Confidence:       confidence,
		})
	}
	return hits
}

// match tries exact substring, then regex keywords, then fuzzy word similarity
func (uc *SignalUsecase) match(kw *domain.KeywordConfig, content string, words []string) (float64, bool) {
	if kw.IsRegex() {
		re := uc.pattern(kw)
		if re != nil && re.MatchString(content) {
			return regexConfidence, true
		}
		return 0, false
	}

	keyword := strings.ToLower(strings.TrimSpace(kw.Keyword))
	if keyword == "" {
		return 0, false
	}
	if strings.Contains(content, keyword) {
		return exactConfidence, true
	}

	if uc.cfg.FuzzyMatch {
		best := 0.0
		for _, w := range words {
			if s := similarity(w, keyword); s > best {
				best = s
			}
		}
		if best >= uc.cfg.FuzzySimilarity {
			return best, true
		}
	}
	return 0, false
}

func (uc *SignalUsecase) pattern(kw *domain.KeywordConfig) *regexp.Regexp {
	src := kw.Pattern()

	uc.patternsMu.RLock()
	re, ok := uc.patterns[src]
	uc.patternsMu.RUnlock()
	if ok {
		return re
	}

	re, err := regexp.Compile("(?i)" + src)
	if err != nil {
		uc.logger.Warn("invalid keyword pattern",
			zap.Int64("keyword_id", kw.ID),
			zap.String("pattern", src),
			zap.Error(err))
	}

	uc.patternsMu.Lock()
	uc.patterns[src] = re
	uc.patternsMu.Unlock()
	return re
}

// awaitNlp returns the successful NLP result for the message, polling while
// it is pending until the wait budget runs out
func (uc *SignalUsecase) awaitNlp(ctx context.Context, messageID string) *domain.NlpResult {
	if uc.nlp == nil {
		return nil
	}
	if uc.cfg.NlpWaitBudget <= 0 {
		res, _ := uc.lookupNlp(ctx, messageID)
		return res
	}

	waitCtx, cancel := context.WithTimeout(ctx, uc.cfg.NlpWaitBudget)
	defer cancel()

	ticker := time.NewTicker(uc.cfg.NlpPollInterval)
	defer ticker.Stop()

	for {
		res, settled := uc.lookupNlp(waitCtx, messageID)
		if settled {
			return res
		}
		select {
		case <-waitCtx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// lookupNlp reports settled=false only while the result is pending or absent
func (uc *SignalUsecase) lookupNlp(ctx context.Context, messageID string) (*domain.NlpResult, bool) {
	res, err := uc.nlp.Latest(ctx, messageID)
	if err != nil {
		if ctx.Err() == nil {
			uc.logger.Warn("nlp lookup failed, continuing without nlp signal",
				zap.String("message_id", messageID),
				zap.Error(&domain.SignalUnavailableError{Signal: "nlp", Err: err}))
		}
		return nil, true
	}
	if res == nil {
		return nil, false
	}
	switch res.Status {
	case domain.NlpSuccess:
		return res, true
	case domain.NlpFailed:
		return nil, true
	}
	return nil, false
}
