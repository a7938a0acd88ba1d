package data

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/dianxiaozhu/gridguard/internal/biz/repo"
)

// CategoryOther is assigned when no category fits
const CategoryOther = "其他"

// categoryKeywords are the business categories and the words that indicate them
var categoryKeywords = []struct {
	Category string
	Words    []string
}{
	{"用电报装", []string{"报装", "装表", "新装", "增容", "用电申请", "接电"}},
	{"电费查询", []string{"电费", "查询", "账单", "余额", "用电量", "度数"}},
	{"故障报修", []string{"故障", "报修", "停电", "跳闸", "断电", "不亮", "维修"}},
	{"业务办理", []string{"过户", "变更", "改名", "迁移", "销户", "暂停"}},
	{"投诉建议", []string{"投诉", "建议", "意见", "不满", "差评", "态度"}},
}

// ClassifierConfig configures the OpenAI-compatible classifier
type ClassifierConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// classifierRepo classifies messages with a chat completion model
type classifierRepo struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewClassifierRepo creates the model-backed classifier
func NewClassifierRepo(cfg ClassifierConfig, logger *zap.Logger) repo.ClassifierRepo {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "moonshot-v1-8k"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &classifierRepo{
		client:  openai.NewClientWithConfig(config),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		logger:  logger.Named("classifier"),
	}
}

func classifierPrompt() string {
	names := make([]string, 0, len(categoryKeywords)+1)
	for _, c := range categoryKeywords {
		names = append(names, c.Category)
	}
	names = append(names, CategoryOther)
	return fmt.Sprintf(`You classify messages from power-utility customer service group chats.

Categories: %s

Reply with a JSON object only: {"category": "<one category>", "confidence": <0.0-1.0>}`, strings.Join(names, ", "))
}

// Classify asks the model for a category and confidence
func (r *classifierRepo) Classify(ctx context.Context, content string) (string, float64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: classifierPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: content},
		},
		Temperature: 0.1,
		MaxTokens:   60,
	})
	if err != nil {
		return "", 0, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", 0, fmt.Errorf("no response choices")
	}

	category, confidence, err := parseClassification(resp.Choices[0].Message.Content)
	if err != nil {
		return "", 0, err
	}
	r.logger.Debug("classified", zap.String("category", category), zap.Float64("confidence", confidence))
	return category, confidence, nil
}

// parseClassification reads the model's JSON answer, tolerating code fences around it
func parseClassification(answer string) (string, float64, error) {
	answer = strings.TrimSpace(answer)
	if i := strings.Index(answer, "{"); i >= 0 {
		if j := strings.LastIndex(answer, "}"); j > i {
			answer = answer[i : j+1]
		}
	}
	var parsed struct {
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(answer), &parsed); err != nil {
		return "", 0, fmt.Errorf("failed to parse classification %q: %w", answer, err)
	}
	if parsed.Category == "" {
		return "", 0, fmt.Errorf("classification has no category")
	}
	return parsed.Category, min(max(parsed.Confidence, 0), 1), nil
}

// keywordClassifierRepo scores categories by the share of their indicator words present
type keywordClassifierRepo struct{}

// NewKeywordClassifierRepo creates the offline classifier
func NewKeywordClassifierRepo() repo.ClassifierRepo {
	return keywordClassifierRepo{}
}

// Classify picks the category with the highest indicator-word score
func (keywordClassifierRepo) Classify(_ context.Context, content string) (string, float64, error) {
	best, bestScore := CategoryOther, 0.0
	for _, c := range categoryKeywords {
		matched := 0
		for _, w := range c.Words {
			if strings.Contains(content, w) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		if score := float64(matched) / float64(len(c.Words)); score > bestScore {
			best, bestScore = c.Category, score
		}
	}
	if bestScore == 0 {
		return CategoryOther, 1.0, nil
	}
	return best, bestScore, nil
}
