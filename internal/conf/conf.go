package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/dianxiaozhu/gridguard/internal/biz"
	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
	"github.com/dianxiaozhu/gridguard/internal/biz/usecase"
)

// Config represents application configuration.
// Values come from an optional YAML file; environment variables override them.
type Config struct {
	// Feishu configuration
	Feishu FeishuConfig `yaml:"feishu"`

	// NLP classifier configuration (optional, falls back to keyword scoring)
	NLP NLPConfig `yaml:"nlp"`

	// Rule engine configuration
	Engine EngineConfig `yaml:"engine"`

	// Storage configuration
	Storage StorageConfig `yaml:"storage"`

	// Operator HTTP API configuration
	Server ServerConfig `yaml:"server"`

	// Scheduled jobs configuration
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// RulesPath is the YAML rule set loaded by seed
	RulesPath string `yaml:"rules_path" env:"RULES_PATH" env-default:""`

	// LogLevel is debug, info, warn or error
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
}

// FeishuConfig contains Feishu configuration
type FeishuConfig struct {
	AppID     string `yaml:"app_id" env:"FEISHU_APP_ID" env-default:""`
	AppSecret string `yaml:"-" env:"FEISHU_APP_SECRET"` // Secret - not in YAML

	// ForwardDestination is the supervisor chat for forward actions without a destination
	ForwardDestination string `yaml:"forward_destination" env:"FEISHU_FORWARD_DESTINATION" env-default:""`

	// GridAreasStr maps chats to grid areas. Format: "oc_xxx=A1,oc_yyy=B2"
	GridAreasStr string `yaml:"grid_areas" env:"FEISHU_GRID_AREAS" env-default:""`

	// GridAreas is parsed from GridAreasStr
	GridAreas map[string]string `yaml:"-"`

	// SourceType is the source assigned to messages received over Feishu
	SourceType string `yaml:"source_type" env:"FEISHU_SOURCE_TYPE" env-default:"server"`

	// DedupWindow drops redelivered message ids seen within the window
	DedupWindow time.Duration `yaml:"dedup_window" env:"FEISHU_DEDUP_WINDOW" env-default:"5m"`

	// MemberRefresh bounds how often a chat's member list is reloaded for unknown senders
	MemberRefresh time.Duration `yaml:"member_refresh" env:"FEISHU_MEMBER_REFRESH" env-default:"10m"`
}

// Enabled reports whether Feishu credentials are configured
func (c *FeishuConfig) Enabled() bool {
	return c.AppID != "" && c.AppSecret != ""
}

// NLPConfig contains the OpenAI-compatible classifier configuration
type NLPConfig struct {
	APIKey        string        `yaml:"-" env:"NLP_API_KEY"` // Secret - not in YAML
	BaseURL       string        `yaml:"base_url" env:"NLP_BASE_URL" env-default:"https://api.moonshot.cn/v1"`
	Model         string        `yaml:"model" env:"NLP_MODEL" env-default:"moonshot-v1-8k"`
	Timeout       time.Duration `yaml:"timeout" env:"NLP_TIMEOUT" env-default:"10s"`
	MinConfidence float64       `yaml:"min_confidence" env:"NLP_MIN_CONFIDENCE" env-default:"0.6"`
	WaitBudget    time.Duration `yaml:"wait_budget" env:"NLP_WAIT_BUDGET" env-default:"2s"`
	PollInterval  time.Duration `yaml:"poll_interval" env:"NLP_POLL_INTERVAL" env-default:"100ms"`
}

// EngineConfig contains rule engine configuration
type EngineConfig struct {
	ChainName                string        `yaml:"chain_name" env:"ENGINE_CHAIN_NAME" env-default:""`
	Workers                  int           `yaml:"workers" env:"ENGINE_WORKERS" env-default:"4"`
	QueueSize                int           `yaml:"queue_size" env:"ENGINE_QUEUE_SIZE" env-default:"256"`
	RuleCacheTTL             time.Duration `yaml:"rule_cache_ttl" env:"ENGINE_RULE_CACHE_TTL" env-default:"5m"`
	DefaultTakeoverThreshold int           `yaml:"default_takeover_threshold" env:"ENGINE_TAKEOVER_THRESHOLD" env-default:"3"`
	AttentionThreshold       int           `yaml:"attention_threshold" env:"ENGINE_ATTENTION_THRESHOLD" env-default:"5"`
	FuzzyMatch               bool          `yaml:"fuzzy_match" env:"ENGINE_FUZZY_MATCH" env-default:"false"`
	FuzzySimilarity          float64       `yaml:"fuzzy_similarity" env:"ENGINE_FUZZY_SIMILARITY" env-default:"0.8"`
	ResetStatusOnDailyReset  bool          `yaml:"reset_status_on_daily_reset" env:"RESET_STATUS_ON_DAILY_RESET" env-default:"true"`
	LogBufferSize            int           `yaml:"log_buffer_size" env:"ENGINE_LOG_BUFFER_SIZE" env-default:"1000"`
	LogAppendTimeout         time.Duration `yaml:"log_append_timeout" env:"ENGINE_LOG_APPEND_TIMEOUT" env-default:"500ms"`
}

// StorageConfig contains storage configuration
type StorageConfig struct {
	DBPath             string `yaml:"db_path" env:"DB_PATH" env-default:""`
	LogRetentionDays   int    `yaml:"log_retention_days" env:"LOG_RETENTION_DAYS" env-default:"30"`
	StatsRetentionDays int    `yaml:"stats_retention_days" env:"STATS_RETENTION_DAYS" env-default:"365"`
}

// ServerConfig contains operator API configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" env:"HTTP_ADDR" env-default:":8080"`

	// APIURL is where the MCP tools reach a running server
	APIURL string `yaml:"api_url" env:"GRIDGUARD_API_URL" env-default:"http://127.0.0.1:8080"`
}

// SchedulerConfig contains scheduled job configuration
type SchedulerConfig struct {
	DailyResetTime string        `yaml:"daily_reset_time" env:"DAILY_RESET_TIME" env-default:"00:00"`
	FlushInterval  time.Duration `yaml:"flush_interval" env:"FLUSH_INTERVAL" env-default:"30s"`
}

// Load reads configuration from the YAML file (if given) with environment overrides
func Load(path string) (*Config, error) {
	cfg := &Config{}
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, cfg)
	} else {
		err = cleanenv.ReadEnv(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	gridAreas, err := parseGridAreas(cfg.Feishu.GridAreasStr)
	if err != nil {
		return nil, err
	}
	cfg.Feishu.GridAreas = gridAreas

	if cfg.Storage.DBPath == "" {
		homeDir, _ := os.UserHomeDir()
		cfg.Storage.DBPath = filepath.Join(homeDir, ".gridguard", "gridguard.db")
	}
	return cfg, nil
}

// parseGridAreas parses "chat=area,chat=area"
func parseGridAreas(s string) (map[string]string, error) {
	areas := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		chat, area, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(chat) == "" || strings.TrimSpace(area) == "" {
			return nil, &ConfigError{Field: "FEISHU_GRID_AREAS", Message: fmt.Sprintf("invalid entry %q", pair)}
		}
		areas[strings.TrimSpace(chat)] = strings.TrimSpace(area)
	}
	return areas, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Engine.Workers < 1 {
		return &ConfigError{Field: "ENGINE_WORKERS", Message: "must be at least 1"}
	}
	if c.Engine.DefaultTakeoverThreshold < 1 {
		return &ConfigError{Field: "ENGINE_TAKEOVER_THRESHOLD", Message: "must be at least 1"}
	}
	if c.NLP.MinConfidence < 0 || c.NLP.MinConfidence > 1 {
		return &ConfigError{Field: "NLP_MIN_CONFIDENCE", Message: "must be between 0 and 1"}
	}
	if c.Engine.FuzzySimilarity <= 0 || c.Engine.FuzzySimilarity > 1 {
		return &ConfigError{Field: "ENGINE_FUZZY_SIMILARITY", Message: "must be in (0, 1]"}
	}
	if _, err := c.Scheduler.ResetClock(); err != nil {
		return &ConfigError{Field: "DAILY_RESET_TIME", Message: err.Error()}
	}
	switch domain.SourceType(c.Feishu.SourceType) {
	case domain.SourceServer, domain.SourceClient:
	default:
		return &ConfigError{Field: "FEISHU_SOURCE_TYPE", Message: "must be server or client"}
	}
	return nil
}

// ValidateFeishu checks the settings the Feishu listener needs
func (c *Config) ValidateFeishu() error {
	if !c.Feishu.Enabled() {
		return &ConfigError{Field: "FEISHU_APP_ID/FEISHU_APP_SECRET", Message: "required"}
	}
	return nil
}

// ResetClock returns the daily reset time as minutes since midnight
func (c *SchedulerConfig) ResetClock() (int, error) {
	start, _, err := domain.ParseClockRange(c.DailyResetTime + "-" + c.DailyResetTime)
	return start, err
}

// ToBizOptions converts to usecase options
func (c *Config) ToBizOptions() biz.Options {
	return biz.Options{
		Engine: usecase.EngineConfig{
			ChainName: c.Engine.ChainName,
		},
		Signals: usecase.SignalConfig{
			FuzzyMatch:      c.Engine.FuzzyMatch,
			FuzzySimilarity: c.Engine.FuzzySimilarity,
			NlpWaitBudget:   c.NLP.WaitBudget,
			NlpPollInterval: c.NLP.PollInterval,
		},
		Conditions: usecase.ConditionConfig{
			NlpMinConfidence: c.NLP.MinConfidence,
		},
		Tracker: usecase.TrackerConfig{
			DefaultThreshold:   c.Engine.DefaultTakeoverThreshold,
			AttentionThreshold: c.Engine.AttentionThreshold,
			ResetStatusOnDaily: c.Engine.ResetStatusOnDailyReset,
		},
		RuleCacheTTL:       c.Engine.RuleCacheTTL,
		LogBufferSize:      c.Engine.LogBufferSize,
		LogAppendTimeout:   c.Engine.LogAppendTimeout,
		ForwardDestination: c.Feishu.ForwardDestination,
	}
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
