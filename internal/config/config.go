// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	Driver     string `yaml:"driver"` // postgres|sqlite
	URL        string `yaml:"url"`
	SQLitePath string `yaml:"sqlite_path"`
	MaxConns   int    `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
	Channel  string        `yaml:"channel"`
}

type AIConfig struct {
	GeminiKey       string            `yaml:"gemini_key"`
	GeminiURL       string            `yaml:"gemini_url"`
	OpenAIKey       string            `yaml:"openai_key"`
	OpenAIBaseURL   string            `yaml:"openai_base_url"`
	AnthropicKey    string            `yaml:"anthropic_key"`
	AnthropicURL    string            `yaml:"anthropic_base_url"`
	DefaultProvider string            `yaml:"default_provider"` // gemini|openai|anthropic|noop
	DefaultModel    string            `yaml:"default_model"`
	ModelProviders  map[string]string `yaml:"model_providers"` // model -> provider
	MaxOutputTokens int               `yaml:"max_output_tokens"`
	ConcurrentLimit int               `yaml:"concurrent_limit"` // max concurrent AI calls
	AllowAnyModel   bool              `yaml:"allow_any_model"`
}

type AgentConfig struct {
	MaxHistoryPairs    int    `yaml:"max_history_pairs"`
	HistoryTokenBudget int    `yaml:"history_token_budget"`
	TraceCapacity      int    `yaml:"trace_capacity"`
	SystemPrompt       string `yaml:"system_prompt"`
}

type WorkerConfig struct {
	Concurrency  int           `yaml:"concurrency"`
	JobTimeout   time.Duration `yaml:"job_timeout"`
	ReclaimAfter time.Duration `yaml:"reclaim_after"`
	ReclaimCron  string        `yaml:"reclaim_cron"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type StorageConfig struct {
	PublicBaseURL       string        `yaml:"public_base_url"`
	CacheMaxBytes       int64         `yaml:"cache_max_bytes"`
	DownloadConcurrency int           `yaml:"download_concurrency"`
	DownloadTimeout     time.Duration `yaml:"download_timeout"`
	UploadTTL           time.Duration `yaml:"upload_ttl"`
}

type RenderConfig struct {
	PdftoppmPath string `yaml:"pdftoppm_path"`
	MaxPixels    int    `yaml:"max_pixels"`
}

type HTTPConfig struct {
	Port            int           `yaml:"port"`
	JWTSecret       string        `yaml:"jwt_secret"`
	TokenTTL        time.Duration `yaml:"token_ttl"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	SubmitRateLimit int           `yaml:"submit_rate_limit"` // per client per minute; 0 disables
}

type NotifyConfig struct {
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID int64  `yaml:"telegram_chat_id"`
	FailuresOnly   bool   `yaml:"failures_only"`
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	AI       AIConfig       `yaml:"ai"`
	Agent    AgentConfig    `yaml:"agent"`
	Worker   WorkerConfig   `yaml:"worker"`
	Storage  StorageConfig  `yaml:"storage"`
	Render   RenderConfig   `yaml:"render"`
	HTTP     HTTPConfig     `yaml:"http"`
	Notify   NotifyConfig   `yaml:"notify"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path. ${VAR} references are expanded from
// the environment before parsing.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return cfg, nil
}

// Parse decodes, defaults and validates a config document.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "docqa.db"
	}

	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)
	if cfg.Redis.Channel == "" {
		cfg.Redis.Channel = "docqa:job_updates"
	}

	if cfg.AI.ConcurrentLimit <= 0 {
		cfg.AI.ConcurrentLimit = 16
	}
	if cfg.AI.DefaultProvider == "" {
		cfg.AI.DefaultProvider = "gemini"
	}
	if cfg.AI.DefaultModel == "" {
		cfg.AI.DefaultModel = "gemini-3-flash-preview"
	}
	if cfg.AI.MaxOutputTokens <= 0 {
		cfg.AI.MaxOutputTokens = 8192
	}

	if cfg.Agent.MaxHistoryPairs <= 0 {
		cfg.Agent.MaxHistoryPairs = 5
	}
	if cfg.Agent.HistoryTokenBudget <= 0 {
		cfg.Agent.HistoryTokenBudget = 8000
	}
	if cfg.Agent.TraceCapacity <= 0 {
		cfg.Agent.TraceCapacity = 200
	}

	if cfg.Worker.Concurrency <= 0 {
		cfg.Worker.Concurrency = 5
	}
	if cfg.Worker.JobTimeout <= 0 {
		cfg.Worker.JobTimeout = 300 * time.Second
	}
	if cfg.Worker.ReclaimAfter <= 0 {
		cfg.Worker.ReclaimAfter = 2 * cfg.Worker.JobTimeout
	}
	if cfg.Worker.ReclaimCron == "" {
		cfg.Worker.ReclaimCron = "@every 1m"
	}
	if cfg.Worker.PollInterval <= 0 {
		cfg.Worker.PollInterval = time.Second
	}

	if cfg.Storage.CacheMaxBytes <= 0 {
		cfg.Storage.CacheMaxBytes = 512 << 20
	}
	if cfg.Storage.DownloadConcurrency <= 0 {
		cfg.Storage.DownloadConcurrency = 5
	}
	if cfg.Storage.DownloadTimeout <= 0 {
		cfg.Storage.DownloadTimeout = 60 * time.Second
	}
	if cfg.Storage.UploadTTL <= 0 {
		cfg.Storage.UploadTTL = 47 * time.Hour
	}

	if cfg.Render.PdftoppmPath == "" {
		cfg.Render.PdftoppmPath = "pdftoppm"
	}
	if cfg.Render.MaxPixels <= 0 {
		cfg.Render.MaxPixels = 40_000_000
	}

	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.TokenTTL <= 0 {
		cfg.HTTP.TokenTTL = 24 * time.Hour
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 15 * time.Second
	}
}

func validate(cfg *Config) error {
	switch cfg.Database.Driver {
	case "postgres":
		if cfg.Database.URL == "" {
			return errors.New("database.url is required")
		}
	case "sqlite":
	default:
		return fmt.Errorf("database.driver %q is not supported", cfg.Database.Driver)
	}
	// The noop provider answers locally and needs no key.
	if cfg.AI.DefaultProvider != "noop" && cfg.AI.GeminiKey == "" && cfg.AI.OpenAIKey == "" && cfg.AI.AnthropicKey == "" {
		return errors.New("at least one of ai.gemini_key, ai.openai_key, ai.anthropic_key is required")
	}
	if cfg.Worker.ReclaimAfter <= cfg.Worker.JobTimeout {
		return errors.New("worker.reclaim_after must exceed worker.job_timeout")
	}
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID == 0 {
		return errors.New("notify.telegram_chat_id is required with notify.telegram_token")
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
