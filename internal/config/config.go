// Package config loads scout configuration from file and environment and
// initializes the global logger.
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Score     ScoreConfig     `yaml:"score" mapstructure:"score"`
	Circuit   CircuitConfig   `yaml:"circuit" mapstructure:"circuit"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Notion    NotionConfig    `yaml:"notion" mapstructure:"notion"`
	Serve     ServeConfig     `yaml:"serve" mapstructure:"serve"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// AnthropicConfig holds Anthropic API settings. An empty key disables the
// AI scoring path; every evaluation then uses the keyword fallback.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// Enabled reports whether AI scoring credentials are present.
func (c AnthropicConfig) Enabled() bool {
	return strings.TrimSpace(c.Key) != ""
}

// FetchConfig configures the concurrent content fetcher.
type FetchConfig struct {
	MaxConcurrent   int           `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	Timeout         time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxRetries      int           `yaml:"max_retries" mapstructure:"max_retries"`
	MaxContentBytes int64         `yaml:"max_content_bytes" mapstructure:"max_content_bytes"`
	MaxContentChars int           `yaml:"max_content_chars" mapstructure:"max_content_chars"`
	DrainTimeout    time.Duration `yaml:"drain_timeout" mapstructure:"drain_timeout"`
	PerHostRPS      float64       `yaml:"per_host_rps" mapstructure:"per_host_rps"`
	UserAgent       string        `yaml:"user_agent" mapstructure:"user_agent"`
}

// RetryConfig holds the shared backoff schedule for fetch and AI calls.
type RetryConfig struct {
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// ScoreConfig configures the scoring engine.
type ScoreConfig struct {
	Multiplier             float64 `yaml:"multiplier" mapstructure:"multiplier"`
	TagFloor               float64 `yaml:"tag_floor" mapstructure:"tag_floor"`
	MaxConcurrent          int     `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	AIMaxConcurrent        int     `yaml:"ai_max_concurrent" mapstructure:"ai_max_concurrent"`
	RulesPath              string  `yaml:"rules_path" mapstructure:"rules_path"`
	PromptContentChars     int     `yaml:"prompt_content_chars" mapstructure:"prompt_content_chars"`
	PromptDescriptionChars int     `yaml:"prompt_description_chars" mapstructure:"prompt_description_chars"`
}

// CircuitConfig configures the breaker protecting the AI scorer.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// CacheConfig configures the content cache.
type CacheConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// NotionConfig holds the optional Notion results-export settings.
type NotionConfig struct {
	Token     string `yaml:"token" mapstructure:"token"`
	ResultsDB string `yaml:"results_db" mapstructure:"results_db"`
	TopN      int    `yaml:"top_n" mapstructure:"top_n"`
}

// ServeConfig configures the HTTP API.
type ServeConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// Load reads configuration from .env, config file, and environment.
func Load() (*Config, error) {
	// Best-effort .env load so SCOUT_* vars in a local .env are visible
	// to viper's AutomaticEnv. Missing file is fine.
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Env-only keys get an explicit empty default so AutomaticEnv
	// can fill them at Unmarshal time.
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-3-haiku-20240307")
	v.SetDefault("anthropic.max_tokens", 500)
	v.SetDefault("fetch.max_concurrent", 20)
	v.SetDefault("fetch.timeout", "10s")
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.max_content_bytes", 524288)
	v.SetDefault("fetch.max_content_chars", 3000)
	v.SetDefault("fetch.drain_timeout", "10s")
	v.SetDefault("fetch.per_host_rps", 2)
	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (compatible; ScoutBot/1.0)")
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("score.multiplier", 2.5)
	v.SetDefault("score.tag_floor", 0)
	v.SetDefault("score.max_concurrent", 25)
	v.SetDefault("score.ai_max_concurrent", 10)
	v.SetDefault("score.rules_path", "")
	v.SetDefault("score.prompt_content_chars", 2000)
	v.SetDefault("score.prompt_description_chars", 500)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 60)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "scout.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("notion.token", "")
	v.SetDefault("notion.results_db", "")
	v.SetDefault("notion.top_n", 25)
	v.SetDefault("serve.port", 8080)
	v.SetDefault("serve.cors_origins", []string{"*"})

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations that would misbehave mid-run. Called by
// Load and again by the pipeline before dispatch.
func (c *Config) Validate() error {
	var errs []string

	if c.Fetch.MaxConcurrent <= 0 {
		errs = append(errs, "fetch.max_concurrent must be positive")
	}
	if c.Fetch.Timeout <= 0 {
		errs = append(errs, "fetch.timeout must be positive")
	}
	if c.Fetch.MaxRetries < 0 {
		errs = append(errs, "fetch.max_retries must not be negative")
	}
	if c.Fetch.MaxContentBytes <= 0 {
		errs = append(errs, "fetch.max_content_bytes must be positive")
	}
	if c.Fetch.MaxContentChars <= 0 {
		errs = append(errs, "fetch.max_content_chars must be positive")
	}
	if c.Score.Multiplier <= 0 {
		errs = append(errs, "score.multiplier must be positive")
	}
	if c.Score.MaxConcurrent <= 0 {
		errs = append(errs, "score.max_concurrent must be positive")
	}
	if c.Score.AIMaxConcurrent <= 0 {
		errs = append(errs, "score.ai_max_concurrent must be positive")
	}
	if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
		errs = append(errs, "store.driver must be sqlite or postgres")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
