package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Search    SearchConfig    `yaml:"search" mapstructure:"search"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Validate  ValidateConfig  `yaml:"validate" mapstructure:"validate"`
	Rank      RankConfig      `yaml:"rank" mapstructure:"rank"`
	Query     QueryConfig     `yaml:"query" mapstructure:"query"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// SearchConfig holds Google Programmable Search settings.
type SearchConfig struct {
	Key      string `yaml:"key" mapstructure:"key"`
	EngineID string `yaml:"engine_id" mapstructure:"engine_id"`
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
	Retries  int    `yaml:"retries" mapstructure:"retries"`
}

// AnthropicConfig holds completion service settings.
type AnthropicConfig struct {
	Key            string `yaml:"key" mapstructure:"key"`
	RelevanceModel string `yaml:"relevance_model" mapstructure:"relevance_model"`
	VerifyModel    string `yaml:"verify_model" mapstructure:"verify_model"`
	TargetLength   int    `yaml:"target_length" mapstructure:"target_length"`
}

// ScoreBand is an inclusive score range for one classification outcome.
type ScoreBand struct {
	Low  int `yaml:"low" mapstructure:"low"`
	High int `yaml:"high" mapstructure:"high"`
}

// BandsConfig holds the score bands per barrier kind. Band boundaries are
// product tuning constants, not fixed law.
type BandsConfig struct {
	Soft404    ScoreBand `yaml:"soft404" mapstructure:"soft404"`
	Paywall    ScoreBand `yaml:"paywall" mapstructure:"paywall"`
	Login      ScoreBand `yaml:"login" mapstructure:"login"`
	Preview    ScoreBand `yaml:"preview" mapstructure:"preview"`
	Accessible ScoreBand `yaml:"accessible" mapstructure:"accessible"`
	// MismatchCap is the exclusive upper bound applied when content does
	// not match the expected work, regardless of apparent accessibility.
	MismatchCap int `yaml:"mismatch_cap" mapstructure:"mismatch_cap"`
}

// ValidateConfig configures the URL validation engine.
type ValidateConfig struct {
	TimeoutSecs   int         `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRedirects  int         `yaml:"max_redirects" mapstructure:"max_redirects"`
	MaxBodyBytes  int         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	MaxConcurrent int         `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	MatchCutoff   float64     `yaml:"match_cutoff" mapstructure:"match_cutoff"`
	Bands         BandsConfig `yaml:"bands" mapstructure:"bands"`
}

// RankConfig configures candidate selection thresholds.
type RankConfig struct {
	PrimaryThreshold   int `yaml:"primary_threshold" mapstructure:"primary_threshold"`
	SecondaryThreshold int `yaml:"secondary_threshold" mapstructure:"secondary_threshold"`
	FormatBonus        int `yaml:"format_bonus" mapstructure:"format_bonus"`
	KeywordBonusMax    int `yaml:"keyword_bonus_max" mapstructure:"keyword_bonus_max"`
}

// QueryConfig configures search query generation.
type QueryConfig struct {
	Total   int `yaml:"total" mapstructure:"total"`
	Primary int `yaml:"primary" mapstructure:"primary"`
}

// ServerConfig configures the review API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("REFCANVAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "refcanvas.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("search.base_url", "https://www.googleapis.com/customsearch/v1")
	v.SetDefault("search.retries", 3)
	v.SetDefault("anthropic.relevance_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.verify_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.target_length", 280)
	v.SetDefault("validate.timeout_secs", 10)
	v.SetDefault("validate.max_redirects", 5)
	v.SetDefault("validate.max_body_bytes", 100_000)
	v.SetDefault("validate.max_concurrent", 5)
	v.SetDefault("validate.match_cutoff", 0.5)
	v.SetDefault("validate.bands.soft404", map[string]any{"low": 0, "high": 5})
	v.SetDefault("validate.bands.paywall", map[string]any{"low": 45, "high": 55})
	v.SetDefault("validate.bands.login", map[string]any{"low": 55, "high": 65})
	v.SetDefault("validate.bands.preview", map[string]any{"low": 35, "high": 45})
	v.SetDefault("validate.bands.accessible", map[string]any{"low": 90, "high": 100})
	v.SetDefault("validate.bands.mismatch_cap", 60)
	v.SetDefault("rank.primary_threshold", 75)
	v.SetDefault("rank.secondary_threshold", 60)
	v.SetDefault("rank.format_bonus", 10)
	v.SetDefault("rank.keyword_bonus_max", 10)
	v.SetDefault("query.total", 8)
	v.SetDefault("query.primary", 4)

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

	return &cfg, nil
}

// Dump renders the effective configuration as YAML with secrets masked.
func (c *Config) Dump() (string, error) {
	masked := *c
	if masked.Search.Key != "" {
		masked.Search.Key = "***"
	}
	if masked.Anthropic.Key != "" {
		masked.Anthropic.Key = "***"
	}
	out, err := yaml.Marshal(&masked)
	if err != nil {
		return "", eris.Wrap(err, "config: marshal yaml")
	}
	return string(out), nil
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
