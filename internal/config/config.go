package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/agents"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/cost"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/llm"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/pipeline"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/server"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/tracking"
)

// Mode names the command a configuration is validated for.
type Mode string

const (
	ModeServe Mode = "serve"
	ModeRun   Mode = "run"
	// ModeStore needs only the database.
	ModeStore Mode = "store"
)

// Provider names accepted by llm.provider.
const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	LLM       LLMConfig       `yaml:"llm" mapstructure:"llm"`
	Anthropic ModelConfig     `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini    ModelConfig     `yaml:"gemini" mapstructure:"gemini"`
	Jina      JinaConfig      `yaml:"jina" mapstructure:"jina"`
	Knowledge KnowledgeConfig `yaml:"knowledge" mapstructure:"knowledge"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Stages    StagesConfig    `yaml:"stages" mapstructure:"stages"`
	Scoring   ScoringConfig   `yaml:"scoring" mapstructure:"scoring"`
	Pricing   PricingConfig   `yaml:"pricing" mapstructure:"pricing"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LLMConfig configures the model adapter.
type LLMConfig struct {
	Provider             string        `yaml:"provider" mapstructure:"provider"`
	RatePerSec           float64       `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst                int           `yaml:"burst" mapstructure:"burst"`
	TruncationMultiplier float64       `yaml:"truncation_multiplier" mapstructure:"truncation_multiplier"`
	MaxOutputCeiling     int64         `yaml:"max_output_ceiling" mapstructure:"max_output_ceiling"`
	BackstopSlack        time.Duration `yaml:"backstop_slack" mapstructure:"backstop_slack"`
}

// ModelConfig holds one provider's credentials and model names.
type ModelConfig struct {
	Key          string `yaml:"key" mapstructure:"key"`
	Model        string `yaml:"model" mapstructure:"model"`
	ScoringModel string `yaml:"scoring_model" mapstructure:"scoring_model"`
}

// JinaConfig holds Jina Reader settings.
type JinaConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// KnowledgeConfig configures the knowledge search endpoint. An empty
// base_url disables retrieval.
type KnowledgeConfig struct {
	BaseURL    string  `yaml:"base_url" mapstructure:"base_url"`
	Key        string  `yaml:"key" mapstructure:"key"`
	MatchCount int     `yaml:"match_count" mapstructure:"match_count"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// PipelineConfig configures session budgets and the zombie sweep.
type PipelineConfig struct {
	Timeout              time.Duration `yaml:"timeout" mapstructure:"timeout"`
	GracePeriod          time.Duration `yaml:"grace_period" mapstructure:"grace_period"`
	ComposerReserve      time.Duration `yaml:"composer_reserve" mapstructure:"composer_reserve"`
	ComposerSafetyMargin time.Duration `yaml:"composer_safety_margin" mapstructure:"composer_safety_margin"`
	ComposerMaxBudget    time.Duration `yaml:"composer_max_budget" mapstructure:"composer_max_budget"`
	ComposerMinBudget    time.Duration `yaml:"composer_min_budget" mapstructure:"composer_min_budget"`
	ZombieAfter          time.Duration `yaml:"zombie_after" mapstructure:"zombie_after"`
	SweepInterval        time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
}

// StagesConfig holds per-stage call settings.
type StagesConfig struct {
	Timeouts        agents.Timeouts `yaml:"timeouts" mapstructure:"timeouts"`
	MaxOutputTokens int64           `yaml:"max_output_tokens" mapstructure:"max_output_tokens"`
}

// ScoringConfig configures score post-processing.
type ScoringConfig struct {
	BiasCorrection float64 `yaml:"bias_correction" mapstructure:"bias_correction"`
}

// PricingConfig holds per-model rates. Models is a list because model
// names contain dots, which viper treats as key separators.
type PricingConfig struct {
	Models []ModelPricing `yaml:"models" mapstructure:"models"`
	Jina   cost.JinaRate  `yaml:"jina" mapstructure:"jina"`
}

// ModelPricing holds one model's token pricing (USD per million tokens).
type ModelPricing struct {
	Name          string  `yaml:"name" mapstructure:"name"`
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
	SearchPerCall float64 `yaml:"search_per_call" mapstructure:"search_per_call"`
}

// BatchConfig configures the batch command.
type BatchConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, eris.Wrap(err, "config: load .env")
		}
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("VALIDATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

func setDefaults(v *viper.Viper) {
	pd := pipeline.DefaultConfig()
	sd := tracking.DefaultSessionsConfig()
	ad := agents.DefaultConfig()
	ld := llm.DefaultConfig()

	// Keys need a default for AutomaticEnv to reach them through Unmarshal.
	for _, k := range []string{"store.database_url", "anthropic.key", "gemini.key", "jina.key", "knowledge.base_url", "knowledge.key"} {
		v.SetDefault(k, "")
	}

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)

	v.SetDefault("llm.provider", ProviderAnthropic)
	v.SetDefault("llm.rate_per_sec", 2.0)
	v.SetDefault("llm.burst", 4)
	v.SetDefault("llm.truncation_multiplier", ld.TruncationMultiplier)
	v.SetDefault("llm.max_output_ceiling", ld.MaxOutputCeiling)
	v.SetDefault("llm.backstop_slack", ld.BackstopSlack)

	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.scoring_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("gemini.scoring_model", "gemini-2.5-pro")

	v.SetDefault("jina.base_url", "https://r.jina.ai")

	v.SetDefault("knowledge.match_count", ad.KnowledgeMatches)
	v.SetDefault("knowledge.rate_per_sec", 5.0)

	v.SetDefault("pipeline.timeout", pd.Timeout)
	v.SetDefault("pipeline.grace_period", pd.GracePeriod)
	v.SetDefault("pipeline.composer_reserve", pd.ComposerReserve)
	v.SetDefault("pipeline.composer_safety_margin", pd.ComposerSafetyMargin)
	v.SetDefault("pipeline.composer_max_budget", pd.ComposerMaxBudget)
	v.SetDefault("pipeline.composer_min_budget", pd.ComposerMinBudget)
	v.SetDefault("pipeline.zombie_after", sd.ZombieAfter)
	v.SetDefault("pipeline.sweep_interval", sd.SweepInterval)

	v.SetDefault("stages.timeouts.extractor", ad.Timeouts.Extractor)
	v.SetDefault("stages.timeouts.research", ad.Timeouts.Research)
	v.SetDefault("stages.timeouts.competitor", ad.Timeouts.Competitor)
	v.SetDefault("stages.timeouts.scoring", ad.Timeouts.Scoring)
	v.SetDefault("stages.timeouts.planner", ad.Timeouts.Planner)
	v.SetDefault("stages.max_output_tokens", ad.MaxOutputTokens)

	v.SetDefault("scoring.bias_correction", 0.0)

	v.SetDefault("pricing.jina.per_mtok", 0.02)
	v.SetDefault("pricing.models", []map[string]any{
		{"name": "claude-sonnet-4-5-20250929", "input": 3.00, "output": 15.00, "cache_write_mul": 1.25, "cache_read_mul": 0.1, "search_per_call": 0.01},
		{"name": "gemini-2.5-flash", "input": 0.30, "output": 2.50},
		{"name": "gemini-2.5-pro", "input": 1.25, "output": 10.00},
	})

	v.SetDefault("batch.max_concurrent", 3)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that the settings mode needs are present and coherent.
func (c *Config) Validate(mode Mode) error {
	switch mode {
	case ModeServe, ModeRun, ModeStore:
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	var errs []error

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, eris.New("store.database_url is required for the postgres driver"))
		}
	case "sqlite":
	default:
		errs = append(errs, eris.Errorf("store.driver %q is not supported", c.Store.Driver))
	}

	if mode == ModeServe || mode == ModeRun {
		switch c.LLM.Provider {
		case ProviderAnthropic:
			if c.Anthropic.Key == "" {
				errs = append(errs, eris.New("anthropic.key is required"))
			}
		case ProviderGemini:
			if c.Gemini.Key == "" {
				errs = append(errs, eris.New("gemini.key is required"))
			}
		default:
			errs = append(errs, eris.Errorf("llm.provider %q is not supported", c.LLM.Provider))
		}
		if c.Pipeline.Timeout <= 0 {
			errs = append(errs, eris.New("pipeline.timeout must be positive"))
		}
		// A running session must never look like a zombie to the sweep.
		if c.Pipeline.ZombieAfter <= c.Pipeline.Timeout {
			errs = append(errs, eris.Errorf("pipeline.zombie_after (%s) must exceed pipeline.timeout (%s)",
				c.Pipeline.ZombieAfter, c.Pipeline.Timeout))
		}
	}

	if mode == ModeRun && (c.Batch.MaxConcurrent < 1 || c.Batch.MaxConcurrent > 20) {
		errs = append(errs, eris.Errorf("batch.max_concurrent must be between 1 and 20, got %d", c.Batch.MaxConcurrent))
	}

	if mode == ModeServe && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, eris.Errorf("server.port %d is out of range", c.Server.Port))
	}

	if err := errors.Join(errs...); err != nil {
		return eris.Wrap(err, "config: invalid")
	}
	return nil
}

// Models returns the active provider's generation and scoring models.
func (c *Config) Models() (string, string) {
	m := c.Anthropic
	if c.LLM.Provider == ProviderGemini {
		m = c.Gemini
	}
	return m.Model, m.ScoringModel
}

// PipelineOptions converts the pipeline section.
func (c *Config) PipelineOptions() pipeline.Config {
	return pipeline.Config{
		Timeout:              c.Pipeline.Timeout,
		GracePeriod:          c.Pipeline.GracePeriod,
		ComposerReserve:      c.Pipeline.ComposerReserve,
		ComposerSafetyMargin: c.Pipeline.ComposerSafetyMargin,
		ComposerMaxBudget:    c.Pipeline.ComposerMaxBudget,
		ComposerMinBudget:    c.Pipeline.ComposerMinBudget,
	}
}

// SessionsOptions converts the sweep thresholds.
func (c *Config) SessionsOptions() tracking.SessionsConfig {
	return tracking.SessionsConfig{
		ZombieAfter:   c.Pipeline.ZombieAfter,
		SweepInterval: c.Pipeline.SweepInterval,
	}
}

// AgentsOptions converts the stage settings.
func (c *Config) AgentsOptions() agents.Config {
	model, scoringModel := c.Models()
	return agents.Config{
		Model:            model,
		ScoringModel:     scoringModel,
		Bias:             c.Scoring.BiasCorrection,
		Timeouts:         c.Stages.Timeouts,
		MaxOutputTokens:  c.Stages.MaxOutputTokens,
		KnowledgeMatches: c.Knowledge.MatchCount,
	}
}

// AdapterOptions converts the adapter settings.
func (c *Config) AdapterOptions() llm.Config {
	return llm.Config{
		TruncationMultiplier: c.LLM.TruncationMultiplier,
		MaxOutputCeiling:     c.LLM.MaxOutputCeiling,
		BackstopSlack:        c.LLM.BackstopSlack,
	}
}

// Rates converts the pricing section.
func (c *Config) Rates() cost.Rates {
	r := cost.Rates{Models: make(map[string]cost.ModelRate, len(c.Pricing.Models)), Jina: c.Pricing.Jina}
	for _, m := range c.Pricing.Models {
		r.Models[m.Name] = cost.ModelRate{
			Input:         m.Input,
			Output:        m.Output,
			CacheWriteMul: m.CacheWriteMul,
			CacheReadMul:  m.CacheReadMul,
			SearchPerCall: m.SearchPerCall,
		}
	}
	return r
}

// ServerOptions converts the server section.
func (c *Config) ServerOptions() server.Config {
	return server.Config{Port: c.Server.Port, CORSOrigins: c.Server.CORSOrigins}
}

// InitLogger configures the global zap logger.
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
