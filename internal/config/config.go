// Package config loads o2c settings from defaults, an optional YAML file and
// O2C_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// O2C_STORAGE_PATH for storage.path.
const EnvPrefix = "O2C"

// Config holds all configuration for the o2c binaries.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Workflow   WorkflowConfig   `mapstructure:"workflow"`
	Business   BusinessConfig   `mapstructure:"business"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
}

// ServerConfig holds listen addresses. An empty address disables that
// listener.
type ServerConfig struct {
	GRPCAddr  string `mapstructure:"grpc_addr"`
	HTTPAddr  string `mapstructure:"http_addr"`
	DebugAddr string `mapstructure:"debug_addr"`
}

// StorageConfig selects the database file and driver.
type StorageConfig struct {
	Path   string `mapstructure:"path"`
	Driver string `mapstructure:"driver"` // sqlite3 (cgo) or sqlite (pure Go)
}

// CatalogConfig points at the seed catalog.
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// ClassifierConfig selects and tunes the intent classifier.
type ClassifierConfig struct {
	// Provider is one of rules, llm or anthropic.
	Provider      string          `mapstructure:"provider"`
	Model         string          `mapstructure:"model"`
	Timeout       time.Duration   `mapstructure:"timeout"`
	MinConfidence float64         `mapstructure:"min_confidence"`
	MaxAttempts   int             `mapstructure:"max_attempts"`
	Backoff       time.Duration   `mapstructure:"backoff"`
	HistoryWindow int             `mapstructure:"history_window"`
	OpenAI        OpenAIConfig    `mapstructure:"openai"`
	Anthropic     AnthropicConfig `mapstructure:"anthropic"`
}

// OpenAIConfig holds settings for OpenAI-compatible endpoints.
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// WorkflowConfig bounds request handling and step execution.
type WorkflowConfig struct {
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	AuditTimeout        time.Duration `mapstructure:"audit_timeout"`
	StepTimeout         time.Duration `mapstructure:"step_timeout"`
	MaxAttempts         int           `mapstructure:"max_attempts"`
	BackoffBase         time.Duration `mapstructure:"backoff_base"`
	BackoffMax          time.Duration `mapstructure:"backoff_max"`
	CompensationTimeout time.Duration `mapstructure:"compensation_timeout"`
}

// BusinessConfig holds pricing and fulfilment parameters.
type BusinessConfig struct {
	QuoteValidityDays int     `mapstructure:"quote_validity_days"`
	QuoteLeadDays     int     `mapstructure:"quote_lead_days"`
	SupplierCostRatio float64 `mapstructure:"supplier_cost_ratio"`
}

// JobsConfig tunes the background job dispatcher.
type JobsConfig struct {
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	BatchSize           int           `mapstructure:"batch_size"`
	MaxConcurrency      int64         `mapstructure:"max_concurrency"`
	MaxRetries          int           `mapstructure:"max_retries"`
	JobTimeout          time.Duration `mapstructure:"job_timeout"`
	QuoteExpiryInterval time.Duration `mapstructure:"quote_expiry_interval"`
	StaleJobAfter       time.Duration `mapstructure:"stale_job_after"`
}

// Default returns the built-in configuration with no file or environment
// applied.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return cfg
}

// Load reads configuration. When path is empty it looks for o2c.yaml in
// the working directory and ./configs; a missing file is not an error.
// Precedence (highest to lowest):
// 1. Environment variables (O2C_*, OPENAI_API_KEY, ANTHROPIC_API_KEY)
// 2. Config file
// 3. Built-in defaults
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("o2c")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	return decode(v)
}

// LoadFromPath loads configuration from a specific file, which must exist.
func LoadFromPath(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return Load(path)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Provider keys are also honoured under their conventional names.
	_ = v.BindEnv("classifier.openai.api_key", EnvPrefix+"_CLASSIFIER_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("classifier.anthropic.api_key", EnvPrefix+"_CLASSIFIER_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc_addr", ":50051")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.debug_addr", ":6060")

	v.SetDefault("storage.path", "o2c.db")
	v.SetDefault("storage.driver", "sqlite3")

	v.SetDefault("catalog.path", "configs/catalog.yaml")

	v.SetDefault("classifier.provider", "rules")
	v.SetDefault("classifier.model", "")
	v.SetDefault("classifier.timeout", "10s")
	v.SetDefault("classifier.min_confidence", 0.6)
	v.SetDefault("classifier.max_attempts", 3)
	v.SetDefault("classifier.backoff", "100ms")
	v.SetDefault("classifier.history_window", 6)
	v.SetDefault("classifier.openai.api_key", "")
	v.SetDefault("classifier.openai.base_url", "")
	v.SetDefault("classifier.anthropic.api_key", "")
	v.SetDefault("classifier.anthropic.use_bedrock", false)
	v.SetDefault("classifier.anthropic.aws_region", "")
	v.SetDefault("classifier.anthropic.aws_profile", "")

	v.SetDefault("workflow.request_timeout", "30s")
	v.SetDefault("workflow.audit_timeout", "5s")
	v.SetDefault("workflow.step_timeout", "5s")
	v.SetDefault("workflow.max_attempts", 3)
	v.SetDefault("workflow.backoff_base", "50ms")
	v.SetDefault("workflow.backoff_max", "2s")
	v.SetDefault("workflow.compensation_timeout", "10s")

	v.SetDefault("business.quote_validity_days", 30)
	v.SetDefault("business.quote_lead_days", 5)
	v.SetDefault("business.supplier_cost_ratio", 0.7)

	v.SetDefault("jobs.poll_interval", "1s")
	v.SetDefault("jobs.batch_size", 10)
	v.SetDefault("jobs.max_concurrency", 4)
	v.SetDefault("jobs.max_retries", 3)
	v.SetDefault("jobs.job_timeout", "30s")
	v.SetDefault("jobs.quote_expiry_interval", "1h")
	v.SetDefault("jobs.stale_job_after", "5m")
}

// Validate checks values the rest of the program relies on.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite3", "sqlite":
	default:
		return fmt.Errorf("config: storage.driver must be sqlite3 or sqlite, got %q", c.Storage.Driver)
	}
	if c.Storage.Path == "" {
		return errors.New("config: storage.path is required")
	}
	switch c.Classifier.Provider {
	case "rules", "llm", "anthropic":
	default:
		return fmt.Errorf("config: classifier.provider must be rules, llm or anthropic, got %q", c.Classifier.Provider)
	}
	if c.Classifier.MinConfidence < 0 || c.Classifier.MinConfidence > 1 {
		return fmt.Errorf("config: classifier.min_confidence must be within [0, 1], got %v", c.Classifier.MinConfidence)
	}
	if c.Business.SupplierCostRatio <= 0 || c.Business.SupplierCostRatio > 1 {
		return fmt.Errorf("config: business.supplier_cost_ratio must be within (0, 1], got %v", c.Business.SupplierCostRatio)
	}
	if c.Business.QuoteValidityDays <= 0 {
		return fmt.Errorf("config: business.quote_validity_days must be positive, got %d", c.Business.QuoteValidityDays)
	}
	if c.Business.QuoteLeadDays < 0 {
		return fmt.Errorf("config: business.quote_lead_days must not be negative, got %d", c.Business.QuoteLeadDays)
	}
	return nil
}

// QuoteValidity is the business quote validity as a duration.
func (b BusinessConfig) QuoteValidity() time.Duration {
	return time.Duration(b.QuoteValidityDays) * 24 * time.Hour
}

// QuoteLeadTime is the quoted delivery lead time as a duration.
func (b BusinessConfig) QuoteLeadTime() time.Duration {
	return time.Duration(b.QuoteLeadDays) * 24 * time.Hour
}
