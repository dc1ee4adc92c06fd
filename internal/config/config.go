// Package config loads the run configuration from env files, an optional YAML
// file and environment variables. The result is an explicit struct built once
// in main and handed to each component.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"qabatch/internal/core/domain"
)

// EnvPrefix is the prefix for environment overrides, e.g. QABATCH_OUTPUT_DIR.
const EnvPrefix = "QABATCH"

// DefaultEnvFiles are loaded, when present, before the environment is read.
var DefaultEnvFiles = []string{"config.env", ".env"}

// Config holds all runtime settings.
type Config struct {
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Images    ImagesConfig    `mapstructure:"images"`
	Prompt    PromptConfig    `mapstructure:"prompt"`
	Output    OutputConfig    `mapstructure:"output"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Pacing    PacingConfig    `mapstructure:"pacing"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// OpenAIConfig describes the generative service endpoint.
type OpenAIConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	Model     string        `mapstructure:"model"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
	System    string        `mapstructure:"system"`
}

// CatalogConfig points at the work catalog file.
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// ImagesConfig controls reference resolution.
type ImagesConfig struct {
	Dir       string `mapstructure:"dir"`
	BaseURL   string `mapstructure:"base_url"`
	MaxImages int    `mapstructure:"max_images"`
}

// PromptConfig feeds the prompt template and the output-count check.
type PromptConfig struct {
	Domain     string `mapstructure:"domain"`
	Subdomain  string `mapstructure:"subdomain"`
	AudioCount int    `mapstructure:"audio_count"` // 0 lets the model choose
}

// OutputConfig locates the two append-only stores.
type OutputConfig struct {
	Dir         string `mapstructure:"dir"`
	SuccessFile string `mapstructure:"success_file"`
	FailureFile string `mapstructure:"failure_file"`
}

// RetryConfig is the generation retry policy.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// PacingConfig is the delay between items, in whole seconds.
type PacingConfig struct {
	DelaySeconds int `mapstructure:"delay_seconds"`
}

// Delay returns the pacing delay as a duration.
func (p PacingConfig) Delay() time.Duration {
	return time.Duration(p.DelaySeconds) * time.Second
}

// LogConfig configures pkg/logger.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// TelemetryConfig configures OTLP export. An empty endpoint disables it.
type TelemetryConfig struct {
	Endpoint       string        `mapstructure:"endpoint"`
	ServiceName    string        `mapstructure:"service_name"`
	Insecure       bool          `mapstructure:"insecure"`
	ExportInterval time.Duration `mapstructure:"export_interval"`
}

// Load reads env files, the optional YAML file at path and the environment,
// then validates the result. Every failure is a configuration error.
func Load(path string) (*Config, error) {
	if err := loadEnvFiles(DefaultEnvFiles...); err != nil {
		return nil, domain.ConfigurationError("failed to load env file: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvVars(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, domain.ConfigurationError("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, domain.ConfigurationError("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEnvFiles loads each existing file; missing files are skipped.
// Variables already set in the process environment win.
func loadEnvFiles(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("%s: %w", f, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4o")
	v.SetDefault("openai.max_tokens", 5000)
	v.SetDefault("openai.timeout", 2*time.Minute)
	v.SetDefault("openai.system", "You are a multimodal expert. Generate structured JSON data for multimodal question-answer pairs. Always respond with properly formatted, multi-line JSON that is easy to read.")

	v.SetDefault("catalog.path", "original_data/original_data.json")

	v.SetDefault("images.dir", "original_data/image")
	v.SetDefault("images.base_url", "https://raw.githubusercontent.com/liyanlin06/any2any_data/main/general_area/food/image")
	v.SetDefault("images.max_images", 4)

	v.SetDefault("prompt.domain", "general_domain")
	v.SetDefault("prompt.subdomain", "food")
	v.SetDefault("prompt.audio_count", 2)

	v.SetDefault("output.dir", "generated_qa_data")
	v.SetDefault("output.success_file", "batch_qa_results.jsonl")
	v.SetDefault("output.failure_file", "error_log.txt")

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", time.Second)
	v.SetDefault("retry.max_delay", 30*time.Second)

	v.SetDefault("pacing.delay_seconds", 2)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.service_name", "qabatch")
	v.SetDefault("telemetry.insecure", false)
	v.SetDefault("telemetry.export_interval", 10*time.Second)
}

// bindEnvVars maps the conventional unprefixed variables.
func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("openai.api_key", EnvPrefix+"_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("openai.base_url", EnvPrefix+"_OPENAI_BASE_URL", "OPENAI_BASE_URL")
	_ = v.BindEnv("telemetry.endpoint", EnvPrefix+"_TELEMETRY_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
	_ = v.BindEnv("telemetry.service_name", EnvPrefix+"_TELEMETRY_SERVICE_NAME", "OTEL_SERVICE_NAME")
}

// Validate checks required values and ranges.
func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return domain.ConfigurationError("OPENAI_API_KEY is required")
	}
	if c.OpenAI.Model == "" {
		return domain.ConfigurationError("openai.model is required")
	}
	if c.OpenAI.MaxTokens < 1 {
		return domain.ConfigurationError("openai.max_tokens must be at least 1")
	}
	if c.Catalog.Path == "" {
		return domain.ConfigurationError("catalog.path is required")
	}
	if c.Images.BaseURL == "" {
		return domain.ConfigurationError("images.base_url is required")
	}
	if c.Images.MaxImages < 1 {
		return domain.ConfigurationError("images.max_images must be at least 1")
	}
	if c.Prompt.AudioCount < 0 {
		return domain.ConfigurationError("prompt.audio_count must be non-negative")
	}
	if c.Output.Dir == "" || c.Output.SuccessFile == "" || c.Output.FailureFile == "" {
		return domain.ConfigurationError("output.dir, output.success_file and output.failure_file are required")
	}
	if c.Output.SuccessFile == c.Output.FailureFile {
		return domain.ConfigurationError("output.success_file and output.failure_file must differ")
	}
	if c.Retry.MaxAttempts < 1 {
		return domain.ConfigurationError("retry.max_attempts must be at least 1")
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		return domain.ConfigurationError("retry delays must be non-negative")
	}
	if c.Pacing.DelaySeconds < 0 {
		return domain.ConfigurationError("pacing.delay_seconds must be non-negative")
	}
	return nil
}

// Redacted returns a copy safe to log: the API key is masked.
func (c Config) Redacted() Config {
	if c.OpenAI.APIKey != "" {
		c.OpenAI.APIKey = "***"
	}
	return c
}
