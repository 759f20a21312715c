// Package config loads the proxy configuration from YAML, .env files and
// the process environment, and watches the file for changes.
package config

import (
	"time"

	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/usage"
)

// Provider names a conversational backend.
const (
	ProviderBedrock   = "bedrock"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

const (
	DefaultPort      = 4000
	DefaultHost      = "0.0.0.0"
	DefaultRegion    = "ap-northeast-2"
	DefaultBodyLimit = 2 << 20
)

// Config is the resolved process configuration.
type Config struct {
	Environment string          `yaml:"environment" json:"environment"`
	Provider    string          `yaml:"provider" json:"provider"`
	Server      ServerConfig    `yaml:"server" json:"server"`
	AWS         AWSConfig       `yaml:"aws" json:"aws"`
	Anthropic   APIKeyConfig    `yaml:"anthropic" json:"anthropic"`
	OpenAI      APIKeyConfig    `yaml:"openai" json:"openai"`
	RAG         RAGConfig       `yaml:"rag" json:"rag"`
	Usage       UsageConfig     `yaml:"usage" json:"usage"`
	Log         LogConfig       `yaml:"log" json:"log"`
	Telemetry   TelemetryConfig `yaml:"telemetry" json:"telemetry"`

	SourcePath string `yaml:"-" json:"-"`
}

// ServerConfig drives the HTTP listener.
type ServerConfig struct {
	Host              string        `yaml:"host" json:"host"`
	Port              int           `yaml:"port" json:"port"`
	AllowedOrigins    []string      `yaml:"allowed_origins" json:"allowed_origins"`
	BodyLimitBytes    int64         `yaml:"body_limit_bytes" json:"body_limit_bytes"`
	H2C               bool          `yaml:"h2c" json:"h2c"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" json:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// AWSConfig selects the AWS region and shared-config profile.
type AWSConfig struct {
	Region  string `yaml:"region" json:"region"`
	Profile string `yaml:"profile" json:"profile"`
}

// APIKeyConfig configures a hosted model API.
type APIKeyConfig struct {
	APIKey    string `yaml:"api_key" json:"api_key"`
	BaseURL   string `yaml:"base_url" json:"base_url"`
	MaxTokens int    `yaml:"max_tokens" json:"max_tokens"`
}

// RAGConfig holds knowledge base defaults.
type RAGConfig struct {
	ModelArn string `yaml:"model_arn" json:"model_arn"`
}

// UsageConfig sizes the usage ledger.
type UsageConfig struct {
	Capacity     int    `yaml:"capacity" json:"capacity"`
	EstimateLang string `yaml:"estimate_lang" json:"estimate_lang"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// TelemetryConfig configures tracing export.
type TelemetryConfig struct {
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	ServiceName  string  `yaml:"service_name" json:"service_name"`
	SampleRatio  float64 `yaml:"sample_ratio" json:"sample_ratio"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Environment: "development",
		Provider:    ProviderBedrock,
		Server: ServerConfig{
			Host:              DefaultHost,
			Port:              DefaultPort,
			BodyLimitBytes:    DefaultBodyLimit,
			H2C:               true,
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		AWS:       AWSConfig{Region: DefaultRegion},
		Anthropic: APIKeyConfig{MaxTokens: 4096},
		OpenAI:    APIKeyConfig{MaxTokens: 4096},
		Usage: UsageConfig{
			Capacity:     usage.DefaultCapacity,
			EstimateLang: "ko",
		},
		Log:       LogConfig{Level: "info", Format: "console"},
		Telemetry: TelemetryConfig{ServiceName: "bedrock-proxy"},
	}
}

// Production reports whether the process runs in production mode.
func (c *Config) Production() bool {
	return c != nil && c.Environment == "production"
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.Server.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	out.Anthropic.APIKey = redact(c.Anthropic.APIKey)
	out.OpenAI.APIKey = redact(c.OpenAI.APIKey)
	return &out
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****"
}
