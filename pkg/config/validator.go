package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Validate checks structural integrity of cfg.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", cfg.Server.Port))
	}
	switch cfg.Provider {
	case ProviderBedrock, ProviderAnthropic, ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", cfg.Provider))
	}
	if strings.TrimSpace(cfg.AWS.Region) == "" {
		errs = append(errs, errors.New("aws region is required"))
	}
	if cfg.Usage.Capacity < 0 {
		errs = append(errs, fmt.Errorf("usage capacity must be >= 0, got %d", cfg.Usage.Capacity))
	}
	switch cfg.Usage.EstimateLang {
	case "", "ko", "en":
	default:
		errs = append(errs, fmt.Errorf("unknown estimate language %q", cfg.Usage.EstimateLang))
	}
	if cfg.Log.Level != "" {
		if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
			errs = append(errs, fmt.Errorf("log level: %w", err))
		}
	}
	switch cfg.Log.Format {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", cfg.Log.Format))
	}
	for _, origin := range cfg.Server.AllowedOrigins {
		if origin == "*" {
			continue
		}
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid allowed origin %q", origin))
		}
	}
	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry sample ratio %v out of range [0,1]", r))
	}
	switch cfg.Provider {
	case ProviderAnthropic:
		if strings.TrimSpace(cfg.Anthropic.APIKey) == "" {
			errs = append(errs, errors.New("anthropic api key is required for provider anthropic"))
		}
	case ProviderOpenAI:
		if strings.TrimSpace(cfg.OpenAI.APIKey) == "" {
			errs = append(errs, errors.New("openai api key is required for provider openai"))
		}
	}
	return errors.Join(errs...)
}
