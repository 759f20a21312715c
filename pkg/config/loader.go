package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is used when no path is given and the file exists.
const DefaultConfigPath = "bedrock.yaml"

// Getenv looks up an environment variable.
type Getenv func(string) (string, bool)

// Loader loads, validates and caches config state.
type Loader struct {
	path     string
	envFiles []string
	getenv   Getenv

	mu   sync.Mutex
	last atomic.Pointer[Config]
}

// LoaderOption customizes loader behaviour.
type LoaderOption func(*Loader)

// WithEnvFiles loads the given .env files before reading the environment.
// Variables already set in the process win.
func WithEnvFiles(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.envFiles = append(l.envFiles, paths...)
	}
}

// WithGetenv replaces the environment lookup.
func WithGetenv(fn Getenv) LoaderOption {
	return func(l *Loader) {
		if fn != nil {
			l.getenv = fn
		}
	}
}

// NewLoader wires a loader for the file at path. An empty path means
// DefaultConfigPath when it exists, and defaults plus environment otherwise.
func NewLoader(path string, opts ...LoaderOption) *Loader {
	l := &Loader{
		path:   strings.TrimSpace(path),
		getenv: os.LookupEnv,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the config file path, possibly empty.
func (l *Loader) Path() string {
	return l.path
}

// Last returns the most recent valid configuration.
func (l *Loader) Last() (*Config, bool) {
	cfg := l.last.Load()
	return cfg, cfg != nil
}

// Load reads the file, applies environment overrides and validates.
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cfg, err := l.loadOnce()
	if err != nil {
		return nil, err
	}
	l.last.Store(cfg)
	return cfg, nil
}

// Reload refreshes the configuration, keeping the last good state on error.
func (l *Loader) Reload() (*Config, error) {
	prev, _ := l.Last()
	cfg, err := l.Load()
	if err != nil {
		if prev != nil {
			return prev, fmt.Errorf("reload failed, keeping last good config: %w", err)
		}
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) loadOnce() (*Config, error) {
	for _, path := range l.envFiles {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", path, err)
		}
	}

	cfg := Default()
	path, raw, err := l.readFile()
	switch {
	case err == nil:
		if err := decodeMixedYAMLJSON(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		cfg.SourcePath = path
	case errors.Is(err, fs.ErrNotExist) && l.path == "":
	default:
		return nil, err
	}

	if err := applyEnv(cfg, l.getenv); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) readFile() (string, []byte, error) {
	path := l.path
	if path == "" {
		path = DefaultConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return path, nil, err
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path, data, nil
}

// Parse decodes YAML or JSON over the defaults without touching the
// environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := decodeMixedYAMLJSON(data, cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}

func decodeMixedYAMLJSON(data []byte, out any) error {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	yamlErr := yaml.Unmarshal(data, out)
	if yamlErr == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err == nil {
		return nil
	}
	return fmt.Errorf("config decode failed: %w", yamlErr)
}

// Encode renders cfg as YAML.
func Encode(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

func applyEnv(cfg *Config, getenv Getenv) error {
	str := func(key string, dst *string) {
		if v, ok := getenv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := getenv(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("env %s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("HOST", &cfg.Server.Host)
	if err := num("PORT", &cfg.Server.Port); err != nil {
		return err
	}
	if v, ok := getenv("ALLOWED_ORIGINS"); ok {
		cfg.Server.AllowedOrigins = splitList(v)
	}
	str("AWS_REGION", &cfg.AWS.Region)
	str("AWS_PROFILE", &cfg.AWS.Profile)
	if err := num("USAGE_MAX", &cfg.Usage.Capacity); err != nil {
		return err
	}
	str("LLM_PROVIDER", &cfg.Provider)
	str("ANTHROPIC_API_KEY", &cfg.Anthropic.APIKey)
	str("OPENAI_API_KEY", &cfg.OpenAI.APIKey)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("NODE_ENV", &cfg.Environment)
	str("APP_ENV", &cfg.Environment)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)
	str("RAG_MODEL_ARN", &cfg.RAG.ModelArn)
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) normalize() {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.Provider == "" {
		c.Provider = ProviderBedrock
	}
	c.Environment = strings.ToLower(strings.TrimSpace(c.Environment))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	origins := c.Server.AllowedOrigins[:0]
	for _, o := range c.Server.AllowedOrigins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			origins = append(origins, o)
		}
	}
	c.Server.AllowedOrigins = origins
	if c.Server.BodyLimitBytes <= 0 {
		c.Server.BodyLimitBytes = DefaultBodyLimit
	}
}
