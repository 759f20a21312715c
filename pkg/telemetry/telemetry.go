// Package telemetry wires OpenTelemetry tracing for upstream calls.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultServiceName  = "bedrock-proxy"
	defaultMask         = "***"
	instrumentationName = "github.com/edumgt/AI-AWS-Bedrock-course"
)

// Config drives NewManager.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// Endpoint is an OTLP/HTTP collector URL. Spans are still created but
	// not exported when it is empty.
	Endpoint string
	// SampleRatio in (0,1]; zero samples everything.
	SampleRatio float64
	Filter      FilterConfig
}

// FilterConfig lists extra secret patterns masked out of span attributes.
type FilterConfig struct {
	Mask     string
	Patterns []string
}

// Manager owns a tracer provider.
type Manager struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	filter   *Filter
}

// NewManager builds a tracer provider, exporting over OTLP/HTTP when an
// endpoint is configured.
func NewManager(ctx context.Context, cfg Config, opts ...sdktrace.TracerProviderOption) (*Manager, error) {
	filter, err := NewFilter(cfg.Filter)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = defaultServiceName
	}
	attrs := []attribute.KeyValue{attribute.String("service.name", name)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, attribute.String("service.version", cfg.ServiceVersion))
	}
	if cfg.Environment != "" {
		attrs = append(attrs, attribute.String("deployment.environment", cfg.Environment))
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRatio)
	}
	providerOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewSchemaless(attrs...)),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	}
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
		if err != nil {
			return nil, fmt.Errorf("telemetry: otlp exporter: %w", err)
		}
		providerOpts = append(providerOpts, sdktrace.WithBatcher(exporter))
	}
	providerOpts = append(providerOpts, opts...)
	provider := sdktrace.NewTracerProvider(providerOpts...)

	return &Manager{
		provider: provider,
		tracer:   provider.Tracer(instrumentationName),
		filter:   filter,
	}, nil
}

// Setup builds a manager and installs it both as the package default and as
// the global otel tracer provider.
func Setup(ctx context.Context, cfg Config) (*Manager, error) {
	m, err := NewManager(ctx, cfg)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(m.provider)
	SetDefault(m)
	return m, nil
}

// Shutdown flushes and stops the provider.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// StartSpan starts a span on the manager's tracer.
func (m *Manager) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if m == nil || m.tracer == nil {
		return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
	}
	return m.tracer.Start(ctx, name, opts...)
}

// MaskText applies the manager's secret filter.
func (m *Manager) MaskText(s string) string {
	if m == nil {
		return s
	}
	return m.filter.Mask(s)
}

var defaultManager atomic.Pointer[Manager]

// SetDefault installs m for the package level helpers. Passing nil reverts
// to the global otel tracer.
func SetDefault(m *Manager) {
	defaultManager.Store(m)
}

// Default returns the installed manager, if any.
func Default() *Manager {
	return defaultManager.Load()
}

// StartSpan starts a span on the default manager.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Default().StartSpan(ctx, name, opts...)
}

// EndSpan records err on span and ends it.
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// SanitizeAttributes masks secrets in string attribute values.
func SanitizeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	m := Default()
	filter := defaultFilter()
	if m != nil && m.filter != nil {
		filter = m.filter
	}
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, kv := range attrs {
		if kv.Value.Type() == attribute.STRING {
			kv = attribute.String(string(kv.Key), filter.Mask(kv.Value.AsString()))
		}
		out = append(out, kv)
	}
	return out
}

var builtinPatterns = []string{
	`sk-[A-Za-z0-9_\-]{8,}`,
	`(AKIA|ASIA)[A-Z0-9]{16}`,
	`(?i)bearer\s+[A-Za-z0-9._\-]+`,
}

// Filter masks secrets in free text.
type Filter struct {
	mask     string
	patterns []*regexp.Regexp
}

// NewFilter compiles the built-in secret patterns plus cfg.Patterns.
func NewFilter(cfg FilterConfig) (*Filter, error) {
	mask := cfg.Mask
	if mask == "" {
		mask = defaultMask
	}
	f := &Filter{mask: mask}
	for _, p := range append(append([]string(nil), builtinPatterns...), cfg.Patterns...) {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("telemetry: compile filter %q: %w", p, err)
		}
		f.patterns = append(f.patterns, re)
	}
	return f, nil
}

// Mask replaces every secret match in s.
func (f *Filter) Mask(s string) string {
	if f == nil || s == "" {
		return s
	}
	for _, re := range f.patterns {
		s = re.ReplaceAllString(s, f.mask)
	}
	return s
}

var (
	builtinOnce   sync.Once
	builtinFilter *Filter
)

func defaultFilter() *Filter {
	builtinOnce.Do(func() {
		builtinFilter, _ = NewFilter(FilterConfig{})
	})
	return builtinFilter
}
