// Package anthropic serves chat and model listing from the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/pagination"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	modelpkg "github.com/edumgt/AI-AWS-Bedrock-course/pkg/model"
	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/telemetry"
)

// ProviderName tags spans and errors.
const ProviderName = "anthropic"

const defaultMaxTokens = 4096

var _ modelpkg.Provider = (*Provider)(nil)

type messagesAPI interface {
	New(ctx context.Context, params anthropicsdk.MessageNewParams, opts ...option.RequestOption) (*anthropicsdk.Message, error)
	NewStreaming(ctx context.Context, params anthropicsdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[anthropicsdk.MessageStreamEventUnion]
}

type modelsAPI interface {
	List(ctx context.Context, params anthropicsdk.ModelListParams, opts ...option.RequestOption) (*pagination.Page[anthropicsdk.ModelInfo], error)
}

// Options configures New.
type Options struct {
	APIKey    string
	BaseURL   string
	MaxTokens int
}

// Provider adapts the Anthropic SDK to model.Provider.
type Provider struct {
	msgs      messagesAPI
	models    modelsAPI
	maxTokens int
}

// New builds a provider backed by the official SDK.
func New(opts Options) (*Provider, error) {
	key := strings.TrimSpace(opts.APIKey)
	if key == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(key)}
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(base))
	}
	client := anthropicsdk.NewClient(reqOpts...)
	return &Provider{
		msgs:      &client.Messages,
		models:    &client.Models,
		maxTokens: opts.MaxTokens,
	}, nil
}

// Name identifies the provider.
func (p *Provider) Name() string { return ProviderName }

// ListModels returns the first page of models. The catalog has no provider
// or modality dimension, so only a TEXT output filter can match.
func (p *Provider) ListModels(ctx context.Context, in modelpkg.ListModelsInput) (_ []modelpkg.ModelSummary, err error) {
	ctx, span := telemetry.StartSpan(ctx, "model.anthropic.sdk.list_models",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("llm.provider", ProviderName)),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	if m := strings.TrimSpace(in.OutputModality); m != "" && !strings.EqualFold(m, "TEXT") {
		return []modelpkg.ModelSummary{}, nil
	}
	if pr := strings.TrimSpace(in.Provider); pr != "" && !strings.EqualFold(pr, ProviderName) {
		return []modelpkg.ModelSummary{}, nil
	}
	page, err := p.models.List(ctx, anthropicsdk.ModelListParams{Limit: anthropicsdk.Int(100)})
	if err != nil {
		return nil, wrapError(err)
	}
	streaming := true
	out := make([]modelpkg.ModelSummary, 0, len(page.Data))
	for _, m := range page.Data {
		out = append(out, modelpkg.ModelSummary{
			ModelID:                    m.ID,
			ModelName:                  m.DisplayName,
			ProviderName:               "Anthropic",
			InputModalities:            []string{"TEXT", "IMAGE"},
			OutputModalities:           []string{"TEXT"},
			ResponseStreamingSupported: &streaming,
		})
	}
	return out, nil
}

// Converse performs a blocking Messages call.
func (p *Provider) Converse(ctx context.Context, req modelpkg.ChatRequest) (_ *modelpkg.ChatResult, err error) {
	ctx, span := p.startSpan(ctx, "model.anthropic.sdk.generate", req, false)
	defer func() { telemetry.EndSpan(span, err) }()

	msg, err := p.msgs.New(ctx, p.params(req))
	if err != nil {
		return nil, wrapError(err)
	}
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return &modelpkg.ChatResult{
		Text:       sb.String(),
		StopReason: string(msg.StopReason),
		Usage:      modelpkg.NewTokenUsage(msg.Usage.InputTokens, msg.Usage.OutputTokens, 0),
		Raw:        msg,
	}, nil
}

// ConverseStream maps the Messages event stream onto the envelope: text
// deltas under delta.text, and usage plus stop reason on message_delta.
func (p *Provider) ConverseStream(ctx context.Context, req modelpkg.ChatRequest) (*modelpkg.Stream[modelpkg.ConverseEvent], error) {
	ctx, span := p.startSpan(ctx, "model.anthropic.sdk.generate_stream", req, true)

	return modelpkg.NewStream(ctx, modelpkg.DefaultStreamBuffer, func(ctx context.Context, emit func(modelpkg.ConverseEvent) bool) (err error) {
		defer func() { telemetry.EndSpan(span, err) }()
		stream := p.msgs.NewStreaming(ctx, p.params(req))
		if stream == nil {
			return errors.New("anthropic: streaming unavailable")
		}
		defer stream.Close()

		var inputTokens int64
		for stream.Next() {
			ev := stream.Current()
			item := modelpkg.ConverseEvent{}
			switch v := ev.AsAny().(type) {
			case anthropicsdk.MessageStartEvent:
				inputTokens = v.Message.Usage.InputTokens
			case anthropicsdk.ContentBlockDeltaEvent:
				if text, ok := v.Delta.AsAny().(anthropicsdk.TextDelta); ok {
					item.Delta = &modelpkg.TextDelta{Text: text.Text}
				}
			case anthropicsdk.MessageDeltaEvent:
				in := inputTokens
				if v.Usage.InputTokens > 0 {
					in = v.Usage.InputTokens
				}
				item.Metadata = &modelpkg.StreamMetadata{Usage: modelpkg.NewTokenUsage(in, v.Usage.OutputTokens, 0)}
				item.StopReason = string(v.Delta.StopReason)
			}
			if !emit(item) {
				return ctx.Err()
			}
		}
		return wrapError(stream.Err())
	}), nil
}

func (p *Provider) params(req modelpkg.ChatRequest) anthropicsdk.MessageNewParams {
	maxTokens := p.maxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(req.ModelID),
		MaxTokens: int64(maxTokens),
		Messages:  make([]anthropicsdk.MessageParam, 0, len(req.Messages)),
	}
	if s := strings.TrimSpace(req.System); s != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: s}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropicsdk.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = anthropicsdk.Float(*req.TopP)
	}
	for _, m := range req.Messages {
		block := anthropicsdk.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			params.Messages = append(params.Messages, anthropicsdk.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropicsdk.NewUserMessage(block))
		}
	}
	return params
}

func (p *Provider) startSpan(ctx context.Context, name string, req modelpkg.ChatRequest, stream bool) (context.Context, trace.Span) {
	return telemetry.StartSpan(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(telemetry.SanitizeAttributes(
			attribute.String("llm.provider", ProviderName),
			attribute.String("llm.model", req.ModelID),
			attribute.Bool("llm.stream", stream),
		)...),
	)
}

func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	ue := &modelpkg.UpstreamError{Provider: ProviderName, Err: err}
	var apiErr *anthropicsdk.Error
	if !errors.As(err, &apiErr) {
		ue.Message = err.Error()
		return ue
	}
	ue.Status = apiErr.StatusCode
	ue.Message = fmt.Sprintf("anthropic request failed with status %d", apiErr.StatusCode)
	ue.RequestID = apiErr.RequestID
	if ue.RequestID == "" && apiErr.Response != nil {
		ue.RequestID = apiErr.Response.Header.Get("request-id")
	}
	var body errorBody
	if raw := apiErr.RawJSON(); raw != "" && json.Unmarshal([]byte(raw), &body) == nil {
		ue.Code = body.Error.Type
		if body.Error.Message != "" {
			ue.Message = body.Error.Message
		}
	}
	return ue
}

// errorBody is the JSON error envelope of the Messages API.
type errorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
