// Package openai serves chat and model listing from the OpenAI Chat
// Completions API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/pagination"
	"github.com/openai/openai-go/packages/ssestream"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	modelpkg "github.com/edumgt/AI-AWS-Bedrock-course/pkg/model"
	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/telemetry"
)

// ProviderName tags spans and errors.
const ProviderName = "openai"

var _ modelpkg.Provider = (*Provider)(nil)

type completionsAPI interface {
	New(ctx context.Context, body openaisdk.ChatCompletionNewParams, opts ...option.RequestOption) (*openaisdk.ChatCompletion, error)
	NewStreaming(ctx context.Context, body openaisdk.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openaisdk.ChatCompletionChunk]
}

type modelsAPI interface {
	List(ctx context.Context, opts ...option.RequestOption) (*pagination.Page[openaisdk.Model], error)
}

// Options configures New.
type Options struct {
	APIKey    string
	BaseURL   string
	MaxTokens int
}

// Provider adapts the OpenAI SDK to model.Provider.
type Provider struct {
	completions completionsAPI
	models      modelsAPI
	maxTokens   int
}

// New builds a provider backed by the official SDK.
func New(opts Options) (*Provider, error) {
	key := strings.TrimSpace(opts.APIKey)
	if key == "" {
		return nil, errors.New("openai: api key is required")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(key)}
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(base))
	}
	client := openaisdk.NewClient(reqOpts...)
	return &Provider{
		completions: &client.Chat.Completions,
		models:      &client.Models,
		maxTokens:   opts.MaxTokens,
	}, nil
}

// Name identifies the provider.
func (p *Provider) Name() string { return ProviderName }

// ListModels returns the account's models. A provider filter matches the
// owner field; only a TEXT output filter can match.
func (p *Provider) ListModels(ctx context.Context, in modelpkg.ListModelsInput) (_ []modelpkg.ModelSummary, err error) {
	ctx, span := telemetry.StartSpan(ctx, "model.openai.sdk.list_models",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("llm.provider", ProviderName)),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	if m := strings.TrimSpace(in.OutputModality); m != "" && !strings.EqualFold(m, "TEXT") {
		return []modelpkg.ModelSummary{}, nil
	}
	page, err := p.models.List(ctx)
	if err != nil {
		return nil, wrapError(err)
	}
	owner := strings.TrimSpace(in.Provider)
	streaming := true
	out := make([]modelpkg.ModelSummary, 0, len(page.Data))
	for _, m := range page.Data {
		if owner != "" && !strings.EqualFold(owner, m.OwnedBy) {
			continue
		}
		out = append(out, modelpkg.ModelSummary{
			ModelID:                    m.ID,
			ModelName:                  m.ID,
			ProviderName:               m.OwnedBy,
			InputModalities:            []string{"TEXT"},
			OutputModalities:           []string{"TEXT"},
			ResponseStreamingSupported: &streaming,
		})
	}
	return out, nil
}

// Converse performs a blocking chat completion.
func (p *Provider) Converse(ctx context.Context, req modelpkg.ChatRequest) (_ *modelpkg.ChatResult, err error) {
	ctx, span := p.startSpan(ctx, "model.openai.sdk.generate", req, false)
	defer func() { telemetry.EndSpan(span, err) }()

	completion, err := p.completions.New(ctx, p.params(req))
	if err != nil {
		return nil, wrapError(err)
	}
	if len(completion.Choices) == 0 {
		return nil, &modelpkg.UpstreamError{Provider: ProviderName, Message: "openai: no choices in response"}
	}
	choice := completion.Choices[0]
	return &modelpkg.ChatResult{
		Text:       choice.Message.Content,
		StopReason: choice.FinishReason,
		Usage:      convertUsage(completion.Usage),
		Raw:        completion,
	}, nil
}

// ConverseStream maps completion chunks onto the envelope: content under
// contentBlockDelta.delta.textDelta, finish reasons as bare stop reasons,
// and the trailing usage chunk as bare usage.
func (p *Provider) ConverseStream(ctx context.Context, req modelpkg.ChatRequest) (*modelpkg.Stream[modelpkg.ConverseEvent], error) {
	ctx, span := p.startSpan(ctx, "model.openai.sdk.generate_stream", req, true)
	params := p.params(req)
	params.StreamOptions = openaisdk.ChatCompletionStreamOptionsParam{IncludeUsage: openaisdk.Bool(true)}

	return modelpkg.NewStream(ctx, modelpkg.DefaultStreamBuffer, func(ctx context.Context, emit func(modelpkg.ConverseEvent) bool) (err error) {
		defer func() { telemetry.EndSpan(span, err) }()
		stream := p.completions.NewStreaming(ctx, params)
		if stream == nil {
			return errors.New("openai: streaming unavailable")
		}
		defer stream.Close()

		for stream.Next() {
			for _, item := range convertChunk(stream.Current()) {
				if !emit(item) {
					return ctx.Err()
				}
			}
		}
		return wrapError(stream.Err())
	}), nil
}

func convertChunk(chunk openaisdk.ChatCompletionChunk) []modelpkg.ConverseEvent {
	var items []modelpkg.ConverseEvent
	for _, choice := range chunk.Choices {
		if choice.Delta.Content != "" {
			items = append(items, modelpkg.ConverseEvent{
				ContentBlockDelta: &modelpkg.ContentBlockDelta{Delta: &modelpkg.TextDelta{TextDelta: choice.Delta.Content}},
			})
		}
		if choice.FinishReason != "" {
			items = append(items, modelpkg.ConverseEvent{StopReason: choice.FinishReason})
		}
	}
	if u := convertUsage(chunk.Usage); u != nil {
		items = append(items, modelpkg.ConverseEvent{Usage: u})
	}
	if len(items) == 0 {
		items = append(items, modelpkg.ConverseEvent{})
	}
	return items
}

func convertUsage(u openaisdk.CompletionUsage) *modelpkg.TokenUsage {
	if u.TotalTokens <= 0 && u.PromptTokens <= 0 && u.CompletionTokens <= 0 {
		return nil
	}
	return modelpkg.NewTokenUsage(u.PromptTokens, u.CompletionTokens, u.TotalTokens)
}

func (p *Provider) params(req modelpkg.ChatRequest) openaisdk.ChatCompletionNewParams {
	messages := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if s := strings.TrimSpace(req.System); s != "" {
		messages = append(messages, openaisdk.SystemMessage(s))
	}
	for _, m := range req.Messages {
		if m.Role == "assistant" {
			messages = append(messages, openaisdk.AssistantMessage(m.Content))
		} else {
			messages = append(messages, openaisdk.UserMessage(m.Content))
		}
	}
	params := openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(req.ModelID),
		Messages: messages,
	}
	maxTokens := p.maxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = openaisdk.Int(int64(maxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openaisdk.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = openaisdk.Float(*req.TopP)
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
	var apiErr *openaisdk.Error
	if !errors.As(err, &apiErr) {
		ue.Message = err.Error()
		return ue
	}
	ue.Status = apiErr.StatusCode
	ue.Code = apiErr.Code
	if ue.Code == "" {
		ue.Code = apiErr.Type
	}
	ue.Message = fmt.Sprintf("openai request failed with status %d", apiErr.StatusCode)
	if apiErr.Message != "" {
		ue.Message = apiErr.Message
	}
	if apiErr.Response != nil {
		ue.RequestID = apiErr.Response.Header.Get("x-request-id")
	}
	return ue
}
