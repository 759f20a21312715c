package bedrock

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	bedrocktypes "github.com/aws/aws-sdk-go-v2/service/bedrock/types"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	runtimetypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	modelpkg "github.com/edumgt/AI-AWS-Bedrock-course/pkg/model"
	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/telemetry"
)

// ListModels returns the foundation models, optionally filtered by
// provider and output modality.
func (c *Client) ListModels(ctx context.Context, in modelpkg.ListModelsInput) (_ []modelpkg.ModelSummary, err error) {
	ctx, span := telemetry.StartSpan(ctx, "model.bedrock.list_models",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(telemetry.SanitizeAttributes(
			attribute.String("llm.provider", ProviderName),
			attribute.String("llm.filter.provider", in.Provider),
			attribute.String("llm.filter.output_modality", in.OutputModality),
		)...),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	req := &bedrock.ListFoundationModelsInput{}
	if p := strings.TrimSpace(in.Provider); p != "" {
		req.ByProvider = aws.String(p)
	}
	if m := strings.TrimSpace(in.OutputModality); m != "" {
		req.ByOutputModality = bedrocktypes.ModelModality(strings.ToUpper(m))
	}
	out, err := c.control.ListFoundationModels(ctx, req)
	if err != nil {
		return nil, wrapError(err)
	}
	models := make([]modelpkg.ModelSummary, 0, len(out.ModelSummaries))
	for _, m := range out.ModelSummaries {
		models = append(models, modelpkg.ModelSummary{
			ModelID:                    aws.ToString(m.ModelId),
			ModelName:                  aws.ToString(m.ModelName),
			ProviderName:               aws.ToString(m.ProviderName),
			InputModalities:            modalities(m.InputModalities),
			OutputModalities:           modalities(m.OutputModalities),
			ResponseStreamingSupported: m.ResponseStreamingSupported,
		})
	}
	span.SetAttributes(attribute.Int("llm.models", len(models)))
	return models, nil
}

func modalities(in []bedrocktypes.ModelModality) []string {
	out := make([]string, 0, len(in))
	for _, m := range in {
		out = append(out, string(m))
	}
	return out
}

// Converse performs a blocking conversation call.
func (c *Client) Converse(ctx context.Context, req modelpkg.ChatRequest) (_ *modelpkg.ChatResult, err error) {
	ctx, span := c.startChatSpan(ctx, "model.bedrock.converse", req, false)
	defer func() { telemetry.EndSpan(span, err) }()

	messages, system, inference := buildConversation(req)
	out, err := c.runtime.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:         aws.String(req.ModelID),
		Messages:        messages,
		System:          system,
		InferenceConfig: inference,
	})
	if err != nil {
		return nil, wrapError(err)
	}

	res := &modelpkg.ChatResult{
		StopReason: string(out.StopReason),
		Usage:      convertUsage(out.Usage),
		Raw:        out,
	}
	if msg, ok := out.Output.(*runtimetypes.ConverseOutputMemberMessage); ok {
		res.Text = joinText(msg.Value.Content)
	}
	return res, nil
}

// ConverseStream starts a streaming conversation. The upstream event
// stream is closed when the returned stream ends or is closed.
func (c *Client) ConverseStream(ctx context.Context, req modelpkg.ChatRequest) (*modelpkg.Stream[modelpkg.ConverseEvent], error) {
	ctx, span := c.startChatSpan(ctx, "model.bedrock.converse_stream", req, true)

	messages, system, inference := buildConversation(req)
	reader, err := c.openStream(ctx, &bedrockruntime.ConverseStreamInput{
		ModelId:         aws.String(req.ModelID),
		Messages:        messages,
		System:          system,
		InferenceConfig: inference,
	})
	if err != nil {
		err = wrapError(err)
		telemetry.EndSpan(span, err)
		return nil, err
	}

	return modelpkg.NewStream(ctx, modelpkg.DefaultStreamBuffer, func(ctx context.Context, emit func(modelpkg.ConverseEvent) bool) (err error) {
		defer func() { telemetry.EndSpan(span, err) }()
		defer func() {
			if cerr := reader.Close(); cerr != nil {
				c.logger.Debug("close converse stream", zap.Error(cerr))
			}
		}()
		events := reader.Events()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev, ok := <-events:
				if !ok {
					return wrapError(reader.Err())
				}
				if !emit(convertStreamEvent(ev)) {
					return ctx.Err()
				}
			}
		}
	}), nil
}

func (c *Client) startChatSpan(ctx context.Context, name string, req modelpkg.ChatRequest, stream bool) (context.Context, trace.Span) {
	return telemetry.StartSpan(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(telemetry.SanitizeAttributes(
			attribute.String("llm.provider", ProviderName),
			attribute.String("llm.model", req.ModelID),
			attribute.Bool("llm.stream", stream),
			attribute.Int("llm.messages", len(req.Messages)),
		)...),
	)
}

func buildConversation(req modelpkg.ChatRequest) ([]runtimetypes.Message, []runtimetypes.SystemContentBlock, *runtimetypes.InferenceConfiguration) {
	messages := make([]runtimetypes.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := runtimetypes.ConversationRoleUser
		if m.Role == "assistant" {
			role = runtimetypes.ConversationRoleAssistant
		}
		messages = append(messages, runtimetypes.Message{
			Role:    role,
			Content: []runtimetypes.ContentBlock{&runtimetypes.ContentBlockMemberText{Value: m.Content}},
		})
	}

	var system []runtimetypes.SystemContentBlock
	if s := strings.TrimSpace(req.System); s != "" {
		system = []runtimetypes.SystemContentBlock{&runtimetypes.SystemContentBlockMemberText{Value: s}}
	}

	var inference *runtimetypes.InferenceConfiguration
	if req.Temperature != nil || req.TopP != nil || req.MaxTokens != nil {
		inference = &runtimetypes.InferenceConfiguration{}
		if req.Temperature != nil {
			inference.Temperature = aws.Float32(float32(*req.Temperature))
		}
		if req.TopP != nil {
			inference.TopP = aws.Float32(float32(*req.TopP))
		}
		if req.MaxTokens != nil {
			inference.MaxTokens = aws.Int32(int32(*req.MaxTokens))
		}
	}
	return messages, system, inference
}

func joinText(blocks []runtimetypes.ContentBlock) string {
	var sb strings.Builder
	for _, b := range blocks {
		if t, ok := b.(*runtimetypes.ContentBlockMemberText); ok {
			sb.WriteString(t.Value)
		}
	}
	return sb.String()
}

func convertUsage(u *runtimetypes.TokenUsage) *modelpkg.TokenUsage {
	if u == nil {
		return nil
	}
	out := &modelpkg.TokenUsage{
		InputTokens:  int64Ptr(u.InputTokens),
		OutputTokens: int64Ptr(u.OutputTokens),
		TotalTokens:  int64Ptr(u.TotalTokens),
	}
	if out.Empty() {
		return nil
	}
	return out
}

func int64Ptr(v *int32) *int64 {
	if v == nil {
		return nil
	}
	n := int64(*v)
	return &n
}

// convertStreamEvent maps one SDK stream item onto the envelope. Items the
// relay has no rule for come through empty.
func convertStreamEvent(ev runtimetypes.ConverseStreamOutput) modelpkg.ConverseEvent {
	switch v := ev.(type) {
	case *runtimetypes.ConverseStreamOutputMemberContentBlockDelta:
		if text, ok := v.Value.Delta.(*runtimetypes.ContentBlockDeltaMemberText); ok {
			return modelpkg.ConverseEvent{
				ContentBlockDelta: &modelpkg.ContentBlockDelta{Delta: &modelpkg.TextDelta{Text: text.Value}},
			}
		}
	case *runtimetypes.ConverseStreamOutputMemberMetadata:
		return modelpkg.ConverseEvent{Metadata: &modelpkg.StreamMetadata{Usage: convertUsage(v.Value.Usage)}}
	case *runtimetypes.ConverseStreamOutputMemberMessageStop:
		return modelpkg.ConverseEvent{MessageStop: &modelpkg.MessageStop{StopReason: string(v.Value.StopReason)}}
	}
	return modelpkg.ConverseEvent{}
}
