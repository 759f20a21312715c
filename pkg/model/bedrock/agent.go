package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	agenttypes "github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	modelpkg "github.com/edumgt/AI-AWS-Bedrock-course/pkg/model"
	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/telemetry"
)

// ErrNoRAGModel is returned when neither the request nor the client
// configuration names a generation model.
var ErrNoRAGModel = errors.New("bedrock: no model configured for knowledge base generation")

// ResolveModelArn expands a bare foundation-model id into its ARN in
// region. Full ARNs pass through; empty input yields fallback.
func ResolveModelArn(modelArnOrID, region, fallback string) string {
	id := strings.TrimSpace(modelArnOrID)
	if id == "" {
		return strings.TrimSpace(fallback)
	}
	if strings.HasPrefix(id, "arn:") {
		return id
	}
	return fmt.Sprintf("arn:aws:bedrock:%s::foundation-model/%s", region, id)
}

// ModelArnFor returns the generation model a knowledge base request uses.
func (c *Client) ModelArnFor(req modelpkg.RAGRequest) (string, error) {
	arn := ResolveModelArn(req.ModelArnOrID, c.region, c.ragModel)
	if arn == "" {
		return "", ErrNoRAGModel
	}
	return arn, nil
}

// RetrieveAndGenerate queries a knowledge base and generates an answer.
func (c *Client) RetrieveAndGenerate(ctx context.Context, req modelpkg.RAGRequest) (_ *modelpkg.RAGResult, err error) {
	arn, err := c.ModelArnFor(req)
	if err != nil {
		return nil, err
	}
	ctx, span := telemetry.StartSpan(ctx, "model.bedrock.retrieve_and_generate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(telemetry.SanitizeAttributes(
			attribute.String("llm.provider", ProviderName),
			attribute.String("llm.model", arn),
			attribute.String("kb.id", req.KnowledgeBaseID),
		)...),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	in := &bedrockagentruntime.RetrieveAndGenerateInput{
		Input: &agenttypes.RetrieveAndGenerateInput{Text: aws.String(req.Query)},
		RetrieveAndGenerateConfiguration: &agenttypes.RetrieveAndGenerateConfiguration{
			Type: agenttypes.RetrieveAndGenerateTypeKnowledgeBase,
			KnowledgeBaseConfiguration: &agenttypes.KnowledgeBaseRetrieveAndGenerateConfiguration{
				KnowledgeBaseId: aws.String(req.KnowledgeBaseID),
				ModelArn:        aws.String(arn),
			},
		},
	}
	if sid := strings.TrimSpace(req.SessionID); sid != "" {
		in.SessionId = aws.String(sid)
	}
	out, err := c.agents.RetrieveAndGenerate(ctx, in)
	if err != nil {
		return nil, wrapError(err)
	}

	res := &modelpkg.RAGResult{
		SessionID: aws.ToString(out.SessionId),
		Citations: toTree(out.Citations),
		Raw:       out,
	}
	if out.Output != nil {
		res.Answer = aws.ToString(out.Output.Text)
	}
	if res.Citations == nil {
		res.Citations = []any{}
	}
	return res, nil
}

// InvokeAgent starts an agent invocation. A session id is generated when
// the request has none because the service requires one.
func (c *Client) InvokeAgent(ctx context.Context, req modelpkg.AgentRequest) (*modelpkg.AgentStream, error) {
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	ctx, span := telemetry.StartSpan(ctx, "model.bedrock.invoke_agent",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(telemetry.SanitizeAttributes(
			attribute.String("llm.provider", ProviderName),
			attribute.String("agent.id", req.AgentID),
			attribute.String("agent.alias_id", req.AgentAliasID),
			attribute.String("agent.session_id", sessionID),
		)...),
	)

	in := &bedrockagentruntime.InvokeAgentInput{
		AgentId:      aws.String(req.AgentID),
		AgentAliasId: aws.String(req.AgentAliasID),
		SessionId:    aws.String(sessionID),
		InputText:    aws.String(req.InputText),
		EnableTrace:  aws.Bool(req.TraceEnabled()),
	}
	if req.EndSession != nil {
		in.EndSession = aws.Bool(*req.EndSession)
	}
	upstreamSession, reader, err := c.openAgent(ctx, in)
	if err != nil {
		err = wrapError(err)
		telemetry.EndSpan(span, err)
		return nil, err
	}
	if upstreamSession != "" {
		sessionID = upstreamSession
	}

	stream := modelpkg.NewStream(ctx, modelpkg.DefaultStreamBuffer, func(ctx context.Context, emit func(modelpkg.AgentEvent) bool) (err error) {
		defer func() { telemetry.EndSpan(span, err) }()
		defer func() {
			if cerr := reader.Close(); cerr != nil {
				c.logger.Debug("close agent stream", zap.Error(cerr))
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
				item, keep := convertAgentEvent(ev)
				if !keep {
					continue
				}
				if !emit(item) {
					return ctx.Err()
				}
			}
		}
	})
	return &modelpkg.AgentStream{SessionID: sessionID, Stream: stream}, nil
}

func convertAgentEvent(ev agenttypes.ResponseStream) (modelpkg.AgentEvent, bool) {
	switch v := ev.(type) {
	case *agenttypes.ResponseStreamMemberChunk:
		return modelpkg.AgentEvent{Chunk: v.Value.Bytes}, len(v.Value.Bytes) > 0
	case *agenttypes.ResponseStreamMemberTrace:
		tree := toTree(v.Value)
		return modelpkg.AgentEvent{Trace: tree}, tree != nil
	}
	return modelpkg.AgentEvent{}, false
}

// toTree turns an SDK value into a plain JSON tree with camelCase keys.
// SDK unions marshal as {"Value": ...}; those wrappers are collapsed.
func toTree(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return map[string]any{"error": err.Error()}
	}
	return normalizeTree(tree)
}

func normalizeTree(node any) any {
	switch v := node.(type) {
	case map[string]any:
		if inner, ok := v["Value"]; ok && len(v) == 1 {
			return normalizeTree(inner)
		}
		out := make(map[string]any, len(v))
		for k, child := range v {
			if child == nil {
				continue
			}
			out[lowerFirst(k)] = normalizeTree(child)
		}
		return out
	case []any:
		for i := range v {
			v[i] = normalizeTree(v[i])
		}
		return v
	}
	return node
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || !unicode.IsUpper(r) {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}
