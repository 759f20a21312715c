package model

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by providers that lack an operation.
var ErrUnsupported = errors.New("model: operation not supported by provider")

// Message is one conversational turn. Only user and assistant roles are
// accepted; system prompts travel in ChatRequest.System.
type Message struct {
	Role    string `json:"role" validate:"oneof=user assistant"`
	Content string `json:"content" validate:"required"`
}

// ChatRequest is a conversational invocation.
type ChatRequest struct {
	ModelID     string    `json:"modelId" validate:"required"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages" validate:"required,min=1,dive"`
	Temperature *float64  `json:"temperature,omitempty" validate:"omitnil,gte=0,lte=2"`
	TopP        *float64  `json:"topP,omitempty" validate:"omitnil,gte=0,lte=1"`
	MaxTokens   *int      `json:"maxTokens,omitempty" validate:"omitnil,gte=1,lte=4096"`
}

// ChatResult is the materialized outcome of Converse.
type ChatResult struct {
	Text       string      `json:"text"`
	StopReason string      `json:"stopReason,omitempty"`
	Usage      *TokenUsage `json:"usage,omitempty"`
	Raw        any         `json:"-"`
}

// ModelSummary describes one entry of the model catalog.
type ModelSummary struct {
	ModelID                    string   `json:"modelId"`
	ModelName                  string   `json:"modelName,omitempty"`
	ProviderName               string   `json:"providerName,omitempty"`
	InputModalities            []string `json:"inputModalities,omitempty"`
	OutputModalities           []string `json:"outputModalities,omitempty"`
	ResponseStreamingSupported *bool    `json:"responseStreamingSupported,omitempty"`
}

// ListModelsInput filters the catalog. Empty fields mean no filter.
type ListModelsInput struct {
	Provider       string
	OutputModality string
}

// RAGRequest asks a knowledge base to retrieve and generate an answer.
type RAGRequest struct {
	KnowledgeBaseID string `json:"knowledgeBaseId" validate:"required"`
	Query           string `json:"query" validate:"required"`
	ModelArnOrID    string `json:"modelArnOrId,omitempty"`
	SessionID       string `json:"sessionId,omitempty"`
}

// RAGResult is the answer of a knowledge base query.
type RAGResult struct {
	Answer    string `json:"answer"`
	Citations any    `json:"citations"`
	SessionID string `json:"sessionId,omitempty"`
	Raw       any    `json:"-"`
}

// AgentRequest invokes a managed agent alias.
type AgentRequest struct {
	AgentID      string `json:"agentId" validate:"required"`
	AgentAliasID string `json:"agentAliasId" validate:"required"`
	SessionID    string `json:"sessionId,omitempty"`
	InputText    string `json:"inputText" validate:"required"`
	EnableTrace  *bool  `json:"enableTrace,omitempty"`
	EndSession   *bool  `json:"endSession,omitempty"`
}

// TraceEnabled reports whether the caller opted into trace payloads.
func (r AgentRequest) TraceEnabled() bool {
	return r.EnableTrace != nil && *r.EnableTrace
}

// AgentEvent is one item of an agent completion sequence. Chunk carries raw
// UTF-8 bytes; Trace carries a decoded JSON tree (maps, slices, scalars).
type AgentEvent struct {
	Chunk []byte
	Trace any
}

// AgentStream is a started agent invocation.
type AgentStream struct {
	SessionID string
	*Stream[AgentEvent]
}

// Catalog lists invocable models.
type Catalog interface {
	ListModels(ctx context.Context, in ListModelsInput) ([]ModelSummary, error)
}

// Chat performs conversational invocations.
type Chat interface {
	Converse(ctx context.Context, req ChatRequest) (*ChatResult, error)
	ConverseStream(ctx context.Context, req ChatRequest) (*Stream[ConverseEvent], error)
}

// Provider is a conversational backend with a model catalog.
type Provider interface {
	Name() string
	Catalog
	Chat
}

// Retriever performs retrieval-augmented generation.
type Retriever interface {
	RetrieveAndGenerate(ctx context.Context, req RAGRequest) (*RAGResult, error)
}

// AgentInvoker starts agent invocations. The returned stream is consumed
// either incrementally (SSE) or drained to completion.
type AgentInvoker interface {
	InvokeAgent(ctx context.Context, req AgentRequest) (*AgentStream, error)
}
