package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/pagination"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	modelpkg "github.com/edumgt/AI-AWS-Bedrock-course/pkg/model"
)

func TestConverseBuildsRequest(t *testing.T) {
	var seen anthropicsdk.MessageNewParams
	mock := &fakeMessages{
		newFn: func(_ context.Context, params anthropicsdk.MessageNewParams) (*anthropicsdk.Message, error) {
			seen = params
			return &anthropicsdk.Message{
				Content:    []anthropicsdk.ContentBlockUnion{{Type: "text", Text: "ok"}},
				StopReason: anthropicsdk.StopReasonEndTurn,
				Usage:      anthropicsdk.Usage{InputTokens: 4, OutputTokens: 2},
			}, nil
		},
	}
	p := &Provider{msgs: mock, maxTokens: 64}
	temp := 0.3
	res, err := p.Converse(context.Background(), modelpkg.ChatRequest{
		ModelID:     "claude-3-5-haiku-latest",
		System:      "sys",
		Messages:    []modelpkg.Message{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hey"}},
		Temperature: &temp,
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
	assert.Equal(t, "end_turn", res.StopReason)
	assert.EqualValues(t, 6, *res.Usage.TotalTokens)

	assert.EqualValues(t, 64, seen.MaxTokens)
	assert.Equal(t, anthropicsdk.Model("claude-3-5-haiku-latest"), seen.Model)
	require.Len(t, seen.System, 1)
	assert.Equal(t, "sys", seen.System[0].Text)
	require.Len(t, seen.Messages, 2)
	assert.Equal(t, anthropicsdk.MessageParamRoleAssistant, seen.Messages[1].Role)
	assert.InDelta(t, 0.3, seen.Temperature.Value, 1e-9)
}

func TestConverseStream(t *testing.T) {
	events := []ssestream.Event{
		mkEvent(anthropicsdk.MessageStartEvent{
			Type: constant.MessageStart("message_start"),
			Message: anthropicsdk.Message{
				Role:  constant.Assistant("assistant"),
				Usage: anthropicsdk.Usage{InputTokens: 9},
			},
		}),
		mkEvent(anthropicsdk.ContentBlockDeltaEvent{
			Type:  constant.ContentBlockDelta("content_block_delta"),
			Index: 0,
			Delta: anthropicsdk.RawContentBlockDeltaUnion{Type: "text_delta", Text: "hel"},
		}),
		mkEvent(anthropicsdk.ContentBlockDeltaEvent{
			Type:  constant.ContentBlockDelta("content_block_delta"),
			Index: 0,
			Delta: anthropicsdk.RawContentBlockDeltaUnion{Type: "text_delta", Text: "lo"},
		}),
		mkEvent(anthropicsdk.MessageDeltaEvent{
			Type:  constant.MessageDelta("message_delta"),
			Delta: anthropicsdk.MessageDeltaEventDelta{StopReason: "end_turn"},
			Usage: anthropicsdk.MessageDeltaUsage{OutputTokens: 3},
		}),
		mkEvent(anthropicsdk.MessageStopEvent{Type: constant.MessageStop("message_stop")}),
	}
	mock := &fakeMessages{
		streamFn: func(context.Context, anthropicsdk.MessageNewParams) *ssestream.Stream[anthropicsdk.MessageStreamEventUnion] {
			return ssestream.NewStream[anthropicsdk.MessageStreamEventUnion](&sequenceDecoder{events: events}, nil)
		},
	}
	p := &Provider{msgs: mock}

	stream, err := p.ConverseStream(context.Background(), modelpkg.ChatRequest{ModelID: "m", Messages: []modelpkg.Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	var items []modelpkg.ConverseEvent
	for item := range stream.Events() {
		items = append(items, item)
	}
	require.NoError(t, stream.Err())

	require.Len(t, items, 5)
	assert.Equal(t, modelpkg.ConverseEvent{}, items[0])
	assert.Equal(t, "hel", items[1].Delta.Text)
	assert.Equal(t, "lo", items[2].Delta.Text)
	assert.Equal(t, "end_turn", items[3].StopReason)
	assert.EqualValues(t, 9, *items[3].Metadata.Usage.InputTokens)
	assert.EqualValues(t, 3, *items[3].Metadata.Usage.OutputTokens)
	assert.EqualValues(t, 12, *items[3].Metadata.Usage.TotalTokens)
}

func TestConverseStreamUnavailable(t *testing.T) {
	p := &Provider{msgs: &fakeMessages{}}
	stream, err := p.ConverseStream(context.Background(), modelpkg.ChatRequest{ModelID: "m"})
	require.NoError(t, err)
	for range stream.Events() {
	}
	assert.Error(t, stream.Err())
}

func TestListModels(t *testing.T) {
	models := &fakeModels{page: &pagination.Page[anthropicsdk.ModelInfo]{
		Data: []anthropicsdk.ModelInfo{{ID: "claude-sonnet-4-5", DisplayName: "Claude Sonnet 4.5"}},
	}}
	p := &Provider{models: models}

	got, err := p.ListModels(context.Background(), modelpkg.ListModelsInput{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "claude-sonnet-4-5", got[0].ModelID)
	assert.Equal(t, "Claude Sonnet 4.5", got[0].ModelName)

	got, err = p.ListModels(context.Background(), modelpkg.ListModelsInput{OutputModality: "IMAGE"})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 1, models.calls)
}

func TestWrapError(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{"Request-Id": []string{"req_1"}}}
	apiErr := &anthropicsdk.Error{
		StatusCode: http.StatusTooManyRequests,
		Request:    httptest.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages", nil),
		Response:   resp,
	}
	require.NoError(t, apiErr.UnmarshalJSON([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)))
	ue, ok := modelpkg.AsUpstream(wrapError(apiErr))
	require.True(t, ok)
	assert.Equal(t, http.StatusTooManyRequests, ue.HTTPStatus())
	assert.Equal(t, "rate_limit_error", ue.Code)
	assert.Equal(t, "slow down", ue.Message)
	assert.Equal(t, "req_1", ue.RequestID)
	assert.ErrorIs(t, ue, apiErr)

	bare := &anthropicsdk.Error{
		StatusCode: http.StatusServiceUnavailable,
		Request:    httptest.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages", nil),
		Response:   &http.Response{StatusCode: http.StatusServiceUnavailable, Header: http.Header{}},
		RequestID:  "req_2",
	}
	ue, ok = modelpkg.AsUpstream(wrapError(bare))
	require.True(t, ok)
	assert.Empty(t, ue.Code)
	assert.Equal(t, "anthropic request failed with status 503", ue.Message)
	assert.Equal(t, "req_2", ue.RequestID)

	assert.ErrorIs(t, wrapError(context.Canceled), context.Canceled)
	assert.NoError(t, wrapError(nil))
	ue, ok = modelpkg.AsUpstream(wrapError(errors.New("boom")))
	require.True(t, ok)
	assert.Equal(t, "boom", ue.Message)
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
	p, err := New(Options{APIKey: "k", BaseURL: "http://localhost:1"})
	require.NoError(t, err)
	assert.Equal(t, ProviderName, p.Name())
}

type fakeMessages struct {
	newFn    func(context.Context, anthropicsdk.MessageNewParams) (*anthropicsdk.Message, error)
	streamFn func(context.Context, anthropicsdk.MessageNewParams) *ssestream.Stream[anthropicsdk.MessageStreamEventUnion]
}

func (f *fakeMessages) New(ctx context.Context, params anthropicsdk.MessageNewParams, _ ...option.RequestOption) (*anthropicsdk.Message, error) {
	if f.newFn == nil {
		return nil, errors.New("newFn not set")
	}
	return f.newFn(ctx, params)
}

func (f *fakeMessages) NewStreaming(ctx context.Context, params anthropicsdk.MessageNewParams, _ ...option.RequestOption) *ssestream.Stream[anthropicsdk.MessageStreamEventUnion] {
	if f.streamFn == nil {
		return nil
	}
	return f.streamFn(ctx, params)
}

type fakeModels struct {
	page  *pagination.Page[anthropicsdk.ModelInfo]
	calls int
}

func (f *fakeModels) List(context.Context, anthropicsdk.ModelListParams, ...option.RequestOption) (*pagination.Page[anthropicsdk.ModelInfo], error) {
	f.calls++
	return f.page, nil
}

type sequenceDecoder struct {
	events []ssestream.Event
	i      int
}

func (d *sequenceDecoder) Next() bool {
	if d.i >= len(d.events) {
		return false
	}
	d.i++
	return true
}

func (d *sequenceDecoder) Event() ssestream.Event {
	return d.events[d.i-1]
}

func (d *sequenceDecoder) Close() error { return nil }
func (d *sequenceDecoder) Err() error   { return nil }

func mkEvent(v any) ssestream.Event {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	var typeProbe struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(data, &typeProbe)
	return ssestream.Event{Type: typeProbe.Type, Data: data}
}
