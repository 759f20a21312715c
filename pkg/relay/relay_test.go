package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/event"
	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/model"
	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/usage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingSink struct {
	mu     sync.Mutex
	events []event.Event
	failAt int
}

func (s *recordingSink) Send(evt event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt > 0 && len(s.events)+1 == s.failAt {
		return errors.New("client gone")
	}
	s.events = append(s.events, evt)
	return nil
}

func (s *recordingSink) types() []event.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.Type, 0, len(s.events))
	for _, evt := range s.events {
		out = append(out, evt.Type)
	}
	return out
}

func converseOpener(items []model.ConverseEvent, err error) ConverseOpener {
	return func(ctx context.Context) (*model.Stream[model.ConverseEvent], error) {
		return model.SliceStream(ctx, items, err), nil
	}
}

func textItem(s string) model.ConverseEvent {
	return model.ConverseEvent{ContentBlockDelta: &model.ContentBlockDelta{Delta: &model.TextDelta{Text: s}}}
}

func TestStreamConverseOrderedSession(t *testing.T) {
	ledger := usage.NewLedger(10)
	r := New(ledger)
	sink := &recordingSink{}

	items := []model.ConverseEvent{
		textItem("hel"),
		textItem("lo"),
		{Metadata: &model.StreamMetadata{Usage: model.NewTokenUsage(3, 2, 5)}},
		{MessageStop: &model.MessageStop{StopReason: "end_turn"}},
	}
	err := r.StreamConverse(context.Background(), sink, "m1", converseOpener(items, nil))
	require.NoError(t, err)

	assert.Equal(t, []event.Type{
		event.TypeStart, event.TypeDelta, event.TypeDelta, event.TypeUsage, event.TypeStop, event.TypeDone,
	}, sink.types())
	assert.Equal(t, "hel", sink.events[1].Text)
	assert.Equal(t, "lo", sink.events[2].Text)
	assert.Equal(t, "end_turn", sink.events[4].StopReason)
	for _, evt := range sink.events {
		require.NoError(t, evt.Validate())
	}

	recs := ledger.Recent(0)
	require.Len(t, recs, 1)
	assert.Equal(t, usage.KindConverse, recs[0].Kind)
	assert.Equal(t, "m1", recs[0].ModelID)
	assert.EqualValues(t, 5, *recs[0].TotalTokens)
	assert.False(t, recs[0].Estimated)
}

func TestStreamConverseUpstreamFailureMidStream(t *testing.T) {
	r := New(usage.NewLedger(10))
	sink := &recordingSink{}
	boom := errors.New("throttled")

	err := r.StreamConverse(context.Background(), sink, "m1", converseOpener([]model.ConverseEvent{textItem("a")}, boom))
	require.ErrorIs(t, err, boom)

	assert.Equal(t, []event.Type{event.TypeStart, event.TypeDelta, event.TypeError}, sink.types())
	assert.Equal(t, "throttled", sink.events[2].Message)
	assert.Zero(t, r.Ledger().Len())
}

func TestStreamConverseSetupFailureSendsOnlyError(t *testing.T) {
	r := New(usage.NewLedger(10))
	sink := &recordingSink{}
	open := func(context.Context) (*model.Stream[model.ConverseEvent], error) {
		return nil, errors.New("access denied")
	}
	err := r.StreamConverse(context.Background(), sink, "m1", open)
	require.Error(t, err)
	assert.Equal(t, []event.Type{event.TypeError}, sink.types())
}

func TestStreamConverseIgnoresUnknownItems(t *testing.T) {
	r := New(nil)
	sink := &recordingSink{}
	items := []model.ConverseEvent{{}, textItem(""), {Usage: &model.TokenUsage{}}}
	require.NoError(t, r.StreamConverse(context.Background(), sink, "m1", converseOpener(items, nil)))
	assert.Equal(t, []event.Type{event.TypeStart, event.TypeDone}, sink.types())
}

func TestStreamConverseEmptyUpstream(t *testing.T) {
	ledger := usage.NewLedger(10)
	r := New(ledger)
	sink := &recordingSink{}
	require.NoError(t, r.StreamConverse(context.Background(), sink, "m1", converseOpener(nil, nil)))
	assert.Equal(t, []event.Type{event.TypeStart, event.TypeDone}, sink.types())
	assert.Zero(t, ledger.Len())
}

func TestStreamConverseSinkFailureCancelsUpstream(t *testing.T) {
	r := New(usage.NewLedger(10))
	sink := &recordingSink{failAt: 2}
	cancelled := make(chan struct{})

	open := func(ctx context.Context) (*model.Stream[model.ConverseEvent], error) {
		return model.NewStream(ctx, 0, func(ctx context.Context, emit func(model.ConverseEvent) bool) error {
			defer close(cancelled)
			for emit(textItem("x")) {
			}
			return ctx.Err()
		}), nil
	}
	err := r.StreamConverse(context.Background(), sink, "m1", open)
	require.Error(t, err)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("upstream producer was not cancelled")
	}
	assert.Equal(t, []event.Type{event.TypeStart}, sink.types())
}

func TestStreamConverseRequestCancellation(t *testing.T) {
	r := New(usage.NewLedger(10))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := event.SinkFunc(func(evt event.Event) error {
		if evt.Type == event.TypeDelta {
			cancel()
		}
		return nil
	})
	open := func(ctx context.Context) (*model.Stream[model.ConverseEvent], error) {
		return model.NewStream(ctx, 0, func(ctx context.Context, emit func(model.ConverseEvent) bool) error {
			for emit(textItem("x")) {
			}
			return ctx.Err()
		}), nil
	}
	err := r.StreamConverse(ctx, sink, "m1", open)
	require.ErrorIs(t, err, context.Canceled)
}

func TestStreamConverseRecordsLastUsage(t *testing.T) {
	ledger := usage.NewLedger(10)
	r := New(ledger)
	items := []model.ConverseEvent{
		{Usage: model.NewTokenUsage(1, 1, 2)},
		{Metadata: &model.StreamMetadata{Usage: model.NewTokenUsage(7, 3, 10)}},
	}
	require.NoError(t, r.StreamConverse(context.Background(), &recordingSink{}, "m2", converseOpener(items, nil)))
	recs := ledger.Recent(0)
	require.Len(t, recs, 1)
	assert.EqualValues(t, 7, *recs[0].InputTokens)
	assert.EqualValues(t, 10, *recs[0].TotalTokens)
}

func agentOpener(sessionID string, items []model.AgentEvent, err error) AgentOpener {
	return func(ctx context.Context) (*model.AgentStream, error) {
		return &model.AgentStream{SessionID: sessionID, Stream: model.SliceStream(ctx, items, err)}, nil
	}
}

func boolPtr(v bool) *bool { return &v }

func TestStreamAgentWithTraces(t *testing.T) {
	ledger := usage.NewLedger(10)
	r := New(ledger)
	sink := &recordingSink{}
	req := model.AgentRequest{AgentID: "A", AgentAliasID: "AL", InputText: "hi", EnableTrace: boolPtr(true)}
	trace := map[string]any{"orchestrationTrace": map[string]any{"usage": map[string]any{"inputTokens": 12.0, "outputTokens": 4.0}}}

	items := []model.AgentEvent{
		{Chunk: []byte("Hel")},
		{Trace: trace},
		{Chunk: []byte("lo")},
	}
	require.NoError(t, r.StreamAgent(context.Background(), sink, req, agentOpener("s-1", items, nil)))

	assert.Equal(t, []event.Type{
		event.TypeStart, event.TypeDelta, event.TypeTrace, event.TypeDelta, event.TypeDone,
	}, sink.types())
	assert.Equal(t, "s-1", sink.events[0].SessionID)
	assert.Equal(t, trace, sink.events[2].Trace)

	recs := ledger.Recent(0)
	require.Len(t, recs, 1)
	assert.Equal(t, usage.KindAgent, recs[0].Kind)
	assert.Equal(t, "A", recs[0].AgentID)
	assert.False(t, recs[0].Estimated)
	assert.EqualValues(t, 12, *recs[0].InputTokens)
	assert.EqualValues(t, 4, *recs[0].OutputTokens)
	assert.Nil(t, recs[0].TotalTokens)
	assert.Equal(t, "s-1", recs[0].Meta["sessionId"])
}

func TestStreamAgentTraceOptIn(t *testing.T) {
	r := New(usage.NewLedger(10))
	sink := &recordingSink{}
	req := model.AgentRequest{AgentID: "A", AgentAliasID: "AL", InputText: "hi"}
	items := []model.AgentEvent{{Chunk: []byte("ok")}, {Trace: map[string]any{"x": 1.0}}}
	require.NoError(t, r.StreamAgent(context.Background(), sink, req, agentOpener("s", items, nil)))
	assert.Equal(t, []event.Type{event.TypeStart, event.TypeDelta, event.TypeDone}, sink.types())
}

func TestStreamAgentEstimatesWithoutTraceUsage(t *testing.T) {
	ledger := usage.NewLedger(10)
	r := New(ledger, WithEstimateLanguage("en"))
	req := model.AgentRequest{AgentID: "A", AgentAliasID: "AL", InputText: "12345678"}
	items := []model.AgentEvent{{Chunk: []byte("abcd")}}
	require.NoError(t, r.StreamAgent(context.Background(), &recordingSink{}, req, agentOpener("s", items, nil)))

	rec := ledger.Recent(1)[0]
	assert.True(t, rec.Estimated)
	assert.EqualValues(t, 2, *rec.InputTokens)
	assert.EqualValues(t, 1, *rec.OutputTokens)
	assert.EqualValues(t, 3, *rec.TotalTokens)
}

func TestStreamAgentSplitRune(t *testing.T) {
	r := New(nil)
	sink := &recordingSink{}
	word := []byte("안녕")
	items := []model.AgentEvent{{Chunk: word[:2]}, {Chunk: word[2:4]}, {Chunk: word[4:]}}
	req := model.AgentRequest{AgentID: "A", AgentAliasID: "AL", InputText: "q"}
	require.NoError(t, r.StreamAgent(context.Background(), sink, req, agentOpener("s", items, nil)))

	var text strings.Builder
	for _, evt := range sink.events {
		if evt.Type == event.TypeDelta {
			text.WriteString(evt.Text)
		}
	}
	assert.Equal(t, "안녕", text.String())
	assert.NotContains(t, text.String(), "\uFFFD")
}

func TestStreamAgentFailure(t *testing.T) {
	r := New(usage.NewLedger(10))
	sink := &recordingSink{}
	req := model.AgentRequest{AgentID: "A", AgentAliasID: "AL", InputText: "q"}
	err := r.StreamAgent(context.Background(), sink, req, agentOpener("s", []model.AgentEvent{{Chunk: []byte("a")}}, errors.New("dependency failed")))
	require.Error(t, err)
	assert.Equal(t, []event.Type{event.TypeStart, event.TypeDelta, event.TypeError}, sink.types())
	assert.Zero(t, r.Ledger().Len())
}

func TestCollectAgent(t *testing.T) {
	ledger := usage.NewLedger(10)
	r := New(ledger)
	req := model.AgentRequest{AgentID: "A", AgentAliasID: "AL", InputText: "q"}
	items := []model.AgentEvent{
		{Chunk: []byte("one ")},
		{Trace: map[string]any{"step": 1.0}},
		{Chunk: []byte("two")},
		{Chunk: []byte{0xff}},
	}
	res, err := r.CollectAgent(context.Background(), req, agentOpener("s-9", items, nil))
	require.NoError(t, err)
	assert.Equal(t, "s-9", res.SessionID)
	assert.Equal(t, "one two\uFFFD", res.Text)
	assert.Len(t, res.Trace, 1)
	assert.Equal(t, 1, ledger.Len())
	assert.True(t, ledger.Recent(1)[0].Estimated)
}

func TestCollectAgentOpenFailure(t *testing.T) {
	r := New(usage.NewLedger(10))
	open := func(context.Context) (*model.AgentStream, error) { return nil, errors.New("no alias") }
	_, err := r.CollectAgent(context.Background(), model.AgentRequest{}, open)
	require.EqualError(t, err, "no alias")
	assert.Zero(t, r.Ledger().Len())
}

func TestRecordRAG(t *testing.T) {
	ledger := usage.NewLedger(10)
	r := New(ledger, WithEstimateLanguage("en"))
	r.RecordChat("m1", model.NewTokenUsage(10, 20, 30))
	r.RecordRAG(model.RAGRequest{KnowledgeBaseID: "KB1", Query: "abcdefgh"}, "arn:model")

	rec := ledger.Recent(1)[0]
	assert.Equal(t, usage.KindRAG, rec.Kind)
	assert.Equal(t, "arn:model", rec.ModelID)
	assert.True(t, rec.Estimated)
	assert.Nil(t, rec.InputTokens)
	assert.Nil(t, rec.OutputTokens)
	assert.Nil(t, rec.TotalTokens)
	assert.Equal(t, "KB1", rec.Meta["knowledgeBaseId"])

	sum := ledger.Summarize(0)
	assert.Equal(t, 2, sum.Window)
	assert.Equal(t, 1, sum.Count)
	assert.InDelta(t, 10, sum.AvgInputTokens, 1e-9)
	assert.InDelta(t, 20, sum.AvgOutputTokens, 1e-9)
	assert.InDelta(t, 30, sum.AvgTotalTokens, 1e-9)
}

func TestRecordChatSkipsEmptyUsage(t *testing.T) {
	ledger := usage.NewLedger(10)
	r := New(ledger)
	r.RecordChat("m", nil)
	r.RecordChat("m", &model.TokenUsage{})
	assert.Zero(t, ledger.Len())
}
