package event

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/model"
)

func TestValidate(t *testing.T) {
	valid := []Event{
		Start(""),
		Start("sess-1"),
		Delta("hi"),
		Usage(model.NewTokenUsage(1, 2, 3)),
		Stop("end_turn"),
		Trace(map[string]any{"step": 1}),
		Done(),
		Error("boom"),
	}
	for _, evt := range valid {
		assert.NoError(t, evt.Validate(), "type=%s", evt.Type)
	}

	invalid := []Event{
		{},
		{Type: "progress"},
		Delta(""),
		Usage(&model.TokenUsage{}),
		Stop(""),
		Trace(nil),
	}
	for _, evt := range invalid {
		assert.Error(t, evt.Validate(), "type=%s", evt.Type)
	}
}

func TestOpenSetsHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	s, err := Open(rec)
	require.NoError(t, err)
	require.NotNil(t, s)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache, no-transform", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.True(t, rec.Flushed)
}

type plainWriter struct{ http.ResponseWriter }

func TestOpenRequiresFlusher(t *testing.T) {
	_, err := Open(plainWriter{httptest.NewRecorder()})
	assert.Error(t, err)
}

func TestStreamFramesAndClosesAfterTerminal(t *testing.T) {
	var buf bytes.Buffer
	s := NewStreamWriter(&buf)
	require.NoError(t, s.Send(Start("abc")))
	require.NoError(t, s.Send(Delta("hel")))
	require.NoError(t, s.Send(Done()))
	assert.ErrorIs(t, s.Send(Delta("late")), ErrClosed)
	assert.True(t, s.Closed())

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "id: 1\nevent: start\ndata: {\"type\":\"start\",\"sessionId\":\"abc\"}\n\n"), out)
	assert.Contains(t, out, "id: 2\nevent: delta\ndata: {\"type\":\"delta\",\"text\":\"hel\"}\n\n")
	assert.NotContains(t, out, "late")

	events, err := Decode(strings.NewReader(": connected\n\n" + out))
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, []Type{TypeStart, TypeDelta, TypeDone}, []Type{events[0].Type, events[1].Type, events[2].Type})
	assert.Equal(t, "abc", events[0].SessionID)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestStreamWriteFailureCloses(t *testing.T) {
	s := NewStreamWriter(failingWriter{})
	assert.Error(t, s.Send(Delta("x")))
	assert.ErrorIs(t, s.Send(Delta("y")), ErrClosed)
}

func TestSinkFunc(t *testing.T) {
	var got []Type
	sink := SinkFunc(func(evt Event) error {
		got = append(got, evt.Type)
		return nil
	})
	require.NoError(t, sink.Send(Stop("max_tokens")))
	assert.Equal(t, []Type{TypeStop}, got)
}
