package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// ErrClosed is returned by Send once a terminal event was written.
var ErrClosed = errors.New("event: stream closed")

// Stream writes the events of a single session as Server-Sent Events.
// Frames carry a per-session sequence id, the event type and a JSON body
// that repeats the type so that clients parsing only data lines still see it.
type Stream struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	seq     int
	closed  bool
}

// Open commits SSE headers on w and flushes them.
func Open(w http.ResponseWriter) (*Stream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("event: response does not support streaming")
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream; charset=utf-8")
	headers.Set("Cache-Control", "no-cache, no-transform")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &Stream{w: w, flusher: flusher}, nil
}

// NewStreamWriter writes frames to a plain writer (useful for tests and
// for piping a session to a file).
func NewStreamWriter(w io.Writer) *Stream {
	s := &Stream{w: w}
	if f, ok := w.(http.Flusher); ok {
		s.flusher = f
	}
	return s
}

// Send writes one frame. After a terminal event every call fails with
// ErrClosed.
func (s *Stream) Send(evt Event) error {
	if s == nil {
		return errors.New("event: stream is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.seq++
	frame, err := encodeEvent(s.seq, evt)
	if err != nil {
		return err
	}
	if evt.Terminal() {
		s.closed = true
	}
	if _, err := s.w.Write(frame); err != nil {
		s.closed = true
		return fmt.Errorf("event: write frame: %w", err)
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// Closed reports whether the session has ended.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func encodeEvent(seq int, evt Event) ([]byte, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("event: marshal SSE payload: %w", err)
	}
	frame := fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", seq, evt.Type, body)
	return []byte(frame), nil
}
