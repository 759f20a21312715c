package event

import (
	"errors"
	"fmt"

	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/model"
)

// Type names a relay event variant.
type Type string

const (
	TypeStart Type = "start"
	TypeDelta Type = "delta"
	TypeUsage Type = "usage"
	TypeStop  Type = "stop"
	TypeTrace Type = "trace"
	TypeDone  Type = "done"
	TypeError Type = "error"
)

var knownTypes = map[Type]struct{}{
	TypeStart: {},
	TypeDelta: {},
	TypeUsage: {},
	TypeStop:  {},
	TypeTrace: {},
	TypeDone:  {},
	TypeError: {},
}

// Event is one normalized item of a relay session. Only the fields of its
// variant are set.
type Event struct {
	Type       Type              `json:"type"`
	SessionID  string            `json:"sessionId,omitempty"`
	Text       string            `json:"text,omitempty"`
	Usage      *model.TokenUsage `json:"usage,omitempty"`
	StopReason string            `json:"stopReason,omitempty"`
	Trace      any               `json:"trace,omitempty"`
	Message    string            `json:"message,omitempty"`
}

// Start opens a session, optionally naming the upstream session.
func Start(sessionID string) Event { return Event{Type: TypeStart, SessionID: sessionID} }

// Delta carries an incremental text fragment.
func Delta(text string) Event { return Event{Type: TypeDelta, Text: text} }

// Usage carries token counters reported mid-stream.
func Usage(u *model.TokenUsage) Event { return Event{Type: TypeUsage, Usage: u} }

// Stop carries the upstream stop reason.
func Stop(reason string) Event { return Event{Type: TypeStop, StopReason: reason} }

// Trace carries an agent trace payload.
func Trace(payload any) Event { return Event{Type: TypeTrace, Trace: payload} }

// Done terminates a successful session.
func Done() Event { return Event{Type: TypeDone} }

// Error terminates a failed session.
func Error(message string) Event { return Event{Type: TypeError, Message: message} }

// Terminal reports whether no event may follow e.
func (e Event) Terminal() bool {
	return e.Type == TypeDone || e.Type == TypeError
}

// Validate checks that the event is a known variant with its payload set.
func (e Event) Validate() error {
	if e.Type == "" {
		return errors.New("event: type is empty")
	}
	if _, ok := knownTypes[e.Type]; !ok {
		return fmt.Errorf("event: unknown type %q", e.Type)
	}
	switch e.Type {
	case TypeDelta:
		if e.Text == "" {
			return errors.New("event: delta without text")
		}
	case TypeUsage:
		if e.Usage.Empty() {
			return errors.New("event: usage without counters")
		}
	case TypeStop:
		if e.StopReason == "" {
			return errors.New("event: stop without reason")
		}
	case TypeTrace:
		if e.Trace == nil {
			return errors.New("event: trace without payload")
		}
	}
	return nil
}

// Sink receives the events of one session in order.
type Sink interface {
	Send(Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event) error

// Send calls f(evt).
func (f SinkFunc) Send(evt Event) error { return f(evt) }
