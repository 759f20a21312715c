// Package relay turns upstream generative-AI event sequences into
// normalized SSE sessions and keeps the usage ledger up to date.
package relay

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/event"
	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/model"
	"github.com/edumgt/AI-AWS-Bedrock-course/pkg/usage"
)

// ConverseOpener starts an upstream conversation stream bound to ctx.
type ConverseOpener func(ctx context.Context) (*model.Stream[model.ConverseEvent], error)

// AgentOpener starts an upstream agent invocation bound to ctx.
type AgentOpener func(ctx context.Context) (*model.AgentStream, error)

// Relay forwards upstream sequences to sinks and records usage.
type Relay struct {
	ledger *usage.Ledger
	logger *zap.Logger
	lang   string
}

// Option customizes a Relay.
type Option func(*Relay)

// WithLogger sets the relay logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithEstimateLanguage selects the character ratio used when token counts
// have to be estimated ("ko" or "en").
func WithEstimateLanguage(lang string) Option {
	return func(r *Relay) {
		if lang = strings.TrimSpace(lang); lang != "" {
			r.lang = lang
		}
	}
}

// New builds a relay recording into ledger.
func New(ledger *usage.Ledger, opts ...Option) *Relay {
	r := &Relay{
		ledger: ledger,
		logger: zap.NewNop(),
		lang:   "ko",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ledger returns the ledger the relay records into.
func (r *Relay) Ledger() *usage.Ledger { return r.ledger }

// StreamConverse relays one conversation stream: start, the decoded items,
// then done. Any upstream failure ends the session with a single error
// event. A failing sink cancels the upstream call and is returned as is.
func (r *Relay) StreamConverse(ctx context.Context, sink event.Sink, modelID string, open ConverseOpener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	started := time.Now()
	log := r.logger.With(zap.String("kind", string(usage.KindConverse)), zap.String("model", modelID))

	stream, err := open(ctx)
	if err != nil {
		return r.fail(log, sink, err)
	}
	defer stream.Close()

	if err := sink.Send(event.Start("")); err != nil {
		return err
	}
	var (
		last  *model.TokenUsage
		count int
	)
	for item := range stream.Events() {
		for _, evt := range Decode(item) {
			if evt.Type == event.TypeUsage {
				last = evt.Usage
			}
			if err := sink.Send(evt); err != nil {
				log.Debug("downstream closed", zap.Error(err))
				return err
			}
			count++
		}
	}
	if err := stream.Err(); err != nil {
		return r.fail(log, sink, err)
	}
	r.RecordChat(modelID, last)
	log.Debug("converse stream finished", zap.Int("events", count), zap.Duration("elapsed", time.Since(started)))
	return sink.Send(event.Done())
}

// StreamAgent relays an agent completion. start carries the upstream
// session id; trace events are forwarded only when the request opted in.
func (r *Relay) StreamAgent(ctx context.Context, sink event.Sink, req model.AgentRequest, open AgentOpener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	started := time.Now()
	log := r.logger.With(zap.String("kind", string(usage.KindAgent)), zap.String("agent", req.AgentID))

	stream, err := open(ctx)
	if err != nil {
		return r.fail(log, sink, err)
	}
	defer stream.Close()

	if err := sink.Send(event.Start(stream.SessionID)); err != nil {
		return err
	}
	acc := newAgentAccumulator()
	for item := range stream.Events() {
		if text := acc.addChunk(item.Chunk); text != "" {
			if err := sink.Send(event.Delta(text)); err != nil {
				return err
			}
		}
		if item.Trace == nil {
			continue
		}
		acc.addTrace(item.Trace)
		if req.TraceEnabled() {
			if err := sink.Send(event.Trace(item.Trace)); err != nil {
				return err
			}
		}
	}
	if tail := acc.flush(); tail != "" {
		if err := sink.Send(event.Delta(tail)); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil {
		return r.fail(log, sink, err)
	}
	r.RecordAgent(req, stream.SessionID, acc.text.String(), acc.traces)
	log.Debug("agent stream finished", zap.String("session", stream.SessionID), zap.Duration("elapsed", time.Since(started)))
	return sink.Send(event.Done())
}

// AgentResult is a drained agent invocation.
type AgentResult struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
	Trace     []any  `json:"trace,omitempty"`
}

// CollectAgent drains an agent completion, concatenating text in arrival
// order and keeping every trace payload.
func (r *Relay) CollectAgent(ctx context.Context, req model.AgentRequest, open AgentOpener) (*AgentResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := open(ctx)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	acc := newAgentAccumulator()
	for item := range stream.Events() {
		acc.addChunk(item.Chunk)
		if item.Trace != nil {
			acc.addTrace(item.Trace)
		}
	}
	acc.flush()
	if err := stream.Err(); err != nil {
		return nil, err
	}
	text := acc.text.String()
	r.RecordAgent(req, stream.SessionID, text, acc.traces)
	return &AgentResult{SessionID: stream.SessionID, Text: text, Trace: acc.traces}, nil
}

func (r *Relay) fail(log *zap.Logger, sink event.Sink, err error) error {
	if errors.Is(err, context.Canceled) {
		log.Debug("relay cancelled", zap.Error(err))
	} else {
		log.Warn("relay failed", zap.Error(err))
	}
	if sendErr := sink.Send(event.Error(err.Error())); sendErr != nil {
		log.Debug("error event not delivered", zap.Error(sendErr))
	}
	return err
}
