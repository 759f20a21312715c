package model

import (
	"context"
	"sync"
)

// DefaultStreamBuffer bounds the number of upstream items a producer may
// run ahead of its consumer.
const DefaultStreamBuffer = 16

// Producer feeds a Stream. emit blocks until the item is queued and returns
// false once the stream context is done, at which point the producer should
// release its upstream resources and return.
type Producer[T any] func(ctx context.Context, emit func(T) bool) error

// Stream is a bounded channel of upstream items filled by a producer
// goroutine. Cancelling the parent context, or calling Close, cancels the
// producer and therefore the upstream call.
type Stream[T any] struct {
	events chan T
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	err    error
}

// NewStream starts produce in its own goroutine.
func NewStream[T any](ctx context.Context, buffer int, produce Producer[T]) *Stream[T] {
	if buffer < 0 {
		buffer = 0
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream[T]{
		events: make(chan T, buffer),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go func() {
		defer close(s.done)
		defer close(s.events)
		interrupted := false
		emit := func(v T) bool {
			select {
			case <-ctx.Done():
				interrupted = true
				return false
			default:
			}
			select {
			case s.events <- v:
				return true
			case <-ctx.Done():
				interrupted = true
				return false
			}
		}
		err := produce(ctx, emit)
		if err == nil && interrupted {
			err = ctx.Err()
		}
		s.err = err
	}()
	return s
}

// SliceStream replays items and then finishes with err. It is mostly useful
// for tests and for upstream APIs that return everything at once.
func SliceStream[T any](ctx context.Context, items []T, err error) *Stream[T] {
	return NewStream(ctx, len(items), func(ctx context.Context, emit func(T) bool) error {
		for _, item := range items {
			if !emit(item) {
				return ctx.Err()
			}
		}
		return err
	})
}

// Events returns the receive side of the stream. It is closed when the
// producer returns.
func (s *Stream[T]) Events() <-chan T {
	return s.events
}

// Err blocks until the producer has returned and reports its failure.
func (s *Stream[T]) Err() error {
	<-s.done
	return s.err
}

// Close cancels the producer and waits for it to exit.
func (s *Stream[T]) Close() error {
	s.once.Do(s.cancel)
	for range s.events {
	}
	<-s.done
	return nil
}
