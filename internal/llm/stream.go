package llm

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Stream is a pull-based canonical event stream. Recv blocks until the
// next event is available and returns io.EOF after the stream completes.
// A Done event is always the last event delivered for a healthy stream.
type Stream interface {
	Recv() (Event, error)
	Close() error
}

// StreamErrorKind classifies terminal stream failures.
type StreamErrorKind string

const (
	StreamErrMalformedFrame  StreamErrorKind = "malformed_frame"
	StreamErrProviderError   StreamErrorKind = "provider_error"
	StreamErrDanglingCall    StreamErrorKind = "dangling_tool_call"
	StreamErrTransport       StreamErrorKind = "transport_failure"
)

// StreamError is a terminal, adapter-level stream failure. It ends the
// stream it occurs on; retry decisions belong to the caller.
type StreamError struct {
	Kind   StreamErrorKind
	Detail string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream error (%s): %s", e.Kind, e.Detail)
}

// eventStream adapts a producer goroutine into a Stream. The producer
// writes events to the channel and its final error, if any, is surfaced
// from Recv after the channel drains.
type eventStream struct {
	events chan Event
	cancel context.CancelFunc

	mu   sync.Mutex
	err  error
	done bool

	closeOnce sync.Once
}

// newEventStream starts producer on its own goroutine and returns a
// Stream over the events it emits. The producer must return once its
// context is canceled; unconsumed events are drained on Close.
func newEventStream(ctx context.Context, producer func(ctx context.Context, events chan<- Event) error) *eventStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &eventStream{
		events: make(chan Event, 16),
		cancel: cancel,
	}
	go func() {
		err := producer(ctx, s.events)
		s.mu.Lock()
		s.err = err
		s.done = true
		s.mu.Unlock()
		close(s.events)
	}()
	return s
}

func (s *eventStream) Recv() (Event, error) {
	ev, ok := <-s.events
	if !ok {
		s.mu.Lock()
		err := s.err
		s.mu.Unlock()
		if err != nil {
			return Event{}, err
		}
		return Event{}, io.EOF
	}
	return ev, nil
}

func (s *eventStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		go func() {
			for range s.events {
			}
		}()
	})
	return nil
}

// DrainText consumes a stream to completion and returns the concatenated
// text along with the final usage, if any. Intended for non-interactive
// callers.
func DrainText(s Stream) (string, *Usage, error) {
	defer s.Close()
	var text string
	var usage *Usage
	for {
		ev, err := s.Recv()
		if err == io.EOF {
			return text, usage, nil
		}
		if err != nil {
			return text, usage, err
		}
		switch ev.Type {
		case EventTextDelta:
			text += ev.Text
		case EventUsage:
			usage = ev.Use
		case EventError:
			return text, usage, ev.Err
		}
	}
}
