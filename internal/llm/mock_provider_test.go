package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// scriptedRound is one provider response in a mock script. streamErr
// fails the Stream call outright; otherwise events play back in order
// and recvErr, if set, surfaces from Recv after the last event.
type scriptedRound struct {
	streamErr error
	recvErr   error
	events    []Event
}

// mockProvider plays back scripted rounds and records every request it
// receives.
type mockProvider struct {
	mu       sync.Mutex
	rounds   []scriptedRound
	next     int
	Requests []Request
}

func newMockProvider(rounds ...scriptedRound) *mockProvider {
	return &mockProvider{rounds: rounds}
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	m.mu.Lock()
	idx := m.next
	m.next++
	m.Requests = append(m.Requests, req.Clone())
	m.mu.Unlock()

	if idx >= len(m.rounds) {
		return nil, fmt.Errorf("mock: unscripted round %d", idx+1)
	}
	round := m.rounds[idx]
	if round.streamErr != nil {
		return nil, round.streamErr
	}
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		for _, ev := range round.events {
			select {
			case events <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return round.recvErr
	}), nil
}

func (m *mockProvider) streamCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.next
}

func textRound(text string, usage Usage) scriptedRound {
	return scriptedRound{events: []Event{
		{Type: EventTextDelta, Text: text},
		{Type: EventUsage, Use: &usage},
		{Type: EventDone},
	}}
}

func toolRound(calls ...ToolCall) scriptedRound {
	var events []Event
	for i := range calls {
		events = append(events, Event{Type: EventToolCall, Tool: &calls[i]})
	}
	events = append(events,
		Event{Type: EventUsage, Use: &Usage{InputTokens: 10, OutputTokens: 5}},
		Event{Type: EventDone},
	)
	return scriptedRound{events: events}
}

func errorRound(kind StreamErrorKind, detail string) scriptedRound {
	return scriptedRound{events: []Event{
		{Type: EventError, Err: &StreamError{Kind: kind, Detail: detail}},
	}}
}

// countingTool records executions and returns a fixed output.
type countingTool struct {
	name   string
	output string
	err    error

	mu    sync.Mutex
	calls []string
}

func (t *countingTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        t.name,
		Description: "test tool",
		Schema:      map[string]interface{}{"type": "object"},
	}
}

func (t *countingTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	t.mu.Lock()
	t.calls = append(t.calls, string(args))
	t.mu.Unlock()
	if t.err != nil {
		return "", t.err
	}
	return t.output, nil
}

func (t *countingTool) executions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}
