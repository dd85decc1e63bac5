package cmd

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/agentloop-dev/agentloop/internal/llm"
)

// scriptedStream plays back a fixed event sequence, then an optional
// terminal error, then EOF.
type scriptedStream struct {
	events []llm.Event
	err    error
	pos    int
}

func (s *scriptedStream) Recv() (llm.Event, error) {
	if s.pos < len(s.events) {
		ev := s.events[s.pos]
		s.pos++
		return ev, nil
	}
	if s.err != nil {
		err := s.err
		s.err = nil
		return llm.Event{}, err
	}
	return llm.Event{}, io.EOF
}

func (s *scriptedStream) Close() error { return nil }

type scriptedProvider struct {
	mu      sync.Mutex
	streams []scriptedStream
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.streams) == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	s := p.streams[0]
	p.streams = p.streams[1:]
	return &s, nil
}

func TestStreamTurnDropsAbortedRoundOutput(t *testing.T) {
	provider := &scriptedProvider{streams: []scriptedStream{
		{
			events: []llm.Event{
				{Type: llm.EventTextDelta, Text: "partial"},
				{Type: llm.EventToolCall, Tool: &llm.ToolCall{ID: "c1", Name: "echo", Arguments: json.RawMessage(`{}`)}},
			},
			err: &llm.StreamError{Kind: llm.StreamErrTransport, Detail: "connection reset"},
		},
		{
			events: []llm.Event{
				{Type: llm.EventTextDelta, Text: "all good"},
				{Type: llm.EventUsage, Use: &llm.Usage{InputTokens: 10, OutputTokens: 5}},
				{Type: llm.EventDone},
			},
		},
	}}
	engine := llm.NewEngine(provider, llm.NewToolRegistry())

	result, err := streamTurn(context.Background(), engine,
		llm.Request{Messages: []llm.Message{llm.UserText("hi")}}, llm.TurnConfig{MaxRounds: 4})
	if err != nil {
		t.Fatal(err)
	}
	if result.FinalText != "all good" {
		t.Errorf("final text = %q, aborted attempt output must be dropped", result.FinalText)
	}
	if len(result.ToolCalls) != 0 {
		t.Errorf("tool calls = %+v, aborted attempt calls must be dropped", result.ToolCalls)
	}
	if result.Rounds != 1 {
		t.Errorf("rounds = %d", result.Rounds)
	}
	if result.Usage.InputTokens != 10 || result.Usage.OutputTokens != 5 {
		t.Errorf("usage = %+v", result.Usage)
	}
}

func TestStreamTurnCountsRoundsWithoutUsage(t *testing.T) {
	provider := &scriptedProvider{streams: []scriptedStream{
		{events: []llm.Event{
			{Type: llm.EventToolCall, Tool: &llm.ToolCall{ID: "c1", Name: "echo", Arguments: json.RawMessage(`{}`)}},
			{Type: llm.EventDone},
		}},
		{events: []llm.Event{
			{Type: llm.EventTextDelta, Text: "final"},
			{Type: llm.EventDone},
		}},
	}}

	registry := llm.NewToolRegistry()
	registry.Register(llm.ToolFunc{
		ToolSpec: llm.ToolSpec{Name: "echo"},
		Fn: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "ok", nil
		},
	})
	engine := llm.NewEngine(provider, registry)

	result, err := streamTurn(context.Background(), engine,
		llm.Request{Messages: []llm.Message{llm.UserText("hi")}}, llm.TurnConfig{MaxRounds: 4})
	if err != nil {
		t.Fatal(err)
	}
	if result.Rounds != 2 {
		t.Errorf("rounds = %d, want 2 even when no usage events arrive", result.Rounds)
	}
	if result.FinalText != "final" {
		t.Errorf("final text = %q", result.FinalText)
	}
	if len(result.ToolCalls) != 1 || result.ToolCalls[0].ID != "c1" {
		t.Errorf("tool calls = %+v", result.ToolCalls)
	}
}
