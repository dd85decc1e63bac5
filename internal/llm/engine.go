package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// DefaultMaxRounds bounds the tool-call loop when the caller does not
// configure a ceiling.
const DefaultMaxRounds = 8

// TurnConfig bounds one conversational turn.
type TurnConfig struct {
	// MaxRounds is the hard ceiling on request/stream cycles within the
	// turn. Zero means DefaultMaxRounds.
	MaxRounds int

	// RoundTimeout bounds each streaming round, submission through Done.
	// Zero disables the bound.
	RoundTimeout time.Duration

	// ToolTimeout bounds each tool execution. Zero disables the bound.
	ToolTimeout time.Duration
}

func (c TurnConfig) maxRounds() int {
	if c.MaxRounds > 0 {
		return c.MaxRounds
	}
	return DefaultMaxRounds
}

// TurnResult is the outcome of a completed turn.
type TurnResult struct {
	// FinalText is the concatenated text of the last round, the one that
	// produced no further tool calls.
	FinalText string

	// ToolCalls lists every call executed during the turn, in execution
	// order.
	ToolCalls []ToolCall

	// Usage is summed across all rounds of the turn.
	Usage Usage

	// Rounds is the number of request/stream cycles executed.
	Rounds int
}

// TurnFailReason is a machine-checkable code for a failed turn.
type TurnFailReason string

const (
	ReasonRoundCeiling     TurnFailReason = "round_ceiling_exceeded"
	ReasonRoundTimeout     TurnFailReason = "round_timeout"
	ReasonProviderError    TurnFailReason = "provider_error"
	ReasonTransportFailure TurnFailReason = "transport_failure"
	ReasonMalformedFrame   TurnFailReason = "malformed_frame"
	ReasonDanglingToolCall TurnFailReason = "dangling_tool_call"
	ReasonDispatchFailure  TurnFailReason = "dispatch_failure"
	ReasonCanceled         TurnFailReason = "canceled"
)

// TurnError is the failure outcome of a turn. Hitting the round ceiling
// is an expected result, not an exceptional one; callers distinguish it
// by Reason.
type TurnError struct {
	Reason TurnFailReason
	Detail string
	Rounds int
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn failed (%s) after %d round(s): %s", e.Reason, e.Rounds, e.Detail)
}

// Engine drives multi-round, tool-augmented turns against one provider.
type Engine struct {
	provider Provider
	tools    *ToolRegistry

	mu      sync.Mutex
	onUsage func(Usage)
	debug   *DebugLogger
}

func NewEngine(provider Provider, tools *ToolRegistry) *Engine {
	if tools == nil {
		tools = NewToolRegistry()
	}
	return &Engine{provider: provider, tools: tools}
}

func (e *Engine) Provider() Provider   { return e.provider }
func (e *Engine) Tools() *ToolRegistry { return e.tools }

// SetUsageCallback registers a hook invoked with each round's usage.
func (e *Engine) SetUsageCallback(fn func(Usage)) {
	e.mu.Lock()
	e.onUsage = fn
	e.mu.Unlock()
}

// SetDebugLogger attaches a logger recording every round's request and
// stream events. A nil logger disables recording.
func (e *Engine) SetDebugLogger(l *DebugLogger) {
	e.mu.Lock()
	e.debug = l
	e.mu.Unlock()
}

func (e *Engine) debugLogger() *DebugLogger {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.debug
}

func (e *Engine) notifyUsage(u Usage) {
	e.mu.Lock()
	fn := e.onUsage
	e.mu.Unlock()
	if fn != nil {
		fn(u)
	}
}

// RunTurn executes one turn to completion and returns its result. On
// failure the returned error is a *TurnError carrying the reason code.
func (e *Engine) RunTurn(ctx context.Context, req Request, cfg TurnConfig) (*TurnResult, error) {
	return e.runLoop(ctx, req, cfg, nil)
}

// Stream executes one turn, yielding canonical events as they arrive.
// Intermediate per-round Done events are elided; a single Done ends the
// stream once the turn completes. Every event carries the round that
// produced it, so consumers can discard an aborted attempt's output
// when a retry restarts the round.
func (e *Engine) Stream(ctx context.Context, req Request, cfg TurnConfig) Stream {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		emit := func(ev Event) error {
			select {
			case events <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		result, err := e.runLoop(ctx, req, cfg, emit)
		if err != nil {
			var turnErr *TurnError
			if errors.As(err, &turnErr) {
				if emitErr := emit(Event{Type: EventError, Err: turnErr, Round: turnErr.Rounds}); emitErr != nil {
					return emitErr
				}
				return nil
			}
			return err
		}
		return emit(Event{Type: EventDone, Round: result.Rounds})
	})
}

// roundOutcome is what one streaming round produced.
type roundOutcome struct {
	text      string
	toolCalls []ToolCall
	usage     *Usage
}

func (e *Engine) runLoop(ctx context.Context, req Request, cfg TurnConfig, emit func(Event) error) (*TurnResult, error) {
	req = req.Clone()
	maxRounds := cfg.maxRounds()
	result := &TurnResult{}

	debug := e.debugLogger()

	for round := 1; round <= maxRounds; round++ {
		result.Rounds = round

		roundEmit := emit
		if emit != nil {
			r := round
			roundEmit = func(ev Event) error {
				ev.Round = r
				return emit(ev)
			}
		}

		debug.LogRequest(round, e.provider.Name(), req)
		outcome, err := e.streamRoundWithRetry(ctx, req, cfg, roundEmit)
		if err != nil {
			var turnErr *TurnError
			if errors.As(err, &turnErr) {
				turnErr.Rounds = round
				return nil, turnErr
			}
			return nil, &TurnError{Reason: ReasonDispatchFailure, Detail: err.Error(), Rounds: round}
		}

		if outcome.usage != nil {
			result.Usage.Add(*outcome.usage)
			e.notifyUsage(*outcome.usage)
		}

		calls := dedupeToolCalls(ensureToolCallIDs(outcome.toolCalls))
		if len(calls) == 0 {
			result.FinalText = outcome.text
			return result, nil
		}

		result.ToolCalls = append(result.ToolCalls, calls...)
		if round == maxRounds {
			return nil, &TurnError{
				Reason: ReasonRoundCeiling,
				Detail: fmt.Sprintf("model requested tool calls on round %d with max rounds %d", round, maxRounds),
				Rounds: maxRounds,
			}
		}

		results := e.executeToolCalls(ctx, calls, cfg.ToolTimeout)
		for _, msg := range results {
			for _, part := range msg.Parts {
				if part.Type == PartToolResult && part.ToolResult != nil {
					debug.LogToolResult(*part.ToolResult)
				}
			}
		}

		req.Messages = append(req.Messages, buildAssistantMessage(outcome.text, calls))
		req.Messages = append(req.Messages, results...)
	}

	// The loop returns from within; reaching here means maxRounds < 1.
	return nil, &TurnError{Reason: ReasonRoundCeiling, Detail: "no rounds permitted", Rounds: 0}
}

// streamRoundWithRetry retries a round at most once, and only when the
// failure was transport-level. Provider-reported errors never retry.
func (e *Engine) streamRoundWithRetry(ctx context.Context, req Request, cfg TurnConfig, emit func(Event) error) (*roundOutcome, error) {
	outcome, err := e.streamRound(ctx, req, cfg, emit)
	if err == nil {
		return outcome, nil
	}
	var turnErr *TurnError
	if errors.As(err, &turnErr) && turnErr.Reason == ReasonTransportFailure && ctx.Err() == nil {
		if emit != nil {
			if emitErr := emit(Event{Type: EventRetry, RetryAttempt: 1}); emitErr != nil {
				return nil, emitErr
			}
		}
		return e.streamRound(ctx, req, cfg, emit)
	}
	return nil, err
}

func (e *Engine) streamRound(ctx context.Context, req Request, cfg TurnConfig, emit func(Event) error) (*roundOutcome, error) {
	roundCtx := ctx
	var cancel context.CancelFunc
	if cfg.RoundTimeout > 0 {
		roundCtx, cancel = context.WithTimeout(ctx, cfg.RoundTimeout)
		defer cancel()
	}

	stream, err := e.provider.Stream(roundCtx, req)
	if err != nil {
		return nil, classifyRoundError(ctx, roundCtx, err)
	}
	defer stream.Close()

	debug := e.debugLogger()
	outcome := &roundOutcome{}
	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			return outcome, nil
		}
		if err != nil {
			return nil, classifyRoundError(ctx, roundCtx, err)
		}

		debug.LogEvent(ev)
		switch ev.Type {
		case EventTextDelta:
			outcome.text += ev.Text
		case EventToolCall:
			if ev.Tool != nil {
				outcome.toolCalls = append(outcome.toolCalls, *ev.Tool)
			}
		case EventUsage:
			outcome.usage = ev.Use
		case EventError:
			return nil, classifyRoundError(ctx, roundCtx, ev.Err)
		case EventDone:
			return outcome, nil
		}

		if emit != nil && ev.Type != EventDone && ev.Type != EventError {
			if err := emit(ev); err != nil {
				return nil, err
			}
		}
	}
}

// classifyRoundError maps stream failures onto turn failure reasons.
func classifyRoundError(turnCtx, roundCtx context.Context, err error) *TurnError {
	if turnCtx.Err() != nil {
		return &TurnError{Reason: ReasonCanceled, Detail: turnCtx.Err().Error()}
	}
	if roundCtx.Err() == context.DeadlineExceeded {
		return &TurnError{Reason: ReasonRoundTimeout, Detail: "round exceeded stream timeout"}
	}
	var streamErr *StreamError
	if errors.As(err, &streamErr) {
		reason := ReasonProviderError
		switch streamErr.Kind {
		case StreamErrTransport:
			reason = ReasonTransportFailure
		case StreamErrMalformedFrame:
			reason = ReasonMalformedFrame
		case StreamErrDanglingCall:
			reason = ReasonDanglingToolCall
		}
		return &TurnError{Reason: reason, Detail: streamErr.Detail}
	}
	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return &TurnError{Reason: ReasonProviderError, Detail: rateErr.Error()}
	}
	return &TurnError{Reason: ReasonTransportFailure, Detail: err.Error()}
}

// executeToolCalls runs a round's calls and returns one tool-result
// message per call, in call order. Calls may run concurrently; all
// complete (or time out) before the next round submits. Execution
// failures become failed tool results so the model can react to them.
func (e *Engine) executeToolCalls(ctx context.Context, calls []ToolCall, timeout time.Duration) []Message {
	if len(calls) == 1 {
		return []Message{e.executeOne(ctx, calls[0], timeout)}
	}

	results := make([]Message, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call ToolCall) {
			defer wg.Done()
			results[i] = e.executeOne(ctx, call, timeout)
		}(i, call)
	}
	wg.Wait()
	return results
}

func (e *Engine) executeOne(ctx context.Context, call ToolCall, timeout time.Duration) Message {
	tool, ok := e.tools.Get(call.Name)
	if !ok {
		return ToolErrorMessage(call.ID, call.Name, fmt.Errorf("unknown tool: %s", call.Name))
	}

	execCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	output, err := tool.Execute(execCtx, call.Arguments)
	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("tool %s timed out after %s", call.Name, timeout)
		}
		return ToolErrorMessage(call.ID, call.Name, err)
	}
	return ToolResultMessage(call.ID, call.Name, output)
}

// buildAssistantMessage reconstructs the assistant turn that requested
// the calls, so the next round's history matches what the model said.
func buildAssistantMessage(text string, calls []ToolCall) Message {
	msg := Message{Role: RoleAssistant}
	if text != "" {
		msg.Parts = append(msg.Parts, Part{Type: PartText, Text: text})
	}
	for i := range calls {
		msg.Parts = append(msg.Parts, Part{Type: PartToolCall, ToolCall: &calls[i]})
	}
	return msg
}

// ensureToolCallIDs assigns synthetic ids to calls a backend left
// unidentified, so results can be correlated.
func ensureToolCallIDs(calls []ToolCall) []ToolCall {
	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = fmt.Sprintf("toolcall-%d", i+1)
		}
	}
	return calls
}

// dedupeToolCalls drops repeated emissions of the same call id within a
// round, keeping the first.
func dedupeToolCalls(calls []ToolCall) []ToolCall {
	if len(calls) < 2 {
		return calls
	}
	seen := make(map[string]bool, len(calls))
	out := calls[:0]
	for _, call := range calls {
		if seen[call.ID] {
			continue
		}
		seen[call.ID] = true
		out = append(out, call)
	}
	return out
}
