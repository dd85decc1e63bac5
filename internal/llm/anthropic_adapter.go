package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// anthropicAdapter turns Anthropic Messages API stream events into
// canonical events. Content blocks are addressed by index; a tool_use
// block carries its external id and name at start, argument JSON arrives
// as input_json_delta fragments, and the block stop closes the call.
type anthropicAdapter struct {
	calls map[int64]*anthropicCall
	order []int64

	// startText holds text delivered whole on a block start; emitted at
	// block stop only if no delta ever streamed for that slot.
	startText map[int64]string
	streamed  map[int64]bool

	usage    Usage
	sawUsage bool
	finished bool
}

var _ FrameAdapter[anthropic.MessageStreamEventUnion] = (*anthropicAdapter)(nil)

type anthropicCall struct {
	id       string
	name     string
	args     strings.Builder
	fallback string
	opened   bool
	closed   bool
}

func newAnthropicAdapter() *anthropicAdapter {
	return &anthropicAdapter{
		calls:     make(map[int64]*anthropicCall),
		startText: make(map[int64]string),
		streamed:  make(map[int64]bool),
	}
}

func (a *anthropicAdapter) HandleFrame(event anthropic.MessageStreamEventUnion) ([]Event, error) {
	if a.finished {
		return nil, nil
	}

	switch variant := event.AsAny().(type) {
	case anthropic.MessageStartEvent:
		a.usage.InputTokens = int(variant.Message.Usage.InputTokens)
		a.usage.CachedInputTokens = int(variant.Message.Usage.CacheReadInputTokens)
		a.sawUsage = true
		return nil, nil

	case anthropic.ContentBlockStartEvent:
		switch block := variant.ContentBlock.AsAny().(type) {
		case anthropic.ToolUseBlock:
			a.open(variant.Index, block.ID, block.Name, toolInputToRaw(block.Input))
		case anthropic.TextBlock:
			if block.Text != "" {
				a.startText[variant.Index] = block.Text
			}
		}
		return nil, nil

	case anthropic.ContentBlockDeltaEvent:
		switch delta := variant.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			if delta.Text == "" {
				return nil, nil
			}
			a.streamed[variant.Index] = true
			return []Event{{Type: EventTextDelta, Text: delta.Text}}, nil
		case anthropic.InputJSONDelta:
			if delta.PartialJSON != "" {
				a.append(variant.Index, delta.PartialJSON)
			}
		}
		return nil, nil

	case anthropic.ContentBlockStopEvent:
		if call, ok := a.calls[variant.Index]; ok {
			if !call.opened {
				// Deltas streamed for a block whose start never arrived.
				// Leave the entry pending so Finish reports it.
				return nil, nil
			}
			call.closed = true
			args := call.arguments()
			delete(a.calls, variant.Index)
			for i, idx := range a.order {
				if idx == variant.Index {
					a.order = append(a.order[:i], a.order[i+1:]...)
					break
				}
			}
			return []Event{{Type: EventToolCall, Tool: &ToolCall{
				ID:        call.id,
				Name:      call.name,
				Arguments: json.RawMessage(args),
			}}}, nil
		}
		if text, ok := a.startText[variant.Index]; ok && !a.streamed[variant.Index] {
			a.streamed[variant.Index] = true
			return []Event{{Type: EventTextDelta, Text: text}}, nil
		}
		return nil, nil

	case anthropic.MessageDeltaEvent:
		if variant.Usage.OutputTokens > 0 {
			a.usage.OutputTokens = int(variant.Usage.OutputTokens)
			if variant.Usage.InputTokens > 0 {
				a.usage.InputTokens = int(variant.Usage.InputTokens)
			}
			a.sawUsage = true
		}
		return nil, nil
	}

	return nil, nil
}

func (a *anthropicAdapter) Finish() ([]Event, error) {
	if a.finished {
		return nil, nil
	}
	for _, idx := range a.order {
		call := a.calls[idx]
		if call.closed {
			continue
		}
		detail := fmt.Sprintf("tool call %s opened but never closed", call.id)
		if !call.opened {
			detail = fmt.Sprintf("argument deltas for block %d never matched an opened call", idx)
		}
		a.finished = true
		return []Event{{Type: EventError, Err: &StreamError{Kind: StreamErrDanglingCall, Detail: detail}}}, nil
	}
	a.finished = true
	var events []Event
	if a.sawUsage {
		u := a.usage
		events = append(events, Event{Type: EventUsage, Use: &u})
	}
	return append(events, Event{Type: EventDone}), nil
}

func (a *anthropicAdapter) open(index int64, id, name string, initialArgs json.RawMessage) {
	call, ok := a.calls[index]
	if !ok {
		call = &anthropicCall{}
		a.calls[index] = call
		a.order = append(a.order, index)
	}
	call.id = id
	call.name = name
	call.opened = true
	if len(initialArgs) > 0 && string(initialArgs) != "{}" && string(initialArgs) != "null" {
		call.fallback = string(initialArgs)
	}
}

func (a *anthropicAdapter) append(index int64, fragment string) {
	call, ok := a.calls[index]
	if !ok {
		call = &anthropicCall{}
		a.calls[index] = call
		a.order = append(a.order, index)
	}
	call.args.WriteString(fragment)
}

// arguments prefers streamed fragments, then the args stashed whole at
// block start, then an empty object.
func (c *anthropicCall) arguments() string {
	if s := c.args.String(); s != "" {
		return s
	}
	if c.fallback != "" {
		return c.fallback
	}
	return "{}"
}

func toolInputToRaw(input any) json.RawMessage {
	switch v := input.(type) {
	case json.RawMessage:
		return v
	case []byte:
		return json.RawMessage(v)
	case string:
		return json.RawMessage(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return json.RawMessage(data)
	}
}
