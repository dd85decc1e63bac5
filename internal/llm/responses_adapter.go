package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentloop-dev/agentloop/internal/sse"
)

// responsesAdapter turns OpenAI Responses API SSE frames into canonical
// events. One instance per HTTP stream; frames must be fed in arrival
// order from a single goroutine.
//
// Tool calls are tracked by the item id the argument deltas address,
// while the id handed to executors is the call_id established when the
// item was added. Argument deltas that arrive before their item is added
// are buffered provisionally and reconciled when the add shows up.
type responsesAdapter struct {
	calls map[string]*pendingCall
	order []string

	// streamed marks content slots (item id + content index) whose text
	// already went out via deltas, so the terminal done frame for the
	// same slot is not re-emitted.
	streamed map[string]bool

	usage    *Usage
	finished bool
}

var _ FrameAdapter[sse.Frame] = (*responsesAdapter)(nil)

// pendingCall is one in-flight tool call being assembled.
type pendingCall struct {
	surrogateID string
	callID      string
	name        string
	args        strings.Builder
	finalArgs   *string
	opened      bool
	closed      bool
}

func newResponsesAdapter() *responsesAdapter {
	return &responsesAdapter{
		calls:    make(map[string]*pendingCall),
		streamed: make(map[string]bool),
	}
}

type responsesItem struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Content   []struct {
		Type    string `json:"type"`
		Text    string `json:"text"`
		Refusal string `json:"refusal"`
	} `json:"content"`
}

type responsesFrame struct {
	Type         string        `json:"type"`
	ItemID       string        `json:"item_id"`
	OutputIndex  int           `json:"output_index"`
	ContentIndex int           `json:"content_index"`
	Delta        string        `json:"delta"`
	Text         string        `json:"text"`
	Arguments    string        `json:"arguments"`
	Item         responsesItem `json:"item"`
	Response     struct {
		ID    string `json:"id"`
		Usage *struct {
			InputTokens        int `json:"input_tokens"`
			OutputTokens       int `json:"output_tokens"`
			InputTokensDetails struct {
				CachedTokens int `json:"cached_tokens"`
			} `json:"input_tokens_details"`
		} `json:"usage"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"response"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

// HandleFrame processes one SSE frame. Malformed frames are skipped; a
// call whose closing frame was unparsable surfaces as a dangling call at
// Finish rather than vanishing silently.
func (a *responsesAdapter) HandleFrame(frame sse.Frame) ([]Event, error) {
	if a.finished || frame.Data == "" || frame.Data == "[DONE]" {
		return nil, nil
	}

	var f responsesFrame
	if err := json.Unmarshal([]byte(frame.Data), &f); err != nil {
		return nil, nil
	}
	eventType := f.Type
	if eventType == "" {
		eventType = frame.Event
	}

	switch eventType {
	case "response.output_item.added":
		if f.Item.Type == "function_call" {
			a.open(f.Item.ID, f.Item.CallID, f.Item.Name)
		}
		return nil, nil

	case "response.output_text.delta":
		if f.Delta == "" {
			return nil, nil
		}
		a.streamed[slotKey(f.ItemID, f.ContentIndex)] = true
		return []Event{{Type: EventTextDelta, Text: f.Delta}}, nil

	case "response.output_text.done":
		if a.streamed[slotKey(f.ItemID, f.ContentIndex)] || f.Text == "" {
			return nil, nil
		}
		a.streamed[slotKey(f.ItemID, f.ContentIndex)] = true
		return []Event{{Type: EventTextDelta, Text: f.Text}}, nil

	case "response.function_call_arguments.delta":
		a.append(f.ItemID, f.Delta)
		return nil, nil

	case "response.function_call_arguments.done":
		if call, ok := a.calls[f.ItemID]; ok {
			args := f.Arguments
			call.finalArgs = &args
		}
		return nil, nil

	case "response.output_item.done":
		return a.itemDone(f.Item), nil

	case "response.completed":
		if u := f.Response.Usage; u != nil {
			a.usage = &Usage{
				InputTokens:       u.InputTokens,
				OutputTokens:      u.OutputTokens,
				CachedInputTokens: u.InputTokensDetails.CachedTokens,
			}
		}
		return nil, nil

	case "response.failed":
		detail := "response failed"
		if f.Response.Error != nil {
			detail = f.Response.Error.Message
		}
		return a.fail(StreamErrProviderError, detail), nil

	case "error":
		detail := f.Message
		if detail == "" && f.Error != nil {
			detail = f.Error.Message
		}
		return a.fail(StreamErrProviderError, detail), nil
	}

	return nil, nil
}

// Finish validates end-of-stream state and returns the trailing events.
func (a *responsesAdapter) Finish() ([]Event, error) {
	if a.finished {
		return nil, nil
	}
	for _, id := range a.order {
		call := a.calls[id]
		if call.closed {
			continue
		}
		if !call.opened {
			return a.fail(StreamErrDanglingCall,
				fmt.Sprintf("argument deltas for %s never matched an opened call", id)), nil
		}
		return a.fail(StreamErrDanglingCall,
			fmt.Sprintf("tool call %s opened but never closed", call.externalID())), nil
	}
	a.finished = true
	var events []Event
	if a.usage != nil {
		events = append(events, Event{Type: EventUsage, Use: a.usage})
	}
	return append(events, Event{Type: EventDone}), nil
}

func (a *responsesAdapter) open(itemID, callID, name string) {
	call, ok := a.calls[itemID]
	if !ok {
		call = &pendingCall{}
		a.calls[itemID] = call
		a.order = append(a.order, itemID)
	}
	call.surrogateID = itemID
	call.callID = callID
	call.name = name
	call.opened = true
}

func (a *responsesAdapter) append(id, fragment string) {
	call, ok := a.calls[id]
	if !ok {
		// Provisional entry: reconciled if an open arrives later, a
		// dangling-call error at Finish otherwise.
		call = &pendingCall{surrogateID: id}
		a.calls[id] = call
		a.order = append(a.order, id)
	}
	if call.finalArgs == nil {
		call.args.WriteString(fragment)
	}
}

func (a *responsesAdapter) itemDone(item responsesItem) []Event {
	switch item.Type {
	case "function_call":
		call, ok := a.calls[item.ID]
		if !ok {
			a.open(item.ID, item.CallID, item.Name)
			call = a.calls[item.ID]
		}
		if !call.opened {
			a.open(item.ID, item.CallID, item.Name)
		}
		if item.Arguments != "" {
			call.finalArgs = &item.Arguments
		}
		call.closed = true
		args := call.arguments()
		delete(a.calls, item.ID)
		for i, id := range a.order {
			if id == item.ID {
				a.order = append(a.order[:i], a.order[i+1:]...)
				break
			}
		}
		return []Event{{Type: EventToolCall, Tool: &ToolCall{
			ID:        call.externalID(),
			Name:      call.name,
			Arguments: json.RawMessage(args),
		}}}

	case "message":
		var events []Event
		for i, part := range item.Content {
			switch part.Type {
			case "output_text":
				if part.Text != "" && !a.streamed[slotKey(item.ID, i)] {
					a.streamed[slotKey(item.ID, i)] = true
					events = append(events, Event{Type: EventTextDelta, Text: part.Text})
				}
			case "refusal":
				if part.Refusal != "" {
					events = append(events, Event{Type: EventTextDelta, Text: part.Refusal})
				}
			}
		}
		return events
	}
	return nil
}

func (a *responsesAdapter) fail(kind StreamErrorKind, detail string) []Event {
	a.finished = true
	return []Event{{Type: EventError, Err: &StreamError{Kind: kind, Detail: detail}}}
}

// externalID is the id executors must echo back: the call_id assigned at
// open time, falling back to the item id when none was supplied.
func (c *pendingCall) externalID() string {
	if c.callID != "" {
		return c.callID
	}
	return c.surrogateID
}

func (c *pendingCall) arguments() string {
	if c.finalArgs != nil && *c.finalArgs != "" {
		return *c.finalArgs
	}
	if s := c.args.String(); s != "" {
		return s
	}
	return "{}"
}

func slotKey(itemID string, index int) string {
	return fmt.Sprintf("%s:%d", itemID, index)
}
