package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// EventType identifies the kind of canonical stream event.
type EventType string

const (
	EventTextDelta EventType = "text_delta"
	EventToolCall  EventType = "tool_call"
	EventUsage     EventType = "usage"
	EventDone      EventType = "done"
	EventError     EventType = "error"
	EventRetry     EventType = "retry"
)

// Event is the canonical stream event every provider adapter emits.
// Exactly one payload field is populated, selected by Type.
type Event struct {
	Type EventType

	// Text carries incremental assistant text for EventTextDelta.
	Text string

	// Tool carries a fully assembled call for EventToolCall.
	Tool *ToolCall

	// Use carries token accounting for EventUsage.
	Use *Usage

	// Err carries the failure for EventError.
	Err error

	// RetryAttempt and RetryDelay describe an upcoming retry for EventRetry.
	RetryAttempt int
	RetryDelay   string

	// Round is the 1-based round that produced the event on turn-level
	// streams. Zero on raw provider streams.
	Round int
}

// Role of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType identifies the kind of message part.
type PartType string

const (
	PartText       PartType = "text"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
)

// Message is one entry in the conversation history.
type Message struct {
	Role  Role
	Parts []Part
}

// Part is a single component of a message.
type Part struct {
	Type       PartType
	Text       string
	ToolCall   *ToolCall
	ToolResult *ToolResult
}

// Text returns the concatenation of all text parts.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}

// ToolCall is a structured invocation request from the model.
// ID is the identifier the executor must echo back in its result; when a
// provider addresses the call by several ids over the life of a stream,
// this is the one designated for external reference at open time.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolResult is the outcome of executing a ToolCall.
type ToolResult struct {
	ID      string
	Name    string
	Content string
	IsError bool
}

// ToolSpec declares a callable tool to the model.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// ToolChoiceMode controls how the model may use tools.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceName     ToolChoiceMode = "name"
)

// ToolChoice restricts tool selection for a request.
type ToolChoice struct {
	Mode ToolChoiceMode
	Name string
}

// Usage holds token accounting for one streaming response.
type Usage struct {
	InputTokens       int
	OutputTokens      int
	CachedInputTokens int
}

// Add accumulates u2 into u.
func (u *Usage) Add(u2 Usage) {
	u.InputTokens += u2.InputTokens
	u.OutputTokens += u2.OutputTokens
	u.CachedInputTokens += u2.CachedInputTokens
}

// Request describes one streaming call to a provider.
type Request struct {
	Model           string
	Messages        []Message
	Tools           []ToolSpec
	ToolChoice      ToolChoice
	MaxOutputTokens int
	Temperature     *float64
}

// Clone returns a deep enough copy that appending messages to the clone
// does not disturb the original.
func (r Request) Clone() Request {
	out := r
	out.Messages = make([]Message, len(r.Messages))
	copy(out.Messages, r.Messages)
	out.Tools = make([]ToolSpec, len(r.Tools))
	copy(out.Tools, r.Tools)
	return out
}

// SystemText builds a system message with a single text part.
func SystemText(text string) Message {
	return Message{Role: RoleSystem, Parts: []Part{{Type: PartText, Text: text}}}
}

// UserText builds a user message with a single text part.
func UserText(text string) Message {
	return Message{Role: RoleUser, Parts: []Part{{Type: PartText, Text: text}}}
}

// AssistantText builds an assistant message with a single text part.
func AssistantText(text string) Message {
	return Message{Role: RoleAssistant, Parts: []Part{{Type: PartText, Text: text}}}
}

// ToolResultMessage builds a tool message carrying one successful result.
func ToolResultMessage(id, name, content string) Message {
	return Message{Role: RoleTool, Parts: []Part{{
		Type:       PartToolResult,
		ToolResult: &ToolResult{ID: id, Name: name, Content: content},
	}}}
}

// ToolErrorMessage builds a tool message carrying one failed result.
func ToolErrorMessage(id, name string, err error) Message {
	return Message{Role: RoleTool, Parts: []Part{{
		Type:       PartToolResult,
		ToolResult: &ToolResult{ID: id, Name: name, Content: err.Error(), IsError: true},
	}}}
}

type contextKey string

const sessionIDKey contextKey = "session_id"

// ContextWithSessionID attaches a session identity to ctx for credential
// scoping and persistence.
func ContextWithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionIDFromContext returns the session identity attached to ctx, if any.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey).(string)
	return id, ok
}

// Tool describes a callable external tool.
type Tool interface {
	Spec() ToolSpec
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// ToolRegistry stores tools by name for execution.
type ToolRegistry struct {
	tools map[string]Tool
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

func (r *ToolRegistry) Register(tool Tool) {
	r.tools[tool.Spec().Name] = tool
}

func (r *ToolRegistry) Get(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

func (r *ToolRegistry) Unregister(name string) {
	delete(r.tools, name)
}

// AllSpecs returns the specs for all registered tools.
func (r *ToolRegistry) AllSpecs() []ToolSpec {
	specs := make([]ToolSpec, 0, len(r.tools))
	for _, tool := range r.tools {
		specs = append(specs, tool.Spec())
	}
	return specs
}

// ToolFunc adapts a function into a Tool.
type ToolFunc struct {
	ToolSpec ToolSpec
	Fn       func(ctx context.Context, args json.RawMessage) (string, error)
}

func (t ToolFunc) Spec() ToolSpec { return t.ToolSpec }

func (t ToolFunc) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	if t.Fn == nil {
		return "", fmt.Errorf("tool %s has no implementation", t.ToolSpec.Name)
	}
	return t.Fn(ctx, args)
}
