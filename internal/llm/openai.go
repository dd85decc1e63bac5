package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/agentloop-dev/agentloop/internal/sse"
)

const defaultResponsesBaseURL = "https://api.openai.com/v1"

// OpenAIProvider streams completions from the OpenAI Responses API.
// Streaming goes over raw HTTP so the adapter sees every SSE frame;
// model listing uses the official SDK client.
type OpenAIProvider struct {
	BaseURL string
	Model   string

	// AuthHeader returns the value for the Authorization header. It is
	// called per request so refreshed tokens take effect mid-session.
	AuthHeader func(ctx context.Context) (string, error)

	// ExtraHeaders are added to every streaming request (e.g. the
	// ChatGPT account header for OAuth-backed access).
	ExtraHeaders map[string]string

	HTTPClient *http.Client
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) baseURL() string {
	if p.BaseURL != "" {
		return p.BaseURL
	}
	return defaultResponsesBaseURL
}

func (p *OpenAIProvider) httpClient() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return http.DefaultClient
}

type responsesRequest struct {
	Model           string               `json:"model"`
	Input           []responsesInputItem `json:"input"`
	Tools           []responsesTool      `json:"tools,omitempty"`
	ToolChoice      interface{}          `json:"tool_choice,omitempty"`
	Stream          bool                 `json:"stream"`
	MaxOutputTokens int                  `json:"max_output_tokens,omitempty"`
	Temperature     *float64             `json:"temperature,omitempty"`
	Store           bool                 `json:"store"`
}

type responsesInputItem struct {
	Type      string `json:"type,omitempty"`
	Role      string `json:"role,omitempty"`
	Content   string `json:"content,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`
}

type responsesTool struct {
	Type        string                 `json:"type"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	Strict      bool                   `json:"strict"`
}

// buildResponsesInput flattens the conversation into Responses API input
// items. System prompts travel as the "developer" role; tool calls and
// their results become function_call / function_call_output items keyed
// by the call id.
func buildResponsesInput(messages []Message) []responsesInputItem {
	var items []responsesInputItem
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if text := msg.Text(); text != "" {
				items = append(items, responsesInputItem{Role: "developer", Content: text})
			}
		case RoleUser:
			if text := msg.Text(); text != "" {
				items = append(items, responsesInputItem{Role: "user", Content: text})
			}
		case RoleAssistant:
			if text := msg.Text(); text != "" {
				items = append(items, responsesInputItem{Role: "assistant", Content: text})
			}
			for _, part := range msg.Parts {
				if part.Type == PartToolCall && part.ToolCall != nil {
					items = append(items, responsesInputItem{
						Type:      "function_call",
						CallID:    part.ToolCall.ID,
						Name:      part.ToolCall.Name,
						Arguments: string(part.ToolCall.Arguments),
					})
				}
			}
		case RoleTool:
			for _, part := range msg.Parts {
				if part.Type == PartToolResult && part.ToolResult != nil {
					items = append(items, responsesInputItem{
						Type:   "function_call_output",
						CallID: part.ToolResult.ID,
						Output: part.ToolResult.Content,
					})
				}
			}
		}
	}
	return items
}

func buildResponsesTools(specs []ToolSpec) []responsesTool {
	tools := make([]responsesTool, 0, len(specs))
	for _, spec := range specs {
		tools = append(tools, responsesTool{
			Type:        "function",
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  spec.Schema,
			Strict:      false,
		})
	}
	return tools
}

func buildResponsesToolChoice(choice ToolChoice) interface{} {
	switch choice.Mode {
	case ToolChoiceNone:
		return "none"
	case ToolChoiceRequired:
		return "required"
	case ToolChoiceName:
		return map[string]string{"type": "function", "name": choice.Name}
	default:
		return nil
	}
}

// Stream issues the streaming request and adapts its SSE frames.
func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	payload := responsesRequest{
		Model:           req.Model,
		Input:           buildResponsesInput(req.Messages),
		Stream:          true,
		MaxOutputTokens: req.MaxOutputTokens,
		Temperature:     req.Temperature,
	}
	if payload.Model == "" {
		payload.Model = p.Model
	}
	if len(req.Tools) > 0 {
		payload.Tools = buildResponsesTools(req.Tools)
		payload.ToolChoice = buildResponsesToolChoice(req.ToolChoice)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL()+"/responses", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	auth, err := p.AuthHeader(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve credentials: %w", err)
	}
	httpReq.Header.Set("Authorization", auth)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range p.ExtraHeaders {
		httpReq.Header.Set(k, v)
	}

	resp, err := p.httpClient().Do(httpReq)
	if err != nil {
		return nil, &StreamError{Kind: StreamErrTransport, Detail: err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, parseResponsesError(resp)
	}

	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		defer resp.Body.Close()
		adapter := newResponsesAdapter()
		scanner := sse.NewScanner(resp.Body)
		for {
			frame, err := scanner.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return &StreamError{Kind: StreamErrTransport, Detail: err.Error()}
			}
			if frame.Data == "[DONE]" {
				break
			}
			out, err := adapter.HandleFrame(frame)
			if err != nil {
				return err
			}
			if terminal, err := forwardAdapterEvents(ctx, events, out); terminal || err != nil {
				return err
			}
		}
		out, err := adapter.Finish()
		if err != nil {
			return err
		}
		_, err = forwardAdapterEvents(ctx, events, out)
		return err
	}), nil
}

// forwardAdapterEvents sends adapter output to the stream channel. It
// reports terminal=true once an EventError has been forwarded so callers
// stop feeding frames.
func forwardAdapterEvents(ctx context.Context, events chan<- Event, out []Event) (terminal bool, err error) {
	for _, ev := range out {
		select {
		case events <- ev:
		case <-ctx.Done():
			return false, ctx.Err()
		}
		if ev.Type == EventError {
			return true, nil
		}
	}
	return false, nil
}

func parseResponsesError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode == http.StatusTooManyRequests {
		return newRateLimitError(resp, data)
	}
	var apiErr struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	detail := fmt.Sprintf("HTTP %d", resp.StatusCode)
	if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
		detail = fmt.Sprintf("%s: %s", detail, apiErr.Error.Message)
	}
	return &StreamError{Kind: StreamErrProviderError, Detail: detail}
}

// ListModels enumerates models through the official SDK client.
func (p *OpenAIProvider) ListModels(ctx context.Context) ([]string, error) {
	auth, err := p.AuthHeader(ctx)
	if err != nil {
		return nil, err
	}
	opts := []option.RequestOption{option.WithHeader("Authorization", auth)}
	if p.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(p.BaseURL))
	}
	client := openai.NewClient(opts...)
	page, err := client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	names := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		names = append(names, m.ID)
	}
	return names, nil
}

// newRateLimitError builds a RateLimitError from a 429 response.
func newRateLimitError(resp *http.Response, body []byte) *RateLimitError {
	e := &RateLimitError{Message: "rate limited"}
	var apiErr struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
		e.Message = apiErr.Error.Message
	}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if d, err := time.ParseDuration(ra + "s"); err == nil {
			e.RetryAfter = d
		}
	}
	return e
}
