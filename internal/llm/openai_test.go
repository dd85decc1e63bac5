package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func sseBody(frames ...string) string {
	var out string
	for _, f := range frames {
		out += "data: " + f + "\n\n"
	}
	out += "data: [DONE]\n\n"
	return out
}

func newTestOpenAIProvider(url string) *OpenAIProvider {
	return &OpenAIProvider{
		BaseURL: url,
		Model:   "gpt-test",
		AuthHeader: func(context.Context) (string, error) {
			return "Bearer test-key", nil
		},
	}
}

func TestOpenAIProviderStream(t *testing.T) {
	var gotAuth string
	var gotPayload responsesRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody(
			`{"type":"response.output_text.delta","item_id":"msg_1","content_index":0,"delta":"hi "}`,
			`{"type":"response.output_text.delta","item_id":"msg_1","content_index":0,"delta":"there"}`,
			`{"type":"response.completed","response":{"usage":{"input_tokens":9,"output_tokens":2,"input_tokens_details":{}}}}`,
		))
	}))
	defer server.Close()

	p := newTestOpenAIProvider(server.URL)
	req := Request{
		Messages: []Message{SystemText("be brief"), UserText("hello")},
		Tools:    []ToolSpec{{Name: "lookup", Schema: map[string]interface{}{"type": "object"}}},
	}
	stream, err := p.Stream(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	text, usage, err := DrainText(stream)
	if err != nil {
		t.Fatal(err)
	}
	if text != "hi there" {
		t.Errorf("text = %q", text)
	}
	if usage == nil || usage.InputTokens != 9 {
		t.Errorf("usage = %+v", usage)
	}

	if gotAuth != "Bearer test-key" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotPayload.Model != "gpt-test" || !gotPayload.Stream {
		t.Errorf("payload = %+v", gotPayload)
	}
	if len(gotPayload.Input) != 2 || gotPayload.Input[0].Role != "developer" {
		t.Errorf("input = %+v, want system mapped to developer", gotPayload.Input)
	}
	if len(gotPayload.Tools) != 1 || gotPayload.Tools[0].Type != "function" {
		t.Errorf("tools = %+v", gotPayload.Tools)
	}
}

func TestOpenAIProviderToolCallStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody(
			`{"type":"response.output_item.added","item":{"id":"fc_1","type":"function_call","call_id":"call_9","name":"lookup"}}`,
			`{"type":"response.function_call_arguments.delta","item_id":"fc_1","delta":"{\"q\":\"go\"}"}`,
			`{"type":"response.output_item.done","item":{"id":"fc_1","type":"function_call","call_id":"call_9","name":"lookup"}}`,
			`{"type":"response.completed","response":{"usage":{"input_tokens":5,"output_tokens":3,"input_tokens_details":{}}}}`,
		))
	}))
	defer server.Close()

	p := newTestOpenAIProvider(server.URL)
	stream, err := p.Stream(context.Background(), Request{Messages: []Message{UserText("x")}})
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	var call *ToolCall
	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if ev.Type == EventToolCall {
			call = ev.Tool
		}
	}
	if call == nil || call.ID != "call_9" || call.Name != "lookup" {
		t.Fatalf("call = %+v", call)
	}
	if string(call.Arguments) != `{"q":"go"}` {
		t.Errorf("arguments = %s", call.Arguments)
	}
}

func TestOpenAIProviderHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"model does not exist"}}`)
	}))
	defer server.Close()

	p := newTestOpenAIProvider(server.URL)
	_, err := p.Stream(context.Background(), Request{Messages: []Message{UserText("x")}})
	var streamErr *StreamError
	if !errors.As(err, &streamErr) || streamErr.Kind != StreamErrProviderError {
		t.Fatalf("err = %v, want provider error", err)
	}
}

func TestOpenAIProviderRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "12")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"tokens exhausted"}}`)
	}))
	defer server.Close()

	p := newTestOpenAIProvider(server.URL)
	_, err := p.Stream(context.Background(), Request{Messages: []Message{UserText("x")}})
	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("err = %v, want rate limit error", err)
	}
	if rateErr.Message != "tokens exhausted" || rateErr.RetryAfter != 12*time.Second {
		t.Errorf("rate limit = %+v", rateErr)
	}
}

func TestOpenAIProviderExtraHeaders(t *testing.T) {
	var gotAccount string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccount = r.Header.Get("ChatGPT-Account-ID")
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody())
	}))
	defer server.Close()

	p := newTestOpenAIProvider(server.URL)
	p.ExtraHeaders = map[string]string{"ChatGPT-Account-ID": "acct_42"}
	stream, err := p.Stream(context.Background(), Request{Messages: []Message{UserText("x")}})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := DrainText(stream); err != nil {
		t.Fatal(err)
	}
	if gotAccount != "acct_42" {
		t.Errorf("account header = %q", gotAccount)
	}
}

func TestBuildResponsesInputToolHistory(t *testing.T) {
	messages := []Message{
		UserText("weather?"),
		{Role: RoleAssistant, Parts: []Part{
			{Type: PartText, Text: "checking"},
			{Type: PartToolCall, ToolCall: &ToolCall{ID: "call_1", Name: "get_weather", Arguments: json.RawMessage(`{"city":"Oslo"}`)}},
		}},
		ToolResultMessage("call_1", "get_weather", "cloudy"),
	}

	items := buildResponsesInput(messages)
	if len(items) != 4 {
		t.Fatalf("items = %+v", items)
	}
	if items[2].Type != "function_call" || items[2].CallID != "call_1" {
		t.Errorf("function_call item = %+v", items[2])
	}
	if items[3].Type != "function_call_output" || items[3].Output != "cloudy" {
		t.Errorf("function_call_output item = %+v", items[3])
	}
}
