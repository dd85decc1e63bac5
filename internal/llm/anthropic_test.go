package llm

import (
	"encoding/json"
	"testing"
)

func TestBuildAnthropicMessages(t *testing.T) {
	messages := []Message{
		SystemText("you are terse"),
		SystemText("and polite"),
		UserText("hi"),
		{Role: RoleAssistant, Parts: []Part{
			{Type: PartText, Text: "checking"},
			{Type: PartToolCall, ToolCall: &ToolCall{ID: "toolu_1", Name: "clock", Arguments: json.RawMessage(`{}`)}},
		}},
		ToolResultMessage("toolu_1", "clock", "14:02"),
	}

	system, out := buildAnthropicMessages(messages)
	if system != "you are terse\n\nand polite" {
		t.Errorf("system = %q", system)
	}
	if len(out) != 3 {
		t.Fatalf("got %d messages, want user + assistant + tool-result user", len(out))
	}
	if out[0].Role != "user" || out[1].Role != "assistant" || out[2].Role != "user" {
		t.Errorf("roles = %s, %s, %s", out[0].Role, out[1].Role, out[2].Role)
	}

	// Tool results travel as user-role tool_result blocks.
	if out[2].Content[0].OfToolResult == nil {
		t.Fatalf("third message content = %+v", out[2].Content)
	}
	if out[2].Content[0].OfToolResult.ToolUseID != "toolu_1" {
		t.Errorf("tool_use_id = %q", out[2].Content[0].OfToolResult.ToolUseID)
	}
}

func TestBuildAnthropicBlocksEmptyToolResult(t *testing.T) {
	blocks := buildAnthropicBlocks([]Part{{
		Type:       PartToolResult,
		ToolResult: &ToolResult{ID: "toolu_1", Name: "noop", Content: ""},
	}}, false)
	if len(blocks) != 1 {
		t.Fatalf("blocks = %+v", blocks)
	}
	content := blocks[0].OfToolResult.Content[0].OfText.Text
	if content != "(no output)" {
		t.Errorf("content = %q", content)
	}
}

func TestBuildAnthropicTools(t *testing.T) {
	specs := []ToolSpec{{
		Name:        "get_weather",
		Description: "look up the weather",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"city": map[string]interface{}{"type": "string"},
			},
			"required": []interface{}{"city"},
		},
	}}

	tools := buildAnthropicTools(specs)
	if len(tools) != 1 || tools[0].OfTool == nil {
		t.Fatalf("tools = %+v", tools)
	}
	tool := tools[0].OfTool
	if tool.Name != "get_weather" {
		t.Errorf("name = %q", tool.Name)
	}
	if got := tool.InputSchema.Required; len(got) != 1 || got[0] != "city" {
		t.Errorf("required = %v", got)
	}
}

func TestSchemaRequired(t *testing.T) {
	cases := []struct {
		name   string
		schema map[string]interface{}
		want   int
	}{
		{"absent", map[string]interface{}{}, 0},
		{"string slice", map[string]interface{}{"required": []string{"a", "b"}}, 2},
		{"decoded json", map[string]interface{}{"required": []interface{}{"a"}}, 1},
		{"wrong type", map[string]interface{}{"required": 42}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := schemaRequired(tc.schema); len(got) != tc.want {
				t.Errorf("schemaRequired = %v", got)
			}
		})
	}
}

func TestAnthropicMaxTokens(t *testing.T) {
	if got := anthropicMaxTokens(0); got != 4096 {
		t.Errorf("default = %d", got)
	}
	if got := anthropicMaxTokens(512); got != 512 {
		t.Errorf("explicit = %d", got)
	}
}
