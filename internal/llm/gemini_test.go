package llm

import (
	"encoding/json"
	"testing"

	"google.golang.org/genai"
)

func TestBuildGeminiContents(t *testing.T) {
	messages := []Message{
		SystemText("be helpful"),
		UserText("what time is it?"),
		{Role: RoleAssistant, Parts: []Part{
			{Type: PartToolCall, ToolCall: &ToolCall{ID: "c1", Name: "clock", Arguments: json.RawMessage(`{"tz":"UTC"}`)}},
		}},
		ToolResultMessage("c1", "clock", "14:02"),
	}

	system, contents := buildGeminiContents(messages)
	if system != "be helpful" {
		t.Errorf("system = %q", system)
	}
	if len(contents) != 3 {
		t.Fatalf("got %d contents", len(contents))
	}
	if contents[0].Role != genai.RoleUser || contents[1].Role != genai.RoleModel {
		t.Errorf("roles = %s, %s", contents[0].Role, contents[1].Role)
	}

	call := contents[1].Parts[0].FunctionCall
	if call == nil || call.Name != "clock" || call.Args["tz"] != "UTC" {
		t.Errorf("function call = %+v", call)
	}

	resp := contents[2].Parts[0].FunctionResponse
	if resp == nil || resp.Name != "clock" || resp.Response["output"] != "14:02" {
		t.Errorf("function response = %+v", resp)
	}
}

func TestToolArgsToMap(t *testing.T) {
	if m := toolArgsToMap(nil); m != nil {
		t.Errorf("nil args = %v", m)
	}
	m := toolArgsToMap(json.RawMessage(`{"n":1}`))
	if m["n"] != float64(1) {
		t.Errorf("args = %v", m)
	}
	m = toolArgsToMap(json.RawMessage(`not json`))
	if m["_raw"] != "not json" {
		t.Errorf("args = %v, want raw fallback", m)
	}
}

func TestBuildGeminiToolConfig(t *testing.T) {
	cfg := buildGeminiToolConfig(ToolChoice{Mode: ToolChoiceRequired})
	if cfg.FunctionCallingConfig.Mode != genai.FunctionCallingConfigModeAny {
		t.Errorf("mode = %s", cfg.FunctionCallingConfig.Mode)
	}

	cfg = buildGeminiToolConfig(ToolChoice{Mode: ToolChoiceName, Name: "lookup"})
	if cfg.FunctionCallingConfig.Mode != genai.FunctionCallingConfigModeAny {
		t.Errorf("mode = %s", cfg.FunctionCallingConfig.Mode)
	}
	if allowed := cfg.FunctionCallingConfig.AllowedFunctionNames; len(allowed) != 1 || allowed[0] != "lookup" {
		t.Errorf("allowed = %v", allowed)
	}

	cfg = buildGeminiToolConfig(ToolChoice{Mode: ToolChoiceNone})
	if cfg.FunctionCallingConfig.Mode != genai.FunctionCallingConfigModeNone {
		t.Errorf("mode = %s", cfg.FunctionCallingConfig.Mode)
	}

	cfg = buildGeminiToolConfig(ToolChoice{})
	if cfg.FunctionCallingConfig.Mode != genai.FunctionCallingConfigModeAuto {
		t.Errorf("mode = %s", cfg.FunctionCallingConfig.Mode)
	}
}

func TestSchemaToGenai(t *testing.T) {
	schema := map[string]interface{}{
		"type":        "object",
		"description": "tool input",
		"properties": map[string]interface{}{
			"city":  map[string]interface{}{"type": "string", "description": "city name"},
			"count": map[string]interface{}{"type": "integer"},
			"tags": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string"},
			},
		},
		"required": []interface{}{"city"},
	}

	out := schemaToGenai(schema)
	if out.Type != genai.TypeObject || out.Description != "tool input" {
		t.Errorf("root = %+v", out)
	}
	if len(out.Required) != 1 || out.Required[0] != "city" {
		t.Errorf("required = %v", out.Required)
	}
	if out.Properties["city"].Type != genai.TypeString {
		t.Errorf("city = %+v", out.Properties["city"])
	}
	if out.Properties["count"].Type != genai.TypeInteger {
		t.Errorf("count = %+v", out.Properties["count"])
	}
	tags := out.Properties["tags"]
	if tags.Type != genai.TypeArray || tags.Items == nil || tags.Items.Type != genai.TypeString {
		t.Errorf("tags = %+v", tags)
	}

	if schemaToGenai(nil).Type != genai.TypeObject {
		t.Error("nil schema should default to object")
	}
}
