package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestShellToolEcho(t *testing.T) {
	tool := NewShellTool(OutputLimits{})
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"command":"echo hello"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "hello") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(out, "exit_code: 0") {
		t.Errorf("output = %q, want exit code", out)
	}
}

func TestShellToolExitCode(t *testing.T) {
	tool := NewShellTool(OutputLimits{})
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"command":"exit 3"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "exit_code: 3") {
		t.Errorf("output = %q", out)
	}
}

func TestShellToolStderr(t *testing.T) {
	tool := NewShellTool(OutputLimits{})
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"command":"echo oops 1>&2"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "stderr:") || !strings.Contains(out, "oops") {
		t.Errorf("output = %q", out)
	}
}

func TestShellToolMissingCommand(t *testing.T) {
	tool := NewShellTool(OutputLimits{})
	out, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "command is required") {
		t.Errorf("output = %q", out)
	}
}

func TestShellToolInvalidArgs(t *testing.T) {
	tool := NewShellTool(OutputLimits{})
	out, err := tool.Execute(context.Background(), json.RawMessage(`{broken`))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "Error:") {
		t.Errorf("output = %q", out)
	}
}

func TestShellToolTruncation(t *testing.T) {
	tool := NewShellTool(OutputLimits{MaxBytes: 32, MaxLines: 10})
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"command":"yes x | head -100"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "[Output truncated due to size limit]") {
		t.Errorf("output = %q, want truncation marker", out)
	}
}

func TestShellToolWorkingDir(t *testing.T) {
	dir := t.TempDir()
	tool := NewShellTool(OutputLimits{})
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"command":"pwd","working_dir":"`+dir+`"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, dir) {
		t.Errorf("output = %q, want %q", out, dir)
	}
}
