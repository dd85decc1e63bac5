// Package tools provides the built-in tool implementations exposed to
// the agent loop.
package tools

import (
	"fmt"

	"github.com/agentloop-dev/agentloop/internal/llm"
)

// Tool names as advertised to providers.
const (
	ShellToolName    = "shell"
	ReadFileToolName = "read_file"
)

// OutputLimits bounds what a tool may return to the model.
type OutputLimits struct {
	MaxBytes int64
	MaxLines int
}

// DefaultLimits are applied when a caller passes a zero OutputLimits.
var DefaultLimits = OutputLimits{
	MaxBytes: 64 * 1024,
	MaxLines: 2000,
}

func (l OutputLimits) orDefault() OutputLimits {
	if l.MaxBytes <= 0 {
		l.MaxBytes = DefaultLimits.MaxBytes
	}
	if l.MaxLines <= 0 {
		l.MaxLines = DefaultLimits.MaxLines
	}
	return l
}

// RegisterDefaults adds the built-in tools to a registry.
func RegisterDefaults(reg *llm.ToolRegistry, limits OutputLimits) {
	reg.Register(NewShellTool(limits))
	reg.Register(NewReadFileTool(limits))
}

func errorText(format string, args ...interface{}) string {
	return "Error: " + fmt.Sprintf(format, args...)
}
