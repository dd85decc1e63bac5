package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "agentloop",
	Short: "Run tool-augmented LLM turns from the terminal",
	Long: `agentloop streams a model response, executes any tool calls it
requests, and feeds the results back until the model produces a final
answer or the round ceiling is hit.

Examples:
  agentloop run "list the go files in this directory"
  agentloop run --provider openai "summarize README.md"
  agentloop run --session <id> "continue from where we left off"

  agentloop models --provider anthropic
  agentloop sessions
  agentloop usage --days 7`,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
