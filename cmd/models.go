package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentloop-dev/agentloop/internal/config"
	"github.com/agentloop-dev/agentloop/internal/llm"
)

var (
	modelsProvider string
	modelsJSON     bool
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List available models from a provider",
	Long: `List available models from a provider.

This command queries the provider's models API to discover what models
are available. Useful for finding model names to configure.

Examples:
  agentloop models                       # list models from current provider
  agentloop models --provider anthropic  # list models from Anthropic
  agentloop models --json                # output as JSON`,
	RunE: runModels,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.Flags().StringVarP(&modelsProvider, "provider", "p", "", "Provider to list models from (anthropic, openai, gemini)")
	modelsCmd.Flags().BoolVar(&modelsJSON, "json", false, "Output as JSON")
}

func runModels(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	providerName := modelsProvider
	if providerName == "" {
		providerName = cfg.Provider
	}
	settings, err := providerSettings(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dispatcher := llm.NewDispatcher(settings, llm.DefaultRetryConfig())
	provider, err := dispatcher.Provider(ctx, providerName, "models")
	if err != nil {
		return err
	}

	lister, ok := provider.(llm.ModelLister)
	if !ok {
		if unwrapper, okUnwrap := provider.(interface{ Unwrap() llm.Provider }); okUnwrap {
			lister, ok = unwrapper.Unwrap().(llm.ModelLister)
		}
	}
	if !ok {
		return fmt.Errorf("provider '%s' does not support model listing", providerName)
	}

	models, err := lister.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("failed to list models: %w", err)
	}
	if len(models) == 0 {
		fmt.Println("No models found.")
		return nil
	}

	if modelsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(models)
	}

	fmt.Printf("Available models from %s:\n\n", providerName)
	for _, m := range models {
		fmt.Printf("  %s\n", m)
	}
	fmt.Printf("\nTo use a model, add to your config:\n")
	fmt.Printf("  %s:\n    model: <model-name>\n", providerName)
	return nil
}
