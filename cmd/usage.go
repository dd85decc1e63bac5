package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentloop-dev/agentloop/internal/config"
	"github.com/agentloop-dev/agentloop/internal/usage"
)

var (
	usageDays     int
	usageProvider string
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show token usage from the local log",
	Long: `Show daily token usage aggregated from the local usage log.

Examples:
  agentloop usage               # last 30 days
  agentloop usage --days 7
  agentloop usage --provider openai`,
	RunE: runUsage,
}

func init() {
	rootCmd.AddCommand(usageCmd)
	usageCmd.Flags().IntVar(&usageDays, "days", 30, "Number of days to include")
	usageCmd.Flags().StringVarP(&usageProvider, "provider", "p", "", "Filter to one provider")
}

func runUsage(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	path, err := usageLogPath(cfg)
	if err != nil {
		return err
	}

	opts := usage.FilterOptions{Provider: usageProvider}
	if usageDays > 0 {
		opts.Since = time.Now().AddDate(0, 0, -usageDays)
	}

	entries, err := usage.LoadEntries(path, opts)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No usage recorded.")
		return nil
	}

	days := usage.AggregateDaily(entries)
	var totalIn, totalOut, totalCached int

	fmt.Printf("%-12s %12s %12s %12s  %s\n", "Date", "Input", "Output", "Cached", "Models")
	for _, d := range days {
		fmt.Printf("%-12s %12d %12d %12d  %s\n",
			d.Date, d.InputTokens, d.OutputTokens, d.CachedTokens,
			strings.Join(d.ModelsUsed, ", "))
		totalIn += d.InputTokens
		totalOut += d.OutputTokens
		totalCached += d.CachedTokens
	}
	fmt.Printf("%-12s %12d %12d %12d\n", "Total", totalIn, totalOut, totalCached)
	return nil
}
