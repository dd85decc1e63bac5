package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentloop-dev/agentloop/internal/config"
	"github.com/agentloop-dev/agentloop/internal/llm"
	"github.com/agentloop-dev/agentloop/internal/session"
)

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage saved sessions",
	Long: `List, show, and delete saved sessions.

Examples:
  agentloop sessions                # list recent sessions
  agentloop sessions show <id>
  agentloop sessions delete <id>`,
	RunE: runSessionsList,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a session's messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsDeleteCmd)
	sessionsCmd.PersistentFlags().IntVar(&sessionsLimit, "limit", 20, "Maximum sessions to list")
}

func openSessionStore() (session.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if !cfg.Sessions.Enabled {
		return nil, fmt.Errorf("session persistence is disabled (set sessions.enabled: true)")
	}
	return session.NewStore(cfg.Sessions)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	store, err := openSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	summaries, err := store.List(context.Background(), sessionsLimit)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Println("No sessions.")
		return nil
	}

	for _, s := range summaries {
		name := s.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("%s  %-10s %-24s %2d round(s)  %s  %s\n",
			s.ID, s.Provider, s.Model, s.Rounds,
			s.UpdatedAt.Local().Format("2006-01-02 15:04"), name)
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	store, err := openSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	sess, err := store.Get(ctx, args[0])
	if err != nil {
		return err
	}
	messages, err := store.GetMessages(ctx, sess.ID)
	if err != nil {
		return err
	}

	fmt.Printf("Session %s (%s / %s)\n", sess.ID, sess.Provider, sess.Model)
	fmt.Printf("%d round(s), %d tool call(s), %d in / %d out tokens\n\n",
		sess.Rounds, sess.ToolCalls, sess.InputTokens, sess.OutputTokens)

	for _, m := range messages {
		fmt.Printf("--- %s (%s)\n", m.Role, m.CreatedAt.Local().Format("2006-01-02 15:04"))
		text := messageText(m)
		if text == "" {
			text = "(no text)"
		}
		fmt.Println(text)
		fmt.Println()
	}
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	store, err := openSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Delete(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted session %s\n", args[0])
	return nil
}

func messageText(m session.Message) string {
	var parts []string
	for _, p := range m.Parts {
		switch p.Type {
		case llm.PartText:
			parts = append(parts, p.Text)
		case llm.PartToolCall:
			if p.ToolCall != nil {
				parts = append(parts, fmt.Sprintf("[tool call: %s]", p.ToolCall.Name))
			}
		case llm.PartToolResult:
			if p.ToolResult != nil {
				parts = append(parts, fmt.Sprintf("[tool result: %s]", p.ToolResult.Name))
			}
		}
	}
	return strings.Join(parts, "\n")
}
