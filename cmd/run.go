package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentloop-dev/agentloop/internal/config"
	"github.com/agentloop-dev/agentloop/internal/llm"
	"github.com/agentloop-dev/agentloop/internal/session"
	"github.com/agentloop-dev/agentloop/internal/tools"
	"github.com/agentloop-dev/agentloop/internal/usage"
)

var (
	runProvider  string
	runModel     string
	runSession   string
	runSystem    string
	runMaxRounds int
	runNoTools   bool
	runStats     bool
	runDebug     bool
)

var runCmd = &cobra.Command{
	Use:   "run <prompt>",
	Short: "Run one tool-augmented turn",
	Long: `Run one conversational turn: stream the model's response, execute
requested tools, and loop until a final answer arrives.

Examples:
  agentloop run "what is using port 8080?"
  agentloop run --provider gemini "explain cmd/run.go"
  agentloop run --session abc123 "and now delete it"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runProvider, "provider", "p", "", "Provider to use (anthropic, openai, gemini)")
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "Override the configured model")
	runCmd.Flags().StringVar(&runSession, "session", "", "Resume an existing session by id")
	runCmd.Flags().StringVar(&runSystem, "system", "", "System prompt")
	runCmd.Flags().IntVar(&runMaxRounds, "max-rounds", 0, "Round ceiling for this turn (default from config)")
	runCmd.Flags().BoolVar(&runNoTools, "no-tools", false, "Disable tool execution")
	runCmd.Flags().BoolVar(&runStats, "stats", false, "Print turn statistics (rounds, tokens, tool calls)")
	runCmd.Flags().BoolVar(&runDebug, "debug", false, "Record requests and stream events to a per-session log")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	prompt := strings.Join(args, " ")

	providerName := runProvider
	if providerName == "" {
		providerName = cfg.Provider
	}
	settings, err := providerSettings(cfg)
	if err != nil {
		return err
	}
	if runModel != "" {
		s := settings[providerName]
		s.Model = runModel
		settings[providerName] = s
	}

	store, err := session.NewStore(cfg.Sessions)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	sess, history, err := openSession(ctx, store, cfg, providerName, settings[providerName].Model)
	if err != nil {
		return err
	}
	ctx = llm.ContextWithSessionID(ctx, sess.ID)

	dispatcher := llm.NewDispatcher(settings, llm.DefaultRetryConfig())
	provider, err := dispatcher.Provider(ctx, providerName, sess.ID)
	if err != nil {
		return err
	}

	registry := llm.NewToolRegistry()
	if !runNoTools {
		tools.RegisterDefaults(registry, tools.OutputLimits{})
	}

	engine := llm.NewEngine(provider, registry)
	if runDebug {
		dataDir, err := session.DataDir()
		if err != nil {
			return err
		}
		debugLog, err := llm.NewDebugLogger(filepath.Join(dataDir, "debug"), sess.ID)
		if err != nil {
			return err
		}
		defer debugLog.Close()
		engine.SetDebugLogger(debugLog)
		fmt.Fprintf(os.Stderr, "[debug log: %s]\n", filepath.Join(dataDir, "debug", sess.ID+".jsonl"))
	}
	usageLog, err := openUsageLog(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: usage log unavailable: %v\n", err)
	}
	if usageLog != nil {
		defer usageLog.Close()
		engine.SetUsageCallback(func(u llm.Usage) {
			_ = usageLog.Record(usage.Entry{
				SessionID:    sess.ID,
				Provider:     providerName,
				Model:        settings[providerName].Model,
				InputTokens:  u.InputTokens,
				OutputTokens: u.OutputTokens,
				CachedTokens: u.CachedInputTokens,
			})
		})
	}

	req := llm.Request{
		Model:    settings[providerName].Model,
		Messages: buildMessages(history, runSystem, prompt),
		Tools:    registry.AllSpecs(),
	}

	turnCfg := llm.TurnConfig{
		MaxRounds:    cfg.Turn.MaxRounds,
		RoundTimeout: cfg.Turn.RoundTimeout,
		ToolTimeout:  cfg.Turn.ToolTimeout,
	}
	if runMaxRounds > 0 {
		turnCfg.MaxRounds = runMaxRounds
	}

	result, runErr := streamTurn(ctx, engine, req, turnCfg)

	if err := persistTurn(ctx, store, sess, prompt, result); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to persist session: %v\n", err)
	}

	if runErr != nil {
		var turnErr *llm.TurnError
		if errors.As(runErr, &turnErr) && turnErr.Reason == llm.ReasonRoundCeiling {
			return fmt.Errorf("turn stopped at the round ceiling (%d rounds); raise --max-rounds to continue", turnErr.Rounds)
		}
		return runErr
	}

	if runStats && result != nil {
		fmt.Fprintf(os.Stderr, "\n[%d round(s), %d tool call(s), %d in / %d out tokens, session %s]\n",
			result.Rounds, len(result.ToolCalls),
			result.Usage.InputTokens, result.Usage.OutputTokens, sess.ID)
	}
	return nil
}

// streamTurn runs the turn, printing text deltas and tool activity as
// they arrive. It returns the assembled result for persistence.
func streamTurn(ctx context.Context, engine *llm.Engine, req llm.Request, cfg llm.TurnConfig) (*llm.TurnResult, error) {
	stream := engine.Stream(ctx, req, cfg)
	defer stream.Close()

	result := &llm.TurnResult{}
	var roundText strings.Builder
	roundCallStart := 0

	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return result, err
		}
		if ev.Round > result.Rounds {
			// A new round began; the text printed so far belonged to an
			// intermediate round.
			result.Rounds = ev.Round
			roundText.Reset()
			roundCallStart = len(result.ToolCalls)
		}
		switch ev.Type {
		case llm.EventTextDelta:
			roundText.WriteString(ev.Text)
			fmt.Print(ev.Text)
		case llm.EventToolCall:
			if ev.Tool != nil {
				result.ToolCalls = append(result.ToolCalls, *ev.Tool)
				fmt.Fprintf(os.Stderr, "\n[tool: %s]\n", ev.Tool.Name)
			}
		case llm.EventUsage:
			if ev.Use != nil {
				result.Usage.Add(*ev.Use)
			}
		case llm.EventRetry:
			// The round restarts; drop the aborted attempt's output so it
			// is not persisted twice.
			roundText.Reset()
			result.ToolCalls = result.ToolCalls[:roundCallStart]
			fmt.Fprintf(os.Stderr, "\n[retrying after transport failure]\n")
		case llm.EventError:
			return result, ev.Err
		case llm.EventDone:
			fmt.Println()
			result.FinalText = roundText.String()
			return result, nil
		}
	}
	result.FinalText = roundText.String()
	return result, nil
}

func buildMessages(history []session.Message, system, prompt string) []llm.Message {
	var msgs []llm.Message
	if system != "" {
		msgs = append(msgs, llm.SystemText(system))
	}
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: m.Role, Parts: m.Parts})
	}
	msgs = append(msgs, llm.UserText(prompt))
	return msgs
}

func openSession(ctx context.Context, store session.Store, cfg *config.Config, provider, model string) (*session.Session, []session.Message, error) {
	if runSession != "" {
		sess, err := store.Get(ctx, runSession)
		if err != nil {
			return nil, nil, err
		}
		history, err := store.GetMessages(ctx, sess.ID)
		if err != nil {
			return nil, nil, err
		}
		return sess, history, nil
	}

	sess := session.New("", provider, model)
	if cfg.Sessions.Enabled {
		if err := store.Create(ctx, sess); err != nil {
			return nil, nil, err
		}
	}
	return sess, nil, nil
}

func persistTurn(ctx context.Context, store session.Store, sess *session.Session, prompt string, result *llm.TurnResult) error {
	if result == nil {
		return nil
	}
	userMsg := llm.UserText(prompt)
	if err := store.AddMessage(ctx, sess.ID, &session.Message{Role: userMsg.Role, Parts: userMsg.Parts, CreatedAt: time.Now().UTC()}); err != nil {
		return err
	}
	if result.FinalText != "" {
		reply := llm.AssistantText(result.FinalText)
		if err := store.AddMessage(ctx, sess.ID, &session.Message{Role: reply.Role, Parts: reply.Parts, CreatedAt: time.Now().UTC()}); err != nil {
			return err
		}
	}
	return store.UpdateMetrics(ctx, sess.ID, result.Rounds, len(result.ToolCalls),
		result.Usage.InputTokens, result.Usage.OutputTokens)
}

func providerSettings(cfg *config.Config) (map[string]llm.ProviderSettings, error) {
	out := make(map[string]llm.ProviderSettings, 3)
	for _, name := range []string{"anthropic", "openai", "gemini"} {
		pc, err := cfg.ProviderSettingsFor(name)
		if err != nil {
			return nil, err
		}
		out[name] = llm.ProviderSettings{Model: pc.Model, APIKey: pc.APIKey, BaseURL: pc.BaseURL}
	}
	return out, nil
}

func usageLogPath(cfg *config.Config) (string, error) {
	if cfg.Usage.Path != "" {
		return cfg.Usage.Path, nil
	}
	dataDir, err := session.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "usage.jsonl"), nil
}

func openUsageLog(cfg *config.Config) (*usage.Logger, error) {
	if !cfg.Usage.Enabled {
		return nil, nil
	}
	path, err := usageLogPath(cfg)
	if err != nil {
		return nil, err
	}
	return usage.NewLogger(path)
}
