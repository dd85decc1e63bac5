package llm

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DebugLogger records requests and canonical events to a per-session
// JSONL file. A nil *DebugLogger is valid and logs nothing, so call
// sites never need a guard.
type DebugLogger struct {
	sessionID string

	mu        sync.Mutex
	file      *os.File
	writer    *bufio.Writer
	closeOnce sync.Once
}

type debugEntry struct {
	Timestamp string `json:"timestamp"`
	SessionID string `json:"session_id"`
	Type      string `json:"type"`
}

type debugRequestEntry struct {
	debugEntry
	Round    int            `json:"round"`
	Provider string         `json:"provider"`
	Model    string         `json:"model"`
	Messages []debugMessage `json:"messages"`
	Tools    []string       `json:"tools,omitempty"`
}

type debugMessage struct {
	Role  string      `json:"role"`
	Parts []debugPart `json:"parts"`
}

type debugPart struct {
	Type       string           `json:"type"`
	Text       string           `json:"text,omitempty"`
	ToolCall   *ToolCall        `json:"tool_call,omitempty"`
	ToolResult *debugToolResult `json:"tool_result,omitempty"`
}

type debugToolResult struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

type debugEventEntry struct {
	debugEntry
	EventType string `json:"event_type"`
	Data      any    `json:"data,omitempty"`
}

// DebugLogRetention is how long per-session debug logs are kept before
// NewDebugLogger sweeps them.
const DebugLogRetention = 7 * 24 * time.Hour

// NewDebugLogger opens (or creates) the log file for sessionID under
// baseDir and sweeps logs older than DebugLogRetention.
func NewDebugLogger(baseDir, sessionID string) (*DebugLogger, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, err
	}
	cleanupDebugLogs(baseDir, DebugLogRetention)

	file, err := os.OpenFile(filepath.Join(baseDir, sessionID+".jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &DebugLogger{
		sessionID: sessionID,
		file:      file,
		writer:    bufio.NewWriter(file),
	}, nil
}

// LogRequest records one round's outgoing request.
func (l *DebugLogger) LogRequest(round int, provider string, req Request) {
	if l == nil {
		return
	}
	entry := debugRequestEntry{
		debugEntry: l.entry("request"),
		Round:      round,
		Provider:   provider,
		Model:      req.Model,
		Messages:   debugMessages(req.Messages),
	}
	for _, tool := range req.Tools {
		entry.Tools = append(entry.Tools, tool.Name)
	}
	l.write(entry)
	l.flush()
}

// LogEvent records one canonical stream event. Text deltas are not
// flushed individually; Done and Error force a flush.
func (l *DebugLogger) LogEvent(ev Event) {
	if l == nil {
		return
	}
	entry := debugEventEntry{
		debugEntry: l.entry("event"),
		EventType:  string(ev.Type),
	}
	switch ev.Type {
	case EventTextDelta:
		entry.Data = map[string]string{"text": ev.Text}
	case EventToolCall:
		if ev.Tool != nil {
			entry.Data = ev.Tool
		}
	case EventUsage:
		if ev.Use != nil {
			entry.Data = map[string]int{
				"input_tokens":        ev.Use.InputTokens,
				"output_tokens":       ev.Use.OutputTokens,
				"cached_input_tokens": ev.Use.CachedInputTokens,
			}
		}
	case EventError:
		if ev.Err != nil {
			entry.Data = map[string]string{"error": ev.Err.Error()}
		}
	case EventRetry:
		entry.Data = map[string]any{"attempt": ev.RetryAttempt, "delay": ev.RetryDelay}
	}
	l.write(entry)
	if ev.Type == EventDone || ev.Type == EventError {
		l.flush()
	}
}

// LogToolResult records a tool execution outcome, truncating large
// outputs to keep logs readable.
func (l *DebugLogger) LogToolResult(result ToolResult) {
	if l == nil {
		return
	}
	content := result.Content
	if len(content) > 500 {
		content = content[:500] + "...[truncated]"
	}
	entry := debugEventEntry{
		debugEntry: l.entry("tool_result"),
		EventType:  "tool_result",
		Data: debugToolResult{
			ID:      result.ID,
			Name:    result.Name,
			Content: content,
			IsError: result.IsError,
		},
	}
	l.write(entry)
	l.flush()
}

// Close flushes and closes the underlying file. Safe to call more than
// once and on a nil logger.
func (l *DebugLogger) Close() error {
	if l == nil {
		return nil
	}
	var closeErr error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if err := l.writer.Flush(); err != nil {
			closeErr = err
		}
		if err := l.file.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
	})
	return closeErr
}

func (l *DebugLogger) entry(kind string) debugEntry {
	return debugEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		SessionID: l.sessionID,
		Type:      kind,
	}
}

func (l *DebugLogger) write(entry any) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer.Write(data)
	l.writer.WriteByte('\n')
}

func (l *DebugLogger) flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer.Flush()
}

func debugMessages(messages []Message) []debugMessage {
	out := make([]debugMessage, 0, len(messages))
	for _, msg := range messages {
		dm := debugMessage{Role: string(msg.Role)}
		for _, part := range msg.Parts {
			dp := debugPart{Type: string(part.Type)}
			switch part.Type {
			case PartText:
				dp.Text = part.Text
			case PartToolCall:
				dp.ToolCall = part.ToolCall
			case PartToolResult:
				if part.ToolResult != nil {
					content := part.ToolResult.Content
					if len(content) > 500 {
						content = content[:500] + "...[truncated]"
					}
					dp.ToolResult = &debugToolResult{
						ID:      part.ToolResult.ID,
						Name:    part.ToolResult.Name,
						Content: content,
						IsError: part.ToolResult.IsError,
					}
				}
			}
			dm.Parts = append(dm.Parts, dp)
		}
		out = append(out, dm)
	}
	return out
}

func cleanupDebugLogs(baseDir string, retention time.Duration) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-retention)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(baseDir, entry.Name()))
		}
	}
}
