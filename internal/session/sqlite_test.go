package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/agentloop-dev/agentloop/internal/llm"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStoreSessionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := New("debugging", "anthropic", "claude-sonnet-4-5")
	if err := store.Create(ctx, sess); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "debugging" || got.Provider != "anthropic" || got.Model != "claude-sonnet-4-5" {
		t.Errorf("got = %+v", got)
	}

	if err := store.Delete(ctx, sess.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, sess.ID); err == nil {
		t.Error("expected error after delete")
	}
}

func TestSQLiteStoreDeleteMissing(t *testing.T) {
	store := newTestStore(t)
	if err := store.Delete(context.Background(), "nope"); err == nil {
		t.Error("expected error for missing session")
	}
}

func TestSQLiteStoreMessages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := New("", "openai", "gpt-test")
	if err := store.Create(ctx, sess); err != nil {
		t.Fatal(err)
	}

	user := llm.UserText("what time is it?")
	assistant := llm.Message{Role: llm.RoleAssistant, Parts: []llm.Part{
		{Type: llm.PartToolCall, ToolCall: &llm.ToolCall{ID: "c1", Name: "clock", Arguments: []byte(`{}`)}},
	}}
	for _, m := range []llm.Message{user, assistant} {
		if err := store.AddMessage(ctx, sess.ID, &Message{Role: m.Role, Parts: m.Parts}); err != nil {
			t.Fatal(err)
		}
	}

	messages, err := store.GetMessages(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 2 {
		t.Fatalf("got %d messages", len(messages))
	}
	if messages[0].Role != llm.RoleUser || messages[0].Parts[0].Text != "what time is it?" {
		t.Errorf("first = %+v", messages[0])
	}
	if messages[1].Parts[0].ToolCall == nil || messages[1].Parts[0].ToolCall.Name != "clock" {
		t.Errorf("second = %+v", messages[1])
	}
}

func TestSQLiteStoreMessagesCascadeOnDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := New("", "openai", "gpt-test")
	if err := store.Create(ctx, sess); err != nil {
		t.Fatal(err)
	}
	if err := store.AddMessage(ctx, sess.ID, &Message{Role: llm.RoleUser, Parts: []llm.Part{{Type: llm.PartText, Text: "x"}}}); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, sess.ID); err != nil {
		t.Fatal(err)
	}
	messages, err := store.GetMessages(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 0 {
		t.Errorf("messages survived the cascade: %+v", messages)
	}
}

func TestSQLiteStoreMetricsAccumulate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := New("", "gemini", "gemini-2.5-flash")
	if err := store.Create(ctx, sess); err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateMetrics(ctx, sess.ID, 2, 1, 100, 40); err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateMetrics(ctx, sess.ID, 3, 2, 50, 10); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Rounds != 5 || got.ToolCalls != 3 || got.InputTokens != 150 || got.OutputTokens != 50 {
		t.Errorf("metrics = %+v", got)
	}
}

func TestSQLiteStoreList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"first", "second", "third"} {
		sess := New(name, "openai", "gpt-test")
		if err := store.Create(ctx, sess); err != nil {
			t.Fatal(err)
		}
	}

	summaries, err := store.List(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 2 {
		t.Errorf("got %d summaries, want limit respected", len(summaries))
	}
}

func TestNewStoreDisabled(t *testing.T) {
	store, err := NewStore(Config{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := store.(*NoopStore); !ok {
		t.Fatalf("store type %T", store)
	}
	if _, err := store.Get(context.Background(), "any"); err != ErrDisabled {
		t.Errorf("err = %v, want ErrDisabled", err)
	}
}
