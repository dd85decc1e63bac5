package llm

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentloop-dev/agentloop/internal/credentials"
)

func TestDispatcherUnknownProvider(t *testing.T) {
	d := NewDispatcher(nil, DefaultRetryConfig())
	if _, err := d.Provider(context.Background(), "bedrock", "s1"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestDispatcherGeminiRequiresKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	d := NewDispatcher(nil, DefaultRetryConfig())
	if _, err := d.Provider(context.Background(), "gemini", "s1"); err == nil {
		t.Fatal("expected error without an API key")
	}
}

func TestDispatcherOpenAIWithConfiguredKey(t *testing.T) {
	d := NewDispatcher(map[string]ProviderSettings{
		"openai": {Model: "gpt-test", APIKey: "sk-test"},
	}, DefaultRetryConfig())

	p, err := d.Provider(context.Background(), "openai", "s1")
	if err != nil {
		t.Fatal(err)
	}
	retry, ok := p.(*RetryProvider)
	if !ok {
		t.Fatalf("provider type %T, want retry wrapper", p)
	}
	inner, ok := retry.Unwrap().(*OpenAIProvider)
	if !ok {
		t.Fatalf("inner type %T", retry.Unwrap())
	}
	auth, err := inner.AuthHeader(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if auth != "Bearer sk-test" {
		t.Errorf("auth = %q", auth)
	}
}

func TestResolveTokenCachesPerSession(t *testing.T) {
	d := NewDispatcher(nil, DefaultRetryConfig())
	var resolves atomic.Int32

	resolve := func(ctx context.Context, prior *credentials.BearerToken) (*credentials.BearerToken, error) {
		resolves.Add(1)
		return &credentials.BearerToken{
			Token:  "tok",
			Expiry: time.Now().Add(time.Hour),
		}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.resolveToken(context.Background(), "openai", "s1", resolve); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if got := resolves.Load(); got != 1 {
		t.Errorf("resolve ran %d times for one session, want 1", got)
	}
}

func TestResolveTokenSessionsIndependent(t *testing.T) {
	d := NewDispatcher(nil, DefaultRetryConfig())
	var resolves atomic.Int32

	resolve := func(ctx context.Context, prior *credentials.BearerToken) (*credentials.BearerToken, error) {
		resolves.Add(1)
		return &credentials.BearerToken{Token: "tok", Expiry: time.Now().Add(time.Hour)}, nil
	}

	for _, session := range []string{"s1", "s2", "s3"} {
		if _, err := d.resolveToken(context.Background(), "openai", session, resolve); err != nil {
			t.Fatal(err)
		}
	}
	if got := resolves.Load(); got != 3 {
		t.Errorf("resolve ran %d times for three sessions, want 3", got)
	}
}

func TestResolveTokenRefreshesExpired(t *testing.T) {
	d := NewDispatcher(nil, DefaultRetryConfig())
	var resolves atomic.Int32

	expiry := time.Now().Add(-time.Minute)
	resolve := func(ctx context.Context, prior *credentials.BearerToken) (*credentials.BearerToken, error) {
		resolves.Add(1)
		return &credentials.BearerToken{Token: "tok", Expiry: expiry}, nil
	}

	if _, err := d.resolveToken(context.Background(), "openai", "s1", resolve); err != nil {
		t.Fatal(err)
	}
	// The cached token is already expired, so the next call resolves again.
	expiry = time.Now().Add(time.Hour)
	if _, err := d.resolveToken(context.Background(), "openai", "s1", resolve); err != nil {
		t.Fatal(err)
	}
	if got := resolves.Load(); got != 2 {
		t.Errorf("resolve ran %d times, want 2", got)
	}
}
