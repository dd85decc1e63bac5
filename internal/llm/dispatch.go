package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/agentloop-dev/agentloop/internal/credentials"
)

// ProviderSettings is the per-provider slice of configuration the
// dispatcher needs to materialize an authenticated provider.
type ProviderSettings struct {
	Model   string
	APIKey  string
	BaseURL string
}

// Dispatcher resolves (provider, session) into an authenticated
// provider. Credential material is cached per (provider, session);
// refresh runs under a lock keyed the same way, so concurrent turns in
// one session never race a token exchange while unrelated sessions
// refresh independently.
type Dispatcher struct {
	settings map[string]ProviderSettings
	retry    RetryConfig

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	tokens map[string]*credentials.BearerToken
}

func NewDispatcher(settings map[string]ProviderSettings, retry RetryConfig) *Dispatcher {
	if settings == nil {
		settings = make(map[string]ProviderSettings)
	}
	return &Dispatcher{
		settings: settings,
		retry:    retry,
		locks:    make(map[string]*sync.Mutex),
		tokens:   make(map[string]*credentials.BearerToken),
	}
}

// OpenStream resolves the named provider for the session and issues the
// streaming request. Credential failures surface here, before any
// adapter is involved.
func (d *Dispatcher) OpenStream(ctx context.Context, provider, session string, req Request) (Stream, error) {
	p, err := d.Provider(ctx, provider, session)
	if err != nil {
		return nil, err
	}
	return p.Stream(ctx, req)
}

// Provider materializes an authenticated provider wrapped with the
// transient-failure retry policy.
func (d *Dispatcher) Provider(ctx context.Context, provider, session string) (Provider, error) {
	inner, err := d.build(ctx, provider, session)
	if err != nil {
		return nil, err
	}
	return WrapWithRetry(inner, d.retry), nil
}

func (d *Dispatcher) build(ctx context.Context, provider, session string) (Provider, error) {
	cfg := d.settings[provider]
	switch provider {
	case "openai":
		return d.buildOpenAI(cfg, session), nil
	case "anthropic":
		return d.buildAnthropic(cfg)
	case "gemini":
		return d.buildGemini(cfg)
	default:
		return nil, fmt.Errorf("unknown provider: %s (valid: openai, anthropic, gemini)", provider)
	}
}

func (d *Dispatcher) buildOpenAI(cfg ProviderSettings, session string) Provider {
	p := &OpenAIProvider{
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
	}
	if cfg.APIKey != "" {
		key := cfg.APIKey
		p.AuthHeader = func(context.Context) (string, error) { return "Bearer " + key, nil }
		return p
	}
	p.AuthHeader = func(ctx context.Context) (string, error) {
		bearer, err := d.resolveToken(ctx, "openai", session, resolveOpenAIToken)
		if err != nil {
			return "", err
		}
		if bearer.AccountID != "" {
			p.ExtraHeaders = map[string]string{"ChatGPT-Account-ID": bearer.AccountID}
		}
		return "Bearer " + bearer.Token, nil
	}
	return p
}

func (d *Dispatcher) buildAnthropic(cfg ProviderSettings) (Provider, error) {
	// Cascade: config key, env key, OAuth token env, saved OAuth token,
	// interactive prompt.
	if cfg.APIKey != "" {
		return NewAnthropicProvider(cfg.APIKey, cfg.Model), nil
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return NewAnthropicProvider(key, cfg.Model), nil
	}
	if token := os.Getenv("CLAUDE_CODE_OAUTH_TOKEN"); token != "" {
		return NewAnthropicOAuthProvider(token, cfg.Model), nil
	}
	if creds, err := credentials.GetAnthropicOAuthCredentials(); err == nil {
		return NewAnthropicOAuthProvider(creds.AccessToken, cfg.Model), nil
	}
	token, err := promptForAnthropicToken()
	if err != nil {
		return nil, err
	}
	if err := credentials.SaveAnthropicOAuthCredentials(&credentials.AnthropicOAuthCredentials{AccessToken: token}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to save OAuth token: %v\n", err)
	}
	return NewAnthropicOAuthProvider(token, cfg.Model), nil
}

func (d *Dispatcher) buildGemini(cfg ProviderSettings) (Provider, error) {
	key := cfg.APIKey
	if key == "" {
		key = os.Getenv("GEMINI_API_KEY")
	}
	if key == "" {
		return nil, fmt.Errorf("gemini requires an API key (set GEMINI_API_KEY or configure providers.gemini.api_key)")
	}
	return NewGeminiProvider(key, cfg.Model), nil
}

// resolveToken returns a valid bearer token for (provider, session),
// re-materializing it through resolve when missing or expired. The
// keyed lock serializes refreshes for one session without blocking
// other sessions.
func (d *Dispatcher) resolveToken(ctx context.Context, provider, session string,
	resolve func(ctx context.Context, prior *credentials.BearerToken) (*credentials.BearerToken, error)) (*credentials.BearerToken, error) {

	key := provider + "/" + session

	d.mu.Lock()
	cached := d.tokens[key]
	d.mu.Unlock()
	if cached != nil && !cached.Expired() {
		return cached, nil
	}

	lock := d.sessionLock(key)
	lock.Lock()
	defer lock.Unlock()

	// Another turn may have refreshed while we waited.
	d.mu.Lock()
	cached = d.tokens[key]
	d.mu.Unlock()
	if cached != nil && !cached.Expired() {
		return cached, nil
	}

	bearer, err := resolve(ctx, cached)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.tokens[key] = bearer
	d.mu.Unlock()
	return bearer, nil
}

func (d *Dispatcher) sessionLock(key string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	lock, ok := d.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		d.locks[key] = lock
	}
	return lock
}

func resolveOpenAIToken(_ context.Context, _ *credentials.BearerToken) (*credentials.BearerToken, error) {
	creds, err := credentials.GetOpenAICredentials()
	if err != nil {
		return nil, err
	}
	if creds.Bearer != nil {
		if creds.Bearer.Expired() {
			return nil, fmt.Errorf("OpenAI OAuth token expired; run 'codex login' to refresh")
		}
		return creds.Bearer, nil
	}
	return &credentials.BearerToken{Token: creds.APIKey}, nil
}

// promptForAnthropicToken asks the user to run `claude setup-token` and
// paste the result. Fails in non-interactive contexts.
func promptForAnthropicToken() (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("Anthropic authentication required but running non-interactively.\n" +
			"Set ANTHROPIC_API_KEY or CLAUDE_CODE_OAUTH_TOKEN, or run interactively to authenticate")
	}

	fmt.Fprintln(os.Stderr, "No Anthropic credentials found.")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "To authenticate, run this in another terminal:")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "  claude setup-token")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Copy the token it generates and paste it below.")
	fmt.Fprint(os.Stderr, "Paste token: ")

	tokenBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}

	token := strings.Join(strings.Fields(string(tokenBytes)), "")
	if token == "" {
		return "", fmt.Errorf("empty token provided")
	}
	return token, nil
}
