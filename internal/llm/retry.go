package llm

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RateLimitError is returned when a backend rejects a request with 429.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited: %s (retry after %s)", e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited: %s", e.Message)
}

// RetryConfig controls the transient-failure retry wrapper.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// RetryProvider wraps a Provider with retry on transient failures
// (rate limits, 5xx, dropped connections). Non-transient failures pass
// through on the first attempt.
type RetryProvider struct {
	inner  Provider
	config RetryConfig
}

func WrapWithRetry(p Provider, config RetryConfig) *RetryProvider {
	return &RetryProvider{inner: p, config: config}
}

func (p *RetryProvider) Name() string { return p.inner.Name() }

// Unwrap exposes the wrapped provider for capability checks.
func (p *RetryProvider) Unwrap() Provider { return p.inner }

func (p *RetryProvider) ListModels(ctx context.Context) ([]string, error) {
	if lister, ok := p.inner.(ModelLister); ok {
		return lister.ListModels(ctx)
	}
	return nil, fmt.Errorf("provider %s does not support model listing", p.inner.Name())
}

func (p *RetryProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		var lastErr error
		for attempt := 0; attempt < p.config.MaxAttempts; attempt++ {
			if attempt > 0 {
				delay := p.backoff(attempt, lastErr)
				select {
				case events <- Event{Type: EventRetry, RetryAttempt: attempt, RetryDelay: delay.String()}:
				case <-ctx.Done():
					return ctx.Err()
				}
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return ctx.Err()
				}
			}

			stream, err := p.inner.Stream(ctx, req)
			if err != nil {
				lastErr = err
				if !isRetryableError(err) {
					return err
				}
				continue
			}

			err = forwardStream(ctx, stream, events)
			if err == nil {
				return nil
			}
			lastErr = err
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !isRetryableError(err) {
				return err
			}
		}
		return fmt.Errorf("giving up after %d attempts: %w", p.config.MaxAttempts, lastErr)
	}), nil
}

// forwardStream copies events from the inner stream. An EventError is
// converted back into a returned error so the retry loop can classify
// it; all other events pass through untouched.
func forwardStream(ctx context.Context, stream Stream, events chan<- Event) error {
	defer stream.Close()
	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if ev.Type == EventError {
			return ev.Err
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

var retryAfterPattern = regexp.MustCompile(`retry after ([0-9.]+)`)

func (p *RetryProvider) backoff(attempt int, lastErr error) time.Duration {
	if rateErr, ok := lastErr.(*RateLimitError); ok && rateErr.RetryAfter > 0 {
		return rateErr.RetryAfter
	}
	if lastErr != nil {
		if m := retryAfterPattern.FindStringSubmatch(lastErr.Error()); m != nil {
			if secs, err := strconv.ParseFloat(m[1], 64); err == nil && secs > 0 {
				return time.Duration(secs * float64(time.Second))
			}
		}
	}

	delay := p.config.BaseDelay << uint(attempt-1)
	if delay > p.config.MaxDelay {
		delay = p.config.MaxDelay
	}
	// +-25% jitter to spread thundering herds
	jitter := time.Duration(rand.Int63n(int64(delay) / 2))
	return delay*3/4 + jitter
}

// isRetryableError reports whether an error looks transient. StreamError
// kinds are authoritative when present; otherwise classify by message,
// which is all some SDKs give us.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := err.(*RateLimitError); ok {
		return true
	}
	if streamErr, ok := err.(*StreamError); ok {
		if streamErr.Kind == StreamErrTransport {
			return true
		}
		msg := strings.ToLower(streamErr.Detail)
		return containsAny(msg,
			"429", "rate limit", "overloaded",
			"502", "503", "504", "bad gateway", "service unavailable",
		)
	}
	msg := strings.ToLower(err.Error())
	return containsAny(msg,
		"429", "rate limit", "overloaded",
		"502", "503", "504", "bad gateway", "service unavailable",
		"connection refused", "connection reset", "broken pipe",
		"timeout", "deadline exceeded", "unexpected eof",
	)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
