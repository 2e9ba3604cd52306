package provider

import (
	"context"
	"errors"
	"log/slog"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

// RetryConfig tunes Retrying.
type RetryConfig struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxElapsedTime  time.Duration
	Logger          *slog.Logger
}

// Retrying wraps a Provider with its own retry policy. Callers above it
// treat any error it returns as final.
type Retrying struct {
	delegate     Provider
	maxRetries   uint64
	buildBackoff func() backoff.BackOff
	logger       *slog.Logger
}

// WithRetry wraps p with exponential backoff. Only transient failures
// (network errors, 429 and 5xx answers) are retried.
func WithRetry(p Provider, cfg RetryConfig) *Retrying {
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = time.Second
	}
	if cfg.MaxElapsedTime <= 0 {
		cfg.MaxElapsedTime = 2 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Retrying{
		delegate:   p,
		maxRetries: cfg.MaxRetries,
		buildBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = cfg.InitialInterval
			b.MaxElapsedTime = cfg.MaxElapsedTime
			return b
		},
		logger: cfg.Logger,
	}
}

func (r *Retrying) Name() string { return r.delegate.Name() }

// Generate calls the delegate until it succeeds, a permanent error occurs,
// or the retry budget is spent.
func (r *Retrying) Generate(ctx context.Context, prompt string) (string, error) {
	return r.GenerateWithSystem(ctx, "", prompt)
}

// GenerateWithSystem retries like Generate and hands system to the
// delegate through Complete.
func (r *Retrying) GenerateWithSystem(ctx context.Context, system, prompt string) (string, error) {
	var out string
	attempt := 0
	op := func() error {
		attempt++
		text, err := Complete(ctx, r.delegate, system, prompt)
		if err == nil {
			out = text
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		r.logger.Warn("provider call failed, retrying",
			slog.String("provider", r.delegate.Name()),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(r.buildBackoff(), r.maxRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return "", err
	}
	return out, nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrEmptyResponse) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}

var (
	_ Provider       = (*Retrying)(nil)
	_ SystemPrompter = (*Retrying)(nil)
)
