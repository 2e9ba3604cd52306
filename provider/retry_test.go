package provider

import (
	"context"
	"errors"
	"testing"
	"time"
)

type flakyProvider struct {
	errs  []error
	calls int
}

func (f *flakyProvider) Name() string { return "flaky" }

func (f *flakyProvider) Generate(_ context.Context, _ string) (string, error) {
	f.calls++
	if f.calls <= len(f.errs) {
		return "", f.errs[f.calls-1]
	}
	return "ok", nil
}

func fastRetry(max uint64) RetryConfig {
	return RetryConfig{MaxRetries: max, InitialInterval: time.Millisecond, MaxElapsedTime: time.Second}
}

func TestRetrying_RecoversFromTransientErrors(t *testing.T) {
	f := &flakyProvider{errs: []error{
		&APIError{Provider: "flaky", StatusCode: 503},
		errors.New("connection reset"),
	}}
	r := WithRetry(f, fastRetry(3))

	got, err := r.Generate(context.Background(), "p")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "ok" || f.calls != 3 {
		t.Errorf("Generate = %q after %d calls, want ok after 3", got, f.calls)
	}
	if r.Name() != "flaky" {
		t.Errorf("Name = %q", r.Name())
	}
}

func TestRetrying_PermanentErrorStopsImmediately(t *testing.T) {
	f := &flakyProvider{errs: []error{&APIError{Provider: "flaky", StatusCode: 400}}}
	r := WithRetry(f, fastRetry(5))

	_, err := r.Generate(context.Background(), "p")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 400 {
		t.Fatalf("err = %v, want 400 APIError", err)
	}
	if f.calls != 1 {
		t.Errorf("calls = %d, want 1", f.calls)
	}
}

func TestRetrying_ExhaustsBudget(t *testing.T) {
	boom := errors.New("timeout")
	f := &flakyProvider{errs: []error{boom, boom, boom, boom, boom}}
	r := WithRetry(f, fastRetry(2))

	if _, err := r.Generate(context.Background(), "p"); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if f.calls != 3 {
		t.Errorf("calls = %d, want 3 (1 + 2 retries)", f.calls)
	}
}

func TestRetrying_ForwardsSystem(t *testing.T) {
	rec := &recordingProvider{}
	r := WithRetry(rec, fastRetry(1))
	if _, err := Complete(context.Background(), r, "You are the CTO.", "Plan"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if rec.system != "You are the CTO." || rec.prompt != "Plan" {
		t.Errorf("delegate got system=%q prompt=%q", rec.system, rec.prompt)
	}
}
