package provider

import (
	"context"
	"testing"
)

type plainProvider struct{ prompt string }

func (p *plainProvider) Name() string { return "plain" }

func (p *plainProvider) Generate(_ context.Context, prompt string) (string, error) {
	p.prompt = prompt
	return "ok", nil
}

type recordingProvider struct {
	plainProvider
	system string
}

func (p *recordingProvider) GenerateWithSystem(_ context.Context, system, prompt string) (string, error) {
	p.system, p.prompt = system, prompt
	return "ok", nil
}

func TestComplete(t *testing.T) {
	ctx := context.Background()

	plain := &plainProvider{}
	if _, err := Complete(ctx, plain, "persona", "task"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if plain.prompt != "persona\n\ntask" {
		t.Errorf("plain prompt = %q", plain.prompt)
	}

	rec := &recordingProvider{}
	if _, err := Complete(ctx, rec, "persona", "task"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if rec.system != "persona" || rec.prompt != "task" {
		t.Errorf("system = %q, prompt = %q", rec.system, rec.prompt)
	}

	rec = &recordingProvider{}
	if _, err := Complete(ctx, rec, "", "task"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if rec.system != "" || rec.prompt != "task" {
		t.Errorf("empty system: system = %q, prompt = %q", rec.system, rec.prompt)
	}
}
