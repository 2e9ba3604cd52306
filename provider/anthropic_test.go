package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAnthropicGenerateWithSystem(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("expected x-api-key=test-key, got %s", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != "2023-06-01" {
			t.Errorf("expected anthropic-version=2023-06-01, got %s", r.Header.Get("anthropic-version"))
		}

		var req messagesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.System != "You are the CTO." {
			t.Errorf("expected system prompt, got %q", req.System)
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" || req.Messages[0].Content != "Plan the release" {
			t.Fatalf("messages = %+v", req.Messages)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(messagesResponse{Content: []contentBlock{
			{Type: "text", Text: `{"reasoning": "r", `},
			{Type: "tool_use"},
			{Type: "text", Text: `"actions": []}`},
		}})
	}))
	defer server.Close()

	p := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key", BaseURL: server.URL})

	got, err := Complete(context.Background(), p, "You are the CTO.", "Plan the release")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != `{"reasoning": "r", "actions": []}` {
		t.Errorf("content = %q", got)
	}
}

func TestAnthropicGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req messagesRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.System != "" {
			t.Errorf("unexpected system %q", req.System)
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" || req.Messages[0].Content != "prompt" {
			t.Errorf("messages = %+v", req.Messages)
		}
		_ = json.NewEncoder(w).Encode(messagesResponse{Content: []contentBlock{{Type: "text", Text: "answer"}}})
	}))
	defer server.Close()

	p := NewAnthropicProvider(AnthropicConfig{APIKey: "k", BaseURL: server.URL})
	got, err := p.Generate(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "answer" {
		t.Errorf("Generate = %q, want answer", got)
	}
}

func TestAnthropicGenerate_Empty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(messagesResponse{})
	}))
	defer server.Close()

	p := NewAnthropicProvider(AnthropicConfig{BaseURL: server.URL})
	if _, err := p.Generate(context.Background(), "prompt"); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("err = %v, want ErrEmptyResponse", err)
	}
}

func TestAnthropicAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = fmt.Fprint(w, `{"error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	}))
	defer server.Close()

	p := NewAnthropicProvider(AnthropicConfig{APIKey: "bad-key", BaseURL: server.URL})

	_, err := p.Generate(context.Background(), "Hello")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", apiErr.StatusCode)
	}
	if apiErr.Temporary() {
		t.Error("401 should not be temporary")
	}
}

func TestAnthropicProviderName(t *testing.T) {
	p := NewAnthropicProvider(AnthropicConfig{})
	if p.Name() != "anthropic" {
		t.Errorf("expected name 'anthropic', got %q", p.Name())
	}
}

func TestAnthropicDefaults(t *testing.T) {
	p := NewAnthropicProvider(AnthropicConfig{})
	if p.config.Model != defaultAnthropicModel {
		t.Errorf("expected default model %s, got %s", defaultAnthropicModel, p.config.Model)
	}
	if p.config.BaseURL != defaultAnthropicBaseURL {
		t.Errorf("expected default base URL %s, got %s", defaultAnthropicBaseURL, p.config.BaseURL)
	}
	if p.config.MaxTokens != defaultAnthropicMaxTokens {
		t.Errorf("expected default max tokens %d, got %d", defaultAnthropicMaxTokens, p.config.MaxTokens)
	}
}
