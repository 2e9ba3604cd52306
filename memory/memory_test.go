package memory

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMemorize_SkipsBlank(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Memorize(ctx, "   ", nil); err != nil {
		t.Fatalf("Memorize blank: %v", err)
	}
	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 0 {
		t.Errorf("Count = %d, want 0", n)
	}
}

func TestRecall_RanksRelevant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	facts := []struct {
		text string
		meta map[string]string
	}{
		{"We decided to use PostgreSQL for the billing database", map[string]string{"agent_id": "cto"}},
		{"The API rate limit is 100 requests per minute", map[string]string{"agent_id": "dev"}},
		{"The office closes at 6pm on Fridays", nil},
	}
	for _, f := range facts {
		if err := s.Memorize(ctx, f.text, f.meta); err != nil {
			t.Fatalf("Memorize: %v", err)
		}
	}

	got, err := s.Recall(ctx, "which database, postgresql?", 5)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("Recall returned nothing")
	}
	if got[0].Document != facts[0].text {
		t.Errorf("top document = %q", got[0].Document)
	}
	if got[0].Metadata["agent_id"] != "cto" {
		t.Errorf("metadata = %v", got[0].Metadata)
	}
	if got[0].CreatedAt.IsZero() {
		t.Error("CreatedAt not parsed")
	}
}

func TestRecall_Limit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		_ = s.Memorize(ctx, "the release checklist lives in docs/release.md", nil)
	}

	got, err := s.Recall(ctx, "release checklist", 0)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(got) != DefaultRecallLimit {
		t.Errorf("Recall default limit returned %d, want %d", len(got), DefaultRecallLimit)
	}

	got, _ = s.Recall(ctx, "release", 2)
	if len(got) != 2 {
		t.Errorf("Recall limit 2 returned %d", len(got))
	}
}

func TestRecall_EmptyQueryAndStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.Recall(ctx, "anything", 5)
	if err != nil {
		t.Fatalf("Recall on empty store: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Recall = %v, want empty slice", got)
	}

	_ = s.Memorize(ctx, "first fact", nil)
	got, err = s.Recall(ctx, "!!!", 5)
	if err != nil {
		t.Fatalf("Recall punctuation query: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("punctuation-only query should fall back to recent memories, got %d", len(got))
	}
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Memorize(context.Background(), "persisted", nil); err != nil {
		t.Fatalf("Memorize: %v", err)
	}
	_ = s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if n, _ := s2.Count(context.Background()); n != 1 {
		t.Errorf("Count after reopen = %d, want 1", n)
	}
}

func TestSanitizeFTSQuery(t *testing.T) {
	tests := map[string]string{
		"":                 "",
		"hello":            `"hello"`,
		"foo-bar baz?":     `"foobar" OR "baz"`,
		`"quoted" AND NOT`: `"quoted" OR "AND" OR "NOT"`,
	}
	for in, want := range tests {
		if got := sanitizeFTSQuery(in); got != want {
			t.Errorf("sanitizeFTSQuery(%q) = %q, want %q", in, got, want)
		}
	}
}
