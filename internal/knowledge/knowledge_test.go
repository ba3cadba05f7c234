package knowledge

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dbhq-uk/cortex/internal/ledger"
	"github.com/dbhq-uk/cortex/internal/pipeline"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	lstore, err := ledger.OpenStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { lstore.Close() })
	s, err := New(lstore.DB())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestQueryScoresByKeywordOverlap(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Add(ctx, "wiki", "launch checklist from last quarter", []string{"Launch", "checklist"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(ctx, "wiki", "style guide for announcements", []string{"announcement", "style"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(ctx, "notes", "launch announcement template", []string{"launch", "announcement"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.Query(ctx, pipeline.ContextQuery{Keywords: []string{"LAUNCH", "announcement"}, MaxResults: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d snippets", len(got))
	}
	if got[0].Content != "launch announcement template" {
		t.Errorf("best match = %q, want the double-keyword hit first", got[0].Content)
	}
	if got[0].Score != 2 {
		t.Errorf("score = %v", got[0].Score)
	}
}

func TestQueryNoKeywordsReturnsNothing(t *testing.T) {
	s := openTestStore(t)
	if err := s.Add(context.Background(), "x", "content", []string{"a"}); err != nil {
		t.Fatal(err)
	}
	got, err := s.Query(context.Background(), pipeline.ContextQuery{})
	if err != nil || got != nil {
		t.Errorf("Query with no keywords = %v, %v", got, err)
	}
}

func TestAddRejectsEmptyContent(t *testing.T) {
	s := openTestStore(t)
	if err := s.Add(context.Background(), "x", "   ", []string{"a"}); err == nil {
		t.Error("empty content should be rejected")
	}
}
