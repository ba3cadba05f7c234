package ledger

import (
	"testing"

	"github.com/dbhq-uk/cortex/internal/envelope"
	"github.com/dbhq-uk/cortex/internal/pipeline"
)

func TestPlanStoreTakeIsSingleUse(t *testing.T) {
	s := NewMemoryPlanStore(nil)
	plan := PendingPlan{
		Original:      envelope.New(envelope.NewTextMessage("goal"), "CTX-2026-0830-001", envelope.Context{}),
		Decomposition: &pipeline.Result{Summary: "split", Confidence: 0.9},
	}
	if err := s.Put("CTX-2026-0830-001", plan); err != nil {
		t.Fatal(err)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d", s.Len())
	}

	got, ok := s.Take("CTX-2026-0830-001")
	if !ok {
		t.Fatal("plan not found")
	}
	if got.Decomposition.Summary != "split" {
		t.Errorf("summary = %q", got.Decomposition.Summary)
	}
	if got.StoredAt.IsZero() {
		t.Error("StoredAt should default to now")
	}

	if _, ok := s.Take("CTX-2026-0830-001"); ok {
		t.Error("second take must miss, plans are consumed exactly once")
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d after take", s.Len())
	}
}

func TestNoopPlanStoreAlwaysMisses(t *testing.T) {
	var s NoopPlanStore
	if err := s.Put("CTX-2026-0830-001", PendingPlan{}); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Take("CTX-2026-0830-001"); ok {
		t.Error("noop store should never return a plan")
	}
	if s.Len() != 0 {
		t.Error("noop store should report zero pending plans")
	}
}
