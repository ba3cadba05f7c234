package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/dbhq-uk/cortex/internal/envelope"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreMirrorsDelegations(t *testing.T) {
	store := openTestStore(t)
	l := NewDelegationLedger(store)

	if err := l.Delegate(DelegationRecord{
		ReferenceCode: "CTX-2026-0830-001",
		DelegatedBy:   "orchestrator",
		DelegatedTo:   "writer",
		Description:   "draft the announcement",
	}); err != nil {
		t.Fatal(err)
	}
	if err := l.UpdateStatus("CTX-2026-0830-001", StatusComplete); err != nil {
		t.Fatal(err)
	}

	recs, err := store.ListDelegations(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("persisted %d records", len(recs))
	}
	if recs[0].DelegatedTo != "writer" || recs[0].Status != StatusComplete {
		t.Errorf("persisted record = %+v", recs[0])
	}
}

func TestStoreMirrorsWorkflows(t *testing.T) {
	store := openTestStore(t)
	l := NewWorkflowLedger(store)

	original := envelope.New(envelope.NewTextMessage("goal"), "CTX-2026-0830-001", envelope.Context{})
	if err := l.Create("CTX-2026-0830-001", original, "split", []string{"CTX-2026-0830-002", "CTX-2026-0830-003"}); err != nil {
		t.Fatal(err)
	}
	l.StoreSubtaskResult("CTX-2026-0830-002", "a")
	l.StoreSubtaskResult("CTX-2026-0830-003", "b")
	if _, ok := l.TryComplete("CTX-2026-0830-001"); !ok {
		t.Fatal("completion did not fire")
	}

	wfs, err := store.ListWorkflows(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(wfs) != 1 {
		t.Fatalf("persisted %d workflows", len(wfs))
	}
	if wfs[0].Status != WorkflowCompleted || wfs[0].CompletedAt == nil {
		t.Errorf("persisted workflow = %+v", wfs[0])
	}
	if len(wfs[0].SubtaskRefs) != 2 {
		t.Errorf("subtask refs = %v", wfs[0].SubtaskRefs)
	}
}

func TestStoreRefSeqRoundTrip(t *testing.T) {
	store := openTestStore(t)

	if seq, err := store.LastRefSeq("2026-0830"); err != nil || seq != 0 {
		t.Fatalf("fresh day seq = %d, err = %v", seq, err)
	}
	if err := store.SaveRefSeq("2026-0830", 7); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveRefSeq("2026-0830", 8); err != nil {
		t.Fatal(err)
	}
	if seq, err := store.LastRefSeq("2026-0830"); err != nil || seq != 8 {
		t.Fatalf("seq = %d, err = %v, want 8", seq, err)
	}
}

func TestStoreUpdateUnknownDelegationIsHarmless(t *testing.T) {
	store := openTestStore(t)
	if err := store.updateDelegationStatus("CTX-2026-0830-999", StatusOverdue); err != nil {
		t.Errorf("update of an absent row should not error: %v", err)
	}
}

func TestStorePendingPlanLifecycle(t *testing.T) {
	store := openTestStore(t)
	s := NewMemoryPlanStore(store)

	plan := PendingPlan{StoredAt: time.Now().UTC()}
	if err := s.Put("CTX-2026-0830-001", plan); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Take("CTX-2026-0830-001"); !ok {
		t.Fatal("plan not found")
	}

	var resolved int
	if err := store.DB().QueryRow(
		`SELECT COUNT(*) FROM pending_plans WHERE resolved_at IS NOT NULL`).Scan(&resolved); err != nil {
		t.Fatal(err)
	}
	if resolved != 1 {
		t.Errorf("resolved plans = %d, want 1", resolved)
	}
}
