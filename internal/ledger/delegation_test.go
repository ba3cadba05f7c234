package ledger

import (
	"testing"
	"time"
)

func TestDelegateAndUpdateStatus(t *testing.T) {
	l := NewDelegationLedger(nil)

	if err := l.Delegate(DelegationRecord{}); err == nil {
		t.Error("delegation without reference code should fail")
	}

	rec := DelegationRecord{
		ReferenceCode: "CTX-2026-0830-001",
		DelegatedBy:   "orchestrator",
		DelegatedTo:   "writer",
		Description:   "draft the announcement",
	}
	if err := l.Delegate(rec); err != nil {
		t.Fatal(err)
	}

	got, ok := l.Get("CTX-2026-0830-001")
	if !ok {
		t.Fatal("record not found")
	}
	if got.Status != StatusAssigned {
		t.Errorf("status = %s, want assigned default", got.Status)
	}
	if got.AssignedAt.IsZero() {
		t.Error("AssignedAt should default to now")
	}

	if err := l.UpdateStatus("CTX-2026-0830-001", StatusComplete); err != nil {
		t.Fatal(err)
	}
	got, _ = l.Get("CTX-2026-0830-001")
	if got.Status != StatusComplete {
		t.Errorf("status = %s after update", got.Status)
	}

	if err := l.UpdateStatus("CTX-2026-0830-999", StatusComplete); err == nil {
		t.Error("updating an unknown reference code should fail")
	}
}

func TestListOrderedByAssignment(t *testing.T) {
	l := NewDelegationLedger(nil)
	base := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)

	for i, ref := range []string{"CTX-2026-0830-003", "CTX-2026-0830-001", "CTX-2026-0830-002"} {
		if err := l.Delegate(DelegationRecord{
			ReferenceCode: ref,
			AssignedAt:    base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatal(err)
		}
	}

	list := l.List()
	if len(list) != 3 {
		t.Fatalf("got %d records", len(list))
	}
	if list[0].ReferenceCode != "CTX-2026-0830-003" || list[2].ReferenceCode != "CTX-2026-0830-002" {
		t.Errorf("list not in assignment order: %s, %s, %s",
			list[0].ReferenceCode, list[1].ReferenceCode, list[2].ReferenceCode)
	}
}

func TestSweepOverdue(t *testing.T) {
	l := NewDelegationLedger(nil)
	old := time.Now().UTC().Add(-2 * time.Hour)

	l.Delegate(DelegationRecord{ReferenceCode: "CTX-2026-0830-001", AssignedAt: old})
	l.Delegate(DelegationRecord{ReferenceCode: "CTX-2026-0830-002", AssignedAt: old, Status: StatusInProgress})
	l.Delegate(DelegationRecord{ReferenceCode: "CTX-2026-0830-003", AssignedAt: old, Status: StatusComplete})
	l.Delegate(DelegationRecord{ReferenceCode: "CTX-2026-0830-004"})

	if swept := l.SweepOverdue(time.Hour); swept != 2 {
		t.Fatalf("swept %d, want 2", swept)
	}

	for ref, want := range map[string]DelegationStatus{
		"CTX-2026-0830-001": StatusOverdue,
		"CTX-2026-0830-002": StatusOverdue,
		"CTX-2026-0830-003": StatusComplete,
		"CTX-2026-0830-004": StatusAssigned,
	} {
		rec, _ := l.Get(ref)
		if rec.Status != want {
			t.Errorf("%s status = %s, want %s", ref, rec.Status, want)
		}
	}

	// A second sweep finds nothing new.
	if swept := l.SweepOverdue(time.Hour); swept != 0 {
		t.Errorf("second sweep transitioned %d records", swept)
	}
}
