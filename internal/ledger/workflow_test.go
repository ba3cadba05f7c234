package ledger

import (
	"sync"
	"testing"

	"github.com/dbhq-uk/cortex/internal/envelope"
)

func newTestWorkflow(t *testing.T, l *WorkflowLedger, parent string, subtasks ...string) *envelope.Envelope {
	t.Helper()
	original := envelope.New(envelope.NewTextMessage("the goal"), parent, envelope.Context{ReplyTo: "channel.slack"})
	if err := l.Create(parent, original, "split into parts", subtasks); err != nil {
		t.Fatal(err)
	}
	return original
}

func TestWorkflowCreateValidation(t *testing.T) {
	l := NewWorkflowLedger(nil)

	if err := l.Create("", nil, "s", []string{"CTX-2026-0830-002"}); err == nil {
		t.Error("empty parent ref should fail")
	}
	if err := l.Create("CTX-2026-0830-001", nil, "s", nil); err == nil {
		t.Error("workflow with no subtasks should fail")
	}

	newTestWorkflow(t, l, "CTX-2026-0830-001", "CTX-2026-0830-002")
	if err := l.Create("CTX-2026-0830-001", nil, "s", []string{"CTX-2026-0830-003"}); err == nil {
		t.Error("duplicate parent ref should fail")
	}
}

func TestFindBySubtask(t *testing.T) {
	l := NewWorkflowLedger(nil)
	newTestWorkflow(t, l, "CTX-2026-0830-001", "CTX-2026-0830-002", "CTX-2026-0830-003")

	parent, ok := l.FindBySubtask("CTX-2026-0830-003")
	if !ok || parent != "CTX-2026-0830-001" {
		t.Errorf("FindBySubtask = %s, %v", parent, ok)
	}
	if _, ok := l.FindBySubtask("CTX-2026-0830-099"); ok {
		t.Error("untracked subtask resolved to a workflow")
	}
}

func TestStoreSubtaskResultIdempotent(t *testing.T) {
	l := NewWorkflowLedger(nil)
	newTestWorkflow(t, l, "CTX-2026-0830-001", "CTX-2026-0830-002", "CTX-2026-0830-003")

	if err := l.StoreSubtaskResult("CTX-2026-0830-099", "x"); err == nil {
		t.Error("storing a result for an untracked subtask should fail")
	}

	if err := l.StoreSubtaskResult("CTX-2026-0830-002", "first draft"); err != nil {
		t.Fatal(err)
	}
	if err := l.StoreSubtaskResult("CTX-2026-0830-002", "revised draft"); err != nil {
		t.Fatal(err)
	}
	if l.AllSubtasksComplete("CTX-2026-0830-001") {
		t.Error("one of two subtasks done should not be complete")
	}

	results := l.GetCompletedResults("CTX-2026-0830-001")
	if len(results) != 1 {
		t.Fatalf("got %d results, duplicate reply must overwrite not append", len(results))
	}
	if results[0].Content != "revised draft" {
		t.Errorf("content = %q, want the later reply", results[0].Content)
	}
}

func TestResultsFollowDispatchOrder(t *testing.T) {
	l := NewWorkflowLedger(nil)
	newTestWorkflow(t, l, "CTX-2026-0830-001",
		"CTX-2026-0830-002", "CTX-2026-0830-003", "CTX-2026-0830-004")

	// Replies arrive out of order.
	l.StoreSubtaskResult("CTX-2026-0830-004", "third")
	l.StoreSubtaskResult("CTX-2026-0830-002", "first")
	l.StoreSubtaskResult("CTX-2026-0830-003", "second")

	results := l.GetCompletedResults("CTX-2026-0830-001")
	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}
	for i, want := range []string{"first", "second", "third"} {
		if results[i].Content != want {
			t.Errorf("results[%d] = %q, want %q", i, results[i].Content, want)
		}
	}
}

func TestTryCompleteExactlyOnce(t *testing.T) {
	l := NewWorkflowLedger(nil)
	original := newTestWorkflow(t, l, "CTX-2026-0830-001", "CTX-2026-0830-002", "CTX-2026-0830-003")

	if _, ok := l.TryComplete("CTX-2026-0830-001"); ok {
		t.Fatal("completion fired before all results arrived")
	}

	l.StoreSubtaskResult("CTX-2026-0830-002", "a")
	l.StoreSubtaskResult("CTX-2026-0830-003", "b")

	comp, ok := l.TryComplete("CTX-2026-0830-001")
	if !ok {
		t.Fatal("completion did not fire with all results present")
	}
	if comp.Original != original {
		t.Error("completion lost the original envelope")
	}
	if len(comp.Results) != 2 {
		t.Errorf("completion carries %d results", len(comp.Results))
	}

	if _, ok := l.TryComplete("CTX-2026-0830-001"); ok {
		t.Error("completion fired twice")
	}

	wf, _ := l.Get("CTX-2026-0830-001")
	if wf.Status != WorkflowCompleted || wf.CompletedAt == nil {
		t.Errorf("status = %s, completedAt = %v", wf.Status, wf.CompletedAt)
	}
}

func TestTryCompleteRacingReplies(t *testing.T) {
	l := NewWorkflowLedger(nil)
	newTestWorkflow(t, l, "CTX-2026-0830-001", "CTX-2026-0830-002", "CTX-2026-0830-003")
	l.StoreSubtaskResult("CTX-2026-0830-002", "a")
	l.StoreSubtaskResult("CTX-2026-0830-003", "b")

	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := l.TryComplete("CTX-2026-0830-001"); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("%d goroutines won the completion race, want exactly 1", wins)
	}
}
