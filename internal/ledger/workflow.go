package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/dbhq-uk/cortex/internal/envelope"
)

// WorkflowStatus is the lifecycle state of one fan-out workflow.
type WorkflowStatus string

const (
	WorkflowInProgress WorkflowStatus = "in_progress"
	WorkflowCompleted  WorkflowStatus = "completed"
)

// SubtaskResult is one stored fan-in reply, in dispatch order.
type SubtaskResult struct {
	ReferenceCode string
	Content       string
}

// Completion is the exactly-once outcome of a finished workflow.
type Completion struct {
	ParentRef   string
	Original    *envelope.Envelope
	Summary     string
	Results     []SubtaskResult
	CompletedAt time.Time
}

// WorkflowSummary is the read-model view of a workflow record.
type WorkflowSummary struct {
	ReferenceCode string
	Summary       string
	Status        WorkflowStatus
	SubtaskRefs   []string
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// workflow is the internal fan-out record. The subtask set is fixed at
// creation; results fill in as replies arrive.
type workflow struct {
	parentRef   string
	original    *envelope.Envelope
	summary     string
	subtaskRefs []string
	results     map[string]string
	status      WorkflowStatus
	createdAt   time.Time
	completedAt *time.Time
}

// WorkflowLedger is the parent→children fan-out bookkeeping store. The ledger
// lock also serves as the per-workflow completion guard: the "all subtasks
// complete, flip status, hand out results" transition in TryComplete is
// atomic, so the last two racing replies cannot both assemble.
type WorkflowLedger struct {
	mu       sync.Mutex
	byParent map[string]*workflow
	parentOf map[string]string
	store    *Store
}

// NewWorkflowLedger creates a ledger. store may be nil.
func NewWorkflowLedger(store *Store) *WorkflowLedger {
	return &WorkflowLedger{
		byParent: make(map[string]*workflow),
		parentOf: make(map[string]string),
		store:    store,
	}
}

// Create records a new workflow with its full, fixed list of subtask
// reference codes. Subtasks are never added or removed afterwards.
func (l *WorkflowLedger) Create(parentRef string, original *envelope.Envelope, summary string, subtaskRefs []string) error {
	if parentRef == "" {
		return fmt.Errorf("workflow needs a parent reference code")
	}
	if len(subtaskRefs) == 0 {
		return fmt.Errorf("workflow %s needs at least one subtask", parentRef)
	}
	now := time.Now().UTC()
	refs := make([]string, len(subtaskRefs))
	copy(refs, subtaskRefs)

	l.mu.Lock()
	if _, exists := l.byParent[parentRef]; exists {
		l.mu.Unlock()
		return fmt.Errorf("workflow %s already exists", parentRef)
	}
	l.byParent[parentRef] = &workflow{
		parentRef:   parentRef,
		original:    original,
		summary:     summary,
		subtaskRefs: refs,
		results:     make(map[string]string),
		status:      WorkflowInProgress,
		createdAt:   now,
	}
	for _, ref := range refs {
		l.parentOf[ref] = parentRef
	}
	l.mu.Unlock()

	if l.store != nil {
		_ = l.store.upsertWorkflow(parentRef, summary, WorkflowInProgress, refs, original, now)
	}
	return nil
}

// FindBySubtask resolves a subtask reference code to its parent workflow.
func (l *WorkflowLedger) FindBySubtask(subtaskRef string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	parent, ok := l.parentOf[subtaskRef]
	return parent, ok
}

// StoreSubtaskResult stores a reply keyed by its subtask reference code.
// Idempotent: a repeat reply overwrites, it does not duplicate.
func (l *WorkflowLedger) StoreSubtaskResult(subtaskRef, content string) error {
	l.mu.Lock()
	parentRef, ok := l.parentOf[subtaskRef]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("no workflow tracks subtask %s", subtaskRef)
	}
	l.byParent[parentRef].results[subtaskRef] = content
	l.mu.Unlock()

	if l.store != nil {
		_ = l.store.upsertWorkflowResult(parentRef, subtaskRef, content)
	}
	return nil
}

// AllSubtasksComplete reports whether every subtask of the workflow has a
// stored result.
func (l *WorkflowLedger) AllSubtasksComplete(parentRef string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	wf, ok := l.byParent[parentRef]
	return ok && len(wf.results) == len(wf.subtaskRefs)
}

// GetCompletedResults returns the stored results in dispatch order. Subtasks
// without a result yet are skipped.
func (l *WorkflowLedger) GetCompletedResults(parentRef string) []SubtaskResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	wf, ok := l.byParent[parentRef]
	if !ok {
		return nil
	}
	return wf.orderedResults()
}

// UpdateStatus forces the workflow status. TryComplete is the normal path;
// this exists for operational corrections.
func (l *WorkflowLedger) UpdateStatus(parentRef string, status WorkflowStatus) error {
	l.mu.Lock()
	wf, ok := l.byParent[parentRef]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("no workflow %s", parentRef)
	}
	wf.status = status
	l.mu.Unlock()

	if l.store != nil && status == WorkflowCompleted {
		_ = l.store.markWorkflowCompleted(parentRef, time.Now().UTC())
	}
	return nil
}

// TryComplete performs the cross-key fan-in transition: if every subtask has
// a result and the workflow is still in progress, it flips the status to
// completed and returns the completion exactly once. All later calls (and
// racing duplicate replies) get ok == false.
func (l *WorkflowLedger) TryComplete(parentRef string) (*Completion, bool) {
	l.mu.Lock()
	wf, ok := l.byParent[parentRef]
	if !ok || wf.status != WorkflowInProgress || len(wf.results) != len(wf.subtaskRefs) {
		l.mu.Unlock()
		return nil, false
	}
	now := time.Now().UTC()
	wf.status = WorkflowCompleted
	wf.completedAt = &now
	comp := &Completion{
		ParentRef:   parentRef,
		Original:    wf.original,
		Summary:     wf.summary,
		Results:     wf.orderedResults(),
		CompletedAt: now,
	}
	l.mu.Unlock()

	if l.store != nil {
		_ = l.store.markWorkflowCompleted(parentRef, now)
	}
	return comp, true
}

// Get returns the read-model view of a workflow.
func (l *WorkflowLedger) Get(parentRef string) (WorkflowSummary, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	wf, ok := l.byParent[parentRef]
	if !ok {
		return WorkflowSummary{}, false
	}
	refs := make([]string, len(wf.subtaskRefs))
	copy(refs, wf.subtaskRefs)
	return WorkflowSummary{
		ReferenceCode: wf.parentRef,
		Summary:       wf.summary,
		Status:        wf.status,
		SubtaskRefs:   refs,
		CreatedAt:     wf.createdAt,
		CompletedAt:   wf.completedAt,
	}, true
}

func (wf *workflow) orderedResults() []SubtaskResult {
	out := make([]SubtaskResult, 0, len(wf.subtaskRefs))
	for _, ref := range wf.subtaskRefs {
		content, ok := wf.results[ref]
		if !ok {
			continue
		}
		out = append(out, SubtaskResult{ReferenceCode: ref, Content: content})
	}
	return out
}
