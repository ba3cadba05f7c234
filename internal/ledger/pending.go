package ledger

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/dbhq-uk/cortex/internal/envelope"
	"github.com/dbhq-uk/cortex/internal/pipeline"
)

// PendingPlan is an approval-gated decomposition awaiting a decision.
type PendingPlan struct {
	Original      *envelope.Envelope `json:"original"`
	Decomposition *pipeline.Result   `json:"decomposition"`
	StoredAt      time.Time          `json:"stored_at"`
}

// PlanStore holds pending plans keyed by workflow reference code. Take
// removes the plan: each plan is consumed exactly once by the matching
// approval or rejection.
type PlanStore interface {
	Put(ref string, plan PendingPlan) error
	Take(ref string) (PendingPlan, bool)
	Len() int
}

// MemoryPlanStore is the default in-memory PlanStore, with best-effort
// mirroring to the SQLite store for audit.
type MemoryPlanStore struct {
	mu    sync.Mutex
	plans map[string]PendingPlan
	store *Store
}

// NewMemoryPlanStore creates a plan store. store may be nil.
func NewMemoryPlanStore(store *Store) *MemoryPlanStore {
	return &MemoryPlanStore{plans: make(map[string]PendingPlan), store: store}
}

// Put stores the plan under its workflow reference code.
func (s *MemoryPlanStore) Put(ref string, plan PendingPlan) error {
	if plan.StoredAt.IsZero() {
		plan.StoredAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.plans[ref] = plan
	s.mu.Unlock()

	if s.store != nil {
		payload, _ := json.Marshal(plan)
		_ = s.store.insertPendingPlan(ref, payload, plan.StoredAt)
	}
	return nil
}

// Take removes and returns the plan, if present.
func (s *MemoryPlanStore) Take(ref string) (PendingPlan, bool) {
	s.mu.Lock()
	plan, ok := s.plans[ref]
	if ok {
		delete(s.plans, ref)
	}
	s.mu.Unlock()

	if ok && s.store != nil {
		_ = s.store.resolvePendingPlan(ref)
	}
	return plan, ok
}

// Len returns the number of plans awaiting a decision.
func (s *MemoryPlanStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.plans)
}

// NoopPlanStore is the null-object PlanStore: it retains nothing, so every
// lookup misses. Useful for deployments that never gate.
type NoopPlanStore struct{}

func (NoopPlanStore) Put(string, PendingPlan) error   { return nil }
func (NoopPlanStore) Take(string) (PendingPlan, bool) { return PendingPlan{}, false }
func (NoopPlanStore) Len() int                        { return 0 }
