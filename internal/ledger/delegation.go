package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// DelegationStatus is the lifecycle state of one delegated task.
type DelegationStatus string

const (
	StatusAssigned       DelegationStatus = "assigned"
	StatusInProgress     DelegationStatus = "in_progress"
	StatusAwaitingReview DelegationStatus = "awaiting_review"
	StatusComplete       DelegationStatus = "complete"
	StatusOverdue        DelegationStatus = "overdue"
)

// DelegationRecord tracks who delegated what to whom, keyed by reference code.
type DelegationRecord struct {
	ReferenceCode string           `json:"reference_code"`
	DelegatedBy   string           `json:"delegated_by"`
	DelegatedTo   string           `json:"delegated_to"`
	Description   string           `json:"description"`
	Status        DelegationStatus `json:"status"`
	AssignedAt    time.Time        `json:"assigned_at"`
}

// DelegationLedger is the concurrent who-delegated-what store. The SQLite
// store, when present, is mirrored best-effort.
type DelegationLedger struct {
	mu      sync.RWMutex
	records map[string]DelegationRecord
	store   *Store
}

// NewDelegationLedger creates a ledger. store may be nil.
func NewDelegationLedger(store *Store) *DelegationLedger {
	return &DelegationLedger{records: make(map[string]DelegationRecord), store: store}
}

// Delegate records a new delegation. Status defaults to assigned and
// AssignedAt to now when unset.
func (l *DelegationLedger) Delegate(rec DelegationRecord) error {
	if rec.ReferenceCode == "" {
		return fmt.Errorf("delegation record needs a reference code")
	}
	if rec.Status == "" {
		rec.Status = StatusAssigned
	}
	if rec.AssignedAt.IsZero() {
		rec.AssignedAt = time.Now().UTC()
	}
	l.mu.Lock()
	l.records[rec.ReferenceCode] = rec
	l.mu.Unlock()

	if l.store != nil {
		_ = l.store.upsertDelegation(rec)
	}
	return nil
}

// UpdateStatus transitions the record for the given reference code.
func (l *DelegationLedger) UpdateStatus(ref string, status DelegationStatus) error {
	l.mu.Lock()
	rec, ok := l.records[ref]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("no delegation record for %s", ref)
	}
	rec.Status = status
	l.records[ref] = rec
	l.mu.Unlock()

	if l.store != nil {
		_ = l.store.updateDelegationStatus(ref, status)
	}
	return nil
}

// Get returns the record for the given reference code.
func (l *DelegationLedger) Get(ref string) (DelegationRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[ref]
	return rec, ok
}

// List returns all records ordered by assignment time.
func (l *DelegationLedger) List() []DelegationRecord {
	l.mu.RLock()
	out := make([]DelegationRecord, 0, len(l.records))
	for _, rec := range l.records {
		out = append(out, rec)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].AssignedAt.Equal(out[j].AssignedAt) {
			return out[i].AssignedAt.Before(out[j].AssignedAt)
		}
		return out[i].ReferenceCode < out[j].ReferenceCode
	})
	return out
}

// SweepOverdue marks assigned and in-progress delegations older than maxAge
// as overdue and returns how many it transitioned. It never retries or
// re-dispatches; overdue is a flag for operators, not a recovery mechanism.
func (l *DelegationLedger) SweepOverdue(maxAge time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxAge)
	var swept []string

	l.mu.Lock()
	for ref, rec := range l.records {
		if rec.Status != StatusAssigned && rec.Status != StatusInProgress {
			continue
		}
		if rec.AssignedAt.After(cutoff) {
			continue
		}
		rec.Status = StatusOverdue
		l.records[ref] = rec
		swept = append(swept, ref)
	}
	l.mu.Unlock()

	if l.store != nil {
		for _, ref := range swept {
			_ = l.store.updateDelegationStatus(ref, StatusOverdue)
		}
	}
	return len(swept)
}
