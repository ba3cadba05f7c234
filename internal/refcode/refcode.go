// Package refcode issues unique, time-ordered tracking codes for tasks.
package refcode

import (
	"fmt"
	"sync"
	"time"
)

// SeqStore persists the last issued sequence per day so a restart within the
// same day does not reuse numbers. A nil store is allowed.
type SeqStore interface {
	LastRefSeq(day string) (int, error)
	SaveRefSeq(day string, seq int) error
}

// Generator issues codes of the form CTX-YYYY-MMDD-NNN. The sequence is
// monotonic within a day and resets at date rollover.
type Generator struct {
	mu    sync.Mutex
	day   string
	seq   int
	store SeqStore
	now   func() time.Time
}

// NewGenerator creates a generator. store may be nil for purely in-memory use.
func NewGenerator(store SeqStore) *Generator {
	return &Generator{store: store, now: time.Now}
}

// Generate returns the next reference code.
func (g *Generator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().UTC()
	day := now.Format("2006-0102")
	if day != g.day {
		g.day = day
		g.seq = 0
		if g.store != nil {
			if last, err := g.store.LastRefSeq(day); err == nil {
				g.seq = last
			}
		}
	}
	g.seq++
	if g.store != nil {
		_ = g.store.SaveRefSeq(day, g.seq)
	}
	return fmt.Sprintf("CTX-%s-%03d", day, g.seq)
}
