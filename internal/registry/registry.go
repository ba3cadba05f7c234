// Package registry tracks running agents and their declared capabilities.
package registry

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Capability is a declared skill an agent can be matched on by name.
type Capability struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	SkillIDs    []string `json:"skill_ids,omitempty"`
}

// Registration describes one agent known to the registry.
type Registration struct {
	AgentID      string       `json:"agent_id"`
	Name         string       `json:"name"`
	AgentType    string       `json:"agent_type"`
	Capabilities []Capability `json:"capabilities,omitempty"`
	RegisteredAt time.Time    `json:"registered_at"`
	IsAvailable  bool         `json:"is_available"`
}

// Registry is the shared capability-lookup table. Safe for concurrent use by
// every harness.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Registration
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{agents: make(map[string]Registration)}
}

// Register records the agent, overwriting any previous registration in place.
func (r *Registry) Register(reg Registration) {
	if reg.RegisteredAt.IsZero() {
		reg.RegisteredAt = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[reg.AgentID] = reg
}

// SetAvailable flips the availability flag of a registered agent.
func (r *Registry) SetAvailable(agentID string, available bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reg, ok := r.agents[agentID]; ok {
		reg.IsAvailable = available
		r.agents[agentID] = reg
	}
}

// FindByID returns the registration for the given agent id.
func (r *Registry) FindByID(agentID string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.agents[agentID]
	return reg, ok
}

// FindByCapability returns every available agent declaring the capability.
// Matching is case-insensitive.
func (r *Registry) FindByCapability(name string) []Registration {
	want := strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Registration
	for _, reg := range r.agents {
		if !reg.IsAvailable {
			continue
		}
		for _, cap := range reg.Capabilities {
			if strings.ToLower(cap.Name) == want {
				out = append(out, reg)
				break
			}
		}
	}
	sortRegistrations(out)
	return out
}

// sortRegistrations orders by registration time, oldest first, so "first
// match wins" routing is deterministic.
func sortRegistrations(regs []Registration) {
	sort.Slice(regs, func(i, j int) bool {
		if !regs[i].RegisteredAt.Equal(regs[j].RegisteredAt) {
			return regs[i].RegisteredAt.Before(regs[j].RegisteredAt)
		}
		return regs[i].AgentID < regs[j].AgentID
	})
}

// ListAvailable returns every available registration.
func (r *Registry) ListAvailable() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Registration, 0, len(r.agents))
	for _, reg := range r.agents {
		if reg.IsAvailable {
			out = append(out, reg)
		}
	}
	sortRegistrations(out)
	return out
}
