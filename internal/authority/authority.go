// Package authority provides the permission-tier model that constrains delegation.
package authority

import (
	"fmt"
	"strings"
	"time"
)

// Tier is the oversight level attached to a delegation. Tiers are ordered from
// least restrictive (fully autonomous) to most restrictive (must ask first).
//
// A tier encodes the oversight owed on a delegation: narrowing with Narrow
// means a delegation never carries more oversight than its own inbound context
// was subject to. A lightly supervised orchestrator therefore lowers the
// declared caution of the tasks it routes; see the narrowing tests which pin
// this direction.
type Tier int

const (
	// TierAutonomous allows the recipient to act without reporting back.
	TierAutonomous Tier = iota
	// TierExecuteAndReport allows execution but requires a report afterwards.
	TierExecuteAndReport
	// TierMustAskFirst requires sign-off before any execution.
	TierMustAskFirst
)

// String returns the canonical name for the tier.
func (t Tier) String() string {
	switch t {
	case TierAutonomous:
		return "autonomous"
	case TierExecuteAndReport:
		return "execute_and_report"
	case TierMustAskFirst:
		return "must_ask_first"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// ParseTier maps a declared tier name to a Tier. Unrecognized or empty input
// defaults to TierAutonomous, the least restrictive tier.
func ParseTier(s string) Tier {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "execute_and_report", "execute-and-report", "report":
		return TierExecuteAndReport
	case "must_ask_first", "must-ask-first", "ask":
		return TierMustAskFirst
	default:
		return TierAutonomous
	}
}

// Narrow computes the effective tier for a downstream delegation:
// min(task-declared tier, max inbound tier).
func Narrow(task, inbound Tier) Tier {
	if task < inbound {
		return task
	}
	return inbound
}

// Claim is a per-hop authority grant carried on the envelope it authorizes.
type Claim struct {
	GrantedBy string     `json:"granted_by"`
	GrantedTo string     `json:"granted_to"`
	Tier      Tier       `json:"tier"`
	GrantedAt time.Time  `json:"granted_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the claim has expired at the given instant.
func (c Claim) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// ValidateClaims checks every claim on an inbound envelope, fail-closed: a
// single expired or misdirected claim invalidates the whole message. A message
// with no claims is valid (the permissive ingress default).
func ValidateClaims(claims []Claim, recipientID string, now time.Time) error {
	for _, c := range claims {
		if c.GrantedTo != recipientID {
			return fmt.Errorf("claim granted to %q, not to recipient %q", c.GrantedTo, recipientID)
		}
		if c.Expired(now) {
			return fmt.Errorf("claim from %q expired at %s", c.GrantedBy, c.ExpiresAt.Format(time.RFC3339))
		}
	}
	return nil
}

// MaxTier returns the most restrictive tier among the claims, or
// TierAutonomous when there are none.
func MaxTier(claims []Claim) Tier {
	max := TierAutonomous
	for _, c := range claims {
		if c.Tier > max {
			max = c.Tier
		}
	}
	return max
}
