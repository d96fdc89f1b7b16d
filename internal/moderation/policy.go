package moderation

import (
	"fmt"

	"github.com/milaap/platform/internal/messaging"
)

// Policy decides when strike accumulation escalates into automatic
// enforcement. It is pure: the ledger evaluates it after each recorded
// action and publishes whatever intent it returns.
type Policy struct {
	// AutoBlockThreshold is the strike total at which the user's active
	// rooms are closed and their counterparties protected with automatic
	// blocks. Zero disables escalation.
	AutoBlockThreshold int

	// AutoBlockMinutes is the duration of the automatic blocks. Zero
	// means indefinite.
	AutoBlockMinutes int
}

// DefaultPolicy returns the production escalation policy.
func DefaultPolicy() Policy {
	return Policy{
		AutoBlockThreshold: 3,
		AutoBlockMinutes:   30 * 24 * 60,
	}
}

// Evaluate returns the escalation intent warranted by entry, or nil. It
// fires exactly at the threshold, not above it, so repeat offenses past
// the threshold escalate only through fresh moderator decisions.
func (p Policy) Evaluate(entry *Log) *messaging.ModerationIntent {
	if p.AutoBlockThreshold <= 0 || entry.UserStrikeCount != p.AutoBlockThreshold {
		return nil
	}
	return &messaging.ModerationIntent{
		Kind:     messaging.IntentAutoBlock,
		LogID:    entry.ID,
		UserID:   entry.AffectedUserID,
		Reason:   fmt.Sprintf("reached %d strikes", entry.UserStrikeCount),
		Duration: p.AutoBlockMinutes,
	}
}
