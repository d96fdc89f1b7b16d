// Package block maintains directed block relationships between users and
// answers the "can A message B" question for the message pipeline. Blocks
// are persisted in PostgreSQL; a Redis cache keeps the hot CanMessage path
// off the database.
package block

import "time"

// Origin records how a block came to exist.
type Origin string

const (
	OriginManual    Origin = "manual"    // user-initiated
	OriginAdmin     Origin = "admin"     // placed by a moderator
	OriginAutomatic Origin = "automatic" // strike-policy auto-ban
)

// Valid reports whether o is a known origin.
func (o Origin) Valid() bool {
	return o == OriginManual || o == OriginAdmin || o == OriginAutomatic
}

// UserBlock is one directed block record. A blocking B does not imply B
// blocking A; at most one active block exists per ordered pair.
type UserBlock struct {
	ID          string
	BlockerID   string
	BlockedID   string
	Reason      string
	Origin      Origin
	AdminID     string // set when Origin is admin or automatic
	IsPermanent bool
	ExpiresAt   *time.Time
	IsActive    bool
	UnblockedBy string
	UnblockedAt *time.Time
	CreatedAt   time.Time
}

// Expired reports whether a temporary block has passed its expiry.
func (b *UserBlock) Expired(now time.Time) bool {
	return !b.IsPermanent && b.ExpiresAt != nil && !b.ExpiresAt.After(now)
}
