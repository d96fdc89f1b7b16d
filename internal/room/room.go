// Package room owns chat room lifecycle: creation with canonical participant
// pairing, the status state machine, per-room counters, and soft deletion.
// Room aggregates are serialized here — no other component mutates them
// except through this store.
package room

import (
	"time"

	apperr "github.com/milaap/platform/pkg/errors"
)

// ContextType tags the real-world subject a room is bound to. The owning
// context service is an external collaborator; the core stores only the tag
// and an opaque reference.
type ContextType string

const (
	ContextMarriage ContextType = "marriage"
	ContextJob      ContextType = "job"
	ContextBusiness ContextType = "business"
	ContextHelp     ContextType = "help"
	ContextGeneral  ContextType = "general"
)

// Valid reports whether t is a known context type.
func (t ContextType) Valid() bool {
	switch t {
	case ContextMarriage, ContextJob, ContextBusiness, ContextHelp, ContextGeneral:
		return true
	}
	return false
}

// Status is the room lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusMuted    Status = "muted"
	StatusBlocked  Status = "blocked"
	StatusReported Status = "reported"
	StatusClosed   Status = "closed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusMuted, StatusBlocked, StatusReported, StatusClosed:
		return true
	}
	return false
}

// transitions is the room status state machine. closed is terminal and has
// no outgoing edges; reported reverts only through RevertReported, which
// restores the remembered prior status.
var transitions = map[Status]map[Status]bool{
	StatusActive:   {StatusMuted: true, StatusBlocked: true, StatusReported: true, StatusClosed: true},
	StatusMuted:    {StatusActive: true, StatusBlocked: true, StatusReported: true, StatusClosed: true},
	StatusBlocked:  {StatusActive: true, StatusReported: true, StatusClosed: true},
	StatusReported: {StatusActive: true, StatusMuted: true, StatusBlocked: true, StatusClosed: true},
	StatusClosed:   {},
}

// CanTransition reports whether the state machine permits from → to.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// CanonicalPair orders two participant identifiers lexicographically.
// The canonical order is the uniqueness key for rooms regardless of who
// initiated. Returns an INVALID_ARGUMENT error if the ids are equal or empty.
func CanonicalPair(a, b string) (low, high string, err error) {
	if a == "" || b == "" {
		return "", "", apperr.Invalid("participant id must not be empty")
	}
	if a == b {
		return "", "", apperr.Invalid("a room requires two distinct participants")
	}
	if a < b {
		return a, b, nil
	}
	return b, a, nil
}

// Room is a 1-on-1 conversation bound to a context.
type Room struct {
	ID          string
	UserLow     string // canonical pair, lexicographically smaller id
	UserHigh    string
	ContextType ContextType
	ContextID   string
	Status      Status
	PriorStatus Status // status held before entering reported; empty otherwise

	MutedBy     string
	MutedAt     *time.Time
	MuteReason  string
	BlockedBy   string
	BlockedAt   *time.Time
	BlockReason string
	ReportedAt  *time.Time
	CloseReason string

	MessageCount  int64
	UnreadLow     int64 // unread counter for UserLow
	UnreadHigh    int64
	LastMessageID string
	LastMessageAt *time.Time

	IsDeleted bool
	DeletedBy string
	DeletedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time
}

// IsParticipant reports whether userID is one of the two room members.
func (r *Room) IsParticipant(userID string) bool {
	return userID == r.UserLow || userID == r.UserHigh
}

// Other returns the partner of userID, or "" if userID is not a participant.
func (r *Room) Other(userID string) string {
	switch userID {
	case r.UserLow:
		return r.UserHigh
	case r.UserHigh:
		return r.UserLow
	}
	return ""
}

// UnreadFor returns the unread counter belonging to userID.
func (r *Room) UnreadFor(userID string) int64 {
	switch userID {
	case r.UserLow:
		return r.UnreadLow
	case r.UserHigh:
		return r.UnreadHigh
	}
	return 0
}
