// Package moderation records administrative actions against rooms, messages,
// and users, accumulates per-user strike counts, and manages appeals.
//
// The ledger never mutates other components directly. When an action or an
// appeal decision requires a state change elsewhere (lifting a block,
// unmuting a room, auto-banning after repeated strikes), it publishes a
// moderation intent; the moderator worker applies the intent through the
// owning store's own transitions.
package moderation

import "time"

// TargetType identifies what a ledger entry acts on.
type TargetType string

const (
	TargetRoom    TargetType = "room"
	TargetMessage TargetType = "message"
	TargetUser    TargetType = "user"
)

// Valid reports whether t is a known target type.
func (t TargetType) Valid() bool {
	return t == TargetRoom || t == TargetMessage || t == TargetUser
}

// Action is the closed set of moderation actions.
type Action string

const (
	ActionNone          Action = "none"
	ActionMessageFlag   Action = "message_flag"
	ActionMessageDelete Action = "message_delete"
	ActionRoomMute      Action = "room_mute"
	ActionRoomClose     Action = "room_close"
	ActionUserWarn      Action = "user_warn"
	ActionUserSuspend   Action = "user_suspend"
	ActionUserBan       Action = "user_ban"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionNone, ActionMessageFlag, ActionMessageDelete,
		ActionRoomMute, ActionRoomClose,
		ActionUserWarn, ActionUserSuspend, ActionUserBan:
		return true
	}
	return false
}

// userAffecting is the set of actions that accrue a strike against the
// affected user. Direct user actions always count; of the room/message
// actions, only message_delete does — deleting someone's message is a
// judgement on their conduct, while flagging, muting, and closing are
// protective measures that should not compound into automatic escalation.
var userAffecting = map[Action]bool{
	ActionUserWarn:      true,
	ActionUserSuspend:   true,
	ActionUserBan:       true,
	ActionMessageDelete: true,
}

// AccruesStrike reports whether a counts against the affected user's
// strike history.
func (a Action) AccruesStrike() bool {
	return userAffecting[a]
}

// AppealDecision is the outcome of an appeal review.
type AppealDecision string

const (
	AppealUpheld     AppealDecision = "upheld"
	AppealOverturned AppealDecision = "overturned"
)

// Log is one moderation ledger entry. UserStrikeCount is the affected
// user's running strike total as of this entry (0 when the action accrues
// no strike); it is monotonically non-decreasing per user.
type Log struct {
	ID              string
	AdminID         string
	TargetType      TargetType
	TargetID        string
	Action          Action
	Reason          string
	DurationMinutes int // 0 means indefinite
	Notes           string
	RelatedReportID string
	AffectedUserID  string
	UserStrikeCount int

	AppealAllowed   bool
	AppealDeadline  *time.Time
	AppealedAt      *time.Time
	AppealDecision  AppealDecision // empty until decided
	AppealReviewer  string
	AppealDecidedAt *time.Time

	CreatedAt time.Time
}

// AppealOpen reports whether an appeal can still be filed at now.
func (l *Log) AppealOpen(now time.Time) bool {
	return l.AppealAllowed && l.AppealedAt == nil &&
		l.AppealDeadline != nil && !now.After(*l.AppealDeadline)
}
