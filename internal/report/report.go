// Package report handles abuse reports filed by chat participants: intake
// with an evidence snapshot, the review workflow, and the hand-off to the
// moderation ledger when a report is resolved with action.
package report

import "time"

// Type categorizes what the reporter is alleging.
type Type string

const (
	TypeAbuse         Type = "abuse"
	TypeHarassment    Type = "harassment"
	TypeScam          Type = "scam"
	TypeHateSpeech    Type = "hate_speech"
	TypeSexualContent Type = "sexual_content"
	TypeSpam          Type = "spam"
	TypeFraud         Type = "fraud"
	TypeImpersonation Type = "impersonation"
	TypeOther         Type = "other"
)

// Valid reports whether t is a known report type.
func (t Type) Valid() bool {
	switch t {
	case TypeAbuse, TypeHarassment, TypeScam, TypeHateSpeech,
		TypeSexualContent, TypeSpam, TypeFraud, TypeImpersonation, TypeOther:
		return true
	}
	return false
}

// Status is the report review state. Pending and investigating are open;
// resolved and dismissed are final.
type Status string

const (
	StatusPending       Status = "pending"
	StatusInvestigating Status = "investigating"
	StatusResolved      Status = "resolved"
	StatusDismissed     Status = "dismissed"
)

// Final reports whether s is a terminal review state.
func (s Status) Final() bool {
	return s == StatusResolved || s == StatusDismissed
}

// Report is one filed abuse report. Evidence is the JSON snapshot captured
// at filing time; it is immutable once written.
type Report struct {
	ID               string
	RoomID           string
	MessageID        string // optional: the specific reported message
	ReporterID       string
	ReportedUserID   string
	Type             Type
	Description      string
	Evidence         []byte
	Status           Status
	ReviewerID       string
	ReviewNotes      string
	ActionTaken      string
	ResolvedAt       *time.Time
	EscalatedToLegal bool
	EscalationNotes  string
	CreatedAt        time.Time
}
