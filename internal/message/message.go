// Package message implements the outbound message pipeline: participant and
// block checks, content validation, safety scanning, and atomic persistence
// of the message together with the room aggregates. It also owns message
// retraction, hiding, deletion, and editing.
package message

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/milaap/platform/internal/safety"
)

// Type is the message content kind.
type Type string

const (
	TypeText  Type = "text"
	TypeImage Type = "image"
	TypeFile  Type = "file"
	TypeVoice Type = "voice"
)

// Valid reports whether t is a known message type.
func (t Type) Valid() bool {
	return t == TypeText || t == TypeImage || t == TypeFile || t == TypeVoice
}

// FlaggedBy values for the moderation flag.
const (
	FlaggedBySystem = "system"
	FlaggedByAdmin  = "admin"
)

const (
	MaxContentBytes = 8192 // max stored content size
	MaxTextChars    = 2000 // max character count for text messages
)

// Message is one chat message. Content is opaque to the core (encrypted at
// rest by convention); safety flags are computed once at send time and only
// change on an explicit re-scan.
type Message struct {
	ID        string
	RoomID    string
	SenderID  string
	Type      Type
	Content   string
	ReplyToID string

	Flags      safety.Flags
	IsFlagged  bool
	FlaggedBy  string // system | admin
	FlagReason string

	ReportCount int

	IsDeleted   bool // moderator removal, visible to all as removed
	IsHidden    bool // sender-local soft delete
	IsRetracted bool // sender recall; content retained for moderation

	SentAt   time.Time
	ReadAt   *time.Time
	EditedAt *time.Time
}

// ValidateContent checks that message content meets size and encoding
// requirements before it enters the pipeline.
func ValidateContent(t Type, content string) error {
	if len(content) == 0 {
		return fmt.Errorf("message content is empty")
	}
	if len(content) > MaxContentBytes {
		return fmt.Errorf("message exceeds %d byte limit", MaxContentBytes)
	}
	if t == TypeText {
		if utf8.RuneCountInString(content) > MaxTextChars {
			return fmt.Errorf("message exceeds %d character limit", MaxTextChars)
		}
		if !utf8.ValidString(content) {
			return fmt.Errorf("message contains invalid UTF-8")
		}
	}
	return nil
}
