package report

import (
	"context"
	"encoding/json"
	"time"

	"github.com/milaap/platform/internal/message"
	apperr "github.com/milaap/platform/pkg/errors"
)

// evidenceDepth is how many recent room messages a snapshot captures.
const evidenceDepth = 20

// evidenceVersion tags the snapshot schema so old reports stay parseable
// after format changes.
const evidenceVersion = 1

// Evidence is the immutable context captured when a report is filed.
// Messages are oldest first. Retraction and deletion after filing do not
// touch the snapshot.
type Evidence struct {
	Version    int               `json:"version"`
	CapturedAt time.Time         `json:"captured_at"`
	RoomID     string            `json:"room_id"`
	MessageID  string            `json:"message_id,omitempty"`
	Messages   []EvidenceMessage `json:"messages"`
}

// EvidenceMessage is one message frozen into a snapshot.
type EvidenceMessage struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"sender_id"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	Flagged   bool      `json:"flagged,omitempty"`
	Retracted bool      `json:"retracted,omitempty"`
	SentAt    time.Time `json:"sent_at"`
}

// buildEvidence freezes the room's recent history into a JSON snapshot.
func buildEvidence(ctx context.Context, messages *message.Store, roomID, messageID string) ([]byte, error) {
	recent, err := messages.Timeline(ctx, roomID, evidenceDepth)
	if err != nil {
		return nil, apperr.Dependency("report: snapshot timeline", err)
	}

	ev := Evidence{
		Version:    evidenceVersion,
		CapturedAt: time.Now().UTC(),
		RoomID:     roomID,
		MessageID:  messageID,
		Messages:   make([]EvidenceMessage, 0, len(recent)),
	}
	// Timeline is newest first; store the snapshot in reading order.
	for i := len(recent) - 1; i >= 0; i-- {
		m := recent[i]
		ev.Messages = append(ev.Messages, EvidenceMessage{
			ID:        m.ID,
			SenderID:  m.SenderID,
			Type:      string(m.Type),
			Content:   m.Content,
			Flagged:   m.IsFlagged,
			Retracted: m.IsRetracted,
			SentAt:    m.SentAt,
		})
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return nil, apperr.Dependency("report: marshal evidence", err)
	}
	return data, nil
}
