package message

import (
	"context"
	"database/sql"
	"log"

	"github.com/google/uuid"

	"github.com/milaap/platform/internal/block"
	"github.com/milaap/platform/internal/messaging"
	"github.com/milaap/platform/internal/metrics"
	"github.com/milaap/platform/internal/ratelimit"
	"github.com/milaap/platform/internal/room"
	"github.com/milaap/platform/internal/safety"
	apperr "github.com/milaap/platform/pkg/errors"
)

// EventPublisher receives pipeline notifications. Implemented by
// messaging.Client; a nil publisher disables eventing.
type EventPublisher interface {
	PublishMessageFlagged(ev messaging.MessageFlaggedEvent) error
}

// Pipeline runs outbound message submissions through the block registry and
// the safety scanner, then persists the message atomically with the room
// aggregates.
type Pipeline struct {
	db      *sql.DB
	store   *Store
	rooms   *room.Store
	blocks  *block.Registry
	scanner *safety.Scanner
	limiter *ratelimit.Limiter // optional; nil disables throttling
	events  EventPublisher     // optional; nil disables eventing
}

// NewPipeline wires the pipeline. limiter and events may be nil.
func NewPipeline(db *sql.DB, store *Store, rooms *room.Store, blocks *block.Registry,
	scanner *safety.Scanner, limiter *ratelimit.Limiter, events EventPublisher) *Pipeline {
	return &Pipeline{
		db: db, store: store, rooms: rooms, blocks: blocks,
		scanner: scanner, limiter: limiter, events: events,
	}
}

// SendParams describes one outbound message.
type SendParams struct {
	RoomID    string
	SenderID  string
	Type      Type
	Content   string
	ReplyToID string // optional; must reference a message in the same room
}

// Send validates, scans, and persists one message.
//
// Safety flagging is advisory, not preventive: a flagged message is still
// delivered but lands in the moderation review queue. Rejections are limited
// to missing rooms, non-participants, closed rooms, active blocks, rate
// limits, and malformed content.
func (p *Pipeline) Send(ctx context.Context, params SendParams) (*Message, error) {
	if !params.Type.Valid() {
		return nil, apperr.Invalid("unknown message type")
	}
	if err := ValidateContent(params.Type, params.Content); err != nil {
		return nil, apperr.Invalid(err.Error())
	}

	r, err := p.rooms.Get(ctx, params.RoomID)
	if err != nil {
		return nil, err // NOT_FOUND for absent or soft-deleted rooms
	}
	if !r.IsParticipant(params.SenderID) {
		return nil, apperr.Forbidden("sender is not a room participant")
	}
	if r.Status == room.StatusClosed {
		return nil, apperr.Forbidden("room is closed")
	}

	recipient := r.Other(params.SenderID)
	allowed, err := p.blocks.CanMessage(ctx, params.SenderID, recipient)
	if err != nil {
		return nil, err
	}
	if !allowed {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, apperr.Forbidden("messaging is blocked between these users")
	}

	if p.limiter != nil {
		ok, err := p.limiter.Allow(ctx, params.SenderID, ratelimit.RuleMessage)
		if err == nil && !ok {
			metrics.MessagesTotal.WithLabelValues("rejected").Inc()
			return nil, apperr.Conflict("message rate limit exceeded")
		}
		// Limiter errors fail open.
	}

	if params.ReplyToID != "" {
		target, err := p.store.Get(ctx, params.ReplyToID)
		if err != nil {
			return nil, err
		}
		if target.RoomID != params.RoomID {
			return nil, apperr.Invalid("reply target belongs to a different room")
		}
	}

	flags := p.scanner.Scan(params.Content)
	m := &Message{
		ID:        uuid.New().String(),
		RoomID:    params.RoomID,
		SenderID:  params.SenderID,
		Type:      params.Type,
		Content:   params.Content,
		ReplyToID: params.ReplyToID,
		Flags:     flags,
	}
	if flags.Any() {
		m.IsFlagged = true
		m.FlaggedBy = FlaggedBySystem
	}

	// Message insert and room aggregate update commit together: two
	// concurrent sends can never leave the counters behind the timeline.
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Dependency("message: send begin", err)
	}
	defer tx.Rollback()

	if err := p.store.insertTx(ctx, tx, m); err != nil {
		return nil, apperr.Dependency("message: insert", err)
	}
	if err := p.rooms.RecordMessage(ctx, tx, params.RoomID, params.SenderID, m.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, apperr.Dependency("message: send commit", err)
	}

	metrics.MessagesTotal.WithLabelValues("sent").Inc()
	if m.IsFlagged {
		metrics.MessagesTotal.WithLabelValues("flagged").Inc()
		metrics.ObserveSafetyFlags(flags)
		p.publishFlagged(m)
	}
	return m, nil
}

// Retract recalls a message: hidden from normal rendering, content retained
// for moderation. Only the sender may retract; no time window is enforced.
func (p *Pipeline) Retract(ctx context.Context, messageID, actorID string) error {
	m, err := p.store.Get(ctx, messageID)
	if err != nil {
		return err
	}
	if m.SenderID != actorID {
		return apperr.Forbidden("only the sender may retract a message")
	}
	return p.store.Retract(ctx, messageID)
}

// Hide soft-deletes a message for its sender only; the recipient's view and
// moderation visibility are unaffected.
func (p *Pipeline) Hide(ctx context.Context, messageID, actorID string) error {
	m, err := p.store.Get(ctx, messageID)
	if err != nil {
		return err
	}
	if m.SenderID != actorID {
		return apperr.Forbidden("only the sender may hide a message")
	}
	return p.store.Hide(ctx, messageID)
}

// Delete removes a message. Moderators may delete any message; everyone
// else may delete only their own.
func (p *Pipeline) Delete(ctx context.Context, messageID, actorID string, byModerator bool) error {
	m, err := p.store.Get(ctx, messageID)
	if err != nil {
		return err
	}
	if !byModerator && m.SenderID != actorID {
		return apperr.Forbidden("cannot delete another user's message")
	}
	return p.store.Delete(ctx, messageID)
}

// Edit replaces the content of the sender's own message. The new content is
// re-scanned; an admin-placed flag survives the edit.
func (p *Pipeline) Edit(ctx context.Context, messageID, actorID, content string) (*Message, error) {
	m, err := p.store.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != actorID {
		return nil, apperr.Forbidden("only the sender may edit a message")
	}
	if m.IsRetracted {
		return nil, apperr.Conflict("retracted messages cannot be edited")
	}
	if err := ValidateContent(m.Type, content); err != nil {
		return nil, apperr.Invalid(err.Error())
	}

	flags := p.scanner.Scan(content)
	adminFlagged := m.IsFlagged && m.FlaggedBy == FlaggedByAdmin
	flagged := flags.Any() || adminFlagged
	flaggedBy := ""
	switch {
	case adminFlagged:
		flaggedBy = FlaggedByAdmin
	case flags.Any():
		flaggedBy = FlaggedBySystem
	}

	if err := p.store.UpdateContent(ctx, messageID, content, flags, flagged, flaggedBy); err != nil {
		return nil, err
	}
	if flags.Any() && !m.IsFlagged {
		metrics.MessagesTotal.WithLabelValues("flagged").Inc()
		metrics.ObserveSafetyFlags(flags)
	}
	return p.store.Get(ctx, messageID)
}

func (p *Pipeline) publishFlagged(m *Message) {
	if p.events == nil {
		return
	}
	ev := messaging.MessageFlaggedEvent{
		RoomID:    m.RoomID,
		MessageID: m.ID,
		SenderID:  m.SenderID,
		Phone:     m.Flags.Phone,
		Email:     m.Flags.Email,
		UPI:       m.Flags.UPI,
		Link:      m.Flags.Link,
		Keyword:   m.Flags.Keyword,
	}
	if err := p.events.PublishMessageFlagged(ev); err != nil {
		log.Printf("[pipeline] publish flagged event: %v", err)
	}
}
