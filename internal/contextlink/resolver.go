package contextlink

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/milaap/platform/internal/messaging"
	"github.com/milaap/platform/internal/metrics"
	"github.com/milaap/platform/internal/room"
	apperr "github.com/milaap/platform/pkg/errors"
)

// EventPublisher receives room-closed notifications. Implemented by
// messaging.Client; nil disables eventing.
type EventPublisher interface {
	PublishRoomClosed(ev messaging.RoomClosedEvent) error
}

// Resolver manages context links and drives room closure on expiry.
type Resolver struct {
	db        *sql.DB
	rooms     *room.Store
	directory ContextDirectory
	events    EventPublisher // optional
}

// NewResolver wires the resolver. events may be nil.
func NewResolver(db *sql.DB, rooms *room.Store, directory ContextDirectory, events EventPublisher) *Resolver {
	return &Resolver{db: db, rooms: rooms, directory: directory, events: events}
}

// LinkParams describes a link to create.
type LinkParams struct {
	RoomID           string
	ContextType      room.ContextType
	ContextID        string
	InitiatedFrom    string
	RequiresApproval bool
	ExpiresAt        *time.Time
}

// Link binds a room to a context after verifying the context with its
// owning service. The partial unique index on active links per room makes
// double-linking race-free: the second insert fails with CONFLICT.
func (r *Resolver) Link(ctx context.Context, p LinkParams) (*Link, error) {
	if !p.ContextType.Valid() {
		return nil, apperr.Invalid("unknown context type")
	}
	if p.ContextID == "" {
		return nil, apperr.Invalid("context id is required")
	}

	if _, err := r.rooms.Get(ctx, p.RoomID); err != nil {
		return nil, err
	}

	exists, err := r.directory.Exists(ctx, p.ContextType, p.ContextID)
	if err != nil {
		return nil, apperr.Dependency("context directory lookup failed", err)
	}
	if !exists {
		return nil, apperr.NotFound("context does not exist")
	}
	active, err := r.directory.Active(ctx, p.ContextType, p.ContextID)
	if err != nil {
		return nil, apperr.Dependency("context directory lookup failed", err)
	}
	if !active {
		return nil, apperr.Conflict("context is no longer active")
	}

	id := uuid.New().String()
	const query = `
		INSERT INTO chat_context_links (id, room_id, context_type, context_id,
			initiated_from, requires_approval, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	var createdAt time.Time
	err = r.db.QueryRowContext(ctx, query,
		id, p.RoomID, string(p.ContextType), p.ContextID,
		p.InitiatedFrom, p.RequiresApproval, p.ExpiresAt,
	).Scan(&createdAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Conflict("room already has an active context link")
		}
		return nil, apperr.Dependency("contextlink: insert", err)
	}

	return &Link{
		ID:               id,
		RoomID:           p.RoomID,
		ContextType:      p.ContextType,
		ContextID:        p.ContextID,
		InitiatedFrom:    p.InitiatedFrom,
		RequiresApproval: p.RequiresApproval,
		ExpiresAt:        p.ExpiresAt,
		IsActive:         true,
		CreatedAt:        createdAt,
	}, nil
}

// Get returns a link by id, or NOT_FOUND.
func (r *Resolver) Get(ctx context.Context, linkID string) (*Link, error) {
	const query = `
		SELECT id, room_id, context_type, context_id, initiated_from,
			requires_approval, COALESCE(approved_by, ''), approved_at,
			expires_at, is_active, created_at
		FROM chat_context_links WHERE id = $1`

	var (
		l                     Link
		contextType           string
		approvedAt, expiresAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, linkID).Scan(
		&l.ID, &l.RoomID, &contextType, &l.ContextID, &l.InitiatedFrom,
		&l.RequiresApproval, &l.ApprovedBy, &approvedAt,
		&expiresAt, &l.IsActive, &l.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("context link not found")
	}
	if err != nil {
		return nil, apperr.Dependency("contextlink: get", err)
	}
	l.ContextType = room.ContextType(contextType)
	if approvedAt.Valid {
		t := approvedAt.Time
		l.ApprovedAt = &t
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		l.ExpiresAt = &t
	}
	return &l, nil
}

// Approve passes the approval gate. Valid only while the link requires
// approval and has not been approved yet.
func (r *Resolver) Approve(ctx context.Context, linkID, approverID string) (*Link, error) {
	l, err := r.Get(ctx, linkID)
	if err != nil {
		return nil, err
	}
	if !l.RequiresApproval {
		return nil, apperr.Conflict("link does not require approval")
	}
	if l.ApprovedAt != nil {
		return nil, apperr.Conflict("link is already approved")
	}

	const query = `
		UPDATE chat_context_links
		SET approved_by = $2, approved_at = NOW()
		WHERE id = $1 AND requires_approval AND approved_at IS NULL AND is_active`

	res, err := r.db.ExecContext(ctx, query, linkID, approverID)
	if err != nil {
		return nil, apperr.Dependency("contextlink: approve", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperr.Conflict("link state changed concurrently")
	}
	return r.Get(ctx, linkID)
}

// SweepExpired deactivates up to batch active links past their expiry and
// closes the rooms they back. The deactivation is conditional on is_active,
// so two racing sweeps deactivate each link — and close each room — exactly
// once. Per-room close failures are logged and skipped, not fatal to the
// batch. Returns the ids of rooms that were closed.
func (r *Resolver) SweepExpired(ctx context.Context, now time.Time, batch int) ([]string, error) {
	const query = `
		UPDATE chat_context_links
		SET is_active = FALSE
		WHERE id IN (
			SELECT id FROM chat_context_links
			WHERE is_active AND expires_at IS NOT NULL AND expires_at <= $1
			LIMIT $2
		) AND is_active
		RETURNING room_id`

	rows, err := r.db.QueryContext(ctx, query, now, batch)
	if err != nil {
		return nil, apperr.Dependency("contextlink: sweep", err)
	}
	var roomIDs []string
	for rows.Next() {
		var roomID string
		if err := rows.Scan(&roomID); err != nil {
			rows.Close()
			return nil, apperr.Dependency("contextlink: sweep scan", err)
		}
		roomIDs = append(roomIDs, roomID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperr.Dependency("contextlink: sweep rows", err)
	}

	var closed []string
	for _, roomID := range roomIDs {
		if err := r.rooms.Close(ctx, roomID, "system", "context expired"); err != nil {
			log.Printf("[contextlink] sweep: close room %s: %v", roomID, err)
			continue
		}
		metrics.SweepItemsTotal.WithLabelValues("context_link").Inc()
		closed = append(closed, roomID)

		if r.events != nil {
			ev := messaging.RoomClosedEvent{RoomID: roomID, Reason: "context expired"}
			if err := r.events.PublishRoomClosed(ev); err != nil {
				log.Printf("[contextlink] publish room closed: %v", err)
			}
		}
	}
	return closed, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
