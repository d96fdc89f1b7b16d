package room

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	apperr "github.com/milaap/platform/pkg/errors"
)

// maxTransitionRetries bounds the internal retry loop for status transitions
// that lose a conditional-update race. After the bound the caller sees a
// CONFLICT error.
const maxTransitionRetries = 3

// Store persists rooms in PostgreSQL. Every aggregate update is either a
// single conditional statement or runs inside one transaction, so concurrent
// callers never lose a counter increment or observe a half-applied
// transition.
type Store struct {
	db *sql.DB
}

// NewStore creates a room store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const roomColumns = `
	id, user_low, user_high, context_type, context_id, status, prior_status,
	muted_by, muted_at, mute_reason, blocked_by, blocked_at, block_reason,
	reported_at, close_reason,
	message_count, unread_low, unread_high, last_message_id, last_message_at,
	is_deleted, deleted_by, deleted_at, created_at, updated_at, closed_at`

// Create inserts a new active room for the canonical pair of userA/userB
// under the given context. The partial unique index on
// (user_low, user_high, context_type, context_id) makes creation race-free:
// a concurrent duplicate insert fails with a CONFLICT error rather than
// producing a second room.
func (s *Store) Create(ctx context.Context, userA, userB string, contextType ContextType, contextID string) (*Room, error) {
	low, high, err := CanonicalPair(userA, userB)
	if err != nil {
		return nil, err
	}
	if !contextType.Valid() {
		return nil, apperr.Invalid(fmt.Sprintf("unknown context type %q", contextType))
	}

	id := uuid.New().String()
	const query = `
		INSERT INTO chat_rooms (id, user_low, user_high, context_type, context_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`

	var createdAt, updatedAt time.Time
	err = s.db.QueryRowContext(ctx, query, id, low, high, string(contextType), contextID).
		Scan(&createdAt, &updatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Conflict("a room already exists for this pair and context")
		}
		return nil, apperr.Dependency("room: create", err)
	}

	return &Room{
		ID:          id,
		UserLow:     low,
		UserHigh:    high,
		ContextType: contextType,
		ContextID:   contextID,
		Status:      StatusActive,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}, nil
}

// Get returns the room by id. Soft-deleted rooms are reported as NOT_FOUND.
func (s *Store) Get(ctx context.Context, roomID string) (*Room, error) {
	query := `SELECT ` + roomColumns + ` FROM chat_rooms WHERE id = $1 AND NOT is_deleted`
	r, err := scanRoom(s.db.QueryRowContext(ctx, query, roomID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("room not found")
	}
	if err != nil {
		return nil, apperr.Dependency("room: get", err)
	}
	return r, nil
}

// ListByStatus returns up to limit non-deleted rooms holding the given
// status, most recently updated first.
func (s *Store) ListByStatus(ctx context.Context, status Status, limit int) ([]*Room, error) {
	query := `SELECT ` + roomColumns + `
		FROM chat_rooms
		WHERE status = $1 AND NOT is_deleted
		ORDER BY updated_at DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, string(status), limit)
	if err != nil {
		return nil, apperr.Dependency("room: list by status", err)
	}
	defer rows.Close()

	var result []*Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, apperr.Dependency("room: list by status scan", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// ListActiveForUser returns the open rooms userID participates in. Closed
// and soft-deleted rooms are excluded.
func (s *Store) ListActiveForUser(ctx context.Context, userID string) ([]*Room, error) {
	query := `SELECT ` + roomColumns + `
		FROM chat_rooms
		WHERE (user_low = $1 OR user_high = $1)
		  AND status <> 'closed' AND NOT is_deleted
		ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, apperr.Dependency("room: list for user", err)
	}
	defer rows.Close()

	var result []*Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, apperr.Dependency("room: list for user scan", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// Transition moves the room to target, validating the move against the
// state machine. The update is conditional on the status observed at read
// time; a lost race is retried up to maxTransitionRetries before surfacing
// CONFLICT. Actor and reason are recorded in the field set of the target
// status, and the field set of a status being left is cleared.
//
// Transitions out of reported (other than to closed) go through
// RevertReported, which restores the remembered prior status.
func (s *Store) Transition(ctx context.Context, roomID, actor string, target Status, reason string) (*Room, error) {
	if !target.Valid() {
		return nil, apperr.Invalid(fmt.Sprintf("unknown status %q", target))
	}

	for attempt := 0; attempt < maxTransitionRetries; attempt++ {
		r, err := s.Get(ctx, roomID)
		if err != nil {
			return nil, err
		}

		if r.Status == StatusClosed && target == StatusClosed {
			return r, nil // closing a closed room is a no-op
		}
		if !CanTransition(r.Status, target) {
			return nil, apperr.Conflict(fmt.Sprintf("invalid transition %s -> %s", r.Status, target))
		}
		if r.Status == StatusReported && target != StatusClosed {
			return nil, apperr.Conflict("reported rooms revert only through report dismissal")
		}

		done, err := s.applyTransition(ctx, r, actor, target, reason)
		if err != nil {
			return nil, err
		}
		if done {
			return s.Get(ctx, roomID)
		}
		// Lost the conditional update race; re-read and retry.
	}
	return nil, apperr.Conflict("room status changed concurrently, giving up")
}

// applyTransition runs the conditional UPDATE for one observed state.
// Returns false when the guard matched zero rows (concurrent change).
func (s *Store) applyTransition(ctx context.Context, r *Room, actor string, target Status, reason string) (bool, error) {
	var query string
	args := []interface{}{r.ID, string(r.Status)}

	switch target {
	case StatusMuted:
		query = `UPDATE chat_rooms
			SET status = 'muted', muted_by = $3, muted_at = NOW(), mute_reason = $4, updated_at = NOW()
			WHERE id = $1 AND status = $2 AND NOT is_deleted`
		args = append(args, actor, reason)

	case StatusBlocked:
		query = `UPDATE chat_rooms
			SET status = 'blocked', blocked_by = $3, blocked_at = NOW(), block_reason = $4,
			    muted_by = NULL, muted_at = NULL, mute_reason = NULL, updated_at = NOW()
			WHERE id = $1 AND status = $2 AND NOT is_deleted`
		args = append(args, actor, reason)

	case StatusActive:
		// Unmute or unblock: clear the field set being left.
		query = `UPDATE chat_rooms
			SET status = 'active',
			    muted_by = NULL, muted_at = NULL, mute_reason = NULL,
			    blocked_by = NULL, blocked_at = NULL, block_reason = NULL,
			    updated_at = NOW()
			WHERE id = $1 AND status = $2 AND NOT is_deleted`

	case StatusReported:
		// Remember the prior status so dismissal can revert. The mute/block
		// field sets stay: the room still holds them underneath the report.
		query = `UPDATE chat_rooms
			SET status = 'reported', prior_status = $2, reported_at = NOW(), updated_at = NOW()
			WHERE id = $1 AND status = $2 AND NOT is_deleted`

	case StatusClosed:
		query = `UPDATE chat_rooms
			SET status = 'closed', close_reason = $3, closed_at = NOW(),
			    reported_at = NULL, prior_status = '', updated_at = NOW()
			WHERE id = $1 AND status = $2 AND NOT is_deleted`
		args = append(args, reason)

	default:
		return false, apperr.Invalid(fmt.Sprintf("unknown status %q", target))
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, apperr.Dependency("room: transition", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Dependency("room: transition rows", err)
	}
	return n == 1, nil
}

// RevertReported restores a reported room to its remembered prior status.
// Called by the report workflow when the last pending report on the room is
// dismissed. The update is conditional on the room still being reported, so
// concurrent dismissals revert at most once.
func (s *Store) RevertReported(ctx context.Context, roomID string) (*Room, error) {
	const query = `
		UPDATE chat_rooms
		SET status = CASE WHEN prior_status IN ('active','muted','blocked') THEN prior_status ELSE 'active' END,
		    prior_status = '', reported_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'reported' AND NOT is_deleted`

	res, err := s.db.ExecContext(ctx, query, roomID)
	if err != nil {
		return nil, apperr.Dependency("room: revert reported", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Already reverted or closed in the meantime; return current state.
		return s.Get(ctx, roomID)
	}
	return s.Get(ctx, roomID)
}

// Close moves the room to the terminal closed status. Closing an already
// closed room is a no-op, not an error, which makes expiry sweeps idempotent.
func (s *Store) Close(ctx context.Context, roomID, actor, reason string) error {
	const query = `
		UPDATE chat_rooms
		SET status = 'closed', close_reason = $2, closed_at = NOW(),
		    reported_at = NULL, prior_status = '', updated_at = NOW()
		WHERE id = $1 AND status <> 'closed' AND NOT is_deleted`

	res, err := s.db.ExecContext(ctx, query, roomID, reason)
	if err != nil {
		return apperr.Dependency("room: close", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either already closed (fine) or missing (surface NOT_FOUND).
		var exists bool
		err := s.db.QueryRowContext(ctx,
			`SELECT TRUE FROM chat_rooms WHERE id = $1 AND NOT is_deleted`, roomID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("room not found")
		}
		if err != nil {
			return apperr.Dependency("room: close check", err)
		}
	}
	return nil
}

// RecordMessage updates the room aggregates for one inserted message: bumps
// message_count, bumps the unread counter of the sender's partner, and moves
// the last_message pointer. It must run in the same transaction as the
// message insert so the counters can never drift from the timeline.
func (s *Store) RecordMessage(ctx context.Context, tx *sql.Tx, roomID, senderID, messageID string) error {
	const query = `
		UPDATE chat_rooms
		SET message_count = message_count + 1,
		    unread_low  = unread_low  + CASE WHEN user_high = $2 THEN 1 ELSE 0 END,
		    unread_high = unread_high + CASE WHEN user_low  = $2 THEN 1 ELSE 0 END,
		    last_message_id = $3, last_message_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND NOT is_deleted`

	res, err := tx.ExecContext(ctx, query, roomID, senderID, messageID)
	if err != nil {
		return fmt.Errorf("room: record message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("room not found")
	}
	return nil
}

// MarkRead zeroes the reader's unread counter and stamps read_at on the
// partner's unread messages, in one transaction.
func (s *Store) MarkRead(ctx context.Context, roomID, readerID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Dependency("room: mark read begin", err)
	}
	defer tx.Rollback()

	const counters = `
		UPDATE chat_rooms
		SET unread_low  = CASE WHEN user_low  = $2 THEN 0 ELSE unread_low  END,
		    unread_high = CASE WHEN user_high = $2 THEN 0 ELSE unread_high END,
		    updated_at = NOW()
		WHERE id = $1 AND NOT is_deleted`

	res, err := tx.ExecContext(ctx, counters, roomID, readerID)
	if err != nil {
		return apperr.Dependency("room: mark read", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("room not found")
	}

	const stamp = `
		UPDATE chat_messages
		SET read_at = NOW()
		WHERE room_id = $1 AND sender_id <> $2 AND read_at IS NULL AND NOT is_deleted`
	if _, err := tx.ExecContext(ctx, stamp, roomID, readerID); err != nil {
		return apperr.Dependency("room: mark read stamp", err)
	}

	if err := tx.Commit(); err != nil {
		return apperr.Dependency("room: mark read commit", err)
	}
	return nil
}

// SoftDelete marks the room deleted and cascades to its messages,
// attachments, and context links in one transaction. Data is retained for
// audit; every read path filters on the deletion flags.
func (s *Store) SoftDelete(ctx context.Context, roomID, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Dependency("room: delete begin", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE chat_rooms
		SET is_deleted = TRUE, deleted_by = $2, deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND NOT is_deleted`, roomID, actor)
	if err != nil {
		return apperr.Dependency("room: delete", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("room not found")
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE chat_messages SET is_deleted = TRUE WHERE room_id = $1`, roomID); err != nil {
		return apperr.Dependency("room: delete messages", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE chat_attachments SET is_deleted = TRUE, download_allowed = FALSE, updated_at = NOW()
		WHERE room_id = $1`, roomID); err != nil {
		return apperr.Dependency("room: delete attachments", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE chat_context_links SET is_active = FALSE WHERE room_id = $1 AND is_active`, roomID); err != nil {
		return apperr.Dependency("room: delete links", err)
	}

	if err := tx.Commit(); err != nil {
		return apperr.Dependency("room: delete commit", err)
	}
	return nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRoom(rs rowScanner) (*Room, error) {
	var (
		r                                 Room
		contextType, status, priorStatus  string
		mutedBy, muteReason               sql.NullString
		blockedBy, blockReason            sql.NullString
		closeReason, lastMsgID, deletedBy sql.NullString
		mutedAt, blockedAt, reportedAt    sql.NullTime
		lastMsgAt, deletedAt, closedAt    sql.NullTime
	)

	err := rs.Scan(
		&r.ID, &r.UserLow, &r.UserHigh, &contextType, &r.ContextID, &status, &priorStatus,
		&mutedBy, &mutedAt, &muteReason, &blockedBy, &blockedAt, &blockReason,
		&reportedAt, &closeReason,
		&r.MessageCount, &r.UnreadLow, &r.UnreadHigh, &lastMsgID, &lastMsgAt,
		&r.IsDeleted, &deletedBy, &deletedAt, &r.CreatedAt, &r.UpdatedAt, &closedAt,
	)
	if err != nil {
		return nil, err
	}

	r.ContextType = ContextType(contextType)
	r.Status = Status(status)
	r.PriorStatus = Status(priorStatus)
	r.MutedBy = mutedBy.String
	r.MuteReason = muteReason.String
	r.BlockedBy = blockedBy.String
	r.BlockReason = blockReason.String
	r.CloseReason = closeReason.String
	r.LastMessageID = lastMsgID.String
	r.DeletedBy = deletedBy.String
	r.MutedAt = timePtr(mutedAt)
	r.BlockedAt = timePtr(blockedAt)
	r.ReportedAt = timePtr(reportedAt)
	r.LastMessageAt = timePtr(lastMsgAt)
	r.DeletedAt = timePtr(deletedAt)
	r.ClosedAt = timePtr(closedAt)
	return &r, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
