package message

import (
	"context"
	"database/sql"
	"errors"

	apperr "github.com/milaap/platform/pkg/errors"

	"github.com/milaap/platform/internal/safety"
)

// Store persists messages in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a message store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const messageColumns = `
	id, room_id, sender_id, msg_type, content, reply_to_id,
	contains_phone, contains_email, contains_upi, contains_link, contains_keyword,
	is_flagged, flagged_by, flag_reason, report_count,
	is_deleted, is_hidden, is_retracted, sent_at, read_at, edited_at`

// insertTx inserts a message inside the caller's transaction. The pipeline
// pairs it with room.Store.RecordMessage so counters and timeline commit
// together.
func (s *Store) insertTx(ctx context.Context, tx *sql.Tx, m *Message) error {
	const query = `
		INSERT INTO chat_messages (id, room_id, sender_id, msg_type, content, reply_to_id,
			contains_phone, contains_email, contains_upi, contains_link, contains_keyword,
			is_flagged, flagged_by, flag_reason)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''),
			$7, $8, $9, $10, $11, $12, NULLIF($13, ''), NULLIF($14, ''))
		RETURNING sent_at`

	return tx.QueryRowContext(ctx, query,
		m.ID, m.RoomID, m.SenderID, string(m.Type), m.Content, m.ReplyToID,
		m.Flags.Phone, m.Flags.Email, m.Flags.UPI, m.Flags.Link, m.Flags.Keyword,
		m.IsFlagged, m.FlaggedBy, m.FlagReason,
	).Scan(&m.SentAt)
}

// Get returns a message by id. Moderator-deleted messages stay readable
// here: moderation needs them, and render paths check the lifecycle flags.
func (s *Store) Get(ctx context.Context, messageID string) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM chat_messages WHERE id = $1`
	m, err := scanMessage(s.db.QueryRowContext(ctx, query, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("message not found")
	}
	if err != nil {
		return nil, apperr.Dependency("message: get", err)
	}
	return m, nil
}

// Timeline returns up to limit messages for a room, newest first, excluding
// moderator-deleted rows. Retracted and hidden messages are included; the
// rendering layer decides per viewer what to show.
func (s *Store) Timeline(ctx context.Context, roomID string, limit int) ([]*Message, error) {
	query := `SELECT ` + messageColumns + `
		FROM chat_messages
		WHERE room_id = $1 AND NOT is_deleted
		ORDER BY sent_at DESC
		LIMIT $2`
	return s.queryMessages(ctx, query, roomID, limit)
}

// Flagged returns up to limit system- or admin-flagged messages, newest
// first, for the moderation review queue.
func (s *Store) Flagged(ctx context.Context, limit int) ([]*Message, error) {
	query := `SELECT ` + messageColumns + `
		FROM chat_messages
		WHERE is_flagged
		ORDER BY sent_at DESC
		LIMIT $1`
	return s.queryMessages(ctx, query, limit)
}

// Retract marks the message recalled by its sender. Content is retained and
// stays queryable by moderation. Retracting twice is a no-op.
func (s *Store) Retract(ctx context.Context, messageID string) error {
	return s.setFlag(ctx, messageID, `is_retracted = TRUE`)
}

// Hide marks the message hidden for its sender only.
func (s *Store) Hide(ctx context.Context, messageID string) error {
	return s.setFlag(ctx, messageID, `is_hidden = TRUE`)
}

// Delete marks the message removed and nulls out replies that point at it.
func (s *Store) Delete(ctx context.Context, messageID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Dependency("message: delete begin", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE chat_messages SET is_deleted = TRUE WHERE id = $1`, messageID)
	if err != nil {
		return apperr.Dependency("message: delete", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("message not found")
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE chat_messages SET reply_to_id = NULL WHERE reply_to_id = $1`, messageID); err != nil {
		return apperr.Dependency("message: delete unlink replies", err)
	}

	if err := tx.Commit(); err != nil {
		return apperr.Dependency("message: delete commit", err)
	}
	return nil
}

// UpdateContent replaces the content and safety flags of an edited message
// and stamps edited_at.
func (s *Store) UpdateContent(ctx context.Context, messageID, content string, flags safety.Flags, flagged bool, flaggedBy string) error {
	const query = `
		UPDATE chat_messages
		SET content = $2,
		    contains_phone = $3, contains_email = $4, contains_upi = $5,
		    contains_link = $6, contains_keyword = $7,
		    is_flagged = $8, flagged_by = NULLIF($9, ''),
		    edited_at = NOW()
		WHERE id = $1 AND NOT is_deleted`

	res, err := s.db.ExecContext(ctx, query, messageID, content,
		flags.Phone, flags.Email, flags.UPI, flags.Link, flags.Keyword,
		flagged, flaggedBy)
	if err != nil {
		return apperr.Dependency("message: update content", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("message not found")
	}
	return nil
}

// Rescan overwrites the safety flags of a message with a fresh scan result.
// Only moderation calls this; send-time flags are otherwise immutable.
func (s *Store) Rescan(ctx context.Context, messageID string, flags safety.Flags) error {
	const query = `
		UPDATE chat_messages
		SET contains_phone = $2, contains_email = $3, contains_upi = $4,
		    contains_link = $5, contains_keyword = $6,
		    is_flagged = (is_flagged OR $7)
		WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, messageID,
		flags.Phone, flags.Email, flags.UPI, flags.Link, flags.Keyword, flags.Any())
	if err != nil {
		return apperr.Dependency("message: rescan", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("message not found")
	}
	return nil
}

// AdminFlag marks a message flagged by a moderator with a reason.
func (s *Store) AdminFlag(ctx context.Context, messageID, reason string) error {
	const query = `
		UPDATE chat_messages
		SET is_flagged = TRUE, flagged_by = 'admin', flag_reason = $2
		WHERE id = $1`
	res, err := s.db.ExecContext(ctx, query, messageID, reason)
	if err != nil {
		return apperr.Dependency("message: admin flag", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("message not found")
	}
	return nil
}

// BumpReportCount increments the per-message report counter atomically.
func (s *Store) BumpReportCount(ctx context.Context, messageID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_messages SET report_count = report_count + 1 WHERE id = $1`, messageID)
	if err != nil {
		return apperr.Dependency("message: bump report count", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("message not found")
	}
	return nil
}

func (s *Store) setFlag(ctx context.Context, messageID, set string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_messages SET `+set+` WHERE id = $1 AND NOT is_deleted`, messageID)
	if err != nil {
		return apperr.Dependency("message: update", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("message not found")
	}
	return nil
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...interface{}) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Dependency("message: query", err)
	}
	defer rows.Close()

	var result []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, apperr.Dependency("message: scan", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(rs rowScanner) (*Message, error) {
	var (
		m                           Message
		msgType                     string
		replyTo, flaggedBy, flagRsn sql.NullString
		readAt, editedAt            sql.NullTime
	)
	err := rs.Scan(
		&m.ID, &m.RoomID, &m.SenderID, &msgType, &m.Content, &replyTo,
		&m.Flags.Phone, &m.Flags.Email, &m.Flags.UPI, &m.Flags.Link, &m.Flags.Keyword,
		&m.IsFlagged, &flaggedBy, &flagRsn, &m.ReportCount,
		&m.IsDeleted, &m.IsHidden, &m.IsRetracted, &m.SentAt, &readAt, &editedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Type = Type(msgType)
	m.ReplyToID = replyTo.String
	m.FlaggedBy = flaggedBy.String
	m.FlagReason = flagRsn.String
	if readAt.Valid {
		t := readAt.Time
		m.ReadAt = &t
	}
	if editedAt.Valid {
		t := editedAt.Time
		m.EditedAt = &t
	}
	return &m, nil
}
