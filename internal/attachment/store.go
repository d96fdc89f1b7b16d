package attachment

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/milaap/platform/internal/metrics"
	apperr "github.com/milaap/platform/pkg/errors"
)

// Store persists attachments in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates an attachment store backed by db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const attachmentColumns = `id, message_id, room_id, uploader_id, file_name,
	file_type, file_size, mime_type, storage_path, thumbnail_path, content_hash,
	is_encrypted, download_allowed, expires_at, scan_status, is_deleted,
	created_at, updated_at`

// CreateParams describes one uploaded file to register.
type CreateParams struct {
	MessageID     string
	RoomID        string
	UploaderID    string
	FileName      string
	FileType      string
	FileSize      int64
	MimeType      string
	StoragePath   string
	ThumbnailPath string
	ContentHash   string
	ExpiresAt     *time.Time
}

// Create registers an uploaded file. The record starts unscanned with
// downloads disabled; only a clean scan verdict opens it.
func (s *Store) Create(ctx context.Context, p CreateParams) (*Attachment, error) {
	if p.FileName == "" || p.StoragePath == "" || p.ContentHash == "" {
		return nil, apperr.Invalid("file name, storage path, and content hash are required")
	}
	if p.FileSize <= 0 || p.FileSize > MaxFileSize {
		return nil, apperr.Invalid(fmt.Sprintf("file size must be between 1 and %d bytes", MaxFileSize))
	}

	a := &Attachment{
		ID:            uuid.New().String(),
		MessageID:     p.MessageID,
		RoomID:        p.RoomID,
		UploaderID:    p.UploaderID,
		FileName:      p.FileName,
		FileType:      p.FileType,
		FileSize:      p.FileSize,
		MimeType:      p.MimeType,
		StoragePath:   p.StoragePath,
		ThumbnailPath: p.ThumbnailPath,
		ContentHash:   p.ContentHash,
		IsEncrypted:   true,
		ExpiresAt:     p.ExpiresAt,
		ScanStatus:    ScanUnscanned,
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO chat_attachments (id, message_id, room_id, uploader_id,
			file_name, file_type, file_size, mime_type, storage_path,
			thumbnail_path, content_hash, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11, $12)
		RETURNING created_at, updated_at`,
		a.ID, a.MessageID, a.RoomID, a.UploaderID, a.FileName, a.FileType,
		a.FileSize, a.MimeType, a.StoragePath, a.ThumbnailPath, a.ContentHash,
		a.ExpiresAt).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, apperr.Dependency("attachment: insert", err)
	}
	return a, nil
}

// Get returns one attachment.
func (s *Store) Get(ctx context.Context, attachmentID string) (*Attachment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+attachmentColumns+` FROM chat_attachments WHERE id = $1`, attachmentID)
	a, err := scanAttachment(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("attachment not found")
	}
	if err != nil {
		return nil, apperr.Dependency("attachment: get", err)
	}
	return a, nil
}

// ForMessage returns the live attachments of a message.
func (s *Store) ForMessage(ctx context.Context, messageID string) ([]*Attachment, error) {
	return s.query(ctx, `
		SELECT `+attachmentColumns+` FROM chat_attachments
		WHERE message_id = $1 AND NOT is_deleted
		ORDER BY created_at`, messageID)
}

// Unscanned returns up to limit live attachments awaiting a scan verdict,
// oldest first.
func (s *Store) Unscanned(ctx context.Context, limit int) ([]*Attachment, error) {
	return s.query(ctx, `
		SELECT `+attachmentColumns+` FROM chat_attachments
		WHERE scan_status = 'unscanned' AND NOT is_deleted
		ORDER BY created_at
		LIMIT $1`, limit)
}

// RecordScanResult stores the scan verdict for an attachment. Only a clean
// verdict enables downloads. Verdicts are written once: a second result for
// the same attachment is rejected so a late or duplicate scan can never
// reopen a quarantined file.
func (s *Store) RecordScanResult(ctx context.Context, attachmentID string, status ScanStatus) error {
	if !status.Valid() || status == ScanUnscanned {
		return apperr.Invalid(fmt.Sprintf("invalid scan verdict %q", status))
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE chat_attachments
		SET scan_status = $2, download_allowed = ($2 = 'clean'), updated_at = NOW()
		WHERE id = $1 AND scan_status = 'unscanned' AND NOT is_deleted`,
		attachmentID, status)
	if err != nil {
		return apperr.Dependency("attachment: record scan", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.Get(ctx, attachmentID); err != nil {
			return err
		}
		return apperr.Conflict("attachment already has a scan verdict")
	}
	return nil
}

// SweepExpired disables downloads for attachments whose retention window
// has lapsed at now. Bounded per call and idempotent: a second sweep over
// the same window finds nothing.
func (s *Store) SweepExpired(ctx context.Context, now time.Time, batch int) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chat_attachments
		SET download_allowed = FALSE, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM chat_attachments
			WHERE download_allowed AND expires_at IS NOT NULL AND expires_at <= $1
			LIMIT $2
		)`, now, batch)
	if err != nil {
		return 0, apperr.Dependency("attachment: sweep expired", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		metrics.SweepItemsTotal.WithLabelValues("attachment").Add(float64(n))
	}
	return int(n), nil
}

// SoftDelete removes an attachment from circulation. The row is retained
// for moderation.
func (s *Store) SoftDelete(ctx context.Context, attachmentID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chat_attachments
		SET is_deleted = TRUE, download_allowed = FALSE, updated_at = NOW()
		WHERE id = $1 AND NOT is_deleted`, attachmentID)
	if err != nil {
		return apperr.Dependency("attachment: soft delete", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("attachment not found")
	}
	return nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]*Attachment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Dependency("attachment: query", err)
	}
	defer rows.Close()

	var result []*Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, apperr.Dependency("attachment: scan row", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttachment(row rowScanner) (*Attachment, error) {
	var (
		a         Attachment
		thumbnail sql.NullString
		expiresAt sql.NullTime
	)
	err := row.Scan(&a.ID, &a.MessageID, &a.RoomID, &a.UploaderID, &a.FileName,
		&a.FileType, &a.FileSize, &a.MimeType, &a.StoragePath, &thumbnail,
		&a.ContentHash, &a.IsEncrypted, &a.DownloadAllowed, &expiresAt,
		&a.ScanStatus, &a.IsDeleted, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.ThumbnailPath = thumbnail.String
	if expiresAt.Valid {
		a.ExpiresAt = &expiresAt.Time
	}
	return &a, nil
}
