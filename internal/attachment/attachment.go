// Package attachment tracks files shared in chat rooms. Every attachment
// starts quarantined: downloads stay disabled until a virus scan marks the
// file clean, and expire again when the retention window lapses.
package attachment

import "time"

// ScanStatus is the virus-scan verdict for an attachment.
type ScanStatus string

const (
	ScanUnscanned  ScanStatus = "unscanned"
	ScanClean      ScanStatus = "clean"
	ScanInfected   ScanStatus = "infected"
	ScanSuspicious ScanStatus = "suspicious"
)

// Valid reports whether s is a known scan status.
func (s ScanStatus) Valid() bool {
	switch s {
	case ScanUnscanned, ScanClean, ScanInfected, ScanSuspicious:
		return true
	}
	return false
}

// MaxFileSize is the per-attachment size ceiling in bytes.
const MaxFileSize = 25 << 20

// Attachment is one uploaded file bound to a message.
type Attachment struct {
	ID              string
	MessageID       string
	RoomID          string
	UploaderID      string
	FileName        string
	FileType        string
	FileSize        int64
	MimeType        string
	StoragePath     string
	ThumbnailPath   string
	ContentHash     string
	IsEncrypted     bool
	DownloadAllowed bool
	ExpiresAt       *time.Time
	ScanStatus      ScanStatus
	IsDeleted       bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Downloadable reports whether the file may be served at now.
func (a *Attachment) Downloadable(now time.Time) bool {
	if a.IsDeleted || !a.DownloadAllowed || a.ScanStatus != ScanClean {
		return false
	}
	return a.ExpiresAt == nil || now.Before(*a.ExpiresAt)
}
