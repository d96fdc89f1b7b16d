package attachment_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/milaap/platform/internal/attachment"
	"github.com/milaap/platform/internal/block"
	"github.com/milaap/platform/internal/message"
	"github.com/milaap/platform/internal/room"
	"github.com/milaap/platform/internal/safety"
	"github.com/milaap/platform/internal/storage"
	apperr "github.com/milaap/platform/pkg/errors"
)

// seed creates a room with one file message and returns an attachment
// store plus create params pointing at that message.
func seed(t *testing.T) (*attachment.Store, attachment.CreateParams) {
	t.Helper()
	db := storage.OpenTest(t)
	rooms := room.NewStore(db)
	messages := message.NewStore(db)
	pipeline := message.NewPipeline(db, messages, rooms, block.NewRegistry(db, nil),
		safety.NewScanner(safety.DefaultConfig()), nil, nil)

	suffix := uuid.New().String()[:8]
	ctx := context.Background()
	r, err := rooms.Create(ctx, "att_a_"+suffix, "att_b_"+suffix, room.ContextBusiness, uuid.New().String())
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	m, err := pipeline.Send(ctx, message.SendParams{
		RoomID: r.ID, SenderID: "att_a_" + suffix, Type: message.TypeFile, Content: "quote.pdf",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	return attachment.NewStore(db), attachment.CreateParams{
		MessageID:   m.ID,
		RoomID:      r.ID,
		UploaderID:  "att_a_" + suffix,
		FileName:    "quote.pdf",
		FileType:    "document",
		FileSize:    2048,
		MimeType:    "application/pdf",
		StoragePath: "attachments/" + uuid.New().String(),
		ContentHash: "sha256:deadbeef",
	}
}

func TestCreate_StartsQuarantined(t *testing.T) {
	store, params := seed(t)
	ctx := context.Background()

	a, err := store.Create(ctx, params)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.ScanStatus != attachment.ScanUnscanned || a.DownloadAllowed {
		t.Errorf("new attachment not quarantined: %+v", a)
	}
	if a.Downloadable(time.Now()) {
		t.Error("unscanned attachment should not be downloadable")
	}
}

func TestCreate_Validation(t *testing.T) {
	store, params := seed(t)
	ctx := context.Background()

	tooBig := params
	tooBig.FileSize = attachment.MaxFileSize + 1
	if _, err := store.Create(ctx, tooBig); !apperr.Is(err, apperr.CodeInvalidArgument) {
		t.Errorf("oversized file: got %v, want INVALID_ARGUMENT", err)
	}

	noHash := params
	noHash.ContentHash = ""
	if _, err := store.Create(ctx, noHash); !apperr.Is(err, apperr.CodeInvalidArgument) {
		t.Errorf("missing hash: got %v, want INVALID_ARGUMENT", err)
	}
}

func TestRecordScanResult(t *testing.T) {
	store, params := seed(t)
	ctx := context.Background()

	a, err := store.Create(ctx, params)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := store.RecordScanResult(ctx, a.ID, attachment.ScanClean); err != nil {
		t.Fatalf("record clean: %v", err)
	}
	got, _ := store.Get(ctx, a.ID)
	if !got.DownloadAllowed || !got.Downloadable(time.Now()) {
		t.Errorf("clean attachment should be downloadable: %+v", got)
	}

	// Verdicts are write-once.
	if err := store.RecordScanResult(ctx, a.ID, attachment.ScanInfected); !apperr.Is(err, apperr.CodeConflict) {
		t.Errorf("second verdict: got %v, want CONFLICT", err)
	}
	got, _ = store.Get(ctx, a.ID)
	if got.ScanStatus != attachment.ScanClean {
		t.Errorf("verdict overwritten: %s", got.ScanStatus)
	}
}

func TestRecordScanResult_InfectedStaysQuarantined(t *testing.T) {
	store, params := seed(t)
	ctx := context.Background()

	a, err := store.Create(ctx, params)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.RecordScanResult(ctx, a.ID, attachment.ScanInfected); err != nil {
		t.Fatalf("record infected: %v", err)
	}
	got, _ := store.Get(ctx, a.ID)
	if got.DownloadAllowed || got.Downloadable(time.Now()) {
		t.Errorf("infected attachment became downloadable: %+v", got)
	}
}

func TestSweepExpired(t *testing.T) {
	store, params := seed(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	params.ExpiresAt = &past
	a, err := store.Create(ctx, params)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.RecordScanResult(ctx, a.ID, attachment.ScanClean); err != nil {
		t.Fatalf("record clean: %v", err)
	}

	n, err := store.SweepExpired(ctx, time.Now(), 100)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n < 1 {
		t.Errorf("sweep disabled %d attachments, want >= 1", n)
	}
	got, _ := store.Get(ctx, a.ID)
	if got.DownloadAllowed {
		t.Error("expired attachment still downloadable")
	}

	// Idempotent: nothing left for this attachment.
	if got.Downloadable(time.Now()) {
		t.Error("expired attachment reported downloadable")
	}
}

func TestSoftDelete(t *testing.T) {
	store, params := seed(t)
	ctx := context.Background()

	a, err := store.Create(ctx, params)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.RecordScanResult(ctx, a.ID, attachment.ScanClean); err != nil {
		t.Fatalf("record clean: %v", err)
	}
	if err := store.SoftDelete(ctx, a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.SoftDelete(ctx, a.ID); !apperr.Is(err, apperr.CodeNotFound) {
		t.Errorf("double delete: got %v, want NOT_FOUND", err)
	}

	got, _ := store.Get(ctx, a.ID)
	if !got.IsDeleted || got.Downloadable(time.Now()) {
		t.Errorf("deleted attachment still live: %+v", got)
	}

	// Deleted attachments drop out of the message listing.
	list, err := store.ForMessage(ctx, params.MessageID)
	if err != nil {
		t.Fatalf("for message: %v", err)
	}
	for _, item := range list {
		if item.ID == a.ID {
			t.Error("deleted attachment still listed")
		}
	}
}
