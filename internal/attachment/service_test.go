package attachment_test

import (
	"context"
	"errors"
	"testing"

	"github.com/milaap/platform/internal/attachment"
)

// verdictScanner returns a fixed verdict, failing on marked paths.
type verdictScanner struct {
	verdict  attachment.ScanStatus
	failPath string
}

func (s *verdictScanner) Scan(_ context.Context, storagePath string) (attachment.ScanStatus, error) {
	if storagePath == s.failPath {
		return "", errors.New("engine timeout")
	}
	return s.verdict, nil
}

func TestProcessUnscanned(t *testing.T) {
	store, params := seed(t)
	ctx := context.Background()

	a, err := store.Create(ctx, params)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	svc := attachment.NewService(store, &verdictScanner{verdict: attachment.ScanClean})
	if _, err := svc.ProcessUnscanned(ctx, 100); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, err := store.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ScanStatus != attachment.ScanClean || !got.DownloadAllowed {
		t.Errorf("verdict not applied: %+v", got)
	}
}

func TestProcessUnscanned_ScanFailureLeavesPending(t *testing.T) {
	store, params := seed(t)
	ctx := context.Background()

	a, err := store.Create(ctx, params)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	svc := attachment.NewService(store, &verdictScanner{verdict: attachment.ScanClean, failPath: params.StoragePath})
	if _, err := svc.ProcessUnscanned(ctx, 100); err != nil {
		t.Fatalf("process: %v", err)
	}

	// The failed file stays queued for the next pass.
	got, _ := store.Get(ctx, a.ID)
	if got.ScanStatus != attachment.ScanUnscanned {
		t.Errorf("scan status = %s, want unscanned", got.ScanStatus)
	}
}
