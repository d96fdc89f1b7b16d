package attachment

import (
	"context"
	"log"
)

// FileScanner is the virus-scanning collaborator. Implementations wrap an
// external engine; Scan returns the verdict for the file at storagePath.
type FileScanner interface {
	Scan(ctx context.Context, storagePath string) (ScanStatus, error)
}

// Service drains the unscanned queue through a FileScanner. The sweeper
// worker runs it on a ticker.
type Service struct {
	store   *Store
	scanner FileScanner
}

// NewService wires the scanning service.
func NewService(store *Store, scanner FileScanner) *Service {
	return &Service{store: store, scanner: scanner}
}

// ProcessUnscanned scans up to batch pending attachments and records the
// verdicts. Scan failures leave the attachment unscanned for the next pass.
// Returns the number of verdicts recorded.
func (s *Service) ProcessUnscanned(ctx context.Context, batch int) (int, error) {
	pending, err := s.store.Unscanned(ctx, batch)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, a := range pending {
		status, err := s.scanner.Scan(ctx, a.StoragePath)
		if err != nil {
			log.Printf("[attachment] scan %s: %v", a.ID, err)
			continue
		}
		if err := s.store.RecordScanResult(ctx, a.ID, status); err != nil {
			// A concurrent worker got there first.
			log.Printf("[attachment] record verdict for %s: %v", a.ID, err)
			continue
		}
		done++
	}
	return done, nil
}
