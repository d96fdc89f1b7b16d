package room_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/milaap/platform/internal/room"
	"github.com/milaap/platform/internal/storage"
	apperr "github.com/milaap/platform/pkg/errors"
)

// ids returns two distinct test user ids with a unique suffix so parallel
// test runs never collide on the room uniqueness index.
func ids() (string, string) {
	suffix := uuid.New().String()[:8]
	return "test_a_" + suffix, "test_b_" + suffix
}

func TestCreate_DuplicateRejected(t *testing.T) {
	db := storage.OpenTest(t)
	store := room.NewStore(db)
	ctx := context.Background()
	a, b := ids()

	r1, err := store.Create(ctx, a, b, room.ContextMarriage, "profile-1")
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if r1.Status != room.StatusActive || r1.MessageCount != 0 {
		t.Errorf("new room should be active with zero counters, got %+v", r1)
	}

	// Same pair in reverse order must hit the same canonical slot.
	_, err = store.Create(ctx, b, a, room.ContextMarriage, "profile-1")
	if !apperr.Is(err, apperr.CodeConflict) {
		t.Errorf("duplicate create: got %v, want CONFLICT", err)
	}

	// A different context id is a different room.
	if _, err := store.Create(ctx, a, b, room.ContextMarriage, "profile-2"); err != nil {
		t.Errorf("different context should create a second room: %v", err)
	}
}

func TestTransition_MuteUnmuteBlock(t *testing.T) {
	db := storage.OpenTest(t)
	store := room.NewStore(db)
	ctx := context.Background()
	a, b := ids()

	r, err := store.Create(ctx, a, b, room.ContextJob, "job-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	r, err = store.Transition(ctx, r.ID, a, room.StatusMuted, "too chatty")
	if err != nil {
		t.Fatalf("mute: %v", err)
	}
	if r.Status != room.StatusMuted || r.MutedBy != a || r.MutedAt == nil {
		t.Errorf("mute fields not recorded: %+v", r)
	}

	r, err = store.Transition(ctx, r.ID, a, room.StatusActive, "")
	if err != nil {
		t.Fatalf("unmute: %v", err)
	}
	if r.Status != room.StatusActive || r.MutedBy != "" || r.MutedAt != nil {
		t.Errorf("mute fields should be cleared on unmute: %+v", r)
	}

	r, err = store.Transition(ctx, r.ID, b, room.StatusBlocked, "spam")
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if r.Status != room.StatusBlocked || r.BlockedBy != b {
		t.Errorf("block fields not recorded: %+v", r)
	}

	// blocked -> muted is not a legal edge.
	if _, err := store.Transition(ctx, r.ID, a, room.StatusMuted, ""); !apperr.Is(err, apperr.CodeConflict) {
		t.Errorf("blocked->muted: got %v, want CONFLICT", err)
	}
}

func TestClose_TerminalAndIdempotent(t *testing.T) {
	db := storage.OpenTest(t)
	store := room.NewStore(db)
	ctx := context.Background()
	a, b := ids()

	r, err := store.Create(ctx, a, b, room.ContextHelp, "req-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := store.Close(ctx, r.ID, "system", "context expired"); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Idempotent: second close is a no-op.
	if err := store.Close(ctx, r.ID, "system", "context expired"); err != nil {
		t.Fatalf("second close should be a no-op: %v", err)
	}

	r, err = store.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if r.Status != room.StatusClosed || r.ClosedAt == nil {
		t.Errorf("room should be closed: %+v", r)
	}

	// No transitions out of closed.
	if _, err := store.Transition(ctx, r.ID, a, room.StatusActive, ""); !apperr.Is(err, apperr.CodeConflict) {
		t.Errorf("closed->active: got %v, want CONFLICT", err)
	}
}

func TestReportedRevert(t *testing.T) {
	db := storage.OpenTest(t)
	store := room.NewStore(db)
	ctx := context.Background()
	a, b := ids()

	r, err := store.Create(ctx, a, b, room.ContextBusiness, "listing-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Mute first so the revert has a non-active prior status to restore.
	if _, err := store.Transition(ctx, r.ID, a, room.StatusMuted, ""); err != nil {
		t.Fatalf("mute: %v", err)
	}
	if _, err := store.Transition(ctx, r.ID, b, room.StatusReported, "reported"); err != nil {
		t.Fatalf("report: %v", err)
	}

	r, err = store.RevertReported(ctx, r.ID)
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	if r.Status != room.StatusMuted {
		t.Errorf("revert should restore prior status muted, got %s", r.Status)
	}
	if r.PriorStatus != "" || r.ReportedAt != nil {
		t.Errorf("report fields should be cleared after revert: %+v", r)
	}
}

func TestRecordMessage_ConcurrentCountersDoNotDrift(t *testing.T) {
	db := storage.OpenTest(t)
	store := room.NewStore(db)
	ctx := context.Background()
	a, b := ids()

	r, err := store.Create(ctx, a, b, room.ContextGeneral, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const n = 16
	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx, err := db.BeginTx(ctx, nil)
			if err != nil {
				errCh <- err
				return
			}
			msgID := uuid.New().String()
			_, err = tx.ExecContext(ctx, `
				INSERT INTO chat_messages (id, room_id, sender_id, msg_type, content)
				VALUES ($1, $2, $3, 'text', $4)`, msgID, r.ID, a, fmt.Sprintf("msg %d", i))
			if err != nil {
				tx.Rollback()
				errCh <- err
				return
			}
			if err := store.RecordMessage(ctx, tx, r.ID, a, msgID); err != nil {
				tx.Rollback()
				errCh <- err
				return
			}
			errCh <- tx.Commit()
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			t.Fatalf("concurrent send: %v", err)
		}
	}

	r, err = store.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if r.MessageCount != n {
		t.Errorf("message_count = %d, want %d", r.MessageCount, n)
	}
	if got := r.UnreadFor(b); got != n {
		t.Errorf("recipient unread = %d, want %d", got, n)
	}
	if got := r.UnreadFor(a); got != 0 {
		t.Errorf("sender unread = %d, want 0", got)
	}

	if err := store.MarkRead(ctx, r.ID, b); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	r, _ = store.Get(ctx, r.ID)
	if got := r.UnreadFor(b); got != 0 {
		t.Errorf("unread after mark read = %d, want 0", got)
	}
}

func TestSoftDelete_CascadesAndFreesUniqueSlot(t *testing.T) {
	db := storage.OpenTest(t)
	store := room.NewStore(db)
	ctx := context.Background()
	a, b := ids()

	r, err := store.Create(ctx, a, b, room.ContextMarriage, "profile-9")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	msgID := uuid.New().String()
	if _, err := db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, room_id, sender_id, msg_type, content)
		VALUES ($1, $2, $3, 'text', 'hello')`, msgID, r.ID, a); err != nil {
		t.Fatalf("insert message: %v", err)
	}

	if err := store.SoftDelete(ctx, r.ID, "admin-1"); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	if _, err := store.Get(ctx, r.ID); !apperr.Is(err, apperr.CodeNotFound) {
		t.Errorf("deleted room should be NOT_FOUND, got %v", err)
	}

	var msgDeleted bool
	if err := db.QueryRowContext(ctx,
		`SELECT is_deleted FROM chat_messages WHERE id = $1`, msgID).Scan(&msgDeleted); err != nil {
		t.Fatalf("query message: %v", err)
	}
	if !msgDeleted {
		t.Error("room deletion should cascade to messages")
	}

	// The unique slot is freed: the pair can open a fresh room for the
	// same context.
	if _, err := store.Create(ctx, a, b, room.ContextMarriage, "profile-9"); err != nil {
		t.Errorf("create after soft delete: %v", err)
	}
}
