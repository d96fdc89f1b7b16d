package block_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/milaap/platform/internal/block"
	"github.com/milaap/platform/internal/storage"
	apperr "github.com/milaap/platform/pkg/errors"
)

func ids() (string, string) {
	suffix := uuid.New().String()[:8]
	return "blk_a_" + suffix, "blk_b_" + suffix
}

func TestBlock_SelfAndDuplicate(t *testing.T) {
	db := storage.OpenTest(t)
	reg := block.NewRegistry(db, nil)
	ctx := context.Background()
	a, b := ids()

	if _, err := reg.Block(ctx, block.BlockParams{BlockerID: a, BlockedID: a, IsPermanent: true}); !apperr.Is(err, apperr.CodeInvalidArgument) {
		t.Errorf("self block: got %v, want INVALID_ARGUMENT", err)
	}

	ub, err := reg.Block(ctx, block.BlockParams{BlockerID: a, BlockedID: b, Reason: "spam", IsPermanent: true})
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if ub.Origin != block.OriginManual || !ub.IsActive {
		t.Errorf("unexpected block record: %+v", ub)
	}

	if _, err := reg.Block(ctx, block.BlockParams{BlockerID: a, BlockedID: b, IsPermanent: true}); !apperr.Is(err, apperr.CodeConflict) {
		t.Errorf("duplicate block: got %v, want CONFLICT", err)
	}

	// The reverse direction is a distinct pair and must succeed.
	if _, err := reg.Block(ctx, block.BlockParams{BlockerID: b, BlockedID: a, IsPermanent: true}); err != nil {
		t.Errorf("reverse block: %v", err)
	}
}

func TestIsBlocked_Directionality(t *testing.T) {
	db := storage.OpenTest(t)
	reg := block.NewRegistry(db, nil)
	ctx := context.Background()
	a, b := ids()

	if _, err := reg.Block(ctx, block.BlockParams{BlockerID: a, BlockedID: b, IsPermanent: true}); err != nil {
		t.Fatalf("block: %v", err)
	}

	out, err := reg.IsBlocked(ctx, a, b)
	if err != nil || !out {
		t.Errorf("IsBlocked(blocker, blocked) = %v, %v; want true", out, err)
	}
	in, err := reg.IsBlocked(ctx, b, a)
	if err != nil || in {
		t.Errorf("IsBlocked(blocked, blocker) = %v, %v; want false", in, err)
	}

	// Messaging is rejected in both directions while any block is active.
	if allowed, _ := reg.CanMessage(ctx, a, b); allowed {
		t.Error("CanMessage(blocker -> blocked) should be false")
	}
	if allowed, _ := reg.CanMessage(ctx, b, a); allowed {
		t.Error("CanMessage(blocked -> blocker) should be false")
	}
}

func TestUnblock_RestoresMessaging(t *testing.T) {
	db := storage.OpenTest(t)
	reg := block.NewRegistry(db, nil)
	ctx := context.Background()
	a, b := ids()

	ub, err := reg.Block(ctx, block.BlockParams{BlockerID: a, BlockedID: b, IsPermanent: true})
	if err != nil {
		t.Fatalf("block: %v", err)
	}

	if err := reg.Unblock(ctx, ub.ID, a); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	if err := reg.Unblock(ctx, ub.ID, a); !apperr.Is(err, apperr.CodeConflict) {
		t.Errorf("double unblock: got %v, want CONFLICT", err)
	}
	if err := reg.Unblock(ctx, uuid.New().String(), a); !apperr.Is(err, apperr.CodeNotFound) {
		t.Errorf("unknown id: got %v, want NOT_FOUND", err)
	}

	if allowed, err := reg.CanMessage(ctx, b, a); err != nil || !allowed {
		t.Errorf("CanMessage after unblock = %v, %v; want true", allowed, err)
	}

	got, err := reg.Get(ctx, ub.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.IsActive || got.UnblockedBy != a || got.UnblockedAt == nil {
		t.Errorf("unblock metadata not recorded: %+v", got)
	}
}

func TestTemporaryBlock_LazyExpiry(t *testing.T) {
	db := storage.OpenTest(t)
	reg := block.NewRegistry(db, nil)
	ctx := context.Background()
	a, b := ids()

	past := time.Now().Add(-time.Minute)
	ub, err := reg.Block(ctx, block.BlockParams{
		BlockerID: a, BlockedID: b, IsPermanent: false, ExpiresAt: &past,
		Origin: block.OriginAutomatic, AdminID: "system",
	})
	if err != nil {
		t.Fatalf("block: %v", err)
	}

	// The expired block is deactivated on read.
	if blocked, _ := reg.IsBlocked(ctx, a, b); blocked {
		t.Error("expired block should not count as active")
	}
	got, _ := reg.Get(ctx, ub.ID)
	if got.IsActive {
		t.Error("expired block should have been deactivated lazily")
	}
}

func TestSweepExpired_Idempotent(t *testing.T) {
	db := storage.OpenTest(t)
	reg := block.NewRegistry(db, nil)
	ctx := context.Background()
	a, b := ids()

	past := time.Now().Add(-time.Hour)
	if _, err := reg.Block(ctx, block.BlockParams{
		BlockerID: a, BlockedID: b, IsPermanent: false, ExpiresAt: &past,
	}); err != nil {
		t.Fatalf("block: %v", err)
	}

	first, err := reg.SweepExpired(ctx, time.Now(), 100)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if first < 1 {
		t.Errorf("first sweep deactivated %d blocks, want >= 1", first)
	}

	// A second sweep finds nothing left for this pair.
	if blocked, _ := reg.IsBlocked(ctx, a, b); blocked {
		t.Error("swept block should be inactive")
	}
}
