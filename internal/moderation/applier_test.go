package moderation_test

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/milaap/platform/internal/block"
	"github.com/milaap/platform/internal/messaging"
	"github.com/milaap/platform/internal/moderation"
	"github.com/milaap/platform/internal/room"
	"github.com/milaap/platform/internal/storage"
)

func TestApplier_AutoBlock(t *testing.T) {
	db := storage.OpenTest(t)
	rooms := room.NewStore(db)
	blocks := block.NewRegistry(db, nil)
	applier := moderation.NewApplier(rooms, blocks)
	ctx := context.Background()

	suffix := uuid.New().String()[:8]
	offender := "app_x_" + suffix
	victimA := "app_a_" + suffix
	victimB := "app_b_" + suffix

	r1, err := rooms.Create(ctx, offender, victimA, room.ContextJob, uuid.New().String())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	r2, err := rooms.Create(ctx, offender, victimB, room.ContextBusiness, uuid.New().String())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	intent := messaging.ModerationIntent{
		Kind:     messaging.IntentAutoBlock,
		LogID:    uuid.New().String(),
		UserID:   offender,
		Reason:   "reached 3 strikes",
		Duration: 60,
	}
	if err := applier.Apply(ctx, intent); err != nil {
		t.Fatalf("apply: %v", err)
	}

	for _, id := range []string{r1.ID, r2.ID} {
		got, err := rooms.Get(ctx, id)
		if err != nil {
			t.Fatalf("get room: %v", err)
		}
		if got.Status != room.StatusClosed {
			t.Errorf("room %s status = %s, want closed", id, got.Status)
		}
	}
	for _, victim := range []string{victimA, victimB} {
		blocked, err := blocks.IsBlocked(ctx, victim, offender)
		if err != nil || !blocked {
			t.Errorf("IsBlocked(%s, offender) = %v, %v; want true", victim, blocked, err)
		}
	}

	// Replaying the intent is harmless: rooms are already closed, blocks
	// already placed.
	if err := applier.Apply(ctx, intent); err != nil {
		t.Fatalf("replay: %v", err)
	}
}

func TestApplier_UnblockLiftsOnlyAutomaticBlocks(t *testing.T) {
	db := storage.OpenTest(t)
	rooms := room.NewStore(db)
	blocks := block.NewRegistry(db, nil)
	applier := moderation.NewApplier(rooms, blocks)
	ctx := context.Background()

	suffix := uuid.New().String()[:8]
	offender := "app_u_" + suffix
	auto := "app_v_" + suffix
	manual := "app_w_" + suffix

	if _, err := blocks.Block(ctx, block.BlockParams{
		BlockerID: auto, BlockedID: offender, Origin: block.OriginAutomatic,
		AdminID: "system", IsPermanent: true,
	}); err != nil {
		t.Fatalf("auto block: %v", err)
	}
	if _, err := blocks.Block(ctx, block.BlockParams{
		BlockerID: manual, BlockedID: offender, IsPermanent: true,
	}); err != nil {
		t.Fatalf("manual block: %v", err)
	}

	err := applier.Apply(ctx, messaging.ModerationIntent{
		Kind: messaging.IntentUnblock, LogID: uuid.New().String(), UserID: offender,
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	if blocked, _ := blocks.IsBlocked(ctx, auto, offender); blocked {
		t.Error("automatic block survived the reversal")
	}
	// A user's own manual block is never lifted by an appeal.
	if blocked, _ := blocks.IsBlocked(ctx, manual, offender); !blocked {
		t.Error("manual block was lifted by the reversal")
	}
}

func TestApplier_UnmuteAndReplay(t *testing.T) {
	db := storage.OpenTest(t)
	rooms := room.NewStore(db)
	applier := moderation.NewApplier(rooms, block.NewRegistry(db, nil))
	ctx := context.Background()

	suffix := uuid.New().String()[:8]
	r, err := rooms.Create(ctx, "app_m_"+suffix, "app_n_"+suffix, room.ContextHelp, uuid.New().String())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := rooms.Transition(ctx, r.ID, "admin-1", room.StatusMuted, "cooling off"); err != nil {
		t.Fatalf("mute: %v", err)
	}

	intent := messaging.ModerationIntent{
		Kind: messaging.IntentUnmute, LogID: uuid.New().String(), RoomID: r.ID,
	}
	if err := applier.Apply(ctx, intent); err != nil {
		t.Fatalf("apply: %v", err)
	}
	got, _ := rooms.Get(ctx, r.ID)
	if got.Status != room.StatusActive {
		t.Errorf("status = %s, want active", got.Status)
	}

	// Replay lands on a no-op transition, absorbed as already applied.
	if err := applier.Apply(ctx, intent); err != nil {
		t.Fatalf("replay: %v", err)
	}
}
