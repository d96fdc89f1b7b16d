package contextlink_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/milaap/platform/internal/contextlink"
	"github.com/milaap/platform/internal/room"
	"github.com/milaap/platform/internal/storage"
	apperr "github.com/milaap/platform/pkg/errors"
)

// fakeDirectory answers Exists/Active from fixed sets.
type fakeDirectory struct {
	missing  map[string]bool
	inactive map[string]bool
}

func (d *fakeDirectory) Exists(_ context.Context, _ room.ContextType, contextID string) (bool, error) {
	return !d.missing[contextID], nil
}

func (d *fakeDirectory) Active(_ context.Context, _ room.ContextType, contextID string) (bool, error) {
	return !d.inactive[contextID], nil
}

type fixture struct {
	rooms    *room.Store
	resolver *contextlink.Resolver
	dir      *fakeDirectory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storage.OpenTest(t)
	rooms := room.NewStore(db)
	dir := &fakeDirectory{missing: map[string]bool{}, inactive: map[string]bool{}}
	return &fixture{
		rooms:    rooms,
		resolver: contextlink.NewResolver(db, rooms, dir, nil),
		dir:      dir,
	}
}

func (f *fixture) room(t *testing.T) *room.Room {
	t.Helper()
	suffix := uuid.New().String()[:8]
	r, err := f.rooms.Create(context.Background(), "ctx_a_"+suffix, "ctx_b_"+suffix,
		room.ContextMarriage, uuid.New().String())
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	return r
}

func TestLink_DirectoryGates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.room(t)

	f.dir.missing["ghost"] = true
	if _, err := f.resolver.Link(ctx, contextlink.LinkParams{
		RoomID: r.ID, ContextType: room.ContextMarriage, ContextID: "ghost", InitiatedFrom: "profile",
	}); !apperr.Is(err, apperr.CodeNotFound) {
		t.Errorf("missing context: got %v, want NOT_FOUND", err)
	}

	f.dir.inactive["stale"] = true
	if _, err := f.resolver.Link(ctx, contextlink.LinkParams{
		RoomID: r.ID, ContextType: room.ContextMarriage, ContextID: "stale", InitiatedFrom: "profile",
	}); !apperr.Is(err, apperr.CodeConflict) {
		t.Errorf("inactive context: got %v, want CONFLICT", err)
	}
}

func TestLink_OneActivePerRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.room(t)

	l, err := f.resolver.Link(ctx, contextlink.LinkParams{
		RoomID: r.ID, ContextType: room.ContextMarriage, ContextID: "profile-1", InitiatedFrom: "profile",
	})
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if !l.IsActive || !l.Approved() {
		t.Errorf("unexpected link: %+v", l)
	}

	if _, err := f.resolver.Link(ctx, contextlink.LinkParams{
		RoomID: r.ID, ContextType: room.ContextMarriage, ContextID: "profile-2", InitiatedFrom: "profile",
	}); !apperr.Is(err, apperr.CodeConflict) {
		t.Errorf("second active link: got %v, want CONFLICT", err)
	}
}

func TestApprove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.room(t)

	l, err := f.resolver.Link(ctx, contextlink.LinkParams{
		RoomID: r.ID, ContextType: room.ContextMarriage, ContextID: "profile-1",
		InitiatedFrom: "search", RequiresApproval: true,
	})
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if l.Approved() {
		t.Error("gated link reported approved before approval")
	}

	got, err := f.resolver.Approve(ctx, l.ID, "guardian-1")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !got.Approved() || got.ApprovedBy != "guardian-1" {
		t.Errorf("approval not recorded: %+v", got)
	}

	if _, err := f.resolver.Approve(ctx, l.ID, "guardian-2"); !apperr.Is(err, apperr.CodeConflict) {
		t.Errorf("double approval: got %v, want CONFLICT", err)
	}

	ungated, err := f.resolver.Link(ctx, contextlink.LinkParams{
		RoomID: f.room(t).ID, ContextType: room.ContextMarriage, ContextID: "profile-3", InitiatedFrom: "profile",
	})
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if _, err := f.resolver.Approve(ctx, ungated.ID, "guardian-1"); !apperr.Is(err, apperr.CodeConflict) {
		t.Errorf("approving ungated link: got %v, want CONFLICT", err)
	}
}

func TestSweepExpired_ClosesRoomsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.room(t)

	past := time.Now().Add(-time.Hour)
	l, err := f.resolver.Link(ctx, contextlink.LinkParams{
		RoomID: r.ID, ContextType: room.ContextMarriage, ContextID: "profile-1",
		InitiatedFrom: "profile", ExpiresAt: &past,
	})
	if err != nil {
		t.Fatalf("link: %v", err)
	}

	closed, err := f.resolver.SweepExpired(ctx, time.Now(), 100)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	found := false
	for _, id := range closed {
		if id == r.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("sweep did not close room %s: %v", r.ID, closed)
	}

	got, err := f.rooms.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	if got.Status != room.StatusClosed || got.CloseReason != "context expired" {
		t.Errorf("room not closed by sweep: %+v", got)
	}
	link, _ := f.resolver.Get(ctx, l.ID)
	if link.IsActive {
		t.Error("expired link still active")
	}

	// A second sweep finds nothing for this link.
	again, err := f.resolver.SweepExpired(ctx, time.Now(), 100)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	for _, id := range again {
		if id == r.ID {
			t.Error("room swept twice")
		}
	}
}
