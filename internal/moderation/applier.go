package moderation

import (
	"context"
	"log"
	"time"

	"github.com/milaap/platform/internal/block"
	"github.com/milaap/platform/internal/messaging"
	"github.com/milaap/platform/internal/room"
	apperr "github.com/milaap/platform/pkg/errors"
)

// Applier executes moderation intents against the owning stores. It is the
// only consumer of the intent subject; everything it does goes through the
// stores' ordinary transitions, so a replayed or duplicated intent lands on
// a CONFLICT instead of corrupting state.
type Applier struct {
	rooms  *room.Store
	blocks *block.Registry
}

// NewApplier wires the applier.
func NewApplier(rooms *room.Store, blocks *block.Registry) *Applier {
	return &Applier{rooms: rooms, blocks: blocks}
}

// Apply executes one intent. Errors are returned for dependency failures
// only; intents that no longer apply (already closed, already lifted) are
// logged and absorbed.
func (a *Applier) Apply(ctx context.Context, intent messaging.ModerationIntent) error {
	switch intent.Kind {
	case messaging.IntentAutoBlock:
		return a.autoBlock(ctx, intent)
	case messaging.IntentUnblock:
		lifted, err := a.blocks.LiftAutomaticAgainst(ctx, intent.UserID, "system")
		if err != nil {
			return err
		}
		log.Printf("[applier] lifted %d automatic blocks against %s (log %s)", lifted, intent.UserID, intent.LogID)
		return nil
	case messaging.IntentUnmute:
		_, err := a.rooms.Transition(ctx, intent.RoomID, "system", room.StatusActive, "appeal overturned")
		if apperr.Is(err, apperr.CodeConflict) || apperr.Is(err, apperr.CodeNotFound) {
			log.Printf("[applier] unmute %s no longer applies: %v", intent.RoomID, err)
			return nil
		}
		return err
	case messaging.IntentCloseRoom:
		err := a.rooms.Close(ctx, intent.RoomID, "system", intent.Reason)
		if apperr.Is(err, apperr.CodeNotFound) {
			log.Printf("[applier] close %s no longer applies: %v", intent.RoomID, err)
			return nil
		}
		return err
	case messaging.IntentReopen:
		// Closed rooms are terminal. The overturned appeal stands on the
		// ledger; the conversation itself is not resurrected.
		log.Printf("[applier] reopen intent for room %s dropped: closed is terminal", intent.RoomID)
		return nil
	}
	log.Printf("[applier] unknown intent kind %q dropped", intent.Kind)
	return nil
}

// autoBlock is the strike-threshold consequence: every open room the
// offender participates in is closed, and the counterparty of each is
// protected with a temporary automatic block.
func (a *Applier) autoBlock(ctx context.Context, intent messaging.ModerationIntent) error {
	rooms, err := a.rooms.ListActiveForUser(ctx, intent.UserID)
	if err != nil {
		return err
	}

	var expires *time.Time
	if intent.Duration > 0 {
		t := time.Now().Add(time.Duration(intent.Duration) * time.Minute)
		expires = &t
	}

	for _, r := range rooms {
		if err := a.rooms.Close(ctx, r.ID, "system", intent.Reason); err != nil {
			log.Printf("[applier] auto-block: close room %s: %v", r.ID, err)
		}

		other := r.Other(intent.UserID)
		_, err := a.blocks.Block(ctx, block.BlockParams{
			BlockerID:   other,
			BlockedID:   intent.UserID,
			Reason:      intent.Reason,
			Origin:      block.OriginAutomatic,
			AdminID:     "system",
			IsPermanent: expires == nil,
			ExpiresAt:   expires,
		})
		if err != nil && !apperr.Is(err, apperr.CodeConflict) {
			log.Printf("[applier] auto-block: block %s -> %s: %v", other, intent.UserID, err)
		}
	}
	log.Printf("[applier] auto-block applied to %s across %d rooms (log %s)", intent.UserID, len(rooms), intent.LogID)
	return nil
}
