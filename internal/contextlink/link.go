// Package contextlink binds chat rooms to the real-world context that
// justifies them (a matrimonial profile, a job post, a business listing, a
// help request). Links carry an optional approval gate and an expiry; when
// a link expires, the room it backs is closed.
//
// The owning context services are external collaborators: the core stores
// only the type tag and an opaque reference, and consults the
// ContextDirectory before linking.
package contextlink

import (
	"context"
	"time"

	"github.com/milaap/platform/internal/room"
)

// ContextDirectory is the collaborator interface to the services that own
// contexts. Failures are surfaced to callers as DEPENDENCY_UNAVAILABLE.
type ContextDirectory interface {
	// Exists reports whether the context is known to its owning service.
	Exists(ctx context.Context, contextType room.ContextType, contextID string) (bool, error)
	// Active reports whether the context is still live (not expired,
	// filled, or revoked by its owner).
	Active(ctx context.Context, contextType room.ContextType, contextID string) (bool, error)
}

// Link binds one room to one context. At most one active link exists per
// room.
type Link struct {
	ID               string
	RoomID           string
	ContextType      room.ContextType
	ContextID        string
	InitiatedFrom    string // which surface opened the chat (listing page, search, ...)
	RequiresApproval bool
	ApprovedBy       string
	ApprovedAt       *time.Time
	ExpiresAt        *time.Time
	IsActive         bool
	CreatedAt        time.Time
}

// Approved reports whether the approval gate has been passed (or was never
// required).
func (l *Link) Approved() bool {
	return !l.RequiresApproval || l.ApprovedAt != nil
}
