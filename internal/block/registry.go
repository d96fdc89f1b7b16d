package block

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	apperr "github.com/milaap/platform/pkg/errors"
)

// Registry manages block records. The partial unique index on active
// (blocker_id, blocked_id) pairs makes Block race-free: concurrent
// duplicates fail on the constraint instead of producing two active rows.
type Registry struct {
	db    *sql.DB
	cache *Cache // optional; nil disables caching
}

// NewRegistry creates a Registry. cache may be nil, in which case every
// CanMessage query hits PostgreSQL.
func NewRegistry(db *sql.DB, cache *Cache) *Registry {
	return &Registry{db: db, cache: cache}
}

// BlockParams describes a block to place.
type BlockParams struct {
	BlockerID   string
	BlockedID   string
	Reason      string
	Origin      Origin
	AdminID     string     // required for admin/automatic origins
	IsPermanent bool       // default policy is permanent
	ExpiresAt   *time.Time // required when not permanent
}

// Block places a directed block. Blocking yourself is INVALID_ARGUMENT; an
// existing active block for the ordered pair is CONFLICT (we surface the
// duplicate rather than silently returning the existing record, so callers
// can distinguish "placed" from "was already in place").
func (r *Registry) Block(ctx context.Context, p BlockParams) (*UserBlock, error) {
	if p.BlockerID == "" || p.BlockedID == "" {
		return nil, apperr.Invalid("blocker and blocked ids are required")
	}
	if p.BlockerID == p.BlockedID {
		return nil, apperr.Invalid("you cannot block yourself")
	}
	if p.Origin == "" {
		p.Origin = OriginManual
	}
	if !p.Origin.Valid() {
		return nil, apperr.Invalid("unknown block origin")
	}
	if !p.IsPermanent && p.ExpiresAt == nil {
		return nil, apperr.Invalid("temporary blocks require an expiry")
	}

	id := uuid.New().String()
	const query = `
		INSERT INTO user_blocks (id, blocker_id, blocked_id, reason, block_type,
			blocked_by_admin, is_permanent, expires_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), $7, $8)
		RETURNING created_at`

	var createdAt time.Time
	err := r.db.QueryRowContext(ctx, query,
		id, p.BlockerID, p.BlockedID, p.Reason, string(p.Origin),
		p.AdminID, p.IsPermanent, p.ExpiresAt,
	).Scan(&createdAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Conflict("an active block already exists for this pair")
		}
		return nil, apperr.Dependency("block: insert", err)
	}

	r.invalidate(ctx, p.BlockerID, p.BlockedID)

	return &UserBlock{
		ID:          id,
		BlockerID:   p.BlockerID,
		BlockedID:   p.BlockedID,
		Reason:      p.Reason,
		Origin:      p.Origin,
		AdminID:     p.AdminID,
		IsPermanent: p.IsPermanent,
		ExpiresAt:   p.ExpiresAt,
		IsActive:    true,
		CreatedAt:   createdAt,
	}, nil
}

// Unblock deactivates a block, recording who lifted it. Unblocking an
// already inactive block is CONFLICT; a missing id is NOT_FOUND.
func (r *Registry) Unblock(ctx context.Context, blockID, actorID string) error {
	const query = `
		UPDATE user_blocks
		SET is_active = FALSE, unblocked_by = $2, unblocked_at = NOW()
		WHERE id = $1 AND is_active
		RETURNING blocker_id, blocked_id`

	var blocker, blocked string
	err := r.db.QueryRowContext(ctx, query, blockID, actorID).Scan(&blocker, &blocked)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		checkErr := r.db.QueryRowContext(ctx,
			`SELECT TRUE FROM user_blocks WHERE id = $1`, blockID).Scan(&exists)
		if errors.Is(checkErr, sql.ErrNoRows) {
			return apperr.NotFound("block not found")
		}
		if checkErr != nil {
			return apperr.Dependency("block: unblock check", checkErr)
		}
		return apperr.Conflict("block is already inactive")
	}
	if err != nil {
		return apperr.Dependency("block: unblock", err)
	}

	r.invalidate(ctx, blocker, blocked)
	return nil
}

// Get returns a block by id, or NOT_FOUND.
func (r *Registry) Get(ctx context.Context, blockID string) (*UserBlock, error) {
	const query = `
		SELECT id, blocker_id, blocked_id, COALESCE(reason, ''), block_type,
			COALESCE(blocked_by_admin, ''), is_permanent, expires_at,
			is_active, COALESCE(unblocked_by, ''), unblocked_at, created_at
		FROM user_blocks WHERE id = $1`

	var (
		b                      UserBlock
		origin                 string
		expiresAt, unblockedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, blockID).Scan(
		&b.ID, &b.BlockerID, &b.BlockedID, &b.Reason, &origin,
		&b.AdminID, &b.IsPermanent, &expiresAt,
		&b.IsActive, &b.UnblockedBy, &unblockedAt, &b.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("block not found")
	}
	if err != nil {
		return nil, apperr.Dependency("block: get", err)
	}
	b.Origin = Origin(origin)
	if expiresAt.Valid {
		t := expiresAt.Time
		b.ExpiresAt = &t
	}
	if unblockedAt.Valid {
		t := unblockedAt.Time
		b.UnblockedAt = &t
	}
	return &b, nil
}

// IsBlocked reports whether an active, non-expired block from fromID to
// toID exists. Expiry is applied lazily: a temporary block past its expiry
// is deactivated here (conditional update, so concurrent readers deactivate
// it once) before the answer is computed.
func (r *Registry) IsBlocked(ctx context.Context, fromID, toID string) (bool, error) {
	const expire = `
		UPDATE user_blocks
		SET is_active = FALSE, unblocked_by = 'system', unblocked_at = NOW()
		WHERE blocker_id = $1 AND blocked_id = $2 AND is_active
		  AND NOT is_permanent AND expires_at IS NOT NULL AND expires_at <= NOW()`
	if _, err := r.db.ExecContext(ctx, expire, fromID, toID); err != nil {
		return false, apperr.Dependency("block: lazy expire", err)
	}

	const query = `
		SELECT EXISTS (
			SELECT 1 FROM user_blocks
			WHERE blocker_id = $1 AND blocked_id = $2 AND is_active
		)`
	var blocked bool
	if err := r.db.QueryRowContext(ctx, query, fromID, toID).Scan(&blocked); err != nil {
		return false, apperr.Dependency("block: is blocked", err)
	}
	return blocked, nil
}

// CanMessage reports whether sender may message recipient: true iff neither
// direction is actively blocked. The Redis cache answers repeat queries for
// cacheTTL; block/unblock invalidate the affected pair immediately.
func (r *Registry) CanMessage(ctx context.Context, senderID, recipientID string) (bool, error) {
	if r.cache != nil {
		if allowed, ok := r.cache.Lookup(ctx, senderID, recipientID); ok {
			return allowed, nil
		}
	}

	out, err := r.IsBlocked(ctx, senderID, recipientID)
	if err != nil {
		return false, err
	}
	in, err := r.IsBlocked(ctx, recipientID, senderID)
	if err != nil {
		return false, err
	}
	allowed := !out && !in

	if r.cache != nil {
		r.cache.Store(ctx, senderID, recipientID, allowed)
	}
	return allowed, nil
}

// SweepExpired deactivates up to batch temporary blocks past their expiry.
// The transition is conditional on is_active, so concurrent sweeps apply it
// once. Returns the number of blocks deactivated.
func (r *Registry) SweepExpired(ctx context.Context, now time.Time, batch int) (int, error) {
	const query = `
		UPDATE user_blocks
		SET is_active = FALSE, unblocked_by = 'system', unblocked_at = NOW()
		WHERE id IN (
			SELECT id FROM user_blocks
			WHERE is_active AND NOT is_permanent
			  AND expires_at IS NOT NULL AND expires_at <= $1
			LIMIT $2
		) AND is_active
		RETURNING blocker_id, blocked_id`

	rows, err := r.db.QueryContext(ctx, query, now, batch)
	if err != nil {
		return 0, apperr.Dependency("block: sweep expired", err)
	}
	defer rows.Close()

	swept := 0
	for rows.Next() {
		var blocker, blocked string
		if err := rows.Scan(&blocker, &blocked); err != nil {
			return swept, apperr.Dependency("block: sweep scan", err)
		}
		r.invalidate(ctx, blocker, blocked)
		swept++
	}
	return swept, rows.Err()
}

// LiftAutomaticAgainst deactivates every active automatic block placed
// against userID. Used when an appeal against an automatic escalation is
// overturned. Returns the number of blocks lifted.
func (r *Registry) LiftAutomaticAgainst(ctx context.Context, userID, actorID string) (int, error) {
	const query = `
		UPDATE user_blocks
		SET is_active = FALSE, unblocked_by = $2, unblocked_at = NOW()
		WHERE blocked_id = $1 AND is_active AND block_type = 'automatic'
		RETURNING blocker_id, blocked_id`

	rows, err := r.db.QueryContext(ctx, query, userID, actorID)
	if err != nil {
		return 0, apperr.Dependency("block: lift automatic", err)
	}
	defer rows.Close()

	lifted := 0
	for rows.Next() {
		var blocker, blocked string
		if err := rows.Scan(&blocker, &blocked); err != nil {
			return lifted, apperr.Dependency("block: lift scan", err)
		}
		r.invalidate(ctx, blocker, blocked)
		lifted++
	}
	return lifted, rows.Err()
}

func (r *Registry) invalidate(ctx context.Context, a, b string) {
	if r.cache != nil {
		r.cache.Invalidate(ctx, a, b)
	}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
