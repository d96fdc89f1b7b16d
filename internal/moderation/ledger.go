package moderation

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/milaap/platform/internal/messaging"
	"github.com/milaap/platform/internal/metrics"
	apperr "github.com/milaap/platform/pkg/errors"
)

// IntentPublisher publishes moderation intents for the moderator worker.
// Implemented by messaging.Client.
type IntentPublisher interface {
	PublishModerationIntent(intent messaging.ModerationIntent) error
}

// Config carries ledger tunables.
type Config struct {
	// AppealWindow is how long after an action the affected user may file
	// an appeal.
	AppealWindow time.Duration

	// Policy drives automatic escalation on strike accumulation.
	Policy Policy
}

// DefaultConfig returns the production ledger configuration.
func DefaultConfig() Config {
	return Config{
		AppealWindow: 7 * 24 * time.Hour,
		Policy:       DefaultPolicy(),
	}
}

// Ledger is the append-only record of moderation actions. Strike counting
// is serialized per affected user with a transaction-scoped advisory lock,
// so concurrent actions against the same user can never produce duplicate
// or skipped strike totals.
type Ledger struct {
	db     *sql.DB
	events IntentPublisher // may be nil
	cfg    Config
}

// NewLedger creates a ledger over db. events may be nil, in which case
// escalation and reversal intents are logged and dropped.
func NewLedger(db *sql.DB, events IntentPublisher, cfg Config) *Ledger {
	return &Ledger{db: db, events: events, cfg: cfg}
}

// ActionParams describes one moderation action to record.
type ActionParams struct {
	AdminID    string
	TargetType TargetType
	TargetID   string
	Action     Action
	Reason     string

	// AffectedUserID is the user the action counts against. Required for
	// strike-accruing actions on rooms; derived automatically for message
	// and user targets when empty.
	AffectedUserID string

	DurationMinutes int
	Notes           string
	RelatedReportID string
	AppealAllowed   bool
}

const logColumns = `id, admin_id, target_type, target_id, action, reason,
	duration_minutes, notes, related_report_id, affected_user_id, user_strike_count,
	appeal_allowed, appeal_deadline, appealed_at, appeal_decision, appeal_reviewer,
	appeal_decided_at, created_at`

// RecordAction appends a ledger entry. For strike-accruing actions it
// computes the affected user's new strike total inside the same transaction
// and, when the total crosses the policy threshold, publishes an auto-block
// intent after commit.
func (l *Ledger) RecordAction(ctx context.Context, p ActionParams) (*Log, error) {
	if p.AdminID == "" || p.TargetID == "" {
		return nil, apperr.Invalid("admin and target are required")
	}
	if !p.TargetType.Valid() {
		return nil, apperr.Invalid(fmt.Sprintf("unknown target type %q", p.TargetType))
	}
	if !p.Action.Valid() || p.Action == ActionNone {
		return nil, apperr.Invalid(fmt.Sprintf("unknown action %q", p.Action))
	}
	if p.Reason == "" {
		return nil, apperr.Invalid("reason is required")
	}

	affected := p.AffectedUserID
	if affected == "" && p.TargetType == TargetUser {
		affected = p.TargetID
	}
	if affected == "" && p.Action.AccruesStrike() {
		if p.TargetType != TargetMessage {
			return nil, apperr.Invalid("affected user is required for this action")
		}
		var err error
		affected, err = l.messageSender(ctx, p.TargetID)
		if err != nil {
			return nil, err
		}
	}

	entry := &Log{
		ID:              uuid.New().String(),
		AdminID:         p.AdminID,
		TargetType:      p.TargetType,
		TargetID:        p.TargetID,
		Action:          p.Action,
		Reason:          p.Reason,
		DurationMinutes: p.DurationMinutes,
		Notes:           p.Notes,
		RelatedReportID: p.RelatedReportID,
		AffectedUserID:  affected,
		AppealAllowed:   p.AppealAllowed,
	}
	if p.AppealAllowed {
		deadline := time.Now().Add(l.cfg.AppealWindow)
		entry.AppealDeadline = &deadline
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Dependency("moderation: begin record", err)
	}
	defer tx.Rollback()

	if p.Action.AccruesStrike() {
		// Serialize strike counting per user for the duration of the
		// transaction. hashtext folds the user id into the bigint lock space.
		if _, err := tx.ExecContext(ctx,
			`SELECT pg_advisory_xact_lock(hashtext($1))`, affected); err != nil {
			return nil, apperr.Dependency("moderation: acquire strike lock", err)
		}
		var prior int
		err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM moderation_logs
			WHERE affected_user_id = $1 AND user_strike_count > 0`,
			affected).Scan(&prior)
		if err != nil {
			return nil, apperr.Dependency("moderation: count strikes", err)
		}
		entry.UserStrikeCount = prior + 1
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO moderation_logs (id, admin_id, target_type, target_id, action,
			reason, duration_minutes, notes, related_report_id, affected_user_id,
			user_strike_count, appeal_allowed, appeal_deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, '')::uuid,
			NULLIF($10, ''), $11, $12, $13)
		RETURNING created_at`,
		entry.ID, entry.AdminID, entry.TargetType, entry.TargetID, entry.Action,
		entry.Reason, entry.DurationMinutes, entry.Notes, entry.RelatedReportID,
		entry.AffectedUserID, entry.UserStrikeCount, entry.AppealAllowed,
		entry.AppealDeadline).Scan(&entry.CreatedAt)
	if err != nil {
		return nil, apperr.Dependency("moderation: insert log", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Dependency("moderation: commit record", err)
	}

	metrics.ModerationActionsTotal.WithLabelValues(string(p.TargetType)).Inc()
	if entry.UserStrikeCount > 0 {
		metrics.StrikesTotal.Inc()
	}

	if intent := l.cfg.Policy.Evaluate(entry); intent != nil {
		l.publish(*intent)
	}
	return entry, nil
}

// FileAppeal registers the affected user's appeal against a ledger entry.
// Appeals are rejected after the deadline, on entries that do not allow
// them, and on entries already appealed.
func (l *Ledger) FileAppeal(ctx context.Context, logID, userID, appealText string) error {
	entry, err := l.Get(ctx, logID)
	if err != nil {
		return err
	}
	if entry.AffectedUserID != userID {
		return apperr.Forbidden("only the affected user may appeal")
	}
	if !entry.AppealAllowed {
		return apperr.Conflict("this action cannot be appealed")
	}
	if entry.AppealedAt != nil {
		return apperr.Conflict("action already appealed")
	}
	if entry.AppealDeadline == nil || time.Now().After(*entry.AppealDeadline) {
		return apperr.Conflict("appeal window has closed")
	}

	res, err := l.db.ExecContext(ctx, `
		UPDATE moderation_logs
		SET appealed_at = NOW(), notes = COALESCE(notes || E'\n', '') || $2
		WHERE id = $1 AND appeal_allowed AND appealed_at IS NULL
		  AND appeal_deadline >= NOW()`,
		logID, "appeal: "+appealText)
	if err != nil {
		return apperr.Dependency("moderation: file appeal", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Lost a race with another appeal or with the deadline.
		return apperr.Conflict("appeal window has closed")
	}
	return nil
}

// DecideAppeal records the terminal outcome of a filed appeal. An
// overturned decision publishes the reversal intent matching the original
// action; the ledger entry itself is never rewritten.
func (l *Ledger) DecideAppeal(ctx context.Context, logID, reviewerID string, decision AppealDecision) error {
	if decision != AppealUpheld && decision != AppealOverturned {
		return apperr.Invalid(fmt.Sprintf("unknown appeal decision %q", decision))
	}

	entry, err := l.Get(ctx, logID)
	if err != nil {
		return err
	}
	if entry.AppealedAt == nil {
		return apperr.Conflict("no appeal filed")
	}
	if entry.AppealDecision != "" {
		return apperr.Conflict("appeal already decided")
	}

	res, err := l.db.ExecContext(ctx, `
		UPDATE moderation_logs
		SET appeal_decision = $2, appeal_reviewer = $3, appeal_decided_at = NOW()
		WHERE id = $1 AND appealed_at IS NOT NULL AND appeal_decision IS NULL`,
		logID, decision, reviewerID)
	if err != nil {
		return apperr.Dependency("moderation: decide appeal", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Conflict("appeal already decided")
	}

	if decision == AppealOverturned {
		if intent := reversalIntent(entry); intent != nil {
			l.publish(*intent)
		}
	}
	return nil
}

// reversalIntent maps an overturned action to the intent that undoes it.
// Returns nil for actions with nothing to reverse.
func reversalIntent(entry *Log) *messaging.ModerationIntent {
	switch entry.Action {
	case ActionUserBan, ActionUserSuspend:
		return &messaging.ModerationIntent{
			Kind:   messaging.IntentUnblock,
			LogID:  entry.ID,
			UserID: entry.AffectedUserID,
			Reason: "appeal overturned",
		}
	case ActionRoomMute:
		return &messaging.ModerationIntent{
			Kind:   messaging.IntentUnmute,
			LogID:  entry.ID,
			RoomID: entry.TargetID,
			Reason: "appeal overturned",
		}
	case ActionRoomClose:
		// Closed is terminal; the worker logs and drops this.
		return &messaging.ModerationIntent{
			Kind:   messaging.IntentReopen,
			LogID:  entry.ID,
			RoomID: entry.TargetID,
			Reason: "appeal overturned",
		}
	}
	return nil
}

// Get returns one ledger entry.
func (l *Ledger) Get(ctx context.Context, logID string) (*Log, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT `+logColumns+` FROM moderation_logs WHERE id = $1`, logID)
	entry, err := scanLog(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("moderation log entry not found")
	}
	if err != nil {
		return nil, apperr.Dependency("moderation: get log", err)
	}
	return entry, nil
}

// StrikeHistory returns the strike-accruing entries against userID, newest
// first.
func (l *Ledger) StrikeHistory(ctx context.Context, userID string) ([]*Log, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT `+logColumns+` FROM moderation_logs
		WHERE affected_user_id = $1 AND user_strike_count > 0
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, apperr.Dependency("moderation: strike history", err)
	}
	defer rows.Close()

	var entries []*Log
	for rows.Next() {
		entry, err := scanLog(rows)
		if err != nil {
			return nil, apperr.Dependency("moderation: scan log", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// StrikeCount returns userID's current strike total.
func (l *Ledger) StrikeCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM moderation_logs
		WHERE affected_user_id = $1 AND user_strike_count > 0`, userID).Scan(&count)
	if err != nil {
		return 0, apperr.Dependency("moderation: strike count", err)
	}
	return count, nil
}

func (l *Ledger) messageSender(ctx context.Context, messageID string) (string, error) {
	var sender string
	err := l.db.QueryRowContext(ctx,
		`SELECT sender_id FROM chat_messages WHERE id = $1`, messageID).Scan(&sender)
	if err == sql.ErrNoRows {
		return "", apperr.NotFound("message not found")
	}
	if err != nil {
		return "", apperr.Dependency("moderation: resolve message sender", err)
	}
	return sender, nil
}

func (l *Ledger) publish(intent messaging.ModerationIntent) {
	if l.events == nil {
		log.Printf("[moderation] no intent publisher, dropping %s intent for log %s", intent.Kind, intent.LogID)
		return
	}
	if err := l.events.PublishModerationIntent(intent); err != nil {
		log.Printf("[moderation] publish %s intent: %v", intent.Kind, err)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLog(row rowScanner) (*Log, error) {
	var (
		entry    Log
		duration sql.NullInt64
		notes    sql.NullString
		report   sql.NullString
		affected sql.NullString
		deadline sql.NullTime
		appealed sql.NullTime
		decision sql.NullString
		reviewer sql.NullString
		decided  sql.NullTime
	)
	err := row.Scan(&entry.ID, &entry.AdminID, &entry.TargetType, &entry.TargetID,
		&entry.Action, &entry.Reason, &duration, &notes, &report, &affected,
		&entry.UserStrikeCount, &entry.AppealAllowed, &deadline, &appealed,
		&decision, &reviewer, &decided, &entry.CreatedAt)
	if err != nil {
		return nil, err
	}
	entry.DurationMinutes = int(duration.Int64)
	entry.Notes = notes.String
	entry.RelatedReportID = report.String
	entry.AffectedUserID = affected.String
	entry.AppealDecision = AppealDecision(decision.String)
	entry.AppealReviewer = reviewer.String
	if deadline.Valid {
		entry.AppealDeadline = &deadline.Time
	}
	if appealed.Valid {
		entry.AppealedAt = &appealed.Time
	}
	if decided.Valid {
		entry.AppealDecidedAt = &decided.Time
	}
	return &entry, nil
}
