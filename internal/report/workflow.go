package report

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/milaap/platform/internal/message"
	"github.com/milaap/platform/internal/messaging"
	"github.com/milaap/platform/internal/metrics"
	"github.com/milaap/platform/internal/moderation"
	"github.com/milaap/platform/internal/ratelimit"
	"github.com/milaap/platform/internal/room"
	apperr "github.com/milaap/platform/pkg/errors"
)

// EventPublisher publishes report lifecycle events. Implemented by
// messaging.Client.
type EventPublisher interface {
	PublishReportFiled(ev messaging.ReportFiledEvent) error
}

// Workflow runs the report lifecycle: intake with an evidence snapshot,
// review transitions, and resolution into the moderation ledger.
type Workflow struct {
	db       *sql.DB
	rooms    *room.Store
	messages *message.Store
	ledger   *moderation.Ledger
	limiter  *ratelimit.Limiter // may be nil
	events   EventPublisher     // may be nil
}

// NewWorkflow wires the report workflow. limiter and events may be nil.
func NewWorkflow(db *sql.DB, rooms *room.Store, messages *message.Store, ledger *moderation.Ledger, limiter *ratelimit.Limiter, events EventPublisher) *Workflow {
	return &Workflow{
		db:       db,
		rooms:    rooms,
		messages: messages,
		ledger:   ledger,
		limiter:  limiter,
		events:   events,
	}
}

// FileParams describes one report to file. ReportedUserID is optional:
// in a 1-on-1 room the reported user is always the reporter's counterparty,
// so when set it only has to agree.
type FileParams struct {
	RoomID         string
	MessageID      string // optional
	ReporterID     string
	ReportedUserID string
	Type           Type
	Description    string
}

const reportColumns = `id, room_id, message_id, reporter_id, reported_user_id,
	report_type, description, evidence, status, reviewer_id, review_notes,
	action_taken, resolved_at, escalated_to_legal, escalation_notes, created_at`

// File creates a report against the other participant of the room. The
// reported user is always the reporter's counterparty; users cannot report
// themselves or rooms they are not in. Filing freezes an evidence snapshot
// of recent messages and parks the room in reported status.
func (w *Workflow) File(ctx context.Context, p FileParams) (*Report, error) {
	if !p.Type.Valid() {
		return nil, apperr.Invalid(fmt.Sprintf("unknown report type %q", p.Type))
	}
	if p.Description == "" {
		return nil, apperr.Invalid("description is required")
	}

	if p.ReportedUserID != "" && p.ReportedUserID == p.ReporterID {
		return nil, apperr.Invalid("you cannot report yourself")
	}

	r, err := w.rooms.Get(ctx, p.RoomID)
	if err != nil {
		return nil, err
	}
	if !r.IsParticipant(p.ReporterID) {
		return nil, apperr.Forbidden("reporter is not a participant of this room")
	}
	reported := r.Other(p.ReporterID)
	if p.ReportedUserID != "" && p.ReportedUserID != reported {
		return nil, apperr.Invalid("reported user is not the other participant of this room")
	}

	if w.limiter != nil {
		allowed, err := w.limiter.Allow(ctx, p.ReporterID, ratelimit.RuleReport)
		if err != nil {
			log.Printf("[report] rate limit check failed, allowing: %v", err)
		} else if !allowed {
			return nil, apperr.Conflict("report rate limit exceeded")
		}
	}

	if p.MessageID != "" {
		m, err := w.messages.Get(ctx, p.MessageID)
		if err != nil {
			return nil, err
		}
		if m.RoomID != p.RoomID {
			return nil, apperr.Invalid("reported message belongs to a different room")
		}
		if m.SenderID != reported {
			return nil, apperr.Invalid("reported message was not sent by the reported user")
		}
	}

	evidence, err := buildEvidence(ctx, w.messages, p.RoomID, p.MessageID)
	if err != nil {
		return nil, err
	}

	rpt := &Report{
		ID:             uuid.New().String(),
		RoomID:         p.RoomID,
		MessageID:      p.MessageID,
		ReporterID:     p.ReporterID,
		ReportedUserID: reported,
		Type:           p.Type,
		Description:    p.Description,
		Evidence:       evidence,
		Status:         StatusPending,
	}

	err = w.db.QueryRowContext(ctx, `
		INSERT INTO chat_reports (id, room_id, message_id, reporter_id,
			reported_user_id, report_type, description, evidence)
		VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		rpt.ID, rpt.RoomID, rpt.MessageID, rpt.ReporterID, rpt.ReportedUserID,
		rpt.Type, rpt.Description, rpt.Evidence).Scan(&rpt.CreatedAt)
	if err != nil {
		return nil, apperr.Dependency("report: insert", err)
	}

	if p.MessageID != "" {
		if err := w.messages.BumpReportCount(ctx, p.MessageID); err != nil {
			log.Printf("[report] bump report count for %s: %v", p.MessageID, err)
		}
	}

	// Park the room while the report is open. A room already reported or
	// closed stays put; losing a park race to a concurrent report is fine.
	if r.Status != room.StatusReported && r.Status != room.StatusClosed {
		if _, err := w.rooms.Transition(ctx, p.RoomID, p.ReporterID, room.StatusReported, "report filed"); err != nil && !apperr.Is(err, apperr.CodeConflict) {
			log.Printf("[report] park room %s: %v", p.RoomID, err)
		}
	}

	metrics.ReportsTotal.WithLabelValues("filed").Inc()
	metrics.PendingReports.Inc()
	if w.events != nil {
		err := w.events.PublishReportFiled(messaging.ReportFiledEvent{
			ReportID:       rpt.ID,
			RoomID:         rpt.RoomID,
			ReportedUserID: rpt.ReportedUserID,
			ReportType:     string(rpt.Type),
		})
		if err != nil {
			log.Printf("[report] publish filed event: %v", err)
		}
	}
	return rpt, nil
}

// Get returns one report.
func (w *Workflow) Get(ctx context.Context, reportID string) (*Report, error) {
	row := w.db.QueryRowContext(ctx,
		`SELECT `+reportColumns+` FROM chat_reports WHERE id = $1`, reportID)
	rpt, err := scanReport(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("report not found")
	}
	if err != nil {
		return nil, apperr.Dependency("report: get", err)
	}
	return rpt, nil
}

// Open returns up to limit open reports, oldest first, for the review queue.
func (w *Workflow) Open(ctx context.Context, limit int) ([]*Report, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT `+reportColumns+` FROM chat_reports
		WHERE status IN ('pending', 'investigating')
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, apperr.Dependency("report: list open", err)
	}
	defer rows.Close()

	var reports []*Report
	for rows.Next() {
		rpt, err := scanReport(rows)
		if err != nil {
			return nil, apperr.Dependency("report: scan", err)
		}
		reports = append(reports, rpt)
	}
	return reports, rows.Err()
}

// StartInvestigation claims a pending report for a reviewer.
func (w *Workflow) StartInvestigation(ctx context.Context, reportID, reviewerID string) error {
	res, err := w.db.ExecContext(ctx, `
		UPDATE chat_reports
		SET status = 'investigating', reviewer_id = $2
		WHERE id = $1 AND status = 'pending'`,
		reportID, reviewerID)
	if err != nil {
		return apperr.Dependency("report: start investigation", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := w.Get(ctx, reportID); err != nil {
			return err
		}
		return apperr.Conflict("report is not pending")
	}
	return nil
}

// ResolveParams describes the terminal decision on a report.
type ResolveParams struct {
	ReportID   string
	ReviewerID string
	Dismiss    bool
	// Action is the moderation action taken when the report is upheld.
	// Ignored on dismissal; ActionNone resolves without a ledger entry.
	Action moderation.Action
	Notes  string
}

// Resolve finishes a report. Upholding it with an action writes the
// matching moderation ledger entry; dismissing it releases the room from
// reported status once no other open report holds it. Final reports cannot
// be resolved again.
func (w *Workflow) Resolve(ctx context.Context, p ResolveParams) (*Report, error) {
	rpt, err := w.Get(ctx, p.ReportID)
	if err != nil {
		return nil, err
	}
	if rpt.Status.Final() {
		return nil, apperr.Conflict("report already finalized")
	}

	status := StatusResolved
	action := p.Action
	if p.Dismiss {
		status = StatusDismissed
		action = moderation.ActionNone
	} else if action == "" {
		action = moderation.ActionNone
	}

	res, err := w.db.ExecContext(ctx, `
		UPDATE chat_reports
		SET status = $2, reviewer_id = $3, review_notes = NULLIF($4, ''),
		    action_taken = $5, resolved_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'investigating')`,
		p.ReportID, status, p.ReviewerID, p.Notes, string(action))
	if err != nil {
		return nil, apperr.Dependency("report: resolve", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperr.Conflict("report already finalized")
	}

	metrics.ReportsTotal.WithLabelValues(string(status)).Inc()
	metrics.PendingReports.Dec()

	if status == StatusResolved && action != moderation.ActionNone {
		if err := w.recordResolution(ctx, rpt, p.ReviewerID, action, p.Notes); err != nil {
			// The report is final either way; the ledger entry can be
			// re-recorded by hand from the report row.
			log.Printf("[report] record resolution for %s: %v", p.ReportID, err)
		}
	}
	if status == StatusDismissed {
		if err := w.releaseRoom(ctx, rpt.RoomID); err != nil {
			log.Printf("[report] release room %s: %v", rpt.RoomID, err)
		}
	}
	return w.Get(ctx, p.ReportID)
}

// EscalateToLegal marks a report escalated outside platform moderation.
// Escalation does not finalize the report.
func (w *Workflow) EscalateToLegal(ctx context.Context, reportID, reviewerID, notes string) error {
	res, err := w.db.ExecContext(ctx, `
		UPDATE chat_reports
		SET escalated_to_legal = TRUE, escalation_notes = NULLIF($2, ''),
		    reviewer_id = COALESCE(reviewer_id, $3)
		WHERE id = $1`,
		reportID, notes, reviewerID)
	if err != nil {
		return apperr.Dependency("report: escalate", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("report not found")
	}
	return nil
}

func (w *Workflow) recordResolution(ctx context.Context, rpt *Report, reviewerID string, action moderation.Action, notes string) error {
	targetType := moderation.TargetUser
	targetID := rpt.ReportedUserID
	switch action {
	case moderation.ActionMessageFlag, moderation.ActionMessageDelete:
		if rpt.MessageID == "" {
			return apperr.Invalid("message action on a report without a message")
		}
		targetType = moderation.TargetMessage
		targetID = rpt.MessageID
	case moderation.ActionRoomMute, moderation.ActionRoomClose:
		targetType = moderation.TargetRoom
		targetID = rpt.RoomID
	}

	_, err := w.ledger.RecordAction(ctx, moderation.ActionParams{
		AdminID:         reviewerID,
		TargetType:      targetType,
		TargetID:        targetID,
		Action:          action,
		Reason:          fmt.Sprintf("report upheld: %s", rpt.Type),
		AffectedUserID:  rpt.ReportedUserID,
		Notes:           notes,
		RelatedReportID: rpt.ID,
		AppealAllowed:   true,
	})
	return err
}

// releaseRoom reverts the room out of reported status if no other open
// report still holds it.
func (w *Workflow) releaseRoom(ctx context.Context, roomID string) error {
	var open int
	err := w.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chat_reports
		WHERE room_id = $1 AND status IN ('pending', 'investigating')`,
		roomID).Scan(&open)
	if err != nil {
		return apperr.Dependency("report: count open for room", err)
	}
	if open > 0 {
		return nil
	}
	_, err = w.rooms.RevertReported(ctx, roomID)
	if apperr.Is(err, apperr.CodeConflict) || apperr.Is(err, apperr.CodeNotFound) {
		// Room moved on already (closed, or never parked).
		return nil
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*Report, error) {
	var (
		rpt                  Report
		messageID            sql.NullString
		reviewer, notes, act sql.NullString
		escalation           sql.NullString
		resolvedAt           sql.NullTime
	)
	err := row.Scan(&rpt.ID, &rpt.RoomID, &messageID, &rpt.ReporterID,
		&rpt.ReportedUserID, &rpt.Type, &rpt.Description, &rpt.Evidence,
		&rpt.Status, &reviewer, &notes, &act, &resolvedAt,
		&rpt.EscalatedToLegal, &escalation, &rpt.CreatedAt)
	if err != nil {
		return nil, err
	}
	rpt.MessageID = messageID.String
	rpt.ReviewerID = reviewer.String
	rpt.ReviewNotes = notes.String
	rpt.ActionTaken = act.String
	rpt.EscalationNotes = escalation.String
	if resolvedAt.Valid {
		rpt.ResolvedAt = &resolvedAt.Time
	}
	return &rpt, nil
}
