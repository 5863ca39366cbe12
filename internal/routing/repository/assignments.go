package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"leadrouter_backend/internal/routing/domain"
	"leadrouter_backend/platform/apperr"
)

const assignmentColumns = `
	id, organization_id, lead_id, rep_id, method, strategy, matched_rule_ids,
	score, sub_scores, confidence, reason, alternatives, status,
	assigned_at, expires_at, first_contact_at, qualified_at, converted_at,
	previous_rep_id, reassignment_reason, reassignment_count`

// CreateAssignment appends a new assignment record. Records are never
// updated in place except for their status column.
func (r *Repository) CreateAssignment(ctx context.Context, a domain.LeadAssignment) error {
	subScores, err := json.Marshal(a.SubScores)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "encoding sub-scores", err)
	}
	alternatives, err := json.Marshal(a.Alternatives)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "encoding alternatives", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO lead_assignments (`+assignmentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		a.ID, a.OrganizationID, a.LeadID, a.RepID, a.Method, a.Strategy, a.MatchedRuleIDs,
		a.Score, subScores, a.Confidence, a.Reason, alternatives, a.Status,
		a.AssignedAt, a.ExpiresAt, a.FirstContactAt, a.QualifiedAt, a.ConvertedAt,
		a.PreviousRepID, a.ReassignmentReason, a.ReassignmentCount)
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "inserting assignment", err).WithOp("repository.CreateAssignment")
	}
	return nil
}

func (r *Repository) GetAssignment(ctx context.Context, orgID, assignmentID uuid.UUID) (domain.LeadAssignment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+assignmentColumns+`
		FROM lead_assignments
		WHERE id = $1 AND organization_id = $2`, assignmentID, orgID)
	return scanAssignment(row)
}

func (r *Repository) GetCurrentAssignment(ctx context.Context, orgID, leadID uuid.UUID) (domain.LeadAssignment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+assignmentColumns+`
		FROM lead_assignments
		WHERE lead_id = $1 AND organization_id = $2
		  AND status IN ('pending', 'active')
		ORDER BY assigned_at DESC
		LIMIT 1`, leadID, orgID)
	return scanAssignment(row)
}

// ListAssignmentsForLead returns the lead's full assignment lineage, newest
// first.
func (r *Repository) ListAssignmentsForLead(ctx context.Context, orgID, leadID uuid.UUID) ([]domain.LeadAssignment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+assignmentColumns+`
		FROM lead_assignments
		WHERE lead_id = $1 AND organization_id = $2
		ORDER BY assigned_at DESC`, leadID, orgID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "listing assignments", err).WithOp("repository.ListAssignmentsForLead")
	}
	defer rows.Close()
	return collectAssignments(rows)
}

// Supersede moves a non-terminal assignment to the given status and releases
// the rep's workload for it. Runs in one transaction so the counter and the
// status never drift apart.
func (r *Repository) Supersede(ctx context.Context, orgID, assignmentID uuid.UUID, status domain.AssignmentStatus, reason string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "beginning transaction", err).WithOp("repository.Supersede")
	}
	defer tx.Rollback(ctx)

	var repID uuid.UUID
	var current domain.AssignmentStatus
	var estimatedValue float64
	err = tx.QueryRow(ctx, `
		SELECT a.rep_id, a.status, COALESCE(l.estimated_value, 0)
		FROM lead_assignments a
		JOIN leads l ON l.id = a.lead_id
		WHERE a.id = $1 AND a.organization_id = $2
		FOR UPDATE OF a`, assignmentID, orgID).Scan(&repID, &current, &estimatedValue)
	if err != nil {
		return notFound(err, "assignment")
	}
	if domain.IsTerminalAssignmentStatus(current) {
		return apperr.Conflict("assignment is already in a terminal state")
	}

	_, err = tx.Exec(ctx, `
		UPDATE lead_assignments
		SET status = $3, reassignment_reason = $4
		WHERE id = $1 AND organization_id = $2`, assignmentID, orgID, status, reason)
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "superseding assignment", err).WithOp("repository.Supersede")
	}

	// The lead is off the rep's plate: give the active slot back. Pending
	// assignments held a slot too (reserved at commit time).
	_, err = tx.Exec(ctx, `
		UPDATE sales_reps
		SET active_leads = GREATEST(active_leads - 1, 0),
		    pipeline_value = GREATEST(pipeline_value - $3, 0),
		    updated_at = now()
		WHERE id = $1 AND organization_id = $2`, repID, orgID, estimatedValue)
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "releasing workload", err).WithOp("repository.Supersede")
	}

	return tx.Commit(ctx)
}

func (r *Repository) UpdateStatus(ctx context.Context, orgID, assignmentID uuid.UUID, status domain.AssignmentStatus) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE lead_assignments
		SET status = $3
		WHERE id = $1 AND organization_id = $2`, assignmentID, orgID, status)
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "updating assignment status", err).WithOp("repository.UpdateStatus")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("assignment not found")
	}
	return nil
}

func (r *Repository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.LeadAssignment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+assignmentColumns+`
		FROM lead_assignments
		WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "listing expired assignments", err).WithOp("repository.ListExpiredPending")
	}
	defer rows.Close()
	return collectAssignments(rows)
}

func (r *Repository) ListUncontacted(ctx context.Context, now time.Time, limit int) ([]domain.LeadAssignment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+assignmentColumns+`
		FROM lead_assignments
		WHERE status = 'active' AND first_contact_at IS NULL AND assigned_at < $1
		ORDER BY assigned_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "listing uncontacted assignments", err).WithOp("repository.ListUncontacted")
	}
	defer rows.Close()
	return collectAssignments(rows)
}

func collectAssignments(rows pgx.Rows) ([]domain.LeadAssignment, error) {
	var out []domain.LeadAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAssignment(row pgx.Row) (domain.LeadAssignment, error) {
	var a domain.LeadAssignment
	var subScores, alternatives []byte
	err := row.Scan(
		&a.ID, &a.OrganizationID, &a.LeadID, &a.RepID, &a.Method, &a.Strategy, &a.MatchedRuleIDs,
		&a.Score, &subScores, &a.Confidence, &a.Reason, &alternatives, &a.Status,
		&a.AssignedAt, &a.ExpiresAt, &a.FirstContactAt, &a.QualifiedAt, &a.ConvertedAt,
		&a.PreviousRepID, &a.ReassignmentReason, &a.ReassignmentCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.LeadAssignment{}, apperr.NotFound("assignment not found")
	}
	if err != nil {
		return domain.LeadAssignment{}, apperr.Wrap(apperr.KindUnavailable, "scanning assignment", err)
	}
	if len(subScores) > 0 {
		if err := json.Unmarshal(subScores, &a.SubScores); err != nil {
			return domain.LeadAssignment{}, apperr.Wrap(apperr.KindInternal, "decoding sub-scores", err)
		}
	}
	if len(alternatives) > 0 {
		if err := json.Unmarshal(alternatives, &a.Alternatives); err != nil {
			return domain.LeadAssignment{}, apperr.Wrap(apperr.KindInternal, "decoding alternatives", err)
		}
	}
	return a, nil
}

// ---------------------------------------------------------------------------
// routing queue

func (r *Repository) Enqueue(ctx context.Context, q domain.QueuedLead) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO routing_queue (id, organization_id, lead_id, queue, priority, reason, enqueued_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (lead_id) DO UPDATE
		SET queue = EXCLUDED.queue, priority = EXCLUDED.priority,
		    reason = EXCLUDED.reason, enqueued_at = EXCLUDED.enqueued_at`,
		q.ID, q.OrganizationID, q.LeadID, q.Queue, q.Priority, q.Reason, q.EnqueuedAt)
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "enqueueing lead", err).WithOp("repository.Enqueue")
	}
	return nil
}

func (r *Repository) Dequeue(ctx context.Context, orgID, leadID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM routing_queue
		WHERE lead_id = $1 AND organization_id = $2`, leadID, orgID)
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "dequeueing lead", err).WithOp("repository.Dequeue")
	}
	return nil
}

func (r *Repository) Depth(ctx context.Context, orgID uuid.UUID) (int, error) {
	var depth int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM routing_queue WHERE organization_id = $1`, orgID).Scan(&depth)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindUnavailable, "reading queue depth", err).WithOp("repository.Depth")
	}
	return depth, nil
}

// ListQueue returns queued leads, highest priority first, oldest first within
// a priority.
func (r *Repository) ListQueue(ctx context.Context, orgID uuid.UUID, limit int) ([]domain.QueuedLead, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, organization_id, lead_id, queue, priority, reason, enqueued_at
		FROM routing_queue
		WHERE organization_id = $1
		ORDER BY priority DESC, enqueued_at
		LIMIT $2`, orgID, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "listing queue", err).WithOp("repository.ListQueue")
	}
	defer rows.Close()

	var out []domain.QueuedLead
	for rows.Next() {
		var q domain.QueuedLead
		if err := rows.Scan(&q.ID, &q.OrganizationID, &q.LeadID, &q.Queue, &q.Priority, &q.Reason, &q.EnqueuedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindUnavailable, "scanning queued lead", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// ListQueuedBefore returns leads queued earlier than the cutoff, for the
// scheduler's escalation sweep.
func (r *Repository) ListQueuedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.QueuedLead, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, organization_id, lead_id, queue, priority, reason, enqueued_at
		FROM routing_queue
		WHERE enqueued_at < $1
		ORDER BY enqueued_at
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "listing aged queue entries", err).WithOp("repository.ListQueuedBefore")
	}
	defer rows.Close()

	var out []domain.QueuedLead
	for rows.Next() {
		var q domain.QueuedLead
		if err := rows.Scan(&q.ID, &q.OrganizationID, &q.LeadID, &q.Queue, &q.Priority, &q.Reason, &q.EnqueuedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindUnavailable, "scanning queued lead", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// analytics

// Analytics is the aggregate routing picture for one organization.
type Analytics struct {
	TotalAssignments   int            `json:"totalAssignments"`
	ActiveAssignments  int            `json:"activeAssignments"`
	PendingAssignments int            `json:"pendingAssignments"`
	QueuedLeads        int            `json:"queuedLeads"`
	AverageScore       float64        `json:"averageScore"`
	AverageConfidence  float64        `json:"averageConfidence"`
	Reassignments      int            `json:"reassignments"`
	ByStrategy         map[string]int `json:"byStrategy"`
	ByMethod           map[string]int `json:"byMethod"`
}

func (r *Repository) GetAnalytics(ctx context.Context, orgID uuid.UUID, since time.Time) (Analytics, error) {
	a := Analytics{ByStrategy: map[string]int{}, ByMethod: map[string]int{}}

	err := r.pool.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE status = 'active'),
		       count(*) FILTER (WHERE status = 'pending'),
		       COALESCE(avg(score), 0),
		       COALESCE(avg(confidence), 0),
		       count(*) FILTER (WHERE reassignment_count > 0)
		FROM lead_assignments
		WHERE organization_id = $1 AND assigned_at >= $2`, orgID, since).
		Scan(&a.TotalAssignments, &a.ActiveAssignments, &a.PendingAssignments,
			&a.AverageScore, &a.AverageConfidence, &a.Reassignments)
	if err != nil {
		return Analytics{}, apperr.Wrap(apperr.KindUnavailable, "aggregating assignments", err).WithOp("repository.GetAnalytics")
	}

	rows, err := r.pool.Query(ctx, `
		SELECT strategy, method, count(*)
		FROM lead_assignments
		WHERE organization_id = $1 AND assigned_at >= $2
		GROUP BY strategy, method`, orgID, since)
	if err != nil {
		return Analytics{}, apperr.Wrap(apperr.KindUnavailable, "aggregating by strategy", err).WithOp("repository.GetAnalytics")
	}
	defer rows.Close()

	for rows.Next() {
		var strategy, method string
		var n int
		if err := rows.Scan(&strategy, &method, &n); err != nil {
			return Analytics{}, apperr.Wrap(apperr.KindUnavailable, "scanning aggregate", err)
		}
		a.ByStrategy[strategy] += n
		a.ByMethod[method] += n
	}
	if err := rows.Err(); err != nil {
		return Analytics{}, apperr.Wrap(apperr.KindUnavailable, "aggregating assignments", err)
	}

	depth, err := r.Depth(ctx, orgID)
	if err != nil {
		return Analytics{}, err
	}
	a.QueuedLeads = depth
	return a, nil
}
