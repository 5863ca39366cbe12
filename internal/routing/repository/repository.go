// Package repository implements the routing stores on PostgreSQL via pgx.
// Structured sub-documents (skills, territories, sub-scores, ...) live in
// jsonb columns; counters that change under concurrency (workload) are plain
// columns mutated with atomic UPDATEs.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"leadrouter_backend/internal/routing/domain"
	"leadrouter_backend/platform/apperr"
)

// Repository is the single pgx-backed implementation of every routing store
// interface. One type keeps transactions available across concerns.
type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ---------------------------------------------------------------------------
// leads

const leadColumns = `
	id, organization_id, company_name, company_size, industry, country, region,
	source, quality_score, intent_score, fit_score, priority, status,
	estimated_value, products, use_cases, language, tags, metadata,
	created_at, updated_at`

func (r *Repository) GetLead(ctx context.Context, orgID, leadID uuid.UUID) (domain.Lead, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE id = $1 AND organization_id = $2`, leadID, orgID)
	return scanLead(row)
}

func (r *Repository) UpdateLeadStatus(ctx context.Context, orgID, leadID uuid.UUID, status domain.LeadStatus) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads SET status = $3, updated_at = now()
		WHERE id = $1 AND organization_id = $2`, leadID, orgID, status)
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "updating lead status", err).WithOp("repository.UpdateLeadStatus")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("lead not found")
	}
	return nil
}

// CreateLead inserts a lead. Used by the intake endpoint and by tests.
func (r *Repository) CreateLead(ctx context.Context, l domain.Lead) error {
	metadata, err := json.Marshal(orEmptyMap(l.Metadata))
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "encoding lead metadata", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO leads (`+leadColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		l.ID, l.OrganizationID, l.CompanyName, l.CompanySize, l.Industry, l.Country, l.Region,
		l.Source, l.QualityScore, l.IntentScore, l.FitScore, l.Priority, l.Status,
		l.EstimatedValue, l.Products, l.UseCases, l.Language, l.Tags, metadata,
		l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "inserting lead", err).WithOp("repository.CreateLead")
	}
	return nil
}

func scanLead(row pgx.Row) (domain.Lead, error) {
	var l domain.Lead
	var metadata []byte
	err := row.Scan(
		&l.ID, &l.OrganizationID, &l.CompanyName, &l.CompanySize, &l.Industry, &l.Country, &l.Region,
		&l.Source, &l.QualityScore, &l.IntentScore, &l.FitScore, &l.Priority, &l.Status,
		&l.EstimatedValue, &l.Products, &l.UseCases, &l.Language, &l.Tags, &metadata,
		&l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Lead{}, apperr.NotFound("lead not found")
	}
	if err != nil {
		return domain.Lead{}, apperr.Wrap(apperr.KindUnavailable, "scanning lead", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &l.Metadata); err != nil {
			return domain.Lead{}, apperr.Wrap(apperr.KindInternal, "decoding lead metadata", err)
		}
	}
	return l, nil
}

// ---------------------------------------------------------------------------
// sales reps

const repColumns = `
	id, organization_id, team_id, name, email, tier, overall_score,
	skills, max_active_leads, max_new_leads_per_day, max_new_leads_per_week,
	max_pipeline_value, custom_capacity_rules,
	active_leads, leads_assigned_today, leads_assigned_this_week, pipeline_value,
	last_assignment_day,
	specializations, territories, is_available, status, preferences,
	created_at, updated_at`

func (r *Repository) GetRep(ctx context.Context, orgID, repID uuid.UUID) (domain.SalesRep, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+repColumns+`
		FROM sales_reps
		WHERE id = $1 AND organization_id = $2`, repID, orgID)
	return scanRep(row)
}

func (r *Repository) ListReps(ctx context.Context, orgID uuid.UUID) ([]domain.SalesRep, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+repColumns+`
		FROM sales_reps
		WHERE organization_id = $1
		ORDER BY id`, orgID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "listing reps", err).WithOp("repository.ListReps")
	}
	defer rows.Close()

	var reps []domain.SalesRep
	for rows.Next() {
		rep, err := scanRep(rows)
		if err != nil {
			return nil, err
		}
		reps = append(reps, rep)
	}
	return reps, rows.Err()
}

// ApplyAssignment atomically bumps the rep's workload counters on commit.
// This is the capacity tracker's Committer. The daily and weekly counters
// roll over against last_assignment_day: a stale counter restarts at 1
// instead of accumulating across days or weeks.
func (r *Repository) ApplyAssignment(ctx context.Context, orgID, repID uuid.UUID, estimatedValue float64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sales_reps
		SET active_leads = active_leads + 1,
		    leads_assigned_today = CASE
		        WHEN last_assignment_day = CURRENT_DATE THEN leads_assigned_today + 1
		        ELSE 1 END,
		    leads_assigned_this_week = CASE
		        WHEN date_trunc('week', last_assignment_day) = date_trunc('week', CURRENT_DATE) THEN leads_assigned_this_week + 1
		        ELSE 1 END,
		    last_assignment_day = CURRENT_DATE,
		    pipeline_value = pipeline_value + $3,
		    updated_at = now()
		WHERE id = $1 AND organization_id = $2`, repID, orgID, estimatedValue)
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "applying assignment workload", err).WithOp("repository.ApplyAssignment")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("rep not found")
	}
	return nil
}

func scanRep(row pgx.Row) (domain.SalesRep, error) {
	var rep domain.SalesRep
	var skills, customRules, specializations, territories, preferences []byte
	var lastAssignmentDay time.Time
	err := row.Scan(
		&rep.ID, &rep.OrganizationID, &rep.TeamID, &rep.Name, &rep.Email, &rep.Tier, &rep.OverallScore,
		&skills, &rep.Capacity.MaxActiveLeads, &rep.Capacity.MaxNewLeadsPerDay, &rep.Capacity.MaxNewLeadsPerWeek,
		&rep.Capacity.MaxPipelineValue, &customRules,
		&rep.Workload.ActiveLeads, &rep.Workload.LeadsAssignedToday, &rep.Workload.LeadsAssignedThisWeek, &rep.Workload.PipelineValue,
		&lastAssignmentDay,
		&specializations, &territories, &rep.IsAvailable, &rep.Status, &preferences,
		&rep.CreatedAt, &rep.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SalesRep{}, apperr.NotFound("rep not found")
	}
	if err != nil {
		return domain.SalesRep{}, apperr.Wrap(apperr.KindUnavailable, "scanning rep", err)
	}
	rep.Workload = rep.Workload.RolledOver(lastAssignmentDay, time.Now().UTC())

	for _, field := range []struct {
		raw  []byte
		dest any
	}{
		{skills, &rep.Skills},
		{customRules, &rep.Capacity.CustomRules},
		{specializations, &rep.Specializations},
		{territories, &rep.Territories},
		{preferences, &rep.Preferences},
	} {
		if len(field.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(field.raw, field.dest); err != nil {
			return domain.SalesRep{}, apperr.Wrap(apperr.KindInternal, "decoding rep document", err)
		}
	}
	return rep, nil
}

// ---------------------------------------------------------------------------
// routing configuration

func (r *Repository) GetConfiguration(ctx context.Context, orgID uuid.UUID) (domain.RoutingConfiguration, error) {
	var raw []byte
	var updatedAt time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT config, updated_at
		FROM routing_configurations
		WHERE organization_id = $1`, orgID).Scan(&raw, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DefaultRoutingConfiguration(orgID), nil
	}
	if err != nil {
		return domain.RoutingConfiguration{}, apperr.Wrap(apperr.KindUnavailable, "loading configuration", err).WithOp("repository.GetConfiguration")
	}

	cfg := domain.DefaultRoutingConfiguration(orgID)
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return domain.RoutingConfiguration{}, apperr.Wrap(apperr.KindInternal, "decoding configuration", err)
	}
	cfg.OrganizationID = orgID
	cfg.UpdatedAt = updatedAt
	return cfg.Sanitize(), nil
}

// UpsertConfiguration stores the organization's routing configuration as one
// versioned document.
func (r *Repository) UpsertConfiguration(ctx context.Context, cfg domain.RoutingConfiguration) (domain.RoutingConfiguration, error) {
	cfg = cfg.Sanitize()
	raw, err := json.Marshal(cfg)
	if err != nil {
		return domain.RoutingConfiguration{}, apperr.Wrap(apperr.KindInternal, "encoding configuration", err)
	}

	err = r.pool.QueryRow(ctx, `
		INSERT INTO routing_configurations (organization_id, config, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (organization_id)
		DO UPDATE SET config = EXCLUDED.config, updated_at = now()
		RETURNING updated_at`, cfg.OrganizationID, raw).Scan(&cfg.UpdatedAt)
	if err != nil {
		return domain.RoutingConfiguration{}, apperr.Wrap(apperr.KindUnavailable, "storing configuration", err).WithOp("repository.UpsertConfiguration")
	}
	return cfg, nil
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// notFound converts pgx.ErrNoRows into the domain's not-found error.
func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(fmt.Sprintf("%s not found", what))
	}
	return err
}
