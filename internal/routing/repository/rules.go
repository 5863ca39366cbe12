package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"leadrouter_backend/internal/routing/domain"
	"leadrouter_backend/platform/apperr"
)

const ruleColumns = `
	id, organization_id, name, type, priority, enabled, conditions, actions,
	created_at, updated_at`

// ListRules returns the organization's rules ordered by priority. The engine
// filters disabled rules itself; the handler wants them all.
func (r *Repository) ListRules(ctx context.Context, orgID uuid.UUID) ([]domain.RoutingRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM routing_rules
		WHERE organization_id = $1
		ORDER BY priority, created_at`, orgID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "listing rules", err).WithOp("repository.ListRules")
	}
	defer rows.Close()

	var rules []domain.RoutingRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *Repository) GetRule(ctx context.Context, orgID, ruleID uuid.UUID) (domain.RoutingRule, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+ruleColumns+`
		FROM routing_rules
		WHERE id = $1 AND organization_id = $2`, ruleID, orgID)
	return scanRule(row)
}

func (r *Repository) CreateRule(ctx context.Context, rule domain.RoutingRule) error {
	conditions, actions, err := encodeRule(rule)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO routing_rules (`+ruleColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		rule.ID, rule.OrganizationID, rule.Name, rule.Type, rule.Priority, rule.Enabled,
		conditions, actions, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "inserting rule", err).WithOp("repository.CreateRule")
	}
	return nil
}

func (r *Repository) UpdateRule(ctx context.Context, rule domain.RoutingRule) error {
	conditions, actions, err := encodeRule(rule)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE routing_rules
		SET name = $3, type = $4, priority = $5, enabled = $6,
		    conditions = $7, actions = $8, updated_at = now()
		WHERE id = $1 AND organization_id = $2`,
		rule.ID, rule.OrganizationID, rule.Name, rule.Type, rule.Priority, rule.Enabled,
		conditions, actions)
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "updating rule", err).WithOp("repository.UpdateRule")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("rule not found")
	}
	return nil
}

func (r *Repository) DeleteRule(ctx context.Context, orgID, ruleID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM routing_rules
		WHERE id = $1 AND organization_id = $2`, ruleID, orgID)
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "deleting rule", err).WithOp("repository.DeleteRule")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("rule not found")
	}
	return nil
}

func encodeRule(rule domain.RoutingRule) ([]byte, []byte, error) {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindInternal, "encoding rule conditions", err)
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindInternal, "encoding rule actions", err)
	}
	return conditions, actions, nil
}

func scanRule(row pgx.Row) (domain.RoutingRule, error) {
	var rule domain.RoutingRule
	var conditions, actions []byte
	err := row.Scan(
		&rule.ID, &rule.OrganizationID, &rule.Name, &rule.Type, &rule.Priority, &rule.Enabled,
		&conditions, &actions, &rule.CreatedAt, &rule.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RoutingRule{}, apperr.NotFound("rule not found")
	}
	if err != nil {
		return domain.RoutingRule{}, apperr.Wrap(apperr.KindUnavailable, "scanning rule", err)
	}
	if err := json.Unmarshal(conditions, &rule.Conditions); err != nil {
		return domain.RoutingRule{}, apperr.Wrap(apperr.KindInternal, "decoding rule conditions", err)
	}
	if err := json.Unmarshal(actions, &rule.Actions); err != nil {
		return domain.RoutingRule{}, apperr.Wrap(apperr.KindInternal, "decoding rule actions", err)
	}
	return rule, nil
}
