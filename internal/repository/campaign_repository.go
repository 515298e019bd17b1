package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/leaddrip-backend/internal/errors"
	"github.com/unclebandit/leaddrip-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	// Campaign CRUD
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id int64) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, tenantID int64, offset, limit int, active *bool) ([]*model.Campaign, int, error)

	// Enrollment lookups
	GetMatchingCampaigns(ctx context.Context, tenantID int64, leadSource string) ([]*model.Campaign, error)
	GetStep(ctx context.Context, campaignID int64, order int) (*model.Step, error)
	ListSteps(ctx context.Context, campaignID int64) ([]model.Step, error)
	GetEnrollmentStats(ctx context.Context, campaignID int64) (map[string]int, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, tenant_id, name, active, lead_sources, created_at, updated_at`

const stepColumns = `id, campaign_id, step_order, COALESCE(delay_days, 0), COALESCE(delay_hours, 0),
    COALESCE(delay_minutes, 0), message_template, created_at`

// ====================== Campaign CRUD ======================

// Create inserts the campaign and its steps in one transaction.
func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	c.CreatedAt = time.Now().UTC()
	if c.LeadSources == nil {
		c.LeadSources = []string{}
	}
	query := `
        INSERT INTO campaigns (tenant_id, name, active, lead_sources, created_at)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id
    `
	if err := tx.QueryRowContext(ctx, query, c.TenantID, c.Name, c.Active, pq.Array(c.LeadSources), c.CreatedAt).Scan(&c.ID); err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}

	stepQuery := `
        INSERT INTO campaign_steps (campaign_id, step_order, delay_days, delay_hours, delay_minutes, message_template, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id
    `
	for i := range c.Steps {
		s := &c.Steps[i]
		s.CampaignID = c.ID
		s.CreatedAt = c.CreatedAt
		if err := tx.QueryRowContext(ctx, stepQuery, s.CampaignID, s.StepOrder, s.DelayDays, s.DelayHours, s.DelayMinutes, s.MessageTemplate, s.CreatedAt).Scan(&s.ID); err != nil {
			return fmt.Errorf("insert step %d: %w", s.StepOrder, err)
		}
	}
	return tx.Commit()
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int64) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	steps, err := r.ListSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Steps = steps
	return c, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, tenantID int64, offset, limit int, active *bool) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	where := ` WHERE tenant_id=$1`
	args := []interface{}{tenantID}
	if active != nil {
		where += ` AND active=$2`
		args = append(args, *active)
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns` + where +
		fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)

	rows, err := r.DB.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	// Count total
	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	return campaigns, total, nil
}

// ====================== Enrollment lookups ======================

// GetMatchingCampaigns returns the tenant's active campaigns whose lead_sources
// contain leadSource. A campaign with no sources matches nothing.
func (r *CampaignRepository) GetMatchingCampaigns(ctx context.Context, tenantID int64, leadSource string) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns
        WHERE tenant_id=$1 AND active AND $2 = ANY(lead_sources)
        ORDER BY id`
	rows, err := r.DB.QueryContext(ctx, query, tenantID, leadSource)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var campaigns []*model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// GetStep returns nil, nil when the campaign has no step at order.
func (r *CampaignRepository) GetStep(ctx context.Context, campaignID int64, order int) (*model.Step, error) {
	query := `SELECT ` + stepColumns + ` FROM campaign_steps WHERE campaign_id=$1 AND step_order=$2`
	var s model.Step
	err := r.DB.QueryRowContext(ctx, query, campaignID, order).Scan(
		&s.ID, &s.CampaignID, &s.StepOrder, &s.DelayDays, &s.DelayHours, &s.DelayMinutes, &s.MessageTemplate, &s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *CampaignRepository) ListSteps(ctx context.Context, campaignID int64) ([]model.Step, error) {
	query := `SELECT ` + stepColumns + ` FROM campaign_steps WHERE campaign_id=$1 ORDER BY step_order`
	rows, err := r.DB.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	steps := []model.Step{}
	for rows.Next() {
		var s model.Step
		if err := rows.Scan(&s.ID, &s.CampaignID, &s.StepOrder, &s.DelayDays, &s.DelayHours, &s.DelayMinutes, &s.MessageTemplate, &s.CreatedAt); err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

func (r *CampaignRepository) GetEnrollmentStats(ctx context.Context, campaignID int64) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM enrollments WHERE campaign_id=$1 GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := NewEnrollmentStats()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
		stats["total"] += count
	}
	return stats, rows.Err()
}

// NewEnrollmentStats returns a stats map with every status present at zero.
func NewEnrollmentStats() map[string]int {
	stats := map[string]int{"total": 0}
	for _, status := range []model.EnrollmentStatus{
		model.EnrollmentActive,
		model.EnrollmentProcessing,
		model.EnrollmentPausedByReply,
		model.EnrollmentCompleted,
		model.EnrollmentError,
	} {
		stats[string(status)] = 0
	}
	return stats
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var c model.Campaign
	if err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.Active, pq.Array(&c.LeadSources), &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
