package repository

import (
	"context"
	"database/sql"
	"errors"

	appErrors "github.com/unclebandit/leaddrip-backend/internal/errors"
	"github.com/unclebandit/leaddrip-backend/internal/model"
)

// ProfileRepositoryInterface supplies the tenant and agent data that feeds
// template variables.
type ProfileRepositoryInterface interface {
	GetBusinessProfile(ctx context.Context, tenantID int64) (*model.BusinessProfile, error)
	// GetAgent returns nil, nil when the agent does not exist.
	GetAgent(ctx context.Context, agentID int64) (*model.Agent, error)
}

type ProfileRepository struct {
	DB *sql.DB
}

func (r *ProfileRepository) GetBusinessProfile(ctx context.Context, tenantID int64) (*model.BusinessProfile, error) {
	query := `
        SELECT tenant_id, business_name, service_category, sms_number, notify_phone
        FROM business_profiles
        WHERE tenant_id = $1
    `
	var p model.BusinessProfile
	err := r.DB.QueryRowContext(ctx, query, tenantID).Scan(&p.TenantID, &p.BusinessName, &p.ServiceCategory, &p.SMSNumber, &p.NotifyPhone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewProfileNotFound(tenantID)
		}
		return nil, err
	}
	return &p, nil
}

func (r *ProfileRepository) GetAgent(ctx context.Context, agentID int64) (*model.Agent, error) {
	var a model.Agent
	err := r.DB.QueryRowContext(ctx, `SELECT id, tenant_id, name FROM agents WHERE id = $1`, agentID).Scan(&a.ID, &a.TenantID, &a.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // not found
		}
		return nil, err
	}
	return &a, nil
}

var _ ProfileRepositoryInterface = (*ProfileRepository)(nil)
