package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	appErrors "github.com/unclebandit/leaddrip-backend/internal/errors"
	"github.com/unclebandit/leaddrip-backend/internal/model"
)

type ConversationRepositoryInterface interface {
	Create(ctx context.Context, c *model.Conversation) error
	GetByID(ctx context.Context, id int64) (*model.Conversation, error)
	FindLatestByPhone(ctx context.Context, businessNumber, leadPhone string) (*model.Conversation, error)
	MarkNoResponse(ctx context.Context, id int64) error
	MarkEscalated(ctx context.Context, id int64) error
}

type ConversationRepository struct {
	DB *sql.DB
}

const conversationColumns = `id, tenant_id, agent_id, lead_phone, lead_name, lead_source, business_number, status,
    conversion_status, escalated, message_count, last_message_at, created_at`

func (r *ConversationRepository) Create(ctx context.Context, c *model.Conversation) error {
	c.CreatedAt = time.Now().UTC()
	if c.Status == "" {
		c.Status = model.ConversationActive
	}
	if c.ConversionStatus == "" {
		c.ConversionStatus = model.ConversionPending
	}
	query := `
        INSERT INTO conversations (tenant_id, agent_id, lead_phone, lead_name, lead_source, business_number, status, conversion_status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx, query,
		c.TenantID, c.AgentID, c.LeadPhone, c.LeadName, c.LeadSource, c.BusinessNumber, c.Status, c.ConversionStatus, c.CreatedAt,
	).Scan(&c.ID)
}

func (r *ConversationRepository) GetByID(ctx context.Context, id int64) (*model.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id=$1`
	c, err := scanConversation(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewConversationNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

// FindLatestByPhone returns the most recent conversation between a business
// number and a lead.
func (r *ConversationRepository) FindLatestByPhone(ctx context.Context, businessNumber, leadPhone string) (*model.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations
        WHERE business_number=$1 AND lead_phone=$2
        ORDER BY created_at DESC, id DESC
        LIMIT 1`
	c, err := scanConversation(r.DB.QueryRowContext(ctx, query, businessNumber, leadPhone))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewConversationNotFoundForPhone(leadPhone)
		}
		return nil, err
	}
	return c, nil
}

func (r *ConversationRepository) MarkNoResponse(ctx context.Context, id int64) error {
	query := `UPDATE conversations SET conversion_status=$1, status=$2 WHERE id=$3`
	_, err := r.DB.ExecContext(ctx, query, model.ConversionNoResponse, model.ConversationEnded, id)
	return err
}

func (r *ConversationRepository) MarkEscalated(ctx context.Context, id int64) error {
	query := `UPDATE conversations SET escalated=TRUE, status=$1 WHERE id=$2`
	_, err := r.DB.ExecContext(ctx, query, model.ConversationEscalated, id)
	return err
}

func scanConversation(row rowScanner) (*model.Conversation, error) {
	var c model.Conversation
	err := row.Scan(
		&c.ID, &c.TenantID, &c.AgentID, &c.LeadPhone, &c.LeadName, &c.LeadSource, &c.BusinessNumber, &c.Status,
		&c.ConversionStatus, &c.Escalated, &c.MessageCount, &c.LastMessageAt, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

var _ ConversationRepositoryInterface = (*ConversationRepository)(nil)
