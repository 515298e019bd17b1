package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/leaddrip-backend/internal/errors"
	"github.com/unclebandit/leaddrip-backend/internal/model"
)

// uniqueViolation is the Postgres SQLSTATE raised by enrollments_open_uniq.
const uniqueViolation = "23505"

// EnrollmentRepositoryInterface is the enrollment store the engine works
// against. Claim and Finalize are conditional updates: they report false when
// the row was no longer in the expected state.
type EnrollmentRepositoryInterface interface {
	Create(ctx context.Context, e *model.Enrollment) error
	GetDue(ctx context.Context, now time.Time, limit int) ([]*model.DueEnrollment, error)
	Claim(ctx context.Context, id int64, now time.Time) (bool, error)
	Finalize(ctx context.Context, id int64, patch model.EnrollmentPatch) (bool, error)
	PauseActiveByConversation(ctx context.Context, conversationID int64) ([]int64, error)
	ReleaseStaleClaims(ctx context.Context, cutoff time.Time) (int, error)
	HasOpenEnrollment(ctx context.Context, campaignID int64, leadPhone string) (bool, error)
	ListByConversation(ctx context.Context, conversationID int64) ([]*model.Enrollment, error)
}

type EnrollmentRepository struct {
	DB *sql.DB
}

const enrollmentColumns = `e.id, e.tenant_id, e.campaign_id, e.conversation_id, e.lead_phone, e.lead_name, e.lead_source,
    e.current_step_order, e.status, e.next_message_at, e.completed_at, e.claimed_at, e.last_error, e.metadata,
    e.created_at, e.updated_at`

func (r *EnrollmentRepository) Create(ctx context.Context, e *model.Enrollment) error {
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	meta, err := marshalMetadata(e.Metadata)
	if err != nil {
		return err
	}
	query := `
        INSERT INTO enrollments
        (tenant_id, campaign_id, conversation_id, lead_phone, lead_name, lead_source, current_step_order,
         status, next_message_at, claimed_at, metadata, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
        RETURNING id
    `
	err = r.DB.QueryRowContext(ctx, query,
		e.TenantID, e.CampaignID, e.ConversationID, e.LeadPhone, e.LeadName, e.LeadSource, e.CurrentStepOrder,
		e.Status, e.NextMessageAt, e.ClaimedAt, meta, e.CreatedAt, e.UpdatedAt,
	).Scan(&e.ID)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return appErrors.ErrAlreadyEnrolled
	}
	return err
}

// GetDue lists active enrollments whose next_message_at is at or before now,
// oldest first.
func (r *EnrollmentRepository) GetDue(ctx context.Context, now time.Time, limit int) ([]*model.DueEnrollment, error) {
	query := `
        SELECT ` + enrollmentColumns + `, c.name, v.agent_id, v.business_number
        FROM enrollments e
        JOIN campaigns c ON c.id = e.campaign_id
        JOIN conversations v ON v.id = e.conversation_id
        WHERE e.status = 'active' AND e.next_message_at IS NOT NULL AND e.next_message_at <= $1
        ORDER BY e.next_message_at, e.id
        LIMIT $2
    `
	rows, err := r.DB.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []*model.DueEnrollment
	for rows.Next() {
		d := &model.DueEnrollment{}
		var meta []byte
		if err := rows.Scan(
			&d.ID, &d.TenantID, &d.CampaignID, &d.ConversationID, &d.LeadPhone, &d.LeadName, &d.LeadSource,
			&d.CurrentStepOrder, &d.Status, &d.NextMessageAt, &d.CompletedAt, &d.ClaimedAt, &d.LastError, &meta,
			&d.CreatedAt, &d.UpdatedAt, &d.CampaignName, &d.AgentID, &d.BusinessNumber,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(meta, &d.Metadata); err != nil {
			return nil, err
		}
		due = append(due, d)
	}
	return due, rows.Err()
}

// Claim moves a due enrollment to processing. Exactly one concurrent caller
// wins; the others get false.
func (r *EnrollmentRepository) Claim(ctx context.Context, id int64, now time.Time) (bool, error) {
	query := `
        UPDATE enrollments
        SET status='processing', claimed_at=$2, updated_at=$2
        WHERE id=$1 AND status='active' AND next_message_at IS NOT NULL AND next_message_at <= $2
    `
	res, err := r.DB.ExecContext(ctx, query, id, now)
	if err != nil {
		return false, err
	}
	return oneRowAffected(res)
}

// Finalize writes the post-processing state of a claimed enrollment. It does
// nothing when a reply paused the enrollment in the meantime.
func (r *EnrollmentRepository) Finalize(ctx context.Context, id int64, patch model.EnrollmentPatch) (bool, error) {
	query := `
        UPDATE enrollments
        SET status=$2, current_step_order=$3, next_message_at=$4, completed_at=$5, last_error=$6,
            claimed_at=NULL, updated_at=NOW()
        WHERE id=$1 AND status='processing'
    `
	res, err := r.DB.ExecContext(ctx, query, id, patch.Status, patch.CurrentStepOrder, patch.NextMessageAt, patch.CompletedAt, patch.LastError)
	if err != nil {
		return false, err
	}
	return oneRowAffected(res)
}

func (r *EnrollmentRepository) PauseActiveByConversation(ctx context.Context, conversationID int64) ([]int64, error) {
	query := `
        UPDATE enrollments
        SET status='paused_by_reply', next_message_at=NULL, claimed_at=NULL, updated_at=NOW()
        WHERE conversation_id=$1 AND status IN ('active', 'processing')
        RETURNING id
    `
	rows, err := r.DB.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReleaseStaleClaims hands enrollments stuck in processing since before cutoff
// back to the sweep. Rows claimed at intake have no next_message_at, so they
// become due at their claim time.
func (r *EnrollmentRepository) ReleaseStaleClaims(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
        UPDATE enrollments
        SET status='active', next_message_at=COALESCE(next_message_at, claimed_at), claimed_at=NULL, updated_at=NOW()
        WHERE status='processing' AND claimed_at < $1
    `
	res, err := r.DB.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *EnrollmentRepository) HasOpenEnrollment(ctx context.Context, campaignID int64, leadPhone string) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM enrollments
            WHERE campaign_id=$1 AND lead_phone=$2 AND status = ANY($3)
        )`, campaignID, leadPhone, pq.Array([]string{string(model.EnrollmentActive), string(model.EnrollmentProcessing)}),
	).Scan(&exists)
	return exists, err
}

func (r *EnrollmentRepository) ListByConversation(ctx context.Context, conversationID int64) ([]*model.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments e WHERE e.conversation_id=$1 ORDER BY e.id`
	rows, err := r.DB.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	enrollments := []*model.Enrollment{}
	for rows.Next() {
		e := &model.Enrollment{}
		var meta []byte
		if err := rows.Scan(
			&e.ID, &e.TenantID, &e.CampaignID, &e.ConversationID, &e.LeadPhone, &e.LeadName, &e.LeadSource,
			&e.CurrentStepOrder, &e.Status, &e.NextMessageAt, &e.CompletedAt, &e.ClaimedAt, &e.LastError, &meta,
			&e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, err
		}
		enrollments = append(enrollments, e)
	}
	return enrollments, rows.Err()
}

func oneRowAffected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func marshalMetadata(meta map[string]string) ([]byte, error) {
	if meta == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(meta)
}

var _ EnrollmentRepositoryInterface = (*EnrollmentRepository)(nil)
