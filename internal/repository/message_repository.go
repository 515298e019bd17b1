package repository

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/unclebandit/leaddrip-backend/internal/model"
)

type MessageRepositoryInterface interface {
	RecordMessage(ctx context.Context, msg *model.Message) error
	CountBySender(ctx context.Context, conversationID int64, sender model.SenderType) (int, error)
	HasStepMessage(ctx context.Context, conversationID, enrollmentID int64, stepOrder int) (bool, error)
}

type MessageRepository struct {
	DB *sql.DB
}

// RecordMessage appends the message and bumps the conversation's counters in
// the same transaction.
func (r *MessageRepository) RecordMessage(ctx context.Context, msg *model.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	meta, err := marshalMetadata(msg.Metadata)
	if err != nil {
		return err
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var status sql.NullString
	if msg.DeliveryStatus != "" {
		status = sql.NullString{String: msg.DeliveryStatus, Valid: true}
	}
	query := `
        INSERT INTO messages
        (conversation_id, sender_type, content, delivery_status, provider_message_id, last_error, metadata, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id
    `
	err = tx.QueryRowContext(ctx, query,
		msg.ConversationID, msg.SenderType, msg.Content, status, msg.ProviderMessageID, msg.LastError, meta, msg.CreatedAt,
	).Scan(&msg.ID)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET message_count = message_count + 1, last_message_at = $2 WHERE id = $1`,
		msg.ConversationID, msg.CreatedAt,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (r *MessageRepository) CountBySender(ctx context.Context, conversationID int64, sender model.SenderType) (int, error) {
	var count int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id=$1 AND sender_type=$2`,
		conversationID, sender,
	).Scan(&count)
	return count, err
}

// HasStepMessage reports whether the step of the enrollment was already
// delivered to the lead.
func (r *MessageRepository) HasStepMessage(ctx context.Context, conversationID, enrollmentID int64, stepOrder int) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM messages
            WHERE conversation_id=$1 AND sender_type='agent' AND delivery_status='sent'
              AND metadata->>'enrollment_id'=$2 AND metadata->>'step_order'=$3
        )`, conversationID, strconv.FormatInt(enrollmentID, 10), strconv.Itoa(stepOrder),
	).Scan(&exists)
	return exists, err
}

var _ MessageRepositoryInterface = (*MessageRepository)(nil)
