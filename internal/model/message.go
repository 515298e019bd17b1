// internal/model/message.go
package model

import "time"

type SenderType string

const (
	SenderLead  SenderType = "lead"
	SenderAgent SenderType = "agent"
)

const (
	DeliveryPending = "pending"
	DeliverySent    = "sent"
	DeliveryFailed  = "failed"
)

// Message is an append-only record of one text sent or received.
// DeliveryStatus is only set for agent messages.
type Message struct {
	ID                int64             `db:"id" json:"id"`
	ConversationID    int64             `db:"conversation_id" json:"conversation_id"`
	SenderType        SenderType        `db:"sender_type" json:"sender_type"`
	Content           string            `db:"content" json:"content"`
	DeliveryStatus    string            `db:"delivery_status" json:"delivery_status,omitempty"`
	ProviderMessageID string            `db:"provider_message_id" json:"provider_message_id,omitempty"`
	LastError         string            `db:"last_error" json:"last_error,omitempty"`
	Metadata          map[string]string `db:"metadata" json:"metadata,omitempty"`
	CreatedAt         time.Time         `db:"created_at" json:"created_at"`
}
