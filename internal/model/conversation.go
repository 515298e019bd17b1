// internal/model/conversation.go
package model

import "time"

const (
	ConversationActive    = "active"
	ConversationEnded     = "ended"
	ConversationEscalated = "escalated"

	ConversionPending    = "pending"
	ConversionNoResponse = "no_response"
)

// Conversation is the message thread with one lead for one agent.
type Conversation struct {
	ID               int64      `db:"id" json:"id"`
	TenantID         int64      `db:"tenant_id" json:"tenant_id"`
	AgentID          *int64     `db:"agent_id" json:"agent_id,omitempty"`
	LeadPhone        string     `db:"lead_phone" json:"lead_phone"`
	LeadName         string     `db:"lead_name" json:"lead_name"`
	LeadSource       string     `db:"lead_source" json:"lead_source"`
	BusinessNumber   string     `db:"business_number" json:"business_number"`
	Status           string     `db:"status" json:"status"`
	ConversionStatus string     `db:"conversion_status" json:"conversion_status"`
	Escalated        bool       `db:"escalated" json:"escalated"`
	MessageCount     int        `db:"message_count" json:"message_count"`
	LastMessageAt    *time.Time `db:"last_message_at" json:"last_message_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}
