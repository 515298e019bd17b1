// internal/model/event.go
package model

import "time"

// SweepJob asks a worker to run one due-enrollment sweep.
type SweepJob struct {
	RequestedAt time.Time `json:"requested_at"`
	Source      string    `json:"source"` // cron, api
}

// EscalationEvent is published when a lead asks for a human.
type EscalationEvent struct {
	ConversationID int64     `json:"conversation_id"`
	TenantID       int64     `json:"tenant_id"`
	LeadPhone      string    `json:"lead_phone"`
	LeadName       string    `json:"lead_name"`
	BusinessNumber string    `json:"business_number"`
	Keyword        string    `json:"keyword"`
	Message        string    `json:"message"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// ReplyEvent hands an ordinary lead reply to the external responder.
type ReplyEvent struct {
	ConversationID int64     `json:"conversation_id"`
	TenantID       int64     `json:"tenant_id"`
	LeadPhone      string    `json:"lead_phone"`
	Message        string    `json:"message"`
	OccurredAt     time.Time `json:"occurred_at"`
}
