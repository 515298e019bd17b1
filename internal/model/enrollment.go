// internal/model/enrollment.go
package model

import "time"

type EnrollmentStatus string

const (
	EnrollmentActive        EnrollmentStatus = "active"
	EnrollmentProcessing    EnrollmentStatus = "processing"
	EnrollmentPausedByReply EnrollmentStatus = "paused_by_reply"
	EnrollmentCompleted     EnrollmentStatus = "completed"
	EnrollmentError         EnrollmentStatus = "error"
)

// Open statuses block a second enrollment of the same phone into a campaign.
func (s EnrollmentStatus) Open() bool {
	return s == EnrollmentActive || s == EnrollmentProcessing
}

// Enrollment tracks one lead's progress through one campaign.
// NextMessageAt is nil when nothing is scheduled.
type Enrollment struct {
	ID               int64             `db:"id" json:"id"`
	TenantID         int64             `db:"tenant_id" json:"tenant_id"`
	CampaignID       int64             `db:"campaign_id" json:"campaign_id"`
	ConversationID   int64             `db:"conversation_id" json:"conversation_id"`
	LeadPhone        string            `db:"lead_phone" json:"lead_phone"`
	LeadName         string            `db:"lead_name" json:"lead_name"`
	LeadSource       string            `db:"lead_source" json:"lead_source"`
	CurrentStepOrder int               `db:"current_step_order" json:"current_step_order"`
	Status           EnrollmentStatus  `db:"status" json:"status"`
	NextMessageAt    *time.Time        `db:"next_message_at" json:"next_message_at,omitempty"`
	CompletedAt      *time.Time        `db:"completed_at" json:"completed_at,omitempty"`
	ClaimedAt        *time.Time        `db:"claimed_at" json:"claimed_at,omitempty"`
	LastError        string            `db:"last_error" json:"last_error,omitempty"`
	Metadata         map[string]string `db:"metadata" json:"metadata,omitempty"`
	CreatedAt        time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time         `db:"updated_at" json:"updated_at"`
}

// EnrollmentPatch is the final state written after a claimed enrollment has
// been processed.
type EnrollmentPatch struct {
	Status           EnrollmentStatus
	CurrentStepOrder int
	NextMessageAt    *time.Time
	CompletedAt      *time.Time
	LastError        string
}

// DueEnrollment is an enrollment joined with what the sweep needs to send its
// current step.
type DueEnrollment struct {
	Enrollment
	CampaignName   string `db:"campaign_name" json:"campaign_name"`
	AgentID        *int64 `db:"agent_id" json:"agent_id,omitempty"`
	BusinessNumber string `db:"business_number" json:"business_number"`
}
