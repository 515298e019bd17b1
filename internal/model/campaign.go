// internal/model/campaign.go
package model

import "time"

// Campaign is a tenant-owned drip sequence. LeadSources filters which leads get
// enrolled at intake time.
type Campaign struct {
	ID          int64      `db:"id" json:"id"`
	TenantID    int64      `db:"tenant_id" json:"tenant_id"`
	Name        string     `db:"name" json:"name"`
	Active      bool       `db:"active" json:"active"`
	LeadSources []string   `db:"lead_sources" json:"lead_sources"`
	Steps       []Step     `db:"-" json:"steps,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// MatchesSource reports whether the campaign enrolls leads from source.
func (c *Campaign) MatchesSource(source string) bool {
	for _, s := range c.LeadSources {
		if s == source {
			return true
		}
	}
	return false
}

// Step is one templated message of a campaign. StepOrder starts at 1.
type Step struct {
	ID              int64     `db:"id" json:"id"`
	CampaignID      int64     `db:"campaign_id" json:"campaign_id"`
	StepOrder       int       `db:"step_order" json:"step_order"`
	DelayDays       int       `db:"delay_days" json:"delay_days"`
	DelayHours      int       `db:"delay_hours" json:"delay_hours"`
	DelayMinutes    int       `db:"delay_minutes" json:"delay_minutes"`
	MessageTemplate string    `db:"message_template" json:"message_template"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// IsImmediate is true for a step with no delay at all. Such steps are sent
// synchronously by whoever reached them instead of being scheduled.
func (s *Step) IsImmediate() bool {
	return s.DelayDays == 0 && s.DelayHours == 0 && s.DelayMinutes == 0
}
