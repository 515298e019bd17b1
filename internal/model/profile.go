// internal/model/profile.go
package model

// BusinessProfile holds the tenant data used for template variables and as
// the sender of every outbound text.
type BusinessProfile struct {
	TenantID        int64  `db:"tenant_id" json:"tenant_id"`
	BusinessName    string `db:"business_name" json:"business_name"`
	ServiceCategory string `db:"service_category" json:"service_category"`
	SMSNumber       string `db:"sms_number" json:"sms_number"`
	NotifyPhone     string `db:"notify_phone" json:"notify_phone,omitempty"`
}

// Agent is the configured AI agent persona that owns a conversation.
type Agent struct {
	ID       int64  `db:"id" json:"id"`
	TenantID int64  `db:"tenant_id" json:"tenant_id"`
	Name     string `db:"name" json:"name"`
}
