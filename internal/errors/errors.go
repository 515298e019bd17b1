// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCampaignHasNoSteps is returned when a matching campaign has no step 1.
	ErrCampaignHasNoSteps = errors.New("campaign has no steps")
	// ErrAlreadyEnrolled is returned when the lead already has an open
	// enrollment in the campaign.
	ErrAlreadyEnrolled = errors.New("lead already has an open enrollment in campaign")
)

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
	CampaignID int64
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int64) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

type ErrConversationNotFound struct {
	ConversationID int64
	LeadPhone      string
}

func (e *ErrConversationNotFound) Error() string {
	if e.ConversationID == 0 {
		return fmt.Sprintf("no conversation found for %s", e.LeadPhone)
	}
	return fmt.Sprintf("conversation with ID %d not found", e.ConversationID)
}

func NewConversationNotFound(id int64) error {
	return &ErrConversationNotFound{ConversationID: id}
}

func NewConversationNotFoundForPhone(phone string) error {
	return &ErrConversationNotFound{LeadPhone: phone}
}

type ErrProfileNotFound struct {
	TenantID int64
}

func (e *ErrProfileNotFound) Error() string {
	return fmt.Sprintf("business profile for tenant %d not found", e.TenantID)
}

func NewProfileNotFound(tenantID int64) error {
	return &ErrProfileNotFound{TenantID: tenantID}
}

// ValidationError carries one message per rejected field.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Fields, ", ")
}

func NewValidationError(fields ...string) error {
	return &ValidationError{Fields: fields}
}

// IsNotFound reports whether err wraps any of the not-found errors above.
func IsNotFound(err error) bool {
	var campaign *ErrCampaignNotFound
	var conversation *ErrConversationNotFound
	var profile *ErrProfileNotFound
	return errors.As(err, &campaign) || errors.As(err, &conversation) || errors.As(err, &profile)
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
