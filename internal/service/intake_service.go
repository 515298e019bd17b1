package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/leaddrip-backend/internal/errors"
	"github.com/unclebandit/leaddrip-backend/internal/logger"
	"github.com/unclebandit/leaddrip-backend/internal/metrics"
	"github.com/unclebandit/leaddrip-backend/internal/model"
	"github.com/unclebandit/leaddrip-backend/internal/phone"
	"github.com/unclebandit/leaddrip-backend/internal/repository"
	"github.com/unclebandit/leaddrip-backend/internal/validation"
)

// LeadPayload is the body of the lead webhook.
type LeadPayload struct {
	TenantID  int64             `json:"tenant_id" validate:"required,gt=0"`
	Phone     string            `json:"phone" validate:"required"`
	Source    string            `json:"source" validate:"required,max=100"`
	Name      string            `json:"name" validate:"max=200"`
	FirstName string            `json:"first_name" validate:"max=100"`
	LastName  string            `json:"last_name" validate:"max=100"`
	AgentID   *int64            `json:"agent_id,omitempty"`
	Message   string            `json:"message,omitempty" validate:"max=2000"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// lead returns the names from the payload, preferring explicit first/last.
func (p *LeadPayload) lead(phone, source string) LeadInfo {
	if p.FirstName != "" || p.LastName != "" {
		return LeadInfo{FirstName: p.FirstName, LastName: p.LastName, Phone: phone, Source: source}
	}
	return LeadFromName(p.Name, phone, source)
}

const (
	OutcomeEnrolled = "enrolled"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

// CampaignOutcome reports what intake did with one matching campaign.
type CampaignOutcome struct {
	CampaignID   int64                  `json:"campaign_id"`
	CampaignName string                 `json:"campaign_name"`
	Outcome      string                 `json:"outcome"`
	EnrollmentID int64                  `json:"enrollment_id,omitempty"`
	Status       model.EnrollmentStatus `json:"status,omitempty"`
	Reason       string                 `json:"reason,omitempty"`
}

type IntakeResult struct {
	ConversationID int64             `json:"conversation_id"`
	LeadPhone      string            `json:"lead_phone"`
	Campaigns      []CampaignOutcome `json:"campaigns"`
}

// LeadIntakeService turns an inbound lead into a conversation and enrolls it
// into every matching campaign.
type LeadIntakeService struct {
	CampaignRepo     repository.CampaignRepositoryInterface
	EnrollmentRepo   repository.EnrollmentRepositoryInterface
	ConversationRepo repository.ConversationRepositoryInterface
	ProfileRepo      repository.ProfileRepositoryInterface
	Engine           *EnrollmentEngine
	DefaultRegion    string
	Metrics          *metrics.Metrics
	Log              logrus.FieldLogger
}

// Ingest fails as a whole only when the conversation cannot be set up.
// Problems with individual campaigns are reported in the result.
func (s *LeadIntakeService) Ingest(ctx context.Context, p LeadPayload, now time.Time) (*IntakeResult, error) {
	if err := validation.ValidateStruct(p); err != nil {
		return nil, err
	}
	leadPhone, err := phone.Normalize(p.Phone, s.DefaultRegion)
	if err != nil {
		return nil, appErrors.NewValidationError("phone is invalid")
	}
	source := NormalizeSource(p.Source)

	profile, err := s.ProfileRepo.GetBusinessProfile(ctx, p.TenantID)
	if err != nil {
		return nil, err
	}
	if profile.SMSNumber == "" {
		return nil, appErrors.NewValidationError("business profile has no sms_number")
	}

	var agent *model.Agent
	if p.AgentID != nil {
		if agent, err = s.ProfileRepo.GetAgent(ctx, *p.AgentID); err != nil {
			return nil, fmt.Errorf("load agent: %w", err)
		}
		if agent != nil && agent.TenantID != p.TenantID {
			return nil, appErrors.NewValidationError("agent_id is invalid")
		}
	}

	lead := p.lead(leadPhone, source)
	conv := &model.Conversation{
		TenantID:       p.TenantID,
		LeadPhone:      leadPhone,
		LeadName:       strings.TrimSpace(lead.FirstName + " " + lead.LastName),
		LeadSource:     source,
		BusinessNumber: profile.SMSNumber,
	}
	if agent != nil {
		conv.AgentID = &agent.ID
	}
	if err := s.ConversationRepo.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	log := s.log().WithFields(logrus.Fields{
		"conversation_id": conv.ID,
		"tenant_id":       conv.TenantID,
		"lead_source":     source,
	})
	logger.LogEvent(log, "lead_received", map[string]interface{}{"conversation_id": conv.ID})

	campaigns, err := s.CampaignRepo.GetMatchingCampaigns(ctx, p.TenantID, source)
	if err != nil {
		return nil, fmt.Errorf("find matching campaigns: %w", err)
	}

	result := &IntakeResult{ConversationID: conv.ID, LeadPhone: leadPhone, Campaigns: []CampaignOutcome{}}
	vars := BuildVariables(lead, profile, agent)
	meta := intakeMetadata(p, lead)

	for _, c := range campaigns {
		outcome := s.enrollOne(ctx, log.WithField("campaign_id", c.ID), conv, c, vars, meta, now)
		result.Campaigns = append(result.Campaigns, outcome)
	}

	log.WithField("campaigns", len(result.Campaigns)).Info("✅ Lead processed")
	return result, nil
}

func (s *LeadIntakeService) enrollOne(ctx context.Context, log logrus.FieldLogger, conv *model.Conversation, c *model.Campaign, vars, meta map[string]string, now time.Time) CampaignOutcome {
	out := CampaignOutcome{CampaignID: c.ID, CampaignName: c.Name}

	open, err := s.EnrollmentRepo.HasOpenEnrollment(ctx, c.ID, conv.LeadPhone)
	if err != nil {
		out.Outcome, out.Reason = OutcomeFailed, err.Error()
		log.WithError(err).Error("failed to check existing enrollment")
		return out
	}
	if open {
		return s.skip(log, out, appErrors.ErrAlreadyEnrolled)
	}

	enrollment, err := s.Engine.Enroll(ctx, EnrollRequest{
		Conversation: conv,
		Campaign:     c,
		Variables:    vars,
		Metadata:     meta,
	}, now)
	switch {
	case errors.Is(err, appErrors.ErrAlreadyEnrolled), errors.Is(err, appErrors.ErrCampaignHasNoSteps):
		return s.skip(log, out, err)
	case err != nil:
		out.Outcome, out.Reason = OutcomeFailed, err.Error()
		logger.LogError(log, "enroll_failed", err, nil)
		return out
	}

	out.Outcome = OutcomeEnrolled
	out.EnrollmentID = enrollment.ID
	out.Status = enrollment.Status
	out.Reason = enrollment.LastError
	return out
}

func (s *LeadIntakeService) skip(log logrus.FieldLogger, out CampaignOutcome, reason error) CampaignOutcome {
	s.Metrics.Enrollment("skipped")
	log.WithField("reason", reason.Error()).Info("Campaign skipped")
	out.Outcome, out.Reason = OutcomeSkipped, reason.Error()
	return out
}

func (s *LeadIntakeService) log() logrus.FieldLogger {
	if s.Log != nil {
		return s.Log
	}
	return logrus.StandardLogger()
}

// NormalizeSource lowercases and trims a lead source so that "Angi " and
// "angi" match the same campaigns.
func NormalizeSource(source string) string {
	return strings.ToLower(strings.TrimSpace(source))
}

// Enrollment metadata keys holding the lead's names as given at intake.
const (
	metaFirstName = "first_name"
	metaLastName  = "last_name"
)

func intakeMetadata(p LeadPayload, lead LeadInfo) map[string]string {
	meta := make(map[string]string, len(p.Metadata)+3)
	for k, v := range p.Metadata {
		meta[k] = v
	}
	if p.Message != "" {
		meta["inquiry"] = p.Message
	}
	if first := strings.TrimSpace(lead.FirstName); first != "" {
		meta[metaFirstName] = first
	}
	if last := strings.TrimSpace(lead.LastName); last != "" {
		meta[metaLastName] = last
	}
	return meta
}
