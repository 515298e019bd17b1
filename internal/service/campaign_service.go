// internal/service/campaign_service.go
package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/leaddrip-backend/internal/errors"
	"github.com/unclebandit/leaddrip-backend/internal/model"
	"github.com/unclebandit/leaddrip-backend/internal/repository"
	"github.com/unclebandit/leaddrip-backend/internal/validation"
)

type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	ProfileRepo  repository.ProfileRepositoryInterface
	Log          logrus.FieldLogger
}

type StepInput struct {
	DelayDays       int    `json:"delay_days" validate:"gte=0"`
	DelayHours      int    `json:"delay_hours" validate:"gte=0"`
	DelayMinutes    int    `json:"delay_minutes" validate:"gte=0"`
	MessageTemplate string `json:"message_template" validate:"required,max=1600"`
}

type CreateCampaignInput struct {
	TenantID    int64       `json:"tenant_id" validate:"required,gt=0"`
	Name        string      `json:"name" validate:"required,max=200"`
	Active      *bool       `json:"active"`
	LeadSources []string    `json:"lead_sources"`
	Steps       []StepInput `json:"steps" validate:"required,min=1,dive"`
}

type CampaignDetails struct {
	ID          int64          `json:"id"`
	TenantID    int64          `json:"tenant_id"`
	Name        string         `json:"name"`
	Active      bool           `json:"active"`
	LeadSources []string       `json:"lead_sources"`
	Steps       []model.Step   `json:"steps"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   *time.Time     `json:"updated_at"`
	Stats       map[string]int `json:"stats"`
}

// PreviewRequest describes the sample lead a campaign is rendered for.
type PreviewRequest struct {
	Name      string `json:"name"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
	Source    string `json:"source"`
}

type StepPreview struct {
	StepOrder    int      `json:"step_order"`
	DelayDays    int      `json:"delay_days"`
	DelayHours   int      `json:"delay_hours"`
	DelayMinutes int      `json:"delay_minutes"`
	Message      string   `json:"message"`
	Unresolved   []string `json:"unresolved"`
}

// CreateCampaign stores the campaign with steps numbered 1..n in the given
// order. Campaigns are active unless Active is explicitly false.
func (s *CampaignService) CreateCampaign(ctx context.Context, in CreateCampaignInput) (*model.Campaign, error) {
	if err := validation.ValidateStruct(in); err != nil {
		return nil, err
	}

	c := &model.Campaign{
		TenantID:    in.TenantID,
		Name:        in.Name,
		Active:      in.Active == nil || *in.Active,
		LeadSources: normalizeSources(in.LeadSources),
	}
	for i, st := range in.Steps {
		c.Steps = append(c.Steps, model.Step{
			StepOrder:       i + 1,
			DelayDays:       st.DelayDays,
			DelayHours:      st.DelayHours,
			DelayMinutes:    st.DelayMinutes,
			MessageTemplate: st.MessageTemplate,
		})
	}

	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, err
	}
	s.log().WithFields(logrus.Fields{"campaign_id": c.ID, "steps": len(c.Steps)}).Info("📋 Campaign created")
	return c, nil
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, tenantID int64, page, pageSize int, active *bool) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, tenantID, offset, pageSize, active)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

func (s *CampaignService) GetCampaignDetailsWithStats(ctx context.Context, campaignID int64) (*CampaignDetails, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	stats, err := s.CampaignRepo.GetEnrollmentStats(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	s.log().WithFields(logrus.Fields{"campaign_id": campaignID, "stats": stats}).Debug("Campaign stats loaded")

	return &CampaignDetails{
		ID:          campaign.ID,
		TenantID:    campaign.TenantID,
		Name:        campaign.Name,
		Active:      campaign.Active,
		LeadSources: campaign.LeadSources,
		Steps:       campaign.Steps,
		CreatedAt:   campaign.CreatedAt,
		UpdatedAt:   campaign.UpdatedAt,
		Stats:       stats,
	}, nil
}

// RenderPreview renders every step for a sample lead with the tenant's
// current profile, the way the sweep would send it.
func (s *CampaignService) RenderPreview(ctx context.Context, campaignID int64, req PreviewRequest) ([]StepPreview, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	profile, err := s.ProfileRepo.GetBusinessProfile(ctx, campaign.TenantID)
	if err != nil {
		if !appErrors.IsNotFound(err) {
			return nil, err
		}
		profile = nil
	}

	lead := LeadFromName(req.Name, req.Phone, NormalizeSource(req.Source))
	if req.FirstName != "" || req.LastName != "" {
		lead.FirstName, lead.LastName = req.FirstName, req.LastName
	}
	vars := BuildVariables(lead, profile, nil)

	previews := make([]StepPreview, 0, len(campaign.Steps))
	for _, st := range campaign.Steps {
		unresolved := []string{}
		for _, key := range Placeholders(st.MessageTemplate) {
			if _, ok := vars[key]; !ok {
				unresolved = append(unresolved, key)
			}
		}
		previews = append(previews, StepPreview{
			StepOrder:    st.StepOrder,
			DelayDays:    st.DelayDays,
			DelayHours:   st.DelayHours,
			DelayMinutes: st.DelayMinutes,
			Message:      RenderTemplate(st.MessageTemplate, vars),
			Unresolved:   unresolved,
		})
	}
	return previews, nil
}

func (s *CampaignService) log() logrus.FieldLogger {
	if s.Log != nil {
		return s.Log
	}
	return logrus.StandardLogger()
}

func normalizeSources(sources []string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, src := range sources {
		src = NormalizeSource(src)
		if src == "" || seen[src] {
			continue
		}
		seen[src] = true
		out = append(out, src)
	}
	return out
}
