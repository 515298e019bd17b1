package service_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/leaddrip-backend/internal/errors"
	"github.com/unclebandit/leaddrip-backend/internal/model"
	"github.com/unclebandit/leaddrip-backend/internal/service"
)

func TestCreateCampaign(t *testing.T) {
	f := newFixture(t)

	c, err := f.campaign.CreateCampaign(f.ctx, service.CreateCampaignInput{
		TenantID:    tenantID,
		Name:        "Follow-up",
		LeadSources: []string{" Angi", "angi", "WEBSITE", ""},
		Steps: []service.StepInput{
			{MessageTemplate: "Hi {{first_name}}"},
			{DelayDays: 1, MessageTemplate: "Still interested?"},
		},
	})
	require.NoError(t, err)

	assert.NotZero(t, c.ID)
	assert.True(t, c.Active)
	assert.Equal(t, []string{"angi", "website"}, c.LeadSources)
	require.Len(t, c.Steps, 2)
	assert.Equal(t, 1, c.Steps[0].StepOrder)
	assert.Equal(t, 2, c.Steps[1].StepOrder)
	assert.Equal(t, 1, c.Steps[1].DelayDays)

	stored, err := f.store.Campaigns().GetByID(f.ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Follow-up", stored.Name)
}

func TestCreateCampaign_Inactive(t *testing.T) {
	f := newFixture(t)
	off := false
	c, err := f.campaign.CreateCampaign(f.ctx, service.CreateCampaignInput{
		TenantID: tenantID, Name: "Paused", Active: &off,
		Steps: []service.StepInput{{MessageTemplate: "x"}},
	})
	require.NoError(t, err)
	assert.False(t, c.Active)
}

func TestCreateCampaign_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		in   service.CreateCampaignInput
	}{
		{"no steps", service.CreateCampaignInput{TenantID: tenantID, Name: "Empty"}},
		{"no name", service.CreateCampaignInput{TenantID: tenantID, Steps: []service.StepInput{{MessageTemplate: "x"}}}},
		{"no tenant", service.CreateCampaignInput{Name: "x", Steps: []service.StepInput{{MessageTemplate: "x"}}}},
		{"empty template", service.CreateCampaignInput{TenantID: tenantID, Name: "x", Steps: []service.StepInput{{}}}},
		{"negative delay", service.CreateCampaignInput{TenantID: tenantID, Name: "x", Steps: []service.StepInput{{DelayHours: -1, MessageTemplate: "x"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.campaign.CreateCampaign(f.ctx, tt.in)
			assert.True(t, appErrors.IsValidation(err), "got %v", err)
		})
	}
}

func TestListCampaigns_Pagination(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 5; i++ {
		f.createCampaign(t, fmt.Sprintf("C%d", i), nil, step(0, 1, 0, "x"))
	}

	page1, pagination, err := f.campaign.ListCampaigns(f.ctx, tenantID, 1, 2, nil)
	require.NoError(t, err)
	page2, _, err := f.campaign.ListCampaigns(f.ctx, tenantID, 2, 2, nil)
	require.NoError(t, err)
	page3, _, err := f.campaign.ListCampaigns(f.ctx, tenantID, 3, 2, nil)
	require.NoError(t, err)

	assert.Equal(t, 5, pagination["total_count"])
	assert.Equal(t, 3, pagination["total_pages"])
	require.Len(t, page1, 2)
	require.Len(t, page2, 2)
	require.Len(t, page3, 1)

	// Newest first, no overlap between pages.
	assert.Equal(t, "C5", page1[0].Name)
	assert.Greater(t, page1[0].ID, page1[1].ID)
	assert.Greater(t, page1[1].ID, page2[0].ID)
	assert.Equal(t, "C1", page3[0].Name)
}

func TestListCampaigns_ClampsAndFilters(t *testing.T) {
	f := newFixture(t)
	f.createCampaign(t, "On", nil, step(0, 1, 0, "x"))
	off := &model.Campaign{TenantID: tenantID, Name: "Off", Steps: []model.Step{{StepOrder: 1, MessageTemplate: "x"}}}
	require.NoError(t, f.store.Campaigns().Create(f.ctx, off))
	other := &model.Campaign{TenantID: 2, Name: "Other", Active: true}
	require.NoError(t, f.store.Campaigns().Create(f.ctx, other))

	all, pagination, err := f.campaign.ListCampaigns(f.ctx, tenantID, 0, 500, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, 1, pagination["page"])
	assert.Equal(t, 100, pagination["page_size"])

	active := true
	onlyActive, _, err := f.campaign.ListCampaigns(f.ctx, tenantID, 1, 0, &active)
	require.NoError(t, err)
	require.Len(t, onlyActive, 1)
	assert.Equal(t, "On", onlyActive[0].Name)
}

func TestGetCampaignDetailsWithStats(t *testing.T) {
	f := newFixture(t)
	c := f.createCampaign(t, "Nurture", []string{"angi"}, step(0, 0, 0, "Hi"), step(1, 0, 0, "Bye"))
	jordan := f.createConversation(t, "Jordan Lee", jordanPhone, "angi")
	sam := f.createConversation(t, "Sam Ortiz", samPhone, "angi")
	f.enroll(t, jordan, c, t0)
	e := f.enroll(t, sam, c, t0)
	_, err := f.engine.HandleReply(f.ctx, sam.ID)
	require.NoError(t, err)
	require.Equal(t, model.EnrollmentPausedByReply, f.store.Enrollment(e.ID).Status)

	details, err := f.campaign.GetCampaignDetailsWithStats(f.ctx, c.ID)
	require.NoError(t, err)

	assert.Equal(t, "Nurture", details.Name)
	assert.Len(t, details.Steps, 2)
	assert.Equal(t, 2, details.Stats["total"])
	assert.Equal(t, 1, details.Stats["active"])
	assert.Equal(t, 1, details.Stats["paused_by_reply"])
	assert.Equal(t, 0, details.Stats["completed"])
}

func TestGetCampaignDetails_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.campaign.GetCampaignDetailsWithStats(f.ctx, 404)
	assert.True(t, appErrors.IsNotFound(err))
}

func TestRenderPreview(t *testing.T) {
	f := newFixture(t)
	c := f.createCampaign(t, "Nurture", []string{"angi"},
		step(0, 0, 0, "Hi {{first_name}}, {{business_name}} here."),
		step(2, 0, 0, "Your {{service_category}} quote: {{quote_link}}"),
	)

	previews, err := f.campaign.RenderPreview(f.ctx, c.ID, service.PreviewRequest{Name: "Jordan Lee", Source: "Angi"})
	require.NoError(t, err)
	require.Len(t, previews, 2)

	assert.Equal(t, "Hi Jordan, Acme here.", previews[0].Message)
	assert.Empty(t, previews[0].Unresolved)

	assert.Equal(t, 2, previews[1].StepOrder)
	assert.Equal(t, 2, previews[1].DelayDays)
	assert.Equal(t, "Your plumbing quote: {{quote_link}}", previews[1].Message)
	assert.Equal(t, []string{"quote_link"}, previews[1].Unresolved)

	// Rendering a preview never sends anything.
	assert.Empty(t, f.gw.bodies())
}

func TestRenderPreview_ExplicitNamesAndDefaults(t *testing.T) {
	f := newFixture(t)
	c := f.createCampaign(t, "Nurture", nil, step(0, 0, 0, "Hi {{first_name}} {{last_name}}"))

	previews, err := f.campaign.RenderPreview(f.ctx, c.ID, service.PreviewRequest{FirstName: "Jo", LastName: "Lee"})
	require.NoError(t, err)
	assert.Equal(t, "Hi Jo Lee", previews[0].Message)

	previews, err = f.campaign.RenderPreview(f.ctx, c.ID, service.PreviewRequest{})
	require.NoError(t, err)
	assert.Equal(t, "Hi there ", previews[0].Message)
}
