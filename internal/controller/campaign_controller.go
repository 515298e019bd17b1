// internal/controller/campaign_controller.go
package controller

import (
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/leaddrip-backend/internal/errors"
	"github.com/unclebandit/leaddrip-backend/internal/service"
)

type CampaignController struct {
	CampaignService *service.CampaignService
	Log             logrus.FieldLogger
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body service.CreateCampaignInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, c.Log, r, err)
		return
	}

	campaign, err := c.CampaignService.CreateCampaign(r.Context(), body)
	if err != nil {
		writeError(w, c.Log, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, campaign)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	// Parse query parameters
	query := r.URL.Query()
	tenantID, err := strconv.ParseInt(query.Get("tenant_id"), 10, 64)
	if err != nil || tenantID < 1 {
		writeError(w, c.Log, r, appErrors.NewValidationError("tenant_id is required"))
		return
	}
	page, _ := strconv.Atoi(query.Get("page"))
	pageSize, _ := strconv.Atoi(query.Get("page_size"))

	var active *bool
	if v := query.Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, c.Log, r, appErrors.NewValidationError("active must be true or false"))
			return
		}
		active = &b
	}

	campaigns, pagination, err := c.CampaignService.ListCampaigns(r.Context(), tenantID, page, pageSize, active)
	if err != nil {
		writeError(w, c.Log, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":       campaigns,
		"pagination": pagination, // already contains total_count, total_pages, page, page_size
	})
}

func (c *CampaignController) GetCampaignDetails(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, c.Log, r, err)
		return
	}

	details, err := c.CampaignService.GetCampaignDetailsWithStats(r.Context(), id)
	if err != nil {
		writeError(w, c.Log, r, err)
		return
	}

	writeJSON(w, http.StatusOK, details)
}

// PersonalizedPreview renders every step of the campaign for a sample lead.
func (c *CampaignController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, c.Log, r, err)
		return
	}

	var body service.PreviewRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &body); err != nil {
			writeError(w, c.Log, r, err)
			return
		}
	}

	steps, err := c.CampaignService.RenderPreview(r.Context(), id, body)
	if err != nil {
		writeError(w, c.Log, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"campaign_id": id,
		"steps":       steps,
	})
}
