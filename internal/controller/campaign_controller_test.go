package controller_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/leaddrip-backend/internal/controller"
	"github.com/unclebandit/leaddrip-backend/internal/gateway"
	"github.com/unclebandit/leaddrip-backend/internal/model"
	"github.com/unclebandit/leaddrip-backend/internal/repository/memstore"
	"github.com/unclebandit/leaddrip-backend/internal/service"
)

const (
	tenantID       = int64(1)
	businessNumber = "+12025550100"
	leadPhone      = "+12025550111"
)

type testServer struct {
	store  *memstore.Store
	sent   []string
	router chi.Router
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log, _ := test.NewNullLogger()

	ts := &testServer{store: memstore.New()}
	ts.store.PutProfile(model.BusinessProfile{
		TenantID:        tenantID,
		BusinessName:    "Acme",
		ServiceCategory: "plumbing",
		SMSNumber:       businessNumber,
	})

	gw := &gateway.MockGateway{SendFunc: func(ctx context.Context, from, to, body string) (*gateway.SendResult, error) {
		ts.sent = append(ts.sent, body)
		return &gateway.SendResult{Success: true, ProviderMessageID: fmt.Sprintf("SM%d", len(ts.sent))}, nil
	}}

	engine := &service.EnrollmentEngine{
		CampaignRepo:     ts.store.Campaigns(),
		EnrollmentRepo:   ts.store.Enrollments(),
		ConversationRepo: ts.store.Conversations(),
		MessageRepo:      ts.store.Messages(),
		ProfileRepo:      ts.store.Profiles(),
		Gateway:          gw,
		Log:              log,
	}
	campaigns := &controller.CampaignController{
		CampaignService: &service.CampaignService{
			CampaignRepo: ts.store.Campaigns(),
			ProfileRepo:  ts.store.Profiles(),
			Log:          log,
		},
		Log: log,
	}
	webhooks := &controller.WebhookController{
		Intake: &service.LeadIntakeService{
			CampaignRepo:     ts.store.Campaigns(),
			EnrollmentRepo:   ts.store.Enrollments(),
			ConversationRepo: ts.store.Conversations(),
			ProfileRepo:      ts.store.Profiles(),
			Engine:           engine,
			DefaultRegion:    "US",
			Log:              log,
		},
		Replies: &service.ReplyService{
			ConversationRepo: ts.store.Conversations(),
			MessageRepo:      ts.store.Messages(),
			ProfileRepo:      ts.store.Profiles(),
			Engine:           engine,
			Gateway:          gw,
			Keywords:         []string{"human"},
			DefaultRegion:    "US",
			Log:              log,
		},
		Engine: engine,
		Log:    log,
	}

	r := chi.NewRouter()
	r.Post("/campaigns", campaigns.CreateCampaign)
	r.Get("/campaigns", campaigns.ListCampaigns)
	r.Get("/campaigns/{id}", campaigns.GetCampaignDetails)
	r.Post("/campaigns/{id}/preview", campaigns.PersonalizedPreview)
	r.Post("/webhooks/lead", webhooks.Lead)
	r.Post("/webhooks/sms-inbound", webhooks.InboundSMS)
	r.Post("/sweeps", webhooks.Sweep)
	ts.router = r
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(v), w.Body.String())
}

func createCampaign(t *testing.T, ts *testServer, name string, sources []string, templates ...string) int64 {
	t.Helper()
	steps := make([]map[string]interface{}, len(templates))
	for i, tmpl := range templates {
		steps[i] = map[string]interface{}{"delay_days": i, "message_template": tmpl}
	}
	w := ts.do(t, http.MethodPost, "/campaigns", map[string]interface{}{
		"tenant_id":    tenantID,
		"name":         name,
		"lead_sources": sources,
		"steps":        steps,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var c model.Campaign
	decode(t, w, &c)
	return c.ID
}

func TestCreateCampaignHandler(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/campaigns", map[string]interface{}{
		"tenant_id":    tenantID,
		"name":         "Follow-up",
		"lead_sources": []string{"Angi"},
		"steps": []map[string]interface{}{
			{"message_template": "Hi {{first_name}}"},
			{"delay_days": 1, "message_template": "Still there?"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var c model.Campaign
	decode(t, w, &c)
	assert.NotZero(t, c.ID)
	assert.True(t, c.Active)
	assert.Equal(t, []string{"angi"}, c.LeadSources)
	require.Len(t, c.Steps, 2)
	assert.Equal(t, 2, c.Steps[1].StepOrder)
}

func TestCreateCampaignHandler_BadRequests(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/campaigns", "{broken")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/campaigns", map[string]interface{}{"tenant_id": tenantID, "name": "No steps"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var body struct {
		Error  string   `json:"error"`
		Fields []string `json:"fields"`
	}
	decode(t, w, &body)
	assert.Equal(t, "validation failed", body.Error)
	assert.NotEmpty(t, body.Fields)
}

func TestListCampaignsHandler(t *testing.T) {
	ts := newTestServer(t)
	for i := 1; i <= 3; i++ {
		createCampaign(t, ts, fmt.Sprintf("C%d", i), nil, "x")
	}

	w := ts.do(t, http.MethodGet, "/campaigns?tenant_id=1&page=1&page_size=2", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data       []model.Campaign `json:"data"`
		Pagination map[string]int   `json:"pagination"`
	}
	decode(t, w, &resp)
	assert.Len(t, resp.Data, 2)
	assert.Equal(t, "C3", resp.Data[0].Name)
	assert.Equal(t, 3, resp.Pagination["total_count"])
	assert.Equal(t, 2, resp.Pagination["total_pages"])
}

func TestListCampaignsHandler_BadQuery(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/campaigns", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/campaigns?tenant_id=1&active=maybe", nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/campaigns?tenant_id=1&active=false", nil).Code)
}

func TestGetCampaignDetailsHandler(t *testing.T) {
	ts := newTestServer(t)
	id := createCampaign(t, ts, "Nurture", []string{"angi"}, "Hi", "Bye")

	w := ts.do(t, http.MethodGet, fmt.Sprintf("/campaigns/%d", id), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var details service.CampaignDetails
	decode(t, w, &details)
	assert.Equal(t, "Nurture", details.Name)
	assert.Equal(t, 0, details.Stats["total"])
	assert.Contains(t, details.Stats, "paused_by_reply")

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/campaigns/999", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/campaigns/abc", nil).Code)
}

func TestPersonalizedPreviewHandler(t *testing.T) {
	ts := newTestServer(t)
	id := createCampaign(t, ts, "Nurture", nil, "Hi {{first_name}} from {{business_name}}", "{{coupon}} inside")

	w := ts.do(t, http.MethodPost, fmt.Sprintf("/campaigns/%d/preview", id), map[string]string{"name": "Jordan Lee"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		CampaignID int64                 `json:"campaign_id"`
		Steps      []service.StepPreview `json:"steps"`
	}
	decode(t, w, &resp)
	assert.Equal(t, id, resp.CampaignID)
	require.Len(t, resp.Steps, 2)
	assert.Equal(t, "Hi Jordan from Acme", resp.Steps[0].Message)
	assert.Equal(t, []string{"coupon"}, resp.Steps[1].Unresolved)
	assert.Empty(t, ts.sent)

	// An empty body previews with the defaults.
	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/campaigns/%d/preview", id), strings.NewReader(""))
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Hi there from Acme")
}
