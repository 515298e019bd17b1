package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/leaddrip-backend/internal/gateway"
	"github.com/unclebandit/leaddrip-backend/internal/metrics"
	"github.com/unclebandit/leaddrip-backend/internal/model"
	"github.com/unclebandit/leaddrip-backend/internal/queue"
	"github.com/unclebandit/leaddrip-backend/internal/repository/memstore"
	"github.com/unclebandit/leaddrip-backend/internal/service"
)

const (
	tenantID       = int64(1)
	businessNumber = "+12025550100"
	notifyPhone    = "+12025550199"
	jordanPhone    = "+12025550111"
	samPhone       = "+12025550122"
)

var t0 = time.Date(2026, 1, 5, 15, 0, 0, 0, time.UTC)

type sentSMS struct {
	From, To, Body string
}

// recordingGateway records every send. onSend, when set, decides the outcome.
type recordingGateway struct {
	mu     sync.Mutex
	sent   []sentSMS
	onSend func(to, body string) (*gateway.SendResult, error)
}

func (g *recordingGateway) Send(ctx context.Context, from, to, body string) (*gateway.SendResult, error) {
	g.mu.Lock()
	g.sent = append(g.sent, sentSMS{From: from, To: to, Body: body})
	n := len(g.sent)
	hook := g.onSend
	g.mu.Unlock()

	if hook != nil {
		return hook(to, body)
	}
	return &gateway.SendResult{Success: true, ProviderMessageID: fmt.Sprintf("SM%d", n)}, nil
}

func (g *recordingGateway) bodies() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.sent))
	for i, s := range g.sent {
		out[i] = s.Body
	}
	return out
}

type fixture struct {
	ctx      context.Context
	store    *memstore.Store
	gw       *recordingGateway
	metrics  *metrics.Metrics
	queue    *queue.InMemoryQueue
	engine   *service.EnrollmentEngine
	intake   *service.LeadIntakeService
	replies  *service.ReplyService
	campaign *service.CampaignService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log, _ := test.NewNullLogger()

	store := memstore.New()
	store.PutProfile(model.BusinessProfile{
		TenantID:        tenantID,
		BusinessName:    "Acme",
		ServiceCategory: "plumbing",
		SMSNumber:       businessNumber,
		NotifyPhone:     notifyPhone,
	})

	gw := &recordingGateway{}
	m := metrics.New(prometheus.NewRegistry())
	q := queue.NewInMemoryQueue(log)
	q.Backoff = time.Millisecond
	t.Cleanup(func() { q.Close() })

	engine := &service.EnrollmentEngine{
		CampaignRepo:     store.Campaigns(),
		EnrollmentRepo:   store.Enrollments(),
		ConversationRepo: store.Conversations(),
		MessageRepo:      store.Messages(),
		ProfileRepo:      store.Profiles(),
		Gateway:          gw,
		Metrics:          m,
		Log:              log,
		ClaimTTL:         10 * time.Minute,
	}

	return &fixture{
		ctx:     context.Background(),
		store:   store,
		gw:      gw,
		metrics: m,
		queue:   q,
		engine:  engine,
		intake: &service.LeadIntakeService{
			CampaignRepo:     store.Campaigns(),
			EnrollmentRepo:   store.Enrollments(),
			ConversationRepo: store.Conversations(),
			ProfileRepo:      store.Profiles(),
			Engine:           engine,
			DefaultRegion:    "US",
			Metrics:          m,
			Log:              log,
		},
		replies: &service.ReplyService{
			ConversationRepo: store.Conversations(),
			MessageRepo:      store.Messages(),
			ProfileRepo:      store.Profiles(),
			Engine:           engine,
			Gateway:          gw,
			Queue:            q,
			Keywords:         []string{"human", "real person", "call me"},
			DefaultRegion:    "US",
			Metrics:          m,
			Log:              log,
		},
		campaign: &service.CampaignService{
			CampaignRepo: store.Campaigns(),
			ProfileRepo:  store.Profiles(),
			Log:          log,
		},
	}
}

func step(days, hours, minutes int, template string) model.Step {
	return model.Step{DelayDays: days, DelayHours: hours, DelayMinutes: minutes, MessageTemplate: template}
}

// createCampaign numbers steps 1..n in order.
func (f *fixture) createCampaign(t *testing.T, name string, sources []string, steps ...model.Step) *model.Campaign {
	t.Helper()
	for i := range steps {
		steps[i].StepOrder = i + 1
	}
	c := &model.Campaign{TenantID: tenantID, Name: name, Active: true, LeadSources: sources, Steps: steps}
	require.NoError(t, f.store.Campaigns().Create(f.ctx, c))
	return c
}

func (f *fixture) createConversation(t *testing.T, name, phone, source string) *model.Conversation {
	t.Helper()
	c := &model.Conversation{
		TenantID:       tenantID,
		LeadPhone:      phone,
		LeadName:       name,
		LeadSource:     source,
		BusinessNumber: businessNumber,
	}
	require.NoError(t, f.store.Conversations().Create(f.ctx, c))
	return c
}

func (f *fixture) enroll(t *testing.T, conv *model.Conversation, c *model.Campaign, now time.Time) *model.Enrollment {
	t.Helper()
	profile, err := f.store.Profiles().GetBusinessProfile(f.ctx, tenantID)
	require.NoError(t, err)
	vars := service.BuildVariables(service.LeadFromName(conv.LeadName, conv.LeadPhone, conv.LeadSource), profile, nil)

	e, err := f.engine.Enroll(f.ctx, service.EnrollRequest{Conversation: conv, Campaign: c, Variables: vars}, now)
	require.NoError(t, err)
	return e
}

func (f *fixture) conversation(t *testing.T, id int64) *model.Conversation {
	t.Helper()
	c, err := f.store.Conversations().GetByID(f.ctx, id)
	require.NoError(t, err)
	return c
}
