// Package memstore is an in-memory implementation of the repository
// interfaces. It backs STORE_DRIVER=memory and the service tests, and mirrors
// the conditional-update semantics of the Postgres repositories.
package memstore

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	appErrors "github.com/unclebandit/leaddrip-backend/internal/errors"
	"github.com/unclebandit/leaddrip-backend/internal/model"
	"github.com/unclebandit/leaddrip-backend/internal/repository"
)

// Store holds every table behind one mutex.
type Store struct {
	mu            sync.Mutex
	nextID        int64
	campaigns     map[int64]*model.Campaign
	enrollments   map[int64]*model.Enrollment
	conversations map[int64]*model.Conversation
	messages      []*model.Message
	profiles      map[int64]*model.BusinessProfile
	agents        map[int64]*model.Agent
}

func New() *Store {
	return &Store{
		campaigns:     make(map[int64]*model.Campaign),
		enrollments:   make(map[int64]*model.Enrollment),
		conversations: make(map[int64]*model.Conversation),
		profiles:      make(map[int64]*model.BusinessProfile),
		agents:        make(map[int64]*model.Agent),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) Campaigns() *CampaignRepo         { return &CampaignRepo{s} }
func (s *Store) Enrollments() *EnrollmentRepo     { return &EnrollmentRepo{s} }
func (s *Store) Conversations() *ConversationRepo { return &ConversationRepo{s} }
func (s *Store) Messages() *MessageRepo           { return &MessageRepo{s} }
func (s *Store) Profiles() *ProfileRepo           { return &ProfileRepo{s} }

func (s *Store) Repositories() repository.Repositories {
	return repository.Repositories{
		Campaigns:     s.Campaigns(),
		Enrollments:   s.Enrollments(),
		Conversations: s.Conversations(),
		Messages:      s.Messages(),
		Profiles:      s.Profiles(),
	}
}

// PutProfile and PutAgent seed reference data.
func (s *Store) PutProfile(p model.BusinessProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.TenantID] = &p
}

func (s *Store) PutAgent(a model.Agent) *model.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == 0 {
		a.ID = s.id()
	}
	s.agents[a.ID] = &a
	out := a
	return &out
}

// Enrollment returns a copy of the stored enrollment, or nil.
func (s *Store) Enrollment(id int64) *model.Enrollment {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrollments[id]
	if !ok {
		return nil
	}
	return cloneEnrollment(e)
}

// ConversationMessages returns copies of a conversation's messages in insert order.
func (s *Store) ConversationMessages(conversationID int64) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, *m)
		}
	}
	return out
}

// ====================== Campaigns ======================

type CampaignRepo struct{ s *Store }

func (r *CampaignRepo) Create(_ context.Context, c *model.Campaign) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c.ID = r.s.id()
	c.CreatedAt = time.Now().UTC()
	for i := range c.Steps {
		c.Steps[i].ID = r.s.id()
		c.Steps[i].CampaignID = c.ID
		c.Steps[i].CreatedAt = c.CreatedAt
	}
	r.s.campaigns[c.ID] = cloneCampaign(c)
	return nil
}

func (r *CampaignRepo) GetByID(_ context.Context, id int64) (*model.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return cloneCampaign(c), nil
}

func (r *CampaignRepo) ListCampaigns(_ context.Context, tenantID int64, offset, limit int, active *bool) ([]*model.Campaign, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var filtered []*model.Campaign
	for _, c := range r.s.campaigns {
		if c.TenantID != tenantID {
			continue
		}
		if active != nil && c.Active != *active {
			continue
		}
		filtered = append(filtered, c)
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].ID > filtered[j].ID })

	total := len(filtered)
	out := []*model.Campaign{}
	for i := offset; i < total && i < offset+limit; i++ {
		c := cloneCampaign(filtered[i])
		c.Steps = nil
		out = append(out, c)
	}
	return out, total, nil
}

func (r *CampaignRepo) GetMatchingCampaigns(_ context.Context, tenantID int64, leadSource string) ([]*model.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Campaign
	for _, c := range r.s.campaigns {
		if c.TenantID == tenantID && c.Active && c.MatchesSource(leadSource) {
			out = append(out, cloneCampaign(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *CampaignRepo) GetStep(_ context.Context, campaignID int64, order int) (*model.Step, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[campaignID]
	if !ok {
		return nil, nil
	}
	for _, step := range c.Steps {
		if step.StepOrder == order {
			out := step
			return &out, nil
		}
	}
	return nil, nil
}

func (r *CampaignRepo) ListSteps(_ context.Context, campaignID int64) ([]model.Step, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[campaignID]
	if !ok {
		return []model.Step{}, nil
	}
	return cloneCampaign(c).Steps, nil
}

// UpdateStep replaces a step's template, the way an edit from the dashboard would.
func (r *CampaignRepo) UpdateStep(campaignID int64, order int, template string) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[campaignID]
	if !ok {
		return
	}
	for i := range c.Steps {
		if c.Steps[i].StepOrder == order {
			c.Steps[i].MessageTemplate = template
		}
	}
}

func (r *CampaignRepo) GetEnrollmentStats(_ context.Context, campaignID int64) (map[string]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stats := repository.NewEnrollmentStats()
	for _, e := range r.s.enrollments {
		if e.CampaignID == campaignID {
			stats[string(e.Status)]++
			stats["total"]++
		}
	}
	return stats, nil
}

// ====================== Enrollments ======================

type EnrollmentRepo struct{ s *Store }

func (r *EnrollmentRepo) Create(_ context.Context, e *model.Enrollment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if e.Status.Open() {
		for _, other := range r.s.enrollments {
			if other.CampaignID == e.CampaignID && other.LeadPhone == e.LeadPhone && other.Status.Open() {
				return appErrors.ErrAlreadyEnrolled
			}
		}
	}
	now := time.Now().UTC()
	e.ID = r.s.id()
	e.CreatedAt = now
	e.UpdatedAt = now
	r.s.enrollments[e.ID] = cloneEnrollment(e)
	return nil
}

func (r *EnrollmentRepo) GetDue(_ context.Context, now time.Time, limit int) ([]*model.DueEnrollment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var due []*model.DueEnrollment
	for _, e := range r.s.enrollments {
		if e.Status != model.EnrollmentActive || e.NextMessageAt == nil || e.NextMessageAt.After(now) {
			continue
		}
		d := &model.DueEnrollment{Enrollment: *cloneEnrollment(e)}
		if c, ok := r.s.campaigns[e.CampaignID]; ok {
			d.CampaignName = c.Name
		}
		if conv, ok := r.s.conversations[e.ConversationID]; ok {
			d.AgentID = conv.AgentID
			d.BusinessNumber = conv.BusinessNumber
		}
		due = append(due, d)
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].NextMessageAt.Equal(*due[j].NextMessageAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].NextMessageAt.Before(*due[j].NextMessageAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *EnrollmentRepo) Claim(_ context.Context, id int64, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.enrollments[id]
	if !ok || e.Status != model.EnrollmentActive || e.NextMessageAt == nil || e.NextMessageAt.After(now) {
		return false, nil
	}
	e.Status = model.EnrollmentProcessing
	claimed := now
	e.ClaimedAt = &claimed
	e.UpdatedAt = now
	return true, nil
}

func (r *EnrollmentRepo) Finalize(_ context.Context, id int64, patch model.EnrollmentPatch) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.enrollments[id]
	if !ok || e.Status != model.EnrollmentProcessing {
		return false, nil
	}
	e.Status = patch.Status
	e.CurrentStepOrder = patch.CurrentStepOrder
	e.NextMessageAt = copyTime(patch.NextMessageAt)
	e.CompletedAt = copyTime(patch.CompletedAt)
	e.LastError = patch.LastError
	e.ClaimedAt = nil
	e.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *EnrollmentRepo) PauseActiveByConversation(_ context.Context, conversationID int64) ([]int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []int64
	for _, e := range r.s.enrollments {
		if e.ConversationID == conversationID && e.Status.Open() {
			e.Status = model.EnrollmentPausedByReply
			e.NextMessageAt = nil
			e.ClaimedAt = nil
			e.UpdatedAt = time.Now().UTC()
			ids = append(ids, e.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *EnrollmentRepo) ReleaseStaleClaims(_ context.Context, cutoff time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, e := range r.s.enrollments {
		if e.Status != model.EnrollmentProcessing || e.ClaimedAt == nil || !e.ClaimedAt.Before(cutoff) {
			continue
		}
		if e.NextMessageAt == nil {
			e.NextMessageAt = copyTime(e.ClaimedAt)
		}
		e.Status = model.EnrollmentActive
		e.ClaimedAt = nil
		n++
	}
	return n, nil
}

func (r *EnrollmentRepo) HasOpenEnrollment(_ context.Context, campaignID int64, leadPhone string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.enrollments {
		if e.CampaignID == campaignID && e.LeadPhone == leadPhone && e.Status.Open() {
			return true, nil
		}
	}
	return false, nil
}

func (r *EnrollmentRepo) ListByConversation(_ context.Context, conversationID int64) ([]*model.Enrollment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*model.Enrollment{}
	for _, e := range r.s.enrollments {
		if e.ConversationID == conversationID {
			out = append(out, cloneEnrollment(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ====================== Conversations ======================

type ConversationRepo struct{ s *Store }

func (r *ConversationRepo) Create(_ context.Context, c *model.Conversation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c.ID = r.s.id()
	c.CreatedAt = time.Now().UTC()
	if c.Status == "" {
		c.Status = model.ConversationActive
	}
	if c.ConversionStatus == "" {
		c.ConversionStatus = model.ConversionPending
	}
	out := *c
	r.s.conversations[c.ID] = &out
	return nil
}

func (r *ConversationRepo) GetByID(_ context.Context, id int64) (*model.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.conversations[id]
	if !ok {
		return nil, appErrors.NewConversationNotFound(id)
	}
	out := *c
	return &out, nil
}

func (r *ConversationRepo) FindLatestByPhone(_ context.Context, businessNumber, leadPhone string) (*model.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var latest *model.Conversation
	for _, c := range r.s.conversations {
		if c.BusinessNumber != businessNumber || c.LeadPhone != leadPhone {
			continue
		}
		if latest == nil || c.ID > latest.ID {
			latest = c
		}
	}
	if latest == nil {
		return nil, appErrors.NewConversationNotFoundForPhone(leadPhone)
	}
	out := *latest
	return &out, nil
}

func (r *ConversationRepo) MarkNoResponse(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if c, ok := r.s.conversations[id]; ok {
		c.ConversionStatus = model.ConversionNoResponse
		c.Status = model.ConversationEnded
	}
	return nil
}

func (r *ConversationRepo) MarkEscalated(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if c, ok := r.s.conversations[id]; ok {
		c.Escalated = true
		c.Status = model.ConversationEscalated
	}
	return nil
}

// ====================== Messages ======================

type MessageRepo struct{ s *Store }

func (r *MessageRepo) RecordMessage(_ context.Context, msg *model.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.ID = r.s.id()
	out := *msg
	r.s.messages = append(r.s.messages, &out)
	if c, ok := r.s.conversations[msg.ConversationID]; ok {
		c.MessageCount++
		at := msg.CreatedAt
		c.LastMessageAt = &at
	}
	return nil
}

func (r *MessageRepo) CountBySender(_ context.Context, conversationID int64, sender model.SenderType) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, m := range r.s.messages {
		if m.ConversationID == conversationID && m.SenderType == sender {
			n++
		}
	}
	return n, nil
}

func (r *MessageRepo) HasStepMessage(_ context.Context, conversationID, enrollmentID int64, stepOrder int) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, step := strconv.FormatInt(enrollmentID, 10), strconv.Itoa(stepOrder)
	for _, m := range r.s.messages {
		if m.ConversationID == conversationID && m.SenderType == model.SenderAgent &&
			m.DeliveryStatus == model.DeliverySent &&
			m.Metadata["enrollment_id"] == id && m.Metadata["step_order"] == step {
			return true, nil
		}
	}
	return false, nil
}

// ====================== Profiles ======================

type ProfileRepo struct{ s *Store }

func (r *ProfileRepo) GetBusinessProfile(_ context.Context, tenantID int64) (*model.BusinessProfile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.profiles[tenantID]
	if !ok {
		return nil, appErrors.NewProfileNotFound(tenantID)
	}
	out := *p
	return &out, nil
}

func (r *ProfileRepo) GetAgent(_ context.Context, agentID int64) (*model.Agent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.agents[agentID]
	if !ok {
		return nil, nil
	}
	out := *a
	return &out, nil
}

func cloneCampaign(c *model.Campaign) *model.Campaign {
	out := *c
	out.LeadSources = append([]string(nil), c.LeadSources...)
	out.Steps = append([]model.Step(nil), c.Steps...)
	sort.Slice(out.Steps, func(i, j int) bool { return out.Steps[i].StepOrder < out.Steps[j].StepOrder })
	return &out
}

func cloneEnrollment(e *model.Enrollment) *model.Enrollment {
	out := *e
	out.NextMessageAt = copyTime(e.NextMessageAt)
	out.CompletedAt = copyTime(e.CompletedAt)
	out.ClaimedAt = copyTime(e.ClaimedAt)
	if e.Metadata != nil {
		out.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	out := *t
	return &out
}

var (
	_ repository.CampaignRepositoryInterface     = (*CampaignRepo)(nil)
	_ repository.EnrollmentRepositoryInterface   = (*EnrollmentRepo)(nil)
	_ repository.ConversationRepositoryInterface = (*ConversationRepo)(nil)
	_ repository.MessageRepositoryInterface      = (*MessageRepo)(nil)
	_ repository.ProfileRepositoryInterface      = (*ProfileRepo)(nil)
)
