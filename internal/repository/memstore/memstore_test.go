package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/leaddrip-backend/internal/errors"
	"github.com/unclebandit/leaddrip-backend/internal/model"
)

var base = time.Date(2026, 1, 5, 15, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := base.Add(d)
	return &t
}

func newEnrollment(t *testing.T, s *Store, campaignID int64, phone string, next *time.Time) *model.Enrollment {
	t.Helper()
	e := &model.Enrollment{
		CampaignID:       campaignID,
		ConversationID:   1,
		LeadPhone:        phone,
		Status:           model.EnrollmentActive,
		CurrentStepOrder: 1,
		NextMessageAt:    next,
	}
	require.NoError(t, s.Enrollments().Create(context.Background(), e))
	return e
}

func TestEnrollmentCreate_RejectsSecondOpenEnrollment(t *testing.T) {
	s := New()
	ctx := context.Background()
	first := newEnrollment(t, s, 1, "+12025550111", at(0))

	dup := &model.Enrollment{CampaignID: 1, LeadPhone: "+12025550111", Status: model.EnrollmentActive}
	assert.ErrorIs(t, s.Enrollments().Create(ctx, dup), appErrors.ErrAlreadyEnrolled)

	open, err := s.Enrollments().HasOpenEnrollment(ctx, 1, "+12025550111")
	require.NoError(t, err)
	assert.True(t, open)

	// Other campaigns and closed enrollments do not block.
	newEnrollment(t, s, 2, "+12025550111", at(0))
	_, err = s.Enrollments().PauseActiveByConversation(ctx, first.ConversationID)
	require.NoError(t, err)
	newEnrollment(t, s, 1, "+12025550111", at(0))
}

func TestGetDue_OrdersAndLimits(t *testing.T) {
	s := New()
	ctx := context.Background()
	late := newEnrollment(t, s, 1, "+1", at(2*time.Hour))
	early := newEnrollment(t, s, 2, "+1", at(-time.Hour))
	onTime := newEnrollment(t, s, 3, "+1", at(0))
	newEnrollment(t, s, 4, "+1", nil)

	due, err := s.Enrollments().GetDue(ctx, base, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, early.ID, due[0].ID)
	assert.Equal(t, onTime.ID, due[1].ID)

	due, err = s.Enrollments().GetDue(ctx, base.Add(3*time.Hour), 1)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.NotEqual(t, late.ID, due[0].ID)
}

func TestClaimAndFinalize(t *testing.T) {
	s := New()
	ctx := context.Background()
	e := newEnrollment(t, s, 1, "+1", at(0))
	repo := s.Enrollments()

	ok, err := repo.Claim(ctx, e.ID, base.Add(-time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "not due yet")

	ok, err = repo.Claim(ctx, e.ID, base)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Claim(ctx, e.ID, base)
	require.NoError(t, err)
	assert.False(t, ok, "second claim loses")

	ok, err = repo.Finalize(ctx, e.ID, model.EnrollmentPatch{
		Status: model.EnrollmentActive, CurrentStepOrder: 2, NextMessageAt: at(24 * time.Hour),
	})
	require.NoError(t, err)
	assert.True(t, ok)

	got := s.Enrollment(e.ID)
	assert.Equal(t, model.EnrollmentActive, got.Status)
	assert.Equal(t, 2, got.CurrentStepOrder)
	assert.Nil(t, got.ClaimedAt)

	ok, err = repo.Finalize(ctx, e.ID, model.EnrollmentPatch{Status: model.EnrollmentCompleted})
	require.NoError(t, err)
	assert.False(t, ok, "finalize needs a claim")
}

func TestPauseWinsOverClaim(t *testing.T) {
	s := New()
	ctx := context.Background()
	e := newEnrollment(t, s, 1, "+1", at(0))
	repo := s.Enrollments()

	ok, err := repo.Claim(ctx, e.ID, base)
	require.NoError(t, err)
	require.True(t, ok)

	paused, err := repo.PauseActiveByConversation(ctx, e.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, []int64{e.ID}, paused)

	ok, err = repo.Finalize(ctx, e.ID, model.EnrollmentPatch{Status: model.EnrollmentCompleted})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, model.EnrollmentPausedByReply, s.Enrollment(e.ID).Status)
}

func TestReleaseStaleClaims(t *testing.T) {
	s := New()
	ctx := context.Background()
	stale := newEnrollment(t, s, 1, "+1", at(0))
	fresh := newEnrollment(t, s, 2, "+1", at(0))
	repo := s.Enrollments()

	_, err := repo.Claim(ctx, stale.ID, base)
	require.NoError(t, err)
	_, err = repo.Claim(ctx, fresh.ID, base.Add(20*time.Minute))
	require.NoError(t, err)

	n, err := repo.ReleaseStaleClaims(ctx, base.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.EnrollmentActive, s.Enrollment(stale.ID).Status)
	assert.Equal(t, model.EnrollmentProcessing, s.Enrollment(fresh.ID).Status)
}

func TestCampaignStatsAndMatching(t *testing.T) {
	s := New()
	ctx := context.Background()
	c := &model.Campaign{TenantID: 1, Name: "Nurture", Active: true, LeadSources: []string{"angi"},
		Steps: []model.Step{{StepOrder: 1, MessageTemplate: "hi"}}}
	require.NoError(t, s.Campaigns().Create(ctx, c))
	newEnrollment(t, s, c.ID, "+1", at(0))

	stats, err := s.Campaigns().GetEnrollmentStats(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats["total"])
	assert.Equal(t, 1, stats["active"])
	assert.Equal(t, 0, stats["error"])

	matches, err := s.Campaigns().GetMatchingCampaigns(ctx, 1, "angi")
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	matches, err = s.Campaigns().GetMatchingCampaigns(ctx, 1, "website")
	require.NoError(t, err)
	assert.Empty(t, matches)

	st, err := s.Campaigns().GetStep(ctx, c.ID, 2)
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestConversationLookup(t *testing.T) {
	s := New()
	ctx := context.Background()
	convs := s.Conversations()

	_, err := convs.FindLatestByPhone(ctx, "+12025550100", "+12025550111")
	assert.True(t, appErrors.IsNotFound(err))

	c := &model.Conversation{TenantID: 1, LeadPhone: "+12025550111", BusinessNumber: "+12025550100"}
	require.NoError(t, convs.Create(ctx, c))
	assert.Equal(t, model.ConversionPending, c.ConversionStatus)

	require.NoError(t, s.Messages().RecordMessage(ctx, &model.Message{ConversationID: c.ID, SenderType: model.SenderLead, Content: "hi"}))
	n, err := s.Messages().CountBySender(ctx, c.ID, model.SenderLead)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := convs.FindLatestByPhone(ctx, "+12025550100", "+12025550111")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, 1, got.MessageCount)
}
