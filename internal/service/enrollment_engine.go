// internal/service/enrollment_engine.go
package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/leaddrip-backend/internal/errors"
	"github.com/unclebandit/leaddrip-backend/internal/gateway"
	"github.com/unclebandit/leaddrip-backend/internal/logger"
	"github.com/unclebandit/leaddrip-backend/internal/metrics"
	"github.com/unclebandit/leaddrip-backend/internal/model"
	"github.com/unclebandit/leaddrip-backend/internal/repository"
)

const defaultSweepBatchSize = 500

// EnrollmentEngine moves enrollments through their campaign steps. It keeps
// no state between calls; every operation re-reads what it needs from the
// repositories, so any number of engines may run side by side.
type EnrollmentEngine struct {
	CampaignRepo     repository.CampaignRepositoryInterface
	EnrollmentRepo   repository.EnrollmentRepositoryInterface
	ConversationRepo repository.ConversationRepositoryInterface
	MessageRepo      repository.MessageRepositoryInterface
	ProfileRepo      repository.ProfileRepositoryInterface
	Gateway          gateway.Gateway
	Metrics          *metrics.Metrics
	Log              logrus.FieldLogger

	// BatchSize caps how many due enrollments one sweep picks up.
	BatchSize int
	// ClaimTTL is how long an enrollment may sit in processing before a sweep
	// hands it back. Zero disables the release.
	ClaimTTL time.Duration
}

func NewEnrollmentEngine(repos repository.Repositories, gw gateway.Gateway, m *metrics.Metrics, log logrus.FieldLogger) *EnrollmentEngine {
	return &EnrollmentEngine{
		CampaignRepo:     repos.Campaigns,
		EnrollmentRepo:   repos.Enrollments,
		ConversationRepo: repos.Conversations,
		MessageRepo:      repos.Messages,
		ProfileRepo:      repos.Profiles,
		Gateway:          gw,
		Metrics:          m,
		Log:              log,
	}
}

// EnrollRequest enrolls one conversation's lead into one campaign.
type EnrollRequest struct {
	Conversation *model.Conversation
	Campaign     *model.Campaign
	Variables    map[string]string
	Metadata     map[string]string
}

// SweepResult summarises one ProcessDue run.
type SweepResult struct {
	RunID     string       `json:"run_id"`
	Now       time.Time    `json:"now"`
	Released  int          `json:"released"`
	Due       int          `json:"due"`
	Claimed   int          `json:"claimed"`
	Sent      int          `json:"sent"`
	Advanced  int          `json:"advanced"`
	Completed int          `json:"completed"`
	Failed    int          `json:"failed"`
	Skipped   int          `json:"skipped"`
	Errors    []SweepError `json:"errors"`
}

// SweepError is one enrollment that could not be processed.
type SweepError struct {
	EnrollmentID int64  `json:"enrollment_id"`
	Error        string `json:"error"`
}

func (r *SweepResult) fail(id int64, err error) {
	r.Failed++
	r.Errors = append(r.Errors, SweepError{EnrollmentID: id, Error: err.Error()})
}

// ====================== Enroll ======================

// Enroll creates the enrollment for step 1. A step 1 with no delay is sent
// right away, followed by every further zero-delay step; the enrollment then
// waits on the first delayed step or completes. A delivery failure is stored
// on the returned enrollment (status error) and is not returned as an error.
func (e *EnrollmentEngine) Enroll(ctx context.Context, req EnrollRequest, now time.Time) (*model.Enrollment, error) {
	conv, campaign := req.Conversation, req.Campaign
	log := e.log().WithFields(logrus.Fields{
		"campaign_id":     campaign.ID,
		"conversation_id": conv.ID,
	})

	step, err := e.CampaignRepo.GetStep(ctx, campaign.ID, 1)
	if err != nil {
		return nil, fmt.Errorf("load step 1 of campaign %d: %w", campaign.ID, err)
	}
	if step == nil {
		return nil, appErrors.ErrCampaignHasNoSteps
	}

	enrollment := &model.Enrollment{
		TenantID:         conv.TenantID,
		CampaignID:       campaign.ID,
		ConversationID:   conv.ID,
		LeadPhone:        conv.LeadPhone,
		LeadName:         conv.LeadName,
		LeadSource:       conv.LeadSource,
		CurrentStepOrder: step.StepOrder,
		Metadata:         req.Metadata,
	}

	if !step.IsImmediate() {
		due := StepDueAt(now, step)
		enrollment.Status = model.EnrollmentActive
		enrollment.NextMessageAt = &due
		if err := e.EnrollmentRepo.Create(ctx, enrollment); err != nil {
			return nil, err
		}
		e.Metrics.Enrollment("enrolled")
		log.WithFields(logrus.Fields{"enrollment_id": enrollment.ID, "next_message_at": due}).Info("📥 Lead enrolled")
		return enrollment, nil
	}

	// Created already claimed so that a sweep cannot pick it up while step 1
	// is being sent.
	enrollment.Status = model.EnrollmentProcessing
	claimedAt := now
	enrollment.ClaimedAt = &claimedAt
	if err := e.EnrollmentRepo.Create(ctx, enrollment); err != nil {
		return nil, err
	}
	e.Metrics.Enrollment("enrolled")
	log = log.WithField("enrollment_id", enrollment.ID)
	log.Info("📥 Lead enrolled, sending first step now")

	patch, _ := e.runSteps(ctx, enrollment, step, req.Variables, conv.BusinessNumber, now)
	applied, err := e.EnrollmentRepo.Finalize(ctx, enrollment.ID, patch)
	if err != nil {
		return nil, fmt.Errorf("finalize enrollment %d: %w", enrollment.ID, err)
	}
	if !applied {
		log.Info("⏸️ Enrollment paused by a reply while sending")
		enrollment.Status = model.EnrollmentPausedByReply
		enrollment.NextMessageAt = nil
		enrollment.ClaimedAt = nil
		return enrollment, nil
	}

	applyPatch(enrollment, patch)
	e.afterFinalize(ctx, log, enrollment.ConversationID, patch)
	return enrollment, nil
}

// ====================== ProcessDue ======================

// ProcessDue sends the current step of every enrollment due at now. Each
// enrollment is claimed before anything is sent, so concurrent sweeps never
// send the same step twice. A failing enrollment is recorded in the result and
// the sweep moves on; only failing to list due work fails the call.
func (e *EnrollmentEngine) ProcessDue(ctx context.Context, now time.Time) (*SweepResult, error) {
	started := time.Now()
	result := &SweepResult{RunID: uuid.NewString(), Now: now, Errors: []SweepError{}}
	log := e.log().WithField("run_id", result.RunID)

	if e.ClaimTTL > 0 {
		released, err := e.EnrollmentRepo.ReleaseStaleClaims(ctx, now.Add(-e.ClaimTTL))
		if err != nil {
			return nil, fmt.Errorf("release stale claims: %w", err)
		}
		result.Released = released
		if released > 0 {
			log.WithField("released", released).Warn("♻️ Released stale enrollment claims")
		}
	}

	batch := e.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatchSize
	}
	due, err := e.EnrollmentRepo.GetDue(ctx, now, batch)
	if err != nil {
		return nil, fmt.Errorf("list due enrollments: %w", err)
	}
	result.Due = len(due)

	for _, d := range due {
		if ctx.Err() != nil {
			log.WithError(ctx.Err()).Warn("Sweep interrupted")
			break
		}
		e.processOne(ctx, log.WithField("enrollment_id", d.ID), d, now, result)
	}

	e.Metrics.ObserveSweep(time.Since(started), result.Failed)
	log.WithFields(logrus.Fields{
		"due":       result.Due,
		"sent":      result.Sent,
		"completed": result.Completed,
		"failed":    result.Failed,
	}).Info("✅ Sweep finished")
	return result, nil
}

func (e *EnrollmentEngine) processOne(ctx context.Context, log logrus.FieldLogger, d *model.DueEnrollment, now time.Time, result *SweepResult) {
	defer func() {
		if r := recover(); r != nil {
			// The claim stays; the stale-claim release hands it back.
			err := fmt.Errorf("panic processing enrollment: %v", r)
			result.fail(d.ID, err)
			logger.LogError(log, "sweep_panic", err, nil)
		}
	}()

	claimed, err := e.EnrollmentRepo.Claim(ctx, d.ID, now)
	if err != nil {
		result.fail(d.ID, fmt.Errorf("claim: %w", err))
		logger.LogError(log, "claim_failed", err, nil)
		return
	}
	if !claimed {
		// Another sweep or a reply got there first.
		result.Skipped++
		log.Debug("Enrollment no longer due, skipping")
		return
	}
	result.Claimed++

	patch, sent := e.advance(ctx, d, now)
	result.Sent += sent

	applied, err := e.EnrollmentRepo.Finalize(ctx, d.ID, patch)
	if err != nil {
		// Left in processing; the stale-claim release will hand it back.
		result.fail(d.ID, fmt.Errorf("finalize: %w", err))
		logger.LogError(log, "finalize_failed", err, nil)
		return
	}
	if !applied {
		result.Skipped++
		log.Info("⏸️ Enrollment paused by a reply while processing")
		return
	}

	switch patch.Status {
	case model.EnrollmentCompleted:
		result.Completed++
	case model.EnrollmentActive:
		result.Advanced++
	case model.EnrollmentError:
		result.fail(d.ID, fmt.Errorf("%s", patch.LastError))
	}
	e.afterFinalize(ctx, log, d.ConversationID, patch)
}

// advance computes the outcome for one claimed enrollment.
func (e *EnrollmentEngine) advance(ctx context.Context, d *model.DueEnrollment, now time.Time) (model.EnrollmentPatch, int) {
	step, err := e.CampaignRepo.GetStep(ctx, d.CampaignID, d.CurrentStepOrder)
	if err != nil {
		return errorPatch(d.CurrentStepOrder, fmt.Errorf("load step %d: %w", d.CurrentStepOrder, err)), 0
	}
	if step == nil {
		return completedPatch(d.CurrentStepOrder, now), 0
	}

	vars, from, err := e.variablesFor(ctx, d)
	if err != nil {
		return errorPatch(d.CurrentStepOrder, err), 0
	}
	return e.runSteps(ctx, &d.Enrollment, step, vars, from, now)
}

// variablesFor rebuilds the template variables and sender number for a due
// enrollment from the current business profile and agent.
func (e *EnrollmentEngine) variablesFor(ctx context.Context, d *model.DueEnrollment) (map[string]string, string, error) {
	profile, err := e.ProfileRepo.GetBusinessProfile(ctx, d.TenantID)
	if err != nil {
		if !appErrors.IsNotFound(err) {
			return nil, "", fmt.Errorf("load business profile: %w", err)
		}
		profile = nil
	}

	var agent *model.Agent
	if d.AgentID != nil {
		if agent, err = e.ProfileRepo.GetAgent(ctx, *d.AgentID); err != nil {
			return nil, "", fmt.Errorf("load agent: %w", err)
		}
	}

	from := d.BusinessNumber
	if from == "" && profile != nil {
		from = profile.SMSNumber
	}
	if from == "" {
		return nil, "", fmt.Errorf("no business number for tenant %d", d.TenantID)
	}

	return BuildVariables(leadFromEnrollment(&d.Enrollment), profile, agent), from, nil
}

// leadFromEnrollment prefers the names stored at intake over splitting the
// full name again.
func leadFromEnrollment(en *model.Enrollment) LeadInfo {
	first, last := en.Metadata[metaFirstName], en.Metadata[metaLastName]
	if first == "" && last == "" {
		return LeadFromName(en.LeadName, en.LeadPhone, en.LeadSource)
	}
	return LeadInfo{FirstName: first, LastName: last, Phone: en.LeadPhone, Source: en.LeadSource}
}

// runSteps sends step and then every following zero-delay step. It returns
// the patch to finalize with and how many messages went out.
func (e *EnrollmentEngine) runSteps(ctx context.Context, enrollment *model.Enrollment, step *model.Step, vars map[string]string, from string, now time.Time) (model.EnrollmentPatch, int) {
	sent := 0
	for {
		// A claim released after a lost finalize comes back at an older step.
		delivered, err := e.MessageRepo.HasStepMessage(ctx, enrollment.ConversationID, enrollment.ID, step.StepOrder)
		if err != nil {
			return errorPatch(step.StepOrder, fmt.Errorf("check step %d: %w", step.StepOrder, err)), sent
		}
		if delivered {
			e.log().WithFields(logrus.Fields{
				"enrollment_id": enrollment.ID,
				"step":          step.StepOrder,
			}).Warn("Step already delivered, not sending again")
		} else {
			if err := e.deliver(ctx, enrollment, step, vars, from); err != nil {
				return errorPatch(step.StepOrder, err), sent
			}
			sent++
		}

		next, err := e.CampaignRepo.GetStep(ctx, enrollment.CampaignID, step.StepOrder+1)
		if err != nil {
			return errorPatch(step.StepOrder, fmt.Errorf("load step %d: %w", step.StepOrder+1, err)), sent
		}
		if next == nil {
			return completedPatch(step.StepOrder, now), sent
		}
		if !next.IsImmediate() {
			due := StepDueAt(now, next)
			return model.EnrollmentPatch{
				Status:           model.EnrollmentActive,
				CurrentStepOrder: next.StepOrder,
				NextMessageAt:    &due,
			}, sent
		}
		step = next
	}
}

// deliver renders and sends one step and records the message whatever the
// outcome. The returned error is the delivery failure, if any.
func (e *EnrollmentEngine) deliver(ctx context.Context, enrollment *model.Enrollment, step *model.Step, vars map[string]string, from string) error {
	body := RenderTemplate(step.MessageTemplate, vars)
	msg := &model.Message{
		ConversationID: enrollment.ConversationID,
		SenderType:     model.SenderAgent,
		Content:        body,
		Metadata: map[string]string{
			"enrollment_id": strconv.FormatInt(enrollment.ID, 10),
			"campaign_id":   strconv.FormatInt(enrollment.CampaignID, 10),
			"step_order":    strconv.Itoa(step.StepOrder),
		},
	}

	var failure error
	res, err := e.send(ctx, from, enrollment.LeadPhone, body)
	switch {
	case err != nil:
		failure = fmt.Errorf("send step %d: %w", step.StepOrder, err)
	case res == nil:
		failure = fmt.Errorf("send step %d: empty gateway result", step.StepOrder)
	case !res.Success:
		msg.ProviderMessageID = res.ProviderMessageID
		failure = fmt.Errorf("step %d rejected: %s", step.StepOrder, res.Error)
	default:
		msg.ProviderMessageID = res.ProviderMessageID
	}

	if failure != nil {
		msg.DeliveryStatus = model.DeliveryFailed
		msg.LastError = failure.Error()
	} else {
		msg.DeliveryStatus = model.DeliverySent
	}
	e.Metrics.Message(msg.DeliveryStatus)

	if err := e.MessageRepo.RecordMessage(ctx, msg); err != nil {
		if failure != nil {
			e.log().WithError(err).WithField("enrollment_id", enrollment.ID).Error("failed to record failed message")
			return failure
		}
		// Sent but not logged. Treat as failed so the step is not sent again.
		return fmt.Errorf("record step %d: %w", step.StepOrder, err)
	}
	return failure
}

// send calls the gateway, reporting a panicking provider as a send error.
func (e *EnrollmentEngine) send(ctx context.Context, from, to, body string) (res *gateway.SendResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("gateway panic: %v", r)
		}
	}()
	return e.Gateway.Send(ctx, from, to, body)
}

// afterFinalize runs the side effects of a written patch.
func (e *EnrollmentEngine) afterFinalize(ctx context.Context, log logrus.FieldLogger, conversationID int64, patch model.EnrollmentPatch) {
	switch patch.Status {
	case model.EnrollmentActive:
		e.Metrics.Enrollment("advanced")
		log.WithFields(logrus.Fields{
			"step":            patch.CurrentStepOrder,
			"next_message_at": patch.NextMessageAt,
		}).Info("⏭️ Enrollment scheduled")
	case model.EnrollmentCompleted:
		e.Metrics.Enrollment("completed")
		log.Info("🏁 Enrollment completed")
		e.applyNoReplyRule(ctx, log, conversationID)
	case model.EnrollmentError:
		e.Metrics.Enrollment("error")
		logger.LogError(log, "enrollment_failed", fmt.Errorf("%s", patch.LastError), map[string]interface{}{
			"step": patch.CurrentStepOrder,
		})
	}
}

// applyNoReplyRule closes out a conversation whose lead never answered.
func (e *EnrollmentEngine) applyNoReplyRule(ctx context.Context, log logrus.FieldLogger, conversationID int64) {
	replies, err := e.MessageRepo.CountBySender(ctx, conversationID, model.SenderLead)
	if err != nil {
		log.WithError(err).Error("failed to count lead replies")
		return
	}
	if replies > 0 {
		return
	}
	if err := e.ConversationRepo.MarkNoResponse(ctx, conversationID); err != nil {
		log.WithError(err).Error("failed to mark conversation no_response")
		return
	}
	log.WithField("conversation_id", conversationID).Info("🔕 Conversation ended without a reply")
}

// ====================== HandleReply ======================

// HandleReply pauses every open enrollment of the conversation. Paused
// enrollments are never resumed automatically.
func (e *EnrollmentEngine) HandleReply(ctx context.Context, conversationID int64) ([]int64, error) {
	ids, err := e.EnrollmentRepo.PauseActiveByConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("pause enrollments of conversation %d: %w", conversationID, err)
	}
	for range ids {
		e.Metrics.Enrollment("paused")
	}
	if len(ids) > 0 {
		e.log().WithFields(logrus.Fields{
			"conversation_id": conversationID,
			"enrollment_ids":  ids,
		}).Info("⏸️ Enrollments paused by reply")
	}
	return ids, nil
}

func (e *EnrollmentEngine) log() logrus.FieldLogger {
	if e.Log != nil {
		return e.Log
	}
	return logrus.StandardLogger()
}

func errorPatch(stepOrder int, err error) model.EnrollmentPatch {
	return model.EnrollmentPatch{
		Status:           model.EnrollmentError,
		CurrentStepOrder: stepOrder,
		LastError:        err.Error(),
	}
}

func completedPatch(stepOrder int, now time.Time) model.EnrollmentPatch {
	completedAt := now
	return model.EnrollmentPatch{
		Status:           model.EnrollmentCompleted,
		CurrentStepOrder: stepOrder,
		CompletedAt:      &completedAt,
	}
}

func applyPatch(e *model.Enrollment, p model.EnrollmentPatch) {
	e.Status = p.Status
	e.CurrentStepOrder = p.CurrentStepOrder
	e.NextMessageAt = p.NextMessageAt
	e.CompletedAt = p.CompletedAt
	e.LastError = p.LastError
	e.ClaimedAt = nil
}
