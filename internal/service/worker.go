package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/leaddrip-backend/internal/errors"
	"github.com/unclebandit/leaddrip-backend/internal/gateway"
	"github.com/unclebandit/leaddrip-backend/internal/model"
	"github.com/unclebandit/leaddrip-backend/internal/queue"
	"github.com/unclebandit/leaddrip-backend/internal/repository"
)

// Lease serialises sweeps across worker replicas.
type Lease interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) (bool, error)
}

// Worker processes queued sweep jobs and escalation alerts
type Worker struct {
	Engine      *EnrollmentEngine
	ProfileRepo repository.ProfileRepositoryInterface
	Gateway     gateway.Gateway
	Lease       Lease // optional
	Log         logrus.FieldLogger

	now func() time.Time
}

// Constructor
func NewWorker(engine *EnrollmentEngine, profiles repository.ProfileRepositoryInterface, gw gateway.Gateway, lease Lease, log logrus.FieldLogger) *Worker {
	return &Worker{
		Engine:      engine,
		ProfileRepo: profiles,
		Gateway:     gw,
		Lease:       lease,
		Log:         log,
		now:         time.Now,
	}
}

// Start subscribes the worker's handlers on q.
func (w *Worker) Start(q queue.Queue) error {
	if err := q.Subscribe(queue.TopicSweep, w.HandleSweep); err != nil {
		return fmt.Errorf("subscribe %s: %w", queue.TopicSweep, err)
	}
	if err := q.Subscribe(queue.TopicEscalated, w.HandleEscalation); err != nil {
		return fmt.Errorf("subscribe %s: %w", queue.TopicEscalated, err)
	}
	w.Log.Info("👷 Worker subscribed to sweep and escalation jobs")
	return nil
}

// HandleSweep runs one sweep at the current time. The job's own timestamp is
// only logged; a job that waited in the queue still sweeps everything due now.
func (w *Worker) HandleSweep(ctx context.Context, body []byte) error {
	var job model.SweepJob
	if err := json.Unmarshal(body, &job); err != nil {
		w.Log.WithError(err).Warn("⚠️ Invalid sweep job, dropping")
		return nil
	}

	run := func(ctx context.Context) error {
		res, err := w.Engine.ProcessDue(ctx, w.now())
		if err != nil {
			return err
		}
		w.Log.WithFields(logrus.Fields{
			"run_id":       res.RunID,
			"source":       job.Source,
			"requested_at": job.RequestedAt,
			"sent":         res.Sent,
			"failed":       res.Failed,
		}).Info("📩 Sweep job processed")
		return nil
	}

	if w.Lease == nil {
		return run(ctx)
	}
	ran, err := w.Lease.Do(ctx, run)
	if err != nil {
		return err
	}
	if !ran {
		w.Log.Debug("Sweep already running elsewhere, skipping")
	}
	return nil
}

// HandleEscalation texts the tenant's notify phone about a lead who asked for
// a person. Tenants without a notify phone are skipped.
func (w *Worker) HandleEscalation(ctx context.Context, body []byte) error {
	var ev model.EscalationEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		w.Log.WithError(err).Warn("⚠️ Invalid escalation event, dropping")
		return nil
	}
	log := w.Log.WithField("conversation_id", ev.ConversationID)

	profile, err := w.ProfileRepo.GetBusinessProfile(ctx, ev.TenantID)
	if err != nil {
		if appErrors.IsNotFound(err) {
			return nil
		}
		return err
	}
	if profile.NotifyPhone == "" {
		log.Debug("No notify phone configured, skipping alert")
		return nil
	}

	who := ev.LeadName
	if who == "" {
		who = ev.LeadPhone
	}
	alert := fmt.Sprintf("🙋 %s (%s) asked for a person: %q", who, ev.LeadPhone, ev.Message)

	res, err := w.Gateway.Send(ctx, ev.BusinessNumber, profile.NotifyPhone, alert)
	if err != nil {
		return err // retried by the queue
	}
	if res == nil {
		log.Error("❌ Escalation alert got an empty gateway result")
		return nil
	}
	if !res.Success {
		log.WithField("reason", res.Error).Error("❌ Escalation alert rejected")
		return nil
	}
	log.Info("✅ Escalation alert sent")
	return nil
}
