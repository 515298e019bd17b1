package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/unclebandit/leaddrip-backend/internal/model"
	"github.com/unclebandit/leaddrip-backend/internal/queue"
)

// Scheduler publishes a sweep job on every cron tick. It does not run the
// sweep itself; whichever worker consumes drip.sweep does.
type Scheduler struct {
	cron  *cron.Cron
	queue queue.Queue
	log   logrus.FieldLogger
	now   func() time.Time
}

// New validates spec and registers the sweep trigger.
func New(q queue.Queue, spec string, log logrus.FieldLogger) (*Scheduler, error) {
	s := &Scheduler{
		cron:  cron.New(),
		queue: q,
		log:   log,
		now:   time.Now,
	}
	if _, err := s.cron.AddFunc(spec, func() { s.Tick() }); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return s, nil
}

// Tick publishes one sweep job.
func (s *Scheduler) Tick() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	job := model.SweepJob{RequestedAt: s.now().UTC(), Source: "cron"}
	if err := s.queue.Publish(ctx, queue.TopicSweep, job); err != nil {
		s.log.WithError(err).Error("❌ Failed to publish sweep job")
		return err
	}
	s.log.WithField("requested_at", job.RequestedAt).Debug("🕐 Sweep job published")
	return nil
}

func (s *Scheduler) Start() {
	s.log.Info("🚀 Starting sweep scheduler...")
	s.cron.Start()
}

// Stop waits for a running tick to finish.
func (s *Scheduler) Stop() {
	s.log.Info("🛑 Stopping sweep scheduler...")
	<-s.cron.Stop().Done()
}
