package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/leaddrip-backend/internal/config"
	"github.com/unclebandit/leaddrip-backend/internal/db"
	"github.com/unclebandit/leaddrip-backend/internal/gateway"
	"github.com/unclebandit/leaddrip-backend/internal/lock"
	"github.com/unclebandit/leaddrip-backend/internal/logger"
	"github.com/unclebandit/leaddrip-backend/internal/metrics"
	"github.com/unclebandit/leaddrip-backend/internal/queue"
	"github.com/unclebandit/leaddrip-backend/internal/repository"
	"github.com/unclebandit/leaddrip-backend/internal/scheduler"
	"github.com/unclebandit/leaddrip-backend/internal/service"
)

const sweepLeaseKey = "leaddrip:sweep"

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	flush, err := logger.InitSentry(cfg.SentryDSN, cfg.Environment)
	if err != nil {
		log.WithError(err).Warn("⚠️ Sentry disabled")
	}
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to DB
	conn, err := db.Open(ctx, cfg.DSN(), log)
	if err != nil {
		log.WithError(err).Fatal("Database unavailable")
	}
	defer conn.Close()
	repos := repository.NewPostgres(conn)

	gw, err := gateway.New(cfg.SMSProvider, cfg.TwilioAccountSID, cfg.TwilioAuthToken, log)
	if err != nil {
		log.WithError(err).Fatal("SMS gateway unavailable")
	}
	gw = gateway.NewThrottled(gw, cfg.SMSRatePerSecond, cfg.SMSRateBurst)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	engine := service.NewEnrollmentEngine(repos, gw, m, log)
	engine.BatchSize = cfg.SweepBatchSize
	engine.ClaimTTL = cfg.SweepClaimTTL

	// Replicas share one lease so overlapping ticks skip instead of racing.
	var lease service.Lease
	if cfg.RedisURL != "" {
		client, err := lock.NewClient(cfg.RedisURL)
		if err != nil {
			log.WithError(err).Fatal("Redis unavailable")
		}
		defer client.Close()
		lease = lock.NewLease(client, sweepLeaseKey, cfg.SweepLeaseTTL)
	}

	// Connect to RabbitMQ
	var q queue.Queue
	if cfg.AMQPURL != "" {
		aq, err := queue.DialAMQP(cfg.AMQPURL, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to RabbitMQ")
		}
		q = aq
	} else {
		log.Warn("⚠️ AMQP_URL not set, sweeping through an in-process queue")
		q = queue.NewInMemoryQueue(log)
	}
	defer q.Close()

	worker := service.NewWorker(engine, repos.Profiles, gw, lease, log)
	if err := worker.Start(q); err != nil {
		log.WithError(err).Fatal("Failed to register consumers")
	}

	sched, err := scheduler.New(q, cfg.SweepSchedule, log)
	if err != nil {
		log.WithError(err).Fatal("Invalid sweep schedule")
	}
	sched.Start()
	defer sched.Stop()

	metricsSrv := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Worker shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	log.Info("Worker running, waiting for jobs...")
	if err := g.Wait(); err != nil {
		log.WithError(err).Error("Worker stopped with error")
	}
}
