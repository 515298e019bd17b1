// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/leaddrip-backend/internal/config"
	"github.com/unclebandit/leaddrip-backend/internal/controller"
	"github.com/unclebandit/leaddrip-backend/internal/db"
	"github.com/unclebandit/leaddrip-backend/internal/gateway"
	"github.com/unclebandit/leaddrip-backend/internal/handler"
	"github.com/unclebandit/leaddrip-backend/internal/logger"
	"github.com/unclebandit/leaddrip-backend/internal/metrics"
	"github.com/unclebandit/leaddrip-backend/internal/queue"
	"github.com/unclebandit/leaddrip-backend/internal/repository"
	"github.com/unclebandit/leaddrip-backend/internal/repository/memstore"
	"github.com/unclebandit/leaddrip-backend/internal/scheduler"
	"github.com/unclebandit/leaddrip-backend/internal/service"
)

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

	// Store
	var repos repository.Repositories
	if cfg.StoreDriver == "memory" {
		log.Warn("⚠️ Using in-memory store, data is lost on restart")
		repos = memstore.New().Repositories()
	} else {
		conn, err := db.Open(ctx, cfg.DSN(), log)
		if err != nil {
			log.WithError(err).Fatal("Database unavailable")
		}
		defer conn.Close()
		repos = repository.NewPostgres(conn)
	}

	gw, err := gateway.New(cfg.SMSProvider, cfg.TwilioAccountSID, cfg.TwilioAuthToken, log)
	if err != nil {
		log.WithError(err).Fatal("SMS gateway unavailable")
	}
	gw = gateway.NewThrottled(gw, cfg.SMSRatePerSecond, cfg.SMSRateBurst)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	engine := service.NewEnrollmentEngine(repos, gw, m, log)
	engine.BatchSize = cfg.SweepBatchSize
	engine.ClaimTTL = cfg.SweepClaimTTL

	// Queue. Without a broker the worker runs in this process.
	var q queue.Queue
	if cfg.AMQPURL != "" {
		aq, err := queue.DialAMQP(cfg.AMQPURL, log)
		if err != nil {
			log.WithError(err).Fatal("RabbitMQ unavailable")
		}
		q = aq
	} else {
		q = queue.NewInMemoryQueue(log)
		worker := service.NewWorker(engine, repos.Profiles, gw, nil, log)
		if err := worker.Start(q); err != nil {
			log.WithError(err).Fatal("Failed to start in-process worker")
		}
		sched, err := scheduler.New(q, cfg.SweepSchedule, log)
		if err != nil {
			log.WithError(err).Fatal("Invalid sweep schedule")
		}
		sched.Start()
		defer sched.Stop()
	}
	defer q.Close()

	campaignController := &controller.CampaignController{
		CampaignService: &service.CampaignService{
			CampaignRepo: repos.Campaigns,
			ProfileRepo:  repos.Profiles,
			Log:          log,
		},
		Log: log,
	}

	webhookController := &controller.WebhookController{
		Intake: &service.LeadIntakeService{
			CampaignRepo:     repos.Campaigns,
			EnrollmentRepo:   repos.Enrollments,
			ConversationRepo: repos.Conversations,
			ProfileRepo:      repos.Profiles,
			Engine:           engine,
			DefaultRegion:    cfg.DefaultRegion,
			Metrics:          m,
			Log:              log,
		},
		Replies: &service.ReplyService{
			ConversationRepo: repos.Conversations,
			MessageRepo:      repos.Messages,
			ProfileRepo:      repos.Profiles,
			Engine:           engine,
			Gateway:          gw,
			Queue:            q,
			Keywords:         cfg.EscalationKeywords,
			DefaultRegion:    cfg.DefaultRegion,
			Metrics:          m,
			Log:              log,
		},
		Engine: engine,
		Log:    log,
	}

	conversationHandler := handler.NewConversationHandler(repos.Conversations, repos.Enrollments, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	// Webhooks
	r.Post("/webhooks/lead", webhookController.Lead)
	r.Post("/webhooks/sms-inbound", webhookController.InboundSMS)
	r.Post("/sweeps", webhookController.Sweep)

	// Campaign routes
	r.Post("/campaigns", campaignController.CreateCampaign)
	r.Get("/campaigns", campaignController.ListCampaigns)
	r.Get("/campaigns/{id}", campaignController.GetCampaignDetails)
	r.Post("/campaigns/{id}/preview", campaignController.PersonalizedPreview)

	r.Get("/conversations/{id}/enrollments", conversationHandler.ListEnrollmentsHandler)

	srv := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("port", cfg.APIPort).Info("🚀 Server running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("Server stopped with error")
	}
}
