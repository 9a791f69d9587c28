package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"call-lead-pipeline/internal/agents"
	"call-lead-pipeline/internal/audit"
	"call-lead-pipeline/internal/auth"
	"call-lead-pipeline/internal/broadcast"
	"call-lead-pipeline/internal/config"
	"call-lead-pipeline/internal/extraction"
	"call-lead-pipeline/internal/metrics"
	"call-lead-pipeline/internal/notify"
	"call-lead-pipeline/internal/pipeline"
	"call-lead-pipeline/internal/records"
	"call-lead-pipeline/internal/streaming"
	"call-lead-pipeline/internal/telephony"
	"call-lead-pipeline/internal/transcription"
	"call-lead-pipeline/pkg/logger"
	"call-lead-pipeline/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
)

const (
	hubBuffer    = 64
	drainTimeout = 2 * time.Minute
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log, logCloser := logger.NewWithOptions(logger.Options{Env: cfg.App.Env, File: cfg.Log.File, MaxSizeMB: cfg.Log.MaxSizeMB})
	defer logCloser.Close()
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	instanceID := uuid.NewString()
	m := metrics.New()

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	var db *sql.DB
	if cfg.DB.Enabled() {
		db, err = utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{ConnectWait: 15 * time.Second})
		if err != nil {
			// The fallback file keeps the pipeline running; Reconcile catches up later.
			log.Error("postgres init failed, using fallback store only", "err", err)
			db = nil
		} else {
			defer db.Close()
		}
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	// Persistence
	fallback := records.NewFileStore(cfg.Storage.FallbackPath)
	var primary records.Store
	auditRepo := audit.Repository(audit.NewMemoryRepo())
	if db != nil {
		pg := records.NewPostgresStore(db)
		if err := pg.EnsureSchema(rootCtx); err != nil {
			log.Error("call_records schema failed", "err", err)
			os.Exit(1)
		}
		primary = pg

		ar := audit.NewPostgresRepo(db)
		if err := ar.EnsureSchema(rootCtx); err != nil {
			log.Error("audit schema failed", "err", err)
			os.Exit(1)
		}
		auditRepo = ar
	}
	gateway := records.NewGateway(primary, fallback, log, m)
	auditSvc := audit.NewService(auditRepo)

	// Job registry and broadcast
	var registry transcription.Registry = transcription.NewCacheRegistry(cfg.Pipeline.JobTTL)
	hub := broadcast.NewHub(hubBuffer, m)
	var publisher broadcast.Publisher = hub
	if rdb != nil {
		registry = transcription.NewRedisRegistry(rdb, instanceID, cfg.Pipeline.JobTTL)

		relay := broadcast.NewRedisRelay(rdb, hub, cfg.Redis.BroadcastChannel, instanceID, log)
		publisher = relay
		go func() {
			if err := relay.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("broadcast relay stopped", "err", err)
			}
		}()
	}

	dir, err := loadAgents(cfg.Agents.File)
	if err != nil {
		log.Error("agent directory load failed", "err", err)
		os.Exit(1)
	}

	// Providers
	twilio := telephony.NewTwilioClient(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, nil)
	assembly := transcription.NewAssemblyAI(cfg.AssemblyAI.APIKey, cfg.AssemblyAI.BaseURL, nil)
	transcriber := transcription.NewManager(assembly, twilio, transcription.DefaultJobConfig(), m)
	extractor := extraction.NewEngine(extraction.NewOpenAICompleter(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.BaseURL))
	mailer := &notify.SMTPMailer{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
	}
	dispatcher := notify.NewDispatcher(mailer, notify.Config{
		From:           cfg.SMTP.From,
		FromName:       cfg.SMTP.FromName,
		AlertRecipient: cfg.Pipeline.AlertRecipient,
		Company:        cfg.App.Company,
		DashboardURL:   cfg.App.DashboardURL,
	}, m)

	orch := pipeline.NewOrchestrator(pipeline.Deps{
		Store:       gateway,
		Registry:    registry,
		Transcriber: transcriber,
		Extractor:   extractor,
		Notifier:    dispatcher,
		Publisher:   publisher,
		Agents:      dir,
		Audit:       auditSvc,
		Metrics:     m,
		Log:         log,
	}, pipeline.Config{PollInterval: cfg.Pipeline.PollInterval, MaxAttempts: cfg.Pipeline.MaxAttempts})

	var live streaming.Provider
	if cfg.LiveTranscription() {
		dg, err := streaming.NewDeepgram(cfg.Deepgram.APIKey, cfg.Deepgram.Model, cfg.Deepgram.Language)
		if err != nil {
			log.Error("deepgram init failed", "err", err)
			os.Exit(1)
		}
		live = dg
	}

	// Scheduled reconciliation
	if cfg.Storage.ReconcileSchedule != "" && primary != nil {
		sched := cron.New()
		_, err := sched.AddFunc(cfg.Storage.ReconcileSchedule, func() {
			res, err := gateway.Reconcile(rootCtx)
			if err != nil {
				log.Error("scheduled reconcile failed", "err", err)
				return
			}
			log.Info("scheduled reconcile", "pending", res.Pending, "migrated", res.Migrated, "failed", len(res.Failed))
		})
		if err != nil {
			log.Error("reconcile schedule invalid", "err", err)
			os.Exit(1)
		}
		sched.Start()
		defer sched.Stop()
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	err = registerRoutes(r, routeDeps{
		cfg:        cfg,
		auth:       authManager,
		store:      gateway,
		reconciler: gateway,
		audit:      auditSvc,
		agents:     dir,
		pipeline:   orch,
		twilio:     twilio,
		hub:        hub,
		publisher:  publisher,
		live:       live,
		metrics:    m,
		rdb:        rdb,
	})
	if err != nil {
		log.Error("route setup failed", "err", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Export downloads can be large; sockets are hijacked and unaffected.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "instance_id", instanceID,
			"primary_store", primary != nil, "redis", rdb != nil, "live_transcription", live != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	// In-flight pipeline runs are detached from request contexts; give them
	// a bounded window to reach a terminal stage.
	drained := make(chan struct{})
	go func() {
		orch.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		log.Info("pipeline runs drained")
	case <-time.After(drainTimeout):
		log.Warn("pipeline drain timed out")
	}
}

func loadAgents(path string) (*agents.Directory, error) {
	if path == "" {
		return agents.NewDirectory()
	}
	return agents.Load(path)
}
