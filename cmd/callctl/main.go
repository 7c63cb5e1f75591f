package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callplane/internal/audit"
	"callplane/internal/auth"
	"callplane/internal/config"
	"callplane/internal/events"
	"callplane/internal/httpapi"
	"callplane/internal/media"
	"callplane/internal/session"
	"callplane/internal/signaling"
	"callplane/internal/suggest"
	"callplane/pkg/logger"
	"callplane/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	schema := append([]string{}, audit.Schema...)
	if !cfg.IsProduction() {
		// In production the analysis pipeline owns call_suggestions.
		schema = append(schema, suggest.Schema...)
	}
	if err := utils.ApplySchema(rootCtx, db, schema...); err != nil {
		log.Error("schema apply failed", "err", err)
		os.Exit(1)
	}

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	auditSvc := audit.NewService(audit.NewPostgresRepo(db), log)

	// Session state fan-out: the bus is the controller's publisher; the Redis mirror and the
	// suggestion trigger are observers.
	bus := events.NewBus(session.IdleSnapshot(), log)
	mirror := events.NewRedisMirror[session.Snapshot](rdb, cfg.Redis.SnapshotKey, cfg.Redis.SnapshotChannel, log)
	if _, err := mirror.Reconcile(rootCtx, func(prev session.Snapshot) bool {
		if prev.Status == session.StatusIdle {
			return false
		}
		log.Warn("mirrored session left live by a previous process, resetting",
			"status", prev.Status, "session_id", prev.SessionID)
		return true
	}, session.IdleSnapshot()); err != nil {
		log.Warn("read mirrored session failed", "err", err)
	}
	bus.Subscribe(mirror.Observe)

	retriever := suggest.NewRetriever(suggest.NewPostgresRepo(db), suggest.Options{
		Interval:        cfg.Suggestions.PollInterval,
		MaxAttempts:     cfg.Suggestions.MaxAttempts,
		MinCallDuration: cfg.Suggestions.MinCallDuration,
	}, auditSvc, log)
	trigger := suggest.NewTrigger(rootCtx, retriever, log)
	bus.Subscribe(trigger.Observe)

	deps := session.Deps{
		Gateway: signaling.NewHTTPGateway(signaling.HTTPGatewayConfig{
			BaseURL: cfg.Signaling.BaseURL,
			APIKey:  cfg.Signaling.APIKey,
			Timeout: cfg.Signaling.Timeout,
		}, log),
		Transports: signaling.NewWSTransportFactory(signaling.WSConfig{}, log),
		NewEncoder: func() media.Encoder { return &media.WAVEncoder{} },
		Publisher:  bus,
		Auditor:    auditSvc,
		Log:        log,
	}
	if cfg.Media.MicDevice != "" {
		deps.Microphone = media.DeviceMicrophone{Path: cfg.Media.MicDevice, TrackID: "local-mic"}
	}
	if cfg.Session.GuardTTL > 0 {
		deps.Guard = session.NewRedisGuard(rdb, cfg.Session.GuardTTL)
	}

	controller, err := session.New(deps, session.Options{
		TickInterval:   cfg.Session.TickInterval,
		RecordingDelay: cfg.Media.RecordingDelay,
		FlushTimeout:   cfg.Media.FlushTimeout,
		EndTimeout:     cfg.Signaling.EndTimeout,
		Media: media.Config{
			Format:        media.Format{SampleRate: cfg.Media.SampleRate, Channels: cfg.Media.Channels},
			ChunkInterval: cfg.Media.ChunkInterval,
		},
	})
	if err != nil {
		log.Error("session init failed", "err", err)
		os.Exit(1)
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log, "/healthz"))

	streamsDone := make(chan struct{})
	h := httpapi.Handlers{
		Auth:        authManager,
		Calls:       controller,
		Events:      bus,
		Suggestions: retriever,
		Done:        streamsDone,
	}
	registerRoutes(r, h, auth.RequireAccessToken(authManager), !cfg.IsProduction())

	// WriteTimeout stays unset: /v1/call/events is a long-lived stream.
	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	srv.RegisterOnShutdown(func() { close(streamsDone) })

	go func() {
		log.Info("callctl listening", "addr", srv.Addr, "env", cfg.App.Env)
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
	if err := controller.End(shutdownCtx); err != nil {
		log.Error("call teardown failed", "err", err)
	}
	trigger.Wait()
	mirror.Close()
}
