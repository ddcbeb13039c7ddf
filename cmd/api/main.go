package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"cadence/api/internal/app"
	"cadence/api/internal/archive"
	"cadence/api/internal/config"
	"cadence/api/internal/gitlab"
	"cadence/api/internal/gitrepo"
	"cadence/api/internal/identity"
	"cadence/api/internal/logging"
	"cadence/api/internal/store"
	"cadence/api/internal/tracker"
	"cadence/api/internal/tracker/local"
)

func main() {
	cfg := config.Load()
	logging.Setup(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	var dataStore store.Store
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL, cfg.DBWait)
		if err != nil {
			log.WithError(err).Fatal("database connection failed")
		}
		defer db.Close()

		applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
		if err != nil {
			log.WithError(err).Fatal("migrations failed")
		}
		log.WithField("applied", applied).Info("migrations up to date")
		dataStore = store.NewPostgresStore(db)
	} else {
		log.Warn("DATABASE_URL not set, using in-memory store")
		dataStore = store.NewMemoryStore()
	}

	// Identity bindings are cached in Redis when configured.
	var ids *identity.Service
	if strings.TrimSpace(cfg.RedisURL) != "" {
		cache, err := identity.NewRedisCache(cfg.RedisURL, cfg.IdentityTTL)
		if err != nil {
			log.WithError(err).Fatal("redis connection failed")
		}
		defer cache.Close()
		ids = identity.New(config.TrackerGitLab, dataStore, cache)
	} else {
		ids = identity.New(config.TrackerGitLab, dataStore, nil)
	}

	var (
		trackers  tracker.Factory
		localMode *local.Tracker
	)
	switch cfg.Tracker {
	case config.TrackerGitLab:
		trackers = gitlab.NewFactory(cfg.GitLabURL, &http.Client{Timeout: 30 * time.Second})
		log.WithField("url", cfg.GitLabURL).Info("using GitLab tracker")
	case config.TrackerLocal:
		if err := os.MkdirAll(cfg.LocalReposDir, 0o755); err != nil {
			log.WithError(err).Fatal("failed to create repos dir")
		}
		localMode = local.New(gitrepo.New(cfg.LocalReposDir))
		trackers = localMode
		log.WithField("repos_dir", cfg.LocalReposDir).Info("using local tracker")
	default:
		log.WithField("tracker", cfg.Tracker).Fatal("unknown tracker")
	}

	var service *app.Service
	if strings.TrimSpace(cfg.ArchiveEndpoint) != "" {
		notes, err := archive.New(archive.Options{
			Endpoint:  cfg.ArchiveEndpoint,
			AccessKey: cfg.ArchiveAccessKey,
			SecretKey: cfg.ArchiveSecretKey,
			Bucket:    cfg.ArchiveBucket,
			UseSSL:    cfg.ArchiveUseSSL,
		})
		if err != nil {
			log.WithError(err).Fatal("release archive unavailable")
		}
		if err := notes.EnsureBucket(ctx); err != nil {
			log.WithError(err).Fatal("release archive bucket")
		}
		service = app.New(cfg, dataStore, trackers, ids, notes)
	} else {
		service = app.New(cfg, dataStore, trackers, ids, nil)
	}

	if localMode != nil && cfg.SeedDemo {
		if err := service.SeedDemo(ctx, localMode); err != nil {
			log.WithError(err).Warn("demo seed failed")
		}
	}

	if cfg.DevLoginEnabled() {
		log.Warn("dev login enabled: POST /api/session/login issues tokens without credentials")
	} else if cfg.DevLogin {
		log.WithField("tracker", cfg.Tracker).Warn("DEV_LOGIN ignored outside the local tracker")
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Addr).Info("Cadence API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown error")
	}
}
