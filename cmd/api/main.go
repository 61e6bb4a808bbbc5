package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"groundwrite/api/internal/app"
	"groundwrite/api/internal/auth"
	"groundwrite/api/internal/config"
	"groundwrite/api/internal/drafts"
	"groundwrite/api/internal/generation"
	"groundwrite/api/internal/logger"
	"groundwrite/api/internal/search"
	"groundwrite/api/internal/session"
	"groundwrite/api/internal/store"
	"groundwrite/api/internal/uploads"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	gen, err := generation.FromConfig(ctx, log, cfg)
	if err != nil {
		log.Fatal("generation provider setup failed", "provider", cfg.GenerationProvider, "error", err)
	}

	var outlines app.OutlineStore
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("database connection failed", "error", err)
		}
		defer db.Close()
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			log.Fatal("migrations failed", "error", err)
		}
		outlines = store.NewPostgresStore(db)
	} else {
		log.Warn("DATABASE_URL not set, outlines are kept in memory")
		outlines = store.NewMemoryStore()
	}

	var sessions session.Store
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL, cfg.SessionTTL)
		if err != nil {
			log.Fatal("redis connection failed", "error", err)
		}
		defer redisStore.Close()
		sessions = redisStore
	} else {
		log.Warn("REDIS_URL not set, draft sessions are kept in memory")
		sessions = session.NewMemoryStore(cfg.SessionTTL)
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meiliClient.Close()
	}

	opts := app.Options{
		Logger:            log,
		GenerationTimeout: cfg.GenerationTimeout,
		SearchLimit:       cfg.ExpansionSearchLimit,
		Discoverer:        search.NewService(meiliClient, log),
	}
	if strings.TrimSpace(cfg.S3Endpoint) != "" {
		fetcher, err := uploads.NewMinioFetcher(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3UseSSL)
		if err != nil {
			log.Fatal("upload store setup failed", "error", err)
		}
		opts.Uploads = fetcher
	}
	if strings.TrimSpace(cfg.DraftsDir) != "" {
		if err := os.MkdirAll(cfg.DraftsDir, 0o755); err != nil {
			log.Fatal("failed to create drafts dir", "error", err)
		}
		opts.Drafts = drafts.New(cfg.DraftsDir)
	}

	service := app.NewService(gen, sessions, outlines, opts)
	httpServer := app.NewHTTPServer(service, auth.NewAuthority([]byte(cfg.JWTSecret)), cfg.CORSOrigin, log)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// expand-all runs one generation call per paragraph
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("groundwrite API listening", "addr", cfg.Addr, "provider", cfg.GenerationProvider)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
}
