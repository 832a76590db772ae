package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/dukepan/muclumbus/internal/admin"
	"github.com/dukepan/muclumbus/internal/auth"
	"github.com/dukepan/muclumbus/internal/chatclient/fake"
	"github.com/dukepan/muclumbus/internal/config"
	"github.com/dukepan/muclumbus/internal/middleware"
	"github.com/dukepan/muclumbus/internal/observability"
	"github.com/dukepan/muclumbus/internal/obslog"
	"github.com/dukepan/muclumbus/internal/rediscache"
	"github.com/dukepan/muclumbus/internal/store/postgres"
	"github.com/dukepan/muclumbus/internal/supervisor"
)

func main() {
	manifestPath := flag.String("config", "", "path to the YAML manifest (see config.Manifest)")
	flag.Parse()

	cfg, err := config.Load(*manifestPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	ctx := context.Background()

	otelCleanup, err := observability.InitOpenTelemetry("muclumbus", "1.0.0")
	if err != nil {
		log.Fatalf("failed to initialize OpenTelemetry: %v", err)
	}
	defer func() {
		if err := otelCleanup(context.Background()); err != nil {
			log.Printf("error shutting down OpenTelemetry: %v", err)
		}
	}()

	logger := obslog.New(cfg.LogLevel)

	redisCache, err := rediscache.New(cfg.Secrets.RedisURL)
	if err != nil {
		logger.Fatal(ctx, "failed to initialize redis cache: %v", err)
	}
	defer redisCache.Close()

	dbStore, err := postgres.New(ctx, postgres.Config{
		DSN:               cfg.Secrets.DatabaseURL,
		NegativeCacheSize: 512,
		Redis:             redisCache,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to initialize store: %v", err)
	}
	defer dbStore.Close()

	// internal/chatclient.Client's real (XMPP-backed) implementation lives
	// outside this module (spec §9's chat-protocol-boundary Design Note);
	// the fake.New() double here is the wiring point a production binary
	// swaps for a real client.
	client := fake.New()

	limiter := rate.NewLimiter(rate.Limit(2), 4)

	sup, err := supervisor.New(supervisor.Config{
		Manifest: cfg.Manifest,
		Store:    dbStore,
		Client:   client,
		Logger:   logger,
		Limiter:  limiter,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to wire supervisor: %v", err)
	}

	jwtMgr, err := auth.NewJWTManager(cfg.Secrets.JWTSigningKey)
	if err != nil {
		logger.Fatal(ctx, "failed to initialize JWT manager: %v", err)
	}

	adminHandler := admin.NewRouter(admin.Config{
		Store:      dbStore,
		Search:     sup.Search,
		JWTManager: jwtMgr,
		Logger:     logger,
		Credentials: admin.Credentials{
			Username:     cfg.Secrets.AdminUsername,
			PasswordHash: cfg.Secrets.AdminPasswordHash,
		},
		RateLimiter:        middleware.NewRateLimiter(redisCache.Client()),
		PrivilegedEntities: sup.PrivilegedEntities,
	})

	server := &http.Server{
		Addr:         ":" + cfg.AdminPort,
		Handler:      adminHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info(ctx, "starting admin HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "admin HTTP server error: %v", err)
		}
	}()

	// sup.Run blocks until SIGINT/SIGTERM or ctx cancellation and drives
	// its own component shutdown sequence (see internal/supervisor).
	runErr := sup.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "admin HTTP server shutdown error: %v", err)
	}

	if runErr != nil {
		logger.Fatal(ctx, "supervisor run error: %v", runErr)
	}
	logger.Info(ctx, "muclumbus stopped")
}
