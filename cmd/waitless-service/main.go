package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qms/waitless-service/internal/auth"
	"qms/waitless-service/internal/cache"
	"qms/waitless-service/internal/config"
	"qms/waitless-service/internal/httpapi"
	"qms/waitless-service/internal/hub"
	"qms/waitless-service/internal/queue"
	"qms/waitless-service/internal/store/postgres"
	"qms/waitless-service/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()
	if cfg.JWTSecret == "" {
		log.Fatalf("JWT_SECRET is required")
	}

	shutdownTelemetry := telemetry.Setup("waitless-service", telemetry.Options{
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		SampleRatio: cfg.TraceSampleRatio,
	})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	var mirror cache.StatsMirror = cache.Nop{}
	if cfg.RedisURL != "" {
		redisCache, err := cache.Connect(context.Background(), cfg.RedisURL)
		if err != nil {
			log.Printf("redis unavailable, serving stats from database only: %v", err)
		} else {
			defer redisCache.Close()
			mirror = redisCache
		}
	}

	store := postgres.NewStore(pool, postgres.Options{DefaultWaitMinutes: cfg.DefaultWaitMinutes})
	events := hub.New()
	authService := auth.NewService(store, auth.Options{
		Secret:     cfg.JWTSecret,
		TokenTTL:   cfg.JWTTTL,
		BcryptCost: cfg.BcryptCost,
	})
	queueService := queue.NewService(store, store, mirror, events)
	handler := httpapi.NewHandler(queueService, authService, httpapi.Options{
		Hub:              events,
		RequireStaffAuth: cfg.RequireStaffAuth,
	})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		Window:      cfg.RateLimitWindow,
		MaxRequests: cfg.RateLimitMax,
	})

	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(handler.Routes())), "waitless-service")
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("waitless-service listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	go func() {
		if cfg.MissGrace <= 0 || cfg.MissScanInterval <= 0 {
			return
		}
		ticker := time.NewTicker(cfg.MissScanInterval)
		defer ticker.Stop()
		for range ticker.C {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			count, err := queueService.SweepCalled(ctx, cfg.MissGrace, cfg.MissBatchSize)
			cancel()
			if err != nil {
				log.Printf("auto-miss sweep error: %v", err)
				continue
			}
			if count > 0 {
				log.Printf("auto-miss sweep processed %d tickets", count)
			}
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
