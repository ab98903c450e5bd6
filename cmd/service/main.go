package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"playlist-sync/internal/config"
	"playlist-sync/internal/realtime"
	"playlist-sync/internal/shared"
	"playlist-sync/internal/snapshot"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		shared.NewLogger(os.Stderr, log.InfoLevel).Fatal(err)
	}
	logger := shared.NewLogger(os.Stderr, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Redis is optional: without it frames only reach clients of this instance.
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatalf("relay: invalid REDIS_URL: %v", err)
		}
		rdb = redis.NewClient(opt)
		defer rdb.Close()
	}

	// Postgres is optional too: without it room snapshots live in memory.
	var store realtime.SnapshotStore
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("relay: pg: %v", err)
		}
		defer pool.Close()
		if err := snapshot.AutoMigrate(ctx, pool); err != nil {
			logger.Fatalf("relay: %v", err)
		}
		store = snapshot.NewPostgresStore(pool)
	}

	hub := realtime.NewHub()
	replicas := realtime.NewReplicas(store, logger.With("component", "replica"))
	srv := realtime.NewServer(hub, rdb, replicas, realtime.ServerConfig{
		AllowedOrigin: cfg.FrontendBaseURL,
		RateLimitRPS:  cfg.RateLimitRPS,
	}, logger.With("component", "relay"))

	go hub.Run(ctx)
	if rdb != nil {
		go func() {
			if err := srv.RunRedisSubscriber(ctx); err != nil {
				logger.Errorf("relay: %v", err)
				stop()
			}
		}()
	}

	r := srv.Router(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
		middleware.Timeout(60*time.Second),
	)
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("relay listening", "port", cfg.Port, "redis", rdb != nil, "postgres", store != nil)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("relay: %v", err)
	}
}
