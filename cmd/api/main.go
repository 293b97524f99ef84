// Command api runs the HTTP server exposing job CRUD, manual trigger,
// execution lookup/cancellation, and cluster membership endpoints.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"jobctl/internal/api"
	"jobctl/internal/api/middleware"
	"jobctl/internal/auth"
	"jobctl/internal/config"
	"jobctl/internal/lock"
	"jobctl/internal/logging"
	"jobctl/internal/queue"
	"jobctl/internal/storage/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if _, err := logging.Init(logging.DefaultConfig("jobctl-api")); err != nil {
		log.Fatalf("logging: %v", err)
	}
	defer logging.Sync()
	logging.Info("api starting up")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	store, err := postgres.Open(postgres.Config{
		URL:            cfg.Database.URL,
		MaxConnections: cfg.Database.MaxConnections,
		MinConnections: cfg.Database.MinConnections,
		ConnectTimeout: time.Duration(cfg.Database.ConnectTimeoutSeconds) * time.Second,
	})
	if err != nil {
		logging.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer store.Close()
	logging.Info("postgres connected")

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logging.Fatal("invalid redis url", zap.Error(err))
	}
	redisOpts.PoolSize = cfg.Redis.PoolSize
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	members := lock.NewMembership(redisClient)
	apiKeyStore := auth.NewRedisAPIKeyStore(redisClient)

	q, err := queue.Connect(ctx, cfg.Nats.URL, cfg.Nats.StreamName, cfg.Nats.ConsumerName)
	if err != nil {
		logging.Fatal("failed to connect to queue", zap.Error(err))
	}
	defer q.Close()
	logging.Info("queue connected")

	var jwtService *auth.JWTService
	if cfg.Auth.Enabled {
		jwtCfg := auth.DefaultJWTConfig()
		jwtCfg.SecretKey = cfg.Auth.JWTSecret
		jwtCfg.Issuer = cfg.Auth.JWTIssuer
		jwtService, err = auth.NewJWTService(jwtCfg)
		if err != nil {
			logging.Fatal("failed to initialize JWT service", zap.Error(err))
		}
	}

	server := api.NewServer(api.Config{
		Port:          fmt.Sprintf("%d", cfg.Server.Port),
		JobStore:      store,
		ExecStore:     store,
		Publisher:     q,
		Nodes:         members,
		NodeStaleness: 2 * cfg.Scheduler.PollInterval(),
		AuthConfig: middleware.AuthConfig{
			JWTService:  jwtService,
			APIKeyStore: apiKeyStore,
			SkipPaths:   []string{"/health", "/metrics"},
		},
		RequireAuth: cfg.Auth.Enabled,
	})

	go func() {
		if err := server.Start(); err != nil {
			logging.Error("server error", zap.Error(err))
		}
	}()
	logging.Info("api server started", zap.Int("port", cfg.Server.Port))

	sig := <-sigChan
	logging.Info("received signal, shutting down", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error("shutdown error", zap.Error(err))
	}

	cancel()
	logging.Info("api shutdown complete")
}
