// Command scheduler runs the C5 scheduling loop: polling due jobs,
// acquiring per-bucket locks, dispatching executions onto the queue, and
// reconciling orphaned/failed executions.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"jobctl/internal/config"
	"jobctl/internal/lock"
	"jobctl/internal/logging"
	"jobctl/internal/queue"
	"jobctl/internal/scheduler"
	"jobctl/internal/storage/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if _, err := logging.Init(logging.DefaultConfig("jobctl-scheduler")); err != nil {
		log.Fatalf("logging: %v", err)
	}
	defer logging.Sync()
	logging.Info("scheduler starting up")

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
	locker := lock.NewLocker(redisClient)
	members := lock.NewMembership(redisClient)

	q, err := queue.Connect(ctx, cfg.Nats.URL, cfg.Nats.StreamName, cfg.Nats.ConsumerName)
	if err != nil {
		logging.Fatal("failed to connect to queue", zap.Error(err))
	}
	defer q.Close()
	logging.Info("queue connected")

	engine := scheduler.NewEngine(scheduler.Config{
		PollInterval:      cfg.Scheduler.PollInterval(),
		ReconcileInterval: 30 * time.Second,
		LockTTL:           cfg.Scheduler.LockTTL(),
		StaleSince:        2 * cfg.Scheduler.PollInterval(),
		DueBatchSize:      100,
	}, store, store, q, locker, members)

	go engine.Run(ctx)

	sig := <-sigChan
	logging.Info("received signal, shutting down", zap.String("signal", sig.String()))
	cancel()
	time.Sleep(500 * time.Millisecond)
	logging.Info("scheduler shutdown complete")
}
