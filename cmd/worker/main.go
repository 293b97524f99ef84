// Command worker runs the C6 worker engine: it consumes queued
// executions, claims them, runs each step through the step state
// machine, and persists results — the rework of the teacher's
// cmd/executor for the multi-step job model.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"jobctl/internal/config"
	"jobctl/internal/domain"
	"jobctl/internal/lock"
	"jobctl/internal/logging"
	"jobctl/internal/queue"
	"jobctl/internal/statuschannel"
	"jobctl/internal/storage/objectstore"
	"jobctl/internal/storage/postgres"
	"jobctl/internal/worker"
	"jobctl/internal/worker/breaker"
	"jobctl/internal/worker/stepmachine"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if _, err := logging.Init(logging.DefaultConfig("jobctl-worker")); err != nil {
		log.Fatalf("logging: %v", err)
	}
	defer logging.Sync()
	logging.Info("worker starting up")

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

	blobs, err := objectstore.Open(ctx, objectstore.Config{
		Bucket:    cfg.ObjectStore.Bucket,
		Region:    cfg.ObjectStore.Region,
		Endpoint:  cfg.ObjectStore.Endpoint,
		AccessKey: cfg.ObjectStore.AccessKey,
		SecretKey: cfg.ObjectStore.SecretKey,
	})
	if err != nil {
		logging.Fatal("failed to connect to object store", zap.Error(err))
	}
	logging.Info("object store connected")

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logging.Fatal("invalid redis url", zap.Error(err))
	}
	redisOpts.PoolSize = cfg.Redis.PoolSize
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	members := lock.NewMembership(redisClient)

	q, err := queue.Connect(ctx, cfg.Nats.URL, cfg.Nats.StreamName, cfg.Nats.ConsumerName)
	if err != nil {
		logging.Fatal("failed to connect to queue", zap.Error(err))
	}
	defer q.Close()
	logging.Info("queue connected")

	status := statuschannel.New(q.Conn())

	registry := stepmachine.NewRegistry()
	registry.Register(domain.StepTypeHTTP, stepmachine.NewHTTPExecutor(&http.Client{Timeout: 30 * time.Second}))
	registry.Register(domain.StepTypeSQL, stepmachine.NewSQLExecutor())
	registry.Register(domain.StepTypeFileTransform, stepmachine.NewFileTransformExecutor(blobs))
	registry.Register(domain.StepTypeSFTP, stepmachine.NewSFTPExecutor(blobs))

	breakers := breaker.NewRegistry(breaker.DefaultConfig())
	machine := stepmachine.NewMachine(registry, breakers)

	engine := worker.NewEngine(worker.Config{
		ConsumerName: cfg.Nats.ConsumerName,
		Concurrency:  cfg.Worker.Concurrency,
	}, store, store, q, blobs, machine, status, members)

	done := make(chan struct{})
	go func() {
		engine.Run(ctx, 10*time.Second, 30*time.Second)
		close(done)
	}()

	sig := <-sigChan
	logging.Info("received signal, shutting down", zap.String("signal", sig.String()))
	cancel()
	<-done
	logging.Info("worker shutdown complete")
}
