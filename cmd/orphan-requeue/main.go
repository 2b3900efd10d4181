// orphan-requeue runs one reconciliation sweep: diplomas stuck in pending or processing
// for longer than SWEEP_STALE_AFTER_SECONDS are republished to the generation topic.
//
// Usage (from backend directory):
//
//	DB_*=... REDIS_ADDRESS=... PUBSUB_PROJECT_ID=... go run ./cmd/orphan-requeue
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/diplomas_backend/config"
	"github.com/mmdatafocus/diplomas_backend/workflow"
)

func main() {
	cfg := config.LoadConfig()
	config.SetLogLevel(cfg.LogLevel)
	logger := config.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := config.ConnectDatabaseWithRetry(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database not connected: %v\n", err)
		os.Exit(1)
	}
	defer config.CloseDatabase(db)

	rdb, err := config.ConnectRedisWithRetry(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis not connected: %v\n", err)
		os.Exit(1)
	}
	defer rdb.Close()

	client, err := config.NewPubSubClient(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pubsub not connected: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()
	topic, err := config.CreateTopicIfNotExists(ctx, client, cfg.DiplomaTopic)
	if err != nil {
		fmt.Fprintf(os.Stderr, "declare topic: %v\n", err)
		os.Exit(1)
	}
	defer topic.Stop()

	sweeper := workflow.NewOrphanSweeper(db, redislock.New(rdb), workflow.NewPubSubPublisher(topic), cfg, logger)
	n, err := sweeper.SweepOnce(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sweep failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("requeued %d stale diplomas\n", n)
}
