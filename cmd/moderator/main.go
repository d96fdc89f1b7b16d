// The moderator worker consumes moderation intents from NATS and applies
// them to the chat stores: automatic escalations from the strike policy,
// and reversals from overturned appeals. Intents are consumed in a queue
// group so multiple instances never double-apply.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/milaap/platform/internal/block"
	"github.com/milaap/platform/internal/messaging"
	"github.com/milaap/platform/internal/moderation"
	"github.com/milaap/platform/internal/room"
	"github.com/milaap/platform/internal/storage"
)

const intentQueue = "moderator"

func main() {
	log.Println("Starting Milaap moderator worker...")

	// PostgreSQL setup.
	pgConfig := storage.DefaultConfig()
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		pgConfig.DSN = v
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	db, err := storage.Open(ctx, pgConfig)
	cancel()
	if err != nil {
		log.Fatalf("failed to connect to PostgreSQL: %v", err)
	}
	if dir := os.Getenv("MIGRATIONS_DIR"); dir != "" {
		if err := storage.Migrate(db, dir); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
	}

	// Redis setup for the block cache.
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	cancel()

	// NATS setup.
	natsConfig := messaging.DefaultConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "milaap-moderator"

	natsClient, err := messaging.NewClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	rooms := room.NewStore(db)
	blocks := block.NewRegistry(db, block.NewCache(rdb))
	applier := moderation.NewApplier(rooms, blocks)

	err = natsClient.SubscribeModerationIntents(intentQueue, func(intent messaging.ModerationIntent) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := applier.Apply(ctx, intent); err != nil {
			log.Printf("[moderator] apply %s intent (log %s): %v", intent.Kind, intent.LogID, err)
		}
	})
	if err != nil {
		log.Fatalf("failed to subscribe to moderation intents: %v", err)
	}

	log.Printf("Milaap moderator worker running")
	log.Printf("  postgres:   %s", pgConfig.DSN)
	log.Printf("  redis_addr: %s", redisAddr)
	log.Printf("  nats_url:   %s", natsConfig.URL)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	natsClient.Close()
	rdb.Close()
	db.Close()
}
