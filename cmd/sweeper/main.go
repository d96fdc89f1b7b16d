// The sweeper runs the periodic maintenance passes of the chat core:
// expiring temporary blocks, expiring context links (which closes the
// rooms they back), and lapsing attachment retention windows. Every pass
// is bounded and idempotent, so overlapping instances are safe.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/milaap/platform/internal/attachment"
	"github.com/milaap/platform/internal/block"
	"github.com/milaap/platform/internal/contextlink"
	"github.com/milaap/platform/internal/messaging"
	"github.com/milaap/platform/internal/metrics"
	"github.com/milaap/platform/internal/room"
	"github.com/milaap/platform/internal/storage"
)

const (
	defaultInterval    = time.Minute
	defaultBatch       = 500
	defaultMetricsAddr = ":9091"
)

func main() {
	log.Println("Starting Milaap sweeper...")

	interval := defaultInterval
	if v := os.Getenv("SWEEP_INTERVAL_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			interval = time.Duration(secs) * time.Second
		}
	}
	batch := defaultBatch
	if v := os.Getenv("SWEEP_BATCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			batch = n
		}
	}

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

	// NATS is optional for the sweeper: without it, room-closed events are
	// simply not published.
	var natsClient *messaging.Client
	natsConfig := messaging.DefaultConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "milaap-sweeper"
	natsClient, err = messaging.NewClient(natsConfig)
	if err != nil {
		log.Printf("[sweeper] NATS unavailable, continuing without events: %v", err)
		natsClient = nil
	}

	rooms := room.NewStore(db)
	blocks := block.NewRegistry(db, nil)
	attachments := attachment.NewStore(db)

	// The sweeper never creates links, so it needs no context directory.
	var events contextlink.EventPublisher
	if natsClient != nil {
		events = natsClient
	}
	links := contextlink.NewResolver(db, rooms, nil, events)

	// Metrics endpoint.
	metricsAddr := defaultMetricsAddr
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		metricsAddr = v
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[sweeper] metrics server: %v", err)
		}
	}()

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				runSweeps(blocks, links, attachments, batch)
			}
		}
	}()

	log.Printf("Milaap sweeper running")
	log.Printf("  postgres:     %s", pgConfig.DSN)
	log.Printf("  interval:     %s", interval)
	log.Printf("  batch:        %d", batch)
	log.Printf("  metrics_addr: %s", metricsAddr)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	close(stop)
	<-done

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	metricsSrv.Shutdown(shutdownCtx)
	cancel()
	if natsClient != nil {
		natsClient.Close()
	}
	db.Close()
}

func runSweeps(blocks *block.Registry, links *contextlink.Resolver, attachments *attachment.Store, batch int) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	now := time.Now()

	if n, err := blocks.SweepExpired(ctx, now, batch); err != nil {
		log.Printf("[sweeper] block sweep: %v", err)
	} else if n > 0 {
		metrics.SweepItemsTotal.WithLabelValues("block").Add(float64(n))
		log.Printf("[sweeper] deactivated %d expired blocks", n)
	}

	if closed, err := links.SweepExpired(ctx, now, batch); err != nil {
		log.Printf("[sweeper] context link sweep: %v", err)
	} else if len(closed) > 0 {
		log.Printf("[sweeper] closed %d rooms with expired contexts", len(closed))
	}

	if n, err := attachments.SweepExpired(ctx, now, batch); err != nil {
		log.Printf("[sweeper] attachment sweep: %v", err)
	} else if n > 0 {
		log.Printf("[sweeper] expired downloads on %d attachments", n)
	}
}
