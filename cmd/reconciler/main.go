// Package main implements the reconciler: a scheduler around the index
// cleanup job, also triggerable on demand over NATS.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/retailkiosk/retail-kiosk/engine/catalog"
	"github.com/retailkiosk/retail-kiosk/engine/reconcile"
	"github.com/retailkiosk/retail-kiosk/engine/semantic"
	"github.com/retailkiosk/retail-kiosk/pkg/fn"
	"github.com/retailkiosk/retail-kiosk/pkg/natsutil"
)

// Config holds all environment-based configuration.
type Config struct {
	Neo4jURL   string
	Neo4jUser  string
	Neo4jPass  string
	QdrantURL  string
	Collection string
	NatsURL    string
	Interval   time.Duration
}

func loadConfig() Config {
	interval := 6 * time.Hour
	if v := os.Getenv("RECONCILE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			interval = d
		}
	}
	return Config{
		Neo4jURL:   envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser:  envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:  envOr("NEO4J_PASS", "password"),
		QdrantURL:  envOr("QDRANT_URL", "localhost:6334"),
		Collection: envOr("QDRANT_COLLECTION", "products"),
		NatsURL:    envOr("NATS_URL", nats.DefaultURL),
		Interval:   interval,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(loadConfig(), logger); err != nil {
		logger.Error("reconciler exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		return fmt.Errorf("neo4j driver: %w", err)
	}
	defer driver.Close(ctx)

	vectorStore, err := semantic.New(cfg.QdrantURL, cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectorStore.Close()

	nc, err := fn.Retry(ctx, fn.DefaultRetry, func(context.Context) fn.Result[*nats.Conn] {
		return fn.FromPair(nats.Connect(cfg.NatsURL))
	}).Unwrap()
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()

	job := reconcile.NewJob(vectorStore, catalog.NewStore(driver), logger)

	runPass := func(ctx context.Context) (reconcile.Report, error) {
		report, err := job.CleanupStaleVectors(ctx)
		if err != nil {
			return reconcile.Report{}, err
		}
		if pubErr := natsutil.Publish(ctx, nc, reconcile.ReportSubject, report); pubErr != nil {
			logger.Error("report publish failed", "err", pubErr)
		}
		return report, nil
	}

	// On-demand trigger: the API forwards admin requests here and relays
	// the report back.
	sub, err := natsutil.SubscribeReply(nc, reconcile.TriggerSubject, func(ctx context.Context, _ struct{}) (reconcile.Report, error) {
		report, err := runPass(ctx)
		if err != nil {
			logger.Error("triggered pass failed", "err", err)
			return reconcile.Report{}, err
		}
		return report, nil
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", reconcile.TriggerSubject, err)
	}
	defer sub.Unsubscribe()

	logger.Info("reconciler running", "interval", cfg.Interval)
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := runPass(ctx); err != nil {
				// Failed passes are retried on the next tick.
				logger.Error("scheduled pass failed", "err", err)
			}
		case <-ctx.Done():
			logger.Info("shutdown signal received")
			return nil
		}
	}
}
