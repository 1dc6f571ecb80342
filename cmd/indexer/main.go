// Package main implements the indexer worker: it consumes catalog change
// events and keeps the product vector index current.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/retailkiosk/retail-kiosk/engine/catalog"
	"github.com/retailkiosk/retail-kiosk/engine/embed"
	"github.com/retailkiosk/retail-kiosk/engine/indexer"
	"github.com/retailkiosk/retail-kiosk/engine/semantic"
	"github.com/retailkiosk/retail-kiosk/pkg/fn"
)

// Config holds all environment-based configuration.
type Config struct {
	OllamaURL      string
	EmbedModel     string
	Neo4jURL       string
	Neo4jUser      string
	Neo4jPass      string
	QdrantURL      string
	Collection     string
	NatsURL        string
	ReindexOnStart bool
}

func loadConfig() Config {
	return Config{
		OllamaURL:      envOr("OLLAMA_URL", "http://localhost:11434"),
		EmbedModel:     envOr("EMBED_MODEL", "all-minilm"),
		Neo4jURL:       envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser:      envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:      envOr("NEO4J_PASS", "password"),
		QdrantURL:      envOr("QDRANT_URL", "localhost:6334"),
		Collection:     envOr("QDRANT_COLLECTION", "products"),
		NatsURL:        envOr("NATS_URL", nats.DefaultURL),
		ReindexOnStart: os.Getenv("REINDEX_ON_START") == "true",
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
		logger.Error("indexer exited with error", "err", err)
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

	store := catalog.NewStore(driver)

	vectorStore, err := semantic.New(cfg.QdrantURL, cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectorStore.Close()

	if err := vectorStore.EnsureCollection(ctx, embed.Dimensions); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}

	nc, err := fn.Retry(ctx, fn.DefaultRetry, func(context.Context) fn.Result[*nats.Conn] {
		return fn.FromPair(nats.Connect(cfg.NatsURL))
	}).Unwrap()
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()

	embedder := embed.NewOllamaClient(cfg.OllamaURL, cfg.EmbedModel, embed.WithRateLimit(10, 2))
	ix := indexer.New(store, vectorStore, embedder, logger)

	if cfg.ReindexOnStart {
		n, err := ix.ReindexAll(ctx)
		if err != nil {
			return fmt.Errorf("reindex (%d done): %w", n, err)
		}
		logger.Info("startup reindex complete", "products", n)
	}

	subs, err := indexer.StartConsumer(nc, ix, logger)
	if err != nil {
		return err
	}
	defer func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	}()

	logger.Info("indexer running",
		"updated_subject", indexer.UpdatedSubject,
		"deleted_subject", indexer.DeletedSubject,
	)
	<-ctx.Done()
	logger.Info("shutdown signal received")
	return nil
}
