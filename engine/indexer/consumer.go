package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/retailkiosk/retail-kiosk/pkg/natsutil"
)

const (
	// UpdatedSubject carries skus whose catalog record changed.
	UpdatedSubject = "catalog.product.updated"
	// DeletedSubject carries skus removed from the catalog.
	DeletedSubject = "catalog.product.deleted"
	// DLQSubject receives update events that exhausted their retries.
	DLQSubject = "catalog.index.dlq"
	// QueueGroup load-balances events across indexer processes.
	QueueGroup = "indexer"
	// MaxRetries before an update event lands on the DLQ.
	MaxRetries = 3

	retryHeader = "X-Retry-Count"
)

// ProductEvent announces a catalog change for one sku.
type ProductEvent struct {
	SKU string `json:"sku"`
}

// dlqMessage is published to the DLQ on repeated failure.
type dlqMessage struct {
	Event   ProductEvent `json:"event"`
	Error   string       `json:"error"`
	Retries int          `json:"retries"`
}

// StartConsumer subscribes the indexer to catalog change events. Update
// events run the full pipeline with retry and DLQ handling; delete events
// are idempotent evictions and are handled without retries.
func StartConsumer(nc *nats.Conn, ix *Indexer, logger *slog.Logger) ([]*nats.Subscription, error) {
	if logger == nil {
		logger = slog.Default()
	}

	updated, err := nc.QueueSubscribe(UpdatedSubject, QueueGroup, func(msg *nats.Msg) {
		var ev ProductEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			logger.Error("indexer: unmarshal failed", "error", err)
			return
		}
		if ev.SKU == "" {
			logger.Error("indexer: event without sku dropped")
			return
		}

		retries := 0
		if msg.Header != nil {
			if v := msg.Header.Get(retryHeader); v != "" {
				fmt.Sscanf(v, "%d", &retries)
			}
		}

		ctx := context.Background()
		if err := ix.IndexProduct(ctx, ev.SKU); err != nil {
			retries++
			logger.Error("indexer: index failed", "sku", ev.SKU, "retry", retries, "error", err)

			if retries >= MaxRetries {
				dlq := dlqMessage{Event: ev, Error: err.Error(), Retries: retries}
				data, _ := json.Marshal(dlq)
				if err := nc.Publish(DLQSubject, data); err != nil {
					logger.Error("indexer: DLQ publish failed", "sku", ev.SKU, "error", err)
				}
				return
			}

			retryMsg := nats.NewMsg(UpdatedSubject)
			retryMsg.Data = msg.Data
			retryMsg.Header = nats.Header{}
			retryMsg.Header.Set(retryHeader, fmt.Sprintf("%d", retries))
			if err := nc.PublishMsg(retryMsg); err != nil {
				logger.Error("indexer: retry publish failed", "sku", ev.SKU, "error", err)
			}
			return
		}
		logger.Info("indexer: indexed", "sku", ev.SKU)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", UpdatedSubject, err)
	}

	deleted, err := natsutil.QueueSubscribe(nc, DeletedSubject, QueueGroup, func(ctx context.Context, ev ProductEvent) {
		if ev.SKU == "" {
			return
		}
		if err := ix.RemoveProduct(ctx, ev.SKU); err != nil {
			logger.Error("indexer: evict failed", "sku", ev.SKU, "error", err)
			return
		}
		logger.Info("indexer: evicted", "sku", ev.SKU)
	})
	if err != nil {
		updated.Unsubscribe()
		return nil, fmt.Errorf("subscribe %s: %w", DeletedSubject, err)
	}

	return []*nats.Subscription{updated, deleted}, nil
}
