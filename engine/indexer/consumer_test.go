package indexer

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/retailkiosk/retail-kiosk/engine/catalog"
)

func startNATS(t *testing.T) (*natsserver.Server, *nats.Conn) {
	t.Helper()
	ns, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	ns.Start()
	if !ns.ReadyForConnections(2 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	return ns, nc
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConsumerIndexesOnUpdateEvent(t *testing.T) {
	ns, nc := startNATS(t)
	defer ns.Shutdown()
	defer nc.Close()

	cat := &fakeCatalog{
		products: map[string]catalog.Product{
			"EVT-1": {SKU: "EVT-1", Name: "Event Product", Active: true},
		},
	}
	idx := newFakeIndex()
	ix := New(cat, idx, &fakeEmbedder{}, quietLogger())

	subs, err := StartConsumer(nc, ix, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range subs {
		defer s.Unsubscribe()
	}

	data, _ := json.Marshal(ProductEvent{SKU: "EVT-1"})
	if err := nc.Publish(UpdatedSubject, data); err != nil {
		t.Fatal(err)
	}
	nc.Flush()

	waitFor(t, "upsert", func() bool {
		idx.mu.Lock()
		defer idx.mu.Unlock()
		_, ok := idx.upserted["EVT-1"]
		return ok
	})
}

func TestConsumerEvictsOnDeleteEvent(t *testing.T) {
	ns, nc := startNATS(t)
	defer ns.Shutdown()
	defer nc.Close()

	idx := newFakeIndex()
	ix := New(&fakeCatalog{}, idx, &fakeEmbedder{}, quietLogger())

	subs, err := StartConsumer(nc, ix, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range subs {
		defer s.Unsubscribe()
	}

	data, _ := json.Marshal(ProductEvent{SKU: "OLD-1"})
	if err := nc.Publish(DeletedSubject, data); err != nil {
		t.Fatal(err)
	}
	nc.Flush()

	waitFor(t, "eviction", func() bool {
		idx.mu.Lock()
		defer idx.mu.Unlock()
		return len(idx.deleted) == 1 && idx.deleted[0] == "OLD-1"
	})
}

func TestConsumerRoutesExhaustedRetriesToDLQ(t *testing.T) {
	ns, nc := startNATS(t)
	defer ns.Shutdown()
	defer nc.Close()

	cat := &fakeCatalog{err: errors.New("catalog down")}
	ix := New(cat, newFakeIndex(), &fakeEmbedder{}, quietLogger())

	subs, err := StartConsumer(nc, ix, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range subs {
		defer s.Unsubscribe()
	}

	dlqSub, err := nc.SubscribeSync(DLQSubject)
	if err != nil {
		t.Fatal(err)
	}

	data, _ := json.Marshal(ProductEvent{SKU: "DOOMED"})
	msg := nats.NewMsg(UpdatedSubject)
	msg.Data = data
	msg.Header = nats.Header{}
	msg.Header.Set(retryHeader, "2")
	if err := nc.PublishMsg(msg); err != nil {
		t.Fatal(err)
	}
	nc.Flush()

	dlqMsg, err := dlqSub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("expected DLQ message: %v", err)
	}
	var dlq dlqMessage
	if err := json.Unmarshal(dlqMsg.Data, &dlq); err != nil {
		t.Fatal(err)
	}
	if dlq.Event.SKU != "DOOMED" || dlq.Retries != MaxRetries {
		t.Fatalf("dlq = %+v", dlq)
	}
}
