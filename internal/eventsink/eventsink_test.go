package eventsink

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/docstatus"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/events"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func (f *fakeWriter) last() kafka.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.msgs[len(f.msgs)-1]
}

func TestSink_PublishesOnlyTerminalTransitions(t *testing.T) {
	bus := events.NewBus()
	writer := &fakeWriter{}
	sink := New(writer, "ingestion.status", bus)

	ctx, cancel := context.WithCancel(context.Background())
	go sink.Run(ctx)
	time.Sleep(10 * time.Millisecond) // let Run subscribe

	bus.Publish(events.Event{DocID: "doc1", State: string(docstatus.StateParsing), Status: docstatus.ProcessingStatus{DocID: "doc1", State: docstatus.StateParsing}})
	bus.Publish(events.Event{DocID: "doc1", State: string(docstatus.StateCompleted), Status: docstatus.ProcessingStatus{DocID: "doc1", State: docstatus.StateCompleted, Progress: 1}})

	deadline := time.Now().Add(2 * time.Second)
	for writer.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if writer.count() != 1 {
		t.Fatalf("expected exactly 1 published message (terminal only), got %d", writer.count())
	}

	msg := writer.last()
	if string(msg.Key) != "doc1" {
		t.Fatalf("expected message keyed by doc_id, got %q", msg.Key)
	}
	var env terminalEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.State != string(docstatus.StateCompleted) {
		t.Fatalf("expected completed state in envelope, got %q", env.State)
	}

	cancel()
}

func TestSink_PublishesFailedTransitions(t *testing.T) {
	bus := events.NewBus()
	writer := &fakeWriter{}
	sink := New(writer, "ingestion.status", bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sink.Run(ctx)
	time.Sleep(10 * time.Millisecond)

	bus.Publish(events.Event{DocID: "doc2", State: string(docstatus.StateFailed), Status: docstatus.ProcessingStatus{DocID: "doc2", State: docstatus.StateFailed, Error: "parse_error"}})

	deadline := time.Now().Add(2 * time.Second)
	for writer.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if writer.count() != 1 {
		t.Fatalf("expected 1 published message for a failed transition, got %d", writer.count())
	}
}
