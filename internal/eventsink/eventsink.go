// Package eventsink republishes terminal ingestion status transitions to
// an external Kafka topic, for the webhook/external-notification use
// case spec.md §9's open questions gesture at but leave unspecified. It
// is optional: nothing in internal/ingestion or internal/httpapi depends
// on it.
//
// Grounded on the teacher's internal/tools/kafka package: the narrow
// Writer interface over kafka.Message is kept as-is (it already covers
// exactly what a publish-only sink needs); the envelope/topic-detection
// logic built for LLM tool calls is dropped, since this sink always
// writes to one fixed topic with a fixed envelope shape.
package eventsink

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/docstatus"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/events"
)

// Writer is the subset of *kafka.Writer this sink needs, narrowed for
// testability.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Sink subscribes to an events.Bus and republishes every terminal
// (completed/failed) status transition as a Kafka message keyed by
// doc_id.
type Sink struct {
	writer Writer
	topic  string
	bus    *events.Bus
	sub    *events.Subscription
	done   chan struct{}
}

// New builds a Sink. Call Run to start consuming; call Close to stop.
func New(writer Writer, topic string, bus *events.Bus) *Sink {
	return &Sink{writer: writer, topic: topic, bus: bus}
}

// terminalEnvelope is the JSON payload written to Kafka: the same shape
// a /status/{doc_id} GET would return, plus the event's state for
// consumers that don't want to inspect the nested status.
type terminalEnvelope struct {
	DocID  string                    `json:"doc_id"`
	State  string                    `json:"state"`
	Status docstatus.ProcessingStatus `json:"status"`
}

// Run subscribes to bus and blocks, writing one Kafka message per
// terminal transition, until ctx is cancelled or Close is called.
func (s *Sink) Run(ctx context.Context) {
	s.sub = s.bus.Subscribe(nil)
	s.done = make(chan struct{})
	defer close(s.done)
	defer s.bus.Unsubscribe(s.sub)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-s.sub.Events():
			if !ok {
				return
			}
			if event.State != string(docstatus.StateCompleted) && event.State != string(docstatus.StateFailed) {
				continue
			}
			s.publish(ctx, event)
		}
	}
}

func (s *Sink) publish(ctx context.Context, event events.Event) {
	status, _ := event.Status.(docstatus.ProcessingStatus)
	payload, err := json.Marshal(terminalEnvelope{DocID: event.DocID, State: event.State, Status: status})
	if err != nil {
		log.Error().Err(err).Str("doc_id", event.DocID).Msg("eventsink: marshal failed")
		return
	}
	msg := kafka.Message{
		Topic: s.topic,
		Key:   []byte(event.DocID),
		Value: payload,
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		log.Error().Err(err).Str("doc_id", event.DocID).Str("topic", s.topic).Msg("eventsink: write failed")
	}
}

// Close unsubscribes from the bus. Safe to call even if Run never
// started (s.sub is then nil and this is a no-op). It does not wait for
// an in-progress Run to return.
func (s *Sink) Close() {
	if s.sub != nil {
		s.bus.Unsubscribe(s.sub)
	}
}

// NewKafkaWriter builds a segmentio/kafka-go Writer for the given broker
// list and topic, using the library's default least-bytes balancer.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
}
