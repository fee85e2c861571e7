package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/FooledKiwi/taproute/internal/routing"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// EventRouteComputed is the event type published for each result.
const EventRouteComputed = "taproute.route.computed"

// RouteEvent is the envelope written to Kafka.
type RouteEvent struct {
	ID        string               `json:"id"`
	Type      string               `json:"type"`
	Source    string               `json:"source"`
	SessionID string               `json:"session_id"`
	Time      time.Time            `json:"time"`
	Data      *routing.RouteResult `json:"data"`
}

// messageWriter is the subset of *kafka.Writer used by KafkaSink.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSink publishes results as JSON events keyed by session.
type KafkaSink struct {
	w         messageWriter
	source    string
	sessionID string
	now       func() time.Time
}

// writerBatchTimeout flushes each single-event write almost immediately;
// kafka-go otherwise waits up to a second to fill a batch.
const writerBatchTimeout = 10 * time.Millisecond

// NewKafkaWriter returns a writer for topic that balances by key.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           writerBatchTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

// NewKafkaSink publishes through w on behalf of sessionID.
func NewKafkaSink(w *kafka.Writer, source, sessionID string) *KafkaSink {
	return newKafkaSink(w, source, sessionID)
}

func newKafkaSink(w messageWriter, source, sessionID string) *KafkaSink {
	return &KafkaSink{w: w, source: source, sessionID: sessionID, now: time.Now}
}

// Display satisfies RouteResultSink.
func (s *KafkaSink) Display(ctx context.Context, res *routing.RouteResult) error {
	if err := Validate(res); err != nil {
		return err
	}
	evt := RouteEvent{
		ID:        uuid.NewString(),
		Type:      EventRouteComputed,
		Source:    s.source,
		SessionID: s.sessionID,
		Time:      s.now().UTC(),
		Data:      res,
	}
	value, err := json.Marshal(evt)
	if err != nil {
		return &DisplayError{Reason: "encode event", Err: err}
	}
	msg := kafka.Message{
		Key:   []byte(s.sessionID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "ce_type", Value: []byte(EventRouteComputed)},
		},
	}
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		return &DisplayError{Reason: "publish event", Err: fmt.Errorf("kafka: %w", err)}
	}
	return nil
}
