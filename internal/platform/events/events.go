// Package events publishes appointment domain events after their writes have
// committed.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	AppointmentCreated       = "appointment.created"
	AppointmentSeriesCreated = "appointment.series.created"
	AppointmentUpdated       = "appointment.updated"
	AppointmentDeleted       = "appointment.deleted"
)

// Event is the envelope written to the broker. AggregateID is the partition
// key, so every event of one series lands on the same partition. Subjects
// name who the event concerns ("clinician:<id>", "client_group:<id>") and
// drive live feed routing.
type Event struct {
	ID          uuid.UUID       `json:"id"`
	Type        string          `json:"type"`
	Tenant      string          `json:"tenant,omitempty"`
	AggregateID uuid.UUID       `json:"aggregate_id"`
	Subjects    []string        `json:"subjects,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Payload     json.RawMessage `json:"payload"`
}

// Subject formats a routing subject such as "clinician:<id>".
func Subject(kind string, id uuid.UUID) string {
	return kind + ":" + id.String()
}

const (
	SubjectClinician   = "clinician"
	SubjectClientGroup = "client_group"
	SubjectSeries      = "series"
)

// New builds an event with a fresh id, marshalling payload as JSON.
func New(eventType string, aggregateID uuid.UUID, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:          uuid.New(),
		Type:        eventType,
		AggregateID: aggregateID,
		OccurredAt:  time.Now().UTC(),
		Payload:     raw,
	}, nil
}

type Publisher interface {
	Publish(ctx context.Context, evts ...Event) error
	Close() error
}

// NopPublisher drops every event. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ...Event) error { return nil }
func (NopPublisher) Close() error                            { return nil }

// Fanout delivers every event to each publisher in turn. One publisher
// failing does not stop the others; the errors are joined.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, evts ...Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, evts...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger zerolog.Logger
}

// NewKafkaPublisher returns a publisher writing to topic on brokers, or a
// NopPublisher when brokers is empty.
func NewKafkaPublisher(brokers []string, topic string, logger zerolog.Logger) Publisher {
	if len(brokers) == 0 {
		logger.Warn().Msg("event publishing disabled (no kafka brokers configured)")
		return NopPublisher{}
	}
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      brokers,
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	})
	return &KafkaPublisher{writer: w, topic: topic, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evts ...Event) error {
	if len(evts) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(evts))
	for _, e := range evts {
		value, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", e.ID, err)
		}
		headers := headerCarrier{
			{Key: "event_id", Value: []byte(e.ID.String())},
			{Key: "event_type", Value: []byte(e.Type)},
			{Key: "tenant", Value: []byte(e.Tenant)},
		}
		otel.GetTextMapPropagator().Inject(ctx, &headers)
		msgs = append(msgs, kafka.Message{
			Key:     []byte(e.AggregateID.String()),
			Value:   value,
			Time:    e.OccurredAt,
			Headers: headers,
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	p.logger.Debug().Int("count", len(msgs)).Str("topic", p.topic).Msg("events published")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// headerCarrier lets the otel propagator write W3C trace context into the
// message headers, so consumers can continue the request's trace.
type headerCarrier []kafka.Header

var _ propagation.TextMapCarrier = (*headerCarrier)(nil)

func (c *headerCarrier) Get(key string) string {
	for _, h := range *c {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(*c))
	for _, h := range *c {
		keys = append(keys, h.Key)
	}
	return keys
}

func (c *headerCarrier) Set(key, value string) {
	for i := range *c {
		if (*c)[i].Key == key {
			(*c)[i].Value = []byte(value)
			return
		}
	}
	*c = append(*c, kafka.Header{Key: key, Value: []byte(value)})
}
