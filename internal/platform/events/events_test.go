package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestNew(t *testing.T) {
	agg := uuid.New()
	e, err := New(AppointmentCreated, agg, map[string]string{"title": "Intake"})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if e.ID == uuid.Nil {
		t.Error("expected event id to be generated")
	}
	if e.AggregateID != agg || e.Type != AppointmentCreated {
		t.Errorf("unexpected envelope %+v", e)
	}
	if string(e.Payload) != `{"title":"Intake"}` {
		t.Errorf("unexpected payload %s", e.Payload)
	}
}

func TestNew_BadPayload(t *testing.T) {
	if _, err := New(AppointmentCreated, uuid.New(), make(chan int)); err == nil {
		t.Error("expected error for unmarshalable payload")
	}
}

func TestNewKafkaPublisher_NoBrokers(t *testing.T) {
	p := NewKafkaPublisher(nil, "calendar.appointments", zerolog.Nop())
	if _, ok := p.(NopPublisher); !ok {
		t.Fatalf("expected NopPublisher, got %T", p)
	}
	if err := p.Publish(context.Background(), Event{}); err != nil {
		t.Errorf("NopPublisher.Publish() error: %v", err)
	}
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w, topic: "calendar.appointments", logger: zerolog.Nop()}

	master := uuid.New()
	e1, _ := New(AppointmentSeriesCreated, master, []string{"a"})
	e2, _ := New(AppointmentUpdated, master, []string{"b"})
	if err := p.Publish(context.Background(), e1, e2); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	if len(w.msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != master.String() {
		t.Errorf("expected key %s, got %s", master, msg.Key)
	}
	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["event_type"] != AppointmentSeriesCreated || headers["event_id"] != e1.ID.String() {
		t.Errorf("unexpected headers %v", headers)
	}

	var decoded Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("message value is not an event: %v", err)
	}
	if decoded.ID != e1.ID {
		t.Errorf("expected event id %s, got %s", e1.ID, decoded.ID)
	}
}

func TestKafkaPublisher_InjectsTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w, topic: "t", logger: zerolog.Nop()}
	e, _ := New(AppointmentCreated, uuid.New(), nil)
	if err := p.Publish(ctx, e); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	carrier := headerCarrier(w.msgs[0].Headers)
	want := "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	if got := carrier.Get("traceparent"); got != want {
		t.Errorf("expected traceparent %s, got %q", want, got)
	}
	if carrier.Get("event_type") != AppointmentCreated {
		t.Error("expected the event headers to be kept")
	}
}

func TestHeaderCarrier_SetOverwrites(t *testing.T) {
	c := headerCarrier{{Key: "traceparent", Value: []byte("old")}}
	c.Set("traceparent", "new")
	c.Set("tracestate", "k=v")
	if len(c) != 2 || c.Get("traceparent") != "new" {
		t.Errorf("unexpected headers %v", c)
	}
	if keys := c.Keys(); len(keys) != 2 || keys[1] != "tracestate" {
		t.Errorf("unexpected keys %v", keys)
	}
}

func TestKafkaPublisher_PublishEmpty(t *testing.T) {
	w := &fakeWriter{err: errors.New("should not be called")}
	p := &KafkaPublisher{writer: w, topic: "t", logger: zerolog.Nop()}
	if err := p.Publish(context.Background()); err != nil {
		t.Errorf("expected no error for empty publish, got %v", err)
	}
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := &KafkaPublisher{writer: w, topic: "t", logger: zerolog.Nop()}
	e, _ := New(AppointmentDeleted, uuid.New(), nil)
	if err := p.Publish(context.Background(), e); err == nil {
		t.Error("expected error when the broker rejects the write")
	}
}

func TestKafkaPublisher_Close(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w, topic: "t", logger: zerolog.Nop()}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if !w.closed {
		t.Error("expected writer to be closed")
	}
}

type countingPublisher struct {
	got    []Event
	err    error
	closed bool
}

func (p *countingPublisher) Publish(_ context.Context, evts ...Event) error {
	p.got = append(p.got, evts...)
	return p.err
}

func (p *countingPublisher) Close() error {
	p.closed = true
	return p.err
}

func TestFanout(t *testing.T) {
	failing := &countingPublisher{err: errors.New("broker down")}
	ok := &countingPublisher{}
	f := Fanout{failing, ok}

	e, _ := New(AppointmentDeleted, uuid.New(), nil)
	err := f.Publish(context.Background(), e)
	if err == nil || !errors.Is(err, failing.err) {
		t.Fatalf("expected joined broker error, got %v", err)
	}
	if len(ok.got) != 1 {
		t.Error("expected the second publisher to receive the event despite the first failing")
	}

	if err := f.Close(); err == nil {
		t.Error("expected close error to surface")
	}
	if !failing.closed || !ok.closed {
		t.Error("expected every publisher to be closed")
	}
}

func TestSubject(t *testing.T) {
	id := uuid.MustParse("0f8fad5b-d9cb-469f-a165-70867728950e")
	if got := Subject(SubjectClinician, id); got != "clinician:0f8fad5b-d9cb-469f-a165-70867728950e" {
		t.Errorf("unexpected subject %q", got)
	}
}
