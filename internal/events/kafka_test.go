package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"crewbook/backend/internal/domain"
)

type fakeWriter struct {
	msgs []kafka.Message
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaPublisher_PublishKeysByTeam(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{w: w}

	appt := domain.Appointment{
		ID:        uuid.MustParse("00000000-0000-0000-0000-000000000042"),
		TeamID:    "T1",
		Customer:  "C1",
		StartTime: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		Status:    domain.AppointmentStatusSubmitted,
	}
	ev := NewAppointmentEvent(TypeAppointmentSubmitted, appt, time.Date(2025, 5, 30, 8, 0, 0, 0, time.UTC))

	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "T1" {
		t.Fatalf("key = %q, want %q", msg.Key, "T1")
	}

	var got AppointmentEvent
	if err := json.Unmarshal(msg.Value, &got); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if got.Type != TypeAppointmentSubmitted || got.AppointmentID != appt.ID.String() || got.Status != "submitted" {
		t.Fatalf("payload = %+v", got)
	}

	var eventType string
	for _, h := range msg.Headers {
		if h.Key == "event_type" {
			eventType = string(h.Value)
		}
	}
	if eventType != string(TypeAppointmentSubmitted) {
		t.Fatalf("event_type header = %q", eventType)
	}
}

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" kafka-1:9092, ,kafka-2:9092 ")
	if len(got) != 2 || got[0] != "kafka-1:9092" || got[1] != "kafka-2:9092" {
		t.Fatalf("SplitBrokers = %v", got)
	}
	if got := SplitBrokers(""); len(got) != 0 {
		t.Fatalf("SplitBrokers(\"\") = %v, want empty", got)
	}
}
