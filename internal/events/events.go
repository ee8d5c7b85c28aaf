package events

import (
	"context"
	"time"

	"crewbook/backend/internal/domain"
)

type Type string

const (
	TypeAppointmentCreated     Type = "appointment.created"
	TypeAppointmentSubmitted   Type = "appointment.submitted"
	TypeAppointmentCancelled   Type = "appointment.cancelled"
	TypeAppointmentOrderLinked Type = "appointment.order_linked"
)

// AppointmentEvent is what the confirmation-email pipeline consumes.
type AppointmentEvent struct {
	Type          Type      `json:"type"`
	AppointmentID string    `json:"appointment_id"`
	TeamID        string    `json:"team_id"`
	Customer      string    `json:"customer"`
	Status        string    `json:"status"`
	StartTime     time.Time `json:"start_time"`
	SalesOrder    string    `json:"sales_order,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func NewAppointmentEvent(t Type, a domain.Appointment, now time.Time) AppointmentEvent {
	return AppointmentEvent{
		Type:          t,
		AppointmentID: a.ID.String(),
		TeamID:        a.TeamID,
		Customer:      a.Customer,
		Status:        string(a.Status),
		StartTime:     a.StartTime.UTC(),
		SalesOrder:    a.SalesOrder,
		OccurredAt:    now.UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, ev AppointmentEvent) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, AppointmentEvent) error { return nil }
