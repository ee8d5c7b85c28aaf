package store

import (
	"context"

	"github.com/google/uuid"

	"crewbook/backend/internal/domain"
)

// ScheduleTx is a transaction holding the team's schedule lock.
type ScheduleTx interface {
	TeamScheduleFinder

	GetAppointmentForUpdate(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error)
	InsertAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
	UpdateAppointment(ctx context.Context, appt domain.Appointment, columns ...string) (domain.Appointment, error)
}
