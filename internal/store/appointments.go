package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"crewbook/backend/internal/domain"
)

// AppointmentFilter selects non-cancelled appointments of one team whose
// start lies in [StartFrom, StartTo).
type AppointmentFilter struct {
	TeamID    string
	StartFrom time.Time
	StartTo   time.Time
	ExcludeID uuid.UUID
}

type AppointmentFinder interface {
	FindActiveAppointments(ctx context.Context, f AppointmentFilter) ([]domain.Appointment, error)
}

type TeamReader interface {
	GetTeam(ctx context.Context, teamID string) (domain.Team, error)
}

// TeamScheduleFinder is what the overlap check reads: the team and its
// bookings. Both the repository and a team transaction provide it.
type TeamScheduleFinder interface {
	AppointmentFinder
	TeamReader
}

type ScheduleReader interface {
	TeamScheduleFinder
	ListTeams(ctx context.Context) ([]domain.TeamSummary, error)
}

type ScheduleRepository interface {
	ScheduleReader
	GetAppointment(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error)
	InTeamTransaction(ctx context.Context, teamID string, fn func(ctx context.Context, tx ScheduleTx) error) error
}
