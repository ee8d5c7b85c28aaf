package availability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"crewbook/backend/internal/domain"
	"crewbook/backend/internal/store"
)

const (
	DateLayout    = "2006-01-02"
	displayLayout = "02-01-2006 15:04:05"
)

var tracer = otel.Tracer("crewbook/backend/internal/service/availability")

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

type NotFoundError struct {
	TeamID string
}

func (e *NotFoundError) Error() string {
	return "team not found"
}

func (e *NotFoundError) Unwrap() error {
	return store.ErrNotFound
}

// DoubleBookingError is returned when the team already has an active
// appointment that blocks the requested start. Its message is shown to the
// person booking.
type DoubleBookingError struct {
	TeamID        string
	TeamName      string
	AppointmentID uuid.UUID
	ConflictAt    time.Time
	RequestedAt   time.Time
	Location      *time.Location
}

func (e *DoubleBookingError) Error() string {
	loc := e.Location
	if loc == nil {
		loc = time.UTC
	}
	name := e.TeamName
	if name == "" {
		name = e.TeamID
	}
	return fmt.Sprintf(
		"Cannot book this appointment. Team %s already has an appointment at %s",
		name,
		e.ConflictAt.In(loc).Format(displayLayout),
	)
}

type Options struct {
	Rule     domain.OverlapRule
	Location *time.Location
	Now      func() time.Time
}

type Guard struct {
	repo store.ScheduleReader
	rule domain.OverlapRule
	loc  *time.Location
	now  func() time.Time
}

func NewGuard(repo store.ScheduleReader, opts Options) *Guard {
	g := &Guard{
		repo: repo,
		rule: opts.Rule,
		loc:  opts.Location,
		now:  opts.Now,
	}
	if g.rule == "" {
		g.rule = domain.OverlapRuleStartInWindow
	}
	if g.loc == nil {
		g.loc = time.UTC
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

// Location is the timezone calendar days are resolved in.
func (g *Guard) Location() *time.Location {
	return g.loc
}

func (g *Guard) ValidateNoOverlap(ctx context.Context, teamID string, start time.Time, excludeID uuid.UUID) error {
	return g.ValidateNoOverlapIn(ctx, g.repo, teamID, start, excludeID)
}

// ValidateNoOverlapIn checks against finder, which is normally the
// transaction that will write the appointment. Missing team or start is not
// an error: the check simply does not apply.
func (g *Guard) ValidateNoOverlapIn(ctx context.Context, finder store.TeamScheduleFinder, teamID string, start time.Time, excludeID uuid.UUID) error {
	teamID = strings.TrimSpace(teamID)
	if teamID == "" || start.IsZero() {
		return nil
	}

	ctx, span := tracer.Start(ctx, "availability.ValidateNoOverlap", trace.WithAttributes(
		attribute.String("team_id", teamID),
		attribute.String("overlap_rule", string(g.rule)),
	))
	defer span.End()

	from, to := g.rule.SearchWindow(start, domain.AppointmentDuration)
	rows, err := finder.FindActiveAppointments(ctx, store.AppointmentFilter{
		TeamID:    teamID,
		StartFrom: from,
		StartTo:   to,
		ExcludeID: excludeID,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "find appointments")
		return err
	}

	for _, a := range rows {
		if a.ID == excludeID && excludeID != uuid.Nil {
			continue
		}
		if !a.Status.Active() {
			continue
		}
		if g.rule.Conflicts(a.StartTime, start, domain.AppointmentDuration) {
			span.SetAttributes(attribute.String("conflict_appointment_id", a.ID.String()))
			return &DoubleBookingError{
				TeamID:        teamID,
				TeamName:      teamName(ctx, finder, teamID),
				AppointmentID: a.ID,
				ConflictAt:    a.StartTime,
				RequestedAt:   start,
				Location:      g.loc,
			}
		}
	}
	return nil
}

// teamName resolves the display name shown in the conflict message. A failed
// lookup falls back to the ID; the conflict itself has already been decided.
func teamName(ctx context.Context, teams store.TeamReader, teamID string) string {
	team, err := teams.GetTeam(ctx, teamID)
	if err != nil {
		return teamID
	}
	return team.Name()
}

func (g *Guard) GetAvailability(ctx context.Context, teamID string, date string) (domain.Availability, error) {
	teamID = strings.TrimSpace(teamID)
	if teamID == "" {
		return domain.Availability{}, validationError("team_id is required")
	}

	day := g.now().In(g.loc)
	if date = strings.TrimSpace(date); date != "" {
		parsed, err := time.ParseInLocation(DateLayout, date, g.loc)
		if err != nil {
			return domain.Availability{}, validationError("date must be formatted as YYYY-MM-DD")
		}
		day = parsed
	}
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, g.loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	ctx, span := tracer.Start(ctx, "availability.GetAvailability", trace.WithAttributes(
		attribute.String("team_id", teamID),
		attribute.String("date", dayStart.Format(DateLayout)),
	))
	defer span.End()

	team, err := g.repo.GetTeam(ctx, teamID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Availability{}, &NotFoundError{TeamID: teamID}
		}
		span.RecordError(err)
		return domain.Availability{}, err
	}

	appts, err := g.repo.FindActiveAppointments(ctx, store.AppointmentFilter{
		TeamID:    teamID,
		StartFrom: dayStart,
		StartTo:   dayEnd,
	})
	if err != nil {
		span.RecordError(err)
		return domain.Availability{}, err
	}

	active := make([]domain.Appointment, 0, len(appts))
	for _, a := range appts {
		if a.Status.Active() {
			active = append(active, a)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].StartTime.Before(active[j].StartTime)
	})

	shifts := team.Shifts
	if shifts == nil {
		shifts = []domain.Shift{}
	}

	return domain.Availability{
		TeamID:       team.ID,
		TeamName:     team.Name(),
		MemberCount:  team.MemberCount,
		Date:         dayStart.Format(DateLayout),
		Shifts:       shifts,
		Appointments: active,
		OpenSlots:    g.openSlots(dayStart, shifts, active),
	}, nil
}

func (g *Guard) ListTeams(ctx context.Context) ([]domain.TeamSummary, error) {
	return g.repo.ListTeams(ctx)
}

// openSlots lists hourly starts inside the shifts that the overlap rule would
// accept right now. Shifts with malformed times are skipped.
func (g *Guard) openSlots(dayStart time.Time, shifts []domain.Shift, booked []domain.Appointment) []time.Time {
	now := g.now()
	d := domain.AppointmentDuration

	slots := make([]time.Time, 0)
	for _, s := range shifts {
		from, to, err := s.On(dayStart.Year(), dayStart.Month(), dayStart.Day(), g.loc)
		if err != nil {
			continue
		}
		for t := from; !t.Add(d).After(to); t = t.Add(d) {
			if t.Before(now) {
				continue
			}
			if g.blocked(t, booked) {
				continue
			}
			slots = append(slots, t)
		}
	}

	sort.Slice(slots, func(i, j int) bool { return slots[i].Before(slots[j]) })
	return dedupe(slots)
}

func (g *Guard) blocked(start time.Time, booked []domain.Appointment) bool {
	for _, a := range booked {
		if g.rule.Conflicts(a.StartTime, start, domain.AppointmentDuration) {
			return true
		}
	}
	return false
}

func dedupe(sorted []time.Time) []time.Time {
	if len(sorted) < 2 {
		return sorted
	}
	out := sorted[:1]
	for _, t := range sorted[1:] {
		if !t.Equal(out[len(out)-1]) {
			out = append(out, t)
		}
	}
	return out
}
