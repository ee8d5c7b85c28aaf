package appointments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"crewbook/backend/internal/domain"
	"crewbook/backend/internal/events"
	"crewbook/backend/internal/store"
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

// TransitionError rejects a change the appointment's current status does not
// allow. Action names the change when it is not a status move.
type TransitionError struct {
	From   domain.AppointmentStatus
	To     domain.AppointmentStatus
	Action string
}

func (e *TransitionError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("appointment is %s and cannot %s", e.From, e.Action)
	}
	return fmt.Sprintf("appointment is %s and cannot become %s", e.From, e.To)
}

var ErrIdempotencyConflict = errors.New("idempotency key conflict")

type overlapGuard interface {
	ValidateNoOverlapIn(ctx context.Context, finder store.TeamScheduleFinder, teamID string, start time.Time, excludeID uuid.UUID) error
}

type Service struct {
	repo   store.ScheduleRepository
	guard  overlapGuard
	events events.Publisher
	log    *slog.Logger
	now    func() time.Time
}

func NewService(repo store.ScheduleRepository, guard overlapGuard, publisher events.Publisher, log *slog.Logger) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:   repo,
		guard:  guard,
		events: publisher,
		log:    log.With(slog.String("component", "service.appointments")),
		now:    time.Now,
	}
}

type CreateInput struct {
	TeamID         string
	Customer       string
	StartTime      time.Time
	Services       []domain.ServiceLine
	Submit         bool
	IdempotencyKey string
}

func (s *Service) Create(ctx context.Context, in CreateInput) (domain.Appointment, error) {
	teamID := strings.TrimSpace(in.TeamID)
	if teamID == "" {
		return domain.Appointment{}, validationError("team_id is required")
	}
	customer := strings.TrimSpace(in.Customer)
	if customer == "" {
		return domain.Appointment{}, validationError("customer is required")
	}
	if in.StartTime.IsZero() {
		return domain.Appointment{}, validationError("start_time is required")
	}

	start := in.StartTime.UTC()
	appt := domain.Appointment{
		TeamID:              teamID,
		Customer:            customer,
		StartTime:           start,
		EndTime:             start.Add(domain.AppointmentDuration),
		TotalServiceMinutes: domain.TotalServiceMinutes(in.Services),
		Status:              domain.AppointmentStatusDraft,
	}
	if in.Submit {
		appt.Status = domain.AppointmentStatusSubmitted
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		if len(key) > 256 {
			return domain.Appointment{}, validationError("idempotency_key too long")
		}
		appt.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("crewbook:create_appointment:"+teamID+":"+key))
	}

	var out domain.Appointment
	err := s.repo.InTeamTransaction(ctx, teamID, func(ctx context.Context, tx store.ScheduleTx) error {
		if _, err := tx.GetTeam(ctx, teamID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("team %s: %w", teamID, err)
			}
			return err
		}
		if err := s.guard.ValidateNoOverlapIn(ctx, tx, teamID, start, appt.ID); err != nil {
			return err
		}
		a, err := tx.InsertAppointment(ctx, appt)
		if err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		if key != "" && errors.Is(err, store.ErrConflict) {
			return s.replay(ctx, appt)
		}
		return domain.Appointment{}, err
	}

	s.publish(ctx, events.TypeAppointmentCreated, out)
	if out.Status == domain.AppointmentStatusSubmitted {
		s.publish(ctx, events.TypeAppointmentSubmitted, out)
	}
	return out, nil
}

// replay returns the appointment an earlier request with the same key created.
func (s *Service) replay(ctx context.Context, want domain.Appointment) (domain.Appointment, error) {
	existing, err := s.repo.GetAppointment(ctx, want.ID)
	if err != nil {
		return domain.Appointment{}, err
	}
	if existing.TeamID != want.TeamID ||
		existing.Customer != want.Customer ||
		!existing.StartTime.Equal(want.StartTime) {
		return domain.Appointment{}, ErrIdempotencyConflict
	}
	return existing, nil
}

func (s *Service) Get(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error) {
	if appointmentID == uuid.Nil {
		return domain.Appointment{}, validationError("appointment_id is required")
	}
	return s.repo.GetAppointment(ctx, appointmentID)
}

// Submit confirms a draft. The overlap check and the status write share one
// team transaction.
func (s *Service) Submit(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error) {
	out, err := s.transition(ctx, appointmentID, func(ctx context.Context, tx store.ScheduleTx, a domain.Appointment) (domain.Appointment, error) {
		if a.Status != domain.AppointmentStatusDraft {
			return domain.Appointment{}, &TransitionError{From: a.Status, To: domain.AppointmentStatusSubmitted}
		}
		if err := s.guard.ValidateNoOverlapIn(ctx, tx, a.TeamID, a.StartTime, a.ID); err != nil {
			return domain.Appointment{}, err
		}
		a.Status = domain.AppointmentStatusSubmitted
		return tx.UpdateAppointment(ctx, a, "status")
	})
	if err != nil {
		return domain.Appointment{}, err
	}
	s.publish(ctx, events.TypeAppointmentSubmitted, out)
	return out, nil
}

func (s *Service) Cancel(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error) {
	out, err := s.transition(ctx, appointmentID, func(ctx context.Context, tx store.ScheduleTx, a domain.Appointment) (domain.Appointment, error) {
		if a.Status == domain.AppointmentStatusCancelled {
			return domain.Appointment{}, &TransitionError{From: a.Status, To: domain.AppointmentStatusCancelled}
		}
		a.Status = domain.AppointmentStatusCancelled
		return tx.UpdateAppointment(ctx, a, "status")
	})
	if err != nil {
		return domain.Appointment{}, err
	}
	s.publish(ctx, events.TypeAppointmentCancelled, out)
	return out, nil
}

// LinkSalesOrder records the order created from a submitted appointment.
func (s *Service) LinkSalesOrder(ctx context.Context, appointmentID uuid.UUID, salesOrder string) (domain.Appointment, error) {
	salesOrder = strings.TrimSpace(salesOrder)
	if salesOrder == "" {
		return domain.Appointment{}, validationError("sales_order is required")
	}

	out, err := s.transition(ctx, appointmentID, func(ctx context.Context, tx store.ScheduleTx, a domain.Appointment) (domain.Appointment, error) {
		if a.Status != domain.AppointmentStatusSubmitted {
			return domain.Appointment{}, &TransitionError{From: a.Status, Action: "be linked to a sales order"}
		}
		a.SalesOrder = salesOrder
		return tx.UpdateAppointment(ctx, a, "sales_order")
	})
	if err != nil {
		return domain.Appointment{}, err
	}
	s.publish(ctx, events.TypeAppointmentOrderLinked, out)
	return out, nil
}

type mutation func(ctx context.Context, tx store.ScheduleTx, a domain.Appointment) (domain.Appointment, error)

func (s *Service) transition(ctx context.Context, appointmentID uuid.UUID, fn mutation) (domain.Appointment, error) {
	if appointmentID == uuid.Nil {
		return domain.Appointment{}, validationError("appointment_id is required")
	}

	current, err := s.repo.GetAppointment(ctx, appointmentID)
	if err != nil {
		return domain.Appointment{}, err
	}

	var out domain.Appointment
	err = s.repo.InTeamTransaction(ctx, current.TeamID, func(ctx context.Context, tx store.ScheduleTx) error {
		a, err := tx.GetAppointmentForUpdate(ctx, appointmentID)
		if err != nil {
			return err
		}
		updated, err := fn(ctx, tx, a)
		if err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}
	return out, nil
}

func (s *Service) publish(ctx context.Context, t events.Type, a domain.Appointment) {
	if err := s.events.Publish(ctx, events.NewAppointmentEvent(t, a, s.now())); err != nil {
		s.log.Warn(
			"appointment event publish failed",
			slog.Any("err", err),
			slog.String("event_type", string(t)),
			slog.String("appointment_id", a.ID.String()),
		)
	}
}
