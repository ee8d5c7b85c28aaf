package grpc

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"crewbook/backend/internal/domain"
	"crewbook/backend/internal/service/appointments"
	"crewbook/backend/internal/service/availability"
	"crewbook/backend/internal/store"
)

type BookingServer struct {
	appts appointmentsService
	guard availabilityService
	log   *slog.Logger
}

var _ BookingServiceServer = (*BookingServer)(nil)

type appointmentsService interface {
	Create(ctx context.Context, in appointments.CreateInput) (domain.Appointment, error)
	Get(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error)
	Submit(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error)
	Cancel(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error)
	LinkSalesOrder(ctx context.Context, appointmentID uuid.UUID, salesOrder string) (domain.Appointment, error)
}

type availabilityService interface {
	ValidateNoOverlap(ctx context.Context, teamID string, start time.Time, excludeID uuid.UUID) error
	GetAvailability(ctx context.Context, teamID string, date string) (domain.Availability, error)
	ListTeams(ctx context.Context) ([]domain.TeamSummary, error)
}

func NewBookingServer(appts appointmentsService, guard availabilityService, log *slog.Logger) *BookingServer {
	if log == nil {
		log = slog.Default()
	}
	return &BookingServer{
		appts: appts,
		guard: guard,
		log:   log.With(slog.String("component", "grpc.booking")),
	}
}

func (s *BookingServer) ValidateNoOverlap(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := requestLogger(ctx, s.log, "ValidateNoOverlap")

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	teamID, err := stringField(req, "team_id")
	if err != nil {
		return nil, invalidArgument(log, err)
	}
	start, err := timeField(req, "start_time")
	if err != nil {
		return nil, invalidArgument(log, err)
	}
	excludeID, err := uuidField(req, "exclude_id", false)
	if err != nil {
		return nil, invalidArgument(log, err)
	}

	if err := s.guard.ValidateNoOverlap(ctx, teamID, start, excludeID); err != nil {
		return nil, statusError(log, err, "team not found")
	}

	log.Debug("no overlap", slog.String("team_id", teamID), slog.Time("start_time", start))
	return newStruct(log, map[string]any{"ok": true})
}

func (s *BookingServer) GetAvailability(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := requestLogger(ctx, s.log, "GetAvailability")

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	teamID, err := stringField(req, "team_id")
	if err != nil {
		return nil, invalidArgument(log, err)
	}
	date, err := stringField(req, "date")
	if err != nil {
		return nil, invalidArgument(log, err)
	}

	av, err := s.guard.GetAvailability(ctx, teamID, date)
	if err != nil {
		return nil, statusError(log, err, "team not found")
	}

	log.Debug(
		"availability read",
		slog.String("team_id", av.TeamID),
		slog.String("date", av.Date),
		slog.Int("appointments", len(av.Appointments)),
		slog.Int("open_slots", len(av.OpenSlots)),
	)
	return newStruct(log, availabilityFields(av))
}

func (s *BookingServer) ListTeams(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := requestLogger(ctx, s.log, "ListTeams")

	teams, err := s.guard.ListTeams(ctx)
	if err != nil {
		return nil, statusError(log, err, "not found")
	}

	out := make([]any, 0, len(teams))
	for _, t := range teams {
		out = append(out, map[string]any{"id": t.ID, "display_name": t.DisplayName})
	}
	return newStruct(log, map[string]any{"teams": out})
}

func (s *BookingServer) CreateAppointment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := requestLogger(ctx, s.log, "CreateAppointment")

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	teamID, err := stringField(req, "team_id")
	if err != nil {
		return nil, invalidArgument(log, err)
	}
	customer, err := stringField(req, "customer")
	if err != nil {
		return nil, invalidArgument(log, err)
	}
	start, err := timeField(req, "start_time")
	if err != nil {
		return nil, invalidArgument(log, err)
	}
	services, err := serviceLinesField(req, "services")
	if err != nil {
		return nil, invalidArgument(log, err)
	}
	submit, err := boolField(req, "submit")
	if err != nil {
		return nil, invalidArgument(log, err)
	}

	appt, err := s.appts.Create(ctx, appointments.CreateInput{
		TeamID:         teamID,
		Customer:       customer,
		StartTime:      start,
		Services:       services,
		Submit:         submit,
		IdempotencyKey: idempotencyKey(ctx),
	})
	if err != nil {
		return nil, statusError(log.With(slog.String("team_id", teamID)), err, "team not found")
	}

	log.Info(
		"appointment created",
		slog.String("appointment_id", appt.ID.String()),
		slog.String("team_id", appt.TeamID),
		slog.String("status", string(appt.Status)),
		slog.Time("start_time", appt.StartTime),
	)
	return newStruct(log, map[string]any{"appointment": appointmentFields(appt)})
}

func (s *BookingServer) GetAppointment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := requestLogger(ctx, s.log, "GetAppointment")

	id, err := appointmentID(req)
	if err != nil {
		return nil, invalidArgument(log, err)
	}
	appt, err := s.appts.Get(ctx, id)
	if err != nil {
		return nil, statusError(log.With(slog.String("appointment_id", id.String())), err, "appointment not found")
	}
	return newStruct(log, map[string]any{"appointment": appointmentFields(appt)})
}

func (s *BookingServer) SubmitAppointment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutate(ctx, "SubmitAppointment", req, "appointment submitted", s.appts.Submit)
}

func (s *BookingServer) CancelAppointment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutate(ctx, "CancelAppointment", req, "appointment cancelled", s.appts.Cancel)
}

func (s *BookingServer) LinkSalesOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	order, err := stringField(req, "sales_order")
	if err != nil {
		return nil, invalidArgument(requestLogger(ctx, s.log, "LinkSalesOrder"), err)
	}
	return s.mutate(ctx, "LinkSalesOrder", req, "sales order linked", func(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
		return s.appts.LinkSalesOrder(ctx, id, order)
	})
}

func (s *BookingServer) mutate(ctx context.Context, rpc string, req *structpb.Struct, done string, fn func(context.Context, uuid.UUID) (domain.Appointment, error)) (*structpb.Struct, error) {
	log := requestLogger(ctx, s.log, rpc)

	id, err := appointmentID(req)
	if err != nil {
		return nil, invalidArgument(log, err)
	}
	log = log.With(slog.String("appointment_id", id.String()))

	appt, err := fn(ctx, id)
	if err != nil {
		return nil, statusError(log, err, "appointment not found")
	}

	log.Info(done, slog.String("team_id", appt.TeamID), slog.String("status", string(appt.Status)))
	return newStruct(log, map[string]any{"appointment": appointmentFields(appt)})
}

func appointmentID(req *structpb.Struct) (uuid.UUID, error) {
	if req == nil {
		return uuid.Nil, errors.New("request is required")
	}
	return uuidField(req, "appointment_id", true)
}

func invalidArgument(log *slog.Logger, err error) error {
	log.Warn("invalid request", slog.Any("err", err))
	return status.Error(codes.InvalidArgument, err.Error())
}

// statusError maps service and store errors onto gRPC codes. notFound is the
// message used when the store has no matching row.
func statusError(log *slog.Logger, err error, notFound string) error {
	var (
		dbErr  *availability.DoubleBookingError
		trErr  *appointments.TransitionError
		avErr  *availability.ValidationError
		apErr  *appointments.ValidationError
		nfTeam *availability.NotFoundError
	)
	switch {
	case errors.As(err, &dbErr):
		log.Info(
			"double booking rejected",
			slog.String("team_id", dbErr.TeamID),
			slog.String("conflict_appointment_id", dbErr.AppointmentID.String()),
			slog.Time("requested_at", dbErr.RequestedAt),
		)
		return status.Error(codes.FailedPrecondition, dbErr.Error())
	case errors.As(err, &trErr):
		log.Info("invalid transition", slog.Any("err", err))
		return status.Error(codes.FailedPrecondition, trErr.Error())
	case errors.Is(err, appointments.ErrIdempotencyConflict):
		log.Info("idempotency conflict")
		return status.Error(codes.FailedPrecondition, "This request key was already used for a different appointment. Try again.")
	case errors.As(err, &avErr):
		log.Warn("invalid request", slog.Any("err", err))
		return status.Error(codes.InvalidArgument, avErr.Error())
	case errors.As(err, &apErr):
		log.Warn("invalid request", slog.Any("err", err))
		return status.Error(codes.InvalidArgument, apErr.Error())
	case errors.As(err, &nfTeam):
		log.Info("team not found", slog.String("team_id", nfTeam.TeamID))
		return status.Error(codes.NotFound, nfTeam.Error())
	case errors.Is(err, store.ErrNotFound):
		log.Info("not found", slog.Any("err", err))
		return status.Error(codes.NotFound, notFound)
	case errors.Is(err, store.ErrTransient):
		log.Warn("schedule busy", slog.Any("err", err))
		return status.Error(codes.Unavailable, "The schedule is busy. Please try again.")
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn("deadline exceeded", slog.Any("err", err))
		return status.Error(codes.DeadlineExceeded, "request timed out")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request cancelled")
	}
	log.Error("request failed", slog.Any("err", err))
	return status.Error(codes.Internal, "internal error")
}

func newStruct(log *slog.Logger, fields map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		log.Error("response encode failed", slog.Any("err", err))
		return nil, status.Error(codes.Internal, "internal error")
	}
	return out, nil
}
