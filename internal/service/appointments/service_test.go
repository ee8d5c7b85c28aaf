package appointments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"crewbook/backend/internal/domain"
	"crewbook/backend/internal/events"
	"crewbook/backend/internal/service/availability"
	"crewbook/backend/internal/store"
)

type memRepo struct {
	mu    sync.Mutex
	teams map[string]domain.Team
	appts map[uuid.UUID]domain.Appointment
	txErr error
}

func newMemRepo() *memRepo {
	return &memRepo{
		teams: map[string]domain.Team{"T1": {ID: "T1", DisplayName: "North Crew"}},
		appts: map[uuid.UUID]domain.Appointment{},
	}
}

func (m *memRepo) FindActiveAppointments(ctx context.Context, f store.AppointmentFilter) ([]domain.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memTx{m}.FindActiveAppointments(ctx, f)
}

func (m *memRepo) GetTeam(ctx context.Context, teamID string) (domain.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memTx{m}.GetTeam(ctx, teamID)
}

func (m *memRepo) ListTeams(ctx context.Context) ([]domain.TeamSummary, error) {
	panic("ListTeams not used")
}

func (m *memRepo) GetAppointment(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memTx{m}.GetAppointmentForUpdate(ctx, appointmentID)
}

func (m *memRepo) InTeamTransaction(ctx context.Context, teamID string, fn func(ctx context.Context, tx store.ScheduleTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.txErr != nil {
		return m.txErr
	}

	snapshot := make(map[uuid.UUID]domain.Appointment, len(m.appts))
	for k, v := range m.appts {
		snapshot[k] = v
	}
	if err := fn(ctx, memTx{m}); err != nil {
		m.appts = snapshot
		return err
	}
	return nil
}

func (m *memRepo) put(a domain.Appointment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appts[a.ID] = a
}

type memTx struct {
	m *memRepo
}

func (t memTx) FindActiveAppointments(ctx context.Context, f store.AppointmentFilter) ([]domain.Appointment, error) {
	var out []domain.Appointment
	for _, a := range t.m.appts {
		if a.TeamID != f.TeamID || !a.Status.Active() || a.ID == f.ExcludeID {
			continue
		}
		if a.StartTime.Before(f.StartFrom) || !a.StartTime.Before(f.StartTo) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (t memTx) GetTeam(ctx context.Context, teamID string) (domain.Team, error) {
	team, ok := t.m.teams[teamID]
	if !ok {
		return domain.Team{}, store.ErrNotFound
	}
	return team, nil
}

func (t memTx) GetAppointmentForUpdate(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error) {
	a, ok := t.m.appts[appointmentID]
	if !ok {
		return domain.Appointment{}, store.ErrNotFound
	}
	return a, nil
}

func (t memTx) InsertAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	if _, ok := t.m.appts[appt.ID]; ok {
		return domain.Appointment{}, store.ErrConflict
	}
	t.m.appts[appt.ID] = appt
	return appt, nil
}

func (t memTx) UpdateAppointment(ctx context.Context, appt domain.Appointment, columns ...string) (domain.Appointment, error) {
	if _, ok := t.m.appts[appt.ID]; !ok {
		return domain.Appointment{}, store.ErrNotFound
	}
	t.m.appts[appt.ID] = appt
	return appt, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.AppointmentEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, ev events.AppointmentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

func newTestService(repo *memRepo, pub events.Publisher) *Service {
	guard := availability.NewGuard(repo, availability.Options{})
	return NewService(repo, guard, pub, nil)
}

var t10 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func TestServiceCreate_ValidationErrors(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)

	tests := []struct {
		name string
		in   CreateInput
		want string
	}{
		{name: "team", in: CreateInput{Customer: "C1", StartTime: t10}, want: "team_id is required"},
		{name: "customer", in: CreateInput{TeamID: "T1", Customer: "  ", StartTime: t10}, want: "customer is required"},
		{name: "start", in: CreateInput{TeamID: "T1", Customer: "C1"}, want: "start_time is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.in)
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("error type = %T, want *ValidationError", err)
			}
			if vErr.Error() != tt.want {
				t.Fatalf("error = %q, want %q", vErr.Error(), tt.want)
			}
		})
	}
}

func TestServiceCreate_DraftNormalizesAndPublishes(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Riyadh")
	if err != nil {
		t.Fatalf("LoadLocation error: %v", err)
	}
	pub := &recordingPublisher{}
	svc := newTestService(newMemRepo(), pub)

	got, err := svc.Create(context.Background(), CreateInput{
		TeamID:    " T1 ",
		Customer:  "C1",
		StartTime: t10.In(loc),
		Services:  []domain.ServiceLine{{ServiceMinutes: 40, GapMinutes: 10}, {ServiceMinutes: 20}},
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if got.Status != domain.AppointmentStatusDraft {
		t.Fatalf("status = %q, want draft", got.Status)
	}
	if got.TeamID != "T1" || got.StartTime.Location() != time.UTC || !got.StartTime.Equal(t10) {
		t.Fatalf("appointment = %+v", got)
	}
	if !got.EndTime.Equal(t10.Add(time.Hour)) {
		t.Fatalf("end_time = %v, want start + 1h", got.EndTime)
	}
	if got.TotalServiceMinutes != 70 {
		t.Fatalf("total_service_minutes = %d, want 70", got.TotalServiceMinutes)
	}
	if types := pub.types(); len(types) != 1 || types[0] != events.TypeAppointmentCreated {
		t.Fatalf("events = %v", types)
	}
}

func TestServiceCreate_SubmittedPublishesBothEvents(t *testing.T) {
	pub := &recordingPublisher{}
	svc := newTestService(newMemRepo(), pub)

	got, err := svc.Create(context.Background(), CreateInput{TeamID: "T1", Customer: "C1", StartTime: t10, Submit: true})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if got.Status != domain.AppointmentStatusSubmitted {
		t.Fatalf("status = %q, want submitted", got.Status)
	}
	types := pub.types()
	if len(types) != 2 || types[0] != events.TypeAppointmentCreated || types[1] != events.TypeAppointmentSubmitted {
		t.Fatalf("events = %v", types)
	}
}

func TestServiceCreate_RejectsDoubleBooking(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, nil)

	if _, err := svc.Create(context.Background(), CreateInput{TeamID: "T1", Customer: "C1", StartTime: t10, Submit: true}); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	_, err := svc.Create(context.Background(), CreateInput{TeamID: "T1", Customer: "C2", StartTime: t10.Add(-15 * time.Minute)})
	var dbErr *availability.DoubleBookingError
	if !errors.As(err, &dbErr) {
		t.Fatalf("err = %v, want *DoubleBookingError", err)
	}
	want := "Cannot book this appointment. Team North Crew already has an appointment at 01-06-2025 10:00:00"
	if dbErr.Error() != want {
		t.Fatalf("message = %q, want %q", dbErr.Error(), want)
	}
	if len(repo.appts) != 1 {
		t.Fatalf("stored = %d, want 1", len(repo.appts))
	}
}

func TestServiceCreate_UnknownTeam(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)

	_, err := svc.Create(context.Background(), CreateInput{TeamID: "T9", Customer: "C1", StartTime: t10})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want %v", err, store.ErrNotFound)
	}
}

func TestServiceCreate_PropagatesStoreErrors(t *testing.T) {
	repo := newMemRepo()
	repo.txErr = store.ErrTransient
	svc := newTestService(repo, nil)

	_, err := svc.Create(context.Background(), CreateInput{TeamID: "T1", Customer: "C1", StartTime: t10})
	if !errors.Is(err, store.ErrTransient) {
		t.Fatalf("err = %v, want %v", err, store.ErrTransient)
	}
}

func TestServiceCreate_IdempotencyKeyReplaysSameAppointment(t *testing.T) {
	repo := newMemRepo()
	pub := &recordingPublisher{}
	svc := newTestService(repo, pub)

	in := CreateInput{TeamID: "T1", Customer: "C1", StartTime: t10, IdempotencyKey: "k1"}
	first, err := svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	second, err := svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("replay error: %v", err)
	}
	if first.ID == uuid.Nil || first.ID != second.ID {
		t.Fatalf("ids = %s / %s, want equal non-nil", first.ID, second.ID)
	}
	if len(repo.appts) != 1 {
		t.Fatalf("stored = %d, want 1", len(repo.appts))
	}
	if len(pub.types()) != 1 {
		t.Fatalf("replay must not publish again: %v", pub.types())
	}

	in.Customer = "someone else"
	if _, err := svc.Create(context.Background(), in); !errors.Is(err, ErrIdempotencyConflict) {
		t.Fatalf("err = %v, want %v", err, ErrIdempotencyConflict)
	}
}

func TestServiceSubmit(t *testing.T) {
	repo := newMemRepo()
	pub := &recordingPublisher{}
	svc := newTestService(repo, pub)

	draft, err := svc.Create(context.Background(), CreateInput{TeamID: "T1", Customer: "C1", StartTime: t10})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	got, err := svc.Submit(context.Background(), draft.ID)
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if got.Status != domain.AppointmentStatusSubmitted {
		t.Fatalf("status = %q, want submitted", got.Status)
	}

	_, err = svc.Submit(context.Background(), draft.ID)
	var trErr *TransitionError
	if !errors.As(err, &trErr) || trErr.From != domain.AppointmentStatusSubmitted {
		t.Fatalf("second submit err = %v, want *TransitionError from submitted", err)
	}

	types := pub.types()
	if len(types) != 2 || types[1] != events.TypeAppointmentSubmitted {
		t.Fatalf("events = %v", types)
	}
}

func TestServiceSubmit_RejectsOverlapAndKeepsDraft(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, nil)

	// Seeded directly so both rows exist before the draft is submitted.
	blocking := domain.Appointment{ID: uuid.New(), TeamID: "T1", Customer: "C1", StartTime: t10, Status: domain.AppointmentStatusSubmitted}
	draft := domain.Appointment{ID: uuid.New(), TeamID: "T1", Customer: "C2", StartTime: t10.Add(-30 * time.Minute), Status: domain.AppointmentStatusDraft}
	repo.put(blocking)
	repo.put(draft)

	_, err := svc.Submit(context.Background(), draft.ID)
	var dbErr *availability.DoubleBookingError
	if !errors.As(err, &dbErr) || dbErr.AppointmentID != blocking.ID {
		t.Fatalf("err = %v, want *DoubleBookingError against %s", err, blocking.ID)
	}
	if repo.appts[draft.ID].Status != domain.AppointmentStatusDraft {
		t.Fatalf("status = %q, want draft", repo.appts[draft.ID].Status)
	}

	if _, err := svc.Cancel(context.Background(), blocking.ID); err != nil {
		t.Fatalf("Cancel error: %v", err)
	}
	if _, err := svc.Submit(context.Background(), draft.ID); err != nil {
		t.Fatalf("Submit after cancel error: %v", err)
	}
}

func TestServiceSubmit_UnchangedTimeRevalidatesAgainstItself(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, nil)

	draft, err := svc.Create(context.Background(), CreateInput{TeamID: "T1", Customer: "C1", StartTime: t10})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := svc.Submit(context.Background(), draft.ID); err != nil {
		t.Fatalf("Submit error: %v", err)
	}
}

func TestServiceCancel(t *testing.T) {
	repo := newMemRepo()
	pub := &recordingPublisher{}
	svc := newTestService(repo, pub)

	booked, err := svc.Create(context.Background(), CreateInput{TeamID: "T1", Customer: "C1", StartTime: t10, Submit: true})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	got, err := svc.Cancel(context.Background(), booked.ID)
	if err != nil {
		t.Fatalf("Cancel error: %v", err)
	}
	if got.Status != domain.AppointmentStatusCancelled {
		t.Fatalf("status = %q, want cancelled", got.Status)
	}

	_, err = svc.Cancel(context.Background(), booked.ID)
	var trErr *TransitionError
	if !errors.As(err, &trErr) {
		t.Fatalf("second cancel err = %v, want *TransitionError", err)
	}
	if _, err := svc.Submit(context.Background(), booked.ID); !errors.As(err, &trErr) {
		t.Fatalf("submit after cancel err = %v, want *TransitionError", err)
	}

	if _, err := svc.Create(context.Background(), CreateInput{TeamID: "T1", Customer: "C2", StartTime: t10, Submit: true}); err != nil {
		t.Fatalf("rebook after cancel error: %v", err)
	}

	if _, err := svc.Cancel(context.Background(), uuid.New()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown id err = %v, want %v", err, store.ErrNotFound)
	}
}

func TestServiceLinkSalesOrder(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, nil)

	booked, err := svc.Create(context.Background(), CreateInput{TeamID: "T1", Customer: "C1", StartTime: t10, Submit: true})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	var vErr *ValidationError
	if _, err := svc.LinkSalesOrder(context.Background(), booked.ID, " "); !errors.As(err, &vErr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}

	got, err := svc.LinkSalesOrder(context.Background(), booked.ID, "SAL-ORD-0001")
	if err != nil {
		t.Fatalf("LinkSalesOrder error: %v", err)
	}
	if got.SalesOrder != "SAL-ORD-0001" || got.Status != domain.AppointmentStatusSubmitted {
		t.Fatalf("appointment = %+v", got)
	}

	if _, err := svc.Cancel(context.Background(), booked.ID); err != nil {
		t.Fatalf("Cancel error: %v", err)
	}
	var trErr *TransitionError
	if _, err := svc.LinkSalesOrder(context.Background(), booked.ID, "SAL-ORD-0002"); !errors.As(err, &trErr) {
		t.Fatalf("err = %v, want *TransitionError", err)
	}
	if repo.appts[booked.ID].SalesOrder != "SAL-ORD-0001" {
		t.Fatalf("cancelled appointment was mutated")
	}
}

func TestServiceLinkSalesOrder_RejectsDraft(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, nil)

	draft, err := svc.Create(context.Background(), CreateInput{TeamID: "T1", Customer: "C1", StartTime: t10})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	_, err = svc.LinkSalesOrder(context.Background(), draft.ID, "SAL-ORD-0001")
	var trErr *TransitionError
	if !errors.As(err, &trErr) || trErr.From != domain.AppointmentStatusDraft {
		t.Fatalf("err = %v, want *TransitionError from draft", err)
	}
	if want := "appointment is draft and cannot be linked to a sales order"; err.Error() != want {
		t.Fatalf("message = %q, want %q", err.Error(), want)
	}
	if repo.appts[draft.ID].SalesOrder != "" {
		t.Fatalf("draft appointment was mutated")
	}
}

func TestServiceGet_RequiresID(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)
	var vErr *ValidationError
	if _, err := svc.Get(context.Background(), uuid.Nil); !errors.As(err, &vErr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
}

func TestService_PublishFailureDoesNotFailRequest(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc := newTestService(newMemRepo(), pub)

	if _, err := svc.Create(context.Background(), CreateInput{TeamID: "T1", Customer: "C1", StartTime: t10}); err != nil {
		t.Fatalf("Create error: %v", err)
	}
}

func TestServiceCreate_ConcurrentBookingsForSameSlot(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, nil)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Create(context.Background(), CreateInput{TeamID: "T1", Customer: "C", StartTime: t10, Submit: true})
			mu.Lock()
			defer mu.Unlock()
			var dbErr *availability.DoubleBookingError
			switch {
			case err == nil:
				succeeded++
			case errors.As(err, &dbErr):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 || rejected != workers-1 {
		t.Fatalf("succeeded = %d, rejected = %d", succeeded, rejected)
	}
}
