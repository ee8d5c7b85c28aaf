package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"crewbook/backend/internal/domain"
	"crewbook/backend/internal/store"
)

const (
	defaultMaxAttempts = 3

	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

type ScheduleRepo struct {
	db          *bun.DB
	maxAttempts uint
	backoff     func() backoff.BackOff
}

type Option func(*ScheduleRepo)

// WithMaxAttempts bounds how often a team transaction is attempted when
// Postgres reports a serialization failure or deadlock.
func WithMaxAttempts(n int) Option {
	return func(r *ScheduleRepo) {
		if n > 0 {
			r.maxAttempts = uint(n)
		}
	}
}

func NewScheduleRepo(db *bun.DB, opts ...Option) *ScheduleRepo {
	r := &ScheduleRepo{
		db:          db,
		maxAttempts: defaultMaxAttempts,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 25 * time.Millisecond
			b.MaxInterval = 500 * time.Millisecond
			return b
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type scheduleTx struct {
	tx bun.Tx
}

func (r *ScheduleRepo) FindActiveAppointments(ctx context.Context, f store.AppointmentFilter) ([]domain.Appointment, error) {
	return findActiveAppointments(ctx, r.db, f)
}

func (r *ScheduleRepo) GetTeam(ctx context.Context, teamID string) (domain.Team, error) {
	return getTeam(ctx, r.db, teamID)
}

func (r *ScheduleRepo) ListTeams(ctx context.Context) ([]domain.TeamSummary, error) {
	var rows []domain.Team
	err := r.db.NewSelect().
		Model(&rows).
		Column("id", "display_name").
		OrderExpr("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]domain.TeamSummary, 0, len(rows))
	for _, t := range rows {
		out = append(out, domain.TeamSummary{ID: t.ID, DisplayName: t.DisplayName})
	}
	return out, nil
}

func (r *ScheduleRepo) GetAppointment(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error) {
	var appt domain.Appointment
	err := r.db.NewSelect().
		Model(&appt).
		Where("id = ?", appointmentID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Appointment{}, store.ErrNotFound
		}
		return domain.Appointment{}, err
	}
	return appt, nil
}

// InTeamTransaction runs fn in a transaction that holds the team's advisory
// lock, so a validate-then-write sequence cannot interleave with another one
// for the same team. Serialization failures and deadlocks are retried.
func (r *ScheduleRepo) InTeamTransaction(ctx context.Context, teamID string, fn func(ctx context.Context, tx store.ScheduleTx) error) error {
	return retryTeamTx(ctx, r.maxAttempts, r.backoff(), func() error {
		return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			if err := lockTeamSchedule(ctx, tx, teamID); err != nil {
				return err
			}
			return fn(ctx, scheduleTx{tx: tx})
		})
	})
}

// retryTeamTx calls attempt until it succeeds, fails with a non-transient
// error, or maxAttempts calls have been made. Exhausted retries surface as
// store.ErrTransient.
func retryTeamTx(ctx context.Context, maxAttempts uint, bo backoff.BackOff, attempt func() error) error {
	op := func() (struct{}, error) {
		err := attempt()
		if err != nil && !isTransient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(maxAttempts),
	)
	// Retry returns the wrapper as-is when the last allowed attempt fails permanently.
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Unwrap()
	}
	if err != nil && isTransient(err) {
		return fmt.Errorf("%w: %v", store.ErrTransient, err)
	}
	return err
}

func lockTeamSchedule(ctx context.Context, tx bun.Tx, teamID string) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", "team:"+teamID).Exec(ctx)
	return err
}

func (t scheduleTx) FindActiveAppointments(ctx context.Context, f store.AppointmentFilter) ([]domain.Appointment, error) {
	return findActiveAppointments(ctx, t.tx, f)
}

func (t scheduleTx) GetTeam(ctx context.Context, teamID string) (domain.Team, error) {
	return getTeam(ctx, t.tx, teamID)
}

func (t scheduleTx) GetAppointmentForUpdate(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error) {
	var appt domain.Appointment
	err := t.tx.NewSelect().
		Model(&appt).
		Where("id = ?", appointmentID).
		For("UPDATE").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Appointment{}, store.ErrNotFound
		}
		return domain.Appointment{}, err
	}
	return appt, nil
}

func (t scheduleTx) InsertAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	m := appt
	_, err := t.tx.NewInsert().Model(&m).Exec(ctx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return domain.Appointment{}, store.ErrConflict
		}
		return domain.Appointment{}, err
	}
	return m, nil
}

func (t scheduleTx) UpdateAppointment(ctx context.Context, appt domain.Appointment, columns ...string) (domain.Appointment, error) {
	m := appt
	q := t.tx.NewUpdate().Model(&m).WherePK()
	if len(columns) > 0 {
		q = q.Column(columns...).Column("updated_at")
	} else {
		q = q.ExcludeColumn("id", "created_at")
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return domain.Appointment{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Appointment{}, err
	}
	if affected == 0 {
		return domain.Appointment{}, store.ErrNotFound
	}
	return m, nil
}

func findActiveAppointments(ctx context.Context, db bun.IDB, f store.AppointmentFilter) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	q := db.NewSelect().
		Model(&rows).
		Where("team_id = ?", f.TeamID).
		Where("status <> ?", domain.AppointmentStatusCancelled).
		Where("start_time >= ?", f.StartFrom).
		Where("start_time < ?", f.StartTo).
		OrderExpr("start_time ASC, id ASC")
	if f.ExcludeID != uuid.Nil {
		q = q.Where("id <> ?", f.ExcludeID)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

func getTeam(ctx context.Context, db bun.IDB, teamID string) (domain.Team, error) {
	var team domain.Team
	err := db.NewSelect().
		Model(&team).
		Relation("Shifts", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.OrderExpr("position ASC")
		}).
		Where("?TableAlias.id = ?", teamID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Team{}, store.ErrNotFound
		}
		return domain.Team{}, err
	}
	return team, nil
}

func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
}
