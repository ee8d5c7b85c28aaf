package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AppointmentDuration is the booking length the overlap check assumes,
// regardless of the stored end_time.
const AppointmentDuration = time.Hour

type AppointmentStatus string

const (
	AppointmentStatusDraft     AppointmentStatus = "draft"
	AppointmentStatusSubmitted AppointmentStatus = "submitted"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
)

func (s AppointmentStatus) Valid() bool {
	switch s {
	case AppointmentStatusDraft, AppointmentStatusSubmitted, AppointmentStatusCancelled:
		return true
	}
	return false
}

// Active reports whether the appointment still occupies its team.
func (s AppointmentStatus) Active() bool {
	return s == AppointmentStatusDraft || s == AppointmentStatusSubmitted
}

type Appointment struct {
	bun.BaseModel `bun:"table:appointments"`

	ID                  uuid.UUID         `bun:"id,pk,type:uuid"`
	TeamID              string            `bun:"team_id,notnull"`
	Customer            string            `bun:"customer,notnull"`
	StartTime           time.Time         `bun:"start_time,notnull"`
	EndTime             time.Time         `bun:"end_time,notnull"`
	TotalServiceMinutes int               `bun:"total_service_minutes,notnull"`
	Status              AppointmentStatus `bun:"status,notnull"`
	SalesOrder          string            `bun:"sales_order,notnull"`
	CreatedAt           time.Time         `bun:"created_at,notnull"`
	UpdatedAt           time.Time         `bun:"updated_at,notnull"`
}

func (a *Appointment) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if a.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			a.ID = id
		}
		if a.Status == "" {
			a.Status = AppointmentStatusDraft
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if a.UpdatedAt.IsZero() {
			a.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		a.UpdatedAt = now
	}
	return nil
}

// ServiceLine is one ordered service contributing to an appointment's total time.
type ServiceLine struct {
	ServiceMinutes int
	GapMinutes     int
}

func TotalServiceMinutes(lines []ServiceLine) int {
	total := 0
	for _, l := range lines {
		if l.ServiceMinutes > 0 {
			total += l.ServiceMinutes
		}
		if l.GapMinutes > 0 {
			total += l.GapMinutes
		}
	}
	return total
}
