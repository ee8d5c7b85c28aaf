package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

const clockLayout = "15:04:05"

type Team struct {
	bun.BaseModel `bun:"table:teams"`

	ID          string    `bun:"id,pk"`
	DisplayName string    `bun:"display_name,notnull"`
	MemberCount int       `bun:"member_count,notnull"`
	Shifts      []Shift   `bun:"rel:has-many,join:id=team_id"`
	CreatedAt   time.Time `bun:"created_at,notnull"`
	UpdatedAt   time.Time `bun:"updated_at,notnull"`
}

// Name returns the display name, falling back to the id.
func (t Team) Name() string {
	if t.DisplayName != "" {
		return t.DisplayName
	}
	return t.ID
}

// Shift is a recurring daily window with no date component.
type Shift struct {
	bun.BaseModel `bun:"table:team_shifts"`

	TeamID    string `bun:"team_id,pk"`
	Position  int    `bun:"position,pk"`
	StartTime string `bun:"start_time,notnull"`
	EndTime   string `bun:"end_time,notnull"`
}

// On resolves the shift against a calendar date in loc.
func (s Shift) On(year int, month time.Month, day int, loc *time.Location) (time.Time, time.Time, error) {
	start, err := time.Parse(clockLayout, s.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("shift %d: invalid start_time %q", s.Position, s.StartTime)
	}
	end, err := time.Parse(clockLayout, s.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("shift %d: invalid end_time %q", s.Position, s.EndTime)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("shift %d: end_time must be after start_time", s.Position)
	}

	from := time.Date(year, month, day, start.Hour(), start.Minute(), start.Second(), 0, loc)
	to := time.Date(year, month, day, end.Hour(), end.Minute(), end.Second(), 0, loc)
	return from, to, nil
}

type TeamSummary struct {
	ID          string
	DisplayName string
}

type Availability struct {
	TeamID       string
	TeamName     string
	MemberCount  int
	Date         string
	Shifts       []Shift
	Appointments []Appointment
	OpenSlots    []time.Time
}

var ErrInvalidOverlapRule = errors.New("invalid overlap rule")
