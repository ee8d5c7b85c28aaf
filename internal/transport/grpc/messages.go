package grpc

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"crewbook/backend/internal/domain"
)

// Request fields are read leniently: a missing key is the zero value and a
// wrong type is an invalid argument.

func stringField(req *structpb.Struct, key string) (string, error) {
	v, ok := req.GetFields()[key]
	if !ok {
		return "", nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return "", nil
	case *structpb.Value_StringValue:
		return strings.TrimSpace(k.StringValue), nil
	default:
		return "", fmt.Errorf("%s must be a string", key)
	}
}

func boolField(req *structpb.Struct, key string) (bool, error) {
	v, ok := req.GetFields()[key]
	if !ok {
		return false, nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return false, nil
	case *structpb.Value_BoolValue:
		return k.BoolValue, nil
	default:
		return false, fmt.Errorf("%s must be a boolean", key)
	}
}

func intValue(v *structpb.Value, key string) (int, error) {
	switch k := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return 0, nil
	case *structpb.Value_NumberValue:
		n := k.NumberValue
		if n != math.Trunc(n) || n < math.MinInt32 || n > math.MaxInt32 {
			return 0, fmt.Errorf("%s must be a whole number", key)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("%s must be a number", key)
	}
}

// timeField parses an RFC 3339 timestamp. An empty value is the zero time.
func timeField(req *structpb.Struct, key string) (time.Time, error) {
	s, err := stringField(req, key)
	if err != nil || s == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be an RFC 3339 timestamp", key)
	}
	return t, nil
}

func uuidField(req *structpb.Struct, key string, required bool) (uuid.UUID, error) {
	s, err := stringField(req, key)
	if err != nil {
		return uuid.Nil, err
	}
	if s == "" {
		if required {
			return uuid.Nil, fmt.Errorf("%s is required", key)
		}
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s must be a UUID", key)
	}
	return id, nil
}

func serviceLinesField(req *structpb.Struct, key string) ([]domain.ServiceLine, error) {
	v, ok := req.GetFields()[key]
	if !ok {
		return nil, nil
	}
	if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
		return nil, nil
	}
	list := v.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("%s must be a list", key)
	}

	lines := make([]domain.ServiceLine, 0, len(list.GetValues()))
	for i, item := range list.GetValues() {
		obj := item.GetStructValue()
		if obj == nil {
			return nil, fmt.Errorf("%s[%d] must be an object", key, i)
		}
		var line domain.ServiceLine
		var err error
		if f, ok := obj.GetFields()["service_minutes"]; ok {
			if line.ServiceMinutes, err = intValue(f, "service_minutes"); err != nil {
				return nil, err
			}
		}
		if f, ok := obj.GetFields()["gap_minutes"]; ok {
			if line.GapMinutes, err = intValue(f, "gap_minutes"); err != nil {
				return nil, err
			}
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339)
}

func appointmentFields(a domain.Appointment) map[string]any {
	return map[string]any{
		"id":                    a.ID.String(),
		"team_id":               a.TeamID,
		"customer":              a.Customer,
		"start_time":            formatTime(a.StartTime.UTC()),
		"end_time":              formatTime(a.EndTime.UTC()),
		"total_service_minutes": a.TotalServiceMinutes,
		"status":                string(a.Status),
		"sales_order":           a.SalesOrder,
		"created_at":            formatTime(a.CreatedAt.UTC()),
		"updated_at":            formatTime(a.UpdatedAt.UTC()),
	}
}

func availabilityFields(av domain.Availability) map[string]any {
	shifts := make([]any, 0, len(av.Shifts))
	for _, s := range av.Shifts {
		shifts = append(shifts, map[string]any{
			"start_time": s.StartTime,
			"end_time":   s.EndTime,
		})
	}

	appts := make([]any, 0, len(av.Appointments))
	for _, a := range av.Appointments {
		appts = append(appts, appointmentFields(a))
	}

	// Slots keep the schedule timezone offset so clients can show local times.
	slots := make([]any, 0, len(av.OpenSlots))
	for _, t := range av.OpenSlots {
		slots = append(slots, t.Format(time.RFC3339))
	}

	return map[string]any{
		"team_id":      av.TeamID,
		"team_name":    av.TeamName,
		"member_count": av.MemberCount,
		"date":         av.Date,
		"shifts":       shifts,
		"appointments": appts,
		"open_slots":   slots,
	}
}
