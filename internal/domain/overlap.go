package domain

import (
	"strings"
	"time"
)

// OverlapRule decides whether an existing booking blocks a requested start.
type OverlapRule string

const (
	// OverlapRuleStartInWindow blocks only when the existing start falls inside
	// [requested, requested+duration). A later request inside an earlier
	// booking's hour is not detected.
	OverlapRuleStartInWindow OverlapRule = "start_in_window"
	// OverlapRuleInterval is the symmetric half-open interval intersection.
	OverlapRuleInterval OverlapRule = "interval"
)

func ParseOverlapRule(s string) (OverlapRule, error) {
	switch OverlapRule(strings.ToLower(strings.TrimSpace(s))) {
	case "", OverlapRuleStartInWindow:
		return OverlapRuleStartInWindow, nil
	case OverlapRuleInterval:
		return OverlapRuleInterval, nil
	}
	return "", ErrInvalidOverlapRule
}

func (r OverlapRule) Conflicts(existingStart, requestedStart time.Time, d time.Duration) bool {
	requestedEnd := requestedStart.Add(d)
	switch r {
	case OverlapRuleInterval:
		return requestedStart.Before(existingStart.Add(d)) && existingStart.Before(requestedEnd)
	default:
		return !existingStart.Before(requestedStart) && existingStart.Before(requestedEnd)
	}
}

// SearchWindow is the start range that must be fetched to evaluate the rule.
func (r OverlapRule) SearchWindow(requestedStart time.Time, d time.Duration) (time.Time, time.Time) {
	if r == OverlapRuleInterval {
		return requestedStart.Add(-d), requestedStart.Add(d)
	}
	return requestedStart, requestedStart.Add(d)
}
