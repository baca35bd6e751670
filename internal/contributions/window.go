package contributions

import (
	"fmt"
	"time"

	"github.com/angelmondragon/cooperative-backend/pkg/config"
)

const cycleLength = 7 * 24 * time.Hour

// CycleWeek is one cooperative week. WeekEnd is the last second of the week
// and WindowStart opens the manual payment window.
type CycleWeek struct {
	WeekStart   time.Time `json:"weekStart"`
	WeekEnd     time.Time `json:"weekEnd"`
	WindowStart time.Time `json:"windowStart"`
	NextStart   time.Time `json:"nextStart"`
}

// Contains reports whether t falls inside the week.
func (w CycleWeek) Contains(t time.Time) bool {
	return !t.Before(w.WeekStart) && t.Before(w.NextStart)
}

// WindowPolicy holds the calendar rules. All computations run in UTC and are
// pure functions of their inputs.
type WindowPolicy struct {
	WeekStartDay time.Weekday
	WindowLength time.Duration
	LateFeeCents int64
}

// NewWindowPolicy builds the policy from configuration.
func NewWindowPolicy(cfg config.ContributionsConfig) (WindowPolicy, error) {
	day, err := cfg.WeekStart()
	if err != nil {
		return WindowPolicy{}, err
	}
	if cfg.WindowLength <= 0 || cfg.WindowLength > cycleLength {
		return WindowPolicy{}, fmt.Errorf("window length must be within (0, 168h], got %s", cfg.WindowLength)
	}
	if cfg.LateFeeCents < 0 {
		return WindowPolicy{}, fmt.Errorf("late fee must not be negative")
	}
	return WindowPolicy{
		WeekStartDay: day,
		WindowLength: cfg.WindowLength,
		LateFeeCents: cfg.LateFeeCents,
	}, nil
}

// CurrentCycleWeek returns the cycle week containing now.
func (p WindowPolicy) CurrentCycleWeek(now time.Time) CycleWeek {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	back := (int(now.Weekday()) - int(p.WeekStartDay) + 7) % 7
	start := midnight.AddDate(0, 0, -back)
	next := start.Add(cycleLength)
	return CycleWeek{
		WeekStart:   start,
		WeekEnd:     next.Add(-time.Second),
		WindowStart: next.Add(-p.WindowLength),
		NextStart:   next,
	}
}

// IsWindowOpen reports whether a manual payment may be submitted at now. The
// window shuts at WeekEnd, the same instant LateFee starts charging.
func (p WindowPolicy) IsWindowOpen(now time.Time) bool {
	week := p.CurrentCycleWeek(now)
	now = now.UTC()
	return !now.Before(week.WindowStart) && !now.After(week.WeekEnd)
}

// LateFee is a step function: zero up to and including weekEnd, the flat fee after.
func (p WindowPolicy) LateFee(now, weekEnd time.Time) int64 {
	if now.After(weekEnd) {
		return p.LateFeeCents
	}
	return 0
}

// DueDate returns the week end of the nth cycle week of a subscription that
// started at start. Week 1 is the cycle week containing start.
func (p WindowPolicy) DueDate(start time.Time, weekNumber int) time.Time {
	first := p.CurrentCycleWeek(start)
	return first.WeekEnd.AddDate(0, 0, 7*(weekNumber-1))
}
