// Package schedule computes next execution instants for the four schedule
// kinds: cron, interval, once, and event.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"cronflow/internal/cronexpr"
	"cronflow/internal/domain"
)

var (
	ErrUnknownKind   = errors.New("unknown schedule kind")
	ErrBadCron       = errors.New("invalid cron expression")
	ErrBadTimezone   = errors.New("invalid timezone")
	ErrBadInterval   = errors.New("interval must be positive")
	ErrMissingOnceAt = errors.New("once schedule requires a datetime")
	ErrMissingEvent  = errors.New("event schedule requires a trigger name")
)

// Validate checks a schedule descriptor. Cron expressions are parsed here so
// bad syntax is rejected at create/update time, never lazily at run time.
func Validate(s domain.Schedule) error {
	switch s.Kind {
	case domain.ScheduleCron:
		if err := cronexpr.Validate(s.Expr); err != nil {
			return fmt.Errorf("%w: %v", ErrBadCron, err)
		}
		if s.Timezone != "" {
			if _, err := time.LoadLocation(s.Timezone); err != nil {
				return fmt.Errorf("%w %q", ErrBadTimezone, s.Timezone)
			}
		}
		return nil
	case domain.ScheduleInterval:
		if s.Interval <= 0 {
			return ErrBadInterval
		}
		return nil
	case domain.ScheduleOnce:
		if s.At.IsZero() {
			return ErrMissingOnceAt
		}
		return nil
	case domain.ScheduleEvent:
		if s.Event == "" {
			return ErrMissingEvent
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, s.Kind)
	}
}

// NextRun computes the next execution instant after now. The second return
// is false when the schedule has no deterministic next run: event schedules
// always, and cron expressions with no future match within the search
// budget.
//
// A once schedule returns its stored datetime verbatim, even if already
// past; the engine fires such tasks immediately on arming.
func NextRun(s domain.Schedule, now time.Time) (time.Time, bool) {
	switch s.Kind {
	case domain.ScheduleCron:
		expr, err := cronexpr.Parse(s.Expr)
		if err != nil {
			return time.Time{}, false
		}
		ref := now
		if s.Timezone != "" {
			if loc, lerr := time.LoadLocation(s.Timezone); lerr == nil {
				ref = now.In(loc)
			}
		}
		next := expr.Next(ref)
		if next.IsZero() {
			return time.Time{}, false
		}
		return next, true
	case domain.ScheduleInterval:
		return now.Add(s.Interval), true
	case domain.ScheduleOnce:
		return s.At, true
	case domain.ScheduleEvent:
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}
