package scheduler

import (
	"fmt"
	"time"
)

// Schedule defines when a job should run.
type Schedule interface {
	// Next returns the next time the job should run after t.
	Next(t time.Time) time.Time
	String() string
}

// IntervalSchedule schedules a job to run at a fixed interval.
type IntervalSchedule struct {
	Interval time.Duration
}

func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: interval}
}

func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

func (s *IntervalSchedule) String() string {
	return fmt.Sprintf("@every %s", s.Interval)
}

// WeeklySchedule fires once a week at the start of Hour on Weekday, UTC.
type WeeklySchedule struct {
	Weekday time.Weekday
	Hour    int
}

func (s WeeklySchedule) Next(t time.Time) time.Time {
	t = t.UTC()
	y, m, d := t.Date()
	next := time.Date(y, m, d, s.Hour, 0, 0, 0, time.UTC)
	days := (int(s.Weekday) - int(t.Weekday()) + 7) % 7
	next = next.AddDate(0, 0, days)
	if !next.After(t) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}

func (s WeeklySchedule) String() string {
	return fmt.Sprintf("@weekly %s %02d:00 UTC", s.Weekday, s.Hour)
}

// MonthlySchedule fires at the start of Hour on the first day of each month, UTC.
type MonthlySchedule struct {
	Hour int
}

func (s MonthlySchedule) Next(t time.Time) time.Time {
	t = t.UTC()
	next := time.Date(t.Year(), t.Month(), 1, s.Hour, 0, 0, 0, time.UTC)
	if !next.After(t) {
		next = next.AddDate(0, 1, 0)
	}
	return next
}

func (s MonthlySchedule) String() string {
	return fmt.Sprintf("@monthly day 1 %02d:00 UTC", s.Hour)
}
