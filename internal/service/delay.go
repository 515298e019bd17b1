package service

import (
	"time"

	"github.com/unclebandit/leaddrip-backend/internal/model"
)

// DueAt is base shifted by the given delay.
func DueAt(base time.Time, days, hours, minutes int) time.Time {
	return base.Add(time.Duration(days)*24*time.Hour +
		time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute)
}

// StepDueAt is DueAt for a step's stored delay.
func StepDueAt(base time.Time, step *model.Step) time.Time {
	return DueAt(base, step.DelayDays, step.DelayHours, step.DelayMinutes)
}
