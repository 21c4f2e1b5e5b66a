package models

import (
	"time"

	"github.com/google/uuid"
)

// NewRecordId returns an opaque id for a new record. Ids are stable for the
// record's lifetime and never reused.
func NewRecordId() string {
	return uuid.NewString()
}

// NormalizeDate strips the time-of-day component. Stock and bill dates are
// calendar dates; only their ordering matters.
func NormalizeDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
