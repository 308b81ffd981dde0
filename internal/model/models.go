package model

import "time"

// Lesson categories. Only CategoryLesson is billed by duration.
const (
	CategoryLesson = "lesson"
	CategoryOther  = "other"
)

// Lesson statuses.
const (
	StatusPending = "pending"
	StatusPaid    = "paid"
)

// Lesson is one tracked session.
type Lesson struct {
	ID              string    // UUID
	Date            time.Time // Day the lesson took place
	Title           string
	Category        string
	DurationMinutes int
	HourlyRateCents int64 // Rate in effect when the lesson was recorded
	ValueCents      int64 // Amount billed
	Status          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
