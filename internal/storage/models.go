package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Analysis is the archived outcome of one finished job.
type Analysis struct {
	JobID    string
	Filename string
	Mode     string
	State    string
	Sender   string
	Subject  string

	// Confidence is nil for failed jobs.
	Confidence *float64

	ResultJSON  string
	Error       string
	CreatedAt   time.Time
	CompletedAt time.Time
}
