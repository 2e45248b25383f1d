// Package jobs holds the job model, the result stores that track job state,
// and the startup probe that decides between queued and inline execution.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a job id is unknown or its record has expired.
var ErrNotFound = errors.New("job not found")

// State is the lifecycle phase of a job.
type State string

const (
	StatePending  State = "PENDING"
	StateProgress State = "PROGRESS"
	StateSuccess  State = "SUCCESS"
	StateFailure  State = "FAILURE"
)

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailure
}

// Default status messages.
const (
	MessageWaiting   = "Task is waiting to be processed"
	MessageNotFound  = "Task is waiting to be processed (not found)"
	MessageCompleted = "Analysis completed"
	MessageFailed    = "Analysis failed"
)

// Job is one submitted analysis and its tracked lifecycle.
type Job struct {
	ID        string          `json:"id"`
	State     State           `json:"state"`
	Progress  float64         `json:"progress"`
	Message   string          `json:"message"`
	Filename  string          `json:"filename,omitempty"`
	Mode      string          `json:"mode,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store keeps job records keyed by id. Implementations must return
// ErrNotFound from Get for unknown or expired ids.
type Store interface {
	Get(ctx context.Context, id string) (Job, error)
	Set(ctx context.Context, job Job) error
	Expire(ctx context.Context, id string, ttl time.Duration) error
}
