// Package settlement holds the settlement job state machine.
// Scheduling, storage and execution live in service and infra/jobstore.
package settlement

import (
	"time"

	"github.com/cockroachdb/errors"

	"ixtrade/domain/market"
)

type State string

const (
	Pending    State = "pending"
	Processing State = "processing"
	Completed  State = "completed"
	Failed     State = "failed"
)

var (
	ErrJobNotFound = errors.Mark(errors.New("settlement job not found"), market.ErrNotFound)
	// ErrUnavailable is returned while the orchestrator is not running or
	// its store cannot be reached.
	ErrUnavailable = errors.Mark(errors.New("settlement queue unavailable"), market.ErrInternal)
	ErrTransition  = errors.New("illegal settlement state transition")
)

func (s State) Terminal() bool {
	return s == Completed || s == Failed
}

// CanTransition encodes pending → processing → {completed | pending | failed}.
func CanTransition(from, to State) bool {
	switch from {
	case Pending:
		return to == Processing
	case Processing:
		return to == Completed || to == Pending || to == Failed
	default:
		return false
	}
}

// Job is the stored record of settling one trade. ID is the trade id.
// Generation increases each time a dead-lettered trade is enqueued again.
type Job struct {
	ID            string        `json:"id"`
	Generation    int           `json:"generation"`
	Trade         market.Trade  `json:"trade"`
	State         State         `json:"state"`
	Attempts      int           `json:"attempts"`
	LastError     string        `json:"last_error,omitempty"`
	Result        string        `json:"result,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	NextAttemptAt time.Time     `json:"next_attempt_at"`
	StartedAt     time.Time     `json:"started_at,omitempty"`
	Duration      time.Duration `json:"duration"`
}

func NewJob(t market.Trade, generation int, now time.Time) *Job {
	return &Job{
		ID:            t.ID,
		Generation:    generation,
		Trade:         t,
		State:         Pending,
		CreatedAt:     now,
		UpdatedAt:     now,
		NextAttemptAt: now,
	}
}

// Transition moves the job forward, refusing anything the state machine
// does not allow. Terminal states never change again.
func (j *Job) Transition(to State, now time.Time) error {
	if !CanTransition(j.State, to) {
		return errors.Mark(errors.Newf("job %s: %s -> %s", j.ID, j.State, to), ErrTransition)
	}
	j.State = to
	j.UpdatedAt = now
	return nil
}

// Due reports whether a pending job may be claimed at now.
func (j *Job) Due(now time.Time) bool {
	return j.State == Pending && !now.Before(j.NextAttemptAt)
}

// JobView is the caller-facing status of a job.
type JobView struct {
	ID         string    `json:"id"`
	Generation int       `json:"generation"`
	State      State     `json:"state"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
	Result     string    `json:"result,omitempty"`
	Duplicate  bool      `json:"duplicate"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (j *Job) View() JobView {
	return JobView{
		ID:         j.ID,
		Generation: j.Generation,
		State:      j.State,
		Attempts:   j.Attempts,
		LastError:  j.LastError,
		Result:     j.Result,
		UpdatedAt:  j.UpdatedAt,
	}
}

// Latency summarizes processing durations of completed jobs.
type Latency struct {
	Count int64         `json:"count"`
	Mean  time.Duration `json:"mean"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
}

type Metrics struct {
	Enqueued     int64   `json:"enqueued"`
	Deduplicated int64   `json:"deduplicated"`
	Completed    int64   `json:"completed"`
	Failed       int64   `json:"failed"`
	Retried      int64   `json:"retried"`
	InFlight     int64   `json:"in_flight"`
	Pending      int64   `json:"pending"`
	Latency      Latency `json:"latency"`
}
