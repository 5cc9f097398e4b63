package experiments

import (
	"errors"
	"fmt"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var (
	ErrInvalidTransition         = errors.New("invalid status transition")
	ErrInvalidOperationForStatus = errors.New("invalid operation for status")
)

var transitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusFailed},
	StatusRunning: {StatusCompleted, StatusFailed},
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsActive reports whether a job in this status blocks another dispatch of
// the same experiment.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusRunning
}

func CanTransition(from Status, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves the job to the given status, refusing moves that would
// go backwards or leave a terminal status.
func Transition(job *Job, to Status) error {
	if !CanTransition(job.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, to)
	}
	job.Status = to
	return nil
}

// CheckRerun rejects a new dispatch while the latest job of the experiment
// is still pending or running.
func CheckRerun(latest *Job) error {
	if latest != nil && latest.Status.IsActive() {
		return fmt.Errorf("%w: job %d is %s", ErrInvalidOperationForStatus, latest.ID, latest.Status)
	}
	return nil
}
