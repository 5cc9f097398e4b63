// Package experiments holds the records the coordinator persists and the
// rules governing job status changes.
package experiments

import "time"

type Runner struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	AccessKey string    `db:"access_key" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

type Experiment struct {
	ID     int64  `db:"id" json:"id"`
	UserID string `db:"user_id" json:"userID"`
	Name   string `db:"name" json:"name"`
	Code   string `db:"code" json:"code"`
	// Status mirrors the latest job and is empty for experiments never run.
	Status    Status    `db:"status" json:"status,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

type Job struct {
	ID           int64     `db:"id" json:"id"`
	ExperimentID int64     `db:"experiment_id" json:"experimentID"`
	RunnerID     int64     `db:"runner_id" json:"runnerID"`
	Code         string    `db:"code" json:"code"`
	Status       Status    `db:"status" json:"status"`
	Output       string    `db:"output" json:"output,omitempty"`
	Error        string    `db:"error" json:"error,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

// NewJob snapshots the experiment code so later edits do not affect the job.
func NewJob(experiment *Experiment, runnerID int64, now time.Time) *Job {
	return &Job{
		ExperimentID: experiment.ID,
		RunnerID:     runnerID,
		Code:         experiment.Code,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
