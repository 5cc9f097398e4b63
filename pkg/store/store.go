// Package store persists runners, experiments and jobs.
package store

import (
	"context"
	"errors"

	"github.com/oursky/experiment-runner/pkg/experiments"
)

var ErrNotFound = errors.New("not found")

type Page struct {
	Page    int
	PerPage int
}

func (p Page) offset() int {
	return (p.Page - 1) * p.PerPage
}

type ExperimentUpdate struct {
	Name *string
	Code *string
}

// Store is scoped to the owning user for experiment records. Updates and
// deletes of experiments owned by someone else affect no rows and do not
// fail.
type Store interface {
	CreateRunner(ctx context.Context, name string, accessKey string) (*experiments.Runner, error)
	GetRunner(ctx context.Context, id int64) (*experiments.Runner, error)
	FindRunnerByAccessKey(ctx context.Context, accessKey string) (*experiments.Runner, error)
	ListRunners(ctx context.Context) ([]experiments.Runner, error)

	ListExperiments(ctx context.Context, userID string, page Page) (list []experiments.Experiment, totalPages int, err error)
	GetExperiment(ctx context.Context, userID string, id int64) (*experiments.Experiment, error)
	CreateExperiment(ctx context.Context, userID string, name string, code string) (*experiments.Experiment, error)
	UpdateExperiment(ctx context.Context, userID string, id int64, update ExperimentUpdate) error
	DeleteExperiment(ctx context.Context, userID string, id int64) error

	// CreateJob inserts a pending job unless the experiment's latest job is
	// still active, in which case experiments.ErrInvalidOperationForStatus
	// is returned. The check and insert are atomic.
	CreateJob(ctx context.Context, job *experiments.Job) error
	GetJob(ctx context.Context, id int64) (*experiments.Job, error)
	ListJobs(ctx context.Context, experimentID int64) ([]experiments.Job, error)
	RecentJobs(ctx context.Context, limit int) ([]experiments.Job, error)
	// UpdateJob applies updater to the current row under a row lock. The
	// row is left untouched when updater fails.
	UpdateJob(ctx context.Context, id int64, updater func(*experiments.Job) error) (*experiments.Job, error)
}

func totalPages(count int, perPage int) int {
	if perPage <= 0 {
		return 0
	}
	return (count + perPage - 1) / perPage
}
