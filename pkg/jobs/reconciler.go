package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oursky/experiment-runner/pkg/experiments"
	"github.com/oursky/experiment-runner/pkg/protocol"
	"github.com/oursky/experiment-runner/pkg/store"

	"go.uber.org/zap"
)

const errRunnerDisconnected = "runner disconnected"

var ErrRunnerMismatch = errors.New("job belongs to another runner")

// Listener is told about every job that reached a terminal status. It is
// called synchronously and must not block.
type Listener interface {
	JobFinished(job experiments.Job)
}

// Reconciler applies what runners report to the persisted jobs. Reports that
// would move a job backwards are logged and dropped.
type Reconciler struct {
	logger    *zap.Logger
	store     store.Store
	listeners []Listener
	now       func() time.Time
}

func NewReconciler(logger *zap.Logger, store store.Store) *Reconciler {
	return &Reconciler{
		logger: logger.Named("reconciler"),
		store:  store,
		now:    time.Now,
	}
}

func (r *Reconciler) AddListener(l Listener) {
	r.listeners = append(r.listeners, l)
}

func (r *Reconciler) ReportAccepted(ctx context.Context, runnerID int64, jobID int64) {
	r.report(ctx, runnerID, jobID, func(job *experiments.Job) error {
		return experiments.Transition(job, experiments.StatusRunning)
	})
}

func (r *Reconciler) ReportResult(ctx context.Context, runnerID int64, result protocol.RunResult) {
	r.report(ctx, runnerID, result.JobID, func(job *experiments.Job) error {
		if job.Status == experiments.StatusPending {
			if err := experiments.Transition(job, experiments.StatusRunning); err != nil {
				return err
			}
		}

		to := experiments.StatusFailed
		if result.Successful {
			to = experiments.StatusCompleted
		}
		if err := experiments.Transition(job, to); err != nil {
			return err
		}
		job.Output = result.Output
		job.Error = result.Error
		return nil
	})
}

func (r *Reconciler) ReportOrphaned(ctx context.Context, runnerID int64, jobIDs []int64) {
	for _, id := range jobIDs {
		r.report(ctx, runnerID, id, func(job *experiments.Job) error {
			return fail(job, errRunnerDisconnected)
		})
	}
}

func (r *Reconciler) report(ctx context.Context, runnerID int64, jobID int64, fn func(*experiments.Job) error) {
	logger := r.logger.With(zap.Int64("jobID", jobID), zap.Int64("runnerID", runnerID))

	job, err := r.apply(ctx, runnerID, jobID, fn)
	switch {
	case errors.Is(err, experiments.ErrInvalidTransition), errors.Is(err, ErrRunnerMismatch), errors.Is(err, store.ErrNotFound):
		logger.Warn("ignoring report", zap.Error(err))
	case err != nil:
		logger.Error("failed to update job", zap.Error(err))
	default:
		logger.Info("job updated", zap.String("status", string(job.Status)))
	}
}

func (r *Reconciler) apply(ctx context.Context, runnerID int64, jobID int64, fn func(*experiments.Job) error) (*experiments.Job, error) {
	job, err := r.store.UpdateJob(ctx, jobID, func(job *experiments.Job) error {
		if job.RunnerID != runnerID {
			return fmt.Errorf("%w: job %d is on runner %d", ErrRunnerMismatch, job.ID, job.RunnerID)
		}
		if err := fn(job); err != nil {
			return err
		}
		job.UpdatedAt = r.now()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if job.Status.IsTerminal() {
		for _, l := range r.listeners {
			l.JobFinished(*job)
		}
	}
	return job, nil
}

func fail(job *experiments.Job, reason string) error {
	if err := experiments.Transition(job, experiments.StatusFailed); err != nil {
		return err
	}
	job.Error = reason
	return nil
}
