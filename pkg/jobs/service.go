// Package jobs turns dispatch requests into persisted jobs and keeps them in
// step with what runners report.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/oursky/experiment-runner/pkg/experiments"
	"github.com/oursky/experiment-runner/pkg/store"

	"go.uber.org/zap"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, jobID int64, runnerID int64, code string) error
}

type Service struct {
	logger     *zap.Logger
	store      store.Store
	dispatcher Dispatcher
	reconciler *Reconciler
	now        func() time.Time
}

func NewService(logger *zap.Logger, store store.Store, dispatcher Dispatcher, reconciler *Reconciler) *Service {
	return &Service{
		logger:     logger.Named("jobs"),
		store:      store,
		dispatcher: dispatcher,
		reconciler: reconciler,
		now:        time.Now,
	}
}

// Dispatch runs the experiment on the runner as a new job. The job is
// persisted as failed when it could not be handed to the runner, and the
// dispatch error is returned.
func (s *Service) Dispatch(ctx context.Context, userID string, experimentID int64, runnerID int64) (*experiments.Job, error) {
	experiment, err := s.store.GetExperiment(ctx, userID, experimentID)
	if err != nil {
		return nil, fmt.Errorf("cannot get experiment %d: %w", experimentID, err)
	}
	if _, err := s.store.GetRunner(ctx, runnerID); err != nil {
		return nil, fmt.Errorf("cannot get runner %d: %w", runnerID, err)
	}

	job := experiments.NewJob(experiment, runnerID, s.now())
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("cannot create job: %w", err)
	}

	logger := s.logger.With(zap.Int64("jobID", job.ID), zap.Int64("experimentID", experimentID), zap.Int64("runnerID", runnerID))

	if err := s.dispatcher.Dispatch(ctx, job.ID, runnerID, job.Code); err != nil {
		logger.Warn("dispatch failed", zap.Error(err))

		_, failErr := s.reconciler.apply(ctx, runnerID, job.ID, func(job *experiments.Job) error {
			return fail(job, err.Error())
		})
		if failErr != nil {
			logger.Error("failed to mark job failed", zap.Error(failErr))
		}
		return nil, err
	}

	logger.Info("job created")
	return job, nil
}
