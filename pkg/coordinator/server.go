package coordinator

import (
	"context"
	"fmt"
	"sort"

	"github.com/oursky/experiment-runner/pkg/protocol"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Handle is the registry's view of a live session.
type Handle interface {
	ID() string
	// Send queues a message for the runner without blocking.
	Send(msg protocol.Message) error
}

// Reporter receives what runners report back. It is the only place where
// persisted job state is touched.
type Reporter interface {
	ReportAccepted(ctx context.Context, runnerID int64, jobID int64)
	ReportResult(ctx context.Context, runnerID int64, result protocol.RunResult)
	ReportOrphaned(ctx context.Context, runnerID int64, jobIDs []int64)
}

type sessions map[int64]Handle

// Server is the registry of live runner sessions. The session map is owned
// by the goroutine started in Start; every access goes through ops.
type Server struct {
	logger   *zap.Logger
	reporter Reporter
	metrics  *metrics

	ops  chan func(sessions)
	done chan struct{}
}

func NewServer(logger *zap.Logger, reporter Reporter, registry *prometheus.Registry) *Server {
	s := &Server{
		logger:   logger.Named("server"),
		reporter: reporter,
		ops:      make(chan func(sessions)),
		done:     make(chan struct{}),
	}
	s.metrics = newMetrics(s, registry)
	return s
}

func (s *Server) Start(ctx context.Context, g *errgroup.Group) error {
	g.Go(func() error {
		s.run(ctx)
		return nil
	})
	return nil
}

func (s *Server) run(ctx context.Context) {
	defer close(s.done)

	m := make(sessions)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("server stopped", zap.Int("sessions", len(m)))
			return
		case op := <-s.ops:
			op(m)
		}
	}
}

// do runs op on the registry goroutine and waits for it. op must not block.
func (s *Server) do(ctx context.Context, op func(sessions)) error {
	finished := make(chan struct{})
	wrapped := func(m sessions) {
		defer close(finished)
		op(m)
	}

	select {
	case s.ops <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrServerStopped
	}
	<-finished
	return nil
}

// Register makes handle the session of runnerID, replacing any previous one.
// The displaced session is not notified; it goes away with its socket.
func (s *Server) Register(ctx context.Context, runnerID int64, handle Handle) error {
	return s.do(ctx, func(m sessions) {
		if old, ok := m[runnerID]; ok {
			s.logger.Info("replacing session",
				zap.Int64("runnerID", runnerID),
				zap.String("old", old.ID()),
				zap.String("new", handle.ID()),
			)
		} else {
			s.logger.Info("runner connected", zap.Int64("runnerID", runnerID), zap.String("session", handle.ID()))
		}
		m[runnerID] = handle
	})
}

// Deregister removes runnerID only while handle is still its registered
// session, so a stale session cannot remove its replacement.
func (s *Server) Deregister(ctx context.Context, runnerID int64, handle Handle) error {
	return s.do(ctx, func(m sessions) {
		if current, ok := m[runnerID]; ok && current == handle {
			delete(m, runnerID)
			s.logger.Info("runner disconnected", zap.Int64("runnerID", runnerID), zap.String("session", handle.ID()))
		}
	})
}

// Dispatch sends a job to the live session of runnerID. It returns
// ErrRunnerUnavailable when the runner is not connected and wraps
// ErrSendFailed when the session could not take the message.
func (s *Server) Dispatch(ctx context.Context, jobID int64, runnerID int64, code string) error {
	var err error
	opErr := s.do(ctx, func(m sessions) {
		handle, ok := m[runnerID]
		if !ok {
			err = ErrRunnerUnavailable
			return
		}
		if sendErr := handle.Send(protocol.RunExperiment{JobID: jobID, Code: code}); sendErr != nil {
			err = fmt.Errorf("%w: %w", ErrSendFailed, sendErr)
		}
	})
	if opErr != nil {
		return opErr
	}

	s.metrics.observeDispatch(err)
	if err != nil {
		s.logger.Warn("dispatch failed", zap.Error(err), zap.Int64("jobID", jobID), zap.Int64("runnerID", runnerID))
	} else {
		s.logger.Info("job dispatched", zap.Int64("jobID", jobID), zap.Int64("runnerID", runnerID))
	}
	return err
}

// Sessions returns the ids of runners with a live session, in order.
func (s *Server) Sessions(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.do(ctx, func(m sessions) {
		for id := range m {
			ids = append(ids, id)
		}
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, err
}

func (s *Server) ReportAccepted(ctx context.Context, runnerID int64, jobID int64) {
	s.reporter.ReportAccepted(ctx, runnerID, jobID)
}

func (s *Server) ReportResult(ctx context.Context, runnerID int64, result protocol.RunResult) {
	s.metrics.observeResult(result.Successful)
	s.reporter.ReportResult(ctx, runnerID, result)
}

func (s *Server) ReportOrphaned(ctx context.Context, runnerID int64, jobIDs []int64) {
	if len(jobIDs) == 0 {
		return
	}
	s.logger.Warn("runner left with jobs in flight", zap.Int64("runnerID", runnerID), zap.Int64s("jobIDs", jobIDs))
	s.reporter.ReportOrphaned(ctx, runnerID, jobIDs)
}
