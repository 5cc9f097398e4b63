package dashboard

import (
	"net/http"

	"github.com/oursky/experiment-runner/pkg/experiments"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

type runnerRow struct {
	experiments.Runner
	Connected bool
}

type dataIndex struct {
	Runners []runnerRow
	Jobs    []experiments.Job
}

func (s *Server) index(rw http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(rw, r)
		return
	}

	runners, err := s.store.ListRunners(r.Context())
	if err != nil {
		s.fail(rw, "failed to list runners", err)
		return
	}
	jobs, err := s.store.RecentJobs(r.Context(), s.config.GetRecentJobs())
	if err != nil {
		s.fail(rw, "failed to list jobs", err)
		return
	}
	connected, err := s.sessions.Sessions(r.Context())
	if err != nil {
		s.fail(rw, "failed to list sessions", err)
		return
	}

	data := &dataIndex{
		Runners: lo.Map(runners, func(runner experiments.Runner, _ int) runnerRow {
			return runnerRow{Runner: runner, Connected: lo.Contains(connected, runner.ID)}
		}),
		Jobs: jobs,
	}
	s.template(rw, "index.html", data)
}

func (s *Server) styles(rw http.ResponseWriter, r *http.Request) {
	s.asset(rw, "styles.css", "text/css; charset=utf-8")
}

func (s *Server) fail(rw http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, zap.Error(err))
	http.Error(rw, msg, http.StatusInternalServerError)
}
