package api

import (
	"net/http"

	"github.com/oursky/experiment-runner/pkg/experiments"
	"github.com/oursky/experiment-runner/pkg/store"
	"github.com/oursky/experiment-runner/pkg/utils/httputil"
)

type experimentListResponse struct {
	Experiments []experiments.Experiment `json:"experiments"`
	Page        int                      `json:"page"`
	PerPage     int                      `json:"perPage"`
	TotalPages  int                      `json:"totalPages"`
}

func (s *Server) apiExperimentsList(rw http.ResponseWriter, r *http.Request) {
	page := s.page(r)
	list, totalPages, err := s.store.ListExperiments(r.Context(), userID(r), page)
	if err != nil {
		s.respondErr(rw, err)
		return
	}
	if list == nil {
		list = []experiments.Experiment{}
	}

	httputil.RespondJSON(rw, experimentListResponse{
		Experiments: list,
		Page:        page.Page,
		PerPage:     page.PerPage,
		TotalPages:  totalPages,
	})
}

func (s *Server) apiExperimentGet(rw http.ResponseWriter, r *http.Request) {
	experiment, err := s.store.GetExperiment(r.Context(), userID(r), pathID(r))
	if err != nil {
		s.respondErr(rw, err)
		return
	}
	httputil.RespondJSON(rw, experiment)
}

type experimentCreateRequest struct {
	Name string `json:"name" validate:"required,max=200"`
	Code string `json:"code" validate:"required"`
}

func (s *Server) apiExperimentsCreate(rw http.ResponseWriter, r *http.Request) {
	var req experimentCreateRequest
	if err := s.decode(rw, r, &req); err != nil {
		s.respondErr(rw, err)
		return
	}

	experiment, err := s.store.CreateExperiment(r.Context(), userID(r), req.Name, req.Code)
	if err != nil {
		s.respondErr(rw, err)
		return
	}
	httputil.RespondJSONStatus(rw, http.StatusCreated, experiment)
}

type experimentUpdateRequest struct {
	Name *string `json:"name" validate:"omitempty,min=1,max=200"`
	Code *string `json:"code" validate:"omitempty,min=1"`
}

// apiExperimentUpdate reports success whether or not the caller owns the
// experiment.
func (s *Server) apiExperimentUpdate(rw http.ResponseWriter, r *http.Request) {
	var req experimentUpdateRequest
	if err := s.decode(rw, r, &req); err != nil {
		s.respondErr(rw, err)
		return
	}

	update := store.ExperimentUpdate{Name: req.Name, Code: req.Code}
	if err := s.store.UpdateExperiment(r.Context(), userID(r), pathID(r), update); err != nil {
		s.respondErr(rw, err)
		return
	}
	httputil.RespondSuccess(rw)
}

func (s *Server) apiExperimentDelete(rw http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteExperiment(r.Context(), userID(r), pathID(r)); err != nil {
		s.respondErr(rw, err)
		return
	}
	httputil.RespondSuccess(rw)
}

type experimentRunRequest struct {
	RunnerID int64 `json:"runnerID" validate:"required,min=1"`
}

func (s *Server) apiExperimentRun(rw http.ResponseWriter, r *http.Request) {
	var req experimentRunRequest
	if err := s.decode(rw, r, &req); err != nil {
		s.respondErr(rw, err)
		return
	}

	job, err := s.jobs.Dispatch(r.Context(), userID(r), pathID(r), req.RunnerID)
	if err != nil {
		s.respondErr(rw, err)
		return
	}
	httputil.RespondJSONStatus(rw, http.StatusAccepted, job)
}

func (s *Server) apiExperimentJobs(rw http.ResponseWriter, r *http.Request) {
	experiment, err := s.store.GetExperiment(r.Context(), userID(r), pathID(r))
	if err != nil {
		s.respondErr(rw, err)
		return
	}

	list, err := s.store.ListJobs(r.Context(), experiment.ID)
	if err != nil {
		s.respondErr(rw, err)
		return
	}
	if list == nil {
		list = []experiments.Job{}
	}
	httputil.RespondJSON(rw, list)
}

func (s *Server) apiJobGet(rw http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), pathID(r))
	if err != nil {
		s.respondErr(rw, err)
		return
	}
	// Jobs are visible only to the owner of their experiment.
	if _, err := s.store.GetExperiment(r.Context(), userID(r), job.ExperimentID); err != nil {
		s.respondErr(rw, err)
		return
	}
	httputil.RespondJSON(rw, job)
}
