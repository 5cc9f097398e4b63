package api

import (
	"net/http"
	"time"

	"github.com/oursky/experiment-runner/pkg/token"
	"github.com/oursky/experiment-runner/pkg/utils/httputil"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

type runnerResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Connected bool      `json:"connected"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Server) apiRunnersList(rw http.ResponseWriter, r *http.Request) {
	runners, err := s.store.ListRunners(r.Context())
	if err != nil {
		s.respondErr(rw, err)
		return
	}

	connected, err := s.sessions.Sessions(r.Context())
	if err != nil {
		s.respondErr(rw, err)
		return
	}

	resp := make([]runnerResponse, 0, len(runners))
	for _, runner := range runners {
		resp = append(resp, runnerResponse{
			ID:        runner.ID,
			Name:      runner.Name,
			Connected: lo.Contains(connected, runner.ID),
			CreatedAt: runner.CreatedAt,
		})
	}
	httputil.RespondJSON(rw, resp)
}

type runnerCreateRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

type runnerCreateResponse struct {
	runnerResponse
	Token string `json:"token"`
}

// apiRunnersCreate registers a runner under a fresh access key and returns
// the token it connects with. The token is not stored.
func (s *Server) apiRunnersCreate(rw http.ResponseWriter, r *http.Request) {
	var req runnerCreateRequest
	if err := s.decode(rw, r, &req); err != nil {
		s.respondErr(rw, err)
		return
	}

	runner, err := s.store.CreateRunner(r.Context(), req.Name, uuid.NewString())
	if err != nil {
		s.respondErr(rw, err)
		return
	}

	tok, err := s.codec.Encode(token.Payload{AccessKey: runner.AccessKey})
	if err != nil {
		s.respondErr(rw, err)
		return
	}

	s.logger.Info("runner created", zap.Int64("runnerID", runner.ID), zap.String("name", runner.Name))
	httputil.RespondJSONStatus(rw, http.StatusCreated, runnerCreateResponse{
		runnerResponse: runnerResponse{
			ID:        runner.ID,
			Name:      runner.Name,
			CreatedAt: runner.CreatedAt,
		},
		Token: tok,
	})
}
