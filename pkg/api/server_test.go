package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/oursky/experiment-runner/pkg/coordinator"
	"github.com/oursky/experiment-runner/pkg/experiments"
	"github.com/oursky/experiment-runner/pkg/jobs"
	"github.com/oursky/experiment-runner/pkg/store"
	"github.com/oursky/experiment-runner/pkg/token"

	"github.com/go-playground/assert/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type fakeDispatcher struct {
	err error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, jobID int64, runnerID int64, code string) error {
	return d.err
}

type fakeSessions []int64

func (s fakeSessions) Sessions(ctx context.Context) ([]int64, error) {
	return s, nil
}

type testServer struct {
	t          *testing.T
	handler    http.Handler
	store      store.Store
	dispatcher *fakeDispatcher
	codec      *token.Codec
}

func newTestServer(t *testing.T, connected ...int64) *testServer {
	logger := zap.NewNop()
	s := store.NewInMemoryStore()
	dispatcher := &fakeDispatcher{}
	service := jobs.NewService(logger, s, dispatcher, jobs.NewReconciler(logger, s))
	codec, err := token.NewCodec("0123456789abcdef")
	assert.Equal(t, nil, err)

	config := &Config{AuthKeys: []string{"key"}}
	server := NewServer(logger, config, s, service, fakeSessions(connected), codec, prometheus.NewRegistry())
	return &testServer{t: t, handler: server.Handler(), store: s, dispatcher: dispatcher, codec: codec}
}

func (s *testServer) do(method string, path string, user string, body string, resp any) int {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer key")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	if resp != nil {
		err := json.NewDecoder(rec.Body).Decode(resp)
		assert.Equal(s.t, nil, err)
	}
	return rec.Code
}

func TestAuth(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/v1/runners", nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest("GET", "/api/v1/runners", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Equal(t, http.StatusUnauthorized, s.do("GET", "/api/v1/experiments", "", "", nil))
	assert.Equal(t, http.StatusOK, s.do("GET", "/api/v1/experiments", "alice", "", nil))
}

func TestExperiments(t *testing.T) {
	s := newTestServer(t)

	var created experiments.Experiment
	code := s.do("POST", "/api/v1/experiments", "alice", `{"name":"exp","code":"print(1)"}`, &created)
	assert.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "exp", created.Name)
	assert.Equal(t, "alice", created.UserID)

	path := "/api/v1/experiments/" + itoa(created.ID)

	assert.Equal(t, http.StatusBadRequest, s.do("POST", "/api/v1/experiments", "alice", `{"name":"exp"}`, nil))
	assert.Equal(t, http.StatusBadRequest, s.do("POST", "/api/v1/experiments", "alice", `{"name":"exp","code":"x","extra":1}`, nil))

	var got experiments.Experiment
	assert.Equal(t, http.StatusOK, s.do("GET", path, "alice", "", &got))
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, http.StatusNotFound, s.do("GET", path, "bob", "", nil))

	// Updates and deletes by another user succeed without effect.
	assert.Equal(t, http.StatusOK, s.do("PUT", path, "bob", `{"name":"stolen"}`, nil))
	assert.Equal(t, http.StatusOK, s.do("DELETE", path, "bob", "", nil))
	assert.Equal(t, http.StatusOK, s.do("GET", path, "alice", "", &got))
	assert.Equal(t, "exp", got.Name)

	assert.Equal(t, http.StatusOK, s.do("PUT", path, "alice", `{"name":"renamed"}`, nil))
	assert.Equal(t, http.StatusOK, s.do("GET", path, "alice", "", &got))
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, "print(1)", got.Code)

	for i := 0; i < 4; i++ {
		s.do("POST", "/api/v1/experiments", "alice", `{"name":"more","code":"x"}`, nil)
	}
	var list experimentListResponse
	assert.Equal(t, http.StatusOK, s.do("GET", "/api/v1/experiments?page=2&perPage=2", "alice", "", &list))
	assert.Equal(t, 2, len(list.Experiments))
	assert.Equal(t, 3, list.TotalPages)
	assert.Equal(t, 2, list.Page)

	assert.Equal(t, http.StatusOK, s.do("GET", "/api/v1/experiments", "bob", "", &list))
	assert.Equal(t, 0, len(list.Experiments))

	assert.Equal(t, http.StatusOK, s.do("DELETE", path, "alice", "", nil))
	assert.Equal(t, http.StatusNotFound, s.do("GET", path, "alice", "", nil))
}

func TestRun(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	runner, err := s.store.CreateRunner(ctx, "R1", "abc")
	assert.Equal(t, nil, err)
	experiment, err := s.store.CreateExperiment(ctx, "alice", "exp", "print(1)")
	assert.Equal(t, nil, err)

	path := "/api/v1/experiments/" + itoa(experiment.ID)
	body := `{"runnerID":` + itoa(runner.ID) + `}`

	s.dispatcher.err = coordinator.ErrRunnerUnavailable
	assert.Equal(t, http.StatusServiceUnavailable, s.do("PUT", path+"/run", "alice", body, nil))

	s.dispatcher.err = nil
	var job experiments.Job
	assert.Equal(t, http.StatusAccepted, s.do("PUT", path+"/run", "alice", body, &job))
	assert.Equal(t, experiments.StatusPending, job.Status)
	assert.Equal(t, runner.ID, job.RunnerID)

	assert.Equal(t, http.StatusConflict, s.do("PUT", path+"/run", "alice", body, nil))
	assert.Equal(t, http.StatusNotFound, s.do("PUT", path+"/run", "bob", body, nil))
	assert.Equal(t, http.StatusNotFound, s.do("PUT", path+"/run", "alice", `{"runnerID":999}`, nil))
	assert.Equal(t, http.StatusBadRequest, s.do("PUT", path+"/run", "alice", `{}`, nil))

	var list []experiments.Job
	assert.Equal(t, http.StatusOK, s.do("GET", path+"/jobs", "alice", "", &list))
	assert.Equal(t, 2, len(list))
	assert.Equal(t, experiments.StatusPending, list[0].Status)
	assert.Equal(t, experiments.StatusFailed, list[1].Status)

	var got experiments.Job
	assert.Equal(t, http.StatusOK, s.do("GET", "/api/v1/jobs/"+itoa(job.ID), "alice", "", &got))
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, http.StatusNotFound, s.do("GET", "/api/v1/jobs/"+itoa(job.ID), "bob", "", nil))
}

func TestRunners(t *testing.T) {
	s := newTestServer(t, 1)

	var created runnerCreateResponse
	assert.Equal(t, http.StatusCreated, s.do("POST", "/api/v1/runners", "", `{"name":"R1"}`, &created))
	assert.Equal(t, int64(1), created.ID)

	payload, err := s.codec.Decode(created.Token)
	assert.Equal(t, nil, err)
	runner, err := s.store.FindRunnerByAccessKey(context.Background(), payload.AccessKey)
	assert.Equal(t, nil, err)
	assert.Equal(t, "R1", runner.Name)

	s.do("POST", "/api/v1/runners", "", `{"name":"R2"}`, nil)

	var list []runnerResponse
	assert.Equal(t, http.StatusOK, s.do("GET", "/api/v1/runners", "", "", &list))
	assert.Equal(t, 2, len(list))
	assert.Equal(t, true, list[0].Connected)
	assert.Equal(t, false, list[1].Connected)
}
