package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/oursky/experiment-runner/pkg/experiments"
	"github.com/oursky/experiment-runner/pkg/store"
	"github.com/oursky/experiment-runner/pkg/token"
	"github.com/oursky/experiment-runner/pkg/utils/httputil"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type JobDispatcher interface {
	Dispatch(ctx context.Context, userID string, experimentID int64, runnerID int64) (*experiments.Job, error)
}

type SessionLister interface {
	Sessions(ctx context.Context) ([]int64, error)
}

type Server struct {
	logger   *zap.Logger
	config   *Config
	enabled  bool
	server   *http.Server
	store    store.Store
	jobs     JobDispatcher
	sessions SessionLister
	codec    *token.Codec
	validate *validator.Validate
}

func NewServer(
	logger *zap.Logger,
	config *Config,
	store store.Store,
	jobs JobDispatcher,
	sessions SessionLister,
	codec *token.Codec,
	gatherer prometheus.Gatherer,
) *Server {
	if config.Disabled {
		return &Server{enabled: false}
	}

	logger = logger.Named("api")

	r := mux.NewRouter()
	server := &Server{
		logger:  logger,
		config:  config,
		enabled: true,
		server: &http.Server{
			Addr:         config.GetAddr(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			Handler:      r,
			ErrorLog:     zap.NewStdLog(logger),
		},
		store:    store,
		jobs:     jobs,
		sessions: sessions,
		codec:    codec,
		validate: newValidator(),
	}

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(logger.Named("prom")),
	}))

	apiR := r.PathPrefix("/api/v1").Subrouter()
	apiR.Use(httputil.NewKeyAuth(config.AuthKeys).Middleware)

	apiR.HandleFunc("/runners", server.apiRunnersList).Methods("GET")
	apiR.HandleFunc("/runners", server.apiRunnersCreate).Methods("POST")

	userR := apiR.NewRoute().Subrouter()
	userR.Use(requireUser)

	userR.HandleFunc("/experiments", server.apiExperimentsList).Methods("GET")
	userR.HandleFunc("/experiments", server.apiExperimentsCreate).Methods("POST")
	userR.HandleFunc("/experiments/{id:[0-9]+}", server.apiExperimentGet).Methods("GET")
	userR.HandleFunc("/experiments/{id:[0-9]+}", server.apiExperimentUpdate).Methods("PUT")
	userR.HandleFunc("/experiments/{id:[0-9]+}", server.apiExperimentDelete).Methods("DELETE")
	userR.HandleFunc("/experiments/{id:[0-9]+}/run", server.apiExperimentRun).Methods("PUT")
	userR.HandleFunc("/experiments/{id:[0-9]+}/jobs", server.apiExperimentJobs).Methods("GET")
	userR.HandleFunc("/jobs/{id:[0-9]+}", server.apiJobGet).Methods("GET")

	return server
}

func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Start(ctx context.Context, g *errgroup.Group) error {
	if !s.enabled {
		return nil
	}

	g.Go(func() error {
		go func() {
			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			s.server.Shutdown(shutdownCtx)
		}()

		s.logger.Info("starting server", zap.String("addr", s.server.Addr))
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to run server: %w", err)
		}
		return nil
	})
	return nil
}
