package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/oursky/experiment-runner/pkg/experiments"
	"github.com/oursky/experiment-runner/pkg/protocol"
	"github.com/oursky/experiment-runner/pkg/store"
	"github.com/oursky/experiment-runner/pkg/token"
	"github.com/oursky/experiment-runner/pkg/utils/httputil"
	"github.com/oursky/experiment-runner/pkg/utils/ratelimit"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type RunnerFinder interface {
	FindRunnerByAccessKey(ctx context.Context, accessKey string) (*experiments.Runner, error)
}

// Gateway accepts runner sockets. A runner is admitted to the server only
// after its token decodes and names a known runner.
type Gateway struct {
	logger   *zap.Logger
	config   *Config
	server   *Server
	codec    *token.Codec
	runners  RunnerFinder
	upgrader websocket.Upgrader
	http     *http.Server

	ctx context.Context
}

func NewGateway(logger *zap.Logger, config *Config, server *Server, codec *token.Codec, runners RunnerFinder) *Gateway {
	logger = logger.Named("gateway")

	r := mux.NewRouter()
	gw := &Gateway{
		logger:  logger,
		config:  config,
		server:  server,
		codec:   codec,
		runners: runners,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		http: &http.Server{
			Addr:              config.GetAddr(),
			ReadHeaderTimeout: 10 * time.Second,
			Handler:           r,
			ErrorLog:          zap.NewStdLog(logger),
		},
		ctx: context.Background(),
	}

	limiter := ratelimit.NewMiddleware(rate.Limit(config.GetHandshakeRPS()), config.GetHandshakeBurst())
	r.Handle("/ws", limiter.Middleware(http.HandlerFunc(gw.serveWS))).Methods("GET")

	return gw
}

func (g *Gateway) Handler() http.Handler {
	return g.http.Handler
}

func (g *Gateway) Start(ctx context.Context, eg *errgroup.Group) error {
	g.ctx = ctx

	eg.Go(func() error {
		go func() {
			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			g.http.Shutdown(shutdownCtx)
		}()

		g.logger.Info("starting gateway", zap.String("addr", g.http.Addr))
		err := g.http.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to run gateway: %w", err)
		}
		return nil
	})
	return nil
}

func (g *Gateway) authenticate(r *http.Request) (*experiments.Runner, error) {
	payload, err := g.codec.Decode(r.URL.Query().Get("token"))
	if err != nil {
		return nil, err
	}

	runner, err := g.runners.FindRunnerByAccessKey(r.Context(), payload.AccessKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, token.ErrInvalidToken
	} else if err != nil {
		return nil, err
	}
	return runner, nil
}

func (g *Gateway) serveWS(rw http.ResponseWriter, r *http.Request) {
	runner, err := g.authenticate(r)
	if errors.Is(err, token.ErrInvalidToken) {
		g.logger.Info("rejected runner", zap.String("remoteAddr", r.RemoteAddr))
		httputil.RespondError(rw, http.StatusUnauthorized, "invalid token")
		return
	} else if err != nil {
		g.logger.Error("failed to authenticate runner", zap.Error(err))
		httputil.RespondError(rw, http.StatusInternalServerError, "internal error")
		return
	}

	conn, err := g.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		g.logger.Warn("failed to upgrade",
			zap.Error(fmt.Errorf("%w: %w", protocol.ErrWebSocketConnection, err)),
			zap.Int64("runnerID", runner.ID),
		)
		return
	}

	session := newSession(g.logger, g.config, g.server, *runner, conn)
	session.Run(g.ctx)
}
