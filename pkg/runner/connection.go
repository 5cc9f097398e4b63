// Package runner keeps a runner process connected to the coordinator and
// executes the experiments it is sent.
package runner

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oursky/experiment-runner/pkg/protocol"
	"github.com/oursky/experiment-runner/pkg/utils/channels"
	"github.com/oursky/experiment-runner/pkg/utils/httputil"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const maxFrameSize = 1 << 20

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Connection dials the coordinator, redials with backoff whenever the
// socket is lost, and bridges received jobs to the executor.
type Connection struct {
	logger   *zap.Logger
	config   *Config
	executor Executor
	dialer   *websocket.Dialer
	backoff  *Backoff

	state atomic.Int32
	slots *semaphore.Weighted
	jobs  sync.WaitGroup

	lock   sync.Mutex
	outbox chan protocol.Message
}

func NewConnection(logger *zap.Logger, config *Config, executor Executor) *Connection {
	return &Connection{
		logger:   logger.Named("connection"),
		config:   config,
		executor: executor,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		backoff: NewBackoff(config.GetReconnect()),
		slots:   semaphore.NewWeighted(int64(config.Executor.GetMaxConcurrentJobs())),
	}
}

func (c *Connection) State() State {
	return State(c.state.Load())
}

func (c *Connection) setState(s State) {
	if old := State(c.state.Swap(int32(s))); old != s {
		c.logger.Debug("state changed", zap.Stringer("from", old), zap.Stringer("to", s))
	}
}

func (c *Connection) Start(ctx context.Context, g *errgroup.Group) error {
	g.Go(func() error {
		c.run(ctx)
		c.jobs.Wait()
		return nil
	})
	return nil
}

func (c *Connection) run(ctx context.Context) {
	defer c.setState(StateDisconnected)

	for {
		c.setState(StateConnecting)
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.backoff.Delay()):
		}

		conn, err := c.dial(ctx)
		if err != nil {
			c.setState(StateDisconnected)
			delay := c.backoff.Failure()
			c.logger.Warn("failed to connect", zap.Error(err), zap.Duration("retryIn", delay))
			continue
		}

		c.backoff.Success()
		c.setState(StateConnected)
		c.logger.Info("connected", zap.String("url", c.config.CoordinatorURL))

		c.serve(ctx, conn)
		c.setState(StateDisconnected)
	}
}

func (c *Connection) dial(ctx context.Context) (*websocket.Conn, error) {
	token, err := os.ReadFile(c.config.TokenPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read token: %w", err)
	}

	u, err := url.Parse(c.config.CoordinatorURL)
	if err != nil {
		return nil, fmt.Errorf("invalid coordinator URL: %w", err)
	}
	q := u.Query()
	q.Set("token", strings.TrimSpace(string(token)))
	u.RawQuery = q.Encode()

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if statusErr := httputil.CheckStatus(resp); statusErr != nil {
			err = statusErr
		}
		return nil, fmt.Errorf("%w: %w", protocol.ErrWebSocketConnection, err)
	}
	return conn, nil
}

// serve runs one connected period. It returns once the socket is gone, with
// the writer stopped.
func (c *Connection) serve(ctx context.Context, conn *websocket.Conn) {
	connCtx, cancel := context.WithCancel(ctx)

	outbox := make(chan protocol.Message, c.config.GetOutboxSize())
	c.setOutbox(outbox)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.writeLoop(connCtx, conn, outbox)
	}()
	go func() {
		defer wg.Done()
		<-connCtx.Done()
		conn.Close()
	}()

	c.readLoop(ctx, conn)

	c.setOutbox(nil)
	cancel()
	wg.Wait()
}

func (c *Connection) readLoop(ctx context.Context, conn *websocket.Conn) {
	pongWait := c.config.GetPongWait()
	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		typ, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("connection lost", zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		if typ != websocket.TextMessage {
			c.logger.Warn("dropping non-text frame", zap.Int("type", typ))
			continue
		}

		msg, err := protocol.Decode(frame)
		if err != nil {
			c.logger.Warn("dropping frame", zap.Error(err))
			continue
		}

		switch msg := msg.(type) {
		case protocol.RunExperiment:
			c.accept(ctx, msg)
		default:
			c.logger.Warn("dropping unexpected message", zap.String("kind", string(msg.Kind())))
		}
	}
}

// writeLoop is the only writer of data frames. A failed write is logged and
// the reader decides when the socket is gone.
func (c *Connection) writeLoop(ctx context.Context, conn *websocket.Conn, outbox <-chan protocol.Message) {
	ticker := time.NewTicker(c.config.GetPingInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			return

		case msg := <-outbox:
			frame, err := protocol.Encode(msg)
			if err != nil {
				c.logger.Error("failed to encode frame", zap.Error(err))
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(c.config.GetWriteTimeout()))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Warn("failed to write frame", zap.Error(err), zap.String("kind", string(msg.Kind())))
			}

		case <-ticker.C:
			deadline := time.Now().Add(c.config.GetWriteTimeout())
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Warn("failed to ping coordinator", zap.Error(err))
			}
		}
	}
}

func (c *Connection) setOutbox(outbox chan protocol.Message) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.outbox = outbox
}

func (c *Connection) send(msg protocol.Message) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.outbox == nil {
		return false
	}
	return channels.TrySend(c.outbox, msg)
}

func (c *Connection) accept(ctx context.Context, run protocol.RunExperiment) {
	logger := c.logger.With(zap.Int64("jobID", run.JobID))
	logger.Info("job received")

	if !c.send(protocol.RunAccepted{JobID: run.JobID}) {
		logger.Warn("failed to acknowledge job")
	}

	c.jobs.Add(1)
	go func() {
		defer c.jobs.Done()

		result := c.execute(ctx, run)
		if !c.send(result) {
			logger.Warn("dropping result, not connected", zap.Bool("successful", result.Successful))
			return
		}
		logger.Info("job finished", zap.Bool("successful", result.Successful))
	}()
}

func (c *Connection) execute(ctx context.Context, run protocol.RunExperiment) (result protocol.RunResult) {
	result.JobID = run.JobID

	if err := c.slots.Acquire(ctx, 1); err != nil {
		result.Error = err.Error()
		return result
	}
	defer c.slots.Release(1)

	defer func() {
		if r := recover(); r != nil {
			result.Successful = false
			result.Error = fmt.Sprintf("executor panicked: %v", r)
		}
	}()

	output, err := c.executor.Execute(ctx, run.Code)
	result.Output = output
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Successful = true
	return result
}
