package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oursky/experiment-runner/pkg/experiments"
	"github.com/oursky/experiment-runner/pkg/protocol"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const maxFrameSize = 1 << 20

// Session bridges one runner socket to the server. The read loop runs on the
// caller's goroutine; writes are owned by writeLoop.
type Session struct {
	id     string
	logger *zap.Logger
	runner experiments.Runner
	conn   *websocket.Conn
	server *Server

	writeTimeout time.Duration
	pingInterval time.Duration
	pongWait     time.Duration

	mailbox   chan protocol.Message
	closed    chan struct{}
	closeOnce sync.Once

	lock     *sync.Mutex
	inflight map[int64]struct{}
}

func newSession(logger *zap.Logger, config *Config, server *Server, runner experiments.Runner, conn *websocket.Conn) *Session {
	id := uuid.NewString()
	return &Session{
		id: id,
		logger: logger.Named("session").With(
			zap.String("session", id),
			zap.Int64("runnerID", runner.ID),
			zap.String("runnerName", runner.Name),
		),
		runner:       runner,
		conn:         conn,
		server:       server,
		writeTimeout: config.GetWriteTimeout(),
		pingInterval: config.GetPingInterval(),
		pongWait:     config.GetPongWait(),
		mailbox:      make(chan protocol.Message, config.GetMailboxSize()),
		closed:       make(chan struct{}),
		lock:         new(sync.Mutex),
		inflight:     make(map[int64]struct{}),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Send(msg protocol.Message) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}

	run, isRun := msg.(protocol.RunExperiment)
	if isRun {
		s.track(run.JobID)
	}

	select {
	case s.mailbox <- msg:
		return nil
	case <-s.closed:
		if isRun {
			s.untrack(run.JobID)
		}
		return ErrSessionClosed
	default:
		if isRun {
			s.untrack(run.JobID)
		}
		return ErrMailboxFull
	}
}

// Run registers the session and serves the socket until it closes.
func (s *Session) Run(ctx context.Context) {
	if err := s.server.Register(ctx, s.runner.ID, s); err != nil {
		s.logger.Warn("failed to register session", zap.Error(err))
		s.conn.Close()
		return
	}

	go func() {
		select {
		case <-ctx.Done():
			s.close()
		case <-s.closed:
		}
	}()
	go s.writeLoop()

	s.readLoop(ctx)
	s.close()
}

func (s *Session) readLoop(ctx context.Context) {
	s.conn.SetReadLimit(maxFrameSize)
	s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})

	for {
		typ, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info("runner closed connection")
			} else {
				s.logger.Warn("connection lost", zap.Error(err))
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(s.pongWait))

		if typ != websocket.TextMessage {
			s.logger.Warn("dropping non-text frame", zap.Int("type", typ))
			continue
		}

		msg, err := protocol.Decode(frame)
		if err != nil {
			s.logger.Warn("dropping frame", zap.Error(err))
			continue
		}
		s.handle(ctx, msg)
	}
}

func (s *Session) handle(ctx context.Context, msg protocol.Message) {
	switch msg := msg.(type) {
	case protocol.RunAccepted:
		s.logger.Debug("run accepted", zap.Int64("jobID", msg.JobID))
		s.server.ReportAccepted(ctx, s.runner.ID, msg.JobID)

	case protocol.RunResult:
		s.logger.Info("run result received", zap.Int64("jobID", msg.JobID), zap.Bool("successful", msg.Successful))
		s.untrack(msg.JobID)
		s.server.ReportResult(ctx, s.runner.ID, msg)

	default:
		s.logger.Warn("dropping unexpected message", zap.String("kind", string(msg.Kind())))
	}
}

func (s *Session) writeLoop() {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return

		case msg := <-s.mailbox:
			if err := s.write(msg); err != nil {
				s.logger.Warn("failed to write frame", zap.Error(err), zap.String("kind", string(msg.Kind())))
				s.close()
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(s.writeTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.Warn("failed to ping runner", zap.Error(err))
				s.close()
				return
			}
		}
	}
}

func (s *Session) write(msg protocol.Message) error {
	frame, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

// close tears the session down once: it deregisters from the server and
// hands jobs that never got a result to the reporter as orphaned.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.conn.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.server.Deregister(ctx, s.runner.ID, s); err != nil && !errors.Is(err, ErrServerStopped) {
			s.logger.Warn("failed to deregister session", zap.Error(err))
		}
		s.server.ReportOrphaned(ctx, s.runner.ID, s.drain())
	})
}

func (s *Session) track(jobID int64) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.inflight[jobID] = struct{}{}
}

func (s *Session) untrack(jobID int64) {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.inflight, jobID)
}

func (s *Session) drain() []int64 {
	s.lock.Lock()
	defer s.lock.Unlock()

	ids := lo.Keys(s.inflight)
	s.inflight = make(map[int64]struct{})
	return ids
}
