package runner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oursky/experiment-runner/pkg/protocol"
	"github.com/oursky/experiment-runner/pkg/utils/tomltypes"

	"github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type funcExecutor func(ctx context.Context, code string) (string, error)

func (f funcExecutor) Execute(ctx context.Context, code string) (string, error) {
	return f(ctx, code)
}

type fakeCoordinator struct {
	upgrader websocket.Upgrader
	reject   atomic.Int32
	tokens   chan string
	conns    chan *websocket.Conn
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{
		tokens: make(chan string, 16),
		conns:  make(chan *websocket.Conn, 16),
	}
}

func (f *fakeCoordinator) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	f.tokens <- r.URL.Query().Get("token")
	if f.reject.Add(-1) >= 0 {
		http.Error(rw, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := f.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		return
	}
	f.conns <- conn
}

func within[T any](ch <-chan T) (T, bool) {
	select {
	case v := <-ch:
		return v, true
	case <-time.After(5 * time.Second):
		var zero T
		return zero, false
	}
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func readMessage(conn *websocket.Conn) protocol.Message {
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, frame, err := conn.ReadMessage()
	So(err, ShouldBeNil)
	msg, err := protocol.Decode(frame)
	So(err, ShouldBeNil)
	return msg
}

func writeMessage(conn *websocket.Conn, msg protocol.Message) {
	frame, err := protocol.Encode(msg)
	So(err, ShouldBeNil)
	So(conn.WriteMessage(websocket.TextMessage, frame), ShouldBeNil)
}

func TestConnection(t *testing.T) {
	Convey("Given a runner pointed at a coordinator", t, func() {
		coordinator := newFakeCoordinator()
		srv := httptest.NewServer(coordinator)

		tokenPath := filepath.Join(t.TempDir(), "token")
		So(os.WriteFile(tokenPath, []byte("tok\n"), 0600), ShouldBeNil)

		config := &Config{
			CoordinatorURL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
			TokenPath:      tokenPath,
			Reconnect: []tomltypes.Duration{
				{Duration: 0},
				{Duration: 200 * time.Millisecond},
			},
			Executor: ExecutorConfig{MaxConcurrentJobs: func() *int { n := 2; return &n }()},
		}
		executor := funcExecutor(func(ctx context.Context, code string) (string, error) {
			if code == "panic" {
				panic("boom")
			}
			return "out:" + code, nil
		})

		ctx, cancel := context.WithCancel(context.Background())
		g := new(errgroup.Group)
		c := NewConnection(zap.NewNop(), config, executor)
		So(c.State(), ShouldEqual, StateDisconnected)

		Reset(func() {
			cancel()
			g.Wait()
			srv.Close()
		})

		Convey("it runs received jobs and reports back", func() {
			So(c.Start(ctx, g), ShouldBeNil)

			tok, ok := within(coordinator.tokens)
			So(ok, ShouldBeTrue)
			So(tok, ShouldEqual, "tok")

			conn, ok := within(coordinator.conns)
			So(ok, ShouldBeTrue)
			defer conn.Close()
			So(eventually(func() bool { return c.State() == StateConnected }), ShouldBeTrue)

			So(conn.WriteMessage(websocket.TextMessage, []byte("not json")), ShouldBeNil)
			writeMessage(conn, protocol.RunExperiment{JobID: 42, Code: "print(1)"})

			So(readMessage(conn), ShouldResemble, protocol.RunAccepted{JobID: 42})
			So(readMessage(conn), ShouldResemble, protocol.RunResult{JobID: 42, Successful: true, Output: "out:print(1)"})

			Convey("a panicking executor still produces a failed result", func() {
				writeMessage(conn, protocol.RunExperiment{JobID: 43, Code: "panic"})

				So(readMessage(conn), ShouldResemble, protocol.RunAccepted{JobID: 43})
				result, ok := readMessage(conn).(protocol.RunResult)
				So(ok, ShouldBeTrue)
				So(result.JobID, ShouldEqual, int64(43))
				So(result.Successful, ShouldBeFalse)
				So(result.Error, ShouldContainSubstring, "boom")
			})

			Convey("it reconnects when the socket is lost", func() {
				conn.Close()

				second, ok := within(coordinator.conns)
				So(ok, ShouldBeTrue)
				defer second.Close()
				So(eventually(func() bool { return c.State() == StateConnected }), ShouldBeTrue)

				writeMessage(second, protocol.RunExperiment{JobID: 44, Code: "x"})
				So(readMessage(second), ShouldResemble, protocol.RunAccepted{JobID: 44})
			})

			Convey("it disconnects on shutdown", func() {
				cancel()
				So(g.Wait(), ShouldBeNil)
				So(c.State(), ShouldEqual, StateDisconnected)
			})
		})

		Convey("it retries rejected handshakes", func() {
			coordinator.reject.Store(2)
			So(c.Start(ctx, g), ShouldBeNil)

			conn, ok := within(coordinator.conns)
			So(ok, ShouldBeTrue)
			defer conn.Close()
			So(coordinator.tokens, ShouldHaveLength, 3)
			So(eventually(func() bool { return c.State() == StateConnected }), ShouldBeTrue)
		})

		Convey("it picks up a rotated token", func() {
			coordinator.reject.Store(1)
			So(c.Start(ctx, g), ShouldBeNil)

			first, ok := within(coordinator.tokens)
			So(ok, ShouldBeTrue)
			So(first, ShouldEqual, "tok")

			So(os.WriteFile(tokenPath, []byte("rotated"), 0600), ShouldBeNil)
			conn, ok := within(coordinator.conns)
			So(ok, ShouldBeTrue)
			defer conn.Close()

			second, ok := within(coordinator.tokens)
			So(ok, ShouldBeTrue)
			So(second, ShouldEqual, "rotated")
		})
	})
}
