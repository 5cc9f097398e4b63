package coordinator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/oursky/experiment-runner/pkg/protocol"
	"github.com/oursky/experiment-runner/pkg/store"
	"github.com/oursky/experiment-runner/pkg/token"

	"github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap"
)

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

func TestGateway(t *testing.T) {
	Convey("Given a gateway with runner R1", t, func() {
		ctx := context.Background()
		config := &Config{TokenSecret: "0123456789abcdef"}

		runners := store.NewInMemoryStore()
		r1, err := runners.CreateRunner(ctx, "R1", "abc")
		So(err, ShouldBeNil)

		codec, err := token.NewCodec(config.TokenSecret)
		So(err, ShouldBeNil)

		reporter := newFakeReporter()
		s, cancel, g := startServer(reporter, nil)

		gw := NewGateway(zap.NewNop(), config, s, codec, runners)
		srv := httptest.NewServer(gw.Handler())
		Reset(func() {
			srv.Close()
			cancel()
			g.Wait()
		})

		dial := func(tok string) (*websocket.Conn, *http.Response, error) {
			url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + tok
			return websocket.DefaultDialer.Dial(url, nil)
		}
		connected := func(ids ...int64) func() bool {
			return func() bool {
				got, err := s.Sessions(ctx)
				if err != nil || len(got) != len(ids) {
					return false
				}
				for i := range ids {
					if got[i] != ids[i] {
						return false
					}
				}
				return true
			}
		}

		Convey("malformed tokens are rejected before upgrade", func() {
			_, resp, err := dial("not-a-token")
			So(err, ShouldEqual, websocket.ErrBadHandshake)
			So(resp.StatusCode, ShouldEqual, http.StatusUnauthorized)
		})

		Convey("tokens for unknown runners are rejected before upgrade", func() {
			tok, err := codec.Encode(token.Payload{AccessKey: "unknown"})
			So(err, ShouldBeNil)

			_, resp, err := dial(tok)
			So(err, ShouldEqual, websocket.ErrBadHandshake)
			So(resp.StatusCode, ShouldEqual, http.StatusUnauthorized)
		})

		Convey("a connected runner receives jobs and reports back", func() {
			tok, err := codec.Encode(token.Payload{AccessKey: "abc"})
			So(err, ShouldBeNil)

			conn, _, err := dial(tok)
			So(err, ShouldBeNil)
			defer conn.Close()
			So(eventually(connected(r1.ID)), ShouldBeTrue)

			So(s.Dispatch(ctx, 42, r1.ID, "print(1)"), ShouldBeNil)

			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			_, frame, err := conn.ReadMessage()
			So(err, ShouldBeNil)
			msg, err := protocol.Decode(frame)
			So(err, ShouldBeNil)
			So(msg, ShouldResemble, protocol.RunExperiment{JobID: 42, Code: "print(1)"})

			write := func(msg protocol.Message) {
				frame, err := protocol.Encode(msg)
				So(err, ShouldBeNil)
				So(conn.WriteMessage(websocket.TextMessage, frame), ShouldBeNil)
			}

			write(protocol.RunAccepted{JobID: 42})
			accepted, ok := within(reporter.accepted)
			So(ok, ShouldBeTrue)
			So(accepted, ShouldResemble, acceptedReport{runnerID: r1.ID, jobID: 42})

			So(conn.WriteMessage(websocket.TextMessage, []byte(`{"kind":"Bogus"}`)), ShouldBeNil)
			So(conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}), ShouldBeNil)

			write(protocol.RunResult{JobID: 42, Successful: true, Output: "1\n"})
			result, ok := within(reporter.results)
			So(ok, ShouldBeTrue)
			So(result, ShouldResemble, protocol.RunResult{JobID: 42, Successful: true, Output: "1\n"})

			Convey("jobs without a result are orphaned when the runner leaves", func() {
				So(s.Dispatch(ctx, 43, r1.ID, "print(2)"), ShouldBeNil)
				_, _, err := conn.ReadMessage()
				So(err, ShouldBeNil)

				conn.Close()

				orphaned, ok := within(reporter.orphaned)
				So(ok, ShouldBeTrue)
				So(orphaned, ShouldResemble, orphanedReport{runnerID: r1.ID, jobIDs: []int64{43}})
				So(eventually(connected()), ShouldBeTrue)
			})

			Convey("a second connection replaces the first", func() {
				second, _, err := dial(tok)
				So(err, ShouldBeNil)
				defer second.Close()

				// Registration follows the upgrade response.
				time.Sleep(200 * time.Millisecond)
				So(s.Dispatch(ctx, 44, r1.ID, "print(3)"), ShouldBeNil)

				second.SetReadDeadline(time.Now().Add(5 * time.Second))
				_, frame, err := second.ReadMessage()
				So(err, ShouldBeNil)
				msg, err := protocol.Decode(frame)
				So(err, ShouldBeNil)
				So(msg.(protocol.RunExperiment).JobID, ShouldEqual, int64(44))

				conn.Close()
				time.Sleep(100 * time.Millisecond)
				So(eventually(connected(r1.ID)), ShouldBeTrue)
			})
		})
	})
}
