package dashboard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/oursky/experiment-runner/pkg/experiments"
	"github.com/oursky/experiment-runner/pkg/store"

	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap"
)

type fakeSessions []int64

func (s fakeSessions) Sessions(ctx context.Context) ([]int64, error) {
	return s, nil
}

func TestIndex(t *testing.T) {
	Convey("Given runners and a job", t, func() {
		ctx := context.Background()
		s := store.NewInMemoryStore()
		r1, _ := s.CreateRunner(ctx, "alpha", "a")
		s.CreateRunner(ctx, "beta", "b")
		e, _ := s.CreateExperiment(ctx, "alice", "exp", "print(1)")
		job := experiments.NewJob(e, r1.ID, time.Now())
		So(s.CreateJob(ctx, job), ShouldBeNil)

		server := NewServer(zap.NewNop(), &Config{}, s, fakeSessions{r1.ID})

		get := func(path string) *httptest.ResponseRecorder {
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
			return rec
		}

		Convey("the index lists runners with their connection state", func() {
			rec := get("/")
			So(rec.Code, ShouldEqual, http.StatusOK)
			body := rec.Body.String()
			So(body, ShouldContainSubstring, "alpha")
			So(body, ShouldContainSubstring, "beta")
			So(body, ShouldContainSubstring, `class="online">connected`)
			So(body, ShouldContainSubstring, `class="offline">disconnected`)
		})

		Convey("the index lists recent jobs", func() {
			body := get("/").Body.String()
			So(body, ShouldContainSubstring, "status-pending")
			So(body, ShouldContainSubstring, "Pending")
		})

		Convey("styles are served", func() {
			rec := get("/styles.css")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Header().Get("Content-Type"), ShouldStartWith, "text/css")
		})

		Convey("unknown paths are not found", func() {
			So(get("/nope").Code, ShouldEqual, http.StatusNotFound)
		})
	})
}
