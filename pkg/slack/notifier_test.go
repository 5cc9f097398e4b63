package slack

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/oursky/experiment-runner/pkg/experiments"

	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/h2non/gock.v1"
)

const testWebhook = "https://hooks.slack.com/services/T000/B000/XXXX"

func captureBody(bodies chan<- string) gock.MatchFunc {
	return func(req *http.Request, _ *gock.Request) (bool, error) {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return false, err
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
		bodies <- string(body)
		return true, nil
	}
}

func TestFilter(t *testing.T) {
	Convey("Filters", t, func() {
		Convey("pass everything when empty", func() {
			f, err := NewFilter(nil)
			So(err, ShouldBeNil)
			So(f.Pass(&experiments.Job{Status: experiments.StatusCompleted}), ShouldBeTrue)
			So(f.Pass(&experiments.Job{Status: experiments.StatusFailed}), ShouldBeTrue)
		})
		Convey("select by status", func() {
			f, err := NewFilter([]string{"failed"})
			So(err, ShouldBeNil)
			So(f.Pass(&experiments.Job{Status: experiments.StatusCompleted}), ShouldBeFalse)
			So(f.Pass(&experiments.Job{Status: experiments.StatusFailed}), ShouldBeTrue)
		})
		Convey("reject non-terminal statuses", func() {
			_, err := NewFilter([]string{"running", "failed"})
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "running")
		})
	})
}

func TestNotifier(t *testing.T) {
	Convey("Given a notifier for failed jobs", t, func() {
		defer gock.Off()

		client := &http.Client{Transport: &http.Transport{}}
		gock.InterceptClient(client)

		bodies := make(chan string, 4)
		gock.New("https://hooks.slack.com").
			Post("/services/T000/B000/XXXX").
			AddMatcher(captureBody(bodies)).
			Persist().
			Reply(200).
			BodyString("ok")

		config := &Config{
			WebhookURL: testWebhook,
			Channel:    "#experiments",
			Statuses:   []string{"failed"},
		}
		n, err := NewNotifier(zap.NewNop(), config, client)
		So(err, ShouldBeNil)

		ctx, cancel := context.WithCancel(context.Background())
		g := new(errgroup.Group)
		So(n.Start(ctx, g), ShouldBeNil)
		defer func() {
			cancel()
			g.Wait()
		}()

		Convey("failed jobs are posted with their error", func() {
			n.JobFinished(experiments.Job{
				ID:           42,
				ExperimentID: 7,
				RunnerID:     1,
				Status:       experiments.StatusFailed,
				Error:        "runner disconnected",
				UpdatedAt:    time.Now(),
			})

			var body string
			select {
			case body = <-bodies:
			case <-time.After(5 * time.Second):
			}
			So(body, ShouldContainSubstring, "Job #42 of experiment #7 has failed.")
			So(body, ShouldContainSubstring, "runner disconnected")
			So(body, ShouldContainSubstring, "#experiments")
		})

		Convey("filtered jobs are not posted", func() {
			n.JobFinished(experiments.Job{ID: 43, Status: experiments.StatusCompleted})
			So(n.queue, ShouldBeEmpty)
		})

		Convey("webhook errors are reported", func() {
			gock.Off()
			gock.InterceptClient(client)
			gock.New("https://hooks.slack.com").
				Post("/services/T000/B000/XXXX").
				Reply(500)

			err := n.notify(ctx, &experiments.Job{ID: 44, Status: experiments.StatusFailed})
			So(err, ShouldNotBeNil)
		})
	})
}
