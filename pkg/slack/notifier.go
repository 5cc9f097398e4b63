package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/oursky/experiment-runner/pkg/experiments"
	"github.com/oursky/experiment-runner/pkg/utils/channels"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackutilsx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Notifier posts finished jobs to a Slack webhook. Jobs are queued and
// posted by its own goroutine; when the queue is full they are dropped.
type Notifier struct {
	logger *zap.Logger
	config *Config
	client *http.Client
	filter MessageFilter
	queue  chan experiments.Job
}

func NewNotifier(logger *zap.Logger, config *Config, client *http.Client) (*Notifier, error) {
	filter, err := NewFilter(config.Statuses)
	if err != nil {
		return nil, err
	}

	if client == nil {
		client = &http.Client{Timeout: config.GetTimeout()}
	}

	return &Notifier{
		logger: logger.Named("slack-notifier"),
		config: config,
		client: client,
		filter: filter,
		queue:  make(chan experiments.Job, config.GetQueueSize()),
	}, nil
}

func (n *Notifier) Start(ctx context.Context, g *errgroup.Group) error {
	g.Go(func() error {
		n.run(ctx)
		return nil
	})
	return nil
}

func (n *Notifier) JobFinished(job experiments.Job) {
	if !n.filter.Pass(&job) {
		return
	}
	if !channels.TrySend(n.queue, job) {
		n.logger.Warn("queue full, dropping notification", zap.Int64("jobID", job.ID))
	}
}

func (n *Notifier) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case job := <-n.queue:
			if err := n.notify(ctx, &job); err != nil {
				n.logger.Warn("failed to send message", zap.Error(err), zap.Int64("jobID", job.ID))
			}
		}
	}
}

func (n *Notifier) notify(ctx context.Context, job *experiments.Job) error {
	const colorGreen = "#16a34a" // green-600
	const colorRed = "#7f1d1d"   // red-900

	var title string
	var color string
	switch job.Status {
	case experiments.StatusCompleted:
		title = fmt.Sprintf("Job #%d of experiment #%d has completed.", job.ID, job.ExperimentID)
		color = colorGreen
	case experiments.StatusFailed:
		title = fmt.Sprintf("Job #%d of experiment #%d has failed.", job.ID, job.ExperimentID)
		color = colorRed
	default:
		return nil
	}

	attachment := slack.Attachment{
		Color:      color,
		Title:      title,
		TitleLink:  n.config.DashboardURL,
		AuthorName: fmt.Sprintf("runner #%d", job.RunnerID),
		MarkdownIn: []string{"fields"},
		Ts:         json.Number(strconv.FormatInt(job.UpdatedAt.Unix(), 10)),
	}
	if job.Error != "" {
		attachment.Fields = append(attachment.Fields, slack.AttachmentField{
			Title: "Error",
			Value: fmt.Sprintf("```%s```", slackutilsx.EscapeMessage(job.Error)),
		})
	}

	msg := &slack.WebhookMessage{
		Channel:     n.config.Channel,
		Attachments: []slack.Attachment{attachment},
	}

	ctx, cancel := context.WithTimeout(ctx, n.config.GetTimeout())
	defer cancel()
	return slack.PostWebhookCustomHTTPContext(ctx, n.config.WebhookURL, n.client, msg)
}
