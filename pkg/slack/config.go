package slack

import (
	"time"

	"github.com/oursky/experiment-runner/pkg/utils/defaults"
	"github.com/oursky/experiment-runner/pkg/utils/tomltypes"
)

type Config struct {
	Disabled   bool                `toml:"disabled"`
	WebhookURL string              `toml:"webhookURL" validate:"required_if=Disabled false"`
	Channel    string              `toml:"channel,omitempty"`
	Statuses   []string            `toml:"statuses,omitempty" validate:"dive,oneof=completed failed"`
	QueueSize  *int                `toml:"queueSize,omitempty" validate:"omitempty,min=1"`
	Timeout    *tomltypes.Duration `toml:"timeout,omitempty"`
	// DashboardURL is linked from every message when set.
	DashboardURL string `toml:"dashboardURL,omitempty" validate:"omitempty,url"`
}

func (c *Config) GetQueueSize() int {
	return defaults.Value(c.QueueSize, 100)
}

func (c *Config) GetTimeout() time.Duration {
	return defaults.Value(c.Timeout.Value(), 10*time.Second)
}
