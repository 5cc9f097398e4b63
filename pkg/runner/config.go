package runner

import (
	"os"
	"time"

	"github.com/oursky/experiment-runner/pkg/utils/defaults"
	"github.com/oursky/experiment-runner/pkg/utils/tomltypes"
)

type Config struct {
	CoordinatorURL string               `toml:"coordinatorURL" validate:"required,url"`
	TokenPath      string               `toml:"tokenPath" validate:"required"`
	Reconnect      []tomltypes.Duration `toml:"reconnect,omitempty"`
	PingInterval   *tomltypes.Duration  `toml:"pingInterval,omitempty"`
	WriteTimeout   *tomltypes.Duration  `toml:"writeTimeout,omitempty"`
	OutboxSize     *int                 `toml:"outboxSize,omitempty" validate:"omitempty,min=1"`
	Executor       ExecutorConfig       `toml:"executor"`
}

var defaultReconnect = []time.Duration{0, 2 * time.Second, 4 * time.Second, 6 * time.Second, 8 * time.Second}

func (c *Config) GetReconnect() []time.Duration {
	if schedule := tomltypes.Durations(c.Reconnect); schedule != nil {
		return schedule
	}
	return defaultReconnect
}

func (c *Config) GetPingInterval() time.Duration {
	return defaults.Value(c.PingInterval.Value(), 30*time.Second)
}

func (c *Config) GetPongWait() time.Duration {
	return c.GetPingInterval() * 2
}

func (c *Config) GetWriteTimeout() time.Duration {
	return defaults.Value(c.WriteTimeout.Value(), 10*time.Second)
}

func (c *Config) GetOutboxSize() int {
	return defaults.Value(c.OutboxSize, 64)
}

type ExecutorConfig struct {
	Interpreter       []string            `toml:"interpreter,omitempty" validate:"omitempty,min=1,dive,required"`
	WorkDir           *string             `toml:"workDir,omitempty" validate:"omitempty,dir"`
	Timeout           *tomltypes.Duration `toml:"timeout,omitempty"`
	MaxConcurrentJobs *int                `toml:"maxConcurrentJobs,omitempty" validate:"omitempty,min=1"`
}

func (c *ExecutorConfig) GetInterpreter() []string {
	if len(c.Interpreter) == 0 {
		return []string{"python3"}
	}
	return c.Interpreter
}

func (c *ExecutorConfig) GetWorkDir() string {
	return defaults.Value(c.WorkDir, os.TempDir())
}

// GetTimeout bounds a single run; zero disables the limit.
func (c *ExecutorConfig) GetTimeout() time.Duration {
	return defaults.Value(c.Timeout.Value(), time.Hour)
}

func (c *ExecutorConfig) GetMaxConcurrentJobs() int {
	return defaults.Value(c.MaxConcurrentJobs, 1)
}
