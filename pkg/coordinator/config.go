package coordinator

import (
	"time"

	"github.com/oursky/experiment-runner/pkg/utils/defaults"
	"github.com/oursky/experiment-runner/pkg/utils/tomltypes"
)

type Config struct {
	Addr           *string             `toml:"addr,omitempty" validate:"omitempty,tcp_addr"`
	TokenSecret    string              `toml:"tokenSecret" validate:"required,min=16"`
	MailboxSize    *int                `toml:"mailboxSize,omitempty" validate:"omitempty,min=1"`
	WriteTimeout   *tomltypes.Duration `toml:"writeTimeout,omitempty"`
	PingInterval   *tomltypes.Duration `toml:"pingInterval,omitempty"`
	HandshakeRPS   *float64            `toml:"handshakeRPS,omitempty" validate:"omitempty,gt=0"`
	HandshakeBurst *int                `toml:"handshakeBurst,omitempty" validate:"omitempty,min=1"`
}

func (c *Config) GetAddr() string {
	return defaults.Value(c.Addr, "127.0.0.1:8010")
}

func (c *Config) GetMailboxSize() int {
	return defaults.Value(c.MailboxSize, 16)
}

func (c *Config) GetWriteTimeout() time.Duration {
	return defaults.Value(c.WriteTimeout.Value(), 10*time.Second)
}

func (c *Config) GetPingInterval() time.Duration {
	return defaults.Value(c.PingInterval.Value(), 30*time.Second)
}

// GetPongWait is how long a silent socket is kept before it is considered
// dead.
func (c *Config) GetPongWait() time.Duration {
	return c.GetPingInterval() * 2
}

func (c *Config) GetHandshakeRPS() float64 {
	return defaults.Value(c.HandshakeRPS, 5)
}

func (c *Config) GetHandshakeBurst() int {
	return defaults.Value(c.HandshakeBurst, 20)
}
