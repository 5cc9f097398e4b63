package dashboard

import "github.com/oursky/experiment-runner/pkg/utils/defaults"

type Config struct {
	Disabled   bool    `toml:"disabled"`
	Addr       *string `toml:"addr,omitempty" validate:"omitempty,tcp_addr"`
	AssetsDir  *string `toml:"assetsDir,omitempty" validate:"omitempty,dir"`
	RecentJobs *int    `toml:"recentJobs,omitempty" validate:"omitempty,min=1"`
}

func (c *Config) GetAddr() string {
	return defaults.Value(c.Addr, "127.0.0.1:8000")
}

func (c *Config) GetRecentJobs() int {
	return defaults.Value(c.RecentJobs, 50)
}
