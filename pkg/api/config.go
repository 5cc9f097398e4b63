package api

import "github.com/oursky/experiment-runner/pkg/utils/defaults"

type Config struct {
	Disabled bool     `toml:"disabled"`
	Addr     *string  `toml:"addr,omitempty" validate:"omitempty,tcp_addr"`
	AuthKeys []string `toml:"authKeys" validate:"required_if=Disabled false"`
	// MaxPerPage caps the page size of list endpoints.
	MaxPerPage *int `toml:"maxPerPage,omitempty" validate:"omitempty,min=1"`
}

func (c *Config) GetAddr() string {
	return defaults.Value(c.Addr, "127.0.0.1:8002")
}

func (c *Config) GetMaxPerPage() int {
	return defaults.Value(c.MaxPerPage, 100)
}
