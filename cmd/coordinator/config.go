package main

import (
	"github.com/oursky/experiment-runner/pkg/api"
	"github.com/oursky/experiment-runner/pkg/cmd"
	"github.com/oursky/experiment-runner/pkg/coordinator"
	"github.com/oursky/experiment-runner/pkg/dashboard"
	"github.com/oursky/experiment-runner/pkg/slack"
	"github.com/oursky/experiment-runner/pkg/store"
)

type Config struct {
	Coordinator coordinator.Config `toml:"coordinator"`
	Store       store.Config       `toml:"store"`
	API         api.Config         `toml:"api"`
	Dashboard   dashboard.Config   `toml:"dashboard"`
	Slack       slack.Config       `toml:"slack"`
}

func NewConfig(path string) (*Config, error) {
	var config Config
	if err := cmd.LoadConfig(path, &config); err != nil {
		return nil, err
	}
	return &config, nil
}
