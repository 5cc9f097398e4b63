package main

import (
	"github.com/oursky/experiment-runner/pkg/cmd"
	"github.com/oursky/experiment-runner/pkg/runner"
)

type Config struct {
	Runner runner.Config `toml:"runner"`
}

func NewConfig(path string) (*Config, error) {
	var config Config
	if err := cmd.LoadConfig(path, &config); err != nil {
		return nil, err
	}
	return &config, nil
}
