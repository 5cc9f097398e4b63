package main

import (
	"github.com/oursky/experiment-runner/pkg/cmd"
	"github.com/oursky/experiment-runner/pkg/runner"

	"go.uber.org/zap"
)

func initModules(logger *zap.Logger, config *Config) []cmd.Module {
	logger = logger.Named("runner")

	executor := runner.NewProcessExecutor(logger, &config.Runner.Executor)
	connection := runner.NewConnection(logger, &config.Runner, executor)

	return []cmd.Module{connection}
}
