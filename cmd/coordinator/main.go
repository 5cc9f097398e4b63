package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/oursky/experiment-runner/pkg/cmd"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	loglevel := zap.LevelFlag("loglevel", zap.InfoLevel, "log level")
	issueToken := flag.String("issue-token", "", "register a runner with this name, print its token and exit")
	flag.Parse()

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(*loglevel)
	logger, _ := cfg.Build()
	defer logger.Sync()

	config, err := NewConfig(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	if *issueToken != "" {
		token, err := issueRunnerToken(context.Background(), logger, config, *issueToken)
		if err != nil {
			logger.Fatal("failed to issue token", zap.Error(err))
		}
		fmt.Println(token)
		return
	}

	modules, err := initModules(logger, config)
	if err != nil {
		logger.Fatal("failed to init", zap.Error(err))
	}

	err = cmd.Run(logger, modules)
	if err != nil {
		logger.Fatal("fatal error occured", zap.Error(err))
	}
}
