package main

import (
	"context"
	"fmt"
	"io"

	"github.com/oursky/experiment-runner/pkg/api"
	"github.com/oursky/experiment-runner/pkg/cmd"
	"github.com/oursky/experiment-runner/pkg/coordinator"
	"github.com/oursky/experiment-runner/pkg/dashboard"
	"github.com/oursky/experiment-runner/pkg/jobs"
	"github.com/oursky/experiment-runner/pkg/slack"
	"github.com/oursky/experiment-runner/pkg/store"
	"github.com/oursky/experiment-runner/pkg/token"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func initModules(logger *zap.Logger, config *Config) ([]cmd.Module, error) {
	registry := prometheus.NewPedanticRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())

	codec, err := token.NewCodec(config.Coordinator.TokenSecret)
	if err != nil {
		return nil, fmt.Errorf("cannot setup token codec: %w", err)
	}

	st, err := store.NewStore(logger, &config.Store)
	if err != nil {
		return nil, fmt.Errorf("cannot setup store: %w", err)
	}

	var modules []cmd.Module
	if m, ok := st.(cmd.Module); ok {
		modules = append(modules, m)
	}

	reconciler := jobs.NewReconciler(logger, st)

	server := coordinator.NewServer(logger, reconciler, registry)
	modules = append(modules, server)

	gateway := coordinator.NewGateway(logger, &config.Coordinator, server, codec, st)
	modules = append(modules, gateway)

	service := jobs.NewService(logger, st, server, reconciler)

	if !config.Slack.Disabled {
		notifier, err := slack.NewNotifier(logger, &config.Slack, nil)
		if err != nil {
			return nil, fmt.Errorf("cannot setup slack notifier: %w", err)
		}
		reconciler.AddListener(notifier)
		modules = append(modules, notifier)
	}

	dashboard := dashboard.NewServer(logger, &config.Dashboard, st, server)
	modules = append(modules, dashboard)

	api := api.NewServer(logger, &config.API, st, service, server, codec, registry)
	modules = append(modules, api)

	return modules, nil
}

func issueRunnerToken(ctx context.Context, logger *zap.Logger, config *Config, name string) (string, error) {
	if config.Store.Type == store.TypeInMemory {
		return "", fmt.Errorf("cannot issue tokens with an in-memory store")
	}

	codec, err := token.NewCodec(config.Coordinator.TokenSecret)
	if err != nil {
		return "", err
	}

	st, err := store.NewStore(logger, &config.Store)
	if err != nil {
		return "", err
	}
	if c, ok := st.(io.Closer); ok {
		defer c.Close()
	}

	runner, err := st.CreateRunner(ctx, name, uuid.NewString())
	if err != nil {
		return "", err
	}
	logger.Info("runner registered", zap.Int64("runnerID", runner.ID), zap.String("name", runner.Name))

	return codec.Encode(token.Payload{AccessKey: runner.AccessKey})
}
