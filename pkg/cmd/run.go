package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Run starts every module and blocks until they all return. The first
// SIGTERM or SIGINT cancels the shared context; a second one exits at once.
func Run(logger *zap.Logger, modules []Module) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sig)

	logger.Info("starting...", zap.Int("modules", len(modules)))
	for _, m := range modules {
		if err := m.Start(ctx, g); err != nil {
			return fmt.Errorf("error while starting: %w", err)
		}
	}

	go func() {
		select {
		case <-sig:
		case <-ctx.Done():
			return
		}
		logger.Info("exiting...")
		cancel()

		<-sig
		logger.Warn("forced exit")
		os.Exit(1)
	}()

	return g.Wait()
}
