package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

var ErrTimeout = errors.New("execution timed out")

// Executor runs experiment code and returns what it printed.
type Executor interface {
	Execute(ctx context.Context, code string) (output string, err error)
}

// ProcessExecutor writes the code to a file and runs it with the configured
// interpreter in its own process group.
type ProcessExecutor struct {
	logger *zap.Logger
	config *ExecutorConfig
}

func NewProcessExecutor(logger *zap.Logger, config *ExecutorConfig) *ProcessExecutor {
	return &ProcessExecutor{
		logger: logger.Named("executor"),
		config: config,
	}
}

func (e *ProcessExecutor) Execute(ctx context.Context, code string) (string, error) {
	timeout := e.config.GetTimeout()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	script, err := e.writeScript(code)
	if err != nil {
		return "", err
	}
	defer os.Remove(script)

	interpreter := e.config.GetInterpreter()
	args := append(append([]string{}, interpreter[1:]...), script)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, interpreter[0], args...)
	cmd.Dir = e.config.GetWorkDir()
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	e.logger.Debug("starting process", zap.String("cmd", cmd.String()))
	err = cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return stdout.String(), fmt.Errorf("%w after %s", ErrTimeout, timeout)
	} else if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return stdout.String(), fmt.Errorf("%w: %s", err, msg)
		}
		return stdout.String(), err
	}
	return stdout.String(), nil
}

func (e *ProcessExecutor) writeScript(code string) (string, error) {
	f, err := os.CreateTemp(e.config.GetWorkDir(), "experiment-*")
	if err != nil {
		return "", fmt.Errorf("cannot create script: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(code); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("cannot write script: %w", err)
	}
	return f.Name(), nil
}
