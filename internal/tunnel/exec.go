package tunnel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
)

type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Executor runs one external command. err is only for failures to launch or
// wait; a non-zero exit is reported through ExitCode.
type Executor interface {
	Run(ctx context.Context, argv []string) (ExecResult, error)
}

type OSExecutor struct{}

func (OSExecutor) Run(ctx context.Context, argv []string) (ExecResult, error) {
	if len(argv) == 0 {
		return ExecResult{}, errors.New("empty command")
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("Running external tool", "argv", argv)
	err := cmd.Run()
	res := ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return res, nil
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	default:
		return res, fmt.Errorf("failed to run %s: %w", argv[0], err)
	}
}
