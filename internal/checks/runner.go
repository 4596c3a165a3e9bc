// Package checks runs the configured pre-commit shell checks and drives the
// agent to fix failures.
package checks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"go.uber.org/zap"

	"github.com/hochfrequenz/gba/internal/domain"
)

// Check is one named shell command that must exit zero
type Check struct {
	Name    string `koanf:"name" yaml:"name"`
	Command string `koanf:"command" yaml:"command"`
}

// Runner executes checks sequentially via `sh -c`
type Runner struct {
	checks []Check
	logger *zap.Logger
}

// NewRunner creates a Runner for the given checks
func NewRunner(checks []Check, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{checks: checks, logger: logger.Named("checks")}
}

// HasChecks reports whether any check is configured
func (r *Runner) HasChecks() bool {
	return len(r.checks) > 0
}

// RunAll runs every check in dir, in configured order. A non-zero exit is a
// failed outcome; failing to start the shell at all is an error.
func (r *Runner) RunAll(ctx context.Context, dir string) ([]domain.CheckOutcome, error) {
	outcomes := make([]domain.CheckOutcome, 0, len(r.checks))

	for _, check := range r.checks {
		r.logger.Debug("running check", zap.String("check", check.Name), zap.String("command", check.Command))

		var stdout, stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, "sh", "-c", check.Command)
		cmd.Dir = dir
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		err := cmd.Run()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			r.logger.Error("failed to spawn check command",
				zap.String("check", check.Name),
				zap.String("command", check.Command),
				zap.Error(err),
			)
			return nil, fmt.Errorf("running check %s: %w", check.Name, err)
		}

		passed := err == nil
		if passed {
			r.logger.Debug("check passed", zap.String("check", check.Name))
		} else {
			r.logger.Warn("check failed", zap.String("check", check.Name), zap.Int("exit_code", exitErr.ExitCode()))
		}

		outcomes = append(outcomes, domain.CheckOutcome{
			Name:    check.Name,
			Command: check.Command,
			Passed:  passed,
			Stdout:  stdout.String(),
			Stderr:  stderr.String(),
		})
	}

	return outcomes, nil
}
