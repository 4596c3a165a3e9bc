package checks

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"go.uber.org/zap"

	"github.com/hochfrequenz/gba/internal/agent"
	"github.com/hochfrequenz/gba/internal/domain"
)

// Cycle runs the checks and asks the agent to fix failures, up to
// maxRetries fix rounds.
type Cycle struct {
	runner     *Runner
	maxRetries uint32
	agent      agent.Invoker
	logger     *zap.Logger
}

// NewCycle creates a check retry cycle
func NewCycle(runner *Runner, maxRetries uint32, invoker agent.Invoker, logger *zap.Logger) *Cycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cycle{
		runner:     runner,
		maxRetries: maxRetries,
		agent:      invoker,
		logger:     logger.Named("checks"),
	}
}

// Run executes the checks in dir until they all pass. Every outcome of every
// attempt is passed to report; a report error aborts the cycle. base is the
// common template context merged into each fix request.
func (c *Cycle) Run(ctx context.Context, dir string, base map[string]any, report func(domain.CheckOutcome) error) error {
	if !c.runner.HasChecks() {
		return nil
	}

	for attempt := uint32(0); ; attempt++ {
		outcomes, err := c.runner.RunAll(ctx, dir)
		if err != nil {
			return err
		}

		var failed []domain.CheckOutcome
		for _, o := range outcomes {
			if report != nil {
				if err := report(o); err != nil {
					return err
				}
			}
			if !o.Passed {
				failed = append(failed, o)
			}
		}
		if len(failed) == 0 {
			return nil
		}

		if attempt >= c.maxRetries {
			names := make([]string, len(failed))
			for i, o := range failed {
				names[i] = o.Name
			}
			c.logger.Error("checks failed after exhausting retries",
				zap.Strings("failed_checks", names),
				zap.Uint32("max_retries", c.maxRetries),
			)
			return fmt.Errorf("%w: after %d retries: %s",
				domain.ErrCheckCycleExhausted, c.maxRetries, strings.Join(names, ", "))
		}

		for _, o := range failed {
			c.logger.Debug("running check fix agent", zap.String("check", o.Name), zap.Uint32("attempt", attempt))
			fixCtx := maps.Clone(base)
			if fixCtx == nil {
				fixCtx = map[string]any{}
			}
			fixCtx["hook_name"] = o.Name
			fixCtx["hook_command"] = o.Command
			fixCtx["hook_output"] = o.Stdout + "\n" + o.Stderr

			if _, err := c.agent.Invoke(ctx, agent.Request{
				Agent:    agent.Code,
				Template: "code/hook_fix",
				Context:  fixCtx,
				Dir:      dir,
			}); err != nil {
				return err
			}
		}
	}
}
