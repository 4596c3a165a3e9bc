// Package verify runs the verification loop against a feature's acceptance
// criteria and test commands.
package verify

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"go.uber.org/zap"

	"github.com/hochfrequenz/gba/internal/agent"
	"github.com/hochfrequenz/gba/internal/domain"
	"github.com/hochfrequenz/gba/internal/vcs"
)

// Committer commits fixes
type Committer interface {
	Commit(ctx context.Context, dir, message string) (vcs.CommitResult, error)
}

// Config holds the verification loop settings
type Config struct {
	MaxIterations uint32
	AutoCommit    bool
}

// Passed decides whether a verification transcript is a pass. An error
// result always fails. Otherwise the text fails only when it mentions
// failure ("fail", "error") without any success wording ("pass", "success").
func Passed(t *agent.Transcript) bool {
	if t.IsError {
		return false
	}
	lower := strings.ToLower(t.Text)
	hasFail := strings.Contains(lower, "fail") || strings.Contains(lower, "error")
	hasPass := strings.Contains(lower, "pass") || strings.Contains(lower, "success")
	return !hasFail || hasPass
}

// Cycle runs the verify agent and asks the code agent to fix failures
type Cycle struct {
	cfg    Config
	agent  agent.Invoker
	commit Committer
	logger *zap.Logger
}

// NewCycle creates a verification cycle
func NewCycle(cfg Config, invoker agent.Invoker, committer Committer, logger *zap.Logger) *Cycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cycle{cfg: cfg, agent: invoker, commit: committer, logger: logger.Named("verify")}
}

// Input describes what to verify
type Input struct {
	Slug string
	Dir  string
	Plan domain.VerificationPlan
	// Context is the common template context (repo_path, feature_slug, design_spec)
	Context map[string]any
}

// Run verifies up to MaxIterations times, fixing in between. There is no fix
// after the last failed verification. Zero iterations yields {0, false}.
func (c *Cycle) Run(ctx context.Context, in Input) (domain.VerificationResult, error) {
	var result domain.VerificationResult
	log := c.logger.With(zap.String("slug", in.Slug))

	for iteration := uint32(0); iteration < c.cfg.MaxIterations; iteration++ {
		verifyCtx := maps.Clone(in.Context)
		if verifyCtx == nil {
			verifyCtx = map[string]any{}
		}
		verifyCtx["criteria"] = in.Plan.Criteria
		verifyCtx["test_commands"] = in.Plan.TestCommands

		transcript, err := c.agent.Invoke(ctx, agent.Request{
			Agent:    agent.Verify,
			Template: "verify/task",
			Context:  verifyCtx,
			Dir:      in.Dir,
		})
		if err != nil {
			return result, err
		}
		result.Turns = domain.SaturatingAdd(result.Turns, transcript.Turns)

		if Passed(transcript) {
			log.Debug("verification passed", zap.Uint32("iteration", iteration))
			result.Passed = true
			return result, nil
		}

		log.Info("verification failed", zap.Uint32("iteration", iteration))
		if iteration+1 >= c.cfg.MaxIterations {
			break
		}

		fixCtx := maps.Clone(in.Context)
		if fixCtx == nil {
			fixCtx = map[string]any{}
		}
		fixCtx["failures"] = []string{}
		fixCtx["output"] = transcript.Text

		fix, err := c.agent.Invoke(ctx, agent.Request{
			Agent:    agent.Code,
			Template: "verify/fix",
			Context:  fixCtx,
			Dir:      in.Dir,
		})
		if err != nil {
			return result, err
		}
		result.Turns = domain.SaturatingAdd(result.Turns, fix.Turns)

		if c.cfg.AutoCommit {
			msg := fmt.Sprintf("fix(%s): verification iteration %d fixes", in.Slug, iteration+1)
			res, err := c.commit.Commit(ctx, in.Dir, msg)
			if err != nil {
				return result, err
			}
			if res.NoChanges {
				log.Debug("no verification fix changes to commit")
			}
		}
	}

	return result, nil
}
