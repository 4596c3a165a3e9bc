// Package review runs the iterative review-and-fix loop over a feature diff.
package review

import (
	"context"
	"fmt"
	"maps"

	"go.uber.org/zap"

	"github.com/hochfrequenz/gba/internal/agent"
	"github.com/hochfrequenz/gba/internal/domain"
	"github.com/hochfrequenz/gba/internal/vcs"
)

// Differ produces the diff under review
type Differ interface {
	Diff(ctx context.Context, dir, base string) (string, error)
}

// Committer commits fixes
type Committer interface {
	Commit(ctx context.Context, dir, message string) (vcs.CommitResult, error)
}

// Config holds the review loop settings
type Config struct {
	MaxIterations uint32
	AutoCommit    bool
}

// Cycle reviews the feature diff and asks the code agent to fix findings
type Cycle struct {
	cfg    Config
	agent  agent.Invoker
	differ Differ
	commit Committer
	logger *zap.Logger
}

// NewCycle creates a review cycle
func NewCycle(cfg Config, invoker agent.Invoker, differ Differ, committer Committer, logger *zap.Logger) *Cycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cycle{cfg: cfg, agent: invoker, differ: differ, commit: committer, logger: logger.Named("review")}
}

// Input describes what to review
type Input struct {
	Slug     string
	Dir      string // worktree
	Base     string // branch the diff is taken against
	Criteria []string
	// Context is the common template context (repo_path, feature_slug, design_spec)
	Context map[string]any
}

// Run executes up to MaxIterations review rounds. It stops early on an empty
// diff or a review without findings. Running out of iterations is not an
// error.
func (c *Cycle) Run(ctx context.Context, in Input) (domain.ReviewResult, error) {
	var result domain.ReviewResult
	log := c.logger.With(zap.String("slug", in.Slug))

	for iteration := uint32(0); iteration < c.cfg.MaxIterations; iteration++ {
		diff, err := c.differ.Diff(ctx, in.Dir, in.Base)
		if err != nil {
			log.Debug("diff unavailable, treating as empty", zap.Error(err))
			diff = ""
		}
		if diff == "" {
			log.Debug("no diff to review")
			break
		}

		reviewCtx := maps.Clone(in.Context)
		if reviewCtx == nil {
			reviewCtx = map[string]any{}
		}
		reviewCtx["verification_criteria"] = in.Criteria
		reviewCtx["diff"] = diff

		transcript, err := c.agent.Invoke(ctx, agent.Request{
			Agent:    agent.Review,
			Template: "review/task",
			Context:  reviewCtx,
		})
		if err != nil {
			return result, err
		}
		result.Turns = domain.SaturatingAdd(result.Turns, transcript.Turns)

		issues := ParseIssues(transcript.Text)
		if len(issues) == 0 {
			log.Debug("review found no issues", zap.Uint32("iteration", iteration))
			break
		}

		count := uint32(len(issues))
		result.IssuesFound = domain.SaturatingAdd(result.IssuesFound, count)
		log.Info("review found issues", zap.Uint32("iteration", iteration), zap.Uint32("issues", count))

		fixCtx := maps.Clone(in.Context)
		if fixCtx == nil {
			fixCtx = map[string]any{}
		}
		fixCtx["issues"] = issueMaps(issues)

		fix, err := c.agent.Invoke(ctx, agent.Request{
			Agent:    agent.Code,
			Template: "review/fix",
			Context:  fixCtx,
			Dir:      in.Dir,
		})
		if err != nil {
			return result, err
		}
		result.Turns = domain.SaturatingAdd(result.Turns, fix.Turns)
		result.IssuesFixed = domain.SaturatingAdd(result.IssuesFixed, count)

		if c.cfg.AutoCommit {
			msg := fmt.Sprintf("fix(%s): review iteration %d fixes", in.Slug, iteration+1)
			res, err := c.commit.Commit(ctx, in.Dir, msg)
			if err != nil {
				return result, err
			}
			if res.NoChanges {
				log.Debug("no review fix changes to commit")
			} else {
				log.Debug("committed review fixes", zap.String("commit", res.Hash))
			}
		}
	}

	return result, nil
}

// issueMaps converts issues to template-friendly maps
func issueMaps(issues []domain.Issue) []map[string]any {
	out := make([]map[string]any, len(issues))
	for i, issue := range issues {
		out[i] = map[string]any{
			"severity":    string(issue.Severity),
			"file":        issue.File,
			"description": issue.Description,
		}
	}
	return out
}
