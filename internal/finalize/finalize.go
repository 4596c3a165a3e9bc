// Package finalize asks the code agent to open the pull request for a
// finished feature and reports its URL.
package finalize

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/hochfrequenz/gba/internal/agent"
	"github.com/hochfrequenz/gba/internal/domain"
)

// PRLookup finds an open pull request for a branch. It returns "" when none
// exists.
type PRLookup interface {
	FindPullRequest(ctx context.Context, branch string) (string, error)
}

// Finalizer creates the change request
type Finalizer struct {
	agent  agent.Invoker
	lookup PRLookup
	logger *zap.Logger
}

// New creates a Finalizer. lookup may be nil.
func New(invoker agent.Invoker, lookup PRLookup, logger *zap.Logger) *Finalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Finalizer{agent: invoker, lookup: lookup, logger: logger.Named("finalize")}
}

// Input summarizes the run for the pull request
type Input struct {
	Slug         string
	Dir          string
	Branch       string
	BaseBranch   string
	Plan         *domain.Plan
	Review       domain.ReviewResult
	Verification domain.VerificationResult
	// Context is the common template context (repo_path, feature_slug)
	Context map[string]any
}

// Run invokes the code/pr template and extracts the pull request URL. When
// no URL appears in the output the configured lookup is consulted; failing
// that, a diagnostic string embedding the output is returned as the result.
func (f *Finalizer) Run(ctx context.Context, in Input) (string, error) {
	prCtx := make(map[string]any, len(in.Context)+7)
	for k, v := range in.Context {
		prCtx[k] = v
	}
	prCtx["design_spec"] = ""
	prCtx["feature_description"] = in.Plan.Feature
	prCtx["branch"] = in.Branch
	prCtx["base_branch"] = in.BaseBranch
	prCtx["phases"] = phaseSummaries(in.Plan)
	prCtx["review"] = map[string]any{
		"issues_found": in.Review.IssuesFound,
		"issues_fixed": in.Review.IssuesFixed,
	}
	prCtx["verification"] = map[string]any{
		"passed": in.Verification.Passed,
	}

	transcript, err := f.agent.Invoke(ctx, agent.Request{
		Agent:    agent.Code,
		Template: "code/pr",
		Context:  prCtx,
		Dir:      in.Dir,
	})
	if err != nil {
		return "", err
	}

	if url, ok := ExtractPRURL(transcript.Text); ok {
		return url, nil
	}

	if f.lookup != nil {
		url, err := f.lookup.FindPullRequest(ctx, in.Branch)
		if err != nil {
			f.logger.Warn("pull request lookup failed", zap.String("branch", in.Branch), zap.Error(err))
		} else if url != "" {
			f.logger.Info("pull request found via API", zap.String("branch", in.Branch), zap.String("url", url))
			return url, nil
		}
	}

	return fmt.Sprintf("(PR URL not detected in agent output: %s)", transcript.Text), nil
}

func phaseSummaries(plan *domain.Plan) []map[string]any {
	out := make([]map[string]any, len(plan.Phases))
	for i, p := range plan.Phases {
		summary := map[string]any{"name": p.Name}
		if p.Result != nil {
			commit := "unknown"
			if p.Result.Commit != nil {
				commit = *p.Result.Commit
			}
			summary["result"] = map[string]any{"turns": p.Result.Turns, "commit": commit}
		}
		out[i] = summary
	}
	return out
}

// ExtractPRURL returns the first https://github.com/ URL containing /pull/.
// A URL ends at whitespace, a quote or a closing parenthesis. Only the first
// GitHub URL of each line is considered.
func ExtractPRURL(output string) (string, bool) {
	for _, line := range strings.Split(output, "\n") {
		start := strings.Index(line, "https://github.com/")
		if start == -1 {
			continue
		}
		rest := line[start:]
		end := strings.IndexFunc(rest, func(r rune) bool {
			return unicode.IsSpace(r) || r == '"' || r == '\'' || r == ')'
		})
		if end == -1 {
			end = len(rest)
		}
		if url := rest[:end]; strings.Contains(url, "/pull/") {
			return url, true
		}
	}
	return "", false
}
