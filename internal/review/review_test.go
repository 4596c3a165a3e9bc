package review

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/gba/internal/agent"
	"github.com/hochfrequenz/gba/internal/agent/agenttest"
	"github.com/hochfrequenz/gba/internal/domain"
	"github.com/hochfrequenz/gba/internal/vcs/vcstest"
)

const blockReview = `I found some problems.

- severity: error
  file: internal/auth/login.go
  description: password compared without constant time
- severity: warning
  file: internal/auth/session.go
  description: session id logged
severity: suggestion
file: README.md
description: document the new flag

Also - [error] ignored.go: inline lines are ignored when blocks exist
`

func TestParseIssues_Blocks(t *testing.T) {
	issues := ParseIssues(blockReview)
	require.Len(t, issues, 3)
	assert.Equal(t, domain.Issue{
		Severity:    domain.SeverityError,
		File:        "internal/auth/login.go",
		Description: "password compared without constant time",
	}, issues[0])
	assert.Equal(t, domain.SeverityWarning, issues[1].Severity)
	assert.Equal(t, domain.SeveritySuggestion, issues[2].Severity)
	assert.Equal(t, "README.md", issues[2].File)
}

func TestParseIssues_Inline(t *testing.T) {
	text := `Findings:
- [Error] main.go: unchecked error
- [warn] util.go: shadowed variable
- [note] doc.go: typo in comment
- [critical] x.go: unknown severity is dropped
- [error] : empty file is dropped
- [error] y.go:
not an issue line`
	issues := ParseIssues(text)
	require.Len(t, issues, 3)
	assert.Equal(t, domain.Issue{Severity: domain.SeverityError, File: "main.go", Description: "unchecked error"}, issues[0])
	assert.Equal(t, domain.SeverityWarning, issues[1].Severity)
	assert.Equal(t, domain.SeveritySuggestion, issues[2].Severity)
}

func TestParseIssues_Edge(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"no issues", "No issues found. Looks good!", 0},
		{"empty", "", 0},
		{"unknown severity block", "- severity: blocker\n  file: a.go\n  description: x", 0},
		{"block missing description", "- severity: error\n  file: a.go", 0},
		{"new severity flushes previous", "- severity: error\n  file: a.go\n  description: one\n- severity: warn\n  file: b.go\n  description: two", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, ParseIssues(tt.text), tt.want)
		})
	}
}

func newInput() Input {
	return Input{
		Slug:     "0001_login",
		Dir:      "/wt",
		Base:     "main",
		Criteria: []string{"users can log in"},
		Context:  map[string]any{"feature_slug": "0001_login", "design_spec": "design"},
	}
}

func TestCycle_EmptyDiffStops(t *testing.T) {
	fake := agenttest.New()
	git := &vcstest.Fake{}

	res, err := NewCycle(Config{MaxIterations: 3, AutoCommit: true}, fake, git, git, nil).Run(context.Background(), newInput())
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewResult{}, res)
	assert.Empty(t, fake.Calls())
}

func TestCycle_DiffErrorTreatedAsEmpty(t *testing.T) {
	fake := agenttest.New()
	git := &vcstest.Fake{DiffErr: errors.New("bad revision")}

	res, err := NewCycle(Config{MaxIterations: 3}, fake, git, git, nil).Run(context.Background(), newInput())
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewResult{}, res)
}

func TestCycle_CleanReviewStops(t *testing.T) {
	fake := agenttest.New().On("review/task", agenttest.Text("No issues found.", 2))
	git := &vcstest.Fake{Diffs: []string{"+code"}}

	res, err := NewCycle(Config{MaxIterations: 3, AutoCommit: true}, fake, git, git, nil).Run(context.Background(), newInput())
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewResult{Turns: 2}, res)
	assert.Empty(t, git.Commits())

	calls := fake.CallsTo("review/task")
	require.Len(t, calls, 1)
	assert.Equal(t, agent.Review, calls[0].Agent)
	assert.Empty(t, calls[0].Dir, "review runs without a working directory")
	assert.Equal(t, "+code", calls[0].Context["diff"])
	assert.Equal(t, []string{"users can log in"}, calls[0].Context["verification_criteria"])
	assert.Equal(t, "design", calls[0].Context["design_spec"])
}

func TestCycle_FixesUntilExhausted(t *testing.T) {
	fake := agenttest.New().
		On("review/task", agenttest.Text("- [error] a.go: broken\n- [warning] b.go: smelly", 3)).
		On("review/fix", agenttest.Text("fixed", 5))
	git := &vcstest.Fake{Diffs: []string{"+code"}}

	res, err := NewCycle(Config{MaxIterations: 2, AutoCommit: true}, fake, git, git, nil).Run(context.Background(), newInput())
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewResult{Turns: 16, IssuesFound: 4, IssuesFixed: 4}, res)
	assert.Equal(t, []string{
		"fix(0001_login): review iteration 1 fixes",
		"fix(0001_login): review iteration 2 fixes",
	}, git.Commits())

	fixes := fake.CallsTo("review/fix")
	require.Len(t, fixes, 2)
	assert.Equal(t, agent.Code, fixes[0].Agent)
	assert.Equal(t, "/wt", fixes[0].Dir)
	issues := fixes[0].Context["issues"].([]map[string]any)
	require.Len(t, issues, 2)
	assert.Equal(t, "error", issues[0]["severity"])
	assert.Equal(t, "a.go", issues[0]["file"])
}

func TestCycle_NoAutoCommitAndNoChanges(t *testing.T) {
	review := agenttest.Text("- [error] a.go: broken", 1)
	clean := agenttest.Text("No issues found.", 1)

	t.Run("auto commit disabled", func(t *testing.T) {
		fake := agenttest.New().On("review/task", review, clean)
		git := &vcstest.Fake{Diffs: []string{"+code"}}
		res, err := NewCycle(Config{MaxIterations: 3}, fake, git, git, nil).Run(context.Background(), newInput())
		require.NoError(t, err)
		assert.Equal(t, uint32(1), res.IssuesFound)
		assert.Empty(t, git.Commits())
	})

	t.Run("nothing to commit is tolerated", func(t *testing.T) {
		fake := agenttest.New().On("review/task", review, clean)
		git := &vcstest.Fake{Diffs: []string{"+code"}, NoChanges: true}
		res, err := NewCycle(Config{MaxIterations: 3, AutoCommit: true}, fake, git, git, nil).Run(context.Background(), newInput())
		require.NoError(t, err)
		assert.Equal(t, domain.ReviewResult{Turns: 3, IssuesFound: 1, IssuesFixed: 1}, res)
	})
}

func TestCycle_Failures(t *testing.T) {
	t.Run("review agent fails", func(t *testing.T) {
		fake := agenttest.New().On("review/task", agenttest.Fail("offline"))
		git := &vcstest.Fake{Diffs: []string{"+code"}}
		_, err := NewCycle(Config{MaxIterations: 3}, fake, git, git, nil).Run(context.Background(), newInput())
		assert.ErrorIs(t, err, domain.ErrCollaborator)
	})

	t.Run("commit fails", func(t *testing.T) {
		fake := agenttest.New().On("review/task", agenttest.Text("- [error] a.go: broken", 1))
		git := &vcstest.Fake{Diffs: []string{"+code"}, CommitErr: errors.New("locked")}
		_, err := NewCycle(Config{MaxIterations: 3, AutoCommit: true}, fake, git, git, nil).Run(context.Background(), newInput())
		assert.ErrorIs(t, err, domain.ErrVersionControl)
	})
}
