package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/gba/internal/agent/agenttest"
	"github.com/hochfrequenz/gba/internal/config"
	"github.com/hochfrequenz/gba/internal/domain"
	"github.com/hochfrequenz/gba/internal/notify"
	"github.com/hochfrequenz/gba/internal/orchestrator"
	"github.com/hochfrequenz/gba/internal/planstore"
	"github.com/hochfrequenz/gba/internal/runstore"
)

func TestPumpEvents(t *testing.T) {
	tests := []struct {
		name   string
		events []domain.Event
		want   pumpResult
	}{
		{
			name:   "finished",
			events: []domain.Event{domain.Started{Feature: "Auth", TotalPhases: 1}, domain.Finished{}},
			want:   pumpResult{Finished: true},
		},
		{
			name: "aborted",
			events: []domain.Event{
				domain.Started{Feature: "Auth"},
				domain.NewErrorEvent(errors.New("PR creation failed: boom"), false),
				domain.NewErrorEvent(domain.ErrCollaborator, true),
			},
			want: pumpResult{Aborted: domain.ErrCollaborator.Error()},
		},
		{
			name:   "interrupted",
			events: []domain.Event{domain.Started{Feature: "Auth"}, domain.PhaseStarted{Index: 0, Name: "Setup"}},
			want:   pumpResult{Phases: []int{0}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := make(chan domain.Event, len(tt.events))
			for _, e := range tt.events {
				ch <- e
			}
			close(ch)

			var out bytes.Buffer
			var seen []string
			res := pumpEvents(ch, &out, func(e domain.Event) { seen = append(seen, e.EventType()) })

			assert.Equal(t, tt.want, res)
			assert.Len(t, seen, len(tt.events))
			assert.Equal(t, len(tt.events), strings.Count(out.String(), "\n"))
		})
	}
}

func TestFormatEvent(t *testing.T) {
	tests := []struct {
		event domain.Event
		want  string
	}{
		{domain.Started{Feature: "Auth", TotalPhases: 2}, "Auth"},
		{domain.PhaseStarted{Index: 0, Name: "Setup"}, "Phase 1: Setup"},
		{domain.CheckResult{Name: "lint", Passed: true}, "✓ lint"},
		{domain.CheckResult{Name: "lint"}, "✗ lint"},
		{domain.PhaseCommitted{Index: 1, Commit: domain.NoChangesPlaceholder}, "committed phase 2: (no changes)"},
		{domain.ReviewCompleted{IssueCount: 3}, "3 issues found"},
		{domain.VerificationCompleted{Details: "some criteria failed"}, "some criteria failed"},
		{domain.ChangeRequestCreated{URL: "https://github.com/o/r/pull/1"}, "https://github.com/o/r/pull/1"},
		{domain.Finished{}, "Finished"},
		{domain.NewErrorEvent(domain.ErrCheckCycleExhausted, true), domain.ErrCheckCycleExhausted.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.event.EventType(), func(t *testing.T) {
			got := formatEvent(tt.event)
			assert.Contains(t, got, tt.want)
			assert.NotContains(t, got, "\n")
		})
	}
}

func TestPlanTurns(t *testing.T) {
	plan := &domain.Plan{
		Feature: "Auth",
		Phases: []domain.Phase{
			{Name: "a", Result: &domain.PhaseResult{Status: domain.StatusCompleted, Turns: 3}},
			{Name: "b", Result: &domain.PhaseResult{Status: domain.StatusFailed, Turns: 2}},
			{Name: "c"},
		},
		// left over from an earlier run
		Execution: &domain.ExecutionRecord{Status: domain.StatusCompleted, TotalTurns: 11},
	}

	t.Run("aborted rerun counts only its phases", func(t *testing.T) {
		assert.Equal(t, uint32(2), planTurns(plan, pumpResult{Aborted: "boom", Phases: []int{1}}))
	})

	t.Run("interrupted before any phase", func(t *testing.T) {
		assert.Equal(t, uint32(0), planTurns(plan, pumpResult{}))
	})

	t.Run("finished uses the run total", func(t *testing.T) {
		assert.Equal(t, uint32(11), planTurns(plan, pumpResult{Finished: true, Phases: []int{1}}))
	})

	t.Run("finished without execution record", func(t *testing.T) {
		p := *plan
		p.Execution = nil
		assert.Equal(t, uint32(5), planTurns(&p, pumpResult{Finished: true, Phases: []int{0, 1}}))
	})
}

func TestNewNotifier(t *testing.T) {
	cfg := config.Default()
	assert.IsType(t, notify.NoopNotifier{}, newNotifier(cfg))

	cfg.Notifications.Desktop = true
	cfg.Notifications.SlackWebhook = "https://hooks.slack.com/services/x"
	assert.IsType(t, &notify.MultiNotifier{}, newNotifier(cfg))
}

func TestServerAddr(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, "127.0.0.1:8080", serverAddr(cfg, 0))
	assert.Equal(t, "127.0.0.1:9000", serverAddr(cfg, 9000))
}

func TestPrintHistory(t *testing.T) {
	var out bytes.Buffer
	printHistory(&out, nil)
	assert.Equal(t, "No runs recorded\n", out.String())

	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	finished := started.Add(90 * time.Second)
	out.Reset()
	printHistory(&out, []*runstore.Run{
		{ID: "0123456789abcdef", Slug: "0001_auth", Status: runstore.StatusFinished, StartedAt: started, FinishedAt: &finished, TotalTurns: 9, PR: "https://github.com/o/r/pull/1"},
		{ID: "fedcba9876543210", Slug: "0001_auth", Status: runstore.StatusRunning, StartedAt: started},
	})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "01234567")
	assert.Contains(t, lines[1], "1m30s")
	assert.Contains(t, lines[1], "https://github.com/o/r/pull/1")
	assert.Contains(t, lines[2], "running")
}

func TestRunStatus(t *testing.T) {
	dir := t.TempDir()
	store := planstore.New(dir)
	commit := "abc1234"
	require.NoError(t, store.Save("0001_auth", &domain.Plan{
		Feature: "Auth",
		Phases: []domain.Phase{
			{Name: "Setup", Result: &domain.PhaseResult{Status: domain.StatusCompleted, Turns: 3, Commit: &commit}},
			{Name: "Login"},
		},
	}))

	prev := repoDir
	repoDir = dir
	t.Cleanup(func() { repoDir = prev; statusFollow = false })

	t.Run("all features", func(t *testing.T) {
		var out bytes.Buffer
		cmd := &cobra.Command{}
		cmd.SetOut(&out)
		require.NoError(t, runStatus(cmd, nil))
		assert.Contains(t, out.String(), "0001_auth")
		assert.Contains(t, out.String(), "Auth")
	})

	t.Run("one feature", func(t *testing.T) {
		var out bytes.Buffer
		cmd := &cobra.Command{}
		cmd.SetOut(&out)
		require.NoError(t, runStatus(cmd, []string{"0001_auth"}))
		assert.Contains(t, out.String(), "1/2 completed")
		assert.Contains(t, out.String(), "commit=abc1234")
		assert.Contains(t, out.String(), "Login")
	})

	t.Run("unknown feature", func(t *testing.T) {
		err := runStatus(&cobra.Command{}, []string{"0404_nope"})
		assert.ErrorIs(t, err, domain.ErrFeatureNotFound)
	})

	t.Run("follow without slug", func(t *testing.T) {
		statusFollow = true
		defer func() { statusFollow = false }()
		assert.Error(t, runStatus(&cobra.Command{}, nil))
	})
}

func TestInitRepo(t *testing.T) {
	repo := t.TempDir()
	fake := agenttest.New()
	opts := orchestrator.Options{RepoDir: repo, Project: config.DefaultProject()}

	var out bytes.Buffer
	require.NoError(t, initRepo(context.Background(), &out, opts, orchestrator.WithAgent(fake)))

	assert.Contains(t, out.String(), config.ProjectConfigPath(repo))
	assert.FileExists(t, config.ProjectConfigPath(repo))
	assert.DirExists(t, filepath.Join(repo, ".trees"))
	gitignore, err := os.ReadFile(filepath.Join(repo, ".gitignore"))
	require.NoError(t, err)
	assert.Contains(t, string(gitignore), ".trees/")
	require.Len(t, fake.CallsTo("init/task"), 1)

	err = initRepo(context.Background(), &out, opts, orchestrator.WithAgent(fake))
	assert.ErrorIs(t, err, domain.ErrAlreadyInitialized)
	assert.Len(t, fake.Calls(), 1)
}
