package planstore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/gba/internal/domain"
)

const samplePlan = `feature: Add login
phases:
  - name: Scaffold
    description: Create the package
    tasks:
      - add handler
  - name: Wire
    description: Hook it up
    tasks: []
verification:
  criteria:
    - users can log in
  testCommands:
    - go test ./...
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestStore_Load(t *testing.T) {
	repo := t.TempDir()
	s := New(repo)
	writeFile(t, s.PlanPath("0001_login"), samplePlan)

	plan, err := s.Load("0001_login")
	require.NoError(t, err)
	assert.Equal(t, "Add login", plan.Feature)
	require.Len(t, plan.Phases, 2)
	assert.Equal(t, "Scaffold", plan.Phases[0].Name)
	assert.Equal(t, []string{"add handler"}, plan.Phases[0].Tasks)
	assert.Nil(t, plan.Phases[0].Result)
	assert.Equal(t, []string{"go test ./..."}, plan.Verification.TestCommands)
	assert.Nil(t, plan.Execution)
}

func TestStore_LoadErrors(t *testing.T) {
	repo := t.TempDir()
	s := New(repo)

	_, err := s.Load("missing")
	assert.ErrorIs(t, err, domain.ErrFeatureNotFound)

	writeFile(t, s.PlanPath("broken"), "feature: [unterminated")
	_, err = s.Load("broken")
	assert.ErrorIs(t, err, domain.ErrInvalidSpec)

	writeFile(t, s.PlanPath("nofeature"), "phases: []\n")
	_, err = s.Load("nofeature")
	assert.ErrorIs(t, err, domain.ErrInvalidSpec)
}

func TestDecode_RejectsUnknownStatus(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown phase status", "feature: f\nphases:\n  - name: a\n    result:\n      status: done\n      turns: 3\n"},
		{"wrong case", "feature: f\nphases:\n  - name: a\n    result:\n      status: Completed\n      turns: 3\n"},
		{"missing phase status", "feature: f\nphases:\n  - name: a\n    result:\n      turns: 3\n"},
		{"unknown execution status", "feature: f\nphases: []\nexecution:\n  status: ok\n  totalTurns: 1\n"},
		{"missing execution status", "feature: f\nphases: []\nexecution:\n  totalTurns: 1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.doc))
			assert.ErrorIs(t, err, domain.ErrInvalidSpec)
		})
	}

	plan, err := Decode([]byte("feature: f\nphases:\n  - name: a\n    result:\n      status: completed\n      turns: 3\n"))
	require.NoError(t, err)
	assert.True(t, plan.Phases[0].IsCompleted())
}

func TestStore_SaveRoundTrip(t *testing.T) {
	repo := t.TempDir()
	s := New(repo)

	plan := &domain.Plan{
		Feature: "Add login",
		Phases: []domain.Phase{
			{Name: "Scaffold", Tasks: []string{"a"}, Result: &domain.PhaseResult{
				Status: domain.StatusCompleted, Turns: 4, Commit: domain.StringPtr("abc1234"),
			}},
			{Name: "Wire", Tasks: []string{"b"}},
		},
		Execution: &domain.ExecutionRecord{
			Status:       domain.StatusCompleted,
			TotalTurns:   9,
			Verification: domain.VerificationResult{Passed: true},
			PR:           domain.StringPtr("https://github.com/o/r/pull/1"),
		},
	}
	require.NoError(t, s.Save("login", plan))

	got, err := s.Load("login")
	require.NoError(t, err)
	assert.Equal(t, plan, got)

	// No temp files remain next to the plan
	entries, err := os.ReadDir(s.FeatureDir("login"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_SaveOmitsAbsentFields(t *testing.T) {
	repo := t.TempDir()
	s := New(repo)

	plan := &domain.Plan{
		Feature: "x",
		Phases: []domain.Phase{
			{Name: "one", Result: &domain.PhaseResult{Status: domain.StatusFailed, Turns: 2}},
			{Name: "two"},
		},
	}
	require.NoError(t, s.Save("x", plan))

	data, err := os.ReadFile(s.PlanPath("x"))
	require.NoError(t, err)
	text := string(data)
	assert.NotContains(t, text, "null")
	assert.NotContains(t, text, "commit:")
	assert.NotContains(t, text, "execution:")
	assert.Equal(t, 1, strings.Count(text, "result:"))
}

func TestStore_LoadSupportingDocument(t *testing.T) {
	repo := t.TempDir()
	s := New(repo)

	_, err := s.LoadSupportingDocument("login", DesignDoc)
	assert.ErrorIs(t, err, domain.ErrFeatureNotFound)

	writeFile(t, filepath.Join(s.FeatureDir("login"), "specs", DesignDoc), "# Design")
	doc, err := s.LoadSupportingDocument("login", DesignDoc)
	require.NoError(t, err)
	assert.Equal(t, "# Design", doc)
}

func TestStore_ListAndInitialized(t *testing.T) {
	repo := t.TempDir()
	s := New(repo)
	assert.False(t, s.Initialized())

	slugs, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, slugs)

	writeFile(t, s.PlanPath("b-feature"), samplePlan)
	writeFile(t, s.PlanPath("a-feature"), samplePlan)
	require.NoError(t, os.MkdirAll(s.FeatureDir("draft"), 0755))

	assert.True(t, s.Initialized())
	slugs, err = s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a-feature", "b-feature"}, slugs)
}
