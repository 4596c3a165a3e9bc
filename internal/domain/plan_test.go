package domain

import (
	"errors"
	"testing"
)

func TestPlan_CompletedPhases(t *testing.T) {
	plan := Plan{
		Feature: "Test feature",
		Phases: []Phase{
			{Name: "Phase 1", Result: &PhaseResult{Status: StatusCompleted, Turns: 5, Commit: StringPtr("abc123")}},
			{Name: "Phase 2"},
			{Name: "Phase 3", Result: &PhaseResult{Status: StatusFailed, Turns: 2}},
			{Name: "Phase 4", Result: &PhaseResult{Status: StatusCompleted, Turns: 1}},
		},
	}

	got := plan.CompletedPhases()
	if len(got) != 2 {
		t.Fatalf("CompletedPhases() len = %d, want 2", len(got))
	}
	if got[0] != (CompletedPhase{Index: 1, Name: "Phase 1", Commit: "abc123"}) {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1] != (CompletedPhase{Index: 4, Name: "Phase 4", Commit: "unknown"}) {
		t.Errorf("got[1] = %+v", got[1])
	}
}

func TestPlan_NoCompletedPhases(t *testing.T) {
	plan := Plan{Phases: []Phase{{Name: "Phase 1"}}}
	if got := plan.CompletedPhases(); len(got) != 0 {
		t.Errorf("CompletedPhases() = %v, want empty", got)
	}
}

func TestVerificationPlan_IsEmpty(t *testing.T) {
	tests := []struct {
		name string
		plan VerificationPlan
		want bool
	}{
		{"nothing", VerificationPlan{}, true},
		{"criteria only", VerificationPlan{Criteria: []string{"works"}}, false},
		{"commands only", VerificationPlan{TestCommands: []string{"go test ./..."}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.plan.IsEmpty(); got != tt.want {
				t.Errorf("IsEmpty() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSaturatingAdd_Saturates(t *testing.T) {
	if got := SaturatingAdd(3, 4); got != 7 {
		t.Errorf("SaturatingAdd(3, 4) = %d, want 7", got)
	}
	max := ^uint32(0)
	if got := SaturatingAdd(max-1, 5); got != max {
		t.Errorf("SaturatingAdd overflow = %d, want %d", got, max)
	}
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		input  string
		want   Severity
		wantOK bool
	}{
		{"error", SeverityError, true},
		{"Error", SeverityError, true},
		{"ERROR", SeverityError, true},
		{"warning", SeverityWarning, true},
		{"warn", SeverityWarning, true},
		{"suggestion", SeveritySuggestion, true},
		{"info", SeveritySuggestion, true},
		{"note", SeveritySuggestion, true},
		{"unknown", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseSeverity(tt.input)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseSeverity(%q) = %q, %v; want %q, %v", tt.input, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		event Event
		want  bool
	}{
		{Finished{}, true},
		{NewErrorEvent(boom, true), true},
		{NewErrorEvent(boom, false), false},
		{PhaseStarted{Index: 0}, false},
	}
	for _, tt := range tests {
		if got := IsTerminal(tt.event); got != tt.want {
			t.Errorf("IsTerminal(%s) = %v, want %v", tt.event.EventType(), got, tt.want)
		}
	}
}

func TestStepStatus_Valid(t *testing.T) {
	for _, s := range []StepStatus{StatusPending, StatusInProgress, StatusCompleted, StatusFailed} {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	for _, s := range []StepStatus{"", "done", "Completed"} {
		if s.Valid() {
			t.Errorf("%q should be invalid", s)
		}
	}
}
