package domain

// StepStatus represents the lifecycle state of a phase or a whole run
type StepStatus string

const (
	StatusPending    StepStatus = "pending"
	StatusInProgress StepStatus = "inProgress"
	StatusCompleted  StepStatus = "completed"
	StatusFailed     StepStatus = "failed"
)

// Valid reports whether s is one of the known statuses
func (s StepStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Plan is the resumable unit of work for one feature slug.
// It is written by the planning step and filled in by runs.
type Plan struct {
	Feature      string           `yaml:"feature" json:"feature"`
	Phases       []Phase          `yaml:"phases" json:"phases"`
	Verification VerificationPlan `yaml:"verification,omitempty" json:"verification"`
	Execution    *ExecutionRecord `yaml:"execution,omitempty" json:"execution,omitempty"`
}

// Phase is one ordered unit of agent-driven change
type Phase struct {
	Name        string       `yaml:"name" json:"name"`
	Description string       `yaml:"description,omitempty" json:"description,omitempty"`
	Tasks       []string     `yaml:"tasks,omitempty" json:"tasks,omitempty"`
	Result      *PhaseResult `yaml:"result,omitempty" json:"result,omitempty"`
}

// PhaseResult records the outcome of the latest attempt at a phase
type PhaseResult struct {
	Status StepStatus `yaml:"status" json:"status"`
	Turns  uint32     `yaml:"turns" json:"turns"`
	Commit *string    `yaml:"commit,omitempty" json:"commit,omitempty"`
}

// VerificationPlan lists acceptance criteria and the commands proving them
type VerificationPlan struct {
	Criteria     []string `yaml:"criteria,omitempty" json:"criteria,omitempty"`
	TestCommands []string `yaml:"testCommands,omitempty" json:"testCommands,omitempty"`
}

// IsEmpty reports whether there is nothing to verify
func (v VerificationPlan) IsEmpty() bool {
	return len(v.Criteria) == 0 && len(v.TestCommands) == 0
}

// ExecutionRecord summarizes a finished run
type ExecutionRecord struct {
	Status       StepStatus         `yaml:"status" json:"status"`
	TotalTurns   uint32             `yaml:"totalTurns" json:"totalTurns"`
	Review       ReviewResult       `yaml:"review" json:"review"`
	Verification VerificationResult `yaml:"verification" json:"verification"`
	PR           *string            `yaml:"pr,omitempty" json:"pr,omitempty"`
}

// ReviewResult aggregates the review cycle
type ReviewResult struct {
	Turns       uint32 `yaml:"turns" json:"turns"`
	IssuesFound uint32 `yaml:"issuesFound" json:"issuesFound"`
	IssuesFixed uint32 `yaml:"issuesFixed" json:"issuesFixed"`
}

// VerificationResult aggregates the verification cycle
type VerificationResult struct {
	Turns  uint32 `yaml:"turns" json:"turns"`
	Passed bool   `yaml:"passed" json:"passed"`
}

// IsCompleted returns true if the phase finished in an earlier attempt
func (p *Phase) IsCompleted() bool {
	return p.Result != nil && p.Result.Status == StatusCompleted
}

// CompletedPhase summarizes a finished phase for resume context
type CompletedPhase struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Commit string `json:"commit"`
}

// CompletedPhases returns summaries of all completed phases, 1-based
func (p *Plan) CompletedPhases() []CompletedPhase {
	var out []CompletedPhase
	for i := range p.Phases {
		phase := &p.Phases[i]
		if !phase.IsCompleted() {
			continue
		}
		commit := "unknown"
		if phase.Result.Commit != nil {
			commit = *phase.Result.Commit
		}
		out = append(out, CompletedPhase{Index: i + 1, Name: phase.Name, Commit: commit})
	}
	return out
}

// SaturatingAdd adds b to a, capping at the uint32 maximum
func SaturatingAdd(a, b uint32) uint32 {
	if s := a + b; s >= a {
		return s
	}
	return ^uint32(0)
}

// StringPtr returns a pointer to s
func StringPtr(s string) *string {
	return &s
}
