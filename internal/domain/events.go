package domain

// Event is one step of progress emitted by a run, in pipeline order
type Event interface {
	// EventType returns a stable identifier such as "phase.started"
	EventType() string
}

// Started is the first event of every run
type Started struct {
	Feature     string `json:"feature"`
	TotalPhases int    `json:"totalPhases"`
}

// PhaseStarted is emitted before the agent works on a phase
type PhaseStarted struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

// CheckResult reports one shell check of one attempt
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
}

// PhaseCommitted is emitted once a phase is persisted as completed.
// Commit holds the hash or NoChangesPlaceholder.
type PhaseCommitted struct {
	Index  int    `json:"index"`
	Commit string `json:"commit"`
}

// NoChangesPlaceholder stands in for a commit hash when a phase changed nothing
const NoChangesPlaceholder = "(no changes)"

// ReviewStarted marks the beginning of the review cycle
type ReviewStarted struct{}

// ReviewCompleted carries the number of issues found across all iterations
type ReviewCompleted struct {
	IssueCount uint32 `json:"issueCount"`
}

// VerificationStarted marks the beginning of the verification cycle
type VerificationStarted struct{}

// VerificationCompleted carries the verification verdict
type VerificationCompleted struct {
	Passed  bool   `json:"passed"`
	Details string `json:"details"`
}

// ChangeRequestCreated carries the pull request URL
type ChangeRequestCreated struct {
	URL string `json:"url"`
}

// Finished is the terminal event of a successful run
type Finished struct{}

// ErrorEvent reports a failure. Only Fatal errors end the stream.
type ErrorEvent struct {
	Err    error  `json:"-"`
	Detail string `json:"detail"`
	Fatal  bool   `json:"fatal"`
}

// NewErrorEvent builds an ErrorEvent from err
func NewErrorEvent(err error, fatal bool) ErrorEvent {
	return ErrorEvent{Err: err, Detail: err.Error(), Fatal: fatal}
}

func (Started) EventType() string               { return "run.started" }
func (PhaseStarted) EventType() string          { return "phase.started" }
func (CheckResult) EventType() string           { return "check.result" }
func (PhaseCommitted) EventType() string        { return "phase.committed" }
func (ReviewStarted) EventType() string         { return "review.started" }
func (ReviewCompleted) EventType() string       { return "review.completed" }
func (VerificationStarted) EventType() string   { return "verification.started" }
func (VerificationCompleted) EventType() string { return "verification.completed" }
func (ChangeRequestCreated) EventType() string  { return "pr.created" }
func (Finished) EventType() string              { return "run.finished" }
func (ErrorEvent) EventType() string            { return "run.error" }

// IsTerminal reports whether no further events follow e
func IsTerminal(e Event) bool {
	switch ev := e.(type) {
	case Finished:
		return true
	case ErrorEvent:
		return ev.Fatal
	default:
		return false
	}
}
