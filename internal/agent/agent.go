// Package agent runs the coding agent that produces changes, reviews and
// verifications.
package agent

import "context"

// Agent names used by the pipeline
const (
	Code   = "code"
	Init   = "init"
	Review = "review"
	Verify = "verify"
)

// Request describes one agent session.
type Request struct {
	// Agent selects the <agent>/system template and agent configuration
	Agent string
	// Template is the task template, e.g. "code/task"
	Template string
	// Context is the data both templates are rendered with
	Context map[string]any
	// Dir is the working directory; empty runs in the current directory
	Dir string
}

// Transcript is what an agent session produced.
type Transcript struct {
	// Text is every assistant text block, each followed by a newline
	Text string
	// Turns is the session's turn count, 1 when the session reported none
	Turns uint32
	// IsError is set when the session ended with an error result
	IsError bool
}

// Invoker runs agent sessions. Failures to run a session at all are
// reported as errors wrapping domain.ErrCollaborator.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Transcript, error)
}
