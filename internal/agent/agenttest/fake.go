// Package agenttest provides a scripted agent.Invoker for tests.
package agenttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/hochfrequenz/gba/internal/agent"
	"github.com/hochfrequenz/gba/internal/domain"
)

// Response is what the fake returns for one call
type Response struct {
	Transcript agent.Transcript
	Err        error
	// Do runs before the response is returned, e.g. to touch files in req.Dir
	Do func(req agent.Request)
}

// Fake replays responses per template. Templates without scripted responses
// get Default. Calls are recorded in order.
type Fake struct {
	mu        sync.Mutex
	responses map[string][]Response
	Default   Response
	calls     []agent.Request
}

// New returns a Fake answering every call with one turn and no text
func New() *Fake {
	return &Fake{
		responses: make(map[string][]Response),
		Default:   Response{Transcript: agent.Transcript{Turns: 1}},
	}
}

// On queues responses for a template; the last one repeats once reached
func (f *Fake) On(template string, responses ...Response) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[template] = append(f.responses[template], responses...)
	return f
}

// Text is shorthand for a successful response
func Text(text string, turns uint32) Response {
	return Response{Transcript: agent.Transcript{Text: text, Turns: turns}}
}

// Fail is shorthand for a collaborator failure
func Fail(msg string) Response {
	return Response{Err: fmt.Errorf("%w: %s", domain.ErrCollaborator, msg)}
}

// Invoke implements agent.Invoker
func (f *Fake) Invoke(ctx context.Context, req agent.Request) (*agent.Transcript, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	resp := f.Default
	if queue := f.responses[req.Template]; len(queue) > 0 {
		resp = queue[0]
		if len(queue) > 1 {
			f.responses[req.Template] = queue[1:]
		}
	}
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if resp.Do != nil {
		resp.Do(req)
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	t := resp.Transcript
	return &t, nil
}

// Calls returns the recorded requests
func (f *Fake) Calls() []agent.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]agent.Request(nil), f.calls...)
}

// CallsTo returns the recorded requests for one template
func (f *Fake) CallsTo(template string) []agent.Request {
	var out []agent.Request
	for _, c := range f.Calls() {
		if c.Template == template {
			out = append(out, c)
		}
	}
	return out
}
