package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hochfrequenz/gba/internal/agent"
	"github.com/hochfrequenz/gba/internal/checks"
	"github.com/hochfrequenz/gba/internal/domain"
	"github.com/hochfrequenz/gba/internal/finalize"
	"github.com/hochfrequenz/gba/internal/review"
	"github.com/hochfrequenz/gba/internal/verify"
)

// errStopped signals that the consumer went away mid-cycle
var errStopped = errors.New("event stream closed")

// run is the state of one pipeline pass, owned by its worker goroutine
type run struct {
	o      *Orchestrator
	slug   string
	plan   *domain.Plan
	design string
	dir    string
	stream *Stream
	log    *zap.Logger

	totalTurns uint32
}

// emit sends e and reports whether the run may continue
func (r *run) emit(ctx context.Context, e domain.Event) bool {
	if r.stream.send(ctx, e) {
		return true
	}
	r.log.Info("event stream closed, stopping run", zap.String("event", e.EventType()))
	return false
}

// abort ends the run with a fatal error event
func (r *run) abort(ctx context.Context, err error) {
	r.log.Error("run aborted", zap.Error(err))
	r.o.metrics.RecordRun("aborted")
	r.stream.send(ctx, domain.NewErrorEvent(err, true))
}

// save persists the plan
func (r *run) save() error {
	return r.o.store.Save(r.slug, r.plan)
}

// saveQuietly persists the plan on an abort path, where the original error
// is what gets reported
func (r *run) saveQuietly() {
	if err := r.save(); err != nil {
		r.log.Warn("failed to save plan after failure", zap.Error(err))
	}
}

// baseContext holds the template values shared by every agent request
func (r *run) baseContext() map[string]any {
	return map[string]any{
		"repo_path":    r.o.opts.RepoDir,
		"feature_slug": r.slug,
		"design_spec":  r.design,
	}
}

func (r *run) execute(ctx context.Context) {
	defer r.stream.finish()

	r.o.metrics.RecordRun("started")
	total := len(r.plan.Phases)
	if !r.emit(ctx, domain.Started{Feature: r.plan.Feature, TotalPhases: total}) {
		return
	}
	if total == 0 {
		r.log.Info("no phases defined, skipping to review")
	}

	for i := range r.plan.Phases {
		if r.plan.Phases[i].IsCompleted() {
			r.log.Debug("skipping completed phase", zap.Int("index", i), zap.String("phase", r.plan.Phases[i].Name))
			continue
		}
		if !r.runPhase(ctx, i) {
			return
		}
	}

	reviewResult, ok := r.runReview(ctx)
	if !ok {
		return
	}

	verification, ok := r.runVerification(ctx)
	if !ok {
		return
	}

	pr, ok := r.runFinalize(ctx, reviewResult, verification)
	if !ok {
		return
	}

	r.plan.Execution = &domain.ExecutionRecord{
		Status:       domain.StatusCompleted,
		TotalTurns:   r.totalTurns,
		Review:       reviewResult,
		Verification: verification,
		PR:           pr,
	}
	if err := r.save(); err != nil {
		r.abort(ctx, err)
		return
	}

	r.o.metrics.RecordRun("finished")
	r.log.Info("run finished", zap.Uint32("total_turns", r.totalTurns))
	r.emit(ctx, domain.Finished{})
}

// runPhase executes phase i and reports whether the run may continue
func (r *run) runPhase(ctx context.Context, i int) bool {
	phase := &r.plan.Phases[i]
	log := r.log.With(zap.Int("phase", i+1), zap.String("name", phase.Name))

	if !r.emit(ctx, domain.PhaseStarted{Index: i, Name: phase.Name}) {
		return false
	}

	template := "code/task"
	var completed []domain.CompletedPhase
	for _, c := range r.plan.CompletedPhases() {
		// Index is 1-based, so this keeps phases before i
		if c.Index <= i {
			completed = append(completed, c)
		}
	}
	if len(completed) > 0 {
		template = "code/resume"
	}

	taskCtx := r.baseContext()
	taskCtx["phase"] = map[string]any{
		"name":        phase.Name,
		"description": phase.Description,
		"tasks":       phase.Tasks,
	}
	taskCtx["phase_index"] = i + 1
	taskCtx["total_phases"] = len(r.plan.Phases)
	taskCtx["completed_phases"] = completedMaps(completed)

	transcript, err := r.o.agent.Invoke(ctx, agent.Request{
		Agent:    agent.Code,
		Template: template,
		Context:  taskCtx,
		Dir:      r.dir,
	})
	if err != nil {
		r.failPhase(ctx, phase, 0, err)
		return false
	}
	turns := transcript.Turns
	log.Debug("coding phase completed", zap.Uint32("turns", turns))

	cycle := checks.NewCycle(
		checks.NewRunner(r.o.opts.Project.Hooks.PreCommit, r.o.logger),
		r.o.opts.Project.Hooks.MaxRetries,
		r.o.agent,
		r.o.logger,
	)
	err = cycle.Run(ctx, r.dir, r.baseContext(), func(outcome domain.CheckOutcome) error {
		r.o.metrics.RecordCheck(outcome.Name, outcome.Passed)
		if !r.emit(ctx, domain.CheckResult{Name: outcome.Name, Passed: outcome.Passed}) {
			return errStopped
		}
		return nil
	})
	if errors.Is(err, errStopped) {
		return false
	}
	if err != nil {
		r.failPhase(ctx, phase, turns, err)
		return false
	}

	var commit *string
	if r.o.opts.Project.Git.AutoCommit {
		msg := fmt.Sprintf("feat(%s): phase %d - %s", r.slug, i+1, phase.Name)
		res, err := r.o.vcs.Commit(ctx, r.dir, msg)
		if err != nil {
			r.failPhase(ctx, phase, turns, err)
			return false
		}
		if res.NoChanges {
			log.Debug("no changes to commit for phase")
		} else {
			log.Info("committed phase", zap.String("commit", res.Hash))
			commit = domain.StringPtr(res.Hash)
		}
	}

	phase.Result = &domain.PhaseResult{
		Status: domain.StatusCompleted,
		Turns:  turns,
		Commit: commit,
	}
	r.totalTurns = domain.SaturatingAdd(r.totalTurns, turns)
	r.o.metrics.RecordPhase(string(domain.StatusCompleted), turns)

	if err := r.save(); err != nil {
		r.abort(ctx, err)
		return false
	}

	label := domain.NoChangesPlaceholder
	if commit != nil {
		label = *commit
	}
	return r.emit(ctx, domain.PhaseCommitted{Index: i, Commit: label})
}

// failPhase records a failed attempt, persists it and aborts the run
func (r *run) failPhase(ctx context.Context, phase *domain.Phase, turns uint32, err error) {
	phase.Result = &domain.PhaseResult{Status: domain.StatusFailed, Turns: turns}
	r.o.metrics.RecordPhase(string(domain.StatusFailed), turns)
	r.saveQuietly()
	r.abort(ctx, err)
}

func (r *run) runReview(ctx context.Context) (domain.ReviewResult, bool) {
	cfg := r.o.opts.Project
	if !cfg.Review.Enabled {
		return domain.ReviewResult{}, true
	}
	if !r.emit(ctx, domain.ReviewStarted{}) {
		return domain.ReviewResult{}, false
	}

	cycle := review.NewCycle(review.Config{
		MaxIterations: cfg.Review.MaxIterations,
		AutoCommit:    cfg.Git.AutoCommit,
	}, r.o.agent, r.o.vcs, r.o.vcs, r.o.logger)

	result, err := cycle.Run(ctx, review.Input{
		Slug:     r.slug,
		Dir:      r.dir,
		Base:     r.o.vcs.BaseBranch(),
		Criteria: r.plan.Verification.Criteria,
		Context:  r.baseContext(),
	})
	if err != nil {
		r.abort(ctx, err)
		return result, false
	}

	r.totalTurns = domain.SaturatingAdd(r.totalTurns, result.Turns)
	r.o.metrics.RecordReview(result.Turns, result.IssuesFound)
	r.log.Debug("review completed", zap.Uint32("issues_found", result.IssuesFound), zap.Uint32("issues_fixed", result.IssuesFixed))

	return result, r.emit(ctx, domain.ReviewCompleted{IssueCount: result.IssuesFound})
}

func (r *run) runVerification(ctx context.Context) (domain.VerificationResult, bool) {
	cfg := r.o.opts.Project
	skipped := domain.VerificationResult{Passed: true}

	if r.plan.Verification.IsEmpty() {
		r.log.Debug("no verification criteria or test commands, skipping verification")
		return skipped, true
	}
	if !cfg.Verification.Enabled {
		return skipped, true
	}
	if !r.emit(ctx, domain.VerificationStarted{}) {
		return skipped, false
	}

	cycle := verify.NewCycle(verify.Config{
		MaxIterations: cfg.Verification.MaxIterations,
		AutoCommit:    cfg.Git.AutoCommit,
	}, r.o.agent, r.o.vcs, r.o.logger)

	result, err := cycle.Run(ctx, verify.Input{
		Slug:    r.slug,
		Dir:     r.dir,
		Plan:    r.plan.Verification,
		Context: r.baseContext(),
	})
	r.totalTurns = domain.SaturatingAdd(r.totalTurns, result.Turns)
	r.o.metrics.RecordVerification(result.Turns)

	details := "all criteria passed"
	if err != nil {
		r.log.Warn("verification did not complete, recording as failed", zap.Error(err))
		result.Passed = false
		details = "verification error: " + err.Error()
		if !r.emit(ctx, domain.NewErrorEvent(err, false)) {
			return result, false
		}
	} else if !result.Passed {
		details = "some criteria failed"
	}

	return result, r.emit(ctx, domain.VerificationCompleted{Passed: result.Passed, Details: details})
}

// runFinalize requests the pull request. Failures are reported but do not
// stop the run; the returned bool is false only when the consumer is gone.
func (r *run) runFinalize(ctx context.Context, rev domain.ReviewResult, ver domain.VerificationResult) (*string, bool) {
	f := finalize.New(r.o.agent, r.o.lookup, r.o.logger)
	url, err := f.Run(ctx, finalize.Input{
		Slug:         r.slug,
		Dir:          r.dir,
		Branch:       r.o.vcs.BranchName(r.slug),
		BaseBranch:   r.o.vcs.BaseBranch(),
		Plan:         r.plan,
		Review:       rev,
		Verification: ver,
		Context:      r.baseContext(),
	})
	if err != nil {
		r.log.Warn("PR creation failed, continuing", zap.Error(err))
		return nil, r.emit(ctx, domain.NewErrorEvent(fmt.Errorf("PR creation failed: %w", err), false))
	}

	r.log.Info("pull request created", zap.String("url", url))
	return domain.StringPtr(url), r.emit(ctx, domain.ChangeRequestCreated{URL: url})
}

func completedMaps(phases []domain.CompletedPhase) []map[string]any {
	out := make([]map[string]any, len(phases))
	for i, p := range phases {
		out[i] = map[string]any{
			"index":  p.Index,
			"name":   p.Name,
			"commit": p.Commit,
		}
	}
	return out
}
