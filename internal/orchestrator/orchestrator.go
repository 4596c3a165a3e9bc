// Package orchestrator drives a feature plan phase by phase through the
// coding agent, gates each phase behind the pre-commit checks, runs review
// and verification, and requests a pull request at the end.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hochfrequenz/gba/internal/agent"
	"github.com/hochfrequenz/gba/internal/config"
	"github.com/hochfrequenz/gba/internal/domain"
	"github.com/hochfrequenz/gba/internal/finalize"
	"github.com/hochfrequenz/gba/internal/metrics"
	"github.com/hochfrequenz/gba/internal/planstore"
	"github.com/hochfrequenz/gba/internal/prompts"
	"github.com/hochfrequenz/gba/internal/vcs"
)

// VCS is the version-control facade a run needs
type VCS interface {
	EnsureWorktree(ctx context.Context, slug string) (string, error)
	BranchName(slug string) string
	BaseBranch() string
	Diff(ctx context.Context, dir, base string) (string, error)
	Commit(ctx context.Context, dir, message string) (vcs.CommitResult, error)
}

// Options is the resolved configuration of an orchestrator
type Options struct {
	RepoDir string
	Project config.ProjectConfig
	// ClaudeBinary and AgentLogDir configure the default agent
	ClaudeBinary string
	AgentLogDir  string
}

// Option overrides a collaborator
type Option func(*Orchestrator)

// WithAgent replaces the Claude Code runner
func WithAgent(a agent.Invoker) Option {
	return func(o *Orchestrator) { o.agent = a }
}

// WithVCS replaces the git worktree manager
func WithVCS(v VCS) Option {
	return func(o *Orchestrator) { o.vcs = v }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics records run counters on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithPRLookup sets the fallback used when the agent output has no PR URL
func WithPRLookup(l finalize.PRLookup) Option {
	return func(o *Orchestrator) { o.lookup = l }
}

// Orchestrator starts runs. It holds no per-run state and can start runs
// for different features concurrently; running one feature twice at the
// same time is not supported.
type Orchestrator struct {
	opts    Options
	store   *planstore.Store
	agent   agent.Invoker
	vcs     VCS
	lookup  finalize.PRLookup
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates an orchestrator for opts.RepoDir
func New(opts Options, options ...Option) *Orchestrator {
	o := &Orchestrator{
		opts:  opts,
		store: planstore.New(opts.RepoDir),
	}
	for _, opt := range options {
		opt(o)
	}

	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	o.logger = o.logger.Named("orchestrator")

	if o.vcs == nil {
		o.vcs = vcs.NewManager(opts.RepoDir, opts.Project.Git.BranchPattern, opts.Project.Git.BaseBranch, o.logger)
	}
	if o.agent == nil {
		o.agent = agent.NewClaude(agent.ClaudeOptions{
			Binary:         opts.ClaudeBinary,
			Model:          opts.Project.Agent.Model,
			PermissionMode: opts.Project.Agent.PermissionMode,
			MaxTokens:      opts.Project.Agent.MaxTokens,
			LogDir:         opts.AgentLogDir,
			Prompts:        prompts.DefaultLoader(opts.RepoDir, opts.Project.Prompts.Include...),
			Logger:         o.logger,
		})
	}
	return o
}

// Store returns the plan store of the repository
func (o *Orchestrator) Store() *planstore.Store {
	return o.store
}

// Run starts executing the plan of slug. Problems found before any work
// starts (uninitialized repository, missing or invalid plan, worktree
// failure) are returned directly. Everything after that is reported on the
// stream.
func (o *Orchestrator) Run(ctx context.Context, slug string) (*Stream, error) {
	if !o.store.Initialized() {
		return nil, domain.ErrNotInitialized
	}

	plan, err := o.store.Load(slug)
	if err != nil {
		return nil, err
	}

	log := o.logger.With(zap.String("slug", slug))

	design, err := o.store.LoadSupportingDocument(slug, planstore.DesignDoc)
	if errors.Is(err, domain.ErrFeatureNotFound) {
		log.Warn("design document missing, continuing with empty context", zap.Error(err))
		design = ""
	} else if err != nil {
		return nil, fmt.Errorf("loading design document: %w", err)
	}

	dir, err := o.vcs.EnsureWorktree(ctx, slug)
	if err != nil {
		return nil, err
	}
	log.Info("worktree ready", zap.String("worktree", dir))

	stream := newStream()
	r := &run{
		o:      o,
		slug:   slug,
		plan:   plan,
		design: design,
		dir:    dir,
		stream: stream,
		log:    log,
	}
	go r.execute(ctx)

	return stream, nil
}
