package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/gba/internal/config"
	"github.com/hochfrequenz/gba/internal/domain"
	"github.com/hochfrequenz/gba/internal/finalize"
	"github.com/hochfrequenz/gba/internal/logging"
	"github.com/hochfrequenz/gba/internal/metrics"
	"github.com/hochfrequenz/gba/internal/notify"
	"github.com/hochfrequenz/gba/internal/observer"
	"github.com/hochfrequenz/gba/internal/orchestrator"
	"github.com/hochfrequenz/gba/internal/planstore"
	"github.com/hochfrequenz/gba/internal/runstore"
	"github.com/hochfrequenz/gba/internal/vcs"
	"github.com/hochfrequenz/gba/web/api"
)

var (
	initModel    string
	runModel     string
	runServe     bool
	statusFollow bool
	historyLimit int
	servePort    int
)

func init() {
	// init command
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Prepare the repository for gba",
		Long: `init creates .gba/ with a default config.yaml and the .trees/ worktree
directory, adds .trees/ to .gitignore and lets the agent write an overview of
the codebase to .gba/context.md.`,
		Args: cobra.NoArgs,
		RunE: runInit,
	}
	initCmd.Flags().StringVar(&initModel, "model", "", "override the agent model")
	rootCmd.AddCommand(initCmd)

	// run command
	runCmd := &cobra.Command{
		Use:   "run SLUG",
		Short: "Execute the plan of a feature",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}
	runCmd.Flags().StringVar(&runModel, "model", "", "override the agent model")
	runCmd.Flags().BoolVar(&runServe, "serve", false, "stream events on the web server while running")
	rootCmd.AddCommand(runCmd)

	// status command
	statusCmd := &cobra.Command{
		Use:   "status [SLUG]",
		Short: "Show feature progress",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runStatus,
	}
	statusCmd.Flags().BoolVar(&statusFollow, "follow", false, "reprint whenever the plan changes")
	rootCmd.AddCommand(statusCmd)

	// history command
	historyCmd := &cobra.Command{
		Use:   "history [SLUG]",
		Short: "List recorded runs",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of runs")
	rootCmd.AddCommand(historyCmd)

	// serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the event server",
		RunE:  runServeCmd,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

func newLogger(cfg *config.Config) (*zap.Logger, func(), error) {
	return logging.New(logging.Config{
		Level:  cfg.General.LogLevel,
		Format: cfg.General.LogFormat,
		Dir:    cfg.General.LogDir,
	})
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func serverAddr(cfg *config.Config, port int) string {
	if port == 0 {
		port = cfg.Web.Port
	}
	return fmt.Sprintf("%s:%d", cfg.Web.Host, port)
}

// newNotifier combines the notification channels enabled in cfg
func newNotifier(cfg *config.Config) notify.Notifier {
	var notifiers []notify.Notifier
	if cfg.Notifications.Desktop {
		notifiers = append(notifiers, notify.NewDesktopNotifier(true))
	}
	if cfg.Notifications.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.Notifications.SlackWebhook))
	}
	if len(notifiers) == 0 {
		return notify.NoopNotifier{}
	}
	return notify.NewMultiNotifier(notifiers...)
}

// newPRLookup builds the GitHub fallback for finding the PR of a branch.
// It returns nil when there is no token or origin is not on GitHub.
func newPRLookup(ctx context.Context, cfg *config.Config, mgr *vcs.Manager, logger *zap.Logger) finalize.PRLookup {
	if cfg.GitHub.Token == "" {
		return nil
	}
	remote, err := mgr.RemoteURL("origin")
	if err != nil {
		logger.Debug("no origin remote, PR lookup disabled", zap.Error(err))
		return nil
	}
	owner, repo, err := finalize.ParseRemote(remote)
	if err != nil {
		logger.Debug("PR lookup disabled", zap.Error(err))
		return nil
	}
	lookup, err := finalize.NewGitHubLookup(ctx, cfg.GitHub.Token, owner, repo)
	if err != nil {
		logger.Warn("PR lookup disabled", zap.Error(err))
		return nil
	}
	return lookup
}

// pumpResult is what the event pump saw of a run
type pumpResult struct {
	Finished bool
	Aborted  string
	// Phases lists the indices of the phases this run started
	Phases []int
}

// pumpEvents prints every event to out and hands it to each sink, until the
// stream closes.
func pumpEvents(events <-chan domain.Event, out io.Writer, sinks ...func(domain.Event)) pumpResult {
	var res pumpResult
	for e := range events {
		fmt.Fprintln(out, formatEvent(e))
		for _, sink := range sinks {
			sink(e)
		}
		switch ev := e.(type) {
		case domain.PhaseStarted:
			res.Phases = append(res.Phases, ev.Index)
		case domain.Finished:
			res.Finished = true
		case domain.ErrorEvent:
			if ev.Fatal {
				res.Aborted = ev.Detail
			}
		}
	}
	return res
}

// planTurns returns the turns spent by one run: the recorded total when it
// finished, otherwise the sum over the phases it started. Turns of earlier
// runs stay out of the count.
func planTurns(plan *domain.Plan, res pumpResult) uint32 {
	if res.Finished && plan.Execution != nil {
		return plan.Execution.TotalTurns
	}
	var turns uint32
	for _, i := range res.Phases {
		if i < len(plan.Phases) && plan.Phases[i].Result != nil {
			turns = domain.SaturatingAdd(turns, plan.Phases[i].Result.Turns)
		}
	}
	return turns
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, cleanup, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	repo, err := filepath.Abs(repoDir)
	if err != nil {
		return err
	}
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	project := config.DefaultProject()
	project.Agent.Model = cfg.Claude.Model
	if initModel != "" {
		project.Agent.Model = initModel
	}
	return initRepo(ctx, cmd.OutOrStdout(), orchestrator.Options{
		RepoDir:      repo,
		Project:      project,
		ClaudeBinary: cfg.Claude.Binary,
		AgentLogDir:  filepath.Join(cfg.General.LogDir, "agents"),
	}, orchestrator.WithLogger(logger))
}

// initRepo runs the init workflow and reports where things were written
func initRepo(ctx context.Context, out io.Writer, opts orchestrator.Options, options ...orchestrator.Option) error {
	fmt.Fprintln(out, stageStyle.Render("Initializing "+opts.RepoDir))
	if err := orchestrator.New(opts, options...).Init(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, passStyle.Render("✓ ")+"wrote "+config.ProjectConfigPath(opts.RepoDir))
	fmt.Fprintln(out, dimStyle.Render("Edit hooks.preCommit there to gate every phase commit"))
	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
	slug := args[0]
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, cleanup, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	repo, err := filepath.Abs(repoDir)
	if err != nil {
		return err
	}
	project, err := config.LoadProject(repo)
	if err != nil {
		return err
	}
	switch {
	case runModel != "":
		project.Agent.Model = runModel
	case project.Agent.Model == "":
		project.Agent.Model = cfg.Claude.Model
	}

	runs, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening run history: %w", err)
	}
	defer runs.Close()

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	m := metrics.New()
	mgr := vcs.NewManager(repo, project.Git.BranchPattern, project.Git.BaseBranch, logger)
	options := []orchestrator.Option{
		orchestrator.WithVCS(mgr),
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(m),
	}
	if lookup := newPRLookup(ctx, cfg, mgr, logger); lookup != nil {
		options = append(options, orchestrator.WithPRLookup(lookup))
	}
	orch := orchestrator.New(orchestrator.Options{
		RepoDir:      repo,
		Project:      project,
		ClaudeBinary: cfg.Claude.Binary,
		AgentLogDir:  filepath.Join(cfg.General.LogDir, "agents"),
	}, options...)

	stream, err := orch.Run(ctx, slug)
	if err != nil {
		return err
	}
	defer stream.Close()

	record, err := runs.StartRun(slug)
	if err != nil {
		return fmt.Errorf("recording run: %w", err)
	}
	logger = logger.With(zap.String("run", record.ID), zap.String("slug", slug))

	notifier := notify.NewRunNotifier(newNotifier(cfg), slug, logger)
	sinks := []func(domain.Event){
		func(e domain.Event) {
			if err := runs.RecordEvent(record.ID, e); err != nil {
				logger.Warn("failed to record event", zap.String("type", e.EventType()), zap.Error(err))
			}
		},
		notifier.Observe,
	}

	var server *api.Server
	if runServe {
		server = api.NewServer(orch.Store(), runs, m, logger)
		sinks = append(sinks, func(e domain.Event) { server.Publish(slug, e) })
	}

	g, gctx := errgroup.WithContext(ctx)
	serverCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	var res pumpResult
	g.Go(func() error {
		defer stopServer()
		res = pumpEvents(stream.Events(), cmd.OutOrStdout(), sinks...)
		return nil
	})
	if server != nil {
		addr := serverAddr(cfg, 0)
		fmt.Fprintf(cmd.OutOrStdout(), "Streaming events at http://%s/api/events\n", addr)
		g.Go(func() error { return server.Serve(serverCtx, addr) })
	}
	waitErr := g.Wait()

	var turns uint32
	if plan, err := orch.Store().Load(slug); err == nil {
		turns = planTurns(plan, res)
	}
	if err := runs.Complete(record.ID, turns); err != nil {
		logger.Warn("failed to complete run record", zap.Error(err))
	}

	switch {
	case waitErr != nil:
		return waitErr
	case res.Aborted != "":
		return fmt.Errorf("run of %s aborted: %s", slug, res.Aborted)
	case !res.Finished:
		return fmt.Errorf("run of %s interrupted", slug)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	store := planstore.New(repoDir)
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		if statusFollow {
			return errors.New("--follow needs a feature slug")
		}
		slugs, err := store.List()
		if err != nil {
			return err
		}
		if len(slugs) == 0 {
			fmt.Fprintln(out, "No features planned")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SLUG\tFEATURE\tPHASES\tCOMPLETED\tFAILED\tPENDING")
		for _, slug := range slugs {
			plan, err := store.Load(slug)
			if err != nil {
				fmt.Fprintf(w, "%s\t(%v)\t\t\t\t\n", slug, err)
				continue
			}
			s := observer.Summarize(plan)
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\n", slug, plan.Feature, s.Total, s.Completed, s.Failed, s.Pending)
		}
		return w.Flush()
	}

	slug := args[0]
	if !statusFollow {
		plan, err := store.Load(slug)
		if err != nil {
			return err
		}
		fmt.Fprint(out, formatPlan(slug, plan))
		return nil
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	return observer.Follow(ctx, store, slug, 200*time.Millisecond, func(plan *domain.Plan) {
		fmt.Fprintln(out, dimStyle.Render(time.Now().Format("15:04:05")))
		fmt.Fprint(out, formatPlan(slug, plan))
	}, nil)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	runs, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer runs.Close()

	opts := runstore.ListOptions{Limit: historyLimit}
	if len(args) > 0 {
		opts.Slug = args[0]
	}
	list, err := runs.ListRuns(opts)
	if err != nil {
		return err
	}
	printHistory(cmd.OutOrStdout(), list)
	return nil
}

func printHistory(out io.Writer, list []*runstore.Run) {
	if len(list) == 0 {
		fmt.Fprintln(out, "No runs recorded")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSLUG\tSTATUS\tSTARTED\tDURATION\tTURNS\tPR")
	for _, r := range list {
		duration := "-"
		if r.FinishedAt != nil {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		pr := r.PR
		if pr == "" {
			pr = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ID[:8], r.Slug, r.Status, r.StartedAt.Local().Format("2006-01-02 15:04"), duration, r.TotalTurns, pr)
	}
	w.Flush()
}

func runServeCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, cleanup, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	runs, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer runs.Close()

	store := planstore.New(repoDir)
	server := api.NewServer(store, runs, metrics.New(), logger)

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	// Plan rewrites by runs in other processes reach clients as plan.changed
	watcher, err := observer.NewPlanWatcher(store, func(slug string) {
		plan, err := store.Load(slug)
		if err != nil {
			return
		}
		server.Hub().Broadcast(api.RunEvent{Type: "plan.changed", Slug: slug, Data: observer.Summarize(plan)})
	}, logger)
	if err != nil {
		return err
	}
	defer watcher.Stop()
	slugs, err := store.List()
	if err != nil {
		return err
	}
	for _, slug := range slugs {
		if err := watcher.AddFeature(slug); err != nil {
			logger.Warn("cannot watch feature", zap.String("slug", slug), zap.Error(err))
		}
	}
	watcher.Start(ctx)

	addr := serverAddr(cfg, servePort)
	fmt.Fprintf(cmd.OutOrStdout(), "Serving at http://%s\n", addr)
	return server.Serve(ctx, addr)
}
