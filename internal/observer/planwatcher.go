package observer

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hochfrequenz/gba/internal/planstore"
)

// PlanChangeCallback is called with the slug of a feature whose plan file
// changed
type PlanChangeCallback func(slug string)

// PlanWatcher monitors feature directories for plan file rewrites. The plan
// store replaces phases.yaml by rename, so the directory is watched rather
// than the file.
type PlanWatcher struct {
	watcher  *fsnotify.Watcher
	store    *planstore.Store
	callback PlanChangeCallback
	debounce time.Duration
	logger   *zap.Logger

	// Track watched features by directory
	features map[string]string

	// Debounce state
	pending map[string]struct{}
	timer   *time.Timer
	mu      sync.Mutex

	cancel context.CancelFunc
}

// NewPlanWatcher creates a new watcher for the plans of store
func NewPlanWatcher(store *planstore.Store, callback PlanChangeCallback, logger *zap.Logger) (*PlanWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	pw := &PlanWatcher{
		watcher:  watcher,
		store:    store,
		callback: callback,
		debounce: 200 * time.Millisecond, // Debounce rapid rewrites
		logger:   logger.Named("planwatcher"),
		features: make(map[string]string),
		pending:  make(map[string]struct{}),
	}

	return pw, nil
}

// AddFeature starts watching the plan of slug
func (pw *PlanWatcher) AddFeature(slug string) error {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	dir := pw.store.FeatureDir(slug)
	if _, exists := pw.features[dir]; exists {
		return nil // Already watching
	}
	if err := pw.watcher.Add(dir); err != nil {
		return err
	}
	pw.features[dir] = slug
	return nil
}

// RemoveFeature stops watching the plan of slug
func (pw *PlanWatcher) RemoveFeature(slug string) {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	dir := pw.store.FeatureDir(slug)
	if _, exists := pw.features[dir]; !exists {
		return
	}
	pw.watcher.Remove(dir)
	delete(pw.features, dir)
	delete(pw.pending, slug)
}

// Start begins watching for file changes
func (pw *PlanWatcher) Start(ctx context.Context) {
	ctx, pw.cancel = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-pw.watcher.Events:
				if !ok {
					return
				}
				pw.handleEvent(event)
			case err, ok := <-pw.watcher.Errors:
				if !ok {
					return
				}
				pw.logger.Warn("watch error", zap.Error(err))
			}
		}
	}()
}

// Stop stops watching for file changes
func (pw *PlanWatcher) Stop() {
	if pw.cancel != nil {
		pw.cancel()
	}
	pw.watcher.Close()

	pw.mu.Lock()
	if pw.timer != nil {
		pw.timer.Stop()
	}
	pw.mu.Unlock()
}

func (pw *PlanWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Base(event.Name) != planstore.PlanFile {
		return
	}
	// A rename into place shows up as Create
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	pw.mu.Lock()
	defer pw.mu.Unlock()

	slug, ok := pw.features[filepath.Dir(event.Name)]
	if !ok {
		return // Not a watched feature
	}
	pw.pending[slug] = struct{}{}

	// Reset or start debounce timer
	if pw.timer != nil {
		pw.timer.Stop()
	}
	pw.timer = time.AfterFunc(pw.debounce, pw.flush)
}

func (pw *PlanWatcher) flush() {
	pw.mu.Lock()
	pending := pw.pending
	pw.pending = make(map[string]struct{})
	pw.mu.Unlock()

	if pw.callback == nil {
		return
	}

	slugs := make([]string, 0, len(pending))
	for slug := range pending {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	for _, slug := range slugs {
		pw.callback(slug)
	}
}

// SetDebounce sets the debounce duration for batching file changes
func (pw *PlanWatcher) SetDebounce(d time.Duration) {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	pw.debounce = d
}
