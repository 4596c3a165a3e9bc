// Package observer follows plan files on disk while a run updates them.
package observer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hochfrequenz/gba/internal/domain"
	"github.com/hochfrequenz/gba/internal/planstore"
)

// Follow calls onChange with the current plan of slug and again after every
// rewrite of the plan file, until ctx is done. Plans that fail to load
// mid-write are skipped.
func Follow(ctx context.Context, store *planstore.Store, slug string, debounce time.Duration, onChange func(*domain.Plan), logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	plan, err := store.Load(slug)
	if err != nil {
		return err
	}
	onChange(plan)

	changes := make(chan struct{}, 1)
	pw, err := NewPlanWatcher(store, func(string) {
		select {
		case changes <- struct{}{}:
		default:
		}
	}, logger)
	if err != nil {
		return err
	}
	defer pw.Stop()

	if debounce > 0 {
		pw.SetDebounce(debounce)
	}
	if err := pw.AddFeature(slug); err != nil {
		return err
	}
	pw.Start(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
			plan, err := store.Load(slug)
			if err != nil {
				logger.Debug("plan reload failed", zap.String("slug", slug), zap.Error(err))
				continue
			}
			onChange(plan)
		}
	}
}

// Summary counts phase states of a plan
type Summary struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
}

// Summarize counts the phase states of plan
func Summarize(plan *domain.Plan) Summary {
	s := Summary{Total: len(plan.Phases)}
	for _, p := range plan.Phases {
		switch {
		case p.Result == nil:
			s.Pending++
		case p.Result.Status == domain.StatusCompleted:
			s.Completed++
		case p.Result.Status == domain.StatusFailed:
			s.Failed++
		default:
			s.Pending++
		}
	}
	return s
}
