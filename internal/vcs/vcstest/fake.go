// Package vcstest provides an in-memory version-control facade for tests.
package vcstest

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/hochfrequenz/gba/internal/domain"
	"github.com/hochfrequenz/gba/internal/vcs"
)

// Fake records commits and serves scripted diffs. Every commit succeeds with
// a sequential hash unless NoChanges or CommitErr says otherwise.
type Fake struct {
	mu sync.Mutex

	// Root is where worktrees are placed; EnsureWorktree does not touch disk
	Root        string
	WorktreeErr error
	// Diffs are returned in order; the last one repeats. Empty means no diff.
	Diffs   []string
	DiffErr error
	// NoChanges makes every commit report a clean tree
	NoChanges bool
	CommitErr error
	Base      string

	commits []string
	diffs   int
}

// EnsureWorktree returns <Root>/.trees/<slug>
func (f *Fake) EnsureWorktree(ctx context.Context, slug string) (string, error) {
	if f.WorktreeErr != nil {
		return "", f.WorktreeErr
	}
	return filepath.Join(f.Root, vcs.TreesDir, slug), nil
}

// BranchName expands the default pattern
func (f *Fake) BranchName(slug string) string {
	return vcs.BranchName(vcs.DefaultBranchPattern, slug)
}

// BaseBranch returns Base or "main"
func (f *Fake) BaseBranch() string {
	if f.Base == "" {
		return "main"
	}
	return f.Base
}

// Diff returns the next scripted diff
func (f *Fake) Diff(ctx context.Context, dir, base string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DiffErr != nil {
		return "", f.DiffErr
	}
	if len(f.Diffs) == 0 {
		return "", nil
	}
	i := f.diffs
	if i >= len(f.Diffs) {
		i = len(f.Diffs) - 1
	}
	f.diffs++
	return f.Diffs[i], nil
}

// Commit records message
func (f *Fake) Commit(ctx context.Context, dir, message string) (vcs.CommitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CommitErr != nil {
		return vcs.CommitResult{}, fmt.Errorf("%w: %v", domain.ErrVersionControl, f.CommitErr)
	}
	f.commits = append(f.commits, message)
	if f.NoChanges {
		return vcs.CommitResult{NoChanges: true}, nil
	}
	return vcs.CommitResult{Hash: fmt.Sprintf("c%06d", len(f.commits))}, nil
}

// Commits returns the recorded commit messages
func (f *Fake) Commits() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commits...)
}
