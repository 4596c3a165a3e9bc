package vcs

import (
	"context"
	"fmt"

	"github.com/go-git/go-git/v5"
	"go.uber.org/zap"

	"github.com/hochfrequenz/gba/internal/domain"
)

// shortHashLen matches git's default abbreviation
const shortHashLen = 7

// CommitResult is the outcome of a commit attempt. NoChanges is set when the
// worktree had nothing to commit, in which case Hash is empty.
type CommitResult struct {
	Hash      string
	NoChanges bool
}

// Commit stages everything in dir and commits it with message
func (m *Manager) Commit(ctx context.Context, dir, message string) (CommitResult, error) {
	if _, err := m.git(ctx, dir, "add", "-A"); err != nil {
		return CommitResult{}, err
	}

	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		return CommitResult{}, fmt.Errorf("%w: opening %s: %v", domain.ErrVersionControl, dir, err)
	}

	staged, err := hasStagedChanges(repo)
	if err != nil {
		return CommitResult{}, err
	}
	if !staged {
		m.logger.Debug("nothing to commit", zap.String("dir", dir))
		return CommitResult{NoChanges: true}, nil
	}

	if _, err := m.git(ctx, dir, "commit", "-m", message); err != nil {
		return CommitResult{}, err
	}

	head, err := repo.Head()
	if err != nil {
		return CommitResult{}, fmt.Errorf("%w: resolving HEAD: %v", domain.ErrVersionControl, err)
	}
	hash := head.Hash().String()[:shortHashLen]
	m.logger.Info("committed", zap.String("dir", dir), zap.String("commit", hash))
	return CommitResult{Hash: hash}, nil
}

// hasStagedChanges reports whether the index differs from HEAD. Untracked
// entries are ignored since `git add -A` has already staged everything git
// itself does not ignore.
func hasStagedChanges(repo *git.Repository) (bool, error) {
	wt, err := repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("%w: opening worktree: %v", domain.ErrVersionControl, err)
	}
	status, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("%w: reading status: %v", domain.ErrVersionControl, err)
	}
	for _, s := range status {
		if s.Staging != git.Unmodified && s.Staging != git.Untracked {
			return true, nil
		}
	}
	return false, nil
}
