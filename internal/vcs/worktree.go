package vcs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hochfrequenz/gba/internal/domain"
)

// DefaultBranchPattern is used when no pattern is configured
const DefaultBranchPattern = "feat/{id}-{slug}"

// TreesDir is the directory under the repository holding feature worktrees
const TreesDir = ".trees"

// Manager handles worktree, commit and diff operations for feature slugs
type Manager struct {
	repoDir       string
	branchPattern string
	baseBranch    string
	logger        *zap.Logger
}

// NewManager creates a Manager for the repository at repoDir
func NewManager(repoDir, branchPattern, baseBranch string, logger *zap.Logger) *Manager {
	if branchPattern == "" {
		branchPattern = DefaultBranchPattern
	}
	if baseBranch == "" {
		baseBranch = "main"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		repoDir:       repoDir,
		branchPattern: branchPattern,
		baseBranch:    baseBranch,
		logger:        logger.Named("vcs"),
	}
}

// BaseBranch returns the branch feature work starts from
func (m *Manager) BaseBranch() string {
	return m.baseBranch
}

// WorktreePath returns <repo>/.trees/<slug>
func (m *Manager) WorktreePath(slug string) string {
	return filepath.Join(m.repoDir, TreesDir, slug)
}

// BranchName expands the branch pattern for slug
func (m *Manager) BranchName(slug string) string {
	return BranchName(m.branchPattern, slug)
}

// BranchName substitutes {slug} and {id} in pattern. The id is the leading
// underscore-delimited part of the slug when it is all digits, otherwise the
// whole slug.
func BranchName(pattern, slug string) string {
	r := strings.NewReplacer("{id}", ExtractID(slug), "{slug}", slug)
	return r.Replace(pattern)
}

// ExtractID returns the numeric prefix of slugs like "0007_auth"
func ExtractID(slug string) string {
	prefix, _, _ := strings.Cut(slug, "_")
	if prefix == "" {
		return slug
	}
	for _, c := range prefix {
		if c < '0' || c > '9' {
			return slug
		}
	}
	return prefix
}

// EnsureWorktree returns the worktree of slug, creating it with a new branch
// off the base branch when the directory does not exist yet
func (m *Manager) EnsureWorktree(ctx context.Context, slug string) (string, error) {
	wtPath := m.WorktreePath(slug)
	if _, err := os.Stat(wtPath); err == nil {
		m.logger.Debug("worktree already exists", zap.String("slug", slug), zap.String("path", wtPath))
		return wtPath, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: checking worktree: %v", domain.ErrVersionControl, err)
	}

	if err := os.MkdirAll(filepath.Dir(wtPath), 0755); err != nil {
		return "", fmt.Errorf("%w: creating trees dir: %v", domain.ErrVersionControl, err)
	}

	branch := m.BranchName(slug)
	m.logger.Info("creating worktree",
		zap.String("slug", slug),
		zap.String("branch", branch),
		zap.String("path", wtPath),
	)
	if _, err := m.git(ctx, m.repoDir, "worktree", "add", "-b", branch, wtPath, m.baseBranch); err != nil {
		return "", fmt.Errorf("failed to create worktree for %s: %w", slug, err)
	}
	return wtPath, nil
}

// Diff returns the output of `git diff <base>` inside dir
func (m *Manager) Diff(ctx context.Context, dir, base string) (string, error) {
	return m.git(ctx, dir, "diff", base)
}

// git runs a git subcommand and returns stdout. Failures wrap ErrVersionControl
// and carry stderr.
func (m *Manager) git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: git %s: %s: %v",
			domain.ErrVersionControl, args[0], strings.TrimSpace(stderr.String()), err)
	}
	return stdout.String(), nil
}
