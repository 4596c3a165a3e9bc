package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/hochfrequenz/gba/internal/agent"
	"github.com/hochfrequenz/gba/internal/config"
	"github.com/hochfrequenz/gba/internal/domain"
	"github.com/hochfrequenz/gba/internal/planstore"
	"github.com/hochfrequenz/gba/internal/vcs"
)

// treeDepth limits how deep RepoTree descends
const treeDepth = 4

// treeSkipped are directories RepoTree leaves out
var treeSkipped = map[string]bool{
	"target":       true,
	"node_modules": true,
	".git":         true,
	vcs.TreesDir:   true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
}

// Init prepares the repository for gba: it creates .gba with a default
// config and the worktree directory, ignores worktrees in git, and lets the
// init agent analyze the codebase. A repository that already has .gba is
// rejected with domain.ErrAlreadyInitialized.
func (o *Orchestrator) Init(ctx context.Context) error {
	repo := o.opts.RepoDir
	if _, err := os.Stat(filepath.Join(repo, planstore.StateDir)); err == nil {
		return domain.ErrAlreadyInitialized
	}
	log := o.logger.With(zap.String("repo", repo))
	log.Info("initializing repository")

	if err := config.WriteDefaultProject(repo); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(repo, vcs.TreesDir), 0755); err != nil {
		return fmt.Errorf("failed to create worktree dir: %w", err)
	}
	if err := IgnoreWorktrees(repo); err != nil {
		return err
	}

	tree, err := RepoTree(repo)
	if err != nil {
		return err
	}
	log.Debug("generated repository tree", zap.Int("lines", strings.Count(tree, "\n")))

	transcript, err := o.agent.Invoke(ctx, agent.Request{
		Agent:    agent.Init,
		Template: "init/task",
		Context: map[string]any{
			"repo_path": repo,
			"repo_tree": tree,
		},
		Dir: repo,
	})
	if err != nil {
		return err
	}
	log.Info("init agent completed", zap.Uint32("turns", transcript.Turns))
	return nil
}

// IgnoreWorktrees adds the worktree directory to <repo>/.gitignore unless a
// line already names it. The file is created when missing.
func IgnoreWorktrees(repo string) error {
	path := filepath.Join(repo, ".gitignore")
	entry := vcs.TreesDir + "/"

	content, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	for _, line := range strings.Split(string(content), "\n") {
		if strings.TrimSpace(line) == entry {
			return nil
		}
	}

	var b strings.Builder
	b.Write(content)
	if len(content) > 0 && content[len(content)-1] != '\n' {
		b.WriteByte('\n')
	}
	b.WriteString(entry + "\n")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// RepoTree renders the directory structure of root like tree(1), four levels
// deep, without build output and dependency directories
func RepoTree(root string) (string, error) {
	var b strings.Builder
	b.WriteString(filepath.Base(root) + "/\n")
	if err := walkTree(&b, root, "", 0); err != nil {
		return "", err
	}
	return b.String(), nil
}

func walkTree(b *strings.Builder, dir, prefix string, depth int) error {
	if depth >= treeDepth {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", dir, err)
	}

	kept := entries[:0]
	for _, e := range entries {
		if e.IsDir() && treeSkipped[e.Name()] {
			continue
		}
		kept = append(kept, e)
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Name() < kept[j].Name() })

	for i, e := range kept {
		connector, indent := "├── ", "│   "
		if i == len(kept)-1 {
			connector, indent = "└── ", "    "
		}
		if !e.IsDir() {
			b.WriteString(prefix + connector + e.Name() + "\n")
			continue
		}
		b.WriteString(prefix + connector + e.Name() + "/\n")
		if err := walkTree(b, filepath.Join(dir, e.Name()), prefix+indent, depth+1); err != nil {
			return err
		}
	}
	return nil
}
