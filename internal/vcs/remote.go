package vcs

import (
	"fmt"

	"github.com/go-git/go-git/v5"

	"github.com/hochfrequenz/gba/internal/domain"
)

// RemoteURL returns the first URL of the named remote of the repository
func (m *Manager) RemoteURL(name string) (string, error) {
	repo, err := git.PlainOpenWithOptions(m.repoDir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", fmt.Errorf("%w: opening %s: %v", domain.ErrVersionControl, m.repoDir, err)
	}
	remote, err := repo.Remote(name)
	if err != nil {
		return "", fmt.Errorf("%w: remote %s: %v", domain.ErrVersionControl, name, err)
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "", fmt.Errorf("%w: remote %s has no URL", domain.ErrVersionControl, name)
	}
	return urls[0], nil
}
