package finalize

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// GitHubLookup finds open pull requests through the GitHub REST API
type GitHubLookup struct {
	client *github.Client
	owner  string
	repo   string
}

// NewGitHubLookup creates a lookup for owner/repo authenticated with token
func NewGitHubLookup(ctx context.Context, token, owner, repo string) (*GitHubLookup, error) {
	if token == "" {
		return nil, fmt.Errorf("GitHub token not set")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)
	return &GitHubLookup{client: github.NewClient(tc), owner: owner, repo: repo}, nil
}

// WithBaseURL points the client at another API root, such as GitHub
// Enterprise or a test server
func (g *GitHubLookup) WithBaseURL(base string) (*GitHubLookup, error) {
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	g.client.BaseURL = u
	return g, nil
}

// FindPullRequest returns the HTML URL of the first open pull request whose
// head is branch
func (g *GitHubLookup) FindPullRequest(ctx context.Context, branch string) (string, error) {
	prs, _, err := g.client.PullRequests.List(ctx, g.owner, g.repo, &github.PullRequestListOptions{
		State: "open",
		Head:  g.owner + ":" + branch,
	})
	if err != nil {
		return "", fmt.Errorf("listing pull requests: %w", err)
	}
	for _, pr := range prs {
		if pr.GetHead().GetRef() == branch {
			return pr.GetHTMLURL(), nil
		}
	}
	return "", nil
}

// ParseRemote extracts owner and repository from a GitHub remote URL in
// either https or scp-like ssh form
func ParseRemote(remote string) (owner, repo string, err error) {
	path := remote
	switch {
	case strings.HasPrefix(remote, "git@github.com:"):
		path = strings.TrimPrefix(remote, "git@github.com:")
	case strings.Contains(remote, "github.com/"):
		path = remote[strings.Index(remote, "github.com/")+len("github.com/"):]
	default:
		return "", "", fmt.Errorf("not a GitHub remote: %s", remote)
	}
	path = strings.TrimSuffix(strings.TrimSuffix(path, "/"), ".git")
	owner, repo, ok := strings.Cut(path, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("not a GitHub repository URL: %s", remote)
	}
	return owner, repo, nil
}
