package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"github.com/CosmoTheDev/scanpipe/internal/config"
)

func isGitHubHost(host string, configured []config.GitHubConfig) bool {
	if strings.EqualFold(host, "github.com") {
		return true
	}
	for _, gh := range configured {
		if gh.Host != "" && strings.EqualFold(host, gh.Host) {
			return true
		}
	}
	return false
}

// validateGitHub checks that the repository exists and is within the
// size bound using the GitHub API. Works anonymously for public repos;
// a configured token extends this to private ones.
func (f *Fetcher) validateGitHub(ctx context.Context, u *url.URL) error {
	owner, repo, err := ownerRepo(u)
	if err != nil {
		return err
	}
	// GitLab subgroup-style paths never occur here; strip any extra segments.
	if idx := strings.Index(repo, "/"); idx >= 0 {
		repo = repo[:idx]
	}

	var hc *http.Client
	var token string
	for _, gh := range f.cfg.GitHub {
		if hostMatches(u.Host, gh.Host, "github.com") {
			token = gh.Token
			break
		}
	}
	if token != "" {
		hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	}

	client := github.NewClient(hc)
	if !strings.EqualFold(u.Host, "github.com") {
		base := "https://" + u.Host + "/api/v3/"
		client, err = client.WithEnterpriseURLs(base, base)
		if err != nil {
			return fmt.Errorf("configuring enterprise GitHub client: %w", err)
		}
	}

	r, resp, err := client.Repositories.Get(ctx, owner, repo)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnauthorized) {
			return fmt.Errorf("%w: %s/%s not found on %s", ErrUnreachable, owner, repo, u.Host)
		}
		return fmt.Errorf("%w: querying %s: %v", ErrUnreachable, u.Host, err)
	}

	// Repository.Size is reported in KB.
	if f.cfg.MaxRepoKB > 0 && int64(r.GetSize()) > f.cfg.MaxRepoKB {
		return fmt.Errorf("%w: repository is %d KB (limit %d KB)", ErrTooLarge, r.GetSize(), f.cfg.MaxRepoKB)
	}
	return nil
}
