package ingest

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/CosmoTheDev/scanpipe/internal/config"
)

func isGitLabHost(host string, configured []config.GitLabConfig) bool {
	if strings.EqualFold(host, "gitlab.com") {
		return true
	}
	for _, gl := range configured {
		if gl.Host != "" && strings.EqualFold(host, gl.Host) {
			return true
		}
	}
	return false
}

// validateGitLab checks that the project exists and is within the size
// bound using the GitLab API. Statistics require authorization; without
// a token the size check is skipped.
func (f *Fetcher) validateGitLab(ctx context.Context, u *url.URL) error {
	owner, repo, err := ownerRepo(u)
	if err != nil {
		return err
	}
	projectPath := owner + "/" + repo

	var token string
	for _, gl := range f.cfg.GitLab {
		if hostMatches(u.Host, gl.Host, "gitlab.com") {
			token = gl.Token
			break
		}
	}

	client, err := gitlab.NewClient(token, gitlab.WithBaseURL("https://"+u.Host+"/api/v4"))
	if err != nil {
		return fmt.Errorf("configuring GitLab client: %w", err)
	}

	p, resp, err := client.Projects.GetProject(projectPath,
		&gitlab.GetProjectOptions{Statistics: gitlab.Ptr(token != "")},
		gitlab.WithContext(ctx))
	if err != nil {
		if resp != nil && (resp.StatusCode == 404 || resp.StatusCode == 401) {
			return fmt.Errorf("%w: %s not found on %s", ErrUnreachable, projectPath, u.Host)
		}
		return fmt.Errorf("%w: querying %s: %v", ErrUnreachable, u.Host, err)
	}

	if f.cfg.MaxRepoKB > 0 && p.Statistics != nil {
		sizeKB := p.Statistics.RepositorySize / 1024
		if sizeKB > f.cfg.MaxRepoKB {
			return fmt.Errorf("%w: repository is %d KB (limit %d KB)", ErrTooLarge, sizeKB, f.cfg.MaxRepoKB)
		}
	}
	return nil
}
