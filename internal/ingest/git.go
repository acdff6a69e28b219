package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/CosmoTheDev/scanpipe/models"
)

// clone shallow-clones src.URL into dest and returns src with the
// resolved commit and ref filled in.
func (f *Fetcher) clone(ctx context.Context, src models.SourceInfo, dest string) (models.SourceInfo, error) {
	if f.cfg.CloneTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(f.cfg.CloneTimeoutSeconds)*time.Second)
		defer cancel()
	}

	cloneOpts := &gogit.CloneOptions{
		URL:   src.URL,
		Depth: 1, // shallow clone for speed
	}

	if token := f.tokenForURL(src.URL); token != "" {
		cloneOpts.Auth = &githttp.BasicAuth{
			Username: "scanpipe",
			Password: token,
		}
	}

	if src.Ref != "" {
		cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(src.Ref)
		cloneOpts.SingleBranch = true
	}

	slog.Debug("Cloning repository", "url", src.URL, "ref", src.Ref, "dest", dest)

	repo, err := gogit.PlainCloneContext(ctx, dest, false, cloneOpts)
	if err != nil {
		return src, fmt.Errorf("%w: cloning %s: %v", ErrUnreachable, src.URL, err)
	}

	head, err := repo.Head()
	if err != nil {
		return src, fmt.Errorf("resolving HEAD of %s: %w", src.URL, err)
	}

	resolved := src
	resolved.Commit = head.Hash().String()
	if resolved.Ref == "" {
		resolved.Ref = head.Name().Short()
	}
	return resolved, nil
}

// tokenForURL returns the configured token for the URL's host, if any.
func (f *Fetcher) tokenForURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	for _, gh := range f.cfg.GitHub {
		if hostMatches(u.Host, gh.Host, "github.com") {
			return gh.Token
		}
	}
	for _, gl := range f.cfg.GitLab {
		if hostMatches(u.Host, gl.Host, "gitlab.com") {
			return gl.Token
		}
	}
	return ""
}

func hostMatches(host, configured, fallback string) bool {
	if configured == "" {
		configured = fallback
	}
	return strings.EqualFold(host, configured)
}

// ownerRepo extracts "owner", "repo" from a hosting URL path like
// /owner/repo or /owner/repo.git. GitLab subgroup paths keep their
// full project path in repo.
func ownerRepo(u *url.URL) (string, string, error) {
	path := strings.Trim(strings.TrimSuffix(u.Path, ".git"), "/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("cannot derive project from URL path %q", u.Path)
	}
	return parts[0], parts[1], nil
}
