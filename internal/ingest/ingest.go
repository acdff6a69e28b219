// Package ingest materializes a scan source (git repository or uploaded
// archive) into a scratch workspace, validating it first.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/CosmoTheDev/scanpipe/internal/config"
	"github.com/CosmoTheDev/scanpipe/models"
)

var (
	// ErrUnreachable means the remote source does not exist or cannot be
	// reached with the configured credentials.
	ErrUnreachable = errors.New("source unreachable")
	// ErrTooLarge means the source exceeds the configured size bound.
	ErrTooLarge = errors.New("source exceeds size limit")
	// ErrUnsafeArchive means the archive tried to escape the extraction
	// root or contains entries that are not plain files or directories.
	ErrUnsafeArchive = errors.New("archive contains unsafe entries")
)

// Fetcher validates and fetches scan sources.
type Fetcher struct {
	cfg config.IngestConfig
}

// NewFetcher returns a Fetcher using cfg for credentials and bounds.
func NewFetcher(cfg config.IngestConfig) *Fetcher {
	return &Fetcher{cfg: cfg}
}

// Validate checks the source descriptor before a job is admitted.
// Git URLs on known hosts get an API reachability and size check;
// elsewhere validation degrades to a syntax check. Archives are
// checked for existence and compressed size.
func (f *Fetcher) Validate(ctx context.Context, src models.SourceInfo) error {
	switch src.Kind {
	case models.SourceGit:
		u, err := url.Parse(src.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid git URL %q", src.URL)
		}
		if u.Scheme != "https" && u.Scheme != "http" {
			return fmt.Errorf("unsupported git URL scheme %q", u.Scheme)
		}
		if isGitHubHost(u.Host, f.cfg.GitHub) {
			return f.validateGitHub(ctx, u)
		}
		if isGitLabHost(u.Host, f.cfg.GitLab) {
			return f.validateGitLab(ctx, u)
		}
		// Unknown host: nothing more we can check cheaply.
		return nil

	case models.SourceArchive:
		info, err := os.Stat(src.ArchivePath)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrUnreachable, src.ArchivePath)
		}
		if f.cfg.MaxArchiveBytes > 0 && info.Size() > f.cfg.MaxArchiveBytes {
			return fmt.Errorf("%w: archive is %d bytes", ErrTooLarge, info.Size())
		}
		return nil

	default:
		return fmt.Errorf("unknown source kind %q", src.Kind)
	}
}

// Fetch materializes src into dest and returns a SourceInfo with the
// resolved commit (for git sources). dest must not already exist for
// git sources; it is created for archives. On error nothing is left
// behind at dest.
func (f *Fetcher) Fetch(ctx context.Context, src models.SourceInfo, dest string) (models.SourceInfo, error) {
	switch src.Kind {
	case models.SourceGit:
		resolved, err := f.clone(ctx, src, dest)
		if err != nil {
			os.RemoveAll(dest)
			return src, err
		}
		return resolved, nil

	case models.SourceArchive:
		if err := os.MkdirAll(dest, 0o700); err != nil {
			return src, fmt.Errorf("creating workspace: %w", err)
		}
		if err := extractZip(src.ArchivePath, dest, f.cfg.MaxArchiveBytes); err != nil {
			os.RemoveAll(dest)
			return src, err
		}
		return src, nil

	default:
		return src, fmt.Errorf("unknown source kind %q", src.Kind)
	}
}
