package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/CosmoTheDev/scanpipe/models"
)

// BanditAdapter runs bandit for Python SAST.
type BanditAdapter struct{}

func (b *BanditAdapter) Name() string { return "bandit" }

// Detect returns true when the workspace contains at least one .py file.
func (b *BanditAdapter) Detect(workspace string) bool {
	found := false
	filepath.WalkDir(workspace, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".py") {
			found = true
			return filepath.SkipAll
		}
		return nil
	})
	return found
}

// banditOutput mirrors the bandit JSON output schema.
type banditOutput struct {
	Results []struct {
		TestID      string `json:"test_id"`
		TestName    string `json:"test_name"`
		IssueText   string `json:"issue_text"`
		Severity    string `json:"issue_severity"`
		Confidence  string `json:"issue_confidence"`
		Filename    string `json:"filename"`
		LineNumber  int    `json:"line_number"`
		MoreInfo    string `json:"more_info"`
		CodeSnippet string `json:"code"`
	} `json:"results"`
	Errors []struct {
		Filename string `json:"filename"`
		Reason   string `json:"reason"`
	} `json:"errors"`
}

func (b *BanditAdapter) Run(ctx context.Context, workspace string, opts Options) ([]models.Issue, error) {
	bin := resolveBinary("bandit", opts.BinDir)

	cmd := exec.CommandContext(ctx, bin, "-r", "-f", "json", workspace)
	out, err := cmd.Output()
	if err != nil {
		// bandit exits 1 when it reports issues.
		if !isExitCode(err, 1) {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				slog.Debug("bandit stderr", "output", string(exitErr.Stderr))
			}
			return nil, fmt.Errorf("executing bandit: %w", err)
		}
		if len(out) == 0 {
			return nil, nil
		}
	}

	return b.parse(out, workspace)
}

func (b *BanditAdapter) parse(data []byte, workspace string) ([]models.Issue, error) {
	var output banditOutput
	if err := json.Unmarshal(data, &output); err != nil {
		return nil, fmt.Errorf("parsing bandit output: %w", err)
	}

	for _, e := range output.Errors {
		slog.Warn("bandit could not scan file", "file", e.Filename, "reason", e.Reason)
	}

	issues := make([]models.Issue, 0, len(output.Results))
	for _, r := range output.Results {
		issues = append(issues, models.Issue{
			Tool:       "bandit",
			RuleID:     r.TestID,
			Type:       r.TestName,
			Message:    r.IssueText,
			Severity:   mapBanditSeverity(r.Severity, r.TestID),
			File:       relPath(workspace, r.Filename),
			Line:       r.LineNumber,
			Suggestion: r.MoreInfo,
		})
	}
	return issues, nil
}
