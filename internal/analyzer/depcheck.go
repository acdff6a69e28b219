package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/CosmoTheDev/scanpipe/models"
)

// dependencyManifests gate the depcheck adapter: without one of these
// there are no declared dependencies to audit.
var dependencyManifests = []string{
	"package.json",
	"package-lock.json",
	"requirements.txt",
	"Pipfile.lock",
	"poetry.lock",
	"go.mod",
}

// DepcheckAdapter audits declared dependencies against vulnerability
// advisories.
type DepcheckAdapter struct{}

func (d *DepcheckAdapter) Name() string { return "depcheck" }

// Detect returns true when the workspace root carries a dependency manifest.
func (d *DepcheckAdapter) Detect(workspace string) bool {
	for _, m := range dependencyManifests {
		if _, err := os.Stat(filepath.Join(workspace, m)); err == nil {
			return true
		}
	}
	return false
}

// depcheckOutput mirrors the depcheck JSON output schema.
type depcheckOutput struct {
	Advisories []struct {
		ID       string `json:"id"`
		Module   string `json:"module"`
		Severity string `json:"severity"`
		Title    string `json:"title"`
		Overview string `json:"overview"`
		Fix      string `json:"recommendation"`
		Manifest string `json:"manifest"`
	} `json:"advisories"`
}

func (d *DepcheckAdapter) Run(ctx context.Context, workspace string, opts Options) ([]models.Issue, error) {
	bin := resolveBinary("depcheck", opts.BinDir)

	cmd := exec.CommandContext(ctx, bin, "--json", workspace)
	out, err := cmd.Output()
	if err != nil {
		// depcheck exits 1 when advisories match.
		if !isExitCode(err, 1) {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				slog.Debug("depcheck stderr", "output", string(exitErr.Stderr))
			}
			return nil, fmt.Errorf("executing depcheck: %w", err)
		}
		if len(out) == 0 {
			return nil, nil
		}
	}

	return d.parse(out)
}

func (d *DepcheckAdapter) parse(data []byte) ([]models.Issue, error) {
	var output depcheckOutput
	if err := json.Unmarshal(data, &output); err != nil {
		return nil, fmt.Errorf("parsing depcheck output: %w", err)
	}

	issues := make([]models.Issue, 0, len(output.Advisories))
	for _, a := range output.Advisories {
		file := a.Manifest
		if file == "" {
			file = "package.json"
		}
		msg := a.Title
		if a.Module != "" {
			msg = fmt.Sprintf("%s: %s", a.Module, a.Title)
		}
		issues = append(issues, models.Issue{
			Tool:       "depcheck",
			RuleID:     a.ID,
			Type:       "vulnerable_dependency",
			Message:    msg,
			Severity:   mapDepcheckSeverity(a.Severity, a.ID, a.Title+" "+a.Overview),
			File:       file,
			Line:       1,
			Suggestion: a.Fix,
		})
	}
	return issues, nil
}
