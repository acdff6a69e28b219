package analyzer

import (
	"bytes"
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

// semgrepStringList tolerates schema drift where fields may be a
// string, array of strings, null, or omitted.
type semgrepStringList []string

func (l *semgrepStringList) UnmarshalJSON(data []byte) error {
	if l == nil {
		return nil
	}
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*l = arr
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if one == "" {
			*l = nil
		} else {
			*l = []string{one}
		}
		return nil
	}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*l = nil
		return nil
	}
	return fmt.Errorf("unsupported string-list JSON shape: %s", string(data))
}

// SemgrepAdapter runs semgrep for multi-language SAST.
type SemgrepAdapter struct{}

func (s *SemgrepAdapter) Name() string { return "semgrep" }

// Detect returns true when the workspace has any regular files at all;
// semgrep covers enough languages that file-type gating is pointless.
func (s *SemgrepAdapter) Detect(workspace string) bool {
	found := false
	filepath.WalkDir(workspace, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			found = true
			return filepath.SkipAll
		}
		return nil
	})
	return found
}

// semgrepOutput mirrors the semgrep JSON output schema.
type semgrepOutput struct {
	Results []struct {
		CheckID string `json:"check_id"`
		Path    string `json:"path"`
		Start   struct {
			Line int `json:"line"`
			Col  int `json:"col"`
		} `json:"start"`
		Extra struct {
			Message  string `json:"message"`
			Severity string `json:"severity"`
			Fix      string `json:"fix"`
			Metadata struct {
				Severity string            `json:"severity"`
				Category string            `json:"category"`
				CWE      semgrepStringList `json:"cwe"`
				OWASP    semgrepStringList `json:"owasp"`
			} `json:"metadata"`
		} `json:"extra"`
	} `json:"results"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (s *SemgrepAdapter) Run(ctx context.Context, workspace string, opts Options) ([]models.Issue, error) {
	bin := resolveBinary("semgrep", opts.BinDir)

	args := []string{"scan", "--json", "--quiet"}
	if len(opts.Rules) == 0 {
		args = append(args, "--config", "auto")
	}
	for _, r := range opts.Rules {
		args = append(args, "--config", r)
	}
	args = append(args, workspace)

	cmd := exec.CommandContext(ctx, bin, args...)
	out, err := cmd.Output()
	if err != nil {
		// semgrep exits 1 when findings are present; that's not a failure.
		if !isExitCode(err, 1) {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				slog.Debug("semgrep stderr", "output", string(exitErr.Stderr))
			}
			return nil, fmt.Errorf("executing semgrep: %w", err)
		}
		if len(out) == 0 {
			return nil, nil
		}
	}

	return s.parse(out, workspace)
}

func (s *SemgrepAdapter) parse(data []byte, workspace string) ([]models.Issue, error) {
	var output semgrepOutput
	if err := json.Unmarshal(data, &output); err != nil {
		return nil, fmt.Errorf("parsing semgrep output: %w", err)
	}

	issues := make([]models.Issue, 0, len(output.Results))
	for _, r := range output.Results {
		issues = append(issues, models.Issue{
			Tool:       "semgrep",
			RuleID:     r.CheckID,
			Type:       ruleType(r.CheckID),
			Message:    r.Extra.Message,
			Severity:   mapSemgrepSeverity(r.Extra.Metadata.Severity, r.Extra.Severity, r.CheckID),
			File:       relPath(workspace, r.Path),
			Line:       r.Start.Line,
			Suggestion: r.Extra.Fix,
		})
	}
	return issues, nil
}

// ruleType derives a short issue type from the last rule-ID segment.
func ruleType(ruleID string) string {
	if idx := strings.LastIndex(ruleID, "."); idx >= 0 {
		return ruleID[idx+1:]
	}
	return ruleID
}

// relPath normalizes tool-reported paths to workspace-relative slash form.
func relPath(workspace, path string) string {
	if rel, err := filepath.Rel(workspace, path); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(path)
}
