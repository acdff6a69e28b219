// Package analyzer wraps external static-analysis tools behind a common
// adapter contract and normalizes their findings into models.Issue.
package analyzer

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/CosmoTheDev/scanpipe/models"
)

// Adapter is the contract every tool integration implements. Adapters
// treat the workspace as read-only and must return partial results via
// error only; they never mutate shared state.
type Adapter interface {
	// Name is the stable tool identifier used in requests and reports.
	Name() string

	// Detect reports whether the workspace contains anything this tool
	// can usefully scan.
	Detect(workspace string) bool

	// Run executes the tool against workspace and returns normalized
	// issues. The context carries the per-tool timeout.
	Run(ctx context.Context, workspace string, opts Options) ([]models.Issue, error)
}

// Options carries per-run adapter settings.
type Options struct {
	// BinDir is checked for the tool binary before PATH.
	BinDir string
	// Rules lists ruleset references from the active profile.
	Rules []string
}

// resolveBinary prefers a binary in binDir over PATH lookup.
func resolveBinary(name, binDir string) string {
	if binDir != "" {
		p := filepath.Join(binDir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return name
}

// isBinaryAvailable reports whether the tool can be executed at all.
func isBinaryAvailable(name, binDir string) bool {
	_, err := exec.LookPath(resolveBinary(name, binDir))
	return err == nil
}

// isExitCode reports whether err is an *exec.ExitError with the given code.
func isExitCode(err error, code int) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode() == code
}
