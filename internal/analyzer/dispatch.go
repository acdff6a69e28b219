package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/CosmoTheDev/scanpipe/internal/config"
	"github.com/CosmoTheDev/scanpipe/models"
)

// Dispatcher resolves tool names to adapters and runs them one at a
// time with per-tool isolation: a crash or timeout in one adapter never
// reaches the caller as anything but an error for that tool.
type Dispatcher struct {
	adapters map[string]Adapter
	defaults []string
	binDir   string
	profile  *Profile
}

// NewDispatcher registers the built-in adapters.
func NewDispatcher(cfg config.AnalyzersConfig, profile *Profile) *Dispatcher {
	d := &Dispatcher{
		adapters: make(map[string]Adapter),
		defaults: cfg.Default,
		binDir:   cfg.BinDir,
		profile:  profile,
	}
	for _, a := range []Adapter{&SemgrepAdapter{}, &BanditAdapter{}, &DepcheckAdapter{}} {
		d.adapters[a.Name()] = a
	}
	return d
}

// Names returns all registered tool names, sorted.
func (d *Dispatcher) Names() []string {
	names := make([]string, 0, len(d.adapters))
	for n := range d.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Defaults returns the configured default tool set.
func (d *Dispatcher) Defaults() []string {
	return append([]string(nil), d.defaults...)
}

// Resolve expands an empty request to the default set and rejects
// unknown tool names.
func (d *Dispatcher) Resolve(requested []string) ([]string, error) {
	if len(requested) == 0 {
		requested = d.defaults
	}
	out := make([]string, 0, len(requested))
	for _, name := range requested {
		if _, ok := d.adapters[name]; !ok {
			return nil, fmt.Errorf("unknown tool %q (known: %v)", name, d.Names())
		}
		out = append(out, name)
	}
	return out, nil
}

// Applicable partitions tools into those whose Detect matches the
// workspace and those with nothing to scan.
func (d *Dispatcher) Applicable(workspace string, tools []string) (run, skipped []string) {
	for _, name := range tools {
		a, ok := d.adapters[name]
		if !ok {
			continue
		}
		if a.Detect(workspace) {
			run = append(run, name)
		} else {
			skipped = append(skipped, name)
		}
	}
	return run, skipped
}

// Available reports whether the tool's binary can actually execute.
func (d *Dispatcher) Available(name string) bool {
	if _, ok := d.adapters[name]; !ok {
		return false
	}
	return isBinaryAvailable(name, d.binDir)
}

// RunTool executes one adapter under a timeout. A panicking adapter is
// converted into an error so it cannot take down the worker.
func (d *Dispatcher) RunTool(ctx context.Context, name, workspace string, timeout time.Duration) (issues []models.Issue, err error) {
	a, ok := d.adapters[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("analyzer panicked", "tool", name, "panic", r)
			issues = nil
			err = fmt.Errorf("tool %s panicked: %v", name, r)
		}
	}()

	start := time.Now()
	issues, err = a.Run(ctx, workspace, Options{
		BinDir: d.binDir,
		Rules:  d.profile.RulesFor(name),
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("tool %s timed out after %s: %w", name, timeout, ctx.Err())
		}
		return nil, err
	}

	slog.Info("Analyzer finished", "tool", name, "issues", len(issues), "duration", time.Since(start).Round(time.Millisecond))
	return issues, nil
}
