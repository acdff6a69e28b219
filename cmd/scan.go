package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/scanpipe/internal/analyzer"
	"github.com/CosmoTheDev/scanpipe/internal/config"
	"github.com/CosmoTheDev/scanpipe/internal/report"
	"github.com/CosmoTheDev/scanpipe/models"
)

var (
	scanTools   []string
	scanTimeout int
)

var scanCmd = &cobra.Command{
	Use:   "scan [path]",
	Short: "Scan a local directory one-shot and print the report as JSON",
	Long: `Runs the configured analyzers against a local directory without the
daemon, aggregates the findings and prints the report to stdout.

Examples:
  scanpipe scan .
  scanpipe scan ~/src/myapp --tools semgrep,bandit
  scanpipe scan ~/src/myapp --timeout 600`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringSliceVar(&scanTools, "tools", nil, "Comma-separated list of tools to run (overrides config)")
	scanCmd.Flags().IntVar(&scanTimeout, "timeout", 0, "Per-tool timeout in seconds (overrides config)")
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	target := "."
	if len(args) == 1 {
		target = args[0]
	}
	workspace, err := filepath.Abs(target)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	if info, err := os.Stat(workspace); err != nil || !info.IsDir() {
		return fmt.Errorf("%s is not a directory", workspace)
	}

	profile, err := analyzer.LoadProfile(cfg.Analyzers.ProfilePath)
	if err != nil {
		return fmt.Errorf("loading analyzer profile: %w", err)
	}
	dispatcher := analyzer.NewDispatcher(cfg.Analyzers, profile)

	tools, err := dispatcher.Resolve(scanTools)
	if err != nil {
		return err
	}
	run, skipped := dispatcher.Applicable(workspace, tools)
	if len(skipped) > 0 {
		fmt.Fprintf(os.Stderr, "skipping (nothing to scan): %v\n", skipped)
	}

	timeout := time.Duration(scanTimeout) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(cfg.Pipeline.ToolTimeoutSeconds) * time.Second
	}

	started := time.Now()
	var issues []models.Issue
	var completed, degraded []string
	for _, tool := range run {
		toolIssues, err := dispatcher.RunTool(ctx, tool, workspace, timeout)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s failed: %v\n", tool, err)
			degraded = append(degraded, tool)
			continue
		}
		issues = append(issues, toolIssues...)
		completed = append(completed, tool)
	}

	res := report.Aggregate(issues)
	rep := models.Report{
		Meta: models.ReportMeta{
			Tools:       completed,
			Degraded:    degraded,
			Source:      models.SourceInfo{Kind: models.SourceArchive, ArchivePath: workspace},
			GeneratedAt: time.Now().UTC(),
			DurationMS:  time.Since(started).Milliseconds(),
		},
		Summary: res.Summary,
		Files:   res.Files,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
