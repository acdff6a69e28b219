// Package report merges normalized analyzer output into the final
// report body: deduplicated, deterministically ordered, with a
// recomputed severity summary.
package report

import (
	"log/slog"
	"sort"

	"github.com/CosmoTheDev/scanpipe/models"
)

// Result is the merged output of one aggregation pass.
type Result struct {
	Files   []models.FileReport
	Summary models.Summary
	// Malformed counts issues dropped for missing file or tool fields.
	Malformed int
}

type dedupeKey struct {
	file string
	line int
	rule string
	tool string
}

// Aggregate merges issues from all tools. Two issues are duplicates
// only when file, line, rule ID and tool all match; the same location
// flagged by different tools is kept once per tool. Files are ordered
// by path, issues within a file by severity (most severe first), then
// line, then tool. The summary is recomputed from the merged set.
func Aggregate(issues []models.Issue) Result {
	seen := make(map[dedupeKey]bool, len(issues))
	byFile := make(map[string][]models.Issue)
	var res Result

	for _, issue := range issues {
		if issue.File == "" || issue.Tool == "" {
			res.Malformed++
			slog.Warn("Dropping malformed issue", "tool", issue.Tool, "rule", issue.RuleID, "file", issue.File)
			continue
		}
		key := dedupeKey{file: issue.File, line: issue.Line, rule: issue.RuleID, tool: issue.Tool}
		if seen[key] {
			continue
		}
		seen[key] = true
		byFile[issue.File] = append(byFile[issue.File], issue)
		res.Summary.Add(issue.Severity)
	}

	paths := make([]string, 0, len(byFile))
	for p := range byFile {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	res.Files = make([]models.FileReport, 0, len(paths))
	for _, p := range paths {
		fileIssues := byFile[p]
		sort.SliceStable(fileIssues, func(i, j int) bool {
			a, b := fileIssues[i], fileIssues[j]
			if a.Severity.Weight() != b.Severity.Weight() {
				return a.Severity.Weight() > b.Severity.Weight()
			}
			if a.Line != b.Line {
				return a.Line < b.Line
			}
			return a.Tool < b.Tool
		})
		res.Files = append(res.Files, models.FileReport{Path: p, Issues: fileIssues})
	}
	return res
}
