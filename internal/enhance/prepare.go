package enhance

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/CosmoTheDev/scanpipe/models"
)

// preparedIssues is the deterministic provider input built from a report.
type preparedIssues struct {
	Issues []models.Issue
	// Notices records truncation applied while building the set.
	Notices []string
}

// prepareIssues flattens a report into a single severity-ordered issue
// list and applies the per-file and total caps. Ordering is critical
// first, ties broken by file path then line, so the same report always
// yields the same provider input. Caps below 1 mean unlimited.
func prepareIssues(report *models.Report, maxIssues, maxPerFile int) preparedIssues {
	var all []models.Issue
	for _, f := range report.Files {
		all = append(all, f.Issues...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Severity.Weight() != all[j].Severity.Weight() {
			return all[i].Severity.Weight() > all[j].Severity.Weight()
		}
		if all[i].File != all[j].File {
			return all[i].File < all[j].File
		}
		return all[i].Line < all[j].Line
	})

	var out preparedIssues
	perFile := make(map[string]int)
	perFileDropped := 0
	for _, is := range all {
		if maxPerFile > 0 && perFile[is.File] >= maxPerFile {
			perFileDropped++
			continue
		}
		perFile[is.File]++
		out.Issues = append(out.Issues, is)
	}
	if perFileDropped > 0 {
		out.Notices = append(out.Notices,
			fmt.Sprintf("input truncated: dropped %d issues over the per-file cap of %d", perFileDropped, maxPerFile))
	}

	if maxIssues > 0 && len(out.Issues) > maxIssues {
		total := len(out.Issues)
		out.Issues = out.Issues[:maxIssues]
		out.Notices = append(out.Notices,
			fmt.Sprintf("input truncated: kept the %d most severe of %d issues", maxIssues, total))
	}

	return out
}

// retagFixes matches each provider fix back to a source issue by file
// and line, copying the issue's severity and type. Fixes that match no
// source issue are dropped rather than trusted.
func retagFixes(fixes []models.Fix, issues []models.Issue) []models.Fix {
	byLoc := make(map[string]models.Issue, len(issues))
	for _, is := range issues {
		key := fmt.Sprintf("%s:%d", is.File, is.Line)
		if _, ok := byLoc[key]; !ok {
			byLoc[key] = is
		}
	}

	var out []models.Fix
	for _, f := range fixes {
		src, ok := byLoc[fmt.Sprintf("%s:%d", f.File, f.Line)]
		if !ok {
			continue
		}
		f.Severity = src.Severity
		f.VulnerabilityType = src.Type
		out = append(out, f)
	}
	return out
}

// bucket partitions fixes by severity and recommendations by priority.
// Every element lands in exactly one bucket; empty buckets are omitted.
func bucket(fixes []models.Fix, recs []models.Recommendation) (map[models.Severity][]models.Fix, map[models.Priority][]models.Recommendation) {
	var bySev map[models.Severity][]models.Fix
	if len(fixes) > 0 {
		bySev = make(map[models.Severity][]models.Fix)
		for _, f := range fixes {
			bySev[f.Severity] = append(bySev[f.Severity], f)
		}
	}

	var byPrio map[models.Priority][]models.Recommendation
	if len(recs) > 0 {
		byPrio = make(map[models.Priority][]models.Recommendation)
		for _, r := range recs {
			p := r.Priority
			if !p.Valid() {
				p = models.PriorityMedium
			}
			byPrio[p] = append(byPrio[p], r)
		}
	}

	return bySev, byPrio
}

// collectExcerpts reads source excerpts for the files referenced by the
// prepared issues, when the job's workspace still exists. Each excerpt
// is capped at MaxFileBytes; missing files are silently skipped since
// the workspace may already have been cleaned up.
func (c *Coordinator) collectExcerpts(jobID string, issues []models.Issue) (map[string]string, []string) {
	workDir := c.artifacts.WorkDir(jobID)
	if info, err := os.Stat(workDir); err != nil || !info.IsDir() {
		return nil, nil
	}

	maxBytes := c.cfg.MaxFileBytes
	if maxBytes <= 0 {
		maxBytes = 32 * 1024
	}

	excerpts := make(map[string]string)
	truncated := 0
	for _, is := range issues {
		if _, ok := excerpts[is.File]; ok {
			continue
		}
		path := filepath.Join(workDir, filepath.FromSlash(is.File))
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if len(data) > maxBytes {
			data = data[:maxBytes]
			truncated++
		}
		excerpts[is.File] = string(data)
	}

	if len(excerpts) == 0 {
		return nil, nil
	}
	var notices []string
	if truncated > 0 {
		notices = append(notices, fmt.Sprintf("input truncated: %d file excerpts capped at %d bytes", truncated, maxBytes))
	}
	return excerpts, notices
}
