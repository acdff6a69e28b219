package ingest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// vcsDirs are version-control metadata directories stripped from every
// workspace before analyzers run.
var vcsDirs = map[string]bool{
	".git": true,
	".hg":  true,
	".svn": true,
	".bzr": true,
}

// Sanitize removes VCS metadata and entries matching the exclude glob
// patterns (matched against workspace-relative slash paths).
func Sanitize(root string, exclude []string) error {
	var toRemove []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() && vcsDirs[d.Name()] {
			toRemove = append(toRemove, path)
			return filepath.SkipDir
		}

		for _, pat := range exclude {
			matched, err := filepath.Match(pat, rel)
			if err != nil {
				return fmt.Errorf("bad exclude pattern %q: %w", pat, err)
			}
			if !matched {
				// Also match against the base name so "*.min.js" works at any depth.
				matched, _ = filepath.Match(pat, d.Name())
			}
			if matched {
				toRemove = append(toRemove, path)
				if d.IsDir() {
					return filepath.SkipDir
				}
				break
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walking workspace: %w", err)
	}

	for _, p := range toRemove {
		if err := os.RemoveAll(p); err != nil {
			return fmt.Errorf("removing %s: %w", p, err)
		}
	}
	return nil
}
