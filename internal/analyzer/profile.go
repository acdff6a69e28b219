package analyzer

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"
)

// Profile is the optional YAML ruleset profile tuning what each adapter
// scans. Example:
//
//	exclude:
//	  - "*.min.js"
//	  - dist
//	tools:
//	  semgrep:
//	    rules: [p/security-audit, p/owasp-top-ten]
type Profile struct {
	// Exclude patterns applied during workspace sanitization.
	Exclude []string               `yaml:"exclude"`
	Tools   map[string]ToolProfile `yaml:"tools"`
}

// ToolProfile is the per-tool section of a profile.
type ToolProfile struct {
	Rules []string `yaml:"rules"`
}

// LoadProfile reads a YAML profile. An empty path returns an empty
// profile so callers don't branch.
func LoadProfile(path string) (*Profile, error) {
	if path == "" {
		return &Profile{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile %s: %w", path, err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing profile %s: %w", path, err)
	}
	return &p, nil
}

// RulesFor returns the configured rulesets for tool, or nil.
func (p *Profile) RulesFor(tool string) []string {
	if p == nil || p.Tools == nil {
		return nil
	}
	return p.Tools[tool].Rules
}
