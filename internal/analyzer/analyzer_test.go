package analyzer

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/CosmoTheDev/scanpipe/internal/config"
	"github.com/CosmoTheDev/scanpipe/models"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestSemgrepParse(t *testing.T) {
	ws := t.TempDir()
	out := `{
	  "results": [
	    {
	      "check_id": "python.lang.security.audit.sqli.tainted-sql-string",
	      "path": "` + filepath.ToSlash(filepath.Join(ws, "app/db.py")) + `",
	      "start": {"line": 42, "col": 5},
	      "extra": {
	        "message": "User input flows into SQL string",
	        "severity": "WARNING",
	        "fix": "use parameterized queries",
	        "metadata": {"severity": "HIGH", "cwe": "CWE-89", "owasp": ["A03:2021"]}
	      }
	    }
	  ],
	  "errors": []
	}`

	issues, err := (&SemgrepAdapter{}).parse([]byte(out), ws)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("got %d issues, want 1", len(issues))
	}
	got := issues[0]
	if got.File != "app/db.py" {
		t.Errorf("File = %q, want workspace-relative app/db.py", got.File)
	}
	if got.Line != 42 || got.Tool != "semgrep" {
		t.Errorf("unexpected issue: %+v", got)
	}
	// Rule ID contains "sqli": escalated past the metadata HIGH.
	if got.Severity != models.SeverityCritical {
		t.Errorf("Severity = %s, want critical", got.Severity)
	}
	if got.Type != "tainted-sql-string" {
		t.Errorf("Type = %q", got.Type)
	}
	if got.Suggestion != "use parameterized queries" {
		t.Errorf("Suggestion = %q", got.Suggestion)
	}
}

func TestSemgrepStringListTolerance(t *testing.T) {
	for raw, want := range map[string][]string{
		`["a","b"]`: {"a", "b"},
		`"one"`:     {"one"},
		`""`:        nil,
		`null`:      nil,
	} {
		var l semgrepStringList
		if err := l.UnmarshalJSON([]byte(raw)); err != nil {
			t.Errorf("UnmarshalJSON(%s): %v", raw, err)
			continue
		}
		if !reflect.DeepEqual([]string(l), want) {
			t.Errorf("UnmarshalJSON(%s) = %v, want %v", raw, l, want)
		}
	}

	var l semgrepStringList
	if err := l.UnmarshalJSON([]byte(`{"bad":1}`)); err == nil {
		t.Error("UnmarshalJSON(object) = nil, want error")
	}
}

func TestBanditParse(t *testing.T) {
	ws := t.TempDir()
	out := `{
	  "results": [
	    {
	      "test_id": "B602",
	      "test_name": "subprocess_popen_with_shell_equals_true",
	      "issue_text": "subprocess call with shell=True identified",
	      "issue_severity": "HIGH",
	      "issue_confidence": "HIGH",
	      "filename": "` + filepath.ToSlash(filepath.Join(ws, "run.py")) + `",
	      "line_number": 7,
	      "more_info": "https://bandit.readthedocs.io/b602"
	    },
	    {
	      "test_id": "B110",
	      "test_name": "try_except_pass",
	      "issue_text": "Try, Except, Pass detected.",
	      "issue_severity": "LOW",
	      "issue_confidence": "HIGH",
	      "filename": "` + filepath.ToSlash(filepath.Join(ws, "run.py")) + `",
	      "line_number": 20
	    }
	  ],
	  "errors": []
	}`

	issues, err := (&BanditAdapter{}).parse([]byte(out), ws)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(issues) != 2 {
		t.Fatalf("got %d issues, want 2", len(issues))
	}
	if issues[0].Severity != models.SeverityCritical {
		t.Errorf("B602 HIGH severity = %s, want critical", issues[0].Severity)
	}
	if issues[1].Severity != models.SeverityLow {
		t.Errorf("B110 LOW severity = %s, want low", issues[1].Severity)
	}
	if issues[0].File != "run.py" {
		t.Errorf("File = %q, want run.py", issues[0].File)
	}
}

func TestDepcheckParse(t *testing.T) {
	out := `{
	  "advisories": [
	    {
	      "id": "GHSA-abcd-1234",
	      "module": "lodash",
	      "severity": "",
	      "title": "Prototype Pollution",
	      "overview": "Affected versions allow modification of object prototype.",
	      "recommendation": "Upgrade to 4.17.21",
	      "manifest": "package.json"
	    },
	    {
	      "id": "CVE-2026-1111",
	      "module": "pyyaml",
	      "severity": "critical",
	      "title": "Arbitrary code execution on load",
	      "manifest": "requirements.txt"
	    }
	  ]
	}`

	issues, err := (&DepcheckAdapter{}).parse([]byte(out))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(issues) != 2 {
		t.Fatalf("got %d issues, want 2", len(issues))
	}
	if issues[0].Severity != models.SeverityHigh {
		t.Errorf("GHSA with no severity = %s, want high", issues[0].Severity)
	}
	if issues[1].Severity != models.SeverityCritical {
		t.Errorf("critical advisory = %s, want critical", issues[1].Severity)
	}
	if issues[1].File != "requirements.txt" {
		t.Errorf("File = %q, want requirements.txt", issues[1].File)
	}
	if !strings.Contains(issues[0].Message, "lodash") {
		t.Errorf("Message = %q, want module name included", issues[0].Message)
	}
}

func TestDetectApplicable(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "main.go", "package main\n")

	d := NewDispatcher(config.AnalyzersConfig{Default: []string{"semgrep", "bandit", "depcheck"}}, &Profile{})

	run, skipped := d.Applicable(ws, []string{"semgrep", "bandit", "depcheck"})
	if !reflect.DeepEqual(run, []string{"semgrep"}) {
		t.Errorf("run = %v, want [semgrep]", run)
	}
	if !reflect.DeepEqual(skipped, []string{"bandit", "depcheck"}) {
		t.Errorf("skipped = %v, want [bandit depcheck]", skipped)
	}

	// Adding a Python file and a manifest flips both.
	writeFile(t, ws, "scripts/tool.py", "pass\n")
	writeFile(t, ws, "requirements.txt", "flask\n")
	run, skipped = d.Applicable(ws, []string{"semgrep", "bandit", "depcheck"})
	if len(skipped) != 0 {
		t.Errorf("skipped = %v, want none", skipped)
	}
	if len(run) != 3 {
		t.Errorf("run = %v, want all three", run)
	}
}

func TestDispatcherResolve(t *testing.T) {
	d := NewDispatcher(config.AnalyzersConfig{Default: []string{"semgrep", "bandit"}}, &Profile{})

	got, err := d.Resolve(nil)
	if err != nil {
		t.Fatalf("Resolve(nil): %v", err)
	}
	if !reflect.DeepEqual(got, []string{"semgrep", "bandit"}) {
		t.Errorf("Resolve(nil) = %v", got)
	}

	if _, err := d.Resolve([]string{"semgrep", "nessus"}); err == nil {
		t.Error("Resolve(unknown tool) = nil, want error")
	}
}

// panicAdapter stands in for a misbehaving tool integration.
type panicAdapter struct{}

func (p *panicAdapter) Name() string           { return "panicky" }
func (p *panicAdapter) Detect(string) bool     { return true }
func (p *panicAdapter) Run(context.Context, string, Options) ([]models.Issue, error) {
	panic("tool blew up")
}

func TestRunToolIsolatesPanic(t *testing.T) {
	d := NewDispatcher(config.AnalyzersConfig{}, &Profile{})
	d.adapters["panicky"] = &panicAdapter{}

	issues, err := d.RunTool(context.Background(), "panicky", t.TempDir(), time.Second)
	if err == nil {
		t.Fatal("RunTool(panicking adapter) = nil error")
	}
	if issues != nil {
		t.Errorf("issues = %v, want nil", issues)
	}
	if !strings.Contains(err.Error(), "panicked") {
		t.Errorf("error = %v, want panic notice", err)
	}
}

func TestProfileRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	content := `exclude:
  - "*.min.js"
tools:
  semgrep:
    rules:
      - p/security-audit
      - p/owasp-top-ten
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write profile: %v", err)
	}

	p, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if !reflect.DeepEqual(p.RulesFor("semgrep"), []string{"p/security-audit", "p/owasp-top-ten"}) {
		t.Errorf("RulesFor(semgrep) = %v", p.RulesFor("semgrep"))
	}
	if p.RulesFor("bandit") != nil {
		t.Errorf("RulesFor(bandit) = %v, want nil", p.RulesFor("bandit"))
	}
	if !reflect.DeepEqual(p.Exclude, []string{"*.min.js"}) {
		t.Errorf("Exclude = %v", p.Exclude)
	}

	empty, err := LoadProfile("")
	if err != nil || empty == nil {
		t.Fatalf("LoadProfile(\"\") = %v, %v", empty, err)
	}
}
