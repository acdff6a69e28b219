package ai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/CosmoTheDev/scanpipe/models"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"summary":"ok"}`, `{"summary":"ok"}`},
		{"fenced", "```json\n{\"summary\":\"ok\"}\n```", `{"summary":"ok"}`},
		{"fenced no lang", "```\n{\"summary\":\"ok\"}\n```", `{"summary":"ok"}`},
		{"surrounding whitespace", "  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractJSON(tt.in); got != tt.want {
				t.Errorf("extractJSON(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDecodeAnalysis(t *testing.T) {
	resp := `{
		"summary": "Two injection flaws dominate the risk profile.",
		"fixes": [
			{
				"file": "app/db.py",
				"line_number": 42,
				"vulnerability_type": "sql_injection",
				"severity": "critical",
				"root_cause": "string concatenation into SQL",
				"security_impact": "full database read",
				"original_code": "cur.execute(q + name)",
				"fixed_code": "cur.execute(q, (name,))",
				"explanation": "Use a parameterized query."
			},
			{
				"file": "",
				"line_number": 0,
				"fixed_code": "whatever",
				"explanation": "no location, must be dropped"
			},
			{
				"file": "app/util.py",
				"line_number": 7,
				"fixed_code": "",
				"explanation": ""
			}
		],
		"recommendations": [
			{"title": "Add CI scanning", "description": "Run scans on every push.", "priority": "HIGH"},
			{"title": "", "description": "dropped", "priority": "low"},
			{"title": "Pin dependencies", "description": "Lockfiles everywhere.", "priority": "someday"}
		]
	}`

	got, err := decodeAnalysis(resp)
	if err != nil {
		t.Fatalf("decodeAnalysis: %v", err)
	}
	if len(got.Fixes) != 1 {
		t.Fatalf("expected 1 surviving fix, got %d", len(got.Fixes))
	}
	fix := got.Fixes[0]
	if fix.File != "app/db.py" || fix.Line != 42 {
		t.Errorf("fix location = %s:%d, want app/db.py:42", fix.File, fix.Line)
	}
	if fix.FixedCode != "cur.execute(q, (name,))" {
		t.Errorf("unexpected fixed code: %q", fix.FixedCode)
	}
	if len(got.Recommendations) != 2 {
		t.Fatalf("expected 2 recommendations, got %d", len(got.Recommendations))
	}
	if got.Recommendations[0].Priority != models.PriorityHigh {
		t.Errorf("priority not normalized: %q", got.Recommendations[0].Priority)
	}
	if got.Recommendations[1].Priority != models.PriorityMedium {
		t.Errorf("unknown priority should default to medium, got %q", got.Recommendations[1].Priority)
	}
}

func TestDecodeAnalysisMalformed(t *testing.T) {
	if _, err := decodeAnalysis("I could not find any issues, sorry!"); err == nil {
		t.Fatal("expected error for non-JSON response")
	}
}

func TestDecodeAnalysisFenced(t *testing.T) {
	resp := "```json\n{\"summary\":\"fine\",\"fixes\":[],\"recommendations\":[]}\n```"
	got, err := decodeAnalysis(resp)
	if err != nil {
		t.Fatalf("decodeAnalysis: %v", err)
	}
	if got.Summary != "fine" {
		t.Errorf("summary = %q", got.Summary)
	}
}

// stubProvider lets the chain tests script per-provider behavior.
type stubProvider struct {
	name      string
	err       error
	calls     int
	available bool
}

func (s *stubProvider) Name() string                         { return s.name }
func (s *stubProvider) IsAvailable(ctx context.Context) bool { return s.available }

func (s *stubProvider) AnalyzeIssues(ctx context.Context, req Request) (*Analysis, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &Analysis{Summary: "from " + s.name}, nil
}

func TestChainFailover(t *testing.T) {
	first := &stubProvider{name: "first", err: errors.New("API error 500: upstream exploded")}
	second := &stubProvider{name: "second"}
	chain := NewChain([]Provider{first, second})

	got, err := chain.AnalyzeIssues(context.Background(), Request{})
	if err != nil {
		t.Fatalf("AnalyzeIssues: %v", err)
	}
	if got.Summary != "from second" {
		t.Errorf("expected fallback result, got %q", got.Summary)
	}
	if first.calls != 1 || second.calls != 1 {
		t.Errorf("calls = %d/%d, want 1/1", first.calls, second.calls)
	}

	current, fallback := chain.CurrentProvider()
	if current != "second" || !fallback {
		t.Errorf("CurrentProvider() = %q/%v, want second/true", current, fallback)
	}
}

func TestChainAllFail(t *testing.T) {
	first := &stubProvider{name: "first", err: errors.New("API error 500: boom")}
	second := &stubProvider{name: "second", err: errors.New("API error 503: down")}
	chain := NewChain([]Provider{first, second})

	_, err := chain.AnalyzeIssues(context.Background(), Request{})
	if err == nil {
		t.Fatal("expected error when every provider fails")
	}
	if !strings.Contains(err.Error(), "all AI providers failed") {
		t.Errorf("unexpected error: %v", err)
	}
	if !errors.Is(err, second.err) {
		t.Errorf("last provider error should be wrapped, got %v", err)
	}
}

func TestChainAuthErrorOpensCircuit(t *testing.T) {
	first := &stubProvider{name: "first", err: errors.New("API error 401: bad key")}
	second := &stubProvider{name: "second"}
	chain := NewChain([]Provider{first, second})

	for i := 0; i < 2; i++ {
		if _, err := chain.AnalyzeIssues(context.Background(), Request{}); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	// The auth error opens the circuit on the first call, so the second
	// call must skip the failing provider entirely.
	if first.calls != 1 {
		t.Errorf("first provider called %d times, want 1", first.calls)
	}
	if second.calls != 2 {
		t.Errorf("second provider called %d times, want 2", second.calls)
	}
}

func TestChainCircuitOpensAfterRepeatedFailures(t *testing.T) {
	first := &stubProvider{name: "first", err: errors.New("API error 500: flaky")}
	second := &stubProvider{name: "second"}
	chain := NewChain([]Provider{first, second})

	for i := 0; i < failureThreshold+1; i++ {
		if _, err := chain.AnalyzeIssues(context.Background(), Request{}); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if first.calls != failureThreshold {
		t.Errorf("first provider called %d times, want %d", first.calls, failureThreshold)
	}
}

func TestIsRetriableError(t *testing.T) {
	tests := []struct {
		err  string
		want bool
	}{
		{"OpenAI API error 429: rate limited", true},
		{"OpenAI API error 500: internal", true},
		{"Anthropic API error 503: overloaded", true},
		{"calling OpenAI API: dial tcp: connection refused", true},
		{"OpenAI API error 401: invalid key", false},
		{"OpenAI API error 403: forbidden", false},
		{"OpenAI API error 400: bad request", false},
		{"malformed provider response: invalid character", true},
	}
	for _, tt := range tests {
		if got := isRetriableError(errors.New(tt.err)); got != tt.want {
			t.Errorf("isRetriableError(%q) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestOpenAIRetryDelay(t *testing.T) {
	if d := openAIRetryDelay("3", "", 1); d.Seconds() != 3 {
		t.Errorf("Retry-After header: got %v, want 3s", d)
	}
	if d := openAIRetryDelay("", "Rate limit reached. Please try again in 750ms.", 1); d.Milliseconds() != 750 {
		t.Errorf("body ms hint: got %v, want 750ms", d)
	}
	if d := openAIRetryDelay("", "Please try again in 2s.", 1); d.Seconds() != 2 {
		t.Errorf("body s hint: got %v, want 2s", d)
	}
	if d := openAIRetryDelay("", "", 2); d <= 0 || d > 8e9 {
		t.Errorf("fallback delay out of range: %v", d)
	}
}

func TestNoopProvider(t *testing.T) {
	n := &NoopProvider{}
	if n.IsAvailable(context.Background()) {
		t.Error("noop provider must report unavailable")
	}
	if _, err := n.AnalyzeIssues(context.Background(), Request{}); !errors.Is(err, errNoAI) {
		t.Errorf("expected errNoAI, got %v", err)
	}
}
