package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/CosmoTheDev/scanpipe/internal/ai"
	"github.com/CosmoTheDev/scanpipe/internal/analyzer"
	"github.com/CosmoTheDev/scanpipe/internal/config"
	"github.com/CosmoTheDev/scanpipe/internal/database"
	"github.com/CosmoTheDev/scanpipe/internal/enhance"
	"github.com/CosmoTheDev/scanpipe/internal/events"
	"github.com/CosmoTheDev/scanpipe/internal/pipeline"
	"github.com/CosmoTheDev/scanpipe/internal/store"
	"github.com/CosmoTheDev/scanpipe/models"
)

type stubFetcher struct{}

func (stubFetcher) Validate(ctx context.Context, src models.SourceInfo) error {
	if src.Kind != models.SourceGit && src.Kind != models.SourceArchive {
		return errors.New("unknown source kind")
	}
	return nil
}

func (stubFetcher) Fetch(ctx context.Context, src models.SourceInfo, dest string) (models.SourceInfo, error) {
	if err := os.MkdirAll(dest, 0o700); err != nil {
		return src, err
	}
	if err := os.WriteFile(filepath.Join(dest, "app.py"), []byte("x = eval(input())\n"), 0o600); err != nil {
		return src, err
	}
	return src, nil
}

type stubRunner struct{}

func (stubRunner) Resolve(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return []string{"semgrep"}, nil
	}
	for _, t := range requested {
		if t != "semgrep" && t != "bandit" && t != "depcheck" {
			return nil, errors.New("unknown tool " + t)
		}
	}
	return requested, nil
}

func (stubRunner) Applicable(workspace string, tools []string) (run, skipped []string) {
	return tools, nil
}

func (stubRunner) RunTool(ctx context.Context, name, workspace string, timeout time.Duration) ([]models.Issue, error) {
	return []models.Issue{
		{Tool: name, RuleID: "eval-detected", Type: "code_injection", Severity: models.SeverityCritical, File: "app.py", Line: 1, Message: "eval on user input"},
	}, nil
}

type availableProvider struct {
	analysis *ai.Analysis
}

// toggleProvider flips availability mid-test via the shared flag.
type toggleProvider struct {
	available *bool
	analysis  *ai.Analysis
}

func (toggleProvider) Name() string { return "toggle" }

func (p toggleProvider) IsAvailable(ctx context.Context) bool { return *p.available }

func (p toggleProvider) AnalyzeIssues(ctx context.Context, req ai.Request) (*ai.Analysis, error) {
	if p.analysis != nil {
		return p.analysis, nil
	}
	return &ai.Analysis{Summary: "stubbed"}, nil
}

func (availableProvider) Name() string                         { return "fake" }
func (availableProvider) IsAvailable(ctx context.Context) bool { return true }

func (p availableProvider) AnalyzeIssues(ctx context.Context, req ai.Request) (*ai.Analysis, error) {
	if p.analysis != nil {
		return p.analysis, nil
	}
	return &ai.Analysis{Summary: "stubbed"}, nil
}

type testGateway struct {
	gw       *Gateway
	jobs     *store.JobStore
	pipe     *pipeline.Pipeline
	enhancer *enhance.Coordinator
	cancel   context.CancelFunc
}

func newTestGateway(t *testing.T, provider ai.Provider) *testGateway {
	t.Helper()
	dir := t.TempDir()

	db, err := database.NewSQLite(config.DatabaseConfig{Path: filepath.Join(dir, "index.db")})
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	index := database.NewIndex(db)

	artifacts, err := store.NewArtifacts(filepath.Join(dir, "data"))
	if err != nil {
		t.Fatalf("NewArtifacts: %v", err)
	}

	jobs := store.NewJobStore()
	pub := events.NewPublisher()

	pipeCfg := config.PipelineConfig{Workers: 1, QueueDepth: 8, ToolTimeoutSeconds: 30}
	pipe := pipeline.New(pipeCfg, stubFetcher{}, stubRunner{}, jobs, artifacts, index, pub, nil)

	if provider == nil {
		provider = &ai.NoopProvider{}
	}
	enhancer := enhance.NewCoordinator(config.EnhanceConfig{
		Workers: 1, MinSeverity: "low", TimeoutSeconds: 10, MaxIssues: 50, MaxIssuesPerFile: 10,
	}, provider, artifacts, pub)

	dispatcher := analyzer.NewDispatcher(config.AnalyzersConfig{Default: []string{"semgrep", "bandit", "depcheck"}}, &analyzer.Profile{})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	pipe.Start(ctx)

	return &testGateway{
		gw:       New(config.ServerConfig{}, pipe, jobs, artifacts, index, pub, enhancer, dispatcher),
		jobs:     jobs,
		pipe:     pipe,
		enhancer: enhancer,
		cancel:   cancel,
	}
}

func doRequest(gw *Gateway, method, path, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	buildHandler(gw).ServeHTTP(rr, req)
	return rr
}

func submitAndWait(t *testing.T, tg *testGateway) string {
	t.Helper()
	rr := doRequest(tg.gw, http.MethodPost, "/analyze",
		`{"source":{"kind":"git","url":"https://github.com/acme/app"},"tools":["semgrep"]}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("POST /analyze = %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if job := tg.jobs.Get(resp.JobID); job != nil && job.Status.Terminal() {
			if job.Status != models.JobCompleted {
				t.Fatalf("job ended %s: %s", job.Status, job.Error)
			}
			return resp.JobID
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job did not finish")
	return ""
}

func TestAnalyzeAndFetchReport(t *testing.T) {
	tg := newTestGateway(t, nil)
	id := submitAndWait(t, tg)

	rr := doRequest(tg.gw, http.MethodGet, "/jobs/"+id, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /jobs/{id} = %d: %s", rr.Code, rr.Body.String())
	}
	var job models.Job
	if err := json.NewDecoder(rr.Body).Decode(&job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.Progress.Percent != 100 {
		t.Errorf("progress = %d, want 100", job.Progress.Percent)
	}

	rr = doRequest(tg.gw, http.MethodGet, "/reports/"+id, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /reports/{id} = %d: %s", rr.Code, rr.Body.String())
	}
	var rep models.Report
	if err := json.NewDecoder(rr.Body).Decode(&rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if rep.Summary.Critical != 1 {
		t.Errorf("summary critical = %d, want 1", rep.Summary.Critical)
	}

	rr = doRequest(tg.gw, http.MethodGet, "/reports/"+id+"/summary", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET summary = %d", rr.Code)
	}

	// The index row is written just after the terminal status flips.
	time.Sleep(50 * time.Millisecond)
	rr = doRequest(tg.gw, http.MethodGet, "/reports?status=completed", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /reports = %d: %s", rr.Code, rr.Body.String())
	}
	var list reportList
	if err := json.NewDecoder(rr.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Total != 1 || len(list.Items) != 1 || list.Items[0].ID != id {
		t.Errorf("report list = total %d items %d", list.Total, len(list.Items))
	}
}

func TestUnknownJobIs404WithEnvelope(t *testing.T) {
	tg := newTestGateway(t, nil)

	rr := doRequest(tg.gw, http.MethodGet, "/jobs/nope", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	var resp struct {
		Error apiError `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if resp.Error.Code != "not_found" || resp.Error.Message == "" {
		t.Errorf("envelope = %+v", resp.Error)
	}
}

func TestAnalyzeRejectsBadRequests(t *testing.T) {
	tg := newTestGateway(t, nil)

	rr := doRequest(tg.gw, http.MethodPost, "/analyze", `{not json`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("malformed body = %d, want 400", rr.Code)
	}

	rr = doRequest(tg.gw, http.MethodPost, "/analyze", `{"tools":["semgrep"]}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing source = %d, want 400", rr.Code)
	}

	rr = doRequest(tg.gw, http.MethodPost, "/analyze",
		`{"source":{"kind":"git","url":"https://github.com/acme/app"},"tools":["nessus"]}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("unknown tool = %d, want 400", rr.Code)
	}
}

func TestReportWhileRunningIs409(t *testing.T) {
	tg := newTestGateway(t, nil)

	tg.jobs.Put(&models.Job{
		ID:          "running-job",
		Status:      models.JobRunning,
		SubmittedAt: time.Now(),
	})

	rr := doRequest(tg.gw, http.MethodGet, "/reports/running-job", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "not_ready") {
		t.Errorf("body missing not_ready code: %s", rr.Body.String())
	}
}

func TestCancelSemantics(t *testing.T) {
	tg := newTestGateway(t, nil)
	id := submitAndWait(t, tg)

	// Terminal jobs cannot be canceled.
	rr := doRequest(tg.gw, http.MethodDelete, "/jobs/"+id, "")
	if rr.Code != http.StatusConflict {
		t.Errorf("cancel of completed job = %d, want 409", rr.Code)
	}

	rr = doRequest(tg.gw, http.MethodDelete, "/jobs/missing", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("cancel of unknown job = %d, want 404", rr.Code)
	}
}

func TestEnhanceUnavailableWithoutProvider(t *testing.T) {
	tg := newTestGateway(t, nil) // noop provider
	id := submitAndWait(t, tg)

	rr := doRequest(tg.gw, http.MethodPost, "/reports/"+id+"/enhance", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "ai_unavailable") {
		t.Errorf("body missing ai_unavailable code: %s", rr.Body.String())
	}
}

func TestEnhanceFlow(t *testing.T) {
	tg := newTestGateway(t, availableProvider{analysis: &ai.Analysis{
		Summary: "critical injection",
		Fixes: []models.Fix{
			{File: "app.py", Line: 1, FixedCode: "ast.literal_eval(input())", Explanation: "avoid eval"},
		},
	}})
	id := submitAndWait(t, tg)

	// Before any trigger, the enhanced report does not exist.
	rr := doRequest(tg.gw, http.MethodGet, "/reports/"+id+"/enhanced", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("pre-trigger enhanced = %d, want 404", rr.Code)
	}

	rr = doRequest(tg.gw, http.MethodPost, "/reports/"+id+"/enhance", "")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("trigger = %d: %s", rr.Code, rr.Body.String())
	}
	tg.enhancer.Wait()

	rr = doRequest(tg.gw, http.MethodGet, "/reports/"+id+"/enhanced", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("enhanced = %d: %s", rr.Code, rr.Body.String())
	}
	var enhanced models.EnhancedReport
	if err := json.NewDecoder(rr.Body).Decode(&enhanced); err != nil {
		t.Fatalf("decode enhanced: %v", err)
	}
	if enhanced.AIAnalysis.Status != models.EnhanceComplete {
		t.Errorf("status = %s, want complete", enhanced.AIAnalysis.Status)
	}
	if len(enhanced.AIAnalysis.Fixes) != 1 || enhanced.AIAnalysis.Fixes[0].Severity != models.SeverityCritical {
		t.Errorf("fix not re-tagged: %+v", enhanced.AIAnalysis.Fixes)
	}
}

func TestRetriggerCompleteWithoutProvider(t *testing.T) {
	avail := true
	tg := newTestGateway(t, toggleProvider{available: &avail, analysis: &ai.Analysis{Summary: "done"}})
	id := submitAndWait(t, tg)

	rr := doRequest(tg.gw, http.MethodPost, "/reports/"+id+"/enhance", "")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("trigger = %d: %s", rr.Code, rr.Body.String())
	}
	tg.enhancer.Wait()

	// The completed pass is served from cache; losing the provider
	// afterwards must not turn retriggers into 503s.
	avail = false

	rr = doRequest(tg.gw, http.MethodPost, "/reports/"+id+"/enhance", "")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("retrigger = %d, want 202: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), string(models.EnhanceComplete)) {
		t.Errorf("retrigger body = %s, want cached complete status", rr.Body.String())
	}

	rr = doRequest(tg.gw, http.MethodGet, "/reports/"+id+"/enhanced", "")
	if rr.Code != http.StatusOK {
		t.Errorf("enhanced after provider loss = %d, want 200", rr.Code)
	}
}

func TestToolsAndHealth(t *testing.T) {
	tg := newTestGateway(t, nil)

	rr := doRequest(tg.gw, http.MethodGet, "/tools", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /tools = %d", rr.Code)
	}
	var resp struct {
		Tools []toolInfo `json:"tools"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode tools: %v", err)
	}
	names := make(map[string]bool)
	for _, ti := range resp.Tools {
		names[ti.Name] = true
	}
	for _, want := range []string{"semgrep", "bandit", "depcheck"} {
		if !names[want] {
			t.Errorf("tool %s missing from listing", want)
		}
	}

	rr = doRequest(tg.gw, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"status":"ok"`) {
		t.Errorf("health body: %s", rr.Body.String())
	}
}

func TestEventsStream(t *testing.T) {
	tg := newTestGateway(t, nil)

	tg.jobs.Put(&models.Job{
		ID:          "sse-job",
		Status:      models.JobRunning,
		SubmittedAt: time.Now(),
	})

	ts := httptest.NewServer(buildHandler(tg.gw))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/events/sse-job")
	if err != nil {
		t.Fatalf("GET /events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("reading connected frame: %v", err)
	}
	if !strings.HasPrefix(line, "data: ") || !strings.Contains(line, "connected") {
		t.Fatalf("unexpected first frame: %q", line)
	}

	// Give the subscription a moment, then publish a progress event.
	time.Sleep(20 * time.Millisecond)
	tg.gw.pub.Publish(events.Progress("sse-job", models.Progress{Phase: "analyze:semgrep", Percent: 40}))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		line, err = reader.ReadString('\n')
		if err != nil {
			t.Fatalf("reading event frame: %v", err)
		}
		if strings.Contains(line, "job.progress") {
			if !strings.Contains(line, `"percent":40`) {
				t.Errorf("progress frame = %q", line)
			}
			return
		}
	}
	t.Fatal("never received progress frame")
}

func TestEventsUnknownJob(t *testing.T) {
	tg := newTestGateway(t, nil)
	rr := doRequest(tg.gw, http.MethodGet, "/events/ghost", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}
