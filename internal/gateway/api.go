package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/CosmoTheDev/scanpipe/internal/database"
	"github.com/CosmoTheDev/scanpipe/internal/ingest"
	"github.com/CosmoTheDev/scanpipe/internal/pipeline"
	"github.com/CosmoTheDev/scanpipe/internal/store"
	"github.com/CosmoTheDev/scanpipe/models"
)

// --- HTTP response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError emits the shared error envelope {"error":{"code","message"}}.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]apiError{"error": {Code: code, Message: msg}})
}

// --- Submission ---

// handleAnalyze accepts a scan request and enqueues a job.
func (gw *Gateway) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req models.ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body: "+err.Error())
		return
	}
	if req.Source.Kind == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "source.kind is required")
		return
	}

	id, err := gw.pipe.Submit(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrQueueFull):
			writeError(w, http.StatusTooManyRequests, "queue_full", err.Error())
		case errors.Is(err, ingest.ErrUnreachable):
			writeError(w, http.StatusUnprocessableEntity, "source_unreachable", err.Error())
		case errors.Is(err, ingest.ErrTooLarge):
			writeError(w, http.StatusUnprocessableEntity, "source_too_large", err.Error())
		default:
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id})
}

// --- Jobs ---

func (gw *Gateway) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": gw.jobs.List()})
}

func (gw *Gateway) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if job := gw.jobs.Get(id); job != nil {
		writeJSON(w, http.StatusOK, job)
		return
	}
	// Jobs from a previous process live on as artifacts.
	if job, err := gw.artifacts.LoadJob(id); err == nil {
		writeJSON(w, http.StatusOK, job)
		return
	}
	writeError(w, http.StatusNotFound, "not_found", "unknown job "+id)
}

// handleCancelJob cancels a queued or running job.
func (gw *Gateway) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job := gw.jobs.Get(id)
	if job == nil {
		writeError(w, http.StatusNotFound, "not_found", "unknown job "+id)
		return
	}
	if job.Status.Terminal() {
		writeError(w, http.StatusConflict, "not_cancelable", "job already "+string(job.Status))
		return
	}
	if !gw.pipe.Cancel(id) {
		writeError(w, http.StatusConflict, "not_cancelable", "job is not cancelable")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "status": "canceling"})
}

// --- Reports ---

type reportList struct {
	Items  []models.JobRecord `json:"items"`
	Total  int                `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// handleListReports pages over the database index of terminal jobs.
func (gw *Gateway) handleListReports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := database.ListFilter{Status: strings.TrimSpace(q.Get("status"))}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}

	items, err := gw.index.ListJobs(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	total, err := gw.index.CountJobs(r.Context(), filter.Status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if items == nil {
		items = []models.JobRecord{}
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	writeJSON(w, http.StatusOK, reportList{Items: items, Total: total, Limit: filter.Limit, Offset: filter.Offset})
}

// loadReport maps artifact lookups onto the API status semantics:
// unknown job 404, known but still running 409.
func (gw *Gateway) loadReport(w http.ResponseWriter, id string) *models.Report {
	rep, err := gw.artifacts.LoadReport(id)
	if err == nil {
		return rep
	}
	if !errors.Is(err, store.ErrNoArtifact) {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return nil
	}
	if job := gw.jobs.Get(id); job != nil && !job.Status.Terminal() {
		writeError(w, http.StatusConflict, "not_ready", "job "+id+" is still "+string(job.Status))
		return nil
	}
	writeError(w, http.StatusNotFound, "not_found", "no report for job "+id)
	return nil
}

func (gw *Gateway) handleGetReport(w http.ResponseWriter, r *http.Request) {
	if rep := gw.loadReport(w, r.PathValue("id")); rep != nil {
		writeJSON(w, http.StatusOK, rep)
	}
}

func (gw *Gateway) handleReportSummary(w http.ResponseWriter, r *http.Request) {
	rep := gw.loadReport(w, r.PathValue("id"))
	if rep == nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":  rep.JobID,
		"summary": rep.Summary,
		"meta":    rep.Meta,
		"total":   rep.Summary.Total(),
	})
}

// --- Enhancement ---

// handleGetEnhanced returns the enhanced report. The three non-success
// outcomes are distinguishable: pending/running is a 409, a failure
// carries the recorded reason, not-yet-triggered is a 404.
func (gw *Gateway) handleGetEnhanced(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st := gw.enhancer.Status(id)
	switch st.Status {
	case models.EnhancePending, models.EnhanceRunning:
		writeError(w, http.StatusConflict, "enhance_pending", "enhancement is "+string(st.Status))
		return
	case models.EnhanceFailed:
		writeError(w, http.StatusBadGateway, "enhance_failed", st.Error)
		return
	case models.EnhanceNotTriggered:
		writeError(w, http.StatusNotFound, "not_enhanced", "enhancement has not been triggered for job "+id)
		return
	}

	enhanced, err := gw.enhancer.Get(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, enhanced)
}

// handleTriggerEnhance starts an enhancement pass for a completed job.
func (gw *Gateway) handleTriggerEnhance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// A cached or in-flight pass replays without the provider; only a
	// fresh or retried pass needs it reachable.
	switch gw.enhancer.Status(id).Status {
	case models.EnhanceNotTriggered, models.EnhanceFailed:
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		if !gw.enhancer.Available(ctx) {
			writeError(w, http.StatusServiceUnavailable, "ai_unavailable", "no AI provider is configured or reachable")
			return
		}
	}

	if rep := gw.loadReport(w, id); rep == nil {
		return
	}

	st, err := gw.enhancer.Trigger(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}

// --- Introspection ---

type toolInfo struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Default   bool   `json:"default"`
}

func (gw *Gateway) handleTools(w http.ResponseWriter, r *http.Request) {
	defaults := make(map[string]bool)
	for _, n := range gw.dispatcher.Defaults() {
		defaults[n] = true
	}
	var tools []toolInfo
	for _, n := range gw.dispatcher.Names() {
		tools = append(tools, toolInfo{
			Name:      n,
			Available: gw.dispatcher.Available(n),
			Default:   defaults[n],
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools})
}

func (gw *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"jobs":           gw.jobs.Len(),
		"subscribers":    gw.pub.SubscriberCount(),
		"uptime_seconds": int64(time.Since(gw.startedAt).Seconds()),
	})
}
