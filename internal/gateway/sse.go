package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// handleEvents streams the job's events as SSE. Each frame is one JSON
// Event. Clients receive a "connected" frame with the current job
// snapshot first, so late subscribers still see where the job stands.
func (gw *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal", "streaming not supported")
		return
	}

	id := r.PathValue("id")
	job := gw.jobs.Get(id)
	if job == nil {
		writeError(w, http.StatusNotFound, "not_found", "unknown job "+id)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering if behind a proxy

	ch := gw.pub.Subscribe(id)
	defer gw.pub.Unsubscribe(ch)

	connected, _ := json.Marshal(map[string]any{"type": "connected", "job": job})
	fmt.Fprintf(w, "data: %s\n\n", connected)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			frame, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", frame)
			flusher.Flush()
		}
	}
}
