package kernel

import (
	"fmt"
	"net/http"
	"time"

	"github.com/manthysbr/aulerag/internal/core/services"
)

const sseKeepAlive = 15 * time.Second

// handleEvents streams trace and span events as server-sent events. With
// ?trace_id=<id> only that trace's events are sent.
// GET /v1/events
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	var (
		ch    <-chan services.Event
		unsub func()
	)
	if traceID := r.URL.Query().Get("trace_id"); traceID != "" {
		ch, unsub = s.deps.Events.Subscribe("trace:" + traceID)
	} else {
		ch, unsub = s.deps.Events.SubscribeGlobal()
	}
	defer unsub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case evt, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, evt.Data)
			flusher.Flush()
		}
	}
}
