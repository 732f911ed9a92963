package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/me/framesched/pkg/model"
)

// parseListOptions reads ?limit= and ?offset= over the defaults.
func parseListOptions(r *http.Request) (model.ListOptions, *model.APIError) {
	opts := model.DefaultListOptions()
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, model.NewValidationError("invalid limit %q", v)
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, model.NewValidationError("invalid offset %q", v)
		}
		opts.Offset = n
	}
	opts.Clamp()
	return opts, nil
}

// handleSamples returns the newest in-memory samples, oldest first.
// GET /api/v1/samples?limit=N
func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if s.samples == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("sample source", "telemetry"))
		return
	}
	opts, apiErr := parseListOptions(r)
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}
	respondOK(w, reqID, s.samples.Recent(opts.Limit))
}

// handleSSESamples streams the latest sample via Server-Sent Events.
// GET /api/v1/sse/samples
func (s *Server) handleSSESamples(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if s.samples == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("sample source", "telemetry"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	var last uint64
	if cs, ok := s.samples.Latest(); ok {
		if err := sendSSEEvent(w, flusher, "sample", cs); err != nil {
			s.logger.Debug("sse client disconnected", "error", err)
			return
		}
		last = cs.Cycle
	}

	ticker := time.NewTicker(s.sseInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			cs, ok := s.samples.Latest()
			if ok && cs.Cycle != last {
				if err := sendSSEEvent(w, flusher, "sample", cs); err != nil {
					s.logger.Debug("sse client disconnected", "error", err)
					return
				}
				last = cs.Cycle
				continue
			}
			// Send heartbeat.
			if _, err := fmt.Fprintf(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
