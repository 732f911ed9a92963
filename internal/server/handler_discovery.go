package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "framesched API",
		Version:     "v1",
		Description: "Frame-synchronized job scheduler telemetry and control",
		Endpoints: []endpointInfo{
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
			{"/api/v1/stats", []string{"GET"}, "Runner snapshot: state, cycles, rate, pool and graph size"},
			{"/api/v1/workers", []string{"GET"}, "Per-worker state and counters"},
			{"/api/v1/rate", []string{"PUT"}, "Change the target rate ({\"fps\":N} or {\"frame_delay\":\"10ms\"})"},
			{"/api/v1/stop", []string{"POST"}, "Request a scheduler stop"},
			{"/api/v1/samples", []string{"GET"}, "Recent in-memory cycle samples (?limit=)"},
			{"/api/v1/sse/samples", []string{"GET"}, "Stream the latest cycle sample via Server-Sent Events"},
			{"/api/v1/runs", []string{"GET"}, "Recorded runs, newest first"},
			{"/api/v1/runs/{id}", []string{"GET"}, "Single recorded run"},
			{"/api/v1/runs/{id}/samples", []string{"GET"}, "Persisted cycle samples of a run (?limit=&offset=)"},
		},
	})
}
