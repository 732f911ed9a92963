package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/me/framesched/internal/config"
	"github.com/me/framesched/pkg/model"
)

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	respondOK(w, RequestIDFromContext(r.Context()), s.ctl.Stats())
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	respondOK(w, RequestIDFromContext(r.Context()), s.ctl.WorkerStats())
}

type rateResponse struct {
	FrameDelay time.Duration `json:"frame_delay_ns"`
	FPS        float64       `json:"fps"`
}

// handleSetRate changes the target cycle duration.
// PUT /api/v1/rate {"fps": 120} or {"frame_delay": "8ms"}
func (s *Server) handleSetRate(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req model.RateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code:    model.ErrValidation,
			Message: "invalid JSON body: " + err.Error(),
		})
		return
	}
	if (req.FPS == nil) == (req.FrameDelay == nil) {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("exactly one of fps or frame_delay is required"))
		return
	}

	var d time.Duration
	if req.FPS != nil {
		if *req.FPS < 0 {
			respondError(w, reqID, http.StatusBadRequest,
				model.NewValidationError("fps must be >= 0, got %d", *req.FPS))
			return
		}
		d = config.FrameDelayFor(*req.FPS)
	} else {
		parsed, err := time.ParseDuration(*req.FrameDelay)
		if err != nil {
			respondError(w, reqID, http.StatusBadRequest,
				model.NewValidationError("invalid frame_delay: %v", err))
			return
		}
		if parsed < 0 {
			respondError(w, reqID, http.StatusBadRequest,
				model.NewValidationError("frame_delay must be >= 0, got %s", parsed))
			return
		}
		d = parsed
	}

	s.ctl.SetFrameDelay(d)
	s.logger.Info("frame delay changed", "frame_delay", d, "request_id", reqID)
	respondOK(w, reqID, rateResponse{FrameDelay: d, FPS: model.RateOf(d)})
}

// handleStop asks the scheduler to stop; it does not wait for the drain.
// POST /api/v1/stop
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	s.logger.Info("stop requested", "request_id", reqID)
	s.ctl.SignalStop()
	respondAccepted(w, reqID, map[string]string{"state": s.ctl.Stats().State})
}
