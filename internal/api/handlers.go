package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/runner"
)

type startRequest struct {
	NumbersText string `json:"numbersText" validate:"required"`
}

type startResponse struct {
	OK    bool `json:"ok"`
	Total int  `json:"total"`
}

type healthResponse struct {
	OK           bool `json:"ok"`
	SessionReady bool `json:"sessionReady"`
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz answers 503 until the messaging session can serve lookups.
func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if !s.runner.Snapshot().SessionReady {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "session not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{OK: true, SessionReady: s.runner.Snapshot().SessionReady})
}

// start handles POST /start. It answers 200 once the run has been claimed,
// 409 when the session is not ready or a run is active, and 400 for bodies
// that do not yield a single valid number.
func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	// Session and run conflicts outrank input errors; Start re-checks both atomically.
	switch snap := s.runner.Snapshot(); {
	case !snap.SessionReady:
		writeError(w, http.StatusConflict, runner.ErrSessionNotReady.Error())
		return
	case snap.Running:
		writeError(w, http.StatusConflict, runner.ErrAlreadyRunning.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, runner.ErrNoValidNumbers.Error())
		return
	}

	total, err := s.runner.Start(r.Context(), req.NumbersText)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, startResponse{OK: true, Total: total})
	case errors.Is(err, runner.ErrSessionNotReady), errors.Is(err, runner.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, runner.ErrNoValidNumbers):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("start run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start run")
	}
}

// stop handles POST /stop; it always succeeds.
func (s *Server) stop(w http.ResponseWriter, _ *http.Request) {
	s.runner.Stop()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.runner.Snapshot())
}
