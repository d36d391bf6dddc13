package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/metrics"
	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/progress"
)

// streamEvents serves GET /events as a server-sent event stream. A new
// subscriber first receives the pending login QR (if any) and the current
// status, then every event as it is emitted. Events missed while the
// subscriber lags are not replayed.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	feed, cancel := s.events.Subscribe(s.cfg.EventBuffer)
	defer cancel()
	metrics.AddPushSubscribers(1)
	defer metrics.AddPushSubscribers(-1)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	logger := s.logger.With(zap.String("request_id", RequestID(r.Context())))
	logger.Debug("event subscriber connected")
	defer logger.Debug("event subscriber disconnected")

	now := time.Now().UTC()
	snap := s.runner.Snapshot()
	if snap.LastQRDataURL != nil {
		if err := writeEvent(w, progress.Event{Kind: progress.KindArtifact, TS: now, Artifact: *snap.LastQRDataURL}); err != nil {
			return
		}
	}
	if err := writeEvent(w, progress.StatusEvent(now, snap)); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(s.cfg.Heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-feed:
			if !open {
				return
			}
			if err := writeEvent(w, evt); err != nil {
				logger.Debug("event write failed", zap.Error(err))
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, evt progress.Event) error {
	data, err := json.Marshal(evt.Payload())
	if err != nil {
		return fmt.Errorf("encode %s event: %w", evt.Kind, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, data); err != nil {
		return fmt.Errorf("write %s event: %w", evt.Kind, err)
	}
	return nil
}
