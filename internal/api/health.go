package api

import (
	"net/http"
	"time"
)

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	if s.bus != nil && s.bus.IsConnected() {
		checks["bus"] = "ok"
	} else {
		checks["bus"] = "disconnected"
		status = "degraded"
	}

	if s.clock.Synced() {
		checks["clock"] = "ok"
	} else {
		checks["clock"] = "unsynced"
		if status == "healthy" {
			status = "degraded"
		}
	}

	if s.engine.Paused() {
		checks["ingest"] = "paused"
	} else {
		checks["ingest"] = "ok"
	}

	WriteJSON(w, httpStatus, HealthResponse{
		Status:        status,
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Checks:        checks,
	})
}
