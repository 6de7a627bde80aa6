package api

import (
	"encoding/csv"
	"net/http"
	"strconv"

	"github.com/snarg/tankwatch/internal/seriallog"
)

// serialQuery parses the shared parameters of the serial-log endpoints.
type serialQuery struct {
	Source string
	Client string
	Max    int
	Since  float64
}

func parseSerialQuery(r *http.Request) (serialQuery, string) {
	q := serialQuery{Source: "server", Max: 100}
	if v, ok := QueryString(r, "source"); ok {
		if v != "server" && v != "client" {
			return q, "source must be server or client"
		}
		q.Source = v
	}
	q.Client, _ = QueryString(r, "client")
	if q.Source == "client" && q.Client == "" {
		return q, "client parameter required for source=client"
	}
	if v, ok := QueryInt(r, "max"); ok && v > 0 {
		q.Max = v
	}
	q.Since, _ = QueryFloat(r, "since")
	return q, ""
}

func (s *Server) serialEntries(q serialQuery) []seriallog.Entry {
	if q.Source == "client" {
		return s.serial.Device(q.Client, q.Max, q.Since)
	}
	return s.serial.Server(q.Max, q.Since)
}

func (s *Server) handleSerialLogs(w http.ResponseWriter, r *http.Request) {
	q, msg := parseSerialQuery(r)
	if msg != "" {
		WriteError(w, http.StatusBadRequest, msg)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"source":  q.Source,
		"client":  q.Client,
		"entries": s.serialEntries(q),
		"devices": s.serial.DeviceUIDs(),
	})
}

// handleSerialExport streams the same entries as CSV. No Content-Length:
// rows flush as they are written so large exports stay chunked.
func (s *Server) handleSerialExport(w http.ResponseWriter, r *http.Request) {
	q, msg := parseSerialQuery(r)
	if msg != "" {
		WriteError(w, http.StatusBadRequest, msg)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="serial_logs.csv"`)
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	cw.Write([]string{"epoch", "level", "source", "message"})
	flusher, _ := w.(http.Flusher)

	for i, e := range s.serialEntries(q) {
		cw.Write([]string{
			strconv.FormatFloat(e.Epoch, 'f', 3, 64),
			e.Level,
			e.Source,
			e.Message,
		})
		if flusher != nil && i%100 == 99 {
			cw.Flush()
			flusher.Flush()
		}
	}
	cw.Flush()
}

type serialRequestBody struct {
	Pin    string `json:"pin"`
	Client string `json:"client"`
}

func (s *Server) handleSerialRequest(w http.ResponseWriter, r *http.Request) {
	var req serialRequestBody
	if err := DecodeJSON(r, &req); err != nil {
		WriteFault(w, err)
		return
	}
	if !s.checkPin(w, req.Pin) {
		return
	}
	if req.Client == "" {
		WriteError(w, http.StatusBadRequest, "client required")
		return
	}
	if err := s.engine.Do(r.Context(), func() error {
		return s.engine.RequestSerialLogs(req.Client)
	}); err != nil {
		WriteFault(w, err)
		return
	}
	WriteSuccess(w, "serial log request enqueued")
}
