package api

import (
	"net/http"

	"github.com/snarg/tankwatch/internal/settings"
)

func (s *Server) handleTanks(w http.ResponseWriter, r *http.Request) {
	tanks := s.fleet.Snapshot()
	WriteJSON(w, http.StatusOK, map[string]any{
		"tanks":       tanks,
		"count":       len(tanks),
		"generatedAt": s.clock.Now(),
	})
}

// settingsSummary is the public slice of server settings: no PIN material.
type settingsSummary struct {
	SmsOnHigh           bool   `json:"smsOnHigh"`
	SmsOnLow            bool   `json:"smsOnLow"`
	SmsOnClear          bool   `json:"smsOnClear"`
	DailyEmailHour      int    `json:"dailyEmailHour"`
	DailyEmailMinute    int    `json:"dailyEmailMinute"`
	ViewerIntervalHours int    `json:"viewerIntervalHours"`
	ViewerBaseHour      int    `json:"viewerBaseHour"`
	EmailTo             string `json:"emailTo,omitempty"`
	PinConfigured       bool   `json:"pinConfigured"`
}

func summarize(st settings.Settings, pinConfigured bool) settingsSummary {
	return settingsSummary{
		SmsOnHigh:           st.SmsOnHigh,
		SmsOnLow:            st.SmsOnLow,
		SmsOnClear:          st.SmsOnClear,
		DailyEmailHour:      st.DailyEmailHour,
		DailyEmailMinute:    st.DailyEmailMinute,
		ViewerIntervalHours: st.ViewerIntervalHours,
		ViewerBaseHour:      st.ViewerBaseHour,
		EmailTo:             st.EmailTo,
		PinConfigured:       pinConfigured,
	}
}

func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	tanks := s.fleet.Snapshot()
	devices := s.fleet.Devices()

	connected := s.bus != nil && s.bus.IsConnected()
	WriteJSON(w, http.StatusOK, map[string]any{
		"tanks":        tanks,
		"devices":      devices,
		"settings":     summarize(s.settings.Get(), s.settings.PinConfigured()),
		"paused":       s.engine.Paused(),
		"busConnected": connected,
		"generatedAt":  s.clock.Now(),
	})
}

func (s *Server) handleUnloads(w http.ResponseWriter, r *http.Request) {
	max, ok := QueryInt(r, "max")
	if !ok || max <= 0 {
		max = 50
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"unloads": s.history.Unloads(max),
	})
}
