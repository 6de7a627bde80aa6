package api

import (
	"encoding/json"
	"net/http"

	"github.com/snarg/tankwatch/internal/settings"
)

type configRequest struct {
	Pin    string          `json:"pin"`
	Client string          `json:"client"`
	Config json.RawMessage `json:"config"`

	// Optional server settings bundled with a device dispatch.
	Settings *serverSettingsBody `json:"settings,omitempty"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteFault(w, err)
		return
	}
	if !s.checkPin(w, req.Pin) {
		return
	}
	if req.Client == "" || len(req.Config) == 0 {
		WriteError(w, http.StatusBadRequest, "client and config required")
		return
	}
	if !json.Valid(req.Config) {
		WriteError(w, http.StatusBadRequest, "config is not valid JSON")
		return
	}

	if err := s.engine.Do(r.Context(), func() error {
		return s.engine.DispatchConfig(req.Client, req.Config)
	}); err != nil {
		WriteFault(w, err)
		return
	}

	if req.Settings != nil {
		if err := s.applySettings(req.Settings); err != nil {
			WriteFault(w, err)
			return
		}
	}
	WriteSuccess(w, "config dispatched")
}

// serverSettingsBody uses pointers so absent fields leave the stored
// value alone.
type serverSettingsBody struct {
	SmsOnHigh           *bool   `json:"smsOnHigh,omitempty"`
	SmsOnLow            *bool   `json:"smsOnLow,omitempty"`
	SmsOnClear          *bool   `json:"smsOnClear,omitempty"`
	PrimaryNumber       *string `json:"primaryNumber,omitempty"`
	SecondaryNumber     *string `json:"secondaryNumber,omitempty"`
	EmailTo             *string `json:"emailTo,omitempty"`
	EmailSubject        *string `json:"emailSubject,omitempty"`
	DailyEmailHour      *int    `json:"dailyEmailHour,omitempty"`
	DailyEmailMinute    *int    `json:"dailyEmailMinute,omitempty"`
	ViewerIntervalHours *int    `json:"viewerIntervalHours,omitempty"`
	ViewerBaseHour      *int    `json:"viewerBaseHour,omitempty"`
}

func (b *serverSettingsBody) validate() string {
	if b.DailyEmailHour != nil && (*b.DailyEmailHour < 0 || *b.DailyEmailHour > 23) {
		return "dailyEmailHour must be 0-23"
	}
	if b.DailyEmailMinute != nil && (*b.DailyEmailMinute < 0 || *b.DailyEmailMinute > 59) {
		return "dailyEmailMinute must be 0-59"
	}
	if b.ViewerIntervalHours != nil && (*b.ViewerIntervalHours < 1 || *b.ViewerIntervalHours > 24) {
		return "viewerIntervalHours must be 1-24"
	}
	if b.ViewerBaseHour != nil && (*b.ViewerBaseHour < 0 || *b.ViewerBaseHour > 23) {
		return "viewerBaseHour must be 0-23"
	}
	return ""
}

func (s *Server) applySettings(b *serverSettingsBody) error {
	return s.settings.Update(func(st *settings.Settings) {
		if b.SmsOnHigh != nil {
			st.SmsOnHigh = *b.SmsOnHigh
		}
		if b.SmsOnLow != nil {
			st.SmsOnLow = *b.SmsOnLow
		}
		if b.SmsOnClear != nil {
			st.SmsOnClear = *b.SmsOnClear
		}
		if b.PrimaryNumber != nil {
			st.PrimaryNumber = *b.PrimaryNumber
		}
		if b.SecondaryNumber != nil {
			st.SecondaryNumber = *b.SecondaryNumber
		}
		if b.EmailTo != nil {
			st.EmailTo = *b.EmailTo
		}
		if b.EmailSubject != nil {
			st.EmailSubject = *b.EmailSubject
		}
		if b.DailyEmailHour != nil {
			st.DailyEmailHour = *b.DailyEmailHour
		}
		if b.DailyEmailMinute != nil {
			st.DailyEmailMinute = *b.DailyEmailMinute
		}
		if b.ViewerIntervalHours != nil {
			st.ViewerIntervalHours = *b.ViewerIntervalHours
		}
		if b.ViewerBaseHour != nil {
			st.ViewerBaseHour = *b.ViewerBaseHour
		}
	})
}

type serverSettingsRequest struct {
	Pin string `json:"pin"`
	serverSettingsBody
}

func (s *Server) handleServerSettings(w http.ResponseWriter, r *http.Request) {
	var req serverSettingsRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteFault(w, err)
		return
	}
	if !s.checkPin(w, req.Pin) {
		return
	}
	if msg := req.validate(); msg != "" {
		WriteError(w, http.StatusBadRequest, msg)
		return
	}
	if err := s.applySettings(&req.serverSettingsBody); err != nil {
		WriteFault(w, err)
		return
	}
	WriteSuccess(w, "settings updated")
}

type pinRequest struct {
	Pin    string `json:"pin"`
	NewPin string `json:"newPin,omitempty"`
}

// handlePin verifies the PIN when newPin is absent, otherwise sets or
// changes it. First-time setup (no PIN configured yet) needs no current
// PIN; every later change does.
func (s *Server) handlePin(w http.ResponseWriter, r *http.Request) {
	var req pinRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteFault(w, err)
		return
	}

	if req.NewPin == "" {
		if !s.settings.PinConfigured() || !s.settings.VerifyPin(req.Pin) {
			WriteError(w, http.StatusForbidden, "invalid PIN")
			return
		}
		WriteSuccess(w, "PIN verified")
		return
	}

	if s.settings.PinConfigured() && !s.settings.VerifyPin(req.Pin) {
		WriteError(w, http.StatusForbidden, "invalid PIN")
		return
	}
	if err := s.settings.SetPin(req.NewPin); err != nil {
		WriteFault(w, err)
		return
	}
	WriteSuccess(w, "PIN updated")
}

type pinOnlyRequest struct {
	Pin string `json:"pin"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req pinOnlyRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteFault(w, err)
		return
	}
	if !s.checkPin(w, req.Pin) {
		return
	}
	if err := s.engine.Do(r.Context(), func() error {
		s.engine.Refresh()
		return nil
	}); err != nil {
		WriteFault(w, err)
		return
	}
	WriteSuccess(w, "refresh triggered")
}

type relayRequest struct {
	Pin    string `json:"pin"`
	Client string `json:"client"`
	Relay  int    `json:"relay"`
	State  bool   `json:"state"`
	Tank   int    `json:"tank,omitempty"`
	Source string `json:"source,omitempty"`
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	var req relayRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteFault(w, err)
		return
	}
	if !s.checkPin(w, req.Pin) {
		return
	}
	if req.Client == "" || req.Relay < 1 {
		WriteError(w, http.StatusBadRequest, "client and relay required")
		return
	}
	source := req.Source
	if source == "" {
		source = "dashboard"
	}
	if err := s.engine.Do(r.Context(), func() error {
		return s.engine.SendRelay(req.Client, req.Relay, req.State, source)
	}); err != nil {
		WriteFault(w, err)
		return
	}
	WriteSuccess(w, "relay command enqueued")
}

func (s *Server) handleRelayClear(w http.ResponseWriter, r *http.Request) {
	var req relayRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteFault(w, err)
		return
	}
	if !s.checkPin(w, req.Pin) {
		return
	}
	if req.Client == "" || req.Tank < 1 {
		WriteError(w, http.StatusBadRequest, "client and tank required")
		return
	}
	source := req.Source
	if source == "" {
		source = "dashboard"
	}
	if err := s.engine.Do(r.Context(), func() error {
		return s.engine.ClearRelay(req.Client, req.Tank, source)
	}); err != nil {
		WriteFault(w, err)
		return
	}
	WriteSuccess(w, "relay clear enqueued")
}

type pauseRequest struct {
	Pin    string `json:"pin"`
	Paused bool   `json:"paused"`
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteFault(w, err)
		return
	}
	if !s.checkPin(w, req.Pin) {
		return
	}
	s.engine.SetPaused(req.Paused)
	if req.Paused {
		WriteSuccess(w, "ingest paused")
	} else {
		WriteSuccess(w, "ingest resumed")
	}
}
