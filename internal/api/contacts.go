package api

import (
	"net/http"
	"sort"

	"github.com/snarg/tankwatch/internal/settings"
)

func (s *Server) handleContactsGet(w http.ResponseWriter, r *http.Request) {
	tanks := s.fleet.Snapshot()

	siteSet := make(map[string]struct{})
	var activeAlarms []map[string]any
	for _, rec := range tanks {
		if rec.Site != "" {
			siteSet[rec.Site] = struct{}{}
		}
		if rec.AlarmActive {
			activeAlarms = append(activeAlarms, map[string]any{
				"device": rec.DeviceUID,
				"tank":   rec.Tank,
				"site":   rec.Site,
				"type":   rec.AlarmType,
				"level":  rec.Level,
			})
		}
	}
	sites := make([]string, 0, len(siteSet))
	for site := range siteSet {
		sites = append(sites, site)
	}
	sort.Strings(sites)

	WriteJSON(w, http.StatusOK, map[string]any{
		"contacts": s.settings.Get().Contacts,
		"sites":    sites,
		"alarms":   activeAlarms,
	})
}

type contactsRequest struct {
	Pin      string             `json:"pin"`
	Contacts []settings.Contact `json:"contacts"`
}

func (s *Server) handleContactsPost(w http.ResponseWriter, r *http.Request) {
	var req contactsRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteFault(w, err)
		return
	}
	if !s.checkPin(w, req.Pin) {
		return
	}

	for _, c := range req.Contacts {
		if c.Name == "" {
			WriteError(w, http.StatusBadRequest, "contact name required")
			return
		}
		if c.Phone == "" && c.Email == "" {
			WriteError(w, http.StatusBadRequest, "contact needs a phone or email")
			return
		}
	}

	if err := s.settings.Update(func(st *settings.Settings) {
		st.Contacts = req.Contacts
	}); err != nil {
		WriteFault(w, err)
		return
	}
	WriteSuccess(w, "contacts updated")
}
