package api

import (
	"net/http"

	"github.com/snarg/tankwatch/internal/calibration"
	"github.com/snarg/tankwatch/internal/fleet"
)

func (s *Server) handleCalibrationGet(w http.ResponseWriter, r *http.Request) {
	uid, haveUID := QueryString(r, "client")
	tank, haveTank := QueryInt(r, "tank")

	if haveUID && haveTank {
		key := fleet.Key{DeviceUID: uid, Tank: tank}
		resp := map[string]any{
			"entries": s.calib.RecentEntries(key, 20),
		}
		if params, ok := s.calib.Params(key); ok {
			resp["params"] = params
		}
		WriteJSON(w, http.StatusOK, resp)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"params":  s.calib.AllParams(),
		"entries": s.calib.AllEntries(),
	})
}

type calibrationRequest struct {
	Pin           string  `json:"pin"`
	Client        string  `json:"client"`
	Tank          int     `json:"tank"`
	SensorReading float64 `json:"sensorReading"`
	VerifiedLevel float64 `json:"verifiedLevel"`
	Notes         string  `json:"notes,omitempty"`
}

func (s *Server) handleCalibrationPost(w http.ResponseWriter, r *http.Request) {
	var req calibrationRequest
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
	if req.VerifiedLevel < 0 {
		WriteError(w, http.StatusBadRequest, "verifiedLevel must be >= 0")
		return
	}

	var params calibration.Params
	err := s.engine.Do(r.Context(), func() error {
		var err error
		params, err = s.engine.SubmitCalibration(calibration.Entry{
			DeviceUID:     req.Client,
			Tank:          req.Tank,
			SensorReading: req.SensorReading,
			VerifiedLevel: req.VerifiedLevel,
			Notes:         req.Notes,
		})
		return err
	})
	if err != nil {
		WriteFault(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "calibration entry recorded",
		"params":  params,
	})
}
