package ingest

import (
	"encoding/json"

	"github.com/snarg/tankwatch/internal/alert"
	"github.com/snarg/tankwatch/internal/fault"
	"github.com/snarg/tankwatch/internal/fleet"
	"github.com/snarg/tankwatch/internal/history"
	"github.com/snarg/tankwatch/internal/metrics"
	"github.com/snarg/tankwatch/internal/notebus"
)

// handleUnload records a fill-and-empty level drop and optionally pages.
func (e *Engine) handleUnload(note notebus.Note) error {
	var msg unloadNote
	if err := json.Unmarshal(note.Body, &msg); err != nil {
		return fault.Wrap(fault.Validation, err, "decode unload")
	}

	uid := msg.device()
	tank, ok := msg.tank()
	if uid == "" || !ok {
		return fault.New(fault.Validation, "unload missing device or tank")
	}

	now := e.clock.Now()
	eventEpoch := msg.T
	if eventEpoch == 0 {
		eventEpoch = e.noteEpoch(note)
	}

	entry := history.UnloadEntry{
		EventEpoch: eventEpoch,
		PeakEpoch:  msg.Pt,
		Site:       msg.site(),
		DeviceUID:  uid,
		TankLabel:  firstString(msg.N, msg.Label),
		Tank:       tank,
		PeakLevel:  msg.Pk,
		EmptyLevel: msg.Em,
	}
	if msg.Pma != nil {
		entry.PeakSensorMa = *msg.Pma
	}
	if msg.Ema != nil {
		entry.EmptySensorMa = *msg.Ema
	}
	entry.EmailQueued = msg.Email != nil && *msg.Email

	if msg.Sms != nil && *msg.Sms {
		text := alert.ComposeUnload(entry.Site, tank, msg.Pk, msg.Em)
		key := fleet.Key{DeviceUID: uid, Tank: tank}
		var allow bool
		var reason string
		// Unload pages share the tank's alarm rate-limit bookkeeping.
		err := e.fleet.UpsertTank(key, func(rec *fleet.TankRecord) {
			allow, reason = alert.AllowSms(rec, now)
		})
		if err == nil && allow {
			if err := e.alerts.SendSms(text); err != nil {
				e.log.Warn().Err(err).Str("device", uid).Msg("unload SMS enqueue failed")
			} else {
				entry.SmsSent = true
				metrics.SmsSentTotal.Inc()
			}
		} else if err == nil {
			metrics.SmsSuppressedTotal.WithLabelValues(reason).Inc()
		}
	}

	e.history.RecordUnload(entry)

	e.log.Info().
		Str("device", uid).
		Int("tank", tank).
		Float64("peak", msg.Pk).
		Float64("empty", msg.Em).
		Msg("unload recorded")
	return nil
}
