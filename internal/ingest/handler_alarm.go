package ingest

import (
	"encoding/json"

	"github.com/snarg/tankwatch/internal/alert"
	"github.com/snarg/tankwatch/internal/fault"
	"github.com/snarg/tankwatch/internal/fleet"
	"github.com/snarg/tankwatch/internal/history"
	"github.com/snarg/tankwatch/internal/metrics"
	"github.com/snarg/tankwatch/internal/notebus"
	"github.com/snarg/tankwatch/internal/settings"
)

// Alarm classification per type token.
func isClearType(t string) bool {
	return t == "clear" || t == "sensor-recovered"
}

func isDiagnosticType(t string) bool {
	return t == "sensor-fault" || t == "sensor-stuck" || t == "sensor-recovered"
}

func isDigitalType(t string) bool {
	return t == "triggered" || t == "not_triggered"
}

func (e *Engine) handleAlarm(note notebus.Note) error {
	var msg alarmNote
	if err := json.Unmarshal(note.Body, &msg); err != nil {
		return fault.Wrap(fault.Validation, err, "decode alarm")
	}

	uid := msg.device()
	tank, ok := msg.tank()
	alarmType := msg.alarmType()
	if uid == "" || !ok || alarmType == "" {
		return fault.New(fault.Validation, "alarm missing device, tank, or type")
	}

	key := fleet.Key{DeviceUID: uid, Tank: tank}
	epoch := e.noteEpoch(note)
	now := e.clock.Now()
	reading := msg.reading("")

	var (
		site      string
		level     float64
		smsText   string
		smsAllow  bool
		smsReason string
	)

	err := e.fleet.UpsertTank(key, func(rec *fleet.TankRecord) {
		applyTankMeta(rec, &msg.tankFields, msg.site())
		site = rec.Site

		// Recompute the level when the alarm carries a sample, so the
		// alert text reflects the reading that tripped it.
		if reading.HasSample {
			reading.Kind = rec.SensorInterface
			level = e.decode(uid, tank, reading)
			rec.CommitSample(level, reading.Ma, reading.Volts, epoch)
		} else {
			level = rec.Level
		}

		switch {
		case isClearType(alarmType):
			// Recovery keeps the token visible for one cycle so an
			// operator can see what cleared.
			rec.AlarmActive = false
			rec.AlarmType = alarmType
		default:
			rec.AlarmActive = true
			rec.AlarmType = alarmType
		}

		if wantSms(e.settings.Get(), alarmType, msg.smsEnabled()) {
			if isDigitalType(alarmType) {
				smsText = alert.ComposeDigitalAlarm(site, tank, alarmType == "triggered")
			} else {
				smsText = alert.ComposeLevelAlarm(site, tank, alarmType, level)
			}
			smsAllow, smsReason = alert.AllowSms(rec, now)
		}
	})
	if err != nil {
		return err
	}

	// Alarm-log bookkeeping after the state commit.
	if isClearType(alarmType) {
		e.history.ClearAlarm(uid, tank, now)
	} else if !isDiagnosticType(alarmType) {
		e.history.RecordAlarm(history.AlarmEntry{
			Epoch:     epoch,
			Site:      site,
			DeviceUID: uid,
			Tank:      tank,
			Level:     level,
			IsHigh:    alarmType == "high" || alarmType == "triggered",
		})
	}

	if smsText != "" {
		if smsAllow {
			if err := e.alerts.SendSms(smsText); err != nil {
				e.log.Warn().Err(err).Str("device", uid).Msg("alarm SMS enqueue failed")
			} else {
				metrics.SmsSentTotal.Inc()
			}
		} else {
			metrics.SmsSuppressedTotal.WithLabelValues(smsReason).Inc()
			e.log.Debug().
				Str("device", uid).
				Int("tank", tank).
				Str("reason", smsReason).
				Msg("alarm SMS suppressed")
		}
	}

	e.log.Info().
		Str("device", uid).
		Int("tank", tank).
		Str("type", alarmType).
		Msg("alarm processed")
	return nil
}

// wantSms applies the server alert policy: diagnostics never page, the
// per-message flag can opt out, and each alarm class has its own switch.
// Digital float switches are treated as high severity.
func wantSms(st settings.Settings, alarmType string, msgEnabled bool) bool {
	if !msgEnabled {
		return false
	}
	if isDiagnosticType(alarmType) {
		return false
	}
	switch {
	case isClearType(alarmType):
		return st.SmsOnClear
	case isDigitalType(alarmType), alarmType == "high":
		return st.SmsOnHigh
	case alarmType == "low":
		return st.SmsOnLow
	default:
		// Unclassified analog alarms follow the high-severity switch.
		return st.SmsOnHigh
	}
}
