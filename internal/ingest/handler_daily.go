package ingest

import (
	"encoding/json"

	"github.com/snarg/tankwatch/internal/fault"
	"github.com/snarg/tankwatch/internal/fleet"
	"github.com/snarg/tankwatch/internal/notebus"
)

// handleDaily applies a device's daily report: supply voltage on the
// device metadata plus per-tank summaries. Daily reports never page.
func (e *Engine) handleDaily(note notebus.Note) error {
	var msg dailyNote
	if err := json.Unmarshal(note.Body, &msg); err != nil {
		return fault.Wrap(fault.Validation, err, "decode daily report")
	}

	uid := msg.device()
	if uid == "" {
		return fault.New(fault.Validation, "daily report missing device")
	}

	epoch := e.noteEpoch(note)

	if volts, ok := msg.supplyVolts(); ok {
		err := e.fleet.UpsertDevice(uid, func(meta *fleet.DeviceMeta) {
			meta.SupplyVolts = volts
			meta.SupplyEpoch = epoch
		})
		if err != nil {
			e.log.Warn().Err(err).Str("device", uid).Msg("device meta rejected")
			e.serial.ServerWarn(e.clock.Now(), err.Error())
		}
	}

	for i := range msg.Tanks {
		f := &msg.Tanks[i]
		tank, ok := f.tank()
		if !ok {
			continue
		}
		key := fleet.Key{DeviceUID: uid, Tank: tank}
		reading := f.reading("")

		err := e.fleet.UpsertTank(key, func(rec *fleet.TankRecord) {
			applyTankMeta(rec, f, msg.site())
			if reading.HasSample {
				reading.Kind = rec.SensorInterface
				level := e.decode(uid, tank, reading)
				rec.ApplyBaseline(level, epoch)
				rec.CommitSample(level, reading.Ma, reading.Volts, epoch)
			}
		})
		if err != nil {
			e.log.Warn().Err(err).Str("device", uid).Int("tank", tank).Msg("daily tank rejected")
			e.serial.ServerWarn(e.clock.Now(), err.Error())
		}
	}

	e.log.Debug().Str("device", uid).Int("tanks", len(msg.Tanks)).Msg("daily report applied")
	return nil
}
