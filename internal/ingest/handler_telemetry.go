package ingest

import (
	"encoding/json"

	"github.com/snarg/tankwatch/internal/fault"
	"github.com/snarg/tankwatch/internal/fleet"
	"github.com/snarg/tankwatch/internal/history"
	"github.com/snarg/tankwatch/internal/notebus"
	"github.com/snarg/tankwatch/internal/sensor"
)

func (e *Engine) handleTelemetry(note notebus.Note) error {
	var msg telemetryNote
	if err := json.Unmarshal(note.Body, &msg); err != nil {
		return fault.Wrap(fault.Validation, err, "decode telemetry")
	}

	uid := msg.device()
	tank, ok := msg.tank()
	if uid == "" || !ok {
		return fault.New(fault.Validation, "telemetry missing device or tank")
	}

	key := fleet.Key{DeviceUID: uid, Tank: tank}
	epoch := e.noteEpoch(note)

	reading := msg.reading("")
	var snap history.Snapshot

	err := e.fleet.UpsertTank(key, func(rec *fleet.TankRecord) {
		applyTankMeta(rec, &msg.tankFields, msg.site())

		reading.Kind = rec.SensorInterface
		level := e.decode(uid, tank, reading)

		rec.ApplyBaseline(level, epoch)
		rec.CommitSample(level, reading.Ma, reading.Volts, epoch)
		snap = history.Snapshot{Epoch: epoch, Level: level, Volts: reading.Volts}
	})
	if err != nil {
		return err
	}

	e.history.Push(key, snap)

	e.log.Debug().
		Str("device", uid).
		Int("tank", tank).
		Float64("level", snap.Level).
		Msg("telemetry applied")
	return nil
}

// applyTankMeta refreshes record metadata from a note. A non-empty label
// or contents always wins; an empty one never erases what is there.
func applyTankMeta(rec *fleet.TankRecord, f *tankFields, site string) {
	if site != "" {
		rec.Site = site
	}
	if label := f.label(); label != "" {
		rec.Label = label
	}
	if contents := f.contents(); contents != "" {
		rec.Contents = contents
	}
	if ot := f.objectType(); ot != "" {
		rec.ObjectType = ot
	} else if rec.ObjectType == "" {
		rec.ObjectType = fleet.ObjectTank
	}
	if si := f.sensorInterface(); si != "" {
		rec.SensorInterface = si
	} else if rec.SensorInterface == "" {
		rec.SensorInterface = fleet.SensorCurrentLoop
	}
	if unit := f.unit(); unit != "" {
		rec.Unit = unit
	}
}

// decode derives the engineering-unit level for a reading.
func (e *Engine) decode(uid string, tank int, r Reading) float64 {
	return sensor.Decode(e.configs, e.calib, uid, tank, sensor.Reading{
		Kind:  r.Kind,
		Ma:    r.Ma,
		Volts: r.Volts,
		Bool:  r.Bool,
		Pulse: r.Pulse,
	})
}
