package sensor

import "github.com/snarg/tankwatch/internal/fleet"

// ConfigSource supplies per-tank config extracted from the cached device
// configuration.
type ConfigSource interface {
	TankConfig(uid string, tank int) (TankConfig, bool)
}

// CalibrationSource supplies learned per-tank calibration mappings.
type CalibrationSource interface {
	LearnedLevel(uid string, tank int, reading float64) (float64, bool)
}

// Reading is one raw sensor sample.
type Reading struct {
	Kind  string // fleet.Sensor* constants
	Ma    float64
	Volts float64
	Bool  bool
	Pulse float64
}

// Decode derives an engineering-unit level from a raw reading. Resolution
// order for current loop sensors: learned calibration, then the cached
// device config mapping, then the 4-20 mA percentage fallback. Decode
// never mutates state.
func Decode(cfg ConfigSource, cal CalibrationSource, uid string, tank int, r Reading) float64 {
	switch r.Kind {
	case fleet.SensorCurrentLoop:
		return decodeCurrentLoop(cfg, cal, uid, tank, r.Ma)
	case fleet.SensorAnalog:
		return decodeVoltage(cfg, uid, tank, r.Volts)
	case fleet.SensorDigital:
		if r.Bool {
			return 1
		}
		return 0
	case fleet.SensorPulse:
		return r.Pulse
	default:
		return 0
	}
}

func decodeCurrentLoop(cfg ConfigSource, cal CalibrationSource, uid string, tank int, ma float64) float64 {
	if ma < 4 || ma > 20 {
		return 0
	}
	if cal != nil {
		if level, ok := cal.LearnedLevel(uid, tank, ma); ok {
			return level
		}
	}

	fraction := (ma - 4) / 16
	tc, ok := cfg.TankConfig(uid, tank)
	if !ok {
		return fraction * 100
	}
	switch tc.SubType {
	case "ultrasonic":
		// The sensor reports distance to the surface; level is what is
		// left under the mount point.
		distance := tc.RangeMin + fraction*(tc.RangeMax-tc.RangeMin)
		level := tc.MountHeight - distance
		if level < 0 {
			level = 0
		}
		return level
	default: // pressure
		return tc.RangeMin + fraction*(tc.RangeMax-tc.RangeMin)
	}
}

func decodeVoltage(cfg ConfigSource, uid string, tank int, volts float64) float64 {
	if volts < 0 {
		volts = 0
	} else if volts > 12 {
		volts = 12
	}

	tc, ok := cfg.TankConfig(uid, tank)
	if !ok || tc.VMax == tc.VMin {
		return volts / 10 * 100
	}
	fraction := (volts - tc.VMin) / (tc.VMax - tc.VMin)
	if fraction < 0 {
		fraction = 0
	} else if fraction > 1 {
		fraction = 1
	}
	return tc.RangeMin + fraction*(tc.RangeMax-tc.RangeMin) + tc.MountHeight
}
