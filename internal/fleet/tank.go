package fleet

// Key identifies a tank record: one live record per (device, tank).
type Key struct {
	DeviceUID string
	Tank      int
}

// Object types reported by clients.
const (
	ObjectTank   = "tank"
	ObjectEngine = "engine"
	ObjectPump   = "pump"
	ObjectGas    = "gas"
	ObjectFlow   = "flow"
)

// Sensor interfaces reported by clients.
const (
	SensorAnalog      = "analog"
	SensorDigital     = "digital"
	SensorCurrentLoop = "currentLoop"
	SensorPulse       = "pulse"
)

// SensorPresentFloorMa is the canonical "sensor present" floor: raw mA
// readings below it are not stored on the record.
const SensorPresentFloorMa = 4.0

// BaselineWindowSeconds is the minimum age of lastUpdateEpoch before a new
// sample rolls the 24-hour baseline forward.
const BaselineWindowSeconds = 22 * 3600

// smsRingCap bounds the per-tank ring of accepted SMS epochs.
const smsRingCap = 10

// TankRecord is the live state for one (device, tank). All fields are
// owned by the engine's serial task; readers take the state read lock.
type TankRecord struct {
	DeviceUID string `json:"device"`
	Tank      int    `json:"tank"`

	Site            string `json:"site"`
	Label           string `json:"label"`
	Contents        string `json:"contents,omitempty"`
	ObjectType      string `json:"objectType"`
	SensorInterface string `json:"sensorInterface"`
	Unit            string `json:"unit,omitempty"`

	Level       float64 `json:"level"`
	SensorMa    float64 `json:"sensorMa"`
	SensorVolts float64 `json:"sensorVolts"`

	AlarmActive bool   `json:"alarmActive"`
	AlarmType   string `json:"alarmType,omitempty"`

	LastUpdateEpoch    float64 `json:"lastUpdateEpoch"`
	PreviousLevel      float64 `json:"previousLevel"`
	PreviousLevelEpoch float64 `json:"previousLevelEpoch"`

	LastSmsEpoch  float64   `json:"-"`
	SmsTimestamps []float64 `json:"-"`

	// Sample that opened the current baseline window. Promoted into
	// PreviousLevel/PreviousLevelEpoch when the window rolls.
	windowLevel float64
	windowEpoch float64
}

// Key returns the record's identity.
func (r *TankRecord) Key() Key {
	return Key{DeviceUID: r.DeviceUID, Tank: r.Tank}
}

// ApplyBaseline rolls the 24-hour baseline: when a sample arrives at
// least 22 hours after the stored lastUpdateEpoch, the sample that opened
// the current window becomes the baseline pair and the incoming sample
// opens the next window. Call before committing the new level and epoch.
func (r *TankRecord) ApplyBaseline(newLevel, newEpoch float64) {
	if r.LastUpdateEpoch == 0 {
		r.windowLevel = newLevel
		r.windowEpoch = newEpoch
		return
	}
	if newEpoch-r.LastUpdateEpoch >= BaselineWindowSeconds {
		r.PreviousLevel = r.windowLevel
		r.PreviousLevelEpoch = r.windowEpoch
		r.windowLevel = newLevel
		r.windowEpoch = newEpoch
	}
}

// CommitSample stores a decoded sample. Epoch monotonicity is preserved by
// keeping the larger of the stored and incoming epochs, which also makes
// replayed notes idempotent.
func (r *TankRecord) CommitSample(level, ma, volts, epoch float64) {
	r.Level = level
	if ma >= SensorPresentFloorMa {
		r.SensorMa = ma
	}
	r.SensorVolts = volts
	if epoch > r.LastUpdateEpoch {
		r.LastUpdateEpoch = epoch
	}
}

// RecordSms appends an accepted SMS epoch to the bounded ring and resets
// the interval window.
func (r *TankRecord) RecordSms(epoch float64) {
	r.LastSmsEpoch = epoch
	r.SmsTimestamps = append(r.SmsTimestamps, epoch)
	if len(r.SmsTimestamps) > smsRingCap {
		r.SmsTimestamps = r.SmsTimestamps[len(r.SmsTimestamps)-smsRingCap:]
	}
}

// CompactSmsRing keeps only SMS epochs newer than now minus one hour and
// returns the surviving count.
func (r *TankRecord) CompactSmsRing(now float64) int {
	kept := r.SmsTimestamps[:0]
	for _, e := range r.SmsTimestamps {
		if e > now-3600 {
			kept = append(kept, e)
		}
	}
	r.SmsTimestamps = kept
	return len(kept)
}

// DeviceMeta is per-device metadata, created lazily on the first daily
// report from a device.
type DeviceMeta struct {
	DeviceUID    string  `json:"device"`
	SupplyVolts  float64 `json:"supplyVolts"`
	SupplyEpoch  float64 `json:"supplyEpoch"`
	LastAckEpoch float64 `json:"lastAckEpoch,omitempty"`
	AckStatus    string  `json:"ackStatus,omitempty"`
	AwaitingLogs bool    `json:"awaitingLogs,omitempty"`
}
