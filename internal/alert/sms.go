// Package alert composes and dispatches out-of-band notifications: per-tank
// rate-limited SMS, the daily email digest, and the periodic viewer summary.
package alert

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/snarg/tankwatch/internal/fault"
	"github.com/snarg/tankwatch/internal/fleet"
	"github.com/snarg/tankwatch/internal/settings"
)

const (
	// MinSmsInterval is the minimum spacing between accepted SMS for one
	// tank, in seconds.
	MinSmsInterval = 300
	// MaxSmsPerHour caps accepted SMS per tank per rolling hour.
	MaxSmsPerHour = 2
)

// Publisher enqueues a note body onto an outbound notefile.
type Publisher interface {
	Enqueue(file string, body any, sync bool) error
}

// SmsBody is the sms.qo wire shape.
type SmsBody struct {
	Message string   `json:"message"`
	Numbers []string `json:"numbers"`
}

// AllowSms applies the per-tank rate limit and, on acceptance, commits the
// bookkeeping to the record. Returns the suppression reason on rejection.
// The caller must hold the record under the serial task.
func AllowSms(rec *fleet.TankRecord, now float64) (bool, string) {
	// An unsynced clock never blocks an alert, and records nothing: there
	// is no meaningful epoch to bookkeep against.
	if now == 0 {
		return true, ""
	}
	if rec.LastSmsEpoch != 0 && now-rec.LastSmsEpoch < MinSmsInterval {
		return false, "interval"
	}
	if rec.CompactSmsRing(now) >= MaxSmsPerHour {
		return false, "hourly-cap"
	}
	rec.RecordSms(now)
	return true, ""
}

// Dispatcher publishes notifications through the bus.
type Dispatcher struct {
	bus      Publisher
	settings *settings.Store
	log      zerolog.Logger
}

func NewDispatcher(bus Publisher, st *settings.Store, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		bus:      bus,
		settings: st,
		log:      log.With().Str("component", "alert").Logger(),
	}
}

// SendSms enqueues a plain-text SMS to the configured numbers, sync so the
// caller sees transport failures.
func (d *Dispatcher) SendSms(message string) error {
	st := d.settings.Get()
	var numbers []string
	if st.PrimaryNumber != "" {
		numbers = append(numbers, st.PrimaryNumber)
	}
	if st.SecondaryNumber != "" {
		numbers = append(numbers, st.SecondaryNumber)
	}
	if len(numbers) == 0 {
		return fault.New(fault.Validation, "no SMS numbers configured")
	}
	return d.bus.Enqueue("sms.qo", SmsBody{Message: message, Numbers: numbers}, true)
}

// ComposeLevelAlarm builds the SMS text for an analog/level alarm.
func ComposeLevelAlarm(site string, tank int, alarmType string, level float64) string {
	return fmt.Sprintf("%s #%d %s alarm %.1f in", site, tank, alarmType, level)
}

// ComposeDigitalAlarm builds the SMS text for a float-switch alarm.
func ComposeDigitalAlarm(site string, tank int, triggered bool) string {
	state := "NOT ACTIVATED"
	if triggered {
		state = "ACTIVATED"
	}
	return fmt.Sprintf("%s #%d Float Switch %s", site, tank, state)
}

// ComposeUnload builds the SMS text for an unload event.
func ComposeUnload(site string, tank int, peak, empty float64) string {
	return fmt.Sprintf("%s #%d unloaded: %.1f in delivered (peak %.1f, now %.1f)",
		site, tank, peak-empty, peak, empty)
}
