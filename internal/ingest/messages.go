package ingest

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/snarg/tankwatch/internal/fleet"
)

// Inbound notefiles, drained in this fixed order each poll cycle.
var inboundFiles = []string{
	"telemetry.qi",
	"alarm.qi",
	"daily.qi",
	"unload.qi",
	"serial_log.qi",
	"serial_ack.qi",
}

// DrainMaxPerFile bounds notes taken from one file per pass so a busy
// queue cannot starve the others.
const DrainMaxPerFile = 10

// Clients send short keys on the wire; long-form aliases must be accepted
// on input. Each note struct carries both and resolves through firstString
// and friends.

func firstString(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstInt(vals ...*int) (int, bool) {
	for _, v := range vals {
		if v != nil {
			return *v, true
		}
	}
	return 0, false
}

func firstFloat(vals ...*float64) (float64, bool) {
	for _, v := range vals {
		if v != nil {
			return *v, true
		}
	}
	return 0, false
}

// tankFields are the per-tank sensor and metadata fields shared by
// telemetry, alarm, and daily-summary notes.
type tankFields struct {
	K    *int `json:"k"`
	Tank *int `json:"tank"`

	N     string `json:"n"`
	Label string `json:"label"`

	Cn       string `json:"cn"`
	Contents string `json:"contents"`

	Ot         string `json:"ot"`
	ObjectType string `json:"objectType"`

	Si              string `json:"si"`
	SensorInterface string `json:"sensorInterface"`
	St              string `json:"st"`
	SensorType      string `json:"sensorType"`

	Mu              string `json:"mu"`
	MeasurementUnit string `json:"measurementUnit"`

	Ma       *float64 `json:"ma"`
	SensorMa *float64 `json:"sensorMa"`
	Vt       *float64 `json:"vt"`
	Fl       *bool    `json:"fl"`
	Rm       *float64 `json:"rm"`
}

func (f *tankFields) tank() (int, bool)      { return firstInt(f.K, f.Tank) }
func (f *tankFields) label() string          { return firstString(f.N, f.Label) }
func (f *tankFields) contents() string       { return firstString(f.Cn, f.Contents) }
func (f *tankFields) objectType() string     { return firstString(f.Ot, f.ObjectType) }
func (f *tankFields) unit() string           { return firstString(f.Mu, f.MeasurementUnit) }
func (f *tankFields) sensorMa() (float64, bool)  { return firstFloat(f.Ma, f.SensorMa) }
func (f *tankFields) sensorVolts() (float64, bool) { return firstFloat(f.Vt) }

// sensorInterface normalizes the four accepted aliases; "rpm" is the
// legacy spelling of pulse.
func (f *tankFields) sensorInterface() string {
	si := firstString(f.Si, f.SensorInterface, f.St, f.SensorType)
	if strings.EqualFold(si, "rpm") {
		return fleet.SensorPulse
	}
	return si
}

// reading builds the decoder input from whichever carrier fields are set.
func (f *tankFields) reading(kind string) Reading {
	r := Reading{Kind: kind}
	if ma, ok := f.sensorMa(); ok {
		r.Ma = ma
		r.HasSample = true
	}
	if vt, ok := f.sensorVolts(); ok {
		r.Volts = vt
		r.HasSample = true
	}
	if f.Fl != nil {
		r.Bool = *f.Fl
		r.HasSample = true
	}
	if f.Rm != nil {
		r.Pulse = *f.Rm
		r.HasSample = true
	}
	return r
}

// Reading mirrors sensor.Reading plus a presence flag for notes that carry
// no raw sample at all.
type Reading struct {
	Kind      string
	Ma        float64
	Volts     float64
	Bool      bool
	Pulse     float64
	HasSample bool
}

type deviceFields struct {
	C      string `json:"c"`
	Client string `json:"client"`
	S      string `json:"s"`
	SiteL  string `json:"site"`
}

func (f *deviceFields) device() string { return firstString(f.C, f.Client) }
func (f *deviceFields) site() string   { return firstString(f.S, f.SiteL) }

// telemetryNote is one telemetry.qi body.
type telemetryNote struct {
	deviceFields
	tankFields
}

// alarmNote is one alarm.qi body.
type alarmNote struct {
	deviceFields
	tankFields
	Y    string `json:"y"`
	Type string `json:"type"`
	Se   *bool  `json:"se"`
}

func (n *alarmNote) alarmType() string { return firstString(n.Y, n.Type) }

// smsEnabled: absent means enabled.
func (n *alarmNote) smsEnabled() bool { return n.Se == nil || *n.Se }

// dailyNote is one daily.qi body: device-wide metadata plus per-tank
// summaries.
type dailyNote struct {
	deviceFields
	P     string          `json:"p"`
	V     json.RawMessage `json:"v"`
	Tanks []tankFields    `json:"tanks"`
}

// supplyVolts extracts the supply voltage: a plain number, or the first
// part of a delimited string like "12.6/3.3".
func (n *dailyNote) supplyVolts() (float64, bool) {
	if len(n.V) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(n.V, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(n.V, &s); err != nil {
		return 0, false
	}
	s = strings.FieldsFunc(s, func(r rune) bool { return r == '/' || r == ',' })[0]
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// unloadNote is one unload.qi body: a fill-and-empty level drop.
type unloadNote struct {
	deviceFields
	N         string   `json:"n"`
	Label     string   `json:"label"`
	K         *int     `json:"k"`
	Tank      *int     `json:"tank"`
	Pk        float64  `json:"pk"`
	Em        float64  `json:"em"`
	Pt        float64  `json:"pt"`
	T         float64  `json:"t"`
	Pma       *float64 `json:"pma"`
	Ema       *float64 `json:"ema"`
	Sms       *bool    `json:"sms"`
	Email     *bool    `json:"email"`
	Mu        string   `json:"mu"`
}

func (n *unloadNote) tank() (int, bool) { return firstInt(n.K, n.Tank) }

// serialLogNote is one serial_log.qi body: a single message or a batch.
type serialLogNote struct {
	Client  string           `json:"client"`
	Message string           `json:"message"`
	Logs    []serialLogEntry `json:"logs"`
}

type serialLogEntry struct {
	Timestamp float64 `json:"timestamp"`
	Message   string  `json:"message"`
	Level     string  `json:"level"`
	Source    string  `json:"source"`
}

// serialAckNote is one serial_ack.qi body.
type serialAckNote struct {
	Client string `json:"client"`
	Status string `json:"status"`
}
