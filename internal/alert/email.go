package alert

import (
	"time"

	"github.com/snarg/tankwatch/internal/fleet"
)

// EmailCooldown is the server-wide minimum spacing between daily email
// dispatches, in seconds.
const EmailCooldown = 3600

// EmailTank is one row of the daily digest.
type EmailTank struct {
	Device    string  `json:"device"`
	Site      string  `json:"site"`
	Label     string  `json:"label"`
	Tank      int     `json:"tank"`
	Level     float64 `json:"levelInches"`
	SensorMa  float64 `json:"sensorMa"`
	Alarm     bool    `json:"alarm"`
	AlarmType string  `json:"alarmType,omitempty"`
}

// EmailBody is the email.qo wire shape.
type EmailBody struct {
	To      string      `json:"to"`
	Subject string      `json:"subject"`
	Tanks   []EmailTank `json:"tanks"`
}

// EmailScheduler tracks the daily email schedule and cooldown.
type EmailScheduler struct {
	nextEpoch    float64
	lastDispatch float64
}

// NextDailyEpoch returns the next epoch at which the daily email fires:
// start-of-today plus the configured hour and minute, rolled one day
// forward when already past.
func NextDailyEpoch(now float64, hour, minute int) float64 {
	t := time.Unix(int64(now), 0).UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	next := float64(day.Unix()) + float64(hour)*3600 + float64(minute)*60
	if next <= now {
		next += 86400
	}
	return next
}

// Due reports whether the daily email should fire now, and commits the
// schedule when it does. The server-wide cooldown refuses dispatches
// closer than an hour apart.
func (s *EmailScheduler) Due(now float64, hour, minute int) bool {
	if now == 0 {
		return false
	}
	if s.nextEpoch == 0 {
		s.nextEpoch = NextDailyEpoch(now, hour, minute)
		return false
	}
	if now < s.nextEpoch {
		return false
	}
	if s.lastDispatch != 0 && now-s.lastDispatch < EmailCooldown {
		return false
	}
	s.lastDispatch = now
	s.nextEpoch = NextDailyEpoch(now, hour, minute)
	return true
}

// BuildEmail renders the digest from a fleet snapshot.
func BuildEmail(to, subject string, tanks []fleet.TankRecord) EmailBody {
	if subject == "" {
		subject = "Daily tank report"
	}
	body := EmailBody{To: to, Subject: subject}
	for _, rec := range tanks {
		body.Tanks = append(body.Tanks, EmailTank{
			Device:    rec.DeviceUID,
			Site:      rec.Site,
			Label:     rec.Label,
			Tank:      rec.Tank,
			Level:     rec.Level,
			SensorMa:  rec.SensorMa,
			Alarm:     rec.AlarmActive,
			AlarmType: rec.AlarmType,
		})
	}
	return body
}

// SendDailyEmail enqueues the digest, sync so scheduler logs see failures.
func (d *Dispatcher) SendDailyEmail(tanks []fleet.TankRecord) error {
	st := d.settings.Get()
	if st.EmailTo == "" {
		return nil
	}
	return d.bus.Enqueue("email.qo", BuildEmail(st.EmailTo, st.EmailSubject, tanks), true)
}
