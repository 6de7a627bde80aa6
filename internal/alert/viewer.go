package alert

import (
	"time"

	"github.com/snarg/tankwatch/internal/fleet"
)

// ViewerBody is the viewer_summary.qo wire shape: a compact snapshot of
// the full tank table for remote viewers.
type ViewerBody struct {
	GeneratedAt float64           `json:"generatedAt"`
	Tanks       []fleet.TankRecord `json:"tanks"`
}

// ViewerScheduler publishes the summary every intervalHours, aligned to a
// base hour of the day.
type ViewerScheduler struct {
	nextEpoch float64
}

// NextAlignedEpoch returns the next epoch on the interval grid anchored at
// baseHour. An interval of 6 with baseHour 0 fires at 00, 06, 12, 18.
func NextAlignedEpoch(now float64, intervalHours, baseHour int) float64 {
	if intervalHours <= 0 {
		intervalHours = 6
	}
	t := time.Unix(int64(now), 0).UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	anchor := float64(day.Unix()) + float64(baseHour)*3600
	step := float64(intervalHours) * 3600
	for anchor <= now {
		anchor += step
	}
	return anchor
}

// Due reports whether the viewer summary should publish now, committing
// the next slot when it does.
func (s *ViewerScheduler) Due(now float64, intervalHours, baseHour int) bool {
	if now == 0 {
		return false
	}
	if s.nextEpoch == 0 {
		s.nextEpoch = NextAlignedEpoch(now, intervalHours, baseHour)
		return false
	}
	if now < s.nextEpoch {
		return false
	}
	s.nextEpoch = NextAlignedEpoch(now, intervalHours, baseHour)
	return true
}

// SendViewerSummary publishes the tank-table snapshot.
func (d *Dispatcher) SendViewerSummary(now float64, tanks []fleet.TankRecord) error {
	return d.bus.Enqueue("viewer_summary.qo", ViewerBody{GeneratedAt: now, Tanks: tanks}, false)
}
