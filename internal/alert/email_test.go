package alert

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/tankwatch/internal/fleet"
	"github.com/snarg/tankwatch/internal/settings"
)

func epochAt(hour, minute int) float64 {
	return float64(time.Date(2026, 8, 24, hour, minute, 0, 0, time.UTC).Unix())
}

func TestNextDailyEpoch(t *testing.T) {
	tests := []struct {
		name         string
		now          float64
		hour, minute int
		want         float64
	}{
		{"later_today", epochAt(5, 0), 7, 30, epochAt(7, 30)},
		{"already_past", epochAt(9, 0), 7, 30, epochAt(7, 30) + 86400},
		{"exactly_now_rolls", epochAt(7, 30), 7, 30, epochAt(7, 30) + 86400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextDailyEpoch(tt.now, tt.hour, tt.minute); got != tt.want {
				t.Errorf("NextDailyEpoch = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEmailSchedulerFiresOnceADay(t *testing.T) {
	var s EmailScheduler

	// First call only arms the schedule.
	if s.Due(epochAt(5, 0), 7, 0) {
		t.Fatal("fired on the arming call")
	}
	if s.Due(epochAt(6, 59), 7, 0) {
		t.Fatal("fired before the scheduled time")
	}
	if !s.Due(epochAt(7, 1), 7, 0) {
		t.Fatal("did not fire at the scheduled time")
	}
	// Re-armed for tomorrow.
	if s.Due(epochAt(8, 0), 7, 0) {
		t.Fatal("fired twice in one day")
	}
	if !s.Due(epochAt(7, 1)+86400, 7, 0) {
		t.Fatal("did not fire the next day")
	}
}

func TestEmailSchedulerCooldown(t *testing.T) {
	// Two accepted dispatches are never closer than an hour, even when the
	// configured time moves underneath the scheduler.
	var s EmailScheduler
	s.Due(epochAt(6, 0), 7, 0) // arm
	if !s.Due(epochAt(7, 1), 7, 0) {
		t.Fatal("first dispatch refused")
	}
	// Operator moves the schedule to 7:30 the same morning; the slot is
	// reachable but inside the cooldown.
	s.nextEpoch = epochAt(7, 30)
	if s.Due(epochAt(7, 31), 7, 30) {
		t.Fatal("dispatch inside the hourly cooldown")
	}
	if !s.Due(epochAt(8, 2), 7, 30) {
		t.Fatal("dispatch refused after the cooldown")
	}
}

func TestEmailSchedulerUnsyncedClock(t *testing.T) {
	var s EmailScheduler
	if s.Due(0, 7, 0) {
		t.Fatal("fired with no clock")
	}
}

func TestBuildEmail(t *testing.T) {
	tanks := []fleet.TankRecord{
		{DeviceUID: "dev:A", Site: "North", Label: "T1", Tank: 1, Level: 40.5, SensorMa: 10.5},
		{DeviceUID: "dev:A", Site: "North", Label: "T2", Tank: 2, Level: 12, AlarmActive: true, AlarmType: "low"},
	}
	body := BuildEmail("ops@example.com", "", tanks)
	if body.To != "ops@example.com" {
		t.Errorf("To = %q", body.To)
	}
	if body.Subject == "" {
		t.Error("empty subject not defaulted")
	}
	if len(body.Tanks) != 2 {
		t.Fatalf("rows = %d, want 2", len(body.Tanks))
	}
	if !body.Tanks[1].Alarm || body.Tanks[1].AlarmType != "low" {
		t.Errorf("alarm row = %+v", body.Tanks[1])
	}
}

func TestSendDailyEmailSkipsWithoutRecipient(t *testing.T) {
	bus := &fakeBus{}
	d := NewDispatcher(bus, testSettings(t, nil), zerolog.Nop())
	if err := d.SendDailyEmail(nil); err != nil {
		t.Fatalf("SendDailyEmail: %v", err)
	}
	if len(bus.calls) != 0 {
		t.Error("email enqueued with no recipient configured")
	}
}

func TestSendDailyEmail(t *testing.T) {
	bus := &fakeBus{}
	st := testSettings(t, func(s *settings.Settings) { s.EmailTo = "ops@example.com" })
	d := NewDispatcher(bus, st, zerolog.Nop())
	if err := d.SendDailyEmail([]fleet.TankRecord{{DeviceUID: "dev:A", Tank: 1}}); err != nil {
		t.Fatalf("SendDailyEmail: %v", err)
	}
	if len(bus.calls) != 1 || bus.calls[0].File != "email.qo" {
		t.Fatalf("calls = %+v", bus.calls)
	}
}

func TestViewerScheduler(t *testing.T) {
	var s ViewerScheduler

	if s.Due(epochAt(1, 0), 6, 0) {
		t.Fatal("fired on the arming call")
	}
	// Next aligned slot after 01:00 on a 6 h grid anchored at 00 is 06:00.
	if s.Due(epochAt(5, 59), 6, 0) {
		t.Fatal("fired before the slot")
	}
	if !s.Due(epochAt(6, 1), 6, 0) {
		t.Fatal("did not fire at the slot")
	}
	if s.Due(epochAt(6, 30), 6, 0) {
		t.Fatal("fired twice in one slot")
	}
	if !s.Due(epochAt(12, 1), 6, 0) {
		t.Fatal("did not fire at the next slot")
	}
}

func TestNextAlignedEpoch(t *testing.T) {
	// Base hour 3 with a 6 h interval: slots at 03, 09, 15, 21.
	if got, want := NextAlignedEpoch(epochAt(4, 0), 6, 3), epochAt(9, 0); got != want {
		t.Errorf("NextAlignedEpoch = %v, want %v", got, want)
	}
	if got, want := NextAlignedEpoch(epochAt(2, 0), 6, 3), epochAt(3, 0); got != want {
		t.Errorf("NextAlignedEpoch = %v, want %v", got, want)
	}
}
