package history

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/tankwatch/internal/fleet"
)

func testHistory() *Store {
	return NewStore(7, nil, zerolog.Nop())
}

func TestPushRingBounded(t *testing.T) {
	s := testHistory()
	key := fleet.Key{DeviceUID: "dev:A", Tank: 1}

	for i := 0; i < HourlyRingCap+20; i++ {
		s.Push(key, Snapshot{Epoch: float64(i), Level: float64(i)})
	}

	ring := s.Trend(key)
	if len(ring) != HourlyRingCap {
		t.Fatalf("ring len = %d, want %d", len(ring), HourlyRingCap)
	}
	// Oldest entries dropped, order preserved.
	if ring[0].Epoch != 20 || ring[len(ring)-1].Epoch != float64(HourlyRingCap+19) {
		t.Errorf("ring bounds = [%v, %v]", ring[0].Epoch, ring[len(ring)-1].Epoch)
	}
	if s.RingCount() != 1 {
		t.Errorf("RingCount = %d, want 1", s.RingCount())
	}
}

func TestTrendReturnsCopy(t *testing.T) {
	s := testHistory()
	key := fleet.Key{DeviceUID: "dev:A", Tank: 1}
	s.Push(key, Snapshot{Epoch: 1, Level: 10})

	ring := s.Trend(key)
	ring[0].Level = 999
	if s.Trend(key)[0].Level != 10 {
		t.Error("Trend exposed internal storage")
	}
}

func TestAlarmLogClearMatching(t *testing.T) {
	s := testHistory()

	s.RecordAlarm(AlarmEntry{Epoch: 100, DeviceUID: "dev:A", Tank: 1, IsHigh: true})
	s.RecordAlarm(AlarmEntry{Epoch: 200, DeviceUID: "dev:B", Tank: 1, IsHigh: true})
	s.RecordAlarm(AlarmEntry{Epoch: 300, DeviceUID: "dev:A", Tank: 1, IsHigh: false})

	if !s.ClearAlarm("dev:A", 1, 400) {
		t.Fatal("ClearAlarm found no match")
	}

	alarms := s.Alarms(0)
	if len(alarms) != 3 {
		t.Fatalf("alarms = %d, want 3", len(alarms))
	}
	// Most recent uncleared dev:A entry is the one at 300.
	if !alarms[2].Cleared || alarms[2].ClearedEpoch != 400 {
		t.Errorf("entry at 300 not cleared: %+v", alarms[2])
	}
	if alarms[0].Cleared || alarms[1].Cleared {
		t.Error("wrong entries cleared")
	}

	// Second clear takes the older uncleared entry.
	if !s.ClearAlarm("dev:A", 1, 500) {
		t.Fatal("second ClearAlarm found no match")
	}
	if !s.Alarms(0)[0].Cleared {
		t.Error("older entry not cleared")
	}

	if s.ClearAlarm("dev:A", 1, 600) {
		t.Error("ClearAlarm matched with nothing left to clear")
	}
}

func TestUnloadLogBounded(t *testing.T) {
	s := testHistory()
	for i := 0; i < UnloadLogCap+10; i++ {
		s.RecordUnload(UnloadEntry{EventEpoch: float64(i), DeviceUID: "dev:A", Tank: 1})
	}
	unloads := s.Unloads(0)
	if len(unloads) != UnloadLogCap {
		t.Fatalf("unloads = %d, want %d", len(unloads), UnloadLogCap)
	}
	if unloads[0].EventEpoch != 10 {
		t.Errorf("oldest surviving epoch = %v, want 10", unloads[0].EventEpoch)
	}

	if got := len(s.Unloads(5)); got != 5 {
		t.Errorf("Unloads(5) = %d entries", got)
	}
}

func TestPruneDropsOldSnapshots(t *testing.T) {
	s := testHistory() // 7 day retention
	key := fleet.Key{DeviceUID: "dev:A", Tank: 1}

	now := float64(time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC).Unix())
	old := now - 8*86400
	fresh := now - 2*86400

	s.Push(key, Snapshot{Epoch: old, Level: 1})
	s.Push(key, Snapshot{Epoch: fresh, Level: 2})

	s.prune(now)
	ring := s.Trend(key)
	if len(ring) != 1 || ring[0].Epoch != fresh {
		t.Fatalf("ring after prune = %+v", ring)
	}

	// Once-per-day guard: a second prune the same day is a no-op even
	// with a moved cutoff.
	s.Push(key, Snapshot{Epoch: now - 7.5*86400, Level: 3})
	s.prune(now + 3600)
	if len(s.Trend(key)) != 2 {
		t.Error("prune ran twice within a day")
	}
}

func TestMonthStats(t *testing.T) {
	s := testHistory()
	key := fleet.Key{DeviceUID: "dev:A", Tank: 1}

	aug := func(day, hour int) float64 {
		return float64(time.Date(2026, 8, day, hour, 0, 0, 0, time.UTC).Unix())
	}
	jul := float64(time.Date(2026, 7, 31, 23, 0, 0, 0, time.UTC).Unix())

	s.Push(key, Snapshot{Epoch: jul, Level: 99, Volts: 13})
	s.Push(key, Snapshot{Epoch: aug(1, 0), Level: 10, Volts: 12.0})
	s.Push(key, Snapshot{Epoch: aug(2, 0), Level: 30, Volts: 12.4})
	s.Push(key, Snapshot{Epoch: aug(3, 0), Level: 20, Volts: 12.2})

	st, ok := s.MonthStats(key, "202608")
	if !ok {
		t.Fatal("MonthStats found no samples")
	}
	if st.Samples != 3 {
		t.Errorf("Samples = %d, want 3", st.Samples)
	}
	if st.MinLevel != 10 || st.MaxLevel != 30 || st.AvgLevel != 20 {
		t.Errorf("levels = min %v max %v avg %v", st.MinLevel, st.MaxLevel, st.AvgLevel)
	}
	if st.MinVolts != 12.0 || st.MaxVolts != 12.4 {
		t.Errorf("volts = min %v max %v", st.MinVolts, st.MaxVolts)
	}

	if _, ok := s.MonthStats(key, "202601"); ok {
		t.Error("MonthStats for empty month returned ok")
	}
}

func TestBuildMonthlySummary(t *testing.T) {
	s := testHistory()
	aug := float64(time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC).Unix())

	s.Push(fleet.Key{DeviceUID: "dev:B", Tank: 1}, Snapshot{Epoch: aug, Level: 5})
	s.Push(fleet.Key{DeviceUID: "dev:A", Tank: 2}, Snapshot{Epoch: aug, Level: 7})
	s.Push(fleet.Key{DeviceUID: "dev:A", Tank: 1}, Snapshot{Epoch: aug, Level: 6})
	s.RecordAlarm(AlarmEntry{Epoch: aug, DeviceUID: "dev:A", Tank: 1})
	s.RecordAlarm(AlarmEntry{Epoch: aug - 40*86400, DeviceUID: "dev:A", Tank: 1})

	doc := s.BuildMonthlySummary("202608")
	if doc.Month != "202608" {
		t.Errorf("Month = %q", doc.Month)
	}
	if len(doc.Tanks) != 3 {
		t.Fatalf("Tanks = %d, want 3", len(doc.Tanks))
	}
	// Sorted by device then tank for a stable archive document.
	want := []fleet.Key{
		{DeviceUID: "dev:A", Tank: 1},
		{DeviceUID: "dev:A", Tank: 2},
		{DeviceUID: "dev:B", Tank: 1},
	}
	for i, k := range want {
		if doc.Tanks[i].DeviceUID != k.DeviceUID || doc.Tanks[i].Tank != k.Tank {
			t.Errorf("Tanks[%d] = %s#%d, want %s#%d",
				i, doc.Tanks[i].DeviceUID, doc.Tanks[i].Tank, k.DeviceUID, k.Tank)
		}
	}
	if len(doc.Alarms) != 1 {
		t.Errorf("Alarms = %d, want 1 (other month excluded)", len(doc.Alarms))
	}
}

func TestMonthOf(t *testing.T) {
	e := float64(time.Date(2026, 1, 31, 23, 59, 59, 0, time.UTC).Unix())
	if got := MonthOf(e); got != "202601" {
		t.Errorf("MonthOf = %q, want 202601", got)
	}
}
