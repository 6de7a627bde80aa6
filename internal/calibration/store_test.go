package calibration

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/snarg/tankwatch/internal/fleet"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore("", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestRegressionTwoPoints(t *testing.T) {
	// 4 mA -> 0, 20 mA -> 100: slope 6.25, offset -25, perfect fit.
	s := testStore(t)
	key := fleet.Key{DeviceUID: "dev:A", Tank: 1}

	if _, err := s.Add(Entry{Timestamp: 100, DeviceUID: "dev:A", Tank: 1, SensorReading: 4.0, VerifiedLevel: 0}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	p, err := s.Add(Entry{Timestamp: 200, DeviceUID: "dev:A", Tank: 1, SensorReading: 20.0, VerifiedLevel: 100})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if !p.HasLearned {
		t.Fatal("HasLearned = false after two valid points")
	}
	if !almostEqual(p.Slope, 6.25) {
		t.Errorf("Slope = %v, want 6.25", p.Slope)
	}
	if !almostEqual(p.Offset, -25) {
		t.Errorf("Offset = %v, want -25", p.Offset)
	}
	if !almostEqual(p.R2, 1.0) {
		t.Errorf("R2 = %v, want 1.0", p.R2)
	}
	if p.EntryCount != 2 {
		t.Errorf("EntryCount = %d, want 2", p.EntryCount)
	}
	if p.LastCalibrationEpoch != 200 {
		t.Errorf("LastCalibrationEpoch = %v, want 200", p.LastCalibrationEpoch)
	}

	level, ok := s.LearnedLevel("dev:A", 1, 12.0)
	if !ok {
		t.Fatal("LearnedLevel not available")
	}
	if !almostEqual(level, 50.0) {
		t.Errorf("LearnedLevel(12.0) = %v, want 50.0", level)
	}

	if _, ok := s.Params(key); !ok {
		t.Error("Params missing after learning")
	}
}

func TestSinglePointNotLearned(t *testing.T) {
	s := testStore(t)
	p, err := s.Add(Entry{Timestamp: 100, DeviceUID: "dev:A", Tank: 1, SensorReading: 8.0, VerifiedLevel: 25})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if p.HasLearned {
		t.Error("HasLearned = true with a single point")
	}
	if p.EntryCount != 1 {
		t.Errorf("EntryCount = %d, want 1", p.EntryCount)
	}
	if _, ok := s.LearnedLevel("dev:A", 1, 8.0); ok {
		t.Error("LearnedLevel available without a learned fit")
	}
}

func TestDegenerateDeterminant(t *testing.T) {
	// Two points with identical x: denominator collapses, no fit.
	s := testStore(t)
	s.Add(Entry{Timestamp: 100, DeviceUID: "dev:A", Tank: 1, SensorReading: 8.0, VerifiedLevel: 20})
	p, err := s.Add(Entry{Timestamp: 200, DeviceUID: "dev:A", Tank: 1, SensorReading: 8.0, VerifiedLevel: 30})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if p.HasLearned {
		t.Error("HasLearned = true with degenerate determinant")
	}
	if p.EntryCount != 2 {
		t.Errorf("EntryCount = %d, want 2", p.EntryCount)
	}
}

func TestOutOfBandEntriesExcluded(t *testing.T) {
	// Readings outside 4-20 mA are kept in the log but not in the fit.
	s := testStore(t)
	s.Add(Entry{Timestamp: 100, DeviceUID: "dev:A", Tank: 1, SensorReading: 2.0, VerifiedLevel: 0})
	s.Add(Entry{Timestamp: 200, DeviceUID: "dev:A", Tank: 1, SensorReading: 4.0, VerifiedLevel: 0})
	p, _ := s.Add(Entry{Timestamp: 300, DeviceUID: "dev:A", Tank: 1, SensorReading: 20.0, VerifiedLevel: 100})

	if p.EntryCount != 3 {
		t.Errorf("EntryCount = %d, want 3", p.EntryCount)
	}
	if !p.HasLearned {
		t.Fatal("HasLearned = false despite two in-band points")
	}
	if !almostEqual(p.Slope, 6.25) || !almostEqual(p.Offset, -25) {
		t.Errorf("fit skewed by out-of-band entry: slope=%v offset=%v", p.Slope, p.Offset)
	}

	key := fleet.Key{DeviceUID: "dev:A", Tank: 1}
	if got := len(s.RecentEntries(key, 0)); got != 3 {
		t.Errorf("RecentEntries = %d, want 3", got)
	}
}

func TestFlatLineR2(t *testing.T) {
	s := testStore(t)
	s.Add(Entry{Timestamp: 100, DeviceUID: "dev:A", Tank: 1, SensorReading: 4.0, VerifiedLevel: 50})
	p, _ := s.Add(Entry{Timestamp: 200, DeviceUID: "dev:A", Tank: 1, SensorReading: 20.0, VerifiedLevel: 50})
	if !p.HasLearned {
		t.Fatal("HasLearned = false on flat line")
	}
	if !almostEqual(p.Slope, 0) {
		t.Errorf("Slope = %v, want 0", p.Slope)
	}
	if !almostEqual(p.R2, 1.0) {
		t.Errorf("R2 = %v, want 1.0", p.R2)
	}
}

func TestEntryLogCapacity(t *testing.T) {
	s := testStore(t)
	for i := 0; i < MaxEntriesPerTank; i++ {
		if _, err := s.Add(Entry{
			Timestamp: float64(i), DeviceUID: "dev:A", Tank: 1,
			SensorReading: 4.0 + float64(i%16), VerifiedLevel: float64(i),
		}); err != nil {
			t.Fatalf("Add %d: %v", i, err)
		}
	}
	if _, err := s.Add(Entry{Timestamp: 9999, DeviceUID: "dev:A", Tank: 1, SensorReading: 8.0, VerifiedLevel: 10}); err == nil {
		t.Fatal("expected capacity error")
	}
	// Other tanks are unaffected.
	if _, err := s.Add(Entry{Timestamp: 100, DeviceUID: "dev:A", Tank: 2, SensorReading: 8.0, VerifiedLevel: 10}); err != nil {
		t.Fatalf("other tank rejected: %v", err)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()

	s, err := NewStore(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	s.Add(Entry{Timestamp: 100, DeviceUID: "dev:A", Tank: 1, SensorReading: 4.0, VerifiedLevel: 0, Notes: "empty tank"})
	s.Add(Entry{Timestamp: 200, DeviceUID: "dev:A", Tank: 1, SensorReading: 20.0, VerifiedLevel: 100})

	// A fresh store replays the entry log and relearns the fit.
	s2, err := NewStore(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore reload: %v", err)
	}
	p, ok := s2.Params(fleet.Key{DeviceUID: "dev:A", Tank: 1})
	if !ok || !p.HasLearned {
		t.Fatalf("params not relearned from disk: %+v", p)
	}
	if !almostEqual(p.Slope, 6.25) || !almostEqual(p.Offset, -25) {
		t.Errorf("relearned fit = slope %v offset %v", p.Slope, p.Offset)
	}
	entries := s2.RecentEntries(fleet.Key{DeviceUID: "dev:A", Tank: 1}, 0)
	if len(entries) != 2 {
		t.Fatalf("restored entries = %d, want 2", len(entries))
	}
	if entries[0].Notes != "empty tank" {
		t.Errorf("Notes = %q, want %q", entries[0].Notes, "empty tank")
	}
}

func TestLoadSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "calibration_entries.tsv")
	content := "100\tdev:A\t1\t4\t0\t\n" +
		"garbage line without tabs\n" +
		"200\tdev:A\t1\t20\t100\t\n" +
		"300\tdev:A\tnot-a-number\t8\t50\t\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := NewStore(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	entries := s.RecentEntries(fleet.Key{DeviceUID: "dev:A", Tank: 1}, 0)
	if len(entries) != 2 {
		t.Fatalf("restored entries = %d, want 2", len(entries))
	}
	p, _ := s.Params(fleet.Key{DeviceUID: "dev:A", Tank: 1})
	if !p.HasLearned {
		t.Error("fit not learned from surviving lines")
	}
}

func TestParseEntryLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		ok   bool
	}{
		{"full", "100\tdev:A\t1\t4\t0\tsome note", true},
		{"no_notes", "100\tdev:A\t1\t4\t0", true},
		{"truncated", "100\tdev:A\t1", false},
		{"bad_tank", "100\tdev:A\tx\t4\t0", false},
		{"bad_ts", "abc\tdev:A\t1\t4\t0", false},
		{"empty_uid", "100\t\t1\t4\t0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := parseEntryLine(tt.line)
			if ok != tt.ok {
				t.Errorf("parseEntryLine(%q) ok = %v, want %v", tt.line, ok, tt.ok)
			}
		})
	}
}

func TestSetConfigMaxValue(t *testing.T) {
	s := testStore(t)
	key := fleet.Key{DeviceUID: "dev:A", Tank: 1}
	s.SetConfigMaxValue(key, 500)
	p, ok := s.Params(key)
	if !ok {
		t.Fatal("Params missing after SetConfigMaxValue")
	}
	if p.ConfigMaxValue != 500 {
		t.Errorf("ConfigMaxValue = %v, want 500", p.ConfigMaxValue)
	}
	if p.HasLearned {
		t.Error("SetConfigMaxValue should not mark the fit learned")
	}
}

func TestAllParamsAndEntries(t *testing.T) {
	s := testStore(t)
	for i := 1; i <= 3; i++ {
		s.Add(Entry{Timestamp: 100, DeviceUID: fmt.Sprintf("dev:%d", i), Tank: 1, SensorReading: 8, VerifiedLevel: 20})
	}
	if got := len(s.AllParams()); got != 3 {
		t.Errorf("AllParams = %d, want 3", got)
	}
	if got := len(s.AllEntries()); got != 3 {
		t.Errorf("AllEntries = %d, want 3", got)
	}
}
