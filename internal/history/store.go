// Package history is the tiered historical data store: hot in-memory rings
// per tank, the alarm and unload logs, and the cold-tier monthly archive.
// It is the sole in-process source for the history API endpoints.
package history

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/snarg/tankwatch/internal/fleet"
)

const (
	// HourlyRingCap holds 7 days of hourly snapshots.
	HourlyRingCap = 168
	AlarmLogCap   = 300
	UnloadLogCap  = 200
)

// Snapshot is one hot-tier sample for a tank.
type Snapshot struct {
	Epoch float64 `json:"epoch"`
	Level float64 `json:"level"`
	Volts float64 `json:"volts"`
}

// AlarmEntry is one alarm-log record. It enters uncleared and is updated
// in place when the matching clear arrives.
type AlarmEntry struct {
	Epoch        float64 `json:"epoch"`
	Site         string  `json:"site"`
	DeviceUID    string  `json:"device"`
	Tank         int     `json:"tank"`
	Level        float64 `json:"level"`
	IsHigh       bool    `json:"isHigh"`
	Cleared      bool    `json:"cleared"`
	ClearedEpoch float64 `json:"clearedEpoch,omitempty"`
}

// UnloadEntry is one fill-and-empty level drop event.
type UnloadEntry struct {
	EventEpoch    float64 `json:"eventEpoch"`
	PeakEpoch     float64 `json:"peakEpoch"`
	Site          string  `json:"site"`
	DeviceUID     string  `json:"device"`
	TankLabel     string  `json:"tankLabel"`
	Tank          int     `json:"tank"`
	PeakLevel     float64 `json:"peakLevel"`
	EmptyLevel    float64 `json:"emptyLevel"`
	PeakSensorMa  float64 `json:"peakSensorMa,omitempty"`
	EmptySensorMa float64 `json:"emptySensorMa,omitempty"`
	SmsSent       bool    `json:"smsSent"`
	EmailQueued   bool    `json:"emailQueued"`
}

// Store holds all history tiers. Writes come from the engine's serial
// task; API reads take the read lock.
type Store struct {
	mu      sync.RWMutex
	hourly  map[fleet.Key][]Snapshot
	alarms  []AlarmEntry
	unloads []UnloadEntry

	retentionDays  int
	lastPruneEpoch float64

	archiver          *Archiver
	lastArchivedMonth string

	log zerolog.Logger
}

func NewStore(retentionDays int, archiver *Archiver, log zerolog.Logger) *Store {
	if retentionDays <= 0 {
		retentionDays = 7
	}
	return &Store{
		hourly:        make(map[fleet.Key][]Snapshot),
		retentionDays: retentionDays,
		archiver:      archiver,
		log:           log.With().Str("component", "history").Logger(),
	}
}

// Push appends a hot-tier snapshot for a tank, dropping the oldest on
// overflow.
func (s *Store) Push(key fleet.Key, snap Snapshot) {
	s.mu.Lock()
	ring := append(s.hourly[key], snap)
	if len(ring) > HourlyRingCap {
		ring = ring[len(ring)-HourlyRingCap:]
	}
	s.hourly[key] = ring
	s.mu.Unlock()
}

// RecordAlarm appends an uncleared alarm-log entry.
func (s *Store) RecordAlarm(e AlarmEntry) {
	s.mu.Lock()
	s.alarms = append(s.alarms, e)
	if len(s.alarms) > AlarmLogCap {
		s.alarms = s.alarms[len(s.alarms)-AlarmLogCap:]
	}
	s.mu.Unlock()
}

// ClearAlarm marks the most recent uncleared entry for (device, tank) as
// cleared. Returns false when no matching entry exists.
func (s *Store) ClearAlarm(uid string, tank int, clearedEpoch float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.alarms) - 1; i >= 0; i-- {
		e := &s.alarms[i]
		if e.DeviceUID == uid && e.Tank == tank && !e.Cleared {
			e.Cleared = true
			e.ClearedEpoch = clearedEpoch
			return true
		}
	}
	return false
}

// RecordUnload appends an unload-log entry.
func (s *Store) RecordUnload(e UnloadEntry) {
	s.mu.Lock()
	s.unloads = append(s.unloads, e)
	if len(s.unloads) > UnloadLogCap {
		s.unloads = s.unloads[len(s.unloads)-UnloadLogCap:]
	}
	s.mu.Unlock()
}

// Trend returns a copy of the hot ring for one tank.
func (s *Store) Trend(key fleet.Key) []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ring := s.hourly[key]
	out := make([]Snapshot, len(ring))
	copy(out, ring)
	return out
}

// Trends returns copies of every tank's hot ring.
func (s *Store) Trends() map[fleet.Key][]Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[fleet.Key][]Snapshot, len(s.hourly))
	for key, ring := range s.hourly {
		cp := make([]Snapshot, len(ring))
		copy(cp, ring)
		out[key] = cp
	}
	return out
}

// Alarms returns up to max alarm-log entries, newest last.
func (s *Store) Alarms(max int) []AlarmEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.alarms
	if max > 0 && len(log) > max {
		log = log[len(log)-max:]
	}
	out := make([]AlarmEntry, len(log))
	copy(out, log)
	return out
}

// Unloads returns up to max unload-log entries, newest last.
func (s *Store) Unloads(max int) []UnloadEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.unloads
	if max > 0 && len(log) > max {
		log = log[len(log)-max:]
	}
	out := make([]UnloadEntry, len(log))
	copy(out, log)
	return out
}

// RingCount returns the number of hot-tier rings (one per tank seen).
func (s *Store) RingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.hourly)
}

// prune drops snapshots older than the hot-tier retention window. Guarded
// to run at most once per day.
func (s *Store) prune(now float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now-s.lastPruneEpoch < 86400 {
		return
	}
	s.lastPruneEpoch = now

	cutoff := now - float64(s.retentionDays)*86400
	var dropped int
	for key, ring := range s.hourly {
		i := 0
		for i < len(ring) && ring[i].Epoch < cutoff {
			i++
		}
		if i > 0 {
			dropped += i
			s.hourly[key] = append(ring[:0:0], ring[i:]...)
		}
	}
	if dropped > 0 {
		s.log.Info().Int("dropped", dropped).Msg("hot tier pruned")
	}
}
