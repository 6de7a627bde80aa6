// Package calibration learns a per-tank linear mapping from raw current
// loop readings to verified levels, via ordinary least squares over all
// accepted entries for the tank.
package calibration

import (
	"math"
	"sync"

	"github.com/rs/zerolog"

	"github.com/snarg/tankwatch/internal/fault"
	"github.com/snarg/tankwatch/internal/fleet"
)

const (
	// MaxEntriesPerTank bounds the entry log for one tank.
	MaxEntriesPerTank = 50

	// Valid regression inputs: current loop readings within the 4-20 mA
	// band. Out-of-band entries are persisted but excluded from the fit.
	MinValidReading = 4.0
	MaxValidReading = 20.0

	// Determinants below this are treated as degenerate (all x equal).
	denomEpsilon = 1e-4
)

// Entry is one manually verified reading.
type Entry struct {
	Timestamp     float64 `json:"timestamp"`
	DeviceUID     string  `json:"device"`
	Tank          int     `json:"tank"`
	SensorReading float64 `json:"sensorReading"`
	VerifiedLevel float64 `json:"verifiedLevel"`
	Notes         string  `json:"notes,omitempty"`
}

// Valid reports whether the entry participates in the regression.
func (e Entry) Valid() bool {
	return e.SensorReading >= MinValidReading && e.SensorReading <= MaxValidReading && e.VerifiedLevel >= 0
}

// Params are the learned regression parameters for one tank:
// level = Slope*sensor + Offset.
type Params struct {
	DeviceUID            string  `json:"device"`
	Tank                 int     `json:"tank"`
	Slope                float64 `json:"slope"`
	Offset               float64 `json:"offset"`
	R2                   float64 `json:"r2"`
	EntryCount           int     `json:"entryCount"`
	LastCalibrationEpoch float64 `json:"lastCalibrationEpoch"`
	ConfigMaxValue       float64 `json:"configMaxValue,omitempty"`
	HasLearned           bool    `json:"hasLearnedCalibration"`
}

// Store holds the append-only entry log and the learned params per tank.
type Store struct {
	mu      sync.RWMutex
	entries map[fleet.Key][]Entry
	params  map[fleet.Key]Params
	persist *persister
	log     zerolog.Logger
}

func NewStore(dir string, log zerolog.Logger) (*Store, error) {
	s := &Store{
		entries: make(map[fleet.Key][]Entry),
		params:  make(map[fleet.Key]Params),
		log:     log.With().Str("component", "calibration").Logger(),
	}
	if dir != "" {
		s.persist = newPersister(dir, s.log)
		if err := s.persist.load(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add appends an entry and recomputes the regression for its tank. The
// entry is persisted even when it falls outside the valid reading band.
func (s *Store) Add(e Entry) (Params, error) {
	key := fleet.Key{DeviceUID: e.DeviceUID, Tank: e.Tank}

	s.mu.Lock()
	log := s.entries[key]
	if len(log) >= MaxEntriesPerTank {
		s.mu.Unlock()
		return Params{}, fault.New(fault.Capacity, "calibration log full for %s#%d (%d entries)",
			e.DeviceUID, e.Tank, MaxEntriesPerTank)
	}
	s.entries[key] = append(log, e)
	p := s.recomputeLocked(key, e.Timestamp)
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.appendEntry(e); err != nil {
			s.log.Warn().Err(err).Msg("calibration entry persist failed")
		}
		if err := s.persist.writeParams(s.allParams()); err != nil {
			s.log.Warn().Err(err).Msg("calibration params persist failed")
		}
	}
	return p, nil
}

// recomputeLocked runs OLS over the valid entries of one tank.
func (s *Store) recomputeLocked(key fleet.Key, epoch float64) Params {
	p := s.params[key]
	p.DeviceUID = key.DeviceUID
	p.Tank = key.Tank
	p.EntryCount = len(s.entries[key])
	if epoch > 0 {
		p.LastCalibrationEpoch = epoch
	}

	var n float64
	var sumX, sumY, sumXY, sumXX, sumYY float64
	for _, e := range s.entries[key] {
		if !e.Valid() {
			continue
		}
		n++
		sumX += e.SensorReading
		sumY += e.VerifiedLevel
		sumXY += e.SensorReading * e.VerifiedLevel
		sumXX += e.SensorReading * e.SensorReading
		sumYY += e.VerifiedLevel * e.VerifiedLevel
	}

	denom := n*sumXX - sumX*sumX
	if n < 2 || math.Abs(denom) < denomEpsilon {
		p.HasLearned = false
		s.params[key] = p
		return p
	}

	p.Slope = (n*sumXY - sumX*sumY) / denom
	p.Offset = (sumY - p.Slope*sumX) / n

	r2Denom := denom * (n*sumYY - sumY*sumY)
	if r2Denom <= 0 {
		// All y equal: the fit is exact on a flat line.
		p.R2 = 1
	} else {
		num := n*sumXY - sumX*sumY
		p.R2 = num * num / r2Denom
	}
	if p.R2 < 0 {
		p.R2 = 0
	} else if p.R2 > 1 {
		p.R2 = 1
	}
	p.HasLearned = true
	s.params[key] = p
	return p
}

// SetConfigMaxValue records the device config's max value for drift reporting.
func (s *Store) SetConfigMaxValue(key fleet.Key, maxValue float64) {
	s.mu.Lock()
	p := s.params[key]
	p.DeviceUID = key.DeviceUID
	p.Tank = key.Tank
	p.ConfigMaxValue = maxValue
	s.params[key] = p
	s.mu.Unlock()
}

// LearnedLevel applies the learned mapping to a reading. Returns false
// when no usable calibration exists for the tank.
func (s *Store) LearnedLevel(uid string, tank int, reading float64) (float64, bool) {
	s.mu.RLock()
	p, ok := s.params[fleet.Key{DeviceUID: uid, Tank: tank}]
	s.mu.RUnlock()
	if !ok || !p.HasLearned {
		return 0, false
	}
	return p.Slope*reading + p.Offset, true
}

// Params returns the learned params for one tank.
func (s *Store) Params(key fleet.Key) (Params, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.params[key]
	return p, ok
}

// AllParams returns all learned params.
func (s *Store) AllParams() []Params {
	return s.allParams()
}

func (s *Store) allParams() []Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Params, 0, len(s.params))
	for _, p := range s.params {
		out = append(out, p)
	}
	return out
}

// RecentEntries returns up to max entries for a tank, newest last.
func (s *Store) RecentEntries(key fleet.Key, max int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.entries[key]
	if max > 0 && len(log) > max {
		log = log[len(log)-max:]
	}
	out := make([]Entry, len(log))
	copy(out, log)
	return out
}

// AllEntries returns every entry across tanks, in insertion order per tank.
func (s *Store) AllEntries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, log := range s.entries {
		out = append(out, log...)
	}
	return out
}

// restore inserts an entry loaded from disk without re-persisting.
func (s *Store) restore(e Entry) {
	key := fleet.Key{DeviceUID: e.DeviceUID, Tank: e.Tank}
	s.mu.Lock()
	if len(s.entries[key]) < MaxEntriesPerTank {
		s.entries[key] = append(s.entries[key], e)
		s.recomputeLocked(key, e.Timestamp)
	}
	s.mu.Unlock()
}
