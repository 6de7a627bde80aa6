// Package seriallog keeps bounded diagnostic log rings: one per client
// device plus one for the server itself. Entries are operator-facing only;
// nothing downstream consumes them.
package seriallog

import (
	"sync"

	"github.com/rs/zerolog"
)

const (
	DeviceRingCap = 200
	ServerRingCap = 500
	maxDevices    = 100
)

// Entry is one diagnostic log line.
type Entry struct {
	Epoch   float64 `json:"timestamp"`
	Message string  `json:"message"`
	Level   string  `json:"level"` // info, warn, error
	Source  string  `json:"source"`
}

// Store holds the server ring and the per-device rings.
type Store struct {
	mu      sync.RWMutex
	server  []Entry
	devices map[string][]Entry
	log     zerolog.Logger
}

func NewStore(log zerolog.Logger) *Store {
	return &Store{
		devices: make(map[string][]Entry),
		log:     log.With().Str("component", "seriallog").Logger(),
	}
}

// AppendServer adds an entry to the server ring, dropping the oldest on
// overflow.
func (s *Store) AppendServer(e Entry) {
	s.mu.Lock()
	s.server = appendBounded(s.server, e, ServerRingCap)
	s.mu.Unlock()
}

// ServerWarn is shorthand for recording a server-side warning entry.
func (s *Store) ServerWarn(epoch float64, msg string) {
	s.AppendServer(Entry{Epoch: epoch, Message: msg, Level: "warn", Source: "server"})
}

// AppendDevice adds an entry to a device ring. The device table is bounded:
// rings for new devices past the cap are rejected with a warning.
func (s *Store) AppendDevice(uid string, e Entry) {
	s.mu.Lock()
	ring, ok := s.devices[uid]
	if !ok && len(s.devices) >= maxDevices {
		s.mu.Unlock()
		s.log.Warn().Str("device", uid).Msg("serial log device table full, entry rejected")
		return
	}
	s.devices[uid] = appendBounded(ring, e, DeviceRingCap)
	s.mu.Unlock()
}

// Server returns up to max server entries newer than since, oldest first.
func (s *Store) Server(max int, since float64) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterRing(s.server, max, since)
}

// Device returns up to max entries for a device newer than since, oldest first.
func (s *Store) Device(uid string, max int, since float64) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterRing(s.devices[uid], max, since)
}

// DeviceUIDs lists devices that have log rings.
func (s *Store) DeviceUIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	uids := make([]string, 0, len(s.devices))
	for uid := range s.devices {
		uids = append(uids, uid)
	}
	return uids
}

func appendBounded(ring []Entry, e Entry, limit int) []Entry {
	ring = append(ring, e)
	if len(ring) > limit {
		ring = ring[len(ring)-limit:]
	}
	return ring
}

func filterRing(ring []Entry, max int, since float64) []Entry {
	out := make([]Entry, 0, len(ring))
	for _, e := range ring {
		if e.Epoch > since {
			out = append(out, e)
		}
	}
	if max > 0 && len(out) > max {
		out = out[len(out)-max:]
	}
	return out
}
