package clock

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ResyncInterval is how stale a sync may get before the engine asks the
// bus for fresh wall-clock time.
const ResyncInterval = 6 * time.Hour

// TimeSource supplies reconciled wall-clock time, typically the bus adapter.
type TimeSource interface {
	CurrentTime() (float64, bool)
}

// Clock reconciles wall-clock epochs from the bus against the local
// monotonic clock. Until the first successful sync Now returns 0.
type Clock struct {
	mu          sync.Mutex
	syncedEpoch float64
	syncedMono  time.Time
	log         zerolog.Logger
}

func New(log zerolog.Logger) *Clock {
	return &Clock{log: log.With().Str("component", "clock").Logger()}
}

// Now returns the current epoch in float seconds, or 0 if never synced.
func (c *Clock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.syncedEpoch == 0 {
		return 0
	}
	return c.syncedEpoch + time.Since(c.syncedMono).Seconds()
}

// Synced reports whether at least one successful sync has happened.
func (c *Clock) Synced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncedEpoch != 0
}

// MaybeResync refreshes the sync pair from src when unsynced or when the
// last sync is older than ResyncInterval. Called from the ingest loop.
func (c *Clock) MaybeResync(src TimeSource) {
	c.mu.Lock()
	fresh := c.syncedEpoch != 0 && time.Since(c.syncedMono) < ResyncInterval
	c.mu.Unlock()
	if fresh {
		return
	}

	epoch, ok := src.CurrentTime()
	if !ok || epoch <= 0 {
		c.log.Debug().Msg("bus time unavailable, keeping previous sync")
		return
	}

	c.mu.Lock()
	c.syncedEpoch = epoch
	c.syncedMono = time.Now()
	c.mu.Unlock()
	c.log.Info().Float64("epoch", epoch).Msg("clock synced from bus")
}

// SetForTest pins the clock to a fixed epoch. Test helper.
func (c *Clock) SetForTest(epoch float64) {
	c.mu.Lock()
	c.syncedEpoch = epoch
	c.syncedMono = time.Now()
	c.mu.Unlock()
}
