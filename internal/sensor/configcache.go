// Package sensor converts raw sensor readings into engineering units using
// the per-device configuration the server last dispatched.
package sensor

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/snarg/tankwatch/internal/fault"
)

// TankConfig is the decoder-relevant slice of a device config for one tank.
type TankConfig struct {
	Tank        int     `json:"tank"`
	SubType     string  `json:"subType,omitempty"` // pressure, ultrasonic
	RangeMin    float64 `json:"rangeMin"`
	RangeMax    float64 `json:"rangeMax"`
	MountHeight float64 `json:"mountHeight,omitempty"`
	VMin        float64 `json:"vMin,omitempty"`
	VMax        float64 `json:"vMax,omitempty"`
	MaxValue    float64 `json:"maxValue,omitempty"`
}

// Snapshot is the cached device configuration: the opaque JSON the server
// dispatched plus the extracted fields the decoder needs.
type Snapshot struct {
	DeviceUID string
	Site      string
	Tanks     []TankConfig
	Raw       json.RawMessage
}

type snapshotDoc struct {
	Site  string       `json:"site"`
	Tanks []TankConfig `json:"tanks"`
}

// ConfigCache caches device-config snapshots in memory and mirrors them to
// disk as tab-delimited uid<TAB>json lines.
type ConfigCache struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
	path      string
	log       zerolog.Logger
}

func NewConfigCache(dir string, log zerolog.Logger) (*ConfigCache, error) {
	c := &ConfigCache{
		snapshots: make(map[string]Snapshot),
		log:       log.With().Str("component", "config-cache").Logger(),
	}
	if dir != "" {
		c.path = filepath.Join(dir, "device_configs.tsv")
		if err := c.loadFile(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Put stores a device config snapshot and rewrites the disk mirror. The
// in-memory cache stays authoritative when the mirror write fails.
func (c *ConfigCache) Put(uid string, raw json.RawMessage) error {
	var doc snapshotDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fault.Wrap(fault.Validation, err, "parse config for %s", uid)
	}

	c.mu.Lock()
	c.snapshots[uid] = Snapshot{DeviceUID: uid, Site: doc.Site, Tanks: doc.Tanks, Raw: raw}
	c.mu.Unlock()

	if err := c.writeFile(); err != nil {
		c.log.Warn().Err(err).Str("device", uid).Msg("config mirror write failed, memory remains authoritative")
	}
	return nil
}

// Get returns the snapshot for a device.
func (c *ConfigCache) Get(uid string) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.snapshots[uid]
	return snap, ok
}

// TankConfig returns the config for one (device, tank).
func (c *ConfigCache) TankConfig(uid string, tank int) (TankConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.snapshots[uid]
	if !ok {
		return TankConfig{}, false
	}
	for _, tc := range snap.Tanks {
		if tc.Tank == tank {
			return tc, true
		}
	}
	return TankConfig{}, false
}

// All returns every cached snapshot.
func (c *ConfigCache) All() []Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Snapshot, 0, len(c.snapshots))
	for _, snap := range c.snapshots {
		out = append(out, snap)
	}
	return out
}

func (c *ConfigCache) loadFile() error {
	f, err := os.Open(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fault.Wrap(fault.Storage, err, "open config cache")
	}
	defer f.Close()

	var restored, skipped int
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		uid, raw, ok := strings.Cut(sc.Text(), "\t")
		if !ok || uid == "" {
			skipped++
			continue
		}
		var doc snapshotDoc
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			skipped++
			continue
		}
		c.snapshots[uid] = Snapshot{DeviceUID: uid, Site: doc.Site, Tanks: doc.Tanks, Raw: json.RawMessage(raw)}
		restored++
	}
	if skipped > 0 {
		c.log.Warn().Int("skipped", skipped).Msg("skipped truncated config cache lines")
	}
	if restored > 0 {
		c.log.Info().Int("devices", restored).Msg("device config cache restored")
	}
	return nil
}

// writeFile rewrites the mirror. A failed write removes the partial file so
// the next startup never sees a half-written cache.
func (c *ConfigCache) writeFile() error {
	if c.path == "" {
		return nil
	}
	c.mu.RLock()
	lines := make([]string, 0, len(c.snapshots))
	for uid, snap := range c.snapshots {
		raw := strings.ReplaceAll(string(snap.Raw), "\n", "")
		lines = append(lines, uid+"\t"+raw)
	}
	c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fault.Wrap(fault.Storage, err, "mkdir")
	}
	tmp, err := os.CreateTemp(dir, ".configs-*.tmp")
	if err != nil {
		return fault.Wrap(fault.Storage, err, "create temp")
	}
	tmpPath := tmp.Name()
	w := bufio.NewWriter(tmp)
	for _, line := range lines {
		w.WriteString(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fault.Wrap(fault.Storage, err, "write config cache")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fault.Wrap(fault.Storage, err, "close config cache")
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		os.Remove(tmpPath)
		return fault.Wrap(fault.Storage, err, "rename config cache")
	}
	return nil
}
