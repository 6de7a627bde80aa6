package settings

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/snarg/tankwatch/internal/fault"
)

// Settings are the runtime-mutable server settings. Unlike process config
// (env-driven, fixed for the process lifetime) these change through the
// HTTP API and survive restarts in a JSON file.
type Settings struct {
	SmsOnHigh  bool `json:"smsOnHigh"`
	SmsOnLow   bool `json:"smsOnLow"`
	SmsOnClear bool `json:"smsOnClear"`

	PrimaryNumber   string `json:"primaryNumber,omitempty"`
	SecondaryNumber string `json:"secondaryNumber,omitempty"`

	EmailTo          string `json:"emailTo,omitempty"`
	EmailSubject     string `json:"emailSubject,omitempty"`
	DailyEmailHour   int    `json:"dailyEmailHour"`
	DailyEmailMinute int    `json:"dailyEmailMinute"`

	ViewerIntervalHours int `json:"viewerIntervalHours"`
	ViewerBaseHour      int `json:"viewerBaseHour"`

	Contacts []Contact `json:"contacts,omitempty"`

	// SHA-256 hex digest of the 4-digit admin PIN. Empty = no PIN
	// configured, which locks out all mutating endpoints.
	PinHash string `json:"pinHash,omitempty"`
}

type Contact struct {
	Name  string   `json:"name"`
	Phone string   `json:"phone,omitempty"`
	Email string   `json:"email,omitempty"`
	Sites []string `json:"sites,omitempty"`
}

func defaults() Settings {
	return Settings{
		SmsOnHigh:           true,
		SmsOnLow:            true,
		SmsOnClear:          false,
		DailyEmailHour:      7,
		DailyEmailMinute:    0,
		ViewerIntervalHours: 6,
		ViewerBaseHour:      0,
	}
}

// Store holds the settings in memory and mirrors them to a JSON file.
// External edits to the file are picked up through fsnotify.
type Store struct {
	mu      sync.RWMutex
	current Settings
	path    string
	watcher *fsnotify.Watcher
	log     zerolog.Logger
}

func NewStore(dir string, log zerolog.Logger) (*Store, error) {
	s := &Store{
		current: defaults(),
		path:    filepath.Join(dir, "server_settings.json"),
		log:     log.With().Str("component", "settings").Logger(),
	}
	if err := s.loadFile(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fault.Wrap(fault.Storage, err, "load settings")
		}
		s.log.Info().Str("path", s.path).Msg("no settings file, using defaults")
	}
	return s, nil
}

// Watch starts picking up external edits to the settings file. The caller
// owns the returned stop function.
func (s *Store) Watch() (func(), error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return nil, err
	}
	s.watcher = w

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Name != s.path || !ev.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				if err := s.loadFile(); err != nil {
					s.log.Warn().Err(err).Msg("settings reload failed")
				} else {
					s.log.Info().Msg("settings reloaded from disk")
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.log.Warn().Err(err).Msg("settings watcher error")
			}
		}
	}()

	return func() { w.Close() }, nil
}

// Get returns a copy of the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update applies fn to a copy of the settings, commits the result, and
// persists it.
func (s *Store) Update(fn func(*Settings)) error {
	s.mu.Lock()
	next := s.current
	fn(&next)
	s.current = next
	s.mu.Unlock()
	return s.persist()
}

// PinConfigured reports whether an admin PIN has been set.
func (s *Store) PinConfigured() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.PinHash != ""
}

// VerifyPin checks a candidate PIN against the stored digest in constant time.
func (s *Store) VerifyPin(pin string) bool {
	s.mu.RLock()
	stored := s.current.PinHash
	s.mu.RUnlock()
	if stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashPin(pin)), []byte(stored)) == 1
}

// SetPin validates and stores a new 4-digit PIN.
func (s *Store) SetPin(pin string) error {
	if len(pin) != 4 {
		return fault.New(fault.Validation, "pin must be exactly 4 digits")
	}
	for _, c := range pin {
		if c < '0' || c > '9' {
			return fault.New(fault.Validation, "pin must be exactly 4 digits")
		}
	}
	return s.Update(func(st *Settings) { st.PinHash = HashPin(pin) })
}

// HashPin returns the hex SHA-256 digest of a PIN.
func HashPin(pin string) string {
	sum := sha256.Sum256([]byte(pin))
	return hex.EncodeToString(sum[:])
}

func (s *Store) loadFile() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	next := defaults()
	if err := json.Unmarshal(data, &next); err != nil {
		return fmt.Errorf("parse %s: %w", s.path, err)
	}
	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	return nil
}

// persist writes the settings atomically: temp file + rename.
func (s *Store) persist() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.current, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fault.Wrap(fault.Storage, err, "mkdir %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.tmp")
	if err != nil {
		return fault.Wrap(fault.Storage, err, "create temp")
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fault.Wrap(fault.Storage, err, "write settings")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fault.Wrap(fault.Storage, err, "close settings")
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fault.Wrap(fault.Storage, err, "rename settings")
	}
	return nil
}
