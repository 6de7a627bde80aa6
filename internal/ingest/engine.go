// Package ingest runs the serial task at the heart of the server: it
// drains inbound notefiles, applies every state mutation, and fires the
// scheduled dispatches. HTTP workers hand mutations in through Do; reads
// go straight to the stores under their read locks.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/tankwatch/internal/alert"
	"github.com/snarg/tankwatch/internal/calibration"
	"github.com/snarg/tankwatch/internal/clock"
	"github.com/snarg/tankwatch/internal/fault"
	"github.com/snarg/tankwatch/internal/fleet"
	"github.com/snarg/tankwatch/internal/history"
	"github.com/snarg/tankwatch/internal/metrics"
	"github.com/snarg/tankwatch/internal/notebus"
	"github.com/snarg/tankwatch/internal/seriallog"
	"github.com/snarg/tankwatch/internal/sensor"
	"github.com/snarg/tankwatch/internal/settings"
)

// Bus is the engine's view of the bus adapter.
type Bus interface {
	Drain(file string, max int) []notebus.Note
	Enqueue(file string, body any, sync bool) error
	CurrentTime() (float64, bool)
	PendingTotal() int
}

const (
	maintenanceInterval = time.Hour
	watchdogInterval    = 30 * time.Second

	// serialRequestMinInterval throttles per-device log requests.
	serialRequestMinInterval = 60
)

type Options struct {
	Bus          Bus
	Clock        *clock.Clock
	Fleet        *fleet.State
	Serial       *seriallog.Store
	Calibration  *calibration.Store
	Configs      *sensor.ConfigCache
	History      *history.Store
	Alerts       *alert.Dispatcher
	Settings     *settings.Store
	PollInterval time.Duration
	WatchdogPath string
	Log          zerolog.Logger
}

// Engine owns all mutation of fleet state, calibration, history, and
// outbound enqueues. Exactly one goroutine runs its loop.
type Engine struct {
	bus      Bus
	clock    *clock.Clock
	fleet    *fleet.State
	serial   *seriallog.Store
	calib    *calibration.Store
	configs  *sensor.ConfigCache
	history  *history.Store
	alerts   *alert.Dispatcher
	settings *settings.Store

	pollInterval time.Duration
	watchdogPath string

	cmds   chan func()
	paused atomic.Bool

	email  alert.EmailScheduler
	viewer alert.ViewerScheduler

	lastMaintenance time.Time
	lastWatchdog    time.Time
	serialRequests  map[string]float64

	noteCount atomic.Int64
	log       zerolog.Logger
}

func NewEngine(opts Options) *Engine {
	poll := opts.PollInterval
	if poll < 5*time.Second {
		poll = 5 * time.Second
	}
	return &Engine{
		bus:            opts.Bus,
		clock:          opts.Clock,
		fleet:          opts.Fleet,
		serial:         opts.Serial,
		calib:          opts.Calibration,
		configs:        opts.Configs,
		history:        opts.History,
		alerts:         opts.Alerts,
		settings:       opts.Settings,
		pollInterval:   poll,
		watchdogPath:   opts.WatchdogPath,
		cmds:           make(chan func(), 64),
		serialRequests: make(map[string]float64),
		log:            opts.Log.With().Str("component", "ingest").Logger(),
	}
}

// Run is the serial task loop. It returns when ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.log.Info().Dur("poll", e.pollInterval).Msg("ingest engine started")
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info().Int64("total_notes", e.noteCount.Load()).Msg("ingest engine stopping")
			return
		case fn := <-e.cmds:
			fn()
		case <-ticker.C:
			e.cycle(ctx)
		}
	}
}

// cycle is one poll pass: clock sync, drain, schedulers, maintenance.
func (e *Engine) cycle(ctx context.Context) {
	e.clock.MaybeResync(e.bus)
	e.watchdogTick()

	if !e.paused.Load() {
		e.drainAll()
	}

	now := e.clock.Now()
	e.runSchedulers(now)

	if time.Since(e.lastMaintenance) >= maintenanceInterval {
		e.lastMaintenance = time.Now()
		e.history.Maintain(ctx, now, e.watchdogTick)
	}
}

// Do posts fn onto the serial task and waits for its result.
func (e *Engine) Do(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	select {
	case e.cmds <- func() { done <- fn() }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drainAll drains each inbound notefile in fixed order, bounded per file.
func (e *Engine) drainAll() {
	for _, file := range inboundFiles {
		notes := e.bus.Drain(file, DrainMaxPerFile)
		for _, note := range notes {
			e.noteCount.Add(1)
			metrics.NotesTotal.Inc()
			metrics.HandlerNotesTotal.WithLabelValues(file).Inc()
			if err := e.dispatch(file, note); err != nil {
				// One bad note never aborts the pipeline.
				metrics.NotesDroppedTotal.WithLabelValues(file).Inc()
				e.log.Warn().Err(err).Str("file", file).Msg("note dropped")
				e.serial.ServerWarn(e.clock.Now(), fmt.Sprintf("dropped note from %s: %v", file, err))
			}
		}
	}
}

func (e *Engine) dispatch(file string, note notebus.Note) error {
	switch file {
	case "telemetry.qi":
		return e.handleTelemetry(note)
	case "alarm.qi":
		return e.handleAlarm(note)
	case "daily.qi":
		return e.handleDaily(note)
	case "unload.qi":
		return e.handleUnload(note)
	case "serial_log.qi":
		return e.handleSerialLog(note)
	case "serial_ack.qi":
		return e.handleSerialAck(note)
	default:
		return fault.New(fault.Validation, "no handler for %s", file)
	}
}

// noteEpoch prefers the bus timestamp, falling back to the synced clock.
func (e *Engine) noteEpoch(note notebus.Note) float64 {
	if note.Epoch > 0 {
		return note.Epoch
	}
	return e.clock.Now()
}

func (e *Engine) runSchedulers(now float64) {
	st := e.settings.Get()

	if e.email.Due(now, st.DailyEmailHour, st.DailyEmailMinute) {
		if err := e.alerts.SendDailyEmail(e.fleet.Snapshot()); err != nil {
			e.log.Warn().Err(err).Msg("daily email dispatch failed")
		} else {
			metrics.EmailsSentTotal.Inc()
			e.log.Info().Msg("daily email dispatched")
		}
	}

	if e.viewer.Due(now, st.ViewerIntervalHours, st.ViewerBaseHour) {
		if err := e.alerts.SendViewerSummary(now, e.fleet.Snapshot()); err != nil {
			e.log.Warn().Err(err).Msg("viewer summary dispatch failed")
		}
	}
}

// watchdogTick emits the liveness signal: a heartbeat log plus, when a
// host watchdog path is configured, a touched file.
func (e *Engine) watchdogTick() {
	if time.Since(e.lastWatchdog) < watchdogInterval/2 {
		return
	}
	e.lastWatchdog = time.Now()
	if e.watchdogPath != "" {
		if err := os.WriteFile(e.watchdogPath, []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0o644); err != nil {
			e.log.Warn().Err(err).Msg("watchdog touch failed")
		}
	}
	e.log.Debug().Msg("liveness tick")
}

// ----- commands posted from the HTTP layer -----

// SubmitCalibration records a manual reading and recomputes the tank's fit.
func (e *Engine) SubmitCalibration(entry calibration.Entry) (calibration.Params, error) {
	if entry.Timestamp == 0 {
		entry.Timestamp = e.clock.Now()
	}
	return e.calib.Add(entry)
}

// DispatchConfig caches a device config snapshot and pushes it to the
// device. The cache is written first so the decoder and the device agree.
func (e *Engine) DispatchConfig(uid string, cfg json.RawMessage) error {
	if err := e.configs.Put(uid, cfg); err != nil {
		return err
	}
	return e.bus.Enqueue("device:"+uid+":config.qi", json.RawMessage(cfg), true)
}

// relayBody is the device relay command. The cmd discriminator separates
// the two shapes sharing the relay queue.
type relayBody struct {
	Cmd    string `json:"cmd"`
	Relay  int    `json:"relay,omitempty"`
	State  bool   `json:"state"`
	Tank   int    `json:"relay_reset_tank,omitempty"`
	Source string `json:"source"`
}

// SendRelay enqueues a single relay set command.
func (e *Engine) SendRelay(uid string, relay int, state bool, source string) error {
	return e.bus.Enqueue("device:"+uid+":relay.qi",
		relayBody{Cmd: "set", Relay: relay, State: state, Source: source}, true)
}

// ClearRelay enqueues a tank-scoped relay reset.
func (e *Engine) ClearRelay(uid string, tank int, source string) error {
	return e.bus.Enqueue("device:"+uid+":relay.qi",
		relayBody{Cmd: "clear_tank", Tank: tank, Source: source}, true)
}

// RequestSerialLogs asks a device to send its serial log, throttled
// per device.
func (e *Engine) RequestSerialLogs(uid string) error {
	now := e.clock.Now()
	if last, ok := e.serialRequests[uid]; ok && now != 0 && now-last < serialRequestMinInterval {
		return fault.New(fault.Capacity, "serial log request for %s throttled", uid)
	}
	body := map[string]any{"request": "send_logs", "timestamp": now}
	if err := e.bus.Enqueue("device:"+uid+":serial_request.qi", body, true); err != nil {
		return err
	}
	e.serialRequests[uid] = now
	if err := e.fleet.UpsertDevice(uid, func(meta *fleet.DeviceMeta) {
		meta.AwaitingLogs = true
	}); err != nil {
		e.log.Warn().Err(err).Str("device", uid).Msg("device meta upsert rejected")
	}
	return nil
}

// Refresh triggers an immediate drain outside the poll cadence.
func (e *Engine) Refresh() {
	if !e.paused.Load() {
		e.drainAll()
	}
}

// SetPaused toggles ingest pause. Outbound commands still flow.
func (e *Engine) SetPaused(paused bool) {
	e.paused.Store(paused)
	e.log.Info().Bool("paused", paused).Msg("ingest pause toggled")
}

func (e *Engine) Paused() bool { return e.paused.Load() }

// ----- metrics.EngineStats -----

func (e *Engine) TankCount() int        { return e.fleet.Len() }
func (e *Engine) DeviceCount() int      { return len(e.fleet.Devices()) }
func (e *Engine) HistoryRingCount() int { return e.history.RingCount() }
func (e *Engine) BusPending() int       { return e.bus.PendingTotal() }
