package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/tankwatch/internal/calibration"
	"github.com/snarg/tankwatch/internal/clock"
	"github.com/snarg/tankwatch/internal/fleet"
	"github.com/snarg/tankwatch/internal/history"
	"github.com/snarg/tankwatch/internal/ingest"
	"github.com/snarg/tankwatch/internal/metrics"
	"github.com/snarg/tankwatch/internal/sensor"
	"github.com/snarg/tankwatch/internal/seriallog"
	"github.com/snarg/tankwatch/internal/settings"
)

// maxBodyBytes caps mutating request bodies.
const maxBodyBytes = 16 << 10

// BusStatus is the server's read-only view of the bus adapter.
type BusStatus interface {
	IsConnected() bool
	PendingTotal() int
}

type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	Fleet       *fleet.State
	History     *history.Store
	Calibration *calibration.Store
	Configs     *sensor.ConfigCache
	Serial      *seriallog.Store
	Settings    *settings.Store
	Engine      *ingest.Engine
	Clock       *clock.Clock
	Bus         BusStatus
	Version     string
	StartTime   time.Time
	Log         zerolog.Logger
}

// Server is the HTTP facade. Reads render store snapshots; writes are
// validated here and handed to the ingest engine's serial task.
type Server struct {
	http *http.Server

	fleet    *fleet.State
	history  *history.Store
	calib    *calibration.Store
	configs  *sensor.ConfigCache
	serial   *seriallog.Store
	settings *settings.Store
	engine   *ingest.Engine
	clock    *clock.Clock
	bus      BusStatus

	version   string
	startTime time.Time
	log       zerolog.Logger
}

func NewServer(opts Options) *Server {
	s := &Server{
		fleet:     opts.Fleet,
		history:   opts.History,
		calib:     opts.Calibration,
		configs:   opts.Configs,
		serial:    opts.Serial,
		settings:  opts.Settings,
		engine:    opts.Engine,
		clock:     opts.Clock,
		bus:       opts.Bus,
		version:   opts.Version,
		startTime: opts.StartTime,
		log:       opts.Log,
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(opts.Log))
	r.Use(metrics.InstrumentHandler)
	r.Use(BodyLimit(maxBodyBytes))

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/api/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/tanks", s.handleTanks)
		r.Get("/clients", s.handleClients)
		r.Get("/unloads", s.handleUnloads)

		r.Get("/history", s.handleHistory)
		r.Get("/history/compare", s.handleHistoryCompare)
		r.Get("/history/yoy", s.handleHistoryYoy)

		r.Get("/calibration", s.handleCalibrationGet)
		r.Post("/calibration", s.handleCalibrationPost)

		r.Get("/contacts", s.handleContactsGet)
		r.Post("/contacts", s.handleContactsPost)

		r.Post("/config", s.handleConfig)
		r.Post("/server-settings", s.handleServerSettings)
		r.Post("/pin", s.handlePin)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/relay", s.handleRelay)
		r.Post("/relay/clear", s.handleRelayClear)
		r.Post("/pause", s.handlePause)

		r.Get("/serial-logs", s.handleSerialLogs)
		r.Get("/serial-export", s.handleSerialExport)
		r.Post("/serial-request", s.handleSerialRequest)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, http.StatusNotFound, "not found")
	})

	s.http = &http.Server{
		Addr:         opts.Addr,
		Handler:      r,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  opts.IdleTimeout,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
