package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/petems/capture-probe/internal/capture"
	"github.com/petems/capture-probe/internal/config"
	"github.com/petems/capture-probe/internal/counter"
	"github.com/petems/capture-probe/internal/device"
	"github.com/petems/capture-probe/internal/media"
	"github.com/petems/capture-probe/internal/negotiate"
	"github.com/rs/zerolog"
)

var (
	ErrCapturing    = errors.New("capture already running")
	ErrNotCapturing = errors.New("no capture running")
)

// StatusUpdater is an interface for updating status (e.g., tray icon).
// SetReport is called from the delivery context and must not block.
type StatusUpdater interface {
	SetIdle()
	SetStarting()
	SetCapturing()
	SetError()
	SetReport(r counter.Report)
}

type Config struct {
	Platform      media.Platform
	Config        *config.Config
	ConfigPath    string // where setting changes are saved; empty disables saving
	Logger        zerolog.Logger
	StatusUpdater StatusUpdater // Optional - can be nil
}

type App struct {
	platform media.Platform
	catalog  *device.Catalog
	cfg      *config.Config
	cfgPath  string
	log      zerolog.Logger
	status   StatusUpdater

	mu      sync.Mutex
	session *capture.Session
}

func New(cfg Config) *App {
	return &App{
		platform: cfg.Platform,
		catalog:  device.NewCatalog(cfg.Platform, cfg.Logger),
		cfg:      cfg.Config,
		cfgPath:  cfg.ConfigPath,
		log:      cfg.Logger,
		status:   cfg.StatusUpdater,
	}
}

// SetStatusUpdater sets the status sink (for circular dependency resolution).
func (a *App) SetStatusUpdater(s StatusUpdater) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = s
}

// ListDevices returns a fresh device listing.
func (a *App) ListDevices() device.Listing {
	return a.catalog.List()
}

// StartCapture starts a new session on the given device indices. Either may
// be capture.NoDevice.
func (a *App) StartCapture(ctx context.Context, audioIndex, videoIndex int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.capturingLocked() {
		return ErrCapturing
	}

	opts := a.cfg.SessionOptions()
	if status := a.status; status != nil {
		opts.OnReport = status.SetReport
	}
	s := capture.NewSession(a.platform, opts, a.log)

	a.log.Info().
		Str("session", s.ID()).
		Int("audio_index", audioIndex).
		Int("video_index", videoIndex).
		Msg("Starting capture")
	a.setStatus(StatusUpdater.SetStarting)

	if err := s.Start(ctx, audioIndex, videoIndex); err != nil {
		a.log.Error().Err(err).Msg("Failed to start capture")
		a.setStatus(StatusUpdater.SetError)
		return err
	}

	a.session = s
	a.setStatus(StatusUpdater.SetCapturing)
	return nil
}

// StopCapture stops the running session.
func (a *App) StopCapture() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopLocked()
}

func (a *App) stopLocked() error {
	if !a.capturingLocked() {
		return ErrNotCapturing
	}

	if err := a.session.Stop(); err != nil {
		a.log.Error().Err(err).Msg("Stop error")
		a.setStatus(StatusUpdater.SetError)
		return err
	}
	if a.session.State() == capture.StateStopped {
		a.setStatus(StatusUpdater.SetIdle)
	}
	return nil
}

// Session returns the most recently started session, or nil.
func (a *App) Session() *capture.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

func (a *App) IsCapturing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.capturingLocked()
}

func (a *App) capturingLocked() bool {
	return a.session != nil && a.session.State() == capture.StateRunning
}

// Snapshot returns the counters of the most recent session.
func (a *App) Snapshot() (counter.Snapshot, bool) {
	s := a.Session()
	if s == nil || s.Counter() == nil {
		return counter.Snapshot{}, false
	}
	return s.Counter().Snapshot(), true
}

func (a *App) Shutdown(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if !a.capturingLocked() {
			done <- nil
			return
		}
		done <- a.stopLocked()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *App) setStatus(fn func(StatusUpdater)) {
	if a.status != nil {
		fn(a.status)
	}
}

// Tray actions

// Policy returns the configured format negotiation policy name.
func (a *App) Policy() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.Video.Policy
}

func (a *App) SetPolicy(name string) error {
	if _, err := negotiate.ParsePolicy(name); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.capturingLocked() {
		return fmt.Errorf("cannot change while capturing")
	}

	a.cfg.Video.Policy = name
	return a.saveLocked()
}

// StopMode returns the configured stop mode name.
func (a *App) StopMode() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.Session.StopMode
}

func (a *App) SetStopMode(name string) error {
	if _, err := capture.ParseStopMode(name); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.capturingLocked() {
		return fmt.Errorf("cannot change while capturing")
	}

	a.cfg.Session.StopMode = name
	return a.saveLocked()
}

func (a *App) saveLocked() error {
	if a.cfgPath == "" {
		return nil
	}
	return a.cfg.SaveFile(a.cfgPath)
}
