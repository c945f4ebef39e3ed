package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/petems/capture-probe/internal/app"
	"github.com/petems/capture-probe/internal/audio"
	"github.com/petems/capture-probe/internal/capture"
	"github.com/petems/capture-probe/internal/config"
	"github.com/petems/capture-probe/internal/logging"
	"github.com/petems/capture-probe/internal/media"
	"github.com/petems/capture-probe/internal/permissions"
	"github.com/petems/capture-probe/internal/platform"
	"github.com/petems/capture-probe/internal/sim"
	"github.com/petems/capture-probe/internal/tray"
	"github.com/petems/capture-probe/internal/video"
	"github.com/rs/zerolog"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

// simulatedDropEvery drops one in this many simulated video frames.
const simulatedDropEvery = 250

type options struct {
	ListDevices bool   `short:"l" long:"list-devices" description:"List capture devices and their formats"`
	VideoIndex  int    `short:"v" long:"video-device-index" default:"-1" description:"Capture from the video device at this index"`
	AudioIndex  int    `short:"a" long:"audio-device-index" default:"-1" description:"Capture from the audio device at this index"`
	Config      string `short:"c" long:"config" description:"Path to the JSON config file"`
	Simulate    bool   `long:"simulate" description:"Use a simulated microphone and camera"`
	Tray        bool   `long:"tray" description:"Run as a status tray application"`
	LogLevel    string `long:"log-level" description:"Log level (trace, debug, info, warn, error)"`
	Policy      string `long:"policy" choice:"first" choice:"closest" description:"Video format negotiation policy"`
	StopMode    string `long:"stop-mode" choice:"teardown" choice:"legacy" description:"What stopping a capture does"`
	Version     bool   `long:"version" description:"Print the version and exit"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			return
		}
		os.Exit(1)
	}

	if opts.Version {
		fmt.Printf("capture-probe %s (%s)\n", Version, Commit)
		return
	}

	capturing := opts.VideoIndex != capture.NoDevice || opts.AudioIndex != capture.NoDevice
	if !opts.ListDevices && !capturing && !opts.Tray {
		parser.WriteHelp(os.Stdout)
		return
	}

	if err := run(opts, capturing); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(opts options, capturing bool) error {
	// Load config from XDG/Library/AppData
	cfgPath := opts.Config
	if cfgPath == "" {
		p, err := config.Path()
		if err != nil {
			return err
		}
		cfgPath = p
	}
	cfg, err := config.LoadFile(cfgPath)
	if err != nil {
		return err
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	if opts.Policy != "" {
		cfg.Video.Policy = opts.Policy
	}
	if opts.StopMode != "" {
		cfg.Session.StopMode = opts.StopMode
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logPath := cfg.LogFile
	if logPath == "" {
		if logPath, err = config.LogPath(); err != nil {
			return err
		}
	}
	logger, err := logging.New(logging.Options{
		Level:       cfg.LogLevel,
		File:        logPath,
		MaxLogFiles: cfg.MaxLogFiles,
	})
	if err != nil {
		return err
	}
	defer logger.Close()
	log := logger.Logger

	p, closePlatform := newPlatform(opts.Simulate, log)
	defer closePlatform()

	application := app.New(app.Config{
		Platform:   p,
		Config:     cfg,
		ConfigPath: cfgPath,
		Logger:     log,
	})

	if opts.ListDevices {
		application.ListDevices().Write(os.Stdout)
	}
	if !capturing && !opts.Tray {
		return nil
	}

	// macOS requires explicit camera and microphone approval before capture
	if !opts.Simulate {
		audioWanted := opts.Tray || opts.AudioIndex != capture.NoDevice
		videoWanted := opts.Tray || opts.VideoIndex != capture.NoDevice
		if err := permissions.EnsurePermissions(audioWanted, videoWanted); err != nil {
			return fmt.Errorf("required permissions not granted: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.Tray {
		trayUI := tray.New(application, tray.Options{
			AudioIndex: opts.AudioIndex,
			VideoIndex: opts.VideoIndex,
			LogPath:    logPath,
			Version:    Version,
			Commit:     Commit,
		}, log)
		application.SetStatusUpdater(trayUI)
		log.Info().Msg("capture-probe tray starting...")
		// Start tray UI - MUST run on main thread
		return trayUI.Run(ctx)
	}

	if err := application.StartCapture(ctx, opts.AudioIndex, opts.VideoIndex); err != nil {
		return err
	}
	fmt.Println("Capturing; press Enter or Ctrl-C to stop")

	waitForStop(ctx)
	log.Info().Msg("Shutting down...")
	if err := application.StopCapture(); err != nil && !errors.Is(err, app.ErrNotCapturing) {
		return err
	}
	return nil
}

// newPlatform returns the capture platform and a function releasing it.
func newPlatform(simulate bool, log zerolog.Logger) (media.Platform, func()) {
	if simulate {
		return sim.New(sim.WithTicker(simulatedDropEvery)), func() {}
	}

	var audioPlatform media.Platform
	pa, err := audio.New(log)
	if err != nil {
		log.Warn().Err(err).Msg("Audio capture unavailable")
	} else {
		audioPlatform = pa
	}
	vp := video.New(log)

	return platform.Compose(audioPlatform, vp), func() {
		if pa != nil {
			if err := pa.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to release audio backend")
			}
		}
		vp.Close()
	}
}

// waitForStop blocks until a line is read from stdin or ctx is done.
func waitForStop(ctx context.Context) {
	line := make(chan struct{})
	go func() {
		bufio.NewReader(os.Stdin).ReadString('\n')
		close(line)
	}()

	select {
	case <-line:
	case <-ctx.Done():
	}
}
