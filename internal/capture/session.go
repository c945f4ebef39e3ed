// Package capture builds a capture pipeline from catalog devices and routes
// delivered samples to a counter.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/petems/capture-probe/internal/counter"
	"github.com/petems/capture-probe/internal/device"
	"github.com/petems/capture-probe/internal/media"
	"github.com/petems/capture-probe/internal/negotiate"
	"github.com/rs/zerolog"
)

// NoDevice requests no device for a stream.
const NoDevice = -1

type State int

const (
	StateUnconfigured State = iota
	StateConfiguring
	StateRunning
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfiguring:
		return "configuring"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// StopMode selects what Stop does with a running pipeline.
type StopMode int

const (
	// StopTeardown stops delivery and releases the pipeline.
	StopTeardown StopMode = iota
	// StopLegacy only logs that stopping is not implemented and leaves the
	// pipeline running.
	StopLegacy
)

func (m StopMode) String() string {
	if m == StopLegacy {
		return "legacy"
	}
	return "teardown"
}

// ParseStopMode parses "teardown" or "legacy".
func ParseStopMode(s string) (StopMode, error) {
	switch s {
	case "", "teardown":
		return StopTeardown, nil
	case "legacy":
		return StopLegacy, nil
	}
	return StopTeardown, fmt.Errorf("unknown stop mode %q", s)
}

// Options configures a Session.
type Options struct {
	Video  media.VideoTarget
	Audio  media.AudioTarget
	Policy negotiate.Policy
	// ReportInterval applies to sessions with a single stream and
	// CombinedReportInterval to sessions with both.
	ReportInterval         int
	CombinedReportInterval int
	// StartTimeout bounds Start; zero means no bound.
	StartTimeout time.Duration
	StopMode     StopMode
	OnReport     func(counter.Report)
}

// DefaultOptions returns 1280x720 '420v' at 30 fps, 44.1kHz 16-bit stereo PCM,
// and report intervals of 100 and 500 samples.
func DefaultOptions() Options {
	return Options{
		Video: media.VideoTarget{
			Width:     1280,
			Height:    720,
			Encoding:  media.PixelFormat420v,
			FrameRate: 30,
		},
		Audio:                  media.DefaultAudioTarget,
		Policy:                 negotiate.FirstMatch,
		ReportInterval:         100,
		CombinedReportInterval: 500,
		StartTimeout:           10 * time.Second,
	}
}

// Binding is a device wired into the pipeline.
type Binding struct {
	Device media.Device
	// Format is the negotiated format, nil for audio.
	Format *negotiate.Result

	input  media.Input
	output media.Output
}

// Session owns at most one audio and one video binding. A session is started
// once; create a new one to capture again.
type Session struct {
	id       string
	platform media.Platform
	catalog  *device.Catalog
	opts     Options
	log      zerolog.Logger

	mu       sync.Mutex
	state    State
	pipeline media.Pipeline
	audio    *Binding
	video    *Binding
	counter  *counter.Counter
}

// NewSession creates an unconfigured session on p.
func NewSession(p media.Platform, opts Options, log zerolog.Logger) *Session {
	id := uuid.NewString()
	log = log.With().Str("session", id).Logger()
	return &Session{
		id:       id,
		platform: p,
		catalog:  device.NewCatalog(p, log),
		opts:     opts,
		log:      log,
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Counter returns the sample counter of a started session, nil otherwise.
func (s *Session) Counter() *counter.Counter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter
}

// Audio returns the audio binding, nil when no audio device is in use.
func (s *Session) Audio() *Binding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio
}

// Video returns the video binding, nil when no video device is in use.
func (s *Session) Video() *Binding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.video
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

type buildResult struct {
	pipeline media.Pipeline
	audio    *Binding
	video    *Binding
	err      error
}

// Start resolves the device indices against a fresh catalog snapshot, builds
// the pipeline and starts delivery. Pass NoDevice to leave a stream out. Any
// failure aborts the whole start, releases what was built and leaves the
// session in StateFailed.
func (s *Session) Start(ctx context.Context, audioIndex, videoIndex int) error {
	s.mu.Lock()
	if s.state != StateUnconfigured {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot start a %s session", ErrSessionState, state)
	}
	s.state = StateConfiguring
	s.mu.Unlock()

	audioDev, videoDev, err := s.resolve(audioIndex, videoIndex)
	if err != nil {
		s.setState(StateFailed)
		return err
	}

	interval := s.opts.ReportInterval
	if audioDev != nil && videoDev != nil {
		interval = s.opts.CombinedReportInterval
	}
	var copts []counter.Option
	if s.opts.OnReport != nil {
		copts = append(copts, counter.WithReportHook(s.opts.OnReport))
	}
	cnt := counter.New(s.log, interval, copts...)

	if s.opts.StartTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.StartTimeout)
		defer cancel()
	}

	done := make(chan buildResult, 1)
	go func() {
		done <- s.build(cnt, audioDev, videoDev)
	}()

	select {
	case r := <-done:
		if r.err != nil {
			s.setState(StateFailed)
			s.log.Error().Err(r.err).Msg("Failed to start capture")
			return r.err
		}
		s.mu.Lock()
		s.pipeline = r.pipeline
		s.audio = r.audio
		s.video = r.video
		s.counter = cnt
		s.state = StateRunning
		s.mu.Unlock()
		s.log.Info().Int("report_interval", interval).Msg("Capture running")
		return nil

	case <-ctx.Done():
		s.setState(StateFailed)
		go func() {
			r := <-done
			if r.pipeline == nil {
				return
			}
			if err := r.pipeline.Close(); err != nil {
				s.log.Warn().Err(err).Msg("Failed to release pipeline after start timeout")
			}
		}()
		err := newError(media.StreamUnknown, ErrStartTimeout, nil, ctx.Err())
		s.log.Error().Err(err).Msg("Failed to start capture")
		return err
	}
}

func (s *Session) resolve(audioIndex, videoIndex int) (audio, video *media.Device, err error) {
	if audioIndex == NoDevice && videoIndex == NoDevice {
		return nil, nil, newError(media.StreamUnknown, ErrNoStreams, nil, nil)
	}
	if audioIndex != NoDevice {
		audio, err = pick(s.catalog.AudioDevices(), media.StreamAudio, audioIndex)
		if err != nil {
			return nil, nil, err
		}
		s.log.Info().Str("device", audio.Name).Msg("Use audio device")
	}
	if videoIndex != NoDevice {
		video, err = pick(s.catalog.VideoDevices(), media.StreamVideo, videoIndex)
		if err != nil {
			return nil, nil, err
		}
		s.log.Info().Str("device", video.Name).Msg("Use video device")
	}
	return audio, video, nil
}

func pick(devs []media.Device, kind media.StreamKind, index int) (*media.Device, error) {
	if index < 0 || index >= len(devs) {
		return nil, newError(kind, ErrDeviceIndexOutOfRange, nil,
			fmt.Errorf("index %d, %d %s devices available", index, len(devs), kind))
	}
	d := devs[index]
	return &d, nil
}

func (s *Session) build(cnt *counter.Counter, audioDev, videoDev *media.Device) (r buildResult) {
	p, err := s.platform.NewPipeline()
	if err != nil {
		r.err = newError(media.StreamUnknown, ErrPipelineStartFailed, nil, err)
		return r
	}
	defer func() {
		if r.err == nil {
			return
		}
		if err := p.Close(); err != nil {
			s.log.Warn().Err(err).Msg("Failed to release partially built pipeline")
		}
		r.pipeline = nil
	}()

	if audioDev != nil {
		if r.audio, r.err = s.bindAudio(p, *audioDev, cnt); r.err != nil {
			return r
		}
	}
	if videoDev != nil {
		if r.video, r.err = s.bindVideo(p, *videoDev, cnt); r.err != nil {
			return r
		}
	}

	cnt.Reset()
	if err := p.Start(); err != nil {
		r.err = newError(media.StreamUnknown, ErrPipelineStartFailed, nil, err)
		return r
	}
	r.pipeline = p
	return r
}

func (s *Session) bindAudio(p media.Pipeline, dev media.Device, h media.SampleHandler) (*Binding, error) {
	in, err := bindInput(p, dev)
	if err != nil {
		return nil, err
	}
	out, err := bindOutput(p, dev, in, media.OutputConfig{
		Stream:  media.StreamAudio,
		Audio:   s.opts.Audio,
		Handler: h,
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("device", dev.Name).Stringer("format", s.opts.Audio).Msg("Configured audio output")
	return &Binding{Device: dev, input: in, output: out}, nil
}

func (s *Session) bindVideo(p media.Pipeline, dev media.Device, h media.SampleHandler) (*Binding, error) {
	in, err := bindInput(p, dev)
	if err != nil {
		return nil, err
	}

	res, err := negotiate.Select(dev, s.opts.Video, s.opts.Policy)
	if err != nil {
		return nil, newError(media.StreamVideo, ErrFormatNotFound, &dev, err)
	}
	s.log.Info().
		Str("device", dev.Name).
		Stringer("format", res.Format).
		Float64("max_frame_rate", res.Range.Max).
		Dur("min_frame_duration", res.Range.MinFrameDuration()).
		Msg("Selected video format")

	if err := p.SetActiveFormat(in, res.Format, res.Range); err != nil {
		return nil, newError(media.StreamVideo, ErrDeviceLockFailed, &dev, err)
	}

	out, err := bindOutput(p, dev, in, media.OutputConfig{
		Stream:  media.StreamVideo,
		Video:   s.opts.Video,
		Handler: h,
	})
	if err != nil {
		return nil, err
	}
	return &Binding{Device: dev, Format: &res, input: in, output: out}, nil
}

func bindInput(p media.Pipeline, dev media.Device) (media.Input, error) {
	in, err := p.OpenInput(dev)
	if err != nil {
		return nil, newError(dev.Kind, ErrInputCreationFailed, &dev, err)
	}
	if err := p.AddInput(in); err != nil {
		return nil, newError(dev.Kind, ErrInputRejected, &dev, err)
	}
	return in, nil
}

func bindOutput(p media.Pipeline, dev media.Device, in media.Input, cfg media.OutputConfig) (media.Output, error) {
	out, err := p.AddOutput(cfg)
	if err != nil {
		return nil, newError(cfg.Stream, ErrOutputRejected, &dev, err)
	}
	if err := p.Connect(in, out); err != nil {
		return nil, newError(cfg.Stream, ErrConnectionRejected, &dev, err)
	}
	return out, nil
}

// Stop ends a running session. In StopLegacy mode it only logs that stopping
// is not implemented and the pipeline keeps delivering. Stopping a stopped
// session is a no-op.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateStopped:
		return nil
	case StateRunning:
	default:
		return fmt.Errorf("%w: cannot stop a %s session", ErrSessionState, s.state)
	}

	if s.opts.StopMode == StopLegacy {
		s.log.Warn().Msg("Stop is not yet implemented; capture keeps running")
		return nil
	}

	stopErr := s.pipeline.Stop()
	closeErr := s.pipeline.Close()
	s.state = StateStopped

	snap := s.counter.Snapshot()
	s.log.Info().
		Int64("audio", snap.Audio).
		Int64("video", snap.Video).
		Int64("audio_dropped", snap.AudioDropped).
		Int64("video_dropped", snap.VideoDropped).
		Msg("Capture stopped")
	return errors.Join(stopErr, closeErr)
}
