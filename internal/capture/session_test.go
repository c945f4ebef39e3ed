package capture

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/petems/capture-probe/internal/counter"
	"github.com/petems/capture-probe/internal/media"
	"github.com/petems/capture-probe/internal/sim"
	"github.com/rs/zerolog"
)

type reports struct {
	mu  sync.Mutex
	all []counter.Report
}

func (r *reports) add(rep counter.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, rep)
}

func (r *reports) byStream() map[media.StreamKind][]counter.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[media.StreamKind][]counter.Report)
	for _, rep := range r.all {
		out[rep.Stream] = append(out[rep.Stream], rep)
	}
	return out
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Video = media.VideoTarget{Width: 1280, Height: 720, Encoding: media.PixelFormat420v, FrameRate: 30}
	opts.StartTimeout = 2 * time.Second
	return opts
}

func onlyPipeline(t *testing.T, p *sim.Platform) *sim.Pipeline {
	t.Helper()
	pls := p.Pipelines()
	if len(pls) != 1 {
		t.Fatalf("expected 1 pipeline, got %d", len(pls))
	}
	return pls[0]
}

func TestStartEndToEnd(t *testing.T) {
	var got reports
	opts := testOptions()
	opts.OnReport = got.add

	p := sim.New()
	s := NewSession(p, opts, zerolog.Nop())
	if err := s.Start(context.Background(), 0, 0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.State() != StateRunning {
		t.Fatalf("expected running, got %s", s.State())
	}
	if s.Counter().Interval() != 500 {
		t.Errorf("expected combined interval 500, got %d", s.Counter().Interval())
	}

	pl := onlyPipeline(t, p)
	for i := 0; i < 11; i++ {
		if !pl.Deliver(media.StreamVideo) {
			t.Fatal("video delivery refused")
		}
		if !pl.Deliver(media.StreamAudio) {
			t.Fatal("audio delivery refused")
		}
	}

	byStream := got.byStream()
	audio, video := byStream[media.StreamAudio], byStream[media.StreamVideo]
	if len(audio) != 1 || len(video) != 1 {
		t.Fatalf("expected one report per stream, got audio=%d video=%d", len(audio), len(video))
	}
	if audio[0].Count != 10 || video[0].Count != 10 {
		t.Errorf("expected reports at count 10, got audio=%d video=%d", audio[0].Count, video[0].Count)
	}
	diff := audio[0].Elapsed - video[0].Elapsed
	if diff < 0 {
		diff = -diff
	}
	if diff > 100*time.Millisecond {
		t.Errorf("elapsed times diverge: audio %v video %v", audio[0].Elapsed, video[0].Elapsed)
	}

	snap := s.Counter().Snapshot()
	if snap.Audio != 11 || snap.Video != 11 {
		t.Errorf("expected 11 samples per stream, got %+v", snap)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestStartAppliesNegotiatedFormat(t *testing.T) {
	p := sim.New()
	s := NewSession(p, testOptions(), zerolog.Nop())
	if err := s.Start(context.Background(), NoDevice, 0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	f, r, ok := onlyPipeline(t, p).ActiveFormat(media.StreamVideo)
	if !ok {
		t.Fatal("no active format applied")
	}
	if f.Index != 2 {
		t.Errorf("expected format 2, got %d", f.Index)
	}
	if r.Max < 30 || r.Max > 30.5 {
		t.Errorf("expected ~30 fps range, got %v", r)
	}

	b := s.Video()
	if b == nil || b.Format == nil || b.Format.Format.Index != 2 {
		t.Errorf("unexpected video binding %+v", b)
	}
	if s.Audio() != nil {
		t.Error("expected no audio binding")
	}
	if s.Counter().Interval() != 100 {
		t.Errorf("expected single-stream interval 100, got %d", s.Counter().Interval())
	}
}

func TestStartAudioOutputSettings(t *testing.T) {
	p := sim.New()
	s := NewSession(p, testOptions(), zerolog.Nop())
	if err := s.Start(context.Background(), 0, NoDevice); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	cfg, ok := onlyPipeline(t, p).OutputConfig(media.StreamAudio)
	if !ok {
		t.Fatal("no audio output connected")
	}
	if cfg.Audio != media.DefaultAudioTarget {
		t.Errorf("expected %v, got %v", media.DefaultAudioTarget, cfg.Audio)
	}
}

func TestStartDeviceIndexOutOfRange(t *testing.T) {
	mic := func(id string) media.Device {
		return media.Device{ID: id, Name: id, Kind: media.StreamAudio, Type: media.DeviceTypeBuiltInMicrophone}
	}
	p := sim.New(sim.WithDevices(mic("mic0"), mic("mic1")))
	s := NewSession(p, testOptions(), zerolog.Nop())

	err := s.Start(context.Background(), 5, NoDevice)
	if !errors.Is(err, ErrDeviceIndexOutOfRange) {
		t.Fatalf("expected ErrDeviceIndexOutOfRange, got %v", err)
	}
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Stream != media.StreamAudio {
		t.Errorf("expected audio capture error, got %#v", err)
	}
	if s.State() != StateFailed {
		t.Errorf("expected failed state, got %s", s.State())
	}
	if len(p.Pipelines()) != 0 {
		t.Error("no pipeline should be built for a bad index")
	}
}

func TestStartNegativeIndexOutOfRange(t *testing.T) {
	s := NewSession(sim.New(), testOptions(), zerolog.Nop())
	if err := s.Start(context.Background(), NoDevice, -3); !errors.Is(err, ErrDeviceIndexOutOfRange) {
		t.Fatalf("expected ErrDeviceIndexOutOfRange, got %v", err)
	}
}

func TestStartWithoutDevicesAvailable(t *testing.T) {
	p := sim.New(sim.WithDiscoverError(errors.New("access denied")))
	s := NewSession(p, testOptions(), zerolog.Nop())
	if err := s.Start(context.Background(), NoDevice, 0); !errors.Is(err, ErrDeviceIndexOutOfRange) {
		t.Fatalf("expected ErrDeviceIndexOutOfRange, got %v", err)
	}
}

func TestStartNoStreams(t *testing.T) {
	s := NewSession(sim.New(), testOptions(), zerolog.Nop())
	if err := s.Start(context.Background(), NoDevice, NoDevice); !errors.Is(err, ErrNoStreams) {
		t.Fatalf("expected ErrNoStreams, got %v", err)
	}
}

func TestStartFailuresRollBack(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name   string
		stage  sim.Stage
		stream media.StreamKind
		want   error
	}{
		{"audio input creation", sim.StageOpenInput, media.StreamAudio, ErrInputCreationFailed},
		{"video input rejected", sim.StageAddInput, media.StreamVideo, ErrInputRejected},
		{"video lock", sim.StageSetFormat, media.StreamVideo, ErrDeviceLockFailed},
		{"audio output rejected", sim.StageAddOutput, media.StreamAudio, ErrOutputRejected},
		{"video connection rejected", sim.StageConnect, media.StreamVideo, ErrConnectionRejected},
		{"pipeline start", sim.StageStart, media.StreamUnknown, ErrPipelineStartFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := sim.New(sim.WithFault(tt.stage, tt.stream, boom))
			s := NewSession(p, testOptions(), zerolog.Nop())

			err := s.Start(context.Background(), 0, 0)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if !errors.Is(err, boom) {
				t.Errorf("expected cause to be preserved, got %v", err)
			}
			var cerr *Error
			if !errors.As(err, &cerr) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if cerr.Stream != tt.stream {
				t.Errorf("expected stream %s, got %s", tt.stream, cerr.Stream)
			}
			if s.State() != StateFailed {
				t.Errorf("expected failed state, got %s", s.State())
			}
			if !onlyPipeline(t, p).Closed() {
				t.Error("partially built pipeline was not released")
			}
		})
	}
}

func TestStartPipelineCreationFailure(t *testing.T) {
	p := sim.New(sim.WithFault(sim.StageNewPipeline, media.StreamUnknown, errors.New("no session")))
	s := NewSession(p, testOptions(), zerolog.Nop())
	if err := s.Start(context.Background(), 0, NoDevice); !errors.Is(err, ErrPipelineStartFailed) {
		t.Fatalf("expected ErrPipelineStartFailed, got %v", err)
	}
}

func TestStartFormatNotFound(t *testing.T) {
	opts := testOptions()
	opts.Video = media.VideoTarget{Width: 800, Height: 600, Encoding: media.PixelFormat420v, FrameRate: 30}

	p := sim.New()
	s := NewSession(p, opts, zerolog.Nop())
	err := s.Start(context.Background(), 0, 0)
	if !errors.Is(err, ErrFormatNotFound) {
		t.Fatalf("expected ErrFormatNotFound, got %v", err)
	}
	msg := err.Error()
	for _, want := range []string{"video", "800x600", "Simulated Camera"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in %q", want, msg)
		}
	}
	if !onlyPipeline(t, p).Closed() {
		t.Error("audio binding was not rolled back")
	}
}

func TestStartTimeout(t *testing.T) {
	opts := testOptions()
	opts.StartTimeout = 20 * time.Millisecond

	p := sim.New(sim.WithStartDelay(200 * time.Millisecond))
	s := NewSession(p, opts, zerolog.Nop())

	err := s.Start(context.Background(), 0, 0)
	if !errors.Is(err, ErrStartTimeout) {
		t.Fatalf("expected ErrStartTimeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline cause, got %v", err)
	}
	if s.State() != StateFailed {
		t.Errorf("expected failed state, got %s", s.State())
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pls := p.Pipelines(); len(pls) == 1 && pls[0].Closed() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("late pipeline was not released")
}

func TestStartTwice(t *testing.T) {
	s := NewSession(sim.New(), testOptions(), zerolog.Nop())
	if err := s.Start(context.Background(), 0, NoDevice); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()
	if err := s.Start(context.Background(), 0, NoDevice); !errors.Is(err, ErrSessionState) {
		t.Fatalf("expected ErrSessionState, got %v", err)
	}
}

func TestStopTeardown(t *testing.T) {
	p := sim.New()
	s := NewSession(p, testOptions(), zerolog.Nop())
	if err := s.Start(context.Background(), 0, 0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	pl := onlyPipeline(t, p)

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.State() != StateStopped {
		t.Errorf("expected stopped, got %s", s.State())
	}
	if pl.Running() || !pl.Closed() {
		t.Error("pipeline was not torn down")
	}
	if pl.Deliver(media.StreamAudio) {
		t.Error("samples delivered after stop")
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop should be a no-op, got %v", err)
	}
}

func TestStopLegacyKeepsRunning(t *testing.T) {
	var buf bytes.Buffer
	opts := testOptions()
	opts.StopMode = StopLegacy

	p := sim.New()
	s := NewSession(p, opts, zerolog.New(&buf))
	if err := s.Start(context.Background(), 0, NoDevice); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !strings.Contains(buf.String(), "Stop is not yet implemented") {
		t.Errorf("expected not-implemented diagnostic, got %q", buf.String())
	}
	if s.State() != StateRunning {
		t.Errorf("expected session to keep running, got %s", s.State())
	}
	pl := onlyPipeline(t, p)
	if !pl.Running() {
		t.Error("legacy stop should leave the pipeline running")
	}
	pl.Close()
}

func TestStopBeforeStart(t *testing.T) {
	s := NewSession(sim.New(), testOptions(), zerolog.Nop())
	if err := s.Stop(); !errors.Is(err, ErrSessionState) {
		t.Fatalf("expected ErrSessionState, got %v", err)
	}
}

func TestParseStopMode(t *testing.T) {
	if m, err := ParseStopMode("legacy"); err != nil || m != StopLegacy {
		t.Errorf("expected legacy, got %v %v", m, err)
	}
	if m, err := ParseStopMode(""); err != nil || m != StopTeardown {
		t.Errorf("expected teardown default, got %v %v", m, err)
	}
	if _, err := ParseStopMode("halt"); err == nil {
		t.Error("expected error for unknown mode")
	}
}
